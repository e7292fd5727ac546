package lha

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/quay/archivist/archive"
	"github.com/quay/archivist/checksum"
)

// Header is one resolved LHA/LZH archive entry (spec §3.4).
type Header struct {
	Name           string
	IsDir          bool
	Size           int64
	CompressedSize int64
	ModTime        int64 // seconds since epoch
	Method         string
	CRC16          uint16

	OS           byte
	HasUnixPerm  bool
	UnixMode     uint32
	HasUnixOwner bool
	UnixUID      uint32
	UnixGID      uint32
	MSDOSAttr    uint16
	HeaderCRC    uint16
	HasHeaderCRC bool

	// headerCRCOffset is the byte offset of the 2-byte CRC value within
	// the captured header buffer, used to zero it before recomputing the
	// CRC-16 for verification.
	headerCRCOffset int
}

// Extended-header id tags (spec §4.6's "Recognised ids" list).
const (
	extHeaderCRC  = 0x00
	extFilename   = 0x01
	extDirname    = 0x02
	extMSDOSAttr  = 0x40
	extPermission = 0x50
	extUnixOwner  = 0x51
	extTimestamp  = 0x54
)

// Options configures a parseHeader/Open call.
type Options struct {
	// FileSeparator is the path separator substituted for the 0xFF byte
	// LHA stores in level-0 names and level-1/2 directory-name extensions
	// (spec §6.3's file_separator_char). Defaults to '/'.
	FileSeparator byte
}

// Option mutates Options; the configuration is a plain record built by
// free functions, per spec §9 (no fluent builder hierarchy).
type Option func(*Options)

// WithFileSeparator chooses the path separator substituted for LHA's
// internal 0xFF separator byte. sep must be '/' or '\\'; any other value
// is silently ignored and the default ('/') is kept.
func WithFileSeparator(sep byte) Option {
	return func(o *Options) {
		if sep == '/' || sep == '\\' {
			o.FileSeparator = sep
		}
	}
}

func defaultOptions() Options {
	return Options{FileSeparator: '/'}
}

// headerCapture wraps a bufio.Reader, buffering every byte consumed
// through it so the exact bytes making up a header can be replayed for
// header-CRC verification once parsing completes (spec §4.6's "compute
// the CRC-16 over the logical header with the CRC slot zeroed and
// compare"), the same self-exclusion trick this module's tarx package
// uses for its own header checksum.
type headerCapture struct {
	br  *bufio.Reader
	buf bytes.Buffer
}

func newHeaderCapture(br *bufio.Reader) *headerCapture {
	return &headerCapture{br: br}
}

func (hc *headerCapture) ReadByte() (byte, error) {
	b, err := hc.br.ReadByte()
	if err == nil {
		hc.buf.WriteByte(b)
	}
	return b, err
}

func (hc *headerCapture) Read(p []byte) (int, error) {
	n, err := hc.br.Read(p)
	hc.buf.Write(p[:n])
	return n, err
}

// verifyHeaderCRC recomputes the CRC-16 over the captured header bytes
// with the two bytes at [off:off+2] zeroed, comparing against want.
func verifyHeaderCRC(raw []byte, off int, want uint16) error {
	if off < 0 || off+2 > len(raw) {
		return archive.New("lha", archive.CorruptedInput, "header CRC extension offset out of range")
	}
	buf := make([]byte, len(raw))
	copy(buf, raw)
	buf[off], buf[off+1] = 0, 0
	if got := checksum.Checksum16(buf); got != want {
		return archive.New("lha", archive.BadChecksum, fmt.Sprintf("header CRC %#04x != computed %#04x", want, got))
	}
	return nil
}

// parseHeader reads and resolves one LHA header, dispatching on the
// header-level byte at a fixed offset in the already-buffered header
// bytes (spec §4.6 step 1's level 0/1/2 dispatch). A header-size byte of
// zero marks the end of the archive.
func parseHeader(br *bufio.Reader, opts Options) (*Header, error) {
	first, err := br.Peek(1)
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, archive.Wrap("lha", archive.Truncated, "unexpected EOF reading header size byte", err)
	}
	if first[0] == 0 {
		br.Discard(1)
		return nil, io.EOF
	}

	peek, err := br.Peek(21)
	level := byte(0)
	if len(peek) >= 21 {
		level = peek[20]
	} else if err != nil && err != io.EOF {
		return nil, archive.Wrap("lha", archive.Truncated, "unexpected EOF peeking header", err)
	}

	switch level {
	case 0, 1:
		return parseHeaderLevel01(br, level, opts)
	case 2:
		return parseHeaderLevel2(br, opts)
	default:
		return nil, archive.New("lha", archive.UnsupportedVersion, fmt.Sprintf("unsupported header level %d", level))
	}
}

func readU16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func readU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// msdosToUnix converts a 32-bit MS-DOS packed date/time (as stored by
// header levels 0/1) to seconds since the Unix epoch, in local civil time
// treated as UTC (MS-DOS timestamps carry no timezone).
func msdosToUnix(v uint32) int64 {
	t := v & 0xFFFF
	d := v >> 16
	sec := int((t & 0x1F) * 2)
	min := int((t >> 5) & 0x3F)
	hour := int((t >> 11) & 0x1F)
	day := int(d & 0x1F)
	mon := int((d >> 5) & 0x0F)
	year := int((d>>9)&0x7F) + 1980
	return civilToUnix(year, mon, day, hour, min, sec)
}

// civilToUnix converts a proleptic Gregorian civil date/time to Unix
// seconds (Howard Hinnant's days_from_civil algorithm).
func civilToUnix(y, m, d, hh, mm, ss int) int64 {
	if m <= 2 {
		y--
	}
	era := y
	if era < 0 {
		era -= 399
	}
	era /= 400
	yoe := y - era*400
	var mp int
	if m > 2 {
		mp = m - 3
	} else {
		mp = m + 9
	}
	doy := (153*mp+2)/5 + d - 1
	doe := yoe*365 + yoe/4 - yoe/100 + doy
	days := int64(era)*146097 + int64(doe) - 719468
	return days*86400 + int64(hh)*3600 + int64(mm)*60 + int64(ss)
}

// convertSeparator replaces LHA's internal 0xFF path-separator byte with
// sep (spec §4.6/§6.3, file_separator_char).
func convertSeparator(b []byte, sep byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		if c == 0xFF {
			out[i] = sep
		} else {
			out[i] = c
		}
	}
	return string(out)
}

// convertDirname is convertSeparator plus spec §4.6's "trailing separator
// ensured" rule for the 0x02 directory-name extension.
func convertDirname(b []byte, sep byte) string {
	s := convertSeparator(b, sep)
	if len(s) == 0 || s[len(s)-1] != sep {
		s += string(sep)
	}
	return s
}

// parseHeaderLevel01 reads a level-0 or level-1 header. headerSize counts
// the bytes that follow the checksum byte (the byte after the size byte),
// through the base fields (levels 0 and 1 share everything up to
// and including the OS byte; level 1 continues with an extension chain).
func parseHeaderLevel01(br *bufio.Reader, level byte, opts Options) (*Header, error) {
	headerSizeByte, err := br.ReadByte()
	if err != nil {
		return nil, archive.Wrap("lha", archive.Truncated, "unexpected EOF reading header size", err)
	}
	headerSize := int(headerSizeByte)
	if headerSize < 1 {
		return nil, archive.New("lha", archive.CorruptedInput, "header size too small")
	}

	// The header-CRC extension, where present, covers everything from the
	// checksum byte onward (not the leading size byte), so capture starts
	// here rather than at the very top of the header.
	hc := newHeaderCapture(br)
	base := make([]byte, headerSize+1)
	if _, err := io.ReadFull(hc, base); err != nil {
		return nil, archive.Wrap("lha", archive.Truncated, "unexpected EOF reading header body", err)
	}

	checksumByte := base[0]
	body := base[1:] // method[5] csize(4) osize(4) time(4) attr(1) level(1) ...
	if len(body) < 19 {
		return nil, archive.New("lha", archive.CorruptedInput, "header too short for fixed fields")
	}

	var got byte
	for _, b := range body {
		got += b
	}
	if got != checksumByte {
		return nil, archive.New("lha", archive.BadChecksum, fmt.Sprintf("header checksum %d != computed %d", checksumByte, got))
	}

	h := &Header{}
	h.Method = string(body[0:5])
	h.CompressedSize = int64(readU32(body[5:9]))
	h.Size = int64(readU32(body[9:13]))
	h.ModTime = msdosToUnix(readU32(body[13:17]))
	h.MSDOSAttr = uint16(body[17])
	// body[18] is the level byte, already used for dispatch.

	off := 19
	if level == 0 {
		if off >= len(body) {
			return nil, archive.New("lha", archive.CorruptedInput, "level-0 header missing name length")
		}
		nameLen := int(body[off])
		off++
		if off+nameLen > len(body) {
			return nil, archive.New("lha", archive.CorruptedInput, "level-0 header name exceeds header size")
		}
		h.Name = convertSeparator(body[off:off+nameLen], opts.FileSeparator)
		off += nameLen
		if off+2 <= len(body) {
			h.CRC16 = readU16(body[off : off+2])
			off += 2
		}
		if off < len(body) {
			h.OS = body[off]
		}
	} else {
		if off+2 <= len(body) {
			h.CRC16 = readU16(body[off : off+2])
			off += 2
		}
		if off < len(body) {
			h.OS = body[off]
		}
		if err := readExtensions(hc, h, opts); err != nil {
			return nil, err
		}
		if h.HasHeaderCRC {
			if err := verifyHeaderCRC(hc.buf.Bytes(), h.headerCRCOffset, h.HeaderCRC); err != nil {
				return nil, err
			}
		}
	}

	h.IsDir = h.Method == "-lhd-"
	if h.IsDir {
		h.Size = 0
	}
	return h, nil
}

// parseHeaderLevel2 reads a level-2 header: a 2-byte total header size (in
// bytes, including this field), fixed fields with a UNIX-epoch timestamp
// instead of MS-DOS, no inline checksum byte (integrity is instead carried
// by the optional header-CRC extension), and an extension chain.
func parseHeaderLevel2(br *bufio.Reader, opts Options) (*Header, error) {
	hc := newHeaderCapture(br)

	var sizeBuf [2]byte
	if _, err := io.ReadFull(hc, sizeBuf[:]); err != nil {
		return nil, archive.Wrap("lha", archive.Truncated, "unexpected EOF reading level-2 header size", err)
	}

	const fixedLen = 19 // method(5) csize(4) osize(4) time(4) attr(1) level(1)
	fixed := make([]byte, fixedLen)
	if _, err := io.ReadFull(hc, fixed); err != nil {
		return nil, archive.Wrap("lha", archive.Truncated, "unexpected EOF reading level-2 header body", err)
	}

	h := &Header{}
	h.Method = string(fixed[0:5])
	h.CompressedSize = int64(readU32(fixed[5:9]))
	h.Size = int64(readU32(fixed[9:13]))
	h.ModTime = int64(readU32(fixed[13:17]))
	h.MSDOSAttr = uint16(fixed[17])
	// fixed[18] is the level byte, already used for dispatch.

	var crcOS [3]byte
	if _, err := io.ReadFull(hc, crcOS[:]); err != nil {
		return nil, archive.Wrap("lha", archive.Truncated, "unexpected EOF reading level-2 CRC/OS", err)
	}
	h.CRC16 = readU16(crcOS[0:2])
	h.OS = crcOS[2]

	if err := readExtensions(hc, h, opts); err != nil {
		return nil, err
	}
	if h.HasHeaderCRC {
		if err := verifyHeaderCRC(hc.buf.Bytes(), h.headerCRCOffset, h.HeaderCRC); err != nil {
			return nil, err
		}
	}

	h.IsDir = h.Method == "-lhd-"
	if h.IsDir {
		h.Size = 0
	}
	return h, nil
}

// readExtensions consumes the level-1/level-2 extended-header chain: each
// extension is a 2-byte length (including the length field and the 1-byte
// type tag) followed by its body; a length of 2 or less ends the chain.
func readExtensions(hc *headerCapture, h *Header, opts Options) error {
	var dirname, filename string
	for {
		lenStart := hc.buf.Len()
		var lenBuf [2]byte
		if _, err := io.ReadFull(hc, lenBuf[:]); err != nil {
			return archive.Wrap("lha", archive.Truncated, "unexpected EOF reading extension length", err)
		}
		size := int(readU16(lenBuf[:]))
		if size <= 2 {
			break
		}
		body := make([]byte, size-2)
		if _, err := io.ReadFull(hc, body); err != nil {
			return archive.Wrap("lha", archive.Truncated, "unexpected EOF reading extension body", err)
		}
		switch body[0] {
		case extFilename:
			filename = string(body[1:])
		case extDirname:
			dirname = convertDirname(body[1:], opts.FileSeparator)
		case extPermission:
			if len(body) >= 3 {
				h.HasUnixPerm = true
				h.UnixMode = uint32(readU16(body[1:3]))
			}
		case extUnixOwner:
			if len(body) >= 5 {
				h.HasUnixOwner = true
				h.UnixGID = uint32(readU16(body[1:3]))
				h.UnixUID = uint32(readU16(body[3:5]))
			}
		case extTimestamp:
			if len(body) >= 5 {
				h.ModTime = int64(readU32(body[1:5]))
			}
		case extHeaderCRC:
			if len(body) >= 3 {
				h.HasHeaderCRC = true
				h.HeaderCRC = readU16(body[1:3])
				// body[0] is the id byte already accounted for by
				// lenStart+2; the CRC value itself is body[1:3].
				h.headerCRCOffset = lenStart + 2 + 1
			}
		}
	}
	switch {
	case dirname != "" && filename != "":
		h.Name = dirname + filename
	case dirname != "":
		h.Name = dirname
	case filename != "":
		h.Name = filename
	}
	return nil
}
