package tarx

import (
	"fmt"
	"io"
	"strconv"

	"github.com/quay/archivist/archive"
)

// LongFileMode selects how the writer handles names that don't fit the
// 100-byte (or 100+155 prefixed) USTAR name field (spec §4.7's "write
// path").
type LongFileMode int

const (
	// LongFileError rejects any entry whose name doesn't fit.
	LongFileError LongFileMode = iota
	// LongFileTruncate silently truncates the name to fit.
	LongFileTruncate
	// LongFileGNU emits a GNU 'L' long-name header before the entry.
	LongFileGNU
	// LongFilePOSIX emits a PAX 'x' header carrying the "path" record.
	LongFilePOSIX
)

// BigNumberMode selects how the writer handles numeric fields (size, uid,
// gid, mtime) too large for the 8-byte octal encoding.
type BigNumberMode int

const (
	// BigNumberError rejects any entry whose numeric field overflows.
	BigNumberError BigNumberMode = iota
	// BigNumberSTAR emits base-256 fields (GNU/STAR extension).
	BigNumberSTAR
	// BigNumberPOSIX emits a PAX 'x' header carrying the oversize field.
	BigNumberPOSIX
)

// Writer emits a TAR archive one entry at a time, in the spirit of
// archive/tar.Writer but with explicit long-name/big-number policies
// instead of always-POSIX behaviour.
type Writer struct {
	w   io.Writer
	n   uint64
	cur int64 // bytes still expected for the current entry's data
	pad int64

	LongFile  LongFileMode
	BigNumber BigNumberMode
}

// NewWriter returns a Writer defaulting to GNU long names and STAR
// big-number encoding, matching the permissiveness most TAR consumers
// expect (spec §4.7 leaves the default unspecified; POSIX-strict callers
// should set the modes explicitly).
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, LongFile: LongFileGNU, BigNumber: BigNumberSTAR}
}

// WriteHeader writes h's header block (plus any GNU/PAX extension blocks
// its name/size/etc. require) and prepares the writer to accept h.Size
// bytes via Write.
func (tw *Writer) WriteHeader(h *Header) error {
	if err := tw.finishEntry(); err != nil {
		return err
	}

	name := h.Name
	if h.IsDir() && len(name) > 0 && name[len(name)-1] != '/' {
		name += "/"
	}

	prefix, base, err := splitUSTARName(name)
	needsLongName := err != nil
	var paxRecords map[string]string

	if needsLongName {
		switch tw.LongFile {
		case LongFileError:
			return archive.New("tar", archive.CorruptedInput, fmt.Sprintf("name %q too long for USTAR header", name))
		case LongFileTruncate:
			base = truncateName(name)
			prefix = ""
		case LongFileGNU:
			if err := tw.writeGNULongName(TypeGNULongName, name); err != nil {
				return err
			}
			base, prefix = truncateName(name), ""
		case LongFilePOSIX:
			paxRecords = addPaxRecord(paxRecords, "path", name)
			base = truncateName(name)
			prefix = ""
		}
	}

	block, overflow := tw.encodeHeader(h, base, prefix)
	for field, val := range overflow {
		switch tw.BigNumber {
		case BigNumberError:
			return archive.New("tar", archive.CorruptedInput, fmt.Sprintf("%s value %d overflows octal header field", field, val))
		case BigNumberPOSIX:
			paxRecords = addPaxRecord(paxRecords, field, strconv.FormatInt(val, 10))
		case BigNumberSTAR:
			// encodeHeader already wrote base-256 fields directly; nothing
			// further to do here.
		}
	}

	if len(paxRecords) > 0 {
		if err := tw.writePaxHeader(paxRecords); err != nil {
			return err
		}
		// Recompute the final block now that PAX has carried the
		// oversize/long fields, so the STAR fallback values in the real
		// header (if any) stay self-consistent for readers that ignore PAX.
		block, _ = tw.encodeHeader(h, base, prefix)
	}

	if _, err := tw.w.Write(block[:]); err != nil {
		return archive.Wrap("tar", archive.Truncated, "short write of header block", err)
	}
	tw.n += blockSize
	tw.cur = h.Size
	tw.pad = paddingFor(h.Size)
	return nil
}

// Write streams the current entry's payload; it is an error to write more
// than the Size given to the preceding WriteHeader call.
func (tw *Writer) Write(p []byte) (int, error) {
	if int64(len(p)) > tw.cur {
		return 0, archive.New("tar", archive.CorruptedInput, "write exceeds declared entry size")
	}
	n, err := tw.w.Write(p)
	tw.cur -= int64(n)
	tw.n += uint64(n)
	if err != nil {
		return n, archive.Wrap("tar", archive.Truncated, "short write of entry data", err)
	}
	return n, nil
}

// Close flushes the final entry's padding and the two terminating
// all-zero blocks.
func (tw *Writer) Close() error {
	if err := tw.finishEntry(); err != nil {
		return err
	}
	var zero [blockSize]byte
	for i := 0; i < 2; i++ {
		if _, err := tw.w.Write(zero[:]); err != nil {
			return archive.Wrap("tar", archive.Truncated, "short write of terminating block", err)
		}
	}
	return nil
}

func (tw *Writer) finishEntry() error {
	if tw.cur != 0 {
		return archive.New("tar", archive.CorruptedInput, "entry closed with unwritten declared bytes remaining")
	}
	if tw.pad > 0 {
		var buf [blockSize]byte
		if _, err := tw.w.Write(buf[:tw.pad]); err != nil {
			return archive.Wrap("tar", archive.Truncated, "short write of entry padding", err)
		}
		tw.pad = 0
	}
	return nil
}

// writeGNULongName emits a GNU 'L'/'K' extension header followed by name
// as its data, NUL-padded to a block boundary.
func (tw *Writer) writeGNULongName(typeflag byte, name string) error {
	data := append([]byte(name), 0)
	hdr := &Header{Name: "././@LongLink", Size: int64(len(data)), Typeflag: typeflag, Mode: 0}
	block, _ := tw.encodeHeader(hdr, hdr.Name, "")
	if _, err := tw.w.Write(block[:]); err != nil {
		return archive.Wrap("tar", archive.Truncated, "short write of GNU long-name header", err)
	}
	if _, err := tw.w.Write(data); err != nil {
		return archive.Wrap("tar", archive.Truncated, "short write of GNU long-name data", err)
	}
	if pad := paddingFor(int64(len(data))); pad > 0 {
		var buf [blockSize]byte
		if _, err := tw.w.Write(buf[:pad]); err != nil {
			return archive.Wrap("tar", archive.Truncated, "short write of GNU long-name padding", err)
		}
	}
	return nil
}

// writePaxHeader emits a 'x' extended header carrying records as
// "<len> <key>=<value>\n" entries (spec §3.5).
func (tw *Writer) writePaxHeader(records map[string]string) error {
	var body []byte
	for k, v := range records {
		body = append(body, encodePaxRecord(k, v)...)
	}
	hdr := &Header{Name: "PaxHeaders.0/pax", Size: int64(len(body)), Typeflag: TypeXHeader}
	block, _ := tw.encodeHeader(hdr, hdr.Name, "")
	if _, err := tw.w.Write(block[:]); err != nil {
		return archive.Wrap("tar", archive.Truncated, "short write of PAX header block", err)
	}
	if _, err := tw.w.Write(body); err != nil {
		return archive.Wrap("tar", archive.Truncated, "short write of PAX header body", err)
	}
	if pad := paddingFor(int64(len(body))); pad > 0 {
		var buf [blockSize]byte
		if _, err := tw.w.Write(buf[:pad]); err != nil {
			return archive.Wrap("tar", archive.Truncated, "short write of PAX header padding", err)
		}
	}
	return nil
}

// encodePaxRecord renders one PAX record including its self-referential
// length prefix, per spec §3.5: the length includes itself.
func encodePaxRecord(key, value string) []byte {
	// "<len> key=value\n"; find len such that len(strconv.Itoa(len)) +
	// 1 (space) + len(key) + 1 (=) + len(value) + 1 (\n) == len.
	base := len(key) + len(value) + 3
	n := base + len(strconv.Itoa(base))
	for {
		candidate := base + len(strconv.Itoa(n))
		if candidate == n {
			break
		}
		n = candidate
	}
	return []byte(fmt.Sprintf("%d %s=%s\n", n, key, value))
}

func addPaxRecord(m map[string]string, k, v string) map[string]string {
	if m == nil {
		m = map[string]string{}
	}
	m[k] = v
	return m
}

// splitUSTARName splits name into a USTAR prefix+name pair, returning an
// error if it doesn't fit even with a prefix.
func splitUSTARName(name string) (prefix, base string, err error) {
	if len(name) <= 100 {
		return "", name, nil
	}
	if len(name) > 255 {
		return "", "", archive.New("tar", archive.CorruptedInput, "name exceeds USTAR prefix+name capacity")
	}
	// Find the rightmost '/' such that the suffix fits in 100 bytes and
	// the prefix fits in 155.
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] != '/' {
			continue
		}
		p, b := name[:i], name[i+1:]
		if len(p) <= 155 && len(b) <= 100 {
			return p, b, nil
		}
	}
	return "", "", archive.New("tar", archive.CorruptedInput, "name has no split point fitting USTAR prefix+name")
}

func truncateName(name string) string {
	if len(name) <= 100 {
		return name
	}
	return name[:100]
}

// encodeHeader renders h (with the given already-USTAR-fitted base/prefix)
// into a 512-byte block, computing the checksum last. It returns any
// numeric fields that overflow plain octal encoding so the caller can
// apply BigNumberMode, having already written base-256 fields directly
// when that's the field's own fallback.
func (tw *Writer) encodeHeader(h *Header, base, prefix string) (block [blockSize]byte, overflow map[string]int64) {
	overflow = map[string]int64{}

	putString(block[0:100], base)
	tw.putNumeric(block[100:108], h.Mode, "mode", overflow)
	tw.putNumeric(block[108:116], h.UID, "uid", overflow)
	tw.putNumeric(block[116:124], h.GID, "gid", overflow)
	tw.putNumeric(block[124:136], h.Size, "size", overflow)
	tw.putNumeric(block[136:148], h.ModTime, "mtime", overflow)
	for i := 148; i < 156; i++ {
		block[i] = ' '
	}
	typeflag := h.Typeflag
	if typeflag == 0 {
		typeflag = TypeRegular
	}
	block[156] = typeflag
	putString(block[157:257], h.Linkname)
	copy(block[257:263], magicUSTAR)
	copy(block[263:265], versionUSTAR)
	putString(block[265:297], h.Uname)
	putString(block[297:329], h.Gname)
	tw.putNumeric(block[329:337], h.Devmajor, "devmajor", overflow)
	tw.putNumeric(block[337:345], h.Devminor, "devminor", overflow)
	putString(block[345:500], prefix)

	csum := checksum(block)
	csumStr := fmt.Sprintf("%06o\x00 ", csum)
	copy(block[148:156], csumStr)

	if len(overflow) == 0 {
		return block, nil
	}
	return block, overflow
}

func putString(b []byte, s string) {
	for i := range b {
		b[i] = 0
	}
	copy(b, s)
}

// putNumeric writes v as zero-padded octal into b. When v doesn't fit, it
// records field in overflow (so the caller can apply BigNumberMode) and
// writes base-256 under BigNumberSTAR, or a zeroed octal placeholder
// under any other mode.
func (tw *Writer) putNumeric(b []byte, v int64, field string, overflow map[string]int64) {
	octalDigits := len(b) - 1
	max := int64(1)<<(uint(octalDigits)*3) - 1
	if v >= 0 && v <= max {
		s := strconv.FormatInt(v, 8)
		for i := range b {
			b[i] = '0'
		}
		copy(b[len(b)-1-len(s):len(b)-1], s)
		b[len(b)-1] = 0
		return
	}
	overflow[field] = v
	if tw.BigNumber == BigNumberSTAR {
		putBase256(b, v)
		return
	}
	// Under BigNumberPOSIX the true value travels in the PAX record the
	// caller adds from overflow; readers that don't understand PAX see a
	// zeroed placeholder rather than a silently wrong truncated number.
	for i := range b {
		b[i] = '0'
	}
	b[len(b)-1] = 0
}

func putBase256(b []byte, v int64) {
	for i := len(b) - 1; i >= 0; i-- {
		b[i] = byte(v & 0xFF)
		v >>= 8
	}
	b[0] |= 0x80
}
