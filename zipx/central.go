package zipx

import (
	"context"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/quay/archivist/archive"
	"github.com/quay/archivist/checksum"
)

const (
	eocdFixedLen   = 22
	maxCommentLen  = 0xFFFF
	centralFixed   = 46
	zip64EOCDFixed = 56
	zip64LocLen    = 20
)

// DirectoryReader provides random access into a ZIP archive by reading
// its central directory once (from the end of the archive, per APPNOTE
// 4.3.16/4.3.6), rather than scanning every local file header
// sequentially. This is the natural access pattern for ZIP, whose
// authoritative entry list lives in the trailer, the same role pkg/tarfs
// plays for TAR (which has no such trailer and must be scanned).
type DirectoryReader struct {
	ctx     context.Context
	ra      io.ReaderAt
	size    int64
	entries []*Header
}

// OpenReaderAt parses the central directory of a ZIP archive of the given
// total size, resolving Zip64 end-of-central-directory records when the
// classic trailer's sentinel fields (0xFFFF/0xFFFFFFFF) are present.
func OpenReaderAt(ctx context.Context, ra io.ReaderAt, size int64) (*DirectoryReader, error) {
	_, span := tracer.Start(ctx, "zipx.OpenReaderAt")
	defer span.End()

	eocdOff, eocd, err := findEOCD(ra, size)
	if err != nil {
		return nil, err
	}

	dirOff := int64(readU32(eocd[16:20]))
	dirCount := int(readU16(eocd[10:12]))

	if dirOff == 0xFFFFFFFF || dirCount == 0xFFFF {
		locOff := eocdOff - zip64LocLen
		if locOff < 0 {
			return nil, archive.New("zip", archive.CorruptedInput, "zip64 end-of-central-directory locator missing")
		}
		var loc [zip64LocLen]byte
		if _, err := ra.ReadAt(loc[:], locOff); err != nil {
			return nil, archive.Wrap("zip", archive.Truncated, "reading zip64 locator", err)
		}
		if readU32(loc[0:4]) != sigZip64Locator {
			return nil, archive.New("zip", archive.CorruptedInput, "zip64 locator signature mismatch")
		}
		z64Off := int64(readU64(loc[8:16]))
		var z64 [zip64EOCDFixed]byte
		if _, err := ra.ReadAt(z64[:], z64Off); err != nil {
			return nil, archive.Wrap("zip", archive.Truncated, "reading zip64 end-of-central-directory record", err)
		}
		if readU32(z64[0:4]) != sigZip64EOCD {
			return nil, archive.New("zip", archive.CorruptedInput, "zip64 end-of-central-directory signature mismatch")
		}
		dirCount = int(readU64(z64[32:40]))
		dirOff = int64(readU64(z64[48:56]))
	}

	entries, err := readCentralDirectory(ra, dirOff, dirCount)
	if err != nil {
		return nil, err
	}
	return &DirectoryReader{ctx: ctx, ra: ra, size: size, entries: entries}, nil
}

// findEOCD scans backward from the end of the archive for the end-of-
// central-directory signature, since it may be preceded by a variable-
// length (up to 64KiB) archive comment.
func findEOCD(ra io.ReaderAt, size int64) (int64, []byte, error) {
	searchLen := int64(eocdFixedLen + maxCommentLen)
	if searchLen > size {
		searchLen = size
	}
	buf := make([]byte, searchLen)
	if _, err := ra.ReadAt(buf, size-searchLen); err != nil && err != io.EOF {
		return 0, nil, archive.Wrap("zip", archive.Truncated, "reading archive trailer", err)
	}
	for i := len(buf) - eocdFixedLen; i >= 0; i-- {
		if readU32(buf[i:i+4]) == sigEOCD {
			return size - searchLen + int64(i), buf[i : i+eocdFixedLen], nil
		}
	}
	return 0, nil, archive.New("zip", archive.NotFormat, "end-of-central-directory record not found")
}

func readCentralDirectory(ra io.ReaderAt, off int64, count int) ([]*Header, error) {
	entries := make([]*Header, 0, count)
	for i := 0; i < count; i++ {
		var fixed [centralFixed]byte
		if _, err := ra.ReadAt(fixed[:], off); err != nil {
			return nil, archive.Wrap("zip", archive.Truncated, "reading central directory record", err)
		}
		if readU32(fixed[0:4]) != sigCentralDir {
			return nil, archive.New("zip", archive.CorruptedInput, "central directory signature mismatch")
		}
		method := readU16(fixed[10:12])
		modTime := readU16(fixed[12:14])
		modDate := readU16(fixed[14:16])
		crc32 := readU32(fixed[16:20])
		csize := int64(readU32(fixed[20:24]))
		usize := int64(readU32(fixed[24:28]))
		nameLen := int(readU16(fixed[28:30]))
		extraLen := int(readU16(fixed[30:32]))
		commentLen := int(readU16(fixed[32:34]))
		extAttrs := readU32(fixed[38:42])
		localOff := int64(readU32(fixed[42:46]))

		variable := make([]byte, nameLen+extraLen+commentLen)
		if _, err := ra.ReadAt(variable, off+centralFixed); err != nil {
			return nil, archive.Wrap("zip", archive.Truncated, "reading central directory name/extra/comment", err)
		}
		name := string(variable[:nameLen])
		extra := variable[nameLen : nameLen+extraLen]
		comment := string(variable[nameLen+extraLen:])

		if csize == 0xFFFFFFFF || usize == 0xFFFFFFFF || localOff == 0xFFFFFFFF {
			size, comp, lo, err := parseZip64Extra(extra, usize == 0xFFFFFFFF, csize == 0xFFFFFFFF, localOff == 0xFFFFFFFF)
			if err != nil {
				return nil, err
			}
			if usize == 0xFFFFFFFF {
				usize = size
			}
			if csize == 0xFFFFFFFF {
				csize = comp
			}
			if localOff == 0xFFFFFFFF {
				localOff = lo
			}
		}

		h := &Header{
			Name:           name,
			Comment:        comment,
			Method:         method,
			CRC32:          crc32,
			CompressedSize: csize,
			Size:           usize,
			ModTime:        dosToUnix(modDate, modTime),
			ExternalAttrs:  extAttrs,
			localOffset:    localOff,
		}
		h.IsDirEntry = nameLen > 0 && name[nameLen-1] == '/'
		if h.IsDirEntry {
			h.Size = 0
		}
		entries = append(entries, h)

		off += centralFixed + int64(nameLen+extraLen+commentLen)
	}
	return entries, nil
}

// Entries returns every entry recorded in the central directory, in
// archive order.
func (d *DirectoryReader) Entries() []*Header { return d.entries }

// Open returns a reader over h's decompressed payload, seeking directly
// to its local file header via the offset recorded in the central
// directory rather than scanning from the start of the archive.
func (d *DirectoryReader) Open(h *Header) (io.ReadCloser, error) {
	var fixed [30]byte
	if _, err := d.ra.ReadAt(fixed[:], h.localOffset); err != nil {
		return nil, archive.Wrap("zip", archive.Truncated, "reading local file header", err)
	}
	if readU32(fixed[0:4]) != sigLocalHeader {
		return nil, archive.New("zip", archive.CorruptedInput, "local file header signature mismatch")
	}
	nameLen := int(readU16(fixed[26:28]))
	extraLen := int(readU16(fixed[28:30]))
	dataOff := h.localOffset + 30 + int64(nameLen) + int64(extraLen)

	switch h.Method {
	case MethodStore, MethodDeflate:
	default:
		return nil, archive.New("zip", archive.UnsupportedMethod, "unsupported compression method "+methodName(h.Method))
	}

	section := io.NewSectionReader(d.ra, dataOff, h.CompressedSize)

	var rc io.ReadCloser
	switch h.Method {
	case MethodDeflate:
		rc = flate.NewReader(section)
	default:
		rc = io.NopCloser(section)
	}

	crc := checksum.NewCRC32()
	return &verifyingCloser{r: &crcCountingReader{r: rc, crc: crc}, closer: rc, crc: crc, want: h.CRC32}, nil
}

type crcCountingReader struct {
	r   io.Reader
	crc *checksum.CRC32
}

func (c *crcCountingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.crc.Update(p[:n])
	}
	return n, err
}

// verifyingCloser checks the entry's CRC-32, computed over the
// decompressed bytes it has yielded, once the wrapped reader is fully
// drained.
type verifyingCloser struct {
	r      io.Reader
	closer io.Closer
	crc    *checksum.CRC32
	want   uint32
}

func (v *verifyingCloser) Read(p []byte) (int, error) {
	n, err := v.r.Read(p)
	if err == io.EOF && v.crc.Value() != v.want {
		return n, archive.New("zip", archive.BadChecksum, "entry CRC-32 mismatch")
	}
	return n, err
}

func (v *verifyingCloser) Close() error { return v.closer.Close() }
