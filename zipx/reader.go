package zipx

import (
	"bufio"
	"context"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/quay/zlog"

	"github.com/quay/archivist/archive"
	"github.com/quay/archivist/checksum"
	"github.com/quay/archivist/internal/metrics"
)

var tracer, _ = metrics.Named("github.com/quay/archivist/zipx")

type countingReader struct {
	r io.Reader
	n uint64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += uint64(n)
	return n, err
}

// Reader decodes a ZIP archive sequentially, one local file header at a
// time, stopping once the central directory is reached. It does not
// require the underlying source to be seekable; see DirectoryReader for
// random access driven by the central directory instead.
type Reader struct {
	ctx context.Context
	src *countingReader
	br  *bufio.Reader

	cur     *Header
	body    io.Reader // raw (pre-decompression) entry data, bounded when size is known
	decomp  io.ReadCloser
	crc     *checksum.CRC32
	total   uint64
	done    bool
	err     error
}

// Open prepares to read entries from r.
func Open(ctx context.Context, r io.Reader) *Reader {
	src := &countingReader{r: r}
	return &Reader{ctx: ctx, src: src, br: bufio.NewReaderSize(src, 32*1024)}
}

// NextEntry advances to the next archive entry, discarding any unread
// payload of the previous one, and returns its resolved header.
func (r *Reader) NextEntry() (*Header, error) {
	if r.err != nil {
		return nil, r.err
	}
	_, span := tracer.Start(r.ctx, "zipx.NextEntry")
	defer span.End()

	if err := r.drainCurrent(); err != nil {
		r.err = err
		return nil, err
	}
	if r.done {
		r.err = io.EOF
		return nil, io.EOF
	}

	sigBuf, err := r.br.Peek(4)
	if err != nil {
		if err == io.EOF {
			r.done = true
			r.err = io.EOF
			return nil, io.EOF
		}
		r.err = archive.Wrap("zip", archive.Truncated, "unexpected EOF reading next record signature", err)
		return nil, r.err
	}
	sig := readU32(sigBuf)
	if sig != sigLocalHeader {
		// Central directory or end-of-central-directory: no more entries
		// in the sequential stream.
		r.done = true
		r.err = io.EOF
		return nil, io.EOF
	}

	h, hasDescriptor, err := r.parseLocalHeader()
	if err != nil {
		r.err = err
		return nil, err
	}

	switch h.Method {
	case MethodStore, MethodDeflate:
	default:
		r.err = archive.New("zip", archive.UnsupportedMethod, "unsupported compression method "+methodName(h.Method))
		return nil, r.err
	}
	if hasDescriptor && h.Method == MethodStore {
		r.err = archive.New("zip", archive.UnsupportedMethod, "streamed (data-descriptor) store entries are not supported")
		return nil, r.err
	}

	r.cur = h
	r.crc = checksum.NewCRC32()
	if hasDescriptor {
		// Sizes are unknown until the descriptor trailing the compressed
		// data is read; the flate stream is self-terminating and Store
		// with an unknown size was already rejected above.
		r.body = r.br
	} else {
		r.body = io.LimitReader(r.br, h.CompressedSize)
	}

	switch h.Method {
	case MethodDeflate:
		r.decomp = flate.NewReader(r.body)
	default:
		r.decomp = io.NopCloser(r.body)
	}

	zlog.Debug(r.ctx).Str("name", h.Name).Str("method", methodName(h.Method)).Int64("size", h.Size).Msg("zip entry header parsed")
	return h, nil
}

// parseLocalHeader reads and decodes one local file header (APPNOTE
// 4.3.7), returning the resolved header and whether its general-purpose
// flag bit 3 (data descriptor follows the entry data) was set.
func (r *Reader) parseLocalHeader() (*Header, bool, error) {
	var fixed [30]byte
	if _, err := io.ReadFull(r.br, fixed[:]); err != nil {
		return nil, false, archive.Wrap("zip", archive.Truncated, "unexpected EOF reading local file header", err)
	}
	flags := readU16(fixed[6:8])
	method := readU16(fixed[8:10])
	modTime := readU16(fixed[10:12])
	modDate := readU16(fixed[12:14])
	crc32 := readU32(fixed[14:18])
	csize := int64(readU32(fixed[18:22]))
	usize := int64(readU32(fixed[22:26]))
	nameLen := int(readU16(fixed[26:28]))
	extraLen := int(readU16(fixed[28:30]))

	nameBuf := make([]byte, nameLen)
	if _, err := io.ReadFull(r.br, nameBuf); err != nil {
		return nil, false, archive.Wrap("zip", archive.Truncated, "unexpected EOF reading entry name", err)
	}
	extraBuf := make([]byte, extraLen)
	if _, err := io.ReadFull(r.br, extraBuf); err != nil {
		return nil, false, archive.Wrap("zip", archive.Truncated, "unexpected EOF reading extra field", err)
	}

	hasDescriptor := flags&flagDataDescriptor != 0
	h := &Header{
		Name:           string(nameBuf),
		Method:         method,
		CRC32:          crc32,
		CompressedSize: csize,
		Size:           usize,
		ModTime:        dosToUnix(modDate, modTime),
		HasDataDescriptor: hasDescriptor,
	}
	if csize == 0xFFFFFFFF || usize == 0xFFFFFFFF {
		size, comp, _, err := parseZip64Extra(extraBuf, usize == 0xFFFFFFFF, csize == 0xFFFFFFFF, false)
		if err != nil {
			return nil, false, err
		}
		if usize == 0xFFFFFFFF {
			h.Size = size
		}
		if csize == 0xFFFFFFFF {
			h.CompressedSize = comp
		}
	}
	h.IsDirEntry = nameLen > 0 && nameBuf[nameLen-1] == '/'
	if h.IsDirEntry {
		h.Size = 0
	}
	return h, hasDescriptor, nil
}

// drainCurrent discards any unread payload of the current entry, reads
// and applies its trailing data descriptor if one was declared, and
// verifies the entry's CRC-32.
func (r *Reader) drainCurrent() error {
	if r.cur == nil {
		return nil
	}
	buf := make([]byte, 32*1024)
	for {
		_, err := r.Read(buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	if r.cur.HasDataDescriptor {
		if err := r.readDataDescriptor(); err != nil {
			return err
		}
	}
	if r.crc.Value() != r.cur.CRC32 {
		return archive.New("zip", archive.BadChecksum, "entry CRC-32 mismatch")
	}
	r.cur = nil
	return nil
}

// readDataDescriptor consumes the optional-signature trailing descriptor
// (APPNOTE 4.3.9) and fills in the header's size/CRC fields, which are
// zero in a streamed local header.
func (r *Reader) readDataDescriptor() error {
	var first [4]byte
	if _, err := io.ReadFull(r.br, first[:]); err != nil {
		return archive.Wrap("zip", archive.Truncated, "unexpected EOF reading data descriptor", err)
	}
	var crcBuf [4]byte
	if readU32(first[:]) == sigDataDesc {
		if _, err := io.ReadFull(r.br, crcBuf[:]); err != nil {
			return archive.Wrap("zip", archive.Truncated, "unexpected EOF reading data descriptor", err)
		}
	} else {
		crcBuf = first
	}
	var szBuf [8]byte
	if _, err := io.ReadFull(r.br, szBuf[:]); err != nil {
		return archive.Wrap("zip", archive.Truncated, "unexpected EOF reading data descriptor sizes", err)
	}
	r.cur.CRC32 = readU32(crcBuf[:])
	r.cur.CompressedSize = int64(readU32(szBuf[0:4]))
	r.cur.Size = int64(readU32(szBuf[4:8]))
	return nil
}

// Read implements archive.ByteSource, yielding the current entry's
// decompressed byte stream.
func (r *Reader) Read(p []byte) (int, error) {
	if r.cur == nil || r.decomp == nil {
		return 0, io.EOF
	}
	n, err := r.decomp.Read(p)
	if n > 0 {
		r.crc.Update(p[:n])
		r.total += uint64(n)
	}
	return n, err
}

// BytesRead returns the count of decompressed bytes delivered so far.
func (r *Reader) BytesRead() uint64 { return r.total }

// CompressedBytesRead returns the count of raw archive bytes consumed.
func (r *Reader) CompressedBytesRead() uint64 { return r.src.n }

// Close is a no-op; Reader does not own the underlying io.Reader.
func (r *Reader) Close() error { return nil }

// CanReadEntryData reports whether h's compression method is supported.
func (r *Reader) CanReadEntryData(h *Header) bool {
	return h.Method == MethodStore || h.Method == MethodDeflate
}
