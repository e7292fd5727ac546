package lha

import (
	"bufio"
	"context"
	"io"

	"github.com/quay/zlog"

	"github.com/quay/archivist/archive"
	"github.com/quay/archivist/checksum"
	"github.com/quay/archivist/internal/bitio"
	"github.com/quay/archivist/internal/metrics"
)

var tracer, _ = metrics.Named("github.com/quay/archivist/lha")

type countingReader struct {
	r io.Reader
	n uint64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += uint64(n)
	return n, err
}

// Reader decodes an LHA/LZH archive one entry at a time.
type Reader struct {
	ctx context.Context
	src *countingReader
	br  *bufio.Reader

	cur       *Header
	rawLeft   int64 // compressed bytes remaining for the current entry
	crc       *checksum.CRC16
	lzss      *blockDecoder
	pending   []byte
	pendingAt int
	entryDone bool
	opts      Options

	total uint64
	err   error
}

// Open prepares to read entries from r.
func Open(ctx context.Context, r io.Reader, opts ...Option) *Reader {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	src := &countingReader{r: r}
	return &Reader{ctx: ctx, src: src, br: bufio.NewReaderSize(src, 4096), opts: o}
}

// NextEntry advances to the next archive entry, discarding any unread
// payload of the previous one, and returns its resolved header.
func (r *Reader) NextEntry() (*Header, error) {
	if r.err != nil {
		return nil, r.err
	}
	_, span := tracer.Start(r.ctx, "lha.NextEntry")
	defer span.End()

	if err := r.skipEntry(); err != nil {
		r.err = err
		return nil, err
	}

	h, err := parseHeader(r.br, r.opts)
	if err != nil {
		r.err = err
		return nil, err
	}

	if !windowBitsSupported(h.Method) {
		r.err = archive.New("lha", archive.UnsupportedMethod, "unsupported compression method "+h.Method)
		return nil, r.err
	}

	r.cur = h
	r.rawLeft = h.CompressedSize
	r.crc = checksum.NewCRC16()
	r.pending, r.pendingAt = nil, 0
	r.entryDone = h.Size == 0

	if h.Method != "-lh0-" && h.Method != "-lhd-" {
		dicBits, ok := windowBits[h.Method]
		if !ok {
			r.err = archive.New("lha", archive.UnsupportedMethod, "unsupported compression method "+h.Method)
			return nil, r.err
		}
		lr := io.LimitReader(r.br, h.CompressedSize)
		r.lzss = newBlockDecoder(bitio.NewReader(lr, bitio.BigEndian), dicBits)
	} else {
		r.lzss = nil
	}

	zlog.Debug(r.ctx).Str("name", h.Name).Str("method", h.Method).Int64("size", h.Size).Msg("lha entry header parsed")
	return h, nil
}

func windowBitsSupported(method string) bool {
	if method == "-lh0-" || method == "-lhd-" {
		return true
	}
	_, ok := windowBits[method]
	return ok
}

// skipEntry discards any unread payload of the current entry by draining
// it through Read, so the CRC-16 check Read makes once the declared size
// has been delivered also applies to skipped and partially read entries.
func (r *Reader) skipEntry() error {
	if r.cur == nil {
		return nil
	}
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			// Read already folds bytes into r.crc.
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	r.cur = nil
	return nil
}

// Read implements archive.ByteSource, yielding the current entry's
// decompressed byte stream and folding every byte into the running CRC-16
// for verification once the declared size has been delivered.
func (r *Reader) Read(p []byte) (int, error) {
	if r.cur == nil {
		return 0, io.EOF
	}
	if r.entryDone && r.pendingAt >= len(r.pending) {
		return 0, io.EOF
	}

	if r.pendingAt >= len(r.pending) {
		if err := r.advance(); err != nil {
			return 0, err
		}
	}

	n := copy(p, r.pending[r.pendingAt:])
	r.pendingAt += n
	r.crc.Update(r.pending[r.pendingAt-n : r.pendingAt])
	r.total += uint64(n)

	if r.pendingAt >= len(r.pending) && r.entryDone {
		if uint16(r.crc.Value()) != r.cur.CRC16 {
			return n, archive.New("lha", archive.BadChecksum, "entry CRC-16 mismatch")
		}
	}
	return n, nil
}

// advance produces the next chunk of decompressed bytes: stored passthrough
// for -lh0-, or one LZSS token's worth of output otherwise.
func (r *Reader) advance() error {
	if r.cur.Method == "-lh0-" {
		toRead := r.rawLeft
		if toRead > 32*1024 {
			toRead = 32 * 1024
		}
		if toRead == 0 {
			r.entryDone = true
			r.pending, r.pendingAt = nil, 0
			return nil
		}
		buf := make([]byte, toRead)
		n, err := io.ReadFull(r.br, buf)
		r.rawLeft -= int64(n)
		if err != nil {
			return archive.Wrap("lha", archive.Truncated, "unexpected EOF reading stored entry data", err)
		}
		if r.rawLeft == 0 {
			r.entryDone = true
		}
		r.pending, r.pendingAt = buf, 0
		return nil
	}

	out, err := r.lzss.next()
	if err != nil {
		return err
	}
	r.pending, r.pendingAt = out, 0
	// entryDone for compressed methods is tracked by total logical bytes
	// produced reaching the declared size, since LZSS block boundaries
	// don't align with it.
	if r.total+uint64(len(out)) >= uint64(r.cur.Size) {
		r.entryDone = true
	}
	return nil
}

// BytesRead returns the count of logical bytes delivered across all
// entries read so far.
func (r *Reader) BytesRead() uint64 { return r.total }

// CompressedBytesRead returns the count of raw archive bytes consumed.
func (r *Reader) CompressedBytesRead() uint64 { return r.src.n }

// Close is a no-op; Reader does not own the underlying io.Reader.
func (r *Reader) Close() error { return nil }

// CanReadEntryData reports whether h's compression method is one this
// reader can decode.
func (r *Reader) CanReadEntryData(h *Header) bool { return windowBitsSupported(h.Method) }
