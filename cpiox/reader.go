package cpiox

import (
	"bufio"
	"context"
	"io"

	"github.com/quay/zlog"

	"github.com/quay/archivist/archive"
	"github.com/quay/archivist/internal/metrics"
)

var tracer, _ = metrics.Named("github.com/quay/archivist/cpiox")

type countingReader struct {
	r io.Reader
	n uint64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += uint64(n)
	return n, err
}

// Reader decodes a CPIO archive (binary, odc, newc, or crc variant,
// auto-detected per entry) one entry at a time.
type Reader struct {
	ctx context.Context
	src *countingReader
	br  *bufio.Reader

	cur      *Header
	dataLeft int64
	pad      int // newc/crc only: trailing padding to the next 4-byte boundary
	total    uint64
	done     bool
	err      error
}

// Open prepares to read entries from r.
func Open(ctx context.Context, r io.Reader) *Reader {
	src := &countingReader{r: r}
	return &Reader{ctx: ctx, src: src, br: bufio.NewReaderSize(src, 4096)}
}

// NextEntry advances to the next archive entry, discarding any unread
// payload of the previous one, and returns its resolved header; reading
// the conventional TRAILER!!! entry ends the archive with io.EOF.
func (r *Reader) NextEntry() (*Header, error) {
	if r.err != nil {
		return nil, r.err
	}
	_, span := tracer.Start(r.ctx, "cpiox.NextEntry")
	defer span.End()

	if err := r.skipToEntryEnd(); err != nil {
		r.err = err
		return nil, err
	}

	h, err := parseHeader(r.br)
	if err != nil {
		r.err = err
		return nil, err
	}

	if h.Name == Trailer {
		r.done = true
		r.err = io.EOF
		return nil, io.EOF
	}

	if h.IsSymlink() {
		link := make([]byte, h.Size)
		if _, err := io.ReadFull(r.br, link); err != nil {
			r.err = archive.Wrap("cpio", archive.Truncated, "unexpected EOF reading symlink target", err)
			return nil, r.err
		}
		h.Linkname = string(link)
		if h.Variant == VariantNewC || h.Variant == VariantCRC {
			if _, err := r.br.Discard(newcPadding(int(h.Size))); err != nil {
				r.err = archive.Wrap("cpio", archive.Truncated, "unexpected EOF on symlink data padding", err)
				return nil, r.err
			}
		}
		h.Size = 0
		r.cur = h
		r.dataLeft = 0
		r.pad = 0
		zlog.Debug(r.ctx).Str("name", h.Name).Str("variant", h.Variant.String()).Msg("cpio symlink entry parsed")
		return h, nil
	}

	r.cur = h
	r.dataLeft = h.Size
	r.pad = 0
	if h.Variant == VariantNewC || h.Variant == VariantCRC {
		r.pad = newcPadding(int(h.Size))
	}
	zlog.Debug(r.ctx).Str("name", h.Name).Str("variant", h.Variant.String()).Int64("size", h.Size).Msg("cpio entry parsed")
	return h, nil
}

func (r *Reader) skipToEntryEnd() error {
	if r.dataLeft > 0 {
		if _, err := io.CopyN(io.Discard, r.br, r.dataLeft); err != nil {
			return archive.Wrap("cpio", archive.Truncated, "unexpected EOF skipping entry data", err)
		}
		r.dataLeft = 0
	}
	if r.pad > 0 {
		if _, err := r.br.Discard(r.pad); err != nil {
			return archive.Wrap("cpio", archive.Truncated, "unexpected EOF skipping entry padding", err)
		}
		r.pad = 0
	}
	return nil
}

// Read implements archive.ByteSource, yielding the current entry's byte
// stream.
func (r *Reader) Read(p []byte) (int, error) {
	if r.cur == nil || r.dataLeft == 0 {
		return 0, io.EOF
	}
	toRead := int64(len(p))
	if toRead > r.dataLeft {
		toRead = r.dataLeft
	}
	n, err := r.br.Read(p[:toRead])
	r.dataLeft -= int64(n)
	r.total += uint64(n)
	return n, err
}

// BytesRead returns the count of entry-payload bytes delivered so far.
func (r *Reader) BytesRead() uint64 { return r.total }

// CompressedBytesRead returns the count of raw archive bytes consumed
// (CPIO carries no compression of its own, so this tracks the same
// stream BytesRead does, modulo headers).
func (r *Reader) CompressedBytesRead() uint64 { return r.src.n }

// Close is a no-op; Reader does not own the underlying io.Reader.
func (r *Reader) Close() error { return nil }

// CanReadEntryData always reports true: CPIO has no per-entry
// compression or encryption method to gate on.
func (r *Reader) CanReadEntryData(h *Header) bool { return true }
