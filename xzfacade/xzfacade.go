// Package xzfacade wraps github.com/ulikunitz/xz behind the
// CompressorInputStream-shaped contract spec §6.2 describes for XZ/LZMA2:
// this module does not reimplement the XZ container or LZMA2 range coder,
// it consumes a third-party implementation and adapts its errors into the
// shared taxonomy, including the MemoryLimit kind that only this
// collaborator produces.
package xzfacade

import (
	"context"
	"io"
	"strings"

	"github.com/quay/zlog"
	"github.com/ulikunitz/xz"

	"github.com/quay/archivist/archive"
	"github.com/quay/archivist/internal/metrics"
)

var tracer, _ = metrics.Named("github.com/quay/archivist/xzfacade")

// Options configures an Open call. DictCap bounds the dictionary size the
// underlying LZMA2 decoder is willing to allocate; a stream that declares
// a larger dictionary is rejected with archive.MemoryLimit rather than
// honored, mirroring the external collaborator's memory-limit contract.
type Options struct {
	DictCap int
}

// Option mutates Options.
type Option func(*Options)

// WithDictCap sets the maximum LZMA2 dictionary size, in bytes, this
// reader will allocate for a stream.
func WithDictCap(n int) Option { return func(o *Options) { o.DictCap = n } }

func defaultOptions() Options {
	return Options{DictCap: 1 << 26} // 64MiB, generous for typical archives
}

type countingReader struct {
	r io.Reader
	n uint64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += uint64(n)
	return n, err
}

// Reader decodes a single XZ stream, satisfying archive.ByteSource.
type Reader struct {
	ctx  context.Context
	src  *countingReader
	xr   io.Reader
	total uint64
	err  error
}

// Open begins decoding an XZ stream from r.
func Open(ctx context.Context, r io.Reader, opts ...Option) (*Reader, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	_, span := tracer.Start(ctx, "xzfacade.Open")
	defer span.End()

	src := &countingReader{r: r}
	cfg := xz.ReaderConfig{DictCap: o.DictCap}
	xr, err := cfg.NewReader(src)
	if err != nil {
		return nil, classifyXZError(err)
	}
	zlog.Debug(ctx).Int("dictCap", o.DictCap).Msg("xz stream opened")
	return &Reader{ctx: ctx, src: src, xr: xr}, nil
}

// classifyXZError maps the collaborator's error strings onto the shared
// taxonomy. The library does not export stable sentinel error values for
// these conditions, so messages are matched defensively; anything
// unrecognised falls back to CorruptedInput.
func classifyXZError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "dict"):
		return archive.Wrap("xz", archive.MemoryLimit, "stream dictionary exceeds configured limit", err)
	case strings.Contains(msg, "magic") || strings.Contains(msg, "header"):
		return archive.Wrap("xz", archive.NotFormat, "bad XZ stream header", err)
	default:
		return archive.Wrap("xz", archive.CorruptedInput, "xz decode error", err)
	}
}

// Read implements archive.ByteSource / io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	n, err := r.xr.Read(p)
	r.total += uint64(n)
	if err != nil && err != io.EOF {
		err = classifyXZError(err)
		r.err = err
	}
	return n, err
}

// BytesRead returns the count of decompressed bytes delivered so far.
func (r *Reader) BytesRead() uint64 { return r.total }

// CompressedBytesRead returns the count of bytes consumed from the
// underlying source so far.
func (r *Reader) CompressedBytesRead() uint64 { return r.src.n }

// Close is a no-op; the underlying xz.Reader owns no closable resource.
func (r *Reader) Close() error { return nil }
