// Package zstdfacade wraps github.com/klauspost/compress/zstd behind the
// CompressorInputStream/CompressorOutputStream contract spec §6.2
// describes for Zstandard: this module does not reimplement the FSE/Huffman
// entropy coders or the frame format, it consumes a third-party
// implementation and maps its own builder options onto the library's
// zstd.EOption/zstd.DOption functional options.
package zstdfacade

import (
	"context"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/quay/zlog"

	"github.com/quay/archivist/archive"
	"github.com/quay/archivist/internal/metrics"
)

var tracer, _ = metrics.Named("github.com/quay/archivist/zstdfacade")

// EncoderOptions mirrors the builder fields spec §6.2 lists for the
// Zstandard external collaborator, mapped onto zstd.EOption.
type EncoderOptions struct {
	Level             zstd.EncoderLevel
	WindowLog         int // 0 means library default
	Checksum          bool
	CloseFrameOnFlush bool
	Concurrency       int // 0 means library default (GOMAXPROCS)
}

// EncoderOption mutates EncoderOptions.
type EncoderOption func(*EncoderOptions)

func WithLevel(l zstd.EncoderLevel) EncoderOption { return func(o *EncoderOptions) { o.Level = l } }
func WithWindowLog(n int) EncoderOption           { return func(o *EncoderOptions) { o.WindowLog = n } }
func WithChecksum(v bool) EncoderOption           { return func(o *EncoderOptions) { o.Checksum = v } }
func WithCloseFrameOnFlush(v bool) EncoderOption  { return func(o *EncoderOptions) { o.CloseFrameOnFlush = v } }
func WithConcurrency(n int) EncoderOption         { return func(o *EncoderOptions) { o.Concurrency = n } }

func defaultEncoderOptions() EncoderOptions {
	return EncoderOptions{Level: zstd.SpeedDefault}
}

func (o EncoderOptions) toLibOptions() []zstd.EOption {
	opts := []zstd.EOption{zstd.WithEncoderLevel(o.Level)}
	if o.WindowLog > 0 {
		opts = append(opts, zstd.WithWindowSize(1<<uint(o.WindowLog)))
	}
	opts = append(opts, zstd.WithEncoderCRC(o.Checksum))
	if o.Concurrency > 0 {
		opts = append(opts, zstd.WithEncoderConcurrency(o.Concurrency))
	}
	return opts
}

// DecoderOptions carries the decoder-side window-log limit; dictionaries
// are not supported.
type DecoderOptions struct {
	MaxWindowLog int // 0 means library default
}

// DecoderOption mutates DecoderOptions.
type DecoderOption func(*DecoderOptions)

// WithMaxWindowLog bounds the window size this decoder will allocate for
// a frame, the Zstandard analogue of xzfacade's DictCap limit.
func WithMaxWindowLog(n int) DecoderOption { return func(o *DecoderOptions) { o.MaxWindowLog = n } }

func (o DecoderOptions) toLibOptions() []zstd.DOption {
	var opts []zstd.DOption
	if o.MaxWindowLog > 0 {
		opts = append(opts, zstd.WithDecoderMaxWindow(1<<uint(o.MaxWindowLog)))
	}
	return opts
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

// Reader decodes a Zstandard stream (CompressorInputStream), satisfying
// archive.ByteSource.
type Reader struct {
	ctx   context.Context
	src   *countingReader
	dec   *zstd.Decoder
	total uint64
	err   error
}

// Open begins decoding a Zstandard stream from r.
func Open(ctx context.Context, r io.Reader, opts ...DecoderOption) (*Reader, error) {
	o := DecoderOptions{}
	for _, fn := range opts {
		fn(&o)
	}
	_, span := tracer.Start(ctx, "zstdfacade.Open")
	defer span.End()

	src := &countingReader{r: r}
	libOpts := append([]zstd.DOption{}, o.toLibOptions()...)
	dec, err := zstd.NewReader(src, libOpts...)
	if err != nil {
		return nil, archive.Wrap("zstd", archive.NotFormat, "failed to open zstd stream", err)
	}
	zlog.Debug(ctx).Msg("zstd stream opened")
	return &Reader{ctx: ctx, src: src, dec: dec}, nil
}

// Read implements archive.ByteSource / io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	n, err := r.dec.Read(p)
	r.total += uint64(n)
	if err != nil && err != io.EOF {
		err = archive.Wrap("zstd", archive.CorruptedInput, "zstd decode error", err)
		r.err = err
	}
	return n, err
}

// BytesRead returns the count of decompressed bytes delivered so far.
func (r *Reader) BytesRead() uint64 { return r.total }

// CompressedBytesRead returns the count of bytes consumed from the
// underlying source so far.
func (r *Reader) CompressedBytesRead() uint64 { return r.src.n }

// Close releases the decoder's background goroutines.
func (r *Reader) Close() error {
	if r.dec == nil {
		return nil
	}
	r.dec.Close()
	r.dec = nil
	return nil
}

// Writer encodes to a Zstandard stream (CompressorOutputStream), wrapping
// zstd.Encoder.
type Writer struct {
	dst      io.Writer
	enc      *zstd.Encoder
	libOpts  []zstd.EOption
	closeOnF bool
	total    uint64
}

// NewWriter begins encoding a Zstandard stream to w.
func NewWriter(w io.Writer, opts ...EncoderOption) (*Writer, error) {
	o := defaultEncoderOptions()
	for _, fn := range opts {
		fn(&o)
	}
	libOpts := o.toLibOptions()
	enc, err := zstd.NewWriter(w, libOpts...)
	if err != nil {
		return nil, archive.Wrap("zstd", archive.CorruptedInput, "failed to open zstd writer", err)
	}
	return &Writer{dst: w, enc: enc, libOpts: libOpts, closeOnF: o.CloseFrameOnFlush}, nil
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.enc.Write(p)
	w.total += uint64(n)
	return n, err
}

// Flush forces buffered data out. When CloseFrameOnFlush was set, this
// ends the current Zstandard frame and opens a fresh one, matching the
// CompressorOutputStream builder option of the same name; otherwise it
// only flushes the encoder's internal buffers within the current frame.
func (w *Writer) Flush() error {
	if !w.closeOnF {
		return w.enc.Flush()
	}
	if err := w.enc.Close(); err != nil {
		return err
	}
	enc, err := zstd.NewWriter(w.dst, w.libOpts...)
	if err != nil {
		return archive.Wrap("zstd", archive.CorruptedInput, "failed to reopen zstd frame", err)
	}
	w.enc = enc
	return nil
}

// Close finalizes the Zstandard frame.
func (w *Writer) Close() error { return w.enc.Close() }

// BytesWritten returns the count of uncompressed bytes accepted so far.
func (w *Writer) BytesWritten() uint64 { return w.total }
