// Package bzip2x implements a BZIP2 block decoder (spec §4.5): the
// Burrows-Wheeler/MTF/Huffman block pipeline, block and stream CRC
// chaining, and the documented tolerance for over-long selector lists.
package bzip2x

import (
	"context"
	"fmt"
	"io"

	"github.com/quay/zlog"
	"go.opentelemetry.io/otel/metric"

	"github.com/quay/archivist/archive"
	"github.com/quay/archivist/checksum"
	"github.com/quay/archivist/internal/bitio"
	"github.com/quay/archivist/internal/metrics"
)

var tracer, meter = metrics.Named("github.com/quay/archivist/bzip2x")

var blocksCounter metric.Int64Counter

func init() {
	var err error
	blocksCounter, err = meter.Int64Counter("bzip2x.block.count",
		metric.WithDescription("total number of BZIP2 blocks decoded"),
		metric.WithUnit("{block}"),
	)
	if err != nil {
		panic(err)
	}
}

// Reader decodes a BZIP2 stream, satisfying archive.ByteSource.
type Reader struct {
	ctx context.Context
	br  *bitio.Reader
	src *countingByteSource

	blockSize100k int
	combined      uint32
	pending       []byte
	pos           int
	total         uint64
	done          bool
	err           error
}

// countingByteSource tracks bytes pulled from the underlying io.Reader so
// CompressedBytesRead reflects the compressed-side position regardless of
// how the bit reader buffers internally.
type countingByteSource struct {
	r io.Reader
	n uint64
}

func (c *countingByteSource) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += uint64(n)
	return n, err
}

// Open parses the BZIP2 stream header and prepares to decode blocks.
func Open(ctx context.Context, r io.Reader) (*Reader, error) {
	src := &countingByteSource{r: r}
	br := bitio.NewReader(src, bitio.BigEndian)

	sig, err := br.ReadBits(24)
	if err != nil {
		return nil, archive.Wrap("bzip2", archive.Truncated, "unexpected EOF reading stream header", err)
	}
	if sig != streamMagic {
		return nil, archive.New("bzip2", archive.NotFormat, fmt.Sprintf("bad signature %06x", sig))
	}
	levelBits, err := br.ReadBits(8)
	if err != nil {
		return nil, archive.Wrap("bzip2", archive.Truncated, "unexpected EOF reading block size digit", err)
	}
	level := int(levelBits) - '0'
	if level < minBlockSize100k || level > maxBlockSize100k {
		return nil, archive.New("bzip2", archive.CorruptedInput, fmt.Sprintf("block size digit %q out of range", rune(levelBits)))
	}

	return &Reader{
		ctx:           ctx,
		br:            br,
		src:           src,
		blockSize100k: level,
	}, nil
}

// Read implements archive.ByteSource / io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	for r.pos >= len(r.pending) {
		if r.done {
			r.err = io.EOF
			return 0, io.EOF
		}
		if err := r.advance(); err != nil {
			r.err = err
			return 0, err
		}
	}
	n := copy(p, r.pending[r.pos:])
	r.pos += n
	r.total += uint64(n)
	return n, nil
}

// advance reads the next 48-bit marker and either decodes a block or
// verifies the end-of-stream CRC (spec §4.5 steps 1, 11).
func (r *Reader) advance() error {
	marker, err := r.br.ReadBits(48)
	if err != nil {
		return archive.Wrap("bzip2", archive.Truncated, "unexpected EOF reading block marker", err)
	}
	switch marker {
	case blockMagic:
		_, span := tracer.Start(r.ctx, "decodeBlock")
		blk, err := decodeBlock(r.br, r.blockSize100k)
		span.End()
		if err != nil {
			return err
		}
		gotCRC := checksum.Sum32BZip2(blk.data)
		if gotCRC != blk.crc {
			return archive.New("bzip2", archive.BadChecksum,
				fmt.Sprintf("block CRC %08x != computed %08x", blk.crc, gotCRC))
		}
		r.combined = rotl1(r.combined) ^ blk.crc
		r.pending = blk.data
		r.pos = 0
		blocksCounter.Add(r.ctx, 1)
		zlog.Debug(r.ctx).Int("bytes", len(blk.data)).Msg("bzip2 block decoded")
		return nil
	case eosMagic:
		wantBits, err := r.br.ReadBits(32)
		if err != nil {
			return archive.Wrap("bzip2", archive.Truncated, "unexpected EOF reading stream CRC", err)
		}
		if uint32(wantBits) != r.combined {
			return archive.New("bzip2", archive.BadChecksum,
				fmt.Sprintf("stream CRC %08x != computed %08x", uint32(wantBits), r.combined))
		}
		r.done = true
		r.pending = nil
		r.pos = 0
		return nil
	default:
		return archive.New("bzip2", archive.CorruptedInput, fmt.Sprintf("unrecognised block marker %012x", marker))
	}
}

func rotl1(v uint32) uint32 { return (v << 1) | (v >> 31) }

// BytesRead returns the count of decompressed bytes delivered so far.
func (r *Reader) BytesRead() uint64 { return r.total }

// CompressedBytesRead returns the count of bytes consumed from the
// underlying source so far.
func (r *Reader) CompressedBytesRead() uint64 { return r.src.n }

// Close is a no-op; Reader holds no external resources beyond the source
// io.Reader, which it does not own.
func (r *Reader) Close() error { return nil }
