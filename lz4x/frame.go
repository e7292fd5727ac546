// Package lz4x implements the LZ4 frame format decoder (spec §4.8): frame
// descriptor parsing, the compressed/uncompressed block loop with
// block-dependency windowing, skippable frames, and XXH32 header/block/
// content checksums.
package lz4x

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/quay/zlog"
	"go.opentelemetry.io/otel/metric"

	"github.com/quay/archivist/archive"
	"github.com/quay/archivist/checksum"
	"github.com/quay/archivist/internal/metrics"
)

var tracer, meter = metrics.Named("github.com/quay/archivist/lz4x")

var blocksCounter metric.Int64Counter

func init() {
	var err error
	blocksCounter, err = meter.Int64Counter("lz4x.block.count",
		metric.WithDescription("total number of LZ4 blocks decoded"),
		metric.WithUnit("{block}"),
	)
	if err != nil {
		panic(err)
	}
}

const (
	frameMagic = 0x184D2204

	flgVersionMask  = 0xC0
	flgVersionWant  = 0x40
	flgIndependent  = 1 << 5
	flgBlockCheck   = 1 << 4
	flgContentSize  = 1 << 3
	flgContentCheck = 1 << 2
	flgDictID       = 1 << 0

	blockUncompressedBit = 1 << 31
	blockLenMask         = (1 << 31) - 1

	maxWindow = 64 * 1024
)

// countingReader tracks bytes pulled from the underlying source.
type countingReader struct {
	r io.Reader
	n uint64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += uint64(n)
	return n, err
}

func (c *countingReader) ReadByte() (byte, error) {
	var b [1]byte
	_, err := io.ReadFull(c, b[:])
	return b[0], err
}

// Reader decodes an LZ4 frame stream, satisfying archive.ByteSource.
type Reader struct {
	ctx context.Context
	src *countingReader

	independent bool
	blockCheck  bool
	contentHash bool

	history  []byte
	pending  []byte
	pos      int
	content  *checksum.XXHash32
	total    uint64
	done     bool
	err      error
}

// Open parses the frame descriptor (possibly preceded by any number of
// skippable frames) and prepares to decode blocks.
func Open(ctx context.Context, r io.Reader) (*Reader, error) {
	src := &countingReader{r: r}
	fr := &Reader{ctx: ctx, src: src, content: checksum.NewXXHash32()}
	if err := fr.readDescriptor(); err != nil {
		return nil, err
	}
	return fr, nil
}

func (fr *Reader) readU32() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(fr.src, b[:]); err != nil {
		return 0, archive.Wrap("lz4", archive.Truncated, "unexpected EOF reading 32-bit field", err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// readDescriptor skips any leading skippable frames, then parses the LZ4
// frame descriptor (spec §4.8).
func (fr *Reader) readDescriptor() error {
	for {
		magic, err := fr.readU32()
		if err != nil {
			return err
		}
		if magic&0xFFFFFFF0 == 0x184D2A50 {
			// Skippable frame: any magic 0x184D2A5X.
			length, err := fr.readU32()
			if err != nil {
				return err
			}
			if _, err := io.CopyN(io.Discard, fr.src, int64(length)); err != nil {
				return archive.Wrap("lz4", archive.Truncated, "unexpected EOF skipping skippable frame", err)
			}
			continue
		}
		if magic != frameMagic {
			return archive.New("lz4", archive.NotFormat, fmt.Sprintf("bad frame magic %08x", magic))
		}
		break
	}

	hashSrc := []byte{}
	readByte := func() (byte, error) {
		b, err := fr.src.ReadByte()
		if err != nil {
			return 0, archive.Wrap("lz4", archive.Truncated, "unexpected EOF reading frame descriptor", err)
		}
		hashSrc = append(hashSrc, b)
		return b, nil
	}

	flg, err := readByte()
	if err != nil {
		return err
	}
	if flg&flgVersionMask != flgVersionWant {
		return archive.New("lz4", archive.UnsupportedVersion, fmt.Sprintf("FLG version bits %#02x", flg&flgVersionMask))
	}
	if flg&flgDictID != 0 {
		return archive.New("lz4", archive.UnsupportedMethod, "dictionary-ID frames are not supported")
	}
	fr.independent = flg&flgIndependent != 0
	fr.blockCheck = flg&flgBlockCheck != 0
	fr.contentHash = flg&flgContentCheck != 0
	hasContentSize := flg&flgContentSize != 0

	if _, err := readByte(); err != nil { // BD: max block size, parsed implicitly, not enforced
		return err
	}
	if hasContentSize {
		for i := 0; i < 8; i++ {
			if _, err := readByte(); err != nil {
				return err
			}
		}
	}

	hc, err := fr.src.ReadByte()
	if err != nil {
		return archive.Wrap("lz4", archive.Truncated, "unexpected EOF reading header checksum", err)
	}
	want := byte((checksum.Sum32(hashSrc) >> 8) & 0xFF)
	if hc != want {
		return archive.New("lz4", archive.BadChecksum, fmt.Sprintf("header checksum %#02x != computed %#02x", hc, want))
	}
	return nil
}

// Read implements archive.ByteSource / io.Reader.
func (fr *Reader) Read(p []byte) (int, error) {
	if fr.err != nil {
		return 0, fr.err
	}
	for fr.pos >= len(fr.pending) {
		if fr.done {
			fr.err = io.EOF
			return 0, io.EOF
		}
		if err := fr.advance(); err != nil {
			fr.err = err
			return 0, err
		}
	}
	n := copy(p, fr.pending[fr.pos:])
	fr.pos += n
	fr.total += uint64(n)
	return n, nil
}

func (fr *Reader) advance() error {
	blockLen, err := fr.readU32()
	if err != nil {
		return err
	}
	if blockLen == 0 {
		if fr.contentHash {
			want, err := fr.readU32()
			if err != nil {
				return err
			}
			if want != fr.content.Value() {
				return archive.New("lz4", archive.BadChecksum,
					fmt.Sprintf("content checksum %#08x != computed %#08x", want, fr.content.Value()))
			}
		}
		fr.done = true
		fr.pending = nil
		fr.pos = 0
		return nil
	}

	uncompressed := blockLen&blockUncompressedBit != 0
	length := blockLen & blockLenMask
	raw := make([]byte, length)
	if _, err := io.ReadFull(fr.src, raw); err != nil {
		return archive.Wrap("lz4", archive.Truncated, "unexpected EOF reading block data", err)
	}
	if fr.blockCheck {
		want, err := fr.readU32()
		if err != nil {
			return err
		}
		if got := checksum.Sum32(raw); got != want {
			return archive.New("lz4", archive.BadChecksum,
				fmt.Sprintf("block checksum %#08x != computed %#08x", want, got))
		}
	}

	_, span := tracer.Start(fr.ctx, "decodeBlock")
	var out []byte
	if uncompressed {
		out = raw
	} else {
		out, err = decodeBlock(raw, fr.history)
		if err != nil {
			span.End()
			return err
		}
	}
	span.End()

	fr.content.Update(out)
	if fr.independent {
		fr.history = nil
	} else {
		fr.history = lastN(append(fr.history, out...), maxWindow)
	}
	fr.pending = out
	fr.pos = 0
	blocksCounter.Add(fr.ctx, 1)
	zlog.Debug(fr.ctx).Int("bytes", len(out)).Bool("uncompressed", uncompressed).Msg("lz4 block decoded")
	return nil
}

func lastN(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	out := make([]byte, n)
	copy(out, b[len(b)-n:])
	return out
}

// BytesRead returns the count of decompressed bytes delivered so far.
func (fr *Reader) BytesRead() uint64 { return fr.total }

// CompressedBytesRead returns the count of bytes consumed from the
// underlying source so far.
func (fr *Reader) CompressedBytesRead() uint64 { return fr.src.n }

// Close is a no-op; Reader holds no external resources beyond the source
// io.Reader, which it does not own.
func (fr *Reader) Close() error { return nil }
