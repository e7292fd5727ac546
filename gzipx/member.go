// Package gzipx implements the GZIP member decoder (spec §4.4, RFC 1952)
// and its FEXTRA subfield codec (§4.3), including multi-member
// concatenation and per-member metadata callbacks.
package gzipx

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/quay/zlog"
	"go.opentelemetry.io/otel/metric"

	"github.com/quay/archivist/archive"
	"github.com/quay/archivist/charset"
	"github.com/quay/archivist/checksum"
	"github.com/quay/archivist/internal/metrics"
)

var tracer, meter = metrics.Named("github.com/quay/archivist/gzipx")

// membersCounter tracks how many GZIP members have been fully decoded,
// across all Reader instances in the process.
var membersCounter metric.Int64Counter

func init() {
	var err error
	membersCounter, err = meter.Int64Counter("gzipx.member.count",
		metric.WithDescription("total number of GZIP members decoded"),
		metric.WithUnit("{member}"),
	)
	if err != nil {
		panic(err)
	}
}

// Level classifies the GZIP XFL byte into the three compression-level
// classes spec §3.2 names.
type Level int

const (
	LevelDefault Level = iota
	LevelBestSpeed
	LevelBestCompression
)

// Member is a GZIP member's metadata, populated as of OnMemberStart and
// completed with the trailer fields as of OnMemberEnd (spec §3.2).
type Member struct {
	ModTime       time.Time // zero means "none" (epoch MTIME)
	Level         Level
	OS            byte
	Name          string
	NameSet       bool
	Comment       string
	CommentSet    bool
	Extra         *ExtraField
	HeaderCRCSet  bool
	TrailerCRC32  uint32
	TrailerISIZE  uint32
}

// Options configures an Open call.
type Options struct {
	DecompressConcatenated bool
	IgnoreExtraField       bool
	FilenameCharset        charset.Charset
	OnMemberStart          func(*Member)
	OnMemberEnd            func(*Member)
}

// Option mutates Options; the configuration is a plain record built by
// free functions, per spec §9 (no fluent builder hierarchy).
type Option func(*Options)

func WithDecompressConcatenated(v bool) Option { return func(o *Options) { o.DecompressConcatenated = v } }
func WithExtraField(parse bool) Option         { return func(o *Options) { o.IgnoreExtraField = !parse } }
func WithFilenameCharset(cs charset.Charset) Option {
	return func(o *Options) { o.FilenameCharset = cs }
}
func WithOnMemberStart(f func(*Member)) Option { return func(o *Options) { o.OnMemberStart = f } }
func WithOnMemberEnd(f func(*Member)) Option   { return func(o *Options) { o.OnMemberEnd = f } }

func defaultOptions() Options {
	return Options{
		IgnoreExtraField: true,
		FilenameCharset:  charset.Latin1,
	}
}

// countingReader tallies every byte pulled from the underlying source,
// placed below the bufio.Reader passed to flate so that body-phase reads
// (which bufio services directly via ReadByte, bypassing our own header
// helpers) are still counted.
type countingReader struct {
	r io.Reader
	n uint64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += uint64(n)
	return n, err
}

// Reader decodes a (possibly multi-member) GZIP stream, satisfying
// archive.ByteSource.
type Reader struct {
	ctx  context.Context
	src  *countingReader
	br   *bufio.Reader
	opts Options

	cur     Member
	err     error
	inf     io.ReadCloser
	crc     *checksum.CRC32
	written uint64 // bytes delivered for the current member
	total   uint64 // bytes delivered across the whole call
}

// Open begins decoding a GZIP stream from r. The header of the first
// member is parsed eagerly so that metadata is available before the first
// Read, matching the "invoke on_member_start" ordering in spec §4.4 step 10.
func Open(ctx context.Context, r io.Reader, opts ...Option) (*Reader, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	src := &countingReader{r: r}
	gr := &Reader{
		ctx:  ctx,
		src:  src,
		br:   bufio.NewReader(src),
		opts: o,
		crc:  checksum.NewCRC32(),
	}
	if err := gr.startMember(true); err != nil {
		return nil, err
	}
	return gr, nil
}

func (gr *Reader) countingByte() (byte, error) {
	return gr.br.ReadByte()
}

func (gr *Reader) readFull(n int) ([]byte, error) {
	buf := make([]byte, n)
	_, err := io.ReadFull(gr.br, buf)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, archive.Wrap("gzip", archive.Truncated, "unexpected EOF reading header", err)
		}
		return nil, err
	}
	return buf, nil
}

// startMember runs spec §4.4 steps 1-10: parse one member's header and
// fire OnMemberStart.
func (gr *Reader) startMember(first bool) error {
	ctx, span := tracer.Start(gr.ctx, "startMember")
	defer span.End()

	var magic [2]byte
	n, rawErr := io.ReadFull(gr.br, magic[:])
	if rawErr != nil {
		if n == 0 && errors.Is(rawErr, io.EOF) && !first && gr.opts.DecompressConcatenated {
			// Clean EOF right at a member boundary, after at least one
			// member: terminate without error, per spec §4.4 step 1.
			return io.EOF
		}
		return archive.Wrap("gzip", archive.Truncated, "unexpected EOF reading magic", rawErr)
	}
	if magic[0] != 0x1F || magic[1] != 0x8B {
		return archive.New("gzip", archive.NotFormat, fmt.Sprintf("bad magic: %02x%02x", magic[0], magic[1]))
	}

	cm, err := gr.countingByte()
	if err != nil {
		return wrapHeaderEOF(err)
	}
	if cm != 8 {
		return archive.New("gzip", archive.UnsupportedMethod, fmt.Sprintf("CM=%d, only DEFLATE (8) is supported", cm))
	}

	flg, err := gr.countingByte()
	if err != nil {
		return wrapHeaderEOF(err)
	}
	if flg&0xE0 != 0 {
		return archive.New("gzip", archive.ReservedFieldSet, fmt.Sprintf("reserved flag bits set: %08b", flg))
	}
	const (
		fhcrc = 1 << 1
		fextra = 1 << 2
		fname  = 1 << 3
		fcomment = 1 << 4
	)

	mtimeB, err := gr.readFull(4)
	if err != nil {
		return err
	}
	mtime := binary.LittleEndian.Uint32(mtimeB)

	xfl, err := gr.countingByte()
	if err != nil {
		return wrapHeaderEOF(err)
	}
	osb, err := gr.countingByte()
	if err != nil {
		return wrapHeaderEOF(err)
	}

	m := Member{OS: osb}
	if mtime != 0 {
		m.ModTime = time.Unix(int64(mtime), 0).UTC()
	}
	switch xfl {
	case 2:
		m.Level = LevelBestCompression
	case 4:
		m.Level = LevelBestSpeed
	default:
		m.Level = LevelDefault
	}

	if flg&fextra != 0 {
		xlenB, err := gr.readFull(2)
		if err != nil {
			return err
		}
		xlen := int(binary.LittleEndian.Uint16(xlenB))
		body, err := gr.readFull(xlen)
		if err != nil {
			return err
		}
		if !gr.opts.IgnoreExtraField {
			ef, err := DecodeExtraField(body)
			if err != nil {
				return err
			}
			m.Extra = ef
		}
	}
	if flg&fname != 0 {
		b, err := gr.readNulTerminated()
		if err != nil {
			return err
		}
		m.Name = gr.opts.FilenameCharset.DecodeWithReplacement(b)
		m.NameSet = true
	}
	if flg&fcomment != 0 {
		b, err := gr.readNulTerminated()
		if err != nil {
			return err
		}
		m.Comment = gr.opts.FilenameCharset.DecodeWithReplacement(b)
		m.CommentSet = true
	}
	if flg&fhcrc != 0 {
		// Historical: the stored value is a truncated CRC-16 over the
		// header and is not verified, per spec §4.4 step 9.
		if _, err := gr.readFull(2); err != nil {
			return err
		}
		m.HeaderCRCSet = true
	}

	gr.cur = m
	gr.written = 0
	gr.crc.Reset()
	gr.inf = flate.NewReader(gr.br)
	zlog.Debug(ctx).
		Str("name", m.Name).
		Bool("concatenated", !first).
		Msg("gzip member header parsed")
	if gr.opts.OnMemberStart != nil {
		gr.opts.OnMemberStart(&gr.cur)
	}
	return nil
}

func (gr *Reader) readNulTerminated() ([]byte, error) {
	var out []byte
	for {
		b, err := gr.countingByte()
		if err != nil {
			return nil, wrapHeaderEOF(err)
		}
		if b == 0 {
			return out, nil
		}
		out = append(out, b)
	}
}

func wrapHeaderEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return archive.Wrap("gzip", archive.Truncated, "unexpected EOF reading header", err)
	}
	return err
}

// finishMember runs spec §4.4 steps 13-14: verify the trailer and fire
// OnMemberEnd.
func (gr *Reader) finishMember() error {
	trailer, err := gr.readFull(8)
	if err != nil {
		return err
	}
	gotCRC := binary.LittleEndian.Uint32(trailer[0:4])
	gotISIZE := binary.LittleEndian.Uint32(trailer[4:8])
	wantCRC := gr.crc.Value()
	wantISIZE := uint32(gr.written)

	gr.cur.TrailerCRC32 = gotCRC
	gr.cur.TrailerISIZE = gotISIZE

	if gotCRC != wantCRC {
		return archive.New("gzip", archive.BadChecksum,
			fmt.Sprintf("trailer CRC32 %08x != computed %08x", gotCRC, wantCRC))
	}
	if gotISIZE != wantISIZE {
		return archive.New("gzip", archive.SizeLimitExceeded,
			fmt.Sprintf("trailer ISIZE %d != computed %d", gotISIZE, wantISIZE))
	}
	membersCounter.Add(gr.ctx, 1)
	if gr.opts.OnMemberEnd != nil {
		gr.opts.OnMemberEnd(&gr.cur)
	}
	return nil
}

// Read implements archive.ByteSource / io.Reader.
func (gr *Reader) Read(p []byte) (int, error) {
	if gr.err != nil {
		return 0, gr.err
	}
	for {
		n, err := gr.inf.Read(p)
		if n > 0 {
			gr.crc.Update(p[:n])
			gr.written += uint64(n)
			gr.total += uint64(n)
			return n, nil
		}
		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) {
			gr.err = archive.Wrap("gzip", archive.CorruptedInput, "deflate stream error", err)
			return 0, gr.err
		}
		// Inflater finished: verify trailer.
		if ferr := gr.finishMember(); ferr != nil {
			gr.err = ferr
			return 0, gr.err
		}
		if !gr.opts.DecompressConcatenated {
			gr.err = io.EOF
			return 0, io.EOF
		}
		if serr := gr.startMember(false); serr != nil {
			if errors.Is(serr, io.EOF) {
				gr.err = io.EOF
				return 0, io.EOF
			}
			gr.err = serr
			return 0, gr.err
		}
		// Loop: continue reading from the new member.
	}
}

// BytesRead returns the count of decompressed bytes delivered so far,
// across all members if decompress_concatenated was set.
func (gr *Reader) BytesRead() uint64 { return gr.total }

// CompressedBytesRead returns the count of bytes consumed from the
// underlying source so far.
func (gr *Reader) CompressedBytesRead() uint64 { return gr.src.n }

// Close releases the inflater. Idempotent.
func (gr *Reader) Close() error {
	if gr.inf == nil {
		return nil
	}
	err := gr.inf.Close()
	gr.inf = nil
	return err
}
