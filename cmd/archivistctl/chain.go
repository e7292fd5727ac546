package main

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/quay/archivist/bzip2x"
	"github.com/quay/archivist/cpiox"
	"github.com/quay/archivist/dumpx"
	"github.com/quay/archivist/gzipx"
	"github.com/quay/archivist/internal/detect"
	"github.com/quay/archivist/lha"
	"github.com/quay/archivist/lz4x"
	"github.com/quay/archivist/tarx"
	"github.com/quay/archivist/xzfacade"
	"github.com/quay/archivist/zipx"
	"github.com/quay/archivist/zstdfacade"
)

// sniffLen is how much of a stream detect.Sniff wants to see; TAR's
// header checks need a full 512-byte block, not just a handful of magic
// bytes.
const sniffLen = 512

// multiCloser closes a stack of io.Closers in reverse order (innermost,
// i.e. last-opened, first), matching the order each layer's buffered
// reader would otherwise be torn down in.
type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var err error
	for i := len(m) - 1; i >= 0; i-- {
		if cerr := m[i].Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// decodeChain peels off any recognised compression layer(s) and returns
// a reader positioned at the start of what should be archive content,
// along with the sequence of formats it walked through to get there
// (compression formats first, terminating in an archive format or
// detect.Unknown if nothing recognisable was found).
//
// Closing the returned Closer, if non-nil, releases any resources held
// by the decompression chain; br is always safe to just stop reading
// from.
func decodeChain(ctx context.Context, r io.Reader) (br *bufio.Reader, chain []detect.Format, closer io.Closer, err error) {
	br = bufio.NewReaderSize(r, sniffLen)
	var closers multiCloser
	for {
		peek, _ := br.Peek(sniffLen)
		f := detect.Sniff(peek)
		chain = append(chain, f)
		switch f {
		case detect.GZIP:
			gr, err := gzipx.Open(ctx, br)
			if err != nil {
				return br, chain, multiCloser(closers), fmt.Errorf("archivistctl: opening gzip member: %w", err)
			}
			br, closers = bufio.NewReaderSize(gr, sniffLen), append(closers, gr)
		case detect.BZIP2:
			zr, err := bzip2x.Open(ctx, br)
			if err != nil {
				return br, chain, multiCloser(closers), fmt.Errorf("archivistctl: opening bzip2 stream: %w", err)
			}
			br, closers = bufio.NewReaderSize(zr, sniffLen), append(closers, zr)
		case detect.XZ:
			xr, err := xzfacade.Open(ctx, br)
			if err != nil {
				return br, chain, multiCloser(closers), fmt.Errorf("archivistctl: opening xz stream: %w", err)
			}
			br, closers = bufio.NewReaderSize(xr, sniffLen), append(closers, xr)
		case detect.LZ4:
			lr, err := lz4x.Open(ctx, br)
			if err != nil {
				return br, chain, multiCloser(closers), fmt.Errorf("archivistctl: opening lz4 frame: %w", err)
			}
			br, closers = bufio.NewReaderSize(lr, sniffLen), append(closers, lr)
		case detect.Zstandard:
			zr, err := zstdfacade.Open(ctx, br)
			if err != nil {
				return br, chain, multiCloser(closers), fmt.Errorf("archivistctl: opening zstd stream: %w", err)
			}
			br, closers = bufio.NewReaderSize(zr, sniffLen), append(closers, zr)
		default:
			// Either an archive format (nothing left to peel) or
			// Unknown (nothing more we can do).
			return br, chain, multiCloser(closers), nil
		}
	}
}

// walkEntry is a format-agnostic view of one archive member: the subset
// of fields every concrete Header type in this module carries, lifted
// out by a per-format type switch in walkEntries. None of the five
// archive readers' Header types literally satisfy archive.Entry as an
// interface value (NextEntry returns the concrete *Header, not
// archive.Entry, and lha.Header.IsDir is a field rather than a method),
// so rather than retrofit the packages this adapts each one by hand.
type walkEntry struct {
	name     string
	isDir    bool
	size     int64
	readable bool
}

// walkEntries reads every entry of the archive format f from r, calling
// fn with each entry's metadata and a reader limited to that entry's
// data. fn's reader is only valid until the next call to fn; walkEntries
// stops and returns fn's error the first time it returns non-nil.
func walkEntries(ctx context.Context, f detect.Format, r io.Reader, fn func(walkEntry, io.Reader) error) error {
	switch f {
	case detect.TAR:
		ar := tarx.Open(ctx, r)
		for {
			h, err := ar.NextEntry()
			if err == io.EOF {
				return nil
			} else if err != nil {
				return fmt.Errorf("archivistctl: reading tar entry: %w", err)
			}
			we := walkEntry{name: h.Name, isDir: h.IsDir(), size: h.Size, readable: true}
			if err := fn(we, ar); err != nil {
				return err
			}
		}
	case detect.LHA:
		ar := lha.Open(ctx, r)
		for {
			h, err := ar.NextEntry()
			if err == io.EOF {
				return nil
			} else if err != nil {
				return fmt.Errorf("archivistctl: reading lha entry: %w", err)
			}
			we := walkEntry{name: h.Name, isDir: h.IsDir, size: h.Size, readable: ar.CanReadEntryData(h)}
			if err := fn(we, ar); err != nil {
				return err
			}
		}
	case detect.CPIO:
		ar := cpiox.Open(ctx, r)
		for {
			h, err := ar.NextEntry()
			if err == io.EOF {
				return nil
			} else if err != nil {
				return fmt.Errorf("archivistctl: reading cpio entry: %w", err)
			}
			if h.Name == cpiox.Trailer {
				return nil
			}
			we := walkEntry{name: h.Name, isDir: h.IsDir(), size: h.Size, readable: true}
			if err := fn(we, ar); err != nil {
				return err
			}
		}
	case detect.DUMP:
		ar := dumpx.Open(ctx, r)
		for {
			h, err := ar.NextEntry()
			if err == io.EOF {
				return nil
			} else if err != nil {
				return fmt.Errorf("archivistctl: reading dump entry: %w", err)
			}
			we := walkEntry{name: h.Name(), isDir: h.IsDir(), size: h.Size, readable: true}
			if err := fn(we, ar); err != nil {
				return err
			}
		}
	case detect.ZIP:
		ar := zipx.Open(ctx, r)
		for {
			h, err := ar.NextEntry()
			if err == io.EOF {
				return nil
			} else if err != nil {
				return fmt.Errorf("archivistctl: reading zip entry: %w", err)
			}
			we := walkEntry{name: h.Name, isDir: h.IsDir(), size: h.Size, readable: ar.CanReadEntryData(h)}
			if err := fn(we, ar); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("archivistctl: %s is not an archive format", f)
	}
}
