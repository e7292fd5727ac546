package tarx

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/quay/zlog"

	"github.com/quay/archivist/archive"
	"github.com/quay/archivist/internal/metrics"
)

var tracer, _ = metrics.Named("github.com/quay/archivist/tarx")

type countingReader struct {
	r io.Reader
	n uint64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += uint64(n)
	return n, err
}

// Reader decodes a TAR archive one entry at a time, satisfying
// archive.EntrySource.
type Reader struct {
	ctx context.Context
	src *countingReader
	br  *bufio.Reader

	cur       *Header
	dataLeft  int64 // bytes of the current entry's raw (pre-sparse) data stream not yet consumed
	pad       int64 // padding after the raw data stream, to the next 512 boundary
	sparse    []SparseEntry
	sparsePos int64 // logical offset within the reconstructed sparse stream

	globalPax map[string]string
	total     uint64
	done      bool
	err       error
}

// Open prepares to read entries from r.
func Open(ctx context.Context, r io.Reader) *Reader {
	src := &countingReader{r: r}
	return &Reader{
		ctx:       ctx,
		src:       src,
		br:        bufio.NewReaderSize(src, blockSize),
		globalPax: map[string]string{},
	}
}

// NextEntry advances to the next archive entry, discarding any unread
// payload of the previous one, and returns its resolved header.
func (r *Reader) NextEntry() (*Header, error) {
	if r.err != nil {
		return nil, r.err
	}
	_, span := tracer.Start(r.ctx, "tarx.NextEntry")
	defer span.End()

	if err := r.skipToEntryEnd(); err != nil {
		r.err = err
		return nil, err
	}

	var pendingName, pendingLink string
	var pendingPax map[string]string

	for {
		block, zero, err := r.readBlock()
		if err != nil {
			r.err = err
			return nil, err
		}
		if zero {
			block2, zero2, err := r.readBlock()
			if err != nil {
				if err == io.EOF {
					// Historical tolerance: missing final zero block.
					r.done = true
					r.err = io.EOF
					return nil, io.EOF
				}
				r.err = err
				return nil, err
			}
			if zero2 {
				r.done = true
				r.err = io.EOF
				return nil, io.EOF
			}
			// A single zero block followed by a real header: treat the
			// zero block as padding noise and proceed with block2.
			block = block2
		}

		h, dataSize, err := parseHeader(block)
		if err != nil {
			r.err = err
			return nil, err
		}

		switch h.Typeflag {
		case TypeGNULongName:
			name, err := r.readDataString(dataSize)
			if err != nil {
				r.err = err
				return nil, err
			}
			pendingName = name
			continue
		case TypeGNULongLink:
			link, err := r.readDataString(dataSize)
			if err != nil {
				r.err = err
				return nil, err
			}
			pendingLink = link
			continue
		case TypeXGlobalHeader:
			body, err := r.readDataBytes(dataSize)
			if err != nil {
				r.err = err
				return nil, err
			}
			recs, err := parsePaxRecords(body)
			if err != nil {
				r.err = err
				return nil, err
			}
			for k, v := range recs {
				r.globalPax[k] = v
			}
			continue
		case TypeXHeader:
			body, err := r.readDataBytes(dataSize)
			if err != nil {
				r.err = err
				return nil, err
			}
			recs, err := parsePaxRecords(body)
			if err != nil {
				r.err = err
				return nil, err
			}
			pendingPax = recs
			continue
		}

		// Real entry: apply overlays in increasing specificity.
		for k, v := range r.globalPax {
			applyPaxRecord(h, k, v)
		}
		if pendingName != "" {
			h.Name = pendingName
		}
		if pendingLink != "" {
			h.Linkname = pendingLink
		}
		var sparseMapRecord string
		for k, v := range pendingPax {
			if k == "GNU.sparse.map" {
				sparseMapRecord = v
				continue
			}
			applyPaxRecord(h, k, v)
		}

		h.RealSize = h.Size
		var sparse []SparseEntry
		switch {
		case h.Typeflag == TypeGNUSparse:
			var realSize int64
			sparse, realSize, err = parseOldGNUSparse(block, r)
			if err != nil {
				r.err = err
				return nil, err
			}
			h.RealSize = realSize
		case sparseMapRecord != "":
			sparse, err = parseSparseMap01(sparseMapRecord)
			if err != nil {
				r.err = err
				return nil, err
			}
		case pendingPax["GNU.sparse.major"] == "1":
			var remaining int64
			sparse, h.RealSize, remaining, err = readSparseMap10(r, dataSize)
			if err != nil {
				r.err = err
				return nil, err
			}
			dataSize = remaining
		}
		if sparseMapRecord != "" {
			if v, ok := pendingPax["GNU.sparse.realsize"]; ok {
				if n, err := strconv.ParseInt(v, 10, 64); err == nil {
					h.RealSize = n
				}
			}
		}

		r.cur = h
		r.sparse = sparse
		r.sparsePos = 0
		r.dataLeft = dataSize
		r.pad = paddingFor(dataSize)
		zlog.Debug(r.ctx).Str("name", h.Name).Int64("size", h.RealSize).Msg("tar entry header parsed")
		return h, nil
	}
}

func paddingFor(size int64) int64 {
	rem := size % blockSize
	if rem == 0 {
		return 0
	}
	return blockSize - rem
}

// skipToEntryEnd discards whatever is left of the previous entry's raw
// data stream and its padding.
func (r *Reader) skipToEntryEnd() error {
	if r.dataLeft > 0 {
		if _, err := io.CopyN(io.Discard, r.br, r.dataLeft); err != nil {
			return archive.Wrap("tar", archive.Truncated, "unexpected EOF skipping entry data", err)
		}
		r.dataLeft = 0
	}
	if r.pad > 0 {
		if _, err := io.CopyN(io.Discard, r.br, r.pad); err != nil {
			return archive.Wrap("tar", archive.Truncated, "unexpected EOF skipping entry padding", err)
		}
		r.pad = 0
	}
	return nil
}

func (r *Reader) readBlock() ([blockSize]byte, bool, error) {
	var block [blockSize]byte
	n, err := io.ReadFull(r.br, block[:])
	if err != nil {
		if n == 0 && err == io.EOF {
			return block, false, io.EOF
		}
		return block, false, archive.Wrap("tar", archive.Truncated, "short header block", err)
	}
	return block, isZeroBlock(block), nil
}

func (r *Reader) readDataBytes(n int64) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.br, buf); err != nil {
		return nil, archive.Wrap("tar", archive.Truncated, "unexpected EOF reading entry data", err)
	}
	if pad := paddingFor(n); pad > 0 {
		if _, err := io.CopyN(io.Discard, r.br, pad); err != nil {
			return nil, archive.Wrap("tar", archive.Truncated, "unexpected EOF reading padding", err)
		}
	}
	return buf, nil
}

func (r *Reader) readDataString(n int64) (string, error) {
	b, err := r.readDataBytes(n)
	if err != nil {
		return "", err
	}
	return trimNUL(b), nil
}

// Read implements archive.ByteSource / io.Reader, yielding the current
// entry's logical (sparse-expanded, if applicable) byte stream.
func (r *Reader) Read(p []byte) (int, error) {
	if r.cur == nil {
		return 0, io.EOF
	}
	if r.sparse != nil {
		return r.readSparse(p)
	}
	if r.dataLeft == 0 {
		return 0, io.EOF
	}
	toRead := int64(len(p))
	if toRead > r.dataLeft {
		toRead = r.dataLeft
	}
	n, err := r.br.Read(p[:toRead])
	r.dataLeft -= int64(n)
	r.total += uint64(n)
	if err == io.EOF && r.dataLeft > 0 {
		return n, archive.Wrap("tar", archive.Truncated, "entry data shorter than declared size", err)
	}
	return n, err
}

// readSparse reconstructs the logical sparse byte stream from the raw
// physically-stored segments, zero-filling gaps, up to cur.RealSize.
func (r *Reader) readSparse(p []byte) (int, error) {
	if r.sparsePos >= r.cur.RealSize {
		return 0, io.EOF
	}
	// Find the segment (if any) covering sparsePos.
	for _, seg := range r.sparse {
		if r.sparsePos < seg.Offset {
			// Gap before this segment: emit zeros up to seg.Offset.
			n := int64(len(p))
			if gap := seg.Offset - r.sparsePos; n > gap {
				n = gap
			}
			for i := int64(0); i < n; i++ {
				p[i] = 0
			}
			r.sparsePos += n
			r.total += uint64(n)
			return int(n), nil
		}
		if r.sparsePos < seg.Offset+seg.Length {
			// Inside this segment: bytes come from the raw data stream
			// in order, one physical byte per logical byte covered by
			// the union of segments seen so far.
			want := seg.Offset + seg.Length - r.sparsePos
			if want > int64(len(p)) {
				want = int64(len(p))
			}
			if want > r.dataLeft {
				want = r.dataLeft
			}
			n, err := r.br.Read(p[:want])
			r.dataLeft -= int64(n)
			r.sparsePos += int64(n)
			r.total += uint64(n)
			return n, err
		}
	}
	// Past the last segment: zero-fill to RealSize.
	n := int64(len(p))
	if gap := r.cur.RealSize - r.sparsePos; n > gap {
		n = gap
	}
	for i := int64(0); i < n; i++ {
		p[i] = 0
	}
	r.sparsePos += n
	r.total += uint64(n)
	return int(n), nil
}

// BytesRead returns the count of logical bytes delivered across all
// entries read so far.
func (r *Reader) BytesRead() uint64 { return r.total }

// CompressedBytesRead returns the count of raw archive bytes consumed.
func (r *Reader) CompressedBytesRead() uint64 { return r.src.n }

// Close is a no-op; Reader does not own the underlying io.Reader.
func (r *Reader) Close() error { return nil }

// CanReadEntryData reports whether the given header's data can be read
// (TAR has no compression/encryption method per entry, so this is always
// true for any entry this package can enumerate).
func (r *Reader) CanReadEntryData(h *Header) bool { return true }

// parseHeader decodes one 512-byte header block into a Header plus the
// raw (physically stored) data size that follows it.
func parseHeader(block [blockSize]byte) (*Header, int64, error) {
	const csumField = 148

	wantStr := trimNUL(block[csumField : csumField+8])
	wantStr = strings.TrimSpace(wantStr)
	want, err := strconv.ParseInt(wantStr, 8, 64)
	if err != nil {
		return nil, 0, archive.New("tar", archive.CorruptedInput, "unparsable header checksum field")
	}
	if got := checksum(block); got != want {
		return nil, 0, archive.New("tar", archive.BadChecksum,
			fmt.Sprintf("header checksum %d != computed %d", want, got))
	}

	h := &Header{ExtraPaxHeaders: map[string]string{}}
	h.Name = trimNUL(block[0:100])
	mode, err := parseNumeric(block[100:108])
	if err != nil {
		return nil, 0, err
	}
	h.Mode = mode
	if h.UID, err = parseNumeric(block[108:116]); err != nil {
		return nil, 0, err
	}
	if h.GID, err = parseNumeric(block[116:124]); err != nil {
		return nil, 0, err
	}
	size, err := parseNumeric(block[124:136])
	if err != nil {
		return nil, 0, err
	}
	if size < 0 {
		return nil, 0, archive.New("tar", archive.CorruptedInput, "negative size field")
	}
	h.Size = size
	if h.ModTime, err = parseNumeric(block[136:148]); err != nil {
		return nil, 0, err
	}
	h.Typeflag = block[156]
	h.Linkname = trimNUL(block[157:257])

	magic := string(block[257:263])
	version := string(block[263:265])
	h.Uname = trimNUL(block[265:297])
	h.Gname = trimNUL(block[297:329])
	if h.Devmajor, err = parseNumeric(block[329:337]); err != nil {
		return nil, 0, err
	}
	if h.Devminor, err = parseNumeric(block[337:345]); err != nil {
		return nil, 0, err
	}
	if magic == magicUSTAR && version == versionUSTAR {
		prefix := trimNUL(block[345:500])
		if prefix != "" {
			h.Name = prefix + "/" + h.Name
		}
	}

	// For GNU old-format sparse entries, h.Size (the physically stored,
	// pre-expansion length) is the correct dataSize as-is; RealSize is
	// filled in separately by parseOldGNUSparse.
	return h, h.Size, nil
}

// applyPaxRecord overlays one PAX extended-header record onto h, per the
// recognised-keys list in spec §4.7.
func applyPaxRecord(h *Header, key, value string) {
	switch key {
	case "path":
		h.Name = value
	case "linkpath":
		h.Linkname = value
	case "size":
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			h.Size = n
		}
	case "mtime":
		if n, ok := parsePaxTime(value); ok {
			h.ModTime = n
		}
	case "atime":
		if n, ok := parsePaxTime(value); ok {
			h.AccessTime = n
		}
	case "ctime":
		if n, ok := parsePaxTime(value); ok {
			h.ChangeTime = n
		}
	case "uid":
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			h.UID = n
		}
	case "gid":
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			h.GID = n
		}
	case "uname":
		h.Uname = value
	case "gname":
		h.Gname = value
	default:
		if strings.HasPrefix(key, "GNU.sparse.") || strings.HasPrefix(key, "SCHILY.") {
			h.ExtraPaxHeaders[key] = value
			return
		}
		h.ExtraPaxHeaders[key] = value
	}
}

func parsePaxTime(v string) (int64, bool) {
	// PAX times are <seconds>[.<fraction>]; truncate to whole seconds.
	if i := strings.IndexByte(v, '.'); i >= 0 {
		v = v[:i]
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// parsePaxRecords decodes a PAX extended-header record stream: each
// record is `"<len> <key>=<value>\n"` where len includes the length
// field, the space, the key=value, and the trailing newline (spec §3.5).
func parsePaxRecords(body []byte) (map[string]string, error) {
	recs := map[string]string{}
	for len(body) > 0 {
		sp := indexByte(body, ' ')
		if sp < 0 {
			return nil, archive.New("tar", archive.CorruptedInput, "malformed PAX record: missing length separator")
		}
		lenStr := string(body[:sp])
		n, err := strconv.Atoi(lenStr)
		if err != nil {
			return nil, archive.Wrap("tar", archive.CorruptedInput, "non-numeric PAX record length", err)
		}
		if n <= sp || n > len(body) {
			return nil, archive.New("tar", archive.CorruptedInput, "PAX record length out of bounds")
		}
		rec := body[sp+1 : n-1] // drop the trailing '\n'
		eq := indexByte(rec, '=')
		if eq < 0 {
			return nil, archive.New("tar", archive.CorruptedInput, "malformed PAX record: missing '='")
		}
		key, value := string(rec[:eq]), string(rec[eq+1:])
		if value == "" {
			delete(recs, key)
		} else {
			recs[key] = value
		}
		body = body[n:]
	}
	return recs, nil
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}
