package tarx

import (
	"io"
	"strconv"
	"strings"

	"github.com/quay/archivist/archive"
)

// parseOldGNUSparse decodes the pre-PAX GNU sparse format embedded
// directly in the header block: four inline (offset, numbytes) pairs,
// an "isextended" continuation flag, and the real (logical) file size
// (spec §4.7's GNU.sparse handling, format "0.0").
func parseOldGNUSparse(block [blockSize]byte, r *Reader) ([]SparseEntry, int64, error) {
	const spOff = 386
	var segs []SparseEntry
	for i := 0; i < 4; i++ {
		off := spOff + i*24
		seg, ok, err := readSparseStruct(block[off : off+24])
		if err != nil {
			return nil, 0, err
		}
		if ok {
			segs = append(segs, seg)
		}
	}

	isExtended := block[482] != 0
	for isExtended {
		var ext [blockSize]byte
		if _, err := io.ReadFull(r.br, ext[:]); err != nil {
			return nil, 0, archive.Wrap("tar", archive.Truncated, "unexpected EOF reading GNU sparse extension header", err)
		}
		for i := 0; i < 21; i++ {
			off := i * 24
			seg, ok, err := readSparseStruct(ext[off : off+24])
			if err != nil {
				return nil, 0, err
			}
			if ok {
				segs = append(segs, seg)
			}
		}
		isExtended = ext[504] != 0
	}

	realSize, err := parseNumeric(block[483:495])
	if err != nil {
		return nil, 0, err
	}
	return segs, realSize, nil
}

func readSparseStruct(b []byte) (SparseEntry, bool, error) {
	offset, err := parseNumeric(b[0:12])
	if err != nil {
		return SparseEntry{}, false, err
	}
	numbytes, err := parseNumeric(b[12:24])
	if err != nil {
		return SparseEntry{}, false, err
	}
	if offset == 0 && numbytes == 0 {
		return SparseEntry{}, false, nil
	}
	return SparseEntry{Offset: offset, Length: numbytes}, true, nil
}

// parseSparseMap01 decodes the GNU sparse format "0.1" PAX record, a
// single comma-separated list of offset,numbytes pairs, with no leading
// segment count.
func parseSparseMap01(v string) ([]SparseEntry, error) {
	parts := strings.Split(v, ",")
	if len(parts) < 1 {
		return nil, archive.New("tar", archive.CorruptedInput, "empty GNU.sparse.map record")
	}
	nums := make([]int64, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, archive.New("tar", archive.CorruptedInput, "non-numeric GNU.sparse.map entry")
		}
		nums = append(nums, n)
	}
	if len(nums)%2 != 0 {
		return nil, archive.New("tar", archive.CorruptedInput, "odd-length GNU.sparse.map entry list")
	}
	segs := make([]SparseEntry, 0, len(nums)/2)
	for i := 0; i < len(nums); i += 2 {
		segs = append(segs, SparseEntry{Offset: nums[i], Length: nums[i+1]})
	}
	return segs, nil
}

// readSparseMap10 decodes the GNU sparse format "1.0" layout, where the
// sparse map is a decimal-ASCII preamble within the entry's data stream
// itself: a line giving the segment count, then one "offset\nnumbytes\n"
// pair per segment, the whole preamble padded to a 512-byte boundary,
// followed by the concatenated segment data (also block-padded).
//
// It returns the decoded segments, the real (logical) file size, and the
// remaining physical data size after the preamble (including its padding)
// has been consumed from r's buffered reader -- the caller uses that as
// the entry's new dataLeft, since the preamble occupies the front of what
// the header's size field described as the entry's data.
func readSparseMap10(r *Reader, physicalSize int64) ([]SparseEntry, int64, int64, error) {
	var countingErr error
	consumed := int64(0)
	readLine := func() (string, error) {
		line, err := r.br.ReadString('\n')
		consumed += int64(len(line))
		if err != nil {
			countingErr = archive.Wrap("tar", archive.Truncated, "unexpected EOF reading sparse map preamble", err)
			return "", countingErr
		}
		return strings.TrimSuffix(line, "\n"), nil
	}

	countStr, err := readLine()
	if err != nil {
		return nil, 0, physicalSize, err
	}
	count, err := strconv.Atoi(countStr)
	if err != nil {
		return nil, 0, physicalSize - consumed, archive.New("tar", archive.CorruptedInput, "non-numeric GNU sparse 1.0 segment count")
	}

	segs := make([]SparseEntry, 0, count)
	for i := 0; i < count; i++ {
		offStr, err := readLine()
		if err != nil {
			return nil, 0, physicalSize - consumed, err
		}
		lenStr, err := readLine()
		if err != nil {
			return nil, 0, physicalSize - consumed, err
		}
		off, err1 := strconv.ParseInt(offStr, 10, 64)
		num, err2 := strconv.ParseInt(lenStr, 10, 64)
		if err1 != nil || err2 != nil {
			return nil, 0, physicalSize - consumed, archive.New("tar", archive.CorruptedInput, "non-numeric GNU sparse 1.0 map entry")
		}
		segs = append(segs, SparseEntry{Offset: off, Length: num})
	}

	// The preamble itself is padded to a 512-byte boundary before the
	// segment data begins.
	if pad := paddingFor(consumed); pad > 0 {
		if _, err := io.CopyN(io.Discard, r.br, pad); err != nil {
			return nil, 0, physicalSize - consumed, archive.Wrap("tar", archive.Truncated, "unexpected EOF reading sparse preamble padding", err)
		}
		consumed += pad
	}

	var realSize int64
	for _, s := range segs {
		if end := s.Offset + s.Length; end > realSize {
			realSize = end
		}
	}
	return segs, realSize, physicalSize - consumed, nil
}
