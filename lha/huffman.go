package lha

import (
	"github.com/quay/archivist/archive"
	"github.com/quay/archivist/internal/bitio"
)

const maxTreeLen = 16 // longest canonical code length this package builds tables for

// tree is a canonical Huffman decode table, built the same way as
// bzip2x.huffTable (perm/base/limit arrays) but over a code-length vector
// that may legitimately be empty except for one symbol, in which case
// decode always returns that symbol without consuming bits -- the
// "degenerate single-symbol tree" case spec §9 calls out for LHA's
// position tree.
type tree struct {
	limit  [maxTreeLen + 2]int32
	base   [maxTreeLen + 2]int32
	perm   []int32
	minLen int
	maxLen int

	single    bool
	singleSym int32
}

// buildTree constructs a canonical decode table from a code-length vector
// (0 = symbol absent), following the same perm/base/limit bucket-sort
// construction used throughout this module's other Huffman decoders.
func buildTree(lengths []uint8) (*tree, error) {
	t := &tree{perm: make([]int32, 0, len(lengths))}

	var count [maxTreeLen + 2]int32
	nonZero := 0
	var lastSym int32 = -1
	for sym, l := range lengths {
		if l == 0 {
			continue
		}
		if int(l) > maxTreeLen {
			return nil, archive.New("lha", archive.CorruptedInput, "code length exceeds maximum")
		}
		count[l]++
		nonZero++
		lastSym = int32(sym)
	}

	if nonZero == 0 {
		return nil, archive.New("lha", archive.CorruptedInput, "empty Huffman tree")
	}
	if nonZero == 1 {
		t.single = true
		t.singleSym = lastSym
		return t, nil
	}

	t.minLen, t.maxLen = maxTreeLen+1, 0
	for l := 1; l <= maxTreeLen; l++ {
		if count[l] == 0 {
			continue
		}
		if l < t.minLen {
			t.minLen = l
		}
		if l > t.maxLen {
			t.maxLen = l
		}
	}

	// perm must be ordered by (length, symbol); stable-sort by bucket.
	ordered := make([]int32, 0, nonZero)
	for l := t.minLen; l <= t.maxLen; l++ {
		for sym, sl := range lengths {
			if int(sl) == l {
				ordered = append(ordered, int32(sym))
			}
		}
	}
	t.perm = ordered

	code := int32(0)
	idx := int32(0)
	for l := t.minLen; l <= t.maxLen; l++ {
		t.base[l] = code - idx
		code += count[l]
		idx += count[l]
		t.limit[l] = code - 1
		code <<= 1
	}
	t.limit[t.maxLen+1] = 1<<31 - 1
	return t, nil
}

// decode reads one symbol, MSB-first, per canonical-code convention.
func (t *tree) decode(br *bitio.Reader) (int32, error) {
	if t.single {
		return t.singleSym, nil
	}
	code := int32(0)
	for l := 1; l <= t.maxLen; l++ {
		b, err := br.ReadBit()
		if err != nil {
			return 0, archive.Wrap("lha", archive.Truncated, "unexpected EOF decoding Huffman symbol", err)
		}
		code = code<<1 | int32(b)
		if l >= t.minLen && code <= t.limit[l] {
			idx := code - t.base[l]
			if idx < 0 || int(idx) >= len(t.perm) {
				return 0, archive.New("lha", archive.CorruptedInput, "Huffman index out of range")
			}
			return t.perm[idx], nil
		}
	}
	return 0, archive.New("lha", archive.CorruptedInput, "Huffman code with no matching length")
}
