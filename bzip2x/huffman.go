package bzip2x

import (
	"github.com/quay/archivist/archive"
	"github.com/quay/archivist/internal/bitio"
)

// huffTable is a canonical Huffman decode table built the way the
// reference bzip2 implementation's hbCreateDecodeTables does: a
// per-length "limit" (largest code value of that length), a per-length
// "base" bias, and a "perm" array mapping sorted-by-length rank back to
// the original alphabet symbol.
type huffTable struct {
	limit  [maxCodeLen + 2]int32
	base   [maxCodeLen + 2]int32
	perm   [maxALen]int32
	minLen int
	maxLen int
}

// buildHuffTable constructs the canonical decode table for one group from
// its per-symbol code lengths (spec §4.5 step 7).
func buildHuffTable(length []uint8, alphaSize int) (*huffTable, error) {
	t := &huffTable{}
	t.minLen, t.maxLen = maxCodeLen, 0
	for i := 0; i < alphaSize; i++ {
		l := int(length[i])
		if l < t.minLen {
			t.minLen = l
		}
		if l > t.maxLen {
			t.maxLen = l
		}
	}
	if t.maxLen == 0 || t.maxLen > maxCodeLen {
		return nil, archive.New("bzip2", archive.CorruptedInput, "huffman code length out of range")
	}

	pp := 0
	for i := t.minLen; i <= t.maxLen; i++ {
		for j := 0; j < alphaSize; j++ {
			if int(length[j]) == i {
				t.perm[pp] = int32(j)
				pp++
			}
		}
	}

	for i := 0; i <= maxCodeLen+1; i++ {
		t.base[i] = 0
	}
	for i := 0; i < alphaSize; i++ {
		t.base[length[i]+1]++
	}
	for i := 1; i <= maxCodeLen+1; i++ {
		t.base[i] += t.base[i-1]
	}
	for i := 0; i <= maxCodeLen+1; i++ {
		t.limit[i] = 0
	}

	vec := int32(0)
	for i := t.minLen; i <= t.maxLen; i++ {
		vec += t.base[i+1] - t.base[i]
		t.limit[i] = vec - 1
		vec <<= 1
	}
	for i := t.minLen + 1; i <= t.maxLen; i++ {
		t.base[i] = ((t.limit[i-1] + 1) << 1) - t.base[i]
	}
	return t, nil
}

// decode reads one symbol from br using t. Unrolled bit-at-a-time per the
// reference decoder's approach, not a lookup table, matching spec §4.5
// step 7's description.
func (t *huffTable) decode(br *bitio.Reader) (int32, error) {
	zn := t.minLen
	zvec, err := br.ReadBits(uint(zn))
	if err != nil {
		return 0, err
	}
	for {
		if zn > t.maxLen {
			return 0, archive.New("bzip2", archive.CorruptedInput, "huffman code too long")
		}
		if int32(zvec) <= t.limit[zn] {
			break
		}
		zn++
		bit, err := br.ReadBit()
		if err != nil {
			return 0, err
		}
		zvec = (zvec << 1) | bit
	}
	idx := int32(zvec) - t.base[zn]
	if idx < 0 || int(idx) >= len(t.perm) {
		return 0, archive.New("bzip2", archive.CorruptedInput, "huffman symbol out of range")
	}
	return t.perm[idx], nil
}
