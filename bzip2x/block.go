package bzip2x

import (
	"github.com/quay/archivist/archive"
	"github.com/quay/archivist/internal/bitio"
)

// decodedBlock holds one fully reconstructed BZIP2 block: the original
// byte sequence (after RLE1 expansion) plus the block CRC the stream
// claimed, for the caller to fold into the running combined CRC (spec
// §4.5 step 11).
type decodedBlock struct {
	data []byte
	crc  uint32
}

// decodeBlock runs spec §4.5 steps 2-10 for one block: header fields, the
// in-use symbol map, selectors, Huffman tables, MTF/RLE2 decode, inverse
// BWT, and RLE1 (run-length-4) expansion.
func decodeBlock(br *bitio.Reader, blockSize100k int) (*decodedBlock, error) {
	blockCRC, err := br.ReadBits(32)
	if err != nil {
		return nil, err
	}
	randBit, err := br.ReadBit()
	if err != nil {
		return nil, err
	}
	origPtrBits, err := br.ReadBits(24)
	if err != nil {
		return nil, err
	}
	origPtr := int(origPtrBits)

	seqToUnseq, err := readInUseMap(br)
	if err != nil {
		return nil, err
	}
	nInUse := len(seqToUnseq)
	if nInUse == 0 {
		return nil, archive.New("bzip2", archive.CorruptedInput, "empty in-use symbol map")
	}
	alphaSize := nInUse + 2

	nGroupsBits, err := br.ReadBits(3)
	if err != nil {
		return nil, err
	}
	nGroups := int(nGroupsBits)
	if nGroups > maxGroups {
		return nil, archive.New("bzip2", archive.CorruptedInput, "nGroups out of range")
	}

	nSelectorsBits, err := br.ReadBits(15)
	if err != nil {
		return nil, err
	}
	nSelectors := int(nSelectorsBits)

	selectors, err := readSelectors(br, nGroups, nSelectors)
	if err != nil {
		return nil, err
	}

	tables, err := readHuffmanTables(br, nGroups, alphaSize)
	if err != nil {
		return nil, err
	}

	maxBlock := blockSize100k * 100000
	ll8, unzftab, err := mtfDecode(br, selectors, tables, alphaSize, seqToUnseq, maxBlock, randBit != 0)
	if err != nil {
		return nil, err
	}

	if origPtr >= len(ll8) {
		return nil, archive.New("bzip2", archive.CorruptedInput, "origPtr out of range")
	}
	bwt, err := inverseBWT(ll8, unzftab, origPtr)
	if err != nil {
		return nil, err
	}

	return &decodedBlock{data: unRLE(bwt), crc: uint32(blockCRC)}, nil
}

// readInUseMap decodes the two-level 16x16 bitmap of byte values present
// in the block (spec §4.5 step 3), returning the ascending list of used
// byte values ("seqToUnseq").
func readInUseMap(br *bitio.Reader) ([]byte, error) {
	used16, err := br.ReadBits(16)
	if err != nil {
		return nil, err
	}
	var seqToUnseq []byte
	for i := 0; i < 16; i++ {
		if used16&(1<<(15-i)) == 0 {
			continue
		}
		bits, err := br.ReadBits(16)
		if err != nil {
			return nil, err
		}
		for j := 0; j < 16; j++ {
			if bits&(1<<(15-j)) != 0 {
				seqToUnseq = append(seqToUnseq, byte(i*16+j))
			}
		}
	}
	return seqToUnseq, nil
}

// readSelectors decodes the MTF-encoded selector list (spec §4.5 step 4),
// tolerating (by truncating storage rather than rejecting) selector
// counts beyond maxSelectors, matching the historical over-long-selector
// tolerance noted in spec §9.
func readSelectors(br *bitio.Reader, nGroups, nSelectors int) ([]int, error) {
	mtf := make([]int, nGroups)
	for i := range mtf {
		mtf[i] = i
	}
	capacity := nSelectors
	if capacity > maxSelectors {
		capacity = maxSelectors
	}
	selectors := make([]int, 0, capacity)
	for i := 0; i < nSelectors; i++ {
		j := 0
		for {
			bit, err := br.ReadBit()
			if err != nil {
				return nil, err
			}
			if bit == 0 {
				break
			}
			j++
			if j >= nGroups {
				return nil, archive.New("bzip2", archive.CorruptedInput, "selector MTF value out of range")
			}
		}
		if len(selectors) < maxSelectors {
			v := mtf[j]
			copy(mtf[1:j+1], mtf[0:j])
			mtf[0] = v
			selectors = append(selectors, v)
		}
	}
	return selectors, nil
}

// readHuffmanTables decodes the nGroups canonical code-length tables
// (spec §4.5 step 6) and builds their decode tables.
func readHuffmanTables(br *bitio.Reader, nGroups, alphaSize int) ([]*huffTable, error) {
	tables := make([]*huffTable, nGroups)
	length := make([]uint8, alphaSize)
	for g := 0; g < nGroups; g++ {
		currBits, err := br.ReadBits(5)
		if err != nil {
			return nil, err
		}
		curr := int(currBits)
		for s := 0; s < alphaSize; s++ {
			for {
				if curr < 1 || curr > maxCodeLen {
					return nil, archive.New("bzip2", archive.CorruptedInput, "huffman code length out of range")
				}
				bit, err := br.ReadBit()
				if err != nil {
					return nil, err
				}
				if bit == 0 {
					break
				}
				sign, err := br.ReadBit()
				if err != nil {
					return nil, err
				}
				if sign == 0 {
					curr++
				} else {
					curr--
				}
			}
			length[s] = uint8(curr)
		}
		t, err := buildHuffTable(length, alphaSize)
		if err != nil {
			return nil, err
		}
		tables[g] = t
	}
	return tables, nil
}

// mtfDecode runs spec §4.5 step 8: MTF + RUNA/RUNB run-length decode,
// producing the raw (pre-inverse-BWT) byte sequence. Block derandomisation
// (XOR with the fixed 512-entry table) is applied here, at the point each
// byte enters the BWT input array, which is where the reference bzip2
// decoder applies it -- not during the later output walk.
func mtfDecode(br *bitio.Reader, selectors []int, tables []*huffTable, alphaSize int, seqToUnseq []byte, maxBlock int, randomised bool) ([]byte, [256]int, error) {
	var unzftab [256]int
	mtf := append([]byte(nil), seqToUnseq...)
	eob := int32(alphaSize - 1)
	ll8 := make([]byte, 0, maxBlock)

	groupNo := -1
	groupPos := 0
	var table *huffTable

	nextSym := func() (int32, error) {
		if groupPos == 0 {
			groupNo++
			if groupNo >= len(selectors) {
				return 0, archive.New("bzip2", archive.CorruptedInput, "selector list exhausted")
			}
			table = tables[selectors[groupNo]]
			groupPos = groupSize
		}
		groupPos--
		return table.decode(br)
	}

	rNToGo, rTPos := 0, 0
	emit := func(b byte) error {
		if randomised {
			if rNToGo == 0 {
				rNToGo = int(randTable[rTPos])
				rTPos++
				if rTPos == 512 {
					rTPos = 0
				}
			}
			rNToGo--
			if rNToGo == 1 {
				b ^= 1
			}
		}
		if len(ll8) >= maxBlock {
			return archive.New("bzip2", archive.SizeLimitExceeded, "block data exceeds declared block size")
		}
		ll8 = append(ll8, b)
		unzftab[b]++
		return nil
	}

	sym, err := nextSym()
	if err != nil {
		return nil, unzftab, err
	}
	for sym != eob {
		if sym == runA || sym == runB {
			es, n := 0, 1
			for sym == runA || sym == runB {
				if sym == runA {
					es += n
				} else {
					es += 2 * n
				}
				n <<= 1
				sym, err = nextSym()
				if err != nil {
					return nil, unzftab, err
				}
			}
			b := mtf[0]
			for i := 0; i < es; i++ {
				if err := emit(b); err != nil {
					return nil, unzftab, err
				}
			}
			continue
		}
		idx := int(sym) - 1
		if idx >= len(mtf) {
			return nil, unzftab, archive.New("bzip2", archive.CorruptedInput, "mtf index out of range")
		}
		b := mtf[idx]
		copy(mtf[1:idx+1], mtf[0:idx])
		mtf[0] = b
		if err := emit(b); err != nil {
			return nil, unzftab, err
		}
		sym, err = nextSym()
		if err != nil {
			return nil, unzftab, err
		}
	}
	return ll8, unzftab, nil
}

// inverseBWT undoes the Burrows-Wheeler Transform via the standard
// counting-sort "next pointer" construction (spec §4.5 step 9).
func inverseBWT(ll8 []byte, unzftab [256]int, origPtr int) ([]byte, error) {
	n := len(ll8)
	var cftab [257]int
	for i := 0; i < 256; i++ {
		cftab[i+1] = unzftab[i]
	}
	for i := 1; i <= 256; i++ {
		cftab[i] += cftab[i-1]
	}
	tt := make([]int32, n)
	for i := 0; i < n; i++ {
		ch := ll8[i]
		tt[cftab[ch]] = int32(i)
		cftab[ch]++
	}
	out := make([]byte, n)
	tPos := tt[origPtr]
	for i := 0; i < n; i++ {
		out[i] = ll8[tPos]
		tPos = tt[tPos]
	}
	return out, nil
}

// unRLE reverses the RLE1 pre-processing pass (spec §4.5 step 10): a run
// of 4 identical bytes is followed by one count byte giving the number of
// additional repeats (0-255).
func unRLE(data []byte) []byte {
	res := make([]byte, 0, len(data))
	i := 0
	for i < len(data) {
		b := data[i]
		i++
		res = append(res, b)
		run := 1
		for run < 4 && i < len(data) && data[i] == b {
			res = append(res, b)
			i++
			run++
		}
		if run == 4 && i < len(data) {
			count := int(data[i])
			i++
			for j := 0; j < count; j++ {
				res = append(res, b)
			}
		}
	}
	return res
}
