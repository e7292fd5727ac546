package lha

import (
	"github.com/quay/archivist/archive"
	"github.com/quay/archivist/internal/bitio"
)

// blockDecoder holds the per-block Huffman trees and sliding-window state
// for the LH4/5/6/7 LZSS body codec.
type blockDecoder struct {
	br      *bitio.Reader
	dicBits uint
	window  []byte
	pos     int // next write position in window, wrapping at len(window)
	filled  int

	blockRemain int
	cTree       *tree
	pTree       *tree
}

func newBlockDecoder(br *bitio.Reader, dicBits uint) *blockDecoder {
	return &blockDecoder{
		br:      br,
		dicBits: dicBits,
		window:  make([]byte, 1<<dicBits),
	}
}

// readPTLen decodes a code-length vector of size n via the "three-bit
// literal plus run-length escape" scheme common to the NT-tree (code
// lengths of the c-tree) and the NP-tree (position tree), per the
// reference lha huf.c algorithm. special, when >= 0, is the symbol index
// at which a 2-bit extra skip-run count follows (used only for the NT
// tree, per the format).
func readPTLen(br *bitio.Reader, n int, nbit uint, special int) ([]uint8, error) {
	count, err := br.ReadBits(nbit)
	if err != nil {
		return nil, archive.Wrap("lha", archive.Truncated, "unexpected EOF reading tree symbol count", err)
	}
	lens := make([]uint8, n)
	if count == 0 {
		c, err := br.ReadBits(nbit)
		if err != nil {
			return nil, archive.Wrap("lha", archive.Truncated, "unexpected EOF reading degenerate tree symbol", err)
		}
		if int(c) >= n {
			return nil, archive.New("lha", archive.CorruptedInput, "degenerate tree symbol out of range")
		}
		lens[c] = 1
		return lens, nil
	}
	if int(count) > n {
		return nil, archive.New("lha", archive.CorruptedInput, "tree symbol count exceeds alphabet size")
	}

	i := 0
	for i < int(count) {
		l, err := br.ReadBits(3)
		if err != nil {
			return nil, archive.Wrap("lha", archive.Truncated, "unexpected EOF reading code length", err)
		}
		if l == 7 {
			for {
				b, err := br.ReadBit()
				if err != nil {
					return nil, archive.Wrap("lha", archive.Truncated, "unexpected EOF extending code length", err)
				}
				if b == 0 {
					break
				}
				l++
			}
		}
		if i >= n {
			return nil, archive.New("lha", archive.CorruptedInput, "tree symbol index out of range")
		}
		lens[i] = uint8(l)
		i++
		if i == special {
			skip, err := br.ReadBits(2)
			if err != nil {
				return nil, archive.Wrap("lha", archive.Truncated, "unexpected EOF reading skip run", err)
			}
			for ; skip > 0 && i < n; skip-- {
				lens[i] = 0
				i++
			}
		}
	}
	return lens, nil
}

// readCLen decodes the NC-tree's code lengths, which are themselves
// Huffman-coded via a freshly built NT-tree: symbol 0 is a single zero
// length, symbols 1 and 2 are zero runs of different scales (4-bit count
// plus 3, cbit-bit count plus 20), and any other symbol s is length s-2.
func readCLen(br *bitio.Reader) (*tree, error) {
	ptLens, err := readPTLen(br, nt, tbit, 3)
	if err != nil {
		return nil, err
	}
	ptTree, err := buildTree(ptLens)
	if err != nil {
		return nil, err
	}

	count, err := br.ReadBits(cbit)
	if err != nil {
		return nil, archive.Wrap("lha", archive.Truncated, "unexpected EOF reading NC symbol count", err)
	}
	lens := make([]uint8, nc)
	if count == 0 {
		c, err := br.ReadBits(cbit)
		if err != nil {
			return nil, archive.Wrap("lha", archive.Truncated, "unexpected EOF reading degenerate NC symbol", err)
		}
		if int(c) >= nc {
			return nil, archive.New("lha", archive.CorruptedInput, "degenerate NC symbol out of range")
		}
		lens[c] = 1
		return buildTree(lens)
	}
	if int(count) > nc {
		return nil, archive.New("lha", archive.CorruptedInput, "NC symbol count exceeds alphabet size")
	}

	i := 0
	for i < int(count) {
		sym, err := ptTree.decode(br)
		if err != nil {
			return nil, err
		}
		switch {
		case sym == 0:
			if i >= nc {
				return nil, archive.New("lha", archive.CorruptedInput, "NC symbol index out of range")
			}
			lens[i] = 0
			i++
		case sym == 1:
			run, err := br.ReadBits(4)
			if err != nil {
				return nil, archive.Wrap("lha", archive.Truncated, "unexpected EOF reading short zero run", err)
			}
			for j := int64(0); j < int64(run)+3 && i < nc; j++ {
				lens[i] = 0
				i++
			}
		case sym == 2:
			run, err := br.ReadBits(cbit)
			if err != nil {
				return nil, archive.Wrap("lha", archive.Truncated, "unexpected EOF reading long zero run", err)
			}
			for j := int64(0); j < int64(run)+20 && i < nc; j++ {
				lens[i] = 0
				i++
			}
		default:
			if i >= nc {
				return nil, archive.New("lha", archive.CorruptedInput, "NC symbol index out of range")
			}
			lens[i] = uint8(sym - 2)
			i++
		}
	}
	return buildTree(lens)
}

// readPLen decodes the NP-tree (position tree) directly via readPTLen;
// unlike the NC-tree it has no run-length escape layer.
func readPLen(br *bitio.Reader, np int) (*tree, error) {
	lens, err := readPTLen(br, np, pbit, -1)
	if err != nil {
		return nil, err
	}
	return buildTree(lens)
}

// startBlock reads one block's header (block size, c-tree, p-tree).
func (d *blockDecoder) startBlock() error {
	n, err := d.br.ReadBits(16)
	if err != nil {
		return archive.Wrap("lha", archive.Truncated, "unexpected EOF reading block size", err)
	}
	d.blockRemain = int(n)

	cTree, err := readCLen(d.br)
	if err != nil {
		return err
	}
	pTree, err := readPLen(d.br, npFor(d.dicBits))
	if err != nil {
		return err
	}
	d.cTree, d.pTree = cTree, pTree
	return nil
}

// decodeLen converts a c-tree symbol >= 256 into a match length.
func decodeLen(sym int32) int {
	return int(sym) - 256 + threshold
}

// decodePos reads a position-tree symbol and its extra low bits to
// produce a back-reference distance.
func (d *blockDecoder) decodePos() (int, error) {
	sym, err := d.pTree.decode(d.br)
	if err != nil {
		return 0, err
	}
	if sym == 0 {
		return 0, nil
	}
	extra, err := d.br.ReadBits(uint(sym - 1))
	if err != nil {
		return 0, archive.Wrap("lha", archive.Truncated, "unexpected EOF reading position extra bits", err)
	}
	return (1 << uint(sym-1)) | int(extra), nil
}

// next decodes the next literal byte or (length, distance) match from the
// current block, refilling blocks as they're exhausted; it writes directly
// into the sliding window and returns the produced bytes.
func (d *blockDecoder) next() ([]byte, error) {
	if d.blockRemain == 0 {
		if err := d.startBlock(); err != nil {
			return nil, err
		}
	}
	d.blockRemain--

	sym, err := d.cTree.decode(d.br)
	if err != nil {
		return nil, err
	}
	if sym < 256 {
		b := byte(sym)
		d.emit(b)
		return []byte{b}, nil
	}

	length := decodeLen(sym)
	dist, err := d.decodePos()
	if err != nil {
		return nil, err
	}
	dist++ // position tree encodes distance-1

	out := make([]byte, 0, length)
	for i := 0; i < length; i++ {
		srcPos := (d.pos - dist + len(d.window)) % len(d.window)
		b := d.window[srcPos]
		d.emit(b)
		out = append(out, b)
	}
	return out, nil
}

func (d *blockDecoder) emit(b byte) {
	d.window[d.pos] = b
	d.pos = (d.pos + 1) % len(d.window)
	if d.filled < len(d.window) {
		d.filled++
	}
}
