package lha

// LZSS/Huffman constants for the LH4/LH5/LH6/LH7 body codec, following the
// canonical "lha"/"lzhuf" reference algorithm's static per-block scheme
// (distinct from the dynamic-tree LH1/LH2/LH3 schemes, which are out of
// scope per the supported-method set below).
const (
	threshold = 3   // matches shorter than this are emitted as literals
	maxMatch  = 256 // longest match length the length alphabet encodes

	nc   = 510 // literal+length alphabet: 256 literals + (maxMatch-threshold+1) length codes
	cbit = 9   // bit width of the NC-tree's symbol-count field
	nt   = 19  // code-length alphabet size for encoding the NC-tree's own code lengths (codeBit+3)
	tbit = 5   // bit width of the NT-tree's symbol-count field
	pbit = 5   // bit width of the NP-tree's symbol-count field

	codeBit = 16 // max code length representable in the NT-tree's 3..18 scheme
)

// windowBits maps a full method tag ("-lhN-") to its sliding-window size
// in bits. LH0 is stored (no window); levels not
// listed are unsupported.
var windowBits = map[string]uint{
	"-lh4-": 12, // 4 KiB
	"-lh5-": 13, // 8 KiB
	"-lh6-": 15, // 32 KiB
	"-lh7-": 16, // 64 KiB
}

// npFor returns the position-tree alphabet size for a given window size:
// one symbol per possible "number of extra low bits" value, 0..dicBits.
func npFor(dicBits uint) int { return int(dicBits) + 1 }
