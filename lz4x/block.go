package lz4x

import (
	"github.com/quay/archivist/archive"
)

// decodeBlock decompresses one "block LZ4" compressed stream, per spec
// §4.8: a sequence of (literal-run, match) pairs, where a match's
// back-reference distance may reach into the supplied history window
// (the tail of the previous block's output, when block-dependency is in
// effect; empty when the frame is block-independent or this is the first
// block).
func decodeBlock(src []byte, history []byte) ([]byte, error) {
	out := make([]byte, 0, len(src)*2)
	i := 0
	for i < len(src) {
		token := src[i]
		i++

		litLen := int(token >> 4)
		if litLen == 15 {
			for {
				if i >= len(src) {
					return nil, archive.New("lz4", archive.Truncated, "block ends mid literal-length extension")
				}
				b := src[i]
				i++
				litLen += int(b)
				if b != 0xFF {
					break
				}
			}
		}
		if i+litLen > len(src) {
			return nil, archive.New("lz4", archive.CorruptedInput, "literal run exceeds block bounds")
		}
		out = append(out, src[i:i+litLen]...)
		i += litLen

		if i == len(src) {
			// Final sequence: literals only, no match part.
			break
		}
		if i+2 > len(src) {
			return nil, archive.New("lz4", archive.Truncated, "block ends mid match offset")
		}
		offset := int(src[i]) | int(src[i+1])<<8
		i += 2
		if offset == 0 {
			return nil, archive.New("lz4", archive.CorruptedInput, "match offset of zero")
		}

		matchLen := int(token&0x0F) + 4
		if token&0x0F == 15 {
			for {
				if i >= len(src) {
					return nil, archive.New("lz4", archive.Truncated, "block ends mid match-length extension")
				}
				b := src[i]
				i++
				matchLen += int(b)
				if b != 0xFF {
					break
				}
			}
		}

		if err := copyMatch(&out, history, offset, matchLen); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// copyMatch appends matchLen bytes to *out, copying from offset bytes
// before the end of the combined (history ++ *out) byte stream. The copy
// proceeds one byte at a time since LZ4 matches may legitimately overlap
// their own source (a classic single-byte-offset RLE idiom).
func copyMatch(out *[]byte, history []byte, offset, matchLen int) error {
	total := len(history) + len(*out)
	if offset > total {
		return archive.New("lz4", archive.CorruptedInput, "match offset precedes start of stream")
	}
	srcPos := total - offset
	for k := 0; k < matchLen; k++ {
		pos := srcPos + k
		var b byte
		if pos < len(history) {
			b = history[pos]
		} else {
			b = (*out)[pos-len(history)]
		}
		*out = append(*out, b)
	}
	return nil
}
