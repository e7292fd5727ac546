// Package charset implements the §9 "charset capability": decoding bytes of
// a configured encoding to a Go string with replacement on invalid
// sequences, and encoding a string back to bytes on a best-effort basis.
//
// Grounded on the teacher's direct golang.org/x/text dependency: rather
// than hand-roll LATIN-1/charmap tables, this reaches for the sibling
// golang.org/x/text/encoding and golang.org/x/text/encoding/charmap
// packages, which is the idiomatic Go way to do fixed 8-bit charset
// conversion and is already one import-path segment away from a dependency
// the teacher ships.
package charset

import (
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Charset decodes bytes to strings (with U+FFFD substitution on invalid
// input) and encodes strings back to bytes on a best-effort basis.
type Charset struct {
	enc encoding.Encoding
}

// Latin1 is the default charset for GZIP FNAME/FCOMMENT per spec §3.2 and
// for LHA filenames when no platform-specific charset is configured.
var Latin1 = Charset{enc: charmap.ISO8859_1}

// UTF8 is a pass-through charset for archives that declare UTF-8 names
// (PAX's path/linkpath records, for instance, which are UTF-8 by
// definition).
var UTF8 = Charset{enc: encoding.Nop}

// UTF16LE is occasionally needed for GNU/Windows-originated archives.
var UTF16LE = Charset{enc: unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)}

// New wraps an arbitrary golang.org/x/text Encoding as a Charset.
func New(enc encoding.Encoding) Charset { return Charset{enc: enc} }

// DecodeWithReplacement decodes b, substituting U+FFFD for any byte
// sequence the charset can't represent.
func (c Charset) DecodeWithReplacement(b []byte) string {
	out, err := c.enc.NewDecoder().Bytes(b)
	if err != nil {
		// encoding.Decoder.Bytes already substitutes U+FFFD for
		// malformed-but-partial input; a non-nil error here means
		// decoding failed outright, e.g. an odd number of bytes for a
		// UTF-16 charset. Fall back to decoding the raw bytes as
		// LATIN-1, which maps every byte to a rune.
		return latin1Fallback(b)
	}
	return string(out)
}

// EncodeBestEffort encodes s, substituting the charset's default
// replacement byte for any rune it can't represent.
func (c Charset) EncodeBestEffort(s string) []byte {
	out, err := c.enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return out
}

func latin1Fallback(b []byte) string {
	out, _ := charmap.ISO8859_1.NewDecoder().Bytes(b)
	return string(out)
}
