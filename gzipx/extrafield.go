package gzipx

import (
	"encoding/binary"
	"fmt"

	"github.com/quay/archivist/archive"
)

// maxExtraFieldSize is the encoded-size ceiling from spec §3.3: the FEXTRA
// subfield list is itself length-prefixed by a 16-bit XLEN, so it can never
// legally exceed 65535 bytes.
const maxExtraFieldSize = 65535

// Subfield is one (si1, si2, payload) triple of a GZIP FEXTRA block, per
// RFC 1952 §2.3.1.1.
type Subfield struct {
	SI1, SI2 byte
	Payload  []byte
}

// encodedSize is the subfield's contribution to the FEXTRA total: a 4-byte
// header (si1, si2, 16-bit length) plus the payload.
func (s Subfield) encodedSize() int { return 4 + len(s.Payload) }

// ExtraField is an ordered list of Subfields, iterated in insertion order,
// per spec §3.3.
type ExtraField struct {
	subs []Subfield
	size int
}

// Add appends a subfield, rejecting ids that aren't exactly 2 bytes and
// rejecting appends that would push the encoded size over 65535. On
// rejection the ExtraField is left unmutated.
func (e *ExtraField) Add(id [2]byte, payload []byte) error {
	if len(payload) >= 1<<16 {
		return archive.New("gzip", archive.SizeLimitExceeded,
			fmt.Sprintf("subfield payload too long: %d bytes", len(payload)))
	}
	sf := Subfield{SI1: id[0], SI2: id[1], Payload: payload}
	if e.size+sf.encodedSize() > maxExtraFieldSize {
		return archive.New("gzip", archive.SizeLimitExceeded,
			fmt.Sprintf("extra field would exceed %d bytes", maxExtraFieldSize))
	}
	e.subs = append(e.subs, sf)
	e.size += sf.encodedSize()
	return nil
}

// Subfields returns the subfields in insertion order. The returned slice
// must not be mutated.
func (e *ExtraField) Subfields() []Subfield { return e.subs }

// FindFirst returns the first subfield whose id matches, and whether one
// was found.
func (e *ExtraField) FindFirst(id [2]byte) (Subfield, bool) {
	for _, sf := range e.subs {
		if sf.SI1 == id[0] && sf.SI2 == id[1] {
			return sf, true
		}
	}
	return Subfield{}, false
}

// Encode serializes the extra field as si1 si2 len-LE16 payload for each
// subfield concatenated in order.
func (e *ExtraField) Encode() []byte {
	buf := make([]byte, 0, e.size)
	for _, sf := range e.subs {
		buf = append(buf, sf.SI1, sf.SI2)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(sf.Payload)))
		buf = append(buf, sf.Payload...)
	}
	return buf
}

// DecodeExtraField parses a FEXTRA body per spec §4.3: loop while at least
// 4 bytes remain, reading si1/si2/len16 then len16 bytes of payload; any
// leftover bytes too short to form a header are a format error.
func DecodeExtraField(b []byte) (*ExtraField, error) {
	e := &ExtraField{}
	for len(b) > 0 {
		if len(b) < 4 {
			return nil, archive.New("gzip", archive.CorruptedInput,
				fmt.Sprintf("trailing garbage in extra field: %d byte(s)", len(b)))
		}
		si1, si2 := b[0], b[1]
		n := int(binary.LittleEndian.Uint16(b[2:4]))
		b = b[4:]
		if n > len(b) {
			return nil, archive.New("gzip", archive.CorruptedInput,
				fmt.Sprintf("subfield %c%c declares length %d, only %d remain", si1, si2, n, len(b)))
		}
		payload := append([]byte(nil), b[:n]...)
		b = b[n:]
		if err := e.Add([2]byte{si1, si2}, payload); err != nil {
			return nil, err
		}
	}
	return e, nil
}
