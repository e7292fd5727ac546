package checksum

import (
	"hash/crc32"
	"io"
)

// CRC32 computes the IEEE 802.3 CRC-32 (polynomial 0xEDB88320, reflected)
// used by GZIP and ZIP. BZIP2's block and stream checksums use the
// separate MSB-first CRC32BZip2 variant instead.
//
// This is one of the few places in the module that reaches for the standard
// library instead of a corpus dependency: no example repo in the retrieval
// pack vendors a third-party CRC-32 implementation, and hash/crc32's
// table-driven IEEE implementation is already what every corpus repo that
// touches gzip relies on transitively (klauspost/compress/gzip included).
type CRC32 struct {
	v uint32
}

// NewCRC32 returns a CRC-32 in its initial state.
func NewCRC32() *CRC32 { return &CRC32{} }

func (c *CRC32) Update(b []byte) { c.v = crc32.Update(c.v, crc32.IEEETable, b) }
func (c *CRC32) Value() uint32   { return c.v }
func (c *CRC32) Reset()          { c.v = 0 }

// CRC32Reader wraps an io.Reader, updating a CRC32 with every byte observed
// by Read. It implements the "wrapping adaptor" called for in spec §4.1.
type CRC32Reader struct {
	r   io.Reader
	crc *CRC32
}

// NewCRC32Reader wraps r, accumulating into crc as bytes are read.
func NewCRC32Reader(r io.Reader, crc *CRC32) *CRC32Reader {
	return &CRC32Reader{r: r, crc: crc}
}

func (r *CRC32Reader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.crc.Update(p[:n])
	}
	return n, err
}
