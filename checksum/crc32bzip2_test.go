package checksum

import "testing"

// Reference vector for the CRC-32/BZIP2 variant (MSB-first, non-reflected,
// init/xorout 0xFFFFFFFF): the catalogued check value for "123456789".
func TestCRC32BZip2ReferenceVector(t *testing.T) {
	got := Sum32BZip2([]byte("123456789"))
	if want := uint32(0xFC891918); got != want {
		t.Errorf("Sum32BZip2(%q) = %#08x, want %#08x", "123456789", got, want)
	}
}

func TestCRC32BZip2ResetRestoresSeed(t *testing.T) {
	c := NewCRC32BZip2()
	c.Update([]byte("123456789"))
	c.Reset()
	if got, want := c.Value(), Sum32BZip2(nil); got != want {
		t.Errorf("Reset() left value %#08x, want empty-input value %#08x", got, want)
	}
}
