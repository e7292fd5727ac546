package checksum

import (
	"io"
	"testing"
)

// Reference vectors from spec §8 "CRC-32 reference" property.
func TestReferenceVectors(t *testing.T) {
	input := []byte("123456789")

	t.Run("CRC32", func(t *testing.T) {
		c := NewCRC32()
		c.Update(input)
		if got, want := c.Value(), uint32(0xCBF43926); got != want {
			t.Errorf("CRC32(%q) = %#08x, want %#08x", input, got, want)
		}
	})

	t.Run("CRC16", func(t *testing.T) {
		c := NewCRC16()
		c.Update(input)
		if got, want := c.Value(), uint32(0xBB3D); got != want {
			t.Errorf("CRC16(%q) = %#04x, want %#04x", input, got, want)
		}
	})

	t.Run("XXH32_empty", func(t *testing.T) {
		x := NewXXHash32()
		x.Update(nil)
		if got, want := x.Value(), uint32(0x02CC5D05); got != want {
			t.Errorf("XXH32(\"\", seed=0) = %#08x, want %#08x", got, want)
		}
	})
}

func TestValueIsIdempotent(t *testing.T) {
	c := NewCRC32()
	c.Update([]byte("hello"))
	a := c.Value()
	b := c.Value()
	if a != b {
		t.Fatalf("Value() mutated state: %#08x != %#08x", a, b)
	}
}

func TestResetRestoresSeed(t *testing.T) {
	c := NewCRC16()
	c.Update([]byte("123456789"))
	c.Reset()
	if got := c.Value(); got != 0 {
		t.Fatalf("Reset() left value %#04x, want 0", got)
	}
}

func TestCRC32Reader(t *testing.T) {
	data := []byte("the quick brown fox")
	crc := NewCRC32()
	r := NewCRC32Reader(newByteReader(data), crc)
	buf := make([]byte, len(data))
	n, err := r.Read(buf)
	if err != nil && n != len(data) {
		t.Fatalf("Read: %v", err)
	}

	want := NewCRC32()
	want.Update(data)
	if crc.Value() != want.Value() {
		t.Fatalf("CRC32Reader did not track bytes read: got %#08x want %#08x", crc.Value(), want.Value())
	}
}

type byteReader struct{ b []byte }

func newByteReader(b []byte) *byteReader { return &byteReader{b: b} }

func (r *byteReader) Read(p []byte) (int, error) {
	n := copy(p, r.b)
	r.b = r.b[n:]
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}
