package bitio

import (
	"bytes"
	"io"
	"testing"
)

func TestBigEndianReadBits(t *testing.T) {
	// 0xB5 = 1011_0101
	r := NewReader(bytes.NewReader([]byte{0xB5, 0x3C}), BigEndian)
	for _, want := range []uint64{1, 0, 1, 1, 0, 1, 0, 1} {
		got, err := r.ReadBit()
		if err != nil {
			t.Fatalf("ReadBit: %v", err)
		}
		if got != want {
			t.Fatalf("ReadBit() = %d, want %d", got, want)
		}
	}
	v, err := r.ReadBits(8)
	if err != nil {
		t.Fatalf("ReadBits: %v", err)
	}
	if v != 0x3C {
		t.Fatalf("ReadBits(8) = %#x, want 0x3C", v)
	}
	if r.BytesRead() != 2 {
		t.Fatalf("BytesRead() = %d, want 2", r.BytesRead())
	}
}

func TestLittleEndianReadBits(t *testing.T) {
	// 0xB5 = 1011_0101, LSB first: 1,0,1,0,1,1,0,1
	r := NewReader(bytes.NewReader([]byte{0xB5}), LittleEndian)
	for _, want := range []uint64{1, 0, 1, 0, 1, 1, 0, 1} {
		got, err := r.ReadBit()
		if err != nil {
			t.Fatalf("ReadBit: %v", err)
		}
		if got != want {
			t.Fatalf("ReadBit() = %d, want %d", got, want)
		}
	}
}

func TestReadBitsCrossesByteBoundary(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0xFF, 0x00}), BigEndian)
	v, err := r.ReadBits(12)
	if err != nil {
		t.Fatalf("ReadBits: %v", err)
	}
	if v != 0xFF0 {
		t.Fatalf("ReadBits(12) = %#x, want 0xFF0", v)
	}
}

func TestUnexpectedEOF(t *testing.T) {
	r := NewReader(bytes.NewReader(nil), BigEndian)
	if _, err := r.ReadBits(8); err != io.ErrUnexpectedEOF {
		t.Fatalf("ReadBits on empty source = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestClearBitCache(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0xFF, 0x00}), BigEndian)
	if _, err := r.ReadBits(4); err != nil {
		t.Fatalf("ReadBits: %v", err)
	}
	r.ClearBitCache()
	v, err := r.ReadBits(8)
	if err != nil {
		t.Fatalf("ReadBits: %v", err)
	}
	if v != 0x00 {
		t.Fatalf("ReadBits(8) after ClearBitCache = %#x, want 0x00", v)
	}
}
