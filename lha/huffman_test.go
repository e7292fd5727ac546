package lha

import (
	"bytes"
	"testing"

	"github.com/quay/archivist/internal/bitio"
)

func TestBuildTreeSingleSymbol(t *testing.T) {
	lens := make([]uint8, 10)
	lens[3] = 1
	tr, err := buildTree(lens)
	if err != nil {
		t.Fatalf("buildTree: %v", err)
	}
	if !tr.single || tr.singleSym != 3 {
		t.Fatalf("expected degenerate single-symbol tree for symbol 3, got %+v", tr)
	}
	br := bitio.NewReader(bytes.NewReader(nil), bitio.BigEndian)
	sym, err := tr.decode(br)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sym != 3 {
		t.Fatalf("decode() = %d, want 3", sym)
	}
}

func TestBuildTreeRejectsAllZero(t *testing.T) {
	if _, err := buildTree(make([]uint8, 5)); err == nil {
		t.Fatal("expected error for all-zero code-length vector")
	}
}

func TestBuildTreeDecodesCanonicalCodes(t *testing.T) {
	// Symbols 0,1,2,3 with lengths 2,2,2,2: canonical codes 00,01,10,11.
	lens := []uint8{2, 2, 2, 2}
	tr, err := buildTree(lens)
	if err != nil {
		t.Fatalf("buildTree: %v", err)
	}
	// Encode symbol 2's code (10) as a byte stream: 1,0 as the top two bits.
	br := bitio.NewReader(bytes.NewReader([]byte{0b10_000000}), bitio.BigEndian)
	sym, err := tr.decode(br)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sym != 2 {
		t.Fatalf("decode() = %d, want 2", sym)
	}
}
