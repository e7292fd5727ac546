package tarx

import "testing"

func TestParseSparseMap01(t *testing.T) {
	segs, err := parseSparseMap01("0,100,200,50")
	if err != nil {
		t.Fatalf("parseSparseMap01: %v", err)
	}
	want := []SparseEntry{{Offset: 0, Length: 100}, {Offset: 200, Length: 50}}
	if len(segs) != len(want) {
		t.Fatalf("len(segs) = %d, want %d", len(segs), len(want))
	}
	for i := range want {
		if segs[i] != want[i] {
			t.Fatalf("segs[%d] = %+v, want %+v", i, segs[i], want[i])
		}
	}
}

func TestParseSparseMap01RejectsOddList(t *testing.T) {
	if _, err := parseSparseMap01("0,100,200"); err == nil {
		t.Fatal("expected error for odd-length sparse map")
	}
}

func TestReadSparseStructZeroIsGap(t *testing.T) {
	b := make([]byte, 24)
	_, ok, err := readSparseStruct(b)
	if err != nil {
		t.Fatalf("readSparseStruct: %v", err)
	}
	if ok {
		t.Fatal("expected a zero (offset=0,numbytes=0) struct to report ok=false")
	}
}
