package bzip2x

import (
	"bytes"
	"testing"
)

func TestInverseBWT(t *testing.T) {
	var unzftab [256]int
	unzftab['a'] = 2
	unzftab['b'] = 1
	got, err := inverseBWT([]byte("baa"), unzftab, 0)
	if err != nil {
		t.Fatalf("inverseBWT: %v", err)
	}
	if string(got) != "aab" {
		t.Fatalf("inverseBWT(%q) = %q, want %q", "baa", got, "aab")
	}
}

func TestUnRLEShortRunsPassThrough(t *testing.T) {
	in := []byte("abcabc")
	if got := unRLE(in); !bytes.Equal(got, in) {
		t.Fatalf("unRLE(%q) = %q, want unchanged", in, got)
	}
}

func TestUnRLEExpandsFourByteRun(t *testing.T) {
	// Four 'x' bytes followed by a count of 0 additional repeats: exactly
	// four 'x's in the original data.
	in := []byte{'x', 'x', 'x', 'x', 0}
	got := unRLE(in)
	want := bytes.Repeat([]byte{'x'}, 4)
	if !bytes.Equal(got, want) {
		t.Fatalf("unRLE(four+0) = %q, want %q", got, want)
	}
}

func TestUnRLEExpandsLongerRun(t *testing.T) {
	// Four 'y' bytes followed by a count of 3: seven 'y's total.
	in := []byte{'y', 'y', 'y', 'y', 3}
	got := unRLE(in)
	want := bytes.Repeat([]byte{'y'}, 7)
	if !bytes.Equal(got, want) {
		t.Fatalf("unRLE(four+3) = %q, want %q", got, want)
	}
}
