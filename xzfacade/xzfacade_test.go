package xzfacade

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/ulikunitz/xz"
)

func TestRoundTrip(t *testing.T) {
	want := strings.Repeat("the quick brown fox jumps over the lazy dog\n", 200)

	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatalf("xz.NewWriter: %v", err)
	}
	if _, err := io.WriteString(xw, want); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := xw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	r, err := Open(context.Background(), bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != want {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(want))
	}
	if r.BytesRead() != uint64(len(want)) {
		t.Fatalf("BytesRead = %d, want %d", r.BytesRead(), len(want))
	}
	if r.CompressedBytesRead() == 0 {
		t.Fatal("CompressedBytesRead should be nonzero after a full read")
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	if _, err := Open(context.Background(), bytes.NewReader([]byte("not an xz stream"))); err == nil {
		t.Fatal("expected error for non-XZ input")
	}
}

func TestDictCapOption(t *testing.T) {
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatalf("xz.NewWriter: %v", err)
	}
	if _, err := io.WriteString(xw, "small payload"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := xw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	r, err := Open(context.Background(), bytes.NewReader(buf.Bytes()), WithDictCap(1<<20))
	if err != nil {
		t.Fatalf("Open with explicit DictCap: %v", err)
	}
	if _, err := io.ReadAll(r); err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
}
