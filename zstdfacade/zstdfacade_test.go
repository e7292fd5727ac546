package zstdfacade

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	want := strings.Repeat("the quick brown fox jumps over the lazy dog\n", 200)

	var buf bytes.Buffer
	w, err := NewWriter(&buf, WithChecksum(true))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if _, err := io.WriteString(w, want); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	if w.BytesWritten() != uint64(len(want)) {
		t.Fatalf("BytesWritten = %d, want %d", w.BytesWritten(), len(want))
	}

	r, err := Open(context.Background(), bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
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
}

func TestFlushWithCloseFrameOnFlush(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, WithCloseFrameOnFlush(true))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if _, err := io.WriteString(w, "first frame"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if _, err := io.WriteString(w, "second frame"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	r, err := Open(context.Background(), bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "first framesecond frame" {
		t.Fatalf("unexpected decoded content: %q", got)
	}
}

func TestReadRejectsBadMagic(t *testing.T) {
	// zstd.NewReader does not validate the frame header eagerly; the
	// error only surfaces once decoding actually begins.
	r, err := Open(context.Background(), bytes.NewReader([]byte("not a zstd frame")))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	if _, err := io.ReadAll(r); err == nil {
		t.Fatal("expected error for non-zstd input")
	}
}
