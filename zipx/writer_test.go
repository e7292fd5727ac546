package zipx

import (
	"bytes"
	"context"
	"io"
	"testing"
)

func TestRoundTripStoreAndDeflate(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	sw, err := w.CreateHeader("stored.txt", MethodStore, 1700000000)
	if err != nil {
		t.Fatalf("CreateHeader(store): %v", err)
	}
	if _, err := sw.Write([]byte("hello, store!")); err != nil {
		t.Fatalf("Write(store): %v", err)
	}

	dw, err := w.CreateHeader("deflated.txt", MethodDeflate, 1700000000)
	if err != nil {
		t.Fatalf("CreateHeader(deflate): %v", err)
	}
	payload := bytes.Repeat([]byte("compress me please "), 50)
	if _, err := dw.Write(payload); err != nil {
		t.Fatalf("Write(deflate): %v", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r := Open(context.Background(), bytes.NewReader(buf.Bytes()))

	h1, err := r.NextEntry()
	if err != nil {
		t.Fatalf("NextEntry(1): %v", err)
	}
	if h1.Name != "stored.txt" || h1.Method != MethodStore {
		t.Fatalf("unexpected first header: %+v", h1)
	}
	got1, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll(1): %v", err)
	}
	if string(got1) != "hello, store!" {
		t.Fatalf("entry 1 data = %q", got1)
	}

	h2, err := r.NextEntry()
	if err != nil {
		t.Fatalf("NextEntry(2): %v", err)
	}
	if h2.Name != "deflated.txt" || h2.Method != MethodDeflate {
		t.Fatalf("unexpected second header: %+v", h2)
	}
	got2, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll(2): %v", err)
	}
	if !bytes.Equal(got2, payload) {
		t.Fatalf("entry 2 data mismatch: got %d bytes, want %d", len(got2), len(payload))
	}

	if _, err := r.NextEntry(); err != io.EOF {
		t.Fatalf("expected io.EOF after last entry, got %v", err)
	}
}

func TestRoundTripViaDirectoryReader(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, name := range []string{"a.txt", "b.txt", "dir/c.txt"} {
		ew, err := w.CreateHeader(name, MethodDeflate, 1700000000)
		if err != nil {
			t.Fatalf("CreateHeader(%s): %v", name, err)
		}
		if _, err := ew.Write([]byte("payload for " + name)); err != nil {
			t.Fatalf("Write(%s): %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data := buf.Bytes()
	dr, err := OpenReaderAt(context.Background(), bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("OpenReaderAt: %v", err)
	}
	entries := dr.Entries()
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}

	// Open the last entry directly without reading the first two.
	rc, err := dr.Open(entries[2])
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "payload for dir/c.txt" {
		t.Fatalf("entry data = %q", got)
	}
	if !entries[2].IsDir() && entries[2].Name != "dir/c.txt" {
		t.Fatalf("unexpected name: %q", entries[2].Name)
	}
}

func TestCreateHeaderRejectsUnsupportedMethod(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if _, err := w.CreateHeader("x", 99, 0); err == nil {
		t.Fatal("expected error for unsupported compression method")
	}
}
