package tarx

import (
	"bytes"
	"context"
	"testing"
)

func TestRoundTripSimpleEntry(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	h := &Header{Name: "hello.txt", Mode: 0o644, UID: 1000, GID: 1000, Size: 5, ModTime: 1700000000, Typeflag: TypeRegular}
	if err := w.WriteHeader(h); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	if _, err := w.Write([]byte("world")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r := Open(context.Background(), bytes.NewReader(buf.Bytes()))
	got, err := r.NextEntry()
	if err != nil {
		t.Fatalf("NextEntry: %v", err)
	}
	if got.Name != "hello.txt" || got.Size != 5 || got.UID != 1000 || got.GID != 1000 || got.ModTime != 1700000000 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	data := make([]byte, 5)
	if _, err := r.Read(data); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "world" {
		t.Fatalf("entry data = %q, want %q", data, "world")
	}
	if _, err := r.NextEntry(); err == nil {
		t.Fatal("expected EOF after single entry")
	}
}

func TestRoundTripLongNameGNU(t *testing.T) {
	longName := ""
	for i := 0; i < 20; i++ {
		longName += "a-long-path-segment/"
	}
	longName += "file.bin"

	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.LongFile = LongFileGNU
	h := &Header{Name: longName, Size: 0, Typeflag: TypeRegular}
	if err := w.WriteHeader(h); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r := Open(context.Background(), bytes.NewReader(buf.Bytes()))
	got, err := r.NextEntry()
	if err != nil {
		t.Fatalf("NextEntry: %v", err)
	}
	if got.Name != longName {
		t.Fatalf("Name = %q, want %q", got.Name, longName)
	}
}

func TestRoundTripPOSIXLongName(t *testing.T) {
	longName := ""
	for i := 0; i < 20; i++ {
		longName += "another-long-segment/"
	}
	longName += "file.bin"

	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.LongFile = LongFilePOSIX
	h := &Header{Name: longName, Size: 3, Typeflag: TypeRegular}
	if err := w.WriteHeader(h); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	if _, err := w.Write([]byte("xyz")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r := Open(context.Background(), bytes.NewReader(buf.Bytes()))
	got, err := r.NextEntry()
	if err != nil {
		t.Fatalf("NextEntry: %v", err)
	}
	if got.Name != longName {
		t.Fatalf("Name = %q, want %q", got.Name, longName)
	}
}
