package gzipx

import (
	"bytes"
	"context"
	"io"
	"testing"

	kgzip "github.com/klauspost/compress/gzip"
)

// TestEmptyMemberLiteral is spec §8 scenario 1: a minimal empty GZIP
// member, given as a literal byte sequence.
func TestEmptyMemberLiteral(t *testing.T) {
	data := []byte{
		0x1F, 0x8B, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
	r, err := Open(context.Background(), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty output, got %d bytes", len(out))
	}
	if r.BytesRead() != 0 {
		t.Fatalf("BytesRead() = %d, want 0", r.BytesRead())
	}
}

// TestConcatenatedMembers is spec §8 scenario 6.
func TestConcatenatedMembers(t *testing.T) {
	member := []byte{
		0x1F, 0x8B, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
	data := append(append([]byte{}, member...), member...)

	var ends int
	r, err := Open(context.Background(), bytes.NewReader(data),
		WithDecompressConcatenated(true),
		WithOnMemberEnd(func(m *Member) { ends++ }),
	)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty output, got %d bytes", len(out))
	}
	if ends != 2 {
		t.Fatalf("OnMemberEnd called %d times, want 2", ends)
	}
}

func TestRoundTripViaKlauspostWriter(t *testing.T) {
	payload := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog\n"), 200)

	var buf bytes.Buffer
	w, err := kgzip.NewWriterLevel(&buf, kgzip.BestCompression)
	if err != nil {
		t.Fatalf("NewWriterLevel: %v", err)
	}
	w.Name = "fox.txt"
	w.Comment = "a comment"
	if _, err := w.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var started *Member
	r, err := Open(context.Background(), &buf, WithOnMemberStart(func(m *Member) { started = m }))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(out), len(payload))
	}
	if r.BytesRead() != uint64(len(payload)) {
		t.Fatalf("BytesRead() = %d, want %d", r.BytesRead(), len(payload))
	}
	if started == nil || started.Name != "fox.txt" || started.Comment != "a comment" {
		t.Fatalf("OnMemberStart metadata = %+v", started)
	}
}

func TestReservedFlagsRejected(t *testing.T) {
	data := []byte{
		0x1F, 0x8B, 0x08, 0x20 /* reserved bit set */, 0, 0, 0, 0, 0, 0,
	}
	if _, err := Open(context.Background(), bytes.NewReader(data)); err == nil {
		t.Fatal("expected error for reserved flag bits, got nil")
	}
}

func TestBadMagicRejected(t *testing.T) {
	if _, err := Open(context.Background(), bytes.NewReader([]byte{0, 0})); err == nil {
		t.Fatal("expected error for bad magic, got nil")
	}
}

func TestUnsupportedMethodRejected(t *testing.T) {
	data := []byte{0x1F, 0x8B, 0x09 /* not DEFLATE */, 0, 0, 0, 0, 0, 0, 0}
	if _, err := Open(context.Background(), bytes.NewReader(data)); err == nil {
		t.Fatal("expected error for unsupported CM, got nil")
	}
}

func TestCrcMismatchDetected(t *testing.T) {
	var buf bytes.Buffer
	w := kgzip.NewWriter(&buf)
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	corrupt := buf.Bytes()
	corrupt[len(corrupt)-8] ^= 0xFF // flip a trailer CRC byte

	r, err := Open(context.Background(), bytes.NewReader(corrupt))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := io.ReadAll(r); err == nil {
		t.Fatal("expected CRC mismatch error, got nil")
	}
}
