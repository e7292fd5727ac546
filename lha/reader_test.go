package lha

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/quay/archivist/checksum"
)

func buildLH0Entry(t *testing.T, name string, data []byte) []byte {
	t.Helper()
	crc := checksum.Checksum16(data)
	body := make([]byte, 0, 32+len(name))
	body = append(body, "-lh0-"...)
	body = appendU32(body, uint32(len(data)))
	body = appendU32(body, uint32(len(data)))
	body = appendU32(body, 0)
	body = append(body, 0x20, 0, byte(len(name)))
	body = append(body, name...)
	body = append(body, byte(crc), byte(crc>>8))
	body = append(body, 0)

	var sum byte
	for _, b := range body {
		sum += b
	}
	hdr := append([]byte{byte(len(body)), sum}, body...)
	return append(hdr, data...)
}

func TestLH0StoredRoundTrip(t *testing.T) {
	data := []byte("hello, lha!")
	raw := buildLH0Entry(t, "greeting.txt", data)
	raw = append(raw, 0) // terminating header

	r := Open(context.Background(), bytes.NewReader(raw))
	h, err := r.NextEntry()
	if err != nil {
		t.Fatalf("NextEntry: %v", err)
	}
	if h.Name != "greeting.txt" || h.Size != int64(len(data)) {
		t.Fatalf("unexpected header: %+v", h)
	}

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("entry data = %q, want %q", got, data)
	}

	if _, err := r.NextEntry(); err != io.EOF {
		t.Fatalf("expected io.EOF after single entry, got %v", err)
	}
}

func TestCanReadEntryDataRejectsUnsupportedMethod(t *testing.T) {
	r := Open(context.Background(), bytes.NewReader(nil))
	h := &Header{Method: "-lh1-"}
	if r.CanReadEntryData(h) {
		t.Fatal("expected -lh1- (dynamic-tree method) to be unsupported")
	}
}
