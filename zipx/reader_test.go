package zipx

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/klauspost/compress/flate"

	"github.com/quay/archivist/checksum"
)

func crc32Of(b []byte) uint32 {
	c := checksum.NewCRC32()
	c.Update(b)
	return c.Value()
}

// buildStreamedDeflateEntry hand-assembles a single local-file-header
// entry using the data-descriptor convention (general-purpose bit 3),
// the way a genuinely streaming encoder (no seek-back) would produce one,
// independent of this package's own Writer.
func buildStreamedDeflateEntry(t *testing.T, name string, payload []byte) []byte {
	t.Helper()
	var compressed bytes.Buffer
	fw, err := flate.NewWriter(&compressed, flate.DefaultCompression)
	if err != nil {
		t.Fatalf("flate.NewWriter: %v", err)
	}
	if _, err := fw.Write(payload); err != nil {
		t.Fatalf("flate write: %v", err)
	}
	if err := fw.Close(); err != nil {
		t.Fatalf("flate close: %v", err)
	}

	var out bytes.Buffer
	var fixed [30]byte
	putU32(fixed[0:4], sigLocalHeader)
	putU16(fixed[4:6], 20)
	putU16(fixed[6:8], flagDataDescriptor)
	putU16(fixed[8:10], MethodDeflate)
	putU16(fixed[26:28], uint16(len(name)))
	out.Write(fixed[:])
	out.WriteString(name)
	out.Write(compressed.Bytes())

	crc := crc32Of(payload)
	var desc [16]byte
	putU32(desc[0:4], sigDataDesc)
	putU32(desc[4:8], crc)
	putU32(desc[8:12], uint32(compressed.Len()))
	putU32(desc[12:16], uint32(len(payload)))
	out.Write(desc[:])
	return out.Bytes()
}

func TestReadStreamedDeflateEntry(t *testing.T) {
	payload := bytes.Repeat([]byte("streamed zip entry data "), 40)
	raw := buildStreamedDeflateEntry(t, "streamed.bin", payload)

	var trailer [4]byte
	putU32(trailer[:], sigCentralDir) // signal "no more local entries"
	raw = append(raw, trailer[:]...)

	r := Open(context.Background(), bytes.NewReader(raw))
	h, err := r.NextEntry()
	if err != nil {
		t.Fatalf("NextEntry: %v", err)
	}
	if h.Name != "streamed.bin" || !h.HasDataDescriptor {
		t.Fatalf("unexpected header: %+v", h)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("entry data mismatch: got %d bytes, want %d", len(got), len(payload))
	}

	if _, err := r.NextEntry(); err != io.EOF {
		t.Fatalf("expected io.EOF at central directory signature, got %v", err)
	}
}

func TestNextEntryRejectsStreamedStore(t *testing.T) {
	var fixed [30]byte
	putU32(fixed[0:4], sigLocalHeader)
	putU16(fixed[6:8], flagDataDescriptor)
	putU16(fixed[8:10], MethodStore)
	raw := append([]byte{}, fixed[:]...)

	r := Open(context.Background(), bytes.NewReader(raw))
	if _, err := r.NextEntry(); err == nil {
		t.Fatal("expected error for streamed store entry")
	}
}
