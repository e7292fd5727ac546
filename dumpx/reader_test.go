package dumpx

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"testing"
)

func buildRecord(t *testing.T, recType int32, inumber uint32, mode uint16, size int64, dataBlocks int32) []byte {
	t.Helper()
	var block [BlockSize]byte
	binary.LittleEndian.PutUint32(block[0:4], uint32(recType))
	binary.LittleEndian.PutUint32(block[24:28], uint32(MagicNFS))
	binary.LittleEndian.PutUint32(block[20:24], inumber)
	binary.LittleEndian.PutUint32(block[32:36], uint32(mode))
	binary.LittleEndian.PutUint32(block[40:44], uint32(size))
	binary.LittleEndian.PutUint32(block[160:164], uint32(dataBlocks))

	fixChecksum(&block)
	return block[:]
}

// fixChecksum recomputes c_checksum (the word at offset 28) so the
// record's 256 words sum to checksumTarget, matching dump(8)'s
// self-balancing convention.
func fixChecksum(block *[BlockSize]byte) {
	binary.LittleEndian.PutUint32(block[28:32], 0)
	var sum int64
	for i := 0; i < BlockSize; i += 4 {
		sum += int64(int32(binary.LittleEndian.Uint32(block[i : i+4])))
	}
	need := int32(checksumTarget - sum)
	binary.LittleEndian.PutUint32(block[28:32], uint32(need))
}

func buildDataBlock(payload []byte) []byte {
	var block [BlockSize]byte
	copy(block[:], payload)
	return block[:]
}

func TestInodeRoundTrip(t *testing.T) {
	var raw []byte
	raw = append(raw, buildRecord(t, TypeInode, 7, 0o100644, 5, 1)...)
	raw = append(raw, buildDataBlock([]byte("hello"))...)
	raw = append(raw, buildRecord(t, TypeEnd, 0, 0, 0, 0)...)

	r := Open(context.Background(), bytes.NewReader(raw))
	h, err := r.NextEntry()
	if err != nil {
		t.Fatalf("NextEntry: %v", err)
	}
	if h.Inumber != 7 || h.Size != 5 || h.Name() != "inode-7" {
		t.Fatalf("unexpected header: %+v", h)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("entry data = %q", got)
	}

	if _, err := r.NextEntry(); err != io.EOF {
		t.Fatalf("expected io.EOF at TS_END, got %v", err)
	}
}

func TestHousekeepingRecordsSkipped(t *testing.T) {
	var raw []byte
	raw = append(raw, buildRecord(t, TypeTape, 0, 0, 0, 0)...)
	raw = append(raw, buildRecord(t, TypeBits, 0, 0, 0, 0)...)
	raw = append(raw, buildRecord(t, TypeInode, 1, 0o100644, 0, 0)...)
	raw = append(raw, buildRecord(t, TypeEnd, 0, 0, 0, 0)...)

	r := Open(context.Background(), bytes.NewReader(raw))
	h, err := r.NextEntry()
	if err != nil {
		t.Fatalf("NextEntry: %v", err)
	}
	if h.Inumber != 1 {
		t.Fatalf("unexpected header: %+v", h)
	}
}

func TestBadChecksumRejected(t *testing.T) {
	block := buildRecord(t, TypeInode, 1, 0o100644, 0, 0)
	block[0] ^= 0xFF // corrupt c_type after checksum was computed

	r := Open(context.Background(), bytes.NewReader(block))
	if _, err := r.NextEntry(); err == nil {
		t.Fatal("expected checksum error")
	}
}
