package lz4x

import (
	"bytes"
	"context"
	"testing"
)

func TestOpenBadMagicRejected(t *testing.T) {
	data := []byte{0x00, 0x00, 0x00, 0x00}
	if _, err := Open(context.Background(), bytes.NewReader(data)); err == nil {
		t.Fatal("expected error for bad frame magic, got nil")
	}
}

func TestOpenUnsupportedVersionRejected(t *testing.T) {
	data := []byte{
		0x04, 0x22, 0x4D, 0x18, // frame magic
		0x00, // FLG: version bits zero, not the required 01
	}
	if _, err := Open(context.Background(), bytes.NewReader(data)); err == nil {
		t.Fatal("expected error for bad FLG version bits, got nil")
	}
}

func TestOpenDictIDUnsupported(t *testing.T) {
	data := []byte{
		0x04, 0x22, 0x4D, 0x18,
		0x41, // FLG: version=01, DictID bit set
	}
	if _, err := Open(context.Background(), bytes.NewReader(data)); err == nil {
		t.Fatal("expected error for dictionary-ID frame, got nil")
	}
}

func TestOpenSkipsSkippableFrame(t *testing.T) {
	data := []byte{
		0x50, 0x2A, 0x4D, 0x18, // skippable frame magic 0x184D2A50
		0x04, 0x00, 0x00, 0x00, // length 4
		0xDE, 0xAD, 0xBE, 0xEF, // skipped payload
		0x00, 0x00, 0x00, 0x00, // now a bad "real" magic to prove we got past the skip
	}
	if _, err := Open(context.Background(), bytes.NewReader(data)); err == nil {
		t.Fatal("expected error after the skippable frame (bad trailing magic), got nil")
	}
}
