package lz4x

import (
	"bytes"
	"testing"
)

func TestDecodeBlockLiteralsOnly(t *testing.T) {
	// token: litLen=5, matchLen field=0, but block ends right after the
	// literal run (final sequence has no match part).
	src := append([]byte{0x50}, []byte("hello")...)
	got, err := decodeBlock(src, nil)
	if err != nil {
		t.Fatalf("decodeBlock: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("decodeBlock = %q, want %q", got, "hello")
	}
}

func TestDecodeBlockMatchWithinBlock(t *testing.T) {
	// Literal "ab", then a match of length 4 at offset 2, which repeats
	// "ab" twice more: "ab" + "abab" = "ababab".
	src := []byte{
		0x20, 'a', 'b', // token: litLen=2, matchLen field=0 -> matchLen=4
		0x02, 0x00, // offset = 2 (LE16)
	}
	got, err := decodeBlock(src, nil)
	if err != nil {
		t.Fatalf("decodeBlock: %v", err)
	}
	if string(got) != "ababab" {
		t.Fatalf("decodeBlock = %q, want %q", got, "ababab")
	}
}

func TestDecodeBlockOverlappingSingleByteRun(t *testing.T) {
	// Literal "x", then a match of length 8 at offset 1: repeats 'x' 8
	// more times via a self-overlapping copy.
	src := []byte{
		0x14, 'x', // token: litLen=1, matchLen field=4 -> matchLen=8
		0x01, 0x00,
	}
	got, err := decodeBlock(src, nil)
	if err != nil {
		t.Fatalf("decodeBlock: %v", err)
	}
	want := bytes.Repeat([]byte{'x'}, 9)
	if !bytes.Equal(got, want) {
		t.Fatalf("decodeBlock = %q, want %q", got, want)
	}
}

func TestDecodeBlockMatchIntoHistoryWindow(t *testing.T) {
	history := []byte("previous-block-tail")
	// No literals, pure match of length 4 reaching back into history.
	src := []byte{
		0x00,                             // token: litLen=0, matchLen field=0 -> matchLen=4
		byte(len(history)), 0x00,         // offset = len(history): start of history
	}
	got, err := decodeBlock(src, history)
	if err != nil {
		t.Fatalf("decodeBlock: %v", err)
	}
	if string(got) != "prev" {
		t.Fatalf("decodeBlock = %q, want %q", got, "prev")
	}
}

func TestDecodeBlockExtendedLiteralLength(t *testing.T) {
	lit := bytes.Repeat([]byte{'z'}, 15+255+10)
	src := append([]byte{0xF0, 0xFF, 10}, lit...)
	got, err := decodeBlock(src, nil)
	if err != nil {
		t.Fatalf("decodeBlock: %v", err)
	}
	if !bytes.Equal(got, lit) {
		t.Fatalf("decodeBlock produced %d bytes, want %d", len(got), len(lit))
	}
}

func TestDecodeBlockRejectsZeroOffset(t *testing.T) {
	src := []byte{0x10, 'a', 0x00, 0x00}
	if _, err := decodeBlock(src, nil); err == nil {
		t.Fatal("expected error for zero match offset, got nil")
	}
}

func TestDecodeBlockRejectsOffsetPastHistory(t *testing.T) {
	src := []byte{0x04, 0x64, 0x00} // offset 100, nothing behind it
	if _, err := decodeBlock(src, nil); err == nil {
		t.Fatal("expected error for offset before start of stream, got nil")
	}
}
