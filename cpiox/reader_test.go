package cpiox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"
)

func buildNewCEntry(name string, mode uint32, data []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(magicNewC)
	fmt.Fprintf(&buf, "%08x", 0)                 // ino
	fmt.Fprintf(&buf, "%08x", mode)               // mode
	fmt.Fprintf(&buf, "%08x", 0)                 // uid
	fmt.Fprintf(&buf, "%08x", 0)                 // gid
	fmt.Fprintf(&buf, "%08x", 1)                 // nlink
	fmt.Fprintf(&buf, "%08x", 0)                 // mtime
	fmt.Fprintf(&buf, "%08x", len(data))          // filesize
	fmt.Fprintf(&buf, "%08x", 0)                 // devmajor
	fmt.Fprintf(&buf, "%08x", 0)                 // devminor
	fmt.Fprintf(&buf, "%08x", 0)                 // rdevmajor
	fmt.Fprintf(&buf, "%08x", 0)                 // rdevminor
	fmt.Fprintf(&buf, "%08x", len(name)+1)        // namesize, including NUL
	fmt.Fprintf(&buf, "%08x", 0)                 // check

	headerLen := buf.Len()
	buf.WriteString(name)
	buf.WriteByte(0)
	if pad := newcPadding(headerLen + len(name) + 1); pad > 0 {
		buf.Write(make([]byte, pad))
	}
	buf.Write(data)
	if pad := newcPadding(len(data)); pad > 0 {
		buf.Write(make([]byte, pad))
	}
	return buf.Bytes()
}

func buildNewCTrailer() []byte {
	return buildNewCEntry(Trailer, 0, nil)
}

func TestNewCRoundTrip(t *testing.T) {
	var raw []byte
	raw = append(raw, buildNewCEntry("hello.txt", 0o100644, []byte("hi there"))...)
	raw = append(raw, buildNewCTrailer()...)

	r := Open(context.Background(), bytes.NewReader(raw))
	h, err := r.NextEntry()
	if err != nil {
		t.Fatalf("NextEntry: %v", err)
	}
	if h.Name != "hello.txt" || h.Size != 8 || h.Variant != VariantNewC {
		t.Fatalf("unexpected header: %+v", h)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "hi there" {
		t.Fatalf("entry data = %q", got)
	}

	if _, err := r.NextEntry(); err != io.EOF {
		t.Fatalf("expected io.EOF at trailer, got %v", err)
	}
}

func TestODCRoundTrip(t *testing.T) {
	name := "odc.txt"
	data := []byte("odc payload")
	var buf bytes.Buffer
	buf.WriteString(magicODC)
	fmt.Fprintf(&buf, "%06o", 0)              // dev
	fmt.Fprintf(&buf, "%06o", 0)              // ino
	fmt.Fprintf(&buf, "%06o", 0o100644)       // mode
	fmt.Fprintf(&buf, "%06o", 0)              // uid
	fmt.Fprintf(&buf, "%06o", 0)              // gid
	fmt.Fprintf(&buf, "%06o", 1)              // nlink
	fmt.Fprintf(&buf, "%06o", 0)              // rdev
	fmt.Fprintf(&buf, "%011o", 0)             // mtime
	fmt.Fprintf(&buf, "%06o", len(name)+1)    // namesize
	fmt.Fprintf(&buf, "%011o", len(data))     // filesize
	buf.WriteString(name)
	buf.WriteByte(0)
	buf.Write(data)

	r := Open(context.Background(), bytes.NewReader(buf.Bytes()))
	h, err := r.NextEntry()
	if err != nil {
		t.Fatalf("NextEntry: %v", err)
	}
	if h.Name != name || h.Size != int64(len(data)) || h.Variant != VariantODC {
		t.Fatalf("unexpected header: %+v", h)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("entry data = %q, want %q", got, data)
	}
}

func TestBinaryLittleEndianRoundTrip(t *testing.T) {
	name := "bin.txt"
	data := []byte("binary data!")

	putShortLE := func(buf *bytes.Buffer, v uint16) {
		buf.WriteByte(byte(v))
		buf.WriteByte(byte(v >> 8))
	}
	putLongLE := func(buf *bytes.Buffer, v uint32) {
		putShortLE(buf, uint16(v>>16))
		putShortLE(buf, uint16(v))
	}

	var buf bytes.Buffer
	putShortLE(&buf, 0o070707) // magic
	putShortLE(&buf, 0)        // dev
	putShortLE(&buf, 0)        // ino
	putShortLE(&buf, 0o100644) // mode
	putShortLE(&buf, 0)        // uid
	putShortLE(&buf, 0)        // gid
	putShortLE(&buf, 1)        // nlink
	putShortLE(&buf, 0)        // rdev
	putLongLE(&buf, 0)         // mtime
	putShortLE(&buf, uint16(len(name)+1))
	putLongLE(&buf, uint32(len(data)))
	buf.WriteString(name)
	buf.WriteByte(0)
	if (len(name)+1)%2 == 1 {
		buf.WriteByte(0)
	}
	buf.Write(data)

	r := Open(context.Background(), bytes.NewReader(buf.Bytes()))
	h, err := r.NextEntry()
	if err != nil {
		t.Fatalf("NextEntry: %v", err)
	}
	if h.Name != name || h.Size != int64(len(data)) || h.Variant != VariantBinary {
		t.Fatalf("unexpected header: %+v", h)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("entry data = %q, want %q", got, data)
	}
}

func TestParseHeaderRejectsUnknownMagic(t *testing.T) {
	r := Open(context.Background(), bytes.NewReader([]byte("xxxxxx")))
	if _, err := r.NextEntry(); err == nil {
		t.Fatal("expected error for unrecognized magic")
	}
}
