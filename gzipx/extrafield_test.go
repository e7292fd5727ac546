package gzipx

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestExtraFieldRoundTrip(t *testing.T) {
	e := &ExtraField{}
	if err := e.Add([2]byte{'A', 'P'}, []byte("payload-one")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := e.Add([2]byte{'B', 'C'}, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, err := DecodeExtraField(e.Encode())
	if err != nil {
		t.Fatalf("DecodeExtraField: %v", err)
	}
	if diff := cmp.Diff(e.Subfields(), got.Subfields(), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestExtraFieldEmpty(t *testing.T) {
	e, err := DecodeExtraField(nil)
	if err != nil {
		t.Fatalf("DecodeExtraField: %v", err)
	}
	if len(e.Subfields()) != 0 {
		t.Errorf("expected empty subfield list, got %v", e.Subfields())
	}
}

func TestExtraFieldTrailingGarbage(t *testing.T) {
	if _, err := DecodeExtraField([]byte{'A', 'P', 0}); err == nil {
		t.Fatal("expected error on trailing garbage, got nil")
	}
}

func TestExtraFieldSubfieldTooLong(t *testing.T) {
	b := []byte{'A', 'P', 0xFF, 0xFF} // declares 65535 bytes of payload, none present
	if _, err := DecodeExtraField(b); err == nil {
		t.Fatal("expected error on oversized subfield length, got nil")
	}
}

func TestExtraFieldAddRejectsOversize(t *testing.T) {
	e := &ExtraField{}
	big := bytes.Repeat([]byte{0}, 1<<16)
	if err := e.Add([2]byte{'Z', 'Z'}, big); err == nil {
		t.Fatal("expected error adding an over-65535-byte payload, got nil")
	}
	if len(e.Subfields()) != 0 {
		t.Fatal("Add mutated the extra field on failure")
	}
}

func TestExtraFieldFindFirst(t *testing.T) {
	e := &ExtraField{}
	_ = e.Add([2]byte{'X', 'Y'}, []byte("first"))
	_ = e.Add([2]byte{'X', 'Y'}, []byte("second"))
	sf, ok := e.FindFirst([2]byte{'X', 'Y'})
	if !ok || string(sf.Payload) != "first" {
		t.Fatalf("FindFirst = %+v, %v; want first occurrence", sf, ok)
	}
	if _, ok := e.FindFirst([2]byte{'N', 'O'}); ok {
		t.Fatal("FindFirst found a subfield that was never added")
	}
}
