package tarx

import "testing"

func TestParseOctal(t *testing.T) {
	v, err := parseOctal([]byte("0000644\x00"))
	if err != nil {
		t.Fatalf("parseOctal: %v", err)
	}
	if v != 0o644 {
		t.Fatalf("parseOctal = %o, want 644", v)
	}
}

func TestParseOctalRejectsBadDigit(t *testing.T) {
	if _, err := parseOctal([]byte("0000948\x00")); err == nil {
		t.Fatal("expected error for non-octal digit")
	}
}

func TestParseBase256Positive(t *testing.T) {
	b := make([]byte, 12)
	b[0] = 0x80
	b[11] = 42
	v, err := parseBase256(b)
	if err != nil {
		t.Fatalf("parseBase256: %v", err)
	}
	if v != 42 {
		t.Fatalf("parseBase256 = %d, want 42", v)
	}
}

func TestParseBase256RoundTrip(t *testing.T) {
	b := make([]byte, 12)
	want := int64(8 * 1024 * 1024 * 1024)
	putBase256(b, want)
	got, err := parseBase256(b)
	if err != nil {
		t.Fatalf("parseBase256: %v", err)
	}
	if got != want {
		t.Fatalf("parseBase256(putBase256(%d)) = %d", want, got)
	}
}

func TestIsDirByTypeflag(t *testing.T) {
	h := &Header{Name: "foo", Typeflag: TypeDir}
	if !h.IsDir() {
		t.Fatal("expected IsDir true for TypeDir")
	}
}

func TestIsDirByTrailingSlash(t *testing.T) {
	h := &Header{Name: "foo/", Typeflag: TypeRegular}
	if !h.IsDir() {
		t.Fatal("expected IsDir true for trailing slash")
	}
}

func TestChecksumIgnoresItsOwnField(t *testing.T) {
	var a, b [blockSize]byte
	copy(a[0:4], "abcd")
	copy(b[0:4], "abcd")
	copy(a[148:156], "1234567\x00")
	copy(b[148:156], "7654321\x00")
	if checksum(a) != checksum(b) {
		t.Fatal("checksum must not depend on the checksum field's own contents")
	}
}
