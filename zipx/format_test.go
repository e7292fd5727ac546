package zipx

import "testing"

func TestDosTimeRoundTrip(t *testing.T) {
	in := civilToUnix(2023, 6, 15, 14, 30, 47)
	date, time := unixToDos(in)
	got := dosToUnix(date, time)
	// DOS time has 2-second resolution, so the odd second above rounds
	// down to the nearest even second on the way back out.
	want := civilToUnix(2023, 6, 15, 14, 30, 46)
	if got != want {
		t.Fatalf("dosToUnix(unixToDos(%d)) = %d, want %d", in, got, want)
	}
}

func TestDosEpochFloor(t *testing.T) {
	date, time := unixToDos(0) // predates the 1980 DOS epoch
	got := dosToUnix(date, time)
	want := civilToUnix(1980, 1, 1, 0, 0, 0)
	if got != want {
		t.Fatalf("unixToDos(0) floored to %d, want %d", got, want)
	}
}

func TestParseZip64Extra(t *testing.T) {
	body := make([]byte, 24)
	putU64(body[0:8], 0x1_0000_0001)  // uncompressed size
	putU64(body[8:16], 0x1_0000_0002) // compressed size
	putU64(body[16:24], 0x2_0000_0003) // local header offset

	extra := make([]byte, 4+len(body))
	putU16(extra[0:2], extraZip64)
	putU16(extra[2:4], uint16(len(body)))
	copy(extra[4:], body)

	size, comp, off, err := parseZip64Extra(extra, true, true, true)
	if err != nil {
		t.Fatalf("parseZip64Extra: %v", err)
	}
	if size != 0x1_0000_0001 || comp != 0x1_0000_0002 || off != 0x2_0000_0003 {
		t.Fatalf("parseZip64Extra = (%d, %d, %d)", size, comp, off)
	}
}

func TestParseZip64ExtraSkipsUnrelatedRecords(t *testing.T) {
	other := []byte{0xAD, 0x4D, 4, 0, 1, 2, 3, 4} // some unrelated 4-byte extra record
	body := make([]byte, 8)
	putU64(body[0:8], 42)
	zip64 := make([]byte, 4+len(body))
	putU16(zip64[0:2], extraZip64)
	putU16(zip64[2:4], uint16(len(body)))
	copy(zip64[4:], body)

	extra := append(append([]byte{}, other...), zip64...)
	size, _, _, err := parseZip64Extra(extra, true, false, false)
	if err != nil {
		t.Fatalf("parseZip64Extra: %v", err)
	}
	if size != 42 {
		t.Fatalf("size = %d, want 42", size)
	}
}
