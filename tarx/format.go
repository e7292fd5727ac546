// Package tarx implements a TAR archive reader and writer (spec §4.7):
// USTAR/POSIX/PAX/GNU header parsing, GNU long-name/long-link and old
// sparse extensions, PAX extended records (including GNU.sparse.* and
// SCHILY.* passthrough), and a symmetric writer with selectable
// long-file and big-number encoding modes.
package tarx

import (
	"fmt"

	"github.com/quay/archivist/archive"
)

const blockSize = 512

// Typeflag values (spec §3.5), covering plain USTAR/POSIX types plus the
// GNU/PAX extension types this package interprets.
const (
	TypeRegular      = '0'
	TypeRegularAlt   = '\x00'
	TypeLink         = '1'
	TypeSymlink      = '2'
	TypeChar         = '3'
	TypeBlock        = '4'
	TypeDir          = '5'
	TypeFifo         = '6'
	TypeContig       = '7'
	TypeXHeader      = 'x' // PAX extended header for the next entry
	TypeXGlobalHeader = 'g' // PAX global extended header
	TypeGNULongName  = 'L'
	TypeGNULongLink  = 'K'
	TypeGNUSparse    = 'S'
)

// magic/version fields.
const (
	magicUSTAR   = "ustar\x00"
	versionUSTAR = "00"
	magicGNU     = "ustar "
	versionGNU   = " \x00"
)

// SparseEntry is one (offset, length) segment of data present in a sparse
// file; gaps between segments (and after the last one, up to RealSize)
// are zero-filled on read.
type SparseEntry struct {
	Offset int64
	Length int64
}

// Header is one TAR entry's fully resolved metadata, after GNU
// long-name/long-link and PAX record overlays have been applied.
type Header struct {
	Name       string
	Mode       int64
	UID, GID   int64
	Size       int64
	ModTime    int64 // seconds since epoch
	AccessTime int64
	ChangeTime int64
	Typeflag   byte
	Linkname   string
	Uname      string
	Gname      string
	Devmajor   int64
	Devminor   int64

	RealSize int64 // for sparse entries: the reconstructed logical size
	Sparse   []SparseEntry

	// ExtraPaxHeaders carries any PAX record key this package doesn't
	// interpret specially, verbatim (spec §4.7 "others are preserved
	// verbatim").
	ExtraPaxHeaders map[string]string
}

// IsDir reports whether the entry is a directory, either by typeflag or
// by the conventional trailing-slash name (some archives only signal it
// that way).
func (h *Header) IsDir() bool {
	return h.Typeflag == TypeDir || (len(h.Name) > 0 && h.Name[len(h.Name)-1] == '/')
}

// parseNumeric decodes a TAR numeric field: octal ASCII terminated by NUL
// or space, or base-256 (GNU/STAR extension) when the field's first byte
// has its high bit set (spec §4.7 step 4).
func parseNumeric(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, nil
	}
	if b[0]&0x80 != 0 {
		return parseBase256(b)
	}
	return parseOctal(b)
}

func parseOctal(b []byte) (int64, error) {
	// Trim trailing NULs/spaces and leading spaces/NULs.
	start, end := 0, len(b)
	for start < end && (b[start] == ' ' || b[start] == 0x00) {
		start++
	}
	for end > start && (b[end-1] == ' ' || b[end-1] == 0x00) {
		end--
	}
	if start == end {
		return 0, nil
	}
	var v int64
	for _, c := range b[start:end] {
		if c < '0' || c > '7' {
			return 0, archive.New("tar", archive.CorruptedInput, fmt.Sprintf("invalid octal digit %q", c))
		}
		v = v<<3 | int64(c-'0')
	}
	return v, nil
}

// parseBase256 decodes a GNU/STAR base-256 signed big-endian numeric
// field: the first byte's high bit is the marker and is masked off before
// accumulation; a set second-highest bit means the value is negative, in
// which case the accumulator starts at -1 so the shift-and-or below
// reproduces two's-complement sign extension.
func parseBase256(b []byte) (int64, error) {
	var v int64
	if len(b) > 0 && b[0]&0x40 != 0 {
		v = -1
	}
	for i, c := range b {
		if i == 0 {
			c &= 0x7F
		}
		v = v<<8 | int64(c)
	}
	return v, nil
}

// checksum computes the unsigned-byte sum of a 512-byte header block with
// its checksum field (bytes 148..155) replaced by ASCII spaces, as spec
// §4.7 step 2 requires.
func checksum(block [blockSize]byte) int64 {
	var sum int64
	for i, b := range block {
		if i >= 148 && i < 156 {
			b = ' '
		}
		sum += int64(b)
	}
	return sum
}

func isZeroBlock(block [blockSize]byte) bool {
	for _, b := range block {
		if b != 0 {
			return false
		}
	}
	return true
}

func trimNUL(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
