// Package cpiox implements a read-only CPIO archive reader covering the
// three header variants in common use: the original binary format, the
// ASCII "odc" (POSIX.1) format, and the ASCII "newc"/"crc" (SVR4) formats,
// dispatched on the small fixed magic each puts at the start of every
// header, the same small-fixed-magic dispatch shape this module's lha
// package uses for its header levels.
package cpiox

import (
	"fmt"

	"github.com/quay/archivist/archive"
)

// Trailer is the conventional entry name marking the end of a CPIO
// archive; a reader must stop once it sees an entry with this name.
const Trailer = "TRAILER!!!"

// Variant identifies which of the three header layouts an entry's magic
// selected.
type Variant int

const (
	VariantBinary Variant = iota
	VariantODC
	VariantNewC
	VariantCRC
)

func (v Variant) String() string {
	switch v {
	case VariantBinary:
		return "binary"
	case VariantODC:
		return "odc"
	case VariantNewC:
		return "newc"
	case VariantCRC:
		return "crc"
	default:
		return "unknown"
	}
}

const (
	magicBinaryLE = 0o070707 // byte order resolved by which 2-byte sequence matched
	magicODC      = "070707"
	magicNewC     = "070701"
	magicCRC      = "070702"
)

// Header is one resolved CPIO entry.
type Header struct {
	Variant  Variant
	Name     string
	Mode     uint32
	UID, GID uint32
	NLink    uint32
	MTime    int64
	Size     int64
	DevMajor uint32
	DevMinor uint32
	RDevMajor uint32
	RDevMinor uint32
	Checksum uint32 // only meaningful for VariantCRC
	Linkname string // populated for symlinks: entry data is the link target
}

const (
	typeMask    = 0o170000
	typeDir     = 0o040000
	typeSymlink = 0o120000
)

func (h *Header) IsDir() bool     { return h.Mode&typeMask == typeDir }
func (h *Header) IsSymlink() bool { return h.Mode&typeMask == typeSymlink }

func parseOctalASCII(b []byte, field string) (int64, error) {
	var v int64
	for _, c := range b {
		if c < '0' || c > '7' {
			return 0, archive.New("cpio", archive.CorruptedInput, fmt.Sprintf("invalid octal digit in %s field", field))
		}
		v = v<<3 | int64(c-'0')
	}
	return v, nil
}

func parseHexASCII(b []byte, field string) (int64, error) {
	var v int64
	for _, c := range b {
		var d int64
		switch {
		case c >= '0' && c <= '9':
			d = int64(c - '0')
		case c >= 'a' && c <= 'f':
			d = int64(c-'a') + 10
		case c >= 'A' && c <= 'F':
			d = int64(c-'A') + 10
		default:
			return 0, archive.New("cpio", archive.CorruptedInput, fmt.Sprintf("invalid hex digit in %s field", field))
		}
		v = v<<4 | d
	}
	return v, nil
}

func trimTrailingNUL(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
