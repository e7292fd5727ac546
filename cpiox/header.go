package cpiox

import (
	"bufio"
	"io"

	"github.com/quay/archivist/archive"
)

// parseHeader reads and resolves one CPIO header, dispatching on the
// magic bytes at the very start of the record (spec-equivalent to lha's
// header-level byte dispatch, just wider and variable-length here).
func parseHeader(br *bufio.Reader) (*Header, error) {
	magic, err := br.Peek(6)
	if err != nil {
		if err == io.EOF && len(magic) == 0 {
			return nil, io.EOF
		}
		return nil, archive.Wrap("cpio", archive.Truncated, "unexpected EOF reading magic", err)
	}

	switch string(magic) {
	case magicODC:
		return parseODC(br)
	case magicNewC:
		return parseNewC(br, VariantNewC)
	case magicCRC:
		return parseNewC(br, VariantCRC)
	}

	switch {
	case magic[0] == 0xC7 && magic[1] == 0x71:
		return parseBinary(br, false)
	case magic[0] == 0x71 && magic[1] == 0xC7:
		return parseBinary(br, true)
	}
	return nil, archive.New("cpio", archive.NotFormat, "unrecognized cpio magic")
}

// parseBinary reads the original binary header: a run of 13 16-bit
// fields in the detected byte order, with c_mtime and c_filesize each
// encoded as two 16-bit halves (high half first) forming a 32-bit value,
// per the classical cpio binary format.
func parseBinary(br *bufio.Reader, bigEndian bool) (*Header, error) {
	var raw [26]byte
	if _, err := io.ReadFull(br, raw[:]); err != nil {
		return nil, archive.Wrap("cpio", archive.Truncated, "unexpected EOF reading binary header", err)
	}
	readShort := func(b []byte) uint32 {
		if bigEndian {
			return uint32(b[0])<<8 | uint32(b[1])
		}
		return uint32(b[1])<<8 | uint32(b[0])
	}
	readLong := func(hi, lo []byte) int64 {
		return int64(readShort(hi))<<16 | int64(readShort(lo))
	}

	h := &Header{Variant: VariantBinary}
	// raw[0:2] is the magic (already identified by the caller), raw[2:4]
	// is c_dev (a single short; binary cpio has no major/minor split) and
	// raw[4:6] is c_ino -- neither is exposed on Header.
	h.Mode = readShort(raw[6:8])
	h.UID = readShort(raw[8:10])
	h.GID = readShort(raw[10:12])
	h.NLink = readShort(raw[12:14])
	rdev := readShort(raw[14:16])
	h.RDevMajor, h.RDevMinor = rdev>>8, rdev&0xFF
	h.MTime = readLong(raw[16:18], raw[18:20])
	namesize := readShort(raw[20:22])
	h.Size = readLong(raw[22:24], raw[24:26])

	nameBuf := make([]byte, namesize)
	if _, err := io.ReadFull(br, nameBuf); err != nil {
		return nil, archive.Wrap("cpio", archive.Truncated, "unexpected EOF reading entry name", err)
	}
	h.Name = trimTrailingNUL(nameBuf)
	if namesize%2 == 1 {
		if _, err := br.Discard(1); err != nil {
			return nil, archive.Wrap("cpio", archive.Truncated, "unexpected EOF on name padding", err)
		}
	}
	return h, nil
}

// parseODC reads the ASCII "odc" (POSIX.1) header: fixed-width decimal
// octal fields, no alignment padding anywhere.
func parseODC(br *bufio.Reader) (*Header, error) {
	const fixedLen = 76
	var raw [fixedLen]byte
	if _, err := io.ReadFull(br, raw[:]); err != nil {
		return nil, archive.Wrap("cpio", archive.Truncated, "unexpected EOF reading odc header", err)
	}
	field := func(off, n int, name string) (int64, error) { return parseOctalASCII(raw[off:off+n], name) }

	h := &Header{Variant: VariantODC}
	var err error
	if _, err = field(6, 6, "dev"); err != nil {
		return nil, err
	}
	if _, err = field(12, 6, "ino"); err != nil {
		return nil, err
	}
	mode, err := field(18, 6, "mode")
	if err != nil {
		return nil, err
	}
	h.Mode = uint32(mode)
	uid, err := field(24, 6, "uid")
	if err != nil {
		return nil, err
	}
	h.UID = uint32(uid)
	gid, err := field(30, 6, "gid")
	if err != nil {
		return nil, err
	}
	h.GID = uint32(gid)
	nlink, err := field(36, 6, "nlink")
	if err != nil {
		return nil, err
	}
	h.NLink = uint32(nlink)
	if _, err = field(42, 6, "rdev"); err != nil {
		return nil, err
	}
	h.MTime, err = field(48, 11, "mtime")
	if err != nil {
		return nil, err
	}
	namesize, err := field(59, 6, "namesize")
	if err != nil {
		return nil, err
	}
	h.Size, err = field(65, 11, "filesize")
	if err != nil {
		return nil, err
	}

	nameBuf := make([]byte, namesize)
	if _, err := io.ReadFull(br, nameBuf); err != nil {
		return nil, archive.Wrap("cpio", archive.Truncated, "unexpected EOF reading entry name", err)
	}
	h.Name = trimTrailingNUL(nameBuf)
	return h, nil
}

// parseNewC reads the ASCII "newc"/"crc" (SVR4) header: fixed-width
// 8-digit hex fields, with both the name and the file data padded to a
// 4-byte boundary (measured from the start of the header).
func parseNewC(br *bufio.Reader, variant Variant) (*Header, error) {
	const fixedLen = 110
	var raw [fixedLen]byte
	if _, err := io.ReadFull(br, raw[:]); err != nil {
		return nil, archive.Wrap("cpio", archive.Truncated, "unexpected EOF reading newc header", err)
	}
	field := func(off int, name string) (int64, error) { return parseHexASCII(raw[off:off+8], name) }

	h := &Header{Variant: variant}
	var err error
	if _, err = field(6, "ino"); err != nil {
		return nil, err
	}
	mode, err := field(14, "mode")
	if err != nil {
		return nil, err
	}
	h.Mode = uint32(mode)
	uid, err := field(22, "uid")
	if err != nil {
		return nil, err
	}
	h.UID = uint32(uid)
	gid, err := field(30, "gid")
	if err != nil {
		return nil, err
	}
	h.GID = uint32(gid)
	nlink, err := field(38, "nlink")
	if err != nil {
		return nil, err
	}
	h.NLink = uint32(nlink)
	h.MTime, err = field(46, "mtime")
	if err != nil {
		return nil, err
	}
	h.Size, err = field(54, "filesize")
	if err != nil {
		return nil, err
	}
	devmajor, err := field(62, "devmajor")
	if err != nil {
		return nil, err
	}
	h.DevMajor = uint32(devmajor)
	devminor, err := field(70, "devminor")
	if err != nil {
		return nil, err
	}
	h.DevMinor = uint32(devminor)
	rdevmajor, err := field(78, "rdevmajor")
	if err != nil {
		return nil, err
	}
	h.RDevMajor = uint32(rdevmajor)
	rdevminor, err := field(86, "rdevminor")
	if err != nil {
		return nil, err
	}
	h.RDevMinor = uint32(rdevminor)
	namesize, err := field(94, "namesize")
	if err != nil {
		return nil, err
	}
	check, err := field(102, "check")
	if err != nil {
		return nil, err
	}
	h.Checksum = uint32(check)

	nameBuf := make([]byte, namesize)
	if _, err := io.ReadFull(br, nameBuf); err != nil {
		return nil, archive.Wrap("cpio", archive.Truncated, "unexpected EOF reading entry name", err)
	}
	h.Name = trimTrailingNUL(nameBuf)

	if pad := newcPadding(fixedLen + int(namesize)); pad > 0 {
		if _, err := br.Discard(pad); err != nil {
			return nil, archive.Wrap("cpio", archive.Truncated, "unexpected EOF on name padding", err)
		}
	}
	return h, nil
}

// newcPadding returns the number of NUL bytes needed to bring n up to
// the next 4-byte boundary.
func newcPadding(n int) int {
	if rem := n % 4; rem != 0 {
		return 4 - rem
	}
	return 0
}
