// Package dumpx implements a read-only, best-effort reader for the
// 4.4BSD "dump" tape-image format: the format produced by dump(8) and
// consumed by restore(8). It is deliberately small (matching
// org.apache.commons.compress.archivers.dump, which upstream itself
// documents as read-only and best-effort), since path reconstruction
// across a dump image requires replaying the full directory-inode tree
// restore(8) builds, which this package does not attempt -- see DESIGN.md
// for the exact scope line.
package dumpx

const (
	// BlockSize is TP_BSIZE, the fixed record size every dump tape
	// record (header or data block) occupies.
	BlockSize = 1024

	// checksumTarget is the constant every valid record's 256 32-bit
	// words (including the stored checksum word itself) must sum to,
	// per dump(8)'s self-balancing checksum convention. Words are read
	// little-endian, matching the Linux dump/restore implementations
	// this package targets.
	checksumTarget = 84446
)

// Magic numbers identifying old-format (OFS) vs new-format (NFS) dump
// images, found at a fixed offset in every record's common prefix.
const (
	MagicOFS = 60011
	MagicNFS = 60012
)

// Record type tags (c_type).
const (
	TypeTape  = 1 // volume header
	TypeInode = 2 // one file's metadata plus following data blocks
	TypeBits  = 3 // free-block bitmap
	TypeAddr  = 4 // sparse-file block address map (new format)
	TypeEnd   = 5 // end of the volume
	TypeClri  = 6 // cleared-inode list
)

func typeName(t int32) string {
	switch t {
	case TypeTape:
		return "tape"
	case TypeInode:
		return "inode"
	case TypeBits:
		return "bits"
	case TypeAddr:
		return "addr"
	case TypeEnd:
		return "end"
	case TypeClri:
		return "clri"
	default:
		return "unknown"
	}
}
