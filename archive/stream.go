package archive

import "io"

// ByteSource is the uniform pull interface every decompressor in this
// module exposes (spec §4.9, "Facade streams"). It layers the two byte
// counters the source hierarchy needs on top of io.Reader/io.Closer:
// BytesRead (post-decompression, delivered to the caller) and
// CompressedBytesRead (pre-decompression, consumed from the underlying
// source).
type ByteSource interface {
	io.Reader
	io.Closer

	// BytesRead returns the count of decompressed bytes delivered so far.
	BytesRead() uint64
	// CompressedBytesRead returns the count of bytes consumed from the
	// underlying source so far.
	CompressedBytesRead() uint64
}

// EntrySource is the uniform pull interface an archive reader exposes on
// top of ByteSource: advancing through a sequence of entries, each with
// its own payload sub-stream readable through the embedded ByteSource.
type EntrySource interface {
	ByteSource

	// NextEntry advances past any residual payload of the previous entry
	// and returns the next entry, or (nil, io.EOF) when the archive is
	// exhausted.
	NextEntry() (Entry, error)

	// CanReadEntryData reports whether the current entry's compression
	// method/encryption is supported for payload reads.
	CanReadEntryData(e Entry) bool
}

// Entry is the minimal capability an archive entry exposes to generic
// callers. The concrete Header types returned by this module's archive
// readers do not implement it (most carry Name/Size as fields, and
// lha.Header carries IsDir as a field), so the CLI adapts each of them
// with a per-format type switch instead.
type Entry interface {
	// Name is the entry's path within the archive.
	Name() string
	// IsDir reports whether the entry is a directory.
	IsDir() bool
	// Size is the entry's uncompressed size in bytes.
	Size() int64
}
