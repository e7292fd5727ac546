package zipx

import (
	"io"
	"math"

	"github.com/klauspost/compress/flate"

	"github.com/quay/archivist/archive"
	"github.com/quay/archivist/checksum"
)

// Writer produces a ZIP archive using the streaming data-descriptor
// convention (APPNOTE 4.3.9): each entry's compressed/uncompressed sizes
// and CRC-32 are written in a trailer after its data rather than in the
// local header, so entries can be written from a non-seekable source in
// one pass, the same streaming-first posture as tarx's Writer.
//
// Individual streamed entries are limited to 4GiB (store is rejected
// outright, since an unknown-size stored entry cannot be framed without
// seeking back); the archive as a whole supports Zip64 in its central
// directory and end-of-central-directory record once entry count or
// total size crosses the legacy 32-bit/16-bit limits.
type Writer struct {
	w   countingWriter
	dir []centralRecord
	cur *openEntry
	err error
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

type centralRecord struct {
	name     string
	method   uint16
	crc32    uint32
	compSize int64
	size     int64
	modTime  int64
	offset   int64
	isDir    bool
}

type openEntry struct {
	name    string
	method  uint16
	offset  int64
	modTime int64
	crc     *checksum.CRC32
	size    int64 // uncompressed bytes written so far
	dest    io.Writer
	flate   *flate.Writer
}

// NewWriter returns a Writer that emits a ZIP archive to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: countingWriter{w: w}}
}

// CreateHeader begins a new entry named name, compressed with method
// (MethodStore or MethodDeflate), and returns a writer for its payload.
// modTime is seconds since the Unix epoch. Any previous entry is
// finalized first.
func (zw *Writer) CreateHeader(name string, method uint16, modTime int64) (io.Writer, error) {
	if zw.err != nil {
		return nil, zw.err
	}
	if err := zw.finishEntry(); err != nil {
		zw.err = err
		return nil, err
	}
	if method != MethodStore && method != MethodDeflate {
		zw.err = archive.New("zip", archive.UnsupportedMethod, "unsupported compression method "+methodName(method))
		return nil, zw.err
	}

	offset := zw.w.n
	if err := zw.writeLocalHeader(name, method, modTime); err != nil {
		zw.err = err
		return nil, err
	}

	e := &openEntry{name: name, method: method, offset: offset, modTime: modTime, crc: checksum.NewCRC32()}
	if method == MethodDeflate {
		e.flate, _ = flate.NewWriter(&zw.w, flate.DefaultCompression)
		e.dest = e.flate
	} else {
		e.dest = &zw.w
	}
	zw.cur = e
	return &entryWriter{zw: zw, e: e}, nil
}

// writeLocalHeader writes a streaming local file header: general-purpose
// bit 3 set, sizes and CRC-32 zeroed (the true values follow in the data
// descriptor written by finishEntry).
func (zw *Writer) writeLocalHeader(name string, method uint16, modTime int64) error {
	date, timeOfDay := unixToDos(modTime)
	var fixed [30]byte
	putU32(fixed[0:4], sigLocalHeader)
	putU16(fixed[4:6], 20) // version needed to extract
	putU16(fixed[6:8], flagDataDescriptor|flagUTF8Name)
	putU16(fixed[8:10], method)
	putU16(fixed[10:12], timeOfDay)
	putU16(fixed[12:14], date)
	putU32(fixed[14:18], 0) // crc32, deferred
	putU32(fixed[18:22], 0) // compressed size, deferred
	putU32(fixed[22:26], 0) // uncompressed size, deferred
	putU16(fixed[26:28], uint16(len(name)))
	putU16(fixed[28:30], 0)
	if _, err := zw.w.Write(fixed[:]); err != nil {
		return archive.Wrap("zip", archive.Truncated, "writing local file header", err)
	}
	if _, err := zw.w.Write([]byte(name)); err != nil {
		return archive.Wrap("zip", archive.Truncated, "writing entry name", err)
	}
	return nil
}

// entryWriter is the io.Writer handed back from CreateHeader; it folds
// every byte into the entry's running CRC-32 before handing it to the
// compressor.
type entryWriter struct {
	zw *Writer
	e  *openEntry
}

func (ew *entryWriter) Write(p []byte) (int, error) {
	if ew.zw.err != nil {
		return 0, ew.zw.err
	}
	n, err := ew.e.dest.Write(p)
	ew.e.crc.Update(p[:n])
	ew.e.size += int64(n)
	if err != nil {
		ew.zw.err = archive.Wrap("zip", archive.Truncated, "writing entry data", err)
		return n, ew.zw.err
	}
	return n, nil
}

// finishEntry flushes the current entry's compressor and writes its data
// descriptor and central-directory bookkeeping.
func (zw *Writer) finishEntry() error {
	e := zw.cur
	if e == nil {
		return nil
	}
	if e.flate != nil {
		if err := e.flate.Close(); err != nil {
			return archive.Wrap("zip", archive.Truncated, "flushing deflate stream", err)
		}
	}
	compSize := zw.w.n - e.offset - 30 - int64(len(e.name))

	if e.size > math.MaxUint32 || compSize > math.MaxUint32 {
		return archive.New("zip", archive.SizeLimitExceeded, "streamed entry exceeds the 4GiB data-descriptor size limit")
	}

	var desc [16]byte
	putU32(desc[0:4], sigDataDesc)
	putU32(desc[4:8], e.crc.Value())
	putU32(desc[8:12], uint32(compSize))
	putU32(desc[12:16], uint32(e.size))
	if _, err := zw.w.Write(desc[:]); err != nil {
		return archive.Wrap("zip", archive.Truncated, "writing data descriptor", err)
	}

	zw.dir = append(zw.dir, centralRecord{
		name:     e.name,
		method:   e.method,
		crc32:    e.crc.Value(),
		compSize: compSize,
		size:     e.size,
		modTime:  e.modTime,
		offset:   e.offset,
		isDir:    len(e.name) > 0 && e.name[len(e.name)-1] == '/',
	})
	zw.cur = nil
	return nil
}

// Close finalizes the archive: the last open entry, the central
// directory, and an end-of-central-directory record (plus a Zip64
// end-of-central-directory record and locator when the entry count or
// any size/offset in the directory exceeds the classic 32-bit/16-bit
// fields).
func (zw *Writer) Close() error {
	if zw.err != nil {
		return zw.err
	}
	if err := zw.finishEntry(); err != nil {
		zw.err = err
		return err
	}

	dirOffset := zw.w.n
	needZip64 := len(zw.dir) >= 0xFFFF
	for _, rec := range zw.dir {
		if rec.compSize >= 0xFFFFFFFF || rec.size >= 0xFFFFFFFF || rec.offset >= 0xFFFFFFFF {
			needZip64 = true
		}
		if err := zw.writeCentralRecord(rec); err != nil {
			zw.err = err
			return err
		}
	}
	dirSize := zw.w.n - dirOffset

	if needZip64 || dirOffset >= 0xFFFFFFFF {
		if err := zw.writeZip64EOCD(dirOffset, dirSize); err != nil {
			zw.err = err
			return err
		}
	}
	if err := zw.writeEOCD(dirOffset, dirSize); err != nil {
		zw.err = err
		return err
	}
	return nil
}

func (zw *Writer) writeCentralRecord(rec centralRecord) error {
	date, timeOfDay := unixToDos(rec.modTime)
	compSize, size, offset := uint32(rec.compSize), uint32(rec.size), uint32(rec.offset)
	var extra []byte
	if rec.compSize >= 0xFFFFFFFF || rec.size >= 0xFFFFFFFF || rec.offset >= 0xFFFFFFFF {
		compSize, size, offset = 0xFFFFFFFF, 0xFFFFFFFF, 0xFFFFFFFF
		body := make([]byte, 24)
		putU64(body[0:8], uint64(rec.size))
		putU64(body[8:16], uint64(rec.compSize))
		putU64(body[16:24], uint64(rec.offset))
		extra = make([]byte, 4+len(body))
		putU16(extra[0:2], extraZip64)
		putU16(extra[2:4], uint16(len(body)))
		copy(extra[4:], body)
	}

	var fixed [centralFixed]byte
	putU32(fixed[0:4], sigCentralDir)
	putU16(fixed[4:6], 45) // version made by (zip64-aware)
	putU16(fixed[6:8], 20) // version needed to extract
	putU16(fixed[8:10], flagDataDescriptor|flagUTF8Name)
	putU16(fixed[10:12], rec.method)
	putU16(fixed[12:14], timeOfDay)
	putU16(fixed[14:16], date)
	putU32(fixed[16:20], rec.crc32)
	putU32(fixed[20:24], compSize)
	putU32(fixed[24:28], size)
	putU16(fixed[28:30], uint16(len(rec.name)))
	putU16(fixed[30:32], uint16(len(extra)))
	putU16(fixed[32:34], 0) // comment length
	putU16(fixed[34:36], 0) // disk number start
	putU16(fixed[36:38], 0) // internal attrs
	var extAttrs uint32
	if rec.isDir {
		extAttrs = 0x10 // FILE_ATTRIBUTE_DIRECTORY, for cross-platform readers
	}
	putU32(fixed[38:42], extAttrs)
	putU32(fixed[42:46], offset)

	if _, err := zw.w.Write(fixed[:]); err != nil {
		return archive.Wrap("zip", archive.Truncated, "writing central directory record", err)
	}
	if _, err := zw.w.Write([]byte(rec.name)); err != nil {
		return archive.Wrap("zip", archive.Truncated, "writing central directory entry name", err)
	}
	if len(extra) > 0 {
		if _, err := zw.w.Write(extra); err != nil {
			return archive.Wrap("zip", archive.Truncated, "writing central directory zip64 extra", err)
		}
	}
	return nil
}

func (zw *Writer) writeZip64EOCD(dirOffset, dirSize int64) error {
	eocdOffset := zw.w.n
	var rec [zip64EOCDFixed]byte
	putU32(rec[0:4], sigZip64EOCD)
	putU64(rec[4:12], zip64EOCDFixed-12)
	putU16(rec[12:14], 45)
	putU16(rec[14:16], 45)
	putU32(rec[16:20], 0) // disk number
	putU32(rec[20:24], 0) // disk with central directory
	putU64(rec[24:32], uint64(len(zw.dir)))
	putU64(rec[32:40], uint64(len(zw.dir)))
	putU64(rec[40:48], uint64(dirSize))
	putU64(rec[48:56], uint64(dirOffset))
	if _, err := zw.w.Write(rec[:]); err != nil {
		return archive.Wrap("zip", archive.Truncated, "writing zip64 end-of-central-directory record", err)
	}

	var loc [zip64LocLen]byte
	putU32(loc[0:4], sigZip64Locator)
	putU32(loc[4:8], 0) // disk with zip64 EOCD
	putU64(loc[8:16], uint64(eocdOffset))
	putU32(loc[16:20], 1) // total number of disks
	if _, err := zw.w.Write(loc[:]); err != nil {
		return archive.Wrap("zip", archive.Truncated, "writing zip64 end-of-central-directory locator", err)
	}
	return nil
}

func (zw *Writer) writeEOCD(dirOffset, dirSize int64) error {
	count := len(zw.dir)
	count16, dirOff32, dirSize32 := uint16(count), uint32(dirOffset), uint32(dirSize)
	if count >= 0xFFFF {
		count16 = 0xFFFF
	}
	if dirOffset >= 0xFFFFFFFF {
		dirOff32 = 0xFFFFFFFF
	}
	if dirSize >= 0xFFFFFFFF {
		dirSize32 = 0xFFFFFFFF
	}

	var rec [eocdFixedLen]byte
	putU32(rec[0:4], sigEOCD)
	putU16(rec[4:6], 0) // disk number
	putU16(rec[6:8], 0) // disk with central directory
	putU16(rec[8:10], count16)
	putU16(rec[10:12], count16)
	putU32(rec[12:16], dirSize32)
	putU32(rec[16:20], dirOff32)
	putU16(rec[20:22], 0) // comment length
	if _, err := zw.w.Write(rec[:]); err != nil {
		return archive.Wrap("zip", archive.Truncated, "writing end-of-central-directory record", err)
	}
	return nil
}
