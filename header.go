package dbucketfile

import (
	"encoding/binary"
	"fmt"
	"io"
)

// currentVersion is written into every newly-created file. legacyVersion
// is the historical string emitted by the original se.marell.dbucketfile
// implementation this format is ported from; both are accepted on open
// (section 6, section 8 property 8).
const (
	currentVersion = "dbucketfile.File Version 1"
	legacyVersion  = "class se.marell.bucketfile.BucketFile Version 1"
)

// allocationHeaderSize is the byte size of the four int64 fields
// (indexByteCount, nextFreePageAddress, firstDeallocatedPage,
// lastDeallocatedPage) that follow the version string and pageDataSize
// in the file header (section 3).
const allocationHeaderSize = 32

// writeUTF writes a length-prefixed UTF-8 string at offset: a 16-bit
// unsigned big-endian byte length followed by the UTF-8 bytes. This is
// the same wire shape as Java's DataOutput.writeUTF for the ASCII
// version strings this format uses (section 6).
func writeUTF(w io.WriterAt, offset int64, s string) (int64, error) {
	b := []byte(s)
	buf := make([]byte, 2+len(b))
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(b)))
	copy(buf[2:], b)
	if _, err := w.WriteAt(buf, offset); err != nil {
		return 0, err
	}
	return offset + int64(len(buf)), nil
}

// readUTF is the counterpart to writeUTF.
func readUTF(r io.ReaderAt, offset int64) (string, int64, error) {
	lenBuf := make([]byte, 2)
	if _, err := r.ReadAt(lenBuf, offset); err != nil {
		return "", 0, err
	}
	n := binary.BigEndian.Uint16(lenBuf)
	strBuf := make([]byte, n)
	if n > 0 {
		if _, err := r.ReadAt(strBuf, offset+2); err != nil {
			return "", 0, err
		}
	}
	return string(strBuf), offset + 2 + int64(n), nil
}

// writeNewHeader lays down the header of a freshly created file: the
// current version string, the configured pageDataSize, and a zeroed
// allocation section. It records allocDataSection and indexStartPage
// for later use; the caller still has to reserve and flush the first
// (index) page.
func (f *File) writeNewHeader() error {
	return f.writeNewHeaderVersion(currentVersion)
}

// writeNewHeaderVersion is writeNewHeader parameterized on the version
// string, so tests can exercise readExistingHeader's acceptance of the
// legacy string without hand-building a header byte layout.
func (f *File) writeNewHeaderVersion(version string) error {
	offset, err := writeUTF(f.f, 0, version)
	if err != nil {
		return err
	}

	pageDataSizeBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(pageDataSizeBuf, uint32(f.pageDataSize))
	if _, err := f.f.WriteAt(pageDataSizeBuf, offset); err != nil {
		return err
	}
	offset += 4

	f.allocDataSection = offset
	zero := make([]byte, allocationHeaderSize)
	if _, err := f.f.WriteAt(zero, offset); err != nil {
		return err
	}
	offset += allocationHeaderSize

	f.indexStartPage = offset
	return nil
}

// readExistingHeader reads the header of a previously created file,
// validates its version string, and reconstructs the directory by
// streaming the index record (section 4.6).
func (f *File) readExistingHeader() error {
	version, offset, err := readUTF(f.f, 0)
	if err != nil {
		return err
	}
	if version != currentVersion && version != legacyVersion {
		return fmt.Errorf("%w: %q", ErrUnsupportedVersion, version)
	}

	pageDataSizeBuf := make([]byte, 4)
	if _, err := f.f.ReadAt(pageDataSizeBuf, offset); err != nil {
		return err
	}
	f.pageDataSize = int(int32(binary.BigEndian.Uint32(pageDataSizeBuf)))
	offset += 4

	f.allocDataSection = offset
	allocBuf := make([]byte, allocationHeaderSize)
	if _, err := f.f.ReadAt(allocBuf, offset); err != nil {
		return err
	}
	nextFree := int64(binary.BigEndian.Uint64(allocBuf[8:16]))
	firstDealloc := int64(binary.BigEndian.Uint64(allocBuf[16:24]))
	lastDealloc := int64(binary.BigEndian.Uint64(allocBuf[24:32]))
	offset += allocationHeaderSize

	f.indexStartPage = offset
	f.dir = newDirectory(nextFree)
	f.dir.freeList.FirstDeallocatedPage = firstDealloc
	f.dir.freeList.LastDeallocatedPage = lastDealloc

	reader, err := newRecordReader(f, indexRecordID)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		_ = reader.Close()
		return err
	}
	if err := reader.Close(); err != nil {
		return err
	}
	if err := f.dir.deserialize(data); err != nil {
		return err
	}
	f.dir.markClean()
	return nil
}
