package dbucketfile

import (
	"encoding/binary"
	"fmt"

	"github.com/dmarell/dbucketfile/alloc"
)

// indexRecordID is the reserved internal key under which the directory
// persists itself. No caller-visible key ever maps to it (section 3,
// "Record identifier remapping").
const indexRecordID = int64(0)

// directoryEntry is the directory's mapping target: where a record's
// page chain starts and how many payload bytes it holds.
type directoryEntry struct {
	startPageAddress int64
	numberOfBytes    int32
}

// directory is the in-memory record directory (index). It maps internal
// keys to directoryEntry and owns the free-list allocator state, since
// both are persisted together in the file header's allocation section
// (section 3, section 4.2, section 4.3).
type directory struct {
	entries  map[int64]directoryEntry
	freeList alloc.FreeList
}

func newDirectory(nextFreePageAddress int64) *directory {
	return &directory{
		entries:  make(map[int64]directoryEntry, 100),
		freeList: alloc.FreeList{NextFreePageAddress: nextFreePageAddress},
	}
}

func (d *directory) get(key int64) (directoryEntry, bool) {
	e, ok := d.entries[key]
	return e, ok
}

func (d *directory) put(key int64, e directoryEntry) {
	d.entries[key] = e
	d.freeList.Dirty = true
}

func (d *directory) remove(key int64) {
	delete(d.entries, key)
	d.freeList.Dirty = true
}

func (d *directory) isDirty() bool { return d.freeList.Dirty }

func (d *directory) markClean() { d.freeList.Dirty = false }

func (d *directory) allocate(b alloc.Backing, pageSize int64) (int64, error) {
	return d.freeList.Allocate(b, pageSize)
}

// deallocateChain returns the page chain rooted at startAddress to the
// free list.
func (d *directory) deallocateChain(b alloc.Backing, startAddress int64) error {
	if err := d.freeList.Deallocate(b, startAddress); err != nil {
		return err
	}
	d.freeList.Dirty = true
	return nil
}

// deallocateRecord removes key's directory entry (if any) and returns
// its chain to the free list. A missing key is a silent no-op, matching
// BucketFileIndex.deallocateRecord in the reference implementation.
func (d *directory) deallocateRecord(b alloc.Backing, key int64) error {
	entry, ok := d.entries[key]
	if !ok {
		return nil
	}
	if err := d.deallocateChain(b, entry.startPageAddress); err != nil {
		return err
	}
	delete(d.entries, key)
	d.freeList.Dirty = true
	return nil
}

const directoryEntrySize = 8 + 8 + 4 // key + startPageAddress + numberOfBytes

// serialize packs the directory as size:i32 followed by size triples of
// {key:i64, startPageAddress:i64, numberOfBytes:i32}. Iteration order
// over the map is unspecified; readers must accept any order (section
// 4.3).
func (d *directory) serialize() []byte {
	buf := make([]byte, 4+len(d.entries)*directoryEntrySize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(d.entries)))
	offset := 4
	for key, entry := range d.entries {
		binary.BigEndian.PutUint64(buf[offset:offset+8], uint64(key))
		binary.BigEndian.PutUint64(buf[offset+8:offset+16], uint64(entry.startPageAddress))
		binary.BigEndian.PutUint32(buf[offset+16:offset+20], uint32(entry.numberOfBytes))
		offset += directoryEntrySize
	}
	return buf
}

// deserialize populates the directory's entries from a buffer produced
// by serialize. It does not touch the free-list fields, which are read
// separately from the file header.
func (d *directory) deserialize(buf []byte) error {
	if len(buf) < 4 {
		return fmt.Errorf("dbucketfile: truncated directory record (%d bytes)", len(buf))
	}
	size := int(binary.BigEndian.Uint32(buf[0:4]))
	want := 4 + size*directoryEntrySize
	if len(buf) < want {
		return fmt.Errorf("dbucketfile: truncated directory record: want %d bytes, have %d", want, len(buf))
	}
	entries := make(map[int64]directoryEntry, size)
	offset := 4
	for i := 0; i < size; i++ {
		key := int64(binary.BigEndian.Uint64(buf[offset : offset+8]))
		start := int64(binary.BigEndian.Uint64(buf[offset+8 : offset+16]))
		n := int32(binary.BigEndian.Uint32(buf[offset+16 : offset+20]))
		entries[key] = directoryEntry{startPageAddress: start, numberOfBytes: n}
		offset += directoryEntrySize
	}
	d.entries = entries
	return nil
}
