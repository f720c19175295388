package dbucketfile

import (
	"fmt"
	"io"
)

// RecordDebugInfo summarizes one directory entry for diagnostic dumps.
type RecordDebugInfo struct {
	Key              int64
	StartPageAddress int64
	NumberOfBytes    int32
}

// DebugSnapshot is a point-in-time view of a File's allocator and
// directory state, for the dump package's reports. It exists because
// dump lives in its own package and the page/directory types backing
// it are unexported (see original_source BucketFile.printContents and
// .printAllocStatus, "for testing only").
type DebugSnapshot struct {
	IndexStartPage       int64
	PageDataSize         int
	NextFreePageAddress  int64
	FirstDeallocatedPage int64
	LastDeallocatedPage  int64
	Records              []RecordDebugInfo
}

// Debug returns a snapshot of f's current directory and free-list
// state, with caller-facing keys (the internal +1 remap undone). It
// takes the same lock as every other operation; the result is a
// point-in-time copy that can go stale immediately if the file is
// concurrently mutated.
func (f *File) Debug() DebugSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := DebugSnapshot{
		IndexStartPage:       f.indexStartPage,
		PageDataSize:         f.pageDataSize,
		NextFreePageAddress:  f.dir.freeList.NextFreePageAddress,
		FirstDeallocatedPage: f.dir.freeList.FirstDeallocatedPage,
		LastDeallocatedPage:  f.dir.freeList.LastDeallocatedPage,
	}
	for key, entry := range f.dir.entries {
		snap.Records = append(snap.Records, RecordDebugInfo{
			Key:              unmapKey(key),
			StartPageAddress: entry.startPageAddress,
			NumberOfBytes:    entry.numberOfBytes,
		})
	}
	return snap
}

// DumpPageChain writes one line per page in the chain starting at
// address, following continuation pointers to their terminal page, in
// the style of BucketFile.printRecord. It reads the backing file
// directly rather than going through f's lock, so callers should only
// use it when the file is not concurrently being written to.
func (f *File) DumpPageChain(w io.Writer, address int64) error {
	for {
		p, err := loadPage(f.f, address, f.pageDataSize)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "    address=%d next=%d", address, p.continuation)
		if p.continuation == 0 {
			fmt.Fprintf(w, " end=%d", address+int64(pageHeaderSize+f.pageDataSize))
		}
		fmt.Fprintln(w)
		if p.continuation == 0 {
			return nil
		}
		address = p.continuation
	}
}
