// Package alloc implements the page allocator and free-list chain for a
// paged heap file: it hands out fresh page addresses, and lets whole
// page chains be returned to a singly-linked free list for reuse.
//
// The free list reuses the on-disk continuation pointer already present
// at the start of every page (see the owning package's page type), so
// deallocation never rewrites payload bytes.
package alloc

import (
	"encoding/binary"
	"io"
)

// Backing is the minimal disk access the allocator needs: reading and
// writing the 8-byte continuation pointer stored at the start of a page.
type Backing interface {
	io.ReaderAt
	io.WriterAt
}

// FreeList tracks the allocator's persisted state: where the next
// never-used page will land, and the head/tail of the chain of
// deallocated pages available for reuse. Callers are responsible for
// persisting these three fields (see the owning package's file header)
// and for checking Dirty after each call.
type FreeList struct {
	NextFreePageAddress  int64
	FirstDeallocatedPage int64
	LastDeallocatedPage  int64
	Dirty                bool
}

// Allocate returns an address for a new page, preferring a deallocated
// page over extending the file. The caller must treat the returned
// address as an uninitialized page: its on-disk magic word and payload
// are only written on first flush.
func (fl *FreeList) Allocate(b Backing, pageSize int64) (int64, error) {
	if fl.FirstDeallocatedPage != 0 {
		address := fl.FirstDeallocatedPage
		next, err := readContinuation(b, address)
		if err != nil {
			return 0, err
		}
		fl.FirstDeallocatedPage = next
		if next == 0 {
			fl.LastDeallocatedPage = 0
		}
		if err := writeContinuation(b, address, 0); err != nil {
			return 0, err
		}
		fl.Dirty = true
		return address, nil
	}

	address := fl.NextFreePageAddress
	fl.NextFreePageAddress += pageSize
	fl.Dirty = true
	return address, nil
}

// Deallocate appends the entire page chain rooted at startAddress to the
// free list by walking its continuation pointers on disk to find its
// terminal page. It costs one seek per page in the freed chain.
func (fl *FreeList) Deallocate(b Backing, startAddress int64) error {
	if fl.LastDeallocatedPage != 0 {
		if err := writeContinuation(b, fl.LastDeallocatedPage, startAddress); err != nil {
			return err
		}
	}
	if fl.FirstDeallocatedPage == 0 {
		fl.FirstDeallocatedPage = startAddress
	}

	address := startAddress
	for {
		next, err := readContinuation(b, address)
		if err != nil {
			return err
		}
		if next == 0 {
			break
		}
		address = next
	}
	fl.LastDeallocatedPage = address
	fl.Dirty = true
	return nil
}

func readContinuation(r io.ReaderAt, address int64) (int64, error) {
	buf := make([]byte, 8)
	if _, err := r.ReadAt(buf, address); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(buf)), nil
}

func writeContinuation(w io.WriterAt, address int64, continuation int64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(continuation))
	_, err := w.WriteAt(buf, address)
	return err
}
