package dbucketfile

import "fmt"

// RecordWriter is an exclusive-access, append-only stream onto one
// record's page chain. It implements io.Writer and io.Closer. Closing
// it is what commits the record: any surplus continuation chain left
// over from a previous, longer version of the record is deallocated,
// the final page is flushed, and (for non-reserved keys) the directory
// entry is created or updated (section 4.5).
type RecordWriter struct {
	file             *File
	recordID         int64
	currentPage      *page
	startPageAddress int64
	numberOfBytes    int32
	closed           bool
}

func newRecordWriter(f *File, internalKey int64) (*RecordWriter, error) {
	startPage, err := f.getStartPage(internalKey)
	if err != nil {
		return nil, err
	}
	if startPage == nil {
		addr, err := f.dir.allocate(f.f, f.pageSize())
		if err != nil {
			return nil, err
		}
		startPage = newPage(addr, f.pageDataSize)
	}
	w := &RecordWriter{
		file:             f,
		recordID:         internalKey,
		currentPage:      startPage,
		startPageAddress: startPage.Address(),
	}
	f.openWriters[w] = struct{}{}
	f.numberOfWriters++
	return w, nil
}

// advance moves to a page with room for more bytes, flushing and
// leaving behind the page it was positioned on. It reuses an existing
// continuation page if the chain already has one (from an earlier,
// longer write to this same record), allocating a new one otherwise.
func (w *RecordWriter) advance() error {
	var next *page
	if w.currentPage.hasContinuation() {
		loaded, err := loadPage(w.file.f, w.currentPage.getContinuation(), w.file.pageDataSize)
		if err != nil {
			return err
		}
		next = loaded
	} else {
		addr, err := w.file.dir.allocate(w.file.f, w.file.pageSize())
		if err != nil {
			return err
		}
		next = newPage(addr, w.file.pageDataSize)
		w.currentPage.setContinuation(addr)
	}
	if err := w.currentPage.flush(w.file.f); err != nil {
		return err
	}
	w.currentPage = next
	return nil
}

// Write implements io.Writer.
func (w *RecordWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("%w: write to closed record writer", ErrIllegalState)
	}
	offset := 0
	remaining := len(p)
	for remaining > 0 {
		if !w.currentPage.hasMore() {
			if err := w.advance(); err != nil {
				return offset, err
			}
		}
		n := w.currentPage.writeBytes(p[offset : offset+remaining])
		offset += n
		remaining -= n
	}
	w.numberOfBytes += int32(len(p))
	return len(p), nil
}

// WriteByte writes a single byte, for callers that build up a record
// incrementally rather than from a pre-sized buffer.
func (w *RecordWriter) WriteByte(b byte) error {
	if w.closed {
		return fmt.Errorf("%w: write to closed record writer", ErrIllegalState)
	}
	if !w.currentPage.hasMore() {
		if err := w.advance(); err != nil {
			return err
		}
	}
	w.currentPage.writeData(b)
	w.numberOfBytes++
	return nil
}

// Flush is a no-op: a page is written to disk only when the writer
// moves past it or on Close, so the last page stays buffered until
// Close, matching the reference implementation's flush() method.
func (w *RecordWriter) Flush() error { return nil }

// Close commits the record. Closing an already-closed writer is a
// no-op.
func (w *RecordWriter) Close() error {
	if w.closed {
		return nil
	}
	if w.currentPage.hasContinuation() {
		if err := w.file.dir.deallocateChain(w.file.f, w.currentPage.getContinuation()); err != nil {
			return err
		}
		w.currentPage.setContinuation(0)
	}
	if err := w.currentPage.flush(w.file.f); err != nil {
		return err
	}
	if w.recordID != indexRecordID {
		entry, _ := w.file.dir.get(w.recordID)
		entry.startPageAddress = w.startPageAddress
		entry.numberOfBytes = w.numberOfBytes
		w.file.dir.put(w.recordID, entry)
		if w.file.safeMode {
			if err := w.file.flushDirectoryLocked(); err != nil {
				delete(w.file.openWriters, w)
				w.file.numberOfWriters--
				w.closed = true
				return err
			}
		}
	}
	delete(w.file.openWriters, w)
	w.file.numberOfWriters--
	w.closed = true
	return nil
}
