// Package dbucketfile implements a single-file paged heap of
// arbitrary-length byte records, addressed by an int64 key. Records are
// stored as chains of fixed-size pages; a persisted directory maps keys
// to chain heads, and a free list lets deallocated page chains be
// reused by later writes.
//
// At most one record writer may be open at a time across a whole File,
// and it excludes all readers; an open reader excludes writers, but
// several readers may be open together; see File.GetRecordReader and
// File.GetRecordWriter.
package dbucketfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/dmarell/dbucketfile/logging"
	"github.com/phuslu/log"
	"golang.org/x/sys/unix"
)

// DefaultPageDataSize is used when Options.PageDataSize is zero.
const DefaultPageDataSize = 2048

// Options configures Open.
type Options struct {
	// PageDataSize is the payload capacity of each page, in bytes.
	// Defaults to DefaultPageDataSize. Ignored when opening an existing
	// file, whose own header value takes precedence.
	PageDataSize int32

	// Lock takes an advisory, exclusive, non-blocking OS file lock for
	// the lifetime of the File, so a second process opening the same
	// path with Lock set gets ErrAlreadyLocked instead of silently
	// corrupting the file.
	Lock bool

	// ReadOnly opens the file for reading only; mutating operations
	// (GetRecordWriter, RemoveRecord, Flush of a dirty directory) fail
	// with ErrIllegalState.
	ReadOnly bool

	// SafeMode flushes the directory to disk after every RecordWriter
	// close, trading throughput for a smaller window of directory loss
	// on crash. Off by default, matching the reference implementation.
	SafeMode bool

	// Logger receives debug and diagnostic messages. Leaving it unset
	// (zero value) falls back to logging.NewDefaultLogger, a plain
	// console logger.
	Logger log.Logger
}

// File is a handle on one open bucket file. All exported methods are
// safe for concurrent use; File itself serializes them with an
// internal mutex, but see the package doc for the stream exclusivity
// rules layered on top of that.
type File struct {
	mu sync.Mutex

	path         string
	f            *os.File
	pageDataSize int
	readOnly     bool
	safeMode     bool
	locked       bool
	logger       log.Logger

	allocDataSection int64
	indexStartPage   int64
	dir              *directory

	openReaders     map[*RecordReader]struct{}
	openWriters     map[*RecordWriter]struct{}
	numberOfReaders int
	numberOfWriters int

	closed bool
}

// Open opens the bucket file at path, creating it if it does not
// exist.
func Open(path string, opts Options) (*File, error) {
	if opts.PageDataSize <= 0 {
		opts.PageDataSize = DefaultPageDataSize
	}

	if opts.ReadOnly {
		info, statErr := os.Stat(path)
		switch {
		case errors.Is(statErr, os.ErrNotExist):
			return nil, fmt.Errorf("%w: cannot create a new file read-only", ErrIllegalState)
		case statErr != nil:
			return nil, statErr
		case info.Size() == 0:
			return nil, fmt.Errorf("%w: cannot create a new file read-only", ErrIllegalState)
		}
	}

	flag := os.O_RDWR | os.O_CREATE
	if opts.ReadOnly {
		flag = os.O_RDONLY
	}
	osFile, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, err
	}

	if opts.Logger.Writer == nil {
		opts.Logger = logging.NewDefaultLogger()
	}

	f := &File{
		path:         path,
		f:            osFile,
		pageDataSize: int(opts.PageDataSize),
		readOnly:     opts.ReadOnly,
		safeMode:     opts.SafeMode,
		logger:       opts.Logger,
		openReaders:  make(map[*RecordReader]struct{}),
		openWriters:  make(map[*RecordWriter]struct{}),
	}

	if opts.Lock {
		if err := unix.Flock(int(osFile.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
			osFile.Close()
			return nil, fmt.Errorf("%w: %v", ErrAlreadyLocked, err)
		}
		f.locked = true
	}

	info, err := osFile.Stat()
	if err != nil {
		f.releaseOnOpenFailure()
		return nil, err
	}

	if info.Size() > 0 {
		if err := f.readExistingHeader(); err != nil {
			f.releaseOnOpenFailure()
			return nil, err
		}
	} else {
		if opts.ReadOnly {
			f.releaseOnOpenFailure()
			return nil, fmt.Errorf("%w: cannot create a new file read-only", ErrIllegalState)
		}
		if err := f.initEmptyFile(); err != nil {
			f.releaseOnOpenFailure()
			return nil, err
		}
	}

	f.logDebug("opened %s (pageDataSize=%d, records=%d)", path, f.pageDataSize, len(f.dir.entries))
	return f, nil
}

func (f *File) releaseOnOpenFailure() {
	if f.locked {
		_ = unix.Flock(int(f.f.Fd()), unix.LOCK_UN)
	}
	_ = f.f.Close()
}

// initEmptyFile lays down a fresh header and an empty, freshly flushed
// directory record, so every bucket file - even one with zero records
// written to it - is a complete, readable file the moment Open returns.
func (f *File) initEmptyFile() error {
	if err := f.writeNewHeader(); err != nil {
		return err
	}
	f.dir = newDirectory(f.indexStartPage)

	addr, err := f.dir.allocate(f.f, f.pageSize())
	if err != nil {
		return err
	}
	first := newPage(addr, f.pageDataSize)
	if err := first.flush(f.f); err != nil {
		return err
	}

	return f.flushDirectoryLocked()
}

func (f *File) pageSize() int64 { return int64(f.pageDataSize) + pageHeaderSize }

// remapKey shifts every non-negative caller key up by one so that
// internal key 0 stays reserved for the directory record. Negative
// keys pass through unchanged (section 3).
func remapKey(callerKey int64) int64 {
	if callerKey >= 0 {
		return callerKey + 1
	}
	return callerKey
}

// unmapKey inverts remapKey, for diagnostics that display a caller-facing
// key from an internal one.
func unmapKey(internalKey int64) int64 {
	if internalKey >= 1 {
		return internalKey - 1
	}
	return internalKey
}

func (f *File) getStartPage(internalKey int64) (*page, error) {
	if internalKey == indexRecordID {
		return loadPage(f.f, f.indexStartPage, f.pageDataSize)
	}
	entry, ok := f.dir.get(internalKey)
	if !ok {
		return nil, nil
	}
	return loadPage(f.f, entry.startPageAddress, f.pageDataSize)
}

// GetRecordWriter opens a writer for callerKey, creating the record if
// it doesn't already exist. It fails if the file is read-only, or if
// any reader or writer is currently open on this File (section 4.6).
func (f *File) GetRecordWriter(callerKey int64) (*RecordWriter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readOnly {
		return nil, fmt.Errorf("%w: file is opened read-only", ErrIllegalState)
	}
	if f.numberOfReaders > 0 || f.numberOfWriters > 0 {
		return nil, fmt.Errorf("%w: cannot open a record writer while %d reader(s) and %d writer(s) are open",
			ErrIllegalState, f.numberOfReaders, f.numberOfWriters)
	}
	return newRecordWriter(f, remapKey(callerKey))
}

// GetRecordReader opens a reader for callerKey. It returns (nil, nil)
// if no record exists for that key. It fails if any writer is
// currently open on this File.
func (f *File) GetRecordReader(callerKey int64) (*RecordReader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.numberOfWriters > 0 {
		return nil, fmt.Errorf("%w: cannot open a record reader while %d writer(s) are open",
			ErrIllegalState, f.numberOfWriters)
	}
	internalKey := remapKey(callerKey)
	if _, ok := f.dir.get(internalKey); !ok {
		return nil, nil
	}
	return newRecordReader(f, internalKey)
}

// RemoveRecord deletes callerKey's record and returns its pages to the
// free list. Removing a key that doesn't exist is a no-op. It fails if
// the file is read-only, or if any reader or writer is open.
func (f *File) RemoveRecord(callerKey int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readOnly {
		return fmt.Errorf("%w: file is opened read-only", ErrIllegalState)
	}
	if f.numberOfReaders > 0 || f.numberOfWriters > 0 {
		return fmt.Errorf("%w: cannot remove a record while %d reader(s) and %d writer(s) are open",
			ErrIllegalState, f.numberOfReaders, f.numberOfWriters)
	}
	return f.dir.deallocateRecord(f.f, remapKey(callerKey))
}

// Flush persists the directory and free-list state to disk if it has
// changed since the last flush. It is safe to call at any time,
// including while streams are open.
func (f *File) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushDirectoryLocked()
}

// flushDirectoryLocked writes the directory through an internal writer
// on the reserved key, then rewrites the header's allocation section.
// Callers must hold f.mu.
func (f *File) flushDirectoryLocked() error {
	if !f.dir.isDirty() {
		return nil
	}
	w, err := newRecordWriter(f, indexRecordID)
	if err != nil {
		return err
	}
	if _, err := w.Write(f.dir.serialize()); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return f.writeAllocationHeader(w.numberOfBytes)
}

func (f *File) writeAllocationHeader(indexByteCount int32) error {
	buf := make([]byte, allocationHeaderSize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(indexByteCount))
	binary.BigEndian.PutUint64(buf[8:16], uint64(f.dir.freeList.NextFreePageAddress))
	binary.BigEndian.PutUint64(buf[16:24], uint64(f.dir.freeList.FirstDeallocatedPage))
	binary.BigEndian.PutUint64(buf[24:32], uint64(f.dir.freeList.LastDeallocatedPage))
	if _, err := f.f.WriteAt(buf, f.allocDataSection); err != nil {
		return err
	}
	f.dir.markClean()
	return nil
}

// Close flushes the directory, best-effort closes any streams the
// caller left open, releases the advisory lock, and closes the
// backing file. Closing an already-closed File is a no-op.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}

	if len(f.openWriters) > 0 || len(f.openReaders) > 0 {
		f.logError("close: %d reader(s) and %d writer(s) were still open", len(f.openReaders), len(f.openWriters))
		for w := range f.openWriters {
			_ = w.Close()
		}
		for r := range f.openReaders {
			_ = r.Close()
		}
	}

	flushErr := f.flushDirectoryLocked()

	if f.locked {
		_ = unix.Flock(int(f.f.Fd()), unix.LOCK_UN)
	}
	closeErr := f.f.Close()
	f.closed = true

	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

func (f *File) logDebug(format string, args ...any) {
	f.logger.Debug().Msgf(format, args...)
}

func (f *File) logError(format string, args ...any) {
	f.logger.Error().Msgf(format, args...)
}
