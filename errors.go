package dbucketfile

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by File operations. Wrapped with fmt.Errorf and
// %w so callers can still errors.Is against them.
var (
	// ErrAlreadyLocked is returned by Open when Options.Lock is set and
	// another process already holds the advisory lock on the file.
	ErrAlreadyLocked = errors.New("dbucketfile: file is already locked by another process")

	// ErrUnsupportedVersion is returned by Open when the file's header
	// carries a version string this package does not recognize.
	ErrUnsupportedVersion = errors.New("dbucketfile: unsupported bucket file version")

	// ErrIllegalState is returned when an operation violates the
	// exclusivity rules in section 4.6, or is attempted on a closed
	// stream, or a mutation is attempted on a read-only file.
	ErrIllegalState = errors.New("dbucketfile: illegal state")
)

// CorruptedPageError is returned when a page's magic word does not match
// the expected constant, indicating on-disk corruption.
type CorruptedPageError struct {
	Address int64
}

func (e *CorruptedPageError) Error() string {
	return fmt.Sprintf("dbucketfile: corrupted page at address %d: magic word mismatch", e.Address)
}
