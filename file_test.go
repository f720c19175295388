package dbucketfile

import (
	"bytes"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestFile(t *testing.T, opts Options) *File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.bucket")
	f, err := Open(path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.New(rand.NewSource(int64(n))).Read(b)
	require.NoError(t, err)
	return b
}

func writeRecord(t *testing.T, f *File, key int64, data []byte) {
	t.Helper()
	w, err := f.GetRecordWriter(key)
	require.NoError(t, err)
	n, err := w.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, w.Close())
}

func readRecord(t *testing.T, f *File, key int64) []byte {
	t.Helper()
	r, err := f.GetRecordReader(key)
	require.NoError(t, err)
	require.NotNil(t, r)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	return data
}

// TestRoundTripLargeRecords covers S1: several multi-page records of
// distinct sizes must read back byte-for-byte identical.
func TestRoundTripLargeRecords(t *testing.T) {
	f := openTestFile(t, Options{})
	sizes := []int{111111, 222222, 333333, 444444, 555555}
	want := make(map[int64][]byte, len(sizes))

	for i, size := range sizes {
		key := int64(i)
		data := randomBytes(t, size)
		writeRecord(t, f, key, data)
		want[key] = data
	}

	for key, data := range want {
		got := readRecord(t, f, key)
		assert.Equal(t, data, got, "record %d must round-trip identically", key)
	}
}

// TestFreeListReuseSmallPages covers S2: with a tiny pageDataSize,
// overwriting a record with a shorter value must return the surplus
// pages to the free list, and a later allocation must reuse them
// instead of growing the file.
func TestFreeListReuseSmallPages(t *testing.T) {
	f := openTestFile(t, Options{PageDataSize: 10})

	writeRecord(t, f, 1, bytes.Repeat([]byte{0xAA}, 95))
	sizeAfterFirstWrite := f.dir.freeList.NextFreePageAddress

	writeRecord(t, f, 1, bytes.Repeat([]byte{0xBB}, 5))
	assert.True(t, f.dir.freeList.FirstDeallocatedPage != 0, "shrinking a record must free its surplus pages")
	assert.Equal(t, sizeAfterFirstWrite, f.dir.freeList.NextFreePageAddress, "file must not grow just from shrinking a record")

	// Record 1's shrink freed exactly 9 pages (the original record spanned
	// 10 pages; the start page is kept and pages 2-10 were deallocated).
	// Record 2 is sized to need exactly those 9 pages, so it must be
	// satisfiable purely from the free list.
	before := f.dir.freeList.NextFreePageAddress
	writeRecord(t, f, 2, bytes.Repeat([]byte{0xCC}, 90))
	assert.Equal(t, before, f.dir.freeList.NextFreePageAddress, "a fresh record should reuse freed pages before extending the file")

	assert.Equal(t, bytes.Repeat([]byte{0xBB}, 5), readRecord(t, f, 1))
	assert.Equal(t, bytes.Repeat([]byte{0xCC}, 90), readRecord(t, f, 2))
}

// TestBulkRecords covers S3: a large population of small records must
// all remain independently readable.
func TestBulkRecords(t *testing.T) {
	f := openTestFile(t, Options{})
	const count = 3000

	for i := 0; i < count; i++ {
		writeRecord(t, f, int64(i), []byte{byte(i), byte(i >> 8), byte(i >> 16)})
	}
	for i := 0; i < count; i++ {
		got := readRecord(t, f, int64(i))
		assert.Equal(t, []byte{byte(i), byte(i >> 8), byte(i >> 16)}, got)
	}
}

// TestReopenPreservesDirectory verifies the directory and free-list
// state survive a close/reopen cycle (section 4.6).
func TestReopenPreservesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.bucket")

	f, err := Open(path, Options{})
	require.NoError(t, err)
	writeRecord(t, f, 42, []byte("hello, bucket file"))
	require.NoError(t, f.Close())

	f2, err := Open(path, Options{})
	require.NoError(t, err)
	defer f2.Close()

	assert.Equal(t, []byte("hello, bucket file"), readRecord(t, f2, 42))
}

// TestRemoveRecord verifies a removed record is gone and its pages are
// reusable, while unrelated records are unaffected.
func TestRemoveRecord(t *testing.T) {
	f := openTestFile(t, Options{PageDataSize: 16})
	writeRecord(t, f, 1, bytes.Repeat([]byte{1}, 50))
	writeRecord(t, f, 2, bytes.Repeat([]byte{2}, 50))

	require.NoError(t, f.RemoveRecord(1))

	r, err := f.GetRecordReader(1)
	require.NoError(t, err)
	assert.Nil(t, r, "reading a removed record must report absence, not an error")

	assert.Equal(t, bytes.Repeat([]byte{2}, 50), readRecord(t, f, 2))

	// Removing an already-absent key is a no-op, not an error.
	assert.NoError(t, f.RemoveRecord(1))
	assert.NoError(t, f.RemoveRecord(999))
}

// TestExclusivityRules covers S6: a live writer excludes readers and
// other writers; a live reader excludes writers but not other readers.
func TestExclusivityRules(t *testing.T) {
	f := openTestFile(t, Options{})
	writeRecord(t, f, 1, []byte("payload"))

	w, err := f.GetRecordWriter(2)
	require.NoError(t, err)

	_, err = f.GetRecordWriter(3)
	assert.ErrorIs(t, err, ErrIllegalState)

	_, err = f.GetRecordReader(1)
	assert.ErrorIs(t, err, ErrIllegalState)

	require.NoError(t, w.Close())

	r1, err := f.GetRecordReader(1)
	require.NoError(t, err)
	r2, err := f.GetRecordReader(1)
	require.NoError(t, err)

	_, err = f.GetRecordWriter(4)
	assert.ErrorIs(t, err, ErrIllegalState)

	require.NoError(t, r1.Close())
	require.NoError(t, r2.Close())

	_, err = f.GetRecordWriter(4)
	assert.NoError(t, err)
}

// TestLockContention covers S5: a second Open with Lock set on a path
// already locked by a live handle must fail with ErrAlreadyLocked.
func TestLockContention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locked.bucket")

	first, err := Open(path, Options{Lock: true})
	require.NoError(t, err)
	defer first.Close()

	_, err = Open(path, Options{Lock: true})
	assert.ErrorIs(t, err, ErrAlreadyLocked)
}

// TestReadOnlyRejectsMutation covers the read-only invariant: a file
// opened read-only refuses writers, removal, and creation-from-empty.
func TestReadOnlyRejectsMutation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ro.bucket")
	f, err := Open(path, Options{})
	require.NoError(t, err)
	writeRecord(t, f, 1, []byte("data"))
	require.NoError(t, f.Close())

	ro, err := Open(path, Options{ReadOnly: true})
	require.NoError(t, err)
	defer ro.Close()

	_, err = ro.GetRecordWriter(2)
	assert.ErrorIs(t, err, ErrIllegalState)

	err = ro.RemoveRecord(1)
	assert.ErrorIs(t, err, ErrIllegalState)

	assert.Equal(t, []byte("data"), readRecord(t, ro, 1))

	emptyPath := filepath.Join(t.TempDir(), "empty-ro.bucket")
	_, err = Open(emptyPath, Options{ReadOnly: true})
	assert.ErrorIs(t, err, ErrIllegalState)
}

// writeHeaderWithVersion builds a minimal, otherwise-valid file at path
// carrying the given version string, by driving the same writeUTF/
// writeNewHeader primitives Open itself uses. It exists so the version
// acceptance tests can exercise readExistingHeader's validation without
// depending on any particular header layout beyond what those
// primitives already define.
func writeHeaderWithVersion(t *testing.T, path string, version string) {
	t.Helper()
	f, err := Open(path, Options{})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	raw, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer raw.Close()
	_, err = writeUTF(raw, 0, version)
	require.NoError(t, err)
}

// TestUnsupportedVersionRejected covers section 8 property 8: a file
// whose version string neither matches the current nor the legacy
// value is refused.
func TestUnsupportedVersionRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad-version.bucket")
	// currentVersion and the replacement below are the same length, so
	// the rest of the header stays at its original offsets.
	require.Equal(t, len(currentVersion), len("not a real version string!"))
	writeHeaderWithVersion(t, path, "not a real version string!")

	_, err := Open(path, Options{})
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

// TestLegacyVersionAccepted covers section 8 property 8's converse: a
// file carrying the historical version string must still open.
func TestLegacyVersionAccepted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy-version.bucket")

	raw, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	f := &File{
		f:            raw,
		pageDataSize: DefaultPageDataSize,
		openReaders:  make(map[*RecordReader]struct{}),
		openWriters:  make(map[*RecordWriter]struct{}),
	}
	require.NoError(t, f.writeNewHeaderVersion(legacyVersion))
	f.dir = newDirectory(f.indexStartPage)
	addr, err := f.dir.allocate(f.f, f.pageSize())
	require.NoError(t, err)
	firstPage := newPage(addr, f.pageDataSize)
	require.NoError(t, firstPage.flush(f.f))
	require.NoError(t, f.flushDirectoryLocked())
	require.NoError(t, raw.Close())

	f2, err := Open(path, Options{})
	require.NoError(t, err)
	defer f2.Close()
	writeRecord(t, f2, 1, []byte("legacy"))
	assert.Equal(t, []byte("legacy"), readRecord(t, f2, 1))
}
