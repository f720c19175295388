package dbucketfile

import (
	"encoding/binary"
	"io"
)

// pageMagicWord marks the start of every on-disk page after its
// continuation address, letting a reload detect corruption. Stored in
// the low 32 bits of a 64-bit big-endian integer (section 6).
const pageMagicWord = int64(0xABFAFCFD)

// pageHeaderSize is the on-disk size of the continuation address plus
// the magic word, preceding a page's pageDataSize payload bytes.
const pageHeaderSize = 16

// page mediates between in-memory byte operations and one on-disk page.
// It buffers pageDataSize bytes, tracks a write/read cursor, and knows
// whether it has ever been flushed. See spec section 4.1.
type page struct {
	address      int64
	data         []byte
	cursor       int
	continuation int64
	flushed      bool
}

// newPage constructs an uninitialized page at address, ready to be
// written and eventually flushed for the first time.
func newPage(address int64, pageDataSize int) *page {
	return &page{
		address: address,
		data:    make([]byte, pageDataSize),
	}
}

// loadPage reads an existing page from disk. It fails with a
// *CorruptedPageError if the magic word does not match.
func loadPage(r io.ReaderAt, address int64, pageDataSize int) (*page, error) {
	header := make([]byte, pageHeaderSize)
	if _, err := r.ReadAt(header, address); err != nil {
		return nil, err
	}
	continuation := int64(binary.BigEndian.Uint64(header[0:8]))
	magic := int64(binary.BigEndian.Uint64(header[8:16]))
	if magic != pageMagicWord {
		return nil, &CorruptedPageError{Address: address}
	}
	data := make([]byte, pageDataSize)
	// Ignore a short read here; a freshly allocated page beyond the
	// current file end legitimately has no payload bytes yet.
	_, _ = r.ReadAt(data, address+pageHeaderSize)
	return &page{
		address:      address,
		data:         data,
		continuation: continuation,
	}, nil
}

func (p *page) Address() int64 { return p.address }

// hasMore reports whether the cursor still has room in the payload
// buffer.
func (p *page) hasMore() bool { return p.cursor < len(p.data) }

func (p *page) hasContinuation() bool { return p.continuation != 0 }

func (p *page) getContinuation() int64 { return p.continuation }

func (p *page) setContinuation(address int64) { p.continuation = address }

// readNextByte returns the byte at the cursor and advances it. Callers
// must check hasMore first; it does not bounds-check.
func (p *page) readNextByte() byte {
	b := p.data[p.cursor]
	p.cursor++
	return b
}

// readBytes copies as many bytes as fit from the cursor into buf,
// bounded by remaining page capacity, and returns the count copied.
func (p *page) readBytes(buf []byte) int {
	available := len(p.data) - p.cursor
	n := len(buf)
	if n > available {
		n = available
	}
	copy(buf[:n], p.data[p.cursor:p.cursor+n])
	p.cursor += n
	return n
}

func (p *page) writeData(b byte) {
	p.data[p.cursor] = b
	p.cursor++
}

// writeBytes copies as many bytes as fit from buf into the page at the
// cursor, bounded by remaining page capacity, and returns the count
// copied.
func (p *page) writeBytes(buf []byte) int {
	available := len(p.data) - p.cursor
	n := len(buf)
	if n > available {
		n = available
	}
	copy(p.data[p.cursor:p.cursor+n], buf[:n])
	p.cursor += n
	return n
}

// flush writes the continuation address, magic word, and the cursor
// bytes of payload written so far (not the full buffer) to disk. It is
// a no-op after the first call, matching the original's
// hasBeenFlushed guard.
func (p *page) flush(w io.WriterAt) error {
	if p.flushed {
		return nil
	}
	header := make([]byte, pageHeaderSize)
	binary.BigEndian.PutUint64(header[0:8], uint64(p.continuation))
	binary.BigEndian.PutUint64(header[8:16], uint64(pageMagicWord))
	if _, err := w.WriteAt(header, p.address); err != nil {
		return err
	}
	if p.cursor > 0 {
		if _, err := w.WriteAt(p.data[:p.cursor], p.address+pageHeaderSize); err != nil {
			return err
		}
	}
	p.flushed = true
	return nil
}
