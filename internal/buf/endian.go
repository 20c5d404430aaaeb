package buf

import (
	"errors"

	"github.com/joshuapare/kheap/internal/format"
)

// ErrShort is returned by Reader when a field extends past the buffer.
var ErrShort = errors.New("buf: short buffer")

// Reader is a forward-only little-endian cursor over a descriptor blob.
// The first failed read latches ErrShort; later reads return zero.
type Reader struct {
	b   []byte
	off int
	err error
}

// NewReader returns a Reader positioned at the start of b.
func NewReader(b []byte) *Reader {
	return &Reader{b: b}
}

// Offset returns the current position.
func (r *Reader) Offset() int { return r.off }

// Len returns the number of unread bytes.
func (r *Reader) Len() int { return len(r.b) - r.off }

// Err returns the first error encountered.
func (r *Reader) Err() error { return r.err }

// Bytes consumes n bytes and returns them without copying.
func (r *Reader) Bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	s, ok := Slice(r.b, r.off, n)
	if !ok {
		r.err = ErrShort
		return nil
	}
	r.off += n
	return s
}

// U32 consumes a little-endian uint32.
func (r *Reader) U32() uint32 {
	b := r.Bytes(4)
	if b == nil {
		return 0
	}
	return format.ReadU32(b, 0)
}

// U64 consumes a little-endian uint64.
func (r *Reader) U64() uint64 {
	b := r.Bytes(8)
	if b == nil {
		return 0
	}
	return format.ReadU64(b, 0)
}

// Skip advances the cursor by n bytes.
func (r *Reader) Skip(n int) { r.Bytes(n) }

// Seek moves the cursor to an absolute offset.
func (r *Reader) Seek(off int) {
	if r.err != nil {
		return
	}
	if off < 0 || off > len(r.b) {
		r.err = ErrShort
		return
	}
	r.off = off
}
