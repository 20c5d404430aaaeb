// Package arena models a stretch of physical memory as an addressable byte
// slice. Every access is bounds-checked against the arena's address range, so
// a corrupted header surfaces as an error instead of a stray write.
package arena

import (
	"errors"
	"fmt"
	"math"

	"github.com/joshuapare/kheap/internal/buf"
	"github.com/joshuapare/kheap/internal/format"
)

var (
	// ErrOutOfBounds indicates an access outside [Base, End).
	ErrOutOfBounds = errors.New("arena: access out of bounds")

	// ErrTooLarge indicates a requested arena cannot be represented in memory.
	ErrTooLarge = errors.New("arena: size too large")

	// ErrClosed indicates use of an arena after Close.
	ErrClosed = errors.New("arena: closed")
)

// Arena is a contiguous byte range standing in for physical memory at
// [Base, Base+Size).
type Arena struct {
	base    uint64
	data    []byte
	release func([]byte) error
}

// Mapper provides the backing memory for a physical extent.
type Mapper interface {
	Map(base, size uint64) (*Arena, error)
}

// MapperFunc adapts a function to the Mapper interface.
type MapperFunc func(base, size uint64) (*Arena, error)

// Map calls f(base, size).
func (f MapperFunc) Map(base, size uint64) (*Arena, error) { return f(base, size) }

// DefaultMapper maps extents with New.
var DefaultMapper Mapper = MapperFunc(New)

// New returns an arena of size bytes whose first byte lives at address base.
// The memory comes from an anonymous mapping where the platform has one.
// End must be representable, so the last addressable byte is 2^64-2.
func New(base, size uint64) (*Arena, error) {
	if size > math.MaxInt {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
	}
	if _, ok := buf.AddU64(base, size); !ok {
		return nil, fmt.Errorf("%w: base=%#x size=%#x wraps", ErrTooLarge, base, size)
	}
	if size == 0 {
		return &Arena{base: base, data: []byte{}}, nil
	}
	data, release, err := mapAnon(int(size))
	if err != nil {
		return nil, fmt.Errorf("arena: map %d bytes: %w", size, err)
	}
	return &Arena{base: base, data: data, release: release}, nil
}

// FromBytes wraps an existing slice. The arena does not own b.
func FromBytes(base uint64, b []byte) *Arena {
	return &Arena{base: base, data: b}
}

// Base returns the address of the first byte.
func (a *Arena) Base() uint64 { return a.base }

// Size returns the number of bytes in the arena.
func (a *Arena) Size() uint64 { return uint64(len(a.data)) }

// End returns the address one past the last byte.
func (a *Arena) End() uint64 { return a.base + uint64(len(a.data)) }

// Contains reports whether [addr, addr+n) lies within the arena.
func (a *Arena) Contains(addr, n uint64) bool {
	_, err := buf.CheckRange(a.base, a.Size(), addr, n)
	return err == nil
}

// Slice returns the n bytes starting at addr.
func (a *Arena) Slice(addr, n uint64) ([]byte, error) {
	if a.data == nil {
		return nil, ErrClosed
	}
	off, err := buf.CheckRange(a.base, a.Size(), addr, n)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOutOfBounds, err)
	}
	return a.data[off : off+int(n)], nil
}

// ReadHeader decodes the free-block header stored at addr.
func (a *Arena) ReadHeader(addr uint64) (size, next uint64, err error) {
	b, err := a.Slice(addr, format.HeaderSize)
	if err != nil {
		return 0, 0, err
	}
	size, next = format.ReadHeader(b, 0)
	return size, next, nil
}

// WriteHeader encodes a free-block header at addr.
func (a *Arena) WriteHeader(addr, size, next uint64) error {
	b, err := a.Slice(addr, format.HeaderSize)
	if err != nil {
		return err
	}
	format.PutHeader(b, 0, size, next)
	return nil
}

// Close releases the backing memory. Closing twice is a no-op.
func (a *Arena) Close() error {
	if a.data == nil {
		return nil
	}
	data := a.data
	a.data = nil
	if a.release == nil {
		return nil
	}
	return a.release(data)
}
