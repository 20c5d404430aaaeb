// Package page converts page-granular memory descriptions into the single
// byte range the block engine starts from. It is the only place page units
// appear; the engine works in bytes.
package page

import (
	"errors"
	"fmt"

	"github.com/joshuapare/kheap/internal/buf"
	"github.com/joshuapare/kheap/internal/format"
)

const (
	// Shift is equal to log2(Size). Shift right by Shift to turn an address
	// into a page number and vice-versa.
	Shift = 12

	// Size defines the page size in bytes.
	Size = uint64(1 << Shift)
)

var (
	// ErrNoPages indicates a region with a zero page count.
	ErrNoPages = errors.New("page: region has no pages")

	// ErrOffsetOutOfRange indicates a start offset at or past the region end.
	ErrOffsetOutOfRange = errors.New("page: start offset outside region")

	// ErrTooSmall indicates that nothing usable is left once the reserved
	// prefix is rounded away.
	ErrTooSmall = errors.New("page: usable range smaller than one block")

	// ErrOverflow indicates a region whose end does not fit in the address space.
	ErrOverflow = errors.New("page: region overflows address space")

	// ErrUnaligned indicates a region base that is not page-aligned.
	ErrUnaligned = errors.New("page: base not page aligned")
)

// Region is a page-granular memory description: Pages pages starting at
// Base, of which the first Offset bytes are reserved for something else
// (typically the loaded kernel image).
type Region struct {
	Base   uint64
	Pages  uint64
	Offset uint64
}

// FromExtent builds a Region from a byte extent [start, end) as reported by
// a memory map. The base is rounded up and the end down to whole pages.
func FromExtent(start, end uint64) (Region, error) {
	base, ok := format.AlignUp(start, Size)
	if !ok {
		return Region{}, fmt.Errorf("%w: start=%#x", ErrOverflow, start)
	}
	last := format.AlignDown(end, Size)
	if last <= base {
		return Region{}, fmt.Errorf("%w: [%#x, %#x) holds no whole page", ErrNoPages, start, end)
	}
	return Region{Base: base, Pages: (last - base) >> Shift}, nil
}

// Bytes returns the size of the region in bytes.
func (r Region) Bytes() (uint64, bool) {
	return buf.MulU64(r.Pages, Size)
}

// End returns the address one past the last page. ok is false when that
// address is not representable, including a region ending exactly at 2^64.
func (r Region) End() (uint64, bool) {
	n, ok := r.Bytes()
	if !ok {
		return 0, false
	}
	return buf.AddU64(r.Base, n)
}

// Validate reports whether the region describes a usable range.
func (r Region) Validate() error {
	_, _, err := r.Bootstrap()
	return err
}

// Bootstrap returns the initial free block [start, end): the region minus
// its reserved prefix, with the start rounded up to the next page boundary.
func (r Region) Bootstrap() (start, end uint64, err error) {
	if r.Pages == 0 {
		return 0, 0, ErrNoPages
	}
	if !format.IsAligned(r.Base, Size) {
		return 0, 0, fmt.Errorf("%w: base=%#x", ErrUnaligned, r.Base)
	}
	end, ok := r.End()
	if !ok {
		return 0, 0, fmt.Errorf("%w: base=%#x pages=%d", ErrOverflow, r.Base, r.Pages)
	}
	size := end - r.Base
	if r.Offset >= size {
		return 0, 0, fmt.Errorf("%w: offset=%#x size=%#x", ErrOffsetOutOfRange, r.Offset, size)
	}
	start, ok = format.AlignUp(r.Base+r.Offset, Size)
	if !ok || start >= end || end-start < format.Granule {
		return 0, 0, fmt.Errorf("%w: [%#x, %#x)", ErrTooSmall, r.Base+r.Offset, end)
	}
	return start, end, nil
}

// String implements fmt.Stringer.
func (r Region) String() string {
	return fmt.Sprintf("[%#x +%d pages, reserved %#x]", r.Base, r.Pages, r.Offset)
}
