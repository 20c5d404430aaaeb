// Package memmap defines the boundary between the heap and whatever reports
// the machine's physical memory layout at boot. A Source yields descriptor
// records; some of them describe a RAM region.
package memmap

import (
	"fmt"
	"iter"
)

// Region is a physical memory extent [Start, Start+Size).
type Region struct {
	Start uint64
	Size  uint64
}

// End returns the address one past the region.
func (r Region) End() uint64 { return r.Start + r.Size }

// String implements fmt.Stringer.
func (r Region) String() string {
	return fmt.Sprintf("[%#x - %#x] %d bytes", r.Start, r.End(), r.Size)
}

// Record is one boot descriptor. Mem returns the memory region it
// describes, if any.
type Record interface {
	Mem() (Region, bool)
}

// Source yields boot descriptor records in the order the boot loader
// provided them.
type Source interface {
	Records() iter.Seq[Record]
}

// Discover returns the usable extent [start, end) of the first record that
// describes a memory region. Memory below kernelEnd holds the loaded kernel
// image and is excluded. ok is false if no record describes a region, or if
// the first region lies entirely below kernelEnd.
//
// Discover does not allocate from the heap being initialized.
func Discover(src Source, kernelEnd uint64) (start, end uint64, ok bool) {
	if src == nil {
		return 0, 0, false
	}
	for rec := range src.Records() {
		mem, has := rec.Mem()
		if !has {
			continue
		}
		// The end comes from the unclamped start; the kernel clamp only moves start.
		end = mem.Start + mem.Size
		if end < mem.Start {
			return 0, 0, false
		}
		start = max(mem.Start, kernelEnd)
		if start >= end {
			return 0, 0, false
		}
		return start, end, true
	}
	return 0, 0, false
}

// Static is a Source backed by a fixed slice of regions, one record each.
// Useful for explicit boot paths and tests.
type Static []Region

// Mem implements Record for a single region.
func (r Region) Mem() (Region, bool) { return r, r.Size > 0 }

// Records implements Source.
func (s Static) Records() iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for _, r := range s {
			if !yield(r) {
				return
			}
		}
	}
}

// Regions collects every region a Source describes, in order.
func Regions(src Source) []Region {
	var out []Region
	for rec := range src.Records() {
		if mem, ok := rec.Mem(); ok {
			out = append(out, mem)
		}
	}
	return out
}
