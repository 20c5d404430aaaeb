package alloc

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/joshuapare/kheap/internal/format"
)

// Stats returns a snapshot of the engine counters.
func (fa *FirstFit) Stats() Stats {
	return Stats{
		AllocCalls:       fa.stats.AllocCalls,
		AllocFailures:    fa.stats.AllocFailures,
		FreeCalls:        fa.stats.FreeCalls,
		SplitCount:       fa.stats.SplitCount,
		CoalesceForward:  fa.stats.CoalesceForward,
		CoalesceBackward: fa.stats.CoalesceBackward,
		Live:             fa.live,
		Managed:          fa.end - fa.start,
		Allocated:        fa.allocated,
		Free:             fa.freeBytes,
		FreeBlocks:       fa.freeCount,
		Largest:          fa.Largest(),
	}
}

// Blocks returns the free list in list order.
func (fa *FirstFit) Blocks() []Block {
	out := make([]Block, 0, fa.freeCount)
	fa.walk(func(_ uint64, n node) bool {
		out = append(out, Block{Addr: n.addr, Size: n.size})
		return true
	})
	return out
}

// Largest returns the size of the largest free block, the biggest request
// (at granule alignment) that can currently succeed.
func (fa *FirstFit) Largest() uint64 {
	var largest uint64
	fa.walk(func(_ uint64, n node) bool {
		largest = max(largest, n.size)
		return true
	})
	return largest
}

// CheckInvariants walks the free list and verifies that it is acyclic, that
// every block is granule-aligned, at least one header long and inside the
// managed range, that no two blocks overlap, and that free plus allocated
// bytes add up to the managed size. With Options.Validate it also checks that
// no free block overlaps a live allocation.
//
// CheckInvariants is a diagnostic; it allocates.
func (fa *FirstFit) CheckInvariants() (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok && errors.Is(e, ErrCorrupt) {
				err = e
				return
			}
			panic(r)
		}
	}()

	blocks := fa.Blocks()

	var total uint64
	for _, b := range blocks {
		if !format.IsAligned(b.Addr, format.Granule) || !format.IsAligned(b.Size, format.Granule) {
			return fmt.Errorf("%w: block [%#x, +%d) not granule aligned", ErrCorrupt, b.Addr, b.Size)
		}
		if b.Addr < fa.start || b.End() > fa.end {
			return fmt.Errorf("%w: block [%#x, %#x) outside managed range", ErrCorrupt, b.Addr, b.End())
		}
		if fa.ledger != nil {
			if s, ok := fa.ledger.overlapping(b.Addr, b.Size); ok {
				return fmt.Errorf("%w: free block [%#x, %#x) overlaps live [%#x, %#x)",
					ErrCorrupt, b.Addr, b.End(), s.addr, s.addr+s.size)
			}
		}
		total += b.Size
	}

	sorted := slices.Clone(blocks)
	slices.SortFunc(sorted, func(a, b Block) int { return cmp.Compare(a.Addr, b.Addr) })
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].End() > sorted[i].Addr {
			return fmt.Errorf("%w: blocks [%#x, %#x) and [%#x, %#x) overlap", ErrCorrupt,
				sorted[i-1].Addr, sorted[i-1].End(), sorted[i].Addr, sorted[i].End())
		}
	}

	if len(blocks) != fa.freeCount || total != fa.freeBytes {
		return fmt.Errorf("%w: list holds %d blocks/%d bytes, counters say %d/%d",
			ErrCorrupt, len(blocks), total, fa.freeCount, fa.freeBytes)
	}
	if total+fa.allocated != fa.end-fa.start {
		return fmt.Errorf("%w: free %d + allocated %d != managed %d",
			ErrCorrupt, total, fa.allocated, fa.end-fa.start)
	}
	if fa.ledger != nil && (fa.ledger.bytes != fa.allocated || fa.ledger.len() != fa.live) {
		return fmt.Errorf("%w: ledger holds %d allocations/%d bytes, counters say %d/%d",
			ErrCorrupt, fa.ledger.len(), fa.ledger.bytes, fa.live, fa.allocated)
	}
	return nil
}

// PrintStats writes a human-readable summary of the engine to w.
func (fa *FirstFit) PrintStats(w io.Writer) {
	s := fa.Stats()
	fmt.Fprintf(w, "=== First-Fit Allocator Stats ===\n")
	fmt.Fprintf(w, "Managed:      [%#x, %#x) %d bytes\n", fa.start, fa.end, s.Managed)
	fmt.Fprintf(w, "Allocated:    %d bytes in %d live allocations\n", s.Allocated, s.Live)
	fmt.Fprintf(w, "Free:         %d bytes in %d blocks (largest %d)\n", s.Free, s.FreeBlocks, s.Largest)
	fmt.Fprintf(w, "Alloc calls:  %d (%d out of memory)\n", s.AllocCalls, s.AllocFailures)
	fmt.Fprintf(w, "Free calls:   %d\n", s.FreeCalls)
	fmt.Fprintf(w, "Splits:       %d\n", s.SplitCount)
	fmt.Fprintf(w, "Coalesces:    %d forward, %d backward\n", s.CoalesceForward, s.CoalesceBackward)
	if s.Managed > 0 && s.Free > 0 {
		frag := 100 * (1 - float64(s.Largest)/float64(s.Free))
		fmt.Fprintf(w, "Fragmentation: %.1f%%\n", frag)
	}
}
