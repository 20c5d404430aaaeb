package alloc

import (
	"fmt"
	"log/slog"

	"github.com/joshuapare/kheap/heap/arena"
	"github.com/joshuapare/kheap/internal/buf"
	"github.com/joshuapare/kheap/internal/format"
	"github.com/joshuapare/kheap/internal/logger"
)

// FirstFit is the first-fit free-list engine over [start, end) of an arena.
type FirstFit struct {
	a          *arena.Arena
	start, end uint64
	head       uint64

	freeBytes uint64
	freeCount int
	allocated uint64
	live      int

	// ledger of live allocations, nil unless Options.Validate
	ledger *ledger

	stats    allocatorStats
	log      *slog.Logger
	logAlloc bool
}

// allocatorStats holds the engine's operation counters.
type allocatorStats struct {
	AllocCalls       int
	AllocFailures    int
	FreeCalls        int
	SplitCount       int
	CoalesceForward  int
	CoalesceBackward int
}

// New creates an engine whose free list starts as the single block
// [start, end). Both bounds must be granule-aligned and inside a.
func New(a *arena.Arena, start, end uint64, opts *Options) (*FirstFit, error) {
	if opts == nil {
		opts = &Options{}
	}
	if a == nil {
		return nil, fmt.Errorf("%w: nil arena", ErrBadRange)
	}
	if !format.IsAligned(start, format.Granule) || !format.IsAligned(end, format.Granule) {
		return nil, fmt.Errorf("%w: [%#x, %#x) not %d-byte aligned", ErrBadRange, start, end, format.Granule)
	}
	if end <= start {
		return nil, fmt.Errorf("%w: empty range [%#x, %#x)", ErrBadRange, start, end)
	}
	if !a.Contains(start, end-start) {
		return nil, fmt.Errorf("%w: [%#x, %#x) outside arena [%#x, %#x)", ErrBadRange, start, end, a.Base(), a.End())
	}

	fa := &FirstFit{
		a:        a,
		start:    start,
		end:      end,
		head:     format.NilAddr,
		log:      opts.Logger,
		logAlloc: logger.AllocLogging(),
	}
	if fa.log == nil {
		fa.log = logger.L
	}
	if opts.Validate {
		fa.ledger = newLedger()
	}

	fa.push(start, end-start)
	return fa, nil
}

// Start returns the first managed address.
func (fa *FirstFit) Start() uint64 { return fa.start }

// End returns the address one past the managed range.
func (fa *FirstFit) End() uint64 { return fa.end }

// Alloc returns the address of a block that satisfies l, taken from the
// first free block in list order that can hold it.
func (fa *FirstFit) Alloc(l Layout) (uint64, error) {
	fa.stats.AllocCalls++

	if err := l.validate(); err != nil {
		return 0, err
	}
	need, ok := format.RoundGranule(l.Size)
	if !ok || need > fa.end-fa.start {
		return 0, fa.outOfMemory(l)
	}
	align := max(l.Align, format.Granule)

	var (
		found bool
		addr  uint64
	)
	fa.walk(func(prev uint64, n node) bool {
		s, ok := format.AlignUp(n.addr, align)
		if !ok {
			return true
		}
		e, ok := buf.AddU64(s, need)
		if !ok || e > n.end() {
			return true
		}
		fa.carve(prev, n, s, need)
		addr, found = s, true
		return false
	})
	if !found {
		return 0, fa.outOfMemory(l)
	}

	fa.allocated += need
	fa.live++
	if fa.ledger != nil {
		if err := fa.ledger.claim(addr, need); err != nil {
			panic(err)
		}
	}
	return addr, nil
}

// carve takes [s, s+need) out of n. The leading padding and the trailing
// remainder, when non-empty, replace n at its position in the list, padding
// first.
func (fa *FirstFit) carve(prev uint64, n node, s, need uint64) {
	pad := s - n.addr
	tail := n.end() - (s + need)

	fa.unlink(prev, n)
	next := n.next

	if tail > 0 {
		t := node{addr: s + need, size: tail, next: next}
		fa.store(t)
		fa.freeBytes += tail
		fa.freeCount++
		fa.stats.SplitCount++
		next = t.addr
	}
	if pad > 0 {
		p := node{addr: n.addr, size: pad, next: next}
		fa.store(p)
		fa.freeBytes += pad
		fa.freeCount++
		fa.stats.SplitCount++
		next = p.addr
	}
	fa.link(prev, next)

	if fa.logAlloc && (pad > 0 || tail > 0) {
		fa.log.Debug("alloc: split",
			"block", n.addr, "size", n.size, "addr", s, "need", need, "pad", pad, "tail", tail)
	}
}

func (fa *FirstFit) outOfMemory(l Layout) error {
	fa.stats.AllocFailures++
	if fa.logAlloc {
		fa.log.Debug("alloc: out of memory",
			"size", l.Size, "align", l.Align, "free", fa.freeBytes, "blocks", fa.freeCount)
	}
	return fmt.Errorf("%w: size=%d align=%d", ErrOutOfMemory, l.Size, l.Align)
}

// Free returns the block allocated at addr with layout l to the free list and
// merges it with its physical neighbours.
//
// addr and l must be exactly the address returned by Alloc and the Layout it
// was called with. This is not checked unless Options.Validate is set.
func (fa *FirstFit) Free(addr uint64, l Layout) {
	fa.stats.FreeCalls++

	size, ok := format.RoundGranule(l.Size)
	if !ok || !format.IsAligned(addr, format.Granule) || addr < fa.start || addr > fa.end || size > fa.end-addr {
		panic(fmt.Errorf("%w: addr=%#x size=%d outside [%#x, %#x)", ErrBadFree, addr, l.Size, fa.start, fa.end))
	}
	if fa.ledger != nil {
		if err := fa.ledger.release(addr, size); err != nil {
			panic(err)
		}
	}
	fa.allocated -= size
	fa.live--

	fa.push(addr, size)
	fa.coalesceHead()
}

// coalesceHead merges the head block with any free block that ends where it
// starts or starts where it ends, and repeats until neither exists. The
// merged block stays at the head.
func (fa *FirstFit) coalesceHead() {
	for {
		h := fa.load(fa.head)
		merged := false

		fa.walk(func(prev uint64, n node) bool {
			if n.addr == h.addr {
				return true
			}
			switch {
			case n.end() == h.addr:
				fa.unlink(prev, n)
				h = fa.load(fa.head)
				fa.freeBytes -= h.size
				fa.freeCount--
				fa.head = h.next
				fa.push(n.addr, n.size+h.size)
				fa.stats.CoalesceBackward++
			case h.end() == n.addr:
				fa.unlink(prev, n)
				h = fa.load(fa.head)
				h.size += n.size
				fa.store(h)
				fa.freeBytes += n.size
				fa.stats.CoalesceForward++
			default:
				return true
			}
			merged = true
			return false
		})

		if !merged {
			return
		}
		if fa.logAlloc {
			h = fa.load(fa.head)
			fa.log.Debug("alloc: coalesced", "addr", h.addr, "size", h.size)
		}
	}
}
