package heap

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/joshuapare/kheap/heap/alloc"
	"github.com/joshuapare/kheap/heap/arena"
	"github.com/joshuapare/kheap/heap/memmap"
	"github.com/joshuapare/kheap/heap/page"
	"github.com/joshuapare/kheap/internal/logger"
)

// Region is the full extent an Allocator manages, fixed at initialization.
type Region struct {
	Base uint64
	Size uint64
}

// End returns the address one past the region.
func (r Region) End() uint64 { return r.Base + r.Size }

type state uint8

const (
	stateUninitialized state = iota
	stateInitialized
)

// Allocator is the process-wide heap. The zero value is not usable; create
// one with Uninitialized.
type Allocator struct {
	mu sync.Mutex

	state  state
	region Region
	arena  *arena.Arena
	engine *alloc.FirstFit

	mapper     arena.Mapper
	engineOpts *alloc.Options
	log        *slog.Logger
	kernelEnd  uint64
}

// Uninitialized returns an Allocator that manages nothing yet. It has no side
// effects and is safe to use as a package-level initializer.
func Uninitialized(opts ...Option) *Allocator {
	a := &Allocator{mapper: arena.DefaultMapper}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Allocator) logger() *slog.Logger {
	if a.log != nil {
		return a.log
	}
	return logger.L
}

// Initialize discovers the heap region from the boot memory map: the first
// record describing memory, minus anything below the kernel end, trimmed to
// whole pages. It panics if no such region exists or if the Allocator is
// already initialized.
func (a *Allocator) Initialize(src memmap.Source) {
	const op = "Initialize"
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != stateUninitialized {
		fatal(op, ErrAlreadyInitialized)
	}
	start, end, ok := memmap.Discover(src, a.kernelEnd)
	if !ok {
		fatal(op, ErrNoMemoryMap)
	}
	r, err := page.FromExtent(start, end)
	if err != nil {
		fatal(op, fmt.Errorf("%w: %w", ErrNoMemoryMap, err))
	}
	a.install(op, r)
}

// InitMemmap initializes the heap from an explicit geometry: pageCount pages
// at base, of which the first startOffset bytes are reserved. It panics on
// invalid geometry or if the Allocator is already initialized.
func (a *Allocator) InitMemmap(base, pageCount, startOffset uint64) {
	const op = "InitMemmap"
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != stateUninitialized {
		fatal(op, ErrAlreadyInitialized)
	}
	a.install(op, page.Region{Base: base, Pages: pageCount, Offset: startOffset})
}

// install maps r and seeds the engine with its bootstrap block. Callers hold mu.
func (a *Allocator) install(op string, r page.Region) {
	start, end, err := r.Bootstrap()
	if err != nil {
		fatal(op, fmt.Errorf("%w: %s: %w", ErrBadGeometry, r, err))
	}
	size, _ := r.Bytes()

	ar, err := a.mapper.Map(r.Base, size)
	if err != nil {
		fatal(op, fmt.Errorf("map region %s: %w", r, err))
	}
	engine, err := alloc.New(ar, start, end, a.engineOpts)
	if err != nil {
		_ = ar.Close()
		fatal(op, err)
	}

	a.region = Region{Base: r.Base, Size: size}
	a.arena = ar
	a.engine = engine
	a.state = stateInitialized

	a.logger().Info("heap initialized",
		"base", fmt.Sprintf("%#x", r.Base),
		"pages", r.Pages,
		"managed_start", fmt.Sprintf("%#x", start),
		"managed_end", fmt.Sprintf("%#x", end),
		"overhead", size-(end-start))
}

// lock acquires mu and panics if the Allocator is not initialized. The
// returned func releases mu and turns engine panics into *FatalError.
func (a *Allocator) lock(op string) func() {
	a.mu.Lock()
	if a.state != stateInitialized {
		a.mu.Unlock()
		fatal(op, ErrUninitialized)
	}
	return func() {
		r := recover()
		a.mu.Unlock()
		if r == nil {
			return
		}
		if err, ok := r.(error); ok {
			if _, isFatal := r.(*FatalError); !isFatal {
				fatal(op, err)
			}
		}
		panic(r)
	}
}

// Initialized reports whether the Allocator has been initialized. It never
// panics.
func (a *Allocator) Initialized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == stateInitialized
}

// Alloc returns the address of a block satisfying l. The error wraps
// alloc.ErrOutOfMemory when no free block fits and alloc.ErrBadLayout for a
// non power of two alignment.
func (a *Allocator) Alloc(l alloc.Layout) (uint64, error) {
	defer a.lock("Alloc")()

	addr, err := a.engine.Alloc(l)
	if err != nil {
		return 0, fmt.Errorf("heap: %w", err)
	}
	return addr, nil
}

// Free releases the block at addr. addr and l must be the exact values of a
// prior Alloc call.
func (a *Allocator) Free(addr uint64, l alloc.Layout) {
	defer a.lock("Free")()
	a.engine.Free(addr, l)
}

// Region returns the managed region.
func (a *Allocator) Region() Region {
	defer a.lock("Region")()
	return a.region
}

// Overhead returns the number of region bytes never handed to the engine:
// the reserved start offset and its page rounding.
func (a *Allocator) Overhead() uint64 {
	defer a.lock("Overhead")()
	return a.region.Size - (a.engine.End() - a.engine.Start())
}

// Stats returns a snapshot of the engine counters.
func (a *Allocator) Stats() alloc.Stats {
	defer a.lock("Stats")()
	return a.engine.Stats()
}

// FreeBlocks returns the free list in list order.
func (a *Allocator) FreeBlocks() []alloc.Block {
	defer a.lock("FreeBlocks")()
	return a.engine.Blocks()
}

// CheckInvariants walks the free list and reports the first inconsistency.
func (a *Allocator) CheckInvariants() error {
	defer a.lock("CheckInvariants")()
	return a.engine.CheckInvariants()
}

// PrintStats writes a human-readable summary of the engine state to w.
func (a *Allocator) PrintStats(w io.Writer) {
	defer a.lock("PrintStats")()
	fmt.Fprintf(w, "Region:       [%#x, %#x) %d bytes, %d overhead\n",
		a.region.Base, a.region.End(), a.region.Size, a.region.Size-(a.engine.End()-a.engine.Start()))
	a.engine.PrintStats(w)
}

// Bytes returns a writable view of [addr, addr+n). It panics if the range
// leaves the managed region.
func (a *Allocator) Bytes(addr, n uint64) []byte {
	defer a.lock("Bytes")()
	b, err := a.arena.Slice(addr, n)
	if err != nil {
		fatal("Bytes", err)
	}
	return b
}
