package alloc

import (
	"fmt"
	"log/slog"

	"github.com/joshuapare/kheap/internal/format"
)

// Layout is a (size, alignment) allocation request. Align must be a power of
// two; Size may be zero.
type Layout struct {
	Size  uint64
	Align uint64
}

// NewLayout validates and returns a Layout.
func NewLayout(size, align uint64) (Layout, error) {
	l := Layout{Size: size, Align: align}
	if err := l.validate(); err != nil {
		return Layout{}, err
	}
	return l, nil
}

// Sized returns a word-aligned Layout for size bytes.
func Sized(size uint64) Layout {
	return Layout{Size: size, Align: format.WordSize}
}

func (l Layout) validate() error {
	if !format.IsPow2(l.Align) {
		return fmt.Errorf("%w: align=%d", ErrBadLayout, l.Align)
	}
	return nil
}

// Block describes a free byte range [Addr, Addr+Size).
type Block struct {
	Addr uint64
	Size uint64
}

// End returns the address one past the block.
func (b Block) End() uint64 { return b.Addr + b.Size }

// Options configures a FirstFit engine. A nil *Options selects the defaults.
type Options struct {
	// Validate keeps a ledger of live allocations and panics with ErrBadFree
	// on a Free that does not match one. Off by default; Free is otherwise an
	// unchecked caller contract.
	Validate bool

	// Logger receives debug records for splits, merges and failed requests
	// when KHEAP_LOG_ALLOC is set. Default: logger.L.
	Logger *slog.Logger
}

// Stats is a snapshot of engine counters and byte totals.
type Stats struct {
	AllocCalls       int // Total Alloc() calls
	AllocFailures    int // Alloc() calls that returned ErrOutOfMemory
	FreeCalls        int // Total Free() calls
	SplitCount       int // Pieces returned to the list while carving
	CoalesceForward  int // Merges with a block that follows the freed one
	CoalesceBackward int // Merges with a block that precedes the freed one

	Live       int    // Allocations currently outstanding
	Managed    uint64 // Bytes handed to the engine at construction
	Allocated  uint64 // Bytes in live allocations (granule-rounded)
	Free       uint64 // Bytes described by the free list
	FreeBlocks int    // Number of free blocks
	Largest    uint64 // Size of the largest free block
}
