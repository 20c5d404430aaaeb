package alloc

import "errors"

var (
	// ErrOutOfMemory indicates that no free block can hold the request.
	ErrOutOfMemory = errors.New("alloc: out of memory")

	// ErrBadLayout indicates an alignment that is not a power of two.
	ErrBadLayout = errors.New("alloc: alignment must be a power of two")

	// ErrBadRange indicates a managed range that is unaligned, empty, or
	// outside the arena.
	ErrBadRange = errors.New("alloc: bad managed range")

	// ErrCorrupt indicates a free-list header that points outside the managed
	// range. The engine panics with it.
	ErrCorrupt = errors.New("alloc: free list corrupt")

	// ErrBadFree indicates a Free that does not match a live allocation.
	// Only detected when Options.Validate is set; the engine panics with it.
	ErrBadFree = errors.New("alloc: free does not match an allocation")
)
