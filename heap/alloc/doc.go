// Package alloc implements the block free-list engine behind the kernel heap.
//
// # Overview
//
// The engine manages one contiguous byte range inside an arena. Unused space
// is tracked as an intrusive, singly-linked list of free blocks whose headers
// live in the first bytes of the ranges they describe:
//
//	0x00  u64  block size (header included)
//	0x08  u64  address of the next free block (format.NilAddr at the tail)
//
// Allocated blocks carry no header. The caller hands the original Layout back
// to Free, and the engine rebuilds the block boundaries from it.
//
// # Policy
//
// Allocation is strictly first-fit in list order: the list is walked from the
// head and the first block that can hold the request at the requested
// alignment is used, even when a later block would fit exactly. The list is in
// insertion order, not address order.
//
// Every address and size is a multiple of the 16-byte granule, which is also
// the header size. When a block is carved the leading alignment padding and
// the trailing remainder are each either empty or at least one granule, so
// both go back on the list at the position the original block held. Nothing
// is ever absorbed into an allocation.
//
// Free pushes the released block at the head and merges it with any
// physically adjacent free block until no neighbour is left.
//
// # Usage Example
//
//	a, _ := arena.New(0x80000, 1<<20)
//	ff, err := alloc.New(a, a.Base(), a.End(), nil)
//	if err != nil {
//	    return err
//	}
//
//	l, _ := alloc.NewLayout(256, 64)
//	addr, err := ff.Alloc(l)
//	if errors.Is(err, alloc.ErrOutOfMemory) {
//	    // higher-level policy decides
//	}
//	ff.Free(addr, l)
//
// # Thread Safety
//
// FirstFit is not safe for concurrent use. The heap package wraps it in a
// single lock.
package alloc
