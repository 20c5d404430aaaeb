package alloc

import (
	"fmt"

	"github.com/joshuapare/kheap/internal/format"
)

// node is a decoded free-block header together with its address.
type node struct {
	addr uint64
	size uint64
	next uint64
}

func (n node) end() uint64 { return n.addr + n.size }

// load decodes the header at addr. A header outside the managed range, or
// one describing an impossible block, means the list is corrupt and the
// engine cannot continue.
func (fa *FirstFit) load(addr uint64) node {
	if addr < fa.start || addr >= fa.end {
		panic(fmt.Errorf("%w: block %#x outside [%#x, %#x)", ErrCorrupt, addr, fa.start, fa.end))
	}
	size, next, err := fa.a.ReadHeader(addr)
	if err != nil {
		panic(fmt.Errorf("%w: %w", ErrCorrupt, err))
	}
	if size < format.HeaderSize || size > fa.end-addr {
		panic(fmt.Errorf("%w: block %#x has size %d", ErrCorrupt, addr, size))
	}
	return node{addr: addr, size: size, next: next}
}

// store writes n's header.
func (fa *FirstFit) store(n node) {
	if err := fa.a.WriteHeader(n.addr, n.size, n.next); err != nil {
		panic(fmt.Errorf("%w: %w", ErrCorrupt, err))
	}
}

// link points prev at next. prev == NilAddr updates the list head.
func (fa *FirstFit) link(prev, next uint64) {
	if prev == format.NilAddr {
		fa.head = next
		return
	}
	p := fa.load(prev)
	p.next = next
	fa.store(p)
}

// unlink removes n, whose predecessor is prev, from the list.
func (fa *FirstFit) unlink(prev uint64, n node) {
	fa.link(prev, n.next)
	fa.freeBytes -= n.size
	fa.freeCount--
}

// push inserts a new block at the head of the list.
func (fa *FirstFit) push(addr, size uint64) {
	fa.store(node{addr: addr, size: size, next: fa.head})
	fa.head = addr
	fa.freeBytes += size
	fa.freeCount++
}

// walk calls fn for every block in list order along with the address of its
// predecessor. fn returns false to stop. The walk is bounded by the number of
// granules in the managed range, so a cycle panics instead of spinning.
func (fa *FirstFit) walk(fn func(prev uint64, n node) bool) {
	limit := (fa.end-fa.start)/format.Granule + 1
	prev := format.NilAddr
	for cur := fa.head; cur != format.NilAddr; {
		if limit == 0 {
			panic(fmt.Errorf("%w: cycle reachable from head %#x", ErrCorrupt, fa.head))
		}
		limit--
		n := fa.load(cur)
		if !fn(prev, n) {
			return
		}
		prev = cur
		cur = n.next
	}
}
