package alloc

import (
	"fmt"

	"github.com/google/btree"
)

// span is a live allocation [addr, addr+size).
type span struct {
	addr uint64
	size uint64
}

func spanLess(a, b span) bool { return a.addr < b.addr }

// ledger records live allocations ordered by address so that overlapping
// claims and mismatched releases are caught. Debug builds only; see
// Options.Validate.
type ledger struct {
	live  *btree.BTreeG[span]
	bytes uint64
}

func newLedger() *ledger {
	return &ledger{live: btree.NewG(16, spanLess)}
}

// claim records [addr, addr+size). It fails if the range overlaps a live one.
func (l *ledger) claim(addr, size uint64) error {
	if p, ok := l.overlapping(addr, size); ok {
		return fmt.Errorf("%w: [%#x, %#x) overlaps live [%#x, %#x)",
			ErrCorrupt, addr, addr+size, p.addr, p.addr+p.size)
	}
	l.live.ReplaceOrInsert(span{addr: addr, size: size})
	l.bytes += size
	return nil
}

// release removes the allocation at addr, which must have the given size.
func (l *ledger) release(addr, size uint64) error {
	s, ok := l.live.Get(span{addr: addr})
	if !ok {
		return fmt.Errorf("%w: no live allocation at %#x", ErrBadFree, addr)
	}
	if s.size != size {
		return fmt.Errorf("%w: allocation at %#x is %d bytes, freed as %d", ErrBadFree, addr, s.size, size)
	}
	l.live.Delete(s)
	l.bytes -= size
	return nil
}

// overlapping returns a live allocation that intersects [addr, addr+size).
func (l *ledger) overlapping(addr, size uint64) (span, bool) {
	var (
		hit   span
		found bool
	)
	l.live.DescendLessOrEqual(span{addr: addr}, func(p span) bool {
		if p.addr+p.size > addr {
			hit, found = p, true
		}
		return false
	})
	if found {
		return hit, true
	}
	l.live.AscendGreaterOrEqual(span{addr: addr}, func(s span) bool {
		if s.addr < addr+size {
			hit, found = s, true
		}
		return false
	})
	return hit, found
}

func (l *ledger) len() int { return l.live.Len() }
