package alloc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/kheap/heap/arena"
	"github.com/joshuapare/kheap/internal/format"
)

// ============================================================================
// Test Helpers
// ============================================================================

// newTestEngine creates an engine managing all of a fresh arena at base.
func newTestEngine(t testing.TB, base, size uint64, opts *Options) *FirstFit {
	t.Helper()
	a := arena.FromBytes(base, make([]byte, size))
	fa, err := New(a, base, base+size, opts)
	require.NoError(t, err)
	return fa
}

// newEngineWithBlocks creates an engine over [0, size) whose free list holds
// exactly blocks, in the given order. Every byte not covered by a block is
// accounted as allocated.
func newEngineWithBlocks(t testing.TB, size uint64, blocks []Block) *FirstFit {
	t.Helper()
	fa := newTestEngine(t, 0, size, nil)

	fa.head = format.NilAddr
	fa.freeBytes = 0
	fa.freeCount = 0
	for i := len(blocks) - 1; i >= 0; i-- {
		fa.push(blocks[i].Addr, blocks[i].Size)
	}
	fa.allocated = size - fa.freeBytes
	assertInvariants(t, fa)
	require.Equal(t, blocks, fa.Blocks())
	return fa
}

// assertInvariants fails the test if the free list is inconsistent.
func assertInvariants(t testing.TB, fa *FirstFit) {
	t.Helper()
	require.NoError(t, fa.CheckInvariants())
}

// requirePanicIs runs fn and requires it to panic with an error matching target.
func requirePanicIs(t testing.TB, target error, fn func()) {
	t.Helper()
	var got any
	func() {
		defer func() { got = recover() }()
		fn()
	}()
	require.NotNil(t, got, "expected panic wrapping %v", target)
	err, ok := got.(error)
	require.True(t, ok, "panic value %v is not an error", got)
	require.True(t, errors.Is(err, target), "panic %v does not wrap %v", err, target)
}

// layout builds a Layout, failing the test on a bad alignment.
func layout(t testing.TB, size, align uint64) Layout {
	t.Helper()
	l, err := NewLayout(size, align)
	require.NoError(t, err)
	return l
}

// liveSet tracks test allocations so overlap can be checked after each step.
type liveSet map[uint64]uint64

func (s liveSet) add(t testing.TB, addr, size uint64) {
	t.Helper()
	for a, sz := range s {
		if addr < a+sz && a < addr+size {
			t.Fatalf("allocation [%#x, %#x) overlaps live [%#x, %#x)", addr, addr+size, a, a+sz)
		}
	}
	s[addr] = size
}

func (s liveSet) String() string {
	return fmt.Sprintf("%d live", len(s))
}
