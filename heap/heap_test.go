package heap

import (
	"bytes"
	"cmp"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/kheap/heap/alloc"
	"github.com/joshuapare/kheap/heap/arena"
	"github.com/joshuapare/kheap/heap/memmap"
	"github.com/joshuapare/kheap/heap/page"
)

// sliceMapper backs regions with ordinary Go memory.
var sliceMapper = arena.MapperFunc(func(base, size uint64) (*arena.Arena, error) {
	return arena.FromBytes(base, make([]byte, size)), nil
})

func newTestHeap(t testing.TB, opts ...Option) *Allocator {
	t.Helper()
	a := Uninitialized(append([]Option{WithMapper(sliceMapper)}, opts...)...)
	a.InitMemmap(0x10_0000, 64, 0)
	return a
}

// requireFatal runs fn and requires it to panic with a *FatalError wrapping target.
func requireFatal(t testing.TB, target error, fn func()) *FatalError {
	t.Helper()
	var got any
	func() {
		defer func() { got = recover() }()
		fn()
	}()
	require.NotNil(t, got, "expected fatal %v", target)
	fe, ok := got.(*FatalError)
	require.True(t, ok, "panic value %T is not *FatalError: %v", got, got)
	require.ErrorIs(t, fe, target)
	return fe
}

func TestUninitializedGuard(t *testing.T) {
	a := Uninitialized()
	assert.False(t, a.Initialized())

	fe := requireFatal(t, ErrUninitialized, func() { _, _ = a.Alloc(alloc.Sized(8)) })
	assert.Equal(t, "Alloc", fe.Op)
	requireFatal(t, ErrUninitialized, func() { a.Free(0x1000, alloc.Sized(8)) })
	requireFatal(t, ErrUninitialized, func() { a.Stats() })
	requireFatal(t, ErrUninitialized, func() { a.Region() })
	requireFatal(t, ErrUninitialized, func() { a.Bytes(0, 1) })

	// The failed calls must not leave the lock held.
	a.Initialize(memmap.Static{{Start: 0x8000, Size: 0x10000}})
	assert.True(t, a.Initialized())
}

func TestInitializeFromMemoryMap(t *testing.T) {
	a := Uninitialized(WithMapper(sliceMapper), WithKernelEnd(0x9800))
	a.Initialize(memmap.Static{
		{Start: 0x8000, Size: 0},
		{Start: 0x8000, Size: 0x100000},
		{Start: 0x20_0000, Size: 0x100000},
	})

	assert.Equal(t, Region{Base: 0xa000, Size: 0xfe000}, a.Region())
	assert.Zero(t, a.Overhead())
	assert.Equal(t, []alloc.Block{{Addr: 0xa000, Size: 0xfe000}}, a.FreeBlocks())
}

func TestInitializeWithoutRegionIsFatal(t *testing.T) {
	a := Uninitialized(WithMapper(sliceMapper))
	requireFatal(t, ErrNoMemoryMap, func() { a.Initialize(memmap.Static{}) })
	requireFatal(t, ErrNoMemoryMap, func() { a.Initialize(nil) })
	assert.False(t, a.Initialized())

	small := Uninitialized(WithMapper(sliceMapper))
	requireFatal(t, ErrNoMemoryMap, func() {
		small.Initialize(memmap.Static{{Start: 0x1010, Size: 0x800}})
	})

	kernel := Uninitialized(WithMapper(sliceMapper), WithKernelEnd(0x50000))
	requireFatal(t, ErrNoMemoryMap, func() {
		kernel.Initialize(memmap.Static{{Start: 0, Size: 0x40000}})
	})
}

func TestInitMemmap(t *testing.T) {
	a := Uninitialized(WithMapper(sliceMapper))
	a.InitMemmap(0x10_0000, 16, 0x1800)

	assert.Equal(t, Region{Base: 0x10_0000, Size: 16 * page.Size}, a.Region())
	assert.Equal(t, uint64(0x2000), a.Overhead())
	assert.Equal(t, []alloc.Block{{Addr: 0x10_2000, Size: 14 * page.Size}}, a.FreeBlocks())

	s := a.Stats()
	assert.Equal(t, a.Region().Size, s.Managed+a.Overhead())
}

func TestInitMemmapBadGeometryIsFatal(t *testing.T) {
	tests := []struct {
		name   string
		pages  uint64
		offset uint64
		cause  error
	}{
		{"zero pages", 0, 0, page.ErrNoPages},
		{"offset past end", 4, 4 * page.Size, page.ErrOffsetOutOfRange},
		{"nothing after rounding", 4, 3*page.Size + 1, page.ErrTooSmall},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Uninitialized(WithMapper(sliceMapper))
			fe := requireFatal(t, ErrBadGeometry, func() { a.InitMemmap(0x10_0000, tt.pages, tt.offset) })
			assert.ErrorIs(t, fe, tt.cause)
			assert.Equal(t, "InitMemmap", fe.Op)
		})
	}
}

func TestDoubleInitializeIsFatal(t *testing.T) {
	a := newTestHeap(t)
	requireFatal(t, ErrAlreadyInitialized, func() { a.InitMemmap(0x40_0000, 4, 0) })
	requireFatal(t, ErrAlreadyInitialized, func() {
		a.Initialize(memmap.Static{{Start: 0x40_0000, Size: 0x10000}})
	})
	assert.Equal(t, uint64(0x10_0000), a.Region().Base)
}

func TestMapperFailureIsFatal(t *testing.T) {
	boom := errors.New("no backing")
	a := Uninitialized(WithMapper(arena.MapperFunc(func(uint64, uint64) (*arena.Arena, error) {
		return nil, boom
	})))
	requireFatal(t, boom, func() { a.InitMemmap(0, 1, 0) })
	assert.False(t, a.Initialized())
}

func TestAllocFreeRoundTrip(t *testing.T) {
	a := newTestHeap(t)
	before := a.FreeBlocks()

	l, err := alloc.NewLayout(100, 64)
	require.NoError(t, err)
	addr, err := a.Alloc(l)
	require.NoError(t, err)
	assert.Zero(t, addr%64)

	b := a.Bytes(addr, l.Size)
	copy(b, bytes.Repeat([]byte{0xab}, len(b)))
	assert.Equal(t, byte(0xab), a.Bytes(addr+99, 1)[0])

	a.Free(addr, l)
	assert.Equal(t, before, a.FreeBlocks())
	require.NoError(t, a.CheckInvariants())
}

func TestAllocErrors(t *testing.T) {
	a := newTestHeap(t)

	_, err := a.Alloc(alloc.Sized(a.Region().Size + 1))
	require.ErrorIs(t, err, alloc.ErrOutOfMemory)

	_, err = a.Alloc(alloc.Layout{Size: 8, Align: 3})
	require.ErrorIs(t, err, alloc.ErrBadLayout)

	s := a.Stats()
	assert.Equal(t, 2, s.AllocCalls)
	assert.Equal(t, 1, s.AllocFailures, "bad layouts are rejected before the search")
}

func TestBytesOutsideRegionIsFatal(t *testing.T) {
	a := newTestHeap(t)
	requireFatal(t, arena.ErrOutOfBounds, func() { a.Bytes(a.Region().End()-8, 16) })
	_ = a.Stats()
}

func TestEnginePanicBecomesFatal(t *testing.T) {
	a := newTestHeap(t, WithEngineOptions(&alloc.Options{Validate: true}))
	addr, err := a.Alloc(alloc.Sized(32))
	require.NoError(t, err)

	fe := requireFatal(t, alloc.ErrBadFree, func() { a.Free(addr+16, alloc.Sized(16)) })
	assert.Equal(t, "Free", fe.Op)

	a.Free(addr, alloc.Sized(32))
	require.NoError(t, a.CheckInvariants())
}

func TestInitializeLogs(t *testing.T) {
	var out bytes.Buffer
	log := slog.New(slog.NewTextHandler(&out, nil))
	newTestHeap(t, WithLogger(log))
	assert.Contains(t, out.String(), "heap initialized")
	assert.Contains(t, out.String(), "base=0x100000")
}

func TestFatalErrorMessage(t *testing.T) {
	fe := &FatalError{Op: "Alloc", Err: ErrUninitialized}
	assert.Equal(t, "heap: fatal in Alloc: heap: allocator not initialized", fe.Error())
}

// TestConcurrentAllocFree hammers one Allocator from many goroutines and then
// checks that no two live allocations overlap and that every byte is
// accounted for.
func TestConcurrentAllocFree(t *testing.T) {
	const (
		workers = 8
		steps   = 400
	)
	a := newTestHeap(t, WithEngineOptions(&alloc.Options{Validate: true}))

	type live struct {
		addr uint64
		l    alloc.Layout
	}
	kept := make([][]live, workers)

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var mine []live
			for i := range steps {
				if i%3 == 2 && len(mine) > 0 {
					v := mine[len(mine)-1]
					mine = mine[:len(mine)-1]
					a.Free(v.addr, v.l)
					continue
				}
				l := alloc.Layout{Size: uint64(16 + (w*37+i*11)%200), Align: 1 << (i % 7)}
				addr, err := a.Alloc(l)
				if err != nil {
					continue
				}
				b := a.Bytes(addr, l.Size)
				b[0] = byte(w)
				mine = append(mine, live{addr: addr, l: l})
			}
			kept[w] = mine
		}()
	}
	wg.Wait()

	type span struct{ start, end uint64 }
	var spans []span
	var liveBytes uint64
	for _, mine := range kept {
		for _, v := range mine {
			n := (max(v.l.Size, 1) + 15) &^ 15
			spans = append(spans, span{v.addr, v.addr + n})
			liveBytes += n
		}
	}
	slices.SortFunc(spans, func(x, y span) int { return cmp.Compare(x.start, y.start) })
	for i := 1; i < len(spans); i++ {
		require.LessOrEqual(t, spans[i-1].end, spans[i].start, "live allocations overlap")
	}

	require.NoError(t, a.CheckInvariants())
	s := a.Stats()
	assert.Equal(t, liveBytes, s.Allocated)
	assert.Equal(t, s.Managed, s.Allocated+s.Free)
	assert.Equal(t, a.Region().Size, s.Managed+a.Overhead())

	for w, mine := range kept {
		for _, v := range mine {
			assert.Equal(t, byte(w), a.Bytes(v.addr, 1)[0])
			a.Free(v.addr, v.l)
		}
	}
	assert.Equal(t, []alloc.Block{{Addr: 0x10_0000, Size: 64 * page.Size}}, a.FreeBlocks())
}

func TestPrintStats(t *testing.T) {
	a := newTestHeap(t)
	_, err := a.Alloc(alloc.Sized(40))
	require.NoError(t, err)

	var sb strings.Builder
	a.PrintStats(&sb)
	assert.Contains(t, sb.String(), "Region:       [0x100000, 0x140000) 262144 bytes, 0 overhead")
	assert.Contains(t, sb.String(), "Allocated:    48 bytes in 1 live allocations")
}
