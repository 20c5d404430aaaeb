package alloc

import (
	"math/rand"
	"testing"
)

func BenchmarkAllocFree_Fixed(b *testing.B) {
	fa := newTestEngine(b, 0, 1<<20, nil)
	l := Sized(64)
	b.ReportAllocs()
	for b.Loop() {
		addr, err := fa.Alloc(l)
		if err != nil {
			b.Fatal(err)
		}
		fa.Free(addr, l)
	}
}

func BenchmarkAllocFree_Fragmented(b *testing.B) {
	fa := newTestEngine(b, 0, 1<<20, nil)
	rng := rand.New(rand.NewSource(1))

	// Leave every other block allocated so the list is long.
	var keep []uint64
	for i := range 2048 {
		addr, err := fa.Alloc(Sized(128))
		if err != nil {
			b.Fatal(err)
		}
		if i%2 == 0 {
			keep = append(keep, addr)
		}
	}
	for _, addr := range keep {
		fa.Free(addr, Sized(128))
	}

	b.ReportAllocs()
	b.ResetTimer()
	for b.Loop() {
		l := Sized(uint64(16 + rng.Intn(112)))
		addr, err := fa.Alloc(l)
		if err != nil {
			b.Fatal(err)
		}
		fa.Free(addr, l)
	}
}
