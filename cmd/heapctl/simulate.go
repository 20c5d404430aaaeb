package main

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshuapare/kheap/heap"
	"github.com/joshuapare/kheap/heap/alloc"
	"github.com/joshuapare/kheap/heap/page"
	"github.com/joshuapare/kheap/internal/format"
	"github.com/joshuapare/kheap/internal/logger"
)

var (
	simBase     uint64
	simPages    uint64
	simOffset   uint64
	simWorkers  int
	simSteps    int
	simSeed     int64
	simMaxSize  uint64
	simMaxAlign uint64
	simValidate bool
)

func init() {
	cmd := newSimulateCmd()
	cmd.Flags().Uint64Var(&simBase, "base", 0x10_0000, "Region base address (page aligned)")
	cmd.Flags().Uint64Var(&simPages, "pages", 256, "Region size in pages")
	cmd.Flags().Uint64Var(&simOffset, "offset", 0, "Bytes reserved at the start of the region")
	cmd.Flags().IntVar(&simWorkers, "workers", 4, "Concurrent goroutines")
	cmd.Flags().IntVar(&simSteps, "steps", 2000, "Operations per goroutine")
	cmd.Flags().Int64Var(&simSeed, "seed", 1, "Random seed")
	cmd.Flags().Uint64Var(&simMaxSize, "max-size", 512, "Largest request size in bytes")
	cmd.Flags().Uint64Var(&simMaxAlign, "max-align", 256, "Largest request alignment (power of two)")
	cmd.Flags().BoolVar(&simValidate, "validate", true, "Track live allocations and abort on a bad free")
	rootCmd.AddCommand(cmd)
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a concurrent random workload against the heap",
		Long: `The simulate command initializes a heap over simulated physical memory,
drives it from several goroutines with a seeded random mix of allocations and
frees, then checks that no live allocations overlap and that every byte of the
region is accounted for.

Example:
  heapctl simulate
  heapctl simulate --pages 1024 --workers 8 --steps 10000
  heapctl simulate --seed 7 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate()
		},
	}
	return cmd
}

// SimulateResult summarizes a workload run.
type SimulateResult struct {
	Region     heap.Region   `json:"region"`
	Overhead   uint64        `json:"overhead"`
	Workers    int           `json:"workers"`
	Steps      int           `json:"steps"`
	Seed       int64         `json:"seed"`
	Failures   int           `json:"failures"`
	Live       int           `json:"live"`
	LiveBytes  uint64        `json:"live_bytes"`
	Stats      alloc.Stats   `json:"stats"`
	FreeBlocks []alloc.Block `json:"free_blocks,omitempty"`
	Elapsed    string        `json:"elapsed"`
}

type liveAlloc struct {
	addr uint64
	l    alloc.Layout
}

var errOverlap = errors.New("live allocations overlap")

func runSimulate() error {
	if !format.IsPow2(simMaxAlign) {
		return fmt.Errorf("--max-align %d is not a power of two", simMaxAlign)
	}
	if simMaxSize >= math.MaxInt64 {
		return fmt.Errorf("--max-size %d must be below %d", simMaxSize, uint64(math.MaxInt64))
	}
	if simWorkers < 1 {
		return fmt.Errorf("--workers must be at least 1")
	}
	region := page.Region{Base: simBase, Pages: simPages, Offset: simOffset}
	if err := region.Validate(); err != nil {
		return fmt.Errorf("invalid region %s: %w", region, err)
	}

	h := heap.Uninitialized(
		heap.WithEngineOptions(&alloc.Options{Validate: simValidate}),
		heap.WithLogger(logger.L),
	)
	if err := initHeap(h); err != nil {
		return err
	}
	printVerbose("Heap region [%#x, %#x)\n", h.Region().Base, h.Region().End())

	start := time.Now()
	live, failures := drive(h)
	elapsed := time.Since(start)
	logger.Info("simulation finished",
		"workers", simWorkers, "steps", simSteps, "seed", simSeed, "live", len(live), "failures", failures, "elapsed", elapsed)

	liveBytes, err := checkDisjoint(live)
	if err != nil {
		return err
	}
	if err := h.CheckInvariants(); err != nil {
		return fmt.Errorf("heap invariants violated: %w", err)
	}

	res := SimulateResult{
		Region:    h.Region(),
		Overhead:  h.Overhead(),
		Workers:   simWorkers,
		Steps:     simSteps,
		Seed:      simSeed,
		Failures:  failures,
		Live:      len(live),
		LiveBytes: liveBytes,
		Stats:     h.Stats(),
		Elapsed:   elapsed.String(),
	}
	if res.Stats.Allocated != liveBytes || res.Stats.Allocated+res.Stats.Free != res.Stats.Managed {
		return fmt.Errorf("byte accounting mismatch: live %d, allocated %d, free %d, managed %d",
			liveBytes, res.Stats.Allocated, res.Stats.Free, res.Stats.Managed)
	}
	if verbose {
		res.FreeBlocks = h.FreeBlocks()
	}

	if jsonOut {
		return printJSON(res)
	}

	printInfo("\nSimulation (%d workers x %d steps, seed %d) finished in %s\n",
		res.Workers, res.Steps, res.Seed, res.Elapsed)
	printInfo("  Live allocations: %d (%d bytes)\n", res.Live, res.LiveBytes)
	printInfo("  Out of memory:    %d\n", res.Failures)
	printInfo("  ✓ No overlapping allocations\n")
	printInfo("  ✓ Free list consistent\n\n")
	if !quiet {
		h.PrintStats(os.Stdout)
	}
	for _, b := range res.FreeBlocks {
		printVerbose("  free [%#x, %#x) %d bytes\n", b.Addr, b.End(), b.Size)
	}
	return nil
}

// initHeap turns an initialization abort into an error for the CLI.
func initHeap(h *heap.Allocator) (err error) {
	defer func() {
		if r := recover(); r != nil {
			var fe *heap.FatalError
			if e, ok := r.(error); ok && errors.As(e, &fe) {
				err = fe
				return
			}
			panic(r)
		}
	}()
	h.InitMemmap(simBase, simPages, simOffset)
	return nil
}

// drive runs the workload and returns the allocations still live at the end
// along with the number of out-of-memory failures.
func drive(h *heap.Allocator) ([]liveAlloc, int) {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		all      []liveAlloc
		failures int
	)
	maxShift := 0
	for uint64(1)<<maxShift < simMaxAlign {
		maxShift++
	}

	for w := range simWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewSource(simSeed + int64(w)))
			var mine []liveAlloc
			oom := 0
			for range simSteps {
				if len(mine) > 0 && rng.Intn(3) == 0 {
					j := rng.Intn(len(mine))
					v := mine[j]
					mine[j] = mine[len(mine)-1]
					mine = mine[:len(mine)-1]
					h.Free(v.addr, v.l)
					continue
				}
				l := alloc.Layout{
					Size:  uint64(rng.Int63n(int64(simMaxSize) + 1)),
					Align: 1 << rng.Intn(maxShift+1),
				}
				addr, err := h.Alloc(l)
				if err != nil {
					oom++
					continue
				}
				mine = append(mine, liveAlloc{addr: addr, l: l})
			}

			mu.Lock()
			all = append(all, mine...)
			failures += oom
			mu.Unlock()
		}()
	}
	wg.Wait()
	return all, failures
}

// checkDisjoint verifies that no two allocations share a byte and returns
// their total granule-rounded size.
func checkDisjoint(live []liveAlloc) (uint64, error) {
	type span struct{ start, end uint64 }
	spans := make([]span, 0, len(live))
	var total uint64
	for _, v := range live {
		n, _ := format.RoundGranule(v.l.Size)
		spans = append(spans, span{v.addr, v.addr + n})
		total += n
	}
	slices.SortFunc(spans, func(a, b span) int { return cmp.Compare(a.start, b.start) })
	for i := 1; i < len(spans); i++ {
		if spans[i-1].end > spans[i].start {
			return 0, fmt.Errorf("%w: [%#x, %#x) and [%#x, %#x)", errOverlap,
				spans[i-1].start, spans[i-1].end, spans[i].start, spans[i].end)
		}
	}
	return total, nil
}
