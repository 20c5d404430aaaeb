// Package heap is the kernel's dynamic memory allocator: a first-fit block
// engine behind one lock, created empty and initialized once from the boot
// memory map.
//
// # Lifecycle
//
// An Allocator starts Uninitialized. Exactly one of Initialize (memory map
// discovery) or InitMemmap (explicit page geometry) moves it to Initialized,
// where it stays for the life of the process. Any operation attempted before
// that, a second initialization, or a memory map without a usable region is a
// boot-ordering bug and panics with a *FatalError.
//
//	var kheap = heap.Uninitialized(heap.WithKernelEnd(kernelEnd))
//
//	func bootMemory(tags []byte) error {
//	    list, err := atags.Parse(tags)
//	    if err != nil {
//	        return err
//	    }
//	    kheap.Initialize(list)
//	    return nil
//	}
//
// # Allocation
//
// Alloc takes a Layout and returns an address inside the managed region, or
// an error wrapping alloc.ErrOutOfMemory. Free must be given the same address
// and Layout. Addresses are simulated physical addresses; Bytes returns a
// writable view of an allocated range.
//
// # Thread Safety
//
// Every method acquires the same mutex. Nothing is lock-free and no method
// calls back into the Allocator while holding it.
package heap
