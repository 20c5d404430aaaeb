package heap

import (
	"errors"
	"fmt"
)

var (
	// ErrUninitialized indicates an operation on an Allocator that has not
	// been initialized.
	ErrUninitialized = errors.New("heap: allocator not initialized")

	// ErrNoMemoryMap indicates that the boot memory map describes no usable
	// memory region.
	ErrNoMemoryMap = errors.New("heap: no usable memory region in memory map")

	// ErrAlreadyInitialized indicates a second initialization.
	ErrAlreadyInitialized = errors.New("heap: allocator already initialized")

	// ErrBadGeometry indicates an explicit region that cannot hold a heap.
	ErrBadGeometry = errors.New("heap: invalid region geometry")
)

// FatalError is the panic value for conditions the kernel cannot continue
// from. Recover it and use errors.Is on the cause.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("heap: fatal in %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

func fatal(op string, err error) {
	panic(&FatalError{Op: op, Err: err})
}
