package heap

import (
	"log/slog"

	"github.com/joshuapare/kheap/heap/alloc"
	"github.com/joshuapare/kheap/heap/arena"
)

// Option configures an Allocator at construction.
type Option func(*Allocator)

// WithMapper sets how the managed region is backed. Default: arena.DefaultMapper.
func WithMapper(m arena.Mapper) Option {
	return func(a *Allocator) { a.mapper = m }
}

// WithEngineOptions passes options to the block engine.
func WithEngineOptions(opts *alloc.Options) Option {
	return func(a *Allocator) { a.engineOpts = opts }
}

// WithLogger sets the logger for lifecycle events. Default: logger.L.
func WithLogger(l *slog.Logger) Option {
	return func(a *Allocator) { a.log = l }
}

// WithKernelEnd sets the first address past the loaded kernel image.
// Initialize never hands out memory below it.
func WithKernelEnd(addr uint64) Option {
	return func(a *Allocator) { a.kernelEnd = addr }
}
