// Package format holds the low-level layout of the in-band structures the
// heap writes into managed memory. Everything here is a plain constant or a
// little-endian accessor; higher-level packages decide what the bytes mean.
package format

const (
	// HeaderSize is the size of a free-block header.
	// Layout (little-endian):
	//   0x00  u64  block size in bytes (header included)
	//   0x08  u64  address of the next free block, NilAddr at the tail
	HeaderSize = 16

	// HeaderSizeOffset is the offset of the size field inside a header.
	HeaderSizeOffset = 0x00

	// HeaderNextOffset is the offset of the next-address field inside a header.
	HeaderNextOffset = 0x08

	// Granule is the unit every block address and size is a multiple of.
	// It equals HeaderSize so any split remainder can hold its own header.
	Granule = HeaderSize

	// NilAddr terminates the free list. Address zero is a valid block address,
	// so the all-ones pattern is used instead.
	NilAddr = ^uint64(0)

	// WordSize is the natural alignment of the simulated machine.
	WordSize = 8
)
