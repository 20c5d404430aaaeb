package format

import "encoding/binary"

// Binary encoding utilities for little-endian integers.
//
// Headers and boot descriptors are little-endian on every platform the heap
// targets, so all accessors go through encoding/binary.LittleEndian. The
// compiler inlines these calls; callers are expected to bounds-check first.

// PutU32 writes a uint32 value to the buffer at the specified offset in little-endian format.
func PutU32(b []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(b[off:off+4], v)
}

// PutU64 writes a uint64 value to the buffer at the specified offset in little-endian format.
func PutU64(b []byte, off int, v uint64) {
	binary.LittleEndian.PutUint64(b[off:off+8], v)
}

// ReadU32 reads a uint32 value from the buffer at the specified offset in little-endian format.
func ReadU32(b []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(b[off : off+4])
}

// ReadU64 reads a uint64 value from the buffer at the specified offset in little-endian format.
func ReadU64(b []byte, off int) uint64 {
	return binary.LittleEndian.Uint64(b[off : off+8])
}

// PutHeader writes a free-block header at off.
func PutHeader(b []byte, off int, size, next uint64) {
	PutU64(b, off+HeaderSizeOffset, size)
	PutU64(b, off+HeaderNextOffset, next)
}

// ReadHeader reads the free-block header at off.
func ReadHeader(b []byte, off int) (size, next uint64) {
	return ReadU64(b, off+HeaderSizeOffset), ReadU64(b, off+HeaderNextOffset)
}
