// Package buf contains overflow-safe arithmetic and bounds helpers used
// wherever an address or length comes from outside the allocator.
package buf

import (
	"fmt"
	"math"
	"math/bits"
)

// AddOverflowSafe adds a and b, returning ok = false when the result would overflow int.
func AddOverflowSafe(a, b int) (int, bool) {
	switch {
	case b > 0 && a > math.MaxInt-b:
		return 0, false
	case b < 0 && a < math.MinInt-b:
		return 0, false
	default:
		return a + b, true
	}
}

// AddU64 adds a and b, returning ok = false when the sum wraps.
func AddU64(a, b uint64) (uint64, bool) {
	sum, carry := bits.Add64(a, b, 0)
	return sum, carry == 0
}

// MulU64 multiplies a and b, returning ok = false when the product wraps.
// Page counts times page size go through here.
func MulU64(a, b uint64) (uint64, bool) {
	hi, lo := bits.Mul64(a, b)
	return lo, hi == 0
}

// CheckRange validates that the byte range [addr, addr+n) lies within
// [base, base+size). It returns the offset of addr relative to base.
//
//	off, err := buf.CheckRange(a.Base(), a.Size(), addr, format.HeaderSize)
//	if err != nil {
//	    return fmt.Errorf("header: %w", err)
//	}
func CheckRange(base, size, addr, n uint64) (int, error) {
	if addr < base {
		return 0, fmt.Errorf("bounds: addr=%#x below base=%#x", addr, base)
	}
	off := addr - base
	end, ok := AddU64(off, n)
	if !ok {
		return 0, fmt.Errorf("overflow: off=%#x + n=%d", off, n)
	}
	if end > size {
		return 0, fmt.Errorf("bounds: end=%#x > size=%#x", end, size)
	}
	if off > math.MaxInt {
		return 0, fmt.Errorf("bounds: offset %#x exceeds int", off)
	}
	return int(off), nil
}

// Slice returns the sub-slice [off:off+n] if it fits within len(b).
func Slice(b []byte, off, n int) ([]byte, bool) {
	if off < 0 || n < 0 || off > len(b) {
		return nil, false
	}
	end, ok := AddOverflowSafe(off, n)
	if !ok || end > len(b) {
		return nil, false
	}
	return b[off:end], true
}
