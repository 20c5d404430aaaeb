package format

// Alignment utilities shared by the page bootstrap and the block engine.
// All helpers take power-of-two alignments; callers validate with IsPow2.

// IsPow2 reports whether n is a non-zero power of two.
func IsPow2(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

// AlignUp returns n rounded up to the next multiple of align.
// ok is false when the result does not fit in a uint64.
//
// Example:
//
//	AlignUp(1, 16)  = 16
//	AlignUp(16, 16) = 16
//	AlignUp(17, 16) = 32
func AlignUp(n, align uint64) (uint64, bool) {
	mask := align - 1
	if n > ^uint64(0)-mask {
		return 0, false
	}
	return (n + mask) &^ mask, true
}

// AlignDown returns n rounded down to a multiple of align.
//
// Example:
//
//	AlignDown(31, 16) = 16
//	AlignDown(32, 16) = 32
func AlignDown(n, align uint64) uint64 {
	return n &^ (align - 1)
}

// IsAligned reports whether n is a multiple of align.
func IsAligned(n, align uint64) bool {
	return n&(align-1) == 0
}

// RoundGranule rounds a request size up to the block granule. A zero-size
// request rounds to one granule so every allocation owns a distinct address.
func RoundGranule(n uint64) (uint64, bool) {
	if n == 0 {
		return Granule, true
	}
	return AlignUp(n, Granule)
}
