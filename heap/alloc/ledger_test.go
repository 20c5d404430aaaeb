package alloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerClaimRelease(t *testing.T) {
	l := newLedger()
	require.NoError(t, l.claim(0x100, 32))
	require.NoError(t, l.claim(0x120, 16))
	assert.Equal(t, 2, l.len())
	assert.Equal(t, uint64(48), l.bytes)

	require.ErrorIs(t, l.claim(0x110, 16), ErrCorrupt, "overlaps predecessor")
	require.ErrorIs(t, l.claim(0x0f0, 32), ErrCorrupt, "overlaps successor")

	require.ErrorIs(t, l.release(0x108, 16), ErrBadFree, "not an allocation start")
	require.ErrorIs(t, l.release(0x100, 16), ErrBadFree, "wrong size")
	require.NoError(t, l.release(0x100, 32))
	assert.Equal(t, 1, l.len())
	assert.Equal(t, uint64(16), l.bytes)
}

func TestLedgerOverlapping(t *testing.T) {
	l := newLedger()
	require.NoError(t, l.claim(0x200, 64))

	_, ok := l.overlapping(0x1f0, 16)
	assert.False(t, ok, "ends exactly at live start")
	_, ok = l.overlapping(0x240, 16)
	assert.False(t, ok, "starts exactly at live end")

	s, ok := l.overlapping(0x230, 64)
	require.True(t, ok)
	assert.Equal(t, uint64(0x200), s.addr)
}

func TestValidateCatchesMismatchedFree(t *testing.T) {
	fa := newTestEngine(t, 0, 256, &Options{Validate: true})
	addr, err := fa.Alloc(Sized(32))
	require.NoError(t, err)

	requirePanicIs(t, ErrBadFree, func() { fa.Free(addr, Sized(64)) })
	requirePanicIs(t, ErrBadFree, func() { fa.Free(addr+16, Sized(16)) })

	fa.Free(addr, Sized(32))
	assertInvariants(t, fa)
	requirePanicIs(t, ErrBadFree, func() { fa.Free(addr, Sized(32)) })
}

func TestValidateDetectsFreeBlockOverLiveAllocation(t *testing.T) {
	fa := newTestEngine(t, 0, 64, &Options{Validate: true})
	addr, err := fa.Alloc(Sized(16))
	require.NoError(t, err)

	// Forge a free block on top of the live allocation.
	fa.push(addr, 16)
	fa.allocated -= 16
	require.ErrorIs(t, fa.CheckInvariants(), ErrCorrupt)
}
