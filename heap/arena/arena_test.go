package arena

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/kheap/internal/format"
)

func TestNewMapsZeroedMemory(t *testing.T) {
	a, err := New(0x8000, 4096)
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close()) }()

	assert.Equal(t, uint64(0x8000), a.Base())
	assert.Equal(t, uint64(4096), a.Size())
	assert.Equal(t, uint64(0x9000), a.End())

	b, err := a.Slice(0x8000, 4096)
	require.NoError(t, err)
	for i, v := range b {
		if v != 0 {
			t.Fatalf("byte %d not zeroed: %#x", i, v)
		}
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	a := FromBytes(0x1000, make([]byte, 64))

	require.NoError(t, a.WriteHeader(0x1010, 48, format.NilAddr))
	size, next, err := a.ReadHeader(0x1010)
	require.NoError(t, err)
	assert.Equal(t, uint64(48), size)
	assert.Equal(t, format.NilAddr, next)
}

func TestBoundsChecked(t *testing.T) {
	a := FromBytes(0x1000, make([]byte, 64))

	_, _, err := a.ReadHeader(0x0ff0)
	require.ErrorIs(t, err, ErrOutOfBounds, "below base")

	err = a.WriteHeader(0x1038, 16, 0)
	require.ErrorIs(t, err, ErrOutOfBounds, "header straddles end")

	_, err = a.Slice(0x1000, 65)
	require.ErrorIs(t, err, ErrOutOfBounds)

	assert.True(t, a.Contains(0x1030, 16))
	assert.False(t, a.Contains(0x1031, 16))
}

func TestCloseIsIdempotent(t *testing.T) {
	a, err := New(0, 8192)
	require.NoError(t, err)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	_, err = a.Slice(0, 1)
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestNewRejectsWrappingExtent(t *testing.T) {
	_, err := New(^uint64(0)-10, 4096)
	require.ErrorIs(t, err, ErrTooLarge)

	// An extent ending at 2^64 has no representable End.
	_, err = New(^uint64(0)-4095, 4096)
	require.ErrorIs(t, err, ErrTooLarge)

	a, err := New(^uint64(0)-4096, 4096)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	assert.Equal(t, ^uint64(0), a.End())
}

func TestMapperFunc(t *testing.T) {
	calls := 0
	m := MapperFunc(func(base, size uint64) (*Arena, error) {
		calls++
		return FromBytes(base, make([]byte, size)), nil
	})
	a, err := m.Map(0x4000, 32)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, uint64(0x4020), a.End())
}
