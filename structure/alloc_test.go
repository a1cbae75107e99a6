package structure

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeapAllocatorAccounting(t *testing.T) {
	a := NewHeapAllocator(0)

	buf, err := a.Alloc(100)
	require.NoError(t, err)
	assert.Len(t, buf, 100)
	assert.EqualValues(t, 100, a.Used())

	buf, err = a.Realloc(buf, 40)
	require.NoError(t, err)
	assert.Len(t, buf, 40)
	assert.EqualValues(t, 40, a.Used())
	assert.EqualValues(t, 100, a.Peak())

	require.NoError(t, a.Reserve(60))
	assert.EqualValues(t, 100, a.Used())
	a.Release(60)
	a.Free(buf)
	assert.Zero(t, a.Used())
}

func TestHeapAllocatorReallocZeroesGrowth(t *testing.T) {
	a := NewHeapAllocator(0)
	buf, err := a.Alloc(8)
	require.NoError(t, err)
	for i := range buf {
		buf[i] = 0xff
	}
	buf, err = a.Realloc(buf, 4)
	require.NoError(t, err)
	buf, err = a.Realloc(buf, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xff, 0xff, 0xff, 0, 0, 0, 0}, buf)
}

func TestHeapAllocatorLimit(t *testing.T) {
	a := NewHeapAllocator(64)

	_, err := a.Alloc(65)
	assert.True(t, errors.Is(err, ErrAllocFailed))
	assert.Zero(t, a.Used())

	buf, err := a.Alloc(64)
	require.NoError(t, err)
	assert.True(t, a.WouldExceed(1))
	assert.True(t, errors.Is(a.Reserve(1), ErrAllocFailed))

	// 缩小总是成功
	_, err = a.Realloc(buf, 10)
	require.NoError(t, err)
	assert.False(t, a.WouldExceed(54))
}

func TestMustReallocPanicsOnFailure(t *testing.T) {
	a := NewHeapAllocator(8)
	assert.Panics(t, func() { mustRealloc(a, nil, 16) })
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512B", FormatBytes(512))
	assert.Equal(t, "1.0KB", FormatBytes(1024))
	assert.Equal(t, "1.5MB", FormatBytes(1536*1024))
}
