package structure

import (
	"math"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireIntsetValid(t *testing.T, is *Intset) {
	t.Helper()
	require.True(t, IntsetValidateIntegrity(is.Bytes(), true), "intset corrupted")
}

func TestIntsetValueEncoding(t *testing.T) {
	assert.EqualValues(t, INTSET_ENC_INT16, intsetValueEncoding(-32768))
	assert.EqualValues(t, INTSET_ENC_INT16, intsetValueEncoding(32767))
	assert.EqualValues(t, INTSET_ENC_INT32, intsetValueEncoding(-32769))
	assert.EqualValues(t, INTSET_ENC_INT32, intsetValueEncoding(32768))
	assert.EqualValues(t, INTSET_ENC_INT32, intsetValueEncoding(math.MaxInt32))
	assert.EqualValues(t, INTSET_ENC_INT64, intsetValueEncoding(math.MinInt32-1))
	assert.EqualValues(t, INTSET_ENC_INT64, intsetValueEncoding(math.MaxInt64))
}

func TestIntsetEmpty(t *testing.T) {
	is := NewIntset(nil)
	requireIntsetValid(t, is)
	assert.Zero(t, is.Len())
	assert.Equal(t, INTSET_HDR_SIZE, is.BlobLen())
	assert.False(t, is.Find(1))
	_, ok := is.Min()
	assert.False(t, ok)
	assert.Panics(t, func() { is.Random() })
}

func TestIntsetAddRemove(t *testing.T) {
	is := NewIntset(nil)
	assert.True(t, is.Add(5))
	assert.True(t, is.Add(6))
	assert.True(t, is.Add(4))
	assert.False(t, is.Add(4))
	assert.Equal(t, []int64{4, 5, 6}, is.Members())
	requireIntsetValid(t, is)

	assert.True(t, is.Remove(5))
	assert.False(t, is.Remove(5))
	assert.False(t, is.Remove(1<<40))
	assert.Equal(t, []int64{4, 6}, is.Members())
	assert.Equal(t, INTSET_HDR_SIZE+2*INTSET_ENC_INT16, is.BlobLen())
}

func TestIntsetUpgrade(t *testing.T) {
	is := NewIntset(nil)
	is.Add(1)
	is.Add(2)
	is.Add(3)

	is.Add(65535)
	assert.EqualValues(t, INTSET_ENC_INT32, is.Encoding())
	assert.Equal(t, []int64{1, 2, 3, 65535}, is.Members())

	is.Add(-4294967295)
	assert.EqualValues(t, INTSET_ENC_INT64, is.Encoding())
	assert.Equal(t, []int64{-4294967295, 1, 2, 3, 65535}, is.Members())
	requireIntsetValid(t, is)

	// 只升级不降级
	is.Remove(-4294967295)
	is.Remove(65535)
	assert.EqualValues(t, INTSET_ENC_INT64, is.Encoding())
	assert.True(t, is.Find(2))
	requireIntsetValid(t, is)
}

func TestIntsetRandomized(t *testing.T) {
	is := NewIntset(nil)
	want := map[int64]bool{}
	r := rand.New(rand.NewPCG(1, 2))
	for range 2000 {
		v := r.Int64N(1<<20) - 1<<19
		if r.IntN(4) == 0 {
			assert.Equal(t, want[v], is.Remove(v))
			delete(want, v)
		} else {
			assert.Equal(t, !want[v], is.Add(v))
			want[v] = true
		}
	}
	requireIntsetValid(t, is)

	expected := make([]int64, 0, len(want))
	for v := range want {
		expected = append(expected, v)
	}
	slices.Sort(expected)
	assert.Equal(t, expected, is.Members())
	for _, v := range expected {
		assert.True(t, is.Find(v))
	}
	assert.True(t, want[is.Random()])

	lo, _ := is.Min()
	hi, _ := is.Max()
	assert.Equal(t, expected[0], lo)
	assert.Equal(t, expected[len(expected)-1], hi)
}

func TestIntsetValidateIntegrity(t *testing.T) {
	is := NewIntset(nil)
	for _, v := range []int64{1, 2, 3} {
		is.Add(v)
	}
	buf := slices.Clone(is.Bytes())
	assert.True(t, IntsetValidateIntegrity(buf, true))

	// 长度与字节数不一致
	assert.False(t, IntsetValidateIntegrity(buf[:len(buf)-1], false))

	// 非法编码
	bad := slices.Clone(buf)
	bad[0] = 3
	assert.False(t, IntsetValidateIntegrity(bad, false))

	// 重复元素只有深校验能发现
	dup := slices.Clone(buf)
	dup[INTSET_HDR_SIZE+2] = dup[INTSET_HDR_SIZE]
	assert.True(t, IntsetValidateIntegrity(dup, false))
	assert.False(t, IntsetValidateIntegrity(dup, true))

	_, err := IntsetFromBytes(dup, nil)
	assert.True(t, errors.Is(err, ErrIntsetCorrupt))

	restored, err := IntsetFromBytes(buf, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, restored.Members())

	assert.False(t, IntsetValidateIntegrity(buf[:4], false))
}

func TestIntsetAllocatorAccounting(t *testing.T) {
	a := NewHeapAllocator(0)
	is := NewIntset(a)
	for i := range int64(100) {
		is.Add(i * 1000)
	}
	assert.EqualValues(t, is.BlobLen(), a.Used())
	is.Free()
	assert.Zero(t, a.Used())
}
