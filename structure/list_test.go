package structure

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listStrings(rl *RedisList) []string {
	out := []string{}
	for _, v := range rl.Values() {
		out = append(out, string(v))
	}
	return out
}

func pushAll(t *testing.T, rl *RedisList, where int, values ...string) {
	t.Helper()
	for _, v := range values {
		require.NoError(t, rl.Push([]byte(v), where))
	}
}

// listConfigs 同一组操作分别跑在 ziplist 和 quicklist 编码上
func listConfigs() map[string]*EncodingConfig {
	zl := DefaultEncodingConfig()
	zl.Alloc = NewHeapAllocator(0)

	ql := DefaultEncodingConfig()
	ql.Alloc = NewHeapAllocator(0)
	ql.ListMaxZiplistEntries = 0
	ql.ListFill = 2
	ql.ListCompressDepth = 1
	return map[string]*EncodingConfig{"ziplist": zl, "quicklist": ql}
}

func TestNewList(t *testing.T) {
	list := NewList(nil)
	assert.Equal(t, OBJ_ENCODING_ZIPLIST, list.Encoding())
	assert.Nil(t, list.Quicklist())

	pushAll(t, list, QUICKLIST_TAIL, "hello", "world")
	pushAll(t, list, QUICKLIST_HEAD, "redis")
	assert.Equal(t, 3, list.Len())

	value, err := list.Pop(QUICKLIST_HEAD)
	require.NoError(t, err)
	assert.Equal(t, "redis", string(value))
	value, err = list.Pop(QUICKLIST_TAIL)
	require.NoError(t, err)
	assert.Equal(t, "world", string(value))
}

func TestListOperations(t *testing.T) {
	for name, cfg := range listConfigs() {
		t.Run(name, func(t *testing.T) {
			rl := NewList(cfg)
			pushAll(t, rl, QUICKLIST_TAIL, "a", "b", "c", "d", "e")
			assert.Equal(t, name, rl.Encoding().String())

			assert.Equal(t, []string{"a", "b", "c", "d", "e"}, listStrings(rl))
			assert.Equal(t, [][]byte{[]byte("d"), []byte("e")}, rl.Range(-2, -1))
			assert.Empty(t, rl.Range(3, 1))
			assert.Empty(t, rl.Range(10, 20))
			assert.Len(t, rl.Range(-100, 100), 5)

			v, ok := rl.Index(-1)
			require.True(t, ok)
			assert.Equal(t, "e", string(v))
			_, ok = rl.Index(5)
			assert.False(t, ok)

			require.NoError(t, rl.Set(1, []byte("B")))
			assert.ErrorIs(t, rl.Set(10, []byte("x")), ErrIndexOutOfRange)

			n, err := rl.Insert(true, []byte("c"), []byte("x"))
			require.NoError(t, err)
			assert.Equal(t, 6, n)
			n, err = rl.Insert(false, []byte("e"), []byte("y"))
			require.NoError(t, err)
			assert.Equal(t, 7, n)
			n, err = rl.Insert(true, []byte("nope"), []byte("z"))
			require.NoError(t, err)
			assert.Equal(t, -1, n)
			assert.Equal(t, []string{"a", "B", "x", "c", "d", "e", "y"}, listStrings(rl))

			pushAll(t, rl, QUICKLIST_TAIL, "x")
			pushAll(t, rl, QUICKLIST_HEAD, "x")
			assert.Equal(t, 1, rl.Remove(1, []byte("x")))
			assert.Equal(t, []string{"a", "B", "x", "c", "d", "e", "y", "x"}, listStrings(rl))
			assert.Equal(t, 1, rl.Remove(-1, []byte("x")))
			assert.Equal(t, []string{"a", "B", "x", "c", "d", "e", "y"}, listStrings(rl))
			assert.Equal(t, 1, rl.Remove(0, []byte("x")))
			assert.Equal(t, 0, rl.Remove(0, []byte("nope")))

			rl.Trim(1, -2)
			assert.Equal(t, []string{"B", "c", "d", "e"}, listStrings(rl))
			rl.Trim(5, 10)
			assert.Equal(t, 0, rl.Len())

			_, err = rl.Pop(QUICKLIST_HEAD)
			assert.ErrorIs(t, err, ErrListEmpty)
			_, err = rl.Pop(QUICKLIST_TAIL)
			assert.ErrorIs(t, err, ErrListEmpty)

			rl.Free()
			assert.Equal(t, int64(0), cfg.Alloc.(*HeapAllocator).Used())
		})
	}
}

func TestListRemoveIntegers(t *testing.T) {
	for name, cfg := range listConfigs() {
		t.Run(name, func(t *testing.T) {
			rl := NewList(cfg)
			pushAll(t, rl, QUICKLIST_TAIL, "1", "2", "1", "3", "1", "1")
			assert.Equal(t, 2, rl.Remove(-2, []byte("1")))
			assert.Equal(t, []string{"1", "2", "1", "3"}, listStrings(rl))
			assert.Equal(t, 2, rl.Remove(0, []byte("1")))
			assert.Equal(t, []string{"2", "3"}, listStrings(rl))
			assert.Equal(t, 0, rl.Remove(0, []byte("01")))
		})
	}
}

func TestListConversion(t *testing.T) {
	t.Run("by entries", func(t *testing.T) {
		cfg := DefaultEncodingConfig()
		cfg.ListMaxZiplistEntries = 4
		rl := NewList(cfg)
		pushAll(t, rl, QUICKLIST_TAIL, "1", "2", "3", "4")
		assert.Equal(t, OBJ_ENCODING_ZIPLIST, rl.Encoding())
		pushAll(t, rl, QUICKLIST_HEAD, "0")
		assert.Equal(t, OBJ_ENCODING_QUICKLIST, rl.Encoding())
		require.NotNil(t, rl.Quicklist())
		assert.Equal(t, []string{"0", "1", "2", "3", "4"}, listStrings(rl))
	})

	t.Run("by size", func(t *testing.T) {
		cfg := DefaultEncodingConfig()
		cfg.ListMaxZiplistSize = 64
		rl := NewList(cfg)
		value := strings.Repeat("v", 50)
		pushAll(t, rl, QUICKLIST_TAIL, value)
		assert.Equal(t, OBJ_ENCODING_ZIPLIST, rl.Encoding())
		pushAll(t, rl, QUICKLIST_TAIL, value)
		assert.Equal(t, OBJ_ENCODING_QUICKLIST, rl.Encoding())
		assert.Equal(t, 2, rl.Len())
	})

	t.Run("by set", func(t *testing.T) {
		cfg := DefaultEncodingConfig()
		cfg.ListMaxZiplistSize = 64
		rl := NewList(cfg)
		pushAll(t, rl, QUICKLIST_TAIL, "a", "b")
		big := strings.Repeat("S", 100)
		require.NoError(t, rl.Set(0, []byte(big)))
		assert.Equal(t, OBJ_ENCODING_QUICKLIST, rl.Encoding())
		assert.Equal(t, []string{big, "b"}, listStrings(rl))
	})

	t.Run("by insert", func(t *testing.T) {
		cfg := DefaultEncodingConfig()
		cfg.ListMaxZiplistEntries = 2
		rl := NewList(cfg)
		pushAll(t, rl, QUICKLIST_TAIL, "a", "b")
		n, err := rl.Insert(false, []byte("a"), []byte("m"))
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, OBJ_ENCODING_QUICKLIST, rl.Encoding())
		assert.Equal(t, []string{"a", "m", "b"}, listStrings(rl))
	})

	t.Run("never converts back", func(t *testing.T) {
		cfg := DefaultEncodingConfig()
		cfg.ListMaxZiplistEntries = 1
		rl := NewList(cfg)
		pushAll(t, rl, QUICKLIST_TAIL, "a", "b")
		_, err := rl.Pop(QUICKLIST_TAIL)
		require.NoError(t, err)
		_, err = rl.Pop(QUICKLIST_TAIL)
		require.NoError(t, err)
		assert.Equal(t, OBJ_ENCODING_QUICKLIST, rl.Encoding())
		assert.Equal(t, 0, rl.Len())
	})
}
