package structure

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hashFields(entries []HashEntry) map[string]string {
	out := make(map[string]string, len(entries))
	for i := range entries {
		out[string(entries[i].Field())] = string(entries[i].Value())
	}
	return out
}

func hsetAll(t *testing.T, rh *RedisHash, kv ...string) {
	t.Helper()
	for i := 0; i+1 < len(kv); i += 2 {
		_, err := rh.Set([]byte(kv[i]), []byte(kv[i+1]))
		require.NoError(t, err)
	}
}

func TestHashZiplistEncoding(t *testing.T) {
	rh := NewHash(nil)
	created, err := rh.Set([]byte("f1"), []byte("v1"))
	require.NoError(t, err)
	assert.True(t, created)
	created, err = rh.Set([]byte("f1"), []byte("v2"))
	require.NoError(t, err)
	assert.False(t, created)
	hsetAll(t, rh, "f2", "20", "f3", "v3")

	assert.Equal(t, OBJ_ENCODING_ZIPLIST, rh.Encoding())
	require.NotNil(t, rh.Ziplist())
	assert.Nil(t, rh.Dict())
	assert.Equal(t, 3, rh.Len())

	v, ok := rh.Get([]byte("f1"))
	require.True(t, ok)
	assert.Equal(t, "v2", string(v))
	_, ok = rh.Get([]byte("v2"))
	assert.False(t, ok, "values must not match as fields")
	assert.True(t, rh.Exists([]byte("f2")))

	all := rh.GetAll()
	require.Len(t, all, 3)
	assert.Equal(t, "f1", string(all[0].Field()))
	assert.Equal(t, "20", string(all[1].Value()))
	assert.Equal(t, [][]byte{[]byte("f1"), []byte("f2"), []byte("f3")}, rh.Keys())
	assert.Equal(t, [][]byte{[]byte("v2"), []byte("20"), []byte("v3")}, rh.Values())

	assert.True(t, rh.Del([]byte("f2")))
	assert.False(t, rh.Del([]byte("f2")))
	assert.Equal(t, 2, rh.Len())
	assert.True(t, ZiplistValidateIntegrity(rh.Ziplist().Bytes(), true, nil))

	cursor, entries := rh.Scan(0, 1)
	assert.Equal(t, uint64(0), cursor)
	assert.Len(t, entries, 2)
}

func TestHashConversion(t *testing.T) {
	t.Run("long value", func(t *testing.T) {
		rh := NewHash(nil)
		hsetAll(t, rh, "a", "1", "b", strings.Repeat("v", 65))
		assert.Equal(t, OBJ_ENCODING_HT, rh.Encoding())
		assert.Nil(t, rh.Ziplist())
		assert.Equal(t, map[string]string{"a": "1", "b": strings.Repeat("v", 65)}, hashFields(rh.GetAll()))
	})

	t.Run("long field", func(t *testing.T) {
		rh := NewHash(nil)
		hsetAll(t, rh, strings.Repeat("f", 65), "v")
		assert.Equal(t, OBJ_ENCODING_HT, rh.Encoding())
	})

	t.Run("by entries", func(t *testing.T) {
		cfg := DefaultEncodingConfig()
		cfg.HashMaxZiplistEntries = 2
		rh := NewHash(cfg)
		hsetAll(t, rh, "a", "1", "b", "2")
		assert.Equal(t, OBJ_ENCODING_ZIPLIST, rh.Encoding())
		hsetAll(t, rh, "a", "3")
		assert.Equal(t, OBJ_ENCODING_ZIPLIST, rh.Encoding())
		hsetAll(t, rh, "c", "4")
		assert.Equal(t, OBJ_ENCODING_HT, rh.Encoding())
		assert.Equal(t, map[string]string{"a": "3", "b": "2", "c": "4"}, hashFields(rh.GetAll()))

		assert.True(t, rh.Del([]byte("a")))
		assert.True(t, rh.Exists([]byte("b")))
		assert.Equal(t, 2, rh.Len())
		assert.Equal(t, OBJ_ENCODING_HT, rh.Encoding())
	})
}

func TestHashIncr(t *testing.T) {
	rh := NewHash(nil)

	n, err := rh.IncrBy([]byte("n"), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	n, err = rh.IncrBy([]byte("n"), -15)
	require.NoError(t, err)
	assert.Equal(t, int64(-10), n)
	v, _ := rh.Get([]byte("n"))
	assert.Equal(t, "-10", string(v))

	hsetAll(t, rh, "s", "abc", "max", strconv.FormatInt(1<<63-1, 10), "min", strconv.FormatInt(-1<<63, 10))
	_, err = rh.IncrBy([]byte("s"), 1)
	assert.ErrorIs(t, err, ErrNotInteger)
	_, err = rh.IncrBy([]byte("max"), 1)
	assert.ErrorIs(t, err, ErrIncrOverflow)
	_, err = rh.IncrBy([]byte("min"), -1)
	assert.ErrorIs(t, err, ErrIncrOverflow)
	n, err = rh.IncrBy([]byte("max"), -1)
	require.NoError(t, err)
	assert.Equal(t, int64(1<<63-2), n)

	f, err := rh.IncrByFloat([]byte("f"), 1.5)
	require.NoError(t, err)
	assert.Equal(t, 1.5, f)
	f, err = rh.IncrByFloat([]byte("f"), 2.25)
	require.NoError(t, err)
	assert.Equal(t, 3.75, f)
	v, _ = rh.Get([]byte("f"))
	assert.Equal(t, "3.75", string(v))

	_, err = rh.IncrByFloat([]byte("s"), 1)
	assert.ErrorIs(t, err, ErrNotFloat)
	hsetAll(t, rh, "big", "1e308")
	_, err = rh.IncrByFloat([]byte("big"), 1e308)
	assert.ErrorIs(t, err, ErrNotFloat)
	v, _ = rh.Get([]byte("big"))
	assert.Equal(t, "1e308", string(v))
}

func TestHashMSetMGet(t *testing.T) {
	rh := NewHash(nil)
	assert.Error(t, rh.MSet([][]byte{[]byte("a")}, nil))

	require.NoError(t, rh.MSet(
		[][]byte{[]byte("a"), []byte("b")},
		[][]byte{[]byte("1"), []byte("2")},
	))
	got := rh.MGet([][]byte{[]byte("b"), []byte("missing"), []byte("a")})
	assert.Equal(t, [][]byte{[]byte("2"), nil, []byte("1")}, got)
}

func TestHashFromZiplistBytes(t *testing.T) {
	build := func(items ...string) []byte {
		zl := NewZiplist(nil)
		for _, s := range items {
			require.NoError(t, zl.Push([]byte(s), ZIPLIST_TAIL))
		}
		return append([]byte(nil), zl.Bytes()...)
	}

	rh, err := NewHashFromZiplistBytes(nil, build("f1", "v1", "f2", "2"))
	require.NoError(t, err)
	assert.Equal(t, OBJ_ENCODING_ZIPLIST, rh.Encoding())
	assert.Equal(t, map[string]string{"f1": "v1", "f2": "2"}, hashFields(rh.GetAll()))

	_, err = NewHashFromZiplistBytes(nil, build("f1", "v1", "f2"))
	assert.ErrorIs(t, err, ErrZiplistCorrupt)

	_, err = NewHashFromZiplistBytes(nil, build("f1", "v1", "f1", "v2"))
	assert.ErrorIs(t, err, ErrZiplistCorrupt)

	// 值与 field 相同不算重复
	_, err = NewHashFromZiplistBytes(nil, build("f1", "f2", "f2", "f1"))
	assert.NoError(t, err)

	_, err = NewHashFromZiplistBytes(nil, []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrZiplistCorrupt)

	cfg := DefaultEncodingConfig()
	cfg.HashMaxZiplistEntries = 1
	rh, err = NewHashFromZiplistBytes(cfg, build("f1", "v1", "f2", "v2"))
	require.NoError(t, err)
	assert.Equal(t, OBJ_ENCODING_HT, rh.Encoding())
	assert.Equal(t, 2, rh.Len())
}

func TestHashRandomFields(t *testing.T) {
	cases := map[string]*EncodingConfig{"ziplist": DefaultEncodingConfig(), "hashtable": DefaultEncodingConfig()}
	cases["hashtable"].HashMaxZiplistEntries = 0

	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			rh := NewHash(cfg)
			_, ok := rh.RandomField()
			assert.False(t, ok)
			assert.Nil(t, rh.RandomFields(3))

			want := map[string]string{"a": "1", "b": "2", "c": "x"}
			for f, v := range want {
				hsetAll(t, rh, f, v)
			}
			assert.Equal(t, name, rh.Encoding().String())

			e, ok := rh.RandomField()
			require.True(t, ok)
			assert.Equal(t, want[string(e.Field())], string(e.Value()))

			fields := rh.RandomFields(10)
			require.Len(t, fields, 10)
			for i := range fields {
				assert.Equal(t, want[string(fields[i].Field())], string(fields[i].Value()))
			}
			assert.Nil(t, rh.RandomFields(0))

			unique := rh.RandomFieldsUnique(2)
			require.Len(t, unique, 2)
			assert.NotEqual(t, string(unique[0].Field()), string(unique[1].Field()))
			for i := range unique {
				assert.Equal(t, want[string(unique[i].Field())], string(unique[i].Value()))
			}
			assert.Equal(t, want, hashFields(rh.RandomFieldsUnique(10)))
			assert.Nil(t, rh.RandomFieldsUnique(0))
		})
	}
}

func TestHashScanHashtable(t *testing.T) {
	alloc := NewHeapAllocator(0)
	cfg := DefaultEncodingConfig()
	cfg.Alloc = alloc
	rh := NewHash(cfg)
	for i := 0; i < 1000; i++ {
		hsetAll(t, rh, "field:"+strconv.Itoa(i), strconv.Itoa(i))
	}
	require.Equal(t, OBJ_ENCODING_HT, rh.Encoding())

	seen := make(map[string]string)
	cursor := uint64(0)
	for {
		var entries []HashEntry
		cursor, entries = rh.Scan(cursor, 50)
		for k, v := range hashFields(entries) {
			seen[k] = v
		}
		if cursor == 0 {
			break
		}
	}
	assert.Len(t, seen, 1000)
	assert.Equal(t, "999", seen["field:999"])

	rh.Free()
	assert.Equal(t, int64(0), alloc.Used())
}
