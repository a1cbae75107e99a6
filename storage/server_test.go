package storage

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/code-100-precent/LingCore/metrics"
	"github.com/code-100-precent/LingCore/structure"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, dbnum int, opts ...Option) *RedisServer {
	t.Helper()
	cfg := structure.DefaultEncodingConfig()
	cfg.Alloc = structure.NewHeapAllocator(0)
	cfg.Resize = structure.NewResizeConfig()
	logger, _ := test.NewNullLogger()
	return NewRedisServer(dbnum, append([]Option{WithEncodingConfig(cfg), WithLogger(logger)}, opts...)...)
}

func TestNewRedisServer(t *testing.T) {
	s := NewRedisServer(0)
	assert.Equal(t, 16, s.GetDbNum())
	assert.Equal(t, CONFIG_DEFAULT_HZ, s.Hz())
	assert.Equal(t, structure.DICT_RESIZE_ENABLE, s.ResizePolicy())

	assert.Equal(t, CONFIG_MAX_HZ, newTestServer(t, 1, WithHz(100000)).Hz())
	assert.Equal(t, CONFIG_MIN_HZ, newTestServer(t, 1, WithHz(-1)).Hz())

	s = newTestServer(t, 4)
	for i := 0; i < 4; i++ {
		db, err := s.GetDb(i)
		require.NoError(t, err)
		assert.Equal(t, i, db.GetID())
		assert.Same(t, s.EncodingConfig(), db.EncodingConfig())
	}
	for _, idx := range []int{-1, 4} {
		_, err := s.GetDb(idx)
		assert.ErrorIs(t, err, ErrInvalidDbIndex)
	}
}

func TestServerExec(t *testing.T) {
	s := newTestServer(t, 2)

	called := false
	err := s.Exec(5, func(*RedisDb) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrInvalidDbIndex)
	assert.False(t, called)

	sentinel := errors.New("boom")
	err = s.Exec(1, func(db *RedisDb) error {
		assert.Equal(t, 1, db.GetID())
		setString(db, "k", "v")
		return sentinel
	})
	assert.Same(t, sentinel, err)

	require.NoError(t, s.Exec(1, func(db *RedisDb) error {
		assert.True(t, db.Exists("k"))
		return nil
	}))
	require.NoError(t, s.Exec(0, func(db *RedisDb) error {
		assert.False(t, db.Exists("k"))
		return nil
	}))

	s.FlushAll()
	require.NoError(t, s.Exec(1, func(db *RedisDb) error {
		assert.Equal(t, 0, db.DBSize())
		return nil
	}))
}

func TestServerSnapshotPolicy(t *testing.T) {
	s := newTestServer(t, 2)
	s.BeginSnapshot()
	assert.Equal(t, structure.DICT_RESIZE_AVOID, s.ResizePolicy())

	db, _ := s.GetDb(1)
	for i := 0; i < 24; i++ {
		setString(db, "k"+strconv.Itoa(i), "v")
	}
	// 负载不超过 ForceRatio 时不扩容
	assert.Equal(t, uint64(4), db.keys.Slots())
	setString(db, "k24", "v")
	assert.True(t, db.keys.IsRehashing())

	s.EndSnapshot()
	assert.Equal(t, structure.DICT_RESIZE_ENABLE, s.ResizePolicy())
	// 其他数据库共享同一份策略
	other, _ := s.GetDb(0)
	assert.Same(t, db.keys.ResizeConfig(), other.expires.ResizeConfig())
}

func TestServerCronOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	s := newTestServer(t, 2, WithMetrics(m))

	db, _ := s.GetDb(0)
	clock := &testClock{now: time.UnixMilli(1_700_000_000_000)}
	db.now = clock.Now
	for i := 0; i < 200; i++ {
		setString(db, "k"+strconv.Itoa(i), "v")
	}
	for i := 0; i < 50; i++ {
		require.True(t, db.Expire("k"+strconv.Itoa(i), 1))
	}
	clock.Advance(time.Second)

	expired := 0
	for i := 0; i < 100 && db.ExpiresSize() > 0; i++ {
		expired += s.CronOnce().Expired
	}
	assert.Equal(t, 50, expired)
	assert.Equal(t, 150, db.DBSize())
	assert.Equal(t, 150.0, testutil.ToFloat64(m.Keys.WithLabelValues("0")))
	assert.Positive(t, testutil.ToFloat64(m.AllocatorUsed))

	// 快照期间不缩容，cron 仍然推进 rehash
	for i := 50; i < 200; i++ {
		db.Del("k" + strconv.Itoa(i))
	}
	finishDbRehash(db)
	require.True(t, db.keys.NeedsShrink())

	s.BeginSnapshot()
	st := s.CronOnce()
	assert.Equal(t, 0, st.Resized)
	assert.False(t, db.IsRehashing())

	s.EndSnapshot()
	st = s.CronOnce()
	assert.Equal(t, 1, st.Resized)
	assert.Equal(t, 1, st.Rehashing)
	for db.IsRehashing() {
		s.CronOnce()
	}
	assert.False(t, db.keys.NeedsShrink())
}

func TestServerMaxMemory(t *testing.T) {
	s := newTestServer(t, 1, WithMaxMemory(1024))
	assert.Equal(t, int64(1024), s.MaxMemory())
	assert.False(t, s.OverMaxMemory())

	require.NoError(t, s.Exec(0, func(db *RedisDb) error {
		obj, err := db.GetOrCreate("l", OBJ_LIST)
		if err != nil {
			return err
		}
		list, _ := obj.GetList()
		return list.Push([]byte(strings.Repeat("v", 2000)), structure.QUICKLIST_TAIL)
	}))
	assert.Greater(t, s.MemoryUsed(), int64(1024))
	assert.True(t, s.OverMaxMemory())

	s.FlushAll()
	assert.False(t, s.OverMaxMemory())

	unlimited := newTestServer(t, 1)
	assert.False(t, unlimited.OverMaxMemory())
}

func TestServerCronLoop(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	s := NewRedisServer(1, WithHz(100), WithLogger(logger))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Cron(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cron did not stop after cancel")
	}

	entries := hook.AllEntries()
	require.NotEmpty(t, entries)
	assert.Equal(t, "background cron started", entries[0].Message)
	assert.Equal(t, 100, entries[0].Data["hz"])
	assert.Equal(t, "background cron stopped", hook.LastEntry().Message)
}
