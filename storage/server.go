package storage

import (
	"context"
	"sync"
	"time"

	"github.com/code-100-precent/LingCore/metrics"
	"github.com/code-100-precent/LingCore/structure"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

/*
 * ============================================================================
 * Redis 服务器系统
 * ============================================================================
 *
 * 服务器管理多个数据库，并提供统一的访问接口：
 * - dbs: 数据库数组（默认 16 个）
 * - resize: 所有 dict 共享的扩容策略
 * - Cron: 后台定时任务，每秒 hz 次
 *
 * 【后台任务 databasesCron】
 * 1. 主动过期：每个数据库采样删除过期键
 * 2. 缩容：填充率低于 10% 的表缩到合适大小（生成快照期间跳过）
 * 3. 渐进式 rehash：每个数据库最多 1ms，保证没有访问的 dict 也能完成迁移
 *
 * 【快照期间的扩容策略】
 * 生成快照时把策略切到 AVOID，只有负载超过 ForceRatio 才扩容，
 * 避免写时复制的内存页被大量触碰。
 */

const (
	CONFIG_DEFAULT_HZ = 10
	CONFIG_MIN_HZ     = 1
	CONFIG_MAX_HZ     = 500
	// ACTIVE_EXPIRE_CYCLE_SLOW_TIME_PERC 主动过期占用每个 cron 周期的百分比
	ACTIVE_EXPIRE_CYCLE_SLOW_TIME_PERC = 25
)

// RedisServer Redis 服务器
type RedisServer struct {
	dbs             []*RedisDb
	dbnum           int
	cfg             *structure.EncodingConfig
	hz              int
	activeRehashing bool
	snapshotting    bool
	maxMemory       int64
	logger          logrus.FieldLogger
	metrics         *metrics.Metrics
	mu              sync.Mutex
}

// Option 服务器选项
type Option func(*RedisServer)

// WithEncodingConfig 设置编码阈值、分配器和共享的扩容策略
func WithEncodingConfig(cfg *structure.EncodingConfig) Option {
	return func(s *RedisServer) { s.cfg = cfg }
}

// WithHz 设置 cron 频率
func WithHz(hz int) Option {
	return func(s *RedisServer) { s.hz = hz }
}

// WithActiveRehashing 是否在 cron 中推进 rehash
func WithActiveRehashing(on bool) Option {
	return func(s *RedisServer) { s.activeRehashing = on }
}

// WithMaxMemory 设置软内存上限，0 表示不限制
func WithMaxMemory(bytes int64) Option {
	return func(s *RedisServer) { s.maxMemory = bytes }
}

// WithLogger 设置日志
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *RedisServer) { s.logger = logger }
}

// WithMetrics 设置监控指标
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *RedisServer) { s.metrics = m }
}

// NewRedisServer 创建新的 Redis 服务器
func NewRedisServer(dbnum int, opts ...Option) *RedisServer {
	if dbnum <= 0 {
		dbnum = 16 // 默认 16 个数据库
	}

	s := &RedisServer{
		dbnum:           dbnum,
		hz:              CONFIG_DEFAULT_HZ,
		activeRehashing: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg == nil {
		s.cfg = structure.DefaultEncodingConfig()
	}
	if s.cfg.Resize == nil {
		s.cfg.Resize = structure.NewResizeConfig()
	}
	if s.cfg.Alloc == nil {
		s.cfg.Alloc = structure.DefaultAllocator()
	}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}
	s.hz = min(max(s.hz, CONFIG_MIN_HZ), CONFIG_MAX_HZ)

	s.dbs = make([]*RedisDb, dbnum)
	for i := range s.dbs {
		s.dbs[i] = NewRedisDb(i, s.cfg, s.metrics)
		s.dbs[i].maxMemory = s.maxMemory
	}
	return s
}

// GetDb 获取指定数据库。返回的 RedisDb 不加锁，并发访问需通过 Exec
func (s *RedisServer) GetDb(dbIndex int) (*RedisDb, error) {
	if dbIndex < 0 || dbIndex >= s.dbnum {
		return nil, errors.Wrapf(ErrInvalidDbIndex, "db %d", dbIndex)
	}
	return s.dbs[dbIndex], nil
}

// Exec 在服务器锁内访问数据库
func (s *RedisServer) Exec(dbIndex int, fn func(db *RedisDb) error) error {
	db, err := s.GetDb(dbIndex)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(db)
}

// FlushAll 清空所有数据库
func (s *RedisServer) FlushAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, db := range s.dbs {
		db.FlushDB()
	}
}

// GetDbNum 获取数据库数量
func (s *RedisServer) GetDbNum() int {
	return s.dbnum
}

// Hz cron 频率
func (s *RedisServer) Hz() int {
	return s.hz
}

// EncodingConfig 共享的编码配置
func (s *RedisServer) EncodingConfig() *structure.EncodingConfig {
	return s.cfg
}

// MemoryUsed 分配器已用字节
func (s *RedisServer) MemoryUsed() int64 {
	return s.cfg.Alloc.Used()
}

// OverMaxMemory 已用内存超过软上限时返回 true，此时应拒绝写入
func (s *RedisServer) OverMaxMemory() bool {
	return s.maxMemory > 0 && s.cfg.Alloc.Used() > s.maxMemory
}

// MaxMemory 软内存上限
func (s *RedisServer) MaxMemory() int64 {
	return s.maxMemory
}

// ResizePolicy 当前扩容策略
func (s *RedisServer) ResizePolicy() structure.ResizePolicy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Resize.Policy
}

// BeginSnapshot 进入快照阶段：扩容策略切到 AVOID，暂停缩容
func (s *RedisServer) BeginSnapshot() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshotting = true
	s.cfg.Resize.Policy = structure.DICT_RESIZE_AVOID
	s.logger.WithField("action", "snapshot_begin").Debug("dict resize policy set to avoid")
}

// EndSnapshot 结束快照阶段，恢复 ENABLE
func (s *RedisServer) EndSnapshot() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshotting = false
	s.cfg.Resize.Policy = structure.DICT_RESIZE_ENABLE
	s.logger.WithField("action", "snapshot_end").Debug("dict resize policy set to enable")
}

// CronStats 一次 cron 的结果
type CronStats struct {
	Expired   int
	Resized   int
	Rehashing int
	Duration  time.Duration
}

// CronOnce 执行一次 databasesCron
func (s *RedisServer) CronOnce() CronStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	var st CronStats
	budget := time.Second / time.Duration(s.hz) * ACTIVE_EXPIRE_CYCLE_SLOW_TIME_PERC / 100 / time.Duration(s.dbnum)

	for _, db := range s.dbs {
		st.Expired += db.ActiveExpireCycle(budget)
		if !s.snapshotting && db.TryResize() {
			st.Resized++
		}
		if s.activeRehashing && db.IncrementallyRehash(1) {
			st.Rehashing++
		}
		db.observe()
	}

	if ha, ok := s.cfg.Alloc.(*structure.HeapAllocator); ok {
		s.metrics.ObserveAllocator(ha.Used(), ha.Peak())
	}
	st.Duration = time.Since(start)
	s.metrics.ObserveCron(st.Duration)
	return st
}

// Cron 后台定时任务，ctx 取消时退出
func (s *RedisServer) Cron(ctx context.Context) {
	logger := s.logger.WithField("action", "cron")
	logger.WithField("hz", s.hz).Info("background cron started")

	ticker := time.NewTicker(time.Second / time.Duration(s.hz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("background cron stopped")
			return
		case <-ticker.C:
			st := s.CronOnce()
			if st.Expired > 0 || st.Resized > 0 {
				logger.WithFields(logrus.Fields{
					"expired":   st.Expired,
					"resized":   st.Resized,
					"rehashing": st.Rehashing,
					"took":      st.Duration,
				}).Debug("databases cron")
			}
		}
	}
}
