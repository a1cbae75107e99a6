package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

/*
 * ============================================================================
 * 统计和监控
 * ============================================================================
 *
 * 统计信息包括：
 * - 键空间命中/未命中
 * - 每个数据库的键数量、带过期时间的键数量、是否处于 rehash
 * - 主动过期删除的键数量
 * - 缩容次数、后台 rehash 耗时
 * - 分配器已用/峰值内存
 * - HTTP 请求
 *
 * 所有方法对 nil *Metrics 安全，未注册监控时直接跳过。
 */

const namespace = "lingcore"

// Metrics prometheus 指标集合
type Metrics struct {
	KeyspaceHits   prometheus.Counter
	KeyspaceMisses prometheus.Counter

	Keys      *prometheus.GaugeVec
	Expires   *prometheus.GaugeVec
	Rehashing *prometheus.GaugeVec

	ExpiredKeys    *prometheus.CounterVec
	ResizeTotal    *prometheus.CounterVec
	RehashDuration *prometheus.CounterVec

	CronDuration prometheus.Histogram

	AllocatorUsed prometheus.Gauge
	AllocatorPeak prometheus.Gauge

	HTTPRequests *prometheus.CounterVec
}

// NewMetrics 在 reg 上注册全部指标，reg 为 nil 时返回 nil
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)

	return &Metrics{
		KeyspaceHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keyspace_hits_total",
			Help:      "Number of successful key lookups",
		}),
		KeyspaceMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keyspace_misses_total",
			Help:      "Number of failed key lookups",
		}),
		Keys: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_keys",
			Help:      "Number of keys per database",
		}, []string{"db"}),
		Expires: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_expires",
			Help:      "Number of keys with an expire per database",
		}, []string{"db"}),
		Rehashing: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_rehashing",
			Help:      "1 while the keyspace or expires table of a database is rehashing",
		}, []string{"db"}),
		ExpiredKeys: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_keys_total",
			Help:      "Keys removed because their TTL elapsed",
		}, []string{"db"}),
		ResizeTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dict_resize_total",
			Help:      "Shrink operations started by the background cron",
		}, []string{"db", "table"}),
		RehashDuration: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "active_rehash_seconds_total",
			Help:      "Time spent in background incremental rehashing",
		}, []string{"db"}),
		CronDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cron_duration_seconds",
			Help:      "Duration of one background cron iteration",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		AllocatorUsed: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "allocator_used_bytes",
			Help:      "Bytes currently charged to the container allocator",
		}),
		AllocatorPeak: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "allocator_peak_bytes",
			Help:      "Peak bytes charged to the container allocator",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Admin HTTP requests by route and status code",
		}, []string{"route", "code"}),
	}
}

// RecordKeyspaceHit 记录键空间命中
func (m *Metrics) RecordKeyspaceHit() {
	if m != nil {
		m.KeyspaceHits.Inc()
	}
}

// RecordKeyspaceMiss 记录键空间未命中
func (m *Metrics) RecordKeyspaceMiss() {
	if m != nil {
		m.KeyspaceMisses.Inc()
	}
}

// RecordExpired 记录主动过期删除的键
func (m *Metrics) RecordExpired(db, n int) {
	if m != nil && n > 0 {
		m.ExpiredKeys.WithLabelValues(strconv.Itoa(db)).Add(float64(n))
	}
}

// RecordResize 记录一次缩容，table 为 "keys" 或 "expires"
func (m *Metrics) RecordResize(db int, table string) {
	if m != nil {
		m.ResizeTotal.WithLabelValues(strconv.Itoa(db), table).Inc()
	}
}

// RecordRehash 记录后台 rehash 耗时
func (m *Metrics) RecordRehash(db int, d time.Duration) {
	if m != nil {
		m.RehashDuration.WithLabelValues(strconv.Itoa(db)).Add(d.Seconds())
	}
}

// ObserveDb 更新数据库的规模指标
func (m *Metrics) ObserveDb(db int, keys, expires uint64, rehashing bool) {
	if m == nil {
		return
	}
	label := strconv.Itoa(db)
	m.Keys.WithLabelValues(label).Set(float64(keys))
	m.Expires.WithLabelValues(label).Set(float64(expires))
	r := 0.0
	if rehashing {
		r = 1
	}
	m.Rehashing.WithLabelValues(label).Set(r)
}

// ObserveCron 记录一次 cron 的耗时
func (m *Metrics) ObserveCron(d time.Duration) {
	if m != nil {
		m.CronDuration.Observe(d.Seconds())
	}
}

// ObserveAllocator 更新分配器内存
func (m *Metrics) ObserveAllocator(used, peak int64) {
	if m != nil {
		m.AllocatorUsed.Set(float64(used))
		m.AllocatorPeak.Set(float64(peak))
	}
}

// RecordHTTPRequest 记录一次 HTTP 请求
func (m *Metrics) RecordHTTPRequest(route string, code int) {
	if m != nil {
		m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	}
}
