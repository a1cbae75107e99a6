package storage

import (
	"strings"
	"time"

	"github.com/code-100-precent/LingCore/metrics"
	"github.com/code-100-precent/LingCore/structure"
)

/*
 * ============================================================================
 * Redis 数据库系统 (redisDb)
 * ============================================================================
 *
 * 每个数据库包含两张 Dict：
 * - keys: key -> RedisObject
 * - expires: key -> 过期时间（Unix 毫秒）
 *
 * 两张表共享服务器的 ResizeConfig，生成快照期间一起切换到 AVOID 策略。
 * Dict 的查找也会推进 rehash，所以 RedisDb 的任何访问都会修改内部状态，
 * 本身不加锁，由 RedisServer.Exec 串行化。
 *
 * 【过期机制】
 * - 惰性删除：访问 key 时发现已过期就删除
 * - 主动删除：后台 cron 从 expires 中随机采样，过期比例高就继续采样
 */

const (
	// ACTIVE_EXPIRE_CYCLE_KEYS_PER_LOOP 每轮采样的 key 数
	ACTIVE_EXPIRE_CYCLE_KEYS_PER_LOOP = 20
	// ACTIVE_EXPIRE_CYCLE_ACCEPTABLE_STALE 过期比例低于此百分比时停止采样
	ACTIVE_EXPIRE_CYCLE_ACCEPTABLE_STALE = 25
	// HASHTABLE_MAX_LOAD_FACTOR 负载超过此值时无视内存限制允许扩容
	HASHTABLE_MAX_LOAD_FACTOR = 1.618
	// SCAN 在找不到足够元素时最多访问 count*10 个桶
	scanMaxIterationsFactor = 10
)

// RedisDb Redis 数据库
type RedisDb struct {
	id      int
	keys    *structure.Dict[string, *RedisObject]
	expires *structure.Dict[string, int64]
	cfg     *structure.EncodingConfig
	metrics *metrics.Metrics
	now     func() time.Time
	avgTTL  int64

	// maxMemory 软内存上限，0 表示不限制
	maxMemory int64
}

// NewRedisDb 创建新的 Redis 数据库
func NewRedisDb(id int, cfg *structure.EncodingConfig, m *metrics.Metrics) *RedisDb {
	if cfg == nil {
		cfg = structure.DefaultEncodingConfig()
	}
	if cfg.Alloc == nil {
		cfg.Alloc = structure.DefaultAllocator()
	}
	if cfg.Resize == nil {
		cfg.Resize = structure.NewResizeConfig()
	}
	db := &RedisDb{
		id:      id,
		cfg:     cfg,
		metrics: m,
		now:     time.Now,
	}

	keysType := &structure.DictType[string, *RedisObject]{
		HashFunction:  structure.StringHash,
		ValDestructor: func(obj *RedisObject) { obj.DecrRefCount() },
		ExpandAllowed: db.expandAllowed,
	}
	expiresType := structure.StringDictType[int64]()
	expiresType.ExpandAllowed = db.expandAllowed

	db.keys = structure.NewDictWithAllocator(keysType, cfg.Resize, cfg.Alloc)
	db.expires = structure.NewDictWithAllocator(expiresType, cfg.Resize, cfg.Alloc)
	return db
}

// expandAllowed 负载过高时总是允许；否则扩容后不能超过内存上限
func (db *RedisDb) expandAllowed(moreMem int, usedRatio float64) bool {
	if usedRatio > HASHTABLE_MAX_LOAD_FACTOR {
		return true
	}
	if ha, ok := db.cfg.Alloc.(*structure.HeapAllocator); ok && ha.WouldExceed(int64(moreMem)) {
		return false
	}
	return db.maxMemory <= 0 || db.cfg.Alloc.Used()+int64(moreMem) <= db.maxMemory
}

func (db *RedisDb) nowMs() int64 {
	return db.now().UnixMilli()
}

// GetID 获取数据库 ID
func (db *RedisDb) GetID() int {
	return db.id
}

// EncodingConfig 创建新对象使用的编码配置
func (db *RedisDb) EncodingConfig() *structure.EncodingConfig {
	return db.cfg
}

// keyIsExpired 只判断不删除
func (db *RedisDb) keyIsExpired(key string) bool {
	when, ok := db.expires.FetchValue(key)
	return ok && db.nowMs() >= when
}

// expireIfNeeded 已过期就删除，返回是否删除
func (db *RedisDb) expireIfNeeded(key string) bool {
	if !db.keyIsExpired(key) {
		return false
	}
	db.delete(key)
	return true
}

func (db *RedisDb) delete(key string) bool {
	db.expires.Delete(key)
	return db.keys.Delete(key)
}

// Set 设置键值对，数据库接管 obj 的一个引用；原有的过期时间被清除
func (db *RedisDb) Set(key string, obj *RedisObject) {
	db.keys.Replace(key, obj)
	db.expires.Delete(key)
}

// Add 只在 key 不存在时设置
func (db *RedisDb) Add(key string, obj *RedisObject) error {
	db.expireIfNeeded(key)
	return db.keys.Add(key, obj)
}

// Get 获取键值对
func (db *RedisDb) Get(key string) (*RedisObject, error) {
	db.expireIfNeeded(key)
	obj, ok := db.keys.FetchValue(key)
	if !ok {
		db.metrics.RecordKeyspaceMiss()
		return nil, ErrKeyNotFound
	}
	db.metrics.RecordKeyspaceHit()
	return obj, nil
}

// GetOrCreate 取出 key 对应的对象，不存在时按类型新建；类型不符返回 ErrWrongType
func (db *RedisDb) GetOrCreate(key string, t ObjectType) (*RedisObject, error) {
	obj, err := db.Get(key)
	if err == nil {
		if obj.Type != t {
			return nil, ErrWrongType
		}
		return obj, nil
	}

	switch t {
	case OBJ_LIST:
		obj = NewListObject(db.cfg)
	case OBJ_SET:
		obj = NewSetObject(db.cfg)
	case OBJ_HASH:
		obj = NewHashObject(db.cfg)
	default:
		obj = NewStringObject(nil)
	}
	db.keys.Replace(key, obj)
	return obj, nil
}

// DeleteIfEmpty 容器被清空后删除 key
func (db *RedisDb) DeleteIfEmpty(key string) bool {
	obj, ok := db.keys.FetchValue(key)
	if !ok || obj.Type == OBJ_STRING || obj.Len() > 0 {
		return false
	}
	return db.delete(key)
}

// Del 删除键值对
func (db *RedisDb) Del(key string) bool {
	if db.expireIfNeeded(key) {
		return false
	}
	return db.delete(key)
}

// Exists 检查键是否存在
func (db *RedisDb) Exists(key string) bool {
	db.expireIfNeeded(key)
	return db.keys.Find(key) != nil
}

// Type 获取键的类型
func (db *RedisDb) Type(key string) (string, error) {
	obj, err := db.Get(key)
	if err != nil {
		return "", err
	}
	return obj.TypeString(), nil
}

// PTTL 剩余生存时间（毫秒），-2 表示不存在，-1 表示没有过期时间
func (db *RedisDb) PTTL(key string) int64 {
	if !db.Exists(key) {
		return -2
	}
	when, ok := db.expires.FetchValue(key)
	if !ok {
		return -1
	}
	return max(when-db.nowMs(), 0)
}

// TTL 剩余生存时间（秒，四舍五入），-2 表示不存在，-1 表示没有过期时间
func (db *RedisDb) TTL(key string) int64 {
	ttl := db.PTTL(key)
	if ttl < 0 {
		return ttl
	}
	return (ttl + 500) / 1000
}

// PExpireAt 设置过期时间（Unix 毫秒），时间已过去时直接删除
func (db *RedisDb) PExpireAt(key string, whenMs int64) bool {
	db.expireIfNeeded(key)
	if db.keys.Find(key) == nil {
		return false
	}
	if whenMs <= db.nowMs() {
		db.delete(key)
		return true
	}
	db.expires.Replace(key, whenMs)
	return true
}

// Expire 设置键的过期时间（秒）
func (db *RedisDb) Expire(key string, seconds int64) bool {
	return db.PExpireAt(key, db.nowMs()+seconds*1000)
}

// ExpireAt 设置键的过期时间（Unix 秒）
func (db *RedisDb) ExpireAt(key string, timestamp int64) bool {
	return db.PExpireAt(key, timestamp*1000)
}

// Persist 移除键的过期时间
func (db *RedisDb) Persist(key string) bool {
	db.expireIfNeeded(key)
	return db.expires.Delete(key)
}

// Keys 返回匹配 pattern 的全部键
func (db *RedisDb) Keys(pattern string) []string {
	all := pattern == "" || pattern == "*"
	keys := make([]string, 0)

	it := db.keys.Iterator(true)
	for e := it.Next(); e != nil; e = it.Next() {
		key := e.Key()
		if !all && !matchPattern(pattern, key) {
			continue
		}
		if db.expireIfNeeded(key) {
			continue
		}
		keys = append(keys, key)
	}
	it.Release()
	return keys
}

// Scan 增量遍历键空间（SCAN）。至少尝试收集 count 个键，
// 返回下一次的游标，游标为 0 表示遍历结束
func (db *RedisDb) Scan(cursor uint64, match string, count int) (uint64, []string) {
	if count <= 0 {
		count = 10
	}
	var found []string
	maxIterations := count * scanMaxIterationsFactor
	for {
		cursor = db.keys.Scan(cursor, func(e *structure.DictEntry[string, *RedisObject]) {
			found = append(found, e.Key())
		})
		maxIterations--
		if cursor == 0 || maxIterations <= 0 || len(found) >= count {
			break
		}
	}

	// 扫描回调里不能修改 dict，过滤放到最后
	keys := found[:0]
	for _, key := range found {
		if match != "" && match != "*" && !matchPattern(match, key) {
			continue
		}
		if db.expireIfNeeded(key) {
			continue
		}
		keys = append(keys, key)
	}
	return cursor, keys
}

// RandomKey 随机返回一个未过期的键，抽到的过期键会被顺便删除
func (db *RedisDb) RandomKey() (string, bool) {
	for {
		e := db.keys.GetFairRandomKey()
		if e == nil {
			return "", false
		}
		key := e.Key()
		if db.expireIfNeeded(key) {
			continue
		}
		return key, true
	}
}

// DBSize 获取数据库中的键数量（包括尚未回收的过期键）
func (db *RedisDb) DBSize() int {
	return int(db.keys.Size())
}

// ExpiresSize 带过期时间的键数量
func (db *RedisDb) ExpiresSize() int {
	return int(db.expires.Size())
}

// AvgTTL 最近一次主动过期采样估计的平均 TTL（毫秒）
func (db *RedisDb) AvgTTL() int64 {
	return db.avgTTL
}

// FlushDB 清空数据库
func (db *RedisDb) FlushDB() {
	db.keys.Empty(nil)
	db.expires.Empty(nil)
	db.avgTTL = 0
}

// ActiveExpireCycle 主动过期：每轮随机采样 ACTIVE_EXPIRE_CYCLE_KEYS_PER_LOOP 个
// 带过期时间的键，过期比例低于 ACTIVE_EXPIRE_CYCLE_ACCEPTABLE_STALE% 或超出时间预算时停止。
// 返回删除的键数
func (db *RedisDb) ActiveExpireCycle(budget time.Duration) int {
	start := time.Now()
	expired := 0
	iteration := 0

	for {
		num := db.expires.Size()
		if num == 0 {
			db.avgTTL = 0
			break
		}
		if num > ACTIVE_EXPIRE_CYCLE_KEYS_PER_LOOP {
			num = ACTIVE_EXPIRE_CYCLE_KEYS_PER_LOOP
		}

		sample := db.expires.GetSomeKeys(int(num))
		now := db.nowMs()
		type candidate struct {
			key  string
			when int64
		}
		candidates := make([]candidate, len(sample))
		for i, e := range sample {
			candidates[i] = candidate{key: e.Key(), when: e.Val()}
		}

		sampled, stale := 0, 0
		var ttlSum int64
		ttlSamples := 0
		for _, c := range candidates {
			sampled++
			if now >= c.when {
				db.delete(c.key)
				stale++
				continue
			}
			ttlSum += c.when - now
			ttlSamples++
		}
		expired += stale

		if ttlSamples > 0 {
			avg := ttlSum / int64(ttlSamples)
			if db.avgTTL == 0 {
				db.avgTTL = avg
			} else {
				db.avgTTL = (db.avgTTL/50)*49 + avg/50
			}
		}

		iteration++
		if iteration&0xf == 0 && budget > 0 && time.Since(start) > budget {
			break
		}
		if sampled == 0 || stale*100/sampled <= ACTIVE_EXPIRE_CYCLE_ACCEPTABLE_STALE {
			break
		}
	}

	db.metrics.RecordExpired(db.id, expired)
	return expired
}

// TryResize 填充率过低时缩容 keys 和 expires
func (db *RedisDb) TryResize() bool {
	resized := false
	if db.keys.NeedsShrink() && db.keys.Resize() == nil {
		db.metrics.RecordResize(db.id, "keys")
		resized = true
	}
	if db.expires.NeedsShrink() && db.expires.Resize() == nil {
		db.metrics.RecordResize(db.id, "expires")
		resized = true
	}
	return resized
}

// IncrementallyRehash 在 ms 毫秒内推进 rehash，先 keys 后 expires。
// 有 rehash 工作时返回 true
func (db *RedisDb) IncrementallyRehash(ms int) bool {
	start := time.Now()
	defer func() { db.metrics.RecordRehash(db.id, time.Since(start)) }()

	if db.keys.IsRehashing() {
		db.keys.RehashMilliseconds(ms)
		return true
	}
	if db.expires.IsRehashing() {
		db.expires.RehashMilliseconds(ms)
		return true
	}
	return false
}

// IsRehashing keys 或 expires 是否处于 rehash
func (db *RedisDb) IsRehashing() bool {
	return db.keys.IsRehashing() || db.expires.IsRehashing()
}

// HTStats 两张表的桶统计（DEBUG HTSTATS）
func (db *RedisDb) HTStats() string {
	var sb strings.Builder
	sb.WriteString("[Dictionary HT]\n")
	sb.WriteString(db.keys.Stats())
	sb.WriteString("[Expires HT]\n")
	sb.WriteString(db.expires.Stats())
	return sb.String()
}

// observe 更新规模指标
func (db *RedisDb) observe() {
	db.metrics.ObserveDb(db.id, db.keys.Size(), db.expires.Size(), db.IsRehashing())
}
