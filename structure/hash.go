package structure

import (
	"math"
	"strconv"

	"github.com/pkg/errors"
)

/*
 * ============================================================================
 * Redis Hash 数据结构 - Ziplist + Dict
 * ============================================================================
 *
 * 【核心原理】
 * Redis Hash 使用两种编码方式：
 * 1. OBJ_ENCODING_ZIPLIST: 小哈希表使用 ziplist（紧凑格式）
 * 2. OBJ_ENCODING_HT: 大哈希表使用 dict（哈希表）
 *
 * 【Ziplist 存储格式】
 * field-value 对按顺序交替存储：
 * [field1][value1][field2][value2]...
 * 查找 field 时用 Find(skip=1)，每比较一个 entry 跳过一个 value。
 *
 * 【编码转换策略】
 * - field 或 value 的长度超过 HashMaxZiplistValue（默认 64 字节）→ dict
 * - 字段数量超过 HashMaxZiplistEntries（默认 512）→ dict
 * - 不会从 dict 转换回 ziplist
 *
 * 【面试题】
 * Q1: 为什么 Hash 要使用两种编码方式？
 * A1: 小哈希表用 ziplist 没有指针开销，O(n) 查找在 n 很小时也很快；
 *     大哈希表用 dict，O(1) 查找。
 *
 * Q2: 为什么 ziplist 查找 field 时要 skip？
 * A2: value 可能恰好等于要找的 field，不跳过会把 value 误当成 field。
 *
 * Q3: 从外部加载的 ziplist 为什么要检查重复 field？
 * A3: 重复的 field 会让 HLEN 和实际可见的字段数不一致，转换成 dict 时也会失败，
 *     所以深度校验时逐个记录 field，遇到重复就拒绝。
 *
 * Q4: Hash 的渐进式 rehash 是什么？
 * A4: dict 扩容时不一次性迁移，而是每次操作顺带迁移一个桶，
 *     后台定时任务再补充迁移，避免阻塞。Hash 作为使用者自动获得。
 */

// HashEntry 哈希表条目
type HashEntry struct {
	field []byte
	value []byte
}

// Field 获取 field
func (e *HashEntry) Field() []byte {
	return e.field
}

// Value 获取 value
func (e *HashEntry) Value() []byte {
	return e.value
}

// RedisHash Redis Hash 对象
type RedisHash struct {
	cfg      *EncodingConfig
	encoding Encoding
	zl       *Ziplist
	ht       *Dict[string, []byte]
}

// NewHash 创建空 Hash，初始为 ziplist 编码
func NewHash(cfg *EncodingConfig) *RedisHash {
	cfg = configOrDefault(cfg)
	return &RedisHash{
		cfg:      cfg,
		encoding: OBJ_ENCODING_ZIPLIST,
		zl:       NewZiplist(cfg.Alloc),
	}
}

// NewHashFromZiplistBytes 从外部 ziplist blob 构造 Hash，做深度校验：
// entry 数必须为偶数且 field 不能重复
func NewHashFromZiplistBytes(cfg *EncodingConfig, buf []byte) (*RedisHash, error) {
	cfg = configOrDefault(cfg)
	fields := make(map[string]struct{})
	idx := 0
	ok := ZiplistValidateIntegrity(buf, true, func(v ZlValue, _ int) bool {
		if idx&1 == 0 {
			f := v.String()
			if _, dup := fields[f]; dup {
				return false
			}
			fields[f] = struct{}{}
		}
		idx++
		return true
	})
	if !ok || idx&1 != 0 {
		return nil, errors.Wrap(ErrZiplistCorrupt, "hash ziplist")
	}

	zl, err := ZiplistFromBytes(buf, false, cfg.Alloc)
	if err != nil {
		return nil, err
	}
	rh := &RedisHash{cfg: cfg, encoding: OBJ_ENCODING_ZIPLIST, zl: zl}
	if rh.Len() > cfg.HashMaxZiplistEntries {
		rh.convertToHashtable()
	}
	return rh, nil
}

// Encoding 当前编码
func (rh *RedisHash) Encoding() Encoding {
	return rh.encoding
}

// Dict 返回底层哈希表，ziplist 编码时为 nil
func (rh *RedisHash) Dict() *Dict[string, []byte] {
	return rh.ht
}

// Ziplist 返回底层 ziplist，dict 编码时为 nil
func (rh *RedisHash) Ziplist() *Ziplist {
	return rh.zl
}

func (rh *RedisHash) convertToHashtable() {
	ht := NewDictWithAllocator(StringDictType[[]byte](), rh.cfg.Resize, rh.cfg.Alloc)
	_ = ht.Expand(uint64(rh.zl.Len() / 2))
	for p := rh.zl.Index(0); p >= 0; p = rh.zl.Next(rh.zl.Next(p)) {
		f, _ := rh.zl.Get(p)
		v, _ := rh.zl.Get(rh.zl.Next(p))
		if err := ht.Add(f.String(), v.Bytes()); err != nil {
			panic(errors.Wrapf(ErrZiplistCorrupt, "duplicate hash field %q", f.String()))
		}
	}
	rh.zl.Free()
	rh.zl = nil
	rh.ht = ht
	rh.encoding = OBJ_ENCODING_HT
}

// findField 返回 field 在 ziplist 中的位置
func (rh *RedisHash) findField(field []byte) int {
	return rh.zl.Find(rh.zl.Index(0), field, 1)
}

// Set 设置字段，新建字段时返回 true
func (rh *RedisHash) Set(field, value []byte) (bool, error) {
	if rh.encoding == OBJ_ENCODING_ZIPLIST &&
		(len(field) > rh.cfg.HashMaxZiplistValue || len(value) > rh.cfg.HashMaxZiplistValue) {
		rh.convertToHashtable()
	}

	if rh.encoding == OBJ_ENCODING_HT {
		return rh.ht.Replace(string(field), append([]byte(nil), value...)), nil
	}

	if p := rh.findField(field); p >= 0 {
		_, err := rh.zl.Replace(rh.zl.Next(p), value)
		return false, err
	}
	if !rh.zl.SafeToAdd(len(field) + len(value)) {
		return false, errors.Wrap(ErrZiplistTooBig, "hset")
	}
	if err := rh.zl.Push(field, ZIPLIST_TAIL); err != nil {
		return false, err
	}
	if err := rh.zl.Push(value, ZIPLIST_TAIL); err != nil {
		// 撤销已写入的 field，保持成对
		rh.zl.DeleteRange(-1, 1)
		return false, err
	}
	if rh.Len() > rh.cfg.HashMaxZiplistEntries {
		rh.convertToHashtable()
	}
	return true, nil
}

// Get 读取字段
func (rh *RedisHash) Get(field []byte) ([]byte, bool) {
	if rh.encoding == OBJ_ENCODING_HT {
		return rh.ht.FetchValue(string(field))
	}
	p := rh.findField(field)
	if p < 0 {
		return nil, false
	}
	v, _ := rh.zl.Get(rh.zl.Next(p))
	return v.Bytes(), true
}

// Del 删除字段
func (rh *RedisHash) Del(field []byte) bool {
	if rh.encoding == OBJ_ENCODING_HT {
		return rh.ht.Delete(string(field))
	}
	p := rh.findField(field)
	if p < 0 {
		return false
	}
	p = rh.zl.Delete(p)
	rh.zl.Delete(p)
	return true
}

// Exists 字段是否存在
func (rh *RedisHash) Exists(field []byte) bool {
	if rh.encoding == OBJ_ENCODING_HT {
		return rh.ht.Find(string(field)) != nil
	}
	return rh.findField(field) >= 0
}

// Len 字段数量
func (rh *RedisHash) Len() int {
	if rh.encoding == OBJ_ENCODING_HT {
		return int(rh.ht.Size())
	}
	return rh.zl.Len() / 2
}

// GetAll 全部字段；ziplist 编码下保持插入顺序
func (rh *RedisHash) GetAll() []HashEntry {
	out := make([]HashEntry, 0, rh.Len())
	if rh.encoding == OBJ_ENCODING_ZIPLIST {
		for p := rh.zl.Index(0); p >= 0; p = rh.zl.Next(rh.zl.Next(p)) {
			f, _ := rh.zl.Get(p)
			v, _ := rh.zl.Get(rh.zl.Next(p))
			out = append(out, HashEntry{field: f.Bytes(), value: v.Bytes()})
		}
		return out
	}

	it := rh.ht.Iterator(false)
	for e := it.Next(); e != nil; e = it.Next() {
		out = append(out, HashEntry{field: []byte(e.Key()), value: e.Val()})
	}
	it.Release()
	return out
}

// Keys 全部 field
func (rh *RedisHash) Keys() [][]byte {
	all := rh.GetAll()
	out := make([][]byte, len(all))
	for i := range all {
		out[i] = all[i].field
	}
	return out
}

// Values 全部 value
func (rh *RedisHash) Values() [][]byte {
	all := rh.GetAll()
	out := make([][]byte, len(all))
	for i := range all {
		out[i] = all[i].value
	}
	return out
}

// RandomField 随机返回一个字段（HRANDFIELD）
func (rh *RedisHash) RandomField() (HashEntry, bool) {
	if rh.Len() == 0 {
		return HashEntry{}, false
	}
	if rh.encoding == OBJ_ENCODING_ZIPLIST {
		k, v := rh.zl.RandomPair()
		return HashEntry{field: k.Bytes(), value: v.Bytes()}, true
	}
	e := rh.ht.GetFairRandomKey()
	return HashEntry{field: []byte(e.Key()), value: e.Val()}, true
}

// RandomFields 随机返回 count 个字段，允许重复（HRANDFIELD 负 count 语义）
func (rh *RedisHash) RandomFields(count int) []HashEntry {
	if rh.Len() == 0 || count <= 0 {
		return nil
	}
	out := make([]HashEntry, 0, count)
	if rh.encoding == OBJ_ENCODING_ZIPLIST {
		keys, vals := rh.zl.RandomPairs(count)
		for i := range keys {
			out = append(out, HashEntry{field: keys[i].Bytes(), value: vals[i].Bytes()})
		}
		return out
	}
	for range count {
		e := rh.ht.GetFairRandomKey()
		out = append(out, HashEntry{field: []byte(e.Key()), value: e.Val()})
	}
	return out
}

// RandomFieldsUnique 随机返回最多 count 个互不重复的字段（HRANDFIELD 正 count 语义）
func (rh *RedisHash) RandomFieldsUnique(count int) []HashEntry {
	if rh.Len() == 0 || count <= 0 {
		return nil
	}
	if count >= rh.Len() {
		return rh.GetAll()
	}
	out := make([]HashEntry, 0, count)
	if rh.encoding == OBJ_ENCODING_ZIPLIST {
		keys, vals := rh.zl.RandomPairsUnique(count)
		for i := range keys {
			out = append(out, HashEntry{field: keys[i].Bytes(), value: vals[i].Bytes()})
		}
		return out
	}
	seen := make(map[string]struct{}, count)
	for len(out) < count {
		e := rh.ht.GetFairRandomKey()
		if _, ok := seen[e.Key()]; ok {
			continue
		}
		seen[e.Key()] = struct{}{}
		out = append(out, HashEntry{field: []byte(e.Key()), value: e.Val()})
	}
	return out
}

// Scan HSCAN：ziplist 编码一次返回全部字段并返回游标 0
func (rh *RedisHash) Scan(cursor uint64, count int) (uint64, []HashEntry) {
	if rh.encoding == OBJ_ENCODING_ZIPLIST {
		return 0, rh.GetAll()
	}
	if count <= 0 {
		count = 10
	}
	var out []HashEntry
	maxIterations := count * 10
	for {
		cursor = rh.ht.Scan(cursor, func(e *DictEntry[string, []byte]) {
			out = append(out, HashEntry{field: []byte(e.Key()), value: e.Val()})
		})
		maxIterations--
		if cursor == 0 || maxIterations <= 0 || len(out) >= count {
			break
		}
	}
	return cursor, out
}

// IncrBy 将字段值增加指定数值（HINCRBY）
func (rh *RedisHash) IncrBy(field []byte, increment int64) (int64, error) {
	var current int64
	if value, exists := rh.Get(field); exists {
		v, ok := string2ll(value)
		if !ok {
			return 0, errors.Wrapf(ErrNotInteger, "hash field %q", field)
		}
		current = v
	}
	if (increment < 0 && current < 0 && increment < math.MinInt64-current) ||
		(increment > 0 && current > 0 && increment > math.MaxInt64-current) {
		return 0, ErrIncrOverflow
	}

	current += increment
	if _, err := rh.Set(field, strconv.AppendInt(nil, current, 10)); err != nil {
		return 0, err
	}
	return current, nil
}

// IncrByFloat 将字段值增加指定浮点数（HINCRBYFLOAT）
func (rh *RedisHash) IncrByFloat(field []byte, increment float64) (float64, error) {
	var current float64
	if value, exists := rh.Get(field); exists {
		v, err := strconv.ParseFloat(string(value), 64)
		if err != nil {
			return 0, errors.Wrapf(ErrNotFloat, "hash field %q", field)
		}
		current = v
	}

	current += increment
	if math.IsNaN(current) || math.IsInf(current, 0) {
		return 0, errors.Wrap(ErrNotFloat, "increment would produce NaN or Infinity")
	}
	if _, err := rh.Set(field, strconv.AppendFloat(nil, current, 'f', -1, 64)); err != nil {
		return 0, err
	}
	return current, nil
}

// MSet 批量设置字段
func (rh *RedisHash) MSet(fields, values [][]byte) error {
	if len(fields) != len(values) {
		return errors.New("fields and values length mismatch")
	}
	for i := range fields {
		if _, err := rh.Set(fields[i], values[i]); err != nil {
			return err
		}
	}
	return nil
}

// MGet 批量获取字段值，不存在的字段对应 nil
func (rh *RedisHash) MGet(fields [][]byte) [][]byte {
	result := make([][]byte, 0, len(fields))
	for _, field := range fields {
		value, _ := rh.Get(field)
		result = append(result, value)
	}
	return result
}

// Free 释放底层内存
func (rh *RedisHash) Free() {
	if rh.zl != nil {
		rh.zl.Free()
		rh.zl = nil
	}
	if rh.ht != nil {
		rh.ht.Release()
		rh.ht = nil
	}
}
