package structure

import "strconv"

/*
 * ============================================================================
 * Redis Set 数据结构 - Intset + Hashtable
 * ============================================================================
 *
 * 【核心原理】
 * Redis Set 使用两种编码方式：
 * 1. OBJ_ENCODING_INTSET: 整数集合（所有元素都是整数时使用）
 * 2. OBJ_ENCODING_HT: 哈希表（包含非整数元素或元素过多时使用）
 *
 * 【Intset 原理】
 * Intset 是一个有序的整数数组，所有元素使用同一宽度（int16/int32/int64）：
 * - encoding 决定每个整数占用的字节数
 * - 新元素超出当前宽度时整体升级，升级后的新元素一定在两端
 * - 有序，二分查找 O(log n)
 *
 * 【Hashtable 原理】
 * key 是元素值，value 为空结构体。Dict 渐进式 rehash，扩容不会阻塞。
 *
 * 【编码转换策略】
 * - 添加非整数元素 → hashtable
 * - 元素数量超过 SetMaxIntsetEntries（默认 512）→ hashtable
 * - 不会从 hashtable 转换回 intset
 *
 * 【面试题】
 * Q1: Intset 为什么不降级？
 * A1: 降级需要扫描全部元素确认都能放进更窄的宽度，代价是 O(n)，
 *     而删除本应是 O(log n)。实际场景中升级后再全部删掉大数的情况很少。
 *
 * Q2: 什么样的字符串算整数？
 * A2: 必须是规范的十进制表示："12" 是，"012"、"+12"、" 12" 都不是，
 *     否则 SMEMBERS 返回的值和写入的值不一致。
 *
 * Q3: SSCAN 为什么在 intset 编码下一次返回全部元素？
 * A3: intset 很小（默认最多 512 个），没有游标结构，一次返回后游标为 0。
 */

// RedisSet Redis 集合
type RedisSet struct {
	cfg      *EncodingConfig
	encoding Encoding
	is       *Intset
	ht       *Dict[string, struct{}]
}

// NewSet 创建空集合，初始为 intset 编码
func NewSet(cfg *EncodingConfig) *RedisSet {
	cfg = configOrDefault(cfg)
	return &RedisSet{
		cfg:      cfg,
		encoding: OBJ_ENCODING_INTSET,
		is:       NewIntset(cfg.Alloc),
	}
}

// Encoding 当前编码
func (rs *RedisSet) Encoding() Encoding {
	return rs.encoding
}

// Dict 返回底层哈希表，intset 编码时为 nil
func (rs *RedisSet) Dict() *Dict[string, struct{}] {
	return rs.ht
}

func (rs *RedisSet) convertToHashtable() {
	ht := NewDictWithAllocator(StringDictType[struct{}](), rs.cfg.Resize, rs.cfg.Alloc)
	_ = ht.Expand(uint64(rs.is.Len()))
	for _, v := range rs.is.Members() {
		if err := ht.Add(strconv.FormatInt(v, 10), struct{}{}); err != nil {
			panic(err)
		}
	}
	rs.is.Free()
	rs.is = nil
	rs.ht = ht
	rs.encoding = OBJ_ENCODING_HT
}

// Add 添加成员，已存在返回 false
func (rs *RedisSet) Add(member []byte) bool {
	if rs.encoding == OBJ_ENCODING_INTSET {
		if v, ok := string2ll(member); ok {
			if !rs.is.Add(v) {
				return false
			}
			if int(rs.is.Len()) > rs.cfg.SetMaxIntsetEntries {
				rs.convertToHashtable()
			}
			return true
		}
		rs.convertToHashtable()
	}
	return rs.ht.Add(string(member), struct{}{}) == nil
}

// Remove 删除成员
func (rs *RedisSet) Remove(member []byte) bool {
	if rs.encoding == OBJ_ENCODING_INTSET {
		v, ok := string2ll(member)
		return ok && rs.is.Remove(v)
	}
	return rs.ht.Delete(string(member))
}

// IsMember 成员是否存在
func (rs *RedisSet) IsMember(member []byte) bool {
	if rs.encoding == OBJ_ENCODING_INTSET {
		v, ok := string2ll(member)
		return ok && rs.is.Find(v)
	}
	return rs.ht.Find(string(member)) != nil
}

// Card 成员数量
func (rs *RedisSet) Card() int {
	if rs.encoding == OBJ_ENCODING_INTSET {
		return int(rs.is.Len())
	}
	return int(rs.ht.Size())
}

// Members 全部成员；intset 编码下按数值升序
func (rs *RedisSet) Members() [][]byte {
	if rs.encoding == OBJ_ENCODING_INTSET {
		vals := rs.is.Members()
		out := make([][]byte, len(vals))
		for i, v := range vals {
			out[i] = strconv.AppendInt(nil, v, 10)
		}
		return out
	}

	out := make([][]byte, 0, rs.ht.Size())
	it := rs.ht.Iterator(false)
	for e := it.Next(); e != nil; e = it.Next() {
		out = append(out, []byte(e.Key()))
	}
	it.Release()
	return out
}

// RandomMember 随机返回一个成员，集合为空返回 nil
func (rs *RedisSet) RandomMember() []byte {
	if rs.Card() == 0 {
		return nil
	}
	if rs.encoding == OBJ_ENCODING_INTSET {
		return strconv.AppendInt(nil, rs.is.Random(), 10)
	}
	return []byte(rs.ht.GetFairRandomKey().Key())
}

// Pop 随机弹出一个成员（SPOP）
func (rs *RedisSet) Pop() ([]byte, bool) {
	m := rs.RandomMember()
	if m == nil {
		return nil, false
	}
	rs.Remove(m)
	return m, true
}

// Scan SSCAN：intset 编码一次返回全部成员并返回游标 0；
// hashtable 编码至少访问 count 个元素（最多 count*10 次桶访问）
func (rs *RedisSet) Scan(cursor uint64, count int) (uint64, [][]byte) {
	if rs.encoding == OBJ_ENCODING_INTSET {
		return 0, rs.Members()
	}
	if count <= 0 {
		count = 10
	}
	var out [][]byte
	maxIterations := count * 10
	for {
		cursor = rs.ht.Scan(cursor, func(e *DictEntry[string, struct{}]) {
			out = append(out, []byte(e.Key()))
		})
		maxIterations--
		if cursor == 0 || maxIterations <= 0 || len(out) >= count {
			break
		}
	}
	return cursor, out
}

// Inter 交集（SINTER），从最小的集合开始遍历
func (rs *RedisSet) Inter(others ...*RedisSet) *RedisSet {
	smallest := rs
	for _, o := range others {
		if o.Card() < smallest.Card() {
			smallest = o
		}
	}
	result := NewSet(rs.cfg)
	for _, m := range smallest.Members() {
		in := rs.IsMember(m)
		for _, o := range others {
			if !in {
				break
			}
			in = o.IsMember(m)
		}
		if in {
			result.Add(m)
		}
	}
	return result
}

// Union 并集（SUNION）
func (rs *RedisSet) Union(others ...*RedisSet) *RedisSet {
	result := NewSet(rs.cfg)
	for _, s := range append([]*RedisSet{rs}, others...) {
		for _, m := range s.Members() {
			result.Add(m)
		}
	}
	return result
}

// Diff 差集（SDIFF）
func (rs *RedisSet) Diff(others ...*RedisSet) *RedisSet {
	result := NewSet(rs.cfg)
	for _, m := range rs.Members() {
		found := false
		for _, o := range others {
			if o.IsMember(m) {
				found = true
				break
			}
		}
		if !found {
			result.Add(m)
		}
	}
	return result
}

// Free 释放底层内存
func (rs *RedisSet) Free() {
	if rs.is != nil {
		rs.is.Free()
		rs.is = nil
	}
	if rs.ht != nil {
		rs.ht.Release()
		rs.ht = nil
	}
}
