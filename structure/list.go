package structure

import "github.com/pkg/errors"

/*
 * ============================================================================
 * Redis List 数据结构 - Ziplist + Quicklist
 * ============================================================================
 *
 * 【核心原理】
 * Redis List 使用两种编码方式：
 * 1. OBJ_ENCODING_ZIPLIST: 小列表直接使用一个 ziplist（连续内存）
 * 2. OBJ_ENCODING_QUICKLIST: 大列表使用 quicklist（双向链表，每个节点一个 ziplist）
 *
 * 【Ziplist 原理】
 * 每个 entry 记录前一个 entry 的长度（prevlen），所以可以从尾部往前遍历。
 * prevlen 是 1 或 5 字节，前一个 entry 跨过 254 字节时本 entry 的头部要变长，
 * 可能引起连锁更新（cascade update）。
 *
 * 【编码转换策略】
 * - 元素数超过 ListMaxZiplistEntries（默认 512）→ quicklist
 * - ziplist 总字节数会超过 ListMaxZiplistSize（默认 8KB）→ quicklist
 * - 不会从 quicklist 转回 ziplist
 *
 * 【面试题】
 * Q1: Redis List 为什么使用 quicklist 而不是简单的双向链表？
 * A1: 简单双向链表每个元素都有 prev/next 指针，内存碎片多、缓存局部性差。
 *     quicklist 每个节点装多个元素，指针开销被摊薄，节点还可以压缩。
 *
 * Q2: 什么是连锁更新？
 * A2: 在 ziplist 中插入一个长度 >= 254 的 entry，后一个 entry 的 prevlen
 *     从 1 字节变成 5 字节，如果它原本长度在 250~253 之间，它自己也跨过了 254，
 *     于是再影响下一个 entry。最坏情况 O(n^2)，实现上先算出总增长量，
 *     一次扩容后从尾部往前搬移，把重分配次数降到一次。
 *
 * Q3: Quicklist 的压缩策略是什么？
 * A3: compress 参数控制两端不压缩的节点数，例如 compress=1 表示头尾各保留
 *     1 个节点不压缩，中间节点用 s2 压缩。节点太小或压缩收益不足时不压缩。
 *
 * Q4: Quicklist 的 fill 参数是什么？
 * A4: fill > 0: 每个节点最多 fill 个元素；
 *     fill < 0: -1..-5 对应每个节点 4/8/16/32/64 KB。
 */

// RedisList Redis 列表
type RedisList struct {
	cfg      *EncodingConfig
	encoding Encoding
	zl       *Ziplist
	ql       *Quicklist
}

// NewList 创建空列表，初始为 ziplist 编码
func NewList(cfg *EncodingConfig) *RedisList {
	cfg = configOrDefault(cfg)
	return &RedisList{
		cfg:      cfg,
		encoding: OBJ_ENCODING_ZIPLIST,
		zl:       NewZiplist(cfg.Alloc),
	}
}

// Encoding 当前编码
func (rl *RedisList) Encoding() Encoding {
	return rl.encoding
}

// Len 元素个数
func (rl *RedisList) Len() int {
	if rl.encoding == OBJ_ENCODING_ZIPLIST {
		return rl.zl.Len()
	}
	return rl.ql.Count()
}

// Quicklist 返回底层 quicklist，ziplist 编码时为 nil
func (rl *RedisList) Quicklist() *Quicklist {
	return rl.ql
}

// tryConversion 插入 extra 字节前检查是否需要转换为 quicklist
func (rl *RedisList) tryConversion(extra int) {
	if rl.encoding != OBJ_ENCODING_ZIPLIST {
		return
	}
	if rl.zl.Len()+1 > rl.cfg.ListMaxZiplistEntries ||
		rl.zl.BlobLen()+extra > rl.cfg.ListMaxZiplistSize {
		rl.convertToQuicklist()
	}
}

func (rl *RedisList) convertToQuicklist() {
	rl.ql = QuicklistCreateFromZiplist(rl.cfg.ListFill, rl.cfg.ListCompressDepth, rl.zl, rl.cfg.Alloc)
	rl.zl = nil
	rl.encoding = OBJ_ENCODING_QUICKLIST
}

// Push 插入头部（QUICKLIST_HEAD）或尾部（QUICKLIST_TAIL）
func (rl *RedisList) Push(value []byte, where int) error {
	rl.tryConversion(len(value))
	if rl.encoding == OBJ_ENCODING_QUICKLIST {
		rl.ql.Push(value, where)
		return nil
	}
	return rl.zl.Push(value, where)
}

// Pop 弹出头部或尾部元素
func (rl *RedisList) Pop(where int) ([]byte, error) {
	if rl.encoding == OBJ_ENCODING_QUICKLIST {
		v, ok := rl.ql.Pop(where)
		if !ok {
			return nil, ErrListEmpty
		}
		return v.Bytes(), nil
	}

	idx := 0
	if where != QUICKLIST_HEAD {
		idx = -1
	}
	p := rl.zl.Index(idx)
	if p < 0 {
		return nil, ErrListEmpty
	}
	v, _ := rl.zl.Get(p)
	rl.zl.Delete(p)
	return v.Bytes(), nil
}

// Index 返回第 idx 个元素，负数从尾部计数
func (rl *RedisList) Index(idx int) ([]byte, bool) {
	if rl.encoding == OBJ_ENCODING_QUICKLIST {
		v, ok := rl.ql.Get(idx)
		if !ok {
			return nil, false
		}
		return v.Bytes(), true
	}
	v, ok := rl.zl.Get(rl.zl.Index(idx))
	if !ok {
		return nil, false
	}
	return v.Bytes(), true
}

// Set 覆盖第 idx 个元素（LSET）
func (rl *RedisList) Set(idx int, value []byte) error {
	if rl.encoding == OBJ_ENCODING_ZIPLIST {
		p := rl.zl.Index(idx)
		if p < 0 {
			return errors.Wrapf(ErrIndexOutOfRange, "lset %d", idx)
		}
		if rl.zl.BlobLen()+len(value) > rl.cfg.ListMaxZiplistSize {
			rl.convertToQuicklist()
		} else {
			_, err := rl.zl.Replace(p, value)
			return err
		}
	}
	if !rl.ql.ReplaceAtIndex(idx, value) {
		return errors.Wrapf(ErrIndexOutOfRange, "lset %d", idx)
	}
	return nil
}

// normalizeRange 按 LRANGE 规则修正区间，返回 ok=false 表示结果为空
func normalizeRange(start, end, length int) (int, int, bool) {
	if start < 0 {
		start += length
	}
	if end < 0 {
		end += length
	}
	if start < 0 {
		start = 0
	}
	if start > end || start >= length {
		return 0, 0, false
	}
	if end >= length {
		end = length - 1
	}
	return start, end, true
}

// Range 返回 [start, end] 区间内的元素（LRANGE 语义）
func (rl *RedisList) Range(start, end int) [][]byte {
	start, end, ok := normalizeRange(start, end, rl.Len())
	if !ok {
		return [][]byte{}
	}
	n := end - start + 1
	out := make([][]byte, 0, n)

	if rl.encoding == OBJ_ENCODING_ZIPLIST {
		for p := rl.zl.Index(start); p >= 0 && len(out) < n; p = rl.zl.Next(p) {
			v, _ := rl.zl.Get(p)
			out = append(out, v.Bytes())
		}
		return out
	}

	it, ok := rl.ql.IteratorAtIdx(AL_START_HEAD, start)
	if !ok {
		return out
	}
	defer it.Release()
	var entry QuicklistEntry
	for len(out) < n && it.Next(&entry) {
		out = append(out, entry.Value.Bytes())
	}
	return out
}

// Trim 只保留 [start, end] 区间（LTRIM 语义）
func (rl *RedisList) Trim(start, end int) {
	length := rl.Len()
	ltrim, rtrim := length, 0
	if s, e, ok := normalizeRange(start, end, length); ok {
		ltrim = s
		rtrim = length - e - 1
	}

	if rl.encoding == OBJ_ENCODING_ZIPLIST {
		rl.zl.DeleteRange(0, ltrim)
		rl.zl.DeleteRange(-rtrim, rtrim)
		return
	}
	rl.ql.DelRange(0, ltrim)
	rl.ql.DelRange(-rtrim, rtrim)
}

// Remove 删除与 value 相等的元素（LREM 语义）：
// count > 0 从头部开始删 count 个，count < 0 从尾部开始删 -count 个，count = 0 全部删除
func (rl *RedisList) Remove(count int, value []byte) int {
	fromTail := count < 0
	if fromTail {
		count = -count
	}
	removed := 0

	if rl.encoding == OBJ_ENCODING_ZIPLIST {
		zl := rl.zl
		if !fromTail {
			p := zl.Index(0)
			for p >= 0 && (count == 0 || removed < count) {
				if zl.Compare(p, value) {
					p = zl.Delete(p)
					removed++
					if zl.Bytes()[p] == ZIP_END {
						break
					}
					continue
				}
				p = zl.Next(p)
			}
			return removed
		}
		p := zl.Index(-1)
		for p >= 0 && (count == 0 || removed < count) {
			prev := zl.Prev(p)
			if zl.Compare(p, value) {
				zl.Delete(p)
				removed++
			}
			p = prev
		}
		return removed
	}

	direction := AL_START_HEAD
	if fromTail {
		direction = AL_START_TAIL
	}
	it := rl.ql.Iterator(direction)
	defer it.Release()
	var entry QuicklistEntry
	for (count == 0 || removed < count) && it.Next(&entry) {
		if entry.Equal(value) {
			it.DelEntry(&entry)
			removed++
		}
	}
	return removed
}

// Insert 在第一个等于 pivot 的元素之前（before=true）或之后插入 value（LINSERT）。
// 返回插入后的长度，找不到 pivot 返回 -1
func (rl *RedisList) Insert(before bool, pivot, value []byte) (int, error) {
	if rl.encoding == OBJ_ENCODING_ZIPLIST {
		p := rl.zl.Find(rl.zl.Index(0), pivot, 0)
		if p < 0 {
			return -1, nil
		}
		rl.tryConversion(len(value))
		if rl.encoding == OBJ_ENCODING_ZIPLIST {
			if !before {
				p += zipRawEntryLength(rl.zl.Bytes(), p)
			}
			if err := rl.zl.Insert(p, value); err != nil {
				return 0, err
			}
			return rl.zl.Len(), nil
		}
	}

	it := rl.ql.Iterator(AL_START_HEAD)
	var entry QuicklistEntry
	found := false
	for it.Next(&entry) {
		if entry.Equal(pivot) {
			found = true
			break
		}
	}
	it.Release()
	if !found {
		return -1, nil
	}
	if before {
		rl.ql.InsertBefore(&entry, value)
	} else {
		rl.ql.InsertAfter(&entry, value)
	}
	return rl.ql.Count(), nil
}

// Values 全部元素
func (rl *RedisList) Values() [][]byte {
	return rl.Range(0, -1)
}

// Free 释放底层内存
func (rl *RedisList) Free() {
	if rl.zl != nil {
		rl.zl.Free()
		rl.zl = nil
	}
	if rl.ql != nil {
		rl.ql.Release()
		rl.ql = nil
	}
}
