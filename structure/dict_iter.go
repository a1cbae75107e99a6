package structure

import (
	"encoding/binary"
	"math/bits"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

// DictIterator 遍历 dict。
//
// 安全迭代器在创建时暂停迁移，遍历期间可以删除当前返回的节点；
// 非安全迭代器只允许读，创建时记录指纹，Release 时指纹不一致视为程序错误
type DictIterator[K comparable, V any] struct {
	d           *Dict[K, V]
	safe        bool
	table       int
	index       int64
	chain       []*DictEntry[K, V]
	pos         int
	fingerprint uint64
	released    bool
}

// Iterator 创建迭代器
func (d *Dict[K, V]) Iterator(safe bool) *DictIterator[K, V] {
	it := &DictIterator[K, V]{d: d, safe: safe, index: -1}
	if safe {
		d.pauseRehash++
	} else {
		it.fingerprint = d.Fingerprint()
	}
	return it
}

func (d *Dict[K, V]) tableAt(i int) *dictTable[K, V] {
	if i == 0 {
		return d.main
	}
	if d.migration != nil {
		return d.migration.target
	}
	return nil
}

// Next 返回下一个节点，遍历结束返回 nil
func (it *DictIterator[K, V]) Next() *DictEntry[K, V] {
	for {
		// 桶内从后往前取：删除当前节点只会移动已经返回过的节点
		if it.pos > 0 {
			it.pos--
			return it.chain[it.pos]
		}
		t := it.d.tableAt(it.table)
		it.index++
		if t == nil || uint64(it.index) >= t.size() {
			if it.table == 0 && it.d.IsRehashing() {
				it.table = 1
				it.index = -1
				continue
			}
			it.chain = nil
			return nil
		}
		it.chain = t.buckets[it.index]
		it.pos = len(it.chain)
	}
}

// Release 释放迭代器
func (it *DictIterator[K, V]) Release() {
	if it.released {
		return
	}
	it.released = true
	if it.safe {
		it.d.pauseRehash--
		return
	}
	if fp := it.d.Fingerprint(); fp != it.fingerprint {
		panic(errors.Wrapf(ErrDictUnsafeMutation, "fingerprint %x != %x", fp, it.fingerprint))
	}
}

// Fingerprint 对两张表的标识、大小和元素数做 xxhash，
// 用于检测非安全迭代期间的修改
func (d *Dict[K, V]) Fingerprint() uint64 {
	var buf [48]byte
	put := func(off int, t *dictTable[K, V]) {
		if t == nil {
			return
		}
		binary.LittleEndian.PutUint64(buf[off:], t.id)
		binary.LittleEndian.PutUint64(buf[off+8:], t.size())
		binary.LittleEndian.PutUint64(buf[off+16:], t.used)
	}
	put(0, d.main)
	if d.migration != nil {
		put(24, d.migration.target)
	}
	return xxhash.Sum64(buf[:])
}

func dictRev(v uint64) uint64 {
	return bits.Reverse64(v)
}

// emitBucket 回调桶内所有节点，回调中删除当前节点是安全的
func emitBucket[K comparable, V any](bucket []*DictEntry[K, V], fn func(*DictEntry[K, V])) {
	for i := len(bucket) - 1; i >= 0; i-- {
		fn(bucket[i])
	}
}

// Scan 无状态遍历：从 cursor 开始访问一个桶（迁移期间是小表的一个桶及其在大表中的
// 全部扩展桶），返回下一个 cursor，返回 0 表示遍历结束。
//
// 游标按位反转后递增，因此在两次调用之间表扩容或缩容，已经访问过的桶
// 也不会被漏掉（可能重复返回）。
func (d *Dict[K, V]) Scan(cursor uint64, fn func(*DictEntry[K, V])) uint64 {
	if d.Size() == 0 {
		return 0
	}
	d.pauseRehash++
	defer func() { d.pauseRehash-- }()

	v := cursor
	if d.migration == nil {
		t0 := d.main
		m0 := t0.mask()
		emitBucket(t0.buckets[v&m0], fn)

		// 把未被 mask 覆盖的高位置 1，反转后加一再反转回来
		v |= ^m0
		v = dictRev(v)
		v++
		v = dictRev(v)
		return v
	}

	t0, t1 := d.main, d.migration.target
	// t0 总是较小的表
	if t0.size() > t1.size() {
		t0, t1 = t1, t0
	}
	m0, m1 := t0.mask(), t1.mask()

	emitBucket(t0.buckets[v&m0], fn)
	// 遍历大表中由小表当前桶扩展出来的所有桶
	for {
		emitBucket(t1.buckets[v&m1], fn)

		v |= ^m1
		v = dictRev(v)
		v++
		v = dictRev(v)

		if v&(m0^m1) == 0 {
			break
		}
	}
	return v
}
