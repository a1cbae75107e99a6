package structure

import (
	"math"
	"math/bits"
	"slices"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/pkg/errors"
)

/*
 * ============================================================================
 * Dict - 渐进式 rehash 哈希表
 * ============================================================================
 *
 * 【核心原理】
 * 1. 链地址法解决冲突，桶数组大小总是 2 的幂，用 hash & mask 定位
 * 2. 扩容/缩容不一次完成：分配新表后进入迁移状态，之后每次查找、插入、
 *    删除顺带迁移一个桶（rehash step），把停顿分摊到普通操作里
 * 3. 迁移期间新 key 只写入新表；查找两张表，旧表中游标之前的桶已迁走，直接跳过
 * 4. 有安全迭代器或 SCAN 进行时暂停迁移（pauseRehash）
 *
 * 【状态】
 *   Idle:       main != nil, migration == nil
 *   Migrating:  main 为旧表, migration.target 为新表, migration.cursor 为旧表
 *               中下一个待迁移的桶
 *
 * 【扩容策略】
 *   used >= size 时扩容到 >= 2*used 的最小 2 的幂：
 *   - DICT_RESIZE_ENABLE：直接扩容
 *   - DICT_RESIZE_AVOID：只有 used/size 超过 ForceRatio 时才扩容（快照期间减少写时复制）
 *   - DICT_RESIZE_FORBID：不扩容
 *   DictType.ExpandAllowed 可以进一步否决（比如接近内存上限时）
 */

const (
	DICT_HT_INITIAL_EXP  = 2
	DICT_HT_INITIAL_SIZE = 1 << DICT_HT_INITIAL_EXP

	// DICT_FORCE_RESIZE_RATIO 默认的强制扩容负载比
	DICT_FORCE_RESIZE_RATIO = 5

	// HASHTABLE_MIN_FILL 填充率低于 10% 时可以缩容
	HASHTABLE_MIN_FILL = 10

	dictMaxSize = 1 << 63
)

// 每个桶在分配器中的记账大小
var dictBucketBytes = int(unsafe.Sizeof([]*DictEntry[string, struct{}]{}))

// ResizePolicy 扩容策略
type ResizePolicy int

const (
	DICT_RESIZE_ENABLE ResizePolicy = iota
	DICT_RESIZE_AVOID
	DICT_RESIZE_FORBID
)

func (p ResizePolicy) String() string {
	switch p {
	case DICT_RESIZE_ENABLE:
		return "enable"
	case DICT_RESIZE_AVOID:
		return "avoid"
	case DICT_RESIZE_FORBID:
		return "forbid"
	}
	return "unknown"
}

// ResizeConfig 扩容策略配置，由所有者持有并在多个 dict 之间共享
type ResizeConfig struct {
	Policy     ResizePolicy
	ForceRatio uint64
}

// NewResizeConfig 默认配置
func NewResizeConfig() *ResizeConfig {
	return &ResizeConfig{Policy: DICT_RESIZE_ENABLE, ForceRatio: DICT_FORCE_RESIZE_RATIO}
}

// DictType 定义 key/value 的行为，nil 字段使用默认行为
type DictType[K comparable, V any] struct {
	HashFunction  func(key K) uint64
	KeyCompare    func(a, b K) bool
	KeyDestructor func(key K)
	ValDestructor func(val V)
	// ExpandAllowed 决定是否允许扩容：moreMem 为新桶数组的字节数，usedRatio 为当前负载
	ExpandAllowed func(moreMem int, usedRatio float64) bool
}

// DictEntry 哈希表节点
type DictEntry[K comparable, V any] struct {
	key K
	val V
}

func (e *DictEntry[K, V]) Key() K {
	return e.key
}

func (e *DictEntry[K, V]) Val() V {
	return e.val
}

func (e *DictEntry[K, V]) SetVal(v V) {
	e.val = v
}

var dictTableSeq atomic.Uint64

type dictTable[K comparable, V any] struct {
	id      uint64
	buckets [][]*DictEntry[K, V]
	used    uint64
}

func (t *dictTable[K, V]) size() uint64 {
	if t == nil {
		return 0
	}
	return uint64(len(t.buckets))
}

func (t *dictTable[K, V]) mask() uint64 {
	return t.size() - 1
}

// dictMigration 迁移状态，只在迁移期间存在
type dictMigration[K comparable, V any] struct {
	target *dictTable[K, V]
	cursor uint64
}

// migrateBucket 把 src 中游标所指的桶整体搬到 target
func (m *dictMigration[K, V]) migrateBucket(src *dictTable[K, V], hash func(K) uint64) {
	mask := m.target.mask()
	for _, e := range src.buckets[m.cursor] {
		idx := hash(e.key) & mask
		m.target.buckets[idx] = append(m.target.buckets[idx], e)
		src.used--
		m.target.used++
	}
	src.buckets[m.cursor] = nil
	m.cursor++
}

// Dict 渐进式 rehash 哈希表
type Dict[K comparable, V any] struct {
	typ         *DictType[K, V]
	resize      *ResizeConfig
	alloc       Allocator
	main        *dictTable[K, V]
	migration   *dictMigration[K, V]
	pauseRehash int
}

// NewDict 创建 dict，第一次插入前不分配桶数组
func NewDict[K comparable, V any](typ *DictType[K, V], resize *ResizeConfig) *Dict[K, V] {
	return NewDictWithAllocator(typ, resize, nil)
}

// NewDictWithAllocator 使用指定分配器为桶数组记账
func NewDictWithAllocator[K comparable, V any](typ *DictType[K, V], resize *ResizeConfig, alloc Allocator) *Dict[K, V] {
	if typ == nil {
		typ = &DictType[K, V]{}
	}
	if typ.HashFunction == nil {
		panic("dict: DictType.HashFunction is required")
	}
	if resize == nil {
		resize = NewResizeConfig()
	}
	return &Dict[K, V]{typ: typ, resize: resize, alloc: allocatorOrDefault(alloc)}
}

func (d *Dict[K, V]) keyEqual(a, b K) bool {
	if d.typ.KeyCompare != nil {
		return d.typ.KeyCompare(a, b)
	}
	return a == b
}

func (d *Dict[K, V]) freeEntry(e *DictEntry[K, V]) {
	if d.typ.KeyDestructor != nil {
		d.typ.KeyDestructor(e.key)
	}
	if d.typ.ValDestructor != nil {
		d.typ.ValDestructor(e.val)
	}
}

// Size 元素个数
func (d *Dict[K, V]) Size() uint64 {
	n := uint64(0)
	if d.main != nil {
		n += d.main.used
	}
	if d.migration != nil {
		n += d.migration.target.used
	}
	return n
}

// Slots 桶总数
func (d *Dict[K, V]) Slots() uint64 {
	n := d.main.size()
	if d.migration != nil {
		n += d.migration.target.size()
	}
	return n
}

// IsRehashing 是否处于迁移状态
func (d *Dict[K, V]) IsRehashing() bool {
	return d.migration != nil
}

// PauseRehashing 暂停迁移，可嵌套
func (d *Dict[K, V]) PauseRehashing() {
	d.pauseRehash++
}

// ResumeRehashing 恢复迁移
func (d *Dict[K, V]) ResumeRehashing() {
	if d.pauseRehash <= 0 {
		panic("dict: ResumeRehashing without matching PauseRehashing")
	}
	d.pauseRehash--
}

// RehashingPaused 迁移是否被暂停
func (d *Dict[K, V]) RehashingPaused() bool {
	return d.pauseRehash > 0
}

// ResizeConfig 返回共享的扩容策略
func (d *Dict[K, V]) ResizeConfig() *ResizeConfig {
	return d.resize
}

// dictNextPower 返回 >= size 的最小 2 的幂，不小于初始大小
func dictNextPower(size uint64) uint64 {
	if size <= DICT_HT_INITIAL_SIZE {
		return DICT_HT_INITIAL_SIZE
	}
	if size >= dictMaxSize {
		return dictMaxSize
	}
	return 1 << bits.Len64(size-1)
}

func (d *Dict[K, V]) newTable(size uint64, try bool) (*dictTable[K, V], error) {
	if size > math.MaxInt/uint64(dictBucketBytes) {
		return nil, errors.Wrapf(ErrAllocFailed, "dict: %d buckets overflow", size)
	}
	if err := d.alloc.Reserve(int(size) * dictBucketBytes); err != nil {
		if try {
			return nil, err
		}
		panic(errors.Wrapf(err, "dict: out of memory allocating %d buckets", size))
	}
	return &dictTable[K, V]{
		id:      dictTableSeq.Add(1),
		buckets: make([][]*DictEntry[K, V], size),
	}, nil
}

func (d *Dict[K, V]) freeTable(t *dictTable[K, V]) {
	if t != nil {
		d.alloc.Release(int(t.size()) * dictBucketBytes)
	}
}

func (d *Dict[K, V]) expand(size uint64, try bool) error {
	if d.IsRehashing() || (d.main != nil && d.main.used > size) {
		return ErrDictResizeRejected
	}
	realSize := dictNextPower(size)
	if realSize < size {
		return errors.Wrapf(ErrDictResizeRejected, "size %d overflows", size)
	}
	if d.main != nil && realSize == d.main.size() {
		return ErrDictResizeRejected
	}

	t, err := d.newTable(realSize, try)
	if err != nil {
		return err
	}
	// 第一次初始化不需要迁移
	if d.main == nil {
		d.main = t
		return nil
	}
	d.migration = &dictMigration[K, V]{target: t}
	return nil
}

// Expand 扩容（或初始化）到 >= size 的 2 的幂；分配失败视为致命错误
func (d *Dict[K, V]) Expand(size uint64) error {
	return d.expand(size, false)
}

// TryExpand 与 Expand 相同，但分配失败时返回错误
func (d *Dict[K, V]) TryExpand(size uint64) error {
	return d.expand(size, true)
}

// Resize 缩容到能容纳所有元素的最小 2 的幂（不小于 4）
func (d *Dict[K, V]) Resize() error {
	if d.resize.Policy != DICT_RESIZE_ENABLE || d.IsRehashing() || d.main == nil {
		return ErrDictResizeRejected
	}
	minimal := max(d.main.used, DICT_HT_INITIAL_SIZE)
	return d.expand(minimal, false)
}

// NeedsShrink 填充率低于 HASHTABLE_MIN_FILL 时返回 true
func (d *Dict[K, V]) NeedsShrink() bool {
	size := d.Slots()
	used := d.Size()
	return size > DICT_HT_INITIAL_SIZE && used*100/size < HASHTABLE_MIN_FILL
}

func (d *Dict[K, V]) typeExpandAllowed() bool {
	if d.typ.ExpandAllowed == nil {
		return true
	}
	next := dictNextPower(d.main.used + 1)
	return d.typ.ExpandAllowed(int(next)*dictBucketBytes, float64(d.main.used)/float64(d.main.size()))
}

func (d *Dict[K, V]) expandIfNeeded() {
	if d.IsRehashing() {
		return
	}
	if d.main == nil {
		_ = d.expand(DICT_HT_INITIAL_SIZE, false)
		return
	}

	used, size := d.main.used, d.main.size()
	if used < size {
		return
	}
	allowed := d.resize.Policy == DICT_RESIZE_ENABLE ||
		(d.resize.Policy != DICT_RESIZE_FORBID && used/size > d.resize.ForceRatio)
	if allowed && d.typeExpandAllowed() {
		_ = d.expand(used*2, false)
	}
}

// Rehash 最多迁移 n 个桶，访问超过 n*10 个空桶也会提前返回。
// 返回 true 表示还有待迁移的桶
func (d *Dict[K, V]) Rehash(n int) bool {
	more, _ := d.rehash(n)
	return more
}

// rehash 同 Rehash，额外返回实际迁移的非空桶数
func (d *Dict[K, V]) rehash(n int) (bool, int) {
	m := d.migration
	if m == nil {
		return false, 0
	}
	src := d.main
	emptyVisits := n * 10
	migrated := 0

	for ; n > 0 && src.used != 0; n-- {
		if m.cursor >= src.size() {
			panic("dict: rehash cursor out of range")
		}
		for len(src.buckets[m.cursor]) == 0 {
			m.cursor++
			emptyVisits--
			if emptyVisits == 0 {
				return true, migrated
			}
		}
		m.migrateBucket(src, d.typ.HashFunction)
		migrated++
	}

	if src.used == 0 {
		d.freeTable(src)
		d.main = m.target
		d.migration = nil
		return false, migrated
	}
	return true, migrated
}

// RehashMilliseconds 在 ms 毫秒内持续以 100 个桶为单位迁移，返回迁移的桶数
func (d *Dict[K, V]) RehashMilliseconds(ms int) int {
	if d.pauseRehash > 0 {
		return 0
	}
	deadline := time.Now().Add(time.Duration(ms) * time.Millisecond)
	rehashes := 0
	for {
		more, n := d.rehash(100)
		rehashes += n
		if !more || time.Now().After(deadline) {
			break
		}
	}
	return rehashes
}

func (d *Dict[K, V]) rehashStep() {
	if d.pauseRehash == 0 {
		d.Rehash(1)
	}
}

// lookup 在两张表中查找 key，返回所在表、桶下标和桶内位置
func (d *Dict[K, V]) lookup(key K, h uint64) (*dictTable[K, V], uint64, int) {
	if d.main == nil {
		return nil, 0, -1
	}
	for _, t := range d.tables() {
		idx := h & t.mask()
		// 旧表中游标之前的桶已经迁走
		if t == d.main && d.migration != nil && idx < d.migration.cursor {
			continue
		}
		for i, e := range t.buckets[idx] {
			if e.key == key || d.keyEqual(e.key, key) {
				return t, idx, i
			}
		}
	}
	return nil, 0, -1
}

func (d *Dict[K, V]) tables() []*dictTable[K, V] {
	if d.main == nil {
		return nil
	}
	if d.migration != nil {
		return []*dictTable[K, V]{d.main, d.migration.target}
	}
	return []*dictTable[K, V]{d.main}
}

// AddRaw 插入 key 并返回新节点由调用方设置值；key 已存在时返回 nil 和已有节点
func (d *Dict[K, V]) AddRaw(key K) (entry, existing *DictEntry[K, V]) {
	if d.IsRehashing() {
		d.rehashStep()
	}
	h := d.typ.HashFunction(key)
	if t, idx, i := d.lookup(key, h); t != nil {
		return nil, t.buckets[idx][i]
	}

	d.expandIfNeeded()
	t := d.main
	if d.migration != nil {
		t = d.migration.target
	}
	idx := h & t.mask()
	entry = &DictEntry[K, V]{key: key}
	t.buckets[idx] = append(t.buckets[idx], entry)
	t.used++
	return entry, nil
}

// Add 插入 key/val，key 已存在时返回 ErrDictKeyExists 且不做修改
func (d *Dict[K, V]) Add(key K, val V) error {
	e, _ := d.AddRaw(key)
	if e == nil {
		return ErrDictKeyExists
	}
	e.val = val
	return nil
}

// AddOrFind 返回 key 对应的节点，不存在时插入零值节点
func (d *Dict[K, V]) AddOrFind(key K) *DictEntry[K, V] {
	e, existing := d.AddRaw(key)
	if e != nil {
		return e
	}
	return existing
}

// Replace 插入或覆盖，返回 true 表示新插入。
// 覆盖时先写入新值再销毁旧值，新旧值相同的引用计数对象不会被提前释放
func (d *Dict[K, V]) Replace(key K, val V) bool {
	e, existing := d.AddRaw(key)
	if e != nil {
		e.val = val
		return true
	}
	old := existing.val
	existing.val = val
	if d.typ.ValDestructor != nil {
		d.typ.ValDestructor(old)
	}
	return false
}

// Find 查找 key
func (d *Dict[K, V]) Find(key K) *DictEntry[K, V] {
	if d.Size() == 0 {
		return nil
	}
	if d.IsRehashing() {
		d.rehashStep()
	}
	t, idx, i := d.lookup(key, d.typ.HashFunction(key))
	if t == nil {
		return nil
	}
	return t.buckets[idx][i]
}

// FetchValue 查找 key 的值
func (d *Dict[K, V]) FetchValue(key K) (V, bool) {
	if e := d.Find(key); e != nil {
		return e.val, true
	}
	var zero V
	return zero, false
}

func (d *Dict[K, V]) genericDelete(key K, nofree bool) *DictEntry[K, V] {
	if d.Size() == 0 {
		return nil
	}
	if d.IsRehashing() {
		d.rehashStep()
	}
	t, idx, i := d.lookup(key, d.typ.HashFunction(key))
	if t == nil {
		return nil
	}
	e := t.buckets[idx][i]
	t.buckets[idx] = slices.Delete(t.buckets[idx], i, i+1)
	if len(t.buckets[idx]) == 0 {
		t.buckets[idx] = nil
	}
	t.used--
	if !nofree {
		d.freeEntry(e)
	}
	return e
}

// Delete 删除 key 并调用析构函数
func (d *Dict[K, V]) Delete(key K) bool {
	return d.genericDelete(key, false) != nil
}

// Unlink 摘除 key 但不调用析构函数，之后用 FreeUnlinkedEntry 释放
func (d *Dict[K, V]) Unlink(key K) *DictEntry[K, V] {
	return d.genericDelete(key, true)
}

// FreeUnlinkedEntry 释放 Unlink 返回的节点
func (d *Dict[K, V]) FreeUnlinkedEntry(e *DictEntry[K, V]) {
	if e != nil {
		d.freeEntry(e)
	}
}

// Empty 清空所有元素，每处理 65536 个桶调用一次 callback
func (d *Dict[K, V]) Empty(callback func()) {
	for _, t := range d.tables() {
		for i, bucket := range t.buckets {
			if callback != nil && i&65535 == 0 {
				callback()
			}
			for _, e := range bucket {
				d.freeEntry(e)
			}
		}
		d.freeTable(t)
	}
	d.main = nil
	d.migration = nil
	d.pauseRehash = 0
}

// Release 释放整个 dict
func (d *Dict[K, V]) Release() {
	d.Empty(nil)
}
