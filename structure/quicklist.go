package structure

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
)

/*
 * ============================================================================
 * Quicklist - 由 ziplist 节点组成的双向链表
 * ============================================================================
 *
 * 【结构】
 *   head ⇄ [ziplist] ⇄ [ziplist] ⇄ ... ⇄ [ziplist] ⇄ tail
 *
 * 【核心原理】
 * 1. 每个节点是一个 ziplist（PACKED），节点大小由 fill 控制：
 *    - 正数：每个节点最多 fill 个元素（同时受 8KB 安全上限约束）
 *    - -1..-5：每个节点最多 4/8/16/32/64 KB
 * 2. 超过 packedThreshold 的大元素单独放在一个 PLAIN 节点里
 * 3. 中间节点可以压缩（见 quicklist_compress.go）
 * 4. 在满节点中间插入时拆分节点，之后尝试与相邻节点合并
 */

const (
	QUICKLIST_HEAD = 0
	QUICKLIST_TAIL = 1

	AL_START_HEAD = 0
	AL_START_TAIL = 1

	QUICKLIST_NODE_ENCODING_RAW        = 1
	QUICKLIST_NODE_ENCODING_COMPRESSED = 2

	QUICKLIST_NODE_CONTAINER_PLAIN  = 1
	QUICKLIST_NODE_CONTAINER_PACKED = 2

	// SIZE_SAFETY_LIMIT 按数量限制时单个节点的字节上限
	SIZE_SAFETY_LIMIT = 8192

	FILL_MAX     = 1<<15 - 1
	COMPRESS_MAX = 1<<16 - 1

	DEFAULT_PACKED_THRESHOLD = 1 << 30
	MAX_PACKED_THRESHOLD     = 1<<32 - 1<<20
)

// 负数 fill 对应的节点字节上限
var optimizationLevel = [...]int{4096, 8192, 16384, 32768, 65536}

// QuicklistNode quicklist 节点
type QuicklistNode struct {
	prev       *QuicklistNode
	next       *QuicklistNode
	zl         *Ziplist // PACKED 且未压缩
	plain      []byte   // PLAIN 且未压缩
	compressed []byte   // 已压缩
	sz         int      // 未压缩时的字节数
	count      int
	encoding   int
	container  int

	recompress        bool
	attemptedCompress bool
}

func (n *QuicklistNode) isPlain() bool {
	return n.container == QUICKLIST_NODE_CONTAINER_PLAIN
}

// IsCompressed 节点当前是否处于压缩状态
func (n *QuicklistNode) IsCompressed() bool {
	return n.encoding == QUICKLIST_NODE_ENCODING_COMPRESSED
}

// Count 节点中的元素数
func (n *QuicklistNode) Count() int {
	return n.count
}

func (n *QuicklistNode) rawBytes() []byte {
	if n.isPlain() {
		return n.plain
	}
	return n.zl.Bytes()
}

func (n *QuicklistNode) freeRaw(alloc Allocator) {
	if n.zl != nil {
		n.zl.Free()
		n.zl = nil
	}
	if n.plain != nil {
		alloc.Free(n.plain)
		n.plain = nil
	}
}

func (n *QuicklistNode) free(alloc Allocator) {
	n.freeRaw(alloc)
	if n.compressed != nil {
		alloc.Free(n.compressed)
		n.compressed = nil
	}
}

func (n *QuicklistNode) updateSz() {
	if n.isPlain() {
		n.sz = len(n.plain)
	} else {
		n.sz = n.zl.BlobLen()
	}
}

func (n *QuicklistNode) push(value []byte, where int) {
	if err := n.zl.Push(value, where); err != nil {
		panic(errors.Wrap(err, "quicklist node push"))
	}
}

// 以下节点访问函数屏蔽 PLAIN/PACKED 的差异，节点必须已解压

func (n *QuicklistNode) index(offset int) int {
	if n.isPlain() {
		if offset == 0 || offset == -1 {
			return 0
		}
		return -1
	}
	return n.zl.Index(offset)
}

func (n *QuicklistNode) nextPos(p int) int {
	if n.isPlain() {
		return -1
	}
	return n.zl.Next(p)
}

func (n *QuicklistNode) prevPos(p int) int {
	if n.isPlain() {
		return -1
	}
	return n.zl.Prev(p)
}

func (n *QuicklistNode) get(p int) ZlValue {
	if n.isPlain() {
		s := make([]byte, len(n.plain))
		copy(s, n.plain)
		return ZlValue{Str: s}
	}
	v, _ := n.zl.Get(p)
	return v
}

// Quicklist 快速列表
type Quicklist struct {
	head            *QuicklistNode
	tail            *QuicklistNode
	count           int // 元素总数
	len             int // 节点数
	fill            int
	compress        int
	packedThreshold int
	alloc           Allocator
	bookmarks       []quicklistBookmark
}

// QuicklistEntry 指向 quicklist 中的一个元素
type QuicklistEntry struct {
	ql     *Quicklist
	node   *QuicklistNode
	zi     int // 节点内位置，-1 表示无
	offset int // 节点内下标，可以为负
	Value  ZlValue
}

// Equal 元素是否等于 s
func (e *QuicklistEntry) Equal(s []byte) bool {
	return e.Value.Equal(s)
}

// Node 元素所在节点，可用于 BookmarkCreate
func (e *QuicklistEntry) Node() *QuicklistNode {
	return e.node
}

// NewQuicklist 创建 quicklist
func NewQuicklist(fill, compress int, alloc Allocator) *Quicklist {
	ql := &Quicklist{
		alloc:           allocatorOrDefault(alloc),
		packedThreshold: DEFAULT_PACKED_THRESHOLD,
	}
	ql.SetOptions(fill, compress)
	return ql
}

// SetFill 设置节点容量
func (ql *Quicklist) SetFill(fill int) {
	switch {
	case fill > FILL_MAX:
		fill = FILL_MAX
	case fill < -len(optimizationLevel):
		fill = -len(optimizationLevel)
	}
	ql.fill = fill
}

// SetCompressDepth 设置两端不压缩的节点数，0 表示不压缩
func (ql *Quicklist) SetCompressDepth(depth int) {
	switch {
	case depth > COMPRESS_MAX:
		depth = COMPRESS_MAX
	case depth < 0:
		depth = 0
	}
	ql.compress = depth
}

// SetOptions 同时设置 fill 和压缩深度
func (ql *Quicklist) SetOptions(fill, depth int) {
	ql.SetFill(fill)
	ql.SetCompressDepth(depth)
}

// SetPackedThreshold 设置大元素阈值，0 恢复默认值；超出上限返回 false
func (ql *Quicklist) SetPackedThreshold(sz int) bool {
	if sz > MAX_PACKED_THRESHOLD {
		return false
	}
	if sz == 0 {
		sz = DEFAULT_PACKED_THRESHOLD
	}
	ql.packedThreshold = sz
	return true
}

// Count 元素总数
func (ql *Quicklist) Count() int {
	return ql.count
}

// Len 节点数
func (ql *Quicklist) Len() int {
	return ql.len
}

// Fill 节点容量配置
func (ql *Quicklist) Fill() int {
	return ql.fill
}

// CompressDepth 压缩深度
func (ql *Quicklist) CompressDepth() int {
	return ql.compress
}

// CompressedNodes 当前处于压缩状态的节点数
func (ql *Quicklist) CompressedNodes() int {
	n := 0
	for node := ql.head; node != nil; node = node.next {
		if node.IsCompressed() {
			n++
		}
	}
	return n
}

func (ql *Quicklist) isLargeElement(sz int) bool {
	return sz >= ql.packedThreshold
}

func (ql *Quicklist) newPackedNode() *QuicklistNode {
	return &QuicklistNode{
		zl:        NewZiplist(ql.alloc),
		encoding:  QUICKLIST_NODE_ENCODING_RAW,
		container: QUICKLIST_NODE_CONTAINER_PACKED,
	}
}

func (ql *Quicklist) newPlainNode(value []byte) *QuicklistNode {
	buf := mustRealloc(ql.alloc, nil, len(value))
	copy(buf, value)
	return &QuicklistNode{
		plain:     buf,
		sz:        len(value),
		count:     1,
		encoding:  QUICKLIST_NODE_ENCODING_RAW,
		container: QUICKLIST_NODE_CONTAINER_PLAIN,
	}
}

func sizeMeetsOptimizationRequirement(sz, fill int) bool {
	if fill >= 0 {
		return false
	}
	offset := -fill - 1
	return offset < len(optimizationLevel) && sz <= optimizationLevel[offset]
}

// allowInsert 节点能否再放入 sz 字节的元素
func (ql *Quicklist) allowInsert(n *QuicklistNode, sz int) bool {
	if n == nil || n.isPlain() || ql.isLargeElement(sz) {
		return false
	}

	// prevlen 字段
	overhead := 1
	if sz >= 254 {
		overhead = 5
	}
	// encoding 字段
	switch {
	case sz < 64:
		overhead++
	case sz < 16384:
		overhead += 2
	default:
		overhead += 5
	}

	// 整数编码时会高估，无妨
	newSz := n.sz + sz + overhead
	if sizeMeetsOptimizationRequirement(newSz, ql.fill) {
		return true
	}
	if newSz > SIZE_SAFETY_LIMIT {
		return false
	}
	return n.count < ql.fill
}

// allowMerge 两个节点合并后是否仍满足 fill
func (ql *Quicklist) allowMerge(a, b *QuicklistNode) bool {
	if a == nil || b == nil || a.isPlain() || b.isPlain() {
		return false
	}
	// 减去一份 ziplist 头和结束标记
	mergeSz := a.sz + b.sz - ZIPLIST_HEADER_SIZE - ZIPLIST_END_SIZE
	if sizeMeetsOptimizationRequirement(mergeSz, ql.fill) {
		return true
	}
	if mergeSz > SIZE_SAFETY_LIMIT {
		return false
	}
	return a.count+b.count <= ql.fill
}

// insertNode 把 newNode 链接到 oldNode 的前面或后面
func (ql *Quicklist) insertNode(oldNode, newNode *QuicklistNode, after bool) {
	if after {
		newNode.prev = oldNode
		if oldNode != nil {
			newNode.next = oldNode.next
			if oldNode.next != nil {
				oldNode.next.prev = newNode
			}
			oldNode.next = newNode
		}
		if ql.tail == oldNode {
			ql.tail = newNode
		}
	} else {
		newNode.next = oldNode
		if oldNode != nil {
			newNode.prev = oldNode.prev
			if oldNode.prev != nil {
				oldNode.prev.next = newNode
			}
			oldNode.prev = newNode
		}
		if ql.head == oldNode {
			ql.head = newNode
		}
	}
	if ql.len == 0 {
		ql.head = newNode
		ql.tail = newNode
	}

	// 先更新 len，压缩时需要准确的节点数
	ql.len++
	if oldNode != nil {
		ql.compressAround(oldNode)
	}
	ql.compressAround(newNode)
}

func (ql *Quicklist) insertPlainNode(oldNode *QuicklistNode, value []byte, after bool) {
	ql.insertNode(oldNode, ql.newPlainNode(value), after)
	ql.count++
}

// delNode 摘除并释放节点
func (ql *Quicklist) delNode(n *QuicklistNode) {
	ql.moveBookmarks(n)
	if n.next != nil {
		n.next.prev = n.prev
	}
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n == ql.tail {
		ql.tail = n.prev
	}
	if n == ql.head {
		ql.head = n.next
	}

	ql.len--
	ql.count -= n.count

	// 删除的节点可能在压缩深度内，需要解压新的两端节点
	ql.compressDepth(nil)
	n.free(ql.alloc)
	n.prev, n.next = nil, nil
}

// delIndex 删除节点中 p 处的元素，节点被删除时返回 true
func (ql *Quicklist) delIndex(n *QuicklistNode, p int) bool {
	if n.isPlain() {
		ql.delNode(n)
		return true
	}
	n.zl.Delete(p)
	n.count--
	gone := false
	if n.count == 0 {
		gone = true
		ql.delNode(n)
	} else {
		n.updateSz()
	}
	ql.count--
	return gone
}

// PushHead 头部插入，创建了新的头节点时返回 true
func (ql *Quicklist) PushHead(value []byte) bool {
	origHead := ql.head
	if ql.isLargeElement(len(value)) {
		ql.insertPlainNode(ql.head, value, false)
		return true
	}

	if ql.allowInsert(ql.head, len(value)) {
		ql.head.push(value, ZIPLIST_HEAD)
		ql.head.updateSz()
	} else {
		n := ql.newPackedNode()
		n.push(value, ZIPLIST_HEAD)
		n.updateSz()
		ql.insertNode(ql.head, n, false)
	}
	ql.count++
	ql.head.count++
	return origHead != ql.head
}

// PushTail 尾部插入，创建了新的尾节点时返回 true
func (ql *Quicklist) PushTail(value []byte) bool {
	origTail := ql.tail
	if ql.isLargeElement(len(value)) {
		ql.insertPlainNode(ql.tail, value, true)
		return true
	}

	if ql.allowInsert(ql.tail, len(value)) {
		ql.tail.push(value, ZIPLIST_TAIL)
		ql.tail.updateSz()
	} else {
		n := ql.newPackedNode()
		n.push(value, ZIPLIST_TAIL)
		n.updateSz()
		ql.insertNode(ql.tail, n, true)
	}
	ql.count++
	ql.tail.count++
	return origTail != ql.tail
}

// Push 按 where 插入
func (ql *Quicklist) Push(value []byte, where int) {
	if where == QUICKLIST_HEAD {
		ql.PushHead(value)
	} else {
		ql.PushTail(value)
	}
}

// Pop 弹出头部或尾部元素
func (ql *Quicklist) Pop(where int) (ZlValue, bool) {
	if ql.count == 0 {
		return ZlValue{}, false
	}
	node, pos := ql.head, 0
	if where != QUICKLIST_HEAD {
		node, pos = ql.tail, -1
	}
	if node == nil {
		return ZlValue{}, false
	}

	ql.decompressForUse(node)
	p := node.index(pos)
	if p < 0 {
		return ZlValue{}, false
	}
	v := node.get(p)
	if !ql.delIndex(node, p) {
		ql.recompressOnly(node)
	}
	return v, true
}

// splitNode 在 offset 处拆分节点：after 为 true 时原节点保留 [0, offset]，
// 新节点得到 (offset, end]；否则原节点保留 [offset, end]，新节点得到 [0, offset)
func (ql *Quicklist) splitNode(n *QuicklistNode, offset int, after bool) *QuicklistNode {
	nn := &QuicklistNode{
		zl:        n.zl.Dup(),
		encoding:  QUICKLIST_NODE_ENCODING_RAW,
		container: QUICKLIST_NODE_CONTAINER_PACKED,
	}
	if offset < 0 {
		offset = n.count + offset
	}

	origStart, origExtent := 0, offset
	newStart, newExtent := offset, math.MaxInt
	if after {
		origStart, origExtent = offset+1, math.MaxInt
		newStart, newExtent = 0, offset+1
	}

	n.zl.DeleteRange(origStart, origExtent)
	n.count = n.zl.Len()
	n.updateSz()

	nn.zl.DeleteRange(newStart, newExtent)
	nn.count = nn.zl.Len()
	nn.updateSz()
	return nn
}

// mergeZiplists 合并两个相邻节点，返回保留下来的节点
func (ql *Quicklist) mergeZiplists(a, b *QuicklistNode) *QuicklistNode {
	ql.decompressNode(a)
	ql.decompressNode(b)
	merged := ZiplistMerge(a.zl, b.zl)
	if merged == nil {
		return nil
	}

	keep, nokeep := a, b
	if merged == b.zl {
		keep, nokeep = b, a
	}
	nokeep.zl = nil
	keep.count = merged.Len()
	keep.updateSz()

	nokeep.count = 0
	ql.delNode(nokeep)
	ql.compressAround(keep)
	return keep
}

// mergeNodes 尝试合并 center 周围的节点：
// (prev_prev, prev)、(next, next_next)、(prev, center)、(center, next)
func (ql *Quicklist) mergeNodes(center *QuicklistNode) {
	var prev, prevPrev, next, nextNext *QuicklistNode
	if center.prev != nil {
		prev = center.prev
		prevPrev = center.prev.prev
	}
	if center.next != nil {
		next = center.next
		nextNext = center.next.next
	}

	if ql.allowMerge(prev, prevPrev) {
		ql.mergeZiplists(prevPrev, prev)
	}
	if ql.allowMerge(next, nextNext) {
		ql.mergeZiplists(next, nextNext)
	}

	var target *QuicklistNode
	if ql.allowMerge(center, center.prev) {
		target = ql.mergeZiplists(center.prev, center)
	} else {
		target = center
	}

	if target != nil && ql.allowMerge(target, target.next) {
		ql.mergeZiplists(target, target.next)
	}
}

// insert 在 entry 前后插入 value
func (ql *Quicklist) insert(entry *QuicklistEntry, value []byte, after bool) {
	sz := len(value)
	node := entry.node

	if node == nil {
		// 没有参照节点，创建唯一的节点
		if ql.isLargeElement(sz) {
			ql.insertPlainNode(ql.tail, value, after)
			return
		}
		nn := ql.newPackedNode()
		nn.push(value, ZIPLIST_HEAD)
		nn.updateSz()
		ql.insertNode(nil, nn, after)
		nn.count++
		ql.count++
		return
	}

	full := !ql.allowInsert(node, sz)
	atTail, atHead := false, false
	availNext, availPrev := false, false
	if after && (entry.offset == node.count-1 || entry.offset == -1) {
		atTail = true
		availNext = ql.allowInsert(node.next, sz)
	}
	if !after && (entry.offset == 0 || entry.offset == -node.count) {
		atHead = true
		availPrev = ql.allowInsert(node.prev, sz)
	}

	if ql.isLargeElement(sz) {
		if node.isPlain() || (atTail && after) || (atHead && !after) {
			ql.insertPlainNode(node, value, after)
		} else {
			ql.decompressForUse(node)
			nn := ql.splitNode(node, entry.offset, after)
			plain := ql.newPlainNode(value)
			ql.insertNode(node, plain, after)
			ql.insertNode(plain, nn, after)
			ql.count++
		}
		return
	}

	switch {
	case !full && after:
		ql.decompressForUse(node)
		if next := node.zl.Next(entry.zi); next < 0 {
			node.push(value, ZIPLIST_TAIL)
		} else if err := node.zl.Insert(next, value); err != nil {
			panic(errors.Wrap(err, "quicklist insert"))
		}
		node.count++
		node.updateSz()
		ql.recompressOnly(node)

	case !full && !after:
		ql.decompressForUse(node)
		if err := node.zl.Insert(entry.zi, value); err != nil {
			panic(errors.Wrap(err, "quicklist insert"))
		}
		node.count++
		node.updateSz()
		ql.recompressOnly(node)

	case full && atTail && availNext && after:
		// 当前节点已满，插到下一个节点头部
		nn := node.next
		ql.decompressForUse(nn)
		nn.push(value, ZIPLIST_HEAD)
		nn.count++
		nn.updateSz()
		ql.recompressOnly(nn)
		ql.recompressOnly(node)

	case full && atHead && availPrev && !after:
		// 当前节点已满，插到上一个节点尾部
		nn := node.prev
		ql.decompressForUse(nn)
		nn.push(value, ZIPLIST_TAIL)
		nn.count++
		nn.updateSz()
		ql.recompressOnly(nn)
		ql.recompressOnly(node)

	case full && ((atTail && !availNext && after) || (atHead && !availPrev && !after)):
		// 相邻节点也满了，新建节点
		nn := ql.newPackedNode()
		nn.push(value, ZIPLIST_HEAD)
		nn.count++
		nn.updateSz()
		ql.insertNode(node, nn, after)

	default:
		// 满节点中间插入：拆分后再尝试合并
		ql.decompressForUse(node)
		nn := ql.splitNode(node, entry.offset, after)
		if after {
			nn.push(value, ZIPLIST_HEAD)
		} else {
			nn.push(value, ZIPLIST_TAIL)
		}
		nn.count++
		nn.updateSz()
		ql.insertNode(node, nn, after)
		ql.mergeNodes(node)
	}
	ql.count++
}

// InsertBefore 在 entry 之前插入，entry 之后失效
func (ql *Quicklist) InsertBefore(entry *QuicklistEntry, value []byte) {
	ql.insert(entry, value, false)
}

// InsertAfter 在 entry 之后插入，entry 之后失效
func (ql *Quicklist) InsertAfter(entry *QuicklistEntry, value []byte) {
	ql.insert(entry, value, true)
}

// Index 定位第 idx 个元素，负数从尾部计数。所在节点会保持解压状态直到下次压缩整理
func (ql *Quicklist) Index(idx int) (*QuicklistEntry, bool) {
	forward := idx >= 0
	index := idx
	n := ql.head
	if !forward {
		index = -idx - 1
		n = ql.tail
	}
	if index >= ql.count {
		return nil, false
	}

	accum := 0
	for n != nil {
		if accum+n.count > index {
			break
		}
		accum += n.count
		if forward {
			n = n.next
		} else {
			n = n.prev
		}
	}
	if n == nil {
		return nil, false
	}

	entry := &QuicklistEntry{ql: ql, node: n}
	if forward {
		entry.offset = index - accum
	} else {
		entry.offset = -index - 1 + accum
	}

	ql.decompressForUse(n)
	entry.zi = n.index(entry.offset)
	if entry.zi < 0 {
		panic(errors.Wrapf(ErrCorruptEntry, "quicklist node count %d out of sync", n.count))
	}
	entry.Value = n.get(entry.zi)
	return entry, true
}

// Get 返回第 idx 个元素的值，节点随后重新压缩
func (ql *Quicklist) Get(idx int) (ZlValue, bool) {
	entry, ok := ql.Index(idx)
	if !ok {
		return ZlValue{}, false
	}
	ql.recompressOnly(entry.node)
	return entry.Value, true
}

// ReplaceAtIndex 替换第 idx 个元素
func (ql *Quicklist) ReplaceAtIndex(idx int, value []byte) bool {
	entry, ok := ql.Index(idx)
	if !ok {
		return false
	}
	ql.replaceEntry(entry, value)
	return true
}

func (ql *Quicklist) replaceEntry(entry *QuicklistEntry, value []byte) {
	n := entry.node
	large := ql.isLargeElement(len(value))

	switch {
	case !n.isPlain() && !large:
		if _, err := n.zl.Replace(entry.zi, value); err != nil {
			panic(errors.Wrap(err, "quicklist replace"))
		}
		n.updateSz()
		ql.compressAround(n)

	case n.isPlain() && large:
		ql.alloc.Free(n.plain)
		n.plain = mustRealloc(ql.alloc, nil, len(value))
		copy(n.plain, value)
		n.sz = len(value)
		ql.compressAround(n)

	case n.isPlain():
		// 大元素换成普通元素：插到后面再删掉 PLAIN 节点
		ql.insert(entry, value, true)
		ql.delNode(n)

	default:
		// 普通元素换成大元素：在其后插入 PLAIN 节点，再删掉原元素（已是节点尾部）
		ql.insert(entry, value, true)
		if n.count == 1 {
			ql.delNode(n)
			return
		}
		ql.decompressForUse(n)
		ql.delIndex(n, n.zl.Index(-1))
		ql.compressAround(n)
		ql.compressAround(n.next)
	}
}

// DelRange 从 start 开始删除 count 个元素
func (ql *Quicklist) DelRange(start, count int) bool {
	if count <= 0 {
		return false
	}

	extent := count
	if start >= 0 && extent > ql.count-start {
		// 超出部分截断到列表末尾
		extent = ql.count - start
	} else if start < 0 && extent > -start {
		extent = -start
	}

	entry, ok := ql.Index(start)
	if !ok {
		return false
	}

	node := entry.node
	offset := entry.offset
	for extent > 0 {
		next := node.next
		var del int
		deleteEntireNode := false

		switch {
		case offset == 0 && extent >= node.count:
			deleteEntireNode = true
			del = node.count
		case offset >= 0 && extent+offset >= node.count:
			del = node.count - offset
		case offset < 0:
			// 只会出现在第一轮：负偏移就是到节点末尾的元素数
			del = min(-offset, extent)
		default:
			del = extent
		}

		if deleteEntireNode || node.isPlain() {
			ql.delNode(node)
		} else {
			ql.decompressForUse(node)
			node.zl.DeleteRange(offset, del)
			node.updateSz()
			node.count -= del
			ql.count -= del
			if node.count == 0 {
				ql.delNode(node)
			} else {
				ql.recompressOnly(node)
			}
		}

		extent -= del
		node = next
		offset = 0
	}
	return true
}

// Rotate 把尾部元素移到头部
func (ql *Quicklist) Rotate() {
	if ql.count <= 1 {
		return
	}
	tail := ql.tail
	v := tail.get(tail.index(-1))
	ql.PushHead(v.Bytes())

	// 只有一个节点时 push 可能移动了尾部元素，重新定位
	tail = ql.tail
	ql.delIndex(tail, tail.index(-1))
}

// Dup 深拷贝
func (ql *Quicklist) Dup() *Quicklist {
	cp := NewQuicklist(ql.fill, ql.compress, ql.alloc)
	cp.packedThreshold = ql.packedThreshold

	for n := ql.head; n != nil; n = n.next {
		nn := &QuicklistNode{
			sz:        n.sz,
			count:     n.count,
			encoding:  n.encoding,
			container: n.container,
		}
		switch {
		case n.IsCompressed():
			nn.compressed = mustRealloc(ql.alloc, nil, len(n.compressed))
			copy(nn.compressed, n.compressed)
		case n.isPlain():
			nn.plain = mustRealloc(ql.alloc, nil, len(n.plain))
			copy(nn.plain, n.plain)
		default:
			nn.zl = n.zl.Dup()
		}
		cp.insertNode(cp.tail, nn, true)
	}
	cp.count = ql.count
	return cp
}

// AppendZiplist 把整个 ziplist 作为新节点追加到尾部，zl 归 quicklist 所有
func (ql *Quicklist) AppendZiplist(zl *Ziplist) {
	n := zl.Len()
	if n == 0 {
		zl.Free()
		return
	}
	node := &QuicklistNode{
		zl:        zl,
		count:     n,
		sz:        zl.BlobLen(),
		encoding:  QUICKLIST_NODE_ENCODING_RAW,
		container: QUICKLIST_NODE_CONTAINER_PACKED,
	}
	ql.insertNode(ql.tail, node, true)
	ql.count += n
}

// AppendValuesFromZiplist 逐个追加 zl 中的元素，之后释放 zl
func (ql *Quicklist) AppendValuesFromZiplist(zl *Ziplist) {
	for p := zl.Index(0); p >= 0; p = zl.Next(p) {
		v, _ := zl.Get(p)
		ql.PushTail(v.Bytes())
	}
	zl.Free()
}

// QuicklistCreateFromZiplist 用 ziplist 中的元素创建 quicklist
func QuicklistCreateFromZiplist(fill, compress int, zl *Ziplist, alloc Allocator) *Quicklist {
	ql := NewQuicklist(fill, compress, alloc)
	ql.AppendValuesFromZiplist(zl)
	return ql
}

// Release 释放所有节点
func (ql *Quicklist) Release() {
	for n := ql.head; n != nil; {
		next := n.next
		n.free(ql.alloc)
		n.prev, n.next = nil, nil
		n = next
	}
	ql.head, ql.tail = nil, nil
	ql.count, ql.len = 0, 0
	ql.BookmarksClear()
}

// Repr 调试输出
func (ql *Quicklist) Repr() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "{count : %d}\n{len : %d}\n{fill : %d}\n{compress : %d}\n",
		ql.count, ql.len, ql.fill, ql.compress)
	i := 0
	for n := ql.head; n != nil; n = n.next {
		fmt.Fprintf(&sb, "{node %d}\n{\n\tencoding: %d\n\tcontainer: %d\n\tsize: %d\n\tcount: %d\n\trecompress: %t\n\tattempted_compress: %t\n}\n",
			i, n.encoding, n.container, n.sz, n.count, n.recompress, n.attemptedCompress)
		i++
	}
	return sb.String()
}
