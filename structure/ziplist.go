package structure

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

/*
 * ============================================================================
 * Ziplist - 压缩列表
 * ============================================================================
 *
 * 【内存布局】
 * <zlbytes> <zltail> <zllen> <entry> <entry> ... <entry> <zlend>
 *
 * - zlbytes (uint32)：整个 ziplist 的字节数
 * - zltail  (uint32)：最后一个 entry 的偏移，支持 O(1) 尾部弹出
 * - zllen   (uint16)：entry 数量，达到 65535 后只能遍历计数
 * - zlend   (uint8) ：0xFF 结束标记
 *
 * 头部字段均为小端。
 *
 * 【核心原理】
 * 每个 entry 记录前一个 entry 的长度，因此可以从尾部向前遍历。
 * 插入或删除让某个 entry 变长时，后一个 entry 的 prevlen 可能要从 1 字节
 * 扩展到 5 字节，进而让它自己变长，这就是级联更新（cascade update）。
 *
 * 位置 p 是 entry 在缓冲区中的字节偏移，-1 表示不存在。任何修改之后，
 * 之前拿到的位置都失效，需要使用修改操作返回的新位置。
 */

const (
	ZIPLIST_HEADER_SIZE = 10
	ZIPLIST_END_SIZE    = 1

	ZIPLIST_HEAD = 0
	ZIPLIST_TAIL = 1

	// ZIPLIST_MAX_SAFETY_SIZE 超过这个尺寸的修改会被拒绝
	ZIPLIST_MAX_SAFETY_SIZE = 1 << 30
)

// Ziplist 压缩列表
type Ziplist struct {
	buf byteBuffer
}

// NewZiplist 创建空 ziplist
func NewZiplist(alloc Allocator) *Ziplist {
	zl := &Ziplist{buf: newByteBuffer(alloc, ZIPLIST_HEADER_SIZE+ZIPLIST_END_SIZE)}
	zl.syncBytes()
	zl.setTailOffset(ZIPLIST_HEADER_SIZE)
	zl.setLength(0)
	zl.buf.b[ZIPLIST_HEADER_SIZE] = ZIP_END
	return zl
}

// ZiplistFromBytes 从外部字节恢复 ziplist，校验失败返回 ErrZiplistCorrupt
func ZiplistFromBytes(buf []byte, deep bool, alloc Allocator) (*Ziplist, error) {
	if !ZiplistValidateIntegrity(buf, deep, nil) {
		return nil, errors.Wrapf(ErrZiplistCorrupt, "%d bytes", len(buf))
	}
	return &Ziplist{buf: adoptBytes(alloc, buf)}, nil
}

func (zl *Ziplist) syncBytes() {
	binary.LittleEndian.PutUint32(zl.buf.b[0:4], uint32(len(zl.buf.b)))
}

func (zl *Ziplist) tailOffset() int {
	return int(binary.LittleEndian.Uint32(zl.buf.b[4:8]))
}

func (zl *Ziplist) setTailOffset(off int) {
	binary.LittleEndian.PutUint32(zl.buf.b[4:8], uint32(off))
}

func (zl *Ziplist) headerLength() int {
	return int(binary.LittleEndian.Uint16(zl.buf.b[8:10]))
}

func (zl *Ziplist) setLength(n int) {
	binary.LittleEndian.PutUint16(zl.buf.b[8:10], uint16(n))
}

// incrLength 长度字段饱和后不再维护
func (zl *Ziplist) incrLength(delta int) {
	if n := zl.headerLength(); n < math.MaxUint16 {
		zl.setLength(n + delta)
	}
}

func (zl *Ziplist) endOffset() int {
	return len(zl.buf.b) - ZIPLIST_END_SIZE
}

// BlobLen 总字节数
func (zl *Ziplist) BlobLen() int {
	return zl.buf.len()
}

// Bytes 底层字节，只读；下一次修改后失效
func (zl *Ziplist) Bytes() []byte {
	return zl.buf.b
}

// Free 归还内存
func (zl *Ziplist) Free() {
	zl.buf.free()
}

// Dup 深拷贝
func (zl *Ziplist) Dup() *Ziplist {
	return &Ziplist{buf: zl.buf.clone()}
}

// SafeToAdd 再增加 add 字节是否仍在安全尺寸内
func (zl *Ziplist) SafeToAdd(add int) bool {
	return ziplistSafeToAdd(zl.BlobLen(), add)
}

func ziplistSafeToAdd(cur, add int) bool {
	return cur+add <= ZIPLIST_MAX_SAFETY_SIZE
}

// Len entry 数量
func (zl *Ziplist) Len() int {
	if n := zl.headerLength(); n < math.MaxUint16 {
		return n
	}
	b := zl.buf.b
	count := 0
	for p := ZIPLIST_HEADER_SIZE; b[p] != ZIP_END; p += zipRawEntryLength(b, p) {
		count++
	}
	if count < math.MaxUint16 {
		zl.setLength(count)
	}
	return count
}

// insert 在 p 处插入 s，p 处原有的 entry 后移
func (zl *Ziplist) insert(p int, s []byte) error {
	b := zl.buf.b
	curlen := len(b)

	prevlen := 0
	if b[p] != ZIP_END {
		_, prevlen = zipDecodePrevLen(b, p)
	} else if tail := zl.tailOffset(); b[tail] != ZIP_END {
		prevlen = zipRawEntryLength(b, tail)
	}

	value, encoding, isInt := zipTryEncoding(s)
	reqlen := len(s)
	if isInt {
		reqlen = zipIntSize(encoding)
	} else {
		encoding = ZIP_STR_06B
	}
	reqlen += zipStorePrevEntryLength(nil, prevlen)
	reqlen += zipStoreEntryEncoding(nil, encoding, len(s))

	// 后一个 entry 的 prevlen 只扩不缩：需要缩小时保留 5 字节形式
	forceLarge := false
	nextdiff := 0
	if b[p] != ZIP_END {
		nextdiff = zipPrevLenByteDiff(b, p, reqlen)
		if nextdiff == -4 {
			nextdiff = 0
			forceLarge = true
		}
	}

	if !ziplistSafeToAdd(curlen, reqlen+nextdiff) {
		return errors.Wrapf(ErrZiplistTooBig, "insert of %d bytes into %d", reqlen, curlen)
	}

	atEnd := b[p] == ZIP_END

	// 腾出 reqlen+nextdiff 字节，后一个 entry 的 prevlen 在新位置重写
	zl.buf.insertAt(p, reqlen+nextdiff)
	b = zl.buf.b
	zl.syncBytes()

	next := p + reqlen
	if !atEnd {
		if forceLarge {
			zipStorePrevEntryLengthLarge(b[next:], reqlen)
		} else {
			zipStorePrevEntryLength(b[next:], reqlen)
		}

		tail := zl.tailOffset() + reqlen
		// 尾部不是紧邻的下一个 entry 时，nextdiff 也要计入
		e := zipAssertValidEntry(b, next)
		if b[next+e.rawLen()] != ZIP_END {
			tail += nextdiff
		}
		zl.setTailOffset(tail)
	} else {
		zl.setTailOffset(p)
	}

	if nextdiff != 0 {
		zl.cascadeUpdate(next)
		b = zl.buf.b
	}

	q := p
	q += zipStorePrevEntryLength(b[q:], prevlen)
	q += zipStoreEntryEncoding(b[q:], encoding, len(s))
	if isInt {
		zipSaveInteger(b, q, value, encoding)
	} else {
		copy(b[q:], s)
	}
	zl.incrLength(1)
	return nil
}

// Push 在头部或尾部追加
func (zl *Ziplist) Push(s []byte, where int) error {
	p := ZIPLIST_HEADER_SIZE
	if where != ZIPLIST_HEAD {
		p = zl.endOffset()
	}
	return zl.insert(p, s)
}

// Insert 在 p 之前插入 s，p 可以是结束标记位置（即追加）
func (zl *Ziplist) Insert(p int, s []byte) error {
	return zl.insert(p, s)
}

// deleteAt 从 p 开始删除最多 num 个 entry
func (zl *Ziplist) deleteAt(p, num int) {
	b := zl.buf.b
	if p < 0 || b[p] == ZIP_END {
		return
	}
	first := zipEntry(b, p)

	deleted := 0
	for deleted < num && b[p] != ZIP_END {
		p += zipRawEntryLength(b, p)
		deleted++
	}
	totlen := p - first.p
	if totlen == 0 {
		return
	}

	nextdiff := 0
	var setTail int
	if b[p] != ZIP_END {
		// 被删区域之后的 entry 需要记录 first 的 prevlen，可能改变 prevlen 字段长度。
		// 变长时所需的 4 字节一定在被删区域内：first.prevRawLen >= 254 意味着
		// first 自己就有 5 字节的 prevlen
		nextdiff = zipPrevLenByteDiff(b, p, first.prevRawLen)
		p -= nextdiff
		zipStorePrevEntryLength(b[p:], first.prevRawLen)

		setTail = zl.tailOffset() - totlen
		e := zipAssertValidEntry(b, p)
		if b[p+e.rawLen()] != ZIP_END {
			setTail += nextdiff
		}
	} else {
		// 删到了末尾
		setTail = first.p - first.prevRawLen
	}

	zl.buf.removeAt(first.p, p-first.p)
	zl.syncBytes()
	zl.setTailOffset(setTail)
	zl.incrLength(-deleted)

	if nextdiff != 0 {
		zl.cascadeUpdate(first.p)
	}
}

// Delete 删除 p 处的 entry，返回下一个 entry 的位置（可能是结束标记）
func (zl *Ziplist) Delete(p int) int {
	zl.deleteAt(p, 1)
	return p
}

// DeleteRange 从 index 开始删除 num 个 entry，index 可为负
func (zl *Ziplist) DeleteRange(index, num int) {
	if p := zl.Index(index); p >= 0 {
		zl.deleteAt(p, num)
	}
}

// Replace 用 s 替换 p 处的 entry，返回替换后的位置
func (zl *Ziplist) Replace(p int, s []byte) (int, error) {
	b := zl.buf.b
	e := zipEntry(b, p)

	value, encoding, isInt := zipTryEncoding(s)
	reqlen := len(s)
	if isInt {
		reqlen = zipIntSize(encoding)
	} else {
		encoding = ZIP_STR_06B
	}
	reqlen += zipStoreEntryEncoding(nil, encoding, len(s))

	if reqlen == e.lenSize+e.len {
		// 尺寸相同直接覆盖
		q := p + e.prevRawLenSize
		q += zipStoreEntryEncoding(b[q:], encoding, len(s))
		if isInt {
			zipSaveInteger(b, q, value, encoding)
		} else {
			copy(b[q:], s)
		}
		return p, nil
	}

	if !zl.SafeToAdd(reqlen + 4 - e.lenSize - e.len) {
		return p, errors.Wrapf(ErrZiplistTooBig, "replace with %d bytes", len(s))
	}
	p = zl.Delete(p)
	if err := zl.insert(p, s); err != nil {
		return p, err
	}
	return p, nil
}

// Index 返回第 index 个 entry 的位置，负数从尾部计数，不存在返回 -1
func (zl *Ziplist) Index(index int) int {
	b := zl.buf.b
	var p int
	if index < 0 {
		index = -index - 1
		p = zl.tailOffset()
		if b[p] != ZIP_END {
			_, prevlen := zipDecodePrevLen(b, p)
			for prevlen > 0 && index > 0 {
				index--
				p -= prevlen
				if p < ZIPLIST_HEADER_SIZE || p >= zl.endOffset() {
					panic(ErrZiplistCorrupt)
				}
				_, prevlen = zipDecodePrevLen(b, p)
			}
		}
	} else {
		p = ZIPLIST_HEADER_SIZE
		for index > 0 {
			index--
			e := zipAssertValidEntry(b, p)
			p += e.rawLen()
			if b[p] == ZIP_END {
				break
			}
		}
	}
	if b[p] == ZIP_END || index > 0 {
		return -1
	}
	zipAssertValidEntry(b, p)
	return p
}

// Next 返回 p 之后的 entry，没有返回 -1
func (zl *Ziplist) Next(p int) int {
	b := zl.buf.b
	if p < 0 || b[p] == ZIP_END {
		return -1
	}
	p += zipRawEntryLength(b, p)
	if b[p] == ZIP_END {
		return -1
	}
	zipAssertValidEntry(b, p)
	return p
}

// Prev 返回 p 之前的 entry；p 为结束标记时返回尾部
func (zl *Ziplist) Prev(p int) int {
	b := zl.buf.b
	if p < 0 {
		return -1
	}
	if b[p] == ZIP_END {
		tail := zl.tailOffset()
		if b[tail] == ZIP_END {
			return -1
		}
		return tail
	}
	if p == ZIPLIST_HEADER_SIZE {
		return -1
	}
	_, prevlen := zipDecodePrevLen(b, p)
	if prevlen <= 0 {
		panic(ErrZiplistCorrupt)
	}
	p -= prevlen
	zipAssertValidEntry(b, p)
	return p
}

// Get 取出 p 处的值，字符串会被复制
func (zl *Ziplist) Get(p int) (ZlValue, bool) {
	b := zl.buf.b
	if p < 0 || b[p] == ZIP_END {
		return ZlValue{}, false
	}
	e := zipEntry(b, p)
	return zipValue(b, &e), true
}

// Compare p 处的值是否等于 s；整数按数值比较
func (zl *Ziplist) Compare(p int, s []byte) bool {
	b := zl.buf.b
	if p < 0 || b[p] == ZIP_END {
		return false
	}
	e := zipEntry(b, p)
	data := p + e.headerSize
	if zipIsStr(e.encoding) {
		return e.len == len(s) && string(b[data:data+e.len]) == string(s)
	}
	sval, _, ok := zipTryEncoding(s)
	return ok && zipLoadInteger(b, data, e.encoding) == sval
}

// Find 从 p 开始查找等于 s 的 entry，每比较一次跳过 skip 个 entry
func (zl *Ziplist) Find(p int, s []byte, skip int) int {
	if p < 0 {
		return -1
	}
	b := zl.buf.b
	skipcnt := 0
	triedEncoding := false
	canEncode := false
	var vll int64

	for b[p] != ZIP_END {
		e := zipAssertValidEntry(b, p)
		q := p + e.headerSize

		if skipcnt == 0 {
			if zipIsStr(e.encoding) {
				if e.len == len(s) && string(b[q:q+e.len]) == string(s) {
					return p
				}
			} else {
				// 只在第一次遇到整数 entry 时尝试编码
				if !triedEncoding {
					vll, _, canEncode = zipTryEncoding(s)
					triedEncoding = true
				}
				if canEncode && zipLoadInteger(b, q, e.encoding) == vll {
					return p
				}
			}
			skipcnt = skip
		} else {
			skipcnt--
		}
		p = q + e.len
	}
	return -1
}

// ZiplistMerge 合并两个 ziplist：保留较长的一个，另一个被释放。
// 返回合并结果，任一参数为 nil 或二者相同时返回 nil
func ZiplistMerge(first, second *Ziplist) *Ziplist {
	if first == nil || second == nil || first == second {
		return nil
	}

	firstBytes := first.BlobLen()
	firstLen := first.headerLength()
	secondBytes := second.BlobLen()
	secondLen := second.headerLength()

	var target, source *Ziplist
	appendMode := firstLen >= secondLen
	if appendMode {
		target, source = first, second
	} else {
		target, source = second, first
	}

	zlbytes := firstBytes + secondBytes - ZIPLIST_HEADER_SIZE - ZIPLIST_END_SIZE
	if zlbytes >= math.MaxUint32 {
		panic(errors.Wrapf(ErrZiplistTooBig, "merged size %d", zlbytes))
	}
	zllength := min(firstLen+secondLen, math.MaxUint16)

	firstOffset := first.tailOffset()
	secondOffset := second.tailOffset()

	targetBytes := target.BlobLen()
	sourceBytes := source.BlobLen()
	src := source.buf.b
	if appendMode {
		// [TARGET - END, SOURCE - HEADER]
		target.buf.resize(zlbytes)
		copy(target.buf.b[targetBytes-ZIPLIST_END_SIZE:], src[ZIPLIST_HEADER_SIZE:])
	} else {
		// [SOURCE - END, TARGET - HEADER]
		target.buf.insertAt(ZIPLIST_HEADER_SIZE, sourceBytes-ZIPLIST_HEADER_SIZE-ZIPLIST_END_SIZE)
		copy(target.buf.b, src[:sourceBytes-ZIPLIST_END_SIZE])
	}

	target.syncBytes()
	target.setLength(zllength)
	if secondLen == 0 && secondBytes == ZIPLIST_HEADER_SIZE+ZIPLIST_END_SIZE {
		target.setTailOffset(firstOffset)
	} else {
		target.setTailOffset((firstBytes - ZIPLIST_END_SIZE) + (secondOffset - ZIPLIST_HEADER_SIZE))
	}

	// 第二段的首个 entry 的 prevlen 仍是 0，从第一段的尾部开始修正
	target.cascadeUpdate(firstOffset)

	source.Free()
	return target
}

// ZiplistValidateIntegrity 校验外部来源的字节。
// 浅校验检查头部、结束标记和尾偏移；深校验逐个解析 entry，
// 并检查 prevlen、数量和尾偏移是否精确一致。cb 可对每个 entry 做额外校验
func ZiplistValidateIntegrity(buf []byte, deep bool, cb func(v ZlValue, headerCount int) bool) bool {
	size := len(buf)
	if size < ZIPLIST_HEADER_SIZE+ZIPLIST_END_SIZE {
		return false
	}
	if int(binary.LittleEndian.Uint32(buf[0:4])) != size {
		return false
	}
	if buf[size-ZIPLIST_END_SIZE] != ZIP_END {
		return false
	}
	tail := int(binary.LittleEndian.Uint32(buf[4:8]))
	if tail > size-ZIPLIST_END_SIZE {
		return false
	}
	if !deep {
		return true
	}

	headerCount := int(binary.LittleEndian.Uint16(buf[8:10]))
	count := 0
	p := ZIPLIST_HEADER_SIZE
	prev := -1
	prevRawSize := 0
	for buf[p] != ZIP_END {
		e, ok := zipEntrySafe(buf, p, true)
		if !ok {
			return false
		}
		if e.prevRawLen != prevRawSize {
			return false
		}
		if cb != nil && !cb(zipValue(buf, &e), headerCount) {
			return false
		}
		prevRawSize = e.rawLen()
		prev = p
		p += e.rawLen()
		count++
	}

	if p != size-ZIPLIST_END_SIZE {
		return false
	}
	if prev >= 0 && prev != tail {
		return false
	}
	if prev < 0 && tail != ZIPLIST_HEADER_SIZE {
		return false
	}
	if headerCount != math.MaxUint16 && count != headerCount {
		return false
	}
	return true
}

// RandomPair 随机返回一对 key/value（按偶数下标对齐），调用方保证非空
func (zl *Ziplist) RandomPair() (key, val ZlValue) {
	total := zl.Len() / 2
	if total == 0 {
		panic("ziplist: random pair of empty list")
	}
	r := rand.IntN(total) * 2
	p := zl.Index(r)
	key, _ = zl.Get(p)
	val, _ = zl.Get(zl.Next(p))
	return key, val
}

// RandomPairs 随机返回 count 对 key/value，允许重复
func (zl *Ziplist) RandomPairs(count int) (keys, vals []ZlValue) {
	total := zl.Len() / 2
	if total == 0 || count <= 0 {
		return nil, nil
	}

	type pick struct {
		index int
		order int
	}
	picks := make([]pick, count)
	for i := range picks {
		picks[i] = pick{index: rand.IntN(total) * 2, order: i}
	}
	slices.SortFunc(picks, func(a, b pick) int { return a.index - b.index })

	keys = make([]ZlValue, count)
	vals = make([]ZlValue, count)
	p := zl.Index(0)
	zipindex := 0
	for _, pk := range picks {
		for zipindex < pk.index {
			p = zl.Next(zl.Next(p))
			zipindex += 2
		}
		keys[pk.order], _ = zl.Get(p)
		vals[pk.order], _ = zl.Get(zl.Next(p))
	}
	return keys, vals
}

// RandomPairsUnique 随机返回最多 count 对互不重复的 key/value，只遍历一次，保持原有顺序
func (zl *Ziplist) RandomPairsUnique(count int) (keys, vals []ZlValue) {
	total := zl.Len() / 2
	count = min(count, total)
	if count <= 0 {
		return nil, nil
	}

	keys = make([]ZlValue, 0, count)
	vals = make([]ZlValue, 0, count)
	remaining := count
	for p, index := zl.Index(0), 0; p >= 0 && remaining > 0; index++ {
		v := zl.Next(p)
		// 剩余要选的数量 / 剩余未访问的数量，保证每对被选中的概率相同
		if rand.Float64()*float64(total-index) < float64(remaining) {
			k, _ := zl.Get(p)
			val, _ := zl.Get(v)
			keys = append(keys, k)
			vals = append(vals, val)
			remaining--
		}
		p = zl.Next(v)
	}
	return keys, vals
}

// Values 按顺序返回全部值
func (zl *Ziplist) Values() []ZlValue {
	out := make([]ZlValue, 0, zl.Len())
	for p := zl.Index(0); p >= 0; p = zl.Next(p) {
		v, _ := zl.Get(p)
		out = append(out, v)
	}
	return out
}

// Repr 调试输出
func (zl *Ziplist) Repr() string {
	b := zl.buf.b
	var sb strings.Builder
	fmt.Fprintf(&sb, "{total bytes %d} {num entries %d}\n{tail offset %d}\n",
		zl.BlobLen(), zl.headerLength(), zl.tailOffset())

	index := 0
	for p := ZIPLIST_HEADER_SIZE; b[p] != ZIP_END; index++ {
		e := zipAssertValidEntry(b, p)
		fmt.Fprintf(&sb, "{\n\taddr 0x%08x,\n\tindex %2d,\n\toffset %5d,\n\thdr+entry len: %5d,\n"+
			"\thdr len%2d,\n\tprevrawlen: %5d,\n\tprevrawlensize: %2d,\n\tpayload %5d\n",
			p, index, p, e.rawLen(), e.headerSize, e.prevRawLen, e.prevRawLenSize, e.len)
		v := zipValue(b, &e)
		if v.IsInt {
			fmt.Fprintf(&sb, "\t[int]%d\n}\n", v.Int)
		} else {
			s := v.String()
			if len(s) > 40 {
				s = s[:40] + "..."
			}
			fmt.Fprintf(&sb, "\t[str]%s\n}\n", s)
		}
		p += e.rawLen()
	}
	sb.WriteString("{end}\n")
	return sb.String()
}
