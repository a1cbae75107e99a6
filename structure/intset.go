package structure

import (
	"encoding/binary"
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

/*
 * ============================================================================
 * Intset - 有序整数集合
 * ============================================================================
 *
 * 【内存布局】
 * ┌──────────┬──────────┬─────────────────────────────┐
 * │ encoding │  length  │ contents (升序, 小端)        │
 * │  uint32  │  uint32  │ length * encoding 字节      │
 * └──────────┴──────────┴─────────────────────────────┘
 *
 * 【核心原理】
 * 1. 所有元素使用同一宽度（2/4/8 字节），宽度由最大绝对值决定
 * 2. 插入超出当前宽度的值时整体升级（从后往前搬移，不需要额外缓冲区）
 * 3. 只升级，不降级
 * 4. 查找使用二分
 */

const (
	INTSET_ENC_INT16 = 2
	INTSET_ENC_INT32 = 4
	INTSET_ENC_INT64 = 8

	INTSET_HDR_SIZE = 8
)

// Intset 整数集合
type Intset struct {
	buf byteBuffer
}

// NewIntset 创建空整数集合（16 位编码）
func NewIntset(alloc Allocator) *Intset {
	is := &Intset{buf: newByteBuffer(alloc, INTSET_HDR_SIZE)}
	is.setEncoding(INTSET_ENC_INT16)
	is.setLength(0)
	return is
}

// fitsIn 值 v 能否无损放进 T
func fitsIn[T constraints.Signed](v int64) bool {
	return int64(T(v)) == v
}

// intsetValueEncoding 返回容纳 v 所需的最小宽度
func intsetValueEncoding(v int64) uint32 {
	switch {
	case fitsIn[int16](v):
		return INTSET_ENC_INT16
	case fitsIn[int32](v):
		return INTSET_ENC_INT32
	default:
		return INTSET_ENC_INT64
	}
}

func (is *Intset) encoding() uint32 {
	return binary.LittleEndian.Uint32(is.buf.b[0:4])
}

func (is *Intset) setEncoding(enc uint32) {
	binary.LittleEndian.PutUint32(is.buf.b[0:4], enc)
}

func (is *Intset) length() uint32 {
	return binary.LittleEndian.Uint32(is.buf.b[4:8])
}

func (is *Intset) setLength(n uint32) {
	binary.LittleEndian.PutUint32(is.buf.b[4:8], n)
}

func intsetGetEncoded(b []byte, pos int, enc uint32) int64 {
	off := INTSET_HDR_SIZE + pos*int(enc)
	switch enc {
	case INTSET_ENC_INT64:
		return int64(binary.LittleEndian.Uint64(b[off:]))
	case INTSET_ENC_INT32:
		return int64(int32(binary.LittleEndian.Uint32(b[off:])))
	default:
		return int64(int16(binary.LittleEndian.Uint16(b[off:])))
	}
}

func (is *Intset) get(pos int) int64 {
	return intsetGetEncoded(is.buf.b, pos, is.encoding())
}

func (is *Intset) set(pos int, v int64) {
	enc := is.encoding()
	off := INTSET_HDR_SIZE + pos*int(enc)
	switch enc {
	case INTSET_ENC_INT64:
		binary.LittleEndian.PutUint64(is.buf.b[off:], uint64(v))
	case INTSET_ENC_INT32:
		binary.LittleEndian.PutUint32(is.buf.b[off:], uint32(int32(v)))
	default:
		binary.LittleEndian.PutUint16(is.buf.b[off:], uint16(int16(v)))
	}
}

// resize 调整为能容纳 n 个元素
func (is *Intset) resize(n uint32) {
	size := uint64(n) * uint64(is.encoding())
	if size > math.MaxUint32-INTSET_HDR_SIZE {
		panic(errors.Errorf("intset: %d elements exceed the addressable size", n))
	}
	is.buf.resize(INTSET_HDR_SIZE + int(size))
}

// search 二分查找，找不到时返回应插入的位置
func (is *Intset) search(v int64) (int, bool) {
	n := int(is.length())
	if n == 0 {
		return 0, false
	}
	// 越界的值可以直接确定插入位置
	if v > is.get(n-1) {
		return n, false
	}
	if v < is.get(0) {
		return 0, false
	}

	lo, hi := 0, n-1
	for lo <= hi {
		mid := int(uint(lo+hi) >> 1)
		cur := is.get(mid)
		switch {
		case v > cur:
			lo = mid + 1
		case v < cur:
			hi = mid - 1
		default:
			return mid, true
		}
	}
	return lo, false
}

// upgradeAndAdd 升级编码并插入。新值必然超出原范围，所以不是最小就是最大
func (is *Intset) upgradeAndAdd(v int64) {
	curEnc := is.encoding()
	n := int(is.length())
	prepend := 0
	if v < 0 {
		prepend = 1
	}

	is.setEncoding(intsetValueEncoding(v))
	is.resize(uint32(n + 1))

	// 从后往前搬移，避免覆盖尚未读取的旧值
	for i := n - 1; i >= 0; i-- {
		is.set(i+prepend, intsetGetEncoded(is.buf.b, i, curEnc))
	}

	if prepend == 1 {
		is.set(0, v)
	} else {
		is.set(n, v)
	}
	is.setLength(uint32(n + 1))
}

// moveTail 把 [from, length) 的元素整体搬到 to
func (is *Intset) moveTail(from, to int) {
	enc := int(is.encoding())
	n := int(is.length())
	src := INTSET_HDR_SIZE + from*enc
	dst := INTSET_HDR_SIZE + to*enc
	copy(is.buf.b[dst:], is.buf.b[src:INTSET_HDR_SIZE+n*enc])
}

// Add 插入元素，已存在时返回 false
func (is *Intset) Add(v int64) bool {
	if intsetValueEncoding(v) > is.encoding() {
		is.upgradeAndAdd(v)
		return true
	}

	pos, found := is.search(v)
	if found {
		return false
	}
	n := int(is.length())
	is.resize(uint32(n + 1))
	if pos < n {
		is.moveTail(pos, pos+1)
	}
	is.set(pos, v)
	is.setLength(uint32(n + 1))
	return true
}

// Remove 删除元素，不存在时返回 false
func (is *Intset) Remove(v int64) bool {
	if intsetValueEncoding(v) > is.encoding() {
		return false
	}
	pos, found := is.search(v)
	if !found {
		return false
	}
	n := int(is.length())
	if pos < n-1 {
		is.moveTail(pos+1, pos)
	}
	is.resize(uint32(n - 1))
	is.setLength(uint32(n - 1))
	return true
}

// Find 判断元素是否存在
func (is *Intset) Find(v int64) bool {
	if intsetValueEncoding(v) > is.encoding() {
		return false
	}
	_, found := is.search(v)
	return found
}

// Get 返回 pos 处的元素
func (is *Intset) Get(pos int) (int64, bool) {
	if pos < 0 || pos >= int(is.length()) {
		return 0, false
	}
	return is.get(pos), true
}

// Random 随机返回一个元素，调用方保证集合非空
func (is *Intset) Random() int64 {
	n := int(is.length())
	if n == 0 {
		panic("intset: random member of empty set")
	}
	return is.get(rand.IntN(n))
}

// Min 最小值
func (is *Intset) Min() (int64, bool) {
	return is.Get(0)
}

// Max 最大值
func (is *Intset) Max() (int64, bool) {
	return is.Get(int(is.length()) - 1)
}

// Len 元素个数
func (is *Intset) Len() uint32 {
	return is.length()
}

// Encoding 当前宽度（字节）
func (is *Intset) Encoding() uint32 {
	return is.encoding()
}

// BlobLen 序列化后的字节数
func (is *Intset) BlobLen() int {
	return is.buf.len()
}

// Bytes 底层字节，只读；下一次修改后失效
func (is *Intset) Bytes() []byte {
	return is.buf.b
}

// Members 按升序返回全部元素
func (is *Intset) Members() []int64 {
	n := int(is.length())
	out := make([]int64, n)
	for i := range out {
		out[i] = is.get(i)
	}
	return out
}

// Free 归还内存
func (is *Intset) Free() {
	is.buf.free()
}

// IntsetValidateIntegrity 校验外部来源的 intset 字节。
// 浅校验只检查头部与长度是否一致，深校验额外检查严格升序（无重复）
func IntsetValidateIntegrity(buf []byte, deep bool) bool {
	if len(buf) < INTSET_HDR_SIZE {
		return false
	}
	enc := binary.LittleEndian.Uint32(buf[0:4])
	switch enc {
	case INTSET_ENC_INT16, INTSET_ENC_INT32, INTSET_ENC_INT64:
	default:
		return false
	}

	count := uint64(binary.LittleEndian.Uint32(buf[4:8]))
	if INTSET_HDR_SIZE+count*uint64(enc) != uint64(len(buf)) {
		return false
	}
	if !deep || count == 0 {
		return true
	}

	prev := intsetGetEncoded(buf, 0, enc)
	for i := 1; i < int(count); i++ {
		cur := intsetGetEncoded(buf, i, enc)
		if cur <= prev {
			return false
		}
		prev = cur
	}
	return true
}

// IntsetFromBytes 从字节恢复 intset（深校验）
func IntsetFromBytes(buf []byte, alloc Allocator) (*Intset, error) {
	if !IntsetValidateIntegrity(buf, true) {
		return nil, errors.Wrapf(ErrIntsetCorrupt, "%d bytes", len(buf))
	}
	return &Intset{buf: adoptBytes(alloc, buf)}, nil
}
