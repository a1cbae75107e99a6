package structure

import (
	"encoding/binary"
	"strconv"
)

/*
 * ============================================================================
 * Ziplist Entry 编码
 * ============================================================================
 *
 * 每个 entry：<prevlen> <encoding> <entry-data>
 *
 * prevlen：前一个 entry 的总字节数
 *   - < 254：1 字节
 *   - >= 254：0xFE + 4 字节小端
 *
 * encoding（首字节高两位区分字符串/整数）：
 *   |00pppppp|                       字符串，长度 <= 63
 *   |01pppppp|qqqqqqqq|              字符串，长度 <= 16383（14 位，高字节在前）
 *   |10000000|qqqqqqqq|rrrrrrrr|...  字符串，长度 32 位（高字节在前）
 *   |11000000|  int16   |11010000|  int32   |11100000|  int64
 *   |11110000|  int24   |11111110|  int8
 *   |1111xxxx|  xxxx 为 0001..1101，立即数 0..12
 *   |11111111|  结束标记
 */

const (
	ZIP_END         = 0xff
	ZIP_BIG_PREVLEN = 0xfe

	ZIP_STR_MASK = 0xc0
	ZIP_INT_MASK = 0x30

	ZIP_STR_06B = 0 << 6
	ZIP_STR_14B = 1 << 6
	ZIP_STR_32B = 2 << 6

	ZIP_INT_16B = 0xc0 | 0<<4
	ZIP_INT_32B = 0xc0 | 1<<4
	ZIP_INT_64B = 0xc0 | 2<<4
	ZIP_INT_24B = 0xc0 | 3<<4
	ZIP_INT_8B  = 0xfe

	ZIP_INT_IMM_MASK = 0x0f
	ZIP_INT_IMM_MIN  = 0xf1
	ZIP_INT_IMM_MAX  = 0xfd

	INT24_MAX = 0x7fffff
	INT24_MIN = -INT24_MAX - 1

	zipEncodingSizeInvalid = 0xff
)

// ZlValue entry 的值：字符串或整数
type ZlValue struct {
	Str   []byte
	Int   int64
	IsInt bool
}

// Bytes 以字节形式返回值（整数转十进制）
func (v ZlValue) Bytes() []byte {
	if v.IsInt {
		return strconv.AppendInt(nil, v.Int, 10)
	}
	return v.Str
}

func (v ZlValue) String() string {
	if v.IsInt {
		return strconv.FormatInt(v.Int, 10)
	}
	return string(v.Str)
}

// Equal 与字节串比较，整数按十进制表示比较
func (v ZlValue) Equal(s []byte) bool {
	if v.IsInt {
		n, ok := string2ll(s)
		return ok && n == v.Int
	}
	return string(v.Str) == string(s)
}

// zlEntry entry 的解析结果，p 为 entry 在缓冲区中的偏移
type zlEntry struct {
	prevRawLenSize int
	prevRawLen     int
	lenSize        int
	len            int
	headerSize     int
	encoding       byte
	p              int
}

func (e *zlEntry) rawLen() int {
	return e.headerSize + e.len
}

func zipIsStr(enc byte) bool {
	return enc&ZIP_STR_MASK < ZIP_STR_MASK
}

// zipEntryEncoding 从首字节取出编码；字符串编码只保留高两位
func zipEntryEncoding(b byte) byte {
	if b < ZIP_STR_MASK {
		return b & ZIP_STR_MASK
	}
	return b
}

func zipEncodingLenSize(enc byte) int {
	switch {
	case enc == ZIP_INT_16B, enc == ZIP_INT_32B, enc == ZIP_INT_24B,
		enc == ZIP_INT_64B, enc == ZIP_INT_8B:
		return 1
	case enc >= ZIP_INT_IMM_MIN && enc <= ZIP_INT_IMM_MAX:
		return 1
	case enc == ZIP_STR_06B:
		return 1
	case enc == ZIP_STR_14B:
		return 2
	case enc == ZIP_STR_32B:
		return 5
	}
	return zipEncodingSizeInvalid
}

func zipIntSize(enc byte) int {
	switch enc {
	case ZIP_INT_8B:
		return 1
	case ZIP_INT_16B:
		return 2
	case ZIP_INT_24B:
		return 3
	case ZIP_INT_32B:
		return 4
	case ZIP_INT_64B:
		return 8
	}
	if enc >= ZIP_INT_IMM_MIN && enc <= ZIP_INT_IMM_MAX {
		return 0
	}
	panic("ziplist: invalid integer encoding")
}

// zipStoreEntryEncoding 写入 encoding 头，dst 为 nil 时只返回所需字节数
func zipStoreEntryEncoding(dst []byte, enc byte, rawlen int) int {
	if !zipIsStr(enc) {
		if dst != nil {
			dst[0] = enc
		}
		return 1
	}
	switch {
	case rawlen <= 0x3f:
		if dst != nil {
			dst[0] = ZIP_STR_06B | byte(rawlen)
		}
		return 1
	case rawlen <= 0x3fff:
		if dst != nil {
			dst[0] = ZIP_STR_14B | byte(rawlen>>8)&0x3f
			dst[1] = byte(rawlen)
		}
		return 2
	default:
		if dst != nil {
			dst[0] = ZIP_STR_32B
			binary.BigEndian.PutUint32(dst[1:5], uint32(rawlen))
		}
		return 5
	}
}

// zipDecodeLength 解析 encoding 头，返回编码、头长度和数据长度
func zipDecodeLength(b []byte, p int) (enc byte, lenSize, length int) {
	enc = zipEntryEncoding(b[p])
	if enc < ZIP_STR_MASK {
		switch enc {
		case ZIP_STR_06B:
			return enc, 1, int(b[p] & 0x3f)
		case ZIP_STR_14B:
			return enc, 2, int(b[p]&0x3f)<<8 | int(b[p+1])
		case ZIP_STR_32B:
			return enc, 5, int(binary.BigEndian.Uint32(b[p+1 : p+5]))
		}
		panic("ziplist: invalid string encoding")
	}
	return enc, 1, zipIntSize(enc)
}

// zipStorePrevEntryLength 写入 prevlen，dst 为 nil 时只返回所需字节数
func zipStorePrevEntryLength(dst []byte, l int) int {
	if l < ZIP_BIG_PREVLEN {
		if dst != nil {
			dst[0] = byte(l)
		}
		return 1
	}
	return zipStorePrevEntryLengthLarge(dst, l)
}

// zipStorePrevEntryLengthLarge 总是使用 5 字节形式
func zipStorePrevEntryLengthLarge(dst []byte, l int) int {
	if dst != nil {
		dst[0] = ZIP_BIG_PREVLEN
		binary.LittleEndian.PutUint32(dst[1:5], uint32(l))
	}
	return 5
}

func zipDecodePrevLenSize(b byte) int {
	if b < ZIP_BIG_PREVLEN {
		return 1
	}
	return 5
}

func zipDecodePrevLen(b []byte, p int) (size, prevlen int) {
	size = zipDecodePrevLenSize(b[p])
	if size == 1 {
		return 1, int(b[p])
	}
	return 5, int(binary.LittleEndian.Uint32(b[p+1 : p+5]))
}

// zipPrevLenByteDiff 把 p 处的 prevlen 改成 l 需要增减的字节数
func zipPrevLenByteDiff(b []byte, p int, l int) int {
	return zipStorePrevEntryLength(nil, l) - zipDecodePrevLenSize(b[p])
}

// string2ll 严格的十进制整数解析：无前导零、无正号、无空白
func string2ll(s []byte) (int64, bool) {
	if len(s) == 0 || len(s) > 20 {
		return 0, false
	}
	v, err := strconv.ParseInt(string(s), 10, 64)
	if err != nil {
		return 0, false
	}
	if strconv.FormatInt(v, 10) != string(s) {
		return 0, false
	}
	return v, true
}

// zipTryEncoding 尝试把字符串编码为整数
func zipTryEncoding(s []byte) (int64, byte, bool) {
	if len(s) >= 32 {
		return 0, 0, false
	}
	v, ok := string2ll(s)
	if !ok {
		return 0, 0, false
	}
	switch {
	case v >= 0 && v <= 12:
		return v, ZIP_INT_IMM_MIN + byte(v), true
	case fitsIn[int8](v):
		return v, ZIP_INT_8B, true
	case fitsIn[int16](v):
		return v, ZIP_INT_16B, true
	case v >= INT24_MIN && v <= INT24_MAX:
		return v, ZIP_INT_24B, true
	case fitsIn[int32](v):
		return v, ZIP_INT_32B, true
	default:
		return v, ZIP_INT_64B, true
	}
}

func zipSaveInteger(b []byte, p int, v int64, enc byte) {
	switch enc {
	case ZIP_INT_8B:
		b[p] = byte(int8(v))
	case ZIP_INT_16B:
		binary.LittleEndian.PutUint16(b[p:], uint16(int16(v)))
	case ZIP_INT_24B:
		u := uint32(int32(v))
		b[p], b[p+1], b[p+2] = byte(u), byte(u>>8), byte(u>>16)
	case ZIP_INT_32B:
		binary.LittleEndian.PutUint32(b[p:], uint32(int32(v)))
	case ZIP_INT_64B:
		binary.LittleEndian.PutUint64(b[p:], uint64(v))
	default:
		// 立即数编码在 encoding 字节里，无需写数据
		if enc < ZIP_INT_IMM_MIN || enc > ZIP_INT_IMM_MAX {
			panic("ziplist: invalid integer encoding")
		}
	}
}

func zipLoadInteger(b []byte, p int, enc byte) int64 {
	switch enc {
	case ZIP_INT_8B:
		return int64(int8(b[p]))
	case ZIP_INT_16B:
		return int64(int16(binary.LittleEndian.Uint16(b[p:])))
	case ZIP_INT_24B:
		u := uint32(b[p])<<8 | uint32(b[p+1])<<16 | uint32(b[p+2])<<24
		return int64(int32(u) >> 8)
	case ZIP_INT_32B:
		return int64(int32(binary.LittleEndian.Uint32(b[p:])))
	case ZIP_INT_64B:
		return int64(binary.LittleEndian.Uint64(b[p:]))
	}
	if enc >= ZIP_INT_IMM_MIN && enc <= ZIP_INT_IMM_MAX {
		return int64(enc&ZIP_INT_IMM_MASK) - 1
	}
	panic("ziplist: invalid integer encoding")
}

// zipEntry 解析 p 处的 entry，调用方保证 p 合法
func zipEntry(b []byte, p int) zlEntry {
	var e zlEntry
	e.p = p
	e.prevRawLenSize, e.prevRawLen = zipDecodePrevLen(b, p)
	e.encoding, e.lenSize, e.len = zipDecodeLength(b, p+e.prevRawLenSize)
	e.headerSize = e.prevRawLenSize + e.lenSize
	return e
}

// zipEntrySafe 带越界检查的解析，用于不可信数据
func zipEntrySafe(b []byte, p int, validatePrevLen bool) (zlEntry, bool) {
	var e zlEntry
	first := ZIPLIST_HEADER_SIZE
	last := len(b) - ZIPLIST_END_SIZE
	outOfRange := func(x int) bool { return x < first || x > last }

	if outOfRange(p) {
		return e, false
	}
	e.p = p
	e.prevRawLenSize = zipDecodePrevLenSize(b[p])
	if outOfRange(p + e.prevRawLenSize) {
		return e, false
	}

	e.encoding = zipEntryEncoding(b[p+e.prevRawLenSize])
	e.lenSize = zipEncodingLenSize(e.encoding)
	if e.lenSize == zipEncodingSizeInvalid {
		return e, false
	}
	if outOfRange(p + e.prevRawLenSize + e.lenSize) {
		return e, false
	}

	_, e.prevRawLen = zipDecodePrevLen(b, p)
	_, _, e.len = zipDecodeLength(b, p+e.prevRawLenSize)
	e.headerSize = e.prevRawLenSize + e.lenSize

	if outOfRange(p + e.headerSize + e.len) {
		return e, false
	}
	if validatePrevLen && outOfRange(p-e.prevRawLen) {
		return e, false
	}
	return e, true
}

func zipRawEntryLength(b []byte, p int) int {
	e := zipEntry(b, p)
	return e.rawLen()
}

// zipAssertValidEntry 遍历过程中的断言
func zipAssertValidEntry(b []byte, p int) zlEntry {
	e, ok := zipEntrySafe(b, p, true)
	if !ok {
		panic(ErrZiplistCorrupt)
	}
	return e
}

func zipValue(b []byte, e *zlEntry) ZlValue {
	data := e.p + e.headerSize
	if zipIsStr(e.encoding) {
		s := make([]byte, e.len)
		copy(s, b[data:data+e.len])
		return ZlValue{Str: s}
	}
	return ZlValue{Int: zipLoadInteger(b, data, e.encoding), IsInt: true}
}
