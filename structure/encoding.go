package structure

/*
 * ============================================================================
 * 对象编码类型定义
 * ============================================================================
 *
 * 同一种数据类型根据规模使用不同的底层编码：
 *   List:   ziplist → quicklist
 *   Set:    intset  → hashtable
 *   Hash:   ziplist → hashtable
 *   String: int / embstr / raw
 * 转换只会从紧凑编码转向通用编码，不会反向。
 */

// Encoding 编码类型
type Encoding byte

const (
	OBJ_ENCODING_RAW       Encoding = 0 // 原始字符串
	OBJ_ENCODING_INT       Encoding = 1 // 整数
	OBJ_ENCODING_HT        Encoding = 2 // 哈希表（Dict）
	OBJ_ENCODING_ZIPLIST   Encoding = 5 // 压缩列表
	OBJ_ENCODING_INTSET    Encoding = 6 // 整数集合
	OBJ_ENCODING_EMBSTR    Encoding = 8 // 短字符串
	OBJ_ENCODING_QUICKLIST Encoding = 9 // 快速列表
)

// String 与 OBJECT ENCODING 的输出一致
func (e Encoding) String() string {
	switch e {
	case OBJ_ENCODING_RAW:
		return "raw"
	case OBJ_ENCODING_INT:
		return "int"
	case OBJ_ENCODING_HT:
		return "hashtable"
	case OBJ_ENCODING_ZIPLIST:
		return "ziplist"
	case OBJ_ENCODING_INTSET:
		return "intset"
	case OBJ_ENCODING_EMBSTR:
		return "embstr"
	case OBJ_ENCODING_QUICKLIST:
		return "quicklist"
	}
	return "unknown"
}

// EncodingConfig 编码转换阈值，以及容器共享的分配器和扩容策略
type EncodingConfig struct {
	ListMaxZiplistEntries int
	ListMaxZiplistSize    int
	ListFill              int
	ListCompressDepth     int

	SetMaxIntsetEntries int

	HashMaxZiplistEntries int
	HashMaxZiplistValue   int

	Alloc  Allocator
	Resize *ResizeConfig
}

// DefaultEncodingConfig 默认阈值
func DefaultEncodingConfig() *EncodingConfig {
	return &EncodingConfig{
		ListMaxZiplistEntries: 512,
		ListMaxZiplistSize:    8192,
		ListFill:              -2,
		ListCompressDepth:     0,
		SetMaxIntsetEntries:   512,
		HashMaxZiplistEntries: 512,
		HashMaxZiplistValue:   64,
		Alloc:                 DefaultAllocator(),
		Resize:                NewResizeConfig(),
	}
}

func configOrDefault(cfg *EncodingConfig) *EncodingConfig {
	if cfg == nil {
		return DefaultEncodingConfig()
	}
	return cfg
}
