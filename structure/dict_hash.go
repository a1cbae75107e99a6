package structure

import (
	"bytes"
	"sync/atomic"
	"unsafe"

	"github.com/spaolacci/murmur3"
)

// 哈希种子：进程启动时设置一次，之后所有 dict 共享
var (
	dictHashSeed    [16]byte
	dictHashSeedKey atomic.Uint32
)

// SetHashFunctionSeed 设置哈希种子，只应在启动阶段调用
func SetHashFunctionSeed(seed [16]byte) {
	dictHashSeed = seed
	dictHashSeedKey.Store(murmur3.Sum32(seed[:]))
}

// GetHashFunctionSeed 返回当前哈希种子
func GetHashFunctionSeed() [16]byte {
	return dictHashSeed
}

// GenHashFunction 带种子的 murmur3 64 位哈希
func GenHashFunction(key []byte) uint64 {
	return murmur3.Sum64WithSeed(key, dictHashSeedKey.Load())
}

// GenCaseHashFunction 大小写不敏感的哈希
func GenCaseHashFunction(key []byte) uint64 {
	return GenHashFunction(bytes.ToLower(key))
}

func stringBytes(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// StringHash 字符串 key 的哈希，不复制数据
func StringHash(key string) uint64 {
	return GenHashFunction(stringBytes(key))
}

// StringDictType 字符串 key 的 DictType
func StringDictType[V any]() *DictType[string, V] {
	return &DictType[string, V]{HashFunction: StringHash}
}
