package storage

import (
	"bytes"
	"strconv"

	"github.com/code-100-precent/LingCore/structure"
)

/*
 * ============================================================================
 * Redis 对象系统 (robj)
 * ============================================================================
 *
 * Redis 使用统一的对象系统来表示所有数据类型。
 * 每个对象包含：
 * - type: 对象类型（STRING、LIST、SET、HASH）
 * - encoding: 编码方式（决定底层数据结构）
 * - ptr: 指向实际数据的指针
 * - refcount: 引用计数，降到 0 时释放底层容器
 *
 * 【编码方式】
 * - String: INT（可表示为 int64 的规范十进制）、EMBSTR（<= 44 字节）、RAW
 * - List: ZIPLIST、QUICKLIST
 * - Set: INTSET、HT
 * - Hash: ZIPLIST、HT
 * 容器的编码会随数据增长自动转换，ObjectEncoding 总是返回当前值。
 */

// ObjectType 对象类型
type ObjectType byte

const (
	OBJ_STRING ObjectType = 0 // 字符串对象
	OBJ_LIST   ObjectType = 1 // 列表对象
	OBJ_SET    ObjectType = 2 // 集合对象
	OBJ_HASH   ObjectType = 4 // 哈希对象
)

// OBJ_ENCODING_EMBSTR_SIZE_LIMIT 不超过此长度的字符串使用 embstr 编码
const OBJ_ENCODING_EMBSTR_SIZE_LIMIT = 44

// String 与 TYPE 命令的输出一致
func (t ObjectType) String() string {
	switch t {
	case OBJ_STRING:
		return "string"
	case OBJ_LIST:
		return "list"
	case OBJ_SET:
		return "set"
	case OBJ_HASH:
		return "hash"
	default:
		return "unknown"
	}
}

// RedisObject Redis 对象
type RedisObject struct {
	Type     ObjectType         // 对象类型
	Encoding structure.Encoding // 编码方式
	Ptr      any                // 指向实际数据
	RefCount int                // 引用计数
}

type encoded interface {
	Encoding() structure.Encoding
}

type freeable interface {
	Free()
}

// NewStringObject 创建字符串对象，按内容选择 int/embstr/raw 编码
func NewStringObject(value []byte) *RedisObject {
	obj := &RedisObject{Type: OBJ_STRING, RefCount: 1}
	if len(value) <= 20 {
		if v, err := strconv.ParseInt(string(value), 10, 64); err == nil && strconv.FormatInt(v, 10) == string(value) {
			obj.Encoding = structure.OBJ_ENCODING_INT
			obj.Ptr = v
			return obj
		}
	}
	if len(value) <= OBJ_ENCODING_EMBSTR_SIZE_LIMIT {
		obj.Encoding = structure.OBJ_ENCODING_EMBSTR
	} else {
		obj.Encoding = structure.OBJ_ENCODING_RAW
	}
	obj.Ptr = bytes.Clone(value)
	return obj
}

// NewListObject 创建列表对象
func NewListObject(cfg *structure.EncodingConfig) *RedisObject {
	return newContainerObject(OBJ_LIST, structure.NewList(cfg))
}

// NewSetObject 创建集合对象
func NewSetObject(cfg *structure.EncodingConfig) *RedisObject {
	return newContainerObject(OBJ_SET, structure.NewSet(cfg))
}

// NewHashObject 创建哈希对象
func NewHashObject(cfg *structure.EncodingConfig) *RedisObject {
	return newContainerObject(OBJ_HASH, structure.NewHash(cfg))
}

func newContainerObject(t ObjectType, ptr encoded) *RedisObject {
	return &RedisObject{
		Type:     t,
		Encoding: ptr.Encoding(),
		Ptr:      ptr,
		RefCount: 1,
	}
}

// IncrRefCount 增加引用计数
func (obj *RedisObject) IncrRefCount() {
	obj.RefCount++
}

// DecrRefCount 减少引用计数，降到 0 时释放底层容器
func (obj *RedisObject) DecrRefCount() {
	obj.RefCount--
	if obj.RefCount > 0 {
		return
	}
	if f, ok := obj.Ptr.(freeable); ok {
		f.Free()
	}
	obj.Ptr = nil
}

// ObjectEncoding 返回当前编码（容器可能已经转换过）
func (obj *RedisObject) ObjectEncoding() structure.Encoding {
	if e, ok := obj.Ptr.(encoded); ok {
		obj.Encoding = e.Encoding()
	}
	return obj.Encoding
}

// GetStringValue 获取字符串值
func (obj *RedisObject) GetStringValue() ([]byte, error) {
	if obj.Type != OBJ_STRING {
		return nil, ErrWrongType
	}
	if v, ok := obj.Ptr.(int64); ok {
		return strconv.AppendInt(nil, v, 10), nil
	}
	return obj.Ptr.([]byte), nil
}

// GetList 获取列表对象
func (obj *RedisObject) GetList() (*structure.RedisList, error) {
	if obj.Type != OBJ_LIST {
		return nil, ErrWrongType
	}
	return obj.Ptr.(*structure.RedisList), nil
}

// GetSet 获取集合对象
func (obj *RedisObject) GetSet() (*structure.RedisSet, error) {
	if obj.Type != OBJ_SET {
		return nil, ErrWrongType
	}
	return obj.Ptr.(*structure.RedisSet), nil
}

// GetHash 获取哈希对象
func (obj *RedisObject) GetHash() (*structure.RedisHash, error) {
	if obj.Type != OBJ_HASH {
		return nil, ErrWrongType
	}
	return obj.Ptr.(*structure.RedisHash), nil
}

// TypeString 返回对象类型的字符串表示
func (obj *RedisObject) TypeString() string {
	return obj.Type.String()
}

// EncodingString 返回编码方式的字符串表示
func (obj *RedisObject) EncodingString() string {
	return obj.ObjectEncoding().String()
}

// Len 容器元素个数，字符串返回字节长度
func (obj *RedisObject) Len() int {
	switch v := obj.Ptr.(type) {
	case *structure.RedisList:
		return v.Len()
	case *structure.RedisSet:
		return v.Card()
	case *structure.RedisHash:
		return v.Len()
	}
	s, _ := obj.GetStringValue()
	return len(s)
}

// Equal 比较两个对象的内容
func (obj *RedisObject) Equal(other *RedisObject) bool {
	if obj.Type != other.Type || obj.Len() != other.Len() {
		return false
	}

	switch obj.Type {
	case OBJ_STRING:
		val1, _ := obj.GetStringValue()
		val2, _ := other.GetStringValue()
		return bytes.Equal(val1, val2)
	case OBJ_LIST:
		list1, _ := obj.GetList()
		list2, _ := other.GetList()
		v1, v2 := list1.Values(), list2.Values()
		for i := range v1 {
			if !bytes.Equal(v1[i], v2[i]) {
				return false
			}
		}
		return true
	case OBJ_SET:
		set1, _ := obj.GetSet()
		set2, _ := other.GetSet()
		for _, m := range set1.Members() {
			if !set2.IsMember(m) {
				return false
			}
		}
		return true
	case OBJ_HASH:
		hash1, _ := obj.GetHash()
		hash2, _ := other.GetHash()
		for _, e := range hash1.GetAll() {
			v, ok := hash2.Get(e.Field())
			if !ok || !bytes.Equal(v, e.Value()) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
