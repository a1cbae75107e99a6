package structure

import (
	"fmt"
	"sync/atomic"

	"github.com/pkg/errors"
)

/*
 * ============================================================================
 * 内存分配器
 * ============================================================================
 *
 * 【核心原理】
 * 所有紧凑容器（ziplist、intset、quicklist 节点、dict 桶数组）的内存都经由
 * Allocator 申请和归还，而不是直接 make。
 *
 * - 记录已用内存和峰值，供 INFO / metrics 使用
 * - 可设置上限：超过上限时 Alloc/Reserve 返回 ErrAllocFailed，用于模拟
 *   分配失败。普通路径把失败视为致命错误（panic），Try 路径把错误返回给调用方
 */

// Allocator 内存分配器
type Allocator interface {
	// Alloc 申请 size 字节的零值缓冲区
	Alloc(size int) ([]byte, error)
	// Realloc 把 buf 调整为 size 字节，保留前 min(len(buf), size) 字节
	Realloc(buf []byte, size int) ([]byte, error)
	// Free 归还 buf
	Free(buf []byte)
	// Reserve 只记账不分配（dict 桶数组使用）
	Reserve(size int) error
	// Release 归还 Reserve 记账的字节
	Release(size int)
	// Used 当前已用字节数
	Used() int64
}

// HeapAllocator 基于 Go 堆的分配器，带可选上限
type HeapAllocator struct {
	limit int64 // 0 表示不限制
	used  atomic.Int64
	peak  atomic.Int64
}

// NewHeapAllocator 创建分配器，limit 为 0 时不限制
func NewHeapAllocator(limit int64) *HeapAllocator {
	return &HeapAllocator{limit: limit}
}

var defaultAllocator = NewHeapAllocator(0)

// DefaultAllocator 返回进程级默认分配器（不限制）
func DefaultAllocator() Allocator {
	return defaultAllocator
}

func (a *HeapAllocator) charge(delta int64) error {
	for {
		cur := a.used.Load()
		next := cur + delta
		if delta > 0 && a.limit > 0 && next > a.limit {
			return errors.Wrapf(ErrAllocFailed, "need %d bytes, used %d of %d", delta, cur, a.limit)
		}
		if a.used.CompareAndSwap(cur, next) {
			for {
				p := a.peak.Load()
				if next <= p || a.peak.CompareAndSwap(p, next) {
					return nil
				}
			}
		}
	}
}

// Alloc 申请缓冲区
func (a *HeapAllocator) Alloc(size int) ([]byte, error) {
	if err := a.charge(int64(size)); err != nil {
		return nil, err
	}
	return make([]byte, size), nil
}

// Realloc 调整缓冲区大小，容量足够时原地调整
func (a *HeapAllocator) Realloc(buf []byte, size int) ([]byte, error) {
	if err := a.charge(int64(size - len(buf))); err != nil {
		return buf, err
	}
	if size <= cap(buf) {
		old := len(buf)
		buf = buf[:size]
		if size > old {
			clear(buf[old:])
		}
		return buf, nil
	}
	nb := make([]byte, size, size+size/4)
	copy(nb, buf)
	return nb, nil
}

// Free 归还缓冲区
func (a *HeapAllocator) Free(buf []byte) {
	_ = a.charge(-int64(len(buf)))
}

// Reserve 记账
func (a *HeapAllocator) Reserve(size int) error {
	return a.charge(int64(size))
}

// Release 取消记账
func (a *HeapAllocator) Release(size int) {
	_ = a.charge(-int64(size))
}

// Used 已用字节数
func (a *HeapAllocator) Used() int64 {
	return a.used.Load()
}

// Peak 峰值字节数
func (a *HeapAllocator) Peak() int64 {
	return a.peak.Load()
}

// Limit 上限，0 表示不限制
func (a *HeapAllocator) Limit() int64 {
	return a.limit
}

// WouldExceed 再申请 more 字节是否会超过上限
func (a *HeapAllocator) WouldExceed(more int64) bool {
	return a.limit > 0 && a.used.Load()+more > a.limit
}

// UsedHuman 格式化的已用内存
func (a *HeapAllocator) UsedHuman() string {
	return FormatBytes(a.Used())
}

// FormatBytes 格式化字节数
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%dB", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func allocatorOrDefault(a Allocator) Allocator {
	if a == nil {
		return defaultAllocator
	}
	return a
}

func mustRealloc(a Allocator, buf []byte, size int) []byte {
	nb, err := a.Realloc(buf, size)
	if err != nil {
		panic(errors.Wrapf(err, "out of memory reallocating %d bytes", size))
	}
	return nb
}
