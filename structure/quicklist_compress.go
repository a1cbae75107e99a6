package structure

import (
	"github.com/klauspost/compress/s2"
	"github.com/pkg/errors"
)

/*
 * ============================================================================
 * Quicklist 节点压缩
 * ============================================================================
 *
 * 两端各 compress 个节点保持原始形式（push/pop 只访问两端），中间节点用 s2
 * 压缩。小于 MIN_COMPRESS_BYTES 的节点不压缩，压缩后节省不足
 * MIN_COMPRESS_IMPROVE 字节的也放弃。
 *
 * recompress 标记表示节点是为了临时访问而解压的，用完后需要重新压缩。
 */

const (
	MIN_COMPRESS_BYTES   = 48
	MIN_COMPRESS_IMPROVE = 8
)

func (ql *Quicklist) allowsCompression() bool {
	return ql.compress != 0
}

// compressNode 压缩一个原始节点，成功返回 true
func (ql *Quicklist) compressNode(n *QuicklistNode) bool {
	if n == nil || n.encoding != QUICKLIST_NODE_ENCODING_RAW {
		return false
	}
	n.recompress = false
	// 两端节点永远保持原始形式
	if n.prev == nil || n.next == nil {
		return false
	}
	n.attemptedCompress = true
	if n.sz < MIN_COMPRESS_BYTES {
		return false
	}

	raw := n.rawBytes()
	maxLen := s2.MaxEncodedLen(len(raw))
	if maxLen < 0 {
		return false
	}
	dst, err := ql.alloc.Alloc(maxLen)
	if err != nil {
		// 压缩只是优化，内存不足时保持原样
		return false
	}
	enc := s2.Encode(dst, raw)
	if len(enc)+MIN_COMPRESS_IMPROVE >= n.sz {
		ql.alloc.Free(dst)
		return false
	}

	n.compressed = mustRealloc(ql.alloc, dst, len(enc))
	n.freeRaw(ql.alloc)
	n.encoding = QUICKLIST_NODE_ENCODING_COMPRESSED
	return true
}

// decompressNode 解压节点
func (ql *Quicklist) decompressNode(n *QuicklistNode) {
	if n == nil || n.encoding != QUICKLIST_NODE_ENCODING_COMPRESSED {
		return
	}
	n.attemptedCompress = false

	raw := mustRealloc(ql.alloc, nil, n.sz)
	out, err := s2.Decode(raw, n.compressed)
	if err != nil || len(out) != n.sz {
		panic(errors.Wrapf(ErrCorruptEntry, "quicklist node decompress: %v", err))
	}
	ql.alloc.Free(n.compressed)
	n.compressed = nil

	if n.container == QUICKLIST_NODE_CONTAINER_PLAIN {
		n.plain = out
	} else {
		n.zl = &Ziplist{buf: byteBuffer{alloc: ql.alloc, b: out}}
	}
	n.encoding = QUICKLIST_NODE_ENCODING_RAW
	n.recompress = false
}

// decompressForUse 临时解压，之后由 recompressOnly 压回
func (ql *Quicklist) decompressForUse(n *QuicklistNode) {
	if n != nil && n.encoding == QUICKLIST_NODE_ENCODING_COMPRESSED {
		ql.decompressNode(n)
		n.recompress = true
	}
}

func (ql *Quicklist) recompressOnly(n *QuicklistNode) {
	if n != nil && n.recompress {
		ql.compressNode(n)
	}
}

// compressAround 节点是临时解压的就直接压回，否则按深度重新整理两端
func (ql *Quicklist) compressAround(n *QuicklistNode) {
	if n == nil {
		return
	}
	if n.recompress {
		ql.compressNode(n)
		return
	}
	ql.compressDepth(n)
}

// compressDepth 保证两端 compress 个节点为原始形式，并压缩刚好越过深度的节点和 n
func (ql *Quicklist) compressDepth(n *QuicklistNode) {
	if ql.len == 0 {
		return
	}
	if !ql.allowsCompression() || ql.len < ql.compress*2 {
		return
	}

	forward, reverse := ql.head, ql.tail
	inDepth := false
	for depth := 0; depth < ql.compress; depth++ {
		ql.decompressNode(forward)
		ql.decompressNode(reverse)
		if forward == n || reverse == n {
			inDepth = true
		}
		// 两端的深度范围相遇，没有可压缩的节点
		if forward == reverse || forward.next == reverse {
			return
		}
		forward = forward.next
		reverse = reverse.prev
	}

	if !inDepth && n != nil {
		ql.compressNode(n)
	}
	ql.compressNode(forward)
	ql.compressNode(reverse)
}
