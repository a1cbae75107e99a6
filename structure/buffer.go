package structure

// byteBuffer 紧凑编码的底层连续内存，所有尺寸变化都经过 Allocator
type byteBuffer struct {
	alloc Allocator
	b     []byte
}

func newByteBuffer(alloc Allocator, size int) byteBuffer {
	alloc = allocatorOrDefault(alloc)
	return byteBuffer{alloc: alloc, b: mustRealloc(alloc, nil, size)}
}

// adoptBytes 复制外部数据为新缓冲区
func adoptBytes(alloc Allocator, src []byte) byteBuffer {
	bb := newByteBuffer(alloc, len(src))
	copy(bb.b, src)
	return bb
}

func (bb *byteBuffer) len() int {
	return len(bb.b)
}

func (bb *byteBuffer) resize(size int) {
	bb.b = mustRealloc(bb.alloc, bb.b, size)
}

// insertAt 在 off 处腾出 n 字节，原 [off:] 整体右移
func (bb *byteBuffer) insertAt(off, n int) {
	if n == 0 {
		return
	}
	old := len(bb.b)
	bb.resize(old + n)
	copy(bb.b[off+n:], bb.b[off:old])
}

// removeAt 删除 [off, off+n)，后续字节左移
func (bb *byteBuffer) removeAt(off, n int) {
	if n == 0 {
		return
	}
	old := len(bb.b)
	copy(bb.b[off:], bb.b[off+n:])
	bb.resize(old - n)
}

func (bb *byteBuffer) clone() byteBuffer {
	return adoptBytes(bb.alloc, bb.b)
}

func (bb *byteBuffer) free() {
	if bb.b != nil {
		bb.alloc.Free(bb.b)
		bb.b = nil
	}
}
