package structure

/*
 * ============================================================================
 * 级联更新
 * ============================================================================
 *
 * p 处的 entry 长度变化后，后续 entry 的 prevlen 可能需要从 1 字节扩展
 * 到 5 字节，扩展又会让该 entry 变长，如此连锁。
 *
 * 【算法】
 * 1. 正向扫描，计算需要扩展的 entry 数量 cnt 和总额外字节数 extra，
 *    遇到 prevlen 已经正确或字段足够大的 entry 即停止（字段足够大时原地写入，
 *    更大的字段保持 5 字节形式，不缩小）
 * 2. 一次性扩容 extra 字节，把未受影响的尾部整体后移
 * 3. 从最后一个需要更新的 entry 开始反向搬移，并写入新的 prevlen
 *
 * 每次扩展固定增加 4 字节（5-1），所以整个过程只需要一次重新分配。
 */

const zipPrevLenDelta = 4

func (zl *Ziplist) cascadeUpdate(p int) {
	b := zl.buf.b
	if b[p] == ZIP_END {
		return
	}

	tail := zl.tailOffset()
	cur := zipEntry(b, p)
	firstEntryLen := cur.rawLen()
	prevlen := firstEntryLen
	prevlensize := zipStorePrevEntryLength(nil, prevlen)
	prevoffset := p
	p += prevlen

	extra, cnt := 0, 0
	for b[p] != ZIP_END {
		var ok bool
		cur, ok = zipEntrySafe(b, p, false)
		if !ok {
			panic(ErrZiplistCorrupt)
		}

		if cur.prevRawLen == prevlen {
			break
		}

		if cur.prevRawLenSize >= prevlensize {
			if cur.prevRawLenSize == prevlensize {
				zipStorePrevEntryLength(b[p:], prevlen)
			} else {
				zipStorePrevEntryLengthLarge(b[p:], prevlen)
			}
			break
		}

		// prevRawLen 为 0 说明 cur 原本是某个 ziplist 的头部（合并场景）
		if cur.prevRawLen != 0 && cur.prevRawLen+zipPrevLenDelta != prevlen {
			panic(ErrZiplistCorrupt)
		}

		rawlen := cur.rawLen()
		prevlen = rawlen + zipPrevLenDelta
		prevlensize = zipStorePrevEntryLength(nil, prevlen)
		prevoffset = p
		p += rawlen
		extra += zipPrevLenDelta
		cnt++
	}

	if extra == 0 {
		return
	}

	if tail == prevoffset {
		// 最后一个被更新的就是尾部：只有它自己变长时尾偏移不变
		if extra-zipPrevLenDelta != 0 {
			zl.setTailOffset(tail + extra - zipPrevLenDelta)
		}
	} else {
		zl.setTailOffset(tail + extra)
	}

	// p 指向第一个不受影响的字节
	zl.buf.insertAt(p, extra)
	b = zl.buf.b
	zl.syncBytes()
	p += extra

	for ; cnt > 0; cnt-- {
		cur = zipEntry(b, prevoffset)
		rawlen := cur.rawLen()
		body := rawlen - cur.prevRawLenSize
		copy(b[p-body:p], b[prevoffset+cur.prevRawLenSize:prevoffset+rawlen])
		p -= rawlen + zipPrevLenDelta
		if cur.prevRawLen == 0 {
			zipStorePrevEntryLength(b[p:], firstEntryLen)
		} else {
			zipStorePrevEntryLength(b[p:], cur.prevRawLen+zipPrevLenDelta)
		}
		prevoffset -= cur.prevRawLen
	}
}
