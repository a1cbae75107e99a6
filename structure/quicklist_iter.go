package structure

// QuicklistIter quicklist 迭代器。
// 迭代期间只允许通过 DelEntry 删除当前元素，其他修改之后迭代器失效
type QuicklistIter struct {
	ql        *Quicklist
	current   *QuicklistNode
	zi        int // 当前节点内的位置，-1 表示尚未定位
	offset    int
	direction int
}

// Iterator 从头部（AL_START_HEAD）或尾部（AL_START_TAIL）开始迭代
func (ql *Quicklist) Iterator(direction int) *QuicklistIter {
	it := &QuicklistIter{ql: ql, zi: -1, direction: direction}
	if direction == AL_START_HEAD {
		it.current = ql.head
		it.offset = 0
	} else {
		it.current = ql.tail
		it.offset = -1
	}
	return it
}

// IteratorAtIdx 从第 idx 个元素开始迭代
func (ql *Quicklist) IteratorAtIdx(direction, idx int) (*QuicklistIter, bool) {
	entry, ok := ql.Index(idx)
	if !ok {
		return nil, false
	}
	it := ql.Iterator(direction)
	it.current = entry.node
	it.offset = entry.offset
	return it, true
}

// Next 取下一个元素填入 entry，没有更多元素时返回 false
func (it *QuicklistIter) Next(entry *QuicklistEntry) bool {
	for {
		*entry = QuicklistEntry{ql: it.ql, node: it.current, zi: -1}
		if it.current == nil {
			return false
		}

		if it.zi < 0 {
			it.ql.decompressForUse(it.current)
			it.zi = it.current.index(it.offset)
		} else if it.direction == AL_START_HEAD {
			it.zi = it.current.nextPos(it.zi)
			it.offset++
		} else {
			it.zi = it.current.prevPos(it.zi)
			it.offset--
		}

		entry.zi = it.zi
		entry.offset = it.offset
		if it.zi >= 0 {
			entry.Value = it.current.get(it.zi)
			return true
		}

		// 当前节点已经遍历完，压回后进入下一个节点
		it.ql.compressAround(it.current)
		if it.direction == AL_START_HEAD {
			it.current = it.current.next
			it.offset = 0
		} else {
			it.current = it.current.prev
			it.offset = -1
		}
		it.zi = -1
	}
}

// DelEntry 删除 Next 刚返回的元素，迭代可以继续
func (it *QuicklistIter) DelEntry(entry *QuicklistEntry) {
	prev, next := entry.node.prev, entry.node.next
	deletedNode := it.ql.delIndex(entry.node, entry.zi)

	// 位置已失效，下次 Next 按 offset 重新定位
	it.zi = -1
	if deletedNode {
		if it.direction == AL_START_HEAD {
			it.current = next
			it.offset = 0
		} else {
			it.current = prev
			it.offset = -1
		}
	}
}

// Release 结束迭代，当前节点按需重新压缩
func (it *QuicklistIter) Release() {
	if it.current != nil {
		it.ql.compressAround(it.current)
	}
	it.current = nil
}
