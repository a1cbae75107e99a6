package structure

/*
 * ============================================================================
 * Quicklist 书签
 * ============================================================================
 *
 * 书签给节点起名字，用于分批遍历很长的 quicklist（例如每次处理一段后记住位置）。
 * 节点被删除时书签移到下一个节点，没有下一个节点时书签被删除。
 * 书签数量上限 QL_MAX_BM。
 */

const QL_MAX_BM = 15

type quicklistBookmark struct {
	name string
	node *QuicklistNode
}

// BookmarkCreate 创建或更新书签，数量已达上限时返回 false
func (ql *Quicklist) BookmarkCreate(name string, node *QuicklistNode) bool {
	if i := ql.bookmarkIndex(name); i >= 0 {
		ql.bookmarks[i].node = node
		return true
	}
	if len(ql.bookmarks) >= QL_MAX_BM {
		return false
	}
	ql.bookmarks = append(ql.bookmarks, quicklistBookmark{name: name, node: node})
	return true
}

// BookmarkFind 返回书签指向的节点
func (ql *Quicklist) BookmarkFind(name string) *QuicklistNode {
	if i := ql.bookmarkIndex(name); i >= 0 {
		return ql.bookmarks[i].node
	}
	return nil
}

// BookmarkDelete 删除书签
func (ql *Quicklist) BookmarkDelete(name string) bool {
	i := ql.bookmarkIndex(name)
	if i < 0 {
		return false
	}
	ql.bookmarks = append(ql.bookmarks[:i], ql.bookmarks[i+1:]...)
	return true
}

// BookmarksClear 删除全部书签
func (ql *Quicklist) BookmarksClear() {
	ql.bookmarks = nil
}

func (ql *Quicklist) bookmarkIndex(name string) int {
	for i := range ql.bookmarks {
		if ql.bookmarks[i].name == name {
			return i
		}
	}
	return -1
}

// moveBookmarks 节点删除前调用
func (ql *Quicklist) moveBookmarks(n *QuicklistNode) {
	for i := 0; i < len(ql.bookmarks); {
		if ql.bookmarks[i].node != n {
			i++
			continue
		}
		if n.next != nil {
			ql.bookmarks[i].node = n.next
			i++
			continue
		}
		ql.bookmarks = append(ql.bookmarks[:i], ql.bookmarks[i+1:]...)
	}
}
