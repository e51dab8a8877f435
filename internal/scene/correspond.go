package scene

import "github.com/beevik/etree"

// IndexPath 从 root 到 node 的逐层子元素序号（仅计元素，不计文本与注释）
// 约束：向上遍历途中父链断开、或在父元素子列表中找不到自身时返回 false；不会 panic。
func IndexPath(node, root *etree.Element) ([]int, bool) {
	if node == nil || root == nil {
		return nil, false
	}
	var rev []int
	for cur := node; cur != root; {
		p := cur.Parent()
		if p == nil {
			return nil, false
		}
		i := elementIndex(p, cur)
		if i < 0 {
			return nil, false
		}
		rev = append(rev, i)
		cur = p
	}
	path := make([]int, len(rev))
	for i, v := range rev {
		path[len(rev)-1-i] = v
	}
	return path, true
}

// Resolve 自 root 逐层按序号下降；某层序号越界时返回 false
func Resolve(root *etree.Element, path []int) (*etree.Element, bool) {
	if root == nil {
		return nil, false
	}
	cur := root
	for _, i := range path {
		kids := cur.ChildElements()
		if i < 0 || i >= len(kids) {
			return nil, false
		}
		cur = kids[i]
	}
	return cur, true
}

// Correspond 克隆树中的节点 → 原始树中结构位置相同的节点；O(深度)
// 克隆与原始是两棵不同的对象图，只能靠序号路径而非指针身份对应。
func Correspond(node, cloneRoot, origRoot *etree.Element) (*etree.Element, bool) {
	path, ok := IndexPath(node, cloneRoot)
	if !ok {
		return nil, false
	}
	return Resolve(origRoot, path)
}

func elementIndex(parent, child *etree.Element) int {
	i := 0
	for _, t := range parent.Child {
		el, ok := t.(*etree.Element)
		if !ok {
			continue
		}
		if el == child {
			return i
		}
		i++
	}
	return -1
}
