package ast

// Visitor receives nodes in pre-order and post-order. PreVisit returning
// false skips the node's children; PostVisit is still called for it.
// Either callback may be nil.
type Visitor struct {
	PreVisit  func(id NodeID, n *Node) bool
	PostVisit func(id NodeID, n *Node)
}

// Walk traverses t depth-first from the root, children in source order.
func Walk(t *Tree, v Visitor) {
	if t == nil || t.Len() == 0 {
		return
	}
	walk(t, t.Root, v)
}

// WalkFrom traverses the subtree rooted at id.
func WalkFrom(t *Tree, id NodeID, v Visitor) {
	if _, ok := t.Node(id); !ok {
		return
	}
	walk(t, id, v)
}

func walk(t *Tree, id NodeID, v Visitor) {
	n := &t.nodes[id]
	descend := true
	if v.PreVisit != nil {
		descend = v.PreVisit(id, n)
	}
	if descend {
		switch n.Kind {
		case KindInclude, KindDefine, KindEnumerator, KindUsing:
			// Leaves: the parser never attaches children to these.
		default:
			for _, c := range n.Children {
				walk(t, c, v)
			}
		}
	}
	if v.PostVisit != nil {
		v.PostVisit(id, n)
	}
}
