package ast

import (
	"errors"
	"fmt"
)

// ErrNodeNotInTree signals a caller asked about a node the index never
// visited. It is a contract violation, not an empty answer.
var ErrNodeNotInTree = errors.New("ast: node not in traversed tree")

// ParentIndex maps every node of one Tree to its parent. It is built by a
// single traversal and is read-only afterwards; a new Document needs a new
// index.
type ParentIndex struct {
	tree    *Tree
	parent  []NodeID
	visited []bool
	order   []NodeID // pre-order traversal, for tests and debugging
}

// NewParentIndex traverses t once, recording each node's parent as the top
// of the traversal stack at the moment the node is entered.
func NewParentIndex(t *Tree) *ParentIndex {
	idx := &ParentIndex{tree: t}
	if t == nil {
		return idx
	}
	idx.parent = make([]NodeID, t.Len())
	idx.visited = make([]bool, t.Len())
	for i := range idx.parent {
		idx.parent[i] = NoNode
	}

	var stack []NodeID
	Walk(t, Visitor{
		PreVisit: func(id NodeID, _ *Node) bool {
			if len(stack) > 0 {
				idx.parent[id] = stack[len(stack)-1]
			}
			idx.visited[id] = true
			idx.order = append(idx.order, id)
			stack = append(stack, id)
			return true
		},
		PostVisit: func(NodeID, *Node) {
			stack = stack[:len(stack)-1]
		},
	})
	return idx
}

// Tree returns the indexed tree.
func (p *ParentIndex) Tree() *Tree { return p.tree }

// Parent returns the parent of id, NoNode for the root.
func (p *ParentIndex) Parent(id NodeID) (NodeID, error) {
	if !p.contains(id) {
		return NoNode, fmt.Errorf("parent of %d: %w", id, ErrNodeNotInTree)
	}
	return p.parent[id], nil
}

// Path returns the nodes from the root down to id, inclusive.
func (p *ParentIndex) Path(id NodeID) ([]NodeID, error) {
	if !p.contains(id) {
		return nil, fmt.Errorf("path of %d: %w", id, ErrNodeNotInTree)
	}
	var path []NodeID
	for cur := id; cur != NoNode; cur = p.parent[cur] {
		path = append(path, cur)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// Order returns the pre-order sequence the index was built from.
func (p *ParentIndex) Order() []NodeID {
	return append([]NodeID(nil), p.order...)
}

func (p *ParentIndex) contains(id NodeID) bool {
	return id >= 0 && int(id) < len(p.visited) && p.visited[id]
}
