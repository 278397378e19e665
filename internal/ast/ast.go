// Package ast holds the arena representation of one parsed C++ translation
// unit. Nodes live in a single slice and are addressed by NodeID, so derived
// indexes (parents, paths) are plain slices sized to the arena.
package ast

import "fmt"

// NodeID addresses a node inside a Tree's arena.
type NodeID int32

// NoNode is the zero-parent marker and the "not found" NodeID.
const NoNode NodeID = -1

// Kind is the closed set of node variants produced by the parser.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindTranslationUnit
	KindInclude
	KindDefine
	KindNamespace
	KindClass
	KindEnum
	KindEnumerator
	KindFunction
	KindParameter
	KindDeclaration
	KindTypedef
	KindUsing
	KindTemplate
	KindBlock
	KindStatement
)

var kindNames = [...]string{
	KindInvalid:         "invalid",
	KindTranslationUnit: "translation_unit",
	KindInclude:         "include",
	KindDefine:          "define",
	KindNamespace:       "namespace",
	KindClass:           "class",
	KindEnum:            "enum",
	KindEnumerator:      "enumerator",
	KindFunction:        "function",
	KindParameter:       "parameter",
	KindDeclaration:     "declaration",
	KindTypedef:         "typedef",
	KindUsing:           "using",
	KindTemplate:        "template",
	KindBlock:           "block",
	KindStatement:       "statement",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Flags carry declaration specifiers the binder needs.
type Flags uint16

const (
	FlagVirtual Flags = 1 << iota
	FlagPureVirtual
	FlagStatic
	FlagConst
	FlagStruct
	FlagUnion
	FlagSystemInclude
	FlagDefinition
	FlagUsingDirective
)

// Has reports whether all bits of f are set.
func (fl Flags) Has(f Flags) bool { return fl&f == f }

// Span is a 0-based source range.
type Span struct {
	StartLine int
	StartCol  int
	EndLine   int
	EndCol    int
}

// Contains reports whether the 0-based position falls within the span.
func (s Span) Contains(line, col int) bool {
	if line < s.StartLine || line > s.EndLine {
		return false
	}
	if line == s.StartLine && col < s.StartCol {
		return false
	}
	if line == s.EndLine && col > s.EndCol {
		return false
	}
	return true
}

// Node is one tagged AST variant. Which fields are meaningful depends on Kind:
//
//   - Name: declared identifier (possibly qualified, e.g. "Foo::bar"),
//     include spelling, macro name or using target.
//   - Type: declared type spelling; for functions the return type.
//   - Bases: base class spellings of a KindClass.
//   - TemplateParams: parameter names of a KindTemplate.
type Node struct {
	Kind           Kind
	Name           string
	Type           string
	Flags          Flags
	Bases          []string
	TemplateParams []string
	Span           Span
	Children       []NodeID
}

// Tree is an immutable arena of nodes rooted at Root.
type Tree struct {
	nodes []Node
	Root  NodeID
}

// Builder appends nodes to a Tree arena. It is not safe for concurrent use.
type Builder struct {
	tree *Tree
}

// NewBuilder starts an arena whose root is a translation unit spanning span.
func NewBuilder(span Span) *Builder {
	b := &Builder{tree: &Tree{}}
	b.tree.Root = b.Add(NoNode, Node{Kind: KindTranslationUnit, Span: span})
	return b
}

// Add appends n under parent (NoNode for a detached root) and returns its ID.
func (b *Builder) Add(parent NodeID, n Node) NodeID {
	id := NodeID(len(b.tree.nodes))
	n.Children = nil
	b.tree.nodes = append(b.tree.nodes, n)
	if parent != NoNode {
		p := &b.tree.nodes[parent]
		p.Children = append(p.Children, id)
	}
	return id
}

// Root returns the translation unit ID.
func (b *Builder) Root() NodeID { return b.tree.Root }

// Tree finishes the build. The Builder must not be used afterwards.
func (b *Builder) Tree() *Tree {
	t := b.tree
	b.tree = nil
	return t
}

// Len returns the number of nodes in the arena.
func (t *Tree) Len() int { return len(t.nodes) }

// Node returns the node for id. ok is false for IDs outside the arena.
func (t *Tree) Node(id NodeID) (*Node, bool) {
	if id < 0 || int(id) >= len(t.nodes) {
		return nil, false
	}
	return &t.nodes[id], true
}

// At returns the deepest node whose span contains the 0-based position,
// or NoNode when the position is outside the tree.
func (t *Tree) At(line, col int) NodeID {
	found := NoNode
	Walk(t, Visitor{
		PreVisit: func(id NodeID, n *Node) bool {
			if !n.Span.Contains(line, col) {
				return false
			}
			found = id
			return true
		},
	})
	return found
}
