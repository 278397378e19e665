// Package symbols is the semantic layer of a Document: a tree of lexical
// scopes, each owning the declarations introduced in it.
package symbols

import (
	"strings"

	"github.com/jward/cppmodel/internal/ast"
)

// ScopeKind enumerates the scope categories lookup distinguishes.
type ScopeKind uint8

const (
	ScopeGlobal ScopeKind = iota
	ScopeNamespace
	ScopeClass
	ScopeFunction
	ScopeBlock
	ScopeTemplate
	ScopeEnum
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeGlobal:
		return "global"
	case ScopeNamespace:
		return "namespace"
	case ScopeClass:
		return "class"
	case ScopeFunction:
		return "function"
	case ScopeBlock:
		return "block"
	case ScopeTemplate:
		return "template"
	case ScopeEnum:
		return "enum"
	default:
		return "invalid"
	}
}

// SymbolKind classifies a declaration.
type SymbolKind uint8

const (
	KindVariable SymbolKind = iota
	KindParameter
	KindFunction
	KindClass
	KindStruct
	KindUnion
	KindEnum
	KindEnumerator
	KindNamespace
	KindTypedef
	KindTemplateParam
	KindMacro
)

var symbolKindNames = [...]string{
	KindVariable:      "variable",
	KindParameter:     "parameter",
	KindFunction:      "function",
	KindClass:         "class",
	KindStruct:        "struct",
	KindUnion:         "union",
	KindEnum:          "enum",
	KindEnumerator:    "enumerator",
	KindNamespace:     "namespace",
	KindTypedef:       "typedef",
	KindTemplateParam: "template_param",
	KindMacro:         "macro",
}

func (k SymbolKind) String() string {
	if int(k) < len(symbolKindNames) {
		return symbolKindNames[k]
	}
	return "unknown"
}

// Type is a best-effort rendering of a declared type. For functions,
// Spelling is the return type.
type Type struct {
	Spelling    string
	Function    bool
	Virtual     bool
	PureVirtual bool
	Const       bool
	Static      bool
	Params      []string
}

// IsVirtualFunction reports a function type marked virtual.
func (t Type) IsVirtualFunction() bool { return t.Function && t.Virtual }

// Symbol is a named declaration. It is owned by Scope and lives as long as
// the Document that produced it.
type Symbol struct {
	Name           string
	Kind           SymbolKind
	Type           Type
	Scope          *Scope
	Members        *Scope
	TemplateParams []string
	File           string
	Line           int
	Column         int
	Node           ast.NodeID
}

// IsFunction reports whether the symbol is a function declaration.
func (s *Symbol) IsFunction() bool { return s.Kind == KindFunction || s.Type.Function }

// IsVirtual reports a virtual member function.
func (s *Symbol) IsVirtual() bool { return s.Type.IsVirtualFunction() }

// IsClass reports class, struct and union symbols.
func (s *Symbol) IsClass() bool {
	return s.Kind == KindClass || s.Kind == KindStruct || s.Kind == KindUnion
}

// IsTemplate reports whether the declaration has template parameters.
func (s *Symbol) IsTemplate() bool { return len(s.TemplateParams) > 0 }

// EnclosingClass returns the class scope the symbol is declared in, or nil.
func (s *Symbol) EnclosingClass() *Scope {
	if s.Scope != nil && s.Scope.Kind == ScopeClass {
		return s.Scope
	}
	return nil
}

// IsCtorOrDtorName reports whether the identifier matches its enclosing
// class's identifier, i.e. it names a constructor or destructor.
func (s *Symbol) IsCtorOrDtorName() bool {
	cls := s.EnclosingClass()
	if cls == nil || cls.Name == "" {
		return false
	}
	return strings.TrimPrefix(s.Name, "~") == cls.Name
}

// QualifiedName joins the names of enclosing named scopes with "::".
func (s *Symbol) QualifiedName() string {
	if s.Scope == nil {
		return s.Name
	}
	prefix := s.Scope.QualifiedName()
	if prefix == "" {
		return s.Name
	}
	return prefix + "::" + s.Name
}

// Scope is one node of a Document's scope tree.
type Scope struct {
	Kind     ScopeKind
	Name     string
	Parent   *Scope
	Owner    *Symbol
	Symbols  []*Symbol
	Children []*Scope

	// Bases lists base class spellings for class scopes.
	Bases []string
	// Usings lists namespaces named by using-directives in this scope.
	Usings []string
	// Qualifier is the class path of an out-of-line member function
	// ("Outer::Inner" for "void Outer::Inner::f() {}").
	Qualifier string

	File string
	Span ast.Span
	Node ast.NodeID

	byName map[string][]*Symbol
}

// NewScope creates a scope nested in parent (nil for a global scope).
func NewScope(kind ScopeKind, name string, parent *Scope) *Scope {
	s := &Scope{Kind: kind, Name: name, Parent: parent, Node: ast.NoNode}
	if parent != nil {
		s.File = parent.File
		parent.Children = append(parent.Children, s)
	}
	return s
}

// Add declares sym in s.
func (s *Scope) Add(sym *Symbol) {
	sym.Scope = s
	s.Symbols = append(s.Symbols, sym)
	if s.byName == nil {
		s.byName = make(map[string][]*Symbol)
	}
	s.byName[sym.Name] = append(s.byName[sym.Name], sym)
}

// Find returns the symbols declared directly in s with the given name, in
// declaration order.
func (s *Scope) Find(name string) []*Symbol {
	if s == nil {
		return nil
	}
	return s.byName[name]
}

// IsNamespaceLike reports global and namespace scopes.
func (s *Scope) IsNamespaceLike() bool {
	return s.Kind == ScopeGlobal || s.Kind == ScopeNamespace
}

// QualifiedName joins the names of s and its enclosing named scopes.
// Function, block and template scopes contribute nothing.
func (s *Scope) QualifiedName() string {
	var parts []string
	for cur := s; cur != nil; cur = cur.Parent {
		if (cur.Kind == ScopeNamespace || cur.Kind == ScopeClass || cur.Kind == ScopeEnum) && cur.Name != "" {
			parts = append(parts, cur.Name)
		}
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "::")
}

// Global returns the root of the scope chain.
func (s *Scope) Global() *Scope {
	cur := s
	for cur.Parent != nil {
		cur = cur.Parent
	}
	return cur
}

// EnclosingClass returns the innermost class scope at or above s.
func (s *Scope) EnclosingClass() *Scope {
	for cur := s; cur != nil; cur = cur.Parent {
		if cur.Kind == ScopeClass {
			return cur
		}
	}
	return nil
}

// EnclosingFunction returns the innermost function scope at or above s.
func (s *Scope) EnclosingFunction() *Scope {
	for cur := s; cur != nil; cur = cur.Parent {
		if cur.Kind == ScopeFunction {
			return cur
		}
	}
	return nil
}

// ScopeAt returns the innermost scope under s whose span contains the
// 0-based position. s itself is returned when no child matches.
func (s *Scope) ScopeAt(line, col int) *Scope {
	for _, c := range s.Children {
		if c.Span.Contains(line, col) {
			return c.ScopeAt(line, col)
		}
	}
	return s
}

// Walk visits s and all nested scopes in pre-order.
func (s *Scope) Walk(fn func(*Scope)) {
	fn(s)
	for _, c := range s.Children {
		c.Walk(fn)
	}
}
