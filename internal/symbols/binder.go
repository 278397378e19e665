package symbols

import (
	"strings"

	"github.com/jward/cppmodel/internal/ast"
)

// Bind builds the scope tree of one translation unit from its AST and
// returns the global scope. The tree is traversed once; scopes are pushed
// in PreVisit and popped in PostVisit.
func Bind(file string, tree *ast.Tree) *Scope {
	global := NewScope(ScopeGlobal, "", nil)
	global.File = file
	if tree == nil {
		return global
	}
	if root, ok := tree.Node(tree.Root); ok {
		global.Span = root.Span
		global.Node = tree.Root
	}

	b := &binder{file: file, tree: tree, stack: []*Scope{global}, pushed: make(map[ast.NodeID]bool)}
	ast.Walk(tree, ast.Visitor{PreVisit: b.preVisit, PostVisit: b.postVisit})
	return global
}

type binder struct {
	file   string
	tree   *ast.Tree
	stack  []*Scope
	pushed map[ast.NodeID]bool
}

func (b *binder) current() *Scope { return b.stack[len(b.stack)-1] }

// declaring returns the scope a declaration's name lands in: template
// scopes only hold template parameters.
func (b *binder) declaring() *Scope {
	for i := len(b.stack) - 1; i >= 0; i-- {
		if b.stack[i].Kind != ScopeTemplate {
			return b.stack[i]
		}
	}
	return b.stack[0]
}

// templateParams returns the parameters of the template scope directly
// wrapping the declaration being visited.
func (b *binder) templateParams() []string {
	cur := b.current()
	if cur.Kind != ScopeTemplate {
		return nil
	}
	var names []string
	for _, s := range cur.Symbols {
		names = append(names, s.Name)
	}
	return names
}

func (b *binder) push(id ast.NodeID, s *Scope) {
	b.stack = append(b.stack, s)
	b.pushed[id] = true
}

func (b *binder) newSymbol(id ast.NodeID, n *ast.Node, kind SymbolKind) *Symbol {
	return &Symbol{
		Name:   n.Name,
		Kind:   kind,
		File:   b.file,
		Line:   n.Span.StartLine,
		Column: n.Span.StartCol,
		Node:   id,
	}
}

func (b *binder) newScope(id ast.NodeID, n *ast.Node, kind ScopeKind, name string) *Scope {
	s := NewScope(kind, name, b.current())
	s.Span = n.Span
	s.Node = id
	return s
}

func (b *binder) preVisit(id ast.NodeID, n *ast.Node) bool {
	switch n.Kind {
	case ast.KindNamespace:
		sym := b.newSymbol(id, n, KindNamespace)
		b.declaring().Add(sym)
		scope := b.newScope(id, n, ScopeNamespace, n.Name)
		scope.Owner = sym
		sym.Members = scope
		b.push(id, scope)

	case ast.KindClass:
		kind := KindClass
		switch {
		case n.Flags.Has(ast.FlagUnion):
			kind = KindUnion
		case n.Flags.Has(ast.FlagStruct):
			kind = KindStruct
		}
		sym := b.newSymbol(id, n, kind)
		sym.Type.Spelling = n.Name
		sym.TemplateParams = b.templateParams()
		b.declaring().Add(sym)
		if !n.Flags.Has(ast.FlagDefinition) {
			return false
		}
		scope := b.newScope(id, n, ScopeClass, n.Name)
		scope.Owner = sym
		scope.Bases = append([]string(nil), n.Bases...)
		sym.Members = scope
		b.push(id, scope)

	case ast.KindEnum:
		b.bindEnum(id, n)
		return false

	case ast.KindFunction:
		return b.bindFunction(id, n)

	case ast.KindDeclaration:
		if n.Name == "" {
			return true
		}
		sym := b.newSymbol(id, n, KindVariable)
		sym.Type = Type{
			Spelling: n.Type,
			Const:    n.Flags.Has(ast.FlagConst),
			Static:   n.Flags.Has(ast.FlagStatic),
		}
		b.declaring().Add(sym)

	case ast.KindTypedef:
		sym := b.newSymbol(id, n, KindTypedef)
		sym.Type.Spelling = n.Type
		sym.TemplateParams = b.templateParams()
		b.declaring().Add(sym)

	case ast.KindUsing:
		if n.Flags.Has(ast.FlagUsingDirective) {
			cur := b.declaring()
			cur.Usings = append(cur.Usings, n.Name)
			return false
		}
		name := n.Name
		if i := strings.LastIndex(name, "::"); i >= 0 {
			name = name[i+2:]
		}
		if name == "" {
			return false
		}
		sym := b.newSymbol(id, n, KindTypedef)
		sym.Name = name
		sym.Type.Spelling = n.Name
		b.declaring().Add(sym)

	case ast.KindDefine:
		sym := b.newSymbol(id, n, KindMacro)
		b.stack[0].Add(sym)

	case ast.KindTemplate:
		scope := b.newScope(id, n, ScopeTemplate, "")
		for _, p := range n.TemplateParams {
			scope.Add(&Symbol{
				Name:   p,
				Kind:   KindTemplateParam,
				File:   b.file,
				Line:   n.Span.StartLine,
				Column: n.Span.StartCol,
				Node:   id,
			})
		}
		b.push(id, scope)

	case ast.KindBlock:
		b.push(id, b.newScope(id, n, ScopeBlock, ""))
	}
	return true
}

func (b *binder) postVisit(id ast.NodeID, _ *ast.Node) {
	if b.pushed[id] {
		b.stack = b.stack[:len(b.stack)-1]
		delete(b.pushed, id)
	}
}

func (b *binder) bindEnum(id ast.NodeID, n *ast.Node) {
	sym := b.newSymbol(id, n, KindEnum)
	sym.Type.Spelling = n.Name
	outer := b.declaring()
	if n.Name != "" {
		outer.Add(sym)
	}
	members := NewScope(ScopeEnum, n.Name, b.current())
	members.Span = n.Span
	members.Node = id
	members.Owner = sym
	sym.Members = members

	scoped := n.Flags.Has(ast.FlagStruct)
	for _, cid := range n.Children {
		c, ok := b.tree.Node(cid)
		if !ok || c.Kind != ast.KindEnumerator {
			continue
		}
		e := b.newSymbol(cid, c, KindEnumerator)
		e.Type.Spelling = n.Name
		members.Add(e)
		if !scoped {
			// Unscoped enumerators are also visible in the enclosing scope.
			alias := *e
			outer.Add(&alias)
		}
	}
}

func (b *binder) bindFunction(id ast.NodeID, n *ast.Node) bool {
	qualifier, name := splitQualified(n.Name)

	var params []*Symbol
	var paramTypes []string
	for _, cid := range n.Children {
		c, ok := b.tree.Node(cid)
		if !ok || c.Kind != ast.KindParameter {
			continue
		}
		paramTypes = append(paramTypes, c.Type)
		if c.Name == "" {
			continue
		}
		p := b.newSymbol(cid, c, KindParameter)
		p.Type.Spelling = c.Type
		params = append(params, p)
	}

	typ := Type{
		Spelling:    n.Type,
		Function:    true,
		Virtual:     n.Flags.Has(ast.FlagVirtual),
		PureVirtual: n.Flags.Has(ast.FlagPureVirtual),
		Const:       n.Flags.Has(ast.FlagConst),
		Static:      n.Flags.Has(ast.FlagStatic),
		Params:      paramTypes,
	}

	var sym *Symbol
	// Lambdas have no name and declare nothing.
	if qualifier == "" && name != "" {
		sym = b.newSymbol(id, n, KindFunction)
		sym.Name = name
		sym.Type = typ
		sym.TemplateParams = b.templateParams()
		b.declaring().Add(sym)
	}

	if !n.Flags.Has(ast.FlagDefinition) {
		return false
	}

	scope := b.newScope(id, n, ScopeFunction, name)
	scope.Qualifier = qualifier
	scope.Owner = sym
	if sym != nil {
		sym.Members = scope
	}
	for _, p := range params {
		scope.Add(p)
	}
	b.push(id, scope)
	return true
}

// splitQualified splits "A::B::f" into ("A::B", "f"). Template arguments in
// the qualifier are dropped ("Box<T>::get" gives "Box").
func splitQualified(name string) (string, string) {
	i := strings.LastIndex(name, "::")
	if i < 0 {
		return "", name
	}
	return StripTemplateArgs(name[:i]), name[i+2:]
}

// StripTemplateArgs removes every balanced <...> group from a spelling.
func StripTemplateArgs(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	var sb strings.Builder
	depth := 0
	for _, r := range s {
		switch {
		case r == '<':
			depth++
		case r == '>' && depth > 0:
			depth--
		case depth == 0:
			sb.WriteRune(r)
		}
	}
	return strings.TrimSpace(sb.String())
}
