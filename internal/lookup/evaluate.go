package lookup

import (
	"strings"

	"github.com/jward/cppmodel/internal/symbols"
)

// TypeOfExpression evaluates textual expressions against a Context.
type TypeOfExpression struct {
	ctx *Context
}

// NewTypeOfExpression returns an evaluator bound to ctx.
func NewTypeOfExpression(ctx *Context) *TypeOfExpression {
	return &TypeOfExpression{ctx: ctx}
}

// Evaluate resolves expr as written in scope and returns the candidate
// bindings of its final component, innermost first. Malformed text and
// unknown names yield an empty, non-nil result.
func (t *TypeOfExpression) Evaluate(expr string, scope *symbols.Scope, mode Mode) []Item {
	if t == nil || t.ctx == nil || scope == nil {
		return []Item{}
	}
	x, err := parseExpression(expr)
	if err != nil {
		return []Item{}
	}
	e := &evaluator{ctx: t.ctx, mode: mode}
	items := dedupe(e.eval(x, scope))
	if items == nil {
		return []Item{}
	}
	return items
}

// MatchesFor evaluates expr in Preprocess mode.
func (t *TypeOfExpression) MatchesFor(expr string, scope *symbols.Scope) []Item {
	return t.Evaluate(expr, scope, Preprocess)
}

// evaluator carries the state of one evaluation. depth bounds recursion
// through typedefs, base classes and decltype.
type evaluator struct {
	ctx   *Context
	mode  Mode
	depth int
	// resolving holds the using-directives being resolved; a directive
	// is invisible while its own name is looked up.
	resolving map[directive]bool
}

type directive struct {
	scope    *symbols.Scope
	spelling string
}

func (e *evaluator) unqualified(name string, scope *symbols.Scope) []Item {
	for level := scope; level != nil; level = level.Parent {
		if items := e.lookupLevel(level, name); len(items) > 0 {
			return dedupe(items)
		}
	}
	return nil
}

func (e *evaluator) eval(x *expr, scope *symbols.Scope) []Item {
	switch x.kind {
	case exprName:
		return e.pathItems(x.parts, x.global, scope, nil)

	case exprThis:
		cls := e.thisClass(scope)
		if cls == nil {
			return nil
		}
		return []Item{{
			Declaration: cls.Owner,
			Type:        symbols.Type{Spelling: cls.Name + "*"},
			Scope:       cls,
			ref:         typeRef{direct: cls, pointer: 1},
		}}

	case exprCall:
		var out []Item
		for _, it := range e.eval(x.base, scope) {
			out = append(out, e.callResult(it)...)
		}
		return out

	case exprIndex:
		var out []Item
		for _, it := range e.eval(x.base, scope) {
			out = append(out, e.elementResult(it, "operator[]")...)
		}
		return out

	case exprDeref:
		var out []Item
		for _, it := range e.eval(x.base, scope) {
			out = append(out, e.elementResult(it, "operator*")...)
		}
		return out

	case exprAddr:
		var out []Item
		for _, it := range e.eval(x.base, scope) {
			it.Declaration = nil
			it.Type.Spelling += "*"
			it.ref.pointer++
			out = append(out, it)
		}
		return out

	case exprMember, exprArrow:
		var out []Item
		for _, it := range e.eval(x.base, scope) {
			var ts []target
			if x.kind == exprArrow {
				ts = e.arrowTargets(it)
			} else {
				ts = e.valueTargets(it)
			}
			for _, t := range ts {
				items := e.members(t, x.member.name)
				out = append(out, e.applyArgs(items, x.member, scope, nil)...)
			}
		}
		return out
	}
	return nil
}

// thisClass returns the class scope "this" refers to in scope: the
// enclosing class, or the class qualifying an out-of-line definition.
func (e *evaluator) thisClass(scope *symbols.Scope) *symbols.Scope {
	for cur := scope; cur != nil; cur = cur.Parent {
		switch cur.Kind {
		case symbols.ScopeClass:
			return cur
		case symbols.ScopeFunction:
			if cur.Qualifier == "" {
				continue
			}
			parts, global, ok := splitPath(cur.Qualifier)
			if !ok {
				return nil
			}
			for _, t := range e.pathTargets(parts, global, cur.Parent) {
				if t.scope.Kind == symbols.ScopeClass {
					return t.scope
				}
			}
			return nil
		}
	}
	return nil
}

// pathItems resolves a qualified name. Template arguments on a component
// bind the parameters of the template it names.
func (e *evaluator) pathItems(parts []namePart, global bool, from *symbols.Scope, bindings map[string]Binding) []Item {
	if len(parts) == 0 {
		return nil
	}
	var items []Item
	var ts []target
	i := 0
	switch {
	case global:
		ts = []target{{scope: from.Global()}}
	case len(parts) > 1 && hasBinding(bindings, parts[0].name) && e.mode == Preprocess:
		b := bindings[parts[0].name]
		ts = e.targets(typeRef{spelling: b.Spelling, scope: b.Scope})
		i = 1
	default:
		items = e.applyArgs(e.unqualified(parts[0].name, from), parts[0], from, bindings)
		i = 1
		if len(parts) == 1 {
			return items
		}
		ts = e.itemTargets(items)
	}
	for ; i < len(parts); i++ {
		items = nil
		for _, t := range ts {
			items = append(items, e.members(t, parts[i].name)...)
		}
		items = e.applyArgs(dedupe(items), parts[i], from, bindings)
		if i == len(parts)-1 {
			break
		}
		ts = e.itemTargets(items)
	}
	return items
}

// pathTargets resolves a qualified name to the scopes it denotes.
func (e *evaluator) pathTargets(parts []namePart, global bool, from *symbols.Scope) []target {
	return e.itemTargets(e.pathItems(parts, global, from, nil))
}

// applyArgs binds template arguments written after a name to the template
// parameters of each candidate.
func (e *evaluator) applyArgs(items []Item, part namePart, from *symbols.Scope, outer map[string]Binding) []Item {
	if len(part.args) == 0 || e.mode != Preprocess {
		return items
	}
	for i := range items {
		decl := items[i].Declaration
		if decl == nil || !decl.IsTemplate() {
			continue
		}
		items[i].Bindings = merge(items[i].Bindings, e.bind(decl.TemplateParams, part.args, from, outer))
	}
	return items
}

func (e *evaluator) bind(params, args []string, scope *symbols.Scope, outer map[string]Binding) map[string]Binding {
	if e.mode != Preprocess || len(params) == 0 {
		return nil
	}
	out := make(map[string]Binding, len(params))
	for i, p := range params {
		if i >= len(args) {
			break
		}
		a := args[i]
		if ob, ok := outer[a]; ok {
			out[p] = ob
			continue
		}
		out[p] = Binding{Spelling: a, Scope: scope}
	}
	return out
}

func merge(a, b map[string]Binding) map[string]Binding {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	out := make(map[string]Binding, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func hasBinding(bindings map[string]Binding, name string) bool {
	_, ok := bindings[name]
	return ok
}

// itemTargets returns the scopes named by type-like candidates.
func (e *evaluator) itemTargets(items []Item) []target {
	var out []target
	seenNS := map[string]bool{}
	seen := map[*symbols.Scope]bool{}
	for _, it := range items {
		if it.Declaration == nil {
			continue
		}
		for _, t := range e.symbolTargets(it.Declaration, it.Bindings) {
			if t.scope.IsNamespaceLike() {
				q := t.scope.QualifiedName()
				if seenNS[q] {
					continue
				}
				seenNS[q] = true
			} else if seen[t.scope] && len(t.bindings) == 0 {
				continue
			}
			seen[t.scope] = true
			out = append(out, t)
		}
	}
	return out
}

// symbolTargets returns the member scopes of a namespace, class or enum
// symbol, following typedefs and bound template parameters.
func (e *evaluator) symbolTargets(sym *symbols.Symbol, bindings map[string]Binding) []target {
	switch {
	case sym.Kind == symbols.KindNamespace:
		if sym.Members != nil {
			return []target{{scope: sym.Members}}
		}
	case sym.IsClass():
		if sym.Members != nil {
			return []target{{scope: sym.Members, bindings: bindings}}
		}
		var out []target
		for _, def := range e.ctx.classDefinitions(sym.QualifiedName()) {
			out = append(out, target{scope: def.Members, bindings: bindings})
		}
		return out
	case sym.Kind == symbols.KindEnum:
		if sym.Members != nil {
			return []target{{scope: sym.Members}}
		}
	case sym.Kind == symbols.KindTypedef:
		return e.targets(typeRef{spelling: sym.Type.Spelling, scope: sym.Scope, bindings: bindings})
	case sym.Kind == symbols.KindTemplateParam:
		if b, ok := bindings[sym.Name]; ok && e.mode == Preprocess {
			return e.targets(typeRef{spelling: b.Spelling, scope: b.Scope})
		}
	}
	return nil
}

func isTypeLike(sym *symbols.Symbol) bool {
	switch sym.Kind {
	case symbols.KindClass, symbols.KindStruct, symbols.KindUnion, symbols.KindEnum,
		symbols.KindTypedef, symbols.KindNamespace, symbols.KindTemplateParam:
		return true
	}
	return false
}

// valueTargets returns the scopes whose members a "." access on it sees.
func (e *evaluator) valueTargets(it Item) []target {
	if it.Declaration != nil && isTypeLike(it.Declaration) {
		return e.symbolTargets(it.Declaration, it.Bindings)
	}
	return e.targets(it.ref)
}

// arrowTargets returns the scopes a "->" access on it sees: the pointee
// for pointers, otherwise whatever operator-> returns. Standard smart
// pointers are recognized by name when their definition is not indexed.
func (e *evaluator) arrowTargets(it Item) []target {
	if it.ref.direct != nil || it.ref.pointer+pointerDepth(it.ref.spelling) > 0 {
		return e.valueTargets(it)
	}
	var out []target
	for _, t := range e.valueTargets(it) {
		for _, op := range e.classMembers(t, "operator->", map[*symbols.Scope]bool{}) {
			for _, r := range e.callResult(op) {
				out = append(out, e.targets(r.ref)...)
			}
		}
	}
	if len(out) > 0 {
		return out
	}
	base, args := splitTemplate(stripType(it.ref.spelling))
	if isSmartPointer(base) && len(args) > 0 {
		return e.targets(typeRef{spelling: args[0], scope: it.ref.scope, bindings: it.ref.bindings})
	}
	return e.valueTargets(it)
}

func isSmartPointer(name string) bool {
	name = strings.TrimPrefix(name, "::")
	name = strings.TrimPrefix(name, "std::")
	switch name {
	case "unique_ptr", "shared_ptr", "weak_ptr", "auto_ptr":
		return true
	}
	return false
}

// callResult is the value produced by calling it: a function's return
// type, a constructed object for a type name, or operator() of an object.
func (e *evaluator) callResult(it Item) []Item {
	decl := it.Declaration
	switch {
	case decl != nil && decl.IsFunction():
		typ := symbols.Type{Spelling: decl.Type.Spelling}
		if e.mode == Preprocess && len(it.Bindings) > 0 {
			typ.Spelling = substitute(typ.Spelling, it.Bindings)
		}
		return []Item{{
			Type:     typ,
			Scope:    it.Scope,
			Bindings: it.Bindings,
			ref:      typeRef{spelling: decl.Type.Spelling, scope: decl.Scope, bindings: it.Bindings},
		}}
	case decl != nil && isTypeLike(decl):
		ts := e.symbolTargets(decl, it.Bindings)
		out := make([]Item, 0, len(ts))
		for _, t := range ts {
			out = append(out, Item{
				Type:     symbols.Type{Spelling: decl.Name},
				Scope:    it.Scope,
				Bindings: t.bindings,
				ref:      typeRef{direct: t.scope, bindings: t.bindings},
			})
		}
		return out
	}
	if e.depth > maxDepth {
		return nil
	}
	e.depth++
	defer func() { e.depth-- }()
	var out []Item
	for _, t := range e.valueTargets(it) {
		for _, op := range e.classMembers(t, "operator()", map[*symbols.Scope]bool{}) {
			out = append(out, e.callResult(op)...)
		}
	}
	return out
}

// elementResult is the value of it[...] or *it: one pointer level
// stripped, or the result of the class's operator.
func (e *evaluator) elementResult(it Item, op string) []Item {
	if it.ref.pointer > 0 {
		it.Declaration = nil
		it.ref.pointer--
		it.Type.Spelling = stripOne(it.Type.Spelling)
		return []Item{it}
	}
	if it.ref.direct == nil && pointerDepth(it.ref.spelling) > 0 {
		it.Declaration = nil
		it.ref.spelling = stripOne(it.ref.spelling)
		it.Type.Spelling = stripOne(it.Type.Spelling)
		return []Item{it}
	}
	if e.depth > maxDepth {
		return nil
	}
	e.depth++
	defer func() { e.depth-- }()
	var out []Item
	for _, t := range e.valueTargets(it) {
		for _, m := range e.classMembers(t, op, map[*symbols.Scope]bool{}) {
			out = append(out, e.callResult(m)...)
		}
	}
	return out
}

// targets resolves a type reference to the scopes of the type it names.
func (e *evaluator) targets(ref typeRef) []target {
	if ref.direct != nil {
		return []target{{scope: ref.direct, bindings: ref.bindings}}
	}
	if ref.scope == nil || e.depth > maxDepth {
		return nil
	}
	e.depth++
	defer func() { e.depth-- }()

	spelling := stripType(ref.spelling)
	if spelling == "" || spelling == "auto" {
		return nil
	}
	if inner, ok := decltypeArg(spelling); ok {
		x, err := parseExpression(inner)
		if err != nil {
			return nil
		}
		var out []target
		for _, it := range e.eval(x, ref.scope) {
			out = append(out, e.valueTargets(it)...)
		}
		return out
	}
	if b, ok := ref.bindings[spelling]; ok && e.mode == Preprocess {
		return e.targets(typeRef{spelling: b.Spelling, scope: b.Scope})
	}
	parts, global, ok := splitPath(spelling)
	if !ok {
		return nil
	}
	var out []target
	for _, it := range e.pathItems(parts, global, ref.scope, ref.bindings) {
		if it.Declaration == nil || !isTypeLike(it.Declaration) {
			continue
		}
		out = append(out, e.symbolTargets(it.Declaration, merge(ref.bindings, it.Bindings))...)
	}
	return out
}

func decltypeArg(s string) (string, bool) {
	if !strings.HasPrefix(s, "decltype(") || !strings.HasSuffix(s, ")") {
		return "", false
	}
	return s[len("decltype(") : len(s)-1], true
}

// typePrefixes are specifiers that do not affect which scope a type names.
var typePrefixes = []string{
	"const ", "volatile ", "typename ", "struct ", "class ", "union ", "enum ",
	"mutable ", "static ", "constexpr ", "inline ", "extern ",
}

// stripType removes cv-qualifiers, elaborated type keywords and pointer,
// reference and array decorations.
func stripType(s string) string {
	s = strings.TrimSpace(s)
	for trimmed := true; trimmed; {
		trimmed = false
		for _, p := range typePrefixes {
			if strings.HasPrefix(s, p) {
				s = strings.TrimSpace(s[len(p):])
				trimmed = true
			}
		}
	}
	for {
		switch {
		case strings.HasSuffix(s, "*"), strings.HasSuffix(s, "&"):
			s = strings.TrimSpace(s[:len(s)-1])
		case strings.HasSuffix(s, "[]"):
			s = strings.TrimSpace(s[:len(s)-2])
		case strings.HasSuffix(s, " const"):
			s = strings.TrimSpace(s[:len(s)-len(" const")])
		default:
			return s
		}
	}
}

// pointerDepth counts trailing pointer and array levels.
func pointerDepth(s string) int {
	s = strings.TrimSpace(s)
	depth := 0
	for {
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "const"))
		switch {
		case strings.HasSuffix(s, "&"):
			s = s[:len(s)-1]
		case strings.HasSuffix(s, "*"):
			s = s[:len(s)-1]
			depth++
		case strings.HasSuffix(s, "[]"):
			s = s[:len(s)-2]
			depth++
		default:
			return depth
		}
	}
}

// stripOne removes one pointer or array level.
func stripOne(s string) string {
	s = strings.TrimSpace(s)
	for strings.HasSuffix(s, "&") {
		s = strings.TrimSpace(s[:len(s)-1])
	}
	switch {
	case strings.HasSuffix(s, "*"):
		return strings.TrimSpace(s[:len(s)-1])
	case strings.HasSuffix(s, "[]"):
		return strings.TrimSpace(s[:len(s)-2])
	}
	return s
}

// splitTemplate splits "ns::Box<int,Foo>" into "ns::Box" and its top-level
// arguments. Only the outermost argument list of the last component is
// split.
func splitTemplate(s string) (string, []string) {
	open := strings.IndexByte(s, '<')
	if open < 0 || !strings.HasSuffix(s, ">") {
		return s, nil
	}
	var args []string
	depth, start := 0, open+1
	for i := open + 1; i < len(s)-1; i++ {
		switch s[i] {
		case '<', '(', '[':
			depth++
		case '>', ')', ']':
			depth--
		case ',':
			if depth == 0 {
				args = append(args, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if last := strings.TrimSpace(s[start : len(s)-1]); last != "" {
		args = append(args, last)
	}
	return s[:open], args
}

// substitute replaces template parameter names in a type spelling by the
// arguments bound to them. Names qualified by another scope are kept.
func substitute(s string, bindings map[string]Binding) string {
	if len(bindings) == 0 {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); {
		if !isIdentStart(s[i]) || (i > 0 && isIdentPart(s[i-1])) {
			sb.WriteByte(s[i])
			i++
			continue
		}
		j := i + 1
		for j < len(s) && isIdentPart(s[j]) {
			j++
		}
		word := s[i:j]
		qualified := i >= 2 && s[i-2:i] == "::"
		if b, ok := bindings[word]; ok && !qualified {
			sb.WriteString(b.Spelling)
		} else {
			sb.WriteString(word)
		}
		i = j
	}
	return sb.String()
}
