package lookup

import (
	"sync"

	"github.com/jward/cppmodel/internal/snapshot"
	"github.com/jward/cppmodel/internal/symbols"
)

// maxDepth bounds typedef chains, base-class recursion through templates
// and decltype evaluation.
const maxDepth = 16

// Context resolves names as seen from one Document of one Snapshot: the
// Document itself plus everything it transitively includes. A Context is
// tied to its Snapshot and is safe for concurrent use.
type Context struct {
	snap    *snapshot.Snapshot
	doc     *snapshot.Document
	visible []*snapshot.Document

	indexOnce  sync.Once
	namespaces map[string][]*symbols.Scope
	classes    map[string][]*symbols.Symbol
	indexed    map[*symbols.Scope]bool
}

// NewContext returns a lookup context for doc. Included documents come
// first in breadth-first include order, doc itself last, matching the
// order in which their declarations precede doc's own.
func NewContext(snap *snapshot.Snapshot, doc *snapshot.Document) *Context {
	c := &Context{snap: snap, doc: doc}
	if doc == nil {
		return c
	}
	seen := map[string]bool{doc.Path: true}
	queue := doc.IncludedFiles()
	for len(queue) > 0 {
		path := queue[0]
		queue = queue[1:]
		if seen[path] {
			continue
		}
		seen[path] = true
		inc, ok := snap.Document(path)
		if !ok {
			continue
		}
		c.visible = append(c.visible, inc)
		queue = append(queue, inc.IncludedFiles()...)
	}
	c.visible = append(c.visible, doc)
	return c
}

// Document returns the Document the context was created for.
func (c *Context) Document() *snapshot.Document { return c.doc }

// Snapshot returns the Snapshot the context reads from.
func (c *Context) Snapshot() *snapshot.Snapshot { return c.snap }

// Visible returns the documents whose declarations are visible.
func (c *Context) Visible() []*snapshot.Document {
	return append([]*snapshot.Document(nil), c.visible...)
}

// index collects every namespace re-opening and every class definition
// across the visible documents, keyed by qualified name.
func (c *Context) index() {
	c.indexOnce.Do(func() {
		c.namespaces = make(map[string][]*symbols.Scope)
		c.classes = make(map[string][]*symbols.Symbol)
		c.indexed = make(map[*symbols.Scope]bool)
		for _, d := range c.visible {
			if d.Global == nil {
				continue
			}
			d.Global.Walk(func(s *symbols.Scope) {
				if s.IsNamespaceLike() {
					q := s.QualifiedName()
					c.namespaces[q] = append(c.namespaces[q], s)
					c.indexed[s] = true
				}
				for _, sym := range s.Symbols {
					if sym.IsClass() && sym.Members != nil {
						q := sym.QualifiedName()
						c.classes[q] = append(c.classes[q], sym)
					}
				}
			})
		}
	})
}

// namespaceScopes returns every scope of the namespace with qualified name
// q ("" is the global namespace) in visible order.
func (c *Context) namespaceScopes(q string) []*symbols.Scope {
	c.index()
	return c.namespaces[q]
}

// classDefinitions returns the defining symbols of the class with
// qualified name q.
func (c *Context) classDefinitions(q string) []*symbols.Symbol {
	c.index()
	return c.classes[q]
}

// Lookup performs unqualified name lookup of name from scope. Levels are
// searched innermost first and the search stops at the first level that
// yields candidates:
//
//   - block, template and enum scopes: their own declarations
//   - function scopes: parameters, then for out-of-line member functions
//     the members of the qualifying class (including bases)
//   - class scopes: members, then members of base classes, depth first
//   - namespace and global scopes: the declarations of every visible
//     re-opening of that namespace
//
// Every level also follows its using-directives.
func (c *Context) Lookup(name string, scope *symbols.Scope) []Item {
	return c.lookup(name, scope, Normal)
}

func (c *Context) lookup(name string, scope *symbols.Scope, mode Mode) []Item {
	if name == "" || scope == nil {
		return []Item{}
	}
	e := &evaluator{ctx: c, mode: mode}
	if items := e.unqualified(name, scope); len(items) > 0 {
		return items
	}
	return []Item{}
}

// isIndexed reports whether s belongs to one of the visible documents.
func (c *Context) isIndexed(s *symbols.Scope) bool {
	c.index()
	return c.indexed[s]
}

func (e *evaluator) lookupLevel(level *symbols.Scope, name string) []Item {
	var items []Item
	switch level.Kind {
	case symbols.ScopeGlobal, symbols.ScopeNamespace:
		visited := map[string]bool{}
		items = e.namespaceMembers(level.QualifiedName(), name, visited)
		if len(items) > 0 || e.ctx.isIndexed(level) {
			return items
		}
		// Scopes of documents outside the snapshot are searched directly.
		for _, s := range level.Find(name) {
			items = append(items, declItem(s, level, nil, e.mode))
		}
		if len(items) == 0 {
			items = e.usingMembers(level, name, visited)
		}
		return items
	case symbols.ScopeClass:
		items = e.classMembers(target{scope: level}, name, map[*symbols.Scope]bool{})
	case symbols.ScopeFunction:
		for _, s := range level.Find(name) {
			items = append(items, declItem(s, level, nil, e.mode))
		}
		if len(items) == 0 && level.Qualifier != "" {
			items = e.qualifierMembers(level, name)
		}
	default:
		for _, s := range level.Find(name) {
			items = append(items, declItem(s, level, nil, e.mode))
		}
	}
	if len(items) == 0 {
		items = e.usingMembers(level, name, map[string]bool{})
	}
	return items
}

// qualifierMembers searches the class (or namespace) named by an
// out-of-line definition's qualifier, then the namespaces enclosing it.
func (e *evaluator) qualifierMembers(fn *symbols.Scope, name string) []Item {
	parts, global, ok := splitPath(fn.Qualifier)
	if !ok {
		return nil
	}
	var items []Item
	for _, t := range e.pathTargets(parts, global, fn.Parent) {
		items = append(items, e.members(t, name)...)
		if len(items) > 0 {
			return items
		}
		for p := t.scope.Parent; p != nil && p.Kind == symbols.ScopeNamespace; p = p.Parent {
			items = append(items, e.namespaceMembers(p.QualifiedName(), name, map[string]bool{})...)
			if len(items) > 0 {
				return items
			}
		}
	}
	return items
}

// namespaceMembers looks name up in every re-opening of namespace q, then
// in namespaces nominated by their using-directives.
func (e *evaluator) namespaceMembers(q, name string, visited map[string]bool) []Item {
	if visited[q] {
		return nil
	}
	visited[q] = true
	scopes := e.ctx.namespaceScopes(q)
	var items []Item
	for _, s := range scopes {
		for _, sym := range s.Find(name) {
			items = append(items, declItem(sym, s, nil, e.mode))
		}
	}
	for _, s := range scopes {
		items = append(items, e.usingMembers(s, name, visited)...)
	}
	return items
}

// usingMembers follows the using-directives of one scope.
func (e *evaluator) usingMembers(s *symbols.Scope, name string, visited map[string]bool) []Item {
	var items []Item
	for _, u := range s.Usings {
		for _, ns := range e.resolveNamespace(u, s) {
			items = append(items, e.namespaceMembers(ns, name, visited)...)
		}
	}
	return items
}

// resolveNamespace returns the qualified names of the namespaces a
// using-directive written in s nominates.
func (e *evaluator) resolveNamespace(spelling string, s *symbols.Scope) []string {
	key := directive{scope: s, spelling: spelling}
	if e.resolving[key] {
		return nil
	}
	if e.resolving == nil {
		e.resolving = make(map[directive]bool)
	}
	e.resolving[key] = true
	defer delete(e.resolving, key)

	parts, global, ok := splitPath(spelling)
	if !ok {
		return nil
	}
	var out []string
	seen := map[string]bool{}
	for _, t := range e.pathTargets(parts, global, s) {
		if !t.scope.IsNamespaceLike() {
			continue
		}
		if q := t.scope.QualifiedName(); !seen[q] {
			seen[q] = true
			out = append(out, q)
		}
	}
	return out
}

// classMembers looks name up in a class and, depth first, in its bases.
// visited guards against cyclic or repeated inheritance.
func (e *evaluator) classMembers(t target, name string, visited map[*symbols.Scope]bool) []Item {
	if t.scope == nil || visited[t.scope] || e.depth > maxDepth {
		return nil
	}
	visited[t.scope] = true
	var items []Item
	for _, sym := range t.scope.Find(name) {
		items = append(items, declItem(sym, t.scope, t.bindings, e.mode))
	}
	e.depth++
	defer func() { e.depth-- }()
	for _, base := range t.scope.Bases {
		ref := typeRef{spelling: base, scope: baseScope(t.scope), bindings: t.bindings}
		for _, bt := range e.targets(ref) {
			if bt.scope.Kind != symbols.ScopeClass {
				continue
			}
			items = append(items, e.classMembers(bt, name, visited)...)
		}
	}
	return items
}

// baseScope is where base-class names of a class are resolved: the scope
// enclosing the class, so the class's own members do not shadow them.
func baseScope(cls *symbols.Scope) *symbols.Scope {
	if cls.Parent != nil {
		return cls.Parent
	}
	return cls
}

// members looks name up inside a resolved target scope.
func (e *evaluator) members(t target, name string) []Item {
	switch t.scope.Kind {
	case symbols.ScopeGlobal, symbols.ScopeNamespace:
		if e.ctx.isIndexed(t.scope) {
			return e.namespaceMembers(t.scope.QualifiedName(), name, map[string]bool{})
		}
	case symbols.ScopeClass:
		return e.classMembers(t, name, map[*symbols.Scope]bool{})
	}
	var items []Item
	for _, sym := range t.scope.Find(name) {
		items = append(items, declItem(sym, t.scope, t.bindings, e.mode))
	}
	return items
}
