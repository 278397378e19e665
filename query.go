package cppmodel

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/jward/cppmodel/internal/ast"
	"github.com/jward/cppmodel/internal/canonical"
	"github.com/jward/cppmodel/internal/deps"
	"github.com/jward/cppmodel/internal/lookup"
	"github.com/jward/cppmodel/internal/snapshot"
	"github.com/jward/cppmodel/internal/symbols"
)

// ErrNodeNotInTree is returned when an AST query names a node the
// Document's tree does not contain.
var ErrNodeNotInTree = ast.ErrNodeNotInTree

// QueryBuilder answers queries against one Snapshot and the dependency
// table built from it. A later edit never changes its answers.
type QueryBuilder struct {
	snap  *snapshot.Snapshot
	table *deps.Table
}

// Snapshot returns the pinned Snapshot.
func (q *QueryBuilder) Snapshot() *Snapshot { return q.snap }

// Generation returns the pinned Snapshot's generation.
func (q *QueryBuilder) Generation() uint64 { return q.snap.Generation() }

// Files returns every indexed path in sorted order.
func (q *QueryBuilder) Files() []string { return q.snap.Paths() }

// Document returns the Document for path, accepting relative paths.
func (q *QueryBuilder) Document(path string) (*Document, bool) {
	if doc, ok := q.snap.Document(path); ok {
		return doc, true
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, false
	}
	return q.snap.Document(abs)
}

func (q *QueryBuilder) key(path string) string {
	if doc, ok := q.Document(path); ok {
		return doc.Path
	}
	return path
}

// FilesDependingOn returns the files that transitively include path.
// Unknown files have no dependents.
func (q *QueryBuilder) FilesDependingOn(path string) []string {
	return q.table.FilesDependingOn(q.key(path))
}

// Includes returns the files path transitively includes.
func (q *QueryBuilder) Includes(path string) []string {
	return q.table.Includes(q.key(path))
}

// DirectIncludes returns the resolved includes of path in directive order.
func (q *QueryBuilder) DirectIncludes(path string) []string {
	return q.table.DirectIncludes(q.key(path))
}

// AnyNewerDeps reports whether path or anything it includes was modified
// after ref, with the offending file as the reason. Unknown files and
// missing timestamps answer true.
func (q *QueryBuilder) AnyNewerDeps(path string, ref time.Time) (bool, string) {
	return q.table.AnyNewerDeps(q.key(path), ref)
}

// Modified returns the files that changed since the table the pinned one
// was derived from.
func (q *QueryBuilder) Modified() []string { return q.table.Modified() }

// Invalidated returns the files the last batch of edits reached without
// editing them: everything that includes a modified or removed file, and
// files whose missing include a new file may now satisfy. The edited files
// themselves are reported by Modified.
func (q *QueryBuilder) Invalidated() []string { return q.table.AllFilesDependingOnModifieds() }

// Diagnostics returns the parse diagnostics of path.
func (q *QueryBuilder) Diagnostics(path string) []Diagnostic {
	doc, ok := q.Document(path)
	if !ok {
		return nil
	}
	return append([]Diagnostic(nil), doc.Diagnostics...)
}

// scopeAt maps a position to its lookup context and innermost scope.
func (q *QueryBuilder) scopeAt(path string, line, col int) (*lookup.Context, *symbols.Scope, bool) {
	doc, ok := q.Document(path)
	if !ok || doc.Global == nil {
		return nil, nil, false
	}
	return lookup.NewContext(q.snap, doc), doc.ScopeAt(line, col), true
}

// MatchesFor lists the candidate bindings of expr as seen from the
// position, innermost first. Unknown files and unresolvable expressions
// give an empty list.
func (q *QueryBuilder) MatchesFor(path string, line, col int, expr string) []Match {
	ctx, scope, ok := q.scopeAt(path, line, col)
	if !ok {
		return []Match{}
	}
	items := lookup.NewTypeOfExpression(ctx).MatchesFor(expr, scope)
	out := make([]Match, 0, len(items))
	for _, it := range items {
		out = append(out, Match{
			Declaration: newDeclaration(it.Declaration),
			Type:        typeString(it.Type),
			Scope:       scopeName(it.Scope),
		})
	}
	return out
}

func scopeName(s *symbols.Scope) string {
	if s == nil {
		return ""
	}
	if name := s.QualifiedName(); name != "" {
		return name
	}
	return s.Kind.String()
}

// CanonicalSymbol returns the declaration expr at the position should
// navigate to, or nil when nothing resolves.
func (q *QueryBuilder) CanonicalSymbol(path string, line, col int, expr string) *Declaration {
	ctx, scope, ok := q.scopeAt(path, line, col)
	if !ok {
		return nil
	}
	return newDeclaration(canonical.Resolve(ctx, scope, expr))
}

// CanonicalSymbolAt derives the expression under the cursor from the
// Document's source and resolves it. The expression is returned too so
// callers can report what was looked up.
func (q *QueryBuilder) CanonicalSymbolAt(path string, line, col int) (*Declaration, string) {
	doc, ok := q.Document(path)
	if !ok {
		return nil, ""
	}
	expr := ExpressionAt(doc.Source, line, col)
	if expr == "" {
		return nil, ""
	}
	return q.CanonicalSymbol(path, line, col, expr), expr
}

// ASTPath returns the nodes from the translation unit down to the deepest
// node containing the position. It is empty for unknown files and
// positions outside the tree.
func (q *QueryBuilder) ASTPath(path string, line, col int) ([]ASTNode, error) {
	doc, ok := q.Document(path)
	if !ok || doc.Tree == nil {
		return nil, nil
	}
	id := doc.Tree.At(line, col)
	if id == ast.NoNode {
		return nil, nil
	}
	return q.ASTPathOf(doc, id)
}

// ASTPathOf returns the root-to-node path of id in doc's tree. A node the
// tree does not contain is an ErrNodeNotInTree error.
func (q *QueryBuilder) ASTPathOf(doc *Document, id NodeID) ([]ASTNode, error) {
	ids, err := doc.ParentIndex().Path(id)
	if err != nil {
		return nil, fmt.Errorf("ast path in %s: %w", doc.Path, err)
	}
	out := make([]ASTNode, 0, len(ids))
	for _, nid := range ids {
		n, _ := doc.Tree.Node(nid)
		out = append(out, ASTNode{
			ID:   nid,
			Kind: n.Kind.String(),
			Name: n.Name,
			Span: spanLocation(doc.Path, n.Span),
		})
	}
	return out, nil
}
