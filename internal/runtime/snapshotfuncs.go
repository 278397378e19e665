package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/risor-io/risor/object"

	"github.com/jward/cppmodel/internal/canonical"
	"github.com/jward/cppmodel/internal/deps"
	"github.com/jward/cppmodel/internal/lookup"
	"github.com/jward/cppmodel/internal/snapshot"
	"github.com/jward/cppmodel/internal/symbols"
)

// Host functions over the Snapshot. Positions are 0-based, unknown files
// yield empty lists or nil, never errors.

// files() → []string
func makeFilesFn(snap *snapshot.Snapshot) *object.Builtin {
	return object.NewBuiltin("files", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 0 {
			return object.NewArgsError("files", 0, len(args))
		}
		return stringList(snap.Paths())
	})
}

// document(path) → map or nil
func makeDocumentFn(snap *snapshot.Snapshot) *object.Builtin {
	return object.NewBuiltin("document", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("document", 1, len(args))
		}
		path, err := toString(args[0])
		if err != nil {
			return object.Errorf("document: %v", err)
		}
		doc, ok := snap.Document(path)
		if !ok {
			return object.Nil
		}

		incs := make([]object.Object, 0, len(doc.Includes))
		for _, inc := range doc.Includes {
			incs = append(incs, object.NewMap(map[string]object.Object{
				"spelling": object.NewString(inc.Spelling),
				"resolved": object.NewString(inc.Resolved),
				"system":   object.NewBool(inc.System),
				"line":     object.NewInt(int64(inc.Line)),
			}))
		}
		diags := make([]string, 0, len(doc.Diagnostics))
		for _, d := range doc.Diagnostics {
			diags = append(diags, d.String())
		}
		return object.NewMap(map[string]object.Object{
			"path":        object.NewString(doc.Path),
			"revision":    object.NewString(fmt.Sprintf("%016x", doc.Revision)),
			"mod_time":    object.NewInt(doc.ModTime.Unix()),
			"has_errors":  object.NewBool(doc.HasErrors()),
			"includes":    object.NewList(incs),
			"diagnostics": stringList(diags),
		})
	})
}

// includes(path) → []string, transitive and sorted
func makeIncludesFn(tbl *deps.Table) *object.Builtin {
	return object.NewBuiltin("includes", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("includes", 1, len(args))
		}
		path, err := toString(args[0])
		if err != nil {
			return object.Errorf("includes: %v", err)
		}
		return stringList(tbl.Includes(path))
	})
}

// files_depending_on(path) → []string
func makeFilesDependingOnFn(tbl *deps.Table) *object.Builtin {
	return object.NewBuiltin("files_depending_on", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("files_depending_on", 1, len(args))
		}
		path, err := toString(args[0])
		if err != nil {
			return object.Errorf("files_depending_on: %v", err)
		}
		return stringList(tbl.FilesDependingOn(path))
	})
}

// any_newer_deps(path, unix_seconds) → {"stale": bool, "reason": string}
func makeAnyNewerDepsFn(tbl *deps.Table) *object.Builtin {
	return object.NewBuiltin("any_newer_deps", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("any_newer_deps", 2, len(args))
		}
		path, err := toString(args[0])
		if err != nil {
			return object.Errorf("any_newer_deps: %v", err)
		}
		secs, err := toInt64(args[1])
		if err != nil {
			return object.Errorf("any_newer_deps: %v", err)
		}
		stale, reason := tbl.AnyNewerDeps(path, time.Unix(secs, 0))
		return object.NewMap(map[string]object.Object{
			"stale":  object.NewBool(stale),
			"reason": object.NewString(reason),
		})
	})
}

// position reads (path, line, col) from the first three arguments.
func position(snap *snapshot.Snapshot, args []object.Object) (*snapshot.Document, int, int, error) {
	path, err := toString(args[0])
	if err != nil {
		return nil, 0, 0, err
	}
	line, err := toInt64(args[1])
	if err != nil {
		return nil, 0, 0, err
	}
	col, err := toInt64(args[2])
	if err != nil {
		return nil, 0, 0, err
	}
	doc, _ := snap.Document(path)
	return doc, int(line), int(col), nil
}

// scope_at(path, line, col) → map or nil
func makeScopeAtFn(snap *snapshot.Snapshot) *object.Builtin {
	return object.NewBuiltin("scope_at", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 3 {
			return object.NewArgsError("scope_at", 3, len(args))
		}
		doc, line, col, err := position(snap, args)
		if err != nil {
			return object.Errorf("scope_at: %v", err)
		}
		if doc == nil {
			return object.Nil
		}
		sc := doc.ScopeAt(line, col)
		if sc == nil {
			return object.Nil
		}
		return object.NewMap(map[string]object.Object{
			"kind":           object.NewString(sc.Kind.String()),
			"name":           object.NewString(sc.Name),
			"qualified_name": object.NewString(sc.QualifiedName()),
			"qualifier":      object.NewString(sc.Qualifier),
			"start_line":     object.NewInt(int64(sc.Span.StartLine)),
			"end_line":       object.NewInt(int64(sc.Span.EndLine)),
		})
	})
}

// matches_for(path, line, col, expr) → []map
func makeMatchesForFn(snap *snapshot.Snapshot) *object.Builtin {
	return object.NewBuiltin("matches_for", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 4 {
			return object.NewArgsError("matches_for", 4, len(args))
		}
		doc, line, col, err := position(snap, args)
		if err != nil {
			return object.Errorf("matches_for: %v", err)
		}
		expr, err := toString(args[3])
		if err != nil {
			return object.Errorf("matches_for: %v", err)
		}
		if doc == nil {
			return object.NewList([]object.Object{})
		}
		lc := lookup.NewContext(snap, doc)
		items := lookup.NewTypeOfExpression(lc).MatchesFor(expr, doc.ScopeAt(line, col))
		out := make([]object.Object, 0, len(items))
		for _, it := range items {
			out = append(out, itemToMap(it))
		}
		return object.NewList(out)
	})
}

// canonical_symbol(path, line, col, expr) → map or nil
func makeCanonicalSymbolFn(snap *snapshot.Snapshot) *object.Builtin {
	return object.NewBuiltin("canonical_symbol", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 4 {
			return object.NewArgsError("canonical_symbol", 4, len(args))
		}
		doc, line, col, err := position(snap, args)
		if err != nil {
			return object.Errorf("canonical_symbol: %v", err)
		}
		expr, err := toString(args[3])
		if err != nil {
			return object.Errorf("canonical_symbol: %v", err)
		}
		if doc == nil {
			return object.Nil
		}
		sym := canonical.Resolve(lookup.NewContext(snap, doc), doc.ScopeAt(line, col), expr)
		if sym == nil {
			return object.Nil
		}
		return symbolToMap(sym)
	})
}

func itemToMap(it lookup.Item) object.Object {
	if it.Declaration == nil {
		return object.NewMap(map[string]object.Object{
			"declaration": object.NewBool(false),
			"type":        object.NewString(it.Type.Spelling),
		})
	}
	m := symbolToMap(it.Declaration)
	m.Set("type", object.NewString(it.Type.Spelling))
	if len(it.Bindings) > 0 {
		b := make(map[string]object.Object, len(it.Bindings))
		for name, binding := range it.Bindings {
			b[name] = object.NewString(binding.Spelling)
		}
		m.Set("bindings", object.NewMap(b))
	}
	return m
}

func symbolToMap(sym *symbols.Symbol) *object.Map {
	return object.NewMap(map[string]object.Object{
		"declaration":    object.NewBool(true),
		"name":           object.NewString(sym.Name),
		"qualified_name": object.NewString(sym.QualifiedName()),
		"kind":           object.NewString(sym.Kind.String()),
		"type":           object.NewString(sym.Type.Spelling),
		"virtual":        object.NewBool(sym.IsVirtual()),
		"file":           object.NewString(sym.File),
		"line":           object.NewInt(int64(sym.Line)),
		"col":            object.NewInt(int64(sym.Column)),
	})
}

func stringList(ss []string) object.Object {
	out := make([]object.Object, len(ss))
	for i, s := range ss {
		out[i] = object.NewString(s)
	}
	return object.NewList(out)
}
