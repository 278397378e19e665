package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/risor-io/risor/object"

	"github.com/jward/cppmodel/internal/store"
)

// Host functions over an exported database.

func makeSymbolsByNameFn(s *store.Store) *object.Builtin {
	return object.NewBuiltin("symbols_by_name", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("symbols_by_name", 1, len(args))
		}
		name, err := toString(args[0])
		if err != nil {
			return object.Errorf("symbols_by_name: %v", err)
		}
		syms, err := s.SymbolsByName(name)
		if err != nil {
			return object.Errorf("symbols_by_name: %v", err)
		}
		return symbolsToList(syms)
	})
}

func makeSymbolsByQualifiedNameFn(s *store.Store) *object.Builtin {
	return object.NewBuiltin("symbols_by_qualified_name", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("symbols_by_qualified_name", 1, len(args))
		}
		name, err := toString(args[0])
		if err != nil {
			return object.Errorf("symbols_by_qualified_name: %v", err)
		}
		syms, err := s.SymbolsByQualifiedName(name)
		if err != nil {
			return object.Errorf("symbols_by_qualified_name: %v", err)
		}
		return symbolsToList(syms)
	})
}

func makeScopeChainFn(s *store.Store) *object.Builtin {
	return object.NewBuiltin("scope_chain", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("scope_chain", 1, len(args))
		}
		scopeID, err := toInt64(args[0])
		if err != nil {
			return object.Errorf("scope_chain: %v", err)
		}
		chain, err := s.ScopeChain(scopeID)
		if err != nil {
			return object.Errorf("scope_chain: %v", err)
		}
		results := make([]object.Object, 0, len(chain))
		for _, sc := range chain {
			m := map[string]object.Object{
				"id":         object.NewInt(sc.ID),
				"file_id":    object.NewInt(sc.FileID),
				"kind":       object.NewString(sc.Kind),
				"name":       object.NewString(sc.Name),
				"start_line": object.NewInt(int64(sc.StartLine)),
				"end_line":   object.NewInt(int64(sc.EndLine)),
			}
			if sc.ParentScopeID != nil {
				m["parent_scope_id"] = object.NewInt(*sc.ParentScopeID)
			}
			results = append(results, object.NewMap(m))
		}
		return object.NewList(results)
	})
}

// makeStorePathsFn wraps an include-graph query over the exported
// database. The single argument is a path or, for db_files_including, an
// include spelling.
func makeStorePathsFn(name string, query func(string) ([]string, error)) *object.Builtin {
	return object.NewBuiltin(name, func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError(name, 1, len(args))
		}
		arg, err := toString(args[0])
		if err != nil {
			return object.Errorf("%s: %v", name, err)
		}
		paths, err := query(arg)
		if err != nil {
			return object.Errorf("%s: %v", name, err)
		}
		return stringList(paths)
	})
}

func makeDBQueryFn(s *store.Store) *object.Builtin {
	return object.NewBuiltin("db_query", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) < 1 {
			return object.Errorf("db_query: expected at least 1 argument (sql), got %d", len(args))
		}
		sqlStr, err := toString(args[0])
		if err != nil {
			return object.Errorf("db_query: %v", err)
		}

		// Only allow SELECT statements.
		trimmed := strings.TrimSpace(strings.ToUpper(sqlStr))
		if !strings.HasPrefix(trimmed, "SELECT") {
			return object.Errorf("db_query: only SELECT queries are allowed")
		}

		var queryArgs []any
		for _, arg := range args[1:] {
			switch v := arg.(type) {
			case *object.Int:
				queryArgs = append(queryArgs, v.Value())
			case *object.Float:
				queryArgs = append(queryArgs, v.Value())
			case *object.String:
				queryArgs = append(queryArgs, v.Value())
			case *object.Bool:
				queryArgs = append(queryArgs, v.Value())
			case *object.NilType:
				queryArgs = append(queryArgs, nil)
			default:
				queryArgs = append(queryArgs, fmt.Sprintf("%v", arg))
			}
		}

		rows, queryErr := s.DB().QueryContext(ctx, sqlStr, queryArgs...)
		if queryErr != nil {
			return object.Errorf("db_query: %v", queryErr)
		}
		defer rows.Close()

		cols, colErr := rows.Columns()
		if colErr != nil {
			return object.Errorf("db_query: columns: %v", colErr)
		}

		var results []object.Object
		for rows.Next() {
			values := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return object.Errorf("db_query: scan: %v", err)
			}
			row := make(map[string]object.Object, len(cols))
			for i, col := range cols {
				row[col] = sqlValueToObject(values[i])
			}
			results = append(results, object.NewMap(row))
		}
		if err := rows.Err(); err != nil {
			return object.Errorf("db_query: rows: %v", err)
		}
		if results == nil {
			results = []object.Object{}
		}
		return object.NewList(results)
	})
}

// sqlValueToObject converts a database value to a Risor object.
func sqlValueToObject(v any) object.Object {
	if v == nil {
		return object.Nil
	}
	switch val := v.(type) {
	case int64:
		return object.NewInt(val)
	case float64:
		return object.NewFloat(val)
	case string:
		return object.NewString(val)
	case bool:
		return object.NewBool(val)
	case []byte:
		return object.NewString(string(val))
	default:
		return object.NewString(fmt.Sprintf("%v", val))
	}
}

// symbolsToList converts a slice of store.Symbol to a Risor list of maps.
func symbolsToList(syms []*store.Symbol) object.Object {
	results := make([]object.Object, 0, len(syms))
	for _, sym := range syms {
		mods := make([]object.Object, len(sym.Modifiers))
		for i, m := range sym.Modifiers {
			mods[i] = object.NewString(m)
		}
		m := map[string]object.Object{
			"id":             object.NewInt(sym.ID),
			"file_id":        object.NewInt(sym.FileID),
			"name":           object.NewString(sym.Name),
			"qualified_name": object.NewString(sym.QualifiedName),
			"kind":           object.NewString(sym.Kind),
			"type":           object.NewString(sym.TypeExpr),
			"modifiers":      object.NewList(mods),
			"line":           object.NewInt(int64(sym.Line)),
			"col":            object.NewInt(int64(sym.Col)),
		}
		if sym.ScopeID != nil {
			m["scope_id"] = object.NewInt(*sym.ScopeID)
		}
		results = append(results, object.NewMap(m))
	}
	return object.NewList(results)
}

// --- Argument helpers ---

func toInt64(obj object.Object) (int64, error) {
	if i, ok := obj.(*object.Int); ok {
		return i.Value(), nil
	}
	if f, ok := obj.(*object.Float); ok {
		return int64(f.Value()), nil
	}
	return 0, fmt.Errorf("expected int, got %s", obj.Type())
}

func toString(obj object.Object) (string, error) {
	if s, ok := obj.(*object.String); ok {
		return s.Value(), nil
	}
	return "", fmt.Errorf("expected string, got %s", obj.Type())
}
