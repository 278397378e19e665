// Package canonical chooses the one declaration that represents a name at
// a cursor position.
package canonical

import (
	"github.com/jward/cppmodel/internal/lookup"
	"github.com/jward/cppmodel/internal/symbols"
)

// Resolve evaluates expr in scope and picks its canonical declaration.
// It returns nil when nothing resolves.
func Resolve(ctx *lookup.Context, scope *symbols.Scope, expr string) *symbols.Symbol {
	if ctx == nil || scope == nil {
		return nil
	}
	items := lookup.NewTypeOfExpression(ctx).MatchesFor(expr, scope)
	return Pick(items)
}

// Pick applies the tie-break order to lookup candidates.
//
// The tail of the list is scanned backwards while candidates are class
// members. Members named like their class (constructors and destructors)
// are skipped and the first virtual function found wins. Otherwise the
// first candidate with a declaration is returned.
func Pick(items []lookup.Item) *symbols.Symbol {
	for i := len(items) - 1; i >= 0; i-- {
		sym := items[i].Declaration
		if sym == nil || sym.EnclosingClass() == nil {
			break
		}
		if sym.IsCtorOrDtorName() {
			continue
		}
		if sym.IsVirtual() {
			return sym
		}
	}
	for _, it := range items {
		if it.Declaration != nil {
			return it.Declaration
		}
	}
	return nil
}
