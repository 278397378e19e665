// Package lookup resolves names and textual expressions against the scope
// trees of a Snapshot. Results are ordered candidate lists; an empty list
// means "no candidates" and is never an error.
package lookup

import (
	"github.com/jward/cppmodel/internal/symbols"
)

// Mode selects how much work expression evaluation does.
type Mode uint8

const (
	// Normal performs plain name lookup and member access.
	Normal Mode = iota
	// Preprocess additionally substitutes template arguments into the
	// types of members looked up through a template specialization.
	Preprocess
)

func (m Mode) String() string {
	if m == Preprocess {
		return "preprocess"
	}
	return "normal"
}

// Item is one candidate binding of an expression.
type Item struct {
	// Declaration is the symbol the expression names. It is nil for
	// intermediate values such as the result of a call.
	Declaration *symbols.Symbol
	// Type is the declared type, with template arguments substituted in
	// Preprocess mode.
	Type symbols.Type
	// Scope is the scope the candidate was found in.
	Scope *symbols.Scope
	// Bindings maps template parameters in effect for the candidate to
	// the arguments written at the access site.
	Bindings map[string]Binding

	ref typeRef
}

// Binding is one template argument and the scope it was written in.
type Binding struct {
	Spelling string
	Scope    *symbols.Scope
}

// target is a scope whose members can be looked up, with the template
// bindings that apply inside it.
type target struct {
	scope    *symbols.Scope
	bindings map[string]Binding
}

// typeRef is a type spelling together with the scope it must be resolved
// from. direct short-circuits resolution for "this".
type typeRef struct {
	spelling string
	scope    *symbols.Scope
	bindings map[string]Binding
	direct   *symbols.Scope
	pointer  int
}

func declItem(sym *symbols.Symbol, found *symbols.Scope, bindings map[string]Binding, mode Mode) Item {
	typ := sym.Type
	if mode == Preprocess && len(bindings) > 0 && typ.Spelling != "" {
		typ.Spelling = substitute(typ.Spelling, bindings)
		if len(typ.Params) > 0 {
			params := make([]string, len(typ.Params))
			for i, p := range typ.Params {
				params[i] = substitute(p, bindings)
			}
			typ.Params = params
		}
	}
	return Item{
		Declaration: sym,
		Type:        typ,
		Scope:       found,
		Bindings:    bindings,
		ref:         typeRef{spelling: sym.Type.Spelling, scope: sym.Scope, bindings: bindings},
	}
}

// dedupe drops repeated declarations, keeping the first occurrence.
// Items without a declaration are kept as they are.
func dedupe(items []Item) []Item {
	out := make([]Item, 0, len(items))
	seen := make(map[*symbols.Symbol]bool, len(items))
	for _, it := range items {
		if it.Declaration != nil {
			if seen[it.Declaration] {
				continue
			}
			seen[it.Declaration] = true
		}
		out = append(out, it)
	}
	return out
}
