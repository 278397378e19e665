package store

import (
	"crypto/sha256"
	"fmt"
	"slices"
	"strings"
)

// ComputeSignatureHash computes a deterministic hash of a symbol's
// declared identity: name, kind, type, modifiers, parameter types and
// template parameters. Location changes do not affect the hash.
func ComputeSignatureHash(
	qualifiedName, kind, typeExpr string,
	modifiers []string,
	params []*FunctionParam,
	typeParams []*TypeParam,
) string {
	h := sha256.New()

	fmt.Fprintf(h, "name:%s\n", qualifiedName)
	fmt.Fprintf(h, "kind:%s\n", kind)
	fmt.Fprintf(h, "type:%s\n", typeExpr)

	sorted := slices.Clone(modifiers)
	slices.Sort(sorted)
	fmt.Fprintf(h, "modifiers:%s\n", strings.Join(sorted, ","))

	ps := slices.Clone(params)
	slices.SortFunc(ps, func(a, b *FunctionParam) int { return a.Ordinal - b.Ordinal })
	for _, p := range ps {
		fmt.Fprintf(h, "param:%d:%s\n", p.Ordinal, p.TypeExpr)
	}

	tps := slices.Clone(typeParams)
	slices.SortFunc(tps, func(a, b *TypeParam) int { return a.Ordinal - b.Ordinal })
	for _, tp := range tps {
		fmt.Fprintf(h, "typeparam:%d:%s\n", tp.Ordinal, tp.Name)
	}

	return fmt.Sprintf("%x", h.Sum(nil))
}
