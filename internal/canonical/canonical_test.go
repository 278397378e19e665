package canonical

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/cppmodel/internal/lookup"
	"github.com/jward/cppmodel/internal/parser"
	"github.com/jward/cppmodel/internal/snapshot"
	"github.com/jward/cppmodel/internal/symbols"
)

func classScope(name string) *symbols.Scope {
	global := symbols.NewScope(symbols.ScopeGlobal, "", nil)
	cls := symbols.NewScope(symbols.ScopeClass, name, global)
	owner := &symbols.Symbol{Name: name, Kind: symbols.KindClass, Members: cls}
	global.Add(owner)
	cls.Owner = owner
	return cls
}

func member(cls *symbols.Scope, name string, virtual bool) lookup.Item {
	sym := &symbols.Symbol{Name: name, Kind: symbols.KindFunction, Type: symbols.Type{Function: true, Virtual: virtual}}
	cls.Add(sym)
	return lookup.Item{Declaration: sym, Scope: cls}
}

func free(name string) lookup.Item {
	global := symbols.NewScope(symbols.ScopeGlobal, "", nil)
	sym := &symbols.Symbol{Name: name, Kind: symbols.KindVariable}
	global.Add(sym)
	return lookup.Item{Declaration: sym, Scope: global}
}

// =============================================================================
// Pick
// =============================================================================

func TestPick_VirtualBeatsConstructorName(t *testing.T) {
	t.Parallel()
	ctor := member(classScope("foo"), "foo", false)
	virt := member(classScope("Base"), "foo", true)

	got := Pick([]lookup.Item{ctor, virt})
	assert.Same(t, virt.Declaration, got)
}

func TestPick_VirtualConstructorNameIsSkipped(t *testing.T) {
	t.Parallel()
	// A candidate named like its class never short-circuits, even when
	// flagged virtual.
	dtor := member(classScope("foo"), "~foo", true)
	plain := member(classScope("Base"), "foo", false)

	got := Pick([]lookup.Item{plain, dtor})
	assert.Same(t, plain.Declaration, got)
}

func TestPick_BackwardScanStopsAtNonMember(t *testing.T) {
	t.Parallel()
	virt := member(classScope("Base"), "run", true)
	local := free("run")

	got := Pick([]lookup.Item{virt, local})
	assert.Same(t, virt.Declaration, got, "falls through to the forward scan")

	got = Pick([]lookup.Item{local, virt})
	assert.Same(t, virt.Declaration, got)
}

func TestPick_FirstDeclarationFallback(t *testing.T) {
	t.Parallel()
	a := free("a")
	b := free("a")
	got := Pick([]lookup.Item{{}, a, b})
	assert.Same(t, a.Declaration, got)
}

func TestPick_Empty(t *testing.T) {
	t.Parallel()
	assert.Nil(t, Pick(nil))
	assert.Nil(t, Pick([]lookup.Item{{}, {}}))
}

// =============================================================================
// Resolve
// =============================================================================

const src = `struct Base {
  virtual void foo();
  int size;
};
struct foo : Base {
  foo();
  void bar() {
    return;
  }
};
void use() {
  foo f;
  return;
}
`

func parseDoc(t *testing.T) (*snapshot.Snapshot, *snapshot.Document) {
	t.Helper()
	res, err := parser.NewTreeSitter().Parse(context.Background(), parser.Request{Path: "/p/a.cpp", Content: []byte(src)})
	require.NoError(t, err)
	doc := snapshot.NewDocument("/p/a.cpp", []byte(src), time.Time{}, res)
	return snapshot.Empty().WithDocument(doc.Path, doc), doc
}

func TestResolve_VirtualShortCircuit(t *testing.T) {
	t.Parallel()
	snap, doc := parseDoc(t)
	ctx := lookup.NewContext(snap, doc)
	scope := doc.ScopeAt(7, 4)

	items := lookup.NewTypeOfExpression(ctx).MatchesFor("foo", scope)
	require.Len(t, items, 2)
	assert.True(t, items[0].Declaration.IsCtorOrDtorName())

	sym := Resolve(ctx, scope, "foo")
	require.NotNil(t, sym)
	assert.Equal(t, "Base::foo", sym.QualifiedName())
	assert.Equal(t, 1, sym.Line)
}

func TestResolve_MemberAccess(t *testing.T) {
	t.Parallel()
	snap, doc := parseDoc(t)
	ctx := lookup.NewContext(snap, doc)

	sym := Resolve(ctx, doc.ScopeAt(12, 2), "f.size")
	require.NotNil(t, sym)
	assert.Equal(t, "Base::size", sym.QualifiedName())
}

func TestResolve_NothingUnderCursor(t *testing.T) {
	t.Parallel()
	snap, doc := parseDoc(t)
	ctx := lookup.NewContext(snap, doc)

	assert.Nil(t, Resolve(ctx, doc.ScopeAt(12, 2), "unknown"))
	assert.Nil(t, Resolve(ctx, doc.ScopeAt(12, 2), "f."))
	assert.Nil(t, Resolve(ctx, nil, "foo"))
	assert.Nil(t, Resolve(nil, doc.Global, "foo"))
}
