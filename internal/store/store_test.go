package store

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/cppmodel/internal/deps"
	"github.com/jward/cppmodel/internal/parser"
	"github.com/jward/cppmodel/internal/snapshot"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

const (
	headerSrc = `namespace geo {
template <typename T>
struct Box {
  T value;
  virtual int area(int w, int h) const;
};
}
`
	mainSrc = `#include "h.h"
using namespace geo;
int main() {
  int x = 1;
  return x;
}
`
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

// parseDoc parses src with include resolution limited to known.
func parseDoc(t *testing.T, path, src string, known ...string) *snapshot.Document {
	t.Helper()
	set := make(map[string]bool, len(known))
	for _, k := range known {
		set[k] = true
	}
	p := &parser.TreeSitter{Exists: func(p string) bool { return set[filepath.Clean(p)] }}
	res, err := p.Parse(context.Background(), parser.Request{Path: path, Content: []byte(src)})
	require.NoError(t, err)
	return snapshot.NewDocument(path, []byte(src), t0, res)
}

func testSnapshot(t *testing.T) *snapshot.Snapshot {
	t.Helper()
	return snapshot.Empty().
		WithDocument("/p/h.h", parseDoc(t, "/p/h.h", headerSrc)).
		WithDocument("/p/a.cpp", parseDoc(t, "/p/a.cpp", mainSrc, "/p/h.h"))
}

func exported(t *testing.T) (*Store, *snapshot.Snapshot) {
	t.Helper()
	s := newTestStore(t)
	snap := testSnapshot(t)
	_, err := s.Export(context.Background(), snap, nil)
	require.NoError(t, err)
	return s, snap
}

func fileByPath(t *testing.T, s *Store, path string) *File {
	t.Helper()
	f, err := s.FileByPath(path)
	require.NoError(t, err)
	require.NotNil(t, f, "file %s should be exported", path)
	return f
}

// =============================================================================
// Schema & Lifecycle
// =============================================================================

func TestMigrate_AllTablesExist(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.Migrate())
}

func TestMigrate_WALMode(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	var mode string
	err := s.db.QueryRow("PRAGMA journal_mode").Scan(&mode)
	require.NoError(t, err)
	assert.Equal(t, "wal", mode)
}

func TestMeta_RoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	v, err := s.Meta("missing")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.SetMeta("k", "1"))
	require.NoError(t, s.SetMeta("k", "2"))
	v, err = s.Meta("k")
	require.NoError(t, err)
	assert.Equal(t, "2", v)
}

// =============================================================================
// Export
// =============================================================================

func TestExport_Files(t *testing.T) {
	t.Parallel()
	s, snap := exported(t)

	files, err := s.Files()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "/p/a.cpp", files[0].Path)
	assert.Equal(t, "source", files[0].Kind)
	assert.Equal(t, "/p/h.h", files[1].Path)
	assert.Equal(t, "header", files[1].Kind)

	doc, _ := snap.Document("/p/a.cpp")
	assert.Len(t, files[0].Revision, 16)
	assert.Equal(t, doc.HasErrors(), files[0].HasErrors)
	assert.True(t, t0.Equal(files[0].ModTime))
	assert.Equal(t, 7, files[0].LineCount)

	gen, err := s.Meta(MetaGeneration)
	require.NoError(t, err)
	assert.Equal(t, strconv.FormatUint(snap.Generation(), 10), gen)

	missing, err := s.FileByPath("/p/none.cpp")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestExport_Includes(t *testing.T) {
	t.Parallel()
	s, _ := exported(t)
	f := fileByPath(t, s, "/p/a.cpp")

	incs, err := s.IncludesByFile(f.ID)
	require.NoError(t, err)
	require.Len(t, incs, 1)
	assert.Equal(t, "h.h", incs[0].Spelling)
	assert.Equal(t, "/p/h.h", incs[0].Resolved)
	assert.False(t, incs[0].System)

	paths, err := s.FilesIncluding("h.h")
	require.NoError(t, err)
	assert.Equal(t, []string{"/p/a.cpp"}, paths)
}

func TestExport_Symbols(t *testing.T) {
	t.Parallel()
	s, _ := exported(t)

	boxes, err := s.SymbolsByQualifiedName("geo::Box")
	require.NoError(t, err)
	require.Len(t, boxes, 1)
	box := boxes[0]
	assert.Equal(t, "struct", box.Kind)
	assert.Contains(t, box.Modifiers, "template")
	assert.NotEmpty(t, box.SignatureHash)

	tps, err := s.TypeParams(box.ID)
	require.NoError(t, err)
	require.Len(t, tps, 1)
	assert.Equal(t, "T", tps[0].Name)

	areas, err := s.SymbolsByName("area")
	require.NoError(t, err)
	require.Len(t, areas, 1)
	assert.Equal(t, "geo::Box::area", areas[0].QualifiedName)
	assert.Contains(t, areas[0].Modifiers, "virtual")
	assert.Equal(t, 4, areas[0].Line)

	params, err := s.FunctionParams(areas[0].ID)
	require.NoError(t, err)
	require.Len(t, params, 2)
	assert.Equal(t, 0, params[0].Ordinal)
	assert.Equal(t, 1, params[1].Ordinal)
}

func TestExport_ScopeTree(t *testing.T) {
	t.Parallel()
	s, _ := exported(t)
	f := fileByPath(t, s, "/p/h.h")

	scopes, err := s.ScopesByFile(f.ID)
	require.NoError(t, err)
	require.NotEmpty(t, scopes)
	assert.Equal(t, "global", scopes[0].Kind)
	assert.Nil(t, scopes[0].ParentScopeID)

	var class *Scope
	for _, sc := range scopes {
		if sc.Kind == "class" && sc.Name == "Box" {
			class = sc
		}
	}
	require.NotNil(t, class)
	require.NotNil(t, class.SymbolID, "class scope should link its owning symbol")

	members, err := s.SymbolsInScope(class.ID)
	require.NoError(t, err)
	var names []string
	for _, m := range members {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"value", "area"}, names)

	chain, err := s.ScopeChain(class.ID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chain), 3)
	assert.Equal(t, class.ID, chain[0].ID)
	assert.Equal(t, "global", chain[len(chain)-1].Kind)
}

func TestExport_UsingDirectives(t *testing.T) {
	t.Parallel()
	s, _ := exported(t)
	f := fileByPath(t, s, "/p/a.cpp")

	scopes, err := s.ScopesByFile(f.ID)
	require.NoError(t, err)
	require.NotEmpty(t, scopes)

	refs, err := s.ScopeRefs(scopes[0].ID, RefUsing)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "geo", refs[0].Spelling)
}

func TestExport_Dependents(t *testing.T) {
	t.Parallel()
	s, _ := exported(t)

	paths, err := s.FilesDependingOn("/p/h.h")
	require.NoError(t, err)
	assert.Equal(t, []string{"/p/a.cpp"}, paths)

	paths, err = s.FilesDependingOn("/p/a.cpp")
	require.NoError(t, err)
	assert.Empty(t, paths)

	paths, err = s.FilesIncludedBy("/p/a.cpp")
	require.NoError(t, err)
	assert.Equal(t, []string{"/p/h.h"}, paths)
}

func TestExport_ReplacesPreviousExport(t *testing.T) {
	t.Parallel()
	s, snap := exported(t)

	next := snap.WithoutDocument("/p/h.h")
	stats, err := s.Export(context.Background(), next, deps.Build(next))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Files)
	assert.Zero(t, stats.Dependents)

	files, err := s.Files()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "/p/a.cpp", files[0].Path)

	areas, err := s.SymbolsByName("area")
	require.NoError(t, err)
	assert.Empty(t, areas)
}

func TestExport_StaleTable(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	snap := testSnapshot(t)
	stale := deps.Build(snap.WithoutDocument("/p/h.h"))

	_, err := s.Export(context.Background(), snap, stale)
	require.ErrorIs(t, err, deps.ErrStaleTable)
}

func TestExport_Diagnostics(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	doc := parseDoc(t, "/p/bad.cpp", "int main( {\n")
	require.NotEmpty(t, doc.Diagnostics)
	snap := snapshot.Empty().WithDocument(doc.Path, doc)

	_, err := s.Export(context.Background(), snap, nil)
	require.NoError(t, err)

	f := fileByPath(t, s, "/p/bad.cpp")
	assert.True(t, f.HasErrors)
	diags, err := s.DiagnosticsByFile(f.ID)
	require.NoError(t, err)
	assert.Len(t, diags, len(doc.Diagnostics))
}

func TestExport_Canceled(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Export(ctx, testSnapshot(t), nil)
	require.Error(t, err)
}

// =============================================================================
// Batches
// =============================================================================

func TestBatchedStore_FakeIDsRemapped(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	f := &File{Path: "/p/a.cpp", Kind: "source", Revision: "00"}
	_, err := s.InsertFile(f)
	require.NoError(t, err)

	batch := NewBatchedStore()
	doc := parseDoc(t, "/p/h.h", headerSrc)
	require.NoError(t, Extract(batch, f.ID, doc))
	require.NotEmpty(t, batch.Symbols)
	for _, sym := range batch.Symbols {
		assert.Negative(t, sym.ID, "batched IDs should be negative")
	}

	require.NoError(t, s.CommitBatch(batch))

	syms, err := s.SymbolsByFile(f.ID)
	require.NoError(t, err)
	require.Len(t, syms, len(batch.Symbols))
	for _, sym := range syms {
		assert.Positive(t, sym.ID)
		require.NotNil(t, sym.ScopeID)
		assert.Positive(t, *sym.ScopeID)
	}
}

// =============================================================================
// Signature Hash
// =============================================================================

func TestSignatureHash_Deterministic(t *testing.T) {
	t.Parallel()
	params := []*FunctionParam{{Ordinal: 1, TypeExpr: "int"}, {Ordinal: 0, TypeExpr: "const char*"}}
	tps := []*TypeParam{{Name: "T", Ordinal: 0}}

	h1 := ComputeSignatureHash("ns::f", "function", "void", []string{"static", "function"}, params, tps)
	h2 := ComputeSignatureHash("ns::f", "function", "void", []string{"function", "static"}, params, tps)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestSignatureHash_Changes(t *testing.T) {
	t.Parallel()
	base := ComputeSignatureHash("f", "function", "void", nil, nil, nil)
	for name, h := range map[string]string{
		"name":      ComputeSignatureHash("g", "function", "void", nil, nil, nil),
		"type":      ComputeSignatureHash("f", "function", "int", nil, nil, nil),
		"modifiers": ComputeSignatureHash("f", "function", "void", []string{"virtual"}, nil, nil),
		"params":    ComputeSignatureHash("f", "function", "void", nil, []*FunctionParam{{TypeExpr: "int"}}, nil),
		"template":  ComputeSignatureHash("f", "function", "void", nil, nil, []*TypeParam{{Name: "T"}}),
	} {
		assert.NotEqual(t, base, h, name)
	}
}
