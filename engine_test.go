package cppmodel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/cppmodel/internal/config"
	"github.com/jward/cppmodel/internal/deps"
	"github.com/jward/cppmodel/internal/store"
)

const baseHeader = `#pragma once
struct Base {
  virtual void foo();
  int size;
};
`

const mainSource = `#include "base.h"
struct foo : Base {
  foo();
  void bar() {
    return;
  }
};
void use() {
  foo f;
  f.size = 1;
}
`

// project is a small on-disk tree: include/base.h, src/main.cpp and files
// discovery must skip.
type project struct {
	root   string
	header string
	main   string
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newProject(t *testing.T) project {
	t.Helper()
	root := t.TempDir()
	p := project{
		root:   root,
		header: filepath.Join(root, "include", "base.h"),
		main:   filepath.Join(root, "src", "main.cpp"),
	}
	writeFile(t, p.header, baseHeader)
	writeFile(t, p.main, mainSource)
	writeFile(t, filepath.Join(root, "build", "generated.cpp"), "int generated;\n")
	writeFile(t, filepath.Join(root, ".hidden", "x.cpp"), "int hidden;\n")
	writeFile(t, filepath.Join(root, "README.md"), "# project\n")
	return p
}

func newTestEngine(t *testing.T, p project, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithIncludePaths(filepath.Join(p.root, "include")), WithWorkers(2)}, opts...)
	e := New(opts...)
	t.Cleanup(func() { e.Close() })
	return e
}

func indexedEngine(t *testing.T, opts ...Option) (*Engine, project) {
	t.Helper()
	p := newProject(t)
	e := newTestEngine(t, p, opts...)
	require.NoError(t, e.IndexDirectory(context.Background(), p.root))
	return e, p
}

// =============================================================================
// Construction
// =============================================================================

func TestNew_EmptySnapshot(t *testing.T) {
	t.Parallel()
	e := New()
	defer e.Close()

	assert.Equal(t, 0, e.Snapshot().Len())
	assert.Equal(t, uint64(0), e.Snapshot().Generation())
	assert.Equal(t, 0, e.DependencyTable().Len())
	require.NotNil(t, e.Query())
}

func TestWithConfig(t *testing.T) {
	t.Parallel()
	cfg := config.DefaultConfig()
	cfg.IncludePaths = []string{"include"}
	cfg.Macros = map[string]string{"DEBUG": ""}
	cfg.Workers = 3
	cfg.ReparseDependents = true

	e := New(WithConfig("/proj", cfg), WithWorkers(1))
	defer e.Close()

	assert.Equal(t, []string{filepath.Clean("/proj/include")}, e.includePaths)
	assert.Equal(t, map[string]string{"DEBUG": "1"}, e.macros)
	assert.Equal(t, 1, e.workers, "later options override the config")
	assert.True(t, e.reparseDependents)
}

// =============================================================================
// Discovery and indexing
// =============================================================================

func TestDiscover_SkipsHiddenBuildAndNonCpp(t *testing.T) {
	t.Parallel()
	p := newProject(t)
	e := newTestEngine(t, p)

	paths, err := e.Discover(p.root)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{p.header, p.main}, paths)
}

func TestDiscover_ConfigGlobs(t *testing.T) {
	t.Parallel()
	p := newProject(t)
	cfg := config.DefaultConfig()
	cfg.Excludes = append(cfg.Excludes, "src/**")

	e := newTestEngine(t, p, WithConfig(p.root, cfg))
	paths, err := e.Discover(p.root)
	require.NoError(t, err)
	assert.Equal(t, []string{p.header}, paths)
}

func TestIndexDirectory(t *testing.T) {
	t.Parallel()
	var seen []string
	e, p := indexedEngine(t, WithWorkers(1), WithProgress(func(path string) { seen = append(seen, path) }))

	snap := e.Snapshot()
	assert.Equal(t, 2, snap.Len())
	doc, ok := snap.Document(p.main)
	require.True(t, ok)
	assert.Equal(t, []string{p.header}, doc.IncludedFiles())
	assert.Empty(t, doc.Diagnostics)
	assert.Len(t, seen, 2)
}

func TestIndexFiles_AggregatesErrors(t *testing.T) {
	t.Parallel()
	p := newProject(t)
	e := newTestEngine(t, p)

	err := e.IndexFiles(context.Background(), []string{p.main, filepath.Join(p.root, "gone.cpp")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "indexing had 1 error(s)")
	assert.Equal(t, 1, e.Snapshot().Len())
}

// =============================================================================
// Dependency table
// =============================================================================

func TestDependencyTable_FollowsSnapshot(t *testing.T) {
	t.Parallel()
	e, p := indexedEngine(t)

	first := e.DependencyTable()
	assert.Same(t, first, e.DependencyTable(), "unchanged snapshot reuses the table")
	require.NoError(t, first.Verify(e.Snapshot()))

	require.NoError(t, e.Apply(context.Background(), Change{
		Path:    p.header,
		Content: []byte(baseHeader + "int extra;\n"),
		ModTime: time.Now().Add(time.Hour),
	}))
	second := e.DependencyTable()
	assert.NotSame(t, first, second)
	require.NoError(t, second.Verify(e.Snapshot()))
	assert.Equal(t, []string{p.header}, second.Modified())
	assert.ErrorIs(t, first.Verify(e.Snapshot()), deps.ErrStaleTable)
}

func TestQuery_PinnedToSnapshot(t *testing.T) {
	t.Parallel()
	e, p := indexedEngine(t)
	before := e.Query()

	require.NoError(t, e.Remove(p.header))
	e.Flush()

	after := e.Query()
	assert.Equal(t, []string{p.main}, before.FilesDependingOn(p.header))
	assert.Empty(t, after.FilesDependingOn(p.header))
	assert.Greater(t, after.Generation(), before.Generation())
}

func TestReparseDependents(t *testing.T) {
	t.Parallel()
	e, p := indexedEngine(t, WithReparseDependents(true))
	old, ok := e.Snapshot().Document(p.main)
	require.True(t, ok)

	require.NoError(t, e.Apply(context.Background(), Change{
		Path:    p.header,
		Content: []byte(baseHeader + "int extra;\n"),
		ModTime: time.Now().Add(time.Hour),
	}))
	e.Flush()

	cur, ok := e.Snapshot().Document(p.main)
	require.True(t, ok)
	assert.NotSame(t, old, cur)
	assert.Equal(t, old.Revision, cur.Revision)
}

func TestReparseDependents_KeepsQueryBaseline(t *testing.T) {
	t.Parallel()
	for _, reparse := range []bool{false, true} {
		t.Run(fmt.Sprintf("reparse=%v", reparse), func(t *testing.T) {
			t.Parallel()
			e, p := indexedEngine(t, WithReparseDependents(reparse))
			e.Query()

			require.NoError(t, e.Apply(context.Background(), Change{
				Path:    p.header,
				Content: []byte(baseHeader + "int extra;\n"),
				ModTime: time.Now().Add(time.Hour),
			}))
			e.Flush()

			q := e.Query()
			assert.Equal(t, []string{p.header}, q.Modified())
			assert.Equal(t, []string{p.main}, q.Invalidated())
		})
	}
}

func TestReparseDependents_HeaderCreatedAndDeleted(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	main := filepath.Join(root, "m.cpp")
	header := filepath.Join(root, "h.h")
	writeFile(t, main, "#include \"h.h\"\nvoid use() {\n  Widget w;\n}\n")

	e := New(WithReparseDependents(true), WithWorkers(2))
	t.Cleanup(func() { e.Close() })
	ctx := context.Background()
	require.NoError(t, e.IndexDirectory(ctx, root))

	q := e.Query()
	doc, ok := q.Document(main)
	require.True(t, ok)
	ref := doc.ModTime.Add(time.Minute)
	require.Len(t, q.Diagnostics(main), 1)
	assert.Empty(t, q.MatchesFor(main, 2, 2, "Widget"))
	stale, reason := q.AnyNewerDeps(main, ref)
	assert.True(t, stale)
	assert.Contains(t, reason, `"h.h"`)

	// Creating the header resolves the include.
	writeFile(t, header, "struct Widget {};\n")
	require.NoError(t, e.Apply(ctx, Change{Path: header, ModTime: ref.Add(time.Minute)}))
	e.Flush()

	q = e.Query()
	assert.Equal(t, []string{main}, q.FilesDependingOn(header))
	assert.Empty(t, q.Diagnostics(main))
	assert.NotEmpty(t, q.MatchesFor(main, 2, 2, "Widget"))
	assert.Equal(t, []string{main}, q.Invalidated())
	stale, reason = q.AnyNewerDeps(main, ref)
	assert.True(t, stale)
	assert.Contains(t, reason, header)

	// Deleting it invalidates the includer again.
	require.NoError(t, os.Remove(header))
	require.NoError(t, e.Remove(header))
	e.Flush()

	q = e.Query()
	assert.Equal(t, []string{main}, q.Invalidated())
	stale, reason = q.AnyNewerDeps(main, ref.Add(time.Hour))
	assert.True(t, stale)
	assert.Contains(t, reason, `"h.h"`)
	require.Len(t, q.Diagnostics(main), 1)
	assert.Empty(t, q.MatchesFor(main, 2, 2, "Widget"))
}

// =============================================================================
// Watching
// =============================================================================

func TestWatch_PicksUpChanges(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Debounce = 20 * time.Millisecond
	e := New(WithConfig(root, cfg), WithWorkers(1))
	t.Cleanup(func() { e.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Watch(ctx, root) }()

	added := filepath.Join(root, "src", "added.cpp")
	require.NoError(t, os.MkdirAll(filepath.Dir(added), 0o755))
	// Rewrite until the watcher, which starts asynchronously, reports it.
	require.Eventually(t, func() bool {
		if _, ok := e.Snapshot().Document(added); ok {
			return true
		}
		_ = os.WriteFile(added, []byte("int added;\n"), 0o644)
		return false
	}, 5*time.Second, 100*time.Millisecond)

	ignored := filepath.Join(root, "notes.txt")
	writeFile(t, ignored, "not C++\n")
	require.NoError(t, os.Remove(added))
	require.Eventually(t, func() bool {
		_, ok := e.Snapshot().Document(added)
		return !ok
	}, 5*time.Second, 20*time.Millisecond)
	e.Flush()
	_, ok := e.Snapshot().Document(ignored)
	assert.False(t, ok)

	cancel()
	require.NoError(t, <-done)
}

// =============================================================================
// Export and scripting
// =============================================================================

func TestExport(t *testing.T) {
	t.Parallel()
	e, p := indexedEngine(t)
	dbPath := filepath.Join(t.TempDir(), "out", "model.db")

	stats, err := e.Export(context.Background(), dbPath)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, 1, stats.Dependents)

	s, err := store.NewStore(dbPath)
	require.NoError(t, err)
	defer s.Close()
	dependents, err := s.FilesDependingOn(p.header)
	require.NoError(t, err)
	assert.Equal(t, []string{p.main}, dependents)
}

func TestRuntime(t *testing.T) {
	t.Parallel()
	e, p := indexedEngine(t)

	v, err := e.Runtime().Eval(context.Background(), fmt.Sprintf("len(files_depending_on(%q))", p.header))
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)
}
