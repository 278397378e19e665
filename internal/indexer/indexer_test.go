package indexer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/cppmodel/internal/deps"
	"github.com/jward/cppmodel/internal/parser"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// countingParser wraps the tree-sitter parser, counts parses per path and
// blocks on content "block" until the job is canceled. Includes resolve
// against the known set, which tests may change.
type countingParser struct {
	inner   parser.Parser
	mu      sync.Mutex
	calls   map[string]int
	known   map[string]bool
	started chan struct{}
	once    sync.Once
}

func newCountingParser(known ...string) *countingParser {
	p := &countingParser{
		calls:   make(map[string]int),
		known:   make(map[string]bool, len(known)),
		started: make(chan struct{}),
	}
	for _, k := range known {
		p.known[filepath.Clean(k)] = true
	}
	p.inner = &parser.TreeSitter{Exists: p.exists}
	return p
}

func (p *countingParser) exists(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.known[filepath.Clean(path)]
}

func (p *countingParser) setExists(path string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.known[filepath.Clean(path)] = ok
}

func (p *countingParser) Parse(ctx context.Context, req parser.Request) (*parser.Result, error) {
	p.mu.Lock()
	p.calls[req.Path]++
	p.mu.Unlock()
	if string(req.Content) == "block" {
		p.once.Do(func() { close(p.started) })
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return p.inner.Parse(ctx, req)
}

func (p *countingParser) count(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[path]
}

func newIndexer(t *testing.T, p parser.Parser, opts ...Option) *Indexer {
	t.Helper()
	ix := New(p, append([]Option{WithWorkers(2)}, opts...)...)
	t.Cleanup(func() { ix.Close() })
	return ix
}

// =============================================================================
// Apply / Submit
// =============================================================================

func TestApply_Publishes(t *testing.T) {
	t.Parallel()
	ix := newIndexer(t, newCountingParser())

	require.NoError(t, ix.Apply(context.Background(), Change{Path: "/p/a.cpp", Content: []byte("int x;"), ModTime: t0}))

	snap := ix.Snapshot()
	doc, ok := snap.Document("/p/a.cpp")
	require.True(t, ok)
	assert.Equal(t, "int x;", string(doc.Source))
	assert.Equal(t, t0, doc.ModTime)
	assert.Equal(t, uint64(1), snap.Generation())
	require.Len(t, doc.Global.Find("x"), 1)
}

func TestApply_SkipsUnchanged(t *testing.T) {
	t.Parallel()
	p := newCountingParser()
	ix := newIndexer(t, p)
	c := Change{Path: "/p/a.cpp", Content: []byte("int x;"), ModTime: t0}

	require.NoError(t, ix.Apply(context.Background(), c))
	first := ix.Snapshot()
	require.NoError(t, ix.Apply(context.Background(), c))

	assert.Same(t, first, ix.Snapshot())
	assert.Equal(t, 1, p.count("/p/a.cpp"))

	c.ModTime = t0.Add(time.Second)
	require.NoError(t, ix.Apply(context.Background(), c))
	assert.Equal(t, 2, p.count("/p/a.cpp"))
}

func TestApply_OldSnapshotUnaffected(t *testing.T) {
	t.Parallel()
	ix := newIndexer(t, newCountingParser())
	require.NoError(t, ix.Apply(context.Background(), Change{Path: "/p/a.cpp", Content: []byte("int x;"), ModTime: t0}))
	before := ix.Snapshot()

	require.NoError(t, ix.Apply(context.Background(), Change{Path: "/p/a.cpp", Content: []byte("int y;"), ModTime: t0}))

	old, _ := before.Document("/p/a.cpp")
	cur, _ := ix.Snapshot().Document("/p/a.cpp")
	assert.Equal(t, "int x;", string(old.Source))
	assert.Equal(t, "int y;", string(cur.Source))
}

func TestSubmit_NewerChangeSupersedes(t *testing.T) {
	t.Parallel()
	p := newCountingParser()
	ix := newIndexer(t, p)

	require.NoError(t, ix.Submit(Change{Path: "/p/a.cpp", Content: []byte("block"), ModTime: t0}))
	select {
	case <-p.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first job never started")
	}
	require.NoError(t, ix.Submit(Change{Path: "/p/a.cpp", Content: []byte("int v2;"), ModTime: t0}))
	ix.Flush()

	snap := ix.Snapshot()
	doc, ok := snap.Document("/p/a.cpp")
	require.True(t, ok)
	assert.Equal(t, "int v2;", string(doc.Source))
	assert.Equal(t, uint64(1), snap.Generation(), "the canceled job must not publish")
}

func TestApply_CanceledContext(t *testing.T) {
	t.Parallel()
	ix := newIndexer(t, newCountingParser())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ix.Apply(ctx, Change{Path: "/p/a.cpp", Content: []byte("int x;"), ModTime: t0})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, ix.Snapshot().Len())
}

func TestRemove(t *testing.T) {
	t.Parallel()
	ix := newIndexer(t, newCountingParser())
	require.NoError(t, ix.Apply(context.Background(), Change{Path: "/p/a.cpp", Content: []byte("int x;"), ModTime: t0}))

	require.NoError(t, ix.Remove("/p/a.cpp"))
	ix.Flush()

	_, ok := ix.Snapshot().Document("/p/a.cpp")
	assert.False(t, ok)
}

func TestClose_RejectsChanges(t *testing.T) {
	t.Parallel()
	ix := New(newCountingParser(), WithWorkers(1))
	require.NoError(t, ix.Close())
	require.NoError(t, ix.Close())

	assert.ErrorIs(t, ix.Submit(Change{Path: "/p/a.cpp"}), ErrClosed)
	assert.ErrorIs(t, ix.Apply(context.Background(), Change{Path: "/p/a.cpp"}), ErrClosed)
}

// =============================================================================
// IndexFiles
// =============================================================================

func TestIndexFiles_ReadsDiskAndAggregatesErrors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a := filepath.Join(dir, "a.cpp")
	b := filepath.Join(dir, "b.h")
	require.NoError(t, os.WriteFile(a, []byte("#include \"b.h\"\nint a;\n"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("int b;\n"), 0o644))

	var mu sync.Mutex
	var seen []string
	ix := newIndexer(t, parser.NewTreeSitter(), WithProgress(func(path string) {
		mu.Lock()
		seen = append(seen, path)
		mu.Unlock()
	}))

	err := ix.IndexFiles(context.Background(), []string{a, b, filepath.Join(dir, "missing.cpp")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "indexing had 1 error(s)")
	assert.Contains(t, err.Error(), "missing.cpp")

	snap := ix.Snapshot()
	assert.Equal(t, 2, snap.Len())
	doc, ok := snap.Document(a)
	require.True(t, ok)
	assert.Equal(t, []string{b}, doc.IncludedFiles())
	assert.False(t, doc.ModTime.IsZero())
	assert.Len(t, seen, 3)
}

// =============================================================================
// Dependents
// =============================================================================

func TestReparseDependents(t *testing.T) {
	t.Parallel()
	p := newCountingParser("/p/h.h")
	var ix *Indexer
	ix = newIndexer(t, p, WithDependents(func(path string) []string {
		return deps.Build(ix.Snapshot()).FilesDependingOn(path)
	}))
	ctx := context.Background()

	require.NoError(t, ix.Apply(ctx, Change{Path: "/p/h.h", Content: []byte("int h;"), ModTime: t0}))
	require.NoError(t, ix.Apply(ctx, Change{Path: "/p/a.cpp", Content: []byte("#include \"h.h\"\n"), ModTime: t0}))
	require.NoError(t, ix.Apply(ctx, Change{Path: "/p/other.cpp", Content: []byte("int o;"), ModTime: t0}))
	require.Equal(t, 1, p.count("/p/a.cpp"))

	require.NoError(t, ix.Apply(ctx, Change{Path: "/p/h.h", Content: []byte("int h2;"), ModTime: t0.Add(time.Second)}))
	ix.Flush()

	assert.Equal(t, 2, p.count("/p/a.cpp"))
	assert.Equal(t, 1, p.count("/p/other.cpp"))
}

func TestReparseDependents_DisabledByDefault(t *testing.T) {
	t.Parallel()
	p := newCountingParser("/p/h.h")
	ix := newIndexer(t, p)
	ctx := context.Background()

	require.NoError(t, ix.Apply(ctx, Change{Path: "/p/h.h", Content: []byte("int h;"), ModTime: t0}))
	require.NoError(t, ix.Apply(ctx, Change{Path: "/p/a.cpp", Content: []byte("#include \"h.h\"\n"), ModTime: t0}))
	require.NoError(t, ix.Apply(ctx, Change{Path: "/p/h.h", Content: []byte("int h2;"), ModTime: t0}))
	require.NoError(t, ix.Apply(ctx, Change{Path: "/p/b.cpp", Content: []byte("#include \"g.h\"\n"), ModTime: t0}))
	p.setExists("/p/g.h", true)
	require.NoError(t, ix.Apply(ctx, Change{Path: "/p/g.h", Content: []byte("int g;"), ModTime: t0}))
	require.NoError(t, ix.Apply(ctx, Change{Path: "/p/h.h", Remove: true}))
	ix.Flush()

	assert.Equal(t, 1, p.count("/p/a.cpp"))
	assert.Equal(t, 1, p.count("/p/b.cpp"))
}

func dependentsIndexer(t *testing.T, p parser.Parser) *Indexer {
	t.Helper()
	var ix *Indexer
	ix = newIndexer(t, p, WithDependents(func(path string) []string {
		return deps.Build(ix.Snapshot()).FilesDependingOn(path)
	}))
	return ix
}

func TestReparseDependents_NewFileSatisfiesInclude(t *testing.T) {
	t.Parallel()
	p := newCountingParser()
	ix := dependentsIndexer(t, p)
	ctx := context.Background()

	require.NoError(t, ix.Apply(ctx, Change{Path: "/p/a.cpp", Content: []byte("#include \"h.h\"\n"), ModTime: t0}))
	require.NoError(t, ix.Apply(ctx, Change{Path: "/p/b.cpp", Content: []byte("#include \"other.h\"\n"), ModTime: t0}))
	doc, _ := ix.Snapshot().Document("/p/a.cpp")
	require.Len(t, doc.Diagnostics, 1)

	p.setExists("/p/h.h", true)
	require.NoError(t, ix.Apply(ctx, Change{Path: "/p/h.h", Content: []byte("struct Widget {};"), ModTime: t0}))
	ix.Flush()

	assert.Equal(t, 2, p.count("/p/a.cpp"))
	assert.Equal(t, 1, p.count("/p/b.cpp"))
	doc, ok := ix.Snapshot().Document("/p/a.cpp")
	require.True(t, ok)
	assert.Equal(t, []string{"/p/h.h"}, doc.IncludedFiles())
	assert.Empty(t, doc.Diagnostics)
	assert.Equal(t, []string{"/p/a.cpp"}, deps.Build(ix.Snapshot()).FilesDependingOn("/p/h.h"))

	// Publishing h.h again is an edit, not a creation.
	require.NoError(t, ix.Apply(ctx, Change{Path: "/p/h.h", Content: []byte("struct Widget {};"), ModTime: t0}))
	ix.Flush()
	assert.Equal(t, 2, p.count("/p/a.cpp"))
}

func TestReparseDependents_RemovedFileReparsesIncluders(t *testing.T) {
	t.Parallel()
	p := newCountingParser("/p/h.h", "/p/g.h")
	ix := dependentsIndexer(t, p)
	ctx := context.Background()

	require.NoError(t, ix.Apply(ctx, Change{Path: "/p/g.h", Content: []byte("int g;"), ModTime: t0}))
	require.NoError(t, ix.Apply(ctx, Change{Path: "/p/h.h", Content: []byte("#include \"g.h\"\n"), ModTime: t0}))
	require.NoError(t, ix.Apply(ctx, Change{Path: "/p/a.cpp", Content: []byte("#include \"h.h\"\n"), ModTime: t0}))
	require.NoError(t, ix.Apply(ctx, Change{Path: "/p/other.cpp", Content: []byte("int o;"), ModTime: t0}))

	p.setExists("/p/g.h", false)
	require.NoError(t, ix.Apply(ctx, Change{Path: "/p/g.h", Remove: true}))
	ix.Flush()

	assert.Equal(t, 2, p.count("/p/h.h"))
	assert.Equal(t, 2, p.count("/p/a.cpp"), "transitive includers are reparsed too")
	assert.Equal(t, 1, p.count("/p/other.cpp"))
	doc, ok := ix.Snapshot().Document("/p/h.h")
	require.True(t, ok)
	assert.Empty(t, doc.IncludedFiles())
	require.Len(t, doc.Diagnostics, 1)
	assert.Contains(t, doc.Diagnostics[0].Message, "g.h")

	// Recreating g.h resolves the include again.
	p.setExists("/p/g.h", true)
	require.NoError(t, ix.Apply(ctx, Change{Path: "/p/g.h", Content: []byte("int g;"), ModTime: t0}))
	ix.Flush()
	doc, _ = ix.Snapshot().Document("/p/h.h")
	assert.Equal(t, []string{"/p/g.h"}, doc.IncludedFiles())
	assert.Equal(t, 3, p.count("/p/h.h"))
}
