package cppmodel

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jward/cppmodel/internal/config"
	"github.com/jward/cppmodel/internal/deps"
	"github.com/jward/cppmodel/internal/indexer"
	"github.com/jward/cppmodel/internal/parser"
	"github.com/jward/cppmodel/internal/runtime"
	"github.com/jward/cppmodel/internal/snapshot"
	"github.com/jward/cppmodel/internal/store"
)

// Engine is the context object every query goes through. It owns the
// indexer that publishes Snapshots and the dependency table derived from
// them. There is no package-level state; construct one Engine per project.
type Engine struct {
	parser            parser.Parser
	cfg               *config.Config
	root              string
	includePaths      []string
	macros            map[string]string
	workers           int
	logger            *slog.Logger
	reparseDependents bool
	progress          func(path string)

	ix *indexer.Indexer

	// tables backs DependencyTable and Query. The indexer derives its own
	// from ixTables so background reparses never move the caller's
	// "modified since the last table" baseline.
	tables   tableCache
	ixTables tableCache
}

// tableCache holds the newest dependency table derived for one consumer.
// The mutex serializes rebuilds so no caller sees a table that belongs to a
// different Snapshot than the one it pinned.
type tableCache struct {
	mu    sync.Mutex
	table *deps.Table
}

// forSnapshot returns a table built from exactly snap and whether it had to
// be derived. Only a table for a newer generation than the cached one
// replaces the cache.
func (c *tableCache) forSnapshot(snap *snapshot.Snapshot) (*deps.Table, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.table != nil && c.table.Generation() == snap.Generation() {
		return c.table, false
	}
	t := deps.Update(c.table, snap)
	if c.table == nil || t.Generation() > c.table.Generation() {
		c.table = t
	}
	return t, true
}

// Option configures an Engine.
type Option func(*Engine)

// WithParser replaces the tree-sitter parser.
func WithParser(p parser.Parser) Option {
	return func(e *Engine) { e.parser = p }
}

// WithIncludePaths sets the directories searched for includes.
func WithIncludePaths(paths ...string) Option {
	return func(e *Engine) { e.includePaths = append([]string(nil), paths...) }
}

// WithMacros sets the macros predefined for every parse.
func WithMacros(macros map[string]string) Option {
	return func(e *Engine) { e.macros = macros }
}

// WithWorkers bounds concurrent parses. Zero uses the number of CPUs.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithLogger sets the structured logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithReparseDependents makes a changed header reparse the files that
// include it.
func WithReparseDependents(on bool) Option {
	return func(e *Engine) { e.reparseDependents = on }
}

// WithProgress registers a callback invoked once per file of a bulk index.
func WithProgress(fn func(path string)) Option {
	return func(e *Engine) { e.progress = fn }
}

// WithConfig applies a project configuration rooted at root. Options
// given after it override the corresponding settings.
func WithConfig(root string, cfg *config.Config) Option {
	return func(e *Engine) {
		if cfg == nil {
			return
		}
		e.cfg = cfg
		e.root = root
		e.includePaths = cfg.ResolvedIncludePaths(root)
		e.macros = cfg.PredefinedMacros()
		e.workers = cfg.Workers
		e.reparseDependents = cfg.ReparseDependents
	}
}

// New creates an Engine with an empty Snapshot.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.parser == nil {
		e.parser = parser.NewTreeSitter()
	}

	ixOpts := []indexer.Option{
		indexer.WithIncludePaths(e.includePaths...),
		indexer.WithMacros(e.macros),
		indexer.WithWorkers(e.workers),
		indexer.WithLogger(e.logger),
	}
	if e.reparseDependents {
		ixOpts = append(ixOpts, indexer.WithDependents(func(path string) []string {
			t, _ := e.ixTables.forSnapshot(e.ix.Snapshot())
			return t.FilesDependingOn(path)
		}))
	}
	if e.progress != nil {
		ixOpts = append(ixOpts, indexer.WithProgress(e.progress))
	}
	e.ix = indexer.New(e.parser, ixOpts...)
	return e
}

// Close stops background parsing. Snapshots already handed out stay valid.
func (e *Engine) Close() error {
	return e.ix.Close()
}

// Snapshot returns the most recently published Snapshot.
func (e *Engine) Snapshot() *snapshot.Snapshot {
	return e.ix.Snapshot()
}

// DependencyTable returns the table for the current Snapshot, updating the
// cached one when the Snapshot has moved on.
func (e *Engine) DependencyTable() *deps.Table {
	return e.tableFor(e.Snapshot())
}

// tableFor returns the caller-visible table built from exactly snap.
func (e *Engine) tableFor(snap *snapshot.Snapshot) *deps.Table {
	start := time.Now()
	t, built := e.tables.forSnapshot(snap)
	if !built {
		return t
	}
	e.logger.Debug("engine.deps", "generation", t.Generation(), "files", t.Len(),
		"edges", t.Edges(), "modified", len(t.Modified()), "elapsed", time.Since(start))
	return t
}

// Query returns a QueryBuilder pinned to the current Snapshot.
func (e *Engine) Query() *QueryBuilder {
	snap := e.Snapshot()
	return &QueryBuilder{snap: snap, table: e.tableFor(snap)}
}

// Change is one file event for Apply and Submit.
type Change = indexer.Change

// Apply parses and publishes one change before returning.
func (e *Engine) Apply(ctx context.Context, c Change) error {
	return e.ix.Apply(ctx, c)
}

// Submit queues a change for background parsing.
func (e *Engine) Submit(c Change) error {
	return e.ix.Submit(c)
}

// Remove queues the removal of path from the model.
func (e *Engine) Remove(path string) error {
	return e.ix.Remove(path)
}

// Flush waits until no change is queued or being parsed.
func (e *Engine) Flush() {
	e.ix.Flush()
}

// IndexFiles parses paths from disk. Errors on individual files are
// aggregated; the other files are still indexed.
func (e *Engine) IndexFiles(ctx context.Context, paths []string) error {
	start := time.Now()
	err := e.ix.IndexFiles(ctx, paths)
	e.logger.Info("engine.index", "files", len(paths), "generation", e.Snapshot().Generation(),
		"elapsed", time.Since(start))
	return err
}

// skipDirs are never descended into by the fallback walk.
var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"build":        true,
}

// IndexDirectory discovers the C++ files under root and indexes them.
func (e *Engine) IndexDirectory(ctx context.Context, root string) error {
	paths, err := e.Discover(root)
	if err != nil {
		return err
	}
	return e.IndexFiles(ctx, paths)
}

// Discover lists the C++ files under root. Inside a git work tree it uses
// git ls-files so .gitignore is respected; otherwise it walks the tree,
// skipping hidden and build directories. The configured include and
// exclude globs apply either way.
func (e *Engine) Discover(root string) ([]string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}
	paths, err := e.gitListFiles(abs)
	if err != nil {
		e.logger.Debug("engine.discover", "root", abs, "fallback", "walk", "err", err)
		paths, err = e.walkListFiles(abs)
		if err != nil {
			return nil, err
		}
	}
	return paths, nil
}

func (e *Engine) gitListFiles(root string) ([]string, error) {
	cmd := exec.Command("git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git ls-files: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var paths []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		path := filepath.Join(root, filepath.FromSlash(line))
		if e.wanted(root, path) {
			paths = append(paths, path)
		}
	}
	return paths, nil
}

func (e *Engine) walkListFiles(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == root {
				return nil
			}
			name := d.Name()
			if strings.HasPrefix(name, ".") || skipDirs[name] {
				return filepath.SkipDir
			}
			if e.cfg != nil {
				if rel, err := filepath.Rel(e.configRoot(root), path); err == nil && e.cfg.ExcludesDir(rel) {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if e.wanted(root, path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}
	return paths, nil
}

// wanted reports whether path is a C++ file accepted by the configured
// globs. Globs are matched relative to the configuration root.
func (e *Engine) wanted(root, path string) bool {
	if !parser.IsCppFile(path) {
		return false
	}
	if e.cfg == nil {
		return true
	}
	rel, err := filepath.Rel(e.configRoot(root), path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	return e.cfg.Matches(rel)
}

func (e *Engine) configRoot(fallback string) string {
	if e.root == "" {
		return fallback
	}
	if abs, err := filepath.Abs(e.root); err == nil {
		return abs
	}
	return e.root
}

// ExportStats counts the rows written by Export.
type ExportStats = store.ExportStats

// Export writes the current Snapshot and its dependency table to the
// SQLite database at dbPath, replacing any earlier export.
func (e *Engine) Export(ctx context.Context, dbPath string) (ExportStats, error) {
	snap := e.Snapshot()
	tbl := e.tableFor(snap)

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return ExportStats{}, fmt.Errorf("cppmodel: export: %w", err)
		}
	}
	s, err := store.NewStore(dbPath)
	if err != nil {
		return ExportStats{}, fmt.Errorf("cppmodel: create store: %w", err)
	}
	defer s.Close()
	if err := s.Migrate(); err != nil {
		return ExportStats{}, fmt.Errorf("cppmodel: migrate: %w", err)
	}

	start := time.Now()
	stats, err := s.Export(ctx, snap, tbl)
	if err != nil {
		return stats, err
	}
	e.logger.Info("engine.export", "db", dbPath, "files", stats.Files, "symbols", stats.Symbols,
		"elapsed", time.Since(start))
	return stats, nil
}

// Runtime returns a Risor runtime over the current Snapshot.
func (e *Engine) Runtime(opts ...runtime.RuntimeOption) *runtime.Runtime {
	snap := e.Snapshot()
	opts = append([]runtime.RuntimeOption{runtime.WithLogger(e.logger)}, opts...)
	return runtime.NewRuntime(snap, e.tableFor(snap), opts...)
}
