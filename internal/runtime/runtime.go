// Package runtime embeds a Risor VM with host functions over one
// Snapshot, so ad-hoc queries against the semantic model can be scripted.
package runtime

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"

	"github.com/jward/cppmodel/internal/deps"
	"github.com/jward/cppmodel/internal/snapshot"
	"github.com/jward/cppmodel/internal/store"
)

// Runtime runs scripts against a fixed Snapshot and its dependency table.
type Runtime struct {
	snap       *snapshot.Snapshot
	table      *deps.Table
	store      *store.Store
	logger     *slog.Logger
	scriptsDir string
	fsys       fs.FS
	sources    *sourceStore
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithRuntimeFS configures the Runtime to load scripts from an fs.FS
// instead of from disk. Also configures the Risor importer to use
// FSImporter for import statement resolution.
func WithRuntimeFS(fsys fs.FS) RuntimeOption {
	return func(r *Runtime) {
		r.fsys = fsys
	}
}

// WithScriptsDir sets the directory relative script paths and imports
// are resolved against.
func WithScriptsDir(dir string) RuntimeOption {
	return func(r *Runtime) {
		r.scriptsDir = dir
	}
}

// WithStore exposes an exported database to scripts through db_query, the
// db_files_* include-graph queries and the symbols_* functions.
func WithStore(s *store.Store) RuntimeOption {
	return func(r *Runtime) {
		r.store = s
	}
}

// WithLogger sets the logger behind the scripts' log object.
func WithLogger(l *slog.Logger) RuntimeOption {
	return func(r *Runtime) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRuntime creates a Runtime over snap. A nil table is built from snap.
func NewRuntime(snap *snapshot.Snapshot, table *deps.Table, opts ...RuntimeOption) *Runtime {
	if snap == nil {
		snap = snapshot.Empty()
	}
	if table == nil {
		table = deps.Build(snap)
	}
	r := &Runtime{
		snap:    snap,
		table:   table,
		logger:  slog.New(slog.DiscardHandler),
		sources: newSourceStore(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunScript loads and executes a Risor script with all standard globals
// plus any extra globals provided by the caller.
func (r *Runtime) RunScript(ctx context.Context, scriptPath string, extraGlobals map[string]any) error {
	src, err := r.LoadScript(scriptPath)
	if err != nil {
		return err
	}
	_, err = r.eval(ctx, src, scriptPath, extraGlobals)
	return err
}

// RunSource executes Risor source code directly with all standard globals
// plus any extra globals.
func (r *Runtime) RunSource(ctx context.Context, source string, extraGlobals map[string]any) error {
	_, err := r.eval(ctx, source, "<inline>", extraGlobals)
	return err
}

// Eval executes source and returns the value of its last expression
// converted to Go.
func (r *Runtime) Eval(ctx context.Context, source string) (any, error) {
	res, err := r.eval(ctx, source, "<inline>", nil)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	return res.Interface(), nil
}

func (r *Runtime) eval(ctx context.Context, source, label string, extraGlobals map[string]any) (object.Object, error) {
	globals := r.buildGlobals(extraGlobals)

	var opts []risor.Option
	for name, val := range globals {
		opts = append(opts, risor.WithGlobal(name, val))
	}

	if imp := r.buildImporter(globals); imp != nil {
		opts = append(opts, risor.WithImporter(imp))
	}

	res, err := risor.Eval(ctx, source, opts...)
	if err != nil {
		return nil, fmt.Errorf("runtime: script %s: %w", label, err)
	}
	return res, nil
}

// buildImporter returns a Risor importer configured for the Runtime's script source.
// Returns nil if neither fs.FS nor scriptsDir is configured.
func (r *Runtime) buildImporter(globals map[string]any) importer.Importer {
	globalNames := make([]string, 0, len(globals))
	for name := range globals {
		globalNames = append(globalNames, name)
	}

	if r.fsys != nil {
		return importer.NewFSImporter(importer.FSImporterOptions{
			GlobalNames: globalNames,
			SourceFS:    r.fsys,
			Extensions:  []string{".risor"},
		})
	}
	if r.scriptsDir != "" {
		return importer.NewLocalImporter(importer.LocalImporterOptions{
			GlobalNames: globalNames,
			SourceDir:   r.scriptsDir,
			Extensions:  []string{".risor"},
		})
	}
	return nil
}

// LoadScript reads a .risor file and returns its source code.
// When an fs.FS is configured, uses fs.ReadFile on the embedded filesystem.
// Otherwise, uses os.ReadFile with scriptsDir as the base directory.
func (r *Runtime) LoadScript(path string) (string, error) {
	if r.fsys != nil {
		fsPath := strings.TrimPrefix(filepath.ToSlash(path), "/")
		data, err := fs.ReadFile(r.fsys, fsPath)
		if err != nil {
			return "", fmt.Errorf("runtime: loading script %s from fs: %w", fsPath, err)
		}
		return string(data), nil
	}

	fullPath := path
	if !filepath.IsAbs(path) && r.scriptsDir != "" {
		fullPath = filepath.Join(r.scriptsDir, path)
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("runtime: loading script %s: %w", fullPath, err)
	}
	return string(data), nil
}

// buildGlobals constructs the full set of globals exposed to Risor scripts.
func (r *Runtime) buildGlobals(extra map[string]any) map[string]any {
	globals := map[string]any{
		// Syntax
		"parse":      makeParseFn(r.sources),
		"parse_src":  makeParseSrcFn(r.sources),
		"node_text":  makeNodeTextFn(r.sources),
		"node_child": makeNodeChildFn(),
		"query":      makeQueryFn(r.sources),
		"log":        mustProxy(&logObject{logger: r.logger}),

		// Snapshot
		"generation":         object.NewInt(int64(r.snap.Generation())),
		"files":              makeFilesFn(r.snap),
		"document":           makeDocumentFn(r.snap),
		"includes":           makeIncludesFn(r.table),
		"files_depending_on": makeFilesDependingOnFn(r.table),
		"any_newer_deps":     makeAnyNewerDepsFn(r.table),
		"scope_at":           makeScopeAtFn(r.snap),
		"matches_for":        makeMatchesForFn(r.snap),
		"canonical_symbol":   makeCanonicalSymbolFn(r.snap),
	}

	// Exported database, when one is attached.
	if r.store != nil {
		globals["symbols_by_name"] = makeSymbolsByNameFn(r.store)
		globals["symbols_by_qualified_name"] = makeSymbolsByQualifiedNameFn(r.store)
		globals["scope_chain"] = makeScopeChainFn(r.store)
		globals["db_query"] = makeDBQueryFn(r.store)
		globals["db_files_depending_on"] = makeStorePathsFn("db_files_depending_on", r.store.FilesDependingOn)
		globals["db_files_included_by"] = makeStorePathsFn("db_files_included_by", r.store.FilesIncludedBy)
		globals["db_files_including"] = makeStorePathsFn("db_files_including", r.store.FilesIncluding)
	}

	for k, v := range extra {
		globals[k] = v
	}
	return globals
}

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("runtime: proxy error: %v", err))
	}
	return p
}
