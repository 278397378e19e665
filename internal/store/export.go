package store

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/jward/cppmodel/internal/deps"
	"github.com/jward/cppmodel/internal/parser"
	"github.com/jward/cppmodel/internal/snapshot"
	"github.com/jward/cppmodel/internal/symbols"
)

// Metadata keys written by Export.
const (
	MetaGeneration = "generation"
	MetaFiles      = "files"
)

// ExportStats counts the rows written by Export.
type ExportStats struct {
	Files      int
	Scopes     int
	Symbols    int
	Dependents int
}

// Export replaces the database contents with snap and its dependency
// table. Documents are extracted in parallel into BatchedStores and
// committed in one transaction, so readers see either the previous export
// or this one. A nil tbl is built from snap.
func (s *Store) Export(ctx context.Context, snap *snapshot.Snapshot, tbl *deps.Table) (ExportStats, error) {
	var stats ExportStats
	if tbl == nil {
		tbl = deps.Build(snap)
	}
	if err := tbl.Verify(snap); err != nil {
		return stats, fmt.Errorf("export: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("export: begin: %w", err)
	}
	defer tx.Rollback()

	for _, table := range tables {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return stats, fmt.Errorf("export: clear %s: %w", table, err)
		}
	}

	paths := snap.Paths()
	ids := make(map[string]int64, len(paths))
	docs := make([]*snapshot.Document, len(paths))
	for i, path := range paths {
		doc, _ := snap.Document(path)
		docs[i] = doc
		f := fileRow(doc)
		if _, err := insertFileTx(tx, f); err != nil {
			return stats, fmt.Errorf("export: file %s: %w", path, err)
		}
		ids[path] = f.ID
	}
	stats.Files = len(paths)

	batches := make([]*BatchedStore, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, doc := range docs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			b := NewBatchedStore()
			if err := Extract(b, ids[doc.Path], doc); err != nil {
				return fmt.Errorf("extract %s: %w", doc.Path, err)
			}
			batches[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, fmt.Errorf("export: %w", err)
	}

	for _, b := range batches {
		if err := commitBatchTx(tx, b); err != nil {
			return stats, fmt.Errorf("export: %w", err)
		}
		stats.Scopes += len(b.Scopes)
		stats.Symbols += len(b.Symbols)
	}

	for _, path := range tbl.Files() {
		fileID, ok := ids[path]
		if !ok {
			continue
		}
		for _, dep := range tbl.FilesDependingOn(path) {
			depID, ok := ids[dep]
			if !ok {
				continue
			}
			if _, err := tx.Exec("INSERT INTO dependents (file_id, dependent_file_id) VALUES (?, ?)", fileID, depID); err != nil {
				return stats, fmt.Errorf("export: dependent %s of %s: %w", dep, path, err)
			}
			stats.Dependents++
		}
	}

	if err := setMeta(tx, MetaGeneration, strconv.FormatUint(snap.Generation(), 10)); err != nil {
		return stats, fmt.Errorf("export: %w", err)
	}
	if err := setMeta(tx, MetaFiles, strconv.Itoa(stats.Files)); err != nil {
		return stats, fmt.Errorf("export: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("export: commit: %w", err)
	}
	return stats, nil
}

func fileRow(doc *snapshot.Document) *File {
	kind := "source"
	if parser.IsHeader(doc.Path) {
		kind = "header"
	}
	return &File{
		Path:      doc.Path,
		Kind:      kind,
		Revision:  fmt.Sprintf("%016x", doc.Revision),
		ModTime:   doc.ModTime,
		LineCount: bytes.Count(doc.Source, []byte{'\n'}) + 1,
		HasErrors: doc.HasErrors(),
	}
}

// Extract writes the includes, diagnostics, scope tree and symbols of doc
// to ds under fileID. Scopes are written parent first; a scope's owning
// symbol is linked when it was written before the scope.
func Extract(ds DataStore, fileID int64, doc *snapshot.Document) error {
	for _, inc := range doc.Includes {
		row := &Include{FileID: fileID, Spelling: inc.Spelling, Resolved: inc.Resolved, System: inc.System, Line: inc.Line}
		if _, err := ds.InsertInclude(row); err != nil {
			return err
		}
	}
	for _, d := range doc.Diagnostics {
		row := &Diagnostic{FileID: fileID, Line: d.Line, Col: d.Column, Severity: d.Severity.String(), Message: d.Message}
		if _, err := ds.InsertDiagnostic(row); err != nil {
			return err
		}
	}
	if doc.Global == nil {
		return nil
	}
	x := &extractor{ds: ds, fileID: fileID, symbolIDs: make(map[*symbols.Symbol]int64)}
	return x.scope(doc.Global, nil)
}

type extractor struct {
	ds        DataStore
	fileID    int64
	symbolIDs map[*symbols.Symbol]int64
}

func (x *extractor) scope(sc *symbols.Scope, parent *int64) error {
	row := &Scope{
		FileID:        x.fileID,
		ParentScopeID: parent,
		Kind:          sc.Kind.String(),
		Name:          sc.Name,
		Qualifier:     sc.Qualifier,
		StartLine:     sc.Span.StartLine,
		StartCol:      sc.Span.StartCol,
		EndLine:       sc.Span.EndLine,
		EndCol:        sc.Span.EndCol,
	}
	if sc.Owner != nil {
		if id, ok := x.symbolIDs[sc.Owner]; ok {
			row.SymbolID = &id
		}
	}
	id, err := x.ds.InsertScope(row)
	if err != nil {
		return fmt.Errorf("scope %q: %w", sc.Name, err)
	}

	for i, base := range sc.Bases {
		if _, err := x.ds.InsertScopeRef(&ScopeRef{ScopeID: id, Kind: RefBase, Ordinal: i, Spelling: base}); err != nil {
			return err
		}
	}
	for i, ns := range sc.Usings {
		if _, err := x.ds.InsertScopeRef(&ScopeRef{ScopeID: id, Kind: RefUsing, Ordinal: i, Spelling: ns}); err != nil {
			return err
		}
	}
	for _, sym := range sc.Symbols {
		if err := x.symbol(sym, id); err != nil {
			return err
		}
	}
	for _, child := range sc.Children {
		if err := x.scope(child, &id); err != nil {
			return err
		}
	}
	return nil
}

func (x *extractor) symbol(sym *symbols.Symbol, scopeID int64) error {
	params := make([]*FunctionParam, len(sym.Type.Params))
	for i, p := range sym.Type.Params {
		params[i] = &FunctionParam{Ordinal: i, TypeExpr: p}
	}
	typeParams := make([]*TypeParam, len(sym.TemplateParams))
	for i, name := range sym.TemplateParams {
		typeParams[i] = &TypeParam{Ordinal: i, Name: name}
	}
	row := &Symbol{
		FileID:        x.fileID,
		ScopeID:       &scopeID,
		Name:          sym.Name,
		QualifiedName: sym.QualifiedName(),
		Kind:          sym.Kind.String(),
		TypeExpr:      sym.Type.Spelling,
		Modifiers:     modifiers(sym),
		Line:          sym.Line,
		Col:           sym.Column,
	}
	row.SignatureHash = ComputeSignatureHash(row.QualifiedName, row.Kind, row.TypeExpr, row.Modifiers, params, typeParams)

	id, err := x.ds.InsertSymbol(row)
	if err != nil {
		return fmt.Errorf("symbol %q: %w", sym.Name, err)
	}
	x.symbolIDs[sym] = id
	for _, p := range params {
		p.SymbolID = id
		if _, err := x.ds.InsertFunctionParam(p); err != nil {
			return err
		}
	}
	for _, tp := range typeParams {
		tp.SymbolID = id
		if _, err := x.ds.InsertTypeParam(tp); err != nil {
			return err
		}
	}
	return nil
}

func modifiers(sym *symbols.Symbol) []string {
	var mods []string
	t := sym.Type
	if t.Function {
		mods = append(mods, "function")
	}
	if t.Virtual {
		mods = append(mods, "virtual")
	}
	if t.PureVirtual {
		mods = append(mods, "pure_virtual")
	}
	if t.Const {
		mods = append(mods, "const")
	}
	if t.Static {
		mods = append(mods, "static")
	}
	if sym.IsTemplate() {
		mods = append(mods, "template")
	}
	return mods
}
