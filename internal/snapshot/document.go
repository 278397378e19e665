// Package snapshot holds the immutable units of publication: a Document is
// one parsed translation unit, a Snapshot maps file paths to Documents.
package snapshot

import (
	"sync"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/jward/cppmodel/internal/ast"
	"github.com/jward/cppmodel/internal/parser"
	"github.com/jward/cppmodel/internal/symbols"
)

// Document is one parsed translation unit. It is never mutated after
// construction; an edit produces a new Document.
type Document struct {
	Path string
	// Revision is the xxh3 hash of Source.
	Revision    uint64
	ModTime     time.Time
	Source      []byte
	Tree        *ast.Tree
	Global      *symbols.Scope
	Includes    []parser.Include
	Diagnostics []parser.Diagnostic

	parentOnce sync.Once
	parents    *ast.ParentIndex
}

// NewDocument binds the parse result of path into a Document.
func NewDocument(path string, source []byte, modTime time.Time, res *parser.Result) *Document {
	doc := &Document{
		Path:     path,
		Revision: Revision(source),
		ModTime:  modTime,
		Source:   source,
	}
	if res != nil {
		doc.Tree = res.Tree
		doc.Includes = res.Includes
		doc.Diagnostics = res.Diagnostics
	}
	doc.Global = symbols.Bind(path, doc.Tree)
	return doc
}

// Revision returns the content hash used to detect unchanged files.
func Revision(source []byte) uint64 {
	return xxh3.Hash(source)
}

// IncludedFiles returns the resolved paths of the Document's includes, in
// directive order without duplicates. Unresolved includes are omitted.
func (d *Document) IncludedFiles() []string {
	seen := make(map[string]bool, len(d.Includes))
	var out []string
	for _, inc := range d.Includes {
		if inc.Resolved == "" || seen[inc.Resolved] {
			continue
		}
		seen[inc.Resolved] = true
		out = append(out, inc.Resolved)
	}
	return out
}

// ScopeAt returns the innermost scope containing the 0-based position.
func (d *Document) ScopeAt(line, col int) *symbols.Scope {
	return d.Global.ScopeAt(line, col)
}

// ParentIndex returns the AST parent index, building it on first use.
func (d *Document) ParentIndex() *ast.ParentIndex {
	d.parentOnce.Do(func() {
		d.parents = ast.NewParentIndex(d.Tree)
	})
	return d.parents
}

// HasErrors reports whether parsing produced error diagnostics.
func (d *Document) HasErrors() bool {
	for _, diag := range d.Diagnostics {
		if diag.Severity == parser.SeverityError {
			return true
		}
	}
	return false
}
