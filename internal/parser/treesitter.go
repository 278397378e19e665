package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/cppmodel/internal/ast"
)

// TreeSitter is a Parser backed by the tree-sitter C++ grammar. Parsing
// runs in three phases (syntax, conversion, include resolution) and the
// context is checked between them.
type TreeSitter struct {
	// Exists reports whether a candidate include path names a readable
	// file. Defaults to a stat of the local file system.
	Exists func(path string) bool
}

// NewTreeSitter returns a TreeSitter parser that resolves includes against
// the local file system.
func NewTreeSitter() *TreeSitter {
	return &TreeSitter{Exists: fileExists}
}

// Parse implements Parser.
func (p *TreeSitter) Parse(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse %s: %w", req.Path, err)
	}
	sp := sitter.NewParser()
	defer sp.Close()
	sp.SetLanguage(Grammar())

	tree, err := sp.ParseCtx(ctx, nil, req.Content)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, fmt.Errorf("parse %s: %w", req.Path, err)
	}
	defer tree.Close()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse %s: %w", req.Path, err)
	}

	root := tree.RootNode()
	conv := newConverter(req.Content, span(root), req.Macros)
	conv.children(root, conv.b.Root())

	var diags []Diagnostic
	collectDiagnostics(root, &diags)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("convert %s: %w", req.Path, err)
	}

	includes := make([]Include, 0, len(conv.includes))
	for _, inc := range conv.includes {
		inc.Resolved = p.resolve(req.Path, inc, req.IncludePaths)
		if inc.Resolved == "" {
			diags = append(diags, Diagnostic{
				Line:     inc.Line,
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("include not found: %s", inc.Spelling),
			})
		}
		includes = append(includes, inc)
	}

	return &Result{
		Tree:        conv.b.Tree(),
		Includes:    includes,
		Diagnostics: diags,
	}, nil
}

// resolve searches for an included file. Quoted includes look next to the
// including file first; both forms then walk the include paths in order.
func (p *TreeSitter) resolve(from string, inc Include, includePaths []string) string {
	exists := p.Exists
	if exists == nil {
		exists = fileExists
	}
	if filepath.IsAbs(inc.Spelling) {
		if exists(inc.Spelling) {
			return filepath.Clean(inc.Spelling)
		}
		return ""
	}

	var dirs []string
	if !inc.System && from != "" {
		dirs = append(dirs, filepath.Dir(from))
	}
	dirs = append(dirs, includePaths...)
	for _, dir := range dirs {
		candidate := filepath.Join(dir, inc.Spelling)
		if exists(candidate) {
			return candidate
		}
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// collectDiagnostics reports ERROR and MISSING nodes. Subtrees without
// errors are not descended into.
func collectDiagnostics(n *sitter.Node, out *[]Diagnostic) {
	if n == nil || n.IsNull() {
		return
	}
	sp := n.StartPoint()
	switch {
	case n.IsMissing():
		*out = append(*out, Diagnostic{
			Line:     int(sp.Row),
			Column:   int(sp.Column),
			Severity: SeverityError,
			Message:  fmt.Sprintf("missing %s", n.Type()),
		})
		return
	case n.Type() == "ERROR":
		*out = append(*out, Diagnostic{
			Line:     int(sp.Row),
			Column:   int(sp.Column),
			Severity: SeverityError,
			Message:  "syntax error",
		})
		return
	}
	if !n.HasError() {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		collectDiagnostics(n.Child(i), out)
	}
}

func span(n *sitter.Node) ast.Span {
	start, end := n.StartPoint(), n.EndPoint()
	return ast.Span{
		StartLine: int(start.Row),
		StartCol:  int(start.Column),
		EndLine:   int(end.Row),
		EndCol:    int(end.Column),
	}
}
