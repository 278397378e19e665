package cppmodel

import (
	"strings"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/jward/cppmodel/internal/ast"
	"github.com/jward/cppmodel/internal/parser"
	"github.com/jward/cppmodel/internal/snapshot"
	"github.com/jward/cppmodel/internal/symbols"
)

// Public aliases for the model types returned by the API.

type Snapshot = snapshot.Snapshot
type Document = snapshot.Document
type Diagnostic = parser.Diagnostic
type NodeID = ast.NodeID

// Location is a 0-based source range.
type Location struct {
	File      string
	StartLine int
	StartCol  int
	EndLine   int
	EndCol    int
}

// LSP converts l to a protocol location with a file:// URI.
func (l Location) LSP() protocol.Location {
	return protocol.Location{
		URI: protocol.DocumentURI(uri.File(l.File)),
		Range: protocol.Range{
			Start: protocol.Position{Line: uint32(l.StartLine), Character: uint32(l.StartCol)},
			End:   protocol.Position{Line: uint32(l.EndLine), Character: uint32(l.EndCol)},
		},
	}
}

// Declaration is a navigable view of a symbol.
type Declaration struct {
	Name          string
	QualifiedName string
	Kind          string
	// Type is the declared type; functions render as "ret(params)".
	Type     string
	Virtual  bool
	Location Location
}

func newDeclaration(sym *symbols.Symbol) *Declaration {
	if sym == nil {
		return nil
	}
	return &Declaration{
		Name:          sym.Name,
		QualifiedName: sym.QualifiedName(),
		Kind:          sym.Kind.String(),
		Type:          typeString(sym.Type),
		Virtual:       sym.IsVirtual(),
		Location: Location{
			File:      sym.File,
			StartLine: sym.Line,
			StartCol:  sym.Column,
			EndLine:   sym.Line,
			EndCol:    sym.Column + len(sym.Name),
		},
	}
}

func typeString(t symbols.Type) string {
	if !t.Function {
		return t.Spelling
	}
	var b strings.Builder
	b.WriteString(t.Spelling)
	b.WriteByte('(')
	b.WriteString(strings.Join(t.Params, ", "))
	b.WriteByte(')')
	if t.Const {
		b.WriteString(" const")
	}
	return b.String()
}

// Match is one candidate binding of an expression.
type Match struct {
	// Declaration is nil for intermediate values such as call results.
	Declaration *Declaration
	Type        string
	// Scope is the qualified name of the scope the candidate was found
	// in, or the scope kind for unnamed scopes.
	Scope string
}

// ASTNode is one step of an AST path.
type ASTNode struct {
	ID   NodeID
	Kind string
	Name string
	Span Location
}

func spanLocation(file string, s ast.Span) Location {
	return Location{File: file, StartLine: s.StartLine, StartCol: s.StartCol, EndLine: s.EndLine, EndCol: s.EndCol}
}
