// Package parser turns C++ source text into the arena AST consumed by the
// semantic model. The Parser interface is the only thing the rest of the
// module depends on; TreeSitter is the production implementation.
package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jward/cppmodel/internal/ast"
)

// Parser parses one file. Implementations must be deterministic: the same
// Request always produces the same Result.
type Parser interface {
	Parse(ctx context.Context, req Request) (*Result, error)
}

// Request is the input of one parse.
type Request struct {
	Path         string
	Content      []byte
	IncludePaths []string
	// Macros are predefined macros, name to value ("" for flag macros).
	Macros map[string]string
}

// Result is the output of one parse. A Result with diagnostics is still a
// usable, partial parse.
type Result struct {
	Tree        *ast.Tree
	Includes    []Include
	Diagnostics []Diagnostic
}

// Include is one #include directive that survived conditional compilation.
type Include struct {
	// Spelling is the path as written, without quotes or angle brackets.
	Spelling string
	// Resolved is the absolute path of the included file, or "" when the
	// file could not be found on the search path.
	Resolved string
	System   bool
	Line     int
}

// Matches reports whether the include refers to path: the resolved path
// when there is one, otherwise a spelling that path ends with.
func (i Include) Matches(path string) bool {
	if i.Resolved != "" {
		return i.Resolved == path
	}
	p, s := filepath.ToSlash(path), filepath.ToSlash(i.Spelling)
	return s != "" && (p == s || strings.HasSuffix(p, "/"+s))
}

// Severity of a Diagnostic.
type Severity uint8

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// Diagnostic is a problem found while parsing. Positions are 0-based.
type Diagnostic struct {
	Line     int
	Column   int
	Severity Severity
	Message  string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%d:%d: %s: %s", d.Line+1, d.Column+1, d.Severity, d.Message)
}
