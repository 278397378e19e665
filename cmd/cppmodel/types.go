package main

import (
	"github.com/jward/cppmodel"
)

// CLIResult is the top-level JSON envelope for all commands.
type CLIResult struct {
	Command    string `json:"command"`
	Results    any    `json:"results"`
	TotalCount *int   `json:"total_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CLILocation is a JSON-friendly 0-based source range.
type CLILocation struct {
	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	StartCol  int    `json:"start_col"`
	EndLine   int    `json:"end_line"`
	EndCol    int    `json:"end_col"`
}

// CLIDeclaration is a JSON-friendly declaration.
type CLIDeclaration struct {
	Name          string      `json:"name"`
	QualifiedName string      `json:"qualified_name"`
	Kind          string      `json:"kind"`
	Type          string      `json:"type,omitempty"`
	Virtual       bool        `json:"virtual,omitempty"`
	Location      CLILocation `json:"location"`
}

// CLIMatch is one candidate binding reported by lookup.
type CLIMatch struct {
	Declaration *CLIDeclaration `json:"declaration,omitempty"`
	Type        string          `json:"type,omitempty"`
	Scope       string          `json:"scope,omitempty"`
}

// CLICanonical is the result of the canonical command. Declaration is nil
// when the expression does not resolve.
type CLICanonical struct {
	Expression  string          `json:"expression"`
	Declaration *CLIDeclaration `json:"declaration"`
	LSP         any             `json:"lsp,omitempty"`
}

// CLIDeps describes the include relationships of one file.
type CLIDeps struct {
	File           string   `json:"file"`
	DirectIncludes []string `json:"direct_includes"`
	Includes       []string `json:"includes"`
	Dependents     []string `json:"dependents"`
}

// CLIStale is the result of the stale command.
type CLIStale struct {
	File   string `json:"file"`
	Since  string `json:"since"`
	Stale  bool   `json:"stale"`
	Reason string `json:"reason,omitempty"`
}

// CLIASTNode is one step of an AST path.
type CLIASTNode struct {
	ID   int         `json:"id"`
	Kind string      `json:"kind"`
	Name string      `json:"name,omitempty"`
	Span CLILocation `json:"span"`
}

// CLIIndexSummary reports what index parsed.
type CLIIndexSummary struct {
	Root        string `json:"root"`
	Files       int    `json:"files"`
	Diagnostics int    `json:"diagnostics"`
	Generation  uint64 `json:"generation"`
	DurationMS  int64  `json:"duration_ms"`
	// Warning carries per-file failures; the files that parsed are kept.
	Warning string `json:"warning,omitempty"`
}

// CLIExportStats reports the rows written by export.
type CLIExportStats struct {
	Database   string `json:"database"`
	Files      int    `json:"files"`
	Scopes     int    `json:"scopes"`
	Symbols    int    `json:"symbols"`
	Dependents int    `json:"dependents"`
}

func toCLILocation(l cppmodel.Location) CLILocation {
	return CLILocation{
		File:      l.File,
		StartLine: l.StartLine,
		StartCol:  l.StartCol,
		EndLine:   l.EndLine,
		EndCol:    l.EndCol,
	}
}

func toCLIDeclaration(d *cppmodel.Declaration) *CLIDeclaration {
	if d == nil {
		return nil
	}
	return &CLIDeclaration{
		Name:          d.Name,
		QualifiedName: d.QualifiedName,
		Kind:          d.Kind,
		Type:          d.Type,
		Virtual:       d.Virtual,
		Location:      toCLILocation(d.Location),
	}
}

func toCLIMatches(ms []cppmodel.Match) []CLIMatch {
	out := make([]CLIMatch, 0, len(ms))
	for _, m := range ms {
		out = append(out, CLIMatch{
			Declaration: toCLIDeclaration(m.Declaration),
			Type:        m.Type,
			Scope:       m.Scope,
		})
	}
	return out
}

func toCLIASTPath(nodes []cppmodel.ASTNode) []CLIASTNode {
	out := make([]CLIASTNode, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, CLIASTNode{
			ID:   int(n.ID),
			Kind: n.Kind,
			Name: n.Name,
			Span: toCLILocation(n.Span),
		})
	}
	return out
}

// nonNil turns a nil slice into an empty one so JSON shows [] instead of null.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
