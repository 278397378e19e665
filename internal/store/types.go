package store

import "time"

// Row types mirror the tables one to one. Positions are 0-based.

type File struct {
	ID        int64
	Path      string
	Kind      string
	Revision  string
	ModTime   time.Time
	LineCount int
	HasErrors bool
}

type Include struct {
	ID       int64
	FileID   int64
	Spelling string
	Resolved string
	System   bool
	Line     int
}

type Diagnostic struct {
	ID       int64
	FileID   int64
	Line     int
	Col      int
	Severity string
	Message  string
}

type Scope struct {
	ID            int64
	FileID        int64
	ParentScopeID *int64
	SymbolID      *int64
	Kind          string
	Name          string
	Qualifier     string
	StartLine     int
	StartCol      int
	EndLine       int
	EndCol        int
}

type Symbol struct {
	ID            int64
	FileID        int64
	ScopeID       *int64
	Name          string
	QualifiedName string
	Kind          string
	TypeExpr      string
	Modifiers     []string
	SignatureHash string
	Line          int
	Col           int
}

type FunctionParam struct {
	ID       int64
	SymbolID int64
	Ordinal  int
	TypeExpr string
}

type TypeParam struct {
	ID       int64
	SymbolID int64
	Ordinal  int
	Name     string
}

// ScopeRef is a name a scope refers to: a base class of a class scope or
// the namespace of a using-directive.
type ScopeRef struct {
	ID       int64
	ScopeID  int64
	Kind     string
	Ordinal  int
	Spelling string
}

// Scope ref kinds.
const (
	RefBase  = "base"
	RefUsing = "using"
)
