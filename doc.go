// Package cppmodel keeps an incremental semantic model of a multi-file C++
// codebase. It answers two kinds of questions over immutable snapshots:
// which files must be reparsed when a file or one of its includes changes,
// and which declarations a textual expression at a cursor resolves to.
//
// # Pipeline
//
// File changes are parsed on a bounded worker pool. Each parse produces an
// immutable Document that replaces its entry in a copy of the current
// Snapshot, and the copy is published with an atomic swap. A newer change
// to a file cancels the older job for that file; canceled jobs never
// publish. The dependency table (include graph plus transitive closure) is
// derived lazily from whichever Snapshot a query pins.
//
// # Usage
//
//	e := cppmodel.New(cppmodel.WithIncludePaths("include"))
//	defer e.Close()
//
//	ctx := context.Background()
//	err := e.IndexDirectory(ctx, "path/to/project")
//
//	q := e.Query()
//	decl := q.CanonicalSymbol("src/main.cpp", 10, 4, "shape.draw")
//	dependents := q.FilesDependingOn("include/shape.h")
//
// # Query API
//
// The [QueryBuilder] returned by [Engine.Query] is pinned to one Snapshot
// and its dependency table:
//
//   - [QueryBuilder.FilesDependingOn] lists the files that transitively
//     include a file.
//   - [QueryBuilder.AnyNewerDeps] reports whether a file or anything it
//     includes changed after a reference time.
//   - [QueryBuilder.MatchesFor] lists every candidate binding of an
//     expression at a position.
//   - [QueryBuilder.CanonicalSymbol] picks the one declaration to navigate
//     to, preferring a virtual method over a same-named constructor.
//   - [QueryBuilder.ASTPath] returns the syntax nodes from the translation
//     unit down to a position.
//
// Positions in the Go API are 0-based lines and byte columns, as in LSP.
//
// # Watching and exporting
//
// [Engine.Watch] feeds file system events into the indexer until its
// context ends. [Engine.Export] writes the current Snapshot to SQLite and
// [Engine.Runtime] exposes it to Risor scripts.
package cppmodel
