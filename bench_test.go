package cppmodel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// benchTree writes n sources that each include a shared header and a
// per-file header, so the include graph has fan-in and depth.
func benchTree(b *testing.B, n int) (root string, paths []string) {
	b.Helper()
	root = b.TempDir()
	write := func(rel, content string) string {
		path := filepath.Join(root, rel)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			b.Fatal(err)
		}
		return path
	}
	paths = append(paths, write("common.h", baseHeader))
	for i := range n {
		var src strings.Builder
		fmt.Fprintf(&src, "#include \"common.h\"\n#include \"unit%d.h\"\n", i)
		src.WriteString(strings.TrimPrefix(mainSource, "#include \"base.h\"\n"))
		paths = append(paths,
			write(fmt.Sprintf("unit%d.h", i), fmt.Sprintf("#pragma once\nint unit%d(int x);\n", i)),
			write(fmt.Sprintf("unit%d.cpp", i), src.String()))
	}
	return root, paths
}

// BenchmarkIndexFiles measures a cold bulk index of 50 translation units.
func BenchmarkIndexFiles(b *testing.B) {
	ctx := context.Background()
	_, paths := benchTree(b, 50)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e := New()
		if err := e.IndexFiles(ctx, paths); err != nil {
			e.Close()
			b.Fatal(err)
		}
		b.StopTimer()
		e.Close()
		b.StartTimer()
	}
}

// BenchmarkDependencyTable_Update measures the table rebuild after one
// header edit.
func BenchmarkDependencyTable_Update(b *testing.B) {
	ctx := context.Background()
	root, paths := benchTree(b, 50)
	e := New()
	defer e.Close()
	if err := e.IndexFiles(ctx, paths); err != nil {
		b.Fatal(err)
	}
	header := filepath.Join(root, "common.h")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		err := e.Apply(ctx, Change{
			Path:    header,
			Content: []byte(fmt.Sprintf("%sint v%d;\n", baseHeader, i)),
			ModTime: time.Unix(int64(i), 0),
		})
		if err != nil {
			b.Fatal(err)
		}
		b.StartTimer()
		if got := len(e.DependencyTable().FilesDependingOn(header)); got != 50 {
			b.Fatalf("dependents = %d", got)
		}
	}
}

// BenchmarkCanonicalSymbol measures the query path only: scope mapping,
// lookup through the include closure and the tie-break policy.
func BenchmarkCanonicalSymbol(b *testing.B) {
	ctx := context.Background()
	root, paths := benchTree(b, 10)
	e := New()
	defer e.Close()
	if err := e.IndexFiles(ctx, paths); err != nil {
		b.Fatal(err)
	}
	q := e.Query()
	src := filepath.Join(root, "unit0.cpp")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if q.CanonicalSymbol(src, 5, 4, "foo") == nil {
			b.Fatal("no canonical symbol")
		}
	}
}
