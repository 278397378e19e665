// Package deps derives the include graph of a Snapshot and its transitive
// closure, answering which files must be reparsed or are stale when a file
// changes.
package deps

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/bits-and-blooms/bitset"

	"github.com/jward/cppmodel/internal/parser"
	"github.com/jward/cppmodel/internal/snapshot"
)

// ErrStaleTable is returned by Verify when a Table is checked against a
// Snapshot it was not built from.
var ErrStaleTable = errors.New("deps: table built from a different snapshot generation")

// Table is the dependency index of exactly one Snapshot. It is read-only
// once built and safe for concurrent use.
//
// Only files present in the Snapshot take part in the graph. A quoted
// include that did not resolve, or resolved to a file outside the Snapshot,
// is kept as dangling: it adds no edge, but the file's staleness can no
// longer be decided from the table alone.
type Table struct {
	files    []string
	index    map[string]int
	includes [][]int
	dangling [][]parser.Include

	// reach[i] holds the files i includes, directly or transitively.
	reach []*bitset.BitSet
	// dependents[i] holds the files that include i, directly or
	// transitively. It is the transpose of reach.
	dependents []*bitset.BitSet

	modTimes  []time.Time
	revisions []uint64
	modified  *bitset.BitSet
	// affected holds files whose include graph moved under them: includers
	// of a file that left the Snapshot, and files with a dangling include a
	// newly added file matches.
	affected *bitset.BitSet

	generation uint64
}

// Build indexes snap from scratch. No file is flagged modified.
func Build(snap *snapshot.Snapshot) *Table {
	t := newTable(snap)
	t.closure()
	return t
}

// Update derives the table for snap from prev, the table of an earlier
// Snapshot. Files whose revision or modification time differ from prev,
// and files prev did not know, are flagged modified. Files that included
// something prev knew and snap no longer has, and files whose dangling
// includes match a new file, are flagged affected. When the file set and
// every include list are unchanged the closure is reused; otherwise it is
// recomputed.
func Update(prev *Table, snap *snapshot.Snapshot) *Table {
	if prev == nil {
		return Build(snap)
	}
	t := newTable(snap)
	var added []string
	for i, f := range t.files {
		j, ok := prev.index[f]
		if !ok {
			added = append(added, f)
		}
		if !ok || prev.revisions[j] != t.revisions[i] || !prev.modTimes[j].Equal(t.modTimes[i]) {
			t.modified.Set(uint(i))
		}
	}
	for j, f := range prev.files {
		if _, ok := t.index[f]; ok {
			continue
		}
		d := prev.dependents[j]
		for k, ok := d.NextSet(0); ok; k, ok = d.NextSet(k + 1) {
			if i, ok := t.index[prev.files[k]]; ok {
				t.affected.Set(uint(i))
			}
		}
	}
	if len(added) > 0 {
		for i, incs := range t.dangling {
			for _, inc := range incs {
				if slices.ContainsFunc(added, inc.Matches) {
					t.affected.Set(uint(i))
					break
				}
			}
		}
	}

	if prev.sameGraph(t) {
		t.reach = prev.reach
		t.dependents = prev.dependents
		return t
	}
	t.closure()
	return t
}

func newTable(snap *snapshot.Snapshot) *Table {
	files := snap.Paths()
	n := len(files)
	t := &Table{
		files:      files,
		index:      make(map[string]int, n),
		includes:   make([][]int, n),
		dangling:   make([][]parser.Include, n),
		modTimes:   make([]time.Time, n),
		revisions:  make([]uint64, n),
		modified:   bitset.New(uint(n)),
		affected:   bitset.New(uint(n)),
		generation: snap.Generation(),
	}
	for i, f := range files {
		t.index[f] = i
	}
	for i, f := range files {
		doc, _ := snap.Document(f)
		if doc == nil {
			continue
		}
		t.modTimes[i] = doc.ModTime
		t.revisions[i] = doc.Revision
		for _, inc := range doc.IncludedFiles() {
			if j, ok := t.index[inc]; ok {
				t.includes[i] = append(t.includes[i], j)
			}
		}
		for _, inc := range doc.Includes {
			if inc.System {
				continue
			}
			if _, ok := t.index[inc.Resolved]; !ok {
				t.dangling[i] = append(t.dangling[i], inc)
			}
		}
	}
	return t
}

// closure computes reach as the least fixed point of
// reach[i] = direct(i) ∪ ⋃ reach[j] for j in direct(i). Iterating to a
// fixed point instead of recursing keeps cyclic include graphs finite.
func (t *Table) closure() {
	n := uint(len(t.files))
	t.reach = make([]*bitset.BitSet, n)
	for i, incs := range t.includes {
		b := bitset.New(n)
		for _, j := range incs {
			b.Set(uint(j))
		}
		t.reach[i] = b
	}

	for changed := true; changed; {
		changed = false
		for i, incs := range t.includes {
			before := t.reach[i].Count()
			for _, j := range incs {
				t.reach[i].InPlaceUnion(t.reach[j])
			}
			if t.reach[i].Count() != before {
				changed = true
			}
		}
	}

	t.dependents = make([]*bitset.BitSet, n)
	for i := range t.dependents {
		t.dependents[i] = bitset.New(n)
	}
	for i, r := range t.reach {
		for j, ok := r.NextSet(0); ok; j, ok = r.NextSet(j + 1) {
			t.dependents[j].Set(uint(i))
		}
	}
}

// sameGraph reports whether next has the same files and include edges.
func (t *Table) sameGraph(next *Table) bool {
	return slices.Equal(t.files, next.files) &&
		slices.EqualFunc(t.includes, next.includes, func(a, b []int) bool { return slices.Equal(a, b) })
}

// FilesDependingOn returns the files that include path directly or
// transitively, sorted. path itself is included only when it sits on an
// include cycle. Unknown paths yield an empty result.
func (t *Table) FilesDependingOn(path string) []string {
	i, ok := t.index[path]
	if !ok {
		return []string{}
	}
	return t.names(t.dependents[i])
}

// Includes returns the files path includes directly or transitively,
// sorted.
func (t *Table) Includes(path string) []string {
	i, ok := t.index[path]
	if !ok {
		return []string{}
	}
	return t.names(t.reach[i])
}

// DirectIncludes returns the files path includes directly, in directive
// order.
func (t *Table) DirectIncludes(path string) []string {
	i, ok := t.index[path]
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(t.includes[i]))
	for _, j := range t.includes[i] {
		out = append(out, t.files[j])
	}
	return out
}

// Dangling returns the quoted includes of path that did not resolve to a
// file in the Snapshot, in directive order.
func (t *Table) Dangling(path string) []parser.Include {
	i, ok := t.index[path]
	if !ok {
		return nil
	}
	return slices.Clone(t.dangling[i])
}

// Modified returns the files flagged modified when the table was derived.
func (t *Table) Modified() []string {
	return t.names(t.modified)
}

// AllFilesDependingOnModifieds returns the union of FilesDependingOn over
// every modified file, together with every affected file and its
// dependents, sorted.
func (t *Table) AllFilesDependingOnModifieds() []string {
	union := t.affected.Clone()
	for i, ok := t.modified.NextSet(0); ok; i, ok = t.modified.NextSet(i + 1) {
		union.InPlaceUnion(t.dependents[i])
	}
	for i, ok := t.affected.NextSet(0); ok; i, ok = t.affected.NextSet(i + 1) {
		union.InPlaceUnion(t.dependents[i])
	}
	return t.names(union)
}

// AnyNewerDeps reports whether path or any file it transitively includes
// was modified strictly after ref. Missing information counts as newer:
// an unknown path, a zero ref, a file without a modification time and a
// dangling include all return true. The reason names the file that decided
// the answer.
func (t *Table) AnyNewerDeps(path string, ref time.Time) (bool, string) {
	i, ok := t.index[path]
	if !ok {
		return true, fmt.Sprintf("%s is not in the dependency table", path)
	}
	if ref.IsZero() {
		return true, "no reference time"
	}
	check := func(j int) (bool, string) {
		mt := t.modTimes[j]
		switch {
		case mt.IsZero():
			return true, fmt.Sprintf("%s has no modification time", t.files[j])
		case mt.After(ref):
			return true, fmt.Sprintf("%s modified at %s, after %s",
				t.files[j], mt.Format(time.RFC3339Nano), ref.Format(time.RFC3339Nano))
		case len(t.dangling[j]) > 0:
			inc := t.dangling[j][0]
			if inc.Resolved == "" {
				return true, fmt.Sprintf("%s includes %q, which was not found", t.files[j], inc.Spelling)
			}
			return true, fmt.Sprintf("%s includes %q, which is not indexed", t.files[j], inc.Spelling)
		}
		return false, ""
	}
	if newer, reason := check(i); newer {
		return true, reason
	}
	r := t.reach[i]
	for j, ok := r.NextSet(0); ok; j, ok = r.NextSet(j + 1) {
		if newer, reason := check(int(j)); newer {
			return true, reason
		}
	}
	return false, ""
}

// Files returns every known file in index order (sorted).
func (t *Table) Files() []string {
	return slices.Clone(t.files)
}

// Len returns the number of files in the table.
func (t *Table) Len() int { return len(t.files) }

// Edges returns the number of direct include edges.
func (t *Table) Edges() int {
	n := 0
	for _, incs := range t.includes {
		n += len(incs)
	}
	return n
}

// Generation is the generation of the Snapshot the table was built from.
func (t *Table) Generation() uint64 { return t.generation }

// Verify returns ErrStaleTable unless t was built from snap's generation.
func (t *Table) Verify(snap *snapshot.Snapshot) error {
	if t.generation != snap.Generation() {
		return fmt.Errorf("table generation %d, snapshot generation %d: %w",
			t.generation, snap.Generation(), ErrStaleTable)
	}
	return nil
}

func (t *Table) names(b *bitset.BitSet) []string {
	out := make([]string, 0, b.Count())
	for i, ok := b.NextSet(0); ok; i, ok = b.NextSet(i + 1) {
		out = append(out, t.files[i])
	}
	return out
}
