package snapshot

import "sort"

// Snapshot is an immutable mapping from file path to Document. Deriving a
// new Snapshot copies the mapping and shares every unchanged Document.
type Snapshot struct {
	docs       map[string]*Document
	generation uint64
}

// Empty returns a Snapshot with no documents at generation 0.
func Empty() *Snapshot {
	return &Snapshot{docs: map[string]*Document{}}
}

// WithDocument returns a Snapshot identical to s except that path maps to
// doc. s is not modified.
func (s *Snapshot) WithDocument(path string, doc *Document) *Snapshot {
	next := s.derive(len(s.docs) + 1)
	next.docs[path] = doc
	return next
}

// WithoutDocument returns a Snapshot without path. It returns s itself when
// path is not present.
func (s *Snapshot) WithoutDocument(path string) *Snapshot {
	if _, ok := s.docs[path]; !ok {
		return s
	}
	next := s.derive(len(s.docs))
	delete(next.docs, path)
	return next
}

func (s *Snapshot) derive(capacity int) *Snapshot {
	docs := make(map[string]*Document, capacity)
	for k, v := range s.docs {
		docs[k] = v
	}
	return &Snapshot{docs: docs, generation: s.generation + 1}
}

// Document returns the Document for path. Unknown paths are not an error.
func (s *Snapshot) Document(path string) (*Document, bool) {
	if s == nil {
		return nil, false
	}
	d, ok := s.docs[path]
	return d, ok
}

// Paths returns the known file paths in sorted order.
func (s *Snapshot) Paths() []string {
	if s == nil {
		return nil
	}
	paths := make([]string, 0, len(s.docs))
	for p := range s.docs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Len returns the number of documents.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.docs)
}

// Generation increases by one with every derived Snapshot.
func (s *Snapshot) Generation() uint64 {
	if s == nil {
		return 0
	}
	return s.generation
}

// Each calls fn for every Document in path order.
func (s *Snapshot) Each(fn func(*Document)) {
	for _, p := range s.Paths() {
		fn(s.docs[p])
	}
}
