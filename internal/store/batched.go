package store

import "sync"

// BatchedStore buffers the rows of one extraction in memory using fake
// (negative) IDs. It implements DataStore so extraction does not need to
// know whether it is writing to SQLite or to a buffer, and so documents
// can be extracted in parallel before a single-transaction commit.
type BatchedStore struct {
	mu sync.Mutex

	Includes       []Include
	Diagnostics    []Diagnostic
	Scopes         []Scope
	Symbols        []Symbol
	FunctionParams []FunctionParam
	TypeParams     []TypeParam
	ScopeRefs      []ScopeRef

	nextFakeID int64 // starts at -1, decrements
}

// Compile-time check: *BatchedStore satisfies DataStore.
var _ DataStore = (*BatchedStore)(nil)

// NewBatchedStore creates an empty BatchedStore.
func NewBatchedStore() *BatchedStore {
	return &BatchedStore{nextFakeID: -1}
}

func (b *BatchedStore) allocFakeID() int64 {
	id := b.nextFakeID
	b.nextFakeID--
	return id
}

func (b *BatchedStore) InsertInclude(inc *Include) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	inc.ID = b.allocFakeID()
	b.Includes = append(b.Includes, *inc)
	return inc.ID, nil
}

func (b *BatchedStore) InsertDiagnostic(d *Diagnostic) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d.ID = b.allocFakeID()
	b.Diagnostics = append(b.Diagnostics, *d)
	return d.ID, nil
}

func (b *BatchedStore) InsertScope(scope *Scope) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	scope.ID = b.allocFakeID()
	b.Scopes = append(b.Scopes, *scope)
	return scope.ID, nil
}

func (b *BatchedStore) InsertSymbol(sym *Symbol) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sym.ID = b.allocFakeID()
	b.Symbols = append(b.Symbols, *sym)
	return sym.ID, nil
}

func (b *BatchedStore) InsertFunctionParam(fp *FunctionParam) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fp.ID = b.allocFakeID()
	b.FunctionParams = append(b.FunctionParams, *fp)
	return fp.ID, nil
}

func (b *BatchedStore) InsertTypeParam(tp *TypeParam) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tp.ID = b.allocFakeID()
	b.TypeParams = append(b.TypeParams, *tp)
	return tp.ID, nil
}

func (b *BatchedStore) InsertScopeRef(ref *ScopeRef) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ref.ID = b.allocFakeID()
	b.ScopeRefs = append(b.ScopeRefs, *ref)
	return ref.ID, nil
}

// Len returns the number of buffered rows.
func (b *BatchedStore) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Includes) + len(b.Diagnostics) + len(b.Scopes) + len(b.Symbols) +
		len(b.FunctionParams) + len(b.TypeParams) + len(b.ScopeRefs)
}
