package store

// DataStore is the write side of extraction. Store inserts directly into
// SQLite; BatchedStore buffers rows in memory so documents can be
// extracted in parallel and committed in one transaction.
type DataStore interface {
	// Each insert returns the assigned ID.
	InsertInclude(inc *Include) (int64, error)
	InsertDiagnostic(d *Diagnostic) (int64, error)
	InsertScope(scope *Scope) (int64, error)
	InsertSymbol(sym *Symbol) (int64, error)
	InsertFunctionParam(fp *FunctionParam) (int64, error)
	InsertTypeParam(tp *TypeParam) (int64, error)
	InsertScopeRef(ref *ScopeRef) (int64, error)
}

// Compile-time check: *Store satisfies DataStore.
var _ DataStore = (*Store)(nil)
