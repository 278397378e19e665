package store

import (
	"database/sql"
	"fmt"
)

// CommitBatch inserts all buffered rows of batch in a single transaction.
func (s *Store) CommitBatch(batch *BatchedStore) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("commit batch: begin: %w", err)
	}
	defer tx.Rollback()
	if err := commitBatchTx(tx, batch); err != nil {
		return err
	}
	return tx.Commit()
}

// commitBatchTx writes batch inside tx. Fake (negative) IDs are remapped
// to real IDs and every reference within the batch is rewritten through
// the fakeToReal mapping.
//
// Scopes and symbols refer to each other, so insert order is:
//  1. Includes and diagnostics (file_id only)
//  2. Scopes without their owning symbol (parent_scope_id)
//  3. Symbols (scope_id)
//  4. Scope owners, patched in place
//  5. Function params, type params (symbol_id) and scope refs (scope_id)
func commitBatchTx(tx *sql.Tx, batch *BatchedStore) error {
	batch.mu.Lock()
	defer batch.mu.Unlock()

	fakeToReal := make(map[int64]int64, len(batch.Scopes)+len(batch.Symbols))
	remap := func(id *int64) *int64 {
		if id == nil || *id >= 0 {
			return id
		}
		rid, ok := fakeToReal[*id]
		if !ok {
			return nil
		}
		return &rid
	}

	// 1. Includes, diagnostics
	for _, inc := range batch.Includes {
		if _, err := insertIncludeTx(tx, &inc); err != nil {
			return fmt.Errorf("commit batch: include %q: %w", inc.Spelling, err)
		}
	}
	for _, d := range batch.Diagnostics {
		if _, err := insertDiagnosticTx(tx, &d); err != nil {
			return fmt.Errorf("commit batch: diagnostic: %w", err)
		}
	}

	// 2. Scopes. Parents precede children in the slice.
	owners := make(map[int64]int64)
	for _, sc := range batch.Scopes {
		fakeID := sc.ID
		if sc.SymbolID != nil {
			owners[fakeID] = *sc.SymbolID
		}
		sc.SymbolID = nil
		sc.ParentScopeID = remap(sc.ParentScopeID)
		realID, err := insertScopeTx(tx, &sc)
		if err != nil {
			return fmt.Errorf("commit batch: scope %q: %w", sc.Name, err)
		}
		fakeToReal[fakeID] = realID
	}

	// 3. Symbols
	for _, sym := range batch.Symbols {
		fakeID := sym.ID
		sym.ScopeID = remap(sym.ScopeID)
		realID, err := insertSymbolTx(tx, &sym)
		if err != nil {
			return fmt.Errorf("commit batch: symbol %q: %w", sym.Name, err)
		}
		fakeToReal[fakeID] = realID
	}

	// 4. Scope owners
	for fakeScope, owner := range owners {
		symID := remap(&owner)
		if symID == nil {
			continue
		}
		if _, err := tx.Exec("UPDATE scopes SET symbol_id = ? WHERE id = ?", *symID, fakeToReal[fakeScope]); err != nil {
			return fmt.Errorf("commit batch: scope owner: %w", err)
		}
	}

	// 5. Children of symbols and scopes
	for _, fp := range batch.FunctionParams {
		if fp.SymbolID < 0 {
			rid, ok := fakeToReal[fp.SymbolID]
			if !ok {
				return fmt.Errorf("commit batch: function param has symbol_id=%d not in fakeToReal map", fp.SymbolID)
			}
			fp.SymbolID = rid
		}
		if _, err := insertFunctionParamTx(tx, &fp); err != nil {
			return fmt.Errorf("commit batch: function param %d: %w", fp.Ordinal, err)
		}
	}
	for _, tp := range batch.TypeParams {
		if tp.SymbolID < 0 {
			rid, ok := fakeToReal[tp.SymbolID]
			if !ok {
				return fmt.Errorf("commit batch: type param %q has symbol_id=%d not in fakeToReal map", tp.Name, tp.SymbolID)
			}
			tp.SymbolID = rid
		}
		if _, err := insertTypeParamTx(tx, &tp); err != nil {
			return fmt.Errorf("commit batch: type param %q: %w", tp.Name, err)
		}
	}
	for _, ref := range batch.ScopeRefs {
		if ref.ScopeID < 0 {
			rid, ok := fakeToReal[ref.ScopeID]
			if !ok {
				return fmt.Errorf("commit batch: scope ref %q has scope_id=%d not in fakeToReal map", ref.Spelling, ref.ScopeID)
			}
			ref.ScopeID = rid
		}
		if _, err := insertScopeRefTx(tx, &ref); err != nil {
			return fmt.Errorf("commit batch: scope ref %q: %w", ref.Spelling, err)
		}
	}
	return nil
}
