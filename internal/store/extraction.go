package store

import (
	"database/sql"
	"fmt"
)

func lastID(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// --- File operations ---

func (s *Store) InsertFile(f *File) (int64, error) {
	id, err := insertFileTx(s.db, f)
	if err != nil {
		return 0, fmt.Errorf("insert file: %w", err)
	}
	return id, nil
}

func insertFileTx(ex execer, f *File) (int64, error) {
	id, err := lastID(ex.Exec(
		"INSERT INTO files (path, kind, revision, mod_time, line_count, has_errors) VALUES (?, ?, ?, ?, ?, ?)",
		f.Path, f.Kind, f.Revision, f.ModTime, f.LineCount, f.HasErrors,
	))
	if err != nil {
		return 0, err
	}
	f.ID = id
	return id, nil
}

const fileCols = "id, path, kind, revision, mod_time, line_count, has_errors"

func scanFile(scanner interface{ Scan(...any) error }) (*File, error) {
	f := &File{}
	var modTime sql.NullTime
	if err := scanner.Scan(&f.ID, &f.Path, &f.Kind, &f.Revision, &modTime, &f.LineCount, &f.HasErrors); err != nil {
		return nil, err
	}
	f.ModTime = modTime.Time
	return f, nil
}

// FileByPath returns the file row for path, or nil when it is absent.
func (s *Store) FileByPath(path string) (*File, error) {
	f, err := scanFile(s.db.QueryRow("SELECT "+fileCols+" FROM files WHERE path = ?", path))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file by path: %w", err)
	}
	return f, nil
}

// Files returns every file row ordered by path.
func (s *Store) Files() ([]*File, error) {
	return s.queryFiles("SELECT " + fileCols + " FROM files ORDER BY path")
}

func (s *Store) queryFiles(query string, args ...any) ([]*File, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()
	var files []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// --- Include operations ---

func (s *Store) InsertInclude(inc *Include) (int64, error) {
	id, err := insertIncludeTx(s.db, inc)
	if err != nil {
		return 0, fmt.Errorf("insert include: %w", err)
	}
	return id, nil
}

func insertIncludeTx(ex execer, inc *Include) (int64, error) {
	id, err := lastID(ex.Exec(
		"INSERT INTO includes (file_id, spelling, resolved, system, line) VALUES (?, ?, ?, ?, ?)",
		inc.FileID, inc.Spelling, nullString(inc.Resolved), inc.System, inc.Line,
	))
	if err != nil {
		return 0, err
	}
	inc.ID = id
	return id, nil
}

func (s *Store) IncludesByFile(fileID int64) ([]*Include, error) {
	rows, err := s.db.Query(
		"SELECT id, file_id, spelling, resolved, system, line FROM includes WHERE file_id = ? ORDER BY id", fileID,
	)
	if err != nil {
		return nil, fmt.Errorf("includes by file: %w", err)
	}
	defer rows.Close()
	var incs []*Include
	for rows.Next() {
		inc := &Include{}
		var resolved sql.NullString
		if err := rows.Scan(&inc.ID, &inc.FileID, &inc.Spelling, &resolved, &inc.System, &inc.Line); err != nil {
			return nil, fmt.Errorf("scan include: %w", err)
		}
		inc.Resolved = resolved.String
		incs = append(incs, inc)
	}
	return incs, rows.Err()
}

// --- Diagnostic operations ---

func (s *Store) InsertDiagnostic(d *Diagnostic) (int64, error) {
	id, err := insertDiagnosticTx(s.db, d)
	if err != nil {
		return 0, fmt.Errorf("insert diagnostic: %w", err)
	}
	return id, nil
}

func insertDiagnosticTx(ex execer, d *Diagnostic) (int64, error) {
	id, err := lastID(ex.Exec(
		"INSERT INTO diagnostics (file_id, line, col, severity, message) VALUES (?, ?, ?, ?, ?)",
		d.FileID, d.Line, d.Col, d.Severity, d.Message,
	))
	if err != nil {
		return 0, err
	}
	d.ID = id
	return id, nil
}

func (s *Store) DiagnosticsByFile(fileID int64) ([]*Diagnostic, error) {
	rows, err := s.db.Query(
		"SELECT id, file_id, line, col, severity, message FROM diagnostics WHERE file_id = ? ORDER BY line, col", fileID,
	)
	if err != nil {
		return nil, fmt.Errorf("diagnostics by file: %w", err)
	}
	defer rows.Close()
	var out []*Diagnostic
	for rows.Next() {
		d := &Diagnostic{}
		if err := rows.Scan(&d.ID, &d.FileID, &d.Line, &d.Col, &d.Severity, &d.Message); err != nil {
			return nil, fmt.Errorf("scan diagnostic: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- Scope operations ---

func (s *Store) InsertScope(scope *Scope) (int64, error) {
	id, err := insertScopeTx(s.db, scope)
	if err != nil {
		return 0, fmt.Errorf("insert scope: %w", err)
	}
	return id, nil
}

func insertScopeTx(ex execer, scope *Scope) (int64, error) {
	id, err := lastID(ex.Exec(
		`INSERT INTO scopes (file_id, parent_scope_id, symbol_id, kind, name, qualifier,
			start_line, start_col, end_line, end_col)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		scope.FileID, scope.ParentScopeID, scope.SymbolID, scope.Kind,
		nullString(scope.Name), nullString(scope.Qualifier),
		scope.StartLine, scope.StartCol, scope.EndLine, scope.EndCol,
	))
	if err != nil {
		return 0, err
	}
	scope.ID = id
	return id, nil
}

const scopeCols = `id, file_id, parent_scope_id, symbol_id, kind, name, qualifier,
	start_line, start_col, end_line, end_col`

func scanScope(scanner interface{ Scan(...any) error }) (*Scope, error) {
	sc := &Scope{}
	var name, qualifier sql.NullString
	err := scanner.Scan(&sc.ID, &sc.FileID, &sc.ParentScopeID, &sc.SymbolID, &sc.Kind, &name, &qualifier,
		&sc.StartLine, &sc.StartCol, &sc.EndLine, &sc.EndCol)
	if err != nil {
		return nil, err
	}
	sc.Name = name.String
	sc.Qualifier = qualifier.String
	return sc, nil
}

func (s *Store) ScopesByFile(fileID int64) ([]*Scope, error) {
	rows, err := s.db.Query("SELECT "+scopeCols+" FROM scopes WHERE file_id = ? ORDER BY id", fileID)
	if err != nil {
		return nil, fmt.Errorf("scopes by file: %w", err)
	}
	defer rows.Close()
	var scopes []*Scope
	for rows.Next() {
		sc, err := scanScope(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scope: %w", err)
		}
		scopes = append(scopes, sc)
	}
	return scopes, rows.Err()
}

// ScopeChain returns the scope with the given ID followed by its
// ancestors, innermost first.
func (s *Store) ScopeChain(scopeID int64) ([]*Scope, error) {
	var chain []*Scope
	cur := &scopeID
	for cur != nil {
		sc, err := scanScope(s.db.QueryRow("SELECT "+scopeCols+" FROM scopes WHERE id = ?", *cur))
		if err == sql.ErrNoRows {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("scope chain: %w", err)
		}
		chain = append(chain, sc)
		cur = sc.ParentScopeID
	}
	return chain, nil
}

// --- Symbol operations ---

func (s *Store) InsertSymbol(sym *Symbol) (int64, error) {
	id, err := insertSymbolTx(s.db, sym)
	if err != nil {
		return 0, fmt.Errorf("insert symbol: %w", err)
	}
	return id, nil
}

func insertSymbolTx(ex execer, sym *Symbol) (int64, error) {
	id, err := lastID(ex.Exec(
		`INSERT INTO symbols (file_id, scope_id, name, qualified_name, kind, type_expr, modifiers,
			signature_hash, line, col)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sym.FileID, sym.ScopeID, sym.Name, sym.QualifiedName, sym.Kind, nullString(sym.TypeExpr),
		marshalModifiers(sym.Modifiers), sym.SignatureHash, sym.Line, sym.Col,
	))
	if err != nil {
		return 0, err
	}
	sym.ID = id
	return id, nil
}

// SymbolCols is the column list of symbol queries.
const SymbolCols = `id, file_id, scope_id, name, qualified_name, kind, type_expr, modifiers,
	signature_hash, line, col`

// ScanSymbolRow scans a row selected with SymbolCols.
func ScanSymbolRow(scanner interface{ Scan(...any) error }) (*Symbol, error) {
	sym := &Symbol{}
	var typeExpr, hash sql.NullString
	var mods string
	err := scanner.Scan(&sym.ID, &sym.FileID, &sym.ScopeID, &sym.Name, &sym.QualifiedName, &sym.Kind,
		&typeExpr, &mods, &hash, &sym.Line, &sym.Col)
	if err != nil {
		return nil, err
	}
	sym.TypeExpr = typeExpr.String
	sym.SignatureHash = hash.String
	sym.Modifiers = unmarshalModifiers(mods)
	return sym, nil
}

func (s *Store) querySymbols(query string, args ...any) ([]*Symbol, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var symbols []*Symbol
	for rows.Next() {
		sym, err := ScanSymbolRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan symbol: %w", err)
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

func (s *Store) SymbolsByFile(fileID int64) ([]*Symbol, error) {
	return s.querySymbols("SELECT "+SymbolCols+" FROM symbols WHERE file_id = ? ORDER BY id", fileID)
}

func (s *Store) SymbolsByName(name string) ([]*Symbol, error) {
	return s.querySymbols("SELECT "+SymbolCols+" FROM symbols WHERE name = ? ORDER BY id", name)
}

func (s *Store) SymbolsByQualifiedName(qname string) ([]*Symbol, error) {
	return s.querySymbols("SELECT "+SymbolCols+" FROM symbols WHERE qualified_name = ? ORDER BY id", qname)
}

func (s *Store) SymbolsInScope(scopeID int64) ([]*Symbol, error) {
	return s.querySymbols("SELECT "+SymbolCols+" FROM symbols WHERE scope_id = ? ORDER BY id", scopeID)
}

// --- Function and template parameters ---

func (s *Store) InsertFunctionParam(fp *FunctionParam) (int64, error) {
	id, err := insertFunctionParamTx(s.db, fp)
	if err != nil {
		return 0, fmt.Errorf("insert function param: %w", err)
	}
	return id, nil
}

func insertFunctionParamTx(ex execer, fp *FunctionParam) (int64, error) {
	id, err := lastID(ex.Exec(
		"INSERT INTO function_parameters (symbol_id, ordinal, type_expr) VALUES (?, ?, ?)",
		fp.SymbolID, fp.Ordinal, fp.TypeExpr,
	))
	if err != nil {
		return 0, err
	}
	fp.ID = id
	return id, nil
}

func (s *Store) FunctionParams(symbolID int64) ([]*FunctionParam, error) {
	rows, err := s.db.Query(
		"SELECT id, symbol_id, ordinal, type_expr FROM function_parameters WHERE symbol_id = ? ORDER BY ordinal", symbolID,
	)
	if err != nil {
		return nil, fmt.Errorf("function params: %w", err)
	}
	defer rows.Close()
	var out []*FunctionParam
	for rows.Next() {
		fp := &FunctionParam{}
		if err := rows.Scan(&fp.ID, &fp.SymbolID, &fp.Ordinal, &fp.TypeExpr); err != nil {
			return nil, fmt.Errorf("scan function param: %w", err)
		}
		out = append(out, fp)
	}
	return out, rows.Err()
}

func (s *Store) InsertTypeParam(tp *TypeParam) (int64, error) {
	id, err := insertTypeParamTx(s.db, tp)
	if err != nil {
		return 0, fmt.Errorf("insert type param: %w", err)
	}
	return id, nil
}

func insertTypeParamTx(ex execer, tp *TypeParam) (int64, error) {
	id, err := lastID(ex.Exec(
		"INSERT INTO type_parameters (symbol_id, ordinal, name) VALUES (?, ?, ?)",
		tp.SymbolID, tp.Ordinal, tp.Name,
	))
	if err != nil {
		return 0, err
	}
	tp.ID = id
	return id, nil
}

func (s *Store) TypeParams(symbolID int64) ([]*TypeParam, error) {
	rows, err := s.db.Query(
		"SELECT id, symbol_id, ordinal, name FROM type_parameters WHERE symbol_id = ? ORDER BY ordinal", symbolID,
	)
	if err != nil {
		return nil, fmt.Errorf("type params: %w", err)
	}
	defer rows.Close()
	var out []*TypeParam
	for rows.Next() {
		tp := &TypeParam{}
		if err := rows.Scan(&tp.ID, &tp.SymbolID, &tp.Ordinal, &tp.Name); err != nil {
			return nil, fmt.Errorf("scan type param: %w", err)
		}
		out = append(out, tp)
	}
	return out, rows.Err()
}

// --- Scope refs ---

func (s *Store) InsertScopeRef(ref *ScopeRef) (int64, error) {
	id, err := insertScopeRefTx(s.db, ref)
	if err != nil {
		return 0, fmt.Errorf("insert scope ref: %w", err)
	}
	return id, nil
}

func insertScopeRefTx(ex execer, ref *ScopeRef) (int64, error) {
	id, err := lastID(ex.Exec(
		"INSERT INTO scope_refs (scope_id, kind, ordinal, spelling) VALUES (?, ?, ?, ?)",
		ref.ScopeID, ref.Kind, ref.Ordinal, ref.Spelling,
	))
	if err != nil {
		return 0, err
	}
	ref.ID = id
	return id, nil
}

// ScopeRefs returns the refs of one kind declared by a scope, in order.
func (s *Store) ScopeRefs(scopeID int64, kind string) ([]*ScopeRef, error) {
	rows, err := s.db.Query(
		"SELECT id, scope_id, kind, ordinal, spelling FROM scope_refs WHERE scope_id = ? AND kind = ? ORDER BY ordinal",
		scopeID, kind,
	)
	if err != nil {
		return nil, fmt.Errorf("scope refs: %w", err)
	}
	defer rows.Close()
	var out []*ScopeRef
	for rows.Next() {
		r := &ScopeRef{}
		if err := rows.Scan(&r.ID, &r.ScopeID, &r.Kind, &r.Ordinal, &r.Spelling); err != nil {
			return nil, fmt.Errorf("scan scope ref: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
