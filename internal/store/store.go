// Package store persists Snapshots to SQLite so that tools outside the
// process can query an index without re-parsing the sources.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite data access layer for exported Snapshots.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use in transactions.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates all tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// tables lists every table in child-before-parent order, the order rows
// must be deleted in.
var tables = []string{
	"dependents",
	"scope_refs",
	"type_parameters",
	"function_parameters",
	"symbols",
	"scopes",
	"diagnostics",
	"includes",
	"files",
	"metadata",
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS files (
  id              INTEGER PRIMARY KEY,
  path            TEXT NOT NULL UNIQUE,
  kind            TEXT NOT NULL,
  revision        TEXT NOT NULL,
  mod_time        TIMESTAMP,
  line_count      INTEGER,
  has_errors      BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS includes (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id),
  spelling        TEXT NOT NULL,
  resolved        TEXT,
  system          BOOLEAN NOT NULL DEFAULT 0,
  line            INTEGER
);

CREATE TABLE IF NOT EXISTS diagnostics (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id),
  line            INTEGER,
  col             INTEGER,
  severity        TEXT NOT NULL,
  message         TEXT
);

CREATE TABLE IF NOT EXISTS scopes (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id),
  parent_scope_id INTEGER REFERENCES scopes(id),
  symbol_id       INTEGER,
  kind            TEXT NOT NULL,
  name            TEXT,
  qualifier       TEXT,
  start_line      INTEGER,
  start_col       INTEGER,
  end_line        INTEGER,
  end_col         INTEGER
);

CREATE TABLE IF NOT EXISTS symbols (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id),
  scope_id        INTEGER REFERENCES scopes(id),
  name            TEXT NOT NULL,
  qualified_name  TEXT NOT NULL,
  kind            TEXT NOT NULL,
  type_expr       TEXT,
  modifiers       TEXT,
  signature_hash  TEXT,
  line            INTEGER,
  col             INTEGER
);

CREATE TABLE IF NOT EXISTS function_parameters (
  id              INTEGER PRIMARY KEY,
  symbol_id       INTEGER NOT NULL REFERENCES symbols(id),
  ordinal         INTEGER NOT NULL,
  type_expr       TEXT
);

CREATE TABLE IF NOT EXISTS type_parameters (
  id              INTEGER PRIMARY KEY,
  symbol_id       INTEGER NOT NULL REFERENCES symbols(id),
  ordinal         INTEGER NOT NULL,
  name            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS scope_refs (
  id              INTEGER PRIMARY KEY,
  scope_id        INTEGER NOT NULL REFERENCES scopes(id),
  kind            TEXT NOT NULL,
  ordinal         INTEGER NOT NULL,
  spelling        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS dependents (
  file_id           INTEGER NOT NULL REFERENCES files(id),
  dependent_file_id INTEGER NOT NULL REFERENCES files(id),
  PRIMARY KEY (file_id, dependent_file_id)
);

CREATE TABLE IF NOT EXISTS metadata (
  key             TEXT PRIMARY KEY,
  value           TEXT
);

CREATE INDEX IF NOT EXISTS idx_includes_file ON includes(file_id);
CREATE INDEX IF NOT EXISTS idx_includes_resolved ON includes(resolved);
CREATE INDEX IF NOT EXISTS idx_diagnostics_file ON diagnostics(file_id);
CREATE INDEX IF NOT EXISTS idx_scopes_file ON scopes(file_id);
CREATE INDEX IF NOT EXISTS idx_scopes_parent ON scopes(parent_scope_id);
CREATE INDEX IF NOT EXISTS idx_symbols_file ON symbols(file_id);
CREATE INDEX IF NOT EXISTS idx_symbols_scope ON symbols(scope_id);
CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);
CREATE INDEX IF NOT EXISTS idx_symbols_qualified ON symbols(qualified_name);
CREATE INDEX IF NOT EXISTS idx_function_parameters_symbol ON function_parameters(symbol_id);
CREATE INDEX IF NOT EXISTS idx_type_parameters_symbol ON type_parameters(symbol_id);
CREATE INDEX IF NOT EXISTS idx_scope_refs_scope ON scope_refs(scope_id);
CREATE INDEX IF NOT EXISTS idx_dependents_dependent ON dependents(dependent_file_id);
`

// Meta returns the metadata value stored under key, or "" when absent.
func (s *Store) Meta(key string) (string, error) {
	var v sql.NullString
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("meta %s: %w", key, err)
	}
	return v.String, nil
}

// SetMeta stores value under key.
func (s *Store) SetMeta(key, value string) error {
	return setMeta(s.db, key, value)
}

func setMeta(ex execer, key, value string) error {
	_, err := ex.Exec("INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value", key, value)
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}
