package store

import "fmt"

// FilesDependingOn returns the paths of the files that include path
// directly or transitively, as recorded by the last export.
func (s *Store) FilesDependingOn(path string) ([]string, error) {
	return s.queryPaths(`SELECT d.path
		FROM dependents x
		JOIN files f ON f.id = x.file_id
		JOIN files d ON d.id = x.dependent_file_id
		WHERE f.path = ?
		ORDER BY d.path`, path)
}

// FilesIncludedBy returns the paths path includes directly or
// transitively, as recorded by the last export.
func (s *Store) FilesIncludedBy(path string) ([]string, error) {
	return s.queryPaths(`SELECT f.path
		FROM dependents x
		JOIN files f ON f.id = x.file_id
		JOIN files d ON d.id = x.dependent_file_id
		WHERE d.path = ?
		ORDER BY f.path`, path)
}

// FilesIncluding returns the paths of files with a directive spelled
// spelling, resolved or not.
func (s *Store) FilesIncluding(spelling string) ([]string, error) {
	return s.queryPaths(`SELECT DISTINCT f.path
		FROM includes i
		JOIN files f ON f.id = i.file_id
		WHERE i.spelling = ?
		ORDER BY f.path`, spelling)
}

func (s *Store) queryPaths(query string, args ...any) ([]string, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query paths: %w", err)
	}
	defer rows.Close()
	paths := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan path: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}
