package migrations

import "database/sql"

// migrateCatalog creates the catalog snapshot tables: the per-project
// summary singleton, files, and import edges.
func migrateCatalog(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS catalog_meta (
			project_id        TEXT PRIMARY KEY,
			catalog_version   TEXT NOT NULL DEFAULT '',
			total_files       INTEGER NOT NULL DEFAULT 0,
			indexed_files     INTEGER NOT NULL DEFAULT 0,
			coverage_pct      REAL NOT NULL DEFAULT 0,
			last_indexed_at   TEXT,
			last_full_rebuild TEXT
		)
	`); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS catalog_files (
			project_id   TEXT NOT NULL,
			path         TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			language     TEXT NOT NULL DEFAULT '',
			import_count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (project_id, path)
		)
	`); err != nil {
		return err
	}

	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS catalog_edges (
			project_id  TEXT NOT NULL,
			from_file   TEXT NOT NULL,
			to_module   TEXT NOT NULL,
			edge_type   TEXT NOT NULL DEFAULT 'import',
			confidence  REAL NOT NULL DEFAULT 0,
			source_type TEXT NOT NULL DEFAULT 'inferred'
		)
	`)
	return err
}
