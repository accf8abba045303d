package migrations

import "database/sql"

// migrateInit creates the ProjectMeta singleton table.
func migrateInit(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS project_meta (
			project_id     TEXT PRIMARY KEY,
			memory_version INTEGER NOT NULL DEFAULT 0,
			workspace_root TEXT NOT NULL DEFAULT '',
			updated_at     TEXT NOT NULL
		)
	`)
	return err
}
