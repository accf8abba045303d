package migrations

import "database/sql"

// migrateRoleState creates the latest-wins current table and the
// append-only version history table for role memory.
func migrateRoleState(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS role_state_current (
			project_id  TEXT NOT NULL,
			role        TEXT NOT NULL,
			memory_key  TEXT NOT NULL,
			value       TEXT NOT NULL,
			confidence  REAL NOT NULL DEFAULT 0,
			source_refs TEXT NOT NULL DEFAULT '',
			version     INTEGER NOT NULL,
			updated_at  TEXT NOT NULL,
			PRIMARY KEY (project_id, role, memory_key)
		)
	`); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS role_state_versions (
			version_id          TEXT PRIMARY KEY,
			project_id          TEXT NOT NULL,
			role                TEXT NOT NULL,
			memory_key          TEXT NOT NULL,
			previous_version_id TEXT,
			value               TEXT NOT NULL,
			confidence          REAL NOT NULL DEFAULT 0,
			source_refs         TEXT NOT NULL DEFAULT '',
			memory_version      INTEGER NOT NULL,
			writer_client_id    TEXT NOT NULL DEFAULT '',
			created_at          TEXT NOT NULL
		)
	`); err != nil {
		return err
	}

	_, err := tx.Exec(`
		CREATE INDEX IF NOT EXISTS idx_role_state_versions_lookup
		ON role_state_versions (project_id, role, memory_key, memory_version)
	`)
	return err
}
