package migrations

import "database/sql"

// migrateOpenLoopsHandoff creates the open_loops and handoff_packets tables.
func migrateOpenLoopsHandoff(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS open_loops (
			loop_id    TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			title      TEXT NOT NULL,
			priority   INTEGER NOT NULL DEFAULT 3,
			owner_role TEXT NOT NULL DEFAULT '',
			status     TEXT NOT NULL DEFAULT 'open',
			created_at TEXT NOT NULL,
			closed_at  TEXT,
			closed_by  TEXT NOT NULL DEFAULT ''
		)
	`); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		CREATE INDEX IF NOT EXISTS idx_open_loops_priority
		ON open_loops (project_id, status, priority, created_at)
	`); err != nil {
		return err
	}

	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS handoff_packets (
			handoff_id     TEXT PRIMARY KEY,
			project_id     TEXT NOT NULL,
			session_id     TEXT NOT NULL,
			summary        TEXT NOT NULL,
			memory_version INTEGER NOT NULL,
			created_at     TEXT NOT NULL,
			expires_at     TEXT NOT NULL
		)
	`)
	return err
}
