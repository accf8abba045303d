package migrations

import "database/sql"

// migrateCatalogJobsConsistency creates the lease-based job queue and the
// consistency-link history table.
func migrateCatalogJobsConsistency(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS catalog_jobs (
			job_id           TEXT PRIMARY KEY,
			project_id       TEXT NOT NULL,
			job_type         TEXT NOT NULL,
			payload          TEXT NOT NULL DEFAULT '{}',
			status           TEXT NOT NULL DEFAULT 'pending',
			attempts         INTEGER NOT NULL DEFAULT 0,
			max_attempts     INTEGER NOT NULL DEFAULT 5,
			last_error       TEXT NOT NULL DEFAULT '',
			next_retry_at    TEXT,
			lease_expires_at TEXT,
			created_at       TEXT NOT NULL
		)
	`); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		CREATE INDEX IF NOT EXISTS idx_catalog_jobs_claimable
		ON catalog_jobs (project_id, status, next_retry_at, created_at)
	`); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS consistency_links (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id         TEXT NOT NULL,
			sync_id            TEXT NOT NULL,
			memory_version     INTEGER NOT NULL,
			catalog_version    TEXT NOT NULL DEFAULT '',
			consistency_status TEXT NOT NULL,
			created_at         TEXT NOT NULL
		)
	`); err != nil {
		return err
	}

	_, err := tx.Exec(`
		CREATE INDEX IF NOT EXISTS idx_consistency_links_latest
		ON consistency_links (project_id, id DESC)
	`)
	return err
}
