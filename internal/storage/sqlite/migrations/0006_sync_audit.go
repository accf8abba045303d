package migrations

import "database/sql"

// migrateSyncAuditV2 establishes the final sync_audit schema. Earlier
// deployments carried a narrower "sync_audit" table (project_id, direction,
// payload, created_at); this migration widens it by building a staging
// table, copying rows across, dropping the old table, and renaming the
// staging table into place. Heal (below) completes this rename if a prior
// run crashed between the drop and the rename.
func migrateSyncAuditV2(tx *sql.Tx) error {
	hasFinal, err := columnExists(tx, "sync_audit", "sync_id")
	if err != nil {
		// sync_audit doesn't exist yet at all; table_info on a missing table
		// errors on some drivers but PRAGMA table_info is tolerant on sqlite,
		// so treat any error here as "table absent".
		hasFinal = false
	}
	exists, err := tableExists(tx, "sync_audit")
	if err != nil {
		return err
	}
	if exists && hasFinal {
		return nil // already migrated
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS sync_audit_new (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id TEXT NOT NULL,
			sync_id    TEXT NOT NULL DEFAULT '',
			direction  TEXT NOT NULL,
			request    TEXT NOT NULL DEFAULT '{}',
			response   TEXT NOT NULL DEFAULT '{}',
			error_code TEXT NOT NULL DEFAULT '',
			latency_ms INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)
	`); err != nil {
		return err
	}

	if exists {
		legacyHasPayload, err := columnExists(tx, "sync_audit", "payload")
		if err != nil {
			return err
		}
		if legacyHasPayload {
			if _, err := tx.Exec(`
				INSERT INTO sync_audit_new (project_id, sync_id, direction, request, response, error_code, latency_ms, created_at)
				SELECT project_id, '', direction, payload, '{}', '', 0, created_at FROM sync_audit
			`); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(`DROP TABLE sync_audit`); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`ALTER TABLE sync_audit_new RENAME TO sync_audit`); err != nil {
		return err
	}

	_, err = tx.Exec(`
		CREATE INDEX IF NOT EXISTS idx_sync_audit_latest
		ON sync_audit (project_id, id DESC)
	`)
	return err
}

// Heal detects and repairs a half-applied migrateSyncAuditV2 run: the
// staging table "sync_audit_new" survives a crash between the DROP and the
// RENAME, leaving the new table present and the old one absent. It must
// run before the ordered migration list, outside any migration's own
// transaction, since it repairs state the migration loop itself depends on.
func Heal(db *sql.DB) error {
	var newExists, oldExists int
	if err := db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='sync_audit_new'`).Scan(&newExists); err != nil {
		return err
	}
	if newExists == 0 {
		return nil
	}
	if err := db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='sync_audit'`).Scan(&oldExists); err != nil {
		return err
	}
	if oldExists > 0 {
		return nil // both present: not the half-applied state this heals, leave to the migration itself
	}
	_, err := db.Exec(`ALTER TABLE sync_audit_new RENAME TO sync_audit`)
	return err
}
