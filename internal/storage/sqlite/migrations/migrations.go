// Package migrations holds the ordered, idempotent, transactional schema
// migrations applied to a project's SQLite store, one function per version,
// the way internal/storage/sqlite/migrations/002_external_ref_column.go
// structures a single migration in the teacher repo.
package migrations

import "database/sql"

// Migration is one ordered schema step. Apply must be idempotent: if the
// statements it guards have already been observed (e.g. "column already
// exists"), it must return nil rather than error.
type Migration struct {
	Version int
	Name    string
	Apply   func(tx *sql.Tx) error
}

// All is the ordered list of migrations applied by the store on connect.
var All = []Migration{
	{Version: 1, Name: "init_project_meta", Apply: migrateInit},
	{Version: 2, Name: "role_state", Apply: migrateRoleState},
	{Version: 3, Name: "open_loops_handoff", Apply: migrateOpenLoopsHandoff},
	{Version: 4, Name: "catalog", Apply: migrateCatalog},
	{Version: 5, Name: "catalog_jobs_consistency", Apply: migrateCatalogJobsConsistency},
	{Version: 6, Name: "sync_audit_v2", Apply: migrateSyncAuditV2},
}

// tableExists reports whether name is a table in the schema (sqlite_master lookup).
func tableExists(tx *sql.Tx, name string) (bool, error) {
	var n int
	err := tx.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// columnExists reports whether table has a column named name, via PRAGMA table_info.
func columnExists(tx *sql.Tx, table, name string) (bool, error) {
	rows, err := tx.Query(`PRAGMA table_info(` + table + `)`)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var colName, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
			return false, err
		}
		if colName == name {
			return true, nil
		}
	}
	return false, rows.Err()
}
