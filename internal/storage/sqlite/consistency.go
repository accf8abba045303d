package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/memoryhub/memoryhub/internal/memtypes"
)

// InsertConsistencyLink records one sync or catalog-refresh consistency
// state. Must run inside a write transaction: push writes "degraded" in the
// same transaction as the role-state bump, the catalog worker writes "ok"
// in its own later transaction.
func (tx *Tx) InsertConsistencyLink(ctx context.Context, syncID string, memoryVersion int64, catalogVersion string, status memtypes.ConsistencyStatus) error {
	_, err := tx.tx.ExecContext(ctx, `
		INSERT INTO consistency_links (project_id, sync_id, memory_version, catalog_version, consistency_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, tx.projectID, syncID, memoryVersion, catalogVersion, string(status), formatTime(time.Now()))
	return wrapDBError("insert consistency link", err)
}

// LatestConsistencyLink returns the most recently inserted link, or nil if
// the project has never synced or refreshed. Read primitive; no transaction
// required.
func (s *Store) LatestConsistencyLink(ctx context.Context) (*memtypes.ConsistencyLink, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, sync_id, memory_version, catalog_version, consistency_status, created_at
		FROM consistency_links WHERE project_id = ? ORDER BY id DESC LIMIT 1
	`, s.projectID)

	var l memtypes.ConsistencyLink
	var status, createdAt string
	if err := row.Scan(&l.ID, &l.SyncID, &l.MemoryVersion, &l.CatalogVersion, &status, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, wrapDBError("get latest consistency link", err)
	}
	l.ProjectID = s.projectID
	l.ConsistencyStatus = memtypes.ConsistencyStatus(status)
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		l.CreatedAt = t
	}
	return &l, nil
}
