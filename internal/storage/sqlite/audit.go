package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/memoryhub/memoryhub/internal/memtypes"
)

// InsertSyncAudit records one tool invocation, success or failure. Must run
// inside a write transaction so it commits atomically with the operation it
// describes (spec §5: audit rows share the push's memory_version and
// commit). Callers auditing a failure (no open transaction, e.g. validation
// failed before a transaction was opened) should use InsertSyncAuditStandalone.
func (tx *Tx) InsertSyncAudit(ctx context.Context, syncID, direction string, request, response json.RawMessage, errorCode string, latencyMs int64) error {
	_, err := tx.tx.ExecContext(ctx, `
		INSERT INTO sync_audit (project_id, sync_id, direction, request, response, error_code, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, tx.projectID, syncID, direction, string(request), string(response), errorCode, latencyMs, formatTime(time.Now()))
	return wrapDBError("insert sync audit", err)
}

// InsertSyncAuditStandalone records an audit row in its own transaction, for
// failures detected before any write transaction was opened (e.g. payload
// validation, workspace mismatch).
func (s *Store) InsertSyncAuditStandalone(ctx context.Context, syncID, direction string, request, response json.RawMessage, errorCode string, latencyMs int64) error {
	return s.RunInTransaction(ctx, func(tx *Tx) error {
		return tx.InsertSyncAudit(ctx, syncID, direction, request, response, errorCode, latencyMs)
	})
}

// ListSyncAudit returns up to limit audit rows, newest first, optionally
// filtered by direction.
func (s *Store) ListSyncAudit(ctx context.Context, direction string, limit int) ([]memtypes.SyncAudit, error) {
	var rows *sql.Rows
	var err error
	if direction != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, sync_id, direction, request, response, error_code, latency_ms, created_at
			FROM sync_audit WHERE project_id = ? AND direction = ? ORDER BY id DESC LIMIT ?
		`, s.projectID, direction, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, sync_id, direction, request, response, error_code, latency_ms, created_at
			FROM sync_audit WHERE project_id = ? ORDER BY id DESC LIMIT ?
		`, s.projectID, limit)
	}
	if err != nil {
		return nil, wrapDBError("list sync audit", err)
	}
	defer rows.Close()

	var out []memtypes.SyncAudit
	for rows.Next() {
		var a memtypes.SyncAudit
		var request, response, createdAt string
		if err := rows.Scan(&a.ID, &a.SyncID, &a.Direction, &request, &response, &a.ErrorCode, &a.LatencyMs, &createdAt); err != nil {
			return nil, wrapDBError("scan sync audit", err)
		}
		a.ProjectID = s.projectID
		a.Request = json.RawMessage(request)
		a.Response = json.RawMessage(response)
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			a.CreatedAt = t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
