package sqlite

import (
	"context"
	"time"

	"github.com/memoryhub/memoryhub/internal/memtypes"
)

// GetProjectMeta is a read primitive; it does not require a transaction.
func (s *Store) GetProjectMeta(ctx context.Context) (*memtypes.ProjectMeta, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT project_id, memory_version, workspace_root, updated_at
		FROM project_meta WHERE project_id = ?
	`, s.projectID)

	var pm memtypes.ProjectMeta
	var updatedAt string
	if err := row.Scan(&pm.ProjectID, &pm.MemoryVersion, &pm.WorkspaceRoot, &updatedAt); err != nil {
		return nil, wrapDBError("get project meta", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		pm.UpdatedAt = t
	}
	return &pm, nil
}

// EnforceWorkspaceBinding binds workspace_root on first use, or fails with
// ErrWorkspaceMismatch if it was already bound to a different root. Must be
// called before opening the write transaction for a push, per spec.
func (s *Store) EnforceWorkspaceBinding(ctx context.Context, workspaceRoot string) error {
	meta, err := s.GetProjectMeta(ctx)
	if err != nil {
		return err
	}
	if meta.WorkspaceRoot == "" {
		return s.RunInTransaction(ctx, func(tx *Tx) error {
			_, err := tx.tx.ExecContext(ctx, `
				UPDATE project_meta SET workspace_root = ?, updated_at = ? WHERE project_id = ?
			`, workspaceRoot, formatTime(time.Now()), s.projectID)
			return err
		})
	}
	if meta.WorkspaceRoot != workspaceRoot {
		return ErrWorkspaceMismatch
	}
	return nil
}

// BumpMemoryVersion advances memory_version by exactly one and returns the
// new value. Must be called within an existing write transaction (the
// session-sync engine's push path, spec §4.2 step 5).
func (tx *Tx) BumpMemoryVersion(ctx context.Context) (int64, error) {
	if _, err := tx.tx.ExecContext(ctx, `
		UPDATE project_meta SET memory_version = memory_version + 1, updated_at = ? WHERE project_id = ?
	`, formatTime(time.Now()), tx.projectID); err != nil {
		return 0, err
	}
	var v int64
	if err := tx.tx.QueryRowContext(ctx, `SELECT memory_version FROM project_meta WHERE project_id = ?`, tx.projectID).Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

// CurrentMemoryVersion reads memory_version within an existing transaction
// (for conflict detection, which must observe the version inside the tx).
func (tx *Tx) CurrentMemoryVersion(ctx context.Context) (int64, error) {
	var v int64
	err := tx.tx.QueryRowContext(ctx, `SELECT memory_version FROM project_meta WHERE project_id = ?`, tx.projectID).Scan(&v)
	return v, err
}
