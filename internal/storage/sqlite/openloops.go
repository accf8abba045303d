package sqlite

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/memoryhub/memoryhub/internal/memtypes"
)

// InsertOpenLoops inserts new open loops; title is required by validation
// upstream. Must run inside a write transaction.
func (tx *Tx) InsertOpenLoops(ctx context.Context, loops []memtypes.NewOpenLoop) ([]memtypes.OpenLoop, error) {
	now := time.Now()
	out := make([]memtypes.OpenLoop, 0, len(loops))
	for _, l := range loops {
		loopID := uuid.NewString()
		priority := l.Priority
		if priority <= 0 {
			priority = 3
		}
		if _, err := tx.tx.ExecContext(ctx, `
			INSERT INTO open_loops (loop_id, project_id, title, priority, owner_role, status, created_at)
			VALUES (?, ?, ?, ?, ?, 'open', ?)
		`, loopID, tx.projectID, l.Title, priority, string(l.OwnerRole), formatTime(now)); err != nil {
			return nil, wrapDBError("insert open loop", err)
		}
		out = append(out, memtypes.OpenLoop{
			LoopID: loopID, ProjectID: tx.projectID, Title: l.Title,
			Priority: priority, OwnerRole: l.OwnerRole, Status: memtypes.LoopOpen, CreatedAt: now,
		})
	}
	return out, nil
}

// CloseOpenLoops closes loops named by id or by exact title (title form may
// close multiple matches). Closing a non-existent loop silently no-ops.
// Returns the number of rows closed. Must run inside a write transaction.
func (tx *Tx) CloseOpenLoops(ctx context.Context, closes []memtypes.OpenLoopClose, closedBy string) (int, error) {
	now := formatTime(time.Now())
	total := 0
	for _, c := range closes {
		var res interface {
			RowsAffected() (int64, error)
		}
		var err error
		if c.LoopID != "" {
			res, err = tx.tx.ExecContext(ctx, `
				UPDATE open_loops SET status = 'closed', closed_at = ?, closed_by = ?
				WHERE project_id = ? AND loop_id = ? AND status = 'open'
			`, now, closedBy, tx.projectID, c.LoopID)
		} else if c.Title != "" {
			res, err = tx.tx.ExecContext(ctx, `
				UPDATE open_loops SET status = 'closed', closed_at = ?, closed_by = ?
				WHERE project_id = ? AND title = ? AND status = 'open'
			`, now, closedBy, tx.projectID, c.Title)
		} else {
			continue
		}
		if err != nil {
			return total, wrapDBError("close open loop", err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	return total, nil
}

// TopOpenLoops returns up to limit highest-priority open loops, ordered by
// (priority ASC, created_at ASC). Read primitive; no transaction required.
func (s *Store) TopOpenLoops(ctx context.Context, limit int) ([]memtypes.OpenLoop, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT loop_id, title, priority, owner_role, status, created_at
		FROM open_loops
		WHERE project_id = ? AND status = 'open'
		ORDER BY priority ASC, created_at ASC
		LIMIT ?
	`, s.projectID, limit)
	if err != nil {
		return nil, wrapDBError("list top open loops", err)
	}
	defer rows.Close()

	var out []memtypes.OpenLoop
	for rows.Next() {
		var l memtypes.OpenLoop
		var createdAt string
		if err := rows.Scan(&l.LoopID, &l.Title, &l.Priority, &l.OwnerRole, &l.Status, &createdAt); err != nil {
			return nil, wrapDBError("scan open loop", err)
		}
		l.ProjectID = s.projectID
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			l.CreatedAt = t
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
