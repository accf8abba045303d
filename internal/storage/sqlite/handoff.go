package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/memoryhub/memoryhub/internal/memtypes"
)

// InsertHandoffPacket records a per-session summary with the default TTL.
// Must run inside a write transaction.
func (tx *Tx) InsertHandoffPacket(ctx context.Context, sessionID string, summary json.RawMessage, memoryVersion int64) (*memtypes.HandoffPacket, error) {
	now := time.Now()
	expires := now.Add(memtypes.HandoffDefaultTTL)
	id := uuid.NewString()
	if _, err := tx.tx.ExecContext(ctx, `
		INSERT INTO handoff_packets (handoff_id, project_id, session_id, summary, memory_version, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, tx.projectID, sessionID, string(summary), memoryVersion, formatTime(now), formatTime(expires)); err != nil {
		return nil, wrapDBError("insert handoff packet", err)
	}
	return &memtypes.HandoffPacket{
		HandoffID: id, ProjectID: tx.projectID, SessionID: sessionID,
		Summary: summary, MemoryVersion: memoryVersion, CreatedAt: now, ExpiresAt: expires,
	}, nil
}

// LatestHandoffPacket returns the latest non-expired packet, or nil if none.
// Read primitive; no transaction required.
func (s *Store) LatestHandoffPacket(ctx context.Context) (*memtypes.HandoffPacket, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT handoff_id, session_id, summary, memory_version, created_at, expires_at
		FROM handoff_packets
		WHERE project_id = ? AND expires_at > ?
		ORDER BY created_at DESC LIMIT 1
	`, s.projectID, formatTime(time.Now()))

	var h memtypes.HandoffPacket
	var summary, createdAt, expiresAt string
	if err := row.Scan(&h.HandoffID, &h.SessionID, &summary, &h.MemoryVersion, &createdAt, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, wrapDBError("get latest handoff packet", err)
	}
	h.ProjectID = s.projectID
	h.Summary = json.RawMessage(summary)
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		h.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, expiresAt); err == nil {
		h.ExpiresAt = t
	}
	return &h, nil
}
