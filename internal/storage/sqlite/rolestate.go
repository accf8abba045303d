package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/memoryhub/memoryhub/internal/memtypes"
)

// UpsertRoleDelta writes one role-memory delta: a new RoleStateVersions row
// that supersedes the previous latest for (role, memory_key), and an
// upsert into RoleStateCurrent. Must run inside a write transaction.
func (tx *Tx) UpsertRoleDelta(ctx context.Context, role memtypes.Role, memoryKey string, value json.RawMessage, confidence float64, sourceRefs []string, memoryVersion int64, writerClientID string) error {
	var previous sql.NullString
	err := tx.tx.QueryRowContext(ctx, `
		SELECT version_id FROM role_state_versions
		WHERE project_id = ? AND role = ? AND memory_key = ?
		ORDER BY memory_version DESC, created_at DESC LIMIT 1
	`, tx.projectID, string(role), memoryKey).Scan(&previous)
	if err != nil && err != sql.ErrNoRows {
		return wrapDBError("lookup previous role version", err)
	}

	versionID := uuid.NewString()
	now := formatTime(time.Now())
	var prevArg any
	if previous.Valid {
		prevArg = previous.String
	}

	if _, err := tx.tx.ExecContext(ctx, `
		INSERT INTO role_state_versions
			(version_id, project_id, role, memory_key, previous_version_id, value, confidence, source_refs, memory_version, writer_client_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, versionID, tx.projectID, string(role), memoryKey, prevArg, string(value), confidence, formatJSONStringArray(sourceRefs), memoryVersion, writerClientID, now); err != nil {
		return wrapDBError("insert role state version", err)
	}

	_, err = tx.tx.ExecContext(ctx, `
		INSERT INTO role_state_current (project_id, role, memory_key, value, confidence, source_refs, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id, role, memory_key) DO UPDATE SET
			value = excluded.value,
			confidence = excluded.confidence,
			source_refs = excluded.source_refs,
			version = excluded.version,
			updated_at = excluded.updated_at
	`, tx.projectID, string(role), memoryKey, string(value), confidence, formatJSONStringArray(sourceRefs), memoryVersion, now)
	if err != nil {
		return wrapDBError("upsert role state current", err)
	}
	return nil
}

// NewestVersionNewerThan returns the newest RoleStateVersions row for
// (role, memory_key) with memory_version > base, or nil if none exists.
// Used for push conflict detection; must run inside the push's write
// transaction so it observes a consistent snapshot.
func (tx *Tx) NewestVersionNewerThan(ctx context.Context, role memtypes.Role, memoryKey string, base int64) (*memtypes.RoleStateVersion, error) {
	row := tx.tx.QueryRowContext(ctx, `
		SELECT version_id, previous_version_id, value, confidence, source_refs, memory_version, writer_client_id, created_at
		FROM role_state_versions
		WHERE project_id = ? AND role = ? AND memory_key = ? AND memory_version > ?
		ORDER BY memory_version DESC LIMIT 1
	`, tx.projectID, string(role), memoryKey, base)

	var v memtypes.RoleStateVersion
	var previous sql.NullString
	var sourceRefs, value, createdAt string
	if err := row.Scan(&v.VersionID, &previous, &value, &v.Confidence, &sourceRefs, &v.MemoryVersion, &v.WriterClientID, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, wrapDBError("lookup newer role version", err)
	}
	v.ProjectID = tx.projectID
	v.Role = role
	v.MemoryKey = memoryKey
	v.Value = json.RawMessage(value)
	v.SourceRefs = parseJSONStringArray(sourceRefs)
	if previous.Valid {
		v.PreviousVersionID = &previous.String
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		v.CreatedAt = t
	}
	return &v, nil
}

// GetRoleStateCurrentTop returns up to limit most-recently-updated current
// values for role, newest first. Read primitive; no transaction required.
func (s *Store) GetRoleStateCurrentTop(ctx context.Context, role memtypes.Role, limit int) ([]memtypes.RoleStateCurrent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT memory_key, value, confidence, source_refs, version, updated_at
		FROM role_state_current
		WHERE project_id = ? AND role = ?
		ORDER BY updated_at DESC, version DESC
		LIMIT ?
	`, s.projectID, string(role), limit)
	if err != nil {
		return nil, wrapDBError("list role state current", err)
	}
	defer rows.Close()

	var out []memtypes.RoleStateCurrent
	for rows.Next() {
		var c memtypes.RoleStateCurrent
		var value, sourceRefs, updatedAt string
		if err := rows.Scan(&c.MemoryKey, &value, &c.Confidence, &sourceRefs, &c.Version, &updatedAt); err != nil {
			return nil, wrapDBError("scan role state current", err)
		}
		c.ProjectID = s.projectID
		c.Role = role
		c.Value = json.RawMessage(value)
		c.SourceRefs = parseJSONStringArray(sourceRefs)
		if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			c.UpdatedAt = t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetRoleStateCurrentValue reads the current value for one (role, memory_key),
// or nil if it has never been written. Used by merge_note resolution.
func (s *Store) GetRoleStateCurrentValue(ctx context.Context, role memtypes.Role, memoryKey string) (*memtypes.RoleStateCurrent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT value, confidence, source_refs, version, updated_at
		FROM role_state_current WHERE project_id = ? AND role = ? AND memory_key = ?
	`, s.projectID, string(role), memoryKey)

	var c memtypes.RoleStateCurrent
	var value, sourceRefs, updatedAt string
	if err := row.Scan(&value, &c.Confidence, &sourceRefs, &c.Version, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, wrapDBError("get role state current value", err)
	}
	c.ProjectID = s.projectID
	c.Role = role
	c.MemoryKey = memoryKey
	c.Value = json.RawMessage(value)
	c.SourceRefs = parseJSONStringArray(sourceRefs)
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		c.UpdatedAt = t
	}
	return &c, nil
}
