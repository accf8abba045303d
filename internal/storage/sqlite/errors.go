package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
)

// Sentinel errors for common store conditions.
var (
	// ErrNotFound indicates the requested resource was not found in the database.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates an optimistic-concurrency conflict was detected.
	ErrConflict = errors.New("conflict")

	// ErrAlreadyClaimed indicates a competing worker claimed the candidate job first.
	ErrAlreadyClaimed = errors.New("job already claimed")

	// ErrWorkspaceMismatch indicates the caller's workspace_root differs from
	// the project's previously bound workspace_root.
	ErrWorkspaceMismatch = errors.New("workspace mismatch")

	// ErrInvalidProjectID indicates a project_id that fails the identifier pattern.
	ErrInvalidProjectID = errors.New("invalid project id")
)

// wrapDBError wraps a database error with operation context, converting
// sql.ErrNoRows to ErrNotFound for consistent handling upstream.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
