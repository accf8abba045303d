package sqlite

import (
	"context"
	"log/slog"
	"testing"
)

// newTestStore opens a temp-file-backed Store for project "test-project",
// following the teacher's test_helpers.go temp-file-per-test isolation
// pattern (internal/storage/sqlite/test_helpers.go uses t.TempDir() for the
// same reason: a private file avoids the shared-cache pitfalls of
// ":memory:" under a connection pool).
func newTestStore(t *testing.T) *Store {
	t.Helper()
	return newTestStoreForProject(t, "test-project")
}

func newTestStoreForProject(t *testing.T, projectID string) *Store {
	t.Helper()
	dbPath := t.TempDir() + "/" + projectID + ".db"
	store, err := Open(context.Background(), projectID, dbPath, slog.Default())
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("closing test store: %v", err)
		}
	})
	return store
}
