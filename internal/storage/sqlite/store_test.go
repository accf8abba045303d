package sqlite

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesProjectMetaAtVersionZero(t *testing.T) {
	store := newTestStore(t)
	meta, err := store.GetProjectMeta(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(0), meta.MemoryVersion)
	require.Equal(t, "", meta.WorkspaceRoot)
}

func TestOpen_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	dbPath := t.TempDir() + "/p.db"

	s1, err := Open(ctx, "p", dbPath, nil)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(ctx, "p", dbPath, nil)
	require.NoError(t, err)
	defer s2.Close()

	var count int
	require.NoError(t, s2.db.QueryRow(`SELECT count(*) FROM schema_migrations`).Scan(&count))
	require.Equal(t, len(allMigrationVersions(t, s2)), count)
}

// allMigrationVersions is a tiny helper so the idempotency assertion doesn't
// hardcode a migration count that would need updating with every new migration.
func allMigrationVersions(t *testing.T, s *Store) []int {
	t.Helper()
	rows, err := s.db.Query(`SELECT version FROM schema_migrations`)
	require.NoError(t, err)
	defer rows.Close()
	var out []int
	for rows.Next() {
		var v int
		require.NoError(t, rows.Scan(&v))
		out = append(out, v)
	}
	return out
}

func TestValidateProjectID(t *testing.T) {
	cases := []struct {
		id    string
		valid bool
	}{
		{"p1", true},
		{"my-project_1.2", true},
		{"", false},
		{"p.leading-char-is-alnum", true},
		{"has..dotdot", false},
		{"has space", false},
		{"way-too-long-" + string(make([]byte, 64)), false},
	}
	for _, c := range cases {
		err := ValidateProjectID(c.id)
		if c.valid {
			require.NoError(t, err, c.id)
		} else {
			require.Error(t, err, c.id)
		}
	}
}

func TestHeal_RenamesHalfAppliedDestructiveMigration(t *testing.T) {
	ctx := context.Background()
	dbPath := t.TempDir() + "/half.db"

	raw, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)

	_, err = raw.Exec(`CREATE TABLE schema_migrations (version INTEGER PRIMARY KEY, name TEXT NOT NULL, applied_at TEXT NOT NULL)`)
	require.NoError(t, err)
	for v, name := range map[int]string{1: "init_project_meta", 2: "role_state", 3: "open_loops_handoff", 4: "catalog", 5: "catalog_jobs_consistency"} {
		_, err = raw.Exec(`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, '2024-01-01T00:00:00Z')`, v, name)
		require.NoError(t, err)
	}
	_, err = raw.Exec(`
		CREATE TABLE project_meta (project_id TEXT PRIMARY KEY, memory_version INTEGER NOT NULL DEFAULT 0, workspace_root TEXT NOT NULL DEFAULT '', updated_at TEXT NOT NULL)
	`)
	require.NoError(t, err)
	_, err = raw.Exec(`
		CREATE TABLE sync_audit_new (
			id INTEGER PRIMARY KEY AUTOINCREMENT, project_id TEXT NOT NULL, sync_id TEXT NOT NULL DEFAULT '',
			direction TEXT NOT NULL, request TEXT NOT NULL DEFAULT '{}', response TEXT NOT NULL DEFAULT '{}',
			error_code TEXT NOT NULL DEFAULT '', latency_ms INTEGER NOT NULL DEFAULT 0, created_at TEXT NOT NULL
		)
	`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	store, err := Open(ctx, "half", dbPath, nil)
	require.NoError(t, err)
	defer store.Close()

	err = store.InsertSyncAuditStandalone(ctx, "sync-1", "catalog_brief", []byte(`{}`), []byte(`{}`), "", 1)
	require.NoError(t, err)

	items, err := store.ListSyncAudit(ctx, "catalog_brief", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestEnforceWorkspaceBinding(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.EnforceWorkspaceBinding(ctx, "/ws_a"))
	meta, err := store.GetProjectMeta(ctx)
	require.NoError(t, err)
	require.Equal(t, "/ws_a", meta.WorkspaceRoot)

	require.NoError(t, store.EnforceWorkspaceBinding(ctx, "/ws_a"))

	err = store.EnforceWorkspaceBinding(ctx, "/ws_b")
	require.ErrorIs(t, err, ErrWorkspaceMismatch)

	meta, err = store.GetProjectMeta(ctx)
	require.NoError(t, err)
	require.Equal(t, "/ws_a", meta.WorkspaceRoot)
}
