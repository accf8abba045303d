// Package sqlite is the embedded, pure-Go SQLite store backing one
// project's durable state: schema migrations, transactional writes,
// versioned role memory, open loops, handoff packets, the catalog
// tables, the lease-based job queue, and the audit log.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/memoryhub/memoryhub/internal/storage"
	"github.com/memoryhub/memoryhub/internal/storage/sqlite/migrations"
)

// projectIDPattern mirrors memtypes.ProjectIDPattern; duplicated here (as a
// compiled regexp) to keep this package free of an import cycle back to
// memtypes validation helpers.
var projectIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// ValidateProjectID checks the identifier pattern and the "no .." rule.
func ValidateProjectID(projectID string) error {
	if !projectIDPattern.MatchString(projectID) {
		return fmt.Errorf("project id %q: %w", projectID, ErrInvalidProjectID)
	}
	if containsDotDot(projectID) {
		return fmt.Errorf("project id %q: %w", projectID, ErrInvalidProjectID)
	}
	return nil
}

func containsDotDot(s string) bool {
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '.' && s[i+1] == '.' {
			return true
		}
	}
	return false
}

// Store is a connection to one project's SQLite database file.
type Store struct {
	db        *sql.DB
	path      string
	logger    *slog.Logger
	projectID string
}

// Open validates project_id, opens (creating if absent) the project store,
// enables write-ahead journaling, sets a bounded busy timeout, runs pending
// migrations (healing any half-applied destructive migration first), and
// guarantees the ProjectMeta row exists with memory_version = 0.
func Open(ctx context.Context, projectID, dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := ValidateProjectID(projectID); err != nil {
		return nil, err
	}

	conn := storage.SQLiteConnString(dbPath, false)
	db, err := sql.Open("sqlite3", conn)
	if err != nil {
		return nil, fmt.Errorf("opening store for %s: %w", projectID, err)
	}
	db.SetMaxOpenConns(1) // single writer per project, per the concurrency model
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, path: dbPath, logger: logger, projectID: projectID}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating store for %s: %w", projectID, err)
	}
	if err := s.ensureProjectMeta(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring project meta for %s: %w", projectID, err)
	}
	return s, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate runs the heal step then applies any migration not yet recorded
// in schema_migrations, each inside its own transaction.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return err
	}

	if err := migrations.Heal(s.db); err != nil {
		return fmt.Errorf("healing half-applied migration: %w", err)
	}

	for _, m := range migrations.All {
		var applied int
		if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM schema_migrations WHERE version = ?`, m.Version).Scan(&applied); err != nil {
			return err
		}
		if applied > 0 {
			continue
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := m.Apply(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
			m.Version, m.Name, formatTime(time.Now())); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		s.logger.InfoContext(ctx, "applied migration", "version", m.Version, "name", m.Name)
	}
	return nil
}

func (s *Store) ensureProjectMeta(ctx context.Context) error {
	return s.RunInTransaction(ctx, func(tx *Tx) error {
		var n int
		if err := tx.tx.QueryRowContext(ctx, `SELECT count(*) FROM project_meta WHERE project_id = ?`, s.projectID).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		_, err := tx.tx.ExecContext(ctx, `
			INSERT INTO project_meta (project_id, memory_version, workspace_root, updated_at)
			VALUES (?, 0, '', ?)
		`, s.projectID, formatTime(time.Now()))
		return err
	})
}

// Tx wraps one write transaction. All transactional write APIs
// (upsert_role_delta, insert_open_loops, close_open_loops,
// insert_handoff_packet, enqueue_catalog_job, replace_catalog_snapshot,
// insert_consistency_link, insert_sync_audit) take a *Tx and require the
// caller to be inside RunInTransaction; the store never commits implicitly.
type Tx struct {
	tx        *sql.Tx
	ctx       context.Context
	projectID string
}

// RunInTransaction opens a write transaction, invokes fn, and commits on a
// nil return or rolls back otherwise. A panic inside fn rolls back and is
// re-raised, mirroring the teacher's RunInTransaction contract
// (internal/storage/sqlite/transaction_test.go).
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx *Tx) error) (err error) {
	ctx, span := startSpan(ctx, "sqlite.RunInTransaction")
	start := time.Now()
	defer func() {
		txDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
		endSpan(span, err)
	}()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	txCounter.Add(ctx, 1)

	tx := &Tx{tx: sqlTx, ctx: ctx, projectID: s.projectID}

	defer func() {
		if p := recover(); p != nil {
			sqlTx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			s.logger.ErrorContext(ctx, "rollback failed", "error", rbErr)
		}
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ProjectID returns the project this store instance is bound to.
func (s *Store) ProjectID() string { return s.projectID }
