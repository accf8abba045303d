// Package syncengine implements the three session-sync operations —
// pull, push, resolve_conflict — described in spec.md §4.2: workspace
// binding, optimistic-concurrency conflict detection, version bumping,
// handoff emission, and catalog-job enqueue. There is no close teacher
// analogue for the algorithm itself (beads has no pull/push memory
// protocol); the transaction discipline and package-level OTel
// instrumentation follow the same RunInTransaction-wrapped-callback and
// package-level meter idiom as internal/storage/sqlite (itself grounded on the
// teacher's internal/storage/dolt/store.go).
package syncengine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/memoryhub/memoryhub/internal/catalog/brief"
	"github.com/memoryhub/memoryhub/internal/storage/sqlite"
)

var (
	meter = otel.Meter("memoryhub/syncengine")

	pushCounter     metric.Int64Counter
	pushLatency     metric.Float64Histogram
	conflictCounter metric.Int64Counter
)

func init() {
	pushCounter, _ = meter.Int64Counter("memoryhub.syncengine.pushes",
		metric.WithDescription("count of push operations by outcome"))
	pushLatency, _ = meter.Float64Histogram("memoryhub.syncengine.push_duration_ms",
		metric.WithDescription("push operation duration in milliseconds"))
	conflictCounter, _ = meter.Int64Counter("memoryhub.syncengine.conflicts",
		metric.WithDescription("count of conflicts detected during push"))
}

// maxRolePayloadItems bounds role_payloads entries per role in a
// ContextBrief (spec §4.2: "up to 8 most recently updated ... entries").
const maxRolePayloadItems = 8

// maxOpenLoopsTop bounds open_loops_top in a ContextBrief (spec §4.2).
const maxOpenLoopsTop = 3

// Engine binds one project's store to the sync operations. A fresh Engine
// is constructed per project connection; it holds no per-project state of
// its own beyond the store and the process-global catalog brief cache.
type Engine struct {
	store  *sqlite.Store
	cache  *brief.Cache
	logger *slog.Logger
}

// New builds an Engine over an already-opened project store. cache may be
// nil to disable catalog-brief caching (e.g. in tests).
func New(store *sqlite.Store, cache *brief.Cache, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, cache: cache, logger: logger}
}

func newSyncID() string {
	return uuid.NewString()
}

func latencyMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

// auditStandalone records a failure audit row detected before any write
// transaction was opened (validation, workspace mismatch).
func (e *Engine) auditStandalone(ctx context.Context, syncID, direction string, request, response []byte, errorCode string, start time.Time) {
	if err := e.store.InsertSyncAuditStandalone(ctx, syncID, direction, request, response, errorCode, latencyMs(start)); err != nil {
		e.logger.ErrorContext(ctx, "failed to record standalone sync audit", "direction", direction, "error", err)
	}
}
