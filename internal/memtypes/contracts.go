package memtypes

import (
	"encoding/json"
	"time"
)

// ProjectIDPattern documents the identifier shape enforced by validation:
// ^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$, and no ".." substring.
const ProjectIDPattern = `^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`

// ContextStamp is the client-sent optimistic-concurrency check. Force ==
// true (what a null context_stamp parses to) means "do not check, write
// anyway"; Push treats a nil *ContextStamp the same way.
type ContextStamp struct {
	MemoryVersion int64
	Force         bool
}

// ConsistencyStamp is returned to callers on every pull/push.
type ConsistencyStamp struct {
	MemoryVersion  int64             `json:"memory_version"`
	CatalogVersion string            `json:"catalog_version"`
	Consistency    ConsistencyStatus `json:"consistency"`
}

// RoleDelta is one submitted (role, memory_key, value) write.
type RoleDelta struct {
	Role       Role            `json:"role"`
	MemoryKey  string          `json:"memory_key"`
	Value      json.RawMessage `json:"value"`
	Confidence float64         `json:"confidence"`
	SourceRefs []string        `json:"source_refs,omitempty"`
}

// DecisionDelta is syntactic sugar folded into a RoleDelta with role=architect.
type DecisionDelta struct {
	DecisionID string `json:"decision_id,omitempty"`
	Title      string `json:"title"`
	Rationale  string `json:"rationale"`
	Status     string `json:"status"`
}

// OpenLoopClose names a loop to close, either by id or by exact title.
type OpenLoopClose struct {
	LoopID string `json:"loop_id,omitempty"`
	Title  string `json:"title,omitempty"`
}

// NewOpenLoop is a caller-submitted loop to open.
type NewOpenLoop struct {
	Title     string `json:"title"`
	Priority  int    `json:"priority"`
	OwnerRole Role   `json:"owner_role"`
}

// PullRequest is the validated input to the sync engine's Pull operation.
type PullRequest struct {
	ProjectID  string
	ClientID   string
	SessionID  string
	TaskPrompt string
	TaskType   TaskType
	MaxTokens  int
}

// RolePayload is one role's rendered memory slice in a ContextBrief.
type RolePayload struct {
	Role  Role              `json:"role"`
	Items []RolePayloadItem `json:"items"`
}

// RolePayloadItem is one (memory_key, value) entry within a RolePayload.
type RolePayloadItem struct {
	MemoryKey  string          `json:"memory_key"`
	Value      json.RawMessage `json:"value"`
	Confidence float64         `json:"confidence"`
	Version    int64           `json:"version"`
	SourceRefs []string        `json:"source_refs,omitempty"`
}

// CatalogTrace describes the catalog-related side of a pull's trace.
type CatalogTrace struct {
	Freshness        Freshness `json:"freshness"`
	CacheHit         bool      `json:"cache_hit"`
	RefreshRequested bool      `json:"refresh_requested"`
}

// PullTrace is the classifier/source/catalog decision trail for a pull.
type PullTrace struct {
	ResolvedTaskType TaskType     `json:"resolved_task_type"`
	SourcesUsed      []string     `json:"sources_used"`
	Catalog          CatalogTrace `json:"catalog"`
}

// ContextBrief is the full result of a Pull.
type ContextBrief struct {
	SyncID             string             `json:"sync_id"`
	ContextBrief       string             `json:"context_brief"`
	MemoryContextBrief string             `json:"memory_context_brief"`
	CatalogBrief       string             `json:"catalog_brief"`
	RolePayloads       []RolePayload      `json:"role_payloads"`
	OpenLoopsTop       []OpenLoop         `json:"open_loops_top"`
	HandoffLatest      *HandoffPacket     `json:"handoff_latest,omitempty"`
	ConsistencyStamp   ConsistencyStamp   `json:"consistency_stamp"`
	Evidence           []string           `json:"evidence,omitempty"`
	Trace              PullTrace          `json:"trace"`
}

// PushRequest is the validated input to the sync engine's Push operation.
type PushRequest struct {
	ProjectID        string
	ClientID         string
	SessionID        string
	WorkspaceRoot    string
	ContextStamp     *ContextStamp
	SessionSummary   string
	RoleDeltas       []RoleDelta
	DecisionsDelta   []DecisionDelta
	OpenLoopsNew     []NewOpenLoop
	OpenLoopsClosed  []OpenLoopClose
	FilesTouched     []string
}

// Conflict describes one (role, memory_key) conflict detected during push.
type Conflict struct {
	Role            Role   `json:"role"`
	MemoryKey       string `json:"memory_key"`
	Theirs          json.RawMessage `json:"theirs"`
	CurrentVersion  int64  `json:"current_version"`
	UpdatedByClient string `json:"updated_by_client"`
}

// AppliedSummary reports what a successful push actually wrote.
type AppliedSummary struct {
	RoleDeltas      int    `json:"role_deltas"`
	OpenLoopsNew    int    `json:"open_loops_new"`
	OpenLoopsClosed int    `json:"open_loops_closed"`
	Handoff         string `json:"handoff"`
}

// CatalogJobRef is the minimal job descriptor returned by a push.
type CatalogJobRef struct {
	JobID  string    `json:"job_id"`
	Status JobStatus `json:"status"`
}

// PushResult is the full result of a Push.
type PushResult struct {
	SyncID           string           `json:"sync_id"`
	MemoryVersion    int64            `json:"memory_version"`
	ConsistencyStamp ConsistencyStamp `json:"consistency_stamp"`
	Conflicts        []Conflict       `json:"conflicts"`
	Status           string           `json:"status"` // "ok" | "needs_resolution"
	Applied          *AppliedSummary  `json:"applied,omitempty"`
	CatalogJob       *CatalogJobRef   `json:"catalog_job,omitempty"`
}

// ConflictStrategy names a resolve_conflict strategy.
type ConflictStrategy string

const (
	StrategyAcceptTheirs ConflictStrategy = "accept_theirs"
	StrategyKeepMine     ConflictStrategy = "keep_mine"
	StrategyMergeNote    ConflictStrategy = "merge_note"
)

// ValidConflictStrategy reports whether s is a recognized strategy.
func ValidConflictStrategy(s ConflictStrategy) bool {
	switch s {
	case StrategyAcceptTheirs, StrategyKeepMine, StrategyMergeNote:
		return true
	}
	return false
}

// ResolveConflictRequest is the validated input to ResolveConflict.
type ResolveConflictRequest struct {
	ProjectID     string
	ClientID      string
	SessionID     string
	WorkspaceRoot string
	Strategy      ConflictStrategy
	RoleDeltas    []RoleDelta
}

// ResolveConflictResult is the result of ResolveConflict.
type ResolveConflictResult struct {
	SyncID           string           `json:"sync_id"`
	Status           string           `json:"status"`
	Strategy         ConflictStrategy `json:"strategy"`
	MemoryVersion    int64            `json:"memory_version"`
	ConsistencyStamp ConsistencyStamp `json:"consistency_stamp"`
	Conflicts        []Conflict       `json:"conflicts"`
}

// MergeNoteValue is the stored value shape for a merge_note resolution.
type MergeNoteValue struct {
	Resolution string          `json:"resolution"`
	Mine       json.RawMessage `json:"mine"`
	Theirs     json.RawMessage `json:"theirs"`
	Note       string          `json:"note"`
}

// CatalogHealthResult is the result of catalog.health.check (spec §4.6, §6).
type CatalogHealthResult struct {
	Freshness         Freshness         `json:"freshness"`
	CatalogVersion    string            `json:"catalog_version"`
	TotalFiles        int               `json:"total_files"`
	IndexedFiles      int               `json:"indexed_files"`
	CoveragePct       float64           `json:"coverage_pct"`
	Coverage          float64           `json:"coverage"`
	PendingJobs       int               `json:"pending_jobs"`
	LastFullRebuild   *time.Time        `json:"last_full_rebuild,omitempty"`
	DriftScore        float64           `json:"drift_score"`
	ConsistencyStatus ConsistencyStatus `json:"consistency_status"`
}

// CatalogBriefResult is the result of catalog.brief.generate (spec §4.6, §6).
type CatalogBriefResult struct {
	CatalogBrief      string            `json:"catalog_brief"`
	Evidence          []string          `json:"evidence,omitempty"`
	CatalogVersion    string            `json:"catalog_version"`
	Freshness         Freshness         `json:"freshness"`
	PendingJobs       int               `json:"pending_jobs"`
	ConsistencyStatus ConsistencyStatus `json:"consistency_status"`
	CacheHit          bool              `json:"cache_hit"`
	RefreshRequested  bool              `json:"refresh_requested"`
}
