// Package memtypes defines the data model shared by the store, the
// session-sync engine, the catalog pipeline, and the RPC dispatcher.
package memtypes

import (
	"encoding/json"
	"time"
)

// Role is a namespace for memory keys.
type Role string

const (
	RolePM        Role = "pm"
	RoleArchitect Role = "architect"
	RoleDev       Role = "dev"
	RoleQA        Role = "qa"
)

// ValidRole reports whether r is one of the four recognized roles.
func ValidRole(r Role) bool {
	switch r {
	case RolePM, RoleArchitect, RoleDev, RoleQA:
		return true
	}
	return false
}

// TaskType is the classifier output / caller-supplied task kind.
type TaskType string

const (
	TaskAuto     TaskType = "auto"
	TaskPlanning TaskType = "planning"
	TaskDesign   TaskType = "design"
	TaskImplement TaskType = "implement"
	TaskTest     TaskType = "test"
	TaskReview   TaskType = "review"
)

// OpenLoopStatus is the lifecycle state of an OpenLoop.
type OpenLoopStatus string

const (
	LoopOpen   OpenLoopStatus = "open"
	LoopClosed OpenLoopStatus = "closed"
)

// JobStatus is the lifecycle state of a CatalogJob.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// ConsistencyStatus describes how memory and catalog versions relate.
type ConsistencyStatus string

const (
	ConsistencyOK      ConsistencyStatus = "ok"
	ConsistencyDegraded ConsistencyStatus = "degraded"
	ConsistencyUnknown ConsistencyStatus = "unknown"
)

// Freshness is the catalog_health freshness verdict.
type Freshness string

const (
	FreshnessFresh   Freshness = "fresh"
	FreshnessStale   Freshness = "stale"
	FreshnessUnknown Freshness = "unknown"
)

// DriftMethod names how a DriftReport was computed.
type DriftMethod string

const (
	DriftGitDiff      DriftMethod = "git_diff"
	DriftHashCompare  DriftMethod = "hash_compare"
)

// SourceType names how a CatalogEdge was derived.
type SourceType string

const (
	SourceAST       SourceType = "ast"
	SourceInferred  SourceType = "inferred"
)

// ProjectMeta is the singleton per-project row.
type ProjectMeta struct {
	ProjectID      string
	MemoryVersion  int64
	WorkspaceRoot  string
	UpdatedAt      time.Time
}

// RoleStateCurrent is the latest-wins value for a (role, memory_key) pair.
type RoleStateCurrent struct {
	ProjectID  string
	Role       Role
	MemoryKey  string
	Value      json.RawMessage
	Confidence float64
	SourceRefs []string
	Version    int64 // memory_version at which this value was written
	UpdatedAt  time.Time
}

// RoleStateVersion is one append-only history row for a (role, memory_key) write.
type RoleStateVersion struct {
	VersionID      string
	ProjectID      string
	Role           Role
	MemoryKey      string
	PreviousVersionID *string
	Value          json.RawMessage
	Confidence     float64
	SourceRefs     []string
	MemoryVersion  int64
	WriterClientID string
	CreatedAt      time.Time
}

// OpenLoop is a tracked, prioritized unfinished thread.
type OpenLoop struct {
	LoopID     string
	ProjectID  string
	Title      string
	Priority   int
	OwnerRole  Role
	Status     OpenLoopStatus
	CreatedAt  time.Time
	ClosedAt   *time.Time
	ClosedBy   string
}

// HandoffPacket is a per-session summary emitted on every successful push.
type HandoffPacket struct {
	HandoffID     string
	ProjectID     string
	SessionID     string
	Summary       json.RawMessage
	MemoryVersion int64
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// HandoffDefaultTTL is the default lifetime of a HandoffPacket.
const HandoffDefaultTTL = 72 * time.Hour

// CatalogMeta is the singleton per-project catalog summary row.
type CatalogMeta struct {
	ProjectID       string
	CatalogVersion  string
	TotalFiles      int
	IndexedFiles    int
	CoveragePct     float64
	LastIndexedAt   *time.Time
	LastFullRebuild *time.Time
}

// CatalogFile is one indexed source file.
type CatalogFile struct {
	ProjectID   string
	Path        string
	ContentHash string
	Language    string
	ImportCount int
}

// CatalogEdge is a directed file-to-module import edge.
type CatalogEdge struct {
	ProjectID  string
	FromFile   string
	ToModule   string
	EdgeType   string
	Confidence float64
	SourceType SourceType
}

// CatalogJob is a queued unit of catalog-refresh work.
type CatalogJob struct {
	JobID          string
	ProjectID      string
	JobType        string
	Payload        json.RawMessage
	Status         JobStatus
	Attempts       int
	MaxAttempts    int
	LastError      string
	NextRetryAt    *time.Time
	LeaseExpiresAt *time.Time
	CreatedAt      time.Time
}

// DefaultMaxAttempts is the default CatalogJob.MaxAttempts.
const DefaultMaxAttempts = 5

// ConsistencyLink binds one sync or catalog refresh to a consistency state.
type ConsistencyLink struct {
	ID                int64
	ProjectID         string
	SyncID            string
	MemoryVersion     int64
	CatalogVersion    string
	ConsistencyStatus ConsistencyStatus
	CreatedAt         time.Time
}

// DriftReport is the latest workspace-vs-index drift snapshot.
type DriftReport struct {
	ProjectID    string
	Method       DriftMethod
	DriftScore   float64
	ChangedFiles []string
	TotalFiles   int
	ComputedAt   time.Time
}

// SyncAudit records one tool invocation, success or failure.
type SyncAudit struct {
	ID         int64
	ProjectID  string
	SyncID     string
	Direction  string
	Request    json.RawMessage
	Response   json.RawMessage
	ErrorCode  string
	LatencyMs  int64
	CreatedAt  time.Time
}

// Audit directions, mapped 1:1 from RPC tool names.
const (
	DirectionPull           = "pull"
	DirectionPush           = "push"
	DirectionResolveConflict = "resolve_conflict"
	DirectionCatalogBrief   = "catalog_brief"
	DirectionCatalogHealth  = "catalog_health"
	DirectionToolError      = "tool_error"
)
