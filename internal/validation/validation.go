// Package validation parses and validates the raw JSON arguments of every
// tool call into the structured request types the session-sync engine
// consumes. Struct-tag checks (required fields, numeric ranges, role enum)
// are handled by go-playground/validator/v10; the cross-field and
// polymorphic checks the tag language cannot express (context_stamp's
// legacy-string form, open-loop-close's string-or-object form) are
// hand-written, grounded in spec.md §4.8.
package validation

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/memoryhub/memoryhub/internal/memtypes"
)

var validate = validator.New()

var legacyContextStampPattern = regexp.MustCompile(`^v(\d+)$`)

// ValidateProjectID checks the identifier pattern documented in
// memtypes.ProjectIDPattern plus the "no .." rule.
func ValidateProjectID(projectID string) *memtypes.BusinessError {
	if !projectIDPattern.MatchString(projectID) || strings.Contains(projectID, "..") {
		return memtypes.NewBusinessErrorf(memtypes.ErrInvalidProjectID, "project_id %q does not match the required pattern", projectID)
	}
	return nil
}

var projectIDPattern = regexp.MustCompile(memtypes.ProjectIDPattern)

// pullArgsDTO is the wire shape of session.sync.pull arguments.
type pullArgsDTO struct {
	ProjectID  string `json:"project_id" validate:"required"`
	ClientID   string `json:"client_id" validate:"required"`
	SessionID  string `json:"session_id" validate:"required"`
	TaskPrompt string `json:"task_prompt" validate:"required"`
	TaskType   string `json:"task_type"`
	MaxTokens  int    `json:"max_tokens"`
}

// ParsePullArgs validates and converts session.sync.pull arguments.
func ParsePullArgs(raw json.RawMessage) (*memtypes.PullRequest, *memtypes.BusinessError) {
	var dto pullArgsDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return nil, memtypes.NewBusinessErrorf(memtypes.ErrMissingRequiredFields, "malformed pull arguments: %v", err)
	}
	if err := validate.Struct(dto); err != nil {
		return nil, missingFieldsError(err)
	}
	if berr := ValidateProjectID(dto.ProjectID); berr != nil {
		return nil, berr
	}

	taskType := memtypes.TaskType(strings.ToLower(strings.TrimSpace(dto.TaskType)))
	if taskType == "" {
		taskType = memtypes.TaskAuto
	}
	maxTokens := dto.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1200
	}
	return &memtypes.PullRequest{
		ProjectID:  dto.ProjectID,
		ClientID:   dto.ClientID,
		SessionID:  dto.SessionID,
		TaskPrompt: dto.TaskPrompt,
		TaskType:   taskType,
		MaxTokens:  maxTokens,
	}, nil
}

// roleDeltaDTO is the wire shape of one role_deltas[] entry.
type roleDeltaDTO struct {
	Role       string          `json:"role" validate:"required,oneof=pm architect dev qa"`
	MemoryKey  string          `json:"memory_key" validate:"required"`
	Value      json.RawMessage `json:"value" validate:"required"`
	Confidence float64         `json:"confidence" validate:"gte=0,lte=1"`
	SourceRefs []string        `json:"source_refs"`
}

// decisionDeltaDTO is the wire shape of one decisions_delta[] entry.
type decisionDeltaDTO struct {
	DecisionID string `json:"decision_id"`
	Title      string `json:"title" validate:"required"`
	Rationale  string `json:"rationale"`
	Status     string `json:"status"`
}

// newLoopDTO is the wire shape of one open_loops_new[] entry.
type newLoopDTO struct {
	Title     string `json:"title" validate:"required"`
	Priority  int    `json:"priority"`
	OwnerRole string `json:"owner_role"`
}

// pushArgsDTO is the wire shape of session.sync.push arguments. ContextStamp
// and OpenLoopsClosed are left as json.RawMessage / []json.RawMessage
// because their polymorphic shapes (legacy string / object; string / object)
// cannot be expressed by struct tags.
type pushArgsDTO struct {
	ProjectID       string             `json:"project_id" validate:"required"`
	ClientID        string             `json:"client_id" validate:"required"`
	SessionID       string             `json:"session_id" validate:"required"`
	WorkspaceRoot   string             `json:"workspace_root" validate:"required"`
	ContextStamp    json.RawMessage    `json:"context_stamp"`
	SessionSummary  string             `json:"session_summary" validate:"required"`
	RoleDeltas      []roleDeltaDTO     `json:"role_deltas" validate:"dive"`
	DecisionsDelta  []decisionDeltaDTO `json:"decisions_delta" validate:"dive"`
	OpenLoopsNew    []newLoopDTO       `json:"open_loops_new" validate:"dive"`
	OpenLoopsClosed []json.RawMessage  `json:"open_loops_closed"`
	FilesTouched    []string           `json:"files_touched"`
}

// ParsePushArgs validates and converts session.sync.push arguments.
// decisions_delta is returned as DecisionsDelta, separate from RoleDeltas;
// syncengine's Push folds it into role deltas.
func ParsePushArgs(raw json.RawMessage) (*memtypes.PushRequest, *memtypes.BusinessError) {
	var dto pushArgsDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return nil, memtypes.NewBusinessErrorf(memtypes.ErrInvalidPushPayload, "malformed push arguments: %v", err)
	}
	if err := validate.Struct(dto); err != nil {
		return nil, invalidPushPayloadError(err)
	}
	if berr := ValidateProjectID(dto.ProjectID); berr != nil {
		return nil, berr
	}

	stamp, berr := ParseContextStamp(dto.ContextStamp)
	if berr != nil {
		return nil, berr
	}

	deltas := make([]memtypes.RoleDelta, 0, len(dto.RoleDeltas)+len(dto.DecisionsDelta))
	for _, d := range dto.RoleDeltas {
		deltas = append(deltas, memtypes.RoleDelta{
			Role: memtypes.Role(d.Role), MemoryKey: d.MemoryKey, Value: d.Value,
			Confidence: d.Confidence, SourceRefs: d.SourceRefs,
		})
	}

	decisions := make([]memtypes.DecisionDelta, 0, len(dto.DecisionsDelta))
	for _, d := range dto.DecisionsDelta {
		decisions = append(decisions, memtypes.DecisionDelta{
			DecisionID: d.DecisionID, Title: d.Title, Rationale: d.Rationale, Status: d.Status,
		})
	}

	loopsNew := make([]memtypes.NewOpenLoop, 0, len(dto.OpenLoopsNew))
	for _, l := range dto.OpenLoopsNew {
		role := memtypes.Role(l.OwnerRole)
		if !memtypes.ValidRole(role) {
			role = memtypes.RoleDev
		}
		loopsNew = append(loopsNew, memtypes.NewOpenLoop{Title: l.Title, Priority: l.Priority, OwnerRole: role})
	}

	loopsClosed, berr := parseOpenLoopsClosed(dto.OpenLoopsClosed)
	if berr != nil {
		return nil, berr
	}

	for _, f := range dto.FilesTouched {
		if strings.TrimSpace(f) == "" {
			return nil, memtypes.NewBusinessError(memtypes.ErrInvalidPushPayload, "files_touched entries must be non-empty strings")
		}
	}

	return &memtypes.PushRequest{
		ProjectID: dto.ProjectID, ClientID: dto.ClientID, SessionID: dto.SessionID,
		WorkspaceRoot: dto.WorkspaceRoot, ContextStamp: stamp, SessionSummary: dto.SessionSummary,
		RoleDeltas: deltas, DecisionsDelta: decisions, OpenLoopsNew: loopsNew,
		OpenLoopsClosed: loopsClosed, FilesTouched: dto.FilesTouched,
	}, nil
}

// ParseContextStamp accepts null (force), a legacy "v<int>" string, or a
// {memory_version: int>=0} object, per spec §4.2.
func ParseContextStamp(raw json.RawMessage) (*memtypes.ContextStamp, *memtypes.BusinessError) {
	trimmed := strings.TrimSpace(string(raw))
	if len(raw) == 0 || trimmed == "" || trimmed == "null" {
		return &memtypes.ContextStamp{Force: true}, nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		m := legacyContextStampPattern.FindStringSubmatch(asString)
		if m == nil {
			return nil, memtypes.NewBusinessErrorf(memtypes.ErrInvalidContextStamp, "legacy context_stamp %q must match v<int>", asString)
		}
		v, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil || v < 0 {
			return nil, memtypes.NewBusinessErrorf(memtypes.ErrInvalidContextStamp, "legacy context_stamp %q has an invalid version", asString)
		}
		return &memtypes.ContextStamp{MemoryVersion: v}, nil
	}

	var asObject struct {
		MemoryVersion *int64 `json:"memory_version"`
	}
	if err := json.Unmarshal(raw, &asObject); err != nil || asObject.MemoryVersion == nil {
		return nil, memtypes.NewBusinessError(memtypes.ErrInvalidContextStamp, "context_stamp must be null, a legacy v<int> string, or {memory_version: int>=0}")
	}
	if *asObject.MemoryVersion < 0 {
		return nil, memtypes.NewBusinessError(memtypes.ErrInvalidContextStamp, "context_stamp.memory_version must be non-negative")
	}
	return &memtypes.ContextStamp{MemoryVersion: *asObject.MemoryVersion}, nil
}

// parseOpenLoopsClosed accepts each entry as a bare string (title) or an
// object with loop_id/title.
func parseOpenLoopsClosed(raw []json.RawMessage) ([]memtypes.OpenLoopClose, *memtypes.BusinessError) {
	out := make([]memtypes.OpenLoopClose, 0, len(raw))
	for _, r := range raw {
		var asString string
		if err := json.Unmarshal(r, &asString); err == nil {
			if strings.TrimSpace(asString) == "" {
				return nil, memtypes.NewBusinessError(memtypes.ErrInvalidPushPayload, "open_loops_closed string entries must be non-empty")
			}
			out = append(out, memtypes.OpenLoopClose{Title: asString})
			continue
		}
		var asObject struct {
			LoopID string `json:"loop_id"`
			Title  string `json:"title"`
		}
		if err := json.Unmarshal(r, &asObject); err != nil || (asObject.LoopID == "" && asObject.Title == "") {
			return nil, memtypes.NewBusinessError(memtypes.ErrInvalidPushPayload, "open_loops_closed entries must be a string or {loop_id|title}")
		}
		out = append(out, memtypes.OpenLoopClose{LoopID: asObject.LoopID, Title: asObject.Title})
	}
	return out, nil
}

// resolveConflictArgsDTO is the wire shape of session.sync.resolve_conflict arguments.
type resolveConflictArgsDTO struct {
	ProjectID     string         `json:"project_id" validate:"required"`
	ClientID      string         `json:"client_id" validate:"required"`
	SessionID     string         `json:"session_id" validate:"required"`
	WorkspaceRoot string         `json:"workspace_root"`
	Strategy      string         `json:"strategy" validate:"required"`
	RoleDeltas    []roleDeltaDTO `json:"role_deltas" validate:"dive"`
}

// ParseResolveConflictArgs validates and converts resolve_conflict arguments.
func ParseResolveConflictArgs(raw json.RawMessage) (*memtypes.ResolveConflictRequest, *memtypes.BusinessError) {
	var dto resolveConflictArgsDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return nil, memtypes.NewBusinessErrorf(memtypes.ErrMissingRequiredFields, "malformed resolve_conflict arguments: %v", err)
	}
	if err := validate.Struct(dto); err != nil {
		return nil, missingFieldsError(err)
	}
	if berr := ValidateProjectID(dto.ProjectID); berr != nil {
		return nil, berr
	}

	strategy := memtypes.ConflictStrategy(dto.Strategy)
	if !memtypes.ValidConflictStrategy(strategy) {
		return nil, memtypes.NewBusinessErrorf(memtypes.ErrInvalidConflictStrategy, "unrecognized resolve_conflict strategy %q", dto.Strategy)
	}

	deltas := make([]memtypes.RoleDelta, 0, len(dto.RoleDeltas))
	for _, d := range dto.RoleDeltas {
		deltas = append(deltas, memtypes.RoleDelta{
			Role: memtypes.Role(d.Role), MemoryKey: d.MemoryKey, Value: d.Value,
			Confidence: d.Confidence, SourceRefs: d.SourceRefs,
		})
	}

	return &memtypes.ResolveConflictRequest{
		ProjectID: dto.ProjectID, ClientID: dto.ClientID, SessionID: dto.SessionID,
		WorkspaceRoot: dto.WorkspaceRoot, Strategy: strategy, RoleDeltas: deltas,
	}, nil
}

// auditListArgsDTO is the wire shape of session.sync.audit.list arguments.
type auditListArgsDTO struct {
	ProjectID string `json:"project_id" validate:"required"`
	Direction string `json:"direction"`
	Limit     int    `json:"limit"`
}

// ParseAuditListArgs validates and converts session.sync.audit.list arguments.
func ParseAuditListArgs(raw json.RawMessage) (projectID, direction string, limit int, berr *memtypes.BusinessError) {
	var dto auditListArgsDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return "", "", 0, memtypes.NewBusinessErrorf(memtypes.ErrInvalidAuditQuery, "malformed audit.list arguments: %v", err)
	}
	if err := validate.Struct(dto); err != nil {
		return "", "", 0, missingFieldsError(err)
	}
	if berr := ValidateProjectID(dto.ProjectID); berr != nil {
		return "", "", 0, berr
	}
	limit = dto.Limit
	if limit == 0 {
		limit = 100
	}
	if limit < 1 || limit > 500 {
		return "", "", 0, memtypes.NewBusinessErrorf(memtypes.ErrInvalidAuditQuery, "limit must be between 1 and 500, got %d", dto.Limit)
	}
	return dto.ProjectID, dto.Direction, limit, nil
}

// catalogArgsDTO is the wire shape shared by catalog.brief.generate and
// catalog.health.check (the latter ignores task_prompt).
type catalogArgsDTO struct {
	ProjectID  string `json:"project_id" validate:"required"`
	TaskPrompt string `json:"task_prompt"`
	TaskType   string `json:"task_type"`
	MaxTokens  int    `json:"max_tokens"`
}

// ParseCatalogBriefArgs validates and converts catalog.brief.generate arguments.
func ParseCatalogBriefArgs(raw json.RawMessage) (projectID, taskPrompt string, taskType memtypes.TaskType, maxTokens int, berr *memtypes.BusinessError) {
	var dto catalogArgsDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return "", "", "", 0, memtypes.NewBusinessErrorf(memtypes.ErrMissingRequiredFields, "malformed catalog brief arguments: %v", err)
	}
	if strings.TrimSpace(dto.ProjectID) == "" || strings.TrimSpace(dto.TaskPrompt) == "" {
		return "", "", "", 0, memtypes.NewBusinessError(memtypes.ErrMissingRequiredFields, "project_id and task_prompt are required")
	}
	if berr := ValidateProjectID(dto.ProjectID); berr != nil {
		return "", "", "", 0, berr
	}
	tt := memtypes.TaskType(strings.ToLower(strings.TrimSpace(dto.TaskType)))
	if tt == "" {
		tt = memtypes.TaskAuto
	}
	mt := dto.MaxTokens
	if mt <= 0 {
		mt = 1200
	}
	return dto.ProjectID, dto.TaskPrompt, tt, mt, nil
}

// ParseCatalogHealthArgs validates and converts catalog.health.check arguments.
func ParseCatalogHealthArgs(raw json.RawMessage) (projectID string, berr *memtypes.BusinessError) {
	var dto struct {
		ProjectID string `json:"project_id" validate:"required"`
	}
	if err := json.Unmarshal(raw, &dto); err != nil {
		return "", memtypes.NewBusinessErrorf(memtypes.ErrMissingRequiredFields, "malformed catalog health arguments: %v", err)
	}
	if err := validate.Struct(dto); err != nil {
		return "", missingFieldsError(err)
	}
	if berr := ValidateProjectID(dto.ProjectID); berr != nil {
		return "", berr
	}
	return dto.ProjectID, nil
}

func missingFieldsError(err error) *memtypes.BusinessError {
	return memtypes.NewBusinessErrorf(memtypes.ErrMissingRequiredFields, "%v", err)
}

func invalidPushPayloadError(err error) *memtypes.BusinessError {
	return memtypes.NewBusinessErrorf(memtypes.ErrInvalidPushPayload, "%v", err)
}
