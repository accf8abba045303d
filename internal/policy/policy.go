// Package policy implements task-type classification, role selection, and
// context-brief assembly — the pure domain rules of spec.md §4.3. There is
// no close teacher analogue (the teacher classifies issues by an explicit
// type field, not free text), so this package is grounded directly on the
// spec's exact rendering contract.
package policy

import (
	"fmt"
	"strings"

	"github.com/memoryhub/memoryhub/internal/memtypes"
)

// classifierBuckets is iterated in this fixed order; the first keyword
// match wins. Order matters: "test" and "review" share qa/dev priorities
// but are listed separately since the spec names them as distinct buckets
// with identical role tables.
var classifierBuckets = []struct {
	taskType memtypes.TaskType
	keywords []string
}{
	{memtypes.TaskPlanning, []string{"plan", "roadmap", "prioritize", "backlog"}},
	{memtypes.TaskDesign, []string{"design", "architecture", "schema", "api shape"}},
	{memtypes.TaskImplement, []string{"implement", "build", "code", "write the", "fix"}},
	{memtypes.TaskTest, []string{"test", "qa", "verify", "regression"}},
	{memtypes.TaskReview, []string{"review", "audit", "critique"}},
}

// roleTable is the fixed role-selection table from spec §4.3.
var roleTable = map[memtypes.TaskType][]memtypes.Role{
	memtypes.TaskPlanning:  {memtypes.RolePM, memtypes.RoleArchitect},
	memtypes.TaskDesign:    {memtypes.RoleArchitect, memtypes.RolePM},
	memtypes.TaskImplement: {memtypes.RoleArchitect, memtypes.RoleDev},
	memtypes.TaskTest:      {memtypes.RoleQA, memtypes.RoleDev, memtypes.RoleArchitect},
	memtypes.TaskReview:    {memtypes.RoleQA, memtypes.RoleDev, memtypes.RoleArchitect},
}

// ClassifyTask resolves the effective task type: an explicit, non-auto type
// is honored as-is; otherwise the prompt is substring-matched (case
// insensitive) against the fixed keyword buckets in order, first hit wins,
// defaulting to "planning" when nothing matches.
func ClassifyTask(prompt string, explicit memtypes.TaskType) memtypes.TaskType {
	if explicit != "" && explicit != memtypes.TaskAuto {
		return explicit
	}
	lower := strings.ToLower(prompt)
	for _, bucket := range classifierBuckets {
		for _, kw := range bucket.keywords {
			if strings.Contains(lower, kw) {
				return bucket.taskType
			}
		}
	}
	return memtypes.TaskPlanning
}

// SelectRoles returns the fixed ordered role list for a resolved task type.
func SelectRoles(taskType memtypes.TaskType) []memtypes.Role {
	if roles, ok := roleTable[taskType]; ok {
		return roles
	}
	return roleTable[memtypes.TaskPlanning]
}

// maxRoleItemsInBrief bounds how many memory items are listed per role in
// the rendered text brief (the role_payloads result field itself carries up
// to 8; the brief's "Roles:" section lists up to 6 per spec §4.3).
const maxRoleItemsInBrief = 6

// maxOpenLoopsInBrief bounds the "Open Loops (Top):" section.
const maxOpenLoopsInBrief = 3

// BriefInput is everything MemoryContextBrief needs to render the memory half of
// a pull's context_brief.
type BriefInput struct {
	Roles         []memtypes.RolePayload
	OpenLoops     []memtypes.OpenLoop
	Handoff       *memtypes.HandoffPacket
	MaxTokens     int
}

// MemoryContextBrief renders the "Roles:", "Open Loops (Top):", and
// "Latest Handoff:" sections and truncates to max(400, max_tokens*4) bytes
// with a "\n... (truncated)" suffix, per spec §4.3. Section headers are
// rendered exactly as specified — tests string-match them.
func MemoryContextBrief(in BriefInput) string {
	var b strings.Builder

	b.WriteString("Roles:\n")
	for _, rp := range in.Roles {
		b.WriteString(fmt.Sprintf("  %s:\n", rp.Role))
		items := rp.Items
		if len(items) > maxRoleItemsInBrief {
			items = items[:maxRoleItemsInBrief]
		}
		if len(items) == 0 {
			b.WriteString("    (none)\n")
		}
		for _, item := range items {
			b.WriteString(fmt.Sprintf("    - %s: %s\n", item.MemoryKey, string(item.Value)))
		}
	}

	b.WriteString("Open Loops (Top):\n")
	loops := in.OpenLoops
	if len(loops) > maxOpenLoopsInBrief {
		loops = loops[:maxOpenLoopsInBrief]
	}
	if len(loops) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, l := range loops {
		b.WriteString(fmt.Sprintf("  - [p%d] %s (%s)\n", l.Priority, l.Title, l.OwnerRole))
	}

	b.WriteString("Latest Handoff:\n")
	if in.Handoff == nil {
		b.WriteString("  (none)\n")
	} else {
		b.WriteString(fmt.Sprintf("  %s\n", string(in.Handoff.Summary)))
	}

	return truncate(b.String(), briefLimit(in.MaxTokens))
}

// briefLimit computes max(400, max_tokens*4).
func briefLimit(maxTokens int) int {
	limit := maxTokens * 4
	if limit < 400 {
		limit = 400
	}
	return limit
}

const truncationSuffix = "\n... (truncated)"

// truncate bounds s to limit bytes, appending truncationSuffix when cut.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - len(truncationSuffix)
	if cut < 0 {
		cut = 0
	}
	return s[:cut] + truncationSuffix
}

// ComposeContextBrief joins the memory and catalog halves into the combined
// context_brief field returned by pull.
func ComposeContextBrief(memoryBrief, catalogBrief string) string {
	if catalogBrief == "" {
		return memoryBrief
	}
	return memoryBrief + "\n" + catalogBrief
}
