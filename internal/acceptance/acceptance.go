// Package acceptance evaluates cross-session context hit rate: how often a
// handoff packet's category counts ("goal", "constraints", "decisions")
// matched a human-labeled expectation. It is not a spec.md §2 component of
// its own, but the error code it raises (INVALID_ACCEPTANCE_SAMPLE) is
// already part of spec.md §4.8's stable taxonomy — the distilled spec
// reserves the code without describing the feature behind it. Grounded on
// original_source/memory_hub/acceptance.py, translated into the validation/
// BusinessError idiom the rest of this repo already uses rather than
// Python's exception-based one. The CLI entrypoint that originally drove
// this (original_source/scripts/evaluate_handoff_hit_rate.py) stays out of
// scope per spec.md §1's CLI-wrappers non-goal; only the scoring library
// survives here.
package acceptance

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/memoryhub/memoryhub/internal/memtypes"
)

// categories are the three handoff-summary buckets a labeled sample scores
// against, matching original_source's CATEGORIES tuple exactly.
var categories = []string{"goal", "constraints", "decisions"}

// LabeledSample is one human-labeled row: how many items were expected in
// each category for project_id, and how many the system got right.
type LabeledSample struct {
	ProjectID string
	Expected  map[string]int
	Correct   map[string]int
}

// ExpectedTotal sums Expected across all categories.
func (s LabeledSample) ExpectedTotal() int {
	total := 0
	for _, v := range s.Expected {
		total += v
	}
	return total
}

// CorrectTotal sums Correct across all categories.
func (s LabeledSample) CorrectTotal() int {
	total := 0
	for _, v := range s.Correct {
		total += v
	}
	return total
}

func invalidSample(message string, details map[string]any) *memtypes.BusinessError {
	return memtypes.NewBusinessError(memtypes.ErrInvalidAcceptanceSample, message).WithDetails(details)
}

func parseCategoryMap(raw any, field string) (map[string]int, *memtypes.BusinessError) {
	obj, ok := raw.(map[string]any)
	if raw == nil {
		obj = map[string]any{}
	} else if !ok {
		return nil, invalidSample(fmt.Sprintf("'%s' must be an object", field), map[string]any{"field": field})
	}

	parsed := make(map[string]int, len(categories))
	for _, category := range categories {
		v, present := obj[category]
		if !present || v == nil {
			parsed[category] = 0
			continue
		}
		n, ok := asNonNegativeInt(v)
		if !ok {
			return nil, invalidSample(
				fmt.Sprintf("'%s.%s' must be a non-negative integer", field, category),
				map[string]any{"field": field + "." + category, "value": v},
			)
		}
		parsed[category] = n
	}
	return parsed, nil
}

// asNonNegativeInt accepts float64 (the shape json.Unmarshal produces for
// numbers) as well as int, since a hand-authored JSONL fixture may emit
// either.
func asNonNegativeInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n < 0 || n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case int:
		if n < 0 {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// ParseLabeledSample validates and converts one decoded JSON object into a
// LabeledSample, per original_source's parse_labeled_sample.
func ParseLabeledSample(raw map[string]any, lineNo int) (LabeledSample, *memtypes.BusinessError) {
	projectID, ok := raw["project_id"].(string)
	if !ok || projectID == "" {
		return LabeledSample{}, invalidSample("project_id must be a non-empty string", map[string]any{"line": lineNo})
	}

	expected, berr := parseCategoryMap(raw["expected"], "expected")
	if berr != nil {
		berr.Details["line"] = lineNo
		return LabeledSample{}, berr
	}
	correct, berr := parseCategoryMap(raw["correct"], "correct")
	if berr != nil {
		berr.Details["line"] = lineNo
		return LabeledSample{}, berr
	}

	for _, category := range categories {
		if correct[category] > expected[category] {
			return LabeledSample{}, invalidSample(
				fmt.Sprintf("correct.%s cannot exceed expected.%s", category, category),
				map[string]any{"line": lineNo, "category": category},
			)
		}
	}

	return LabeledSample{ProjectID: projectID, Expected: expected, Correct: correct}, nil
}

// LoadLabeledSamples reads one JSON object per line from r, skipping blank
// lines, per original_source's load_labeled_samples.
func LoadLabeledSamples(r io.Reader) ([]LabeledSample, *memtypes.BusinessError) {
	var samples []LabeledSample
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if len(trimSpace(line)) == 0 {
			continue
		}

		var raw map[string]any
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return nil, invalidSample("invalid json line", map[string]any{"line": lineNo, "error": err.Error()})
		}

		sample, berr := ParseLabeledSample(raw, lineNo)
		if berr != nil {
			return nil, berr
		}
		samples = append(samples, sample)
	}
	if err := scanner.Err(); err != nil {
		return nil, invalidSample("failed reading input", map[string]any{"error": err.Error()})
	}
	return samples, nil
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}

// Thresholds bounds SummarizeHitRate's pass/fail criteria, with defaults
// matching original_source's summarize_hit_rate keyword defaults.
type Thresholds struct {
	MinProjects          int
	MinSamplesPerProject int
	OverallThreshold     float64
	ProjectThreshold     float64
}

// DefaultThresholds mirrors the Python defaults exactly.
func DefaultThresholds() Thresholds {
	return Thresholds{MinProjects: 2, MinSamplesPerProject: 10, OverallThreshold: 0.9, ProjectThreshold: 0.85}
}

// ProjectResult is one project's aggregated hit-rate stats.
type ProjectResult struct {
	Samples  int     `json:"samples"`
	Expected int     `json:"expected"`
	Correct  int     `json:"correct"`
	HitRate  float64 `json:"hit_rate"`
}

// Violations explains why Pass is false, if it is.
type Violations struct {
	InsufficientProjects       bool     `json:"insufficient_projects"`
	OverallThresholdFailed     bool     `json:"overall_threshold_failed"`
	ProjectThresholdFailed     []string `json:"project_threshold_failed"`
	InsufficientSamplesProject []string `json:"insufficient_samples_projects"`
}

// Summary is the result of SummarizeHitRate, shaped to match
// original_source's JSON output field-for-field.
type Summary struct {
	Pass            bool                     `json:"pass"`
	ProjectCount    int                      `json:"project_count"`
	OverallExpected int                      `json:"overall_expected"`
	OverallCorrect  int                      `json:"overall_correct"`
	OverallHitRate  float64                  `json:"overall_hit_rate"`
	Thresholds      Thresholds               `json:"-"`
	Projects        map[string]ProjectResult `json:"projects"`
	Violations      Violations               `json:"violations"`
}

func rate(correct, expected int) float64 {
	if expected <= 0 {
		return 1.0
	}
	return float64(correct) / float64(expected)
}

// SummarizeHitRate aggregates samples per project and overall, and judges
// pass/fail against thresholds, per original_source's summarize_hit_rate.
func SummarizeHitRate(samples []LabeledSample, thresholds Thresholds) Summary {
	type accum struct {
		samples, expected, correct int
	}
	byProject := map[string]*accum{}
	var order []string

	totalExpected, totalCorrect := 0, 0
	for _, s := range samples {
		a, ok := byProject[s.ProjectID]
		if !ok {
			a = &accum{}
			byProject[s.ProjectID] = a
			order = append(order, s.ProjectID)
		}
		a.samples++
		a.expected += s.ExpectedTotal()
		a.correct += s.CorrectTotal()
		totalExpected += s.ExpectedTotal()
		totalCorrect += s.CorrectTotal()
	}
	sort.Strings(order)

	projects := make(map[string]ProjectResult, len(order))
	var minSampleFailures, thresholdFailures []string
	for _, projectID := range order {
		a := byProject[projectID]
		hitRate := rate(a.correct, a.expected)
		projects[projectID] = ProjectResult{Samples: a.samples, Expected: a.expected, Correct: a.correct, HitRate: hitRate}
		if a.samples < thresholds.MinSamplesPerProject {
			minSampleFailures = append(minSampleFailures, projectID)
		}
		if hitRate < thresholds.ProjectThreshold {
			thresholdFailures = append(thresholdFailures, projectID)
		}
	}

	overallHitRate := rate(totalCorrect, totalExpected)
	hasMinProjects := len(projects) >= thresholds.MinProjects
	overallPass := overallHitRate >= thresholds.OverallThreshold
	projectPass := len(thresholdFailures) == 0
	sampleCountPass := len(minSampleFailures) == 0

	return Summary{
		Pass:            hasMinProjects && overallPass && projectPass && sampleCountPass,
		ProjectCount:    len(projects),
		OverallExpected: totalExpected,
		OverallCorrect:  totalCorrect,
		OverallHitRate:  overallHitRate,
		Thresholds:      thresholds,
		Projects:        projects,
		Violations: Violations{
			InsufficientProjects:       !hasMinProjects,
			OverallThresholdFailed:     !overallPass,
			ProjectThresholdFailed:     thresholdFailures,
			InsufficientSamplesProject: minSampleFailures,
		},
	}
}
