package acceptance

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memoryhub/memoryhub/internal/memtypes"
)

func TestLoadLabeledSamples_ParsesValidJSONL(t *testing.T) {
	input := strings.NewReader(
		`{"project_id": "proj-a", "expected": {"goal": 2, "constraints": 1}, "correct": {"goal": 2, "constraints": 1}}` + "\n" +
			"\n" +
			`{"project_id": "proj-b", "expected": {"decisions": 3}, "correct": {"decisions": 1}}` + "\n",
	)

	samples, berr := LoadLabeledSamples(input)
	require.Nil(t, berr)
	require.Len(t, samples, 2)
	require.Equal(t, "proj-a", samples[0].ProjectID)
	require.Equal(t, 3, samples[0].ExpectedTotal())
	require.Equal(t, 3, samples[0].CorrectTotal())
	require.Equal(t, 3, samples[1].Expected["decisions"])
	require.Equal(t, 1, samples[1].Correct["decisions"])
}

func TestLoadLabeledSamples_RejectsInvalidJSON(t *testing.T) {
	_, berr := LoadLabeledSamples(strings.NewReader("not json\n"))
	require.NotNil(t, berr)
	require.Equal(t, memtypes.ErrInvalidAcceptanceSample, berr.Code)
}

func TestParseLabeledSample_RejectsMissingProjectID(t *testing.T) {
	_, berr := ParseLabeledSample(map[string]any{"expected": map[string]any{"goal": 1.0}}, 1)
	require.NotNil(t, berr)
	require.Equal(t, memtypes.ErrInvalidAcceptanceSample, berr.Code)
}

func TestParseLabeledSample_RejectsNegativeCount(t *testing.T) {
	_, berr := ParseLabeledSample(map[string]any{
		"project_id": "p",
		"expected":   map[string]any{"goal": -1.0},
	}, 1)
	require.NotNil(t, berr)
}

func TestParseLabeledSample_RejectsCorrectExceedingExpected(t *testing.T) {
	_, berr := ParseLabeledSample(map[string]any{
		"project_id": "p",
		"expected":   map[string]any{"goal": 1.0},
		"correct":    map[string]any{"goal": 2.0},
	}, 1)
	require.NotNil(t, berr)
	require.Equal(t, memtypes.ErrInvalidAcceptanceSample, berr.Code)
}

func TestParseLabeledSample_RejectsNonObjectCategoryMap(t *testing.T) {
	_, berr := ParseLabeledSample(map[string]any{
		"project_id": "p",
		"expected":   "not-an-object",
	}, 1)
	require.NotNil(t, berr)
}

func TestParseLabeledSample_DefaultsMissingCategoriesToZero(t *testing.T) {
	sample, berr := ParseLabeledSample(map[string]any{
		"project_id": "p",
		"expected":   map[string]any{"goal": 1.0},
	}, 1)
	require.Nil(t, berr)
	require.Equal(t, 0, sample.Expected["constraints"])
	require.Equal(t, 0, sample.Expected["decisions"])
	require.Equal(t, 0, sample.Correct["goal"])
}

func sample(projectID string, expectedGoal, correctGoal int) LabeledSample {
	return LabeledSample{
		ProjectID: projectID,
		Expected:  map[string]int{"goal": expectedGoal, "constraints": 0, "decisions": 0},
		Correct:   map[string]int{"goal": correctGoal, "constraints": 0, "decisions": 0},
	}
}

func TestSummarizeHitRate_PassesWhenAllThresholdsMet(t *testing.T) {
	var samples []LabeledSample
	for i := 0; i < 10; i++ {
		samples = append(samples, sample("proj-a", 10, 10))
	}
	for i := 0; i < 10; i++ {
		samples = append(samples, sample("proj-b", 10, 9))
	}

	summary := SummarizeHitRate(samples, DefaultThresholds())
	require.True(t, summary.Pass)
	require.Equal(t, 2, summary.ProjectCount)
	require.False(t, summary.Violations.InsufficientProjects)
	require.Empty(t, summary.Violations.ProjectThresholdFailed)
}

func TestSummarizeHitRate_FailsOnInsufficientProjects(t *testing.T) {
	var samples []LabeledSample
	for i := 0; i < 10; i++ {
		samples = append(samples, sample("only-project", 10, 10))
	}

	summary := SummarizeHitRate(samples, DefaultThresholds())
	require.False(t, summary.Pass)
	require.True(t, summary.Violations.InsufficientProjects)
}

func TestSummarizeHitRate_FailsOnLowProjectHitRate(t *testing.T) {
	var samples []LabeledSample
	for i := 0; i < 10; i++ {
		samples = append(samples, sample("proj-a", 10, 10))
	}
	for i := 0; i < 10; i++ {
		samples = append(samples, sample("proj-b", 10, 1))
	}

	summary := SummarizeHitRate(samples, DefaultThresholds())
	require.False(t, summary.Pass)
	require.Contains(t, summary.Violations.ProjectThresholdFailed, "proj-b")
}

func TestSummarizeHitRate_FailsOnInsufficientSamplesPerProject(t *testing.T) {
	samples := []LabeledSample{sample("proj-a", 10, 10), sample("proj-b", 10, 10)}

	summary := SummarizeHitRate(samples, DefaultThresholds())
	require.False(t, summary.Pass)
	require.Contains(t, summary.Violations.InsufficientSamplesProject, "proj-a")
	require.Contains(t, summary.Violations.InsufficientSamplesProject, "proj-b")
}

func TestSummarizeHitRate_EmptyInputHasPerfectRateButFailsMinProjects(t *testing.T) {
	summary := SummarizeHitRate(nil, DefaultThresholds())
	require.Equal(t, 1.0, summary.OverallHitRate)
	require.False(t, summary.Pass)
	require.True(t, summary.Violations.InsufficientProjects)
}
