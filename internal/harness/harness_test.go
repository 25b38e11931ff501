package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/libmap/internal/ir"
)

func intp(v int) *int { return &v }

func TestRun_ScenarioFiles(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			s, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Equal(t, scenarioRunID, result.RunID)
			assert.Equal(t, ir.MustReportDigest(result.Report), result.Digest)
		})
	}
}

func TestRunWithGolden_ScenarioA(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/scenario_a.yaml")
	require.NoError(t, err)

	result, err := RunWithGolden(t, s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_IsDeterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/scenario_c.yaml")
	require.NoError(t, err)

	first, err := Run(s)
	require.NoError(t, err)
	for range 3 {
		again, err := Run(s)
		require.NoError(t, err)
		assert.Equal(t, first.Digest, again.Digest)
	}
}

func TestRun_FailingAssertionsAreReported(t *testing.T) {
	s := &Scenario{
		Name:        "failing",
		Description: "Assertions that do not hold",
		Objects: []ObjectSpec{
			{ID: "a.o", Seed: 1, Instructions: 3},
			{ID: "b.o", Seed: 2, Instructions: 2},
		},
		Blob: []BlobPart{{Object: "a.o"}, {Object: "b.o"}},
		Assertions: []Assertion{
			{Type: AssertRegion, Offset: intp(0), Confidence: "certain", Files: []string{"b.o"}},
			{Type: AssertCommitOrder, Files: []string{"b.o", "a.o"}},
			{Type: AssertClique, Members: []string{"a.o", "b.o"}},
			{Type: AssertSymbol, Name: "missing"},
			{Type: AssertFinalState, Table: "regions", Where: map[string]any{"start": 4}, Expect: map[string]any{"confidence": "certain"}},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 5)
	assert.Contains(t, result.Errors[0], "files [b.o] at 0x0")
	assert.Contains(t, result.Errors[1], "should be before")
	assert.Contains(t, result.Errors[2], "clique [a.o b.o]")
	assert.Contains(t, result.Errors[3], "symbol not placed")
	assert.Contains(t, result.Errors[4], "row not found")
}

func TestRun_UnknownArch(t *testing.T) {
	s := &Scenario{
		Name:        "bad_arch",
		Description: "Unknown architecture",
		Arch:        "z80",
		Objects:     []ObjectSpec{{ID: "a.o", Seed: 1, Instructions: 1}},
		Blob:        []BlobPart{{Object: "a.o"}},
		Assertions:  []Assertion{{Type: AssertCoverage, Confidence: "certain", Bytes: 4}},
	}
	_, err := Run(s)
	assert.Error(t, err)
}

func TestRun_UnknownRanker(t *testing.T) {
	s := &Scenario{
		Name:        "bad_ranker",
		Description: "Unknown ranker",
		Ranker:      "coin-flip",
		Objects:     []ObjectSpec{{ID: "a.o", Seed: 1, Instructions: 1}},
		Blob:        []BlobPart{{Object: "a.o"}},
		Assertions:  []Assertion{{Type: AssertCoverage, Confidence: "certain", Bytes: 4}},
	}
	_, err := Run(s)
	assert.ErrorContains(t, err, "unknown ranker")
}
