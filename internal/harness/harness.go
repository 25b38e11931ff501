package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/libmap/internal/analysis"
	"github.com/roach88/libmap/internal/arch"
	"github.com/roach88/libmap/internal/match"
	"github.com/roach88/libmap/internal/store"
	"github.com/roach88/libmap/internal/testutil"
)

// scenarioRunID is the fixed id every scenario run is stored under.
const scenarioRunID = "scenario-run"

// Harness holds the per-scenario execution state.
type Harness struct {
	store  *store.Store
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Build the corpus and the blob
// 2. Run the analysis pipeline
// 3. Store the run and read its report back (digest-checked)
// 4. Evaluate assertions against the replayed report and stored tables
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:", store.WithRunIDs(testutil.NewFixedRunIDs(scenarioRunID)))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:  st,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	return h.run(ctx, scenario)
}

func (h *Harness) run(ctx context.Context, s *Scenario) (*Result, error) {
	archName := s.Arch
	if archName == "" {
		archName = "mips"
	}
	profile, err := arch.Builtin(archName)
	if err != nil {
		return nil, err
	}

	cfg := analysis.Config{
		Profile:       profile,
		BaseAddress:   s.BaseAddress,
		MaxIterations: s.MaxIterations,
		Logger:        h.logger,
	}
	if s.Ranker != "" {
		r, err := match.ParseRanker(s.Ranker)
		if err != nil {
			return nil, err
		}
		cfg.Ranker = r
	}

	objs, blob, err := s.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build scenario: %w", err)
	}

	res, err := analysis.Run(ctx, cfg, analysis.Input{Blob: blob, Objects: objs})
	if err != nil {
		return nil, fmt.Errorf("failed to analyse scenario: %w", err)
	}

	run, err := h.store.WriteRun(ctx, store.RunInput{
		Label:  s.Name,
		Arch:   profile.Name,
		Blob:   blob,
		Report: res.Report,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store run: %w", err)
	}

	rep, err := h.store.ReadReport(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to replay run: %w", err)
	}

	h.logger.Info("scenario analysed",
		"scenario", s.Name,
		"run_id", run.ID,
		"regions", len(rep.Regions),
		"digest", run.ReportDigest)

	result := NewResult()
	result.RunID = run.ID
	result.Digest = run.ReportDigest
	result.Report = rep

	actx := &AssertionContext{
		Store: h.store,
		Ctx:   ctx,
		RunID: run.ID,
	}
	for _, msg := range EvaluateAssertions(result, s.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}
