// Package analysis runs the identification pipeline end to end: signature
// extraction, symbol graph, candidate scan, propagation and boundary
// location.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/libmap/internal/arch"
	"github.com/roach88/libmap/internal/boundary"
	"github.com/roach88/libmap/internal/engine"
	"github.com/roach88/libmap/internal/ir"
	"github.com/roach88/libmap/internal/match"
	"github.com/roach88/libmap/internal/signature"
	"github.com/roach88/libmap/internal/symgraph"
)

// ErrNoProfile is returned when Config.Profile is nil.
var ErrNoProfile = errors.New("analysis: no architecture profile")

// Config tunes a run. Zero values pick the package defaults.
type Config struct {
	Profile     *arch.Profile
	BaseAddress uint32

	// Ranker breaks ties between equally scored candidates.
	Ranker match.Ranker
	// MaxIterations caps propagation per component.
	MaxIterations int
	// NearMiss is the opcode score reported as a contradiction when the
	// precise stage fails.
	NearMiss int
	// Workers bounds extraction, scan and propagation concurrency.
	Workers int

	Logger *slog.Logger
}

// Input is the blob under analysis and its candidate corpus.
type Input struct {
	Blob    []byte
	Objects []*ir.ObjectFile
	// Skipped carries load-time diagnostics into the report.
	Skipped []*ir.Error
}

// Result is the report plus the intermediate products callers may want
// to inspect.
type Result struct {
	Report      *ir.Report
	Digest      string
	Signatures  *signature.Set
	Graph       *symgraph.Graph
	Scan        *match.ScanResult
	Propagation *engine.Result
	Duplicates  [][]ir.FileID
}

// Run analyses in. Malformed objects are skipped and reported; the error
// is non-nil only when ctx is cancelled or the configuration is unusable.
func Run(ctx context.Context, cfg Config, in Input) (*Result, error) {
	if cfg.Profile == nil {
		return nil, ErrNoProfile
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ranker := cfg.Ranker
	if ranker == nil {
		ranker = match.MostConstrained{}
	}
	nearMiss := cfg.NearMiss
	if nearMiss <= 0 {
		nearMiss = match.DefaultNearMiss
	}

	sigs, skipped, err := signature.ExtractAll(ctx, cfg.Profile, in.Objects, signature.ExtractOptions{
		Workers: cfg.Workers,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("extracting signatures: %w", err)
	}

	kept := make([]*ir.ObjectFile, 0, len(in.Objects))
	for _, o := range in.Objects {
		if _, ok := sigs.Get(o.ID); ok {
			kept = append(kept, o)
		}
	}
	g := symgraph.Build(kept, logger)

	m, err := match.New(cfg.Profile, sigs, in.Blob,
		match.WithWorkers(cfg.Workers),
		match.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("preparing matcher: %w", err)
	}
	scan, err := m.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanning blob: %w", err)
	}

	prop, err := engine.New(g,
		engine.WithRanker(ranker),
		engine.WithMaxIterations(cfg.MaxIterations),
		engine.WithNearMiss(nearMiss),
		engine.WithWorkers(cfg.Workers),
		engine.WithLogger(logger),
	).Run(ctx, m, scan)
	if err != nil {
		return nil, err
	}

	rep := boundary.New(
		boundary.WithRanker(ranker),
		boundary.WithGraph(g),
		boundary.WithLogger(logger),
	).Locate(boundary.Input{
		Blob:        in.Blob,
		BaseAddress: cfg.BaseAddress,
		Signatures:  sigs,
		Objects:     kept,
		Profile:     cfg.Profile,
		Result:      prop,
	})

	var diags []*ir.Error
	diags = append(diags, in.Skipped...)
	diags = append(diags, skipped...)
	diags = append(diags, g.Diagnostics()...)
	rep.Diagnostics = append(diags, rep.Diagnostics...)

	digest, err := ir.ReportDigest(rep)
	if err != nil {
		return nil, fmt.Errorf("digesting report: %w", err)
	}

	res := &Result{
		Report:      rep,
		Digest:      digest,
		Signatures:  sigs,
		Graph:       g,
		Scan:        scan,
		Propagation: prop,
		Duplicates:  signature.DuplicateGroups(sigs.Sigs),
	}
	logger.Info("analysis complete",
		"bytes", len(in.Blob),
		"objects", len(kept),
		"commits", len(rep.Commits),
		"cliques", len(rep.Cliques),
		"diagnostics", len(rep.Diagnostics),
		"digest", digest)
	return res, nil
}

// Coverage sums region bytes per confidence.
func Coverage(rep *ir.Report) map[ir.Confidence]int {
	out := make(map[ir.Confidence]int)
	for _, r := range rep.Regions {
		out[r.Confidence] += r.Size()
	}
	return out
}
