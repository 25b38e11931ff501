package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/libmap/internal/ir"
)

// ErrNoReport is returned when WriteRun is given a nil report.
var ErrNoReport = errors.New("store: nil report")

// RunInput is what a finished analysis contributes to the history.
type RunInput struct {
	// Label names the analysed input, usually the ROM path.
	Label string
	// Arch is the architecture profile name.
	Arch string
	// Blob is the analysed window, digested with ir.BlobDigest.
	Blob   []byte
	Report *ir.Report
}

// WriteRun stores a report with its regions, cliques and diagnostics in
// one transaction and returns the new run.
func (s *Store) WriteRun(ctx context.Context, in RunInput) (Run, error) {
	if in.Report == nil {
		return Run{}, ErrNoReport
	}
	reportJSON, err := marshalReport(in.Report)
	if err != nil {
		return Run{}, fmt.Errorf("write run: %w", err)
	}
	digest, err := ir.ReportDigest(in.Report)
	if err != nil {
		return Run{}, fmt.Errorf("write run: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, fmt.Errorf("write run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM runs`).Scan(&seq); err != nil {
		return Run{}, fmt.Errorf("write run: next seq: %w", err)
	}

	run := Run{
		ID:           s.ids.Generate(),
		Seq:          seq,
		Label:        in.Label,
		Arch:         in.Arch,
		BlobDigest:   ir.BlobDigest(in.Blob),
		ReportDigest: digest,
		BaseAddress:  in.Report.BaseAddress,
		Size:         in.Report.Size,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, seq, label, arch, blob_digest, report_digest, base_address, size, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Seq,
		run.Label,
		run.Arch,
		run.BlobDigest,
		run.ReportDigest,
		int64(run.BaseAddress),
		run.Size,
		reportJSON,
	)
	if err != nil {
		return Run{}, fmt.Errorf("write run: %w", err)
	}

	if err := writeRegions(ctx, tx, run.ID, in.Report.Regions); err != nil {
		return Run{}, err
	}
	if err := writeCliques(ctx, tx, run.ID, in.Report.Cliques); err != nil {
		return Run{}, err
	}
	if err := writeDiagnostics(ctx, tx, run.ID, in.Report.Diagnostics); err != nil {
		return Run{}, err
	}

	if err := tx.Commit(); err != nil {
		return Run{}, fmt.Errorf("write run: commit: %w", err)
	}
	run.Regions = len(in.Report.Regions)
	run.Cliques = len(in.Report.Cliques)
	run.Diagnostics = len(in.Report.Diagnostics)
	return run, nil
}

func writeRegions(ctx context.Context, tx *sql.Tx, runID string, regions []ir.Region) error {
	for i, r := range regions {
		files, err := marshalFiles(r.Files)
		if err != nil {
			return fmt.Errorf("write region %d: %w", i, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO regions (run_id, idx, start, end_offset, confidence, files)
			VALUES (?, ?, ?, ?, ?, ?)
		`, runID, i, r.Start, r.End, string(r.Confidence), files)
		if err != nil {
			return fmt.Errorf("write region %d: %w", i, err)
		}
	}
	return nil
}

func writeCliques(ctx context.Context, tx *sql.Tx, runID string, cliques []ir.Clique) error {
	for i, c := range cliques {
		members, err := marshalFiles(c.Members)
		if err != nil {
			return fmt.Errorf("write clique %d: %w", i, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO cliques (run_id, idx, start, end_offset, members)
			VALUES (?, ?, ?, ?, ?)
		`, runID, i, c.Start, c.End, members)
		if err != nil {
			return fmt.Errorf("write clique %d: %w", i, err)
		}
	}
	return nil
}

func writeDiagnostics(ctx context.Context, tx *sql.Tx, runID string, diags []*ir.Error) error {
	for i, d := range diags {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO diagnostics (run_id, idx, code, message, file, symbol, blob_offset)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, runID, i, string(d.Code), d.Message, string(d.File), d.Symbol, d.Offset)
		if err != nil {
			return fmt.Errorf("write diagnostic %d: %w", i, err)
		}
	}
	return nil
}
