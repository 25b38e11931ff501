package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/libmap/internal/ir"
)

var (
	// ErrRunNotFound is returned when no run matches an id or prefix.
	ErrRunNotFound = errors.New("store: run not found")
	// ErrAmbiguousRun is returned when an id prefix matches several runs.
	ErrAmbiguousRun = errors.New("store: run id prefix is ambiguous")
)

// Run is one stored analysis. Regions, Cliques and Diagnostics are
// row counts.
type Run struct {
	ID           string `json:"id"`
	Seq          int64  `json:"seq"`
	Label        string `json:"label"`
	Arch         string `json:"arch"`
	BlobDigest   string `json:"blob_digest"`
	ReportDigest string `json:"report_digest"`
	BaseAddress  uint32 `json:"base_address"`
	Size         int    `json:"size"`
	Regions      int    `json:"regions"`
	Cliques      int    `json:"cliques"`
	Diagnostics  int    `json:"diagnostics"`
}

const runColumns = `
	r.id, r.seq, r.label, r.arch, r.blob_digest, r.report_digest, r.base_address, r.size,
	(SELECT COUNT(*) FROM regions WHERE run_id = r.id),
	(SELECT COUNT(*) FROM cliques WHERE run_id = r.id),
	(SELECT COUNT(*) FROM diagnostics WHERE run_id = r.id)`

// ListRuns returns every run, ordered by seq ASC, id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if the history is empty.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs r
		ORDER BY r.seq ASC, r.id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadRun returns the run whose id is, or starts with, idOrPrefix.
func (s *Store) ReadRun(ctx context.Context, idOrPrefix string) (Run, error) {
	if idOrPrefix == "" {
		return Run{}, ErrRunNotFound
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs r
		WHERE r.id = ? OR substr(r.id, 1, ?) = ?
		ORDER BY r.seq ASC, r.id COLLATE BINARY ASC
	`, idOrPrefix, len(idOrPrefix), idOrPrefix)
	if err != nil {
		return Run{}, fmt.Errorf("query run: %w", err)
	}
	defer rows.Close()

	var found []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return Run{}, err
		}
		if run.ID == idOrPrefix {
			return run, nil
		}
		found = append(found, run)
	}
	if err := rows.Err(); err != nil {
		return Run{}, fmt.Errorf("iterate run: %w", err)
	}

	switch len(found) {
	case 0:
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, idOrPrefix)
	case 1:
		return found[0], nil
	default:
		ids := make([]string, len(found))
		for i, r := range found {
			ids[i] = r.ID
		}
		return Run{}, fmt.Errorf("%w: %s matches %s", ErrAmbiguousRun, idOrPrefix, strings.Join(ids, ", "))
	}
}

// ReadRegions returns a run's regions in blob order.
func (s *Store) ReadRegions(ctx context.Context, runID string) ([]ir.Region, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT start, end_offset, confidence, files
		FROM regions
		WHERE run_id = ?
		ORDER BY idx ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query regions: %w", err)
	}
	defer rows.Close()

	regions := []ir.Region{}
	for rows.Next() {
		var (
			r     ir.Region
			conf  string
			files string
		)
		if err := rows.Scan(&r.Start, &r.End, &conf, &files); err != nil {
			return nil, fmt.Errorf("scan region: %w", err)
		}
		r.Confidence = ir.Confidence(conf)
		if r.Files, err = unmarshalFiles(files); err != nil {
			return nil, err
		}
		regions = append(regions, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate regions: %w", err)
	}
	return regions, nil
}

// ReadDiagnostics returns a run's diagnostics in report order. A non-empty
// code keeps only that category.
//
// Only the indexed columns are returned; Files, Chain and Details live in
// the stored report.
func (s *Store) ReadDiagnostics(ctx context.Context, runID string, code ir.ErrorCode) ([]*ir.Error, error) {
	query := `
		SELECT code, message, file, symbol, blob_offset
		FROM diagnostics
		WHERE run_id = ?`
	args := []any{runID}
	if code != "" {
		query += ` AND code = ?`
		args = append(args, string(code))
	}
	query += ` ORDER BY idx ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query diagnostics: %w", err)
	}
	defer rows.Close()

	diags := []*ir.Error{}
	for rows.Next() {
		var (
			d          ir.Error
			code, file string
		)
		if err := rows.Scan(&code, &d.Message, &file, &d.Symbol, &d.Offset); err != nil {
			return nil, fmt.Errorf("scan diagnostic: %w", err)
		}
		d.Code = ir.ErrorCode(code)
		d.File = ir.FileID(file)
		diags = append(diags, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate diagnostics: %w", err)
	}
	return diags, nil
}

func scanRun(rows *sql.Rows) (Run, error) {
	var (
		r    Run
		base int64
	)
	err := rows.Scan(
		&r.ID, &r.Seq, &r.Label, &r.Arch, &r.BlobDigest, &r.ReportDigest, &base, &r.Size,
		&r.Regions, &r.Cliques, &r.Diagnostics,
	)
	if err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	r.BaseAddress = uint32(base)
	return r, nil
}
