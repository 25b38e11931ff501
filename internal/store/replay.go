package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/libmap/internal/ir"
)

// ErrDigestMismatch is returned when a stored report no longer hashes to
// its recorded digest.
var ErrDigestMismatch = errors.New("store: report digest mismatch")

// ReadReport decodes a run's stored report and verifies its digest.
func (s *Store) ReadReport(ctx context.Context, runID string) (*ir.Report, error) {
	var data, want string
	err := s.db.QueryRowContext(ctx, `
		SELECT report, report_digest FROM runs WHERE id = ?
	`, runID).Scan(&data, &want)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}

	rep, err := unmarshalReport(data)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	got, err := ir.ReportDigest(rep)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	if got != want {
		return nil, fmt.Errorf("%w: run %s has %s, recorded %s", ErrDigestMismatch, runID, got, want)
	}
	return rep, nil
}

// RunsForBlob returns the runs over identical input bytes, oldest first.
// Differing report digests among them mean the corpus or settings changed
// between runs.
func (s *Store) RunsForBlob(ctx context.Context, blobDigest string) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs r
		WHERE r.blob_digest = ?
		ORDER BY r.seq ASC, r.id COLLATE BINARY ASC
	`, blobDigest)
	if err != nil {
		return nil, fmt.Errorf("query runs for blob: %w", err)
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
		return nil, fmt.Errorf("iterate runs for blob: %w", err)
	}
	return runs, nil
}
