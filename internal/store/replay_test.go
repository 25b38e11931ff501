package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/libmap/internal/ir"
)

func TestReadReportRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	rep := createTestReport()

	run, err := s.WriteRun(ctx, RunInput{Label: "rom", Arch: "mips", Report: rep})
	require.NoError(t, err)

	got, err := s.ReadReport(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, rep, got)
	assert.Equal(t, run.ReportDigest, ir.MustReportDigest(got))
}

func TestReadReportDetectsTampering(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	run, err := s.WriteRun(ctx, RunInput{Label: "rom", Arch: "mips", Report: createTestReport()})
	require.NoError(t, err)

	_, err = s.db.Exec(`UPDATE runs SET report = replace(report, '"a.o"', '"z.o"') WHERE id = ?`, run.ID)
	require.NoError(t, err)

	_, err = s.ReadReport(ctx, run.ID)
	assert.ErrorIs(t, err, ErrDigestMismatch)
}

func TestReadReportMissing(t *testing.T) {
	s := createTestStore(t)
	_, err := s.ReadReport(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRunsForBlob(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	blob := []byte{0xde, 0xad, 0xbe, 0xef}

	_, err := s.WriteRun(ctx, RunInput{Label: "a", Arch: "mips", Blob: blob, Report: createTestReport()})
	require.NoError(t, err)
	_, err = s.WriteRun(ctx, RunInput{Label: "b", Arch: "mips", Blob: []byte{0}, Report: createTestReport()})
	require.NoError(t, err)

	changed := createTestReport()
	changed.Regions[1].Confidence = ir.ConfidenceUnresolved
	_, err = s.WriteRun(ctx, RunInput{Label: "c", Arch: "mips", Blob: blob, Report: changed})
	require.NoError(t, err)

	runs, err := s.RunsForBlob(ctx, ir.BlobDigest(blob))
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "a", runs[0].Label)
	assert.Equal(t, "c", runs[1].Label)
	assert.NotEqual(t, runs[0].ReportDigest, runs[1].ReportDigest)
}
