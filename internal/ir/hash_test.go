package ir

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() *Report {
	return &Report{
		BaseAddress: 0x80000400,
		Size:        16,
		Regions: []Region{
			{Start: 0, End: 8, Files: []FileID{"a.o"}, Confidence: ConfidenceCertain},
			{Start: 8, End: 16, Confidence: ConfidenceUnknown},
		},
		Commits: []Commit{{Seq: 1, File: "a.o", Offset: 0, Size: 8, Reason: ReasonSingleton}},
	}
}

func TestReportDigestDeterministic(t *testing.T) {
	d1, err := ReportDigest(sampleReport())
	require.NoError(t, err)
	d2, err := ReportDigest(sampleReport())
	require.NoError(t, err)

	assert.Equal(t, d1, d2)
	assert.Len(t, d1, 64)
}

func TestReportDigestChangesWithContent(t *testing.T) {
	a := sampleReport()
	b := sampleReport()
	b.Regions[0].Confidence = ConfidenceClique

	assert.NotEqual(t, MustReportDigest(a), MustReportDigest(b))
}

func TestDomainSeparation(t *testing.T) {
	data := []byte("same bytes")
	assert.NotEqual(t, hashWithDomain(DomainReport, data), hashWithDomain(DomainBlob, data))
	assert.Equal(t, BlobDigest(data), hashWithDomain(DomainBlob, data))
}

func TestRegionAt(t *testing.T) {
	r := sampleReport()

	reg, ok := r.RegionAt(4)
	require.True(t, ok)
	assert.Equal(t, 0, reg.Start)

	reg, ok = r.RegionAt(8)
	require.True(t, ok)
	assert.Equal(t, ConfidenceUnknown, reg.Confidence)

	_, ok = r.RegionAt(16)
	assert.False(t, ok)
}

func TestRegionFile(t *testing.T) {
	id, ok := Region{Files: []FileID{"a.o"}, Confidence: ConfidenceEliminated}.File()
	assert.True(t, ok)
	assert.Equal(t, FileID("a.o"), id)

	_, ok = Region{Files: []FileID{"a.o"}, Confidence: ConfidenceClique}.File()
	assert.False(t, ok)
}

func TestErrorHelpers(t *testing.T) {
	chain := []Commit{{File: "x.o", Offset: 0x10}}
	err := fmt.Errorf("wrapped: %w", NewContradictionError(0x20, nil, chain, "window emptied"))

	assert.True(t, IsContradiction(err))
	assert.False(t, IsParseError(err))
	assert.Contains(t, err.Error(), "offset=0x20, after x.o@0x10")

	cause := errors.New("bad magic")
	perr := NewParseError("bad.o", "not an ELF object", cause)
	assert.True(t, IsParseError(perr))
	assert.ErrorIs(t, perr, cause)
	assert.Equal(t, "PARSE_ERROR: not an ELF object (file=bad.o): bad magic", perr.Error())

	assert.True(t, IsIterationCap(NewIterationCapError(10, 10, 3)))
	assert.True(t, IsAmbiguousSymbol(NewAmbiguousSymbolError("f", []FileID{"a.o", "b.o"})))
}

func TestDiagnosticsWithCode(t *testing.T) {
	r := &Report{Diagnostics: []*Error{
		NewParseError("a.o", "x", nil),
		NewAmbiguousSymbolError("f", nil),
		NewParseError("b.o", "y", nil),
	}}
	assert.Len(t, r.DiagnosticsWithCode(ErrCodeParse), 2)
	assert.Empty(t, r.DiagnosticsWithCode(ErrCodeContradiction))
}
