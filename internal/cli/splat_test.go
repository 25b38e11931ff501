package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/roach88/libmap/internal/ir"
)

type splatDoc struct {
	Segments []struct {
		Name        string  `yaml:"name"`
		Type        string  `yaml:"type"`
		Start       uint32  `yaml:"start"`
		VRAM        uint32  `yaml:"vram"`
		Subsegments [][]any `yaml:"subsegments"`
	} `yaml:"segments"`
}

func splatReport() *ir.Report {
	return &ir.Report{
		BaseAddress: 0x80000400,
		Size:        0x60,
		Regions: []ir.Region{
			{Start: 0x00, End: 0x10, Files: []ir.FileID{"libultra.a:osInit.o"}, Confidence: ir.ConfidenceCertain},
			{Start: 0x10, End: 0x20, Confidence: ir.ConfidenceUnknown},
			{Start: 0x20, End: 0x30, Files: []ir.FileID{"a.o", "b.o"}, Confidence: ir.ConfidenceClique},
			{Start: 0x30, End: 0x40, Files: []ir.FileID{"bzero.o"}, Confidence: ir.ConfidenceEliminated},
			{Start: 0x40, End: 0x50, Files: []ir.FileID{"x.o", "y.o"}, Confidence: ir.ConfidenceUnresolved},
		},
		Cliques: []ir.Clique{
			{Start: 0x20, End: 0x30, Offsets: []int{0x20}, Members: []ir.FileID{"a.o", "b.o"}, Ranked: []ir.FileID{"b.o", "a.o"}},
		},
	}
}

func TestSegmentName(t *testing.T) {
	assert.Equal(t, "osInit", segmentName("libultra.a:osInit.o"))
	assert.Equal(t, "bzero", segmentName("bzero.o"))
	assert.Equal(t, "noext", segmentName("noext"))
}

func TestWriteSplat(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeSplat(&buf, 0x1000, splatReport(), map[string]bool{"bzero": true}))

	var doc splatDoc
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
	require.Len(t, doc.Segments, 1)
	seg := doc.Segments[0]
	assert.Equal(t, "boot", seg.Name)
	assert.Equal(t, "code", seg.Type)
	assert.Equal(t, uint32(0x1000), seg.Start)
	assert.Equal(t, uint32(0x80000400), seg.VRAM)

	assert.Equal(t, [][]any{
		{0x1000, "c", "osInit"},
		{0x1010, "asm"},
		{0x1020, "c", "b"},
		{0x1030, "hasm", "bzero"},
		{0x1040, "asm"},
	}, seg.Subsegments)

	assert.Contains(t, buf.String(), "# ? a.o, b.o")
}

func TestWriteSplatFillsTrailingGap(t *testing.T) {
	rep := &ir.Report{
		Size:    0x20,
		Regions: []ir.Region{{Start: 0, End: 0x10, Files: []ir.FileID{"a.o"}, Confidence: ir.ConfidenceCertain}},
	}
	var buf bytes.Buffer
	require.NoError(t, writeSplat(&buf, 0, rep, nil))

	var doc splatDoc
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, [][]any{{0, "c", "a"}, {0x10, "asm"}}, doc.Segments[0].Subsegments)
}

func TestWriteSymbolAddrs(t *testing.T) {
	rep := &ir.Report{Symbols: []ir.PlacedSymbol{
		{Name: "osInit", Address: 0x80000400, Size: 0x10, File: "libultra.a:osInit.o"},
		{Name: ".L1", Address: 0x80000408, Size: 0x8, File: "libultra.a:osInit.o"},
		{Name: "__osActiveQueue", Address: 0x80335000, File: "libultra.a:osInit.o", Referenced: true},
		{Name: ".bss", Address: 0x80336000, File: "libultra.a:osInit.o", Referenced: true},
	}}
	var buf bytes.Buffer
	require.NoError(t, writeSymbolAddrs(&buf, rep))
	assert.Equal(t,
		"osInit = 0x80000400 // size:0x10\n"+
			"// osInit.L1+0x0 = 0x80000408 // size:0x8\n"+
			"__osActiveQueue = 0x80335000\n"+
			"// osInit.bss+0x0 = 0x80336000\n",
		buf.String())
}
