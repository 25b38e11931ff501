package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/roach88/libmap/internal/analysis"
	"github.com/roach88/libmap/internal/ir"
)

var (
	colorHeader = color.New(color.Bold).SprintFunc()
	colorCode   = color.New(color.FgRed, color.Bold).SprintFunc()

	confidenceColors = map[ir.Confidence]func(a ...any) string{
		ir.ConfidenceCertain:    color.New(color.FgGreen).SprintFunc(),
		ir.ConfidenceEliminated: color.New(color.FgCyan).SprintFunc(),
		ir.ConfidenceClique:     color.New(color.FgYellow).SprintFunc(),
		ir.ConfidenceUnresolved: color.New(color.FgMagenta).SprintFunc(),
		ir.ConfidenceUnknown:    color.New(color.FgHiBlack).SprintFunc(),
	}

	// confidenceOrder lists confidences best first for summaries.
	confidenceOrder = []ir.Confidence{
		ir.ConfidenceCertain,
		ir.ConfidenceEliminated,
		ir.ConfidenceClique,
		ir.ConfidenceUnresolved,
		ir.ConfidenceUnknown,
	}
)

func colorConfidence(c ir.Confidence) string {
	if f, ok := confidenceColors[c]; ok {
		return f(string(c))
	}
	return string(c)
}

func joinFiles(ids []ir.FileID) string {
	parts := make([]string, len(ids))
	for i, f := range ids {
		parts[i] = string(f)
	}
	return strings.Join(parts, ", ")
}

func hexOffsets(offs []int) string {
	parts := make([]string, len(offs))
	for i, o := range offs {
		parts[i] = fmt.Sprintf("%#x", o)
	}
	return strings.Join(parts, ", ")
}

// renderReport writes the human-readable form of a report.
func renderReport(w io.Writer, rep *ir.Report) error {
	fmt.Fprintf(w, "%s %s at %#08x\n\n", colorHeader("Blob:"), humanize.IBytes(uint64(rep.Size)), rep.BaseAddress)

	fmt.Fprintln(w, colorHeader("Regions:"))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  OFFSET\tVRAM\tSIZE\tCONFIDENCE\tFILES")
	for _, r := range rep.Regions {
		fmt.Fprintf(tw, "  %#06x\t%#08x\t%s\t%s\t%s\n",
			r.Start, rep.BaseAddress+uint32(r.Start), humanize.IBytes(uint64(r.Size())),
			colorConfidence(r.Confidence), joinFiles(r.Files))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(rep.Cliques) > 0 {
		fmt.Fprintf(w, "\n%s\n", colorHeader("Cliques:"))
		for _, c := range rep.Cliques {
			fmt.Fprintf(w, "  {%s} at %s", joinFiles(c.Members), hexOffsets(c.Offsets))
			if len(c.Ranked) > 0 {
				fmt.Fprintf(w, " (best guess %s)", c.Ranked[0])
			}
			fmt.Fprintln(w)
		}
	}

	if len(rep.Diagnostics) > 0 {
		fmt.Fprintf(w, "\n%s\n", colorHeader("Diagnostics:"))
		for _, d := range rep.Diagnostics {
			renderDiagnostic(w, d)
		}
	}

	if len(rep.NotFound) > 0 {
		fmt.Fprintf(w, "\n%s %s\n", colorHeader("Not found:"), joinFiles(rep.NotFound))
	}

	fmt.Fprintf(w, "\n%s\n", colorHeader("Coverage:"))
	cov := analysis.Coverage(rep)
	for _, c := range sortedConfidences(cov) {
		n := cov[c]
		pct := 0.0
		if rep.Size > 0 {
			pct = 100 * float64(n) / float64(rep.Size)
		}
		fmt.Fprintf(w, "  %-14s %10s  %5.1f%%\n", c, humanize.IBytes(uint64(n)), pct)
	}
	return nil
}

func renderDiagnostic(w io.Writer, d *ir.Error) {
	fmt.Fprintf(w, "  %s %s", colorCode(string(d.Code)), d.Message)
	if d.Code == ir.ErrCodeContradiction {
		fmt.Fprintf(w, " at %#x", d.Offset)
	}
	fmt.Fprintln(w)
	if len(d.Chain) > 0 {
		steps := make([]string, len(d.Chain))
		for i, c := range d.Chain {
			steps[i] = fmt.Sprintf("#%d %s@%#x", c.Seq, c.File, c.Offset)
		}
		fmt.Fprintf(w, "    chain: %s\n", strings.Join(steps, " -> "))
	}
}

// sortedConfidences returns the confidences present in cov, best first.
func sortedConfidences(cov map[ir.Confidence]int) []ir.Confidence {
	var out []ir.Confidence
	for _, c := range confidenceOrder {
		if _, ok := cov[c]; ok {
			out = append(out, c)
		}
	}
	for c := range cov {
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}
