package cli

import (
	"fmt"
	"io"
	"path"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/libmap/internal/ir"
)

// segmentName turns a file id into a splat subsegment name:
// "libultra.a:osInit.o" becomes "osInit".
func segmentName(id ir.FileID) string {
	name := string(id)
	if i := strings.LastIndexByte(name, ':'); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, path.Ext(name))
}

func hexScalar(v uint32) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: fmt.Sprintf("0x%X", v)}
}

func strScalar(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func flowSeq(items ...*yaml.Node) *yaml.Node {
	return &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle, Content: items}
}

// bestGuess returns the identity a clique region is emitted under: the
// top-ranked member of the clique placed at start, else the first file.
func bestGuess(rep *ir.Report, r ir.Region) ir.FileID {
	for _, c := range rep.Cliques {
		if slices.Contains(c.Offsets, r.Start) && len(c.Ranked) > 0 {
			return c.Ranked[0]
		}
	}
	return r.Files[0]
}

// splatSubsegments lists one entry per identified region, in ROM order,
// with asm filler for the bytes between them. Clique regions carry a
// "?" comment naming every member.
func splatSubsegments(romStart uint32, rep *ir.Report, hasm map[string]bool) *yaml.Node {
	seq := &yaml.Node{Kind: yaml.SequenceNode}
	prevEnd := romStart

	for _, r := range rep.Regions {
		if len(r.Files) == 0 {
			continue
		}
		var file ir.FileID
		switch r.Confidence {
		case ir.ConfidenceCertain, ir.ConfidenceEliminated:
			file = r.Files[0]
		case ir.ConfidenceClique:
			file = bestGuess(rep, r)
		default:
			continue
		}

		start := romStart + uint32(r.Start)
		if prevEnd < start {
			seq.Content = append(seq.Content, flowSeq(hexScalar(prevEnd), strScalar("asm")))
		}

		kind := "c"
		if hasm[string(file)] || hasm[segmentName(file)] {
			kind = "hasm"
		}
		entry := flowSeq(hexScalar(start), strScalar(kind), strScalar(segmentName(file)))
		if r.Confidence == ir.ConfidenceClique {
			entry.LineComment = "? " + joinFiles(r.Files)
		}
		seq.Content = append(seq.Content, entry)
		prevEnd = romStart + uint32(r.End)
	}

	if end := romStart + uint32(rep.Size); prevEnd < end {
		seq.Content = append(seq.Content, flowSeq(hexScalar(prevEnd), strScalar("asm")))
	}
	return seq
}

// writeSplat writes a splat code segment covering the scanned window.
func writeSplat(w io.Writer, romStart uint32, rep *ir.Report, hasm map[string]bool) error {
	segment := &yaml.Node{Kind: yaml.MappingNode, Content: []*yaml.Node{
		strScalar("name"), strScalar("boot"),
		strScalar("type"), strScalar("code"),
		strScalar("start"), hexScalar(romStart),
		strScalar("vram"), hexScalar(rep.BaseAddress),
		strScalar("subsegments"), splatSubsegments(romStart, rep, hasm),
	}}
	doc := &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{
		{Kind: yaml.MappingNode, Content: []*yaml.Node{
			strScalar("segments"),
			{Kind: yaml.SequenceNode, Content: []*yaml.Node{segment}},
		}},
	}}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding splat yaml: %w", err)
	}
	return enc.Close()
}

// writeSymbolAddrs writes placed symbols in splat symbol_addrs form.
// File-local names (leading '.') are commented out under their file.
// Referenced symbols carry no size.
func writeSymbolAddrs(w io.Writer, rep *ir.Report) error {
	for _, s := range rep.Symbols {
		size := fmt.Sprintf(" // size:0x%X", s.Size)
		if s.Referenced {
			size = ""
		}
		var err error
		if strings.HasPrefix(s.Name, ".") {
			_, err = fmt.Fprintf(w, "// %s%s+0x0 = 0x%X%s\n", segmentName(s.File), s.Name, s.Address, size)
		} else {
			_, err = fmt.Fprintf(w, "%s = 0x%X%s\n", s.Name, s.Address, size)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
