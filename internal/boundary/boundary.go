// Package boundary turns propagation outcomes into a tiling of the blob.
//
// Every byte of the blob ends up in exactly one region. Committed files
// become certain regions; all-zero objects are packed by elimination into
// all-zero gaps, allowing a little trailing padding; whatever no file
// explains is reported as unknown.
package boundary

import (
	"cmp"
	"log/slog"
	"slices"

	"github.com/roach88/libmap/internal/arch"
	"github.com/roach88/libmap/internal/engine"
	"github.com/roach88/libmap/internal/ir"
	"github.com/roach88/libmap/internal/match"
	"github.com/roach88/libmap/internal/signature"
	"github.com/roach88/libmap/internal/symgraph"
)

// Input is everything the locator needs from earlier stages.
type Input struct {
	// Blob is the analysed byte window.
	Blob []byte
	// BaseAddress is the virtual address of Blob[0].
	BaseAddress uint32
	// Signatures is the full signature set, zero objects included.
	Signatures *signature.Set
	// Objects supplies symbol tables and relocations for placed-symbol
	// reporting.
	Objects []*ir.ObjectFile
	// Profile decodes relocated words when recovering referenced symbols.
	// Without one only defined symbols are placed.
	Profile *arch.Profile
	// Result is the propagator output.
	Result *engine.Result
}

// Locator builds reports. The zero value is not usable; call New.
type Locator struct {
	ranker match.Ranker
	graph  *symgraph.Graph
	logger *slog.Logger
}

// Option configures a Locator.
type Option func(*Locator)

// WithRanker sets the tie-break used to order members of new cliques.
func WithRanker(r match.Ranker) Option {
	return func(l *Locator) { l.ranker = r }
}

// WithGraph lets the ranker consult the symbol graph.
func WithGraph(g *symgraph.Graph) Option {
	return func(l *Locator) { l.graph = g }
}

// WithLogger sets the logger.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Locator) { l.logger = lg }
}

// New creates a Locator.
func New(opts ...Option) *Locator {
	l := &Locator{ranker: match.MostConstrained{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	if l.ranker == nil {
		l.ranker = match.MostConstrained{}
	}
	return l
}

// Locate tiles in.Blob and assembles the report.
func (l *Locator) Locate(in Input) *ir.Report {
	res := in.Result
	if res == nil {
		res = &engine.Result{}
	}
	dups := map[ir.FileID][]ir.FileID{}
	if in.Signatures != nil {
		dups = signature.DuplicatesOf(signature.DuplicateGroups(in.Signatures.Sigs))
	}

	rep := &ir.Report{
		BaseAddress: in.BaseAddress,
		Size:        len(in.Blob),
		Cliques:     slices.Clone(res.Cliques),
		Diagnostics: slices.Clone(res.Diagnostics),
		Commits:     slices.Clone(res.Commits),
	}

	var regions []ir.Region
	for _, o := range res.Outcomes {
		switch o := o.(type) {
		case engine.Certain:
			cm := o.Commit
			if partners := viablePartners(dups[cm.File], o.Initial); len(partners) > 0 && cm.Reason != ir.ReasonRequired {
				members := ir.SortFileIDs(append([]ir.FileID{cm.File}, partners...))
				regions = append(regions, ir.Region{Start: cm.Offset, End: cm.End(), Files: members, Confidence: ir.ConfidenceClique})
				l.addClique(rep, cm.Offset, cm.End(), members)
				continue
			}
			regions = append(regions, ir.Region{Start: cm.Offset, End: cm.End(), Files: []ir.FileID{cm.File}, Confidence: ir.ConfidenceCertain})
		case engine.Clique:
			regions = append(regions, ir.Region{Start: o.Offset, End: o.Offset + o.Size, Files: o.Files, Confidence: ir.ConfidenceClique})
		case engine.Unresolved:
			regions = append(regions, ir.Region{Start: o.Offset, End: o.Offset + o.Size, Files: o.Files, Confidence: ir.ConfidenceUnresolved})
		}
	}
	regions = clip(regions, len(in.Blob))

	regions = append(regions, l.eliminateZeros(rep, in, regions)...)
	rep.Regions = tile(regions, len(in.Blob))
	rep.Symbols = placeSymbols(rep.Regions, in)
	rep.NotFound = notFound(rep.Regions, in.Signatures)

	l.logger.Debug("regions located",
		"regions", len(rep.Regions),
		"cliques", len(rep.Cliques),
		"symbols", len(rep.Symbols),
		"not_found", len(rep.NotFound))
	return rep
}

// viablePartners returns the duplicates of a file that also matched at the
// same offset.
func viablePartners(dups, initial []ir.FileID) []ir.FileID {
	var out []ir.FileID
	for _, d := range dups {
		if slices.Contains(initial, d) {
			out = append(out, d)
		}
	}
	return out
}

// addClique records members at [start, end), merging with an existing
// clique of the same members.
func (l *Locator) addClique(rep *ir.Report, start, end int, members []ir.FileID) {
	for i := range rep.Cliques {
		q := &rep.Cliques[i]
		if slices.Equal(q.Members, members) {
			q.Offsets = append(q.Offsets, start)
			slices.Sort(q.Offsets)
			q.Start = min(q.Start, start)
			q.End = max(q.End, end)
			return
		}
	}
	counts := make(map[ir.FileID]int, len(members))
	for _, f := range members {
		counts[f] = 1
	}
	rc := &match.RankContext{Placements: counts, Graph: l.graph}
	rep.Cliques = append(rep.Cliques, ir.Clique{
		Start:   start,
		End:     end,
		Offsets: []int{start},
		Members: members,
		Ranked:  match.RankFiles(rc, l.ranker, members, func(ir.FileID) int { return end - start }),
	})
}

// clip sorts regions and trims overlaps so the earlier region wins.
func clip(regions []ir.Region, size int) []ir.Region {
	slices.SortStableFunc(regions, func(a, b ir.Region) int { return cmp.Compare(a.Start, b.Start) })
	out := regions[:0]
	pos := 0
	for _, r := range regions {
		r.Start = max(r.Start, pos)
		r.End = min(r.End, size)
		if r.Start >= r.End {
			continue
		}
		out = append(out, r)
		pos = r.End
	}
	return out
}

// gaps returns the uncovered ranges of [0, size). regions must be sorted
// and disjoint.
func gaps(regions []ir.Region, size int) [][2]int {
	var out [][2]int
	pos := 0
	for _, r := range regions {
		if r.Start > pos {
			out = append(out, [2]int{pos, r.Start})
		}
		pos = max(pos, r.End)
	}
	if pos < size {
		out = append(out, [2]int{pos, size})
	}
	return out
}

// tile fills the gaps between regions with unknown regions.
func tile(regions []ir.Region, size int) []ir.Region {
	slices.SortFunc(regions, func(a, b ir.Region) int { return cmp.Compare(a.Start, b.Start) })
	var out []ir.Region
	for _, g := range gaps(regions, size) {
		out = append(out, ir.Region{Start: g[0], End: g[1], Confidence: ir.ConfidenceUnknown})
	}
	out = append(out, regions...)
	slices.SortFunc(out, func(a, b ir.Region) int { return cmp.Compare(a.Start, b.Start) })
	return out
}

// placeSymbols locates the .text functions of every certain region and the
// symbols those regions reference. A referenced symbol already placed at
// the same address is reported once.
func placeSymbols(regions []ir.Region, in Input) []ir.PlacedSymbol {
	byID := make(map[ir.FileID]*ir.ObjectFile, len(in.Objects))
	for _, o := range in.Objects {
		byID[o.ID] = o
	}
	var out []ir.PlacedSymbol
	for _, r := range regions {
		if r.Confidence != ir.ConfidenceCertain {
			continue
		}
		f, _ := r.File()
		o, ok := byID[f]
		if !ok {
			continue
		}
		for _, s := range o.Defined {
			if s.Kind != ir.SymbolFunction || s.Section != ir.TextSection {
				continue
			}
			out = append(out, ir.PlacedSymbol{
				Name:    s.Name,
				Address: in.BaseAddress + uint32(r.Start) + s.Value,
				Size:    s.Size,
				File:    f,
			})
		}
		out = append(out, referencedSymbols(in.Profile, r, o, in.Blob, in.BaseAddress)...)
	}
	slices.SortStableFunc(out, func(a, b ir.PlacedSymbol) int {
		return cmp.Or(
			cmp.Compare(a.Address, b.Address),
			cmp.Compare(a.Name, b.Name),
			compareBool(a.Referenced, b.Referenced),
		)
	})
	return slices.CompactFunc(out, func(a, b ir.PlacedSymbol) bool {
		return a.Name == b.Name && a.Address == b.Address && b.Referenced
	})
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return 1
	}
	return -1
}

func notFound(regions []ir.Region, sigs *signature.Set) []ir.FileID {
	if sigs == nil {
		return nil
	}
	seen := make(map[ir.FileID]bool)
	for _, r := range regions {
		for _, f := range r.Files {
			seen[f] = true
		}
	}
	var out []ir.FileID
	for _, s := range sigs.Sigs {
		if !seen[s.File] {
			out = append(out, s.File)
		}
	}
	return ir.SortFileIDs(out)
}
