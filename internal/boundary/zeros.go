package boundary

import (
	"cmp"
	"slices"

	"github.com/roach88/libmap/internal/ir"
	"github.com/roach88/libmap/internal/signature"
)

const (
	// maxPadding is the most trailing zero padding a gap may hold after
	// its zero objects.
	maxPadding = 12
	// maxArrangements bounds the orderings enumerated for one gap.
	maxArrangements = 64
)

// placement is a zero object at a blob offset.
type placement struct {
	file       ir.FileID
	start, end int
}

// arrangement packs zero objects back to back from the start of a gap.
type arrangement []placement

func (a arrangement) end(start int) int {
	if len(a) == 0 {
		return start
	}
	return a[len(a)-1].end
}

func (a arrangement) uses(f ir.FileID) bool {
	return slices.ContainsFunc(a, func(p placement) bool { return p.file == f })
}

// slot is an uncovered all-zero gap and the ways zero objects can fill it.
type slot struct {
	start, end int
	arrs       []arrangement
	crowded    bool
	done       bool
}

// live returns the arrangements that avoid used files and leave the least
// padding.
func (s *slot) live(used map[ir.FileID]bool) []arrangement {
	var out []arrangement
	best := -1
	for _, a := range s.arrs {
		if slices.ContainsFunc(a, func(p placement) bool { return used[p.file] }) {
			continue
		}
		switch e := a.end(s.start); {
		case e > best:
			best, out = e, []arrangement{a}
		case e == best:
			out = append(out, a)
		}
	}
	return out
}

// eliminateZeros places all-zero objects. Content cannot tell zero objects
// apart, so each all-zero gap is filled by packing zero objects from its
// start, leaving at most maxPadding bytes. A gap with a single arrangement
// whose files fit no other gap is assigned; assignments repeat until
// stable. Gaps still open become cliques.
func (l *Locator) eliminateZeros(rep *ir.Report, in Input, regions []ir.Region) []ir.Region {
	if in.Signatures == nil {
		return nil
	}
	var zeros []*signature.Signature
	for _, s := range in.Signatures.Sigs {
		if s.Zero {
			zeros = append(zeros, s)
		}
	}
	if len(zeros) == 0 {
		return nil
	}
	slices.SortFunc(zeros, func(a, b *signature.Signature) int { return cmp.Compare(a.File, b.File) })

	var slots []*slot
	for _, g := range gaps(regions, len(in.Blob)) {
		if !allZero(in.Blob[g[0]:g[1]]) {
			continue
		}
		s := &slot{start: g[0], end: g[1]}
		s.crowded = !arrange(s, zeros)
		if len(s.arrs) > 0 {
			slots = append(slots, s)
		}
	}

	used := make(map[ir.FileID]bool)
	elsewhere := func(self *slot, f ir.FileID) bool {
		for _, s := range slots {
			if s == self || s.done {
				continue
			}
			if slices.ContainsFunc(s.live(used), func(a arrangement) bool { return a.uses(f) }) {
				return true
			}
		}
		return false
	}

	var out []ir.Region
	for progress := true; progress; {
		progress = false
		for _, s := range slots {
			if s.done || s.crowded {
				continue
			}
			arrs := s.live(used)
			if len(arrs) != 1 || slices.ContainsFunc(arrs[0], func(p placement) bool { return elsewhere(s, p.file) }) {
				continue
			}
			for _, p := range arrs[0] {
				used[p.file] = true
				out = append(out, ir.Region{Start: p.start, End: p.end, Files: []ir.FileID{p.file}, Confidence: ir.ConfidenceEliminated})
				l.logger.Debug("zero object eliminated", "file", p.file, "offset", p.start, "size", p.end-p.start)
			}
			s.done = true
			progress = true
		}
	}

	for _, s := range slots {
		if s.done {
			continue
		}
		if s.crowded {
			var members []ir.FileID
			for _, z := range zeros {
				if !used[z.File] && z.Size() <= s.end-s.start {
					members = append(members, z.File)
				}
			}
			if len(members) > 0 {
				out = append(out, ir.Region{Start: s.start, End: s.end, Files: members, Confidence: ir.ConfidenceClique})
				l.addClique(rep, s.start, s.end, members)
			}
			continue
		}
		shared := func(f ir.FileID) bool { return elsewhere(s, f) }
		out = append(out, l.openSlot(rep, s, s.live(used), shared)...)
	}
	return out
}

// openSlot reports a gap that was not assigned. Placements made by every
// arrangement of a file that fits no other gap are still assigned; the
// rest of the filled span is split into cliques.
func (l *Locator) openSlot(rep *ir.Report, s *slot, arrs []arrangement, shared func(ir.FileID) bool) []ir.Region {
	if len(arrs) == 0 {
		return nil
	}
	var common []placement
	for _, p := range arrs[0] {
		if shared(p.file) {
			continue
		}
		if !slices.ContainsFunc(arrs[1:], func(a arrangement) bool { return !slices.Contains(a, p) }) {
			common = append(common, p)
		}
	}

	var out []ir.Region
	pos, end := s.start, arrs[0].end(s.start)
	flush := func(upto int) {
		if pos >= upto {
			return
		}
		var members []ir.FileID
		for _, a := range arrs {
			for _, p := range a {
				if p.start < upto && p.end > pos && !slices.Contains(members, p.file) {
					members = append(members, p.file)
				}
			}
		}
		members = ir.SortFileIDs(members)
		out = append(out, ir.Region{Start: pos, End: upto, Files: members, Confidence: ir.ConfidenceClique})
		l.addClique(rep, pos, upto, members)
	}
	for _, p := range common {
		flush(p.start)
		out = append(out, ir.Region{Start: p.start, End: p.end, Files: []ir.FileID{p.file}, Confidence: ir.ConfidenceEliminated})
		pos = p.end
	}
	flush(end)
	return out
}

// arrange enumerates the orderings of distinct zero objects that pack
// from s.start and leave at most maxPadding bytes of s. It reports false
// when the enumeration was cut short.
func arrange(s *slot, zeros []*signature.Signature) bool {
	var cur arrangement
	picked := make([]bool, len(zeros))
	var walk func(pos int) bool
	walk = func(pos int) bool {
		if len(cur) > 0 && s.end-pos <= maxPadding {
			if len(s.arrs) == maxArrangements {
				return false
			}
			s.arrs = append(s.arrs, slices.Clone(cur))
		}
		for i, z := range zeros {
			if picked[i] || pos+z.Size() > s.end {
				continue
			}
			picked[i] = true
			cur = append(cur, placement{file: z.File, start: pos, end: pos + z.Size()})
			ok := walk(pos + z.Size())
			cur = cur[:len(cur)-1]
			picked[i] = false
			if !ok {
				return false
			}
		}
		return true
	}
	return walk(s.start)
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return len(b) > 0
}
