package ir

import (
	"cmp"
	"slices"
)

// FileID identifies one corpus object file (its base name, or
// "archive.a:member.o" for archive members).
type FileID string

// SymbolKind distinguishes function and data symbols.
type SymbolKind string

// Recognized symbol kinds.
const (
	SymbolFunction SymbolKind = "function"
	SymbolData     SymbolKind = "data"
	SymbolUnknown  SymbolKind = "unknown"
)

// SymbolRef is one global symbol table entry of an object file.
type SymbolRef struct {
	Name string     `json:"name"`
	Kind SymbolKind `json:"kind"`
	Weak bool       `json:"weak,omitempty"`

	// Value and Size locate defined symbols inside Section.
	Value   uint32 `json:"value,omitempty"`
	Size    uint32 `json:"size,omitempty"`
	Section string `json:"section,omitempty"`
}

// TextSection names the only section whose symbols can be placed.
const TextSection = ".text"

// Relocation is a text relocation record: the byte offset of the
// instruction it patches, the architecture-specific relocation type, the
// target symbol (a section name for section symbols) and the explicit
// addend of RELA records.
type Relocation struct {
	Offset uint32 `json:"offset"`
	Type   uint32 `json:"type"`
	Symbol string `json:"symbol,omitempty"`
	Addend int64  `json:"addend,omitempty"`
}

// ObjectFile is a candidate library object as read from the corpus.
// Records are immutable for the duration of a run.
type ObjectFile struct {
	ID          FileID       `json:"id"`
	Path        string       `json:"path,omitempty"`
	Text        []byte       `json:"-"`
	Relocations []Relocation `json:"relocations,omitempty"`
	Defined     []SymbolRef  `json:"defined,omitempty"`
	Referenced  []SymbolRef  `json:"referenced,omitempty"`
}

// ReferenceEdge records that Source references Symbol, which Target defines.
// Several symbols may induce several edges between the same pair.
type ReferenceEdge struct {
	Source FileID     `json:"source"`
	Target FileID     `json:"target"`
	Symbol string     `json:"symbol"`
	Kind   SymbolKind `json:"kind"`
}

// CommitReason records which inference rule fixed a placement.
type CommitReason string

// Commit reasons.
const (
	// ReasonSingleton: the window's candidate set collapsed to one file.
	ReasonSingleton CommitReason = "singleton"
	// ReasonRequired: the file is required by a committed reference and
	// had exactly one viable placement left.
	ReasonRequired CommitReason = "required"
)

// Commit is one placement fixed by the propagator.
type Commit struct {
	Seq    int64        `json:"seq"`
	File   FileID       `json:"file"`
	Offset int          `json:"offset"`
	Size   int          `json:"size"`
	Reason CommitReason `json:"reason"`

	// Symbol and Via are set for required commits: Via referenced Symbol.
	Symbol string `json:"symbol,omitempty"`
	Via    FileID `json:"via,omitempty"`
}

// End returns the exclusive end offset of the committed placement.
func (c Commit) End() int {
	return c.Offset + c.Size
}

// Confidence classifies a resolved region.
type Confidence string

// Region confidences.
const (
	ConfidenceCertain    Confidence = "certain"
	ConfidenceEliminated Confidence = "eliminated"
	ConfidenceClique     Confidence = "clique-member"
	ConfidenceUnresolved Confidence = "unresolved"
	ConfidenceUnknown    Confidence = "unknown"
)

// Region is one entry of the final blob tiling. End is exclusive.
// Files holds exactly one id for certain and eliminated regions, the
// member set for clique and unresolved regions, and nothing for unknown
// bytes.
type Region struct {
	Start      int        `json:"start"`
	End        int        `json:"end"`
	Files      []FileID   `json:"files,omitempty"`
	Confidence Confidence `json:"confidence"`
}

// Size returns the region length in bytes.
func (r Region) Size() int {
	return r.End - r.Start
}

// File returns the single identity of a certain or eliminated region.
func (r Region) File() (FileID, bool) {
	if len(r.Files) != 1 {
		return "", false
	}
	switch r.Confidence {
	case ConfidenceCertain, ConfidenceEliminated:
		return r.Files[0], true
	}
	return "", false
}

// Clique is an irreducible ambiguity: Members stay indistinguishable at
// every offset in Offsets. Ranked orders the members by the run's
// tie-break strategy, best guess first, for manual disambiguation.
type Clique struct {
	Start   int      `json:"start"`
	End     int      `json:"end"`
	Offsets []int    `json:"offsets"`
	Members []FileID `json:"members"`
	Ranked  []FileID `json:"ranked,omitempty"`
}

// PlacedSymbol is a symbol located at its virtual address: a function
// defined by a certain region, or a symbol such a region references,
// recovered from its relocated instruction words.
type PlacedSymbol struct {
	Name       string `json:"name"`
	Address    uint32 `json:"address"`
	Size       uint32 `json:"size"`
	File       FileID `json:"file"`
	Referenced bool   `json:"referenced,omitempty"`
}

// Report is the complete output of one analysis run.
type Report struct {
	BaseAddress uint32         `json:"base_address"`
	Size        int            `json:"size"`
	Regions     []Region       `json:"regions"`
	Cliques     []Clique       `json:"cliques,omitempty"`
	Diagnostics []*Error       `json:"diagnostics,omitempty"`
	Commits     []Commit       `json:"commits,omitempty"`
	Symbols     []PlacedSymbol `json:"symbols,omitempty"`
	NotFound    []FileID       `json:"not_found,omitempty"`
}

// RegionAt returns the region containing byte offset off.
func (r *Report) RegionAt(off int) (Region, bool) {
	i, found := slices.BinarySearchFunc(r.Regions, off, func(reg Region, target int) int {
		if reg.End <= target {
			return -1
		}
		if reg.Start > target {
			return 1
		}
		return 0
	})
	if !found {
		return Region{}, false
	}
	return r.Regions[i], true
}

// DiagnosticsWithCode returns the diagnostics carrying code.
func (r *Report) DiagnosticsWithCode(code ErrorCode) []*Error {
	var out []*Error
	for _, d := range r.Diagnostics {
		if d.Code == code {
			out = append(out, d)
		}
	}
	return out
}

// SortFileIDs sorts ids lexicographically in place and returns them.
func SortFileIDs(ids []FileID) []FileID {
	slices.SortFunc(ids, func(a, b FileID) int { return cmp.Compare(a, b) })
	return ids
}
