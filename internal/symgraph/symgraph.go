// Package symgraph builds the cross-file symbol reference graph of a corpus.
//
// A Graph is built once from the static corpus, never from blob content,
// and is read-only afterwards. It exposes the four lookup maps
// (symbol to definer, symbol to referencers, file to defined symbols, file
// to referenced symbols) and the directed file reference graph derived from
// them.
package symgraph

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/dominikbraun/graph"

	"github.com/roach88/libmap/internal/ir"
)

// Graph is the immutable symbol graph of a corpus.
type Graph struct {
	definer     map[string]ir.FileID
	kind        map[string]ir.SymbolKind
	referencers map[string][]ir.FileID
	defines     map[ir.FileID][]ir.SymbolRef
	references  map[ir.FileID][]ir.SymbolRef
	ambiguous   map[string][]ir.FileID
	undefined   []string
	edges       []ir.ReferenceEdge
	diagnostics []*ir.Error

	files     []ir.FileID
	g         graph.Graph[ir.FileID, ir.FileID]
	inDegree  map[ir.FileID]int
	neighbors map[ir.FileID][]ir.FileID
}

// Requirement is a symbol a file references together with its unique
// definer.
type Requirement struct {
	Symbol  string
	Definer ir.FileID
}

func fileHash(id ir.FileID) ir.FileID { return id }

// Build constructs the graph in a single pass per file. Files are
// processed in id order so the result does not depend on input order.
//
// Definition rules: a single strong definition wins over any number of
// weak ones; several strong definitions, or several weak ones with no
// strong one, make the symbol ambiguous. Ambiguous symbols stay in the
// defined sets but have no definer and induce no edges.
func Build(objs []*ir.ObjectFile, logger *slog.Logger) *Graph {
	if logger == nil {
		logger = slog.Default()
	}
	sorted := slices.Clone(objs)
	slices.SortFunc(sorted, func(a, b *ir.ObjectFile) int {
		return strings.Compare(string(a.ID), string(b.ID))
	})

	gr := &Graph{
		definer:     make(map[string]ir.FileID),
		kind:        make(map[string]ir.SymbolKind),
		referencers: make(map[string][]ir.FileID),
		defines:     make(map[ir.FileID][]ir.SymbolRef),
		references:  make(map[ir.FileID][]ir.SymbolRef),
		ambiguous:   make(map[string][]ir.FileID),
		g:           graph.New(fileHash, graph.Directed()),
		inDegree:    make(map[ir.FileID]int),
	}

	type definition struct {
		file ir.FileID
		ref  ir.SymbolRef
	}
	strong := make(map[string][]definition)
	weak := make(map[string][]definition)

	for _, o := range sorted {
		gr.files = append(gr.files, o.ID)
		warnGraph(logger, "adding file vertex", gr.g.AddVertex(o.ID), "file", o.ID)

		gr.defines[o.ID] = dedupe(o.Defined)
		for _, s := range gr.defines[o.ID] {
			d := definition{file: o.ID, ref: s}
			if s.Weak {
				weak[s.Name] = append(weak[s.Name], d)
			} else {
				strong[s.Name] = append(strong[s.Name], d)
			}
		}
	}

	names := make([]string, 0, len(strong)+len(weak))
	for n := range strong {
		names = append(names, n)
	}
	for n := range weak {
		if _, ok := strong[n]; !ok {
			names = append(names, n)
		}
	}
	slices.Sort(names)

	for _, n := range names {
		defs := strong[n]
		if len(defs) == 0 {
			defs = weak[n]
		}
		if len(defs) == 1 {
			gr.definer[n] = defs[0].file
			gr.kind[n] = defs[0].ref.Kind
			continue
		}
		var files []ir.FileID
		for _, d := range defs {
			files = append(files, d.file)
		}
		gr.ambiguous[n] = files
		gr.diagnostics = append(gr.diagnostics, ir.NewAmbiguousSymbolError(n, files))
		logger.Warn("ambiguous symbol", "symbol", n, "definers", len(files))
	}

	undefined := make(map[string]bool)
	for _, o := range sorted {
		ownDefs := make(map[string]bool, len(gr.defines[o.ID]))
		for _, s := range gr.defines[o.ID] {
			ownDefs[s.Name] = true
		}
		for _, s := range dedupe(o.Referenced) {
			if ownDefs[s.Name] {
				continue
			}
			gr.references[o.ID] = append(gr.references[o.ID], s)
			gr.referencers[s.Name] = append(gr.referencers[s.Name], o.ID)

			target, ok := gr.definer[s.Name]
			if !ok {
				if _, amb := gr.ambiguous[s.Name]; !amb {
					undefined[s.Name] = true
				}
				continue
			}
			gr.edges = append(gr.edges, ir.ReferenceEdge{
				Source: o.ID,
				Target: target,
				Symbol: s.Name,
				Kind:   gr.kind[s.Name],
			})
		}
	}
	for n := range undefined {
		gr.undefined = append(gr.undefined, n)
	}
	slices.Sort(gr.undefined)

	gr.buildFileGraph(logger)
	logger.Debug("symbol graph built",
		"files", len(gr.files),
		"symbols", len(gr.definer),
		"edges", len(gr.edges),
		"ambiguous", len(gr.ambiguous),
		"undefined", len(gr.undefined))
	return gr
}

// dedupe drops repeated names, keeping the first entry.
func dedupe(syms []ir.SymbolRef) []ir.SymbolRef {
	seen := make(map[string]bool, len(syms))
	var out []ir.SymbolRef
	for _, s := range syms {
		if seen[s.Name] {
			continue
		}
		seen[s.Name] = true
		out = append(out, s)
	}
	return out
}

// buildFileGraph collapses symbol edges into one weighted graph edge per
// file pair. Weight counts symbols; the edge is red when any symbol is a
// function and blue when all are data.
func (gr *Graph) buildFileGraph(logger *slog.Logger) {
	type pair struct{ src, dst ir.FileID }
	symbols := make(map[pair][]string)
	hasFunc := make(map[pair]bool)
	var order []pair

	for _, e := range gr.edges {
		p := pair{e.Source, e.Target}
		if _, ok := symbols[p]; !ok {
			order = append(order, p)
		}
		symbols[p] = append(symbols[p], e.Symbol)
		if e.Kind != ir.SymbolData {
			hasFunc[p] = true
		}
	}

	for _, p := range order {
		color := "blue"
		if hasFunc[p] {
			color = "red"
		}
		err := gr.g.AddEdge(p.src, p.dst,
			graph.EdgeWeight(len(symbols[p])),
			graph.EdgeAttribute("color", color),
			graph.EdgeAttribute("label", strings.Join(symbols[p], ",")),
		)
		warnGraph(logger, "adding reference edge", err, "source", p.src, "target", p.dst)
		gr.inDegree[p.dst]++
	}

	adj, err := gr.g.AdjacencyMap()
	if err == nil {
		var pred map[ir.FileID]map[ir.FileID]graph.Edge[ir.FileID]
		pred, err = gr.g.PredecessorMap()
		if err == nil {
			gr.setNeighbors(adj, pred)
			return
		}
	}
	logger.Warn("reading file graph, using the edge list", "error", err)
	adj = make(map[ir.FileID]map[ir.FileID]graph.Edge[ir.FileID])
	pred := make(map[ir.FileID]map[ir.FileID]graph.Edge[ir.FileID])
	for _, p := range order {
		if adj[p.src] == nil {
			adj[p.src] = make(map[ir.FileID]graph.Edge[ir.FileID])
		}
		if pred[p.dst] == nil {
			pred[p.dst] = make(map[ir.FileID]graph.Edge[ir.FileID])
		}
		adj[p.src][p.dst] = graph.Edge[ir.FileID]{Source: p.src, Target: p.dst}
		pred[p.dst][p.src] = graph.Edge[ir.FileID]{Source: p.src, Target: p.dst}
	}
	gr.setNeighbors(adj, pred)
}

// warnGraph logs a graph mutation failure. Repeated vertices and edges are
// expected and stay quiet.
func warnGraph(logger *slog.Logger, msg string, err error, args ...any) bool {
	if err == nil || errors.Is(err, graph.ErrVertexAlreadyExists) || errors.Is(err, graph.ErrEdgeAlreadyExists) {
		return false
	}
	logger.Warn(msg, append(args, "error", err)...)
	return true
}

// setNeighbors records, per file, the files it references or is
// referenced by.
func (gr *Graph) setNeighbors(adj, pred map[ir.FileID]map[ir.FileID]graph.Edge[ir.FileID]) {
	gr.neighbors = make(map[ir.FileID][]ir.FileID, len(gr.files))
	for _, f := range gr.files {
		var ns []ir.FileID
		for t := range adj[f] {
			ns = append(ns, t)
		}
		for s := range pred[f] {
			if _, dup := adj[f][s]; !dup {
				ns = append(ns, s)
			}
		}
		if len(ns) > 0 {
			gr.neighbors[f] = ir.SortFileIDs(ns)
		}
	}
}

// Files returns every corpus file in id order.
func (gr *Graph) Files() []ir.FileID { return gr.files }

// DefinerOf returns the unique definer of sym. Ambiguous and undefined
// symbols have none.
func (gr *Graph) DefinerOf(sym string) (ir.FileID, bool) {
	f, ok := gr.definer[sym]
	return f, ok
}

// KindOf returns the kind of a uniquely defined symbol.
func (gr *Graph) KindOf(sym string) ir.SymbolKind {
	if k, ok := gr.kind[sym]; ok {
		return k
	}
	return ir.SymbolUnknown
}

// ReferencersOf returns the files referencing sym, in id order.
func (gr *Graph) ReferencersOf(sym string) []ir.FileID { return gr.referencers[sym] }

// DefinedBy returns the symbols file defines.
func (gr *Graph) DefinedBy(file ir.FileID) []ir.SymbolRef { return gr.defines[file] }

// ReferencedBy returns the symbols file references, excluding its own
// definitions.
func (gr *Graph) ReferencedBy(file ir.FileID) []ir.SymbolRef { return gr.references[file] }

// Ambiguous returns the definers of a symbol defined more than once.
func (gr *Graph) Ambiguous(sym string) ([]ir.FileID, bool) {
	f, ok := gr.ambiguous[sym]
	return f, ok
}

// Undefined returns the referenced symbols no corpus file defines.
func (gr *Graph) Undefined() []string { return gr.undefined }

// Edges returns every symbol-level reference edge, grouped by source file.
func (gr *Graph) Edges() []ir.ReferenceEdge { return gr.edges }

// Diagnostics returns the AMBIGUOUS_SYMBOL diagnostics, in symbol order.
func (gr *Graph) Diagnostics() []*ir.Error { return gr.diagnostics }

// Requirements returns the uniquely defined symbols file references, in
// reference order. These are the only references that may certify the
// presence of another file.
func (gr *Graph) Requirements(file ir.FileID) []Requirement {
	var out []Requirement
	for _, s := range gr.references[file] {
		if d, ok := gr.definer[s.Name]; ok {
			out = append(out, Requirement{Symbol: s.Name, Definer: d})
		}
	}
	return out
}

// InDegree returns the number of distinct files referencing file.
func (gr *Graph) InDegree(file ir.FileID) int { return gr.inDegree[file] }

// Connected reports whether a and b are joined by a reference edge in
// either direction.
func (gr *Graph) Connected(a, b ir.FileID) bool {
	if _, err := gr.g.Edge(a, b); err == nil {
		return true
	}
	_, err := gr.g.Edge(b, a)
	return err == nil
}

// Neighbors returns the files a references or is referenced by, in id
// order.
func (gr *Graph) Neighbors(a ir.FileID) []ir.FileID { return gr.neighbors[a] }

// String summarizes the graph.
func (gr *Graph) String() string {
	return fmt.Sprintf("symgraph(files=%d symbols=%d edges=%d ambiguous=%d)",
		len(gr.files), len(gr.definer), len(gr.edges), len(gr.ambiguous))
}
