package symgraph

import (
	"fmt"
	"io"

	"github.com/dominikbraun/graph/draw"
)

// WriteDOT renders the file reference graph in Graphviz DOT format. Edges
// are red for function references and blue for data references; each edge
// is labelled with the symbols that induce it.
func (gr *Graph) WriteDOT(w io.Writer) error {
	if err := draw.DOT(gr.g, w,
		draw.GraphAttribute("rankdir", "LR"),
		draw.GraphAttribute("label", "libmap symbol graph"),
	); err != nil {
		return fmt.Errorf("rendering DOT: %w", err)
	}
	return nil
}
