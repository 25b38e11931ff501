package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/libmap/internal/ir"
	"github.com/roach88/libmap/internal/symgraph"
)

// GraphResult is the JSON form of the symbol graph.
type GraphResult struct {
	Files       []ir.FileID        `json:"files"`
	Edges       []ir.ReferenceEdge `json:"edges"`
	Undefined   []string           `json:"undefined,omitempty"`
	Diagnostics []*ir.Error        `json:"diagnostics,omitempty"`

	graph *symgraph.Graph
}

// RenderText implements TextRenderer: text output is Graphviz DOT.
func (r GraphResult) RenderText(w io.Writer) error {
	return r.graph.WriteDOT(w)
}

// NewGraphCommand creates the graph command.
func NewGraphCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph <objects>...",
		Short: "Export the symbol reference graph",
		Long: `Build the file reference graph of the given objects and print it in
Graphviz DOT format. Red edges are function references, blue edges data
references. With --format json the edge list is printed instead.

Examples:
  libmap graph ./libultra | dot -Tsvg > libultra.svg
  libmap graph ./libultra --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := rootOpts.logger()
			corpus, err := loadCorpus(logger, args)
			if err != nil {
				return err
			}
			g := symgraph.Build(corpus.Objects, logger)
			f := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			if err := f.Success(GraphResult{
				Files:       g.Files(),
				Edges:       g.Edges(),
				Undefined:   g.Undefined(),
				Diagnostics: append(corpus.Skipped, g.Diagnostics()...),
				graph:       g,
			}); err != nil {
				return fmt.Errorf("writing graph: %w", err)
			}
			return nil
		},
	}
	return cmd
}
