package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/libmap/internal/ir"
	"github.com/roach88/libmap/internal/signature"
)

// DupesOptions holds flags for the dupes command.
type DupesOptions struct {
	*RootOptions
	archFlags
	Workers int
}

// DupesResult lists groups of objects with identical signatures.
type DupesResult struct {
	Groups [][]ir.FileID `json:"groups"`
}

// RenderText implements TextRenderer.
func (r DupesResult) RenderText(w io.Writer) error {
	if len(r.Groups) == 0 {
		_, err := fmt.Fprintln(w, "No duplicate objects.")
		return err
	}
	for i, g := range r.Groups {
		if _, err := fmt.Fprintf(w, "%d: %s\n", i+1, joinFiles(g)); err != nil {
			return err
		}
	}
	return nil
}

// NewDupesCommand creates the dupes command.
func NewDupesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DupesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dupes <objects>...",
		Short: "List objects whose signatures cannot be told apart",
		Long: `Group the given objects by precise signature. Members of a group are
indistinguishable by content and can only be placed by references; in a
scan they end up as clique members.

Examples:
  libmap dupes ./libultra
  libmap dupes ./lib --arch arm64 --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDupes(cmd.Context(), opts, args, cmd)
		},
	}

	opts.archFlags.register(cmd)
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "concurrency bound (0 = GOMAXPROCS)")
	return cmd
}

func runDupes(ctx context.Context, opts *DupesOptions, paths []string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := opts.logger()

	profile, err := opts.profile()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid architecture", err)
	}
	corpus, err := loadCorpus(logger, paths)
	if err != nil {
		return err
	}

	sigs, _, err := signature.ExtractAll(ctx, profile, corpus.Objects, signature.ExtractOptions{
		Workers: opts.Workers,
		Logger:  logger,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to extract signatures", err)
	}

	groups := signature.DuplicateGroups(sigs.Sigs)
	if groups == nil {
		groups = [][]ir.FileID{}
	}
	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return f.Success(DupesResult{Groups: groups})
}
