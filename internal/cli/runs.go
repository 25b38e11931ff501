package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/libmap/internal/ir"
	"github.com/roach88/libmap/internal/store"
)

// DefaultDBPath is the run history database used when --db is not given.
const DefaultDBPath = "libmap.db"

// RunsResult lists stored runs in seq order.
type RunsResult struct {
	Runs []store.Run `json:"runs"`
}

// RenderText implements TextRenderer.
func (r RunsResult) RenderText(w io.Writer) error {
	if len(r.Runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tID\tLABEL\tARCH\tSIZE\tREGIONS\tCLIQUES\tDIAGNOSTICS")
	for _, run := range r.Runs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			run.Seq, run.ID, run.Label, run.Arch, humanize.IBytes(uint64(run.Size)),
			run.Regions, run.Cliques, run.Diagnostics)
	}
	return tw.Flush()
}

// ShowResult is a replayed run.
type ShowResult struct {
	Run    store.Run  `json:"run"`
	Report *ir.Report `json:"report,omitempty"`

	// Diagnostics is set instead of Report when filtering by code.
	Diagnostics []*ir.Error `json:"diagnostics,omitempty"`
}

// RenderText implements TextRenderer.
func (r ShowResult) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "Run %s (#%d) %s [%s]\n", r.Run.ID, r.Run.Seq, r.Run.Label, r.Run.Arch)
	fmt.Fprintf(w, "Digest: %s\n\n", r.Run.ReportDigest)
	if r.Report != nil {
		return renderReport(w, r.Report)
	}
	if len(r.Diagnostics) == 0 {
		_, err := fmt.Fprintln(w, "No matching diagnostics.")
		return err
	}
	for _, d := range r.Diagnostics {
		renderDiagnostic(w, d)
	}
	return nil
}

func openStore(path string) (*store.Store, error) {
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded scan runs",
		Long: `List the runs recorded with scan --db, oldest first.

Examples:
  libmap runs --db runs.db
  libmap runs --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.ListRuns(contextOf(cmd))
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list runs", err)
			}
			f := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return f.Success(RunsResult{Runs: runs})
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", DefaultDBPath, "run history database")
	return cmd
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		dbPath string
		code   string
	)

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Replay a recorded run",
		Long: `Print a recorded run's report. The stored report is re-digested and
must match the digest recorded with the run. A unique id prefix is enough.

Exit codes:
  0 - Report replayed
  1 - Stored report no longer matches its digest
  2 - Command error (database or run not found, ambiguous prefix)

Examples:
  libmap show 0190a3c1
  libmap show 0190a3c1 --code CONTRADICTION`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()
			return runShow(contextOf(cmd), st, rootOpts, args[0], ir.ErrorCode(code), cmd)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", DefaultDBPath, "run history database")
	cmd.Flags().StringVar(&code, "code", "", "print only diagnostics with this code")
	return cmd
}

func runShow(ctx context.Context, st *store.Store, opts *RootOptions, idOrPrefix string, code ir.ErrorCode, cmd *cobra.Command) error {
	run, err := st.ReadRun(ctx, idOrPrefix)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find run", err)
	}

	result := ShowResult{Run: run}
	if code != "" {
		diags, err := st.ReadDiagnostics(ctx, run.ID, code)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read diagnostics", err)
		}
		result.Diagnostics = diags
	} else {
		rep, err := st.ReadReport(ctx, run.ID)
		if errors.Is(err, store.ErrDigestMismatch) {
			return WrapExitError(ExitFailure, "stored report does not replay", err)
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read report", err)
		}
		result.Report = rep
	}

	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return f.Success(result)
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
