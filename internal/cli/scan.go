package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/libmap/internal/analysis"
	"github.com/roach88/libmap/internal/ir"
	"github.com/roach88/libmap/internal/match"
	"github.com/roach88/libmap/internal/rom"
	"github.com/roach88/libmap/internal/store"
)

// ScanOptions holds flags for the scan command.
type ScanOptions struct {
	*RootOptions
	archFlags

	Binary        bool
	VRAM          addrValue
	ROMStart      addrValue
	BSSSize       int
	Ranker        string
	MaxIterations int
	Workers       int
	DBPath        string
	Label         string
	Splat         bool
	Hasm          []string
	SymbolAddrs   string
}

// ScanResult is the outcome of one scan.
type ScanResult struct {
	RunID    string         `json:"run_id,omitempty"`
	Label    string         `json:"label"`
	Arch     string         `json:"arch"`
	Format   rom.Format     `json:"format"`
	CIC      string         `json:"cic,omitempty"`
	ROMStart uint32         `json:"rom_start"`
	Digest   string         `json:"digest"`
	Coverage map[string]int `json:"coverage"`
	Report   *ir.Report     `json:"report"`
}

// RenderText implements TextRenderer.
func (r ScanResult) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "%s (%s, %s", r.Label, r.Arch, r.Format)
	if r.CIC != "" {
		fmt.Fprintf(w, ", CIC %s", r.CIC)
	}
	fmt.Fprintln(w, ")")
	if r.RunID != "" {
		fmt.Fprintf(w, "Run: %s\n", r.RunID)
	}
	fmt.Fprintf(w, "Digest: %s\n\n", r.Digest)
	return renderReport(w, r.Report)
}

// NewScanCommand creates the scan command.
func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scan <image> <objects>...",
		Short: "Identify library objects in a ROM or binary",
		Long: `Scan the boot segment of a ROM image (or a whole raw binary with
--binary) for the candidate objects found in the given files, archives and
directories, and report the resolved regions.

Exit codes:
  0 - Scan completed (diagnostics are part of the report)
  2 - Command error (unreadable image or objects, bad flags)

Examples:
  libmap scan game.z64 ./libultra
  libmap scan boot.bin ./lib --binary --vram 0x80000400
  libmap scan game.z64 ./libultra --db runs.db --label "v1.0"
  libmap scan game.z64 ./libultra --splat --symbol-addrs symbol_addrs.txt`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd.Context(), opts, args[0], args[1:], cmd)
		},
	}

	opts.archFlags.register(cmd)
	cmd.Flags().BoolVar(&opts.Binary, "binary", false, "treat the image as a raw binary (requires --vram)")
	cmd.Flags().Var(&opts.VRAM, "vram", "virtual address of a raw binary")
	cmd.Flags().Var(&opts.ROMStart, "rom-start", "ROM offset of a raw binary, for --splat")
	cmd.Flags().IntVar(&opts.BSSSize, "bss-size", 0, "bytes to trim from the end of the scanned window")
	cmd.Flags().StringVar(&opts.Ranker, "ranker", "most-constrained", "tie-break strategy (most-constrained|call-tree)")
	cmd.Flags().IntVar(&opts.MaxIterations, "max-iterations", 0, "propagation budget per component (0 = default)")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "concurrency bound (0 = GOMAXPROCS)")
	cmd.Flags().StringVar(&opts.DBPath, "db", "", "record the run in this SQLite database")
	cmd.Flags().StringVar(&opts.Label, "label", "", "run label (default: image file name)")
	cmd.Flags().BoolVar(&opts.Splat, "splat", false, "print a splat segment instead of the report")
	cmd.Flags().StringSliceVar(&opts.Hasm, "hasm", nil, "objects emitted as hasm in --splat output (id or name)")
	cmd.Flags().StringVar(&opts.SymbolAddrs, "symbol-addrs", "", "write placed symbols in splat symbol_addrs form to this file")

	return cmd
}

func runScan(ctx context.Context, opts *ScanOptions, imagePath string, objPaths []string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := opts.logger()

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read image", err)
	}

	profile, err := opts.profile()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid architecture", err)
	}

	ranker, err := match.ParseRanker(opts.Ranker)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid ranker", err)
	}

	romOpts := rom.Options{
		BSSSize:  opts.BSSSize,
		VRAM:     opts.VRAM.ptr(),
		ROMStart: opts.ROMStart.ptr(),
		Logger:   logger,
	}
	var img *rom.Image
	if opts.Binary {
		img, err = rom.Binary(data, romOpts)
	} else {
		img, err = rom.Load(data, romOpts)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load image", err)
	}

	corpus, err := loadCorpus(logger, objPaths)
	if err != nil {
		return err
	}

	res, err := analysis.Run(ctx, analysis.Config{
		Profile:       profile,
		BaseAddress:   img.BaseAddress,
		Ranker:        ranker,
		MaxIterations: opts.MaxIterations,
		Workers:       opts.Workers,
		Logger:        logger,
	}, analysis.Input{
		Blob:    img.Blob(),
		Objects: corpus.Objects,
		Skipped: corpus.Skipped,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "analysis failed", err)
	}

	label := opts.Label
	if label == "" {
		label = filepath.Base(imagePath)
	}
	result := ScanResult{
		Label:    label,
		Arch:     profile.Name,
		Format:   img.Format,
		ROMStart: img.ROMStart,
		Digest:   res.Digest,
		Coverage: coverageByName(res.Report),
		Report:   res.Report,
	}
	if img.Format != rom.FormatBinary {
		result.CIC = img.CIC.Name()
	}

	if opts.DBPath != "" {
		run, err := recordRun(ctx, opts.DBPath, store.RunInput{
			Label:  label,
			Arch:   profile.Name,
			Blob:   img.Blob(),
			Report: res.Report,
		})
		if err != nil {
			return err
		}
		result.RunID = run.ID
		logger.Info("run recorded", "run_id", run.ID, "seq", run.Seq, "db", opts.DBPath)
	}

	if opts.SymbolAddrs != "" {
		if err := writeSymbolAddrsFile(opts.SymbolAddrs, res.Report); err != nil {
			return WrapExitError(ExitCommandError, "failed to write symbol addresses", err)
		}
	}
	if opts.Splat {
		hasm := make(map[string]bool, len(opts.Hasm))
		for _, h := range opts.Hasm {
			hasm[h] = true
		}
		return writeSplat(cmd.OutOrStdout(), img.ROMStart, res.Report, hasm)
	}
	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return f.Success(result)
}

func recordRun(ctx context.Context, dbPath string, in store.RunInput) (store.Run, error) {
	st, err := store.Open(dbPath)
	if err != nil {
		return store.Run{}, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	run, err := st.WriteRun(ctx, in)
	if err != nil {
		return store.Run{}, WrapExitError(ExitCommandError, "failed to record run", err)
	}
	return run, nil
}

func writeSymbolAddrsFile(path string, rep *ir.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := writeSymbolAddrs(f, rep); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func coverageByName(rep *ir.Report) map[string]int {
	out := make(map[string]int)
	for c, n := range analysis.Coverage(rep) {
		out[string(c)] = n
	}
	return out
}
