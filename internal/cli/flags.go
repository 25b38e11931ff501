package cli

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/libmap/internal/arch"
	"github.com/roach88/libmap/internal/objfile"
)

// archFlags selects the architecture profile.
type archFlags struct {
	Arch     string
	ArchFile string
	Endian   string
}

func (a *archFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&a.Arch, "arch", "mips", "built-in architecture (mips|mipsel|arm64)")
	cmd.Flags().StringVar(&a.ArchFile, "arch-file", "", "CUE architecture profile (overrides --arch)")
	cmd.Flags().StringVar(&a.Endian, "endian", "", "override the profile byte order (big|little)")
}

// profile resolves the flags to a profile.
func (a *archFlags) profile() (*arch.Profile, error) {
	var (
		p   *arch.Profile
		err error
	)
	if a.ArchFile != "" {
		p, err = arch.LoadFile(a.ArchFile)
	} else {
		p, err = arch.Builtin(a.Arch)
	}
	if err != nil {
		return nil, err
	}
	if a.Endian != "" {
		order, err := arch.ParseByteOrder(a.Endian)
		if err != nil {
			return nil, err
		}
		p = p.WithByteOrder(order)
	}
	return p, nil
}

// loadCorpus reads the candidate objects. A path that cannot be read is a
// command error; malformed objects are skipped and reported.
func loadCorpus(logger *slog.Logger, paths []string) (*objfile.Corpus, error) {
	corpus, err := objfile.NewLoader(logger).Load(paths...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load objects", err)
	}
	return corpus, nil
}

// addrValue is a uint32 flag accepting 0x-prefixed hex. It records
// whether it was set so callers can tell zero from absent.
type addrValue struct {
	v   uint32
	set bool
}

func (a *addrValue) String() string {
	if !a.set {
		return ""
	}
	return fmt.Sprintf("%#x", a.v)
}

func (a *addrValue) Set(s string) error {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return fmt.Errorf("invalid address %q", s)
	}
	a.v, a.set = uint32(v), true
	return nil
}

func (a *addrValue) Type() string { return "addr" }

// ptr returns the value, or nil when the flag was not given.
func (a *addrValue) ptr() *uint32 {
	if !a.set {
		return nil
	}
	v := a.v
	return &v
}
