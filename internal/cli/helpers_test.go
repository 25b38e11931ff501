package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/libmap/internal/ir"
	"github.com/roach88/libmap/internal/testutil"
)

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "absent.env")))
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

// writeCorpus writes each object as an ELF file named by its id.
func writeCorpus(t *testing.T, objs ...*ir.ObjectFile) string {
	t.Helper()
	dir := t.TempDir()
	for _, o := range objs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, string(o.ID)), testutil.ELFOf(o), 0o644))
	}
	return dir
}

// writeBlob writes the concatenated texts of objs as a raw binary.
func writeBlob(t *testing.T, objs ...*ir.ObjectFile) string {
	t.Helper()
	var blob []byte
	for _, o := range objs {
		blob = append(blob, o.Text...)
	}
	path := filepath.Join(t.TempDir(), "boot.bin")
	require.NoError(t, os.WriteFile(path, blob, 0o644))
	return path
}

// threeObjects are laid out back to back: a.o at 0, b.o at 12, c.o at 28.
func threeObjects() []*ir.ObjectFile {
	return []*ir.ObjectFile{
		testutil.Object("a.o", testutil.Distinct(1, 3), testutil.Defines("fa")),
		testutil.Object("b.o", testutil.Distinct(2, 4), testutil.Defines("fb")),
		testutil.Object("c.o", testutil.Distinct(3, 2), testutil.Defines("fc")),
	}
}
