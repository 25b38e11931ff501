package objfile

import (
	"bytes"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/roach88/libmap/internal/ir"
)

// Corpus is the result of loading candidate objects. Skipped files are
// reported as PARSE_ERROR diagnostics; they never abort a load.
type Corpus struct {
	Objects []*ir.ObjectFile
	Skipped []*ir.Error
}

// Loader reads object files and archives from disk.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a loader. A nil logger means slog.Default().
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load reads every path: object files, archives, or directories searched
// recursively for *.o and *.a. Objects are returned sorted by id.
// An error is returned only when a path cannot be read at all.
func (l *Loader) Load(paths ...string) (*Corpus, error) {
	c := &Corpus{}
	seen := make(map[ir.FileID]int)

	for _, p := range paths {
		files, err := expand(p)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if err := l.loadFile(c, seen, f); err != nil {
				return nil, err
			}
		}
	}

	slices.SortFunc(c.Objects, func(a, b *ir.ObjectFile) int {
		return strings.Compare(string(a.ID), string(b.ID))
	})
	l.logger.Info("corpus loaded", "objects", len(c.Objects), "skipped", len(c.Skipped))
	return c, nil
}

func expand(p string) ([]string, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("reading corpus path: %w", err)
	}
	if !info.IsDir() {
		return []string{p}, nil
	}

	var files []string
	err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".o", ".a":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", p, err)
	}
	slices.Sort(files)
	return files, nil
}

func (l *Loader) loadFile(c *Corpus, seen map[ir.FileID]int, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	base := filepath.Base(path)

	if !IsArchive(data) {
		l.add(c, seen, ir.FileID(base), path, data)
		return nil
	}

	members, err := ReadArchive(data)
	if err != nil {
		l.skip(c, ir.NewParseError(ir.FileID(base), "malformed archive", err))
		return nil
	}
	for _, m := range members {
		l.add(c, seen, ir.FileID(base+":"+m.Name), path, m.Data)
	}
	return nil
}

// add parses one object. Repeated ids get a "#n" suffix so every object
// stays addressable.
func (l *Loader) add(c *Corpus, seen map[ir.FileID]int, id ir.FileID, path string, data []byte) {
	seen[id]++
	if n := seen[id]; n > 1 {
		id = ir.FileID(fmt.Sprintf("%s#%d", id, n))
	}

	obj, err := ReadELF(id, bytes.NewReader(data))
	if err != nil {
		l.skip(c, ir.NewParseError(id, "unreadable object", err))
		return
	}
	obj.Path = path
	c.Objects = append(c.Objects, obj)
}

func (l *Loader) skip(c *Corpus, diag *ir.Error) {
	l.logger.Warn("skipping file", "file", diag.File, "error", diag.Err)
	c.Skipped = append(c.Skipped, diag)
}
