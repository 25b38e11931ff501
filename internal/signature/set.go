package signature

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/libmap/internal/arch"
	"github.com/roach88/libmap/internal/ir"
)

// Set holds the signatures of a corpus, sorted by file id.
type Set struct {
	Sigs []*Signature
	byID map[ir.FileID]*Signature
}

// NewSet indexes sigs. The slice is sorted in place by file id.
func NewSet(sigs []*Signature) *Set {
	slices.SortFunc(sigs, func(a, b *Signature) int {
		return strings.Compare(string(a.File), string(b.File))
	})
	s := &Set{Sigs: sigs, byID: make(map[ir.FileID]*Signature, len(sigs))}
	for _, sig := range sigs {
		s.byID[sig.File] = sig
	}
	return s
}

// Get returns the signature of id.
func (s *Set) Get(id ir.FileID) (*Signature, bool) {
	sig, ok := s.byID[id]
	return sig, ok
}

// ExtractOptions tunes ExtractAll.
type ExtractOptions struct {
	// Workers bounds concurrent extraction; zero means GOMAXPROCS.
	Workers int
	Logger  *slog.Logger
}

// ExtractAll extracts every object concurrently. Objects that fail are
// skipped and returned as PARSE_ERROR diagnostics in file id order; the
// returned error is non-nil only when ctx is cancelled.
func ExtractAll(ctx context.Context, p *arch.Profile, objs []*ir.ObjectFile, opts ExtractOptions) (*Set, []*ir.Error, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	sigs := make([]*Signature, len(objs))
	errs := make([]*ir.Error, len(objs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, obj := range objs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			sig, err := Extract(p, obj)
			if err != nil {
				var diag *ir.Error
				if !errors.As(err, &diag) {
					diag = ir.NewParseError(obj.ID, "extraction failed", err)
				}
				errs[i] = diag
				return nil
			}
			sigs[i] = sig
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var (
		kept  []*Signature
		diags []*ir.Error
	)
	for i := range objs {
		if errs[i] != nil {
			logger.Warn("skipping file", "file", errs[i].File, "error", errs[i])
			diags = append(diags, errs[i])
			continue
		}
		kept = append(kept, sigs[i])
	}
	slices.SortFunc(diags, func(a, b *ir.Error) int {
		return strings.Compare(string(a.File), string(b.File))
	})
	logger.Debug("signatures extracted", "kept", len(kept), "skipped", len(diags))
	return NewSet(kept), diags, nil
}

// DuplicateGroups returns the groups of two or more files whose precise
// signatures are identical. Groups are ordered by their first id; members
// are sorted.
func DuplicateGroups(sigs []*Signature) [][]ir.FileID {
	buckets := make(map[uint64][]*Signature)
	for _, s := range sigs {
		buckets[s.PreciseDigest] = append(buckets[s.PreciseDigest], s)
	}

	var groups [][]ir.FileID
	for _, bucket := range buckets {
		// Digest collisions split into exact-equality classes.
		var classes [][]*Signature
		for _, s := range bucket {
			placed := false
			for ci, c := range classes {
				if c[0].SamePrecise(s) {
					classes[ci] = append(c, s)
					placed = true
					break
				}
			}
			if !placed {
				classes = append(classes, []*Signature{s})
			}
		}
		for _, c := range classes {
			if len(c) < 2 {
				continue
			}
			ids := make([]ir.FileID, len(c))
			for i, s := range c {
				ids[i] = s.File
			}
			groups = append(groups, ir.SortFileIDs(ids))
		}
	}
	slices.SortFunc(groups, func(a, b []ir.FileID) int {
		return strings.Compare(string(a[0]), string(b[0]))
	})
	return groups
}

// DuplicatesOf maps each file in a duplicate group to its partners.
func DuplicatesOf(groups [][]ir.FileID) map[ir.FileID][]ir.FileID {
	out := make(map[ir.FileID][]ir.FileID)
	for _, g := range groups {
		for _, id := range g {
			for _, other := range g {
				if other != id {
					out[id] = append(out[id], other)
				}
			}
		}
	}
	return out
}
