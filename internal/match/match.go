// Package match scores blob windows against corpus signatures.
//
// Alignment is instruction-word granular only. A scan runs in two stages:
// a rough stage requiring full opcode-class equality, then a precise stage
// requiring equality outside relocation-altered bits. Precise matches seed
// the propagator; rough-only matches are kept as near-miss evidence.
package match

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/libmap/internal/arch"
	"github.com/roach88/libmap/internal/ir"
	"github.com/roach88/libmap/internal/signature"
)

// FullScore is the opcode-mode score of a window whose every opcode class
// matches. Scores are integer parts per million.
const FullScore = 1_000_000

// DefaultNearMiss is the opcode score at or above which a precise failure
// is reported as a near miss rather than absence.
const DefaultNearMiss = 750_000

// Mode selects the scoring rule.
type Mode int

const (
	// ModeOpcode scores the fraction of matching opcode classes.
	ModeOpcode Mode = iota
	// ModePrecise is binary: every word must match outside masked bits.
	ModePrecise
)

func (m Mode) String() string {
	if m == ModePrecise {
		return "precise"
	}
	return "opcode"
}

// Candidate is one (file, offset) hypothesis with its score.
type Candidate struct {
	File    ir.FileID `json:"file"`
	Offset  int       `json:"offset"`
	Size    int       `json:"size"`
	Score   int       `json:"score"`
	Precise bool      `json:"precise"`
}

// End returns the exclusive end offset.
func (c Candidate) End() int { return c.Offset + c.Size }

// Overlaps reports whether two candidates share a byte.
func (c Candidate) Overlaps(o Candidate) bool {
	return c.Offset < o.End() && o.Offset < c.End()
}

type memoKey struct {
	file ir.FileID
	word int
}

// Matcher scores one blob against one signature set. It is safe for
// concurrent use; the blob and signatures are never modified.
type Matcher struct {
	profile *arch.Profile
	sigs    *signature.Set
	blob    []byte
	words   []uint32
	opcodes []uint32
	byFirst map[uint32][]int

	memo    *lru.Cache[memoKey, int]
	workers int
	logger  *slog.Logger
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithWorkers bounds scan concurrency; zero means GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(m *Matcher) { m.workers = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Matcher) { m.logger = l }
}

// DefaultMemoSize bounds the opcode-score memo.
const DefaultMemoSize = 8192

// New decodes blob into words and indexes it by opcode class. Trailing
// bytes that do not fill a word are never matched.
func New(p *arch.Profile, sigs *signature.Set, blob []byte, opts ...Option) (*Matcher, error) {
	m := &Matcher{
		profile: p,
		sigs:    sigs,
		blob:    blob,
		byFirst: make(map[uint32][]int),
		workers: runtime.GOMAXPROCS(0),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.workers <= 0 {
		m.workers = runtime.GOMAXPROCS(0)
	}

	memo, err := lru.New[memoKey, int](DefaultMemoSize)
	if err != nil {
		return nil, fmt.Errorf("creating score memo: %w", err)
	}
	m.memo = memo

	n := len(blob) / arch.WordSize
	m.words = make([]uint32, n)
	m.opcodes = make([]uint32, n)
	for i := 0; i < n; i++ {
		w := p.Word(blob, i)
		m.words[i] = w
		m.opcodes[i] = p.Opcode(w)
		m.byFirst[m.opcodes[i]] = append(m.byFirst[m.opcodes[i]], i)
	}
	return m, nil
}

// Blob returns the analysed bytes.
func (m *Matcher) Blob() []byte { return m.blob }

// Words returns the number of whole instruction words in the blob.
func (m *Matcher) Words() int { return len(m.words) }

// Signatures returns the signature set.
func (m *Matcher) Signatures() *signature.Set { return m.sigs }

// fits reports whether sig fits at word offset w.
func (m *Matcher) fits(sig *signature.Signature, w int) bool {
	return w >= 0 && w+sig.Len() <= len(m.words)
}

// OpcodeScore returns the fraction, in parts per million, of sig's opcode
// classes matching the blob at byte offset off. Misaligned or
// out-of-range offsets score zero.
func (m *Matcher) OpcodeScore(sig *signature.Signature, off int) int {
	if off%arch.WordSize != 0 || sig.Len() == 0 {
		return 0
	}
	w := off / arch.WordSize
	if !m.fits(sig, w) {
		return 0
	}
	key := memoKey{file: sig.File, word: w}
	if v, ok := m.memo.Get(key); ok {
		return v
	}
	same := 0
	for i, op := range sig.Opcode {
		if m.opcodes[w+i] == op {
			same++
		}
	}
	score := same * FullScore / sig.Len()
	m.memo.Add(key, score)
	return score
}

// PreciseMatch reports whether every word of sig equals the blob at byte
// offset off outside relocation-altered bits.
func (m *Matcher) PreciseMatch(sig *signature.Signature, off int) bool {
	if off%arch.WordSize != 0 {
		return false
	}
	w := off / arch.WordSize
	if !m.fits(sig, w) {
		return false
	}
	for i := range sig.Precise {
		if !sig.MatchesPrecise(i, m.words[w+i]) {
			return false
		}
	}
	return true
}

// PreciseMismatches counts the words of sig that differ from the blob at
// byte offset off outside relocation-altered bits. It returns -1 when sig
// does not fit there.
func (m *Matcher) PreciseMismatches(sig *signature.Signature, off int) int {
	if off%arch.WordSize != 0 {
		return -1
	}
	w := off / arch.WordSize
	if !m.fits(sig, w) {
		return -1
	}
	n := 0
	for i := range sig.Precise {
		if !sig.MatchesPrecise(i, m.words[w+i]) {
			n++
		}
	}
	return n
}

// IsZero reports whether blob bytes [off, off+size) are all zero.
func (m *Matcher) IsZero(off, size int) bool {
	if off < 0 || off+size > len(m.blob) {
		return false
	}
	for _, b := range m.blob[off : off+size] {
		if b != 0 {
			return false
		}
	}
	return true
}

// Score rates sig at byte offset off in the given mode.
func (m *Matcher) Score(sig *signature.Signature, off int, mode Mode) Candidate {
	c := Candidate{File: sig.File, Offset: off, Size: sig.Size()}
	switch mode {
	case ModePrecise:
		if m.PreciseMatch(sig, off) {
			c.Score = FullScore
			c.Precise = true
		}
	default:
		c.Score = m.OpcodeScore(sig, off)
		c.Precise = c.Score == FullScore && m.PreciseMatch(sig, off)
	}
	return c
}

// Candidates scores every non-zero signature that fits at byte offset off
// and returns those scoring at least minScore, best first.
func (m *Matcher) Candidates(off int, mode Mode, minScore int, rc *RankContext, r Ranker) []Candidate {
	var out []Candidate
	for _, sig := range m.sigs.Sigs {
		if sig.Zero {
			continue
		}
		c := m.Score(sig, off, mode)
		if c.Score > 0 && c.Score >= minScore {
			out = append(out, c)
		}
	}
	Rank(rc, r, out)
	return out
}

// ScanResult holds every word-aligned occurrence of every non-zero
// signature, sorted by offset then file id.
type ScanResult struct {
	// Matches are precise matches.
	Matches []Candidate
	// NearMisses matched every opcode class but failed the precise stage.
	NearMisses []Candidate
}

// ByFile groups precise matches per file.
func (r *ScanResult) ByFile() map[ir.FileID][]Candidate {
	out := make(map[ir.FileID][]Candidate)
	for _, c := range r.Matches {
		out[c.File] = append(out[c.File], c)
	}
	return out
}

// Scan finds every occurrence of every non-zero signature. Signatures are
// scanned concurrently; results are merged in (offset, file) order so the
// output does not depend on scheduling.
func (m *Matcher) Scan(ctx context.Context) (*ScanResult, error) {
	sigs := m.sigs.Sigs
	matches := make([][]Candidate, len(sigs))
	misses := make([][]Candidate, len(sigs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for i, sig := range sigs {
		if sig.Zero || sig.Len() == 0 {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			matches[i], misses[i] = m.scanOne(sig)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &ScanResult{
		Matches:    merge(matches),
		NearMisses: merge(misses),
	}
	m.logger.Debug("scan complete",
		"words", len(m.words),
		"signatures", len(sigs),
		"matches", len(res.Matches),
		"near_misses", len(res.NearMisses))
	return res, nil
}

func (m *Matcher) scanOne(sig *signature.Signature) (hits, misses []Candidate) {
	for _, w := range m.byFirst[sig.Opcode[0]] {
		if !m.fits(sig, w) {
			break
		}
		rough := true
		for i := 1; i < sig.Len(); i++ {
			if m.opcodes[w+i] != sig.Opcode[i] {
				rough = false
				break
			}
		}
		if !rough {
			continue
		}
		off := w * arch.WordSize
		c := Candidate{File: sig.File, Offset: off, Size: sig.Size(), Score: FullScore}
		if m.PreciseMatch(sig, off) {
			c.Precise = true
			hits = append(hits, c)
		} else {
			misses = append(misses, c)
		}
	}
	return hits, misses
}

func merge(parts [][]Candidate) []Candidate {
	var out []Candidate
	for _, p := range parts {
		out = append(out, p...)
	}
	SortByOffset(out)
	return out
}

// SortByOffset orders candidates by offset then file id.
func SortByOffset(cs []Candidate) {
	slices.SortFunc(cs, func(a, b Candidate) int {
		if a.Offset != b.Offset {
			return a.Offset - b.Offset
		}
		return strings.Compare(string(a.File), string(b.File))
	})
}
