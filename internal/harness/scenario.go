package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/libmap/internal/ir"
	"github.com/roach88/libmap/internal/testutil"
)

// Scenario defines an end-to-end identification test.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Arch is a built-in profile name. Empty means "mips".
	Arch string `yaml:"arch,omitempty"`

	// BaseAddress is the virtual address of the blob start.
	BaseAddress uint32 `yaml:"base_address,omitempty"`

	// Ranker names the tie-break strategy. Empty means most-constrained.
	Ranker string `yaml:"ranker,omitempty"`

	// MaxIterations caps propagation per component. Zero means default.
	MaxIterations int `yaml:"max_iterations,omitempty"`

	// Objects is the candidate corpus.
	Objects []ObjectSpec `yaml:"objects"`

	// Blob lays out the analysed bytes in order.
	Blob []BlobPart `yaml:"blob"`

	// Assertions validate the final report and stored run.
	Assertions []Assertion `yaml:"assertions"`
}

// ObjectSpec describes one synthetic candidate object.
type ObjectSpec struct {
	ID string `yaml:"id"`

	// Seed and Instructions generate a word sequence unique to the seed.
	Seed         int `yaml:"seed,omitempty"`
	Instructions int `yaml:"instructions,omitempty"`

	// Zeros makes an all-zero text of this many bytes.
	Zeros int `yaml:"zeros,omitempty"`

	// Text gives raw big-endian instruction words.
	Text []uint32 `yaml:"text,omitempty"`

	// SameAs copies the text of an object declared earlier.
	SameAs string `yaml:"same_as,omitempty"`

	Defines        []string `yaml:"defines,omitempty"`
	DefinesData    []string `yaml:"defines_data,omitempty"`
	DefinesWeak    []string `yaml:"defines_weak,omitempty"`
	References     []string `yaml:"references,omitempty"`
	ReferencesData []string `yaml:"references_data,omitempty"`
}

// BlobPart is one run of blob bytes: an object's text, zero padding or
// raw words. Flip corrupts a byte of the part after it is laid out.
type BlobPart struct {
	Object string   `yaml:"object,omitempty"`
	Zeros  int      `yaml:"zeros,omitempty"`
	Words  []uint32 `yaml:"words,omitempty"`
	Flip   *Flip    `yaml:"flip,omitempty"`
}

// Flip XORs Mask into the byte at Byte, relative to the part start.
type Flip struct {
	Byte int   `yaml:"byte"`
	Mask uint8 `yaml:"mask"`
}

// Assertion validates the report or the stored run.
type Assertion struct {
	// Type specifies the assertion type:
	// - "region": region at Offset has Confidence and Files
	// - "clique": a clique with exactly Members (and Offsets, if given)
	// - "diagnostic": a diagnostic with Code (and Offset, Chain, File)
	// - "diagnostic_count": exactly Count diagnostics with Code
	// - "commit_order": Files were committed in this relative order
	// - "coverage": regions of Confidence sum to Bytes
	// - "symbol": placed symbol Name has Address
	// - "final_state": query Table and verify expected values
	Type string `yaml:"type"`

	Offset     *int     `yaml:"offset,omitempty"`
	Confidence string   `yaml:"confidence,omitempty"`
	Files      []string `yaml:"files,omitempty"`
	File       string   `yaml:"file,omitempty"`
	Members    []string `yaml:"members,omitempty"`
	Offsets    []int    `yaml:"offsets,omitempty"`
	Code       string   `yaml:"code,omitempty"`
	Chain      []string `yaml:"chain,omitempty"`
	Count      int      `yaml:"count,omitempty"`
	Bytes      int      `yaml:"bytes,omitempty"`
	Name       string   `yaml:"name,omitempty"`
	Address    uint32   `yaml:"address,omitempty"`

	// Table, Where and Expect drive final_state. All Where fields must
	// match exactly; Expect is a subset match.
	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertRegion          = "region"
	AssertClique          = "clique"
	AssertDiagnostic      = "diagnostic"
	AssertDiagnosticCount = "diagnostic_count"
	AssertCommitOrder     = "commit_order"
	AssertCoverage        = "coverage"
	AssertSymbol          = "symbol"
	AssertFinalState      = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// Build materialises the corpus and the blob.
func (s *Scenario) Build() ([]*ir.ObjectFile, []byte, error) {
	byID := make(map[string]*ir.ObjectFile, len(s.Objects))
	objs := make([]*ir.ObjectFile, 0, len(s.Objects))

	for _, spec := range s.Objects {
		var text []byte
		switch {
		case spec.SameAs != "":
			src, ok := byID[spec.SameAs]
			if !ok {
				return nil, nil, fmt.Errorf("object %s: same_as %q is not declared before it", spec.ID, spec.SameAs)
			}
			text = bytes.Clone(src.Text)
		case spec.Zeros > 0:
			text = testutil.Zeros(spec.Zeros)
		case len(spec.Text) > 0:
			text = testutil.Words(spec.Text...)
		default:
			text = testutil.Distinct(spec.Seed, spec.Instructions)
		}

		o := testutil.Object(spec.ID, text,
			testutil.Defines(spec.Defines...),
			testutil.DefinesData(spec.DefinesData...),
			testutil.DefinesWeak(spec.DefinesWeak...),
			testutil.References(spec.References...),
			testutil.ReferencesData(spec.ReferencesData...),
		)
		byID[spec.ID] = o
		objs = append(objs, o)
	}

	var blob []byte
	for i, part := range s.Blob {
		start := len(blob)
		switch {
		case part.Object != "":
			o, ok := byID[part.Object]
			if !ok {
				return nil, nil, fmt.Errorf("blob[%d]: unknown object %q", i, part.Object)
			}
			blob = append(blob, o.Text...)
		case part.Zeros > 0:
			blob = append(blob, testutil.Zeros(part.Zeros)...)
		default:
			blob = append(blob, testutil.Words(part.Words...)...)
		}
		if part.Flip != nil {
			at := start + part.Flip.Byte
			if at >= len(blob) {
				return nil, nil, fmt.Errorf("blob[%d]: flip byte %d is outside the part", i, part.Flip.Byte)
			}
			blob[at] ^= part.Flip.Mask
		}
	}
	return objs, blob, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Objects) == 0 {
		return fmt.Errorf("objects list is required and must be non-empty")
	}

	if len(s.Blob) == 0 {
		return fmt.Errorf("blob list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	seen := make(map[string]bool, len(s.Objects))
	for i, o := range s.Objects {
		if o.ID == "" {
			return fmt.Errorf("objects[%d]: id is required", i)
		}
		if seen[o.ID] {
			return fmt.Errorf("objects[%d]: duplicate id %q", i, o.ID)
		}
		seen[o.ID] = true
		if o.SameAs == "" && o.Zeros == 0 && len(o.Text) == 0 && o.Instructions <= 0 {
			return fmt.Errorf("objects[%d]: one of instructions, zeros, text or same_as is required", i)
		}
	}

	for i, p := range s.Blob {
		set := 0
		if p.Object != "" {
			set++
		}
		if p.Zeros > 0 {
			set++
		}
		if len(p.Words) > 0 {
			set++
		}
		if set != 1 {
			return fmt.Errorf("blob[%d]: exactly one of object, zeros or words is required", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertRegion:
		if a.Offset == nil {
			return fmt.Errorf("assertions[%d]: offset is required for region", index)
		}
		if a.Confidence == "" {
			return fmt.Errorf("assertions[%d]: confidence is required for region", index)
		}
	case AssertClique:
		if len(a.Members) < 2 {
			return fmt.Errorf("assertions[%d]: at least two members are required for clique", index)
		}
	case AssertDiagnostic, AssertDiagnosticCount:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for %s", index, a.Type)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertCommitOrder:
		if len(a.Files) == 0 {
			return fmt.Errorf("assertions[%d]: files list is required for commit_order", index)
		}
	case AssertCoverage:
		if a.Confidence == "" {
			return fmt.Errorf("assertions[%d]: confidence is required for coverage", index)
		}
	case AssertSymbol:
		if a.Name == "" {
			return fmt.Errorf("assertions[%d]: name is required for symbol", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
