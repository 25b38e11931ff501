package arch

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource string

// archSpec mirrors #Arch for decoding.
type archSpec struct {
	Name        string               `json:"name"`
	Endian      string               `json:"endian"`
	WordSize    int                  `json:"word_size"`
	OpcodeMask  uint32               `json:"opcode_mask"`
	Relocations map[string]relocSpec `json:"relocations"`
}

type relocSpec struct {
	Type uint32 `json:"type"`
	Mask uint32 `json:"mask"`
}

// LoadError reports an invalid architecture file, with the CUE position
// when one is available.
type LoadError struct {
	Path    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// LoadFile reads a CUE architecture description. The file must define a
// top-level "arch" struct satisfying #Arch:
//
//	arch: {
//		name:        "r4300"
//		opcode_mask: 0xFC000000
//		relocations: R_MIPS_26: {type: 4, mask: 0x03FFFFFF}
//	}
func LoadFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading arch file: %w", err)
	}
	return Load(path, data)
}

// Load compiles and validates a CUE architecture description.
func Load(filename string, data []byte) (*Profile, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compiling arch schema: %w", err)
	}

	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, &LoadError{Path: filename, Message: formatCUEError(err)}
	}

	archVal := v.LookupPath(cue.ParsePath("arch"))
	if !archVal.Exists() {
		return nil, &LoadError{Path: filename, Message: "missing top-level arch field"}
	}

	unified := schema.LookupPath(cue.ParsePath("#Arch")).Unify(archVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, &LoadError{Path: filename, Message: formatCUEError(err)}
	}

	var spec archSpec
	if err := unified.Decode(&spec); err != nil {
		return nil, &LoadError{Path: filename, Message: formatCUEError(err)}
	}
	return spec.profile(filename)
}

func (s archSpec) profile(filename string) (*Profile, error) {
	if s.WordSize != WordSize {
		return nil, &LoadError{Path: filename, Message: fmt.Sprintf("word_size %d unsupported", s.WordSize)}
	}
	order, err := ParseByteOrder(s.Endian)
	if err != nil {
		return nil, &LoadError{Path: filename, Message: err.Error()}
	}

	relocs := make(map[uint32]Reloc, len(s.Relocations))
	for name, r := range s.Relocations {
		if prev, dup := relocs[r.Type]; dup {
			return nil, &LoadError{
				Path:    filename,
				Message: fmt.Sprintf("relocation type %d declared twice (%s, %s)", r.Type, prev.Name, name),
			}
		}
		relocs[r.Type] = Reloc{Name: name, Mask: r.Mask}
	}
	return NewProfile(s.Name, order, s.OpcodeMask, relocs), nil
}

// formatCUEError flattens a CUE error list into one line per error with
// positions.
func formatCUEError(err error) string {
	var msg string
	for i, e := range errors.Errors(err) {
		if i > 0 {
			msg += "; "
		}
		format, args := e.Msg()
		line := fmt.Sprintf(format, args...)
		if pos := e.Position(); pos.IsValid() {
			line = fmt.Sprintf("%d:%d: %s", pos.Line(), pos.Column(), line)
		}
		msg += line
	}
	if msg == "" {
		return err.Error()
	}
	return msg
}
