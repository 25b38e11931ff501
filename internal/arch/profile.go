// Package arch describes instruction-word layout per target architecture.
//
// A Profile supplies everything the signature extractor needs to know about
// an instruction set: word width and byte order, how to derive the
// opcode-class of a word, and which bits each relocation type may alter.
// Relocation semantics are data, never assumed universal: a relocation type
// missing from the table is an error, not a silent no-op.
package arch

import (
	"encoding/binary"
	"fmt"
	"slices"
	"strings"
)

// WordSize is the instruction width in bytes. Every supported profile uses
// fixed 32-bit instruction words.
const WordSize = 4

// Reloc names one relocation type and the instruction bits it may alter.
type Reloc struct {
	Name string
	Mask uint32
}

// Profile is an immutable architecture description.
type Profile struct {
	Name       string
	ByteOrder  binary.ByteOrder
	OpcodeMask uint32

	relocs   map[uint32]Reloc
	classify func(word uint32) uint32
}

// NewProfile creates a profile whose opcode class is word & opcodeMask.
func NewProfile(name string, order binary.ByteOrder, opcodeMask uint32, relocs map[uint32]Reloc) *Profile {
	p := &Profile{
		Name:       name,
		ByteOrder:  order,
		OpcodeMask: opcodeMask,
		relocs:     make(map[uint32]Reloc, len(relocs)),
	}
	for t, r := range relocs {
		p.relocs[t] = r
	}
	return p
}

// Word decodes the i-th instruction word of code.
func (p *Profile) Word(code []byte, i int) uint32 {
	return p.ByteOrder.Uint32(code[i*WordSize:])
}

// Opcode returns the opcode-class of an instruction word.
func (p *Profile) Opcode(word uint32) uint32 {
	if p.classify != nil {
		return p.classify(word)
	}
	return word & p.OpcodeMask
}

// Altered returns the bits relocation type t may alter.
func (p *Profile) Altered(t uint32) (Reloc, error) {
	r, ok := p.relocs[t]
	if !ok {
		return Reloc{}, fmt.Errorf("arch %s: unknown relocation type %d", p.Name, t)
	}
	return r, nil
}

// RelocTypes returns the known relocation types in ascending order.
func (p *Profile) RelocTypes() []uint32 {
	types := make([]uint32, 0, len(p.relocs))
	for t := range p.relocs {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// Builtin returns a built-in profile by name: "mips" (big endian),
// "mipsel" (little endian) or "arm64".
func Builtin(name string) (*Profile, error) {
	switch strings.ToLower(name) {
	case "mips", "mipsbe", "mips-be":
		return MIPS(binary.BigEndian), nil
	case "mipsel", "mipsle", "mips-le":
		return MIPS(binary.LittleEndian), nil
	case "arm64", "aarch64":
		return ARM64(), nil
	default:
		return nil, fmt.Errorf("unknown architecture %q (want mips, mipsel or arm64)", name)
	}
}

// ParseByteOrder parses "big" or "little".
func ParseByteOrder(s string) (binary.ByteOrder, error) {
	switch strings.ToLower(s) {
	case "big", "be":
		return binary.BigEndian, nil
	case "little", "le":
		return binary.LittleEndian, nil
	default:
		return nil, fmt.Errorf("unknown byte order %q (want big or little)", s)
	}
}

// WithByteOrder returns a copy of p decoding words in order.
func (p *Profile) WithByteOrder(order binary.ByteOrder) *Profile {
	cp := *p
	cp.ByteOrder = order
	return &cp
}
