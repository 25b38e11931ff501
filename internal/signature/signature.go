// Package signature extracts relocation-tolerant fingerprints from object
// text.
//
// Every object yields two parallel word sequences of equal length: the
// opcode-class signature (word reduced to its operation-selector bits) and
// the precise signature (word with every bit a relocation may alter
// cleared). The altered-bit mask is kept alongside so blob words can be
// compared under the same mask.
package signature

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/twmb/murmur3"

	"github.com/roach88/libmap/internal/arch"
	"github.com/roach88/libmap/internal/ir"
)

// Instruction is one decoded word of an object's text. Word has the
// relocation-altered bits cleared.
type Instruction struct {
	Word    uint32
	Opcode  uint32
	Altered uint32
}

// Signature is the fingerprint of one object file. It is immutable once
// extracted.
type Signature struct {
	File    ir.FileID
	Opcode  []uint32
	Precise []uint32
	Mask    []uint32

	// Zero is set when every text byte is zero. Zero objects carry no
	// content evidence and are placed only by elimination.
	Zero bool

	// OpcodeDigest and PreciseDigest hash the two sequences for grouping.
	OpcodeDigest  uint64
	PreciseDigest uint64
}

// Len returns the instruction count.
func (s *Signature) Len() int {
	return len(s.Opcode)
}

// Size returns the text length in bytes.
func (s *Signature) Size() int {
	return len(s.Opcode) * arch.WordSize
}

// Instruction returns the i-th decoded instruction.
func (s *Signature) Instruction(i int) Instruction {
	return Instruction{Word: s.Precise[i], Opcode: s.Opcode[i], Altered: s.Mask[i]}
}

// MatchesPrecise reports whether word equals the i-th precise word outside
// the relocation-altered bits.
func (s *Signature) MatchesPrecise(i int, word uint32) bool {
	return word&^s.Mask[i] == s.Precise[i]
}

// SamePrecise reports whether two signatures are identical word for word.
func (s *Signature) SamePrecise(o *Signature) bool {
	return s.PreciseDigest == o.PreciseDigest &&
		slices.Equal(s.Precise, o.Precise) &&
		slices.Equal(s.Mask, o.Mask)
}

// SameOpcode reports whether two signatures share their opcode-class
// sequence.
func (s *Signature) SameOpcode(o *Signature) bool {
	return s.OpcodeDigest == o.OpcodeDigest && slices.Equal(s.Opcode, o.Opcode)
}

// Extract builds the signature of obj under profile p.
//
// Returns a PARSE_ERROR diagnostic when the text length is not a whole
// number of words, when a relocation points outside the text or between
// words, or when a relocation type is missing from the profile.
func Extract(p *arch.Profile, obj *ir.ObjectFile) (*Signature, error) {
	if len(obj.Text) == 0 {
		return nil, ir.NewParseError(obj.ID, "empty text", nil)
	}
	if len(obj.Text)%arch.WordSize != 0 {
		return nil, ir.NewParseError(obj.ID,
			fmt.Sprintf("text length %d is not a multiple of %d", len(obj.Text), arch.WordSize), nil)
	}

	n := len(obj.Text) / arch.WordSize
	sig := &Signature{
		File:    obj.ID,
		Opcode:  make([]uint32, n),
		Precise: make([]uint32, n),
		Mask:    make([]uint32, n),
		Zero:    true,
	}

	for _, r := range obj.Relocations {
		if r.Offset%arch.WordSize != 0 || int(r.Offset) >= len(obj.Text) {
			return nil, ir.NewParseError(obj.ID,
				fmt.Sprintf("relocation at %#x outside instruction stream", r.Offset), nil)
		}
		reloc, err := p.Altered(r.Type)
		if err != nil {
			return nil, ir.NewParseError(obj.ID, "unsupported relocation", err)
		}
		sig.Mask[r.Offset/arch.WordSize] |= reloc.Mask
	}

	for i := 0; i < n; i++ {
		w := p.Word(obj.Text, i)
		if w != 0 {
			sig.Zero = false
		}
		sig.Opcode[i] = p.Opcode(w)
		sig.Precise[i] = w &^ sig.Mask[i]
	}

	sig.OpcodeDigest = digest(sig.Opcode)
	sig.PreciseDigest = digest(sig.Precise, sig.Mask)
	return sig, nil
}

func digest(seqs ...[]uint32) uint64 {
	var buf []byte
	for _, seq := range seqs {
		for _, w := range seq {
			buf = binary.LittleEndian.AppendUint32(buf, w)
		}
	}
	return murmur3.Sum64(buf)
}
