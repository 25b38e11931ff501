// Package testutil builds synthetic corpora and blobs for tests.
//
// All helpers emit big-endian MIPS32 unless stated otherwise, the layout
// the built-in "mips" profile decodes.
package testutil

import (
	"encoding/binary"

	"github.com/roach88/libmap/internal/arch"
	"github.com/roach88/libmap/internal/ir"
)

// Common MIPS encodings.
const (
	Nop   uint32 = 0x00000000
	JrRA  uint32 = 0x03E00008
	opJal uint32 = 0x0C000000
	opLui uint32 = 0x3C000000
	opAdd uint32 = 0x24000000 // addiu
)

// Words encodes instruction words big endian.
func Words(ws ...uint32) []byte {
	out := make([]byte, len(ws)*arch.WordSize)
	for i, w := range ws {
		binary.BigEndian.PutUint32(out[i*arch.WordSize:], w)
	}
	return out
}

// Jal encodes "jal target".
func Jal(target uint32) uint32 {
	return opJal | (target>>2)&0x03FFFFFF
}

// Lui encodes "lui rt, imm".
func Lui(rt, imm uint32) uint32 {
	return opLui | (rt&0x1F)<<16 | imm&0xFFFF
}

// Addiu encodes "addiu rt, rs, imm".
func Addiu(rt, rs, imm uint32) uint32 {
	return opAdd | (rs&0x1F)<<21 | (rt&0x1F)<<16 | imm&0xFFFF
}

// Distinct returns n words whose opcode-class sequence is unique to seed.
// Different seeds never share a first opcode class for seeds below 60, and
// no word is zero.
func Distinct(seed, n int) []byte {
	ws := make([]uint32, n)
	for i := range ws {
		op := uint32((seed+i*7)%60) + 2
		ws[i] = op<<26 | uint32(seed&0x1F)<<16 | uint32(i+1)&0xFFFF
	}
	return Words(ws...)
}

// Zeros returns n zero bytes.
func Zeros(n int) []byte {
	return make([]byte, n)
}

// Concat joins byte slices.
func Concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// ObjectOption configures an object built by Object.
type ObjectOption func(*ir.ObjectFile)

// Defines adds defined function symbols at text offset 0.
func Defines(names ...string) ObjectOption {
	return func(o *ir.ObjectFile) {
		for _, n := range names {
			o.Defined = append(o.Defined, ir.SymbolRef{Name: n, Kind: ir.SymbolFunction, Size: uint32(len(o.Text)), Section: ir.TextSection})
		}
	}
}

// DefinesAt adds one defined function symbol at a text offset.
func DefinesAt(name string, value, size uint32) ObjectOption {
	return func(o *ir.ObjectFile) {
		o.Defined = append(o.Defined, ir.SymbolRef{Name: name, Kind: ir.SymbolFunction, Value: value, Size: size, Section: ir.TextSection})
	}
}

// DefinesData adds defined data symbols.
func DefinesData(names ...string) ObjectOption {
	return func(o *ir.ObjectFile) {
		for _, n := range names {
			o.Defined = append(o.Defined, ir.SymbolRef{Name: n, Kind: ir.SymbolData})
		}
	}
}

// DefinesWeak adds weak function definitions.
func DefinesWeak(names ...string) ObjectOption {
	return func(o *ir.ObjectFile) {
		for _, n := range names {
			o.Defined = append(o.Defined, ir.SymbolRef{Name: n, Kind: ir.SymbolFunction, Weak: true, Section: ir.TextSection})
		}
	}
}

// References adds referenced function symbols.
func References(names ...string) ObjectOption {
	return func(o *ir.ObjectFile) {
		for _, n := range names {
			o.Referenced = append(o.Referenced, ir.SymbolRef{Name: n, Kind: ir.SymbolFunction})
		}
	}
}

// ReferencesData adds referenced data symbols.
func ReferencesData(names ...string) ObjectOption {
	return func(o *ir.ObjectFile) {
		for _, n := range names {
			o.Referenced = append(o.Referenced, ir.SymbolRef{Name: n, Kind: ir.SymbolData})
		}
	}
}

// Relocs adds relocation records.
func Relocs(rs ...ir.Relocation) ObjectOption {
	return func(o *ir.ObjectFile) {
		o.Relocations = append(o.Relocations, rs...)
	}
}

// Object builds an in-memory object record.
func Object(id string, text []byte, opts ...ObjectOption) *ir.ObjectFile {
	o := &ir.ObjectFile{ID: ir.FileID(id), Text: text}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ELFOf encodes an object record as an ELF32 relocatable object.
func ELFOf(o *ir.ObjectFile) []byte {
	return ELF32(ELFSpec{
		Text:        o.Text,
		Relocations: o.Relocations,
		Defined:     o.Defined,
		Referenced:  o.Referenced,
	})
}
