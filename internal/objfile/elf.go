// Package objfile reads relocatable ELF objects and ar archives into
// ir.ObjectFile records.
//
// Only the .text section, its relocation section and the global symbol
// table are read. Local symbols never cross file boundaries; they only
// name relocation targets.
package objfile

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/libmap/internal/ir"
)

// Errors returned for objects that cannot contribute a signature.
var (
	ErrNoText    = errors.New("no .text section")
	ErrEmptyText = errors.New("empty .text section")
	ErrNotObject = errors.New("not a relocatable object")
)

// ReadELF parses one relocatable ELF object.
func ReadELF(id ir.FileID, r io.ReaderAt) (*ir.ObjectFile, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("parsing ELF: %w", err)
	}
	defer f.Close()

	if f.Type != elf.ET_REL {
		return nil, fmt.Errorf("%w: type %s", ErrNotObject, f.Type)
	}

	textIdx := -1
	for i, s := range f.Sections {
		if s.Name == ".text" && s.Type == elf.SHT_PROGBITS {
			textIdx = i
			break
		}
	}
	if textIdx < 0 {
		return nil, ErrNoText
	}
	text, err := f.Sections[textIdx].Data()
	if err != nil {
		return nil, fmt.Errorf("reading .text: %w", err)
	}
	if len(text) == 0 {
		return nil, ErrEmptyText
	}

	syms, err := f.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, fmt.Errorf("reading symbols: %w", err)
	}

	relocs, err := readRelocations(f, textIdx, targetNames(f, syms))
	if err != nil {
		return nil, err
	}

	obj := &ir.ObjectFile{
		ID:          id,
		Text:        text,
		Relocations: relocs,
	}
	readSymbols(f, syms, obj)
	return obj, nil
}

// targetNames maps symbol table indexes to relocation target names.
// Section symbols are named after their section.
func targetNames(f *elf.File, syms []elf.Symbol) func(uint32) string {
	return func(idx uint32) string {
		// debug/elf drops the null entry at index 0.
		if idx == 0 || int(idx) > len(syms) {
			return ""
		}
		s := syms[idx-1]
		if elf.ST_TYPE(s.Info) == elf.STT_SECTION && int(s.Section) < len(f.Sections) {
			return f.Sections[s.Section].Name
		}
		return s.Name
	}
}

// readRelocations decodes every REL/RELA section that applies to the text
// section at index textIdx.
func readRelocations(f *elf.File, textIdx int, name func(uint32) string) ([]ir.Relocation, error) {
	var out []ir.Relocation
	for _, s := range f.Sections {
		if s.Type != elf.SHT_REL && s.Type != elf.SHT_RELA {
			continue
		}
		if int(s.Info) != textIdx {
			continue
		}
		data, err := s.Data()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", s.Name, err)
		}
		relocs, err := decodeRelocations(f.Class, f.ByteOrder, s.Type, data, name)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", s.Name, err)
		}
		out = append(out, relocs...)
	}
	return out, nil
}

func decodeRelocations(class elf.Class, order binary.ByteOrder, typ elf.SectionType, data []byte, name func(uint32) string) ([]ir.Relocation, error) {
	rd := bytes.NewReader(data)
	var out []ir.Relocation

	switch {
	case class == elf.ELFCLASS32 && typ == elf.SHT_REL:
		recs := make([]elf.Rel32, len(data)/8)
		if err := binary.Read(rd, order, recs); err != nil {
			return nil, err
		}
		for _, r := range recs {
			out = append(out, ir.Relocation{Offset: r.Off, Type: elf.R_TYPE32(r.Info), Symbol: name(elf.R_SYM32(r.Info))})
		}
	case class == elf.ELFCLASS32 && typ == elf.SHT_RELA:
		recs := make([]elf.Rela32, len(data)/12)
		if err := binary.Read(rd, order, recs); err != nil {
			return nil, err
		}
		for _, r := range recs {
			out = append(out, ir.Relocation{Offset: r.Off, Type: elf.R_TYPE32(r.Info), Symbol: name(elf.R_SYM32(r.Info)), Addend: int64(r.Addend)})
		}
	case class == elf.ELFCLASS64 && typ == elf.SHT_REL:
		recs := make([]elf.Rel64, len(data)/16)
		if err := binary.Read(rd, order, recs); err != nil {
			return nil, err
		}
		for _, r := range recs {
			out = append(out, ir.Relocation{Offset: uint32(r.Off), Type: elf.R_TYPE64(r.Info), Symbol: name(elf.R_SYM64(r.Info))})
		}
	case class == elf.ELFCLASS64 && typ == elf.SHT_RELA:
		recs := make([]elf.Rela64, len(data)/24)
		if err := binary.Read(rd, order, recs); err != nil {
			return nil, err
		}
		for _, r := range recs {
			out = append(out, ir.Relocation{Offset: uint32(r.Off), Type: elf.R_TYPE64(r.Info), Symbol: name(elf.R_SYM64(r.Info)), Addend: r.Addend})
		}
	default:
		return nil, fmt.Errorf("unsupported ELF class %s", class)
	}
	return out, nil
}

// readSymbols fills the defined and referenced global symbol sets.
func readSymbols(f *elf.File, syms []elf.Symbol, obj *ir.ObjectFile) {
	for _, s := range syms {
		bind := elf.ST_BIND(s.Info)
		if bind != elf.STB_GLOBAL && bind != elf.STB_WEAK {
			continue
		}
		if s.Name == "" {
			continue
		}
		ref := ir.SymbolRef{
			Name: s.Name,
			Kind: symbolKind(elf.ST_TYPE(s.Info)),
			Weak: bind == elf.STB_WEAK,
		}
		if s.Section == elf.SHN_UNDEF {
			obj.Referenced = append(obj.Referenced, ref)
			continue
		}
		ref.Value = uint32(s.Value)
		ref.Size = uint32(s.Size)
		if int(s.Section) < len(f.Sections) {
			ref.Section = f.Sections[s.Section].Name
		}
		obj.Defined = append(obj.Defined, ref)
	}
}

func symbolKind(t elf.SymType) ir.SymbolKind {
	switch t {
	case elf.STT_FUNC:
		return ir.SymbolFunction
	case elf.STT_OBJECT:
		return ir.SymbolData
	default:
		return ir.SymbolUnknown
	}
}
