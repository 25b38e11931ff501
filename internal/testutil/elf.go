package testutil

import (
	"bytes"
	"encoding/binary"
	"strconv"

	"github.com/roach88/libmap/internal/ir"
)

// ELFSpec describes a minimal relocatable ELF32 MIPS object. Every
// defined symbol lands in .text; relocations name their target by symbol.
type ELFSpec struct {
	Text        []byte
	Relocations []ir.Relocation
	Defined     []ir.SymbolRef
	Referenced  []ir.SymbolRef

	// LittleEndian selects ELFDATA2LSB; the default is big endian.
	LittleEndian bool
	// OmitText drops the .text section entirely.
	OmitText bool
	// Init adds an .init section after .rel.text. Defined symbols whose
	// Section is .init land there.
	Init []byte
}

const (
	elf32EhdrSize = 52
	elf32ShdrSize = 40
	elf32SymSize  = 16
	elf32RelSize  = 8

	shtProgbits = 1
	shtSymtab   = 2
	shtStrtab   = 3
	shtRel      = 9

	stbGlobal = 1
	stbWeak   = 2
	sttObject = 1
	sttFunc   = 2

	shnText = 1
)

type strtab struct {
	buf bytes.Buffer
}

func newStrtab() *strtab {
	s := &strtab{}
	s.buf.WriteByte(0)
	return s
}

func (s *strtab) add(name string) uint32 {
	off := uint32(s.buf.Len())
	s.buf.WriteString(name)
	s.buf.WriteByte(0)
	return off
}

type shdr struct {
	Name, Type, Flags, Addr, Offset, Size, Link, Info, Addralign, Entsize uint32
}

// ELF32 encodes spec as a relocatable object readable by debug/elf.
// Section order: null, .text, .rel.text, [.init], .symtab, .strtab,
// .shstrtab.
func ELF32(spec ELFSpec) []byte {
	var order binary.ByteOrder = binary.BigEndian
	dataEnc := byte(2)
	if spec.LittleEndian {
		order = binary.LittleEndian
		dataEnc = 1
	}

	shstr := newStrtab()
	str := newStrtab()

	// Symbol table: null entry, then globals.
	var syms bytes.Buffer
	syms.Write(make([]byte, elf32SymSize))
	index := make(map[string]uint32)
	writeSym := func(s ir.SymbolRef, shndx uint16) {
		if _, ok := index[s.Name]; !ok {
			index[s.Name] = uint32(syms.Len() / elf32SymSize)
		}
		bind := byte(stbGlobal)
		if s.Weak {
			bind = stbWeak
		}
		typ := byte(0)
		switch s.Kind {
		case ir.SymbolFunction:
			typ = sttFunc
		case ir.SymbolData:
			typ = sttObject
		}
		_ = binary.Write(&syms, order, struct {
			Name, Value, Size uint32
			Info, Other       byte
			Shndx             uint16
		}{str.add(s.Name), s.Value, s.Size, bind<<4 | typ, 0, shndx})
	}
	textIdx := uint16(shnText)
	if spec.OmitText {
		textIdx = 0xFFF1 // SHN_ABS
	}
	const initIdx = 3
	for _, s := range spec.Defined {
		if s.Section == ".init" && spec.Init != nil && !spec.OmitText {
			writeSym(s, initIdx)
			continue
		}
		writeSym(s, textIdx)
	}
	for _, s := range spec.Referenced {
		writeSym(s, 0)
	}

	var rels bytes.Buffer
	for _, r := range spec.Relocations {
		_ = binary.Write(&rels, order, [2]uint32{r.Offset, index[r.Symbol]<<8 | r.Type&0xFF})
	}

	type section struct {
		hdr  shdr
		data []byte
	}
	sections := []section{{}}
	if !spec.OmitText {
		sections = append(sections, section{
			hdr:  shdr{Name: shstr.add(".text"), Type: shtProgbits, Flags: 0x6, Addralign: 16},
			data: spec.Text,
		})
	}
	symtabIdx := uint32(len(sections) + 1)
	if !spec.OmitText {
		if spec.Init != nil {
			symtabIdx++
		}
		sections = append(sections, section{
			hdr:  shdr{Name: shstr.add(".rel.text"), Type: shtRel, Link: symtabIdx, Info: shnText, Addralign: 4, Entsize: elf32RelSize},
			data: rels.Bytes(),
		})
		if spec.Init != nil {
			sections = append(sections, section{
				hdr:  shdr{Name: shstr.add(".init"), Type: shtProgbits, Flags: 0x6, Addralign: 4},
				data: spec.Init,
			})
		}
	} else {
		symtabIdx--
	}
	sections = append(sections,
		section{
			hdr:  shdr{Name: shstr.add(".symtab"), Type: shtSymtab, Link: symtabIdx + 1, Info: 1, Addralign: 4, Entsize: elf32SymSize},
			data: syms.Bytes(),
		},
		section{
			hdr:  shdr{Name: shstr.add(".strtab"), Type: shtStrtab, Addralign: 1},
			data: str.buf.Bytes(),
		},
	)
	shstrIdx := len(sections)
	shstrName := shstr.add(".shstrtab")
	sections = append(sections, section{
		hdr:  shdr{Name: shstrName, Type: shtStrtab, Addralign: 1},
		data: shstr.buf.Bytes(),
	})

	var body bytes.Buffer
	off := uint32(elf32EhdrSize)
	for i := 1; i < len(sections); i++ {
		for off%4 != 0 {
			body.WriteByte(0)
			off++
		}
		sections[i].hdr.Offset = off
		sections[i].hdr.Size = uint32(len(sections[i].data))
		body.Write(sections[i].data)
		off += uint32(len(sections[i].data))
	}
	for off%4 != 0 {
		body.WriteByte(0)
		off++
	}
	shoff := off

	var out bytes.Buffer
	out.Write([]byte{0x7F, 'E', 'L', 'F', 1, dataEnc, 1, 0})
	out.Write(make([]byte, 8))
	for _, v := range []any{
		uint16(1), uint16(8), // ET_REL, EM_MIPS
		uint32(1), uint32(0), uint32(0), shoff, uint32(0),
		uint16(elf32EhdrSize), uint16(0), uint16(0), uint16(elf32ShdrSize),
		uint16(len(sections)), uint16(shstrIdx),
	} {
		_ = binary.Write(&out, order, v)
	}
	out.Write(body.Bytes())
	for _, s := range sections {
		_ = binary.Write(&out, order, s.hdr)
	}
	return out.Bytes()
}

// Archive packs members into a System V ar archive. Names longer than 15
// bytes go through a "//" long-name table.
func Archive(members map[string][]byte, order []string) []byte {
	var out, longNames bytes.Buffer
	out.WriteString("!<arch>\n")

	header := func(name string, size int) {
		hdr := make([]byte, 60)
		for i := range hdr {
			hdr[i] = ' '
		}
		copy(hdr[0:16], name)
		copy(hdr[16:28], "0")
		copy(hdr[28:34], "0")
		copy(hdr[34:40], "0")
		copy(hdr[40:48], "644")
		copy(hdr[48:58], strconv.Itoa(size))
		copy(hdr[58:60], "`\n")
		out.Write(hdr)
	}
	pad := func() {
		if out.Len()%2 == 1 {
			out.WriteByte('\n')
		}
	}

	names := make(map[string]string, len(order))
	for _, n := range order {
		if len(n) > 15 {
			names[n] = "/" + strconv.Itoa(longNames.Len())
			longNames.WriteString(n + "/\n")
		} else {
			names[n] = n + "/"
		}
	}
	if longNames.Len() > 0 {
		header("//", longNames.Len())
		out.Write(longNames.Bytes())
		pad()
	}
	for _, n := range order {
		header(names[n], len(members[n]))
		out.Write(members[n])
		pad()
	}
	return out.Bytes()
}
