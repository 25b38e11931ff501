package boundary

import (
	"slices"

	"github.com/roach88/libmap/internal/arch"
	"github.com/roach88/libmap/internal/ir"
)

// opJ is the primary opcode of a plain MIPS jump. Compilers emit j for
// branches within a function, so its target names no symbol.
const opJ = 0x02

// hiPart is an R_MIPS_HI16 site waiting for the LO16 that completes it.
type hiPart struct {
	symbol string
	value  uint32
	addend int64
}

// referencedSymbols recovers the addresses of the symbols a certain region
// references by reading its relocated words back out of the blob. Call
// targets come from R_MIPS_26 sites other than plain jumps; other
// addresses come from HI16/LO16 pairs, several HI16 sites sharing one
// LO16. Implicit addends left in the object's own words and explicit RELA
// addends are subtracted. Profiles without MIPS relocation names yield
// nothing.
func referencedSymbols(p *arch.Profile, r ir.Region, obj *ir.ObjectFile, blob []byte, base uint32) []ir.PlacedSymbol {
	if p == nil {
		return nil
	}
	var (
		out     []ir.PlacedSymbol
		pending []hiPart
	)
	emit := func(name string, addr uint32) {
		out = append(out, ir.PlacedSymbol{Name: name, Address: addr, File: obj.ID, Referenced: true})
	}

	for _, rel := range obj.Relocations {
		off := int(rel.Offset)
		if rel.Symbol == "" || off%arch.WordSize != 0 || off+arch.WordSize > len(obj.Text) || r.Start+off+arch.WordSize > r.End {
			continue
		}
		kind, err := p.Altered(rel.Type)
		if err != nil {
			continue
		}
		got := p.ByteOrder.Uint32(blob[r.Start+off:])
		own := p.ByteOrder.Uint32(obj.Text[off:])

		switch kind.Name {
		case "R_MIPS_26":
			if got>>26 == opJ {
				continue
			}
			pc := base + uint32(r.Start+off) + arch.WordSize
			target := pc&0xF0000000 | ((got-own)&0x03FFFFFF)<<2
			emit(rel.Symbol, target-uint32(rel.Addend))
		case "R_MIPS_HI16":
			pending = append(pending, hiPart{
				symbol: rel.Symbol,
				value:  (got&0xFFFF)<<16 - (own&0xFFFF)<<16,
				addend: rel.Addend,
			})
		case "R_MIPS_LO16":
			lo := sext16(got) - sext16(own)
			pending = slices.DeleteFunc(pending, func(h hiPart) bool {
				if h.symbol != rel.Symbol {
					return false
				}
				emit(h.symbol, h.value+lo-uint32(h.addend))
				return true
			})
		}
	}
	return out
}

func sext16(w uint32) uint32 {
	return uint32(int32(int16(w & 0xFFFF)))
}
