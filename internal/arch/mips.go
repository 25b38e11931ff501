package arch

import "encoding/binary"

// MIPS ELF relocation types used by statically linked console libraries.
const (
	RMIPS32      uint32 = 2
	RMIPS26      uint32 = 4
	RMIPSHi16    uint32 = 5
	RMIPSLo16    uint32 = 6
	RMIPSGPRel16 uint32 = 7
	RMIPSPC16    uint32 = 10
)

// MIPSOpcodeMask keeps the 6-bit primary opcode field.
const MIPSOpcodeMask uint32 = 0xFC000000

// MIPS returns the MIPS32 profile in the given byte order.
//
// Jump targets occupy the low 26 bits; HI16/LO16 pairs and GP/PC relative
// offsets occupy the 16-bit immediate; R_MIPS_32 rewrites a whole word.
func MIPS(order binary.ByteOrder) *Profile {
	name := "mips"
	if order == binary.LittleEndian {
		name = "mipsel"
	}
	return NewProfile(name, order, MIPSOpcodeMask, map[uint32]Reloc{
		RMIPS32:      {Name: "R_MIPS_32", Mask: 0xFFFFFFFF},
		RMIPS26:      {Name: "R_MIPS_26", Mask: 0x03FFFFFF},
		RMIPSHi16:    {Name: "R_MIPS_HI16", Mask: 0x0000FFFF},
		RMIPSLo16:    {Name: "R_MIPS_LO16", Mask: 0x0000FFFF},
		RMIPSGPRel16: {Name: "R_MIPS_GPREL16", Mask: 0x0000FFFF},
		RMIPSPC16:    {Name: "R_MIPS_PC16", Mask: 0x0000FFFF},
	})
}
