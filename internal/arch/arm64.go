package arch

import (
	"encoding/binary"

	"golang.org/x/arch/arm64/arm64asm"
)

// AArch64 ELF relocation types that patch instruction words.
const (
	RAArch64Abs32            uint32 = 258
	RAArch64Prel32           uint32 = 261
	RAArch64LdPrelLo19       uint32 = 273
	RAArch64AdrPrelLo21      uint32 = 274
	RAArch64AdrPrelPgHi21    uint32 = 275
	RAArch64AddAbsLo12Nc     uint32 = 277
	RAArch64Ldst8AbsLo12Nc   uint32 = 278
	RAArch64Tstbr14          uint32 = 279
	RAArch64Condbr19         uint32 = 280
	RAArch64Jump26           uint32 = 282
	RAArch64Call26           uint32 = 283
	RAArch64Ldst16AbsLo12Nc  uint32 = 284
	RAArch64Ldst32AbsLo12Nc  uint32 = 285
	RAArch64Ldst64AbsLo12Nc  uint32 = 286
	RAArch64Ldst128AbsLo12Nc uint32 = 299
)

// arm64FallbackMask is applied to words the decoder rejects (literal pools,
// padding). The low half is set so fallback classes never collide with
// decoded Op values.
const arm64FallbackMask uint32 = 0xFF000000

const (
	immAdr   uint32 = 0x60FFFFE0 // immlo[30:29] immhi[23:5]
	imm19    uint32 = 0x00FFFFE0
	imm14    uint32 = 0x0007FFE0
	imm26    uint32 = 0x03FFFFFF
	imm12    uint32 = 0x003FFC00
	allWords uint32 = 0xFFFFFFFF
)

// ARM64 returns the AArch64 profile. Opcode classes come from the
// instruction decoder's mnemonic, so BL with any displacement shares one
// class.
func ARM64() *Profile {
	p := NewProfile("arm64", binary.LittleEndian, arm64FallbackMask, map[uint32]Reloc{
		RAArch64Abs32:            {Name: "R_AARCH64_ABS32", Mask: allWords},
		RAArch64Prel32:           {Name: "R_AARCH64_PREL32", Mask: allWords},
		RAArch64LdPrelLo19:       {Name: "R_AARCH64_LD_PREL_LO19", Mask: imm19},
		RAArch64AdrPrelLo21:      {Name: "R_AARCH64_ADR_PREL_LO21", Mask: immAdr},
		RAArch64AdrPrelPgHi21:    {Name: "R_AARCH64_ADR_PREL_PG_HI21", Mask: immAdr},
		RAArch64AddAbsLo12Nc:     {Name: "R_AARCH64_ADD_ABS_LO12_NC", Mask: imm12},
		RAArch64Ldst8AbsLo12Nc:   {Name: "R_AARCH64_LDST8_ABS_LO12_NC", Mask: imm12},
		RAArch64Tstbr14:          {Name: "R_AARCH64_TSTBR14", Mask: imm14},
		RAArch64Condbr19:         {Name: "R_AARCH64_CONDBR19", Mask: imm19},
		RAArch64Jump26:           {Name: "R_AARCH64_JUMP26", Mask: imm26},
		RAArch64Call26:           {Name: "R_AARCH64_CALL26", Mask: imm26},
		RAArch64Ldst16AbsLo12Nc:  {Name: "R_AARCH64_LDST16_ABS_LO12_NC", Mask: imm12},
		RAArch64Ldst32AbsLo12Nc:  {Name: "R_AARCH64_LDST32_ABS_LO12_NC", Mask: imm12},
		RAArch64Ldst64AbsLo12Nc:  {Name: "R_AARCH64_LDST64_ABS_LO12_NC", Mask: imm12},
		RAArch64Ldst128AbsLo12Nc: {Name: "R_AARCH64_LDST128_ABS_LO12_NC", Mask: imm12},
	})
	p.classify = classifyARM64
	return p
}

func classifyARM64(word uint32) uint32 {
	var buf [WordSize]byte
	binary.LittleEndian.PutUint32(buf[:], word)
	inst, err := arm64asm.Decode(buf[:])
	if err != nil {
		return word&arm64FallbackMask | 0xFFFF
	}
	return uint32(inst.Op)
}
