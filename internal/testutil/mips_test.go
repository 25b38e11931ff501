package testutil

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/libmap/internal/arch"
)

func TestWordsBigEndian(t *testing.T) {
	assert.Equal(t, []byte{0x03, 0xE0, 0x00, 0x08}, Words(JrRA))
}

func TestEncodings(t *testing.T) {
	assert.Equal(t, uint32(0x0C00048D), Jal(0x80001234))
	assert.Equal(t, uint32(0x3C048000), Lui(4, 0x8000))
	assert.Equal(t, uint32(0x24840010), Addiu(4, 4, 0x10))
}

func TestDistinctFirstOpcodeUnique(t *testing.T) {
	p := arch.MIPS(binary.BigEndian)
	seen := make(map[uint32]int)
	for seed := 0; seed < 60; seed++ {
		code := Distinct(seed, 3)
		op := p.Opcode(p.Word(code, 0))
		prev, dup := seen[op]
		assert.False(t, dup, "seeds %d and %d share a first opcode", prev, seed)
		seen[op] = seed

		for i := 0; i < 3; i++ {
			assert.NotZero(t, p.Word(code, i))
		}
	}
}

func TestObjectOptions(t *testing.T) {
	o := Object("a.o", Distinct(1, 2), Defines("f"), References("g"), ReferencesData("d"))

	assert.Equal(t, "a.o", string(o.ID))
	assert.Len(t, o.Defined, 1)
	assert.Equal(t, uint32(8), o.Defined[0].Size)
	assert.Len(t, o.Referenced, 2)
}
