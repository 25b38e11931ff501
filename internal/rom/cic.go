package rom

import "fmt"

// CIC describes a boot chip variant and how it relocates the header
// entrypoint.
type CIC struct {
	NTSC string
	PAL  string
	// Offset is subtracted from the header entrypoint. Values at or above
	// 0x80000000 are a fixed entrypoint instead.
	Offset uint32
}

// Name joins the regional names, dropping a "-" half.
func (c CIC) Name() string {
	switch {
	case c.NTSC == "-":
		return c.PAL
	case c.PAL == "-":
		return c.NTSC
	default:
		return c.NTSC + " / " + c.PAL
	}
}

// Entrypoint corrects the header entrypoint for this CIC.
func (c CIC) Entrypoint(header uint32) uint32 {
	if c.Offset >= 0x80000000 {
		return c.Offset
	}
	return header - c.Offset
}

// Unknown is reported when the IPL3 checksum matches no known CIC. The
// header entrypoint is used as is.
var Unknown = CIC{NTSC: "unk", PAL: "-"}

// cics maps the CRC-32/CKSUM of IPL3 (ROM[0x40:0x1000]) to its CIC.
var cics = map[uint32]CIC{
	0x0013579C: {NTSC: "6101", PAL: "-"},
	0xD1F2D592: {NTSC: "6102", PAL: "7101"},
	0x27DF61E2: {NTSC: "6103", PAL: "7103", Offset: 0x100000},
	0x229F516C: {NTSC: "6105", PAL: "7105"},
	0xA0DD69F7: {NTSC: "6106", PAL: "7106", Offset: 0x200000},
	0xDAB442CD: {NTSC: "-", PAL: "7102", Offset: 0x80000480},
}

// IdentifyCIC looks up the CIC for an IPL3 image.
func IdentifyCIC(ipl3 []byte) (CIC, uint32, bool) {
	sum := Checksum(ipl3)
	c, ok := cics[sum]
	if !ok {
		return Unknown, sum, false
	}
	return c, sum, true
}

func (c CIC) String() string {
	if c.Offset == 0 {
		return fmt.Sprintf("CIC %s", c.Name())
	}
	return fmt.Sprintf("CIC %s (entry offset %#x)", c.Name(), c.Offset)
}

var cksumTable = func() [256]uint32 {
	const poly = 0x04C11DB7
	var t [256]uint32
	for i := range t {
		c := uint32(i) << 24
		for range 8 {
			if c&0x80000000 != 0 {
				c = c<<1 ^ poly
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return t
}()

// Checksum is CRC-32/CKSUM without the length suffix: MSB-first,
// polynomial 0x04C11DB7, zero initial value, inverted output.
func Checksum(data []byte) uint32 {
	var crc uint32
	for _, b := range data {
		crc = crc<<8 ^ cksumTable[byte(crc>>24)^b]
	}
	return ^crc
}
