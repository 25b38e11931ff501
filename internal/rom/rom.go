// Package rom reads console ROM images and raw binaries into the byte
// window analysed for library objects.
//
// A ROM is normalised to big-endian (z64) order, its boot chip is
// identified from the IPL3 checksum, and the boot segment following IPL3
// becomes the analysed window, based at the corrected entrypoint.
package rom

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
)

const (
	// HeaderSize is the ROM header preceding IPL3.
	HeaderSize = 0x40
	// BootStart is the ROM offset of the boot segment.
	BootStart = 0x1000
	// BootSize is the size of the boot segment copied by IPL3.
	BootSize = 0x100000

	entryOffset = 0x8
)

// Format is the byte order a ROM image was dumped in.
type Format string

const (
	// FormatZ64 is native big-endian order.
	FormatZ64 Format = "z64"
	// FormatV64 swaps every 16-bit half.
	FormatV64 Format = "v64"
	// FormatN64 reverses every 32-bit word.
	FormatN64 Format = "n64"
	// FormatBinary marks a raw blob with no header.
	FormatBinary Format = "binary"
)

var (
	// ErrTooSmall is returned for images shorter than header plus IPL3.
	ErrTooSmall = errors.New("rom: image too small")
	// ErrUnknownFormat is returned when the first word is no known magic.
	ErrUnknownFormat = errors.New("rom: unknown byte order")
	// ErrNoVRAM is returned when a raw binary has no base address.
	ErrNoVRAM = errors.New("rom: binary mode needs a vram")
)

// Image is a loaded ROM or binary and the window to analyse.
type Image struct {
	Format Format
	// CIC is the identified boot chip; Unknown when unrecognised or in
	// binary mode.
	CIC CIC
	// Checksum is the CRC-32/CKSUM of IPL3.
	Checksum uint32
	// Entry is the raw header entrypoint.
	Entry uint32
	// BaseAddress is the virtual address of Data[Start].
	BaseAddress uint32
	// Start and End bound the analysed window within Data.
	Start, End int
	// ROMStart is the ROM offset of the window start, for segment output.
	ROMStart uint32
	// Data is the whole image in big-endian order.
	Data []byte
}

// Blob returns the analysed window.
func (im *Image) Blob() []byte {
	return im.Data[im.Start:im.End]
}

// Options tunes loading.
type Options struct {
	// BSSSize trims this many bytes from the end of the window.
	BSSSize int
	// VRAM is required in binary mode and rejected otherwise.
	VRAM *uint32
	// ROMStart is the ROM offset of a binary, used only for reporting.
	ROMStart *uint32
	Logger   *slog.Logger
}

// Load reads a ROM image.
func Load(data []byte, opts Options) (*Image, error) {
	if opts.VRAM != nil || opts.ROMStart != nil {
		return nil, errors.New("rom: vram and rom start only apply to binary mode")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if len(data) < BootStart {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooSmall, len(data))
	}

	format, norm, err := Normalize(data)
	if err != nil {
		return nil, err
	}

	cic, sum, ok := IdentifyCIC(norm[HeaderSize:BootStart])
	if !ok {
		logger.Warn("unknown CIC, using header entrypoint", "checksum", fmt.Sprintf("%#010x", sum))
	}
	entry := binary.BigEndian.Uint32(norm[entryOffset:])

	im := &Image{
		Format:      format,
		CIC:         cic,
		Checksum:    sum,
		Entry:       entry,
		BaseAddress: cic.Entrypoint(entry),
		Start:       BootStart,
		End:         min(BootStart+BootSize, len(norm)),
		ROMStart:    BootStart,
		Data:        norm,
	}
	im.trim(opts.BSSSize)
	logger.Debug("rom loaded",
		"format", format,
		"cic", cic.Name(),
		"entry", fmt.Sprintf("%#010x", entry),
		"base", fmt.Sprintf("%#010x", im.BaseAddress),
		"window", im.End-im.Start)
	return im, nil
}

// Binary wraps a raw blob based at opts.VRAM.
func Binary(data []byte, opts Options) (*Image, error) {
	if opts.VRAM == nil {
		return nil, ErrNoVRAM
	}
	im := &Image{
		Format:      FormatBinary,
		CIC:         Unknown,
		BaseAddress: *opts.VRAM,
		Start:       0,
		End:         len(data),
		Data:        data,
	}
	if opts.ROMStart != nil {
		im.ROMStart = *opts.ROMStart
	}
	im.trim(opts.BSSSize)
	return im, nil
}

func (im *Image) trim(bss int) {
	if bss <= 0 {
		return
	}
	im.End = max(im.Start, im.End-bss)
}

// Normalize detects the byte order from the first word and returns a
// big-endian copy. z64 input is returned unchanged.
func Normalize(data []byte) (Format, []byte, error) {
	if len(data) < 4 {
		return "", nil, fmt.Errorf("%w: %d bytes", ErrTooSmall, len(data))
	}
	switch binary.BigEndian.Uint32(data) {
	case 0x80371240:
		return FormatZ64, data, nil
	case 0x37804012:
		out := make([]byte, len(data)&^1)
		for i := 0; i+1 < len(data); i += 2 {
			out[i], out[i+1] = data[i+1], data[i]
		}
		return FormatV64, out, nil
	case 0x40123780:
		out := make([]byte, len(data)&^3)
		for i := 0; i+3 < len(data); i += 4 {
			binary.BigEndian.PutUint32(out[i:], binary.LittleEndian.Uint32(data[i:]))
		}
		return FormatN64, out, nil
	default:
		return "", nil, fmt.Errorf("%w: %#010x", ErrUnknownFormat, binary.BigEndian.Uint32(data))
	}
}
