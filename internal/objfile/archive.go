package objfile

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	arMagic      = "!<arch>\n"
	arHeaderSize = 60
)

// ErrNotArchive is returned when the data does not start with the ar magic.
var ErrNotArchive = errors.New("not an ar archive")

// Member is one file stored in an ar archive.
type Member struct {
	Name string
	Data []byte
}

// IsArchive reports whether data starts with the ar magic.
func IsArchive(data []byte) bool {
	return bytes.HasPrefix(data, []byte(arMagic))
}

// ReadArchive splits an ar archive (System V/GNU or BSD name encoding)
// into its members. Symbol index members are skipped.
func ReadArchive(data []byte) ([]Member, error) {
	if !IsArchive(data) {
		return nil, ErrNotArchive
	}

	var (
		members   []Member
		longNames []byte
	)
	off := len(arMagic)
	for off < len(data) {
		start := off
		if off+arHeaderSize > len(data) {
			return nil, fmt.Errorf("truncated member header at %#x", off)
		}
		hdr := data[off : off+arHeaderSize]
		if string(hdr[58:60]) != "`\n" {
			return nil, fmt.Errorf("bad member header magic at %#x", off)
		}
		size, err := strconv.Atoi(strings.TrimSpace(string(hdr[48:58])))
		if err != nil || size < 0 {
			return nil, fmt.Errorf("bad member size at %#x: %q", off, hdr[48:58])
		}
		body := off + arHeaderSize
		if body+size > len(data) {
			return nil, fmt.Errorf("truncated member at %#x", off)
		}
		content := data[body : body+size]
		rawName := strings.TrimRight(string(hdr[0:16]), " ")

		// Members are 2-byte aligned.
		off = body + size
		if off%2 == 1 {
			off++
		}

		switch {
		case rawName == "/" || rawName == "/SYM64/" || strings.HasPrefix(rawName, "__.SYMDEF"):
			continue
		case rawName == "//":
			longNames = content
			continue
		}

		name, content, err := memberName(rawName, content, longNames)
		if err != nil {
			return nil, fmt.Errorf("member at %#x: %w", start, err)
		}
		if strings.HasPrefix(name, "__.SYMDEF") {
			continue
		}
		members = append(members, Member{Name: name, Data: content})
	}
	return members, nil
}

// memberName resolves GNU long-name references ("/123"), GNU short names
// ("foo.o/") and BSD inline names ("#1/17"). For BSD names the returned
// content has the name prefix stripped.
func memberName(raw string, content, longNames []byte) (string, []byte, error) {
	switch {
	case strings.HasPrefix(raw, "#1/"):
		n, err := strconv.Atoi(raw[3:])
		if err != nil || n < 0 || n > len(content) {
			return "", nil, fmt.Errorf("bad BSD name %q", raw)
		}
		name := strings.TrimRight(string(content[:n]), "\x00")
		return name, content[n:], nil
	case strings.HasPrefix(raw, "/") && len(raw) > 1:
		idx, err := strconv.Atoi(raw[1:])
		if err != nil || idx < 0 || idx >= len(longNames) {
			return "", nil, fmt.Errorf("bad long name reference %q", raw)
		}
		rest := longNames[idx:]
		if end := bytes.IndexByte(rest, '\n'); end >= 0 {
			rest = rest[:end]
		}
		return strings.TrimSuffix(string(rest), "/"), content, nil
	default:
		return strings.TrimSuffix(raw, "/"), content, nil
	}
}
