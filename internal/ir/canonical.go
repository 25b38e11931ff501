package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces RFC 8785 canonical JSON.
// This is the ONLY serialization used for report digests and golden
// snapshots, so two runs over identical input produce identical bytes.
//
// Key differences from standard json.Marshal:
// 1. Object keys sorted by UTF-16 code units (not UTF-8 bytes)
// 2. No HTML escaping (< > & are NOT escaped)
// 3. Strings are NFC normalized
// 4. No floats (returns error)
// 5. No null (returns error)
func MarshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := marshalCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func marshalCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		return fmt.Errorf("null is forbidden in canonical JSON")
	case string:
		return marshalCanonicalString(buf, val)
	case FileID:
		return marshalCanonicalString(buf, string(val))
	case int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case uint32:
		buf.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint64:
		buf.WriteString(strconv.FormatUint(val, 10))
	case bool:
		buf.WriteString(strconv.FormatBool(val))
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := marshalCanonical(buf, elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case []string:
		return marshalCanonical(buf, toAnySlice(val))
	case []FileID:
		return marshalCanonical(buf, toAnySlice(val))
	case []int:
		return marshalCanonical(buf, toAnySlice(val))
	case map[string]any:
		return marshalCanonicalObject(buf, val)
	case map[string]string:
		obj := make(map[string]any, len(val))
		for k, s := range val {
			obj[k] = s
		}
		return marshalCanonicalObject(buf, obj)
	case float64, float32:
		return fmt.Errorf("floats are forbidden in canonical JSON: %v", val)
	default:
		return fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
	return nil
}

func toAnySlice[T any](s []T) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

// marshalCanonicalString writes a canonical JSON string with NFC normalization.
// RFC 8785: only control characters, backslash and quote are escaped;
// U+2028 and U+2029 stay literal.
func marshalCanonicalString(buf *bytes.Buffer, s string) error {
	normalized := norm.NFC.String(s)

	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return err
	}
	out := bytes.TrimSuffix(tmp.Bytes(), []byte{'\n'})
	buf.Write(unescapeLineSeparators(out))
	return nil
}

// unescapeLineSeparators turns the \u2028 and \u2029 escapes emitted by
// encoding/json back into literal characters. An escape preceded by an odd
// number of backslashes is literal text and is left alone.
func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if i+6 <= len(data) && data[i] == '\\' && data[i+1] == 'u' &&
			data[i+2] == '2' && data[i+3] == '0' && data[i+4] == '2' &&
			(data[i+5] == '8' || data[i+5] == '9') {
			backslashes := 0
			for j := len(out) - 1; j >= 0 && out[j] == '\\'; j-- {
				backslashes++
			}
			if backslashes%2 == 0 {
				if data[i+5] == '8' {
					out = append(out, "\u2028"...)
				} else {
					out = append(out, "\u2029"...)
				}
				i += 5
				continue
			}
		}
		out = append(out, data[i])
	}
	return out
}

func marshalCanonicalObject(buf *bytes.Buffer, obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := marshalCanonicalString(buf, k); err != nil {
			return fmt.Errorf("key %q: %w", k, err)
		}
		buf.WriteByte(':')
		if err := marshalCanonical(buf, obj[k]); err != nil {
			return fmt.Errorf("value for key %q: %w", k, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

// compareKeysRFC8785 compares strings using UTF-16 code unit ordering
// as required by RFC 8785 (Canonical JSON).
// Go's default string comparison uses UTF-8 which produces DIFFERENT order.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	return slices.Compare(a16, b16)
}

// Canonical converts the report to the value tree consumed by
// MarshalCanonical. Empty optional sections are omitted.
func (r *Report) Canonical() map[string]any {
	regions := make([]any, len(r.Regions))
	for i, reg := range r.Regions {
		m := map[string]any{
			"start":      reg.Start,
			"end":        reg.End,
			"confidence": string(reg.Confidence),
		}
		if len(reg.Files) > 0 {
			m["files"] = reg.Files
		}
		regions[i] = m
	}

	out := map[string]any{
		"base_address": r.BaseAddress,
		"size":         r.Size,
		"regions":      regions,
	}

	if len(r.Cliques) > 0 {
		cliques := make([]any, len(r.Cliques))
		for i, c := range r.Cliques {
			m := map[string]any{
				"start":   c.Start,
				"end":     c.End,
				"offsets": c.Offsets,
				"members": c.Members,
			}
			if len(c.Ranked) > 0 {
				m["ranked"] = c.Ranked
			}
			cliques[i] = m
		}
		out["cliques"] = cliques
	}

	if len(r.Diagnostics) > 0 {
		diags := make([]any, len(r.Diagnostics))
		for i, d := range r.Diagnostics {
			diags[i] = d.Canonical()
		}
		out["diagnostics"] = diags
	}

	if len(r.Commits) > 0 {
		commits := make([]any, len(r.Commits))
		for i, c := range r.Commits {
			commits[i] = c.Canonical()
		}
		out["commits"] = commits
	}

	if len(r.Symbols) > 0 {
		syms := make([]any, len(r.Symbols))
		for i, s := range r.Symbols {
			m := map[string]any{
				"name":    s.Name,
				"address": s.Address,
				"size":    s.Size,
				"file":    s.File,
			}
			if s.Referenced {
				m["referenced"] = true
			}
			syms[i] = m
		}
		out["symbols"] = syms
	}

	if len(r.NotFound) > 0 {
		out["not_found"] = r.NotFound
	}
	return out
}

// Canonical converts a commit to its canonical value tree.
func (c Commit) Canonical() map[string]any {
	m := map[string]any{
		"seq":    c.Seq,
		"file":   c.File,
		"offset": c.Offset,
		"size":   c.Size,
		"reason": string(c.Reason),
	}
	if c.Symbol != "" {
		m["symbol"] = c.Symbol
	}
	if c.Via != "" {
		m["via"] = c.Via
	}
	return m
}

// Canonical converts a diagnostic to its canonical value tree.
func (e *Error) Canonical() map[string]any {
	m := map[string]any{
		"code":    string(e.Code),
		"message": e.Message,
	}
	if e.File != "" {
		m["file"] = e.File
	}
	if len(e.Files) > 0 {
		m["files"] = e.Files
	}
	if e.Symbol != "" {
		m["symbol"] = e.Symbol
	}
	if e.Code == ErrCodeContradiction {
		m["offset"] = e.Offset
	}
	if len(e.Chain) > 0 {
		chain := make([]any, len(e.Chain))
		for i, c := range e.Chain {
			chain[i] = c.Canonical()
		}
		m["chain"] = chain
	}
	if len(e.Details) > 0 {
		m["details"] = e.Details
	}
	return m
}
