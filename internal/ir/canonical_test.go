package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"file id", FileID("a.o"), `"a.o"`},
		{"int", 42, "42"},
		{"negative int64", int64(-100), "-100"},
		{"uint32", uint32(0x80000400), "2147484672"},
		{"bool", true, "true"},
		{"empty array", []any{}, "[]"},
		{"empty object", map[string]any{}, "{}"},
		{"int slice", []int{0, 4, 8}, "[0,4,8]"},
		{"file ids", []FileID{"a.o", "b.o"}, `["a.o","b.o"]`},
		{"no html escaping", "<a&b>", `"<a&b>"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	obj := map[string]any{
		"zebra": 1,
		"alpha": 2,
		"beta":  map[string]any{"y": 1, "x": 2},
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"beta":{"x":2,"y":1},"zebra":1}`, string(result))
}

func TestMarshalCanonicalUTF16KeyOrder(t *testing.T) {
	// The emoji's leading surrogate (0xD83D) sorts below U+FF21, the
	// reverse of their UTF-8 byte order.
	obj := map[string]any{
		"\uFF21":     1,
		"\U0001F600": 2,
	}
	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":2,\"\uFF21\":1}", string(result))
}

func TestMarshalCanonicalNFC(t *testing.T) {
	result, err := MarshalCanonical("e\u0301")
	require.NoError(t, err)
	assert.Equal(t, "\"\u00e9\"", string(result))
}

func TestMarshalCanonicalLineSeparators(t *testing.T) {
	result, err := MarshalCanonical("a\u2028b\u2029c")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\u2029c\"", string(result))

	// A literal backslash-u sequence stays escaped.
	result, err = MarshalCanonical(`\u2028`)
	require.NoError(t, err)
	assert.Equal(t, `"\\u2028"`, string(result))
}

func TestMarshalCanonicalRejects(t *testing.T) {
	_, err := MarshalCanonical(1.5)
	assert.ErrorContains(t, err, "floats are forbidden")

	_, err = MarshalCanonical(nil)
	assert.ErrorContains(t, err, "null is forbidden")

	_, err = MarshalCanonical(map[string]any{"k": []any{struct{}{}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `value for key "k"`)
	assert.Contains(t, err.Error(), "array[0]")
}

func TestReportCanonicalOmitsEmptySections(t *testing.T) {
	r := &Report{
		BaseAddress: 0x80000400,
		Size:        8,
		Regions: []Region{
			{Start: 0, End: 8, Files: []FileID{"a.o"}, Confidence: ConfidenceCertain},
		},
	}
	result, err := MarshalCanonical(r.Canonical())
	require.NoError(t, err)
	assert.Equal(t,
		`{"base_address":2147484672,"regions":[{"confidence":"certain","end":8,"files":["a.o"],"start":0}],"size":8}`,
		string(result))
}

func TestReportCanonicalDiagnostics(t *testing.T) {
	chain := []Commit{{Seq: 1, File: "a.o", Offset: 0, Size: 4, Reason: ReasonSingleton}}
	r := &Report{
		Size: 8,
		Diagnostics: []*Error{
			NewContradictionError(4, []FileID{"b.o"}, chain, "no candidate left"),
		},
		Commits: chain,
	}
	result, err := MarshalCanonical(r.Canonical())
	require.NoError(t, err)
	assert.Contains(t, string(result), `"code":"CONTRADICTION"`)
	assert.Contains(t, string(result), `"offset":4`)
	assert.Contains(t, string(result), `"chain":[{"file":"a.o","offset":0,"reason":"singleton","seq":1,"size":4}]`)
}
