package harness

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/libmap/internal/analysis"
	"github.com/roach88/libmap/internal/ir"
	"github.com/roach88/libmap/internal/store"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
// This prevents SQL injection via identifier interpolation.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string      // Assertion type for categorization
	Expected string      // Human-readable expected outcome
	Actual   string      // Human-readable actual outcome
	Regions  []ir.Region // Full tiling for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Regions) > 0 {
		fmt.Fprintf(&buf, "\nRegions:\n")
		for _, r := range e.Regions {
			fmt.Fprintf(&buf, "  [%#06x, %#06x) %s %v\n", r.Start, r.End, r.Confidence, r.Files)
		}
	}

	return buf.String()
}

func toFileIDs(names []string) []ir.FileID {
	out := make([]ir.FileID, len(names))
	for i, n := range names {
		out[i] = ir.FileID(n)
	}
	return out
}

// assertRegion checks the region containing the offset.
func assertRegion(rep *ir.Report, a Assertion) error {
	r, ok := rep.RegionAt(*a.Offset)
	if !ok {
		return &AssertionError{
			Type:     AssertRegion,
			Expected: fmt.Sprintf("region at %#x", *a.Offset),
			Actual:   "offset outside the blob",
			Regions:  rep.Regions,
		}
	}
	if string(r.Confidence) != a.Confidence {
		return &AssertionError{
			Type:     AssertRegion,
			Expected: fmt.Sprintf("%s at %#x", a.Confidence, *a.Offset),
			Actual:   string(r.Confidence),
			Regions:  rep.Regions,
		}
	}
	if a.Files != nil && !slices.Equal(r.Files, toFileIDs(a.Files)) {
		return &AssertionError{
			Type:     AssertRegion,
			Expected: fmt.Sprintf("files %v at %#x", a.Files, *a.Offset),
			Actual:   fmt.Sprintf("files %v", r.Files),
			Regions:  rep.Regions,
		}
	}
	return nil
}

// assertClique checks that a clique with exactly the members exists.
// Members compare as sets; Offsets, when given, must match exactly.
func assertClique(rep *ir.Report, a Assertion) error {
	want := ir.SortFileIDs(toFileIDs(a.Members))
	for _, c := range rep.Cliques {
		got := ir.SortFileIDs(slices.Clone(c.Members))
		if !slices.Equal(got, want) {
			continue
		}
		if a.Offsets != nil && !slices.Equal(c.Offsets, a.Offsets) {
			return &AssertionError{
				Type:     AssertClique,
				Expected: fmt.Sprintf("clique %v at offsets %v", a.Members, a.Offsets),
				Actual:   fmt.Sprintf("offsets %v", c.Offsets),
				Regions:  rep.Regions,
			}
		}
		return nil
	}

	found := make([]string, 0, len(rep.Cliques))
	for _, c := range rep.Cliques {
		found = append(found, fmt.Sprint(c.Members))
	}
	return &AssertionError{
		Type:     AssertClique,
		Expected: fmt.Sprintf("clique %v", a.Members),
		Actual:   fmt.Sprintf("cliques %v", found),
		Regions:  rep.Regions,
	}
}

// assertDiagnostic checks that a diagnostic matching every given field
// exists.
func assertDiagnostic(rep *ir.Report, a Assertion) error {
	for _, d := range rep.DiagnosticsWithCode(ir.ErrorCode(a.Code)) {
		if a.Offset != nil && d.Offset != *a.Offset {
			continue
		}
		if a.File != "" && string(d.File) != a.File {
			continue
		}
		if a.Files != nil && !slices.Equal(d.Files, toFileIDs(a.Files)) {
			continue
		}
		if a.Chain != nil {
			chain := make([]string, len(d.Chain))
			for i, c := range d.Chain {
				chain[i] = string(c.File)
			}
			if !slices.Equal(chain, a.Chain) {
				continue
			}
		}
		return nil
	}
	return &AssertionError{
		Type:     AssertDiagnostic,
		Expected: describeDiagnostic(a),
		Actual:   fmt.Sprintf("%d diagnostics with code %s, none matching", len(rep.DiagnosticsWithCode(ir.ErrorCode(a.Code))), a.Code),
		Regions:  rep.Regions,
	}
}

func describeDiagnostic(a Assertion) string {
	parts := []string{a.Code}
	if a.Offset != nil {
		parts = append(parts, fmt.Sprintf("offset=%#x", *a.Offset))
	}
	if a.File != "" {
		parts = append(parts, "file="+a.File)
	}
	if a.Files != nil {
		parts = append(parts, fmt.Sprintf("files=%v", a.Files))
	}
	if a.Chain != nil {
		parts = append(parts, fmt.Sprintf("chain=%v", a.Chain))
	}
	return strings.Join(parts, " ")
}

// assertDiagnosticCount checks the exact number of diagnostics with a code.
func assertDiagnosticCount(rep *ir.Report, a Assertion) error {
	count := len(rep.DiagnosticsWithCode(ir.ErrorCode(a.Code)))
	if count != a.Count {
		return &AssertionError{
			Type:     AssertDiagnosticCount,
			Expected: fmt.Sprintf("%d diagnostics with code %s", a.Count, a.Code),
			Actual:   fmt.Sprintf("%d diagnostics", count),
		}
	}
	return nil
}

// assertCommitOrder checks if files were committed in the specified order.
// Commits don't need to be consecutive (intervening commits are allowed).
func assertCommitOrder(rep *ir.Report, a Assertion) error {
	// Step 1: Find first position of each expected file
	positions := make(map[string]int)
	for i, c := range rep.Commits {
		f := string(c.File)
		if positions[f] == 0 {
			positions[f] = i + 1 // 1-indexed for readability
		}
	}

	// Step 2: Verify all files committed
	for _, f := range a.Files {
		if positions[f] == 0 {
			return &AssertionError{
				Type:     AssertCommitOrder,
				Expected: fmt.Sprintf("all files committed: %v", a.Files),
				Actual:   fmt.Sprintf("missing commit: %s", f),
				Regions:  rep.Regions,
			}
		}
	}

	// Step 3: Verify order
	for i := 1; i < len(a.Files); i++ {
		prev, curr := a.Files[i-1], a.Files[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertCommitOrder,
				Expected: fmt.Sprintf("commits in order: %v", a.Files),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Regions: rep.Regions,
			}
		}
	}
	return nil
}

// assertCoverage checks the byte total of one confidence.
func assertCoverage(rep *ir.Report, a Assertion) error {
	got := analysis.Coverage(rep)[ir.Confidence(a.Confidence)]
	if got != a.Bytes {
		return &AssertionError{
			Type:     AssertCoverage,
			Expected: fmt.Sprintf("%d bytes %s", a.Bytes, a.Confidence),
			Actual:   fmt.Sprintf("%d bytes", got),
			Regions:  rep.Regions,
		}
	}
	return nil
}

// assertSymbol checks a placed symbol's address.
func assertSymbol(rep *ir.Report, a Assertion) error {
	for _, s := range rep.Symbols {
		if s.Name != a.Name {
			continue
		}
		if s.Address != a.Address {
			return &AssertionError{
				Type:     AssertSymbol,
				Expected: fmt.Sprintf("%s at %#x", a.Name, a.Address),
				Actual:   fmt.Sprintf("%s at %#x", s.Name, s.Address),
			}
		}
		return nil
	}
	return &AssertionError{
		Type:     AssertSymbol,
		Expected: fmt.Sprintf("%s at %#x", a.Name, a.Address),
		Actual:   "symbol not placed",
	}
}

// assertFinalState checks if a stored run table contains expected values.
// Queries the table with parameterized SQL scoped to the run and
// validates expected values using subset semantics.
//
// Security: Table and column names are validated against a whitelist pattern
// to prevent SQL injection via identifier interpolation.
func assertFinalState(ctx context.Context, st *store.Store, runID string, assertion Assertion) error {
	if assertion.Table == "" {
		return fmt.Errorf("final_state assertion requires table name")
	}

	// Validate table name to prevent SQL injection (identifiers can't be parameterized)
	if !validIdentifier.MatchString(assertion.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", assertion.Table, validIdentifier.String())
	}

	whereSQL, whereArgs, err := buildWhereClause(assertion.Where)
	if err != nil {
		return err // Identifier validation failed
	}

	scope := "run_id"
	if assertion.Table == "runs" {
		scope = "id"
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = ?", assertion.Table, scope)
	args := append([]any{runID}, whereArgs...)
	if whereSQL != "" {
		query += " AND " + whereSQL
	}

	rows, err := st.Query(ctx, query, args...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "row not found",
		}
	}

	values := make([]any, len(columns))
	valuePtrs := make([]any, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	if err := rows.Scan(valuePtrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	// Check for multiple matching rows (would indicate ambiguous assertion)
	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actualRow := make(map[string]any, len(columns))
	for i, col := range columns {
		actualRow[col] = values[i]
	}

	// Sorted for a deterministic first failure.
	keys := make([]string, 0, len(assertion.Expect))
	for k := range assertion.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		expectedValue := assertion.Expect[key]
		actualValue, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, columns),
			}
		}
		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}

	return nil
}

// buildWhereClause constructs parameterized WHERE clause from assertion.Where.
// Returns SQL fragment, arguments slice, and error. Keys are sorted for determinism.
//
// Security: Column names are validated against a whitelist pattern to prevent
// SQL injection via identifier interpolation.
func buildWhereClause(where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))

	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		clauses = append(clauses, fmt.Sprintf("%s = ?", key))
		args = append(args, toSQLValue(where[key]))
	}

	return strings.Join(clauses, " AND "), args, nil
}

// toSQLValue converts a YAML-decoded value to a SQL-compatible value.
func toSQLValue(v any) any {
	switch val := v.(type) {
	case string, int, int64, bool:
		return val
	case uint64:
		return int64(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares expected and actual values from stored tables.
// Handles type coercion for SQLite values which may be returned as different types.
func stateValuesEqual(expected, actual any) bool {
	if expected == nil && actual == nil {
		return true
	}
	if expected == nil || actual == nil {
		return false
	}

	// SQLite may hand TEXT columns back as []byte.
	if b, ok := actual.([]byte); ok {
		actual = string(b)
	}

	switch exp := expected.(type) {
	case string:
		if actualStr, ok := actual.(string); ok {
			return exp == actualStr
		}
		return false
	case int:
		if actualInt, ok := actual.(int64); ok {
			return int64(exp) == actualInt
		}
		if actualInt, ok := actual.(int); ok {
			return exp == actualInt
		}
		return false
	case int64:
		if actualInt, ok := actual.(int64); ok {
			return exp == actualInt
		}
		return false
	case uint64:
		if actualInt, ok := actual.(int64); ok {
			return actualInt >= 0 && exp == uint64(actualInt)
		}
		return false
	case bool:
		if actualBool, ok := actual.(bool); ok {
			return exp == actualBool
		}
		// SQLite stores booleans as integers
		if actualInt, ok := actual.(int64); ok {
			return exp == (actualInt != 0)
		}
		return false
	}

	return reflect.DeepEqual(expected, actual)
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
	RunID string
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for final_state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		if result.Report == nil && assertion.Type != AssertFinalState {
			errors = append(errors, fmt.Sprintf("assertion[%d]: no report to check", i))
			continue
		}

		switch assertion.Type {
		case AssertRegion:
			err = assertRegion(result.Report, assertion)
		case AssertClique:
			err = assertClique(result.Report, assertion)
		case AssertDiagnostic:
			err = assertDiagnostic(result.Report, assertion)
		case AssertDiagnosticCount:
			err = assertDiagnosticCount(result.Report, assertion)
		case AssertCommitOrder:
			err = assertCommitOrder(result.Report, assertion)
		case AssertCoverage:
			err = assertCoverage(result.Report, assertion)
		case AssertSymbol:
			err = assertSymbol(result.Report, assertion)
		case AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires database context", i)
			} else {
				err = assertFinalState(actx.Ctx, actx.Store, actx.RunID, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
