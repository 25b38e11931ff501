package ir

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode categorizes analysis diagnostics.
type ErrorCode string

const (
	// ErrCodeParse indicates malformed object or blob input. The offending
	// file is skipped and the run continues.
	ErrCodeParse ErrorCode = "PARSE_ERROR"

	// ErrCodeAmbiguousSymbol indicates a symbol defined by several corpus
	// files. It is excluded from propagation pruning.
	ErrCodeAmbiguousSymbol ErrorCode = "AMBIGUOUS_SYMBOL"

	// ErrCodeContradiction indicates an offset whose candidate set emptied.
	// Only that offset fails; unrelated offsets are unaffected.
	ErrCodeContradiction ErrorCode = "CONTRADICTION"

	// ErrCodeUnsatisfiedReference indicates a committed file references a
	// symbol whose unique definer has no viable placement left.
	ErrCodeUnsatisfiedReference ErrorCode = "UNSATISFIED_REFERENCE"

	// ErrCodeIterationCap indicates propagation stopped at its iteration
	// budget and reported partial results.
	ErrCodeIterationCap ErrorCode = "ITERATION_CAP"
)

// Error is a structured analysis diagnostic.
//
// Diagnostics never abort a run: they are collected on the Report and
// returned from component APIs so callers can decide what to surface.
type Error struct {
	// Code identifies the diagnostic category.
	Code ErrorCode `json:"code"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// File identifies the affected object file, if any.
	File FileID `json:"file,omitempty"`

	// Files lists several affected files (ambiguous definers, candidates
	// lost by a contradicted window).
	Files []FileID `json:"files,omitempty"`

	// Symbol identifies the affected symbol, if any.
	Symbol string `json:"symbol,omitempty"`

	// Offset is the blob byte offset for contradictions.
	Offset int `json:"offset,omitempty"`

	// Chain lists the commits that caused a contradiction, in commit order.
	Chain []Commit `json:"chain,omitempty"`

	// Details contains additional context.
	Details map[string]string `json:"details,omitempty"`

	// Err is the underlying cause, if any.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	switch {
	case e.Code == ErrCodeContradiction:
		fmt.Fprintf(&b, " (offset=%#x", e.Offset)
		if len(e.Chain) > 0 {
			b.WriteString(", after")
			for _, c := range e.Chain {
				fmt.Fprintf(&b, " %s@%#x", c.File, c.Offset)
			}
		}
		b.WriteString(")")
	case e.File != "" && e.Symbol != "":
		fmt.Fprintf(&b, " (file=%s, symbol=%s)", e.File, e.Symbol)
	case e.File != "":
		fmt.Fprintf(&b, " (file=%s)", e.File)
	case e.Symbol != "":
		fmt.Fprintf(&b, " (symbol=%s)", e.Symbol)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewParseError creates a diagnostic for a file that could not be read
// into signatures.
func NewParseError(file FileID, message string, err error) *Error {
	return &Error{
		Code:    ErrCodeParse,
		Message: message,
		File:    file,
		Err:     err,
	}
}

// NewAmbiguousSymbolError creates a diagnostic for a symbol with several
// definers.
func NewAmbiguousSymbolError(symbol string, definers []FileID) *Error {
	return &Error{
		Code:    ErrCodeAmbiguousSymbol,
		Message: fmt.Sprintf("symbol defined by %d files", len(definers)),
		Symbol:  symbol,
		Files:   definers,
	}
}

// NewContradictionError creates a diagnostic for an emptied window.
func NewContradictionError(offset int, lost []FileID, chain []Commit, message string) *Error {
	return &Error{
		Code:    ErrCodeContradiction,
		Message: message,
		Offset:  offset,
		Files:   lost,
		Chain:   chain,
	}
}

// NewUnsatisfiedReferenceError creates a diagnostic for a required file
// that can no longer be placed.
func NewUnsatisfiedReferenceError(definer FileID, symbol string, via FileID) *Error {
	return &Error{
		Code:    ErrCodeUnsatisfiedReference,
		Message: fmt.Sprintf("required by %s but no viable placement remains", via),
		File:    definer,
		Symbol:  symbol,
		Details: map[string]string{"via": string(via)},
	}
}

// NewIterationCapError creates a diagnostic for a propagation that hit its
// iteration budget.
func NewIterationCapError(iterations, limit, unresolved int) *Error {
	return &Error{
		Code:    ErrCodeIterationCap,
		Message: fmt.Sprintf("propagation stopped after %d iterations (limit %d), %d windows unresolved", iterations, limit, unresolved),
		Details: map[string]string{
			"iterations": fmt.Sprintf("%d", iterations),
			"limit":      fmt.Sprintf("%d", limit),
			"unresolved": fmt.Sprintf("%d", unresolved),
		},
	}
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsParseError returns true if err is a parse diagnostic.
// Uses errors.As to handle wrapped errors.
func IsParseError(err error) bool {
	return hasCode(err, ErrCodeParse)
}

// IsAmbiguousSymbol returns true if err is an ambiguous-symbol diagnostic.
func IsAmbiguousSymbol(err error) bool {
	return hasCode(err, ErrCodeAmbiguousSymbol)
}

// IsContradiction returns true if err is a contradiction diagnostic.
func IsContradiction(err error) bool {
	return hasCode(err, ErrCodeContradiction)
}

// IsIterationCap returns true if err reports an exhausted iteration budget.
func IsIterationCap(err error) bool {
	return hasCode(err, ErrCodeIterationCap)
}
