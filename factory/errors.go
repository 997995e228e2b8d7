package factory

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUnknownType is returned for a ledger line whose "type" is not an
	// entry kind.
	ErrUnknownType = errors.New("unknown entry type")

	// ErrMissingField is returned when a required field is absent.
	ErrMissingField = errors.New("missing field")

	// ErrBadDate is returned for dates not in YYYY-MM-DD form.
	ErrBadDate = errors.New("invalid date")

	// ErrOutsideDir is returned by FileLoader for paths that escape its
	// directory.
	ErrOutsideDir = errors.New("path outside ledger directory")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ParseError reports a ledger line that could not be decoded. The rest of
// the file is still read.
type ParseError struct {
	Filename string
	Line     int
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.Filename, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
