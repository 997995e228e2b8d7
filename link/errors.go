package link

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUnresolvedLink is returned when a transaction on a linked account
	// has no complement, more than one, or duplicates another transaction.
	ErrUnresolvedLink = errors.New("unresolved link")

	// ErrInvalidLink is returned for a link whose endpoints are reused or
	// refer to an unknown ledger. Such links are skipped.
	ErrInvalidLink = errors.New("invalid link")

	// ErrMergeConflict is returned when linked transactions disagree on a
	// metadata value.
	ErrMergeConflict = errors.New("linked transactions cannot be merged")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// UnresolvedLinkError says which side of a link failed and how.
type UnresolvedLinkError struct {
	Path    string
	Account string
	Feature string
	Reason  string
}

func (e *UnresolvedLinkError) Error() string {
	return fmt.Sprintf("unresolved link on %s in %s (%s): %s", e.Account, e.Path, e.Feature, e.Reason)
}

func (e *UnresolvedLinkError) Unwrap() error {
	return ErrUnresolvedLink
}

// InvalidLinkError names the offending endpoint.
type InvalidLinkError struct {
	Path    string
	Account string
	Reason  string
}

func (e *InvalidLinkError) Error() string {
	return fmt.Sprintf("invalid link endpoint %s in %s: %s", e.Account, e.Path, e.Reason)
}

func (e *InvalidLinkError) Unwrap() error {
	return ErrInvalidLink
}

// MergeConflictError names the metadata key the members disagree on.
type MergeConflictError struct {
	Key    string
	Values []string
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("linked transactions disagree on %q: %s", e.Key, strings.Join(e.Values, " vs "))
}

func (e *MergeConflictError) Unwrap() error {
	return ErrMergeConflict
}
