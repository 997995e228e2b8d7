package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrIncludeCycle is returned when a ledger includes itself, directly or
	// through other ledgers.
	ErrIncludeCycle = errors.New("include cycle")

	// ErrLoad is returned when the loader cannot produce a ledger.
	ErrLoad = errors.New("cannot load ledger")

	// ErrNoLoader is returned for include directives when the engine was
	// built without a loader.
	ErrNoLoader = errors.New("no ledger loader configured")

	// ErrRunNotFound is returned by RunStore implementations.
	ErrRunNotFound = errors.New("run not found")

	// ErrPolicyNotFound is returned by PolicyStore implementations.
	ErrPolicyNotFound = errors.New("stored policy not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// LoadError wraps a loader failure with the path that failed.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("cannot load ledger %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() []error {
	return []error{ErrLoad, e.Err}
}

// SeedError reports a configured policy that could not be added.
type SeedError struct {
	Key string
	Err error
}

func (e *SeedError) Error() string {
	return fmt.Sprintf("seed policy %s: %v", e.Key, e.Err)
}

func (e *SeedError) Unwrap() error {
	return e.Err
}
