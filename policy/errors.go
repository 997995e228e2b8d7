package policy

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUnknownParent is returned when a definition inherits from a name
	// that has not been declared.
	ErrUnknownParent = errors.New("unknown parent policy")

	// ErrPolicyCycle is returned when a parent chain loops back on itself.
	ErrPolicyCycle = errors.New("policy parent cycle")

	// ErrEnforcedWithoutOwnership is returned when enforced=true is declared
	// but no ownership is known after parent resolution.
	ErrEnforcedWithoutOwnership = errors.New("enforced policy without ownership")

	// ErrOwnershipOverride is returned when a transaction or posting tries to
	// replace the ownership of an enforced policy.
	ErrOwnershipOverride = errors.New("cannot override ownership of an enforced policy")

	// ErrUnenforce is returned when a transaction or posting sets
	// enforced=false below an enforced policy.
	ErrUnenforce = errors.New("cannot unset enforcement of an enforced policy")

	// ErrNoApplicablePolicy is returned when resolution leaves a field unset.
	ErrNoApplicablePolicy = errors.New("no applicable policy")

	// ErrNonWeightedBalance is returned when a balance assertion declares a
	// policy whose ownership is not weighted.
	ErrNonWeightedBalance = errors.New("balance policy must have weighted ownership")

	// ErrNoWeightedPolicy is returned when a proportionate assertion cannot
	// resolve to weighted ownership.
	ErrNoWeightedPolicy = errors.New("no weighted policy")

	// ErrInvalidMetadata is returned for share-* keys with bad values.
	ErrInvalidMetadata = errors.New("invalid share metadata")

	// ErrInvalidKey is returned for an empty or malformed policy key.
	ErrInvalidKey = errors.New("invalid policy key")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// OverrideError reports which field an ephemeral override tried to change.
type OverrideError struct {
	Field string
	Err   error
}

func (e *OverrideError) Error() string {
	return fmt.Sprintf("%v (field %s)", e.Err, e.Field)
}

func (e *OverrideError) Unwrap() error {
	return e.Err
}

// NoApplicablePolicyError lists the fields left unset.
type NoApplicablePolicyError struct {
	Account string
	Missing []string
}

func (e *NoApplicablePolicyError) Error() string {
	msg := "no applicable policy"
	if e.Account != "" {
		msg += " for " + e.Account
	}
	return msg + ": missing " + strings.Join(e.Missing, ", ")
}

func (e *NoApplicablePolicyError) Unwrap() error {
	return ErrNoApplicablePolicy
}

// CycleError carries the names visited before the loop closed.
type CycleError struct {
	Chain []string
}

func (e *CycleError) Error() string {
	return "policy parent cycle: " + strings.Join(e.Chain, " -> ")
}

func (e *CycleError) Unwrap() error {
	return ErrPolicyCycle
}

// MetadataError reports a malformed share-* key or value.
type MetadataError struct {
	Key    string
	Value  any
	Reason string
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("invalid share metadata %s=%v: %s", e.Key, e.Value, e.Reason)
}

func (e *MetadataError) Unwrap() error {
	return ErrInvalidMetadata
}
