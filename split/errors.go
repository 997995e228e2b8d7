package split

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAmbiguousConversion is returned when a residual has to be expressed
	// through a currency for which more than one conversion was declared.
	ErrAmbiguousConversion = errors.New("ambiguous currency conversion")

	// ErrEmptyProration is returned when no weighted posting contributed to
	// the weights of the prorated postings, or the contributions sum to zero.
	ErrEmptyProration = errors.New("prorated postings have no weights to follow")

	// ErrProratedCurrency is returned when prorated postings mix currencies.
	ErrProratedCurrency = errors.New("prorated postings disagree on currency")

	// ErrZeroWeight is returned when weighted ownership sums to zero.
	ErrZeroWeight = errors.New("ownership weights sum to zero")

	// ErrDisproportionate is returned when a proportionate assertion fails.
	ErrDisproportionate = errors.New("disproportionate balance")

	// ErrBalanceMismatch marks a party's realized balance disagreeing with its
	// share of a balance assertion. Logged, not fatal.
	ErrBalanceMismatch = errors.New("balance mismatch")

	// ErrInvalidViewpoint is returned for malformed viewpoint names.
	ErrInvalidViewpoint = errors.New("invalid viewpoint")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// AmbiguousConversionError names the currency.
type AmbiguousConversionError struct {
	Currency string
}

func (e *AmbiguousConversionError) Error() string {
	return fmt.Sprintf("ambiguous currency conversion for %s", e.Currency)
}

func (e *AmbiguousConversionError) Unwrap() error {
	return ErrAmbiguousConversion
}

// DisproportionateError explains which party broke the proportion.
type DisproportionateError struct {
	Account  string
	Party    string
	Currency string
	Expected decimal.Decimal
	Actual   decimal.Decimal
	Reason   string
}

func (e *DisproportionateError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("disproportionate balance in %s: %s %s", e.Account, e.Party, e.Reason)
	}
	return fmt.Sprintf("disproportionate balance in %s: %s holds %s of %s, expected %s",
		e.Account, e.Party, e.Actual.StringFixed(8), e.Currency, e.Expected.StringFixed(8))
}

func (e *DisproportionateError) Unwrap() error {
	return ErrDisproportionate
}

// BalanceMismatchError compares a party's expected share to what was realized.
type BalanceMismatchError struct {
	Account  string
	Party    string
	Currency string
	Expected decimal.Decimal
	Actual   decimal.Decimal
}

func (e *BalanceMismatchError) Error() string {
	return fmt.Sprintf("balance mismatch in %s for %s: expected %s %s, realized %s %s",
		e.Account, e.Party, e.Expected, e.Currency, e.Actual, e.Currency)
}

func (e *BalanceMismatchError) Unwrap() error {
	return ErrBalanceMismatch
}

// PolicyCountError is returned by Allocate when the policies do not line up
// with the postings.
type PolicyCountError struct {
	Postings int
	Policies int
}

func (e *PolicyCountError) Error() string {
	return fmt.Sprintf("%d policies for %d postings", e.Policies, e.Postings)
}
