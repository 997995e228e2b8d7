/*
policy.go - Ownership, Policy and Definition, plus the override rule

PURPOSE:
  A Policy says who owns a posting and how its split behaves. A Definition
  is a partially specified policy as written in a ledger: every field may
  be missing and may name a parent to inherit from. Definitions are layered
  on top of each other until every field is known.

KEY CONCEPTS:
  Ownership:  Closed variant. Weighted (party -> weight) or Prorated (weights
              are derived from the other postings of the same transaction).
  Override:   Child wins where set, parent fills the gaps. An ephemeral
              override (scoped to one transaction or posting, never stored)
              may not replace ownership below an enforced parent and may not
              turn enforcement off.

ROOT DEFAULT:
  ownership unset, enforced=false, conversion=true, prorated_included=true.
  Ownership therefore always has to come from somewhere.

SEE ALSO:
  - database.go: Where definitions are stored and resolved
  - metadata.go: share-* metadata <-> Definition
*/
package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// OWNERSHIP
// =============================================================================

// Ownership is either Weighted or Prorated.
type Ownership interface {
	fmt.Stringer
	ownership()
}

// Weighted maps parties to non-negative weights.
type Weighted struct {
	Weights map[string]decimal.Decimal
}

// Prorated defers the weights to allocation time.
type Prorated struct{}

func (Weighted) ownership() {}
func (Prorated) ownership() {}

// NewWeighted copies weights into a Weighted ownership.
func NewWeighted(weights map[string]decimal.Decimal) Weighted {
	w := make(map[string]decimal.Decimal, len(weights))
	for k, v := range weights {
		w[k] = v
	}
	return Weighted{Weights: w}
}

// Total is the sum of all weights.
func (w Weighted) Total() decimal.Decimal {
	total := decimal.Zero
	for _, v := range w.Weights {
		total = total.Add(v)
	}
	return total
}

// Parties returns the party names in sorted order.
func (w Weighted) Parties() []string {
	parties := make([]string, 0, len(w.Weights))
	for p := range w.Weights {
		parties = append(parties, p)
	}
	sort.Strings(parties)
	return parties
}

// Share is weight(party) / total. Zero for unknown parties.
func (w Weighted) Share(party string) decimal.Decimal {
	total := w.Total()
	if total.IsZero() {
		return decimal.Zero
	}
	return w.Weights[party].Div(total)
}

// Equal compares weights exactly.
func (w Weighted) Equal(o Weighted) bool {
	if len(w.Weights) != len(o.Weights) {
		return false
	}
	for k, v := range w.Weights {
		ov, ok := o.Weights[k]
		if !ok || !ov.Equal(v) {
			return false
		}
	}
	return true
}

func (w Weighted) String() string {
	parts := make([]string, 0, len(w.Weights))
	for _, p := range w.Parties() {
		parts = append(parts, p+"="+w.Weights[p].String())
	}
	return "weighted(" + strings.Join(parts, ",") + ")"
}

func (Prorated) String() string { return "prorated" }

// =============================================================================
// POLICY
// =============================================================================

// Policy is fully resolved: every field is concrete.
type Policy struct {
	Ownership        Ownership
	Enforced         bool
	Conversion       bool
	ProratedIncluded bool
}

// Weighted returns the ownership when it is weighted.
func (p Policy) Weighted() (Weighted, bool) {
	w, ok := p.Ownership.(Weighted)
	return w, ok
}

// IsProrated reports whether the ownership is Prorated.
func (p Policy) IsProrated() bool {
	_, ok := p.Ownership.(Prorated)
	return ok
}

func (p Policy) String() string {
	return fmt.Sprintf("%s enforced=%t conversion=%t prorated_included=%t",
		p.Ownership, p.Enforced, p.Conversion, p.ProratedIncluded)
}

// =============================================================================
// DEFINITION
// =============================================================================

// Definition is a policy as declared. Nil fields are unset.
type Definition struct {
	Parent           string
	Ownership        Ownership
	Enforced         *bool
	Conversion       *bool
	ProratedIncluded *bool
}

// RootDefault is the bottom of every resolution chain.
func RootDefault() Definition {
	return Definition{
		Enforced:         boolPtr(false),
		Conversion:       boolPtr(true),
		ProratedIncluded: boolPtr(true),
	}
}

// IsEmpty reports whether the definition sets nothing at all.
func (d Definition) IsEmpty() bool {
	return d.Parent == "" && d.Ownership == nil &&
		d.Enforced == nil && d.Conversion == nil && d.ProratedIncluded == nil
}

// Override layers child on top of d. The parent reference of the result is
// the child's; callers resolve parents before overriding.
func (d Definition) Override(child Definition, ephemeral bool) (Definition, error) {
	if ephemeral && isTrue(d.Enforced) {
		if child.Ownership != nil {
			return Definition{}, &OverrideError{Field: "ownership", Err: ErrOwnershipOverride}
		}
		if child.Enforced != nil && !*child.Enforced {
			return Definition{}, &OverrideError{Field: "enforced", Err: ErrUnenforce}
		}
	}

	out := Definition{
		Parent:           child.Parent,
		Ownership:        d.Ownership,
		Enforced:         d.Enforced,
		Conversion:       d.Conversion,
		ProratedIncluded: d.ProratedIncluded,
	}
	if child.Ownership != nil {
		out.Ownership = child.Ownership
	}
	if child.Enforced != nil {
		out.Enforced = boolPtr(*child.Enforced)
	}
	if child.Conversion != nil {
		out.Conversion = boolPtr(*child.Conversion)
	}
	if child.ProratedIncluded != nil {
		out.ProratedIncluded = boolPtr(*child.ProratedIncluded)
	}
	return out, nil
}

// Policy converts a definition whose fields are all set.
func (d Definition) Policy() (Policy, error) {
	var missing []string
	if d.Ownership == nil {
		missing = append(missing, "ownership")
	}
	if d.Enforced == nil {
		missing = append(missing, "enforced")
	}
	if d.Conversion == nil {
		missing = append(missing, "conversion")
	}
	if d.ProratedIncluded == nil {
		missing = append(missing, "prorated_included")
	}
	if len(missing) > 0 {
		return Policy{}, &NoApplicablePolicyError{Missing: missing}
	}
	return Policy{
		Ownership:        d.Ownership,
		Enforced:         *d.Enforced,
		Conversion:       *d.Conversion,
		ProratedIncluded: *d.ProratedIncluded,
	}, nil
}

func boolPtr(b bool) *bool { return &b }

func isTrue(b *bool) bool { return b != nil && *b }

// Bool is a helper for building definitions in code.
func Bool(b bool) *bool { return boolPtr(b) }
