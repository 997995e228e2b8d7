/*
assertions.go - Balance and proportionate assertions

PURPOSE:
  A balance assertion on a shared account is split by its balance policy
  and checked against the per-party balances realized in the RealAccount
  tree. A proportionate assertion checks that every party holds its policy
  share of the account.

SEE ALSO:
  - realaccount.go: Realized per-party balances
  - splitter.go: Realization of tracked accounts
*/
package split

import (
	"github.com/shopspring/decimal"

	"github.com/warp/ledger-share/ledger"
	"github.com/warp/ledger-share/policy"
)

// ProportionTolerance bounds the deviation of a party's fraction of an
// account from its policy share.
var ProportionTolerance = decimal.New(1, -6)

// BalanceResult is a balance assertion seen from one viewpoint.
type BalanceResult struct {
	Balances []ledger.Balance
	// Accounts lists generated accounts referenced by Balances.
	Accounts []string
	// Mismatches holds soft errors for other parties' shares.
	Mismatches []error
}

// BalancePolicy resolves the policy b is split by. It is nil when b is not
// split.
func (s *Splitter) BalancePolicy(b ledger.Balance) (*policy.Policy, error) {
	def, err := policy.ParseDefinition(b.Meta)
	if err != nil {
		return nil, err
	}
	return s.db.BalancePolicy(b.Account, def)
}

// RenderBalance splits a balance assertion for vp. Without an applicable
// balance policy the assertion passes through unchanged.
func (s *Splitter) RenderBalance(b ledger.Balance, vp Viewpoint) (BalanceResult, error) {
	pol, err := s.BalancePolicy(b)
	if err != nil {
		return BalanceResult{}, err
	}
	return s.RenderBalanceWith(b, pol, vp)
}

// RenderBalanceWith splits b by pol, resolved beforehand.
func (s *Splitter) RenderBalanceWith(b ledger.Balance, pol *policy.Policy, vp Viewpoint) (BalanceResult, error) {
	stripped := b.WithMeta(policy.StripMetadata(b.Meta))
	if vp.Kind == ViewNobody || pol == nil {
		return BalanceResult{Balances: []ledger.Balance{stripped}}, nil
	}
	w, _ := pol.Weighted()
	total := w.Total()
	if total.IsZero() {
		return BalanceResult{}, ErrZeroWeight
	}
	share := func(party string) ledger.Amount {
		return ledger.Amount{Number: b.Amount.Number.Mul(w.Weights[party]).Div(total), Currency: b.Amount.Currency}
	}

	var out BalanceResult
	switch vp.Kind {
	case ViewEveryone:
		for _, party := range w.Parties() {
			if w.Weights[party].IsZero() {
				continue
			}
			account := ledger.JoinAccount(b.Account, party)
			out.Balances = append(out.Balances, stripped.WithAccount(account).WithAmount(share(party)))
			out.Accounts = append(out.Accounts, account)
		}

	case ViewParty:
		tol := s.balanceTolerance(b)
		node := s.tree.Get(b.Account)
		for _, party := range w.Parties() {
			if party == vp.Party {
				continue
			}
			expected := share(party).Number
			actual := decimal.Zero
			if node != nil {
				actual = node.Balance(party)[b.Amount.Currency]
			}
			if expected.Sub(actual).Abs().GreaterThan(tol) {
				out.Mismatches = append(out.Mismatches, &BalanceMismatchError{
					Account:  b.Account,
					Party:    party,
					Currency: b.Amount.Currency,
					Expected: expected,
					Actual:   actual,
				})
			}
		}
		if !w.Weights[vp.Party].IsZero() {
			out.Balances = append(out.Balances, stripped.WithAmount(share(vp.Party)))
		}
	}

	for _, m := range out.Mismatches {
		s.log.Warn().Str("account", b.Account).Err(m).Msg("balance share mismatch")
	}
	return out, nil
}

func (s *Splitter) balanceTolerance(b ledger.Balance) decimal.Decimal {
	if b.Tolerance.Valid {
		return b.Tolerance.Decimal
	}
	if tol, ok := ToleranceOf(b.Amount.Number); ok {
		return tol
	}
	return s.cfg.DefaultTolerance
}

// ProportionatePolicy resolves the policy a is checked against.
func (s *Splitter) ProportionatePolicy(a ledger.ProportionateAssertion) (policy.Policy, error) {
	def, err := policy.ParseDefinition(a.Meta)
	if err != nil {
		return policy.Policy{}, err
	}
	return s.db.ProportionatePolicy(a.Account, def)
}

// CheckProportionate verifies that the realized per-party balances of the
// asserted account follow the policy weights.
func (s *Splitter) CheckProportionate(a ledger.ProportionateAssertion) error {
	pol, err := s.ProportionatePolicy(a)
	if err != nil {
		return err
	}
	return s.CheckProportionateWith(a, pol)
}

// CheckProportionateWith checks a against pol, resolved beforehand.
func (s *Splitter) CheckProportionateWith(a ledger.ProportionateAssertion, pol policy.Policy) error {
	w, _ := pol.Weighted()
	balances := s.tree.Get(a.Account).PartyBalances()

	for party, byCurrency := range balances {
		if !w.Weights[party].IsZero() {
			continue
		}
		for _, v := range byCurrency {
			if !v.IsZero() {
				return &DisproportionateError{Account: a.Account, Party: party, Reason: "is not part of the policy"}
			}
		}
	}

	owners := 0
	for _, v := range w.Weights {
		if !v.IsZero() {
			owners++
		}
	}
	if owners <= 1 {
		return nil
	}

	currencies := map[string]bool{}
	for _, byCurrency := range balances {
		for c := range byCurrency {
			currencies[c] = true
		}
	}
	for currency := range currencies {
		total := decimal.Zero
		for _, byCurrency := range balances {
			total = total.Add(byCurrency[currency])
		}
		for _, party := range w.Parties() {
			actual := balances[party][currency]
			if total.IsZero() {
				if actual.Abs().GreaterThan(ProportionTolerance) {
					return &DisproportionateError{Account: a.Account, Party: party, Currency: currency,
						Expected: decimal.Zero, Actual: actual}
				}
				continue
			}
			fraction := actual.Div(total)
			expected := w.Share(party)
			if fraction.Sub(expected).Abs().GreaterThan(ProportionTolerance) {
				return &DisproportionateError{Account: a.Account, Party: party, Currency: currency,
					Expected: expected, Actual: fraction}
			}
		}
	}
	return nil
}
