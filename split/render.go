/*
render.go - Viewpoint rendering of an Allocation

PURPOSE:
  Selects and renames the parts of an Allocation one viewpoint sees. Nobody
  sees the original postings with every pool complement. Everyone sees
  each split on a per-party sub-account. A party sees its own splits and
  what it is owed by, or owes to, the other parties of the transaction.

SEE ALSO:
  - splitter.go: Builds the Allocation
  - viewpoint.go: Viewpoint parsing
*/
package split

import (
	"github.com/shopspring/decimal"

	"github.com/warp/ledger-share/ledger"
)

// Rendered is an allocation seen from one viewpoint.
type Rendered struct {
	Transaction ledger.Transaction
	// Drop is set when the viewer is not involved and the transaction must
	// be left out of the output.
	Drop bool
	// Accounts lists the generated accounts the postings were booked to.
	Accounts []string
}

// Render builds the transaction shown to vp.
//
//	nobody:   original postings, reversed receivables, all pool complements
//	everyone: every split on Account:<Party>, reversed receivables, all pool
//	          complements
//	party:    the party's splits, its reversed receivables and, if it holds
//	          any split, its receivables toward the other parties
func (a *Allocation) Render(vp Viewpoint) (Rendered, error) {
	var (
		postings []ledger.Posting
		accounts []string
	)
	receivable := func(p ledger.Posting) {
		postings = append(postings, p)
		accounts = append(accounts, p.Account)
	}

	switch vp.Kind {
	case ViewNobody:
		postings = append(postings, a.Original.Postings...)
		for _, sh := range a.Receivables {
			receivable(sh.Posting)
		}
		for _, party := range a.Parties {
			for _, p := range a.Complements[party] {
				receivable(p)
			}
		}

	case ViewEveryone:
		for _, sh := range a.Splits {
			account := ledger.JoinAccount(sh.Posting.Account, sh.Party)
			postings = append(postings, sh.Posting.WithAccount(account))
			accounts = append(accounts, account)
		}
		for _, sh := range a.Receivables {
			receivable(sh.Posting)
		}
		for _, party := range a.Parties {
			for _, p := range a.Complements[party] {
				receivable(p)
			}
		}

	case ViewParty:
		for _, sh := range a.Splits {
			if sh.Party == vp.Party {
				postings = append(postings, sh.Posting)
			}
		}
		for _, sh := range a.Receivables {
			if sh.Party == vp.Party {
				receivable(sh.Posting)
			}
		}
		if a.HasSplits(vp.Party) {
			toward, err := a.towardOthers(vp.Party)
			if err != nil {
				return Rendered{}, err
			}
			for _, p := range toward {
				receivable(p)
			}
		}
	}

	out := Rendered{Transaction: a.Original.WithPostings(postings), Accounts: accounts}
	if len(a.Original.Postings) > 0 && len(postings) == 0 {
		out.Drop = true
	}
	return out, nil
}

// towardOthers spreads party's residual over the parties on the other side
// of it, in proportion to their own residuals. A position nobody else holds
// stays on the party's own receivable account.
func (a *Allocation) towardOthers(party string) ([]ledger.Posting, error) {
	inv, ok := a.Residuals[party]
	if !ok || inv.IsSmall(a.tolerances) {
		return nil, nil
	}

	var out []ledger.Posting
	for _, pos := range inv.Positions() {
		type counter struct {
			party string
			units decimal.Decimal
		}
		var counters []counter
		total := decimal.Zero
		for _, other := range a.Parties {
			if other == party {
				continue
			}
			oinv, ok := a.Residuals[other]
			if !ok || oinv.IsSmall(a.tolerances) {
				continue
			}
			q := oinv.Units(pos)
			if q.IsZero() || q.Sign() == pos.Units.Number.Sign() {
				continue
			}
			counters = append(counters, counter{party: other, units: q.Abs()})
			total = total.Add(q.Abs())
		}

		if len(counters) == 0 {
			conv, err := a.table.Resolve(pos)
			if err != nil {
				return nil, err
			}
			out = append(out, conv.Neg().Posting(ledger.JoinAccount(a.root, party)))
			continue
		}
		for _, c := range counters {
			part := pos
			part.Units = ledger.Amount{Number: pos.Units.Number.Mul(c.units).Div(total), Currency: pos.Units.Currency}
			conv, err := a.table.Resolve(part)
			if err != nil {
				return nil, err
			}
			out = append(out, conv.Neg().Posting(ledger.JoinAccount(a.root, c.party)))
		}
	}
	return out, nil
}
