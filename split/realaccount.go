package split

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/ledger-share/ledger"
)

// RealAccount is a node of the running-balance tree. Each node holds the
// per-party, per-currency units realized directly on that account; subtree
// queries add the children in.
type RealAccount struct {
	Name     string
	children map[string]*RealAccount
	balances map[string]map[string]decimal.Decimal
}

// NewRealAccount returns an empty root.
func NewRealAccount() *RealAccount {
	return &RealAccount{}
}

// Add realizes amount for party on account.
func (r *RealAccount) Add(account, party string, amount ledger.Amount) {
	node := r
	for _, part := range strings.Split(account, ledger.AccountSep) {
		if node.children == nil {
			node.children = make(map[string]*RealAccount)
		}
		child, ok := node.children[part]
		if !ok {
			child = &RealAccount{Name: ledger.JoinAccount(nonEmpty(node.Name, part)...)}
			node.children[part] = child
		}
		node = child
	}
	if node.balances == nil {
		node.balances = make(map[string]map[string]decimal.Decimal)
	}
	byCurrency, ok := node.balances[party]
	if !ok {
		byCurrency = make(map[string]decimal.Decimal)
		node.balances[party] = byCurrency
	}
	byCurrency[amount.Currency] = byCurrency[amount.Currency].Add(amount.Number)
}

func nonEmpty(parts ...string) []string {
	out := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Get returns the node for account, or nil.
func (r *RealAccount) Get(account string) *RealAccount {
	node := r
	for _, part := range strings.Split(account, ledger.AccountSep) {
		child, ok := node.children[part]
		if !ok {
			return nil
		}
		node = child
	}
	return node
}

// PartyBalances sums the subtree per party and currency.
func (r *RealAccount) PartyBalances() map[string]map[string]decimal.Decimal {
	out := make(map[string]map[string]decimal.Decimal)
	if r == nil {
		return out
	}
	r.walk(func(n *RealAccount) {
		for party, byCurrency := range n.balances {
			dst, ok := out[party]
			if !ok {
				dst = make(map[string]decimal.Decimal)
				out[party] = dst
			}
			for cur, v := range byCurrency {
				dst[cur] = dst[cur].Add(v)
			}
		}
	})
	return out
}

// Balance sums the subtree for one party.
func (r *RealAccount) Balance(party string) map[string]decimal.Decimal {
	if b, ok := r.PartyBalances()[party]; ok {
		return b
	}
	return map[string]decimal.Decimal{}
}

// Parties lists the parties with any realized amount in the subtree.
func (r *RealAccount) Parties() []string {
	balances := r.PartyBalances()
	parties := make([]string, 0, len(balances))
	for p := range balances {
		parties = append(parties, p)
	}
	sort.Strings(parties)
	return parties
}

func (r *RealAccount) walk(fn func(*RealAccount)) {
	fn(r)
	for _, c := range r.children {
		c.walk(fn)
	}
}
