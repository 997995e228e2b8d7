/*
inventory.go - Per-party running positions and tolerances

PURPOSE:
  While a transaction is split, every party's share of each posting leaves
  a value behind in that party's Inventory. Whatever is left at the end is
  what the party is owed (negative) or owes (positive); the splitter turns it
  into receivable postings unless it is small enough to ignore.

KEY CONCEPTS:
  Position:   Units plus optional price/cost. Positions with the same
              currency, price and cost collapse into one.
  Tolerances: Per-currency threshold under which a residual is "small".
              Inferred from the precision of the transaction's own numbers.

SEE ALSO:
  - conversion.go: Turning a residual back into the commodity it came from
  - splitter.go: Fills inventories
*/
package split

import (
	"github.com/shopspring/decimal"

	"github.com/warp/ledger-share/ledger"
)

// =============================================================================
// POSITIONS
// =============================================================================

// Position is an amount in one (currency, price, cost) bucket.
type Position struct {
	Units ledger.Amount
	Price *ledger.Amount
	Cost  *ledger.Cost
}

type positionKey struct {
	currency string
	price    string
	cost     string
}

func (p Position) key() positionKey {
	k := positionKey{currency: p.Units.Currency}
	if p.Price != nil {
		k.price = p.Price.String()
	}
	if p.Cost != nil {
		k.cost = p.Cost.String()
	}
	return k
}

// Posting renders the position as a posting on account.
func (p Position) Posting(account string) ledger.Posting {
	out := ledger.Posting{Account: account, Units: p.Units}
	if p.Price != nil {
		pr := *p.Price
		out.Price = &pr
	}
	if p.Cost != nil {
		c := *p.Cost
		out.Cost = &c
	}
	return out
}

// Neg flips the sign of the units.
func (p Position) Neg() Position {
	p.Units = p.Units.Neg()
	return p
}

// =============================================================================
// INVENTORY
// =============================================================================

// Inventory accumulates positions in insertion order.
type Inventory struct {
	positions map[positionKey]Position
	order     []positionKey
}

// NewInventory returns an empty inventory.
func NewInventory() *Inventory {
	return &Inventory{positions: make(map[positionKey]Position)}
}

// Add merges pos into the inventory.
func (inv *Inventory) Add(pos Position) {
	k := pos.key()
	cur, ok := inv.positions[k]
	if !ok {
		inv.positions[k] = pos
		inv.order = append(inv.order, k)
		return
	}
	cur.Units = ledger.Amount{Number: cur.Units.Number.Add(pos.Units.Number), Currency: cur.Units.Currency}
	inv.positions[k] = cur
}

// Positions returns the non-zero positions in insertion order.
func (inv *Inventory) Positions() []Position {
	out := make([]Position, 0, len(inv.order))
	for _, k := range inv.order {
		if p := inv.positions[k]; !p.Units.IsZero() {
			out = append(out, p)
		}
	}
	return out
}

// Units returns the quantity held in the bucket of pos.
func (inv *Inventory) Units(pos Position) decimal.Decimal {
	return inv.positions[pos.key()].Units.Number
}

// IsSmall reports whether every position is within tolerance.
func (inv *Inventory) IsSmall(tol Tolerances) bool {
	for _, p := range inv.positions {
		if p.Units.Number.Abs().GreaterThan(tol.Get(p.Units.Currency)) {
			return false
		}
	}
	return true
}

// =============================================================================
// TOLERANCES
// =============================================================================

var half = decimal.RequireFromString("0.5")

// Tolerances maps currencies to the largest residual considered zero.
type Tolerances struct {
	byCurrency map[string]decimal.Decimal
	fallback   decimal.Decimal
}

// InferTolerances derives tolerances from the precision of the numbers in
// postings: a number with n decimal places allows 0.5 * 10^-n. Integers and
// unseen currencies fall back to def.
func InferTolerances(postings []ledger.Posting, def decimal.Decimal) Tolerances {
	t := Tolerances{byCurrency: map[string]decimal.Decimal{}, fallback: def}
	for _, p := range postings {
		t.observe(p.Units)
		if p.Price != nil {
			t.observe(ledger.Amount{Number: p.Units.Number.Mul(p.Price.Number), Currency: p.Price.Currency})
		}
	}
	return t
}

func (t Tolerances) observe(a ledger.Amount) {
	tol, ok := ToleranceOf(a.Number)
	if !ok {
		return
	}
	if cur, seen := t.byCurrency[a.Currency]; !seen || tol.GreaterThan(cur) {
		t.byCurrency[a.Currency] = tol
	}
}

// Get returns the tolerance for currency.
func (t Tolerances) Get(currency string) decimal.Decimal {
	if tol, ok := t.byCurrency[currency]; ok {
		return tol
	}
	return t.fallback
}

// ToleranceOf returns 0.5 * 10^exponent for numbers written with decimals.
func ToleranceOf(d decimal.Decimal) (decimal.Decimal, bool) {
	exp := d.Exponent()
	if exp >= 0 {
		return decimal.Zero, false
	}
	return half.Shift(exp), true
}
