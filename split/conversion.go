/*
conversion.go - Expressing residuals in the commodity they were traded in

PURPOSE:
  A receivable normally carries the weight currency of the postings it
  balances. A priced or costed posting whose policy disables conversion
  asks for its receivable in the original commodity instead. The
  ConversionTable records, per weight currency, the one conversion the
  transaction declared, or marks the currency ambiguous when it declared
  several.

SEE ALSO:
  - splitter.go: Builds the table and resolves pool complements through it
  - inventory.go: Positions being converted
*/
package split

import (
	"github.com/shopspring/decimal"

	"github.com/warp/ledger-share/ledger"
	"github.com/warp/ledger-share/policy"
)

// Conversion says how an amount in a weight currency is expressed in the
// commodity it was bought or sold in.
type Conversion struct {
	From  string
	Price *ledger.Amount
	Cost  *ledger.Cost
	Rate  decimal.Decimal
}

type conversionEntry struct {
	conv      Conversion
	tuple     string
	ambiguous bool
}

// ConversionTable is built once per transaction from the priced or costed
// postings whose policy disables conversion of their receivables into the
// weight currency.
type ConversionTable struct {
	entries map[string]*conversionEntry
}

// NewConversionTable returns an empty table.
func NewConversionTable() *ConversionTable {
	return &ConversionTable{entries: make(map[string]*conversionEntry)}
}

// Add records p if it carries a price or cost and pol has conversion off.
func (t *ConversionTable) Add(p ledger.Posting, pol policy.Policy) {
	if pol.Conversion || (p.Price == nil && p.Cost == nil) {
		return
	}
	weight := p.Weight()
	conv := Conversion{From: p.Units.Currency}
	tuple := p.Units.Currency
	switch {
	case p.Cost != nil:
		c := ledger.Cost{Currency: p.Cost.Currency, Date: p.Cost.Date, Label: p.Cost.Label}
		rate := decimal.Zero
		if p.Cost.Number.Valid {
			rate = p.Cost.Number.Decimal
		} else if p.Cost.Total.Valid && !p.Units.Number.IsZero() {
			rate = p.Cost.Total.Decimal.Div(p.Units.Number.Abs())
		}
		c.Number = decimal.NewNullDecimal(rate)
		conv.Cost = &c
		conv.Rate = rate
		tuple += c.String()
	default:
		pr := *p.Price
		conv.Price = &pr
		conv.Rate = pr.Number
		tuple += "@" + pr.String()
	}

	e, ok := t.entries[weight.Currency]
	if !ok {
		t.entries[weight.Currency] = &conversionEntry{conv: conv, tuple: tuple}
		return
	}
	if e.tuple != tuple {
		e.ambiguous = true
	}
}

// IsAmbiguous reports whether currency has conflicting conversions.
func (t *ConversionTable) IsAmbiguous(currency string) bool {
	e, ok := t.entries[currency]
	return ok && e.ambiguous
}

// Lookup returns the conversion for currency, if one is known and unique.
func (t *ConversionTable) Lookup(currency string) (Conversion, bool) {
	e, ok := t.entries[currency]
	if !ok || e.ambiguous {
		return Conversion{}, false
	}
	return e.conv, true
}

// Resolve expresses pos through the table. Positions that already carry a
// price or cost, and currencies without an entry, are returned unchanged.
func (t *ConversionTable) Resolve(pos Position) (Position, error) {
	if pos.Price != nil || pos.Cost != nil {
		return pos, nil
	}
	e, ok := t.entries[pos.Units.Currency]
	if !ok {
		return pos, nil
	}
	if e.ambiguous {
		return Position{}, &AmbiguousConversionError{Currency: pos.Units.Currency}
	}
	if e.conv.Rate.IsZero() {
		return pos, nil
	}
	out := Position{Units: ledger.Amount{Number: pos.Units.Number.Div(e.conv.Rate), Currency: e.conv.From}}
	if e.conv.Price != nil {
		pr := *e.conv.Price
		out.Price = &pr
	}
	if e.conv.Cost != nil {
		c := *e.conv.Cost
		out.Cost = &c
	}
	return out, nil
}
