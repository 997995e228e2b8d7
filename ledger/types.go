/*
types.go - Entry and posting data model

PURPOSE:
  The in-memory representation of a ledger: an ordered sequence of entries.
  Parsing ledger files is somebody else's job; this package only defines the
  values that the splitter, the policy database and the link resolver read
  and rebuild.

KEY CONCEPTS:
  Entry:   Sealed set of directive variants (Open, Close, Balance, Pad,
           Transaction, PolicyDirective, ProportionateAssertion, Include,
           LinkDirective). Consumers switch on Kind().
  Header:  Date + metadata shared by every variant.
  Posting: One leg of a transaction (account, units, optional cost/price).

IMMUTABILITY:
  Entries are plain values. Every With* helper returns a copy with fresh
  slices and maps so that one entry can be rendered into several viewpoints
  without any viewpoint observing another's changes.

SEE ALSO:
  - metadata.go: Metadata helpers
  - errors.go: EntryError and ErrorLog
*/
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNTS
// =============================================================================

// Amount is a signed quantity of a single currency or commodity.
type Amount struct {
	Number   decimal.Decimal
	Currency string
}

// NewAmount builds an amount from a decimal string. Panics on malformed input;
// intended for tests and constants.
func NewAmount(number, currency string) Amount {
	return Amount{Number: decimal.RequireFromString(number), Currency: currency}
}

func (a Amount) Neg() Amount {
	return Amount{Number: a.Number.Neg(), Currency: a.Currency}
}

func (a Amount) Mul(d decimal.Decimal) Amount {
	return Amount{Number: a.Number.Mul(d), Currency: a.Currency}
}

func (a Amount) IsZero() bool {
	return a.Number.IsZero()
}

// Equal compares number and currency. 10.00 USD equals 10 USD.
func (a Amount) Equal(b Amount) bool {
	return a.Currency == b.Currency && a.Number.Equal(b.Number)
}

// String renders the canonical "number currency" form.
func (a Amount) String() string {
	return a.Number.String() + " " + a.Currency
}

// Cost is the lot cost attached to a posting. Either or both of the per-unit
// and total numbers may be set.
type Cost struct {
	Number   decimal.NullDecimal
	Total    decimal.NullDecimal
	Currency string
	Date     time.Time
	Label    string
}

// String renders a stable form used for inventory and conversion keys.
func (c Cost) String() string {
	var b strings.Builder
	b.WriteString("{")
	if c.Number.Valid {
		b.WriteString(c.Number.Decimal.String())
	}
	if c.Total.Valid {
		b.WriteString(" # ")
		b.WriteString(c.Total.Decimal.String())
	}
	b.WriteString(" ")
	b.WriteString(c.Currency)
	if !c.Date.IsZero() {
		b.WriteString(", ")
		b.WriteString(c.Date.Format(DateLayout))
	}
	if c.Label != "" {
		fmt.Fprintf(&b, ", %q", c.Label)
	}
	b.WriteString("}")
	return b.String()
}

// =============================================================================
// POSTINGS
// =============================================================================

// Posting is one leg of a transaction.
type Posting struct {
	Account string
	Units   Amount
	Cost    *Cost
	Price   *Amount // per-unit
	Flag    string
	Meta    Metadata
}

// Weight is the value the posting contributes to the transaction balance:
// units at cost, else units at price, else the units themselves.
func (p Posting) Weight() Amount {
	if p.Cost != nil {
		w := decimal.Zero
		if p.Cost.Number.Valid {
			w = w.Add(p.Units.Number.Mul(p.Cost.Number.Decimal))
		}
		if p.Cost.Total.Valid {
			w = w.Add(p.Cost.Total.Decimal.Mul(decimal.NewFromInt(int64(p.Units.Number.Sign()))))
		}
		return Amount{Number: w, Currency: p.Cost.Currency}
	}
	if p.Price != nil {
		return Amount{Number: p.Units.Number.Mul(p.Price.Number), Currency: p.Price.Currency}
	}
	return p.Units
}

// WithAccount returns a copy of the posting booked to another account.
func (p Posting) WithAccount(account string) Posting {
	out := p.clone()
	out.Account = account
	return out
}

// WithUnits returns a copy with different units.
func (p Posting) WithUnits(units Amount) Posting {
	out := p.clone()
	out.Units = units
	return out
}

// WithCost returns a copy with a different cost (nil removes it).
func (p Posting) WithCost(cost *Cost) Posting {
	out := p.clone()
	out.Cost = cost
	return out
}

// WithMeta returns a copy carrying the given metadata.
func (p Posting) WithMeta(meta Metadata) Posting {
	out := p.clone()
	out.Meta = meta.Clone()
	return out
}

func (p Posting) clone() Posting {
	out := p
	if p.Cost != nil {
		c := *p.Cost
		out.Cost = &c
	}
	if p.Price != nil {
		pr := *p.Price
		out.Price = &pr
	}
	out.Meta = p.Meta.Clone()
	return out
}

// =============================================================================
// ENTRIES
// =============================================================================

// DateLayout is the calendar date format used across the module.
const DateLayout = "2006-01-02"

// Kind tags an entry variant.
type Kind int

const (
	KindOpen Kind = iota
	KindClose
	KindBalance
	KindPad
	KindTransaction
	KindPolicy
	KindProportionate
	KindInclude
	KindLink
)

var kindNames = map[Kind]string{
	KindOpen:          "open",
	KindClose:         "close",
	KindBalance:       "balance",
	KindPad:           "pad",
	KindTransaction:   "transaction",
	KindPolicy:        "policy",
	KindProportionate: "proportionate",
	KindInclude:       "include",
	KindLink:          "link",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a kind name back to its tag.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// Header carries the fields every entry has.
type Header struct {
	Date time.Time
	Meta Metadata
}

// Head returns the header. Promoted into every variant.
func (h Header) Head() Header { return h }

func (h Header) withMeta(meta Metadata) Header {
	return Header{Date: h.Date, Meta: meta.Clone()}
}

// Entry is implemented only by the variants in this file.
type Entry interface {
	Kind() Kind
	Head() Header
	sealed()
}

// Open declares an account.
type Open struct {
	Header
	Account    string
	Currencies []string
}

// Close retires an account.
type Close struct {
	Header
	Account string
}

// Balance asserts an account's balance in one currency at the start of Date.
type Balance struct {
	Header
	Account   string
	Amount    Amount
	Tolerance decimal.NullDecimal
}

// Pad fills Account from Source so that the following balance holds.
type Pad struct {
	Header
	Account string
	Source  string
}

// Transaction is a balanced set of postings.
type Transaction struct {
	Header
	Flag      string
	Payee     string
	Narration string
	Tags      []string
	Links     []string
	Postings  []Posting
}

// PolicyDirective declares a sharing policy. Name is a bare policy name, an
// account, or an account subtree written as "Prefix:*". The definition
// itself is carried in the share-* metadata keys.
type PolicyDirective struct {
	Header
	Name string
}

// ProportionateAssertion asserts that the per-party balances of Account are
// proportional to its policy weights.
type ProportionateAssertion struct {
	Header
	Account string
}

// Include pulls another ledger into this one.
type Include struct {
	Header
	Path string
}

// LinkDirective declares that Account in ledger Path and ComplementAccount in
// ledger ComplementPath record the same relationship.
type LinkDirective struct {
	Header
	Path              string
	Account           string
	ComplementPath    string
	ComplementAccount string
}

func (Open) Kind() Kind                   { return KindOpen }
func (Close) Kind() Kind                  { return KindClose }
func (Balance) Kind() Kind                { return KindBalance }
func (Pad) Kind() Kind                    { return KindPad }
func (Transaction) Kind() Kind            { return KindTransaction }
func (PolicyDirective) Kind() Kind        { return KindPolicy }
func (ProportionateAssertion) Kind() Kind { return KindProportionate }
func (Include) Kind() Kind                { return KindInclude }
func (LinkDirective) Kind() Kind          { return KindLink }

func (Open) sealed()                   {}
func (Close) sealed()                  {}
func (Balance) sealed()                {}
func (Pad) sealed()                    {}
func (Transaction) sealed()            {}
func (PolicyDirective) sealed()        {}
func (ProportionateAssertion) sealed() {}
func (Include) sealed()                {}
func (LinkDirective) sealed()          {}

// WithPostings returns a copy of the transaction with new postings.
func (t Transaction) WithPostings(postings []Posting) Transaction {
	out := t.clone()
	out.Postings = append([]Posting(nil), postings...)
	return out
}

// WithMeta returns a copy of the transaction with new metadata.
func (t Transaction) WithMeta(meta Metadata) Transaction {
	out := t.clone()
	out.Header = t.Header.withMeta(meta)
	return out
}

// Touches reports whether any posting is booked to account.
func (t Transaction) Touches(account string) bool {
	for _, p := range t.Postings {
		if p.Account == account {
			return true
		}
	}
	return false
}

func (t Transaction) clone() Transaction {
	out := t
	out.Header = t.Header.withMeta(t.Meta)
	out.Tags = append([]string(nil), t.Tags...)
	out.Links = append([]string(nil), t.Links...)
	out.Postings = make([]Posting, len(t.Postings))
	for i, p := range t.Postings {
		out.Postings[i] = p.clone()
	}
	return out
}

// WithAccount returns a copy of the balance assertion on another account.
func (b Balance) WithAccount(account string) Balance {
	out := b
	out.Header = b.Header.withMeta(b.Meta)
	out.Account = account
	return out
}

// WithAmount returns a copy asserting another amount.
func (b Balance) WithAmount(amount Amount) Balance {
	out := b
	out.Header = b.Header.withMeta(b.Meta)
	out.Amount = amount
	return out
}

// WithMeta returns a copy carrying the given metadata.
func (b Balance) WithMeta(meta Metadata) Balance {
	out := b
	out.Header = b.Header.withMeta(meta)
	return out
}

// WithAccount returns a copy of the open directive for another account.
func (o Open) WithAccount(account string) Open {
	out := o
	out.Header = o.Header.withMeta(o.Meta)
	out.Account = account
	out.Currencies = append([]string(nil), o.Currencies...)
	return out
}

// WithAccount returns a copy of the close directive for another account.
func (c Close) WithAccount(account string) Close {
	out := c
	out.Header = c.Header.withMeta(c.Meta)
	out.Account = account
	return out
}

// WithMeta returns a copy carrying the given metadata.
func (o Open) WithMeta(meta Metadata) Open {
	out := o.WithAccount(o.Account)
	out.Header = o.Header.withMeta(meta)
	return out
}

// WithMeta returns a copy carrying the given metadata.
func (c Close) WithMeta(meta Metadata) Close {
	out := c
	out.Header = c.Header.withMeta(meta)
	return out
}

// WithMeta returns a copy carrying the given metadata.
func (p Pad) WithMeta(meta Metadata) Pad {
	out := p
	out.Header = p.Header.withMeta(meta)
	return out
}

// =============================================================================
// ACCOUNT NAMES
// =============================================================================

// AccountSep separates account name components.
const AccountSep = ":"

// JoinAccount joins components into an account name.
func JoinAccount(parts ...string) string {
	return strings.Join(parts, AccountSep)
}

// Parent returns the parent account, or "" for a root account.
func Parent(account string) string {
	i := strings.LastIndex(account, AccountSep)
	if i < 0 {
		return ""
	}
	return account[:i]
}

// Ancestors returns the strict ancestors of account, shallowest first.
// Ancestors("A:B:C") is ["A", "A:B"].
func Ancestors(account string) []string {
	parts := strings.Split(account, AccountSep)
	out := make([]string, 0, len(parts)-1)
	for i := 1; i < len(parts); i++ {
		out = append(out, strings.Join(parts[:i], AccountSep))
	}
	return out
}

// IsUnder reports whether account equals root or is one of its descendants.
func IsUnder(account, root string) bool {
	return account == root || strings.HasPrefix(account, root+AccountSep)
}
