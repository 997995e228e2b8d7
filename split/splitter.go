/*
splitter.go - Allocates a transaction's postings across parties

PURPOSE:
  Given a transaction and the Policy Database, produce an Allocation: every
  posting split into one posting per owning party, the receivables that keep
  each party's books balanced, and the per-party residuals they came from.
  Rendering a viewpoint (render.go) only selects and renames parts of an
  Allocation.

ALGORITHM:
  1. Resolve every posting's policy from the transaction and posting
     definitions (Resolve). Anything that does not resolve fails the
     transaction. Callers holding policies resolved earlier start at
     Allocate instead.
  2. Strip share metadata. Weighted and Prorated postings go into separate
     groups.
  3. Feed priced/costed postings to the ConversionTable.
  4. Split weighted postings by weight/total. Each split's weight (its value
     without price or cost) goes into the owner's Inventory. Postings booked
     directly below the receivable root instead produce a reversed
     receivable for the owner. Every split of a posting with
     prorated_included also adds its weight to its owner's prorated
     weight. A payment that should not count is marked
     share_prorated_included: false.
  5. Split prorated postings by the weights gathered in 4.
  6. Every party whose Inventory is not small gets one pool complement per
     position on Receivable:<Party>, expressed through the ConversionTable.
  7. Splits on tracked accounts are realized into the RealAccount tree.

  The sum of all pool complements is zero for any balanced transaction
  whose postings avoid the receivable root.

SEE ALSO:
  - render.go: Viewpoint rendering of an Allocation
  - assertions.go: Balance and proportionate assertions
*/
package split

import (
	"sort"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/ledger-share/ledger"
	"github.com/warp/ledger-share/policy"
)

// DefaultReceivableRoot is used when no root is configured.
const DefaultReceivableRoot = "Assets:Receivable"

// Config holds the splitter settings.
type Config struct {
	ReceivableRoot   string
	DefaultTolerance decimal.Decimal
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		ReceivableRoot:   DefaultReceivableRoot,
		DefaultTolerance: decimal.RequireFromString("0.005"),
	}
}

// Splitter splits transactions for one ledger pass. It owns the
// RealAccount tree built during that pass.
type Splitter struct {
	cfg     Config
	db      *policy.Database
	tree    *RealAccount
	tracked map[string]bool
	log     zerolog.Logger
}

// NewSplitter creates a splitter reading policies from db.
func NewSplitter(db *policy.Database, cfg Config, log zerolog.Logger) *Splitter {
	if cfg.ReceivableRoot == "" {
		cfg.ReceivableRoot = DefaultReceivableRoot
	}
	return &Splitter{
		cfg:     cfg,
		db:      db,
		tree:    NewRealAccount(),
		tracked: make(map[string]bool),
		log:     log,
	}
}

// Track marks account as referenced by an assertion so that splits on it,
// or on its descendants, are realized.
func (s *Splitter) Track(account string) {
	s.tracked[account] = true
}

// Tree exposes the realized balances.
func (s *Splitter) Tree() *RealAccount {
	return s.tree
}

// Config returns the active settings.
func (s *Splitter) Config() Config {
	return s.cfg
}

// ReceivableAccount returns the receivable account of party.
func (s *Splitter) ReceivableAccount(party string) string {
	return ledger.JoinAccount(s.cfg.ReceivableRoot, party)
}

func (s *Splitter) isTracked(account string) bool {
	if s.tracked[account] {
		return true
	}
	for _, anc := range ledger.Ancestors(account) {
		if s.tracked[anc] {
			return true
		}
	}
	return false
}

// =============================================================================
// ALLOCATION
// =============================================================================

// Share is one party's part of an original posting.
type Share struct {
	Party   string
	Index   int // index of the original posting
	Posting ledger.Posting
}

// Allocation is the outcome of splitting one transaction.
type Allocation struct {
	// Original is the transaction with share metadata stripped.
	Original ledger.Transaction
	// Parties lists every party holding a split, sorted.
	Parties []string
	// Splits holds the per-party postings in original posting order.
	Splits []Share
	// Receivables holds the reversed receivables of postings booked directly
	// below the receivable root.
	Receivables []Share
	// Complements holds each party's pool complement postings.
	Complements map[string][]ledger.Posting
	// Residuals holds the inventories the complements were built from.
	Residuals map[string]*Inventory

	table      *ConversionTable
	tolerances Tolerances
	root       string
}

type resolvedPosting struct {
	index   int
	posting ledger.Posting
	policy  policy.Policy
}

// Split allocates tx with the policies the database gives its postings and
// realizes the result. The returned allocation never shares slices or maps
// with tx.
func (s *Splitter) Split(tx ledger.Transaction) (*Allocation, error) {
	policies, err := s.Resolve(tx)
	if err != nil {
		return nil, err
	}
	alloc, err := s.Allocate(tx, policies)
	if err != nil {
		return nil, err
	}
	s.Realize(alloc, nil)
	return alloc, nil
}

// Resolve returns the policy of every posting of tx, in posting order.
func (s *Splitter) Resolve(tx ledger.Transaction) ([]policy.Policy, error) {
	txDef, err := policy.ParseDefinition(tx.Meta)
	if err != nil {
		return nil, err
	}
	policies := make([]policy.Policy, len(tx.Postings))
	for i, p := range tx.Postings {
		postingDef, err := policy.ParseDefinition(p.Meta)
		if err != nil {
			return nil, err
		}
		pol, err := s.db.PostingPolicy(p.Account, postingDef, txDef)
		if err != nil {
			return nil, err
		}
		policies[i] = pol
	}
	return policies, nil
}

// Allocate splits tx with one policy per posting, resolved beforehand. Share
// metadata left on tx is stripped and otherwise ignored. Nothing is
// realized.
func (s *Splitter) Allocate(tx ledger.Transaction, policies []policy.Policy) (*Allocation, error) {
	if len(policies) != len(tx.Postings) {
		return nil, &PolicyCountError{Postings: len(tx.Postings), Policies: len(policies)}
	}
	stripped := tx.WithMeta(policy.StripMetadata(tx.Meta))
	for i, p := range stripped.Postings {
		stripped.Postings[i] = p.WithMeta(policy.StripMetadata(p.Meta))
	}

	var weighted, prorated []resolvedPosting
	for i, pol := range policies {
		rp := resolvedPosting{index: i, posting: stripped.Postings[i], policy: pol}
		if pol.IsProrated() {
			prorated = append(prorated, rp)
		} else {
			weighted = append(weighted, rp)
		}
	}

	alloc := &Allocation{
		Original:    stripped,
		Complements: make(map[string][]ledger.Posting),
		Residuals:   make(map[string]*Inventory),
		table:       NewConversionTable(),
		tolerances:  InferTolerances(stripped.Postings, s.cfg.DefaultTolerance),
		root:        s.cfg.ReceivableRoot,
	}
	for _, rp := range weighted {
		alloc.table.Add(rp.posting, rp.policy)
	}
	for _, rp := range prorated {
		alloc.table.Add(rp.posting, rp.policy)
	}

	for _, rp := range prorated {
		if rp.posting.Weight().Currency != prorated[0].posting.Weight().Currency {
			return nil, ErrProratedCurrency
		}
	}
	proration := map[string]decimal.Decimal{}

	for _, rp := range weighted {
		w, _ := rp.policy.Weighted()
		shares, err := s.splitPosting(alloc, rp, w)
		if err != nil {
			return nil, err
		}
		if len(prorated) > 0 && rp.policy.ProratedIncluded {
			for _, sh := range shares {
				proration[sh.Party] = proration[sh.Party].Add(sh.Posting.Weight().Number)
			}
		}
	}

	if len(prorated) > 0 {
		derived, err := prorationWeights(proration)
		if err != nil {
			return nil, err
		}
		for _, rp := range prorated {
			if _, err := s.splitPosting(alloc, rp, derived); err != nil {
				return nil, err
			}
		}
	}

	sort.SliceStable(alloc.Splits, func(i, j int) bool {
		return alloc.Splits[i].Index < alloc.Splits[j].Index
	})
	sort.SliceStable(alloc.Receivables, func(i, j int) bool {
		return alloc.Receivables[i].Index < alloc.Receivables[j].Index
	})

	for _, party := range alloc.Parties {
		inv, ok := alloc.Residuals[party]
		if !ok || inv.IsSmall(alloc.tolerances) {
			continue
		}
		for _, pos := range inv.Positions() {
			conv, err := alloc.table.Resolve(pos)
			if err != nil {
				return nil, err
			}
			alloc.Complements[party] = append(alloc.Complements[party], conv.Neg().Posting(s.ReceivableAccount(party)))
		}
	}

	s.log.Debug().
		Str("date", tx.Date.Format(ledger.DateLayout)).
		Str("narration", tx.Narration).
		Strs("parties", alloc.Parties).
		Int("splits", len(alloc.Splits)).
		Msg("transaction split")
	return alloc, nil
}

func (s *Splitter) splitPosting(alloc *Allocation, rp resolvedPosting, w policy.Weighted) ([]Share, error) {
	total := w.Total()
	if total.IsZero() {
		return nil, ErrZeroWeight
	}
	onReceivable := ledger.Parent(rp.posting.Account) == s.cfg.ReceivableRoot

	var shares []Share
	for _, party := range w.Parties() {
		weight := w.Weights[party]
		if weight.IsZero() {
			continue
		}
		sp := scalePosting(rp.posting, weight, total)
		sh := Share{Party: party, Index: rp.index, Posting: sp}
		shares = append(shares, sh)
		alloc.Splits = append(alloc.Splits, sh)
		alloc.addParty(party)

		value := Position{Units: sp.Weight()}
		if onReceivable {
			alloc.Receivables = append(alloc.Receivables, Share{
				Party:   party,
				Index:   rp.index,
				Posting: value.Neg().Posting(s.ReceivableAccount(party)),
			})
			continue
		}
		inv, ok := alloc.Residuals[party]
		if !ok {
			inv = NewInventory()
			alloc.Residuals[party] = inv
		}
		inv.Add(value)
	}
	return shares, nil
}

// scalePosting returns p's units, and its total cost if any, scaled by
// weight/total. Multiplying before dividing keeps exact shares exact.
func scalePosting(p ledger.Posting, weight, total decimal.Decimal) ledger.Posting {
	units := ledger.Amount{Number: p.Units.Number.Mul(weight).Div(total), Currency: p.Units.Currency}
	out := p.WithUnits(units)
	if out.Cost != nil && out.Cost.Total.Valid {
		c := *out.Cost
		c.Total = decimal.NewNullDecimal(c.Total.Decimal.Mul(weight).Div(total))
		out = out.WithCost(&c)
	}
	return out
}

func prorationWeights(acc map[string]decimal.Decimal) (policy.Weighted, error) {
	weights := map[string]decimal.Decimal{}
	total := decimal.Zero
	for party, v := range acc {
		if v.IsZero() {
			continue
		}
		weights[party] = v
		total = total.Add(v)
	}
	if len(weights) == 0 || total.IsZero() {
		return policy.Weighted{}, ErrEmptyProration
	}
	if total.IsNegative() {
		for party, v := range weights {
			weights[party] = v.Neg()
		}
	}
	return policy.Weighted{Weights: weights}, nil
}

func (a *Allocation) addParty(party string) {
	i := sort.SearchStrings(a.Parties, party)
	if i < len(a.Parties) && a.Parties[i] == party {
		return
	}
	a.Parties = append(a.Parties, "")
	copy(a.Parties[i+1:], a.Parties[i:])
	a.Parties[i] = party
}

// Realize adds the splits of alloc on tracked accounts to the RealAccount
// tree. A non-nil owns limits it to the splits of the original postings
// whose index it accepts.
func (s *Splitter) Realize(alloc *Allocation, owns func(index int) bool) {
	if len(s.tracked) == 0 {
		return
	}
	for _, shares := range [][]Share{alloc.Splits, alloc.Receivables} {
		for _, sh := range shares {
			if owns != nil && !owns(sh.Index) {
				continue
			}
			if s.isTracked(sh.Posting.Account) {
				s.tree.Add(sh.Posting.Account, sh.Party, sh.Posting.Units)
			}
		}
	}
}

// HasSplits reports whether party holds any split of the transaction.
func (a *Allocation) HasSplits(party string) bool {
	for _, sh := range a.Splits {
		if sh.Party == party {
			return true
		}
	}
	return false
}

// Tolerances returns the tolerances inferred for the transaction.
func (a *Allocation) Tolerances() Tolerances {
	return a.tolerances
}
