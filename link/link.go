/*
link.go - Links, ledgers and the transaction arena

PURPOSE:
  Two parties who keep separate books record the same event twice: Alice
  books a loan to Bob on Assets:Bob, Bob books the same loan on
  Liabilities:Alice. A Link declares that correspondence between accounts
  of two included ledgers. The resolver finds the transaction pairs and
  merges each pair into a single entry.

KEY CONCEPTS:
  Handle:  Stable integer index of a transaction in the arena. Handles are
           assigned in ledger declaration order, then entry order, so graph
           edges and merge results never depend on memory identity.
  Feature: The comparison key of a transaction on one account: the optional
           explicit link key plus the sorted multiset of amounts posted to
           that account.

SEE ALSO:
  - resolver.go: Matching, orphan detection and merging
*/
package link

import (
	"sort"
	"strings"
	"time"

	"github.com/warp/ledger-share/ledger"
)

// MetaLinkKey is the transaction metadata key holding an explicit link key.
const MetaLinkKey = "link"

// Link is a declared correspondence between Account in ledger Path and
// ComplementAccount in ledger ComplementPath.
type Link struct {
	Path              string
	Account           string
	ComplementPath    string
	ComplementAccount string
	// Origin is the directive the link was declared by, for error reporting.
	Origin ledger.Entry
}

// FromDirective builds a link from its directive.
func FromDirective(d ledger.LinkDirective) Link {
	return Link{
		Path:              d.Path,
		Account:           d.Account,
		ComplementPath:    d.ComplementPath,
		ComplementAccount: d.ComplementAccount,
		Origin:            d,
	}
}

// Ledger holds the entries of one included ledger, before splitting.
type Ledger struct {
	Path    string
	Entries []ledger.Entry
}

type endpoint struct {
	path    string
	account string
}

func (l Link) near() endpoint { return endpoint{path: l.Path, account: l.Account} }
func (l Link) far() endpoint  { return endpoint{path: l.ComplementPath, account: l.ComplementAccount} }

// =============================================================================
// ARENA
// =============================================================================

// Handle identifies a transaction in the arena.
type Handle int

type slot struct {
	path        string
	ledgerIndex int
	entryIndex  int
	tx          ledger.Transaction
}

// arena holds every transaction of the linked ledgers.
type arena struct {
	slots  []slot
	byPath map[string][]Handle
	// at maps ledger index and entry index to a handle.
	at map[[2]int]Handle
}

func newArena(ledgers []Ledger) *arena {
	a := &arena{byPath: make(map[string][]Handle), at: make(map[[2]int]Handle)}
	for li, l := range ledgers {
		for ei, e := range l.Entries {
			tx, ok := e.(ledger.Transaction)
			if !ok {
				continue
			}
			h := Handle(len(a.slots))
			a.slots = append(a.slots, slot{path: l.Path, ledgerIndex: li, entryIndex: ei, tx: tx})
			a.byPath[l.Path] = append(a.byPath[l.Path], h)
			a.at[[2]int{li, ei}] = h
		}
	}
	return a
}

func (a *arena) get(h Handle) slot {
	return a.slots[h]
}

// touching returns the handles of path's transactions booked to account.
func (a *arena) touching(ep endpoint) []Handle {
	var out []Handle
	for _, h := range a.byPath[ep.path] {
		if a.slots[h].tx.Touches(ep.account) {
			out = append(out, h)
		}
	}
	return out
}

// =============================================================================
// FEATURES
// =============================================================================

// Feature computes the comparison key of tx on account. With negate set the
// amounts are negated, which gives the feature the complement must carry.
// The feature of a transaction that does not touch account is "".
func Feature(tx ledger.Transaction, account string, negate bool) string {
	var amounts []string
	for _, p := range tx.Postings {
		if p.Account != account {
			continue
		}
		units := p.Units
		if negate {
			units = units.Neg()
		}
		amounts = append(amounts, units.String())
	}
	if len(amounts) == 0 {
		return ""
	}
	sort.Strings(amounts)
	key, _ := tx.Meta.String(MetaLinkKey)
	return key + "|" + strings.Join(amounts, ",")
}

// inWindow reports whether other falls on date or the day after.
func inWindow(date, other time.Time) bool {
	return !other.Before(date) && !other.After(date.AddDate(0, 0, 1))
}
