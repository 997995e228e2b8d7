/*
resolver.go - Cross-ledger link resolution

PURPOSE:
  Takes the unsplit entries of every included ledger plus the declared
  Links and returns one entry list in which each pair (or chain) of
  complementary transactions is replaced by a single merged transaction.

ALGORITHM:
  1. Validate links. An endpoint used by more than one link, or naming an
     unknown ledger, invalidates the link; it is reported and skipped.
  2. For every near transaction on a link account, compute the feature its
     complement must have and look for it among the complement ledger's
     transactions dated the same day or the day after. Exactly one match
     adds an edge; zero or several is an unresolved link. Near transactions
     repeating a same-day feature are unresolved duplicates, and so are
     near transactions matching the same complement.
  3. Complement transactions that no near transaction matched are orphans.
  4. Connected components of the edge graph are merged in handle order.
     A component that cannot be merged is emitted unmerged.

  All failures here are soft: they are logged and returned, and every
  transaction not merged is emitted as it came in. Each output entry
  carries an Origin, so callers can map merged postings back to the
  ledger and entry they were booked in.
*/
package link

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/warp/ledger-share/ledger"
)

// Resolver merges linked transactions across ledgers.
type Resolver struct {
	log zerolog.Logger
}

// NewResolver creates a resolver logging to log.
func NewResolver(log zerolog.Logger) *Resolver {
	return &Resolver{log: log}
}

// Result is the outcome of one resolution.
type Result struct {
	// Entries holds every ledger's entries in declaration order, merged
	// transactions in place of their first member.
	Entries []ledger.Entry
	// Errors holds soft *ledger.EntryError values.
	Errors []error
	// Origins holds, for each entry of Entries, where it came from.
	Origins []Origin
	// Merged counts the merged components.
	Merged int
}

// Origin locates an output entry in the input ledgers. For a merged
// transaction it is the first member, and Postings locates every posting.
type Origin struct {
	Ledger   int
	Entry    int
	Merged   bool
	Postings []PostingOrigin
}

// PostingOrigin locates one posting of a merged transaction.
type PostingOrigin struct {
	Ledger  int
	Entry   int
	Posting int
}

type mergedTx struct {
	tx      ledger.Transaction
	sources []PostingOrigin
}

type graph struct {
	edges map[Handle][]Handle
	drops map[Handle]map[string]bool
}

func (g *graph) connect(a, b Handle, dropA, dropB string) {
	g.edges[a] = append(g.edges[a], b)
	g.edges[b] = append(g.edges[b], a)
	g.drop(a, dropA)
	g.drop(b, dropB)
}

func (g *graph) drop(h Handle, account string) {
	set, ok := g.drops[h]
	if !ok {
		set = make(map[string]bool)
		g.drops[h] = set
	}
	set[account] = true
}

// Resolve matches and merges the transactions of ledgers along links.
func (r *Resolver) Resolve(ledgers []Ledger, links []Link) Result {
	var res Result
	valid := r.validate(ledgers, links, &res)

	a := newArena(ledgers)
	g := &graph{edges: make(map[Handle][]Handle), drops: make(map[Handle]map[string]bool)}
	for _, l := range valid {
		r.match(a, g, l, &res)
	}

	replace := make(map[Handle]mergedTx)
	absorbed := make(map[Handle]bool)
	visited := make(map[Handle]bool)
	for i := range a.slots {
		h := Handle(i)
		if visited[h] || len(g.edges[h]) == 0 {
			continue
		}
		members := component(g, h, visited)
		merged, sources, err := a.merge(members, g.drops)
		if err != nil {
			first := a.get(members[0])
			r.log.Warn().
				Str("path", first.path).
				Str("date", first.tx.Date.Format(ledger.DateLayout)).
				Int("members", len(members)).
				Err(err).
				Msg("linked transactions left unmerged")
			res.Errors = append(res.Errors, ledger.NewSoftError(first.tx, err))
			continue
		}
		replace[members[0]] = mergedTx{tx: merged, sources: sources}
		for _, m := range members[1:] {
			absorbed[m] = true
		}
		res.Merged++
	}

	for li, l := range ledgers {
		for ei, e := range l.Entries {
			origin := Origin{Ledger: li, Entry: ei}
			if h, ok := a.at[[2]int{li, ei}]; ok {
				if absorbed[h] {
					continue
				}
				if m, ok := replace[h]; ok {
					e = m.tx
					origin.Merged = true
					origin.Postings = m.sources
				}
			}
			res.Entries = append(res.Entries, e)
			res.Origins = append(res.Origins, origin)
		}
	}

	r.log.Debug().Int("links", len(valid)).Int("merged", res.Merged).Int("errors", len(res.Errors)).Msg("links resolved")
	return res
}

// =============================================================================
// VALIDATION
// =============================================================================

func (r *Resolver) validate(ledgers []Ledger, links []Link, res *Result) []Link {
	known := make(map[string]bool, len(ledgers))
	for _, l := range ledgers {
		known[l.Path] = true
	}
	uses := make(map[endpoint]int)
	for _, l := range links {
		uses[l.near()]++
		uses[l.far()]++
	}

	var valid []Link
	for _, l := range links {
		var bad *InvalidLinkError
		for _, ep := range []endpoint{l.near(), l.far()} {
			switch {
			case !known[ep.path]:
				bad = &InvalidLinkError{Path: ep.path, Account: ep.account, Reason: "ledger is not included"}
			case uses[ep] > 1:
				bad = &InvalidLinkError{Path: ep.path, Account: ep.account, Reason: "endpoint is used by more than one link"}
			}
			if bad != nil {
				break
			}
		}
		if bad != nil {
			r.log.Warn().Str("path", bad.Path).Str("account", bad.Account).Msg(bad.Reason)
			res.Errors = append(res.Errors, ledger.NewSoftError(l.Origin, bad))
			continue
		}
		valid = append(valid, l)
	}
	return valid
}

// =============================================================================
// MATCHING
// =============================================================================

func (r *Resolver) match(a *arena, g *graph, l Link, res *Result) {
	near, far := l.near(), l.far()
	farHandles := a.touching(far)
	farFeatures := make(map[Handle]string, len(farHandles))
	for _, fh := range farHandles {
		farFeatures[fh] = Feature(a.get(fh).tx, far.account, false)
	}

	unresolved := func(h Handle, ep endpoint, feature, reason string) {
		tx := a.get(h).tx
		err := &UnresolvedLinkError{Path: ep.path, Account: ep.account, Feature: feature, Reason: reason}
		r.log.Warn().
			Str("path", ep.path).
			Str("account", ep.account).
			Str("date", tx.Date.Format(ledger.DateLayout)).
			Str("feature", feature).
			Msg(reason)
		res.Errors = append(res.Errors, ledger.NewSoftError(tx, err))
	}

	seen := make(map[string]bool)
	claims := make(map[Handle][]Handle)
	var order []Handle
	for _, h := range a.touching(near) {
		tx := a.get(h).tx
		want := Feature(tx, near.account, true)
		dayKey := tx.Date.Format(ledger.DateLayout) + " " + want
		if seen[dayKey] {
			unresolved(h, near, want, "duplicates another transaction of the same day")
			continue
		}
		seen[dayKey] = true

		var candidates []Handle
		for _, fh := range farHandles {
			if farFeatures[fh] == want && inWindow(tx.Date, a.get(fh).tx.Date) {
				candidates = append(candidates, fh)
			}
		}
		switch len(candidates) {
		case 0:
			unresolved(h, near, want, fmt.Sprintf("no complementary transaction in %s", far.path))
		case 1:
			fh := candidates[0]
			if len(claims[fh]) == 0 {
				order = append(order, fh)
			}
			claims[fh] = append(claims[fh], h)
		default:
			unresolved(h, near, want, fmt.Sprintf("%d complementary transactions in %s", len(candidates), far.path))
		}
	}

	// A complement is merged with one transaction at most.
	for _, fh := range order {
		nears := claims[fh]
		if len(nears) == 1 {
			g.connect(nears[0], fh, near.account, far.account)
			continue
		}
		for _, h := range nears {
			unresolved(h, near, farFeatures[fh], fmt.Sprintf("complementary transaction in %s also matches another transaction", far.path))
		}
		unresolved(fh, far, farFeatures[fh], fmt.Sprintf("%d complementary transactions in %s", len(nears), near.path))
	}

	for _, fh := range farHandles {
		if len(claims[fh]) == 0 && farFeatures[fh] != "" {
			unresolved(fh, far, farFeatures[fh], fmt.Sprintf("no complementary transaction in %s", near.path))
		}
	}
}

// component collects the connected handles reachable from start, breadth
// first, returned in handle order.
func component(g *graph, start Handle, visited map[Handle]bool) []Handle {
	queue := []Handle{start}
	visited[start] = true
	var members []Handle
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		members = append(members, h)
		for _, next := range g.edges[h] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	return members
}

// =============================================================================
// MERGE
// =============================================================================

// merge combines members into one transaction: the first non-empty date,
// flag, payee and narration win, metadata must agree apart from source
// position keys, and postings on dropped accounts are left out.
func (a *arena) merge(members []Handle, drops map[Handle]map[string]bool) (ledger.Transaction, []PostingOrigin, error) {
	var (
		out      ledger.Transaction
		meta     = ledger.Metadata{}
		postings []ledger.Posting
		sources  []PostingOrigin
		tags     = newOrderedSet()
		links    = newOrderedSet()
	)
	for _, h := range members {
		sl := a.get(h)
		tx := sl.tx
		if out.Date.IsZero() {
			out.Date = tx.Date
		}
		if out.Flag == "" {
			out.Flag = tx.Flag
		}
		if out.Payee == "" {
			out.Payee = tx.Payee
		}
		if out.Narration == "" {
			out.Narration = tx.Narration
		}
		for _, k := range tx.Meta.Keys() {
			v := tx.Meta[k]
			cur, ok := meta[k]
			switch {
			case !ok:
				meta[k] = v
			case ledger.IsPositionKey(k):
			case !ledger.ValuesEqual(cur, v):
				return ledger.Transaction{}, nil, &MergeConflictError{Key: k, Values: []string{fmt.Sprint(cur), fmt.Sprint(v)}}
			}
		}
		tags.add(tx.Tags...)
		links.add(tx.Links...)
		for pi, p := range tx.Postings {
			if drops[h][p.Account] {
				continue
			}
			postings = append(postings, p)
			sources = append(sources, PostingOrigin{Ledger: sl.ledgerIndex, Entry: sl.entryIndex, Posting: pi})
		}
	}
	out.Tags = tags.items
	out.Links = links.items
	out.Postings = postings
	if len(meta) == 0 {
		meta = nil
	}
	// WithMeta copies every posting, so the result shares nothing with the
	// members.
	return out.WithMeta(meta), sources, nil
}

type orderedSet struct {
	seen  map[string]bool
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]bool)}
}

func (s *orderedSet) add(items ...string) {
	for _, it := range items {
		if !s.seen[it] {
			s.seen[it] = true
			s.items = append(s.items, it)
		}
	}
}
