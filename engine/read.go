package engine

import (
	"github.com/warp/ledger-share/ledger"
	"github.com/warp/ledger-share/link"
	"github.com/warp/ledger-share/policy"
)

// item is one entry of the render input, tagged with the ledger it was
// read from.
type item struct {
	entry ledger.Entry
	scope *scope

	// policies holds the policy of every posting of a transaction,
	// resolved against the database of the ledger the posting was booked
	// in. owners is set for merged transactions: the scope of every
	// posting. assertion is the policy of a balance or proportionate
	// assertion. failed marks an entry whose error is already recorded.
	policies  []policy.Policy
	owners    []*scope
	assertion *policy.Policy
	failed    bool
}

func (it item) owner(posting int) *scope {
	if it.owners == nil {
		return it.scope
	}
	return it.owners[posting]
}

type reader func(r *ledgerReader, entry ledger.Entry)

// readers maps the kinds the reading stage acts on to their reader. Every
// other kind is kept for rendering as is. Filled in init because the
// include reader reaches back into read.
var readers map[ledger.Kind]reader

func init() {
	readers = map[ledger.Kind]reader{
		ledger.KindTransaction:   (*ledgerReader).readTransaction,
		ledger.KindBalance:       (*ledgerReader).readBalance,
		ledger.KindProportionate: (*ledgerReader).readProportionate,
		ledger.KindPolicy:        (*ledgerReader).readPolicy,
		ledger.KindInclude:       (*ledgerReader).readInclude,
		ledger.KindLink:          (*ledgerReader).readLink,
	}
}

type includedLedger struct {
	path  string
	items []item
}

// ledgerReader is the reading state of one ledger.
type ledgerReader struct {
	p        *pass
	scope    *scope
	own      []item
	included []includedLedger
	links    []link.Link
	err      error
}

// read collects the entries of one ledger and of the ledgers it includes,
// linked transactions merged, in render order.
func (p *pass) read(path string, entries []ledger.Entry) ([]item, error) {
	r := &ledgerReader{p: p, scope: p.newScope(path)}
	for _, entry := range entries {
		if err := p.ctx.Err(); err != nil {
			return nil, err
		}
		p.e.metrics.EntryProcessed(entry.Kind().String())
		if fn, ok := readers[entry.Kind()]; ok {
			fn(r, entry)
		} else {
			r.keep(item{entry: entry})
		}
		if r.err != nil {
			return nil, r.err
		}
	}
	if err := p.ctx.Err(); err != nil {
		return nil, err
	}

	seqs := [][]item{r.own}
	seqs = append(seqs, r.resolve()...)
	return interleave(seqs...), nil
}

func (r *ledgerReader) keep(it item) {
	it.scope = r.scope
	r.own = append(r.own, it)
}

// readTransaction pins the policy of every posting against the database as
// it stands at this entry, then strips the share metadata.
func (r *ledgerReader) readTransaction(entry ledger.Entry) {
	tx := entry.(ledger.Transaction)
	policies, err := r.scope.splitter.Resolve(tx)
	stripped := tx.WithMeta(policy.StripMetadata(tx.Meta))
	for i, posting := range stripped.Postings {
		stripped.Postings[i] = posting.WithMeta(policy.StripMetadata(posting.Meta))
	}
	if err != nil {
		r.p.log.Warn().
			Str("date", tx.Date.Format(ledger.DateLayout)).
			Str("source", tx.Meta.Source().String()).
			Err(err).
			Msg("transaction passed through unsplit")
		r.p.errs.Add(tx, err)
		r.keep(item{entry: stripped, failed: true})
		return
	}
	r.keep(item{entry: stripped, policies: policies})
}

// Assertion accounts are tracked before any transaction is realized. Their
// policies are pinned like a transaction's.
func (r *ledgerReader) readBalance(entry ledger.Entry) {
	b := entry.(ledger.Balance)
	r.scope.splitter.Track(b.Account)
	pol, err := r.scope.splitter.BalancePolicy(b)
	if err != nil {
		r.p.errs.Add(b, err)
		r.keep(item{entry: b, failed: true})
		return
	}
	r.keep(item{entry: b, assertion: pol})
}

func (r *ledgerReader) readProportionate(entry ledger.Entry) {
	a := entry.(ledger.ProportionateAssertion)
	r.scope.splitter.Track(a.Account)
	pol, err := r.scope.splitter.ProportionatePolicy(a)
	if err != nil {
		r.p.log.Warn().Str("account", a.Account).Err(err).Msg("proportionate assertion failed")
		r.p.errs.Add(a, err)
		r.keep(item{entry: a, failed: true})
		return
	}
	r.keep(item{entry: a, assertion: &pol})
}

func (r *ledgerReader) readPolicy(entry ledger.Entry) {
	d := entry.(ledger.PolicyDirective)
	def, err := policy.ParseDefinition(d.Meta)
	if err != nil {
		r.p.errs.Add(d, err)
		return
	}
	if err := r.scope.db.AddPolicy(d.Name, def); err != nil {
		r.p.errs.Add(d, err)
		return
	}
	r.p.log.Debug().Str("policy", d.Name).Msg("policy added")
}

func (r *ledgerReader) readLink(entry ledger.Entry) {
	r.links = append(r.links, link.FromDirective(entry.(ledger.LinkDirective)))
}

// readInclude loads and reads another ledger with this pass's viewpoint
// context. It gets a database of its own.
func (r *ledgerReader) readInclude(entry ledger.Entry) {
	inc := entry.(ledger.Include)
	p := r.p
	if p.e.loader == nil {
		p.errs.Add(inc, ErrNoLoader)
		return
	}
	if !p.vc.enter(inc.Path) {
		p.errs.Add(inc, ErrIncludeCycle)
		return
	}
	defer p.vc.leave(inc.Path)

	loaded, err := p.e.loader.Load(p.ctx, inc.Path)
	if err != nil {
		p.errs.Add(inc, &LoadError{Path: inc.Path, Err: err})
		return
	}
	p.errs.Append(loaded.Errors...)
	p.opts = p.opts.Merge(Options{Includes: []string{inc.Path}}).Merge(loaded.Options)

	items, err := p.read(inc.Path, loaded.Entries)
	if err != nil {
		r.err = err
		return
	}
	r.included = append(r.included, includedLedger{path: inc.Path, items: items})
	p.log.Debug().Str("path", inc.Path).Int("entries", len(items)).Msg("ledger included")
}

// =============================================================================
// LINKS
// =============================================================================

// resolve merges linked transactions across the included ledgers and
// returns each ledger's items, merged transactions in place of their first
// member.
func (r *ledgerReader) resolve() [][]item {
	out := make([][]item, len(r.included))
	if len(r.links) == 0 {
		for i, inc := range r.included {
			out[i] = inc.items
		}
		return out
	}

	ledgers := make([]link.Ledger, len(r.included))
	for i, inc := range r.included {
		entries := make([]ledger.Entry, len(inc.items))
		for j, it := range inc.items {
			entries[j] = it.entry
		}
		ledgers[i] = link.Ledger{Path: inc.path, Entries: entries}
	}
	res := r.p.e.resolver.Resolve(ledgers, r.links)
	r.p.errs.Append(res.Errors...)
	r.p.e.metrics.Merged(res.Merged)

	for k, entry := range res.Entries {
		o := res.Origins[k]
		it := r.included[o.Ledger].items[o.Entry]
		if o.Merged {
			it = r.merged(entry.(ledger.Transaction), o)
		}
		out[o.Ledger] = append(out[o.Ledger], it)
	}
	return out
}

// merged builds the item of a merged transaction. Its postings keep the
// policies they were read with and are realized in their own ledger.
func (r *ledgerReader) merged(tx ledger.Transaction, o link.Origin) item {
	first := r.included[o.Ledger].items[o.Entry]
	it := item{
		entry:    tx,
		scope:    first.scope,
		policies: make([]policy.Policy, len(o.Postings)),
		owners:   make([]*scope, len(o.Postings)),
	}
	for i, po := range o.Postings {
		src := r.included[po.Ledger].items[po.Entry]
		if src.failed {
			it.failed = true
		} else {
			it.policies[i] = src.policies[po.Posting]
		}
		it.owners[i] = src.owner(po.Posting)
	}
	if it.failed {
		it.policies, it.owners = nil, nil
	}
	return it
}

// interleave merges the sequences by date. Each sequence keeps its own
// order; on equal dates the earlier sequence goes first.
func interleave(seqs ...[]item) []item {
	total := 0
	for _, seq := range seqs {
		total += len(seq)
	}
	out := make([]item, 0, total)
	next := make([]int, len(seqs))
	for len(out) < total {
		best := -1
		for i, seq := range seqs {
			if next[i] == len(seq) {
				continue
			}
			if best < 0 || seq[next[i]].entry.Head().Date.Before(seqs[best][next[best]].entry.Head().Date) {
				best = i
			}
		}
		out = append(out, seqs[best][next[best]])
		next[best]++
	}
	return out
}
