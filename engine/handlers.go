package engine

import (
	"github.com/warp/ledger-share/ledger"
	"github.com/warp/ledger-share/policy"
	"github.com/warp/ledger-share/split"
)

type handler func(p *pass, it item)

// handlers maps every kind left after reading to its handler. Policy,
// include and link directives are consumed by the reading stage.
var handlers = map[ledger.Kind]handler{
	ledger.KindOpen:          (*pass).handleOpen,
	ledger.KindClose:         (*pass).handleClose,
	ledger.KindBalance:       (*pass).handleBalance,
	ledger.KindPad:           (*pass).handlePad,
	ledger.KindTransaction:   (*pass).handleTransaction,
	ledger.KindProportionate: (*pass).handleProportionate,
}

// Open and Close pass through; their generated children are added once the
// whole render is known, see expand.go.
func (p *pass) handleOpen(it item) {
	o := it.entry.(ledger.Open)
	p.emit(o.WithMeta(policy.StripMetadata(o.Meta)))
}

func (p *pass) handleClose(it item) {
	c := it.entry.(ledger.Close)
	p.emit(c.WithMeta(policy.StripMetadata(c.Meta)))
}

func (p *pass) handlePad(it item) {
	d := it.entry.(ledger.Pad)
	p.emit(d.WithMeta(policy.StripMetadata(d.Meta)))
}

func (p *pass) handleBalance(it item) {
	b := it.entry.(ledger.Balance)
	if it.failed {
		p.emit(b.WithMeta(policy.StripMetadata(b.Meta)))
		return
	}
	res, err := it.scope.splitter.RenderBalanceWith(b, it.assertion, p.vc.Viewpoint)
	if err != nil {
		p.errs.Add(b, err)
		p.emit(b.WithMeta(policy.StripMetadata(b.Meta)))
		return
	}
	for _, m := range res.Mismatches {
		p.errs.AddSoft(b, m)
	}
	for _, out := range res.Balances {
		p.emit(out)
	}
	p.record(res.Accounts, b.Date)
}

// handleTransaction splits a transaction with the policies pinned when it
// was read. A merged transaction realizes each posting in the ledger it
// came from.
func (p *pass) handleTransaction(it item) {
	tx := it.entry.(ledger.Transaction)
	if it.failed {
		p.emit(tx)
		return
	}
	alloc, err := it.scope.splitter.Allocate(tx, it.policies)
	if err != nil {
		p.fail(tx, err)
		return
	}
	realize(it, alloc)
	r, err := alloc.Render(p.vc.Viewpoint)
	if err != nil {
		p.fail(tx, err)
		return
	}
	if r.Drop {
		return
	}
	p.emit(r.Transaction)
	p.record(r.Accounts, tx.Date)
}

func realize(it item, alloc *split.Allocation) {
	if it.owners == nil {
		it.scope.splitter.Realize(alloc, nil)
		return
	}
	done := make(map[*scope]bool)
	for _, sc := range it.owners {
		if done[sc] {
			continue
		}
		done[sc] = true
		sc.splitter.Realize(alloc, func(index int) bool { return it.owners[index] == sc })
	}
}

// fail records err and passes tx through unsplit.
func (p *pass) fail(tx ledger.Transaction, err error) {
	p.log.Warn().
		Str("date", tx.Date.Format(ledger.DateLayout)).
		Str("source", tx.Meta.Source().String()).
		Err(err).
		Msg("transaction passed through unsplit")
	p.errs.Add(tx, err)
	p.emit(tx)
}

func (p *pass) handleProportionate(it item) {
	a := it.entry.(ledger.ProportionateAssertion)
	if it.failed {
		return
	}
	if err := it.scope.splitter.CheckProportionateWith(a, *it.assertion); err != nil {
		p.log.Warn().Str("account", a.Account).Err(err).Msg("proportionate assertion failed")
		p.errs.Add(a, err)
	}
}
