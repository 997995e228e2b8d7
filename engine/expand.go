package engine

import (
	"sort"
	"time"

	"github.com/warp/ledger-share/ledger"
)

// expand adds Open and Close directives for the accounts generated during a
// render. A generated account whose parent is opened is opened and closed
// with its parent, children in lexicographic order. Any other generated
// account is opened just before the first entry on or after its first use.
func expand(entries []ledger.Entry, vc *ViewpointContext) []ledger.Entry {
	generated := vc.Accounts()
	if len(generated) == 0 {
		return entries
	}

	opened := make(map[string]bool)
	for _, e := range entries {
		if o, ok := e.(ledger.Open); ok {
			opened[o.Account] = true
		}
	}
	claimed := make(map[string]bool)

	out := make([]ledger.Entry, 0, len(entries)+len(generated))
	for _, e := range entries {
		out = append(out, e)
		switch d := e.(type) {
		case ledger.Open:
			for _, child := range vc.SubAccounts(d.Account) {
				if opened[child] || claimed[child] {
					continue
				}
				claimed[child] = true
				out = append(out, d.WithAccount(child))
			}
		case ledger.Close:
			for _, child := range vc.SubAccounts(d.Account) {
				if claimed[child] {
					out = append(out, d.WithAccount(child))
				}
			}
		}
	}

	type pending struct {
		account string
		date    time.Time
	}
	var orphans []pending
	for _, account := range generated {
		if opened[account] || claimed[account] {
			continue
		}
		orphans = append(orphans, pending{account: account, date: vc.generated[account]})
	}
	if len(orphans) == 0 {
		return out
	}
	sort.SliceStable(orphans, func(i, j int) bool {
		return orphans[i].date.Before(orphans[j].date)
	})

	merged := make([]ledger.Entry, 0, len(out)+len(orphans))
	next := 0
	for _, e := range out {
		for next < len(orphans) && !orphans[next].date.After(e.Head().Date) {
			merged = append(merged, ledger.Open{
				Header:  ledger.Header{Date: orphans[next].date},
				Account: orphans[next].account,
			})
			next++
		}
		merged = append(merged, e)
	}
	for ; next < len(orphans); next++ {
		merged = append(merged, ledger.Open{
			Header:  ledger.Header{Date: orphans[next].date},
			Account: orphans[next].account,
		})
	}
	return merged
}
