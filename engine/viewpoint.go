package engine

import (
	"sort"
	"time"

	"github.com/warp/ledger-share/ledger"
	"github.com/warp/ledger-share/split"
)

// ViewpointContext is the state shared by a top-level render and every
// ledger it includes: the viewpoint, the accounts generated so far and the
// include chain currently being processed. Included ledgers receive the
// context of their includer instead of creating their own.
type ViewpointContext struct {
	Viewpoint split.Viewpoint

	generated map[string]time.Time // account -> first use
	active    map[string]bool
}

// NewViewpointContext starts a context for vp.
func NewViewpointContext(vp split.Viewpoint) *ViewpointContext {
	return &ViewpointContext{
		Viewpoint: vp,
		generated: make(map[string]time.Time),
		active:    make(map[string]bool),
	}
}

// Record notes that account was generated by an entry dated date.
func (vc *ViewpointContext) Record(account string, date time.Time) {
	if first, ok := vc.generated[account]; !ok || date.Before(first) {
		vc.generated[account] = date
	}
}

// SubAccounts returns the generated children of parent in lexicographic
// order.
func (vc *ViewpointContext) SubAccounts(parent string) []string {
	var out []string
	for account := range vc.generated {
		if ledger.Parent(account) == parent {
			out = append(out, account)
		}
	}
	sort.Strings(out)
	return out
}

// Accounts returns every generated account in lexicographic order.
func (vc *ViewpointContext) Accounts() []string {
	out := make([]string, 0, len(vc.generated))
	for account := range vc.generated {
		out = append(out, account)
	}
	sort.Strings(out)
	return out
}

func (vc *ViewpointContext) enter(path string) bool {
	if vc.active[path] {
		return false
	}
	vc.active[path] = true
	return true
}

func (vc *ViewpointContext) leave(path string) {
	delete(vc.active, path)
}
