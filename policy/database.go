/*
database.go - Policy Database

PURPOSE:
  Stores policy definitions under three buckets and resolves the effective
  Policy for a posting, a balance assertion or a proportionate assertion.

BUCKETS:
  named:     bare names ("default", "trip"). Other definitions inherit from
             these through their parent reference.
  accounts:  exact account paths ("Expenses:Food").
  wildcards: account subtrees written "Expenses:Shared:*"; they apply to the
             strict descendants of the prefix.

RESOLUTION ORDER (ascending precedence):
  root default
  -> named "default"
  -> transaction definition        (ephemeral)
  -> wildcard ancestors, shallow to deep
  -> exact account
  -> posting definition            (ephemeral)

  Stored definitions are kept unresolved and their parent chains are
  followed at lookup time, so re-adding a named policy with a different
  parent changes everything that inherits from it from that point on.

CYCLES:
  Parent chains are followed with a visited set. A loop fails with
  ErrPolicyCycle; AddPolicy trial-resolves the new definition so that a
  loop can never be stored.

SEE ALSO:
  - policy.go: Override rule
*/
package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/warp/ledger-share/ledger"
)

// DefaultName is the named policy applied beneath everything else.
const DefaultName = "default"

// WildcardSuffix marks a subtree key.
const WildcardSuffix = ":*"

// KeyKind says which bucket a policy key belongs to.
type KeyKind int

const (
	KeyName KeyKind = iota
	KeyAccount
	KeyWildcard
)

func (k KeyKind) String() string {
	switch k {
	case KeyName:
		return "name"
	case KeyAccount:
		return "account"
	case KeyWildcard:
		return "wildcard"
	}
	return "unknown"
}

// ClassifyKey decides the bucket for key and returns the normalized key
// (the wildcard suffix removed).
func ClassifyKey(key string) (KeyKind, string, error) {
	key = strings.TrimSpace(key)
	switch {
	case key == "" || key == WildcardSuffix:
		return 0, "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	case strings.HasSuffix(key, WildcardSuffix):
		prefix := strings.TrimSuffix(key, WildcardSuffix)
		if strings.Contains(prefix, "*") {
			return 0, "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
		return KeyWildcard, prefix, nil
	case strings.Contains(key, "*"):
		return 0, "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	case strings.Contains(key, ledger.AccountSep):
		return KeyAccount, key, nil
	default:
		return KeyName, key, nil
	}
}

// Entry is one stored definition, as listed by Entries.
type Entry struct {
	Key        string
	Kind       KeyKind
	Definition Definition
}

// Database holds the three policy buckets for one ledger pass.
type Database struct {
	named     map[string]Definition
	accounts  map[string]Definition
	wildcards map[string]Definition
}

// NewDatabase returns an empty database.
func NewDatabase() *Database {
	return &Database{
		named:     make(map[string]Definition),
		accounts:  make(map[string]Definition),
		wildcards: make(map[string]Definition),
	}
}

// =============================================================================
// MUTATION
// =============================================================================

// AddPolicy stores def under key, replacing any previous definition.
func (db *Database) AddPolicy(key string, def Definition) error {
	kind, norm, err := ClassifyKey(key)
	if err != nil {
		return err
	}
	if def.Parent != "" {
		if _, ok := db.named[def.Parent]; !ok && !(kind == KeyName && def.Parent == norm) {
			return fmt.Errorf("%w: %q", ErrUnknownParent, def.Parent)
		}
	}

	lookup := db.lookupNamed
	if kind == KeyName {
		lookup = func(name string) (Definition, bool) {
			if name == norm {
				return def, true
			}
			return db.lookupNamed(name)
		}
	}
	resolved, err := resolveParent(def, lookup, kind == KeyName, norm)
	if err != nil {
		return err
	}
	if isTrue(resolved.Enforced) && resolved.Ownership == nil {
		return fmt.Errorf("%w: %q", ErrEnforcedWithoutOwnership, key)
	}

	switch kind {
	case KeyName:
		db.named[norm] = def
	case KeyAccount:
		db.accounts[norm] = def
	case KeyWildcard:
		db.wildcards[norm] = def
	}
	return nil
}

// =============================================================================
// RESOLUTION
// =============================================================================

// ResolveParent follows def's parent chain and flattens it into a
// definition with no parent.
func (db *Database) ResolveParent(def Definition) (Definition, error) {
	return resolveParent(def, db.lookupNamed, false, "")
}

func (db *Database) lookupNamed(name string) (Definition, bool) {
	d, ok := db.named[name]
	return d, ok
}

func resolveParent(def Definition, lookup func(string) (Definition, bool), named bool, self string) (Definition, error) {
	chain := []Definition{def}
	seen := map[string]bool{}
	names := []string{}
	if named {
		seen[self] = true
		names = append(names, self)
	}

	cur := def
	for cur.Parent != "" {
		name := cur.Parent
		names = append(names, name)
		if seen[name] {
			return Definition{}, &CycleError{Chain: names}
		}
		seen[name] = true
		parent, ok := lookup(name)
		if !ok {
			return Definition{}, fmt.Errorf("%w: %q", ErrUnknownParent, name)
		}
		chain = append(chain, parent)
		cur = parent
	}

	var out Definition
	for i := len(chain) - 1; i >= 0; i-- {
		out, _ = out.Override(chain[i], false)
	}
	out.Parent = ""
	return out, nil
}

// layer resolves def and puts it on top of acc.
func (db *Database) layer(acc, def Definition, ephemeral bool) (Definition, error) {
	if def.IsEmpty() {
		return acc, nil
	}
	resolved, err := db.ResolveParent(def)
	if err != nil {
		return Definition{}, err
	}
	return acc.Override(resolved, ephemeral)
}

// base applies root default and the named default policy.
func (db *Database) base() (Definition, error) {
	acc := RootDefault()
	if d, ok := db.named[DefaultName]; ok {
		return db.layer(acc, d, false)
	}
	return acc, nil
}

// accountLayers applies wildcard ancestors then the exact account policy.
func (db *Database) accountLayers(acc Definition, account string) (Definition, error) {
	var err error
	for _, anc := range ledger.Ancestors(account) {
		if d, ok := db.wildcards[anc]; ok {
			if acc, err = db.layer(acc, d, false); err != nil {
				return Definition{}, err
			}
		}
	}
	if d, ok := db.accounts[account]; ok {
		if acc, err = db.layer(acc, d, false); err != nil {
			return Definition{}, err
		}
	}
	return acc, nil
}

// PostingPolicy resolves the policy of a posting on account given the
// definitions declared on the posting and on its transaction.
func (db *Database) PostingPolicy(account string, postingDef, txDef Definition) (Policy, error) {
	acc, err := db.base()
	if err != nil {
		return Policy{}, err
	}
	if acc, err = db.layer(acc, txDef, true); err != nil {
		return Policy{}, err
	}
	if acc, err = db.accountLayers(acc, account); err != nil {
		return Policy{}, err
	}
	if acc, err = db.layer(acc, postingDef, true); err != nil {
		return Policy{}, err
	}
	return concrete(acc, account)
}

// BalancePolicy returns the policy a balance assertion on account must be
// split by, or nil when the assertion applies to the account unsplit. A
// policy is returned only when balanceDef sets something or the account's
// own policy is enforced.
func (db *Database) BalancePolicy(account string, balanceDef Definition) (*Policy, error) {
	acc, err := db.base()
	if err != nil {
		return nil, err
	}
	if acc, err = db.accountLayers(acc, account); err != nil {
		return nil, err
	}

	if !balanceDef.IsEmpty() {
		if acc, err = db.layer(acc, balanceDef, true); err != nil {
			return nil, err
		}
		pol, err := concrete(acc, account)
		if err != nil {
			return nil, err
		}
		if _, ok := pol.Weighted(); !ok {
			return nil, fmt.Errorf("%w: %s has %s", ErrNonWeightedBalance, account, pol.Ownership)
		}
		return &pol, nil
	}

	pol, err := acc.Policy()
	if err != nil || !pol.Enforced {
		return nil, nil
	}
	if _, ok := pol.Weighted(); !ok {
		return nil, nil
	}
	return &pol, nil
}

// ProportionatePolicy resolves the weighted policy an assertion on account
// is checked against. assertionDef takes the transaction slot.
func (db *Database) ProportionatePolicy(account string, assertionDef Definition) (Policy, error) {
	acc, err := db.base()
	if err != nil {
		return Policy{}, err
	}
	if acc, err = db.layer(acc, assertionDef, true); err != nil {
		return Policy{}, err
	}
	if acc, err = db.accountLayers(acc, account); err != nil {
		return Policy{}, err
	}
	pol, err := concrete(acc, account)
	if err != nil {
		return Policy{}, fmt.Errorf("%w: %w", ErrNoWeightedPolicy, err)
	}
	if _, ok := pol.Weighted(); !ok {
		return Policy{}, fmt.Errorf("%w: %s has %s", ErrNoWeightedPolicy, account, pol.Ownership)
	}
	return pol, nil
}

func concrete(def Definition, account string) (Policy, error) {
	pol, err := def.Policy()
	if err != nil {
		if na, ok := err.(*NoApplicablePolicyError); ok {
			na.Account = account
		}
		return Policy{}, err
	}
	return pol, nil
}

// =============================================================================
// INSPECTION
// =============================================================================

// Entries lists every stored definition, sorted by bucket then key.
func (db *Database) Entries() []Entry {
	var out []Entry
	add := func(kind KeyKind, m map[string]Definition, suffix string) {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, Entry{Key: k + suffix, Kind: kind, Definition: m[k]})
		}
	}
	add(KeyName, db.named, "")
	add(KeyWildcard, db.wildcards, WildcardSuffix)
	add(KeyAccount, db.accounts, "")
	return out
}
