package policy_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-share/policy"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func weights(kv ...any) policy.Weighted {
	w := map[string]decimal.Decimal{}
	for i := 0; i < len(kv); i += 2 {
		w[kv[i].(string)] = decimal.NewFromInt(int64(kv[i+1].(int)))
	}
	return policy.NewWeighted(w)
}

func owned(kv ...any) policy.Definition {
	return policy.Definition{Ownership: weights(kv...)}
}

func mustWeighted(t *testing.T, p policy.Policy) policy.Weighted {
	t.Helper()
	w, ok := p.Weighted()
	require.True(t, ok, "expected weighted ownership, got %s", p.Ownership)
	return w
}

// =============================================================================
// PRECEDENCE
// =============================================================================

func TestPostingPolicy_PostingLevelWins(t *testing.T) {
	// GIVEN: Conflicting weights at every level
	db := policy.NewDatabase()
	require.NoError(t, db.AddPolicy("Expenses:*", owned("Alice", 1)))
	require.NoError(t, db.AddPolicy("Expenses:Food", owned("Bob", 1)))
	txDef := owned("Carol", 1)
	postingDef := owned("Dave", 1)

	// WHEN: Resolving the posting policy
	pol, err := db.PostingPolicy("Expenses:Food", postingDef, txDef)

	// THEN: The posting-level definition decides
	require.NoError(t, err)
	assert.Equal(t, []string{"Dave"}, mustWeighted(t, pol).Parties())
}

func TestPostingPolicy_AccountBeatsWildcardAndTransaction(t *testing.T) {
	db := policy.NewDatabase()
	require.NoError(t, db.AddPolicy("Expenses:*", owned("Alice", 1)))
	require.NoError(t, db.AddPolicy("Expenses:Food", owned("Bob", 1)))

	pol, err := db.PostingPolicy("Expenses:Food", policy.Definition{}, owned("Carol", 1))

	require.NoError(t, err)
	assert.Equal(t, []string{"Bob"}, mustWeighted(t, pol).Parties())
}

func TestPostingPolicy_WildcardBeatsTransaction(t *testing.T) {
	db := policy.NewDatabase()
	require.NoError(t, db.AddPolicy("Expenses:*", owned("Alice", 1)))

	pol, err := db.PostingPolicy("Expenses:Food:Lunch", policy.Definition{}, owned("Carol", 1))

	require.NoError(t, err)
	assert.Equal(t, []string{"Alice"}, mustWeighted(t, pol).Parties())
}

func TestPostingPolicy_DeeperWildcardWins(t *testing.T) {
	db := policy.NewDatabase()
	require.NoError(t, db.AddPolicy("Expenses:*", owned("Alice", 1)))
	require.NoError(t, db.AddPolicy("Expenses:Food:*", owned("Bob", 1)))

	pol, err := db.PostingPolicy("Expenses:Food:Lunch", policy.Definition{}, policy.Definition{})

	require.NoError(t, err)
	assert.Equal(t, []string{"Bob"}, mustWeighted(t, pol).Parties())
}

func TestPostingPolicy_WildcardDoesNotApplyToPrefixItself(t *testing.T) {
	db := policy.NewDatabase()
	require.NoError(t, db.AddPolicy("Expenses:Food:*", owned("Bob", 1)))

	_, err := db.PostingPolicy("Expenses:Food", policy.Definition{}, policy.Definition{})

	assert.ErrorIs(t, err, policy.ErrNoApplicablePolicy)
}

func TestPostingPolicy_DefaultNamedPolicy(t *testing.T) {
	db := policy.NewDatabase()
	require.NoError(t, db.AddPolicy("default", owned("Alice", 1, "Bob", 1)))

	pol, err := db.PostingPolicy("Assets:Cash", policy.Definition{}, policy.Definition{})

	require.NoError(t, err)
	w := mustWeighted(t, pol)
	assert.Equal(t, []string{"Alice", "Bob"}, w.Parties())
	assert.True(t, pol.Conversion)
	assert.True(t, pol.ProratedIncluded)
	assert.False(t, pol.Enforced)
}

func TestPostingPolicy_NoOwnershipAnywhere(t *testing.T) {
	db := policy.NewDatabase()

	_, err := db.PostingPolicy("Assets:Cash", policy.Definition{}, policy.Definition{})

	var na *policy.NoApplicablePolicyError
	require.ErrorAs(t, err, &na)
	assert.Equal(t, "Assets:Cash", na.Account)
	assert.Equal(t, []string{"ownership"}, na.Missing)
}

func TestPostingPolicy_FieldsMergeAcrossLevels(t *testing.T) {
	// GIVEN: Ownership from the account, conversion from the transaction
	db := policy.NewDatabase()
	require.NoError(t, db.AddPolicy("Expenses:Food", owned("Alice", 1)))
	txDef := policy.Definition{Conversion: policy.Bool(false)}

	pol, err := db.PostingPolicy("Expenses:Food", policy.Definition{}, txDef)

	require.NoError(t, err)
	assert.False(t, pol.Conversion)
	assert.Equal(t, []string{"Alice"}, mustWeighted(t, pol).Parties())
}

// =============================================================================
// EPHEMERAL OVERRIDES
// =============================================================================

func TestPostingPolicy_EnforcedRejectsOwnershipOverride(t *testing.T) {
	// GIVEN: An enforced account policy
	db := policy.NewDatabase()
	enforced := owned("Alice", 1)
	enforced.Enforced = policy.Bool(true)
	require.NoError(t, db.AddPolicy("Assets:Joint", enforced))

	// WHEN: A posting tries to bring its own weights
	_, err := db.PostingPolicy("Assets:Joint", owned("Bob", 1), policy.Definition{})

	// THEN: Ownership override error
	assert.ErrorIs(t, err, policy.ErrOwnershipOverride)
	var oe *policy.OverrideError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "ownership", oe.Field)
}

func TestPostingPolicy_EnforcedRejectsUnenforce(t *testing.T) {
	db := policy.NewDatabase()
	enforced := owned("Alice", 1)
	enforced.Enforced = policy.Bool(true)
	require.NoError(t, db.AddPolicy("Assets:Joint", enforced))

	_, err := db.PostingPolicy("Assets:Joint", policy.Definition{Enforced: policy.Bool(false)}, policy.Definition{})

	assert.ErrorIs(t, err, policy.ErrUnenforce)
}

func TestPostingPolicy_EnforcedAllowsOtherFields(t *testing.T) {
	db := policy.NewDatabase()
	enforced := owned("Alice", 1)
	enforced.Enforced = policy.Bool(true)
	require.NoError(t, db.AddPolicy("Assets:Joint", enforced))

	pol, err := db.PostingPolicy("Assets:Joint", policy.Definition{Conversion: policy.Bool(false)}, policy.Definition{})

	require.NoError(t, err)
	assert.False(t, pol.Conversion)
	assert.True(t, pol.Enforced)
}

func TestPostingPolicy_EnforcedDefaultRejectsTransactionOwnership(t *testing.T) {
	db := policy.NewDatabase()
	enforced := owned("Alice", 1)
	enforced.Enforced = policy.Bool(true)
	require.NoError(t, db.AddPolicy("default", enforced))

	_, err := db.PostingPolicy("Assets:Cash", policy.Definition{}, owned("Bob", 1))

	assert.ErrorIs(t, err, policy.ErrOwnershipOverride)
}

func TestPostingPolicy_StoredOverrideOfEnforcedIsAllowed(t *testing.T) {
	// Account policies are not ephemeral and may replace an enforced default.
	db := policy.NewDatabase()
	enforced := owned("Alice", 1)
	enforced.Enforced = policy.Bool(true)
	require.NoError(t, db.AddPolicy("default", enforced))
	require.NoError(t, db.AddPolicy("Assets:Bob", owned("Bob", 1)))

	pol, err := db.PostingPolicy("Assets:Bob", policy.Definition{}, policy.Definition{})

	require.NoError(t, err)
	assert.Equal(t, []string{"Bob"}, mustWeighted(t, pol).Parties())
}

// =============================================================================
// PARENTS
// =============================================================================

func TestAddPolicy_UnknownParent(t *testing.T) {
	db := policy.NewDatabase()

	err := db.AddPolicy("Expenses:Food", policy.Definition{Parent: "trip"})

	assert.ErrorIs(t, err, policy.ErrUnknownParent)
}

func TestAddPolicy_EnforcedWithoutOwnership(t *testing.T) {
	db := policy.NewDatabase()

	err := db.AddPolicy("strict", policy.Definition{Enforced: policy.Bool(true)})

	assert.ErrorIs(t, err, policy.ErrEnforcedWithoutOwnership)
}

func TestAddPolicy_EnforcedWithInheritedOwnership(t *testing.T) {
	db := policy.NewDatabase()
	require.NoError(t, db.AddPolicy("trip", owned("Alice", 1, "Bob", 2)))

	err := db.AddPolicy("Expenses:Trip", policy.Definition{Parent: "trip", Enforced: policy.Bool(true)})

	require.NoError(t, err)
}

func TestAddPolicy_InheritsThroughChain(t *testing.T) {
	// GIVEN: base <- trip <- Expenses:Trip
	db := policy.NewDatabase()
	require.NoError(t, db.AddPolicy("base", policy.Definition{Ownership: weights("Alice", 1), Conversion: policy.Bool(false)}))
	require.NoError(t, db.AddPolicy("trip", policy.Definition{Parent: "base", Ownership: weights("Alice", 1, "Bob", 1)}))
	require.NoError(t, db.AddPolicy("Expenses:Trip", policy.Definition{Parent: "trip"}))

	pol, err := db.PostingPolicy("Expenses:Trip", policy.Definition{}, policy.Definition{})

	// THEN: Child ownership wins, grandparent's conversion survives
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice", "Bob"}, mustWeighted(t, pol).Parties())
	assert.False(t, pol.Conversion)
}

func TestAddPolicy_MovingPointer(t *testing.T) {
	// GIVEN: An account inheriting from "current", which points at "a"
	db := policy.NewDatabase()
	require.NoError(t, db.AddPolicy("a", owned("Alice", 1)))
	require.NoError(t, db.AddPolicy("b", owned("Bob", 1)))
	require.NoError(t, db.AddPolicy("current", policy.Definition{Parent: "a"}))
	require.NoError(t, db.AddPolicy("Expenses:Rent", policy.Definition{Parent: "current"}))

	before, err := db.PostingPolicy("Expenses:Rent", policy.Definition{}, policy.Definition{})
	require.NoError(t, err)

	// WHEN: "current" is re-added with another parent
	require.NoError(t, db.AddPolicy("current", policy.Definition{Parent: "b"}))
	after, err := db.PostingPolicy("Expenses:Rent", policy.Definition{}, policy.Definition{})
	require.NoError(t, err)

	// THEN: The account follows the pointer
	assert.Equal(t, []string{"Alice"}, mustWeighted(t, before).Parties())
	assert.Equal(t, []string{"Bob"}, mustWeighted(t, after).Parties())
}

func TestAddPolicy_RejectsCycle(t *testing.T) {
	db := policy.NewDatabase()
	require.NoError(t, db.AddPolicy("a", owned("Alice", 1)))
	require.NoError(t, db.AddPolicy("b", policy.Definition{Parent: "a"}))

	err := db.AddPolicy("a", policy.Definition{Parent: "b"})

	assert.ErrorIs(t, err, policy.ErrPolicyCycle)
	var ce *policy.CycleError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{"a", "b", "a"}, ce.Chain)

	// The old definition is kept.
	pol, err := db.PostingPolicy("Assets:X", policy.Definition{Parent: "b"}, policy.Definition{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice"}, mustWeighted(t, pol).Parties())
}

func TestAddPolicy_RejectsSelfParent(t *testing.T) {
	db := policy.NewDatabase()

	err := db.AddPolicy("a", policy.Definition{Parent: "a", Ownership: weights("Alice", 1)})

	assert.ErrorIs(t, err, policy.ErrPolicyCycle)
}

func TestClassifyKey(t *testing.T) {
	tests := []struct {
		key      string
		wantKind policy.KeyKind
		wantNorm string
		wantErr  bool
	}{
		{key: "default", wantKind: policy.KeyName, wantNorm: "default"},
		{key: "Expenses:Food", wantKind: policy.KeyAccount, wantNorm: "Expenses:Food"},
		{key: "Expenses:*", wantKind: policy.KeyWildcard, wantNorm: "Expenses"},
		{key: "", wantErr: true},
		{key: "Expenses:*:Food", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			kind, norm, err := policy.ClassifyKey(tt.key)
			if tt.wantErr {
				assert.ErrorIs(t, err, policy.ErrInvalidKey)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, kind)
			assert.Equal(t, tt.wantNorm, norm)
		})
	}
}

// =============================================================================
// BALANCE AND PROPORTIONATE
// =============================================================================

func TestBalancePolicy_NotEnforcedPassesThrough(t *testing.T) {
	db := policy.NewDatabase()
	require.NoError(t, db.AddPolicy("Assets:Joint", owned("Alice", 1, "Bob", 1)))

	pol, err := db.BalancePolicy("Assets:Joint", policy.Definition{})

	require.NoError(t, err)
	assert.Nil(t, pol)
}

func TestBalancePolicy_Enforced(t *testing.T) {
	db := policy.NewDatabase()
	def := owned("Alice", 1, "Bob", 1)
	def.Enforced = policy.Bool(true)
	require.NoError(t, db.AddPolicy("Assets:Joint", def))

	pol, err := db.BalancePolicy("Assets:Joint", policy.Definition{})

	require.NoError(t, err)
	require.NotNil(t, pol)
	assert.Equal(t, []string{"Alice", "Bob"}, mustWeighted(t, *pol).Parties())
}

func TestBalancePolicy_ExplicitDefinition(t *testing.T) {
	db := policy.NewDatabase()

	pol, err := db.BalancePolicy("Assets:Joint", owned("Alice", 1, "Bob", 3))

	require.NoError(t, err)
	require.NotNil(t, pol)
	assert.True(t, mustWeighted(t, *pol).Share("Bob").Equal(decimal.RequireFromString("0.75")))
}

func TestBalancePolicy_ExplicitProratedFails(t *testing.T) {
	db := policy.NewDatabase()

	_, err := db.BalancePolicy("Assets:Joint", policy.Definition{Ownership: policy.Prorated{}})

	assert.ErrorIs(t, err, policy.ErrNonWeightedBalance)
}

func TestProportionatePolicy(t *testing.T) {
	db := policy.NewDatabase()
	require.NoError(t, db.AddPolicy("Assets:Joint", owned("Alice", 2, "Bob", 1)))

	pol, err := db.ProportionatePolicy("Assets:Joint", policy.Definition{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice", "Bob"}, mustWeighted(t, pol).Parties())

	_, err = db.ProportionatePolicy("Assets:Other", policy.Definition{})
	assert.ErrorIs(t, err, policy.ErrNoWeightedPolicy)
	assert.ErrorIs(t, err, policy.ErrNoApplicablePolicy)

	_, err = db.ProportionatePolicy("Assets:Other", policy.Definition{Ownership: policy.Prorated{}})
	assert.ErrorIs(t, err, policy.ErrNoWeightedPolicy)
}

func TestEntries(t *testing.T) {
	db := policy.NewDatabase()
	require.NoError(t, db.AddPolicy("default", owned("Alice", 1)))
	require.NoError(t, db.AddPolicy("Expenses:*", owned("Bob", 1)))
	require.NoError(t, db.AddPolicy("Assets:Cash", owned("Bob", 1)))

	entries := db.Entries()

	require.Len(t, entries, 3)
	assert.Equal(t, "default", entries[0].Key)
	assert.Equal(t, "Expenses:*", entries[1].Key)
	assert.Equal(t, policy.KeyWildcard, entries[1].Kind)
	assert.Equal(t, "Assets:Cash", entries[2].Key)
}
