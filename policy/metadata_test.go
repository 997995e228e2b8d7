package policy_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-share/ledger"
	"github.com/warp/ledger-share/policy"
)

func TestParseDefinition_Weights(t *testing.T) {
	meta := ledger.Metadata{
		"share-Alice":      decimal.NewFromInt(1),
		"share-Bob":        "2",
		"share_policy":     "trip",
		"share_enforced":   true,
		"share_conversion": "FALSE",
		"note":             "unrelated",
	}

	def, err := policy.ParseDefinition(meta)

	require.NoError(t, err)
	assert.Equal(t, "trip", def.Parent)
	w, ok := def.Ownership.(policy.Weighted)
	require.True(t, ok)
	assert.True(t, w.Weights["Bob"].Equal(decimal.NewFromInt(2)))
	assert.True(t, w.Total().Equal(decimal.NewFromInt(3)))
	require.NotNil(t, def.Enforced)
	assert.True(t, *def.Enforced)
	require.NotNil(t, def.Conversion)
	assert.False(t, *def.Conversion)
	assert.Nil(t, def.ProratedIncluded)
}

func TestParseDefinition_Prorated(t *testing.T) {
	def, err := policy.ParseDefinition(ledger.Metadata{"share_prorated": true, "share_prorated_included": false})

	require.NoError(t, err)
	assert.Equal(t, policy.Prorated{}, def.Ownership)
	require.NotNil(t, def.ProratedIncluded)
	assert.False(t, *def.ProratedIncluded)
}

func TestParseDefinition_Empty(t *testing.T) {
	def, err := policy.ParseDefinition(ledger.Metadata{"filename": "x", "lineno": 3})

	require.NoError(t, err)
	assert.True(t, def.IsEmpty())
}

func TestParseDefinition_Rejects(t *testing.T) {
	tests := []struct {
		name string
		meta ledger.Metadata
	}{
		{name: "lowercase party", meta: ledger.Metadata{"share-alice": 1}},
		{name: "negative weight", meta: ledger.Metadata{"share-Alice": -1}},
		{name: "non-numeric weight", meta: ledger.Metadata{"share-Alice": "lots"}},
		{name: "non-boolean flag", meta: ledger.Metadata{"share_enforced": "maybe"}},
		{name: "unknown key", meta: ledger.Metadata{"share_colour": "red"}},
		{name: "prorated with weights", meta: ledger.Metadata{"share_prorated": true, "share-Alice": 1}},
		{name: "empty parent", meta: ledger.Metadata{"share_policy": " "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := policy.ParseDefinition(tt.meta)
			assert.ErrorIs(t, err, policy.ErrInvalidMetadata)
		})
	}
}

func TestStripMetadata(t *testing.T) {
	meta := ledger.Metadata{"share-Alice": 1, "share_policy": "x", "payee_ref": "r", "filename": "f"}

	out := policy.StripMetadata(meta)

	assert.Equal(t, ledger.Metadata{"payee_ref": "r", "filename": "f"}, out)
	assert.Len(t, meta, 4)
}

func TestEncodeDefinition_RoundTrip(t *testing.T) {
	def := policy.Definition{
		Parent:     "trip",
		Ownership:  weights("Alice", 1, "Bob", 3),
		Enforced:   policy.Bool(true),
		Conversion: policy.Bool(false),
	}

	back, err := policy.ParseDefinition(policy.EncodeDefinition(def))

	require.NoError(t, err)
	assert.Equal(t, def.Parent, back.Parent)
	assert.True(t, def.Ownership.(policy.Weighted).Equal(back.Ownership.(policy.Weighted)))
	assert.Equal(t, *def.Enforced, *back.Enforced)
	assert.Equal(t, *def.Conversion, *back.Conversion)
}

func TestOverride_EphemeralRules(t *testing.T) {
	parent := policy.Definition{Ownership: weights("Alice", 1), Enforced: policy.Bool(true)}

	_, err := parent.Override(policy.Definition{Ownership: weights("Bob", 1)}, false)
	assert.NoError(t, err, "stored overrides are not restricted")

	_, err = parent.Override(policy.Definition{Ownership: weights("Bob", 1)}, true)
	assert.ErrorIs(t, err, policy.ErrOwnershipOverride)

	merged, err := parent.Override(policy.Definition{Enforced: policy.Bool(true)}, true)
	require.NoError(t, err)
	assert.True(t, *merged.Enforced)
}
