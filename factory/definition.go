package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/ledger-share/ledger"
	"github.com/warp/ledger-share/policy"
)

// DefinitionJSON is the JSON representation of a policy definition, used by
// the HTTP API and the sqlite store.
//
//	{"parent": "trip", "weights": {"Alice": "2", "Bob": "1"}, "enforced": true}
type DefinitionJSON struct {
	Parent           string                     `json:"parent,omitempty"`
	Weights          map[string]decimal.Decimal `json:"weights,omitempty"`
	Prorated         bool                       `json:"prorated,omitempty"`
	Enforced         *bool                      `json:"enforced,omitempty"`
	Conversion       *bool                      `json:"conversion,omitempty"`
	ProratedIncluded *bool                      `json:"prorated_included,omitempty"`
}

// ParseDefinition parses a JSON definition.
func ParseDefinition(data []byte) (policy.Definition, error) {
	var dj DefinitionJSON
	if err := json.Unmarshal(data, &dj); err != nil {
		return policy.Definition{}, fmt.Errorf("failed to parse definition JSON: %w", err)
	}
	return dj.Definition()
}

// Definition validates dj the same way share-* metadata is validated.
func (dj DefinitionJSON) Definition() (policy.Definition, error) {
	return policy.ParseDefinition(dj.Metadata())
}

// Metadata spells dj as share-* metadata keys.
func (dj DefinitionJSON) Metadata() ledger.Metadata {
	meta := ledger.Metadata{}
	if dj.Parent != "" {
		meta[policy.KeyParent] = dj.Parent
	}
	for party, w := range dj.Weights {
		meta[policy.PartyPrefix+party] = w
	}
	if dj.Prorated {
		meta[policy.KeyProrated] = true
	}
	if dj.Enforced != nil {
		meta[policy.KeyEnforced] = *dj.Enforced
	}
	if dj.Conversion != nil {
		meta[policy.KeyConversion] = *dj.Conversion
	}
	if dj.ProratedIncluded != nil {
		meta[policy.KeyProratedIncluded] = *dj.ProratedIncluded
	}
	return meta
}

// FromDefinition converts a definition to its JSON form.
func FromDefinition(def policy.Definition) DefinitionJSON {
	dj := DefinitionJSON{
		Parent:           def.Parent,
		Enforced:         def.Enforced,
		Conversion:       def.Conversion,
		ProratedIncluded: def.ProratedIncluded,
	}
	switch o := def.Ownership.(type) {
	case policy.Weighted:
		dj.Weights = make(map[string]decimal.Decimal, len(o.Weights))
		for party, w := range o.Weights {
			dj.Weights[party] = w
		}
	case policy.Prorated:
		dj.Prorated = true
	}
	return dj
}
