package policy

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/warp/ledger-share/ledger"
)

// Metadata keys that configure a definition.
const (
	PartyPrefix         = "share-"
	KeyParent           = "share_policy"
	KeyEnforced         = "share_enforced"
	KeyConversion       = "share_conversion"
	KeyProrated         = "share_prorated"
	KeyProratedIncluded = "share_prorated_included"
)

// IsShareKey reports whether key belongs to the sharing vocabulary.
func IsShareKey(key string) bool {
	return strings.HasPrefix(key, PartyPrefix) || strings.HasPrefix(key, "share_")
}

// StripMetadata drops every sharing key.
func StripMetadata(meta ledger.Metadata) ledger.Metadata {
	return meta.Without(IsShareKey)
}

// ParseDefinition reads a definition from share-* metadata. Unrelated keys
// are ignored; an entry without sharing keys yields an empty definition.
func ParseDefinition(meta ledger.Metadata) (Definition, error) {
	var def Definition
	weights := map[string]decimal.Decimal{}
	prorated := false

	for _, key := range meta.Keys() {
		value := meta[key]
		switch {
		case strings.HasPrefix(key, PartyPrefix):
			party := strings.TrimPrefix(key, PartyPrefix)
			if !validParty(party) {
				return Definition{}, &MetadataError{Key: key, Value: value, Reason: "party name must be capitalized"}
			}
			w, err := ledger.ToDecimal(value)
			if err != nil {
				return Definition{}, &MetadataError{Key: key, Value: value, Reason: "weight is not a number"}
			}
			if w.IsNegative() {
				return Definition{}, &MetadataError{Key: key, Value: value, Reason: "weight is negative"}
			}
			weights[party] = w

		case key == KeyParent:
			s, ok := value.(string)
			if !ok || strings.TrimSpace(s) == "" {
				return Definition{}, &MetadataError{Key: key, Value: value, Reason: "expected a policy name"}
			}
			def.Parent = strings.TrimSpace(s)

		case key == KeyEnforced, key == KeyConversion, key == KeyProratedIncluded, key == KeyProrated:
			b, err := parseBool(value)
			if err != nil {
				return Definition{}, &MetadataError{Key: key, Value: value, Reason: "expected a boolean"}
			}
			switch key {
			case KeyEnforced:
				def.Enforced = boolPtr(b)
			case KeyConversion:
				def.Conversion = boolPtr(b)
			case KeyProratedIncluded:
				def.ProratedIncluded = boolPtr(b)
			case KeyProrated:
				prorated = b
			}

		case strings.HasPrefix(key, "share_"):
			return Definition{}, &MetadataError{Key: key, Value: value, Reason: "unknown sharing key"}
		}
	}

	if prorated && len(weights) > 0 {
		return Definition{}, &MetadataError{Key: KeyProrated, Value: true, Reason: "prorated ownership cannot also list weights"}
	}
	switch {
	case prorated:
		def.Ownership = Prorated{}
	case len(weights) > 0:
		def.Ownership = Weighted{Weights: weights}
	}
	return def, nil
}

// EncodeDefinition is the inverse of ParseDefinition.
func EncodeDefinition(def Definition) ledger.Metadata {
	meta := ledger.Metadata{}
	if def.Parent != "" {
		meta[KeyParent] = def.Parent
	}
	switch o := def.Ownership.(type) {
	case Weighted:
		for party, w := range o.Weights {
			meta[PartyPrefix+party] = w
		}
	case Prorated:
		meta[KeyProrated] = true
	}
	if def.Enforced != nil {
		meta[KeyEnforced] = *def.Enforced
	}
	if def.Conversion != nil {
		meta[KeyConversion] = *def.Conversion
	}
	if def.ProratedIncluded != nil {
		meta[KeyProratedIncluded] = *def.ProratedIncluded
	}
	return meta
}

func validParty(party string) bool {
	r, _ := utf8.DecodeRuneInString(party)
	return r != utf8.RuneError && unicode.IsUpper(r)
}

func parseBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		return strconv.ParseBool(strings.ToLower(strings.TrimSpace(x)))
	default:
		return false, strconv.ErrSyntax
	}
}
