/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Entries and policy
  definitions use the factory JSON forms so that what the API returns can be
  written back to a ledger file as is.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/ledger.go: EntryJSON
  - factory/definition.go: DefinitionJSON
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/ledger-share/engine"
	"github.com/warp/ledger-share/factory"
	"github.com/warp/ledger-share/policy"
)

// =============================================================================
// RENDER
// =============================================================================

// RenderRequest asks for one viewpoint of a ledger. Either Path (a ledger
// file under the configured ledger directory) or Entries is set.
type RenderRequest struct {
	Viewpoint string              `json:"viewpoint"`
	Path      string              `json:"path,omitempty"`
	Entries   []factory.EntryJSON `json:"entries,omitempty"`
}

// RunDTO is a stored render.
type RunDTO struct {
	ID        string              `json:"id"`
	Viewpoint string              `json:"viewpoint"`
	Source    string              `json:"source"`
	CreatedAt string              `json:"created_at"`
	Entries   []factory.EntryJSON `json:"entries"`
	Errors    []string            `json:"errors"`
	Includes  []string            `json:"includes,omitempty"`
}

// RunSummaryDTO is a run without its entries, for listings.
type RunSummaryDTO struct {
	ID         string `json:"id"`
	Viewpoint  string `json:"viewpoint"`
	Source     string `json:"source"`
	CreatedAt  string `json:"created_at"`
	EntryCount int    `json:"entry_count"`
	ErrorCount int    `json:"error_count"`
}

// =============================================================================
// POLICIES
// =============================================================================

// PolicyDTO is a stored seed policy.
type PolicyDTO struct {
	Key        string                 `json:"key"`
	Kind       string                 `json:"kind"`
	Definition factory.DefinitionJSON `json:"definition"`
}

// CreatePolicyRequest stores a seed policy.
type CreatePolicyRequest struct {
	Key        string                 `json:"key"`
	Definition factory.DefinitionJSON `json:"definition"`
}

// ResolvePolicyRequest asks which policy applies to a posting on Account,
// given what its transaction and the posting itself declare.
type ResolvePolicyRequest struct {
	Account     string                 `json:"account"`
	Transaction factory.DefinitionJSON `json:"transaction"`
	Posting     factory.DefinitionJSON `json:"posting"`
}

// ResolvedPolicyDTO is a fully resolved policy.
type ResolvedPolicyDTO struct {
	Account          string                     `json:"account"`
	Ownership        string                     `json:"ownership"`
	Weights          map[string]decimal.Decimal `json:"weights,omitempty"`
	Enforced         bool                       `json:"enforced"`
	Conversion       bool                       `json:"conversion"`
	ProratedIncluded bool                       `json:"prorated_included"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toRunDTO(run engine.Run) RunDTO {
	entries := make([]factory.EntryJSON, 0, len(run.Entries))
	for _, e := range run.Entries {
		entries = append(entries, factory.ToJSON(e))
	}
	errs := run.Errors
	if errs == nil {
		errs = []string{}
	}
	return RunDTO{
		ID:        run.ID,
		Viewpoint: run.Viewpoint,
		Source:    run.Source,
		CreatedAt: run.CreatedAt.Format(time.RFC3339),
		Entries:   entries,
		Errors:    errs,
		Includes:  run.Options.Includes,
	}
}

func toRunSummaryDTO(run engine.Run) RunSummaryDTO {
	return RunSummaryDTO{
		ID:         run.ID,
		Viewpoint:  run.Viewpoint,
		Source:     run.Source,
		CreatedAt:  run.CreatedAt.Format(time.RFC3339),
		EntryCount: len(run.Entries),
		ErrorCount: len(run.Errors),
	}
}

func toPolicyDTO(seed engine.Seed) PolicyDTO {
	kind, _, _ := policy.ClassifyKey(seed.Key)
	return PolicyDTO{
		Key:        seed.Key,
		Kind:       kind.String(),
		Definition: factory.FromDefinition(seed.Definition),
	}
}

func toResolvedPolicyDTO(account string, pol policy.Policy) ResolvedPolicyDTO {
	dto := ResolvedPolicyDTO{
		Account:          account,
		Ownership:        "prorated",
		Enforced:         pol.Enforced,
		Conversion:       pol.Conversion,
		ProratedIncluded: pol.ProratedIncluded,
	}
	if w, ok := pol.Weighted(); ok {
		dto.Ownership = "weighted"
		dto.Weights = w.Weights
	}
	return dto
}
