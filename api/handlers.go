/*
handlers.go - HTTP API handlers for the ledger sharing engine

PURPOSE:
  Exposes the engine via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to the engine and the policy database.

ENDPOINTS:
  Renders:
    POST   /api/render                 Render a ledger for a viewpoint
    GET    /api/runs                   List stored renders (newest first)
    GET    /api/runs/{id}              Get a stored render with its entries

  Policies:
    GET    /api/policies               List stored seed policies
    POST   /api/policies               Store a seed policy
    DELETE /api/policies/{key}         Remove a seed policy
    POST   /api/policies/resolve       Resolve the policy of one posting

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Engine: Renders ledgers (configured seeds, loader, split settings)
  - Runs: Stored renders
  - Policies: Seed policies stored through the API

  Stored seed policies are added after the configured ones on every render,
  so a ledger's own policy directives still override both.

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (engine, policy database)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 422: Valid input with no applicable policy
  - 500: Internal errors

  Problems inside a ledger are not request errors: a render that records
  entry errors still answers 201 and lists them in the run.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/warp/ledger-share/engine"
	"github.com/warp/ledger-share/factory"
	"github.com/warp/ledger-share/ledger"
	"github.com/warp/ledger-share/observability"
	"github.com/warp/ledger-share/policy"
	"github.com/warp/ledger-share/split"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *engine.Engine
	Runs     engine.RunStore
	Policies engine.PolicyStore
	Log      zerolog.Logger

	// Optional. Health mounts /healthz and /readyz, Metrics mounts /metrics.
	Health  *observability.HealthChecker
	Metrics http.Handler

	// CORSOrigins defaults to all origins when empty.
	CORSOrigins []string
}

// NewHandler creates a handler over an engine and its stores.
func NewHandler(eng *engine.Engine, runs engine.RunStore, policies engine.PolicyStore, log zerolog.Logger) *Handler {
	return &Handler{
		Engine:   eng,
		Runs:     runs,
		Policies: policies,
		Log:      log,
	}
}

// =============================================================================
// RENDER HANDLERS
// =============================================================================

// Render renders a ledger for one viewpoint and stores the result as a run.
func (h *Handler) Render(w http.ResponseWriter, r *http.Request) {
	var req RenderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	vp, err := split.ParseViewpoint(req.Viewpoint)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid viewpoint", err)
		return
	}
	if req.Path != "" && len(req.Entries) > 0 {
		writeError(w, http.StatusBadRequest, "Give either path or entries, not both", nil)
		return
	}

	ctx := r.Context()
	seeds, err := h.Policies.ListPolicies(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load stored policies", err)
		return
	}
	eng := h.Engine.WithSeeds(seeds)

	var (
		res    engine.Result
		source string
	)
	if req.Path != "" {
		source = req.Path
		res, err = eng.ProcessFile(ctx, req.Path, vp)
		if err != nil {
			writeLoadError(w, err)
			return
		}
	} else {
		source = "inline"
		entries := make([]ledger.Entry, 0, len(req.Entries))
		for i, ej := range req.Entries {
			e, err := factory.FromJSON(ej)
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid entry %d", i), err)
				return
			}
			entries = append(entries, e)
		}
		res, err = eng.Render(ctx, entries, engine.Options{}, vp)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Render interrupted", err)
			return
		}
	}

	run := engine.NewRun(source, vp, res)
	if err := h.Runs.SaveRun(ctx, run); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save run", err)
		return
	}
	h.Log.Info().
		Str("run_id", run.ID).
		Str("viewpoint", run.Viewpoint).
		Str("source", source).
		Int("errors", len(run.Errors)).
		Msg("run saved")

	writeJSON(w, http.StatusCreated, toRunDTO(run))
}

func writeLoadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		writeError(w, http.StatusNotFound, "Ledger not found", err)
	case errors.Is(err, factory.ErrOutsideDir):
		writeError(w, http.StatusBadRequest, "Ledger path outside the ledger directory", err)
	case errors.Is(err, engine.ErrNoLoader):
		writeError(w, http.StatusBadRequest, "Rendering by path is not available", err)
	case errors.Is(err, engine.ErrLoad):
		writeError(w, http.StatusBadRequest, "Failed to load ledger", err)
	default:
		writeError(w, http.StatusInternalServerError, "Render interrupted", err)
	}
}

// ListRuns returns stored runs without their entries.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	runs, err := h.Runs.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}

	dtos := make([]RunSummaryDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunSummaryDTO(run)
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": dtos})
}

// GetRun returns one stored run.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := h.Runs.GetRun(r.Context(), id)
	if errors.Is(err, engine.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "Run not found", err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get run", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(run))
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

// ListPolicies returns the stored seed policies in the order they apply.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	seeds, err := h.Policies.ListPolicies(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list policies", err)
		return
	}

	dtos := make([]PolicyDTO, len(seeds))
	for i, s := range seeds {
		dtos[i] = toPolicyDTO(s)
	}
	writeJSON(w, http.StatusOK, map[string]any{"policies": dtos})
}

// CreatePolicy stores a seed policy after checking it against the
// configured and already stored ones.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req CreatePolicyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	def, err := req.Definition.Definition()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid policy definition", err)
		return
	}

	ctx := r.Context()
	stored, err := h.Policies.ListPolicies(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load stored policies", err)
		return
	}
	others := stored[:0:0]
	for _, s := range stored {
		if s.Key != req.Key {
			others = append(others, s)
		}
	}
	db, err := h.database(others)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Stored policies are inconsistent", err)
		return
	}
	if err := db.AddPolicy(req.Key, def); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid policy", err)
		return
	}

	seed := engine.Seed{Key: req.Key, Definition: def}
	if err := h.Policies.SavePolicy(ctx, seed); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save policy", err)
		return
	}
	h.Log.Info().Str("key", req.Key).Msg("policy saved")

	writeJSON(w, http.StatusCreated, toPolicyDTO(seed))
}

// DeletePolicy removes a stored seed policy.
func (h *Handler) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	key, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid policy key", err)
		return
	}

	err = h.Policies.DeletePolicy(r.Context(), key)
	if errors.Is(err, engine.ErrPolicyNotFound) {
		writeError(w, http.StatusNotFound, "Policy not found", err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete policy", err)
		return
	}
	h.Log.Info().Str("key", key).Msg("policy deleted")

	w.WriteHeader(http.StatusNoContent)
}

// ResolvePolicy answers which policy a posting on an account gets, given the
// definitions its transaction and the posting itself carry.
func (h *Handler) ResolvePolicy(w http.ResponseWriter, r *http.Request) {
	var req ResolvePolicyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Account == "" {
		writeError(w, http.StatusBadRequest, "account is required", nil)
		return
	}
	txDef, err := req.Transaction.Definition()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid transaction definition", err)
		return
	}
	postingDef, err := req.Posting.Definition()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid posting definition", err)
		return
	}

	stored, err := h.Policies.ListPolicies(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load stored policies", err)
		return
	}
	db, err := h.database(stored)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Stored policies are inconsistent", err)
		return
	}

	pol, err := db.PostingPolicy(req.Account, postingDef, txDef)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "No policy applies", err)
		return
	}
	writeJSON(w, http.StatusOK, toResolvedPolicyDTO(req.Account, pol))
}

// database builds a policy database from the configured seeds followed by
// stored ones, the way a render starts.
func (h *Handler) database(stored []engine.Seed) (*policy.Database, error) {
	db := policy.NewDatabase()
	seeds := append(append([]engine.Seed(nil), h.Engine.Config().Seeds...), stored...)
	for _, s := range seeds {
		if err := db.AddPolicy(s.Key, s.Definition); err != nil {
			return nil, &engine.SeedError{Key: s.Key, Err: err}
		}
	}
	return db, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
