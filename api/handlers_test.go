/*
handlers_test.go - Tests for API handlers

Tests for:
- Rendering inline entries and ledger files, and storing the runs
- Listing and fetching runs
- Seed policy storage, validation and resolution
- Health and metrics endpoints
*/
package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-share/api"
	"github.com/warp/ledger-share/engine"
	"github.com/warp/ledger-share/engine/store"
	"github.com/warp/ledger-share/factory"
	"github.com/warp/ledger-share/observability"
	"github.com/warp/ledger-share/split"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const openFoo = `{"type":"open","date":"2024-01-15","account":"Assets:Foo"}`

const buyFoo = `{"type":"transaction","date":"2024-01-15","flag":"*","narration":"buy foo",
	"meta":{"share-Alice":1,"share-Bob":1},
	"postings":[
		{"account":"Assets:Foo","units":{"number":"100","currency":"USD"}},
		{"account":"Income","units":{"number":"-100","currency":"USD"},"meta":{"share-Alice":1}}]}`

const payRent = `{"type":"transaction","date":"2024-01-15","flag":"*","narration":"rent",
	"postings":[
		{"account":"Expenses:Rent","units":{"number":"400","currency":"USD"}},
		{"account":"Assets:Alice","units":{"number":"-400","currency":"USD"},"meta":{"share-Alice":1}}]}`

type testServer struct {
	handler *api.Handler
	router  http.Handler
	runs    *store.Memory
}

func newTestServer(t *testing.T, loader engine.Loader) *testServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	eng := engine.New(engine.Config{Split: split.DefaultConfig()}, loader, zerolog.Nop(), metrics)
	mem := store.NewMemory()

	h := api.NewHandler(eng, mem, mem, zerolog.Nop())
	h.Health = observability.NewHealthChecker()
	h.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return &testServer{handler: h, router: api.NewRouter(h), runs: mem}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func renderBody(viewpoint string, entries ...string) string {
	body := `{"viewpoint":"` + viewpoint + `","entries":[`
	for i, e := range entries {
		if i > 0 {
			body += ","
		}
		body += e
	}
	return body + "]}"
}

func amountOn(t *testing.T, entries []factory.EntryJSON, account string) decimal.Decimal {
	t.Helper()
	for _, e := range entries {
		for _, p := range e.Postings {
			if p.Account == account {
				return p.Units.Number
			}
		}
	}
	t.Fatalf("no posting on %s", account)
	return decimal.Zero
}

// =============================================================================
// RENDER
// =============================================================================

func TestRender_InlineEntries(t *testing.T) {
	// GIVEN: The shared purchase of Foo, inline
	s := newTestServer(t, nil)

	// WHEN: Rendering Alice's viewpoint
	rec := s.do(t, http.MethodPost, "/api/render", renderBody("Alice", openFoo, buyFoo))

	// THEN: A run is stored with Alice's half and Bob's debt
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	run := decode[api.RunDTO](t, rec)
	assert.Equal(t, "Alice", run.Viewpoint)
	assert.Equal(t, "inline", run.Source)
	assert.Empty(t, run.Errors)
	assert.True(t, amountOn(t, run.Entries, "Assets:Foo").Equal(decimal.NewFromInt(50)))
	assert.True(t, amountOn(t, run.Entries, "Assets:Receivable:Bob").Equal(decimal.NewFromInt(50)))

	// AND: It can be read back
	rec = s.do(t, http.MethodGet, "/api/runs/"+run.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[api.RunDTO](t, rec)
	assert.Equal(t, run.ID, got.ID)
	assert.Len(t, got.Entries, len(run.Entries))
}

func TestRender_EntryErrorsAreReported(t *testing.T) {
	// GIVEN: An enforced transaction no policy applies to
	tx := `{"type":"transaction","date":"2024-01-15","flag":"*","meta":{"share_enforced":true},
		"postings":[
			{"account":"Expenses:Misc","units":{"number":"5","currency":"USD"}},
			{"account":"Assets:Cash","units":{"number":"-5","currency":"USD"}}]}`
	s := newTestServer(t, nil)

	// WHEN: Rendering it
	rec := s.do(t, http.MethodPost, "/api/render", renderBody("Alice", tx))

	// THEN: The render succeeds and the run lists the error
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	run := decode[api.RunDTO](t, rec)
	require.Len(t, run.Errors, 1)
	assert.Contains(t, run.Errors[0], "no applicable policy")
}

func TestRender_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{"viewpoint":`},
		{"invalid viewpoint", renderBody("alice", openFoo)},
		{"unknown entry type", renderBody("Alice", `{"type":"bogus","date":"2024-01-15"}`)},
		{"path and entries", `{"viewpoint":"Alice","path":"main.jsonl","entries":[` + openFoo + `]}`},
		{"path without loader", `{"viewpoint":"Alice","path":"main.jsonl"}`},
	}
	s := newTestServer(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/render", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			resp := decode[api.ErrorResponse](t, rec)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestRender_ByPath(t *testing.T) {
	// GIVEN: A ledger file under the ledger directory
	dir := t.TempDir()
	content := openFoo + "\n" + compact(t, buyFoo) + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.jsonl"), []byte(content), 0o644))
	s := newTestServer(t, factory.NewFileLoader(dir))

	// WHEN: Rendering it for Bob
	rec := s.do(t, http.MethodPost, "/api/render", `{"viewpoint":"Bob","path":"main.jsonl"}`)

	// THEN: The run records the file it came from
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	run := decode[api.RunDTO](t, rec)
	assert.Equal(t, "main.jsonl", run.Source)
	assert.Equal(t, []string{"main.jsonl"}, run.Includes)
	assert.True(t, amountOn(t, run.Entries, "Assets:Receivable:Alice").Equal(decimal.NewFromInt(-50)))

	// AND: Missing files and escaping paths are refused
	rec = s.do(t, http.MethodPost, "/api/render", `{"viewpoint":"Bob","path":"nope.jsonl"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/render", `{"viewpoint":"Bob","path":"../main.jsonl"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func compact(t *testing.T, s string) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.Compact(&buf, []byte(s)))
	return buf.String()
}

// =============================================================================
// RUNS
// =============================================================================

func TestListRuns(t *testing.T) {
	s := newTestServer(t, nil)
	for _, vp := range []string{"Alice", "Bob", "everyone"} {
		rec := s.do(t, http.MethodPost, "/api/render", renderBody(vp, openFoo, buyFoo))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := s.do(t, http.MethodGet, "/api/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[struct {
		Runs []api.RunSummaryDTO `json:"runs"`
	}](t, rec)
	require.Len(t, all.Runs, 3)
	assert.Equal(t, "everyone", all.Runs[0].Viewpoint, "newest first")
	assert.NotZero(t, all.Runs[0].EntryCount)

	rec = s.do(t, http.MethodGet, "/api/runs?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	limited := decode[struct {
		Runs []api.RunSummaryDTO `json:"runs"`
	}](t, rec)
	assert.Len(t, limited.Runs, 2)

	rec = s.do(t, http.MethodGet, "/api/runs?limit=lots", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRun_NotFound(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/runs/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// POLICIES
// =============================================================================

func TestPolicies_StoredSeedAppliesToRenders(t *testing.T) {
	// GIVEN: A stored wildcard policy splitting expenses 3:1
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodPost, "/api/policies",
		`{"key":"Expenses:*","definition":{"weights":{"Alice":3,"Bob":1}}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[api.PolicyDTO](t, rec)
	assert.Equal(t, "wildcard", created.Kind)

	// WHEN: Rendering Alice's rent for Bob
	rec = s.do(t, http.MethodPost, "/api/render", renderBody("Bob", payRent))

	// THEN: Bob carries a quarter of it and owes it to Alice
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	run := decode[api.RunDTO](t, rec)
	assert.Empty(t, run.Errors)
	assert.True(t, amountOn(t, run.Entries, "Expenses:Rent").Equal(decimal.NewFromInt(100)))
	assert.True(t, amountOn(t, run.Entries, "Assets:Receivable:Alice").Equal(decimal.NewFromInt(-100)))
}

func TestPolicies_ListAndDelete(t *testing.T) {
	s := newTestServer(t, nil)
	for _, body := range []string{
		`{"key":"trip","definition":{"weights":{"Alice":1,"Bob":1}}}`,
		`{"key":"Expenses:Travel","definition":{"parent":"trip","enforced":true}}`,
	} {
		rec := s.do(t, http.MethodPost, "/api/policies", body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := s.do(t, http.MethodGet, "/api/policies", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Policies []api.PolicyDTO `json:"policies"`
	}](t, rec)
	require.Len(t, list.Policies, 2)
	assert.Equal(t, "trip", list.Policies[0].Key)
	assert.Equal(t, "name", list.Policies[0].Kind)
	assert.Equal(t, "trip", list.Policies[1].Definition.Parent)

	rec = s.do(t, http.MethodDelete, "/api/policies/"+url.PathEscape("Expenses:Travel"), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodDelete, "/api/policies/"+url.PathEscape("Expenses:Travel"), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPolicies_InvalidAreRefused(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad key", `{"key":"Exp*nses","definition":{"weights":{"Alice":1}}}`},
		{"unknown parent", `{"key":"Expenses:Food","definition":{"parent":"missing"}}`},
		{"lowercase party", `{"key":"trip","definition":{"weights":{"alice":1}}}`},
		{"enforced without ownership", `{"key":"Expenses:Food","definition":{"enforced":true}}`},
	}
	s := newTestServer(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/policies", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	rec := s.do(t, http.MethodGet, "/api/policies", "")
	list := decode[struct {
		Policies []api.PolicyDTO `json:"policies"`
	}](t, rec)
	assert.Empty(t, list.Policies)
}

func TestPolicies_Resolve(t *testing.T) {
	// GIVEN: A stored wildcard policy
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodPost, "/api/policies",
		`{"key":"Expenses:*","definition":{"weights":{"Alice":3,"Bob":1}}}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	// WHEN: Resolving a posting on an account it covers
	rec = s.do(t, http.MethodPost, "/api/policies/resolve", `{"account":"Expenses:Rent"}`)

	// THEN: The wildcard's weights apply
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resolved := decode[api.ResolvedPolicyDTO](t, rec)
	assert.Equal(t, "weighted", resolved.Ownership)
	assert.True(t, resolved.Weights["Alice"].Equal(decimal.NewFromInt(3)))

	// AND: A posting definition overrides it
	rec = s.do(t, http.MethodPost, "/api/policies/resolve",
		`{"account":"Expenses:Rent","posting":{"weights":{"Bob":1}}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resolved = decode[api.ResolvedPolicyDTO](t, rec)
	assert.Len(t, resolved.Weights, 1)

	// AND: An enforced transaction on an uncovered account has no policy
	rec = s.do(t, http.MethodPost, "/api/policies/resolve",
		`{"account":"Assets:Cash","transaction":{"enforced":true}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/policies/resolve", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// OPERATIONS
// =============================================================================

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	s.handler.Health.SetReady(true)
	rec = s.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/render", renderBody("Alice", openFoo, buyFoo))
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = s.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "share_entries_processed_total")
}
