package observability_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ledger-share/observability"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, observability.ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, observability.ParseLevel(" WARN "))
	assert.Equal(t, zerolog.InfoLevel, observability.ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, observability.ParseLevel("loud"))
}

func TestNewLoggerTo_TagsComponent(t *testing.T) {
	var buf bytes.Buffer
	log := observability.NewLoggerTo(&buf, "engine", zerolog.InfoLevel)

	log.Info().Msg("hello")
	log.Debug().Msg("hidden")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "engine", line["component"])
	assert.Equal(t, "hello", line["message"])
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var pb dto.Metric
	require.NoError(t, c.Write(&pb))
	return pb.GetCounter().GetValue()
}

func TestMetrics_Counters(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())

	m.EntryProcessed("transaction")
	m.EntryProcessed("transaction")
	m.EntryError(true)
	m.Merged(2)
	m.Render("party", time.Now())

	assert.Equal(t, 2.0, counterValue(t, m.EntriesProcessed.WithLabelValues("transaction")))
	assert.Equal(t, 1.0, counterValue(t, m.EntryErrors.WithLabelValues("soft")))
	assert.Equal(t, 2.0, counterValue(t, m.LinksMerged))
	assert.Equal(t, 1.0, counterValue(t, m.Renders.WithLabelValues("party")))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *observability.Metrics

	assert.NotPanics(t, func() {
		m.EntryProcessed("open")
		m.EntryError(false)
		m.Merged(1)
		m.Render("nobody", time.Now())
		m.RunSaved()
	})
}

func TestHealthChecker(t *testing.T) {
	h := observability.NewHealthChecker()

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h.SetReady(true)
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alive")
}
