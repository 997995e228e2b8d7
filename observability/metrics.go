package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of the sharing engine. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// --- Engine ---
	EntriesProcessed *prometheus.CounterVec
	EntryErrors      *prometheus.CounterVec
	Renders          *prometheus.CounterVec
	RenderDuration   prometheus.Histogram

	// --- Links ---
	LinksMerged prometheus.Counter

	// --- Store ---
	RunsSaved prometheus.Counter
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EntriesProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "share_entries_processed_total",
			Help: "Ledger entries processed, by directive kind",
		}, []string{"kind"}),

		EntryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "share_entry_errors_total",
			Help: "Errors recorded against entries, hard or soft",
		}, []string{"class"}),

		Renders: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "share_renders_total",
			Help: "Completed top-level renders, by viewpoint kind",
		}, []string{"viewpoint"}),

		RenderDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "share_render_duration_seconds",
			Help:    "Wall time of a top-level render",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		LinksMerged: factory.NewCounter(prometheus.CounterOpts{
			Name: "share_links_merged_total",
			Help: "Linked transaction groups merged into one entry",
		}),

		RunsSaved: factory.NewCounter(prometheus.CounterOpts{
			Name: "share_runs_saved_total",
			Help: "Render runs persisted",
		}),
	}
}

// EntryProcessed counts one entry of kind.
func (m *Metrics) EntryProcessed(kind string) {
	if m == nil {
		return
	}
	m.EntriesProcessed.WithLabelValues(kind).Inc()
}

// EntryError counts one recorded error.
func (m *Metrics) EntryError(soft bool) {
	if m == nil {
		return
	}
	class := "hard"
	if soft {
		class = "soft"
	}
	m.EntryErrors.WithLabelValues(class).Inc()
}

// Render records a finished render started at start.
func (m *Metrics) Render(viewpoint string, start time.Time) {
	if m == nil {
		return
	}
	m.Renders.WithLabelValues(viewpoint).Inc()
	m.RenderDuration.Observe(time.Since(start).Seconds())
}

// Merged counts merged link groups.
func (m *Metrics) Merged(n int) {
	if m == nil || n == 0 {
		return
	}
	m.LinksMerged.Add(float64(n))
}

// RunSaved counts one persisted run.
func (m *Metrics) RunSaved() {
	if m == nil {
		return
	}
	m.RunsSaved.Inc()
}
