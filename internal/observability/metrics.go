package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pegacorn/hestia/internal/repository"
	"github.com/pegacorn/hestia/pkg/types"
)

const namespace = "hestia"

// Metrics holds the Prometheus collectors for hestia and the parameter usage
// statistics. It implements repository.Observer and export.Observer.
type Metrics struct {
	registry *prometheus.Registry
	stats    *QueryStats

	writes         *prometheus.CounterVec
	searches       *prometheus.CounterVec
	searchDuration *prometheus.HistogramVec
	searchResults  *prometheus.CounterVec
	exported       *prometheus.CounterVec
	exportDuration *prometheus.HistogramVec
}

// NewMetrics registers the collectors on registry. If registry is nil a new
// one is created. stats may be nil.
func NewMetrics(registry *prometheus.Registry, stats *QueryStats) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: registry,
		stats:    stats,
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writes_total",
			Help:      "Records written, by kind and outcome.",
		}, []string{"kind", "status"}),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Searches run, by kind and outcome.",
		}, []string{"kind", "status"}),
		searchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Time spent scanning for a search.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"kind"}),
		searchResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_results_total",
			Help:      "Records returned by searches.",
		}, []string{"kind"}),
		exported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_records_total",
			Help:      "Records written to the export sink, by kind and outcome.",
		}, []string{"kind", "status"}),
		exportDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "export_duration_seconds",
			Help:      "Time spent exporting one kind.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"kind"}),
	}
	registry.MustRegister(
		m.writes,
		m.searches,
		m.searchDuration,
		m.searchResults,
		m.exported,
		m.exportDuration,
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Stats returns the parameter usage statistics, or nil.
func (m *Metrics) Stats() *QueryStats { return m.stats }

// ObserveWrite implements repository.Observer.
func (m *Metrics) ObserveWrite(kind types.Kind, status repository.Status, n int) {
	m.writes.WithLabelValues(string(kind), string(status)).Add(float64(n))
}

// ObserveSearch implements repository.Observer. Searches that never reached
// the store are counted but not timed.
func (m *Metrics) ObserveSearch(kind types.Kind, params []string, status string, d time.Duration, results int) {
	k := string(kind)
	m.searches.WithLabelValues(k, status).Inc()
	if status == repository.SearchFailed && d == 0 {
		return
	}
	if status != repository.SearchEmpty {
		m.searchDuration.WithLabelValues(k).Observe(d.Seconds())
		m.searchResults.WithLabelValues(k).Add(float64(results))
	}
	if m.stats != nil {
		m.stats.RecordSearch(kind, params, results)
	}
}

// ObserveExport implements export.Observer.
func (m *Metrics) ObserveExport(kind types.Kind, exported, failed int, d time.Duration) {
	k := string(kind)
	m.exported.WithLabelValues(k, "success").Add(float64(exported))
	m.exported.WithLabelValues(k, "failed").Add(float64(failed))
	m.exportDuration.WithLabelValues(k).Observe(d.Seconds())
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
