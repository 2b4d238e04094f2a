package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	LocaleFetches       *prometheus.CounterVec
	LocaleFetchDuration *prometheus.HistogramVec
	ItemsExtracted      prometheus.Counter
	ActiveSessions      prometheus.Gauge
	CacheHits           prometheus.Counter
	ErrorsTotal         *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics registers the collectors with reg. Tests pass a fresh
// prometheus.NewRegistry(); main passes prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		LocaleFetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "iap_locale_fetches_total",
			Help: "Locale fetches by outcome",
		}, []string{"outcome"}), // success, empty, timeout, navigation, unexpected
		LocaleFetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "iap_locale_fetch_duration_seconds",
			Help:    "Duration of a single locale fetch",
			Buckets: []float64{1, 2, 5, 10, 15, 20, 30, 45, 60},
		}, []string{"outcome"}),
		ItemsExtracted: f.NewCounter(prometheus.CounterOpts{
			Name: "iap_items_extracted_total",
			Help: "Listing items extracted across all locales",
		}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "iap_browser_sessions_active",
			Help: "Browser sessions currently open",
		}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "iap_cache_hits_total",
			Help: "Locale results served from the cache",
		}),
		ErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "iap_errors_total",
			Help: "The total number of errors encountered",
		}, []string{"type"}), // e.g. 'cache_read', 'snapshot_save', 'session_close'
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "iap_http_requests_total",
			Help: "HTTP requests by route pattern and status",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "iap_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) ObserveLocaleFetch(outcome string, seconds float64) {
	m.LocaleFetches.WithLabelValues(outcome).Inc()
	m.LocaleFetchDuration.WithLabelValues(outcome).Observe(seconds)
}

func (m *Metrics) AddItems(n int) {
	m.ItemsExtracted.Add(float64(n))
}

func (m *Metrics) IncErrorsTotal(errorType string) {
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
