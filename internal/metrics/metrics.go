// Package metrics exposes Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	documentsTotal       *prometheus.CounterVec
	dependencyRequests   *prometheus.CounterVec
	crawlPagesTotal      *prometheus.CounterVec
	crawlShortCircuits   *prometheus.CounterVec
	unitFailuresTotal    *prometheus.CounterVec
	unitsInFlight        prometheus.Gauge
	sourceFetchDurations *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		documentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sportsfeed_documents_total",
				Help: "Documents processed by ingestion, labeled by kind and outcome (created/updated/unchanged).",
			},
			[]string{"document_kind", "outcome"},
		)

		dependencyRequests = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sportsfeed_dependency_requests_total",
				Help: "Dependency-request events published, labeled by requested kind.",
			},
			[]string{"document_kind"},
		)

		crawlPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sportsfeed_crawl_pages_total",
				Help: "Listing pages walked per crawl definition.",
			},
			[]string{"definition"},
		)

		crawlShortCircuits = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sportsfeed_crawl_short_circuits_total",
				Help: "Crawls skipped because the stored count matched the source count.",
			},
			[]string{"definition"},
		)

		unitFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sportsfeed_unit_failures_total",
				Help: "Processing unit failures, labeled by class (transient/validation/configuration).",
			},
			[]string{"class"},
		)

		unitsInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sportsfeed_units_in_flight",
				Help: "Processing units currently being handled by workers.",
			},
		)

		sourceFetchDurations = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sportsfeed_source_fetch_duration_seconds",
				Help:    "Latency of fetches against the provider API.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"operation"},
		)
	})
}

// Handler returns an http.Handler exposing the collectors.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDocument counts one ingestion outcome.
func ObserveDocument(kind, outcome string) {
	documentsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveDependencyRequest counts one published dependency request.
func ObserveDependencyRequest(kind string) {
	dependencyRequests.WithLabelValues(kind).Inc()
}

// ObserveCrawlPage counts one walked listing page.
func ObserveCrawlPage(definition string) {
	crawlPagesTotal.WithLabelValues(definition).Inc()
}

// ObserveShortCircuit counts one skipped crawl.
func ObserveShortCircuit(definition string) {
	crawlShortCircuits.WithLabelValues(definition).Inc()
}

// ObserveUnitFailure counts one failed unit by class.
func ObserveUnitFailure(class string) {
	unitFailuresTotal.WithLabelValues(class).Inc()
}

// IncUnitsInFlight increments the in-flight gauge.
func IncUnitsInFlight() {
	unitsInFlight.Inc()
}

// DecUnitsInFlight decrements the in-flight gauge.
func DecUnitsInFlight() {
	unitsInFlight.Dec()
}

// ObserveSourceFetch records the latency of one provider call.
func ObserveSourceFetch(operation string, seconds float64) {
	sourceFetchDurations.WithLabelValues(operation).Observe(seconds)
}
