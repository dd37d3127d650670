// Package metrics provides Prometheus metrics for the price engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FetchAttemptsTotal is a counter of fetch attempts per source.
	FetchAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_fetch_attempts_total",
			Help: "Total number of fetch attempts against price sources",
		},
		[]string{"source", "status"},
	)

	// FetchDuration is a histogram of per-source fetch latencies.
	FetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "source_fetch_duration_seconds",
			Help:    "Duration of fetch calls against price sources",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"source"},
	)

	// ObservationsIngested is a counter of observations accepted into the pipeline.
	ObservationsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "observations_ingested_total",
			Help: "Total number of price observations accepted from sources",
		},
		[]string{"source"},
	)

	// ObservationsDropped is a counter of observations rejected during cleaning.
	ObservationsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "observations_dropped_total",
			Help: "Total number of malformed observations dropped before aggregation",
		},
		[]string{"source"},
	)

	// SourceHealth is a gauge of the health classification of price sources.
	SourceHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "source_health",
			Help: "Health status of price sources (2=healthy, 1=degraded, 0=failed, -1=unknown)",
		},
		[]string{"source"},
	)

	// SourceSuccessRate is a gauge of the rolling success rate per source.
	SourceSuccessRate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "source_success_rate",
			Help: "Rolling success rate of fetch attempts per source (0..1)",
		},
		[]string{"source"},
	)

	// AggregationDuration is a histogram of consensus aggregation duration.
	AggregationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "consensus_aggregation_duration_seconds",
			Help:    "Duration of consensus aggregation runs",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ConsensusProducts is a gauge of products with a consensus price in the last run.
	ConsensusProducts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "consensus_products",
			Help: "Number of product/date groups with a consensus price in the last run",
		},
	)

	// OutlierRejectionsTotal is a counter of rejected outlier prices.
	OutlierRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outlier_rejections_total",
			Help: "Total number of outlier prices rejected by the MAD filter",
		},
		[]string{"product"},
	)

	// IndexValue is a gauge of the latest chained index value.
	IndexValue = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "price_index_value",
			Help: "Latest value of the base-100 chained price index",
		},
	)

	// HTTPRequestsTotal is a counter of total HTTP requests.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status"},
	)

	// HTTPRequestDuration is a histogram of HTTP request latencies.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"endpoint"},
	)
)

// Init initializes the Prometheus metrics registry.
func Init() {
	prometheus.MustRegister(
		FetchAttemptsTotal,
		FetchDuration,
		ObservationsIngested,
		ObservationsDropped,
		SourceHealth,
		SourceSuccessRate,
		AggregationDuration,
		ConsensusProducts,
		OutlierRejectionsTotal,
		IndexValue,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// ServeHTTP serves Prometheus metrics on the specified address.
func ServeHTTP(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

// RecordFetch records a fetch attempt against a source.
func RecordFetch(source string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	FetchAttemptsTotal.WithLabelValues(source, status).Inc()
	FetchDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordObservations records accepted and dropped observation counts for a source.
func RecordObservations(source string, ingested, dropped int) {
	ObservationsIngested.WithLabelValues(source).Add(float64(ingested))
	ObservationsDropped.WithLabelValues(source).Add(float64(dropped))
}

// RecordSourceHealth records the health classification of a source.
func RecordSourceHealth(source string, statusValue float64, successRate float64) {
	SourceHealth.WithLabelValues(source).Set(statusValue)
	SourceSuccessRate.WithLabelValues(source).Set(successRate)
}

// RecordAggregation records a consensus aggregation run.
func RecordAggregation(duration time.Duration, products int) {
	AggregationDuration.Observe(duration.Seconds())
	ConsensusProducts.Set(float64(products))
}

// RecordOutlierRejection records an outlier rejection for a product.
func RecordOutlierRejection(product string) {
	OutlierRejectionsTotal.WithLabelValues(product).Inc()
}

// RecordIndexValue records the latest chained index value.
func RecordIndexValue(v float64) {
	IndexValue.Set(v)
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}
