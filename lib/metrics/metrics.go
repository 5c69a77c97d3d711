// Package metrics exposes Prometheus instrumentation for the serving
// and training paths.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RecommendationRequests counts recommendation queries by strategy
	// and outcome.
	RecommendationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movieapp_recommendation_requests_total",
		Help: "Recommendation queries by strategy and outcome.",
	}, []string{"strategy", "outcome"})

	// TrainingRuns counts training passes by outcome.
	TrainingRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movieapp_training_runs_total",
		Help: "Training runs by outcome.",
	}, []string{"outcome"})

	// TrainingDuration observes wall-clock training time.
	TrainingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "movieapp_training_duration_seconds",
		Help:    "Wall-clock duration of training runs.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	// SnapshotItems tracks the catalog size of the serving snapshot.
	SnapshotItems = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "movieapp_snapshot_items",
		Help: "Catalog items in the serving snapshot.",
	})

	// SnapshotUsers tracks distinct raters in the serving snapshot.
	SnapshotUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "movieapp_snapshot_users",
		Help: "Distinct users with ratings in the serving snapshot.",
	})

	// RequestDuration observes HTTP handler latency by route.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "movieapp_request_duration_seconds",
		Help:    "HTTP request latency by route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "status"})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records per-route request latency. The route label is the
// chi pattern, not the raw path, so high-cardinality ids stay out of
// the metric.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		RequestDuration.WithLabelValues(route, strconv.Itoa(ww.Status())).
			Observe(time.Since(start).Seconds())
	})
}
