// Package metrics provides Prometheus instrumentation for Kestrel.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, route and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and route.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kestrel",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// RunsTotal counts detection runs by final status.
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "runs_total",
			Help:      "Total detection runs by status.",
		},
		[]string{"status"},
	)

	// RecordsScored counts records that went through the ensemble.
	RecordsScored = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kestrel",
		Name:      "records_scored_total",
		Help:      "Total records scored.",
	})

	// RecordsFlagged counts records the ensemble flagged, by risk category.
	RecordsFlagged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "records_flagged_total",
			Help:      "Total anomalous records by risk category.",
		},
		[]string{"category"},
	)

	// RecordsDropped counts input rows discarded during preprocessing.
	RecordsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kestrel",
		Name:      "records_dropped_total",
		Help:      "Total input rows dropped for a missing user, amount or timestamp.",
	})

	// RunDuration observes end-to-end pipeline time.
	RunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kestrel",
		Name:      "run_duration_seconds",
		Help:      "Detection pipeline duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	// StageDuration observes each pipeline stage.
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kestrel",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"stage"},
	)

	// AlertsPublished counts high-risk alerts sent to the event bus.
	AlertsPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kestrel",
		Name:      "alerts_published_total",
		Help:      "Total high-risk alerts published.",
	})

	// UploadsThrottled counts uploads rejected by the per-tenant limit.
	UploadsThrottled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kestrel",
		Name:      "uploads_throttled_total",
		Help:      "Total uploads rejected by the per-tenant rate limit.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		RunsTotal,
		RecordsScored,
		RecordsFlagged,
		RecordsDropped,
		RunDuration,
		StageDuration,
		AlertsPublished,
		UploadsThrottled,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveStage records how long a stage took since start.
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
