// Package metrics registers the Prometheus metrics exported by happin.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var startTime = time.Now()

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "happin_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "happin_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Ingestion metrics
	MessagesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "happin_messages_ingested_total",
			Help: "Inbound webhook payloads by channel and outcome",
		},
		[]string{"channel", "outcome"}, // stored | duplicate | skipped | invalid | unauthorized | error
	)

	// Classification metrics
	Classifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "happin_classifications_total",
			Help: "Classification calls by strategy, operation and outcome",
		},
		[]string{"strategy", "op", "outcome"}, // outcome: ok | fallback
	)

	LLMLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "happin_llm_latency_seconds",
			Help:    "LLM request latency in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	// Enrichment metrics
	EnrichmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "happin_enrichments_total",
			Help: "Enrichment tasks by outcome",
		},
		[]string{"outcome"}, // ok | failed | dropped
	)

	EnrichmentQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "happin_enrichment_queue_depth",
			Help: "Messages waiting in the enrichment queue",
		},
	)

	EnrichmentDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "happin_enrichment_duration_seconds",
			Help:    "Time from dequeue to stored enrichment",
			Buckets: []float64{.01, .05, .1, .5, 1, 2, 5, 10, 30},
		},
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "happin_store_latency_seconds",
			Help:    "Message store operation latency",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .5},
		},
		[]string{"op"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "happin_events_published_total",
			Help: "Lifecycle events forwarded to the broker",
		},
		[]string{"type", "outcome"}, // ok | error | dropped
	)

	_ = promauto.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "happin_uptime_seconds",
			Help: "Time since start in seconds",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

// Handler serves the default registry in Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveStore records the latency of a store operation started at start.
func ObserveStore(op string, start time.Time) {
	StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
