package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)
	// RateLimited counts requests rejected by the per-tenant limiter
	RateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "http_rate_limited_total", Help: "Requests rejected by the tenant rate limiter."},
	)

	// Evaluations counts compliance evaluations by source and outcome
	Evaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hos_evaluations_total", Help: "HOS compliance evaluations by source and outcome."},
		[]string{"source", "outcome"},
	)
	// Violations counts violations found, by kind and severity
	Violations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hos_violations_total", Help: "HOS violations found, by kind and severity."},
		[]string{"kind", "severity"},
	)
	// Rejections counts trips refused before evaluation
	Rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hos_rejected_trips_total", Help: "Trips rejected before evaluation, by reason."},
		[]string{"reason"},
	)
	// TripDays records how many log days each evaluated trip spans
	TripDays = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "hos_trip_days", Help: "Log days per evaluated trip.", Buckets: []float64{1, 2, 3, 4, 5, 7, 10, 14}},
	)

	// WebhookDeliveries counts webhook delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(RateLimited)
		Registry.MustRegister(Evaluations)
		Registry.MustRegister(Violations)
		Registry.MustRegister(Rejections)
		Registry.MustRegister(TripDays)
		Registry.MustRegister(WebhookDeliveries)
		Registry.MustRegister(WebhookLatency)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
