package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentilytics_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentilytics_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentilytics_http_requests_in_flight",
			Help: "Number of HTTP requests currently being served.",
		},
	)

	RateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentilytics_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter.",
		},
		[]string{"scope"},
	)

	LedgerOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentilytics_ledger_operations_total",
			Help: "Total number of ledger operations by outcome.",
		},
		[]string{"operation", "kind", "result"},
	)

	// LedgerRefundFailuresTotal counts charges that could not be reversed and
	// need manual reconciliation.
	LedgerRefundFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentilytics_ledger_refund_failures_total",
			Help: "Total number of refunds that failed after a collaborator error.",
		},
		[]string{"kind"},
	)

	InferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentilytics_inference_duration_seconds",
			Help:    "Duration of metered inference calls in seconds.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"kind", "outcome"},
	)

	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentilytics_events_published_total",
			Help: "Total number of domain events published to NATS.",
		},
		[]string{"subject", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		HTTPRequestsInFlight,
		RateLimitedTotal,
		LedgerOperationsTotal,
		LedgerRefundFailuresTotal,
		InferenceDuration,
		EventsPublishedTotal,
	)
}
