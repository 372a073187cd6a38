package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP surface
	RelayRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quotemail_relay_requests_total",
		Help: "Total number of relay requests grouped by endpoint and result",
	}, []string{"endpoint", "result"})
	RelayRateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quotemail_relay_rate_limited_total",
		Help: "Total number of relay requests rejected by the per-client rate limiter",
	}, []string{"endpoint"})
	PDFFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quotemail_pdf_fetches_total",
		Help: "Total number of source PDF fetches grouped by result",
	}, []string{"result"})

	// SMTP session pool metrics
	SMTPSessionsOpened = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quotemail_smtp_sessions_opened_total",
		Help: "Total number of SMTP sessions opened and authenticated",
	}, []string{"host"})
	SMTPSessionDialFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quotemail_smtp_session_dial_failures_total",
		Help: "Total number of failed SMTP session establishments grouped by reason (connect/auth)",
	}, []string{"host", "reason"})
	SMTPProbeFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quotemail_smtp_probe_failures_total",
		Help: "Total number of failed liveness probes (NOOP) on pooled SMTP sessions",
	}, []string{"host"})
	SMTPSessionsDiscarded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quotemail_smtp_sessions_discarded_total",
		Help: "Total number of pooled SMTP sessions removed from the pool",
	}, []string{"host"})
	SMTPSessionsLive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quotemail_smtp_sessions_live",
		Help: "Number of SMTP sessions currently held by the pool",
	}, []string{"host"})

	// Delivery metrics
	DeliveryAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quotemail_delivery_attempts_total",
		Help: "Total number of delivery attempts grouped by result",
	}, []string{"host", "result"})
	DeliverySucceeded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quotemail_delivery_succeeded_total",
		Help: "Total number of messages delivered",
	}, []string{"host"})
	DeliveryFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quotemail_delivery_failed_total",
		Help: "Total number of messages that failed after all attempts",
	}, []string{"host"})
	DeliveryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quotemail_delivery_duration_seconds",
		Help:    "Time from dequeue until the terminal delivery outcome, retries included",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"host"})
	DeliveryQueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quotemail_delivery_queued_total",
		Help: "Total number of delivery jobs accepted by the queue",
	}, []string{"host"})
	DeliveryQueueDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quotemail_delivery_queue_dropped_total",
		Help: "Total number of delivery jobs rejected by the queue grouped by reason",
	}, []string{"host", "reason"})
	DeliveryQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quotemail_delivery_queue_depth",
		Help: "Number of delivery jobs waiting for a worker",
	}, []string{"host"})

	// Outcome sinks
	OutcomeSinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quotemail_outcome_sink_errors_total",
		Help: "Total number of delivery outcomes a sink failed to record",
	}, []string{"sink"})
)

func init() {
	prometheus.MustRegister(RelayRequests)
	prometheus.MustRegister(RelayRateLimited)
	prometheus.MustRegister(PDFFetches)
	prometheus.MustRegister(SMTPSessionsOpened)
	prometheus.MustRegister(SMTPSessionDialFailures)
	prometheus.MustRegister(SMTPProbeFailures)
	prometheus.MustRegister(SMTPSessionsDiscarded)
	prometheus.MustRegister(SMTPSessionsLive)
	prometheus.MustRegister(DeliveryAttempts)
	prometheus.MustRegister(DeliverySucceeded)
	prometheus.MustRegister(DeliveryFailed)
	prometheus.MustRegister(DeliveryDuration)
	prometheus.MustRegister(DeliveryQueued)
	prometheus.MustRegister(DeliveryQueueDropped)
	prometheus.MustRegister(DeliveryQueueDepth)
	prometheus.MustRegister(OutcomeSinkErrors)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
