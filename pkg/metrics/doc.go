// Package metrics defines Prometheus metrics for the quote relay,
// covering the HTTP endpoints, PDF fetches, the SMTP session pool,
// the delivery queue and outcome sinks.
package metrics
