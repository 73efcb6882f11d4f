// Package telemetry exposes Prometheus metrics for the dashboard sync client.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesReceived counts inbound WebSocket frames by message type.
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthdash",
		Subsystem: "ws",
		Name:      "messages_received_total",
		Help:      "Inbound WebSocket messages by type.",
	}, []string{"type"})

	// MessagesSent counts outbound frames by type and whether the write succeeded.
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthdash",
		Subsystem: "ws",
		Name:      "messages_sent_total",
		Help:      "Outbound WebSocket messages by type and outcome.",
	}, []string{"type", "outcome"})

	// HandlerErrors counts subscriber callbacks that failed or panicked.
	HandlerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthdash",
		Subsystem: "ws",
		Name:      "handler_errors_total",
		Help:      "Subscriber handler failures by message type.",
	}, []string{"type"})

	// ReconnectAttempts counts scheduled reconnects.
	ReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "healthdash",
		Subsystem: "ws",
		Name:      "reconnect_attempts_total",
		Help:      "Reconnect attempts scheduled after unexpected closes.",
	})

	// ConnectionState mirrors the connection manager status
	// (0 disconnected, 1 connecting, 2 connected, 3 given up).
	ConnectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "healthdash",
		Subsystem: "ws",
		Name:      "connection_state",
		Help:      "Current connection manager status.",
	})

	// APIRequests counts REST calls by endpoint and outcome.
	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthdash",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "REST requests by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	// APIRequestDuration observes REST latency by endpoint.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "healthdash",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "REST request latency by endpoint.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint"})

	// FetchErrors counts failed snapshot fetches by store and slice.
	FetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthdash",
		Subsystem: "store",
		Name:      "fetch_errors_total",
		Help:      "Failed snapshot fetches by store and slice.",
	}, []string{"store", "slice"})
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
