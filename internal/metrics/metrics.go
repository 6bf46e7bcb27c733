// Package metrics exposes Prometheus collectors for the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors are registered at import time so every consumer, including
// tests, can record observations without a setup call.
var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	autosaveWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autosave_writes_total",
			Help: "Total number of autosave writes, labeled by kind (auto or manual).",
		},
		[]string{"kind"},
	)

	draftVersionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draft_versions_total",
			Help: "Total number of version history snapshots created, labeled by origin.",
		},
		[]string{"origin"},
	)

	realtimeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_connections",
			Help: "Number of websocket connections currently open.",
		},
	)

	realtimeMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_messages_total",
			Help: "Total realtime messages handled, labeled by event and direction.",
		},
		[]string{"event", "direction"},
	)

	schedulerPacerDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduler_pacer_delay_seconds",
			Help:    "Histogram of per-host pacing wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveAutosave increments the autosave write counter for the given kind.
func ObserveAutosave(kind string) {
	autosaveWritesTotal.WithLabelValues(kind).Inc()
}

// ObserveVersion increments the snapshot counter for the given origin.
func ObserveVersion(origin string) {
	draftVersionsTotal.WithLabelValues(origin).Inc()
}

// IncConnections increments the websocket connection gauge.
func IncConnections() {
	realtimeConnections.Inc()
}

// DecConnections decrements the websocket connection gauge.
func DecConnections() {
	realtimeConnections.Dec()
}

// ObserveRealtimeMessage counts one realtime message.
func ObserveRealtimeMessage(event, direction string) {
	realtimeMessagesTotal.WithLabelValues(event, direction).Inc()
}

// ObservePacerDelay records the duration of a pacing wait.
func ObservePacerDelay(host string, duration time.Duration) {
	schedulerPacerDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}
