// Package metrics defines the Prometheus collectors for the server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive tracks currently open websocket connections.
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parley_connections_active",
		Help: "Number of open chat connections.",
	})

	// FramesInbound counts inbound frames by disposition.
	FramesInbound = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_frames_inbound_total",
		Help: "Inbound frames by disposition (accepted, rejected, delete).",
	}, []string{"disposition"})

	// FramesOutbound counts outbound frames by kind.
	FramesOutbound = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_frames_outbound_total",
		Help: "Outbound frames by kind.",
	}, []string{"kind"})

	// TurnsTotal counts finished turns by outcome.
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_turns_total",
		Help: "Finished turns by outcome (completed, failed, cancelled).",
	}, []string{"outcome"})

	// TurnDuration observes wall time from dispatch to terminal state.
	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "parley_turn_duration_seconds",
		Help:    "Turn duration from dispatch to terminal state.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	// FragmentsStreamed counts fragments forwarded to clients.
	FragmentsStreamed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_fragments_streamed_total",
		Help: "Streamed fragments forwarded to clients.",
	})

	// HTTPDuration observes REST request latency.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parley_http_request_duration_seconds",
		Help:    "HTTP request latency by method, path pattern and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)
