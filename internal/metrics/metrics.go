// Package metrics holds the Prometheus collectors shared across the
// service. Everything registers on the default registry and is exposed by
// the HTTP shim's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CommandsTotal counts handled chat commands by command name.
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryptobay_commands_total",
			Help: "Chat commands handled, by command",
		},
		[]string{"command"},
	)

	// CommandErrors counts command failures by reason.
	CommandErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryptobay_command_errors_total",
			Help: "Chat command failures, by reason",
		},
		[]string{"reason"},
	)

	// FeedRequests counts upstream feed calls by endpoint and outcome.
	FeedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryptobay_feed_requests_total",
			Help: "Price feed requests, by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	// FeedLatency tracks upstream feed latency per endpoint.
	FeedLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cryptobay_feed_latency_seconds",
			Help:    "Price feed request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"endpoint"},
	)

	// WatcherCycles counts alert watcher cycles by outcome.
	WatcherCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryptobay_watcher_cycles_total",
			Help: "Alert watcher polling cycles, by outcome",
		},
		[]string{"outcome"},
	)

	// AlertsSent counts delivered alert notifications.
	AlertsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cryptobay_alerts_sent_total",
			Help: "Alert notifications delivered",
		},
	)

	// AlertFailures counts per-recipient delivery failures.
	AlertFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cryptobay_alert_failures_total",
			Help: "Alert notification delivery failures",
		},
	)

	// WSSessions tracks currently connected websocket sessions.
	WSSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cryptobay_ws_sessions",
			Help: "Connected websocket chat sessions",
		},
	)
)
