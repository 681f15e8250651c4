// Package metrics holds the Prometheus collectors exported by channelmesh.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channelmesh_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "channelmesh_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Delegation metrics
	InvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channelmesh_invocations_total",
			Help: "Total agent invocations by outcome",
		},
		[]string{"outcome"}, // "completed", "failed", "duplicate", "depth_limit", "budget"
	)

	InvocationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "channelmesh_invocation_duration_seconds",
			Help:    "Duration of one agent invocation including tool steps",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	StreamEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channelmesh_stream_events_total",
			Help: "Total classified stream events",
		},
		[]string{"kind"},
	)

	DepthStopsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "channelmesh_depth_stops_total",
			Help: "Branches stopped by the collaboration depth ceiling",
		},
	)

	FanoutChildrenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "channelmesh_fanout_children_total",
			Help: "Total child branches spawned by mentions",
		},
	)

	PersistenceWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channelmesh_persistence_writes_total",
			Help: "Placeholder content writes",
		},
		[]string{"result"}, // "ok" or "error"
	)

	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channelmesh_tool_calls_total",
			Help: "Total tool executions",
		},
		[]string{"tool", "outcome"},
	)

	// Live feed
	LiveSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "channelmesh_live_subscribers",
			Help: "Open websocket subscriptions",
		},
	)
)

// Outcome maps an error onto the "ok"/"error" label pair.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
