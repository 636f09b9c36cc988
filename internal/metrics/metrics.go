// Package metrics holds the Prometheus collectors of chatcore.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcore_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatcore_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)

	// Command core metrics
	CommandsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcore_commands_executed_total",
			Help: "Commands executed through a command manager",
		},
		[]string{"command", "result"}, // "success" or "failure"
	)

	CommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatcore_command_duration_seconds",
			Help:    "Command execution time",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcore_events_published_total",
			Help: "Events published on the event bus",
		},
		[]string{"topic"},
	)

	// Processor metrics
	Completions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatcore_completions_total",
			Help: "LLM completions by outcome",
		},
		[]string{"result"}, // "completed", "failed" or "cancelled"
	)

	CompletionLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatcore_completion_latency_seconds",
			Help:    "LLM completion latency",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	InFlightCompletions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatcore_inflight_completions",
			Help: "Completions currently running",
		},
	)
)

// Result labels a success flag.
func Result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
