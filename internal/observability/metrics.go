package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects the operational counters for the notebook service:
// cell executions, assistant actions, and model provider calls.
//
// Metrics are registered against the given registerer so tests can use an
// isolated registry instead of the process-global default.
type Metrics struct {
	// CellExecutions counts kernel executions by outcome.
	// Labels: outcome (completed|errored|interrupted|rejected)
	CellExecutions *prometheus.CounterVec

	// CellExecutionDuration measures execution wall time in seconds.
	CellExecutionDuration prometheus.Histogram

	// AssistantActions counts dispatched actions.
	// Labels: tool, status (success|error)
	AssistantActions *prometheus.CounterVec

	// ProviderRequests counts LLM calls.
	// Labels: provider, status (success|error|fallback)
	ProviderRequests *prometheus.CounterVec

	// ProviderRequestDuration measures LLM call latency in seconds.
	// Labels: provider
	ProviderRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics. Call once per registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CellExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jot_cell_executions_total",
				Help: "Cell executions by terminal outcome",
			},
			[]string{"outcome"},
		),
		CellExecutionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "jot_cell_execution_duration_seconds",
				Help:    "Wall time of cell executions",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
		),
		AssistantActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jot_assistant_actions_total",
				Help: "Dispatched assistant actions by tool and status",
			},
			[]string{"tool", "status"},
		),
		ProviderRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jot_provider_requests_total",
				Help: "Model provider requests by provider and status",
			},
			[]string{"provider", "status"},
		),
		ProviderRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jot_provider_request_duration_seconds",
				Help:    "Latency of model provider requests",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider"},
		),
	}

	reg.MustRegister(
		m.CellExecutions,
		m.CellExecutionDuration,
		m.AssistantActions,
		m.ProviderRequests,
		m.ProviderRequestDuration,
	)
	return m
}

// NopMetrics returns metrics bound to a throwaway registry.
func NopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
