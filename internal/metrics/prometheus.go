package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every exported metric.
const Namespace = "rainbow"

// Prom holds the Prometheus collectors of one process.
type Prom struct {
	Turns          *prometheus.CounterVec
	TurnDuration   prometheus.Histogram
	TurnsInFlight  prometheus.Gauge
	Passes         *prometheus.CounterVec
	Searches       *prometheus.CounterVec
	ToolExecutions *prometheus.CounterVec
	ModelLatency   *prometheus.HistogramVec
	ModelTokens    *prometheus.CounterVec
	ModelErrors    *prometheus.CounterVec

	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewProm registers the collectors on reg. Pass prometheus.DefaultRegisterer
// in production and a fresh prometheus.NewRegistry() in tests.
func NewProm(reg prometheus.Registerer) *Prom {
	factory := promauto.With(reg)

	return &Prom{
		Turns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "turns_total",
				Help:      "Completed orchestration turns by outcome",
			},
			[]string{"outcome"},
		),
		TurnDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "turn_duration_seconds",
				Help:      "Wall time of one orchestration turn",
				Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 45, 90},
			},
		),
		TurnsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "turns_in_flight",
				Help:      "Turns currently running",
			},
		),
		Passes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "model_passes_total",
				Help:      "Model passes by kind (first, second, final)",
			},
			[]string{"pass"},
		),
		Searches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "searches_total",
				Help:      "Uncertainty-triggered searches by outcome",
			},
			[]string{"outcome"},
		),
		ToolExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "tool_executions_total",
				Help:      "Tool invocations by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
		ModelLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "model_latency_seconds",
				Help:      "Latency of model gateway calls",
			},
			[]string{"provider"},
		),
		ModelTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "model_tokens_total",
				Help:      "Tokens consumed by provider and kind (prompt, completion)",
			},
			[]string{"provider", "kind"},
		),
		ModelErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "model_errors_total",
				Help:      "Failed model gateway calls",
			},
			[]string{"provider"},
		),
		RequestCount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
			},
			[]string{"method", "route"},
		),
	}
}
