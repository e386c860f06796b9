package llm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rainbowcity/rainbow/internal/conversation"
	"github.com/rainbowcity/rainbow/internal/logging"
	"github.com/rainbowcity/rainbow/internal/tools"
)

// ═══════════════════════════════════════════════════════════════════════════════
// COST RATES (per million tokens)
// ═══════════════════════════════════════════════════════════════════════════════

// ProviderCostRates defines cost per million tokens for a provider.
type ProviderCostRates struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// CostRates maps provider names to their token costs (USD per million tokens).
var CostRates = map[string]ProviderCostRates{
	"ollama":     {0.0, 0.0},
	"openai":     {2.50, 10.00}, // GPT-4o
	"groq":       {0.59, 0.79},  // Llama 3.3 70B
	"grok":       {2.00, 10.00},
	"openrouter": {1.00, 2.00}, // varies by model
}

// GetCostRate returns the cost rate for a provider.
func GetCostRate(provider string) ProviderCostRates {
	if rate, ok := CostRates[provider]; ok {
		return rate
	}
	return ProviderCostRates{1.0, 2.0}
}

// Observer receives one record per model call.
type Observer func(provider string, latency time.Duration, usage Usage, err error)

// MetricsGateway wraps a Gateway with timing and usage accounting.
type MetricsGateway struct {
	gateway Gateway
	name    string
	log     *logging.Logger
	observe Observer

	totalCalls        atomic.Int64
	totalErrors       atomic.Int64
	totalInputTokens  atomic.Int64
	totalOutputTokens atomic.Int64

	mu               sync.Mutex
	totalLatency     time.Duration
	maxLatency       time.Duration
	estimatedCostUSD float64
}

// GatewayStats is a snapshot of MetricsGateway counters.
type GatewayStats struct {
	Provider         string        `json:"provider"`
	Calls            int64         `json:"calls"`
	Errors           int64         `json:"errors"`
	InputTokens      int64         `json:"input_tokens"`
	OutputTokens     int64         `json:"output_tokens"`
	AvgLatency       time.Duration `json:"avg_latency"`
	MaxLatency       time.Duration `json:"max_latency"`
	EstimatedCostUSD float64       `json:"estimated_cost_usd"`
}

// NewMetricsGateway wraps gateway. observe may be nil.
func NewMetricsGateway(gateway Gateway, observe Observer) *MetricsGateway {
	return &MetricsGateway{
		gateway: gateway,
		name:    gateway.Name(),
		log:     logging.Global().WithComponent("llm"),
		observe: observe,
	}
}

// Invoke implements Gateway.
func (m *MetricsGateway) Invoke(ctx context.Context, messages []conversation.Message, defs []tools.Definition) (*Response, error) {
	start := time.Now()
	m.log.Debug("[LLM-Metrics] Starting %s call (%d messages, %d tools)", m.name, len(messages), len(defs))

	resp, err := m.gateway.Invoke(ctx, messages, defs)
	latency := time.Since(start)

	var usage Usage
	if resp != nil {
		usage = resp.Usage
	}

	m.totalCalls.Add(1)
	if err != nil {
		m.totalErrors.Add(1)
	}
	m.totalInputTokens.Add(int64(usage.PromptTokens))
	m.totalOutputTokens.Add(int64(usage.CompletionTokens))

	rates := GetCostRate(m.name)
	cost := float64(usage.PromptTokens)/1_000_000.0*rates.InputPerMillion +
		float64(usage.CompletionTokens)/1_000_000.0*rates.OutputPerMillion

	m.mu.Lock()
	m.totalLatency += latency
	if latency > m.maxLatency {
		m.maxLatency = latency
	}
	m.estimatedCostUSD += cost
	m.mu.Unlock()

	if err != nil {
		m.log.Warn("[LLM-Metrics] %s FAILED after %v: %v", m.name, latency, err)
	} else {
		m.log.Info("[LLM-Metrics] %s completed in %v (%d tokens, $%.6f)", m.name, latency, usage.TotalTokens, cost)
	}

	if m.observe != nil {
		m.observe(m.name, latency, usage, err)
	}
	return resp, err
}

// Name implements Gateway.
func (m *MetricsGateway) Name() string {
	return m.name
}

// Stats returns current counters.
func (m *MetricsGateway) Stats() GatewayStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	calls := m.totalCalls.Load()
	var avg time.Duration
	if calls > 0 {
		avg = m.totalLatency / time.Duration(calls)
	}
	return GatewayStats{
		Provider:         m.name,
		Calls:            calls,
		Errors:           m.totalErrors.Load(),
		InputTokens:      m.totalInputTokens.Load(),
		OutputTokens:     m.totalOutputTokens.Load(),
		AvgLatency:       avg,
		MaxLatency:       m.maxLatency,
		EstimatedCostUSD: m.estimatedCostUSD,
	}
}

// Unwrap returns the wrapped gateway.
func (m *MetricsGateway) Unwrap() Gateway {
	return m.gateway
}
