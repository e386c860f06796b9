// Package metrics aggregates turn events into Prometheus collectors and an
// in-process session summary.
package metrics

import (
	"sync"
	"time"

	"github.com/rainbowcity/rainbow/internal/bus"
	"github.com/rainbowcity/rainbow/internal/llm"
)

// Collector subscribes to the event bus and aggregates metrics.
type Collector struct {
	bus     *bus.Bus
	prom    *Prom
	session *SessionStats
	mu      sync.RWMutex
	subID   bus.SubscriptionID
	stopped bool
}

// SessionStats holds metrics since the collector started.
type SessionStats struct {
	StartTime      time.Time
	Turns          int
	Completed      int
	Failed         int
	InFlight       int
	Passes         int
	Searches       int
	SearchFailures int
	ToolCalls      int
	ToolFailures   int
	ModelCalls     int
	ModelErrors    int
	TokensIn       int64
	TokensOut      int64
	TotalTurnMs    int64
	LastEvent      string
	LastTool       string
	LastEventTime  time.Time
}

// NewCollector creates a collector. prom may be nil to keep only the
// session summary.
func NewCollector(eventBus *bus.Bus, prom *Prom) *Collector {
	return &Collector{
		bus:     eventBus,
		prom:    prom,
		session: &SessionStats{StartTime: time.Now()},
	}
}

// Start begins listening to the event bus.
func (c *Collector) Start() {
	if c.bus == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped || c.subID != "" {
		return
	}
	c.subID = c.bus.Subscribe(bus.EventType(""), c.handleEvent)
}

// Stop stops listening.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.stopped = true
	if c.subID != "" {
		_ = c.bus.Unsubscribe(c.subID)
		c.subID = ""
	}
}

// GetSessionStats returns a copy of the session stats.
func (c *Collector) GetSessionStats() *SessionStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := *c.session
	return &stats
}

// ObserveModelCall records one gateway call. It satisfies llm.Observer.
func (c *Collector) ObserveModelCall(provider string, latency time.Duration, usage llm.Usage, err error) {
	if c.prom != nil {
		c.prom.ModelLatency.WithLabelValues(provider).Observe(latency.Seconds())
		if usage.PromptTokens > 0 {
			c.prom.ModelTokens.WithLabelValues(provider, "prompt").Add(float64(usage.PromptTokens))
		}
		if usage.CompletionTokens > 0 {
			c.prom.ModelTokens.WithLabelValues(provider, "completion").Add(float64(usage.CompletionTokens))
		}
		if err != nil {
			c.prom.ModelErrors.WithLabelValues(provider).Inc()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.session.ModelCalls++
	if err != nil {
		c.session.ModelErrors++
	}
	c.session.TokensIn += int64(usage.PromptTokens)
	c.session.TokensOut += int64(usage.CompletionTokens)
}

// handleEvent is the central event handler.
func (c *Collector) handleEvent(event bus.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	s.LastEvent = string(event.Type)
	s.LastEventTime = event.Timestamp

	switch event.Type {
	case bus.EventTurnStarted:
		s.Turns++
		s.InFlight++
		if c.prom != nil {
			c.prom.TurnsInFlight.Inc()
		}

	case bus.EventPassCompleted:
		s.Passes++
		if c.prom != nil {
			c.prom.Passes.WithLabelValues(event.Pass).Inc()
		}

	case bus.EventSearchCompleted:
		s.Searches++
		if event.Outcome != bus.OutcomeOK {
			s.SearchFailures++
		}
		if c.prom != nil {
			c.prom.Searches.WithLabelValues(event.Outcome).Inc()
		}

	case bus.EventToolExecuted:
		s.ToolCalls++
		if event.Outcome != bus.OutcomeOK {
			s.ToolFailures++
		}
		s.LastTool = event.Tool
		if c.prom != nil {
			c.prom.ToolExecutions.WithLabelValues(event.Tool, event.Outcome).Inc()
		}

	case bus.EventTurnCompleted, bus.EventTurnFailed:
		if event.Type == bus.EventTurnCompleted {
			s.Completed++
		} else {
			s.Failed++
		}
		if s.InFlight > 0 {
			s.InFlight--
		}
		s.TotalTurnMs += event.DurationMs
		if c.prom != nil {
			c.prom.TurnsInFlight.Dec()
			c.prom.Turns.WithLabelValues(event.Outcome).Inc()
			c.prom.TurnDuration.Observe(float64(event.DurationMs) / 1000.0)
		}
	}
}
