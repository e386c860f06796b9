package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rainbowcity/rainbow/internal/bus"
	"github.com/rainbowcity/rainbow/internal/llm"
)

func publishTurn(b *bus.Bus) {
	b.Publish(bus.NewEvent(bus.EventTurnStarted, "s1", "t1"))

	pass := bus.NewEvent(bus.EventPassCompleted, "s1", "t1")
	pass.Pass = "first"
	b.Publish(pass)

	search := bus.NewEvent(bus.EventSearchCompleted, "s1", "t1")
	search.Outcome = bus.OutcomeError
	b.Publish(search)

	tool := bus.NewEvent(bus.EventToolExecuted, "s1", "t1")
	tool.Tool = "generate_ai_id"
	tool.Outcome = bus.OutcomeOK
	b.Publish(tool)

	pass = bus.NewEvent(bus.EventPassCompleted, "s1", "t1")
	pass.Pass = "final"
	b.Publish(pass)

	done := bus.NewEvent(bus.EventTurnCompleted, "s1", "t1")
	done.Outcome = bus.OutcomeOK
	done.DurationMs = 1500
	b.Publish(done)
}

func TestCollector_Events(t *testing.T) {
	b := bus.NewBus()
	defer b.Close()

	reg := prometheus.NewRegistry()
	prom := NewProm(reg)
	c := NewCollector(b, prom)
	c.Start()
	defer c.Stop()

	publishTurn(b)

	require.Eventually(t, func() bool {
		return c.GetSessionStats().Completed == 1
	}, time.Second, 10*time.Millisecond)

	stats := c.GetSessionStats()
	assert.Equal(t, 1, stats.Turns)
	assert.Equal(t, 0, stats.InFlight)
	assert.Equal(t, 2, stats.Passes)
	assert.Equal(t, 1, stats.Searches)
	assert.Equal(t, 1, stats.SearchFailures)
	assert.Equal(t, 1, stats.ToolCalls)
	assert.Equal(t, int64(1500), stats.TotalTurnMs)

	assert.Equal(t, 1.0, testutil.ToFloat64(prom.Turns.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.Passes.WithLabelValues("first")))
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.Passes.WithLabelValues("final")))
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.Searches.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.ToolExecutions.WithLabelValues("generate_ai_id", "ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(prom.TurnsInFlight))
	assert.Equal(t, 1, testutil.CollectAndCount(prom.TurnDuration))
	assert.Equal(t, "turn.completed", stats.LastEvent)
}

func TestCollector_ObserveModelCall(t *testing.T) {
	reg := prometheus.NewRegistry()
	prom := NewProm(reg)
	c := NewCollector(nil, prom)
	c.Start()

	var observe llm.Observer = c.ObserveModelCall
	observe("openai", 200*time.Millisecond, llm.Usage{PromptTokens: 100, CompletionTokens: 20}, nil)
	observe("openai", time.Second, llm.Usage{}, errors.New("boom"))

	stats := c.GetSessionStats()
	assert.Equal(t, 2, stats.ModelCalls)
	assert.Equal(t, 1, stats.ModelErrors)
	assert.Equal(t, int64(100), stats.TokensIn)
	assert.Equal(t, int64(20), stats.TokensOut)

	assert.Equal(t, 100.0, testutil.ToFloat64(prom.ModelTokens.WithLabelValues("openai", "prompt")))
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.ModelErrors.WithLabelValues("openai")))
	assert.Equal(t, 1, testutil.CollectAndCount(prom.ModelLatency))
}

func TestCollector_StopUnsubscribes(t *testing.T) {
	b := bus.NewBus()
	defer b.Close()

	c := NewCollector(b, nil)
	c.Start()
	assert.Equal(t, 1, b.Subscribers())
	c.Stop()
	assert.Equal(t, 0, b.Subscribers())
	c.Stop()
}

func TestDashboard(t *testing.T) {
	b := bus.NewBus()
	defer b.Close()

	c := NewCollector(b, nil)
	c.Start()
	defer c.Stop()

	publishTurn(b)
	require.Eventually(t, func() bool {
		return c.GetSessionStats().Completed == 1
	}, time.Second, 10*time.Millisecond)

	d := NewDashboard(c)
	d.SetWidth(70)
	full := d.Render()
	assert.Contains(t, full, "RAINBOW SESSION")
	assert.Contains(t, full, "1 ok / 0 failed")
	assert.Contains(t, full, "1.50s avg")
	assert.Contains(t, full, "1 (1 failed)")
	assert.Contains(t, full, "generate_ai_id")
	assert.Contains(t, full, "100%")
}

func TestDashboard_Empty(t *testing.T) {
	d := NewDashboard(NewCollector(nil, nil))
	full := d.Render()
	assert.Contains(t, full, "0 ok / 0 failed")
	assert.Contains(t, full, "none")
	assert.False(t, strings.Contains(full, "NaN"))
}

func TestSuccessRate(t *testing.T) {
	assert.Equal(t, 100.0, successRate(&SessionStats{}))
	assert.Equal(t, 75.0, successRate(&SessionStats{Completed: 3, Failed: 1}))
}

func TestFormatTokenCount(t *testing.T) {
	assert.Equal(t, "999", formatTokenCount(999))
	assert.Equal(t, "1.5k", formatTokenCount(1500))
	assert.Equal(t, "2.0M", formatTokenCount(2_000_000))
}
