package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rainbowcity/rainbow/internal/logging"
)

func newTestRegistry() *Registry {
	return NewRegistry(WithLogger(logging.Nop()))
}

func echoHandler(ctx context.Context, args map[string]any) (any, error) {
	return fmt.Sprintf("echo:%v", args["text"]), nil
}

func TestRegistry_Register(t *testing.T) {
	r := newTestRegistry()

	require.NoError(t, r.Register("echo", echoHandler, "Echo text", []Parameter{
		{Name: "text", Type: TypeString},
	}))
	assert.Equal(t, 1, r.Len())

	err := r.Register("echo", echoHandler, "again", nil)
	var dup *DuplicateToolError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "echo", dup.Name)
	assert.Equal(t, "tool echo already registered", err.Error())

	assert.Error(t, r.Register("  ", echoHandler, "", nil))
	assert.Error(t, r.Register("nil_handler", nil, "", nil))
	assert.Error(t, r.Register("bad_param", echoHandler, "", []Parameter{{Type: TypeString}}))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_Freeze(t *testing.T) {
	r := newTestRegistry()
	require.NoError(t, r.Register("echo", echoHandler, "Echo", nil))

	r.Freeze()
	assert.True(t, r.Frozen())
	assert.ErrorIs(t, r.Register("late", echoHandler, "", nil), ErrRegistryFrozen)

	out, err := r.Invoke(context.Background(), "echo", map[string]any{"text": "still works"})
	require.NoError(t, err)
	assert.Equal(t, "echo:still works", out)
}

func TestRegistry_Definitions(t *testing.T) {
	r := newTestRegistry()
	require.NoError(t, r.Register("get_weather", echoHandler, "Weather lookup", []Parameter{
		{Name: "city", Type: TypeString, Description: "City name"},
		{Name: "date", Type: TypeString, Optional: true},
		{Name: "unit", Type: TypeString, Optional: true, Enum: []string{"c", "f"}},
	}))
	require.NoError(t, r.Register("generate_ai_id", echoHandler, "New AI-ID", nil))
	require.NoError(t, r.Register("generate_frequency", echoHandler, "Frequency", []Parameter{
		{Name: "ai_id", Type: TypeString},
	}))

	var names []string
	for def := range r.Definitions() {
		names = append(names, def.Name)
	}
	assert.Equal(t, []string{"get_weather", "generate_ai_id", "generate_frequency"}, names)

	defs := r.DefinitionList()
	require.Len(t, defs, 3)
	assert.Equal(t, "object", defs[0].Parameters.Type)
	assert.Equal(t, []string{"city"}, defs[0].Parameters.Required)
	assert.Equal(t, []string{"c", "f"}, defs[0].Parameters.Properties["unit"].Enum)
	assert.Equal(t, "City name", defs[0].Parameters.Properties["city"].Description)
	assert.Empty(t, defs[1].Parameters.Required)
	assert.NotNil(t, defs[1].Parameters.Required, "required must encode as [] not null")
	assert.Equal(t, []string{"ai_id"}, defs[2].Parameters.Required)

	// Restartable and stable across iterations.
	assert.Equal(t, defs, r.DefinitionList())

	// Early break stops the sequence.
	count := 0
	for range r.Definitions() {
		count++
		break
	}
	assert.Equal(t, 1, count)

	// Callers cannot mutate registry state through a definition.
	defs[0].Parameters.Required[0] = "mutated"
	defs[0].Parameters.Properties["city"] = Property{Type: "number"}
	fresh := r.DefinitionList()
	assert.Equal(t, []string{"city"}, fresh[0].Parameters.Required)
	assert.Equal(t, TypeString, fresh[0].Parameters.Properties["city"].Type)
}

func TestRegistry_InvokeUnknown(t *testing.T) {
	r := newTestRegistry()

	out, err := r.Invoke(context.Background(), "missing", nil)
	var unknown *UnknownToolError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "missing", unknown.Name)
	assert.Empty(t, out)
}

func TestRegistry_InvokeInBandFailures(t *testing.T) {
	r := newTestRegistry()
	require.NoError(t, r.Register("echo", echoHandler, "Echo", []Parameter{
		{Name: "text", Type: TypeString},
		{Name: "count", Type: TypeInteger, Optional: true},
		{Name: "mode", Type: TypeString, Optional: true, Enum: []string{"loud", "quiet"}},
	}))
	require.NoError(t, r.Register("fails", func(ctx context.Context, args map[string]any) (any, error) {
		return nil, errors.New("bad input")
	}, "Always fails", nil))
	require.NoError(t, r.Register("panics", func(ctx context.Context, args map[string]any) (any, error) {
		panic("boom")
	}, "Always panics", nil))

	tests := []struct {
		name     string
		tool     string
		args     map[string]any
		contains string
	}{
		{"handler error", "fails", nil, "tool fails failed: bad input"},
		{"handler panic", "panics", nil, "tool panics failed: panic: boom"},
		{"missing required", "echo", map[string]any{}, `invalid argument "text": missing required argument`},
		{"null required", "echo", map[string]any{"text": nil}, "missing required argument"},
		{"wrong type", "echo", map[string]any{"text": 42.0}, "expected string but got float64"},
		{"non-integer", "echo", map[string]any{"text": "hi", "count": 1.5}, "expected integer"},
		{"outside enum", "echo", map[string]any{"text": "hi", "mode": "shout"}, "is not one of"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := r.Invoke(context.Background(), tt.tool, tt.args)
			require.NoError(t, err, "failures must be reported in-band")
			assert.Contains(t, out, tt.contains)
			assert.Contains(t, out, "tool "+tt.tool+" failed: ")
		})
	}

	stats := r.Stats()
	assert.EqualValues(t, len(tests), stats.Invocations)
	assert.EqualValues(t, len(tests), stats.Failures)
}

func TestRegistry_ExecuteOutcome(t *testing.T) {
	r := newTestRegistry()
	require.NoError(t, r.Register("echo", echoHandler, "Echo", []Parameter{{Name: "text", Type: TypeString}}))
	require.NoError(t, r.Register("fails", func(ctx context.Context, args map[string]any) (any, error) {
		return nil, errors.New("bad input")
	}, "Always fails", nil))

	ok, err := r.Execute(context.Background(), "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.False(t, ok.Failed())
	assert.Equal(t, "echo:hi", ok.Text)

	failed, err := r.Execute(context.Background(), "fails", nil)
	require.NoError(t, err)
	require.True(t, failed.Failed())
	assert.Equal(t, "fails", failed.Err.Tool)
	assert.Equal(t, failed.Err.Error(), failed.Text)
	assert.EqualError(t, errors.Unwrap(failed.Err), "bad input")

	_, err = r.Execute(context.Background(), "missing", nil)
	var unknown *UnknownToolError
	assert.ErrorAs(t, err, &unknown)
}

func TestRegistry_InvokeAcceptsValidArguments(t *testing.T) {
	r := newTestRegistry()
	require.NoError(t, r.Register("echo", echoHandler, "Echo", []Parameter{
		{Name: "text", Type: TypeString},
		{Name: "count", Type: TypeInteger, Optional: true},
		{Name: "ratio", Type: TypeNumber, Optional: true},
		{Name: "flag", Type: TypeBoolean, Optional: true},
		{Name: "tags", Type: TypeArray, Optional: true},
		{Name: "meta", Type: TypeObject, Optional: true},
	}))

	out, err := r.Invoke(context.Background(), "echo", map[string]any{
		"text":  "hello",
		"count": 3.0,
		"ratio": 0.5,
		"flag":  true,
		"tags":  []any{"a"},
		"meta":  map[string]any{"k": "v"},
		"extra": "ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, "echo:hello", out)
}

type weatherReport struct {
	City string `json:"city"`
	Temp int    `json:"temp"`
}

type shout string

func (s shout) String() string { return string(s) + "!" }

func TestRegistry_ResultConversion(t *testing.T) {
	tests := []struct {
		name   string
		result any
		want   string
	}{
		{"string verbatim", "晴，25°C", "晴，25°C"},
		{"bytes", []byte("raw"), "raw"},
		{"stringer", shout("hey"), "hey!"},
		{"struct as json", weatherReport{City: "Beijing", Temp: 25}, `{"city":"Beijing","temp":25}`},
		{"map as json", map[string]string{"ai_id": "AI-7F3D2E1A"}, `{"ai_id":"AI-7F3D2E1A"}`},
		{"nil", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry()
			result := tt.result
			require.NoError(t, r.Register("t", func(ctx context.Context, args map[string]any) (any, error) {
				return result, nil
			}, "", nil))

			out, err := r.Invoke(context.Background(), "t", nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestRegistry_ConcurrentInvoke(t *testing.T) {
	r := newTestRegistry()
	require.NoError(t, r.Register("echo", echoHandler, "Echo", []Parameter{{Name: "text", Type: TypeString}}))
	r.Freeze()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := r.Invoke(context.Background(), "echo", map[string]any{"text": i})
			assert.NoError(t, err)
			assert.Contains(t, out, "tool echo failed", "int argument should fail string validation")
			_ = r.DefinitionList()
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 50, r.Stats().Invocations)
}
