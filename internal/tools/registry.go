package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rainbowcity/rainbow/internal/logging"
)

type entry struct {
	def     Definition
	params  []Parameter
	handler Handler
}

// Registry maps tool names to handlers and model-facing definitions.
// It is populated at startup, frozen, and then only read, so concurrent
// turns may share one Registry.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	tools  map[string]*entry
	frozen bool
	log    *logging.Logger

	stats RegistryStats
}

// RegistryStats tracks invocation counts.
type RegistryStats struct {
	Invocations   int64         `json:"invocations"`
	Failures      int64         `json:"failures"`
	TotalDuration time.Duration `json:"total_duration"`

	mu sync.Mutex
}

// RegistryOption configures the Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger used for invocation failures.
func WithLogger(log *logging.Logger) RegistryOption {
	return func(r *Registry) {
		r.log = log
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		tools: make(map[string]*entry),
		log:   logging.Global().WithComponent("tools"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool. Names are unique; parameters are declared in the
// order they should appear in the schema.
func (r *Registry) Register(name string, handler Handler, description string, params []Parameter) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("tool name cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("tool %s has no handler", name)
	}
	for _, p := range params {
		if p.Name == "" {
			return fmt.Errorf("tool %s declares a parameter without a name", name)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRegistryFrozen
	}
	if _, exists := r.tools[name]; exists {
		return &DuplicateToolError{Name: name}
	}

	r.tools[name] = &entry{
		def: Definition{
			Name:        name,
			Description: description,
			Parameters:  NewSchema(params),
		},
		params:  slices.Clone(params),
		handler: handler,
	}
	r.order = append(r.order, name)
	return nil
}

// Freeze makes the registry read-only. Further Register calls fail.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Definitions yields every tool definition in registration order. The
// sequence is lazy and may be ranged over any number of times.
func (r *Registry) Definitions() iter.Seq[Definition] {
	return func(yield func(Definition) bool) {
		r.mu.RLock()
		defs := make([]Definition, 0, len(r.order))
		for _, name := range r.order {
			defs = append(defs, cloneDefinition(r.tools[name].def))
		}
		r.mu.RUnlock()

		for _, d := range defs {
			if !yield(d) {
				return
			}
		}
	}
}

// DefinitionList collects Definitions into a slice.
func (r *Registry) DefinitionList() []Definition {
	return slices.Collect(r.Definitions())
}

// Names returns registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Invoke runs the named tool and returns its result as text.
//
// The only error Invoke returns is *UnknownToolError. Invalid arguments,
// handler errors and handler panics are reported in-band: the returned text
// is the *ToolExecutionError message, so the model can see what went wrong.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	out, err := r.Execute(ctx, name, args)
	if err != nil {
		return "", err
	}
	return out.Text, nil
}

// Outcome is the detailed result of one invocation.
type Outcome struct {
	Text     string
	Err      *ToolExecutionError
	Duration time.Duration
}

// Failed reports whether the handler did not produce a result.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Execute is Invoke with the failure kept alongside the in-band text.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (Outcome, error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return Outcome{}, &UnknownToolError{Name: name}
	}
	if args == nil {
		args = map[string]any{}
	}

	start := time.Now()
	result, err := r.call(ctx, e, args)
	out := Outcome{Text: result, Duration: time.Since(start)}
	r.record(out.Duration, err != nil)

	if err != nil {
		out.Err = &ToolExecutionError{Tool: name, Err: err}
		out.Text = out.Err.Error()
		r.log.Zerolog().Warn().Err(err).Str("tool", name).Msg("tool invocation failed")
	}
	return out, nil
}

func (r *Registry) call(ctx context.Context, e *entry, args map[string]any) (out string, err error) {
	if err := validateArguments(e.params, args); err != nil {
		return "", err
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	result, err := e.handler(ctx, args)
	if err != nil {
		return "", err
	}
	return stringify(result), nil
}

func (r *Registry) record(d time.Duration, failed bool) {
	r.stats.mu.Lock()
	defer r.stats.mu.Unlock()

	r.stats.Invocations++
	r.stats.TotalDuration += d
	if failed {
		r.stats.Failures++
	}
}

// Stats returns invocation statistics.
func (r *Registry) Stats() RegistryStats {
	r.stats.mu.Lock()
	defer r.stats.mu.Unlock()

	return RegistryStats{
		Invocations:   r.stats.Invocations,
		Failures:      r.stats.Failures,
		TotalDuration: r.stats.TotalDuration,
	}
}

// AvgDuration returns the average invocation duration.
func (s *RegistryStats) AvgDuration() time.Duration {
	if s.Invocations == 0 {
		return 0
	}
	return time.Duration(int64(s.TotalDuration) / s.Invocations)
}

// stringify converts a handler result to the text given to the model.
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case fmt.Stringer:
		return val.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func cloneDefinition(d Definition) Definition {
	props := make(map[string]Property, len(d.Parameters.Properties))
	for k, p := range d.Parameters.Properties {
		p.Enum = slices.Clone(p.Enum)
		props[k] = p
	}
	d.Parameters.Properties = props
	d.Parameters.Required = slices.Clone(d.Parameters.Required)
	if d.Parameters.Required == nil {
		d.Parameters.Required = []string{}
	}
	return d
}
