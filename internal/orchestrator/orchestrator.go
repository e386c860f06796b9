// Package orchestrator drives one user turn through the model, the
// uncertainty-triggered search augmentation and the tool registry.
//
// A turn moves through a linear state machine:
//
//	Init → FirstPass → {Augmenting → SecondPass} → {ToolDispatch → FinalPass} → Done
//
// with Failed reachable from every non-terminal state. Each turn owns its
// conversation; the only state shared between concurrent turns is the
// frozen tool registry and the gateway.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rainbowcity/rainbow/internal/bus"
	"github.com/rainbowcity/rainbow/internal/conversation"
	"github.com/rainbowcity/rainbow/internal/llm"
	"github.com/rainbowcity/rainbow/internal/logging"
	"github.com/rainbowcity/rainbow/internal/search"
	"github.com/rainbowcity/rainbow/internal/tools"
)

// DefaultPassTimeout bounds a single model invocation.
const DefaultPassTimeout = 2 * time.Minute

// ErrEmptyMessage is returned by Run for a request with no text and no
// attachments.
var ErrEmptyMessage = errors.New("user message is empty")

// Augmenter is the search augmentation step. *search.Augmenter implements it.
type Augmenter interface {
	DetectUncertainty(content string) search.Verdict
	BuildQuery(userMessage string) string
	Search(ctx context.Context, query string) (*search.Digest, error)
	ToSystemNote(d *search.Digest) string
}

var _ Augmenter = (*search.Augmenter)(nil)

// Orchestrator runs turns. It is safe for concurrent use.
type Orchestrator struct {
	gateway      llm.Gateway
	registry     *tools.Registry
	augmenter    Augmenter
	bus          *bus.Bus
	log          *logging.Logger
	passTimeout  time.Duration
	systemPrompt string
	fatalMessage string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithAugmenter enables search augmentation. Without one, uncertain answers
// are returned as they are.
func WithAugmenter(a Augmenter) Option {
	return func(o *Orchestrator) {
		o.augmenter = a
	}
}

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(o *Orchestrator) {
		o.log = log
	}
}

// WithBus publishes turn lifecycle events to b.
func WithBus(b *bus.Bus) Option {
	return func(o *Orchestrator) {
		o.bus = b
	}
}

// WithPassTimeout bounds each model invocation. Zero or negative keeps the
// default.
func WithPassTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.passTimeout = d
		}
	}
}

// WithSystemPrompt replaces DefaultSystemPrompt.
func WithSystemPrompt(prompt string) Option {
	return func(o *Orchestrator) {
		if strings.TrimSpace(prompt) != "" {
			o.systemPrompt = prompt
		}
	}
}

// WithFatalMessage replaces DefaultFatalMessage.
func WithFatalMessage(msg string) Option {
	return func(o *Orchestrator) {
		if strings.TrimSpace(msg) != "" {
			o.fatalMessage = msg
		}
	}
}

// New creates an Orchestrator. The registry is frozen: tools must be
// registered before the first turn.
func New(gateway llm.Gateway, registry *tools.Registry, opts ...Option) *Orchestrator {
	if registry == nil {
		registry = tools.NewRegistry()
	}
	registry.Freeze()

	o := &Orchestrator{
		gateway:      gateway,
		registry:     registry,
		log:          logging.Global().WithComponent("orchestrator"),
		passTimeout:  DefaultPassTimeout,
		systemPrompt: DefaultSystemPrompt,
		fatalMessage: DefaultFatalMessage,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Registry returns the tool registry.
func (o *Orchestrator) Registry() *tools.Registry {
	return o.registry
}

// FatalMessage returns the apology shown for failed turns.
func (o *Orchestrator) FatalMessage() string {
	return o.fatalMessage
}

// Run executes one turn and blocks until it is done.
//
// On a fatal error Run returns both a Result, whose AssistantText is the
// apology and whose History holds the seeded messages plus that apology,
// and a *TurnError wrapping the cause.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.UserMessage) == "" && len(req.Attachments) == 0 {
		return nil, ErrEmptyMessage
	}
	if req.TurnID == "" {
		req.TurnID = uuid.NewString()
	}

	prompt := req.SystemPrompt
	if strings.TrimSpace(prompt) == "" {
		prompt = o.systemPrompt
	}

	t := &turn{
		o:     o,
		req:   req,
		start: time.Now(),
		state: StateInit,
		conv: conversation.New(prompt, req.UserMessage,
			conversation.WithPriorHistory(req.PriorHistory),
			conversation.WithUserParts(req.Attachments...),
		),
		result: &Result{
			TurnID:    req.TurnID,
			SessionID: req.SessionID,
			ToolCalls: []ExecutedToolCall{},
			States:    []State{StateInit},
		},
		log: o.log.WithFields(map[string]any{"turn_id": req.TurnID, "session_id": req.SessionID}),
	}

	t.publish(bus.NewEvent(bus.EventTurnStarted, req.SessionID, req.TurnID))
	t.log.Debug("[Orchestrator] Turn started (%d prior messages)", len(req.PriorHistory))

	if err := t.run(ctx); err != nil {
		return t.fail(err)
	}
	return t.finish(), nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// TURN
// ═══════════════════════════════════════════════════════════════════════════════

// turn is the state of one Run call. It is never shared.
type turn struct {
	o      *Orchestrator
	req    Request
	conv   *conversation.Context
	result *Result
	state  State
	start  time.Time
	log    *logging.Logger

	// failedIn is the state that produced the fatal error.
	failedIn State
}

func (t *turn) run(ctx context.Context) error {
	defs := t.o.registry.DefinitionList()

	active, err := t.pass(ctx, StateFirstPass, defs)
	if err != nil {
		return err
	}

	// A tool-requesting first pass skips uncertainty detection entirely.
	if !active.HasToolCalls() && t.o.augmenter != nil {
		verdict := t.o.augmenter.DetectUncertainty(active.Content)
		if verdict.Uncertain {
			augmented, err := t.augment(ctx, verdict)
			if err != nil {
				return err
			}
			if augmented != nil {
				active = augmented
			}
		}
	}

	if !active.HasToolCalls() {
		t.conv.AppendAssistant(active.Content, nil)
		t.result.AssistantText = active.Content
		return t.transition(StateDone)
	}

	if err := t.dispatch(ctx, active); err != nil {
		return err
	}

	final, err := t.pass(ctx, StateFinalPass, nil)
	if err != nil {
		return err
	}
	if final.HasToolCalls() {
		t.log.Warn("[Orchestrator] Final pass requested %d more tool calls; ignoring them", len(final.ToolCalls))
	}
	t.conv.AppendAssistant(final.Content, nil)
	t.result.AssistantText = final.Content
	return t.transition(StateDone)
}

// augment runs the single search of the turn. It returns the second-pass
// response, or nil when the search failed and the first answer stands.
func (t *turn) augment(ctx context.Context, verdict search.Verdict) (*llm.Response, error) {
	if err := t.transition(StateAugmenting); err != nil {
		return nil, err
	}

	query := t.o.augmenter.BuildQuery(t.req.UserMessage)
	t.result.SearchQuery = query
	t.log.Info("[Orchestrator] Uncertain answer (matched %q), searching: %s", verdict.Matches, query)

	start := time.Now()
	digest, err := t.o.augmenter.Search(ctx, query)

	evt := t.event(bus.EventSearchCompleted)
	evt.Query = query
	evt.Matches = verdict.Matches
	evt.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		evt.Outcome = bus.OutcomeError
		evt.Error = err.Error()
		t.publish(evt)

		t.log.Warn("[Orchestrator] Search failed, keeping first answer: %v", err)
		return nil, nil
	}
	evt.Outcome = bus.OutcomeOK
	t.publish(evt)

	t.conv.AppendSystemNote(t.o.augmenter.ToSystemNote(digest))
	t.result.SearchUsed = true

	return t.pass(ctx, StateSecondPass, nil)
}

// dispatch appends the tool-requesting assistant message and runs each call
// in model order. Handler failures are results, not errors.
func (t *turn) dispatch(ctx context.Context, resp *llm.Response) error {
	if err := t.transition(StateToolDispatch); err != nil {
		return err
	}

	msg := t.conv.AppendAssistant(resp.Content, resp.ToolCalls)
	for _, call := range msg.ToolCalls {
		if call.Reassigned {
			t.log.Warn("[Orchestrator] Tool call %s had id %q, which is empty or reused; using %s", call.Name, call.ModelID, call.ID)
		}
		out, err := t.o.registry.Execute(ctx, call.Name, call.Arguments)
		if err != nil {
			return err
		}
		if _, err := t.conv.AppendToolResult(call.ID, call.Name, out.Text); err != nil {
			return err
		}

		t.result.ToolCalls = append(t.result.ToolCalls, ExecutedToolCall{
			ID:            call.ID,
			ModelID:       call.ModelID,
			Name:          call.Name,
			Arguments:     conversation.CloneArguments(call.Arguments),
			ResultSummary: summarize(out.Text),
			Failed:        out.Failed(),
		})

		evt := t.event(bus.EventToolExecuted)
		evt.Tool = call.Name
		evt.DurationMs = out.Duration.Milliseconds()
		evt.Outcome = bus.OutcomeOK
		if out.Failed() {
			evt.Outcome = bus.OutcomeError
			evt.Error = out.Err.Error()
		}
		t.publish(evt)

		t.log.Debug("[Orchestrator] Tool %s done (failed=%v)", call.Name, out.Failed())
	}
	return nil
}

// pass invokes the model once under its own timeout. Every gateway failure
// comes back as an *llm.ModelUnavailableError.
func (t *turn) pass(ctx context.Context, state State, defs []tools.Definition) (*llm.Response, error) {
	if err := t.transition(state); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, t.o.passTimeout)
	defer cancel()

	start := time.Now()
	resp, err := t.o.gateway.Invoke(ctx, t.conv.Snapshot(), defs)
	if err == nil && resp == nil {
		err = errors.New("gateway returned no response")
	}
	if err != nil {
		var mue *llm.ModelUnavailableError
		if !errors.As(err, &mue) {
			err = &llm.ModelUnavailableError{Provider: t.o.gateway.Name(), Err: err}
		}
		return nil, err
	}

	rec := PassRecord{
		Pass:      passFor(state),
		Model:     resp.Model,
		ToolCalls: len(resp.ToolCalls),
		Usage:     resp.Usage,
		Duration:  time.Since(start),
	}
	t.result.Passes = append(t.result.Passes, rec)

	evt := t.event(bus.EventPassCompleted)
	evt.Pass = string(rec.Pass)
	evt.Model = rec.Model
	evt.ToolCalls = rec.ToolCalls
	evt.DurationMs = rec.Duration.Milliseconds()
	evt.Outcome = bus.OutcomeOK
	t.publish(evt)

	return resp, nil
}

func (t *turn) transition(to State) error {
	if !t.state.CanTransition(to) {
		return &transitionError{From: t.state, To: to}
	}
	t.state = to
	t.result.States = append(t.result.States, to)
	return nil
}

func (t *turn) finish() *Result {
	t.result.History = t.conv.Snapshot()
	t.result.Duration = time.Since(t.start)

	evt := t.event(bus.EventTurnCompleted)
	evt.Outcome = bus.OutcomeOK
	evt.DurationMs = t.result.Duration.Milliseconds()
	evt.ToolCalls = len(t.result.ToolCalls)
	evt.Content = t.result.AssistantText
	t.publish(evt)

	t.log.Info("[Orchestrator] Turn done in %s (%d passes, %d tool calls, search=%v)",
		t.result.Duration.Round(time.Millisecond), len(t.result.Passes), len(t.result.ToolCalls), t.result.SearchUsed)
	return t.result
}

// fail replaces any partial output with the apology and records the failed
// state.
func (t *turn) fail(cause error) (*Result, error) {
	failedIn := t.state
	t.state = StateFailed
	t.result.States = append(t.result.States, StateFailed)

	msg := t.o.fatalMessage
	history := t.conv.Seeded()
	history = append(history, conversation.NewMessage(conversation.RoleAssistant, msg))

	t.result.AssistantText = msg
	t.result.ToolCalls = []ExecutedToolCall{}
	t.result.SearchUsed = false
	t.result.History = history
	t.result.Fatal = true
	t.result.Duration = time.Since(t.start)

	evt := t.event(bus.EventTurnFailed)
	evt.State = string(failedIn)
	evt.Outcome = bus.OutcomeError
	evt.DurationMs = t.result.Duration.Milliseconds()
	evt.Error = cause.Error()
	t.publish(evt)

	t.log.Error("[Orchestrator] Turn failed in %s: %v", failedIn, cause)
	return t.result, &TurnError{TurnID: t.req.TurnID, State: failedIn, Err: cause}
}

func (t *turn) event(typ bus.EventType) bus.Event {
	evt := bus.NewEvent(typ, t.req.SessionID, t.req.TurnID)
	evt.State = string(t.state)
	return evt
}

func (t *turn) publish(evt bus.Event) {
	if t.o.bus == nil {
		return
	}
	if err := t.o.bus.Publish(evt); err != nil {
		t.log.Debug("[Orchestrator] Event %s not published: %v", evt.Type, err)
	}
}
