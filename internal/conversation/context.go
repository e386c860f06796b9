package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Context is the append-only message history of a single turn. It is owned
// by one orchestration but guarded by a mutex so a reader may snapshot it
// while the turn is running.
type Context struct {
	mu       sync.RWMutex
	messages []Message
	seedLen  int

	// Tool-call bookkeeping: pending maps an unanswered call id to its tool
	// name; answered remembers ids whose result has been appended.
	pending  map[string]string
	order    []string
	answered map[string]bool

	clock func() time.Time
	last  time.Time
}

// Option configures a new Context.
type Option func(*options)

type options struct {
	prior []Message
	parts []ContentPart
	clock func() time.Time
}

// WithPriorHistory inserts earlier turns between the system prompt and the
// new user message. System messages in the prior history are skipped; the
// current system prompt governs the turn.
func WithPriorHistory(history []Message) Option {
	return func(o *options) {
		o.prior = history
	}
}

// WithUserParts attaches multimodal parts (images) to the user message.
func WithUserParts(parts ...ContentPart) Option {
	return func(o *options) {
		o.parts = append(o.parts, parts...)
	}
}

// WithClock overrides the time source used for message timestamps.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// New seeds a Context with the system prompt, any prior history, and the
// user message, in that order.
func New(systemPrompt, userMessage string, opts ...Option) *Context {
	o := &options{clock: time.Now}
	for _, opt := range opts {
		opt(o)
	}

	c := &Context{
		pending:  make(map[string]string),
		answered: make(map[string]bool),
		clock:    o.clock,
	}

	if systemPrompt != "" {
		c.append(Message{Role: RoleSystem, Content: systemPrompt})
	}
	for _, m := range o.prior {
		if m.Role == RoleSystem {
			continue
		}
		c.keep(m.Clone())
	}

	user := Message{Role: RoleUser, Content: userMessage}
	if len(o.parts) > 0 {
		user.Parts = append([]ContentPart{TextPart(userMessage)}, o.parts...)
	}
	c.append(user)
	c.seedLen = len(c.messages)

	return c
}

// append stamps and stores m. Callers hold c.mu or own c exclusively.
func (c *Context) append(m Message) Message {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	ts := c.clock()
	if !ts.After(c.last) {
		ts = c.last.Add(time.Nanosecond)
	}
	m.Timestamp = ts
	c.last = ts

	c.messages = append(c.messages, m)
	return m.Clone()
}

// keep stores a prior message, preserving its timestamp when it has one.
func (c *Context) keep(m Message) {
	if m.Timestamp.IsZero() {
		c.append(m)
		return
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.After(c.last) {
		c.last = m.Timestamp
	}
	c.messages = append(c.messages, m)
}

// AppendAssistant appends a model response. Tool calls become pending until
// their results are appended. Calls without an id, or whose id repeats one
// already seen in this turn, are given a fresh id and are marked
// Reassigned; the returned message carries the ids that results must reference.
func (c *Context) AppendAssistant(content string, calls []ToolCallRequest) Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := Message{Role: RoleAssistant, Content: content}
	if len(calls) > 0 {
		m.ToolCalls = make([]ToolCallRequest, len(calls))
		for i, call := range calls {
			call = call.Clone()
			if call.ID == "" || c.known(call.ID) {
				call.Reassigned = true
				call.ModelID = call.ID
				call.ID = "call_" + uuid.NewString()
			}
			if call.Arguments == nil {
				call.Arguments = map[string]any{}
			}
			c.pending[call.ID] = call.Name
			c.order = append(c.order, call.ID)
			m.ToolCalls[i] = call
		}
	}
	return c.append(m)
}

func (c *Context) known(id string) bool {
	_, isPending := c.pending[id]
	return isPending || c.answered[id]
}

// AppendToolResult appends the result of a pending tool call and marks the
// call consumed. The id must match exactly one pending call of this turn.
func (c *Context) AppendToolResult(toolCallID, name, result string) (Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.answered[toolCallID] {
		return Message{}, &DanglingToolResultError{ToolCallID: toolCallID, Reason: "tool call already has a result"}
	}
	callName, ok := c.pending[toolCallID]
	if !ok {
		return Message{}, &DanglingToolResultError{ToolCallID: toolCallID, Reason: "no pending tool call with this id"}
	}
	if name != "" && name != callName {
		return Message{}, &DanglingToolResultError{ToolCallID: toolCallID, Reason: "result names tool " + name + " but the call was for " + callName}
	}

	delete(c.pending, toolCallID)
	c.answered[toolCallID] = true

	return c.append(Message{
		Role:       RoleTool,
		Content:    result,
		Name:       callName,
		ToolCallID: toolCallID,
	}), nil
}

// AppendSystemNote appends a system message after the seeded history, such
// as retrieved search results.
func (c *Context) AppendSystemNote(text string) Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.append(Message{Role: RoleSystem, Content: text})
}

// Snapshot returns a deep copy of the full history.
func (c *Context) Snapshot() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CloneMessages(c.messages)
}

// Seeded returns a copy of the messages New created: system prompt, prior
// history and the user message.
func (c *Context) Seeded() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CloneMessages(c.messages[:c.seedLen])
}

// Pending returns the ids of tool calls still awaiting a result, in the
// order they were requested.
func (c *Context) Pending() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var ids []string
	for _, id := range c.order {
		if _, ok := c.pending[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Len returns the number of messages.
func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Last returns a copy of the most recent message.
func (c *Context) Last() (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.messages) == 0 {
		return Message{}, false
	}
	return c.messages[len(c.messages)-1].Clone(), true
}
