// Package bus distributes turn lifecycle events from the orchestrator to
// observers such as the metrics collector and the websocket event stream.
package bus

import (
	"fmt"
	"sync/atomic"
	"time"
)

// EventType identifies a turn lifecycle event.
type EventType string

const (
	EventTurnStarted     EventType = "turn.started"
	EventPassCompleted   EventType = "pass.completed"
	EventSearchCompleted EventType = "search.completed"
	EventToolExecuted    EventType = "tool.executed"
	EventTurnCompleted   EventType = "turn.completed"
	EventTurnFailed      EventType = "turn.failed"
)

// EventTypes lists every event type in lifecycle order.
var EventTypes = []EventType{
	EventTurnStarted,
	EventPassCompleted,
	EventSearchCompleted,
	EventToolExecuted,
	EventTurnCompleted,
	EventTurnFailed,
}

// Outcome values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Event is one step of a turn.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`

	SessionID string `json:"session_id,omitempty"`
	TurnID    string `json:"turn_id,omitempty"`

	// State is the orchestrator state that produced the event.
	State string `json:"state,omitempty"`

	// Pass is first, second or final on pass.completed.
	Pass      string `json:"pass,omitempty"`
	Model     string `json:"model,omitempty"`
	ToolCalls int    `json:"tool_calls,omitempty"`

	Tool    string   `json:"tool,omitempty"`
	Query   string   `json:"query,omitempty"`
	Matches []string `json:"matches,omitempty"`

	Outcome    string `json:"outcome,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Content    string `json:"content,omitempty"`
	Error      string `json:"error,omitempty"`
}

var eventIDCounter atomic.Uint64

func generateEventID() string {
	return fmt.Sprintf("evt_%d_%d", time.Now().UnixNano(), eventIDCounter.Add(1))
}

// NewEvent creates an event for a turn with the current timestamp and a
// generated ID.
func NewEvent(eventType EventType, sessionID, turnID string) Event {
	return Event{
		ID:        generateEventID(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		SessionID: sessionID,
		TurnID:    turnID,
	}
}
