package orchestrator

import (
	"time"

	"github.com/rainbowcity/rainbow/internal/conversation"
	"github.com/rainbowcity/rainbow/internal/llm"
)

// Request is one user turn.
type Request struct {
	SessionID string
	// TurnID is generated when empty.
	TurnID string
	UserID string

	// SystemPrompt overrides the orchestrator's default prompt for this turn.
	SystemPrompt string
	UserMessage  string

	// Attachments are extra content parts (images) for the user message.
	Attachments []conversation.ContentPart

	// PriorHistory is earlier conversation in this session, oldest first.
	PriorHistory []conversation.Message
}

// Pass labels one model invocation within a turn.
type Pass string

const (
	PassFirst  Pass = "first"
	PassSecond Pass = "second"
	PassFinal  Pass = "final"
)

// PassRecord describes one model invocation.
type PassRecord struct {
	Pass      Pass          `json:"pass"`
	Model     string        `json:"model,omitempty"`
	ToolCalls int           `json:"tool_calls"`
	Usage     llm.Usage     `json:"usage"`
	Duration  time.Duration `json:"duration"`
}

// ExecutedToolCall is a tool call that ran during the turn, for display.
type ExecutedToolCall struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Arguments     map[string]any `json:"arguments"`
	ResultSummary string         `json:"result_summary"`
	Failed        bool           `json:"failed,omitempty"`

	// ModelID is the id the model sent when ID had to be reassigned.
	ModelID string `json:"model_id,omitempty"`
}

// Result is the outcome of Run.
type Result struct {
	TurnID        string `json:"turn_id"`
	SessionID     string `json:"session_id,omitempty"`
	AssistantText string `json:"assistant_text"`

	ToolCalls []ExecutedToolCall `json:"tool_calls"`

	// History is the conversation to persist: the full context on success,
	// or the seeded messages plus the apology on a fatal error.
	History []conversation.Message `json:"history"`

	SearchUsed  bool   `json:"search_used"`
	SearchQuery string `json:"search_query,omitempty"`

	Passes   []PassRecord  `json:"passes"`
	States   []State       `json:"states"`
	Duration time.Duration `json:"duration"`

	// Fatal is set when the turn failed and AssistantText is the apology.
	Fatal bool `json:"fatal,omitempty"`
}

// Usage sums token usage over all passes.
func (r *Result) Usage() llm.Usage {
	var u llm.Usage
	for _, p := range r.Passes {
		u.PromptTokens += p.Usage.PromptTokens
		u.CompletionTokens += p.Usage.CompletionTokens
		u.TotalTokens += p.Usage.TotalTokens
	}
	return u
}
