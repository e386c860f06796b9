// Package conversation assembles the ordered message history of one turn.
package conversation

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType identifies a multimodal content part.
type PartType string

const (
	PartText     PartType = "text"
	PartImageURL PartType = "image_url"
)

// ContentPart is one element of a multimodal message body.
type ContentPart struct {
	Type     PartType `json:"type"`
	Text     string   `json:"text,omitempty"`
	ImageURL string   `json:"image_url,omitempty"` // http(s) URL or data URI
	Detail   string   `json:"detail,omitempty"`
}

// TextPart returns a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// ImagePart returns an image content part for a URL or data URI.
func ImagePart(url string) ContentPart {
	return ContentPart{Type: PartImageURL, ImageURL: url}
}

// ToolCallRequest is a model-issued request to run a tool.
type ToolCallRequest struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`

	// Reassigned is set when the model's id was empty or reused within the
	// turn; ModelID then holds what the model sent.
	Reassigned bool   `json:"reassigned,omitempty"`
	ModelID    string `json:"model_id,omitempty"`
}

// Message is one entry of the conversation history.
type Message struct {
	ID         string            `json:"id"`
	Role       Role              `json:"role"`
	Content    string            `json:"content"`
	Parts      []ContentPart     `json:"parts,omitempty"`
	Name       string            `json:"name,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCallRequest `json:"tool_calls,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// NewMessage creates a message with a fresh id stamped with the current time.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// HasToolCalls reports whether an assistant message requested tools.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	out := m
	if m.Parts != nil {
		out.Parts = make([]ContentPart, len(m.Parts))
		copy(out.Parts, m.Parts)
	}
	if m.ToolCalls != nil {
		out.ToolCalls = make([]ToolCallRequest, len(m.ToolCalls))
		for i, call := range m.ToolCalls {
			out.ToolCalls[i] = call.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of the call, including nested argument values.
func (c ToolCallRequest) Clone() ToolCallRequest {
	out := c
	if c.Arguments != nil {
		out.Arguments = CloneArguments(c.Arguments)
	}
	return out
}

// CloneArguments deep-copies a decoded JSON argument map.
func CloneArguments(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := maps.Clone(in)
	for k, v := range out {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneArguments(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = cloneValue(item)
		}
		return cp
	default:
		return v
	}
}

// CloneMessages returns deep copies of all messages.
func CloneMessages(in []Message) []Message {
	if in == nil {
		return nil
	}
	out := make([]Message, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}
