// Package server exposes the orchestrator over HTTP: the chat-agent API,
// session history, web search, the tool catalog, Prometheus metrics and a
// websocket stream of turn events.
package server

import (
	"time"

	"github.com/rainbowcity/rainbow/internal/bus"
	"github.com/rainbowcity/rainbow/internal/conversation"
	"github.com/rainbowcity/rainbow/internal/llm"
	"github.com/rainbowcity/rainbow/internal/metrics"
	"github.com/rainbowcity/rainbow/internal/orchestrator"
	"github.com/rainbowcity/rainbow/internal/search"
	"github.com/rainbowcity/rainbow/internal/tools"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ═══════════════════════════════════════════════════════════════════════════════

// Config holds HTTP server configuration.
type Config struct {
	// Addr is the listen address (default: 127.0.0.1:8080)
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// ShutdownTimeout is the graceful shutdown timeout (default: 10s)
	ShutdownTimeout time.Duration

	// SessionRPS and SessionBurst limit chat requests per client and
	// session. SessionRPS <= 0 disables the limit.
	SessionRPS   float64
	SessionBurst int

	// LimiterCapacity caps the buckets kept; the least recently used is
	// dropped first (default: 10000).
	LimiterCapacity int

	// HistoryLimit caps the prior messages loaded for a turn (0 = all).
	HistoryLimit int

	// MaxBodyBytes bounds a chat request body, image included.
	MaxBodyBytes int64

	// SearchTimeout bounds a standalone search request (default: 30s)
	SearchTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            "127.0.0.1:8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute,
		ShutdownTimeout: 10 * time.Second,
		SessionRPS:      1,
		SessionBurst:    5,
		LimiterCapacity: DefaultLimiterCapacity,
		HistoryLimit:    40,
		MaxBodyBytes:    10 << 20,
		SearchTimeout:   30 * time.Second,
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// API TYPES
// ═══════════════════════════════════════════════════════════════════════════════

// ChatMessage is one entry of the legacy messages array.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Type    string `json:"type,omitempty"`
}

// ChatRequest is the body of POST /api/chat-agent. The user text is taken
// from Message, or else from the last user entry of Messages.
type ChatRequest struct {
	SessionID    string        `json:"session_id,omitempty"`
	TurnID       string        `json:"turn_id,omitempty"`
	UserID       string        `json:"user_id,omitempty"`
	Message      string        `json:"message,omitempty"`
	Messages     []ChatMessage `json:"messages,omitempty"`
	ImageData    string        `json:"image_data,omitempty"`
	SystemPrompt string        `json:"system_prompt,omitempty"`
}

// userText returns the user message of the request.
func (r *ChatRequest) userText() string {
	if r.Message != "" {
		return r.Message
	}
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == string(conversation.RoleUser) {
			return r.Messages[i].Content
		}
	}
	return ""
}

// ChatResponse is returned by POST /api/chat-agent.
type ChatResponse struct {
	Success    bool                            `json:"success"`
	SessionID  string                          `json:"session_id"`
	TurnID     string                          `json:"turn_id,omitempty"`
	Response   string                          `json:"response,omitempty"`
	ToolCalls  []orchestrator.ExecutedToolCall `json:"tool_calls,omitempty"`
	SearchUsed bool                            `json:"search_used"`
	Usage      *llm.Usage                      `json:"usage,omitempty"`
	Error      string                          `json:"error,omitempty"`
}

// HistoryResponse is returned by GET /api/chat-agent/history/{sessionID}.
type HistoryResponse struct {
	Success   bool                   `json:"success"`
	SessionID string                 `json:"session_id"`
	History   []conversation.Message `json:"history"`
	Error     string                 `json:"error,omitempty"`
}

// LogsResponse is returned by GET /api/chat-agent/logs/{sessionID}.
type LogsResponse struct {
	Success   bool        `json:"success"`
	SessionID string      `json:"session_id"`
	Logs      []bus.Event `json:"logs"`
	Error     string      `json:"error,omitempty"`
}

// ClearSessionResponse is returned by the session clear endpoints.
type ClearSessionResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
}

// ToolsResponse is returned by GET /api/tools.
type ToolsResponse struct {
	Count int                `json:"count"`
	Tools []tools.Definition `json:"tools"`
}

// LLMMetricsResponse is returned by GET /api/metrics/llm.
type LLMMetricsResponse struct {
	Timestamp string                `json:"timestamp"`
	Session   *metrics.SessionStats `json:"session,omitempty"`
	Gateway   *llm.GatewayStats     `json:"gateway,omitempty"`
}

// SearchRequest is the body of POST /api/search.
type SearchRequest struct {
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth,omitempty"`
	MaxResults    int    `json:"max_results,omitempty"`
	IncludeAnswer *bool  `json:"include_answer,omitempty"`
}

// SearchResponse is returned by the search endpoints.
type SearchResponse struct {
	Success bool            `json:"success"`
	Query   string          `json:"query"`
	Answer  string          `json:"answer,omitempty"`
	Results []search.Source `json:"results"`
	Error   string          `json:"error,omitempty"`
}
