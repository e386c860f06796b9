// Package llm implements the model gateway: it turns a conversation snapshot
// and tool definitions into one call against an OpenAI-compatible
// chat-completions endpoint and returns a typed Response.
package llm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rainbowcity/rainbow/internal/conversation"
	"github.com/rainbowcity/rainbow/internal/tools"
)

// Security limits to prevent unbounded memory usage
const (
	// MaxErrorBodySize limits how much error response body we read (1MB)
	MaxErrorBodySize = 1 * 1024 * 1024

	// MaxResponseSize limits a decoded completion body (16MB)
	MaxResponseSize = 16 * 1024 * 1024
)

// readLimitedBody reads up to maxBytes from r.
func readLimitedBody(r io.Reader, maxBytes int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, maxBytes))
}

// Gateway is one swappable model endpoint.
type Gateway interface {
	// Invoke runs one pass over messages. defs may be empty, in which case
	// no tools are offered to the model. All failures are
	// *ModelUnavailableError.
	Invoke(ctx context.Context, messages []conversation.Message, defs []tools.Definition) (*Response, error)

	// Name returns the provider identifier.
	Name() string
}

// Response is the typed result of one pass. Either ToolCalls is non-empty
// (Content may then be empty) or Content holds the answer.
type Response struct {
	Content      string                         `json:"content"`
	ToolCalls    []conversation.ToolCallRequest `json:"tool_calls,omitempty"`
	Model        string                         `json:"model"`
	FinishReason string                         `json:"finish_reason,omitempty"`
	Usage        Usage                          `json:"usage"`
	Duration     time.Duration                  `json:"duration"`
}

// HasToolCalls reports whether the model asked for tools.
func (r *Response) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// Usage reports token consumption for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ModelUnavailableError covers transport, auth, rate-limit, decode and
// timeout failures talking to a model endpoint.
type ModelUnavailableError struct {
	Provider string
	Status   int // HTTP status, 0 when the request never completed
	Err      error
}

func (e *ModelUnavailableError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("model provider %s unavailable (status %d): %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("model provider %s unavailable: %v", e.Provider, e.Err)
}

func (e *ModelUnavailableError) Unwrap() error {
	return e.Err
}

// ProviderConfig contains configuration for an LLM provider.
type ProviderConfig struct {
	// Name identifies the provider (openai, groq, grok, openrouter, ollama).
	Name string

	// Endpoint is the API base URL, including the version path.
	Endpoint string

	// APIKey for authentication. Local providers need none.
	APIKey string

	// Model is the default model to use.
	Model string

	// MaxTokens default for responses.
	MaxTokens int

	// Temperature default.
	Temperature float64

	// Timeout bounds every call.
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults for a provider.
func DefaultConfig(name string) *ProviderConfig {
	switch name {
	case "ollama":
		return &ProviderConfig{
			Name:        "ollama",
			Endpoint:    "http://127.0.0.1:11434/v1",
			Model:       "llama3.1",
			MaxTokens:   4096,
			Temperature: 0.7,
			Timeout:     2 * time.Minute,
		}
	case "openai":
		return &ProviderConfig{
			Name:        "openai",
			Endpoint:    "https://api.openai.com/v1",
			Model:       "gpt-4o",
			MaxTokens:   4096,
			Temperature: 0.7,
			Timeout:     2 * time.Minute,
		}
	case "grok":
		return &ProviderConfig{
			Name:        "grok",
			Endpoint:    "https://api.x.ai/v1",
			Model:       "grok-3-fast",
			MaxTokens:   4096,
			Temperature: 0.7,
			Timeout:     2 * time.Minute,
		}
	case "groq":
		return &ProviderConfig{
			Name:        "groq",
			Endpoint:    "https://api.groq.com/openai/v1",
			Model:       "llama-3.3-70b-versatile",
			MaxTokens:   2048,
			Temperature: 0.7,
			Timeout:     30 * time.Second,
		}
	case "openrouter":
		return &ProviderConfig{
			Name:        "openrouter",
			Endpoint:    "https://openrouter.ai/api/v1",
			Model:       "openai/gpt-4o-mini",
			MaxTokens:   4096,
			Temperature: 0.7,
			Timeout:     2 * time.Minute,
		}
	default:
		return &ProviderConfig{
			Name:        name,
			MaxTokens:   4096,
			Temperature: 0.7,
			Timeout:     2 * time.Minute,
		}
	}
}

// IsLocalProvider returns true if the provider runs on this machine and
// needs no API key.
func IsLocalProvider(provider string) bool {
	switch provider {
	case "ollama", "local":
		return true
	default:
		return false
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// BASE PROVIDER (shared by HTTP-based providers)
// ═══════════════════════════════════════════════════════════════════════════════

type baseProvider struct {
	config *ProviderConfig
	client *http.Client
}

// newBaseProvider fills empty fields of cfg from DefaultConfig(providerName).
func newBaseProvider(cfg *ProviderConfig, providerName string) baseProvider {
	defaults := DefaultConfig(providerName)
	if cfg == nil {
		cfg = defaults
	}
	c := *cfg
	if c.Endpoint == "" {
		c.Endpoint = defaults.Endpoint
	}
	if c.Model == "" {
		c.Model = defaults.Model
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = defaults.MaxTokens
	}
	if c.Timeout == 0 {
		c.Timeout = defaults.Timeout
	}
	c.Name = providerName

	return baseProvider{
		config: &c,
		client: &http.Client{},
	}
}

// Name returns the provider identifier.
func (b *baseProvider) Name() string {
	return b.config.Name
}

// Available reports whether the provider can be called: local providers
// always, cloud providers once an API key is configured.
func (b *baseProvider) Available() bool {
	return IsLocalProvider(b.config.Name) || b.config.APIKey != ""
}

// Config returns a copy of the effective configuration.
func (b *baseProvider) Config() ProviderConfig {
	return *b.config
}

func (b *baseProvider) unavailable(status int, err error) *ModelUnavailableError {
	return &ModelUnavailableError{Provider: b.config.Name, Status: status, Err: err}
}
