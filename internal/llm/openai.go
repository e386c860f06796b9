package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rainbowcity/rainbow/internal/conversation"
	"github.com/rainbowcity/rainbow/internal/tools"
)

// OpenAIProvider implements Gateway for any OpenAI-compatible
// chat-completions endpoint (OpenAI, Groq, xAI, OpenRouter, Ollama).
type OpenAIProvider struct {
	baseProvider
}

// OpenAIOption configures an OpenAIProvider.
type OpenAIOption func(*OpenAIProvider)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) OpenAIOption {
	return func(p *OpenAIProvider) {
		if client != nil {
			p.client = client
		}
	}
}

// NewOpenAIProvider creates a provider named "openai".
func NewOpenAIProvider(cfg *ProviderConfig, opts ...OpenAIOption) *OpenAIProvider {
	return newOpenAICompatible("openai", cfg, opts...)
}

func newOpenAICompatible(name string, cfg *ProviderConfig, opts ...OpenAIOption) *OpenAIProvider {
	p := &OpenAIProvider{baseProvider: newBaseProvider(cfg, name)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Invoke sends one chat-completions request.
func (p *OpenAIProvider) Invoke(ctx context.Context, messages []conversation.Message, defs []tools.Definition) (*Response, error) {
	if !p.Available() {
		return nil, p.unavailable(0, errors.New("API key not configured"))
	}

	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	wireReq := openAIChatRequest{
		Model:       p.config.Model,
		Messages:    toOpenAIMessages(messages),
		MaxTokens:   p.config.MaxTokens,
		Temperature: p.config.Temperature,
	}
	if len(defs) > 0 {
		wireReq.Tools = toOpenAITools(defs)
		wireReq.ToolChoice = "auto"
	}

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, p.unavailable(0, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.config.Endpoint, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, p.unavailable(0, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, p.unavailable(0, fmt.Errorf("request timed out after %v: %w", p.config.Timeout, ctx.Err()))
		}
		return nil, p.unavailable(0, fmt.Errorf("execute request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := readLimitedBody(resp.Body, MaxErrorBodySize)
		return nil, p.unavailable(resp.StatusCode, fmt.Errorf("%s", strings.TrimSpace(string(bodyBytes))))
	}

	var wireResp openAIChatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, MaxResponseSize)).Decode(&wireResp); err != nil {
		return nil, p.unavailable(resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	if len(wireResp.Choices) == 0 {
		return nil, p.unavailable(resp.StatusCode, errors.New("no choices in response"))
	}

	choice := wireResp.Choices[0]
	out := &Response{
		Model:        wireResp.Model,
		FinishReason: choice.FinishReason,
		Usage: Usage{
			PromptTokens:     wireResp.Usage.PromptTokens,
			CompletionTokens: wireResp.Usage.CompletionTokens,
			TotalTokens:      wireResp.Usage.TotalTokens,
		},
		Duration: time.Since(start),
	}
	if choice.Message.Content != nil {
		out.Content = *choice.Message.Content
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, conversation.ToolCallRequest{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: decodeArguments(tc.Function.Arguments),
		})
	}
	return out, nil
}

// decodeArguments parses the JSON-encoded argument string of a tool call.
// Text that is not a JSON object is kept under "_raw" so the registry can
// reject it in-band.
func decodeArguments(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{"_raw": raw}
	}
	return args
}

func toOpenAIMessages(messages []conversation.Message) []openAIMessage {
	out := make([]openAIMessage, 0, len(messages))
	for _, m := range messages {
		msg := openAIMessage{Role: string(m.Role)}

		switch {
		case len(m.Parts) > 0:
			parts := make([]openAIContentPart, 0, len(m.Parts))
			for _, part := range m.Parts {
				switch part.Type {
				case conversation.PartImageURL:
					parts = append(parts, openAIContentPart{
						Type:     "image_url",
						ImageURL: &openAIImageURL{URL: part.ImageURL, Detail: part.Detail},
					})
				default:
					parts = append(parts, openAIContentPart{Type: "text", Text: part.Text})
				}
			}
			msg.Content = parts
		case m.HasToolCalls() && m.Content == "":
			msg.Content = nil
		default:
			msg.Content = m.Content
		}

		if m.Role == conversation.RoleTool {
			msg.ToolCallID = m.ToolCallID
		}
		for _, call := range m.ToolCalls {
			args, err := json.Marshal(call.Arguments)
			if err != nil {
				args = []byte("{}")
			}
			msg.ToolCalls = append(msg.ToolCalls, openAIToolCall{
				ID:   call.ID,
				Type: "function",
				Function: openAIFunctionCall{
					Name:      call.Name,
					Arguments: string(args),
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func toOpenAITools(defs []tools.Definition) []openAITool {
	out := make([]openAITool, 0, len(defs))
	for _, d := range defs {
		out = append(out, openAITool{
			Type: "function",
			Function: openAIFunction{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}
	return out
}

// OpenAI API types
type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Tools       []openAITool    `json:"tools,omitempty"`
	ToolChoice  string          `json:"tool_choice,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    any              `json:"content"` // string, []openAIContentPart or null
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Parameters  tools.Schema `json:"parameters"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role      string           `json:"role"`
			Content   *string          `json:"content"`
			ToolCalls []openAIToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}
