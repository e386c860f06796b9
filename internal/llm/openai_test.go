package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rainbowcity/rainbow/internal/conversation"
	"github.com/rainbowcity/rainbow/internal/tools"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewOpenAIProvider(&ProviderConfig{
		Endpoint: server.URL + "/v1",
		APIKey:   "sk-test",
		Model:    "gpt-test",
		Timeout:  5 * time.Second,
	})
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, body)
}

func TestOpenAIProvider_TextAnswer(t *testing.T) {
	var captured map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		writeJSON(w, `{
			"id": "chatcmpl-1",
			"model": "gpt-test",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "The capital of France is Paris."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19}
		}`)
	})

	msgs := []conversation.Message{
		{Role: conversation.RoleSystem, Content: "You are helpful."},
		{Role: conversation.RoleUser, Content: "Capital of France?"},
	}
	resp, err := p.Invoke(context.Background(), msgs, nil)
	require.NoError(t, err)

	assert.Equal(t, "The capital of France is Paris.", resp.Content)
	assert.False(t, resp.HasToolCalls())
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, Usage{PromptTokens: 12, CompletionTokens: 7, TotalTokens: 19}, resp.Usage)

	assert.Equal(t, "gpt-test", captured["model"])
	_, hasTools := captured["tools"]
	assert.False(t, hasTools, "no tools are sent when no definitions are given")
	_, hasChoice := captured["tool_choice"]
	assert.False(t, hasChoice)

	wireMsgs := captured["messages"].([]any)
	require.Len(t, wireMsgs, 2)
	assert.Equal(t, map[string]any{"role": "system", "content": "You are helpful."}, wireMsgs[0])
}

func TestOpenAIProvider_ToolCalls(t *testing.T) {
	var captured map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		writeJSON(w, `{
			"model": "gpt-test",
			"choices": [{"message": {"role": "assistant", "content": null, "tool_calls": [
				{"id": "c1", "type": "function", "function": {"name": "generate_ai_id", "arguments": "{}"}},
				{"id": "c2", "type": "function", "function": {"name": "get_weather", "arguments": "{\"city\":\"Paris\"}"}},
				{"id": "c3", "type": "function", "function": {"name": "get_weather", "arguments": "{city: Paris"}}
			]}, "finish_reason": "tool_calls"}]
		}`)
	})

	defs := []tools.Definition{{
		Name:        "get_weather",
		Description: "weather",
		Parameters:  tools.NewSchema([]tools.Parameter{{Name: "city", Type: tools.TypeString}}),
	}}
	resp, err := p.Invoke(context.Background(), []conversation.Message{{Role: conversation.RoleUser, Content: "hi"}}, defs)
	require.NoError(t, err)

	assert.Equal(t, "", resp.Content)
	require.Len(t, resp.ToolCalls, 3)
	assert.Equal(t, conversation.ToolCallRequest{ID: "c1", Name: "generate_ai_id", Arguments: map[string]any{}}, resp.ToolCalls[0])
	assert.Equal(t, map[string]any{"city": "Paris"}, resp.ToolCalls[1].Arguments)
	assert.Equal(t, map[string]any{"_raw": "{city: Paris"}, resp.ToolCalls[2].Arguments)

	assert.Equal(t, "auto", captured["tool_choice"])
	wireTools := captured["tools"].([]any)
	require.Len(t, wireTools, 1)
	fn := wireTools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "get_weather", fn["name"])
	params := fn["parameters"].(map[string]any)
	assert.Equal(t, "object", params["type"])
	assert.Equal(t, []any{"city"}, params["required"])
}

func TestOpenAIProvider_EncodesHistory(t *testing.T) {
	var captured struct {
		Messages []map[string]any `json:"messages"`
	}
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		writeJSON(w, `{"choices": [{"message": {"role": "assistant", "content": "ok"}}]}`)
	})

	msgs := []conversation.Message{
		{
			Role:    conversation.RoleUser,
			Content: "What is this?",
			Parts: []conversation.ContentPart{
				conversation.TextPart("What is this?"),
				conversation.ImagePart("data:image/png;base64,AAAA"),
			},
		},
		{
			Role:      conversation.RoleAssistant,
			ToolCalls: []conversation.ToolCallRequest{{ID: "c1", Name: "generate_ai_id", Arguments: map[string]any{}}},
		},
		{Role: conversation.RoleTool, Content: "AI-7F3D2E1A", ToolCallID: "c1", Name: "generate_ai_id"},
	}
	_, err := p.Invoke(context.Background(), msgs, nil)
	require.NoError(t, err)
	require.Len(t, captured.Messages, 3)

	parts := captured.Messages[0]["content"].([]any)
	require.Len(t, parts, 2)
	assert.Equal(t, map[string]any{"type": "text", "text": "What is this?"}, parts[0])
	assert.Equal(t, map[string]any{"type": "image_url", "image_url": map[string]any{"url": "data:image/png;base64,AAAA"}}, parts[1])

	assistant := captured.Messages[1]
	content, present := assistant["content"]
	assert.True(t, present)
	assert.Nil(t, content, "tool-call turns send null content")
	call := assistant["tool_calls"].([]any)[0].(map[string]any)
	assert.Equal(t, "c1", call["id"])
	assert.Equal(t, "function", call["type"])
	assert.Equal(t, "{}", call["function"].(map[string]any)["arguments"])

	tool := captured.Messages[2]
	assert.Equal(t, "tool", tool["role"])
	assert.Equal(t, "c1", tool["tool_call_id"])
	assert.Equal(t, "AI-7F3D2E1A", tool["content"])
}

func TestOpenAIProvider_Failures(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
		})
		_, err := p.Invoke(context.Background(), nil, nil)

		var unavailable *ModelUnavailableError
		require.ErrorAs(t, err, &unavailable)
		assert.Equal(t, "openai", unavailable.Provider)
		assert.Equal(t, http.StatusUnauthorized, unavailable.Status)
		assert.Contains(t, err.Error(), "invalid api key")
	})

	t.Run("malformed body", func(t *testing.T) {
		p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, `{"choices": [`)
		})
		_, err := p.Invoke(context.Background(), nil, nil)
		var unavailable *ModelUnavailableError
		require.ErrorAs(t, err, &unavailable)
		assert.Contains(t, err.Error(), "decode response")
	})

	t.Run("no choices", func(t *testing.T) {
		p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, `{"choices": []}`)
		})
		_, err := p.Invoke(context.Background(), nil, nil)
		var unavailable *ModelUnavailableError
		require.ErrorAs(t, err, &unavailable)
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer server.Close()
		defer close(release)

		p := NewOpenAIProvider(&ProviderConfig{Endpoint: server.URL, APIKey: "k", Timeout: 50 * time.Millisecond})
		_, err := p.Invoke(context.Background(), nil, nil)

		var unavailable *ModelUnavailableError
		require.ErrorAs(t, err, &unavailable)
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})

	t.Run("missing key", func(t *testing.T) {
		p := NewOpenAIProvider(&ProviderConfig{Endpoint: "http://127.0.0.1:1"})
		_, err := p.Invoke(context.Background(), nil, nil)
		var unavailable *ModelUnavailableError
		require.ErrorAs(t, err, &unavailable)
		assert.Contains(t, err.Error(), "API key not configured")
	})
}

func TestDecodeArguments(t *testing.T) {
	assert.Equal(t, map[string]any{}, decodeArguments(""))
	assert.Equal(t, map[string]any{}, decodeArguments("  {} "))
	assert.Equal(t, map[string]any{"n": 2.0}, decodeArguments(`{"n":2}`))
	assert.Equal(t, map[string]any{"_raw": "[1,2]"}, decodeArguments("[1,2]"))
	assert.Equal(t, map[string]any{"_raw": "null"}, decodeArguments("null"))
}
