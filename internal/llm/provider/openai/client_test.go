package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylens/skylens-ai/internal/llm/types"
)

func fakeServer(t *testing.T, status int, response interface{}, capture *apiChatRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if capture != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(capture))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		require.NoError(t, json.NewEncoder(w).Encode(response))
	}))
}

func completionFixture(content string, toolCalls ...map[string]interface{}) map[string]interface{} {
	message := map[string]interface{}{
		"role":    "assistant",
		"content": content,
	}
	if len(toolCalls) > 0 {
		message["tool_calls"] = toolCalls
	}
	return map[string]interface{}{
		"id": "chatcmpl-1",
		"choices": []map[string]interface{}{
			{"index": 0, "message": message, "finish_reason": "stop"},
		},
		"usage": map[string]interface{}{
			"prompt_tokens":     12,
			"completion_tokens": 7,
			"total_tokens":      19,
		},
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient("", "gpt-4o", "")
	assert.Error(t, err)
}

func TestNewClientDefaults(t *testing.T) {
	c, err := NewClient("test-key", "", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, c.model)
	assert.Equal(t, DefaultBaseURL, c.baseURL)
}

func TestCompleteTextOnly(t *testing.T) {
	var captured apiChatRequest
	srv := fakeServer(t, http.StatusOK, completionFixture("hello"), &captured)
	defer srv.Close()

	c, err := NewClient("test-key", "gpt-4o", srv.URL)
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), []types.Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "hello", resp.Content)
	assert.Empty(t, resp.ToolCalls)
	assert.Equal(t, 12, resp.Usage.PromptTokens)
	assert.Equal(t, 19, resp.Usage.TotalTokens)

	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "gpt-4o", captured.Model)
	assert.Empty(t, captured.Tools)
}

func TestCompleteDecodesToolCalls(t *testing.T) {
	fixture := completionFixture("", map[string]interface{}{
		"id":   "call_9",
		"type": "function",
		"function": map[string]interface{}{
			"name":      "get_metric",
			"arguments": `{"metric":"max_altitude"}`,
		},
	})
	srv := fakeServer(t, http.StatusOK, fixture, nil)
	defer srv.Close()

	c, err := NewClient("test-key", "gpt-4o", srv.URL)
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), []types.Message{
		{Role: "user", Content: "max altitude?"},
	}, []types.Tool{{Name: "get_metric"}})
	require.NoError(t, err)

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_9", resp.ToolCalls[0].ID)
	assert.Equal(t, "get_metric", resp.ToolCalls[0].Name)
	assert.Equal(t, "max_altitude", resp.ToolCalls[0].Arguments["metric"])
}

func TestCompleteSerializesToolHistory(t *testing.T) {
	var captured apiChatRequest
	srv := fakeServer(t, http.StatusOK, completionFixture("ok"), &captured)
	defer srv.Close()

	c, err := NewClient("test-key", "gpt-4o", srv.URL)
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), []types.Message{
		{Role: "assistant", ToolCalls: []types.ToolCall{
			{ID: "call_1", Name: "get_metric", Arguments: map[string]interface{}{"metric": "max_altitude"}},
		}},
		{Role: "tool", Content: `{"ok":true}`, ToolCallID: "call_1"},
	}, nil)
	require.NoError(t, err)

	require.Len(t, captured.Messages, 2)
	require.Len(t, captured.Messages[0].ToolCalls, 1)
	tc := captured.Messages[0].ToolCalls[0]
	assert.Equal(t, "call_1", tc.ID)
	assert.Equal(t, "function", tc.Type)
	assert.Equal(t, "get_metric", tc.Function.Name)
	assert.JSONEq(t, `{"metric":"max_altitude"}`, tc.Function.Arguments)
	assert.Equal(t, "call_1", captured.Messages[1].ToolCallID)
}

func TestCompleteMalformedArgumentsFails(t *testing.T) {
	fixture := completionFixture("", map[string]interface{}{
		"id":   "call_9",
		"type": "function",
		"function": map[string]interface{}{
			"name":      "get_metric",
			"arguments": `{not json`,
		},
	})
	srv := fakeServer(t, http.StatusOK, fixture, nil)
	defer srv.Close()

	c, err := NewClient("test-key", "gpt-4o", srv.URL)
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), []types.Message{{Role: "user", Content: "?"}}, nil)
	assert.Error(t, err)
}

func TestCompleteAPIError(t *testing.T) {
	srv := fakeServer(t, http.StatusBadRequest, map[string]interface{}{
		"error": map[string]interface{}{"message": "bad model", "type": "invalid_request_error"},
	}, nil)
	defer srv.Close()

	c, err := NewClient("test-key", "gpt-4o", srv.URL)
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), []types.Message{{Role: "user", Content: "?"}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad model")
}

func TestCompleteNoChoices(t *testing.T) {
	srv := fakeServer(t, http.StatusOK, map[string]interface{}{
		"id":      "chatcmpl-1",
		"choices": []interface{}{},
	}, nil)
	defer srv.Close()

	c, err := NewClient("test-key", "gpt-4o", srv.URL)
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), []types.Message{{Role: "user", Content: "?"}}, nil)
	assert.Error(t, err)
}
