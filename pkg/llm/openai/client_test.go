package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KodaTao/WritingAgent/pkg/llm"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewProvider(&Config{APIKey: "sk-test", BaseURL: srv.URL, Model: "test-model"})
}

func TestChat_ToolCalls(t *testing.T) {
	var got chatRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"choices":[{"index":0,"message":{"role":"assistant","content":"","tool_calls":[
				{"id":"call_1","type":"function","function":{"name":"track_writing_progress","arguments":"{\"project_name\":\"Novel\",\"word_count\":25000}"}},
				{"id":"call_2","type":"function","function":{"name":"get_scheduled_tasks","arguments":""}}
			]},"finish_reason":"tool_calls"}],
			"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}
		}`)
	})

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: "system"},
		{Role: llm.RoleUser, Content: "how am I doing?"},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "old", Name: "suggest_plot_twist", Arguments: json.RawMessage(`{}`)}}},
		{Role: llm.RoleTool, ToolCallID: "old", Content: "twist"},
	}
	tools := []llm.Tool{{Name: "track_writing_progress", Description: "progress", Parameters: json.RawMessage(`{"type":"object"}`)}}

	reply, err := p.Chat(context.Background(), messages, tools)
	require.NoError(t, err)

	require.Len(t, got.Tools, 1)
	assert.Equal(t, "function", got.Tools[0].Type)
	assert.Equal(t, "track_writing_progress", got.Tools[0].Function.Name)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "old", got.Messages[2].ToolCalls[0].ID)
	assert.Equal(t, "{}", got.Messages[2].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "old", got.Messages[3].ToolCallID)

	require.True(t, reply.HasToolCalls())
	require.Len(t, reply.ToolCalls, 2)
	assert.Equal(t, "call_1", reply.ToolCalls[0].ID)
	assert.JSONEq(t, `{"project_name":"Novel","word_count":25000}`, string(reply.ToolCalls[0].Arguments))
	assert.Equal(t, "{}", string(reply.ToolCalls[1].Arguments))
	assert.Equal(t, 15, reply.Usage.TotalTokens)
}

func TestChat_Text(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		_, hasTools := req["tools"]
		assert.False(t, hasTools, "tools must be omitted when empty")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"Keep writing!"}}]}`)
	})

	reply, err := p.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Keep writing!", reply.Content)
	assert.False(t, reply.HasToolCalls())
}

func TestChat_Errors(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"invalid api key"}}`)
	})
	_, err := p.Chat(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid api key")

	p = newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	})
	_, err = p.Chat(context.Background(), nil, nil)
	assert.Error(t, err)
}
