package chassis

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KodaTao/WritingAgent/pkg/function"
	"github.com/KodaTao/WritingAgent/pkg/llm"
	"github.com/KodaTao/WritingAgent/pkg/types"
	"github.com/KodaTao/WritingAgent/pkg/writing"
)

// scriptedProvider 按顺序返回预设回复的 Provider
type scriptedProvider struct {
	mu      sync.Mutex
	replies []*llm.Reply
	history [][]llm.Message
	tools   [][]llm.Tool
	err     error
}

func (p *scriptedProvider) Chat(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*llm.Reply, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = append(p.history, append([]llm.Message(nil), messages...))
	p.tools = append(p.tools, tools)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.replies) == 0 {
		return &llm.Reply{Content: "done"}, nil
	}
	r := p.replies[0]
	p.replies = p.replies[1:]
	return r, nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.history)
}

// deleteDraftParams 需要确认的测试工具参数
type deleteDraftParams struct {
	Name string `json:"name" jsonschema:"required"`
}

// deleteDraft 记录执行次数的测试工具
type deleteDraft struct {
	mu      sync.Mutex
	deleted []string
}

func (f *deleteDraft) Name() string        { return "delete_draft" }
func (f *deleteDraft) Description() string { return "Delete a draft" }
func (f *deleteDraft) ParamsType() reflect.Type {
	return reflect.TypeOf(deleteDraftParams{})
}
func (f *deleteDraft) Execute(ctx context.Context, params any) (function.Result, error) {
	p := params.(deleteDraftParams)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, p.Name)
	return function.Result{Message: "Draft " + p.Name + " deleted"}, nil
}

func toolCall(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func newTestAgent(t *testing.T, provider llm.Provider, cfg AgentConfig) (*Agent, *deleteDraft) {
	t.Helper()
	draft := &deleteDraft{}

	b := function.NewBuilder()
	require.NoError(t, b.RegisterAll(writing.Functions(writing.NewGenerator("en"))...))
	require.NoError(t, b.RegisterGated(draft))
	registry, err := b.Build()
	require.NoError(t, err)

	executor := function.NewExecutor(registry, function.NewApprovalStore(time.Minute), time.Second)
	return NewAgent(provider, registry, executor, cfg), draft
}

func TestChat_PlainReply(t *testing.T) {
	provider := &scriptedProvider{replies: []*llm.Reply{{Content: "Hello, writer."}}}
	agent, _ := newTestAgent(t, provider, DefaultAgentConfig())

	resp, err := agent.Chat(context.Background(), types.ChatRequest{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Hello, writer.", resp.Reply)
	assert.True(t, strings.HasPrefix(resp.SessionID, "session_"))
	assert.Empty(t, resp.FunctionCalls)

	require.Len(t, provider.history, 1)
	msgs := provider.history[0]
	require.Len(t, msgs, 2)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "## Guidelines")
	assert.Equal(t, llm.RoleUser, msgs[1].Role)

	// 工具清单按名称排序，与能力清单一致
	tools := provider.tools[0]
	require.Len(t, tools, 9)
	for i := 1; i < len(tools); i++ {
		assert.Less(t, tools[i-1].Name, tools[i].Name)
	}
	assert.NotEmpty(t, tools[0].Parameters)
}

func TestChat_EmptyMessage(t *testing.T) {
	agent, _ := newTestAgent(t, &scriptedProvider{}, DefaultAgentConfig())
	_, err := agent.Chat(context.Background(), types.ChatRequest{Message: "  "})
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestChat_ToolCallsRunSequentially(t *testing.T) {
	provider := &scriptedProvider{replies: []*llm.Reply{
		{ToolCalls: []llm.ToolCall{
			toolCall("c1", "track_writing_progress", `{"project_name":"Novel","word_count":25000}`),
			toolCall("c2", "create_character_profile", `{}`),
			toolCall("c3", "no_such_tool", `{}`),
		}},
		{Content: "You are making progress."},
	}}
	agent, _ := newTestAgent(t, provider, DefaultAgentConfig())

	resp, err := agent.Chat(context.Background(), types.ChatRequest{SessionID: "s1", Message: "how am I doing?"})
	require.NoError(t, err)
	assert.Equal(t, "s1", resp.SessionID)
	assert.Equal(t, "You are making progress.", resp.Reply)

	require.Len(t, resp.FunctionCalls, 3)
	assert.Equal(t, string(function.StateCompleted), resp.FunctionCalls[0].Status)
	assert.Contains(t, resp.FunctionCalls[0].Result, "25,000")
	assert.Equal(t, string(function.StateRejected), resp.FunctionCalls[1].Status)
	assert.Equal(t, string(function.StateRejected), resp.FunctionCalls[2].Status)

	// 第二次调用模型时带上了三条 tool 消息，顺序与调用一致
	require.Len(t, provider.history, 2)
	msgs := provider.history[1]
	var toolMsgs []llm.Message
	for _, m := range msgs {
		if m.Role == llm.RoleTool {
			toolMsgs = append(toolMsgs, m)
		}
	}
	require.Len(t, toolMsgs, 3)
	assert.Equal(t, "c1", toolMsgs[0].ToolCallID)
	assert.Contains(t, toolMsgs[0].Content, "Novel")
	assert.Equal(t, "c2", toolMsgs[1].ToolCallID)
	assert.Contains(t, toolMsgs[1].Content, "Error from create_character_profile")
	assert.Equal(t, "c3", toolMsgs[2].ToolCallID)
	assert.Contains(t, toolMsgs[2].Content, "function not found")

	// assistant 消息保留了工具调用
	assistant := msgs[2]
	assert.Equal(t, llm.RoleAssistant, assistant.Role)
	assert.Len(t, assistant.ToolCalls, 3)
}

func TestChat_MaxIterations(t *testing.T) {
	loopCall := &llm.Reply{ToolCalls: []llm.ToolCall{toolCall("c", "generate_writing_prompt", `{}`)}}
	provider := &scriptedProvider{replies: []*llm.Reply{loopCall, loopCall, loopCall, loopCall}}
	cfg := DefaultAgentConfig()
	cfg.MaxIterations = 3
	agent, _ := newTestAgent(t, provider, cfg)

	resp, err := agent.Chat(context.Background(), types.ChatRequest{Message: "prompt me"})
	require.NoError(t, err)
	assert.Equal(t, fallbackReply, resp.Reply)
	assert.Equal(t, 3, provider.calls())
	assert.Len(t, resp.FunctionCalls, 3)
}

func TestChat_ProviderError(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("rate limited")}
	agent, _ := newTestAgent(t, provider, DefaultAgentConfig())

	_, err := agent.Chat(context.Background(), types.ChatRequest{Message: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestChat_SessionHistoryKept(t *testing.T) {
	provider := &scriptedProvider{replies: []*llm.Reply{{Content: "one"}, {Content: "two"}}}
	agent, _ := newTestAgent(t, provider, DefaultAgentConfig())

	_, err := agent.Chat(context.Background(), types.ChatRequest{SessionID: "s", Message: "first"})
	require.NoError(t, err)
	_, err = agent.Chat(context.Background(), types.ChatRequest{SessionID: "s", Message: "second"})
	require.NoError(t, err)

	// system, user, assistant, user
	assert.Len(t, provider.history[1], 4)
	assert.Len(t, agent.ListSessions(), 1)
	assert.True(t, agent.DeleteSession("s"))
	assert.False(t, agent.DeleteSession("s"))
}

func TestChat_GatedToolApproved(t *testing.T) {
	provider := &scriptedProvider{replies: []*llm.Reply{
		{ToolCalls: []llm.ToolCall{toolCall("c1", "delete_draft", `{"name":"chapter-1"}`)}},
		{Content: "Waiting for your confirmation."},
	}}
	agent, draft := newTestAgent(t, provider, DefaultAgentConfig())

	resp, err := agent.Chat(context.Background(), types.ChatRequest{SessionID: "s1", Message: "delete chapter-1"})
	require.NoError(t, err)

	require.Len(t, resp.PendingApprovals, 1)
	pending := resp.PendingApprovals[0]
	assert.Equal(t, "delete_draft", pending.Tool)
	assert.JSONEq(t, `{"name":"chapter-1"}`, pending.Arguments)
	assert.Equal(t, string(function.StatePendingConfirmation), resp.FunctionCalls[0].Status)
	assert.Empty(t, draft.deleted)
	assert.Len(t, agent.PendingApprovals("s1"), 1)
	assert.Empty(t, agent.PendingApprovals("other"))

	result, err := agent.ResolveApproval(context.Background(), pending.ID, true)
	require.NoError(t, err)
	assert.Equal(t, "s1", result.SessionID)
	assert.Equal(t, string(function.StateCompleted), result.Call.Status)
	assert.Equal(t, "c1", result.Call.ID)
	assert.Equal(t, []string{"chapter-1"}, draft.deleted)
	assert.Empty(t, agent.PendingApprovals(""))

	// 结果写回了会话
	msgs := agent.GetSession("s1").GetMessages()
	assert.Contains(t, msgs[len(msgs)-1].Content, "Draft chapter-1 deleted")

	_, err = agent.ResolveApproval(context.Background(), pending.ID, true)
	assert.True(t, IsNotFound(err))
}

func TestChat_GatedToolDenied(t *testing.T) {
	provider := &scriptedProvider{replies: []*llm.Reply{
		{ToolCalls: []llm.ToolCall{toolCall("c1", "delete_draft", `{"name":"chapter-2"}`)}},
		{Content: "Okay."},
	}}
	agent, draft := newTestAgent(t, provider, DefaultAgentConfig())

	resp, err := agent.Chat(context.Background(), types.ChatRequest{Message: "delete chapter-2"})
	require.NoError(t, err)
	require.Len(t, resp.PendingApprovals, 1)

	result, err := agent.ResolveApproval(context.Background(), resp.PendingApprovals[0].ID, false)
	require.NoError(t, err)
	assert.Equal(t, string(function.StateRejected), result.Call.Status)
	assert.Contains(t, result.Call.Result, "denied")
	assert.Empty(t, draft.deleted)
}

func TestChatStream(t *testing.T) {
	provider := &scriptedProvider{replies: []*llm.Reply{{Content: "a quiet harbor town"}}}
	agent, _ := newTestAgent(t, provider, DefaultAgentConfig())

	ch, err := agent.ChatStream(context.Background(), types.ChatRequest{Message: "setting?"})
	require.NoError(t, err)

	var text strings.Builder
	var last StreamResponse
	for chunk := range ch {
		text.WriteString(chunk.Content)
		last = chunk
	}
	assert.Equal(t, "a quiet harbor town", text.String())
	assert.True(t, last.Done)
	assert.NotEmpty(t, last.SessionID)
}

func TestAgentExecutorAdapter(t *testing.T) {
	provider := &scriptedProvider{replies: []*llm.Reply{{Content: "Here is today's prompt."}}}
	agent, _ := newTestAgent(t, provider, DefaultAgentConfig())

	reply, err := NewAgentExecutorAdapter(agent).Execute(context.Background(), "send me a writing prompt")
	require.NoError(t, err)
	assert.Equal(t, "Here is today's prompt.", reply)

	// 任务会话使用精简版系统提示
	system := provider.history[0][0]
	assert.Equal(t, llm.RoleSystem, system.Role)
	assert.Contains(t, system.Content, "Tools: ")
	assert.NotContains(t, system.Content, "## Guidelines")

	user := provider.history[0][1]
	assert.True(t, strings.HasPrefix(user.Content, taskExecutionPromptPrefix))
	assert.True(t, strings.HasSuffix(user.Content, "send me a writing prompt"))

	// 任务会话用完即删
	assert.Empty(t, agent.ListSessions())
}
