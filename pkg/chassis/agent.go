package chassis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/KodaTao/WritingAgent/pkg/function"
	"github.com/KodaTao/WritingAgent/pkg/llm"
	"github.com/KodaTao/WritingAgent/pkg/observability"
	"github.com/KodaTao/WritingAgent/pkg/prompt"
	"github.com/KodaTao/WritingAgent/pkg/protocol"
	"github.com/KodaTao/WritingAgent/pkg/types"
)

// fallbackReply 达到最大迭代次数仍未得到文本回复时使用
const fallbackReply = "I've completed the requested operations."

// Agent 写作助手
// 负责与 LLM 交互，并把模型请求的工具调用交给 Executor
type Agent struct {
	provider        llm.Provider
	registry        *function.Registry
	executor        *function.Executor
	sessionManager  *SessionManager
	encoder         *protocol.Encoder
	promptGenerator *prompt.Generator
	tools           []llm.Tool
	config          AgentConfig
}

// NewAgent 创建 Agent
// executor 为 nil 时使用 config.ToolTimeout 创建默认执行器
func NewAgent(provider llm.Provider, registry *function.Registry, executor *function.Executor, config AgentConfig) *Agent {
	defaults := DefaultAgentConfig()
	if config.MaxIterations <= 0 {
		config.MaxIterations = defaults.MaxIterations
	}
	if config.MaxHistory <= 0 {
		config.MaxHistory = defaults.MaxHistory
	}
	if executor == nil {
		executor = function.NewExecutor(registry, nil, config.ToolTimeout)
	}

	return &Agent{
		provider:        provider,
		registry:        registry,
		executor:        executor,
		sessionManager:  NewSessionManager(&SessionConfig{MaxHistory: config.MaxHistory, TTL: config.SessionTTL}),
		encoder:         protocol.NewEncoder(),
		promptGenerator: prompt.NewGenerator(),
		tools:           toolsFromManifest(registry.Manifest()),
		config:          config,
	}
}

// toolsFromManifest 将能力清单转换为模型的工具描述
func toolsFromManifest(manifest []function.FunctionInfo) []llm.Tool {
	tools := make([]llm.Tool, 0, len(manifest))
	for _, info := range manifest {
		tools = append(tools, llm.Tool{
			Name:        info.Name,
			Description: info.Description,
			Parameters:  info.InputSchema,
		})
	}
	return tools
}

// Chat 处理一轮对话
//  1. 获取/创建会话并加上系统提示
//  2. 添加用户消息
//  3. 调用 LLM，按顺序执行模型请求的工具调用
//  4. 工具结果作为 tool 消息写回会话，循环直到模型给出文本回复
//
// 工具执行失败或参数被拒绝只会变成结果文本，不会中断本轮对话
func (a *Agent) Chat(ctx context.Context, req types.ChatRequest) (*types.ChatResponse, error) {
	return a.chat(ctx, req, a.promptGenerator.GenerateSystemPrompt)
}

// systemPromptFunc 为新会话生成系统提示
type systemPromptFunc func(functions []function.FunctionInfo) (string, error)

func (a *Agent) chat(ctx context.Context, req types.ChatRequest, systemPrompt systemPromptFunc) (*types.ChatResponse, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = generateSessionID()
	}

	session := a.sessionManager.GetOrCreate(sessionID)
	session.turn.Lock()
	defer session.turn.Unlock()

	if req.Channel != nil {
		session.mu.Lock()
		session.Channel = req.Channel
		session.mu.Unlock()
	}
	ctx = a.sessionContext(ctx, session)

	if a.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
	}

	if session.Len() == 0 {
		content, err := systemPrompt(a.registry.ListInfo())
		if err != nil {
			return nil, fmt.Errorf("failed to generate system prompt: %w", err)
		}
		session.AddMessage(llm.RoleSystem, content)
	}
	session.AddMessage(llm.RoleUser, req.Message)

	resp := &types.ChatResponse{SessionID: sessionID}
	reply, err := a.loop(ctx, session, resp)
	if err != nil {
		return nil, err
	}
	resp.Reply = reply

	session.Truncate(a.config.MaxHistory)

	observability.InfoContext(ctx, "Chat turn finished",
		"function_calls", len(resp.FunctionCalls),
		"pending_approvals", len(resp.PendingApprovals),
	)
	return resp, nil
}

// loop 对话循环，返回模型的最终文本回复
func (a *Agent) loop(ctx context.Context, session *Session, resp *types.ChatResponse) (string, error) {
	for i := 0; i < a.config.MaxIterations; i++ {
		observability.DebugContext(ctx, "Calling LLM", "iteration", i+1)

		reply, err := a.provider.Chat(ctx, session.GetMessages(), a.tools)
		if err != nil {
			return "", fmt.Errorf("LLM call failed: %w", err)
		}

		session.Append(llm.Message{
			Role:      llm.RoleAssistant,
			Content:   reply.Content,
			ToolCalls: reply.ToolCalls,
		})

		if !reply.HasToolCalls() {
			return reply.Content, nil
		}

		// 同一回复中的工具调用按顺序逐个执行
		for _, call := range reply.ToolCalls {
			execResp := a.executor.Execute(ctx, function.ExecuteRequest{
				CallID:       call.ID,
				FunctionName: call.Name,
				Arguments:    call.Arguments,
				SessionID:    session.ID,
			})

			resp.FunctionCalls = append(resp.FunctionCalls, types.FunctionCall{
				ID:     call.ID,
				Name:   call.Name,
				Status: string(execResp.State),
				Result: execResp.Text(),
			})
			if execResp.State == function.StatePendingConfirmation {
				if pending, ok := a.pendingApproval(execResp.ApprovalID); ok {
					resp.PendingApprovals = append(resp.PendingApprovals, pending)
				}
			}

			session.Append(llm.Message{
				Role:       llm.RoleTool,
				Content:    a.encode(call.Name, execResp),
				ToolCallID: call.ID,
			})
		}
	}

	observability.WarnContext(ctx, "Max iterations reached", "max_iterations", a.config.MaxIterations)
	return fallbackReply, nil
}

// encode 将执行结果编码为 tool 消息内容
func (a *Agent) encode(name string, resp function.ExecuteResponse) string {
	if resp.Error != nil {
		return a.encoder.EncodeError(name, resp.Error.Error())
	}

	status := protocol.StatusSuccess
	switch resp.State {
	case function.StatePendingConfirmation:
		status = protocol.StatusPending
	case function.StateRejected, function.StateFailed:
		return a.encoder.EncodeError(name, resp.Text())
	}

	return a.encoder.EncodeResult(&protocol.CallResult{
		Name:     name,
		Status:   status,
		Message:  resp.Result.Message,
		Data:     resp.Result.Data,
		Markdown: resp.Result.Markdown,
	})
}

// pendingApproval 将确认记录转换为传输层使用的结构
func (a *Agent) pendingApproval(id string) (types.PendingApproval, bool) {
	approval, ok := a.executor.Approvals().Get(id)
	if !ok {
		return types.PendingApproval{}, false
	}
	return toPendingApproval(approval), true
}

func toPendingApproval(approval function.Approval) types.PendingApproval {
	return types.PendingApproval{
		ID:        approval.ID,
		Tool:      approval.Tool,
		Arguments: string(approval.Arguments),
		ExpiresAt: approval.ExpiresAt,
	}
}

// ResolveApproval 处理人工确认
// 确认后执行被挂起的调用，拒绝或过期则不执行；结果会写回原会话
func (a *Agent) ResolveApproval(ctx context.Context, approvalID string, approved bool) (*types.ApprovalResponse, error) {
	pending, ok := a.executor.Approvals().Get(approvalID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", function.ErrApprovalNotFound, approvalID)
	}

	session := a.sessionManager.Get(pending.SessionID)
	if session != nil {
		session.turn.Lock()
		defer session.turn.Unlock()
		ctx = a.sessionContext(ctx, session)
	} else {
		ctx = WithSessionID(ctx, pending.SessionID)
	}

	approval, execResp, err := a.executor.Resolve(ctx, approvalID, approved)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, approvalID)
	}

	call := types.FunctionCall{
		ID:     approval.CallID,
		Name:   approval.Tool,
		Status: string(execResp.State),
		Result: execResp.Text(),
	}

	if session != nil {
		session.AddMessage(llm.RoleUser, fmt.Sprintf("Confirmation result for %s (call %s):\n%s",
			approval.Tool, approval.CallID, a.encode(approval.Tool, execResp)))
	}

	observability.InfoContext(ctx, "Approval resolved",
		"approval_id", approvalID,
		"tool", approval.Tool,
		"approved", approved,
		"state", execResp.State,
	)

	return &types.ApprovalResponse{
		SessionID: approval.SessionID,
		Call:      call,
	}, nil
}

// PendingApprovals 列出等待确认的调用，sessionID 为空时返回全部
func (a *Agent) PendingApprovals(sessionID string) []types.PendingApproval {
	approvals := a.executor.Approvals().Pending(sessionID)
	list := make([]types.PendingApproval, 0, len(approvals))
	for _, approval := range approvals {
		list = append(list, toPendingApproval(approval))
	}
	return list
}

// ChatStream 流式对话（返回 channel）
// 先完成整轮对话，再按词发送回复；ctx 结束后停止发送
func (a *Agent) ChatStream(ctx context.Context, req types.ChatRequest) (<-chan StreamResponse, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}

	ch := make(chan StreamResponse, 16)
	go func() {
		defer close(ch)

		send := func(chunk StreamResponse) bool {
			select {
			case ch <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		resp, err := a.Chat(ctx, req)
		if err != nil {
			send(StreamResponse{Error: err.Error(), Done: true})
			return
		}

		for _, word := range strings.SplitAfter(resp.Reply, " ") {
			if !send(StreamResponse{Content: word}) {
				return
			}
		}

		send(StreamResponse{
			SessionID:        resp.SessionID,
			FunctionCalls:    resp.FunctionCalls,
			PendingApprovals: resp.PendingApprovals,
			Done:             true,
		})
	}()

	return ch, nil
}

// StreamResponse 流式响应
type StreamResponse struct {
	SessionID        string                  `json:"session_id,omitempty"`
	Content          string                  `json:"content,omitempty"`
	FunctionCalls    []types.FunctionCall    `json:"function_calls,omitempty"`
	PendingApprovals []types.PendingApproval `json:"pending_approvals,omitempty"`
	Error            string                  `json:"error,omitempty"`
	Done             bool                    `json:"done"`
}

// sessionContext 把会话 ID、渠道和追踪 ID 放入 context
func (a *Agent) sessionContext(ctx context.Context, session *Session) context.Context {
	ctx = WithSessionID(ctx, session.ID)
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, uuid.NewString())
	}

	session.mu.RLock()
	channel := session.Channel
	session.mu.RUnlock()
	if channel != nil && types.ChannelFromContext(ctx) == nil {
		ctx = types.WithChannel(ctx, channel)
	}
	return ctx
}

// GetSession 获取会话
func (a *Agent) GetSession(id string) *Session {
	return a.sessionManager.Get(id)
}

// DeleteSession 删除会话
func (a *Agent) DeleteSession(id string) bool {
	return a.sessionManager.Delete(id)
}

// ListSessions 列出所有会话摘要
func (a *Agent) ListSessions() []SessionInfo {
	return a.sessionManager.Infos()
}

// CleanExpiredSessions 清理空闲超时的会话
func (a *Agent) CleanExpiredSessions() int {
	return a.sessionManager.CleanExpired()
}

// GetRegistry 获取函数注册表
func (a *Agent) GetRegistry() *function.Registry {
	return a.registry
}

// GetExecutor 获取函数执行器
func (a *Agent) GetExecutor() *function.Executor {
	return a.executor
}

// IsNotFound 判断错误是否表示确认记录不存在
func IsNotFound(err error) bool {
	return errors.Is(err, function.ErrApprovalNotFound)
}

// ErrEmptyMessage 消息为空
var ErrEmptyMessage = errors.New("message is required")

// generateSessionID 生成会话 ID
func generateSessionID() string {
	return "session_" + uuid.NewString()
}

var _ types.Agent = (*Agent)(nil)
