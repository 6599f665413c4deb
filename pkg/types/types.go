// Package types 提供跨包共享的类型定义
package types

import (
	"context"
	"time"
)

// ContextKey 上下文键类型
type ContextKey string

const (
	// SessionIDKey 会话 ID 上下文键
	SessionIDKey ContextKey = "session_id"
	// TraceIDKey 追踪 ID 上下文键
	TraceIDKey ContextKey = "trace_id"
	// ChannelKey 渠道上下文键
	ChannelKey ContextKey = "channel"
)

// ChannelContext 渠道上下文
// 用于标识消息来源渠道，定时任务触发时也会使用此信息进行通知
type ChannelContext struct {
	Type   string            `json:"type"`              // 渠道类型: console, http, telegram
	ChatID string            `json:"chat_id,omitempty"` // 聊天ID，如 telegram chat id
	Extra  map[string]string `json:"extra,omitempty"`   // 其他扩展参数
}

// ChatRequest 对话请求
type ChatRequest struct {
	SessionID string          `json:"session_id"`
	Message   string          `json:"message" binding:"required"`
	Channel   *ChannelContext `json:"channel,omitempty"`
}

// ChatResponse 对话响应
type ChatResponse struct {
	SessionID        string            `json:"session_id"`
	Reply            string            `json:"reply"`
	FunctionCalls    []FunctionCall    `json:"function_calls,omitempty"`
	PendingApprovals []PendingApproval `json:"pending_approvals,omitempty"`
}

// FunctionCall 函数调用记录
type FunctionCall struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Status string `json:"status"` // completed, failed, rejected, pending_confirmation
	Result string `json:"result"`
}

// PendingApproval 等待人工确认的工具调用
// 由传输层（HTTP、Telegram）展示给用户
type PendingApproval struct {
	ID        string    `json:"id"`
	Tool      string    `json:"tool"`
	Arguments string    `json:"arguments"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ApprovalResponse 确认/拒绝后的结果
type ApprovalResponse struct {
	SessionID string       `json:"session_id"`
	Call      FunctionCall `json:"call"`
}

// Agent 接口定义
// 用于解耦 telegram、server 包对 chassis 包的直接依赖
type Agent interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	ResolveApproval(ctx context.Context, approvalID string, approved bool) (*ApprovalResponse, error)
}

// WithChannel 将渠道上下文放入 context
func WithChannel(ctx context.Context, ch *ChannelContext) context.Context {
	return context.WithValue(ctx, ChannelKey, ch)
}

// ChannelFromContext 从 context 中取出渠道上下文
func ChannelFromContext(ctx context.Context) *ChannelContext {
	if ch, ok := ctx.Value(ChannelKey).(*ChannelContext); ok {
		return ch
	}
	return nil
}
