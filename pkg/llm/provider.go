// Package llm 提供 LLM 适配层接口和实现
package llm

import (
	"context"
	"encoding/json"
)

// Provider LLM 提供商接口
// 所有 LLM 实现（OpenAI 兼容接口等）都需要实现此接口
type Provider interface {
	// Chat 发送对话请求
	// messages 是对话历史，tools 是可供模型调用的工具清单
	// 返回模型的文本回复或工具调用请求
	Chat(ctx context.Context, messages []Message, tools []Tool) (*Reply, error)

	// Name 返回提供商名称
	Name() string
}

// Message 对话消息
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // assistant 消息中的工具调用
	ToolCallID string     `json:"tool_call_id,omitempty"` // tool 消息对应的调用 ID
}

// Role 消息角色
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Tool 提供给模型的工具描述
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// ToolCall 模型请求的一次工具调用
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Reply 模型的一次回复
type Reply struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

// HasToolCalls 是否包含工具调用
func (r *Reply) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// Config LLM 通用配置
type Config struct {
	// Provider 提供商类型：openai, azure, custom
	Provider string `mapstructure:"provider" validate:"required,oneof=openai azure custom"`

	// APIKey API 密钥，支持 ${ENV_NAME} 形式引用环境变量
	APIKey string `mapstructure:"api_key" validate:"required"`

	// BaseURL API 基础 URL（用于自定义 endpoint）
	BaseURL string `mapstructure:"base_url" validate:"omitempty,url"`

	// Model 模型名称
	Model string `mapstructure:"model" validate:"required"`

	// Timeout 请求超时时间（秒）
	Timeout int `mapstructure:"timeout" validate:"gte=0"`

	// MaxTokens 最大 Token 数
	MaxTokens int `mapstructure:"max_tokens" validate:"gte=0"`

	// Temperature 温度参数（0-2）
	Temperature float64 `mapstructure:"temperature" validate:"gte=0,lte=2"`
}

// Usage Token 使用统计
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
