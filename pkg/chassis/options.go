// Package chassis 组装写作助手：配置、会话、对话循环和应用生命周期
package chassis

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/KodaTao/WritingAgent/pkg/llm"
)

// validate 配置校验器
var validate = validator.New(validator.WithRequiredStructEnabled())

// Config 应用配置
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	LLM           llm.Config          `mapstructure:"llm"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Log           LogConfig           `mapstructure:"log"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Telegram      TelegramConfig      `mapstructure:"telegram"`
	Agent         AgentConfig         `mapstructure:"agent"`
	Tools         ToolsConfig         `mapstructure:"tools"`
	Writing       WritingConfig       `mapstructure:"writing"`
}

// TelegramConfig Telegram Bot 配置
type TelegramConfig struct {
	// Enabled 是否启用 Telegram Bot
	Enabled bool `mapstructure:"enabled"`

	// Token Bot Token
	Token string `mapstructure:"token" validate:"required_if=Enabled true"`

	// SessionTTL Session 映射保留时间
	SessionTTL time.Duration `mapstructure:"session_ttl" validate:"gte=0"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// Host 监听地址
	Host string `mapstructure:"host"`

	// Port 监听端口
	Port int `mapstructure:"port" validate:"gte=0,lte=65535"`

	// Mode 运行模式：debug, release, test
	Mode string `mapstructure:"mode" validate:"omitempty,oneof=debug release test"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// Path 数据库文件路径，":memory:" 表示内存数据库
	Path string `mapstructure:"path" validate:"required"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level    string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format   string `mapstructure:"format" validate:"omitempty,oneof=text json"`
	Output   string `mapstructure:"output" validate:"omitempty,oneof=stdout stderr file"`
	FilePath string `mapstructure:"file_path"`
}

// ObservabilityConfig 可观测性配置
type ObservabilityConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"omitempty,startswith=/"`
}

// AgentConfig 对话循环配置
type AgentConfig struct {
	// MaxIterations 单轮对话内最多调用模型的次数
	MaxIterations int `mapstructure:"max_iterations" validate:"gte=1"`

	// Timeout 单轮对话超时
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`

	// ToolTimeout 单次工具执行超时
	ToolTimeout time.Duration `mapstructure:"tool_timeout" validate:"gte=0"`

	// MaxHistory 会话保留的最大消息数（含系统消息）
	MaxHistory int `mapstructure:"max_history" validate:"gte=2"`

	// SessionTTL 会话空闲多久后被清理
	SessionTTL time.Duration `mapstructure:"session_ttl" validate:"gte=0"`
}

// ToolsConfig 工具配置
type ToolsConfig struct {
	// RequireConfirmation 需要人工确认后才执行的工具
	RequireConfirmation []string `mapstructure:"require_confirmation" validate:"dive,required"`

	// ApprovalTTL 待确认调用的有效期，过期视为拒绝
	ApprovalTTL time.Duration `mapstructure:"approval_ttl" validate:"gte=0"`
}

// WritingConfig 模板工具配置
type WritingConfig struct {
	// Locale 数字格式使用的语言，如 en、de、zh
	Locale string `mapstructure:"locale"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Mode: "debug",
		},
		LLM: llm.DefaultConfig(),
		Database: DatabaseConfig{
			Path: "~/.writingagent/data.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: false,
				Path:    "/metrics",
			},
		},
		Telegram: TelegramConfig{
			SessionTTL: 24 * time.Hour,
		},
		Agent: DefaultAgentConfig(),
		Tools: ToolsConfig{
			RequireConfirmation: []string{},
			ApprovalTTL:         15 * time.Minute,
		},
		Writing: WritingConfig{
			Locale: "en",
		},
	}
}

// DefaultAgentConfig 返回默认对话循环配置
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		MaxIterations: 10,
		Timeout:       5 * time.Minute,
		ToolTimeout:   30 * time.Second,
		MaxHistory:    40,
		SessionTTL:    30 * time.Minute,
	}
}

// Validate 校验配置
// LLM 配置由 llm.Config.Validate 单独处理，以便解析 ${ENV} 形式的 API Key
func (c *Config) Validate() error {
	if err := c.validateBase(); err != nil {
		return err
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// validateBase 校验除 LLM 以外的配置
func (c *Config) validateBase() error {
	if err := validate.StructExcept(c, "LLM"); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed on %q", ErrInvalidConfig, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// ErrInvalidConfig 配置不合法
var ErrInvalidConfig = errors.New("invalid config")

// Option 配置选项函数
type Option func(*Config)

// WithConfig 整体替换配置
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		*c = cfg
	}
}

// WithServerPort 设置服务器端口
func WithServerPort(port int) Option {
	return func(c *Config) {
		c.Server.Port = port
	}
}

// WithServerMode 设置运行模式
func WithServerMode(mode string) Option {
	return func(c *Config) {
		c.Server.Mode = mode
	}
}

// WithLLMConfig 设置 LLM 配置
func WithLLMConfig(cfg llm.Config) Option {
	return func(c *Config) {
		c.LLM = cfg
	}
}

// WithLogLevel 设置日志级别
func WithLogLevel(level string) Option {
	return func(c *Config) {
		c.Log.Level = level
	}
}

// WithDatabasePath 设置数据库路径
func WithDatabasePath(path string) Option {
	return func(c *Config) {
		c.Database.Path = path
	}
}

// WithTelegram 设置 Telegram 配置
func WithTelegram(t TelegramConfig) Option {
	return func(c *Config) {
		c.Telegram = t
	}
}

// WithRequireConfirmation 设置需要人工确认的工具
func WithRequireConfirmation(names ...string) Option {
	return func(c *Config) {
		c.Tools.RequireConfirmation = names
	}
}

// WithLocale 设置模板工具的语言
func WithLocale(locale string) Option {
	return func(c *Config) {
		c.Writing.Locale = locale
	}
}
