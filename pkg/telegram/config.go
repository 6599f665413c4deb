// Package telegram 提供 Telegram Bot 接入：对话、确认按钮和定时任务通知
package telegram

import "time"

// Config Telegram Bot 配置
type Config struct {
	Enabled        bool          `mapstructure:"enabled"`         // 是否启用 Telegram Bot
	Token          string        `mapstructure:"token"`           // Bot Token
	SessionTTL     time.Duration `mapstructure:"session_ttl"`     // Session 映射保留时间
	PollingTimeout int           `mapstructure:"polling_timeout"` // 长轮询超时（秒）
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Enabled:        false,
		Token:          "",
		SessionTTL:     24 * time.Hour,
		PollingTimeout: 60,
	}
}

// Validate 验证配置
func (c Config) Validate() error {
	if c.Enabled && c.Token == "" {
		return ErrTokenRequired
	}
	return nil
}
