package telegram

import "errors"

var (
	// ErrTokenRequired Token 未配置
	ErrTokenRequired = errors.New("telegram bot token is required")

	// ErrNotTelegramChannel 渠道不是 Telegram 聊天
	ErrNotTelegramChannel = errors.New("channel is not a telegram chat")
)
