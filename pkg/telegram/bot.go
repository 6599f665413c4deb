package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/KodaTao/WritingAgent/pkg/function"
	"github.com/KodaTao/WritingAgent/pkg/types"
)

// errorReply 对话失败时发给用户的提示
const errorReply = "Sorry, something went wrong while handling your message. Please try again later."

// Bot Telegram Bot 封装
type Bot struct {
	api          botAPI
	self         tgbotapi.User
	config       Config
	sessionStore *SessionStore
	sender       *Sender
	agent        types.Agent
	logger       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBot 创建 Telegram Bot
func NewBot(config Config, agent types.Agent, logger *slog.Logger) (*Bot, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	api, err := tgbotapi.NewBotAPI(config.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	logger.Info("telegram bot created", "username", api.Self.UserName)
	return newBot(api, api.Self, config, agent, logger), nil
}

// newBot 使用给定的 API 创建 Bot
func newBot(api botAPI, self tgbotapi.User, config Config, agent types.Agent, logger *slog.Logger) *Bot {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bot{
		api:          api,
		self:         self,
		config:       config,
		sessionStore: NewSessionStore(config.SessionTTL),
		sender:       NewSender(api, logger),
		agent:        agent,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start 启动 Bot，开始接收消息和按钮回调
func (b *Bot) Start() {
	b.logger.Info("starting telegram bot")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.config.PollingTimeout
	if u.Timeout <= 0 {
		u.Timeout = 60
	}

	updates := b.api.GetUpdatesChan(u)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-b.ctx.Done():
				b.logger.Info("telegram bot stopped")
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				b.dispatch(update)
			}
		}
	}()

	b.logger.Info("telegram bot started")
}

// dispatch 分发一条更新，每条消息在独立的 goroutine 中处理
func (b *Bot) dispatch(update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.spawn(func() { b.handleCallback(update.CallbackQuery) })
	case update.Message != nil:
		msg := update.Message
		if msg.Chat != nil && (msg.Chat.IsGroup() || msg.Chat.IsSuperGroup() || msg.Chat.IsChannel()) {
			// 群聊必须 @ 才生效
			mention := "@" + b.self.UserName
			if !strings.Contains(msg.Text, mention) {
				return
			}
			msg.Text = strings.TrimSpace(strings.ReplaceAll(msg.Text, mention, ""))
		}
		b.spawn(func() { b.handleMessage(msg) })
	}
}

func (b *Bot) spawn(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}

// Stop 停止 Bot，等待处理中的消息结束
func (b *Bot) Stop() {
	b.logger.Info("stopping telegram bot")
	b.cancel()
	b.api.StopReceivingUpdates()
	b.sessionStore.Close()
	b.wg.Wait()
}

// handleMessage 处理收到的消息
func (b *Bot) handleMessage(msg *tgbotapi.Message) {
	// 忽略非文本消息
	if msg.Text == "" || msg.Chat == nil {
		return
	}

	chatID := msg.Chat.ID
	userMsgID := msg.MessageID

	from := ""
	if msg.From != nil {
		from = msg.From.UserName
	}
	b.logger.Info("received message",
		"chat_id", chatID,
		"message_id", userMsgID,
		"from", from,
		"text", truncateText(msg.Text, 50),
	)

	sessionID := b.resolveSession(msg)

	resp, err := b.agent.Chat(b.ctx, types.ChatRequest{
		SessionID: sessionID,
		Message:   msg.Text,
		Channel: &types.ChannelContext{
			Type:   ChannelType,
			ChatID: formatChatID(chatID),
		},
	})
	if err != nil {
		b.logger.Error("agent chat failed",
			"chat_id", chatID,
			"session_id", sessionID,
			"error", err,
		)
		_, _ = b.sender.SendReply(chatID, userMsgID, errorReply)
		return
	}

	// 同时记录用户消息 ID 的映射
	b.sessionStore.Set(chatID, userMsgID, resp.SessionID)

	// 发送回复（reply 用户的消息）
	if resp.Reply != "" {
		botMsgID, err := b.sender.SendReply(chatID, userMsgID, resp.Reply)
		if err != nil {
			b.logger.Error("failed to send reply", "chat_id", chatID, "error", err)
		} else {
			b.sessionStore.Set(chatID, botMsgID, resp.SessionID)
		}
	}

	// 每个待确认调用单独一条带按钮的消息
	for _, approval := range resp.PendingApprovals {
		approvalMsgID, err := b.sender.SendApproval(chatID, userMsgID, approval)
		if err != nil {
			continue
		}
		b.sessionStore.Set(chatID, approvalMsgID, resp.SessionID)
	}

	b.logger.Info("message handled",
		"chat_id", chatID,
		"session_id", resp.SessionID,
		"user_msg_id", userMsgID,
		"function_calls", len(resp.FunctionCalls),
		"pending_approvals", len(resp.PendingApprovals),
	)
}

// resolveSession 确定消息所属的 session
// reply Bot 的消息时沿用原会话，否则创建新会话
func (b *Bot) resolveSession(msg *tgbotapi.Message) string {
	chatID := msg.Chat.ID
	reply := msg.ReplyToMessage
	if reply != nil && reply.From != nil && reply.From.ID == b.self.ID {
		if sessionID := b.sessionStore.Get(chatID, reply.MessageID); sessionID != "" {
			b.logger.Debug("found session from reply",
				"chat_id", chatID,
				"session_id", sessionID,
				"reply_to", reply.MessageID,
			)
			return sessionID
		}
		b.logger.Debug("session not found for reply, creating new session",
			"chat_id", chatID,
			"reply_to", reply.MessageID,
		)
	}
	return GenerateSessionID(chatID)
}

// handleCallback 处理确认按钮
func (b *Bot) handleCallback(q *tgbotapi.CallbackQuery) {
	approvalID, approved, ok := parseApprovalData(q.Data)
	if !ok {
		_ = b.sender.AnswerCallback(q.ID, "Unknown action")
		return
	}

	var chatID int64
	var msgID int
	if q.Message != nil && q.Message.Chat != nil {
		chatID = q.Message.Chat.ID
		msgID = q.Message.MessageID
		if err := b.sender.ClearKeyboard(chatID, msgID); err != nil {
			b.logger.Warn("failed to clear approval keyboard", "chat_id", chatID, "error", err)
		}
	}

	resp, err := b.agent.ResolveApproval(b.ctx, approvalID, approved)
	if err != nil {
		b.logger.Warn("failed to resolve approval",
			"approval_id", approvalID,
			"error", err,
		)
		text := "Could not process this request."
		if errors.Is(err, function.ErrApprovalNotFound) {
			text = "This request is no longer pending."
		}
		_ = b.sender.AnswerCallback(q.ID, text)
		return
	}

	toast := "Denied"
	if approved {
		toast = "Approved"
	}
	_ = b.sender.AnswerCallback(q.ID, toast)

	if chatID != 0 {
		text := fmt.Sprintf("%s: %s\n%s", resp.Call.Name, resp.Call.Status, resp.Call.Result)
		if sent, err := b.sender.SendReply(chatID, msgID, text); err == nil {
			b.sessionStore.Set(chatID, sent, resp.SessionID)
		}
	}

	b.logger.Info("approval handled",
		"approval_id", approvalID,
		"approved", approved,
		"session_id", resp.SessionID,
		"status", resp.Call.Status,
	)
}

// GetSender 获取消息发送器（供外部使用，如任务触发通知）
func (b *Bot) GetSender() *Sender {
	return b.sender
}

// truncateText 截断文本（用于日志）
func truncateText(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen]) + "..."
}

func formatChatID(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}
