package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/KodaTao/WritingAgent/pkg/scheduler"
	"github.com/KodaTao/WritingAgent/pkg/types"
)

// ChannelType 渠道上下文中的 Telegram 类型标识
const ChannelType = "telegram"

// 确认按钮回调数据前缀
const (
	approvePrefix = "approve:"
	denyPrefix    = "deny:"
)

// botAPI Bot 用到的 Telegram API 子集，*tgbotapi.BotAPI 实现了该接口
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Sender 消息发送器
// 封装 Telegram Bot API 的消息发送功能
type Sender struct {
	bot    botAPI
	logger *slog.Logger
}

// NewSender 创建消息发送器
func NewSender(bot botAPI, logger *slog.Logger) *Sender {
	return &Sender{
		bot:    bot,
		logger: logger,
	}
}

// SendReply 发送回复消息（reply 指定的消息）
// 返回发送的消息 ID
func (s *Sender) SendReply(chatID int64, replyToMsgID int, text string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyToMsgID
	return s.send(msg)
}

// SendMessage 发送消息（不 reply）
// 用于任务触发时的通知
func (s *Sender) SendMessage(chatID int64, text string) (int, error) {
	return s.send(tgbotapi.NewMessage(chatID, text))
}

// SendApproval 发送待确认调用，附带确认/拒绝按钮
func (s *Sender) SendApproval(chatID int64, replyToMsgID int, approval types.PendingApproval) (int, error) {
	text := fmt.Sprintf("Confirm running %s?\nArguments: %s\nExpires at %s",
		approval.Tool, approval.Arguments, approval.ExpiresAt.Format("2006-01-02 15:04:05"))

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyToMsgID
	msg.ReplyMarkup = approvalKeyboard(approval.ID)

	sent, err := s.bot.Send(msg)
	if err != nil {
		s.logger.Error("failed to send approval prompt",
			"chat_id", chatID,
			"approval_id", approval.ID,
			"error", err,
		)
		return 0, fmt.Errorf("failed to send approval prompt: %w", err)
	}
	return sent.MessageID, nil
}

// ClearKeyboard 移除消息上的按钮，避免重复点击
func (s *Sender) ClearKeyboard(chatID int64, msgID int) error {
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, msgID, tgbotapi.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{},
	})
	_, err := s.bot.Request(edit)
	return err
}

// AnswerCallback 应答按钮回调，text 以 toast 形式展示
func (s *Sender) AnswerCallback(callbackID, text string) error {
	_, err := s.bot.Request(tgbotapi.NewCallback(callbackID, text))
	return err
}

// Notify 将定时任务结果发送到任务登记时的 Telegram 聊天
func (s *Sender) Notify(ctx context.Context, task scheduler.ScheduledTask, text string) error {
	chatID, err := ChatIDFromChannel(task.ChannelContext())
	if err != nil {
		return err
	}

	_, err = s.SendMessage(chatID, fmt.Sprintf("⏰ %s\n\n%s", task.Payload, text))
	return err
}

// send 先以 MarkdownV2 发送，解析失败时退回纯文本
func (s *Sender) send(msg tgbotapi.MessageConfig) (int, error) {
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	sent, err := s.bot.Send(msg)
	if err != nil {
		s.logger.Warn("failed to send markdown message, retrying as plain text",
			"chat_id", msg.ChatID,
			"error", err,
		)
		msg.ParseMode = ""
		sent, err = s.bot.Send(msg)
		if err != nil {
			s.logger.Error("failed to send message",
				"chat_id", msg.ChatID,
				"error", err,
			)
			return 0, fmt.Errorf("failed to send message: %w", err)
		}
	}

	s.logger.Debug("message sent",
		"chat_id", msg.ChatID,
		"message_id", sent.MessageID,
		"reply_to", msg.ReplyToMessageID,
	)
	return sent.MessageID, nil
}

// approvalKeyboard 确认/拒绝按钮
func approvalKeyboard(approvalID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Approve", approvePrefix+approvalID),
			tgbotapi.NewInlineKeyboardButtonData("❌ Deny", denyPrefix+approvalID),
		),
	)
}

// parseApprovalData 解析按钮回调数据
func parseApprovalData(data string) (id string, approved bool, ok bool) {
	switch {
	case strings.HasPrefix(data, approvePrefix):
		return strings.TrimPrefix(data, approvePrefix), true, true
	case strings.HasPrefix(data, denyPrefix):
		return strings.TrimPrefix(data, denyPrefix), false, true
	default:
		return "", false, false
	}
}

// ChatIDFromChannel 从渠道上下文解析 Telegram chat id
func ChatIDFromChannel(ch *types.ChannelContext) (int64, error) {
	if ch == nil || ch.Type != ChannelType {
		return 0, ErrNotTelegramChannel
	}
	chatID, err := strconv.ParseInt(ch.ChatID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid chat id %q", ErrNotTelegramChannel, ch.ChatID)
	}
	return chatID, nil
}

var _ scheduler.Notifier = (*Sender)(nil)
