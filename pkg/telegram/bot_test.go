package telegram

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KodaTao/WritingAgent/pkg/function"
	"github.com/KodaTao/WritingAgent/pkg/scheduler"
	"github.com/KodaTao/WritingAgent/pkg/types"
)

// fakeAPI 记录发送内容的 Telegram API
type fakeAPI struct {
	mu           sync.Mutex
	sent         []tgbotapi.MessageConfig
	requests     []tgbotapi.Chattable
	nextID       int
	failMarkdown bool
	updates      chan tgbotapi.Update
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{nextID: 100, updates: make(chan tgbotapi.Update, 8)}
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := c.(tgbotapi.MessageConfig)
	if !ok {
		return tgbotapi.Message{}, errors.New("unexpected chattable")
	}
	if f.failMarkdown && msg.ParseMode != "" {
		return tgbotapi.Message{}, errors.New("Bad Request: can't parse entities")
	}
	f.sent = append(f.sent, msg)
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {}

func (f *fakeAPI) messages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.MessageConfig(nil), f.sent...)
}

// fakeAgent 可配置回复的 Agent
type fakeAgent struct {
	mu         sync.Mutex
	requests   []types.ChatRequest
	resp       *types.ChatResponse
	chatErr    error
	resolved   map[string]bool
	resolveErr error
}

func (a *fakeAgent) Chat(ctx context.Context, req types.ChatRequest) (*types.ChatResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, req)
	if a.chatErr != nil {
		return nil, a.chatErr
	}
	resp := *a.resp
	resp.SessionID = req.SessionID
	return &resp, nil
}

func (a *fakeAgent) ResolveApproval(ctx context.Context, id string, approved bool) (*types.ApprovalResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.resolveErr != nil {
		return nil, a.resolveErr
	}
	if a.resolved == nil {
		a.resolved = make(map[string]bool)
	}
	a.resolved[id] = approved
	return &types.ApprovalResponse{
		SessionID: "s1",
		Call:      types.FunctionCall{Name: "cancel_scheduled_task", Status: "completed", Result: "Task t1 has been successfully canceled"},
	}, nil
}

func testBot(api *fakeAPI, agent *fakeAgent) *Bot {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	self := tgbotapi.User{ID: 42, UserName: "writer_bot", IsBot: true}
	return newBot(api, self, Config{Enabled: true, Token: "x", SessionTTL: time.Hour}, agent, logger)
}

func privateMessage(id int, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: id,
		Text:      text,
		Chat:      &tgbotapi.Chat{ID: 7, Type: "private"},
		From:      &tgbotapi.User{ID: 1, UserName: "alice"},
	}
}

func TestHandleMessage_ReplyAndSession(t *testing.T) {
	api := newFakeAPI()
	agent := &fakeAgent{resp: &types.ChatResponse{Reply: "Here is a story idea."}}
	bot := testBot(api, agent)
	defer bot.Stop()

	bot.handleMessage(privateMessage(1, "give me a story idea"))

	require.Len(t, agent.requests, 1)
	req := agent.requests[0]
	assert.Equal(t, "give me a story idea", req.Message)
	assert.True(t, strings.HasPrefix(req.SessionID, "tg_7_"))
	require.NotNil(t, req.Channel)
	assert.Equal(t, ChannelType, req.Channel.Type)
	assert.Equal(t, "7", req.Channel.ChatID)

	sent := api.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "Here is a story idea.", sent[0].Text)
	assert.Equal(t, 1, sent[0].ReplyToMessageID)

	// reply Bot 的消息沿用原会话
	follow := privateMessage(2, "make it darker")
	follow.ReplyToMessage = &tgbotapi.Message{MessageID: 101, From: &tgbotapi.User{ID: 42}}
	bot.handleMessage(follow)

	require.Len(t, agent.requests, 2)
	assert.Equal(t, req.SessionID, agent.requests[1].SessionID)
}

func TestHandleMessage_PendingApprovalKeyboard(t *testing.T) {
	api := newFakeAPI()
	agent := &fakeAgent{resp: &types.ChatResponse{
		Reply: "I need your confirmation first.",
		PendingApprovals: []types.PendingApproval{
			{ID: "ap-1", Tool: "cancel_scheduled_task", Arguments: `{"task_id":"t1"}`, ExpiresAt: time.Now().Add(time.Minute)},
		},
	}}
	bot := testBot(api, agent)
	defer bot.Stop()

	bot.handleMessage(privateMessage(1, "cancel my task"))

	sent := api.messages()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[1].Text, "cancel_scheduled_task")

	keyboard, ok := sent[1].ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, keyboard.InlineKeyboard, 1)
	row := keyboard.InlineKeyboard[0]
	require.Len(t, row, 2)
	assert.Equal(t, "approve:ap-1", *row[0].CallbackData)
	assert.Equal(t, "deny:ap-1", *row[1].CallbackData)

	// 按钮消息也登记了会话
	assert.NotEmpty(t, bot.sessionStore.Get(7, 102))
}

func TestHandleMessage_AgentError(t *testing.T) {
	api := newFakeAPI()
	agent := &fakeAgent{chatErr: errors.New("model unavailable")}
	bot := testBot(api, agent)
	defer bot.Stop()

	bot.handleMessage(privateMessage(1, "hello"))

	sent := api.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, errorReply, sent[0].Text)
}

func TestHandleCallback(t *testing.T) {
	api := newFakeAPI()
	agent := &fakeAgent{}
	bot := testBot(api, agent)
	defer bot.Stop()

	bot.handleCallback(&tgbotapi.CallbackQuery{
		ID:      "cb1",
		Data:    "approve:ap-1",
		Message: &tgbotapi.Message{MessageID: 55, Chat: &tgbotapi.Chat{ID: 7}},
	})

	assert.Equal(t, map[string]bool{"ap-1": true}, agent.resolved)

	sent := api.messages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "successfully canceled")
	assert.Equal(t, 55, sent[0].ReplyToMessageID)

	// 清除按钮 + 应答回调
	require.Len(t, api.requests, 2)
	_, isEdit := api.requests[0].(tgbotapi.EditMessageReplyMarkupConfig)
	assert.True(t, isEdit)
	answer, isCallback := api.requests[1].(tgbotapi.CallbackConfig)
	require.True(t, isCallback)
	assert.Equal(t, "Approved", answer.Text)
}

func TestHandleCallback_Deny(t *testing.T) {
	api := newFakeAPI()
	agent := &fakeAgent{}
	bot := testBot(api, agent)
	defer bot.Stop()

	bot.handleCallback(&tgbotapi.CallbackQuery{ID: "cb1", Data: "deny:ap-2"})
	assert.Equal(t, map[string]bool{"ap-2": false}, agent.resolved)
	assert.Empty(t, api.messages())
}

func TestHandleCallback_Errors(t *testing.T) {
	api := newFakeAPI()
	agent := &fakeAgent{resolveErr: function.ErrApprovalNotFound}
	bot := testBot(api, agent)
	defer bot.Stop()

	bot.handleCallback(&tgbotapi.CallbackQuery{ID: "cb1", Data: "approve:gone"})
	bot.handleCallback(&tgbotapi.CallbackQuery{ID: "cb2", Data: "something-else"})

	require.Len(t, api.requests, 2)
	assert.Equal(t, "This request is no longer pending.", api.requests[0].(tgbotapi.CallbackConfig).Text)
	assert.Equal(t, "Unknown action", api.requests[1].(tgbotapi.CallbackConfig).Text)
}

func TestDispatch_GroupRequiresMention(t *testing.T) {
	api := newFakeAPI()
	agent := &fakeAgent{resp: &types.ChatResponse{Reply: "ok"}}
	bot := testBot(api, agent)

	group := &tgbotapi.Chat{ID: -100, Type: "supergroup"}
	bot.dispatch(tgbotapi.Update{Message: &tgbotapi.Message{MessageID: 1, Text: "hello all", Chat: group}})
	bot.dispatch(tgbotapi.Update{Message: &tgbotapi.Message{MessageID: 2, Text: "@writer_bot a plot twist please", Chat: group}})
	bot.Stop()

	require.Len(t, agent.requests, 1)
	assert.Equal(t, "a plot twist please", agent.requests[0].Message)
}

func TestStart_ProcessesUpdates(t *testing.T) {
	api := newFakeAPI()
	agent := &fakeAgent{resp: &types.ChatResponse{Reply: "done"}}
	bot := testBot(api, agent)
	bot.Start()

	api.updates <- tgbotapi.Update{Message: privateMessage(1, "hi")}

	require.Eventually(t, func() bool {
		return len(api.messages()) == 1
	}, time.Second, 10*time.Millisecond)
	bot.Stop()
}

func TestSender_MarkdownFallback(t *testing.T) {
	api := newFakeAPI()
	api.failMarkdown = true
	sender := NewSender(api, slog.New(slog.NewTextHandler(io.Discard, nil)))

	id, err := sender.SendMessage(7, "*not closed")
	require.NoError(t, err)
	assert.Equal(t, 101, id)

	sent := api.messages()
	require.Len(t, sent, 1)
	assert.Empty(t, sent[0].ParseMode)
}

func TestSender_Notify(t *testing.T) {
	api := newFakeAPI()
	sender := NewSender(api, slog.New(slog.NewTextHandler(io.Discard, nil)))

	task := scheduler.ScheduledTask{ID: "t1", Payload: "daily writing prompt", Channel: `{"type":"telegram","chat_id":"7"}`}
	require.NoError(t, sender.Notify(context.Background(), task, "Write about a lighthouse."))

	sent := api.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, int64(7), sent[0].ChatID)
	assert.Contains(t, sent[0].Text, "daily writing prompt")
	assert.Contains(t, sent[0].Text, "Write about a lighthouse.")

	err := sender.Notify(context.Background(), scheduler.ScheduledTask{ID: "t2"}, "x")
	assert.ErrorIs(t, err, ErrNotTelegramChannel)

	err = sender.Notify(context.Background(), scheduler.ScheduledTask{ID: "t3", Channel: `{"type":"http"}`}, "x")
	assert.ErrorIs(t, err, ErrNotTelegramChannel)
}

func TestChatIDFromChannel(t *testing.T) {
	id, err := ChatIDFromChannel(&types.ChannelContext{Type: ChannelType, ChatID: "-1001"})
	require.NoError(t, err)
	assert.Equal(t, int64(-1001), id)

	_, err = ChatIDFromChannel(&types.ChannelContext{Type: ChannelType, ChatID: "abc"})
	assert.ErrorIs(t, err, ErrNotTelegramChannel)
}

func TestParseApprovalData(t *testing.T) {
	tests := []struct {
		data     string
		id       string
		approved bool
		ok       bool
	}{
		{"approve:abc", "abc", true, true},
		{"deny:abc", "abc", false, true},
		{"other", "", false, false},
	}
	for _, tt := range tests {
		id, approved, ok := parseApprovalData(tt.data)
		assert.Equal(t, tt.id, id, tt.data)
		assert.Equal(t, tt.approved, approved, tt.data)
		assert.Equal(t, tt.ok, ok, tt.data)
	}
}

func TestSessionStore(t *testing.T) {
	store := NewSessionStore(time.Hour)
	defer store.Close()

	current := time.Now()
	store.now = func() time.Time { return current }

	store.Set(7, 1, "s1")
	store.Set(8, 1, "s2")
	assert.Equal(t, "s1", store.Get(7, 1))
	assert.Equal(t, "s2", store.Get(8, 1))
	assert.Empty(t, store.Get(7, 2))

	current = current.Add(2 * time.Hour)
	assert.Empty(t, store.Get(7, 1))
	assert.Equal(t, 2, store.cleanup())
	assert.Equal(t, 0, store.Len())
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.ErrorIs(t, Config{Enabled: true}.Validate(), ErrTokenRequired)
}
