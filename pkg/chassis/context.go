package chassis

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/KodaTao/WritingAgent/pkg/llm"
	"github.com/KodaTao/WritingAgent/pkg/types"
)

// Session 对话会话
// turn 保证同一会话的对话轮次串行执行，mu 保护消息列表
type Session struct {
	ID        string                `json:"id"`
	Messages  []llm.Message         `json:"messages"`
	Channel   *types.ChannelContext `json:"channel,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`

	turn sync.Mutex
	mu   sync.RWMutex
}

// SessionInfo 会话摘要，用于 API 返回
type SessionInfo struct {
	ID           string    `json:"id"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Append 追加消息
func (s *Session) Append(msgs ...llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = append(s.Messages, msgs...)
	s.UpdatedAt = time.Now()
}

// AddMessage 添加一条文本消息
func (s *Session) AddMessage(role llm.Role, content string) {
	s.Append(llm.Message{Role: role, Content: content})
}

// GetMessages 返回消息列表的副本
func (s *Session) GetMessages() []llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]llm.Message(nil), s.Messages...)
}

// Len 消息数量
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.Messages)
}

// Info 返回会话摘要
func (s *Session) Info() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionInfo{
		ID:           s.ID,
		MessageCount: len(s.Messages),
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

// Truncate 截断消息历史，保留最近的 maxMessages 条
// 始终保留第一条系统消息；截断后不以孤立的 tool 消息开头
func (s *Session) Truncate(maxMessages int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if maxMessages <= 0 || len(s.Messages) <= maxMessages {
		return
	}

	var head []llm.Message
	keep := maxMessages
	if s.Messages[0].Role == llm.RoleSystem {
		head = []llm.Message{s.Messages[0]}
		keep--
	}

	recent := s.Messages[len(s.Messages)-keep:]
	// tool 消息必须紧跟在发起调用的 assistant 消息之后
	for len(recent) > 0 && recent[0].Role == llm.RoleTool {
		recent = recent[1:]
	}
	s.Messages = append(head, recent...)
}

// Clear 清空消息历史（保留系统消息）
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.Messages) > 0 && s.Messages[0].Role == llm.RoleSystem {
		s.Messages = s.Messages[:1]
	} else {
		s.Messages = nil
	}
	s.UpdatedAt = time.Now()
}

// SessionConfig 会话配置
type SessionConfig struct {
	// MaxHistory 最大历史消息数
	MaxHistory int

	// TTL 会话过期时间
	TTL time.Duration
}

// DefaultSessionConfig 返回默认会话配置
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		MaxHistory: 40,
		TTL:        30 * time.Minute,
	}
}

// SessionManager 会话管理器
// 管理多个会话，支持并发访问
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	config   *SessionConfig
}

// NewSessionManager 创建会话管理器
func NewSessionManager(config *SessionConfig) *SessionManager {
	if config == nil {
		config = DefaultSessionConfig()
	}
	return &SessionManager{
		sessions: make(map[string]*Session),
		config:   config,
	}
}

// Get 获取会话，如果不存在则返回 nil
func (m *SessionManager) Get(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// GetOrCreate 获取或创建会话
func (m *SessionManager) GetOrCreate(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if session, ok := m.sessions[id]; ok {
		return session
	}

	now := time.Now()
	session := &Session{
		ID:        id,
		Messages:  make([]llm.Message, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.sessions[id] = session
	return session
}

// Delete 删除会话
func (m *SessionManager) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; ok {
		delete(m.sessions, id)
		return true
	}
	return false
}

// List 列出所有会话 ID（按 ID 排序）
func (m *SessionManager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Infos 列出所有会话摘要（最近活跃的在前）
func (m *SessionManager) Infos() []SessionInfo {
	m.mu.RLock()
	infos := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, s.Info())
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].UpdatedAt.After(infos[j].UpdatedAt)
	})
	return infos
}

// CleanExpired 清理过期会话
func (m *SessionManager) CleanExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config.TTL <= 0 {
		return 0
	}

	count := 0
	expireTime := time.Now().Add(-m.config.TTL)
	for id, session := range m.sessions {
		if session.Info().UpdatedAt.Before(expireTime) {
			delete(m.sessions, id)
			count++
		}
	}
	return count
}

// WithSessionID 将会话 ID 添加到 context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, types.SessionIDKey, sessionID)
}

// GetSessionID 从 context 获取会话 ID
func GetSessionID(ctx context.Context) string {
	if id, ok := ctx.Value(types.SessionIDKey).(string); ok {
		return id
	}
	return ""
}

// WithTraceID 将追踪 ID 添加到 context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, types.TraceIDKey, traceID)
}

// GetTraceID 从 context 获取追踪 ID
func GetTraceID(ctx context.Context) string {
	if id, ok := ctx.Value(types.TraceIDKey).(string); ok {
		return id
	}
	return ""
}
