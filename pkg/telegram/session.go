package telegram

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// sessionEntry 会话条目
type sessionEntry struct {
	sessionID string
	createdAt time.Time
}

// messageKey 一条 Telegram 消息
type messageKey struct {
	chatID int64
	msgID  int
}

// SessionStore 存储 message_id 到 session_id 的映射
// 用户 reply 某条消息时沿用该消息所属的会话；确认按钮消息也登记在这里
type SessionStore struct {
	mu      sync.RWMutex
	entries map[messageKey]sessionEntry
	ttl     time.Duration
	now     func() time.Time

	stop chan struct{}
	once sync.Once
}

// NewSessionStore 创建 SessionStore 并启动定期清理
func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	store := &SessionStore{
		entries: make(map[messageKey]sessionEntry),
		ttl:     ttl,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go store.cleanupLoop(time.Hour)
	return store
}

// Set 记录映射关系
func (s *SessionStore) Set(chatID int64, msgID int, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[messageKey{chatID, msgID}] = sessionEntry{
		sessionID: sessionID,
		createdAt: s.now(),
	}
}

// Get 查找 session_id，找不到或已过期时返回空字符串
func (s *SessionStore) Get(chatID int64, msgID int) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[messageKey{chatID, msgID}]
	if !ok || s.now().Sub(entry.createdAt) > s.ttl {
		return ""
	}
	return entry.sessionID
}

// Len 当前映射数量
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close 停止定期清理
func (s *SessionStore) Close() {
	s.once.Do(func() { close(s.stop) })
}

// GenerateSessionID 生成新的 session ID
func GenerateSessionID(chatID int64) string {
	return "tg_" + formatChatID(chatID) + "_" + uuid.NewString()
}

// cleanupLoop 定期清理过期的映射
func (s *SessionStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup 清理过期映射，返回清理数量
func (s *SessionStore) cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, entry := range s.entries {
		if now.Sub(entry.createdAt) > s.ttl {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}
