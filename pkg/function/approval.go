// Package function 提供 Function 接口定义和相关类型
package function

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KodaTao/WritingAgent/pkg/observability"
)

// ApprovalStatus 确认状态
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
	ApprovalExpired  ApprovalStatus = "expired"
)

// Approval 一次等待人工确认的工具调用
type Approval struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	CallID    string          `json:"call_id"`
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
	Status    ApprovalStatus  `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// ApprovalStore 保存等待确认的调用
// 超过 TTL 未处理的调用视为拒绝
type ApprovalStore struct {
	mu    sync.Mutex
	items map[string]*Approval
	ttl   time.Duration
	now   func() time.Time
}

// NewApprovalStore 创建确认存储
func NewApprovalStore(ttl time.Duration) *ApprovalStore {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &ApprovalStore{
		items: make(map[string]*Approval),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Add 登记一次等待确认的调用
func (s *ApprovalStore) Add(req ExecuteRequest) *Approval {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	a := &Approval{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		CallID:    req.CallID,
		Tool:      req.FunctionName,
		Arguments: append(json.RawMessage(nil), req.Arguments...),
		Status:    ApprovalPending,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	s.items[a.ID] = a
	observability.PendingApprovals.Inc()
	return a
}

// Get 获取确认记录
func (s *ApprovalStore) Get(id string) (Approval, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.items[id]
	if !ok {
		return Approval{}, false
	}
	return *a, true
}

// Pending 列出未过期的待确认调用，sessionID 为空时返回全部
func (s *ApprovalStore) Pending(sessionID string) []Approval {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var list []Approval
	for _, a := range s.items {
		if a.Status != ApprovalPending || now.After(a.ExpiresAt) {
			continue
		}
		if sessionID != "" && a.SessionID != sessionID {
			continue
		}
		list = append(list, *a)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list
}

// Take 取出待确认调用并标记最终状态
// 已过期的记录返回 ErrApprovalExpired
func (s *ApprovalStore) Take(id string, approved bool) (Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.items[id]
	if !ok {
		return Approval{}, ErrApprovalNotFound
	}
	delete(s.items, id)
	observability.PendingApprovals.Dec()

	switch {
	case s.now().After(a.ExpiresAt):
		a.Status = ApprovalExpired
		return *a, ErrApprovalExpired
	case approved:
		a.Status = ApprovalApproved
	default:
		a.Status = ApprovalDenied
	}
	return *a, nil
}

// Expire 清理过期的待确认调用，返回清理数量
func (s *ApprovalStore) Expire() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	count := 0
	for id, a := range s.items {
		if now.After(a.ExpiresAt) {
			delete(s.items, id)
			observability.PendingApprovals.Dec()
			count++
		}
	}
	return count
}

// 错误定义
var (
	ErrApprovalNotFound = errors.New("approval not found")
	ErrApprovalExpired  = errors.New("approval expired")
)
