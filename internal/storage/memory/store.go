package memory

import (
	"context"
	"sync"
	"time"

	"mailninja/backend/internal/domain"
	"mailninja/backend/internal/storage"
)

type seenKey struct {
	address   string
	messageID string
}

// Store 使用内存保存用户、邮箱与已读账本，主要用于开发验证和测试。
//
// 所有方法在同一把锁下完成，返回值均为副本。
type Store struct {
	mu        sync.RWMutex
	users     map[int64]*domain.User
	settings  map[int64]*domain.Settings
	mailboxes map[string]*domain.Mailbox
	byAddress map[string]string
	seen      map[seenKey]time.Time
	now       func() time.Time
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		users:     make(map[int64]*domain.User),
		settings:  make(map[int64]*domain.Settings),
		mailboxes: make(map[string]*domain.Mailbox),
		byAddress: make(map[string]string),
		seen:      make(map[seenKey]time.Time),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

var _ storage.Store = (*Store)(nil)

// ========== User Repository ==========

// EnsureUser 用户不存在时创建用户和默认设置
func (s *Store) EnsureUser(_ context.Context, userID int64, defaultInterval int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureUserLocked(userID, defaultInterval)
	return nil
}

func (s *Store) ensureUserLocked(userID int64, defaultInterval int) {
	now := s.now()
	if _, ok := s.users[userID]; !ok {
		s.users[userID] = &domain.User{ID: userID, CreatedAt: now}
	}
	if _, ok := s.settings[userID]; !ok {
		settings := domain.DefaultSettings(userID)
		if defaultInterval > 0 {
			settings.IntervalSeconds = defaultInterval
		}
		settings.UpdatedAt = now
		s.settings[userID] = &settings
	}
}

// GetSettings 获取用户设置
func (s *Store) GetSettings(_ context.Context, userID int64) (*domain.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settings, ok := s.settings[userID]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	clone := *settings
	return &clone, nil
}

// UpdateAutoCheck 更新自动检查开关
func (s *Store) UpdateAutoCheck(_ context.Context, userID int64, enabled bool) (*domain.Settings, error) {
	return s.updateSettings(userID, func(st *domain.Settings) { st.AutoCheck = enabled })
}

// UpdateInterval 更新轮询间隔
func (s *Store) UpdateInterval(_ context.Context, userID int64, seconds int) (*domain.Settings, error) {
	return s.updateSettings(userID, func(st *domain.Settings) { st.IntervalSeconds = seconds })
}

func (s *Store) updateSettings(userID int64, apply func(*domain.Settings)) (*domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, ok := s.settings[userID]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	apply(settings)
	settings.UpdatedAt = s.now()
	clone := *settings
	return &clone, nil
}

// ListAutoCheckSettings 返回开启自动检查的用户设置
func (s *Store) ListAutoCheckSettings(_ context.Context) ([]domain.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Settings, 0)
	for _, settings := range s.settings {
		if settings.AutoCheck {
			out = append(out, *settings)
		}
	}
	return out, nil
}

// ========== Mailbox Repository ==========

// CreateMailbox 执行容量清理后插入新的活跃邮箱
func (s *Store) CreateMailbox(_ context.Context, mailbox *domain.Mailbox, planner storage.CapacityPlanner) (domain.CapacityPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var plan domain.CapacityPlan
	if _, exists := s.byAddress[mailbox.Address]; exists {
		return plan, storage.ErrAddressExists
	}
	if _, exists := s.mailboxes[mailbox.ID]; exists {
		return plan, storage.ErrAddressExists
	}

	s.ensureUserLocked(mailbox.UserID, 0)

	if planner != nil {
		plan = planner(s.listLocked(mailbox.UserID))
	}
	for _, id := range plan.Delete {
		if mb, ok := s.mailboxes[id]; ok && mb.UserID == mailbox.UserID {
			s.deleteLocked(mb)
		}
	}
	for _, mb := range s.mailboxes {
		if mb.UserID == mailbox.UserID {
			mb.Active = false
		}
	}

	clone := *mailbox
	clone.Active = true
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = s.now()
	}
	s.mailboxes[clone.ID] = &clone
	s.byAddress[clone.Address] = clone.ID

	mailbox.Active = true
	mailbox.CreatedAt = clone.CreatedAt
	return plan, nil
}

// ActivateMailbox 把指定邮箱设为唯一活跃邮箱
func (s *Store) ActivateMailbox(_ context.Context, userID int64, mailboxID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.mailboxes[mailboxID]
	if !ok || target.UserID != userID {
		return storage.ErrMailboxNotFound
	}
	for _, mb := range s.mailboxes {
		if mb.UserID == userID {
			mb.Active = mb.ID == mailboxID
		}
	}
	return nil
}

// DeleteMailbox 删除邮箱及其已读记录
func (s *Store) DeleteMailbox(_ context.Context, userID int64, mailboxID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mb, ok := s.mailboxes[mailboxID]
	if !ok || mb.UserID != userID {
		return storage.ErrMailboxNotFound
	}
	s.deleteLocked(mb)
	return nil
}

func (s *Store) deleteLocked(mb *domain.Mailbox) {
	delete(s.mailboxes, mb.ID)
	delete(s.byAddress, mb.Address)
	for key := range s.seen {
		if key.address == mb.Address {
			delete(s.seen, key)
		}
	}
}

// GetMailbox 获取用户的指定邮箱
func (s *Store) GetMailbox(_ context.Context, userID int64, mailboxID string) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mb, ok := s.mailboxes[mailboxID]
	if !ok || mb.UserID != userID {
		return nil, storage.ErrMailboxNotFound
	}
	clone := *mb
	return &clone, nil
}

// GetActiveMailbox 获取用户的活跃邮箱
func (s *Store) GetActiveMailbox(_ context.Context, userID int64) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, mb := range s.mailboxes {
		if mb.UserID == userID && mb.Active {
			clone := *mb
			return &clone, nil
		}
	}
	return nil, storage.ErrMailboxNotFound
}

// ListMailboxesByUser 按创建时间倒序返回用户的全部邮箱
func (s *Store) ListMailboxesByUser(_ context.Context, userID int64) ([]domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.listLocked(userID)
	storage.SortNewestFirst(out)
	return out, nil
}

func (s *Store) listLocked(userID int64) []domain.Mailbox {
	out := make([]domain.Mailbox, 0)
	for _, mb := range s.mailboxes {
		if mb.UserID == userID {
			out = append(out, *mb)
		}
	}
	return out
}

// UpdateMailboxToken 更新令牌缓存
func (s *Store) UpdateMailboxToken(_ context.Context, mailboxID string, token *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mb, ok := s.mailboxes[mailboxID]
	if !ok {
		return storage.ErrMailboxNotFound
	}
	if token == nil {
		mb.Token = nil
		return nil
	}
	value := *token
	mb.Token = &value
	return nil
}

// DeleteExpiredMailboxes 删除所有过期邮箱，返回删除数量
func (s *Store) DeleteExpiredMailboxes(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, mb := range s.mailboxes {
		if mb.IsExpired(now) {
			s.deleteLocked(mb)
			count++
		}
	}
	return count, nil
}

// ========== Seen Ledger ==========

// MarkSeen 插入已读记录，已存在时返回 false
func (s *Store) MarkSeen(_ context.Context, address, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := seenKey{address: address, messageID: messageID}
	if _, ok := s.seen[key]; ok {
		return false, nil
	}
	s.seen[key] = s.now()
	return true, nil
}

// IsSeen 判断是否已处理
func (s *Store) IsSeen(_ context.Context, address, messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.seen[seenKey{address: address, messageID: messageID}]
	return ok, nil
}

// CountSeen 统计邮箱已处理的邮件数
func (s *Store) CountSeen(_ context.Context, address string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for key := range s.seen {
		if key.address == address {
			count++
		}
	}
	return count, nil
}

// Health 内存存储始终可用
func (s *Store) Health(_ context.Context) error {
	return nil
}

// Close 内存存储无需释放资源
func (s *Store) Close() error {
	return nil
}
