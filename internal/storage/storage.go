package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"mailninja/backend/internal/domain"
)

var (
	// ErrMailboxNotFound 邮箱不存在或不属于该用户
	ErrMailboxNotFound = fmt.Errorf("mailbox %w", domain.ErrNotFound)
	// ErrUserNotFound 用户不存在
	ErrUserNotFound = fmt.Errorf("user %w", domain.ErrNotFound)
	// ErrAddressExists 邮箱地址已被占用
	ErrAddressExists = errors.New("mailbox address already exists")
)

// CapacityPlanner 在创建邮箱的事务内根据用户现有邮箱给出清理计划
type CapacityPlanner func(existing []domain.Mailbox) domain.CapacityPlan

// UserRepository 定义用户与设置的数据存取操作。
type UserRepository interface {
	// EnsureUser 用户不存在时创建用户和默认设置，已存在时不做修改
	EnsureUser(ctx context.Context, userID int64, defaultInterval int) error
	GetSettings(ctx context.Context, userID int64) (*domain.Settings, error)
	// UpdateAutoCheck 只更新 auto_check 列，返回更新后的设置
	UpdateAutoCheck(ctx context.Context, userID int64, enabled bool) (*domain.Settings, error)
	// UpdateInterval 只更新 interval_seconds 列，返回更新后的设置
	UpdateInterval(ctx context.Context, userID int64, seconds int) (*domain.Settings, error)
	// ListAutoCheckSettings 返回所有开启自动检查的用户设置
	ListAutoCheckSettings(ctx context.Context) ([]domain.Settings, error)
}

// MailboxRepository 定义邮箱数据存取操作。
type MailboxRepository interface {
	// CreateMailbox 在一个事务中执行容量清理、停用其他邮箱并插入新的活跃邮箱
	CreateMailbox(ctx context.Context, mailbox *domain.Mailbox, planner CapacityPlanner) (domain.CapacityPlan, error)
	// ActivateMailbox 原子地把指定邮箱设为该用户唯一的活跃邮箱
	ActivateMailbox(ctx context.Context, userID int64, mailboxID string) error
	// DeleteMailbox 删除邮箱及其已读账本记录
	DeleteMailbox(ctx context.Context, userID int64, mailboxID string) error
	GetMailbox(ctx context.Context, userID int64, mailboxID string) (*domain.Mailbox, error)
	// GetActiveMailbox 没有活跃邮箱时返回 ErrMailboxNotFound
	GetActiveMailbox(ctx context.Context, userID int64) (*domain.Mailbox, error)
	// ListMailboxesByUser 按创建时间倒序返回
	ListMailboxesByUser(ctx context.Context, userID int64) ([]domain.Mailbox, error)
	UpdateMailboxToken(ctx context.Context, mailboxID string, token *string) error
	// DeleteExpiredMailboxes 删除过期邮箱，返回删除数量
	DeleteExpiredMailboxes(ctx context.Context, now time.Time) (int, error)
}

// SeenLedger 已处理邮件账本
type SeenLedger interface {
	// MarkSeen 原子地插入记录；已存在时返回 false
	MarkSeen(ctx context.Context, address, messageID string) (bool, error)
	IsSeen(ctx context.Context, address, messageID string) (bool, error)
	CountSeen(ctx context.Context, address string) (int, error)
}

// Store 聚合所有存储接口
type Store interface {
	UserRepository
	MailboxRepository
	SeenLedger

	Health(ctx context.Context) error
	Close() error
}

// SortNewestFirst 按创建时间倒序，时间相同时按 ID 倒序
func SortNewestFirst(items []domain.Mailbox) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}
