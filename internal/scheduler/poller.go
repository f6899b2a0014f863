// Package scheduler 定时检查用户的活跃邮箱并推送新邮件通知。
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailninja/backend/internal/domain"
	"mailninja/backend/internal/monitoring"
	"mailninja/backend/internal/notify"
	"mailninja/backend/internal/storage"
)

// TickStatus 单次轮询的结果
type TickStatus string

const (
	// StatusBusy 同一用户的上一次轮询尚未结束
	StatusBusy TickStatus = "busy"
	// StatusLeased 其他实例正在轮询该用户
	StatusLeased TickStatus = "leased"
	// StatusIdle 用户没有活跃邮箱
	StatusIdle TickStatus = "idle"
	// StatusSkipped 提供方出错，等待下一次轮询
	StatusSkipped TickStatus = "skipped"
	// StatusPolled 完成轮询
	StatusPolled TickStatus = "polled"
	// StatusFailed 存储出错
	StatusFailed TickStatus = "failed"
)

// TickResult 单次轮询的统计
type TickResult struct {
	Status       TickStatus
	Address      string
	Listed       int
	Delivered    int
	NotifyFailed int
}

// MailboxSource 轮询需要的邮箱操作，由 service.MailboxService 实现。
// ListMessages 在令牌被拒绝时会强制刷新并重试一次。
type MailboxSource interface {
	GetActive(ctx context.Context, userID int64) (*domain.Mailbox, error)
	ListMessages(ctx context.Context, mailbox *domain.Mailbox) ([]domain.MessageSummary, error)
}

// Lease 跨实例的用户级互斥，未获取到时 acquired 为 false
type Lease interface {
	Acquire(ctx context.Context, userID int64) (release func(), acquired bool, err error)
}

// Poller 执行单个用户的一次轮询。
//
// 每封邮件先写入已读账本，写入成功（首次出现）后才发送通知；通知失败不会重发。
// 因此即使重启或多实例并发，每封邮件至多通知一次。
type Poller struct {
	mailboxes MailboxSource
	ledger    storage.SeenLedger
	notifier  notify.Notifier
	lease     Lease
	metrics   *monitoring.Metrics
	log       *zap.Logger

	mu   sync.Mutex
	busy map[int64]struct{}
}

// NewPoller 创建轮询器
func NewPoller(mailboxes MailboxSource, ledger storage.SeenLedger, notifier notify.Notifier, log *zap.Logger) *Poller {
	if notifier == nil {
		notifier = notify.Nop
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{
		mailboxes: mailboxes,
		ledger:    ledger,
		notifier:  notifier,
		log:       log.Named("poller"),
		busy:      make(map[int64]struct{}),
	}
}

// SetLease 设置跨实例租约
func (p *Poller) SetLease(lease Lease) {
	p.lease = lease
}

// SetMetrics 设置指标收集器
func (p *Poller) SetMetrics(m *monitoring.Metrics) {
	p.metrics = m
}

func (p *Poller) begin(userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, running := p.busy[userID]; running {
		return false
	}
	p.busy[userID] = struct{}{}
	return true
}

func (p *Poller) end(userID int64) {
	p.mu.Lock()
	delete(p.busy, userID)
	p.mu.Unlock()
}

// Tick 轮询用户的活跃邮箱。错误已在内部记录日志，返回值供调用方统计。
func (p *Poller) Tick(ctx context.Context, userID int64) (TickResult, error) {
	if !p.begin(userID) {
		return TickResult{Status: StatusBusy}, nil
	}
	defer p.end(userID)

	started := time.Now()
	result, err := p.tick(ctx, userID)
	p.metrics.RecordPollTick(string(result.Status), time.Since(started))
	return result, err
}

func (p *Poller) tick(ctx context.Context, userID int64) (TickResult, error) {
	if p.lease != nil {
		release, acquired, err := p.lease.Acquire(ctx, userID)
		switch {
		case err != nil:
			// 账本保证至多一次，租约不可用时继续轮询
			p.log.Warn("poll lease unavailable", zap.Int64("user_id", userID), zap.Error(err))
		case !acquired:
			return TickResult{Status: StatusLeased}, nil
		default:
			defer release()
		}
	}

	mailbox, err := p.mailboxes.GetActive(ctx, userID)
	if err != nil {
		p.log.Error("failed to load active mailbox", zap.Int64("user_id", userID), zap.Error(err))
		return TickResult{Status: StatusFailed}, err
	}
	if mailbox == nil {
		return TickResult{Status: StatusIdle}, nil
	}

	result := TickResult{Status: StatusPolled, Address: mailbox.Address}
	log := p.log.With(zap.Int64("user_id", userID), zap.String("address", mailbox.Address))

	messages, err := p.mailboxes.ListMessages(ctx, mailbox)
	if err != nil {
		result.Status = StatusSkipped
		if domain.IsTransient(err) {
			log.Debug("transient provider error, will retry next tick", zap.Error(err))
		} else {
			log.Warn("provider error, skipping tick", zap.Error(err))
		}
		return result, err
	}
	result.Listed = len(messages)

	// 按提供方返回的顺序处理
	for _, msg := range messages {
		inserted, err := p.ledger.MarkSeen(ctx, mailbox.Address, msg.ID)
		if err != nil {
			log.Error("failed to record seen message", zap.String("message_id", msg.ID), zap.Error(err))
			result.Status = StatusFailed
			return result, err
		}
		if !inserted {
			continue
		}

		n := domain.Notification{
			ID:        uuid.NewString(),
			UserID:    userID,
			MailboxID: mailbox.ID,
			Address:   mailbox.Address,
			MessageID: msg.ID,
			Sender:    msg.From,
			Subject:   msg.Subject,
			Preview:   msg.Preview,
			At:        time.Now().UTC(),
		}
		if err := p.notifier.Notify(ctx, n); err != nil {
			result.NotifyFailed++
			p.metrics.RecordNotification(false)
			log.Warn("failed to deliver notification", zap.String("message_id", msg.ID), zap.Error(err))
			continue
		}
		result.Delivered++
		p.metrics.RecordNotification(true)
	}

	if result.Delivered > 0 || result.NotifyFailed > 0 {
		log.Info("new messages",
			zap.Int("delivered", result.Delivered),
			zap.Int("failed", result.NotifyFailed))
	}
	return result, nil
}
