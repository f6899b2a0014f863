package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailninja/backend/internal/config"
	"mailninja/backend/internal/domain"
	"mailninja/backend/internal/monitoring"
	"mailninja/backend/internal/provider"
	"mailninja/backend/internal/security"
	"mailninja/backend/internal/storage"
)

// MailboxStore 邮箱服务依赖的存储能力
type MailboxStore interface {
	storage.UserRepository
	storage.MailboxRepository
}

// MailboxService 管理聊天用户的邮箱生命周期。
//
// 所有写操作都先落库再返回，调用方拿到的状态一定已经持久化。
type MailboxService struct {
	store     MailboxStore
	providers *provider.Registry
	sealer    *security.Sealer
	cfg       *config.Config
	metrics   *monitoring.Metrics
	log       *zap.Logger
	now       func() time.Time
}

// NewMailboxService 创建邮箱业务服务。
func NewMailboxService(store MailboxStore, providers *provider.Registry, sealer *security.Sealer, cfg *config.Config, log *zap.Logger) *MailboxService {
	if log == nil {
		log = zap.NewNop()
	}
	if sealer == nil {
		sealer = security.NewSealer("")
	}
	return &MailboxService{
		store:     store,
		providers: providers,
		sealer:    sealer,
		cfg:       cfg,
		log:       log.Named("mailbox"),
		now:       time.Now,
	}
}

// SetMetrics 设置指标收集器
func (s *MailboxService) SetMetrics(m *monitoring.Metrics) {
	s.metrics = m
}

// EnsureUser 首次出现的用户创建默认设置
func (s *MailboxService) EnsureUser(ctx context.Context, userID int64) error {
	if err := domain.ValidateUserID(userID); err != nil {
		return err
	}
	return s.store.EnsureUser(ctx, userID, defaultIntervalSeconds(s.cfg))
}

// CreateMailbox 向提供方申请新邮箱并设为用户的活跃邮箱。
//
// 先调用提供方再写库，提供方失败时不会留下任何记录。超出容量时按
// domain.PlanCapacity 清理旧邮箱，清理只记日志，不作为错误返回。
func (s *MailboxService) CreateMailbox(ctx context.Context, userID int64, providerName string) (*domain.Mailbox, error) {
	client, err := s.providers.Get(domain.ProviderName(providerName))
	if err != nil {
		return nil, err
	}
	if err := s.EnsureUser(ctx, userID); err != nil {
		return nil, err
	}

	account, err := client.CreateAccount(ctx)
	if err != nil {
		return nil, err
	}

	token := account.Token
	if token == nil && account.Secret != nil {
		// 令牌获取失败不影响创建，首次使用时再取
		if t, err := client.ObtainToken(ctx, account.Address, *account.Secret); err != nil {
			s.log.Warn("failed to obtain initial token",
				zap.String("provider", string(client.Name())),
				zap.String("address", account.Address),
				zap.Error(err))
		} else {
			token = &t
		}
	}

	secret, err := s.sealer.SealPtr(account.Secret)
	if err != nil {
		return nil, fmt.Errorf("seal secret: %w", err)
	}

	now := s.now().UTC()
	mailbox := &domain.Mailbox{
		ID:        uuid.NewString(),
		UserID:    userID,
		Provider:  client.Name(),
		Address:   account.Address,
		Login:     account.Login,
		Domain:    account.Domain,
		Secret:    secret,
		Token:     token,
		Active:    true,
		CreatedAt: now,
	}
	if s.cfg != nil && s.cfg.Mailbox.TTL > 0 {
		expires := now.Add(s.cfg.Mailbox.TTL)
		mailbox.ExpiresAt = &expires
	}

	plan, err := s.store.CreateMailbox(ctx, mailbox, s.planCapacity)
	if err != nil {
		return nil, fmt.Errorf("save mailbox: %w", err)
	}

	if plan.Evicted() {
		s.log.Info("mailbox limit reached, evicted older mailboxes",
			zap.Int64("user_id", userID),
			zap.Strings("deleted", plan.Delete),
			zap.Strings("deactivated", plan.Deactivate),
			zap.Error(domain.ErrCapacityExceeded))
	}
	s.metrics.RecordMailboxCreated(string(mailbox.Provider), len(plan.Delete)+len(plan.Deactivate))

	s.log.Info("mailbox created",
		zap.Int64("user_id", userID),
		zap.String("provider", string(mailbox.Provider)),
		zap.String("address", mailbox.Address))

	return mailbox, nil
}

// planCapacity 在存储事务内计算容量清理计划
func (s *MailboxService) planCapacity(existing []domain.Mailbox) domain.CapacityPlan {
	limit := 0
	if s.cfg != nil {
		limit = s.cfg.Mailbox.MaxPerUser
	}
	return domain.PlanCapacity(existing, limit)
}

// SwitchActive 把指定邮箱设为活跃邮箱，邮箱不属于该用户时返回 domain.ErrNotFound
func (s *MailboxService) SwitchActive(ctx context.Context, userID int64, mailboxID string) error {
	if err := domain.ValidateMailboxID(mailboxID); err != nil {
		return storage.ErrMailboxNotFound
	}
	return s.store.ActivateMailbox(ctx, userID, mailboxID)
}

// DeleteMailbox 删除邮箱及其已读记录。删除活跃邮箱后用户没有活跃邮箱，不会自动选择替代者。
func (s *MailboxService) DeleteMailbox(ctx context.Context, userID int64, mailboxID string) error {
	if err := domain.ValidateMailboxID(mailboxID); err != nil {
		return storage.ErrMailboxNotFound
	}
	if err := s.store.DeleteMailbox(ctx, userID, mailboxID); err != nil {
		return err
	}
	s.metrics.RecordMailboxDeleted()
	return nil
}

// GetActive 返回活跃邮箱，没有时返回 nil, nil
func (s *MailboxService) GetActive(ctx context.Context, userID int64) (*domain.Mailbox, error) {
	mailbox, err := s.store.GetActiveMailbox(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return mailbox, err
}

// ListMailboxes 按创建时间倒序返回用户的邮箱
func (s *MailboxService) ListMailboxes(ctx context.Context, userID int64) ([]domain.Mailbox, error) {
	return s.store.ListMailboxesByUser(ctx, userID)
}

// EnsureToken 返回可用的提供方令牌。
//
// force 为 false 时优先使用缓存；否则重新登录并持久化新令牌。并发刷新时以最后写入为准。
func (s *MailboxService) EnsureToken(ctx context.Context, mailbox *domain.Mailbox, force bool) (string, error) {
	if !force && mailbox.HasToken() {
		return *mailbox.Token, nil
	}

	client, err := s.providers.Get(mailbox.Provider)
	if err != nil {
		return "", err
	}

	secret, err := s.sealer.Open(deref(mailbox.Secret))
	if err != nil {
		return "", fmt.Errorf("open secret of %s: %w", mailbox.Address, err)
	}

	token, err := client.ObtainToken(ctx, mailbox.Address, secret)
	s.metrics.RecordTokenRefresh(string(mailbox.Provider), err == nil)
	if err != nil {
		return "", err
	}

	if err := s.store.UpdateMailboxToken(ctx, mailbox.ID, &token); err != nil {
		return "", fmt.Errorf("save token: %w", err)
	}
	mailbox.Token = &token
	return token, nil
}

// WithToken 使用邮箱令牌调用提供方；令牌被拒绝时强制刷新并重试一次
func (s *MailboxService) WithToken(ctx context.Context, mailbox *domain.Mailbox, fn func(client provider.Client, token string) error) error {
	client, err := s.providers.Get(mailbox.Provider)
	if err != nil {
		return err
	}

	token, err := s.EnsureToken(ctx, mailbox, false)
	if err != nil {
		return err
	}

	err = fn(client, token)
	if !errors.Is(err, domain.ErrAuth) {
		return err
	}

	s.log.Debug("token rejected, refreshing",
		zap.String("address", mailbox.Address),
		zap.String("provider", string(mailbox.Provider)))

	token, err = s.EnsureToken(ctx, mailbox, true)
	if err != nil {
		return err
	}
	return fn(client, token)
}

// ListMessages 列出邮箱的邮件，保持提供方返回的顺序
func (s *MailboxService) ListMessages(ctx context.Context, mailbox *domain.Mailbox) ([]domain.MessageSummary, error) {
	var messages []domain.MessageSummary
	err := s.WithToken(ctx, mailbox, func(client provider.Client, token string) error {
		var err error
		messages, err = client.ListMessages(ctx, token)
		return err
	})
	return messages, err
}

// FetchMessage 获取单封邮件详情
func (s *MailboxService) FetchMessage(ctx context.Context, mailbox *domain.Mailbox, messageID string) (*domain.Message, error) {
	var message *domain.Message
	err := s.WithToken(ctx, mailbox, func(client provider.Client, token string) error {
		var err error
		message, err = client.FetchMessage(ctx, token, messageID)
		return err
	})
	return message, err
}

// CleanupExpired 删除已过期的邮箱
func (s *MailboxService) CleanupExpired(ctx context.Context) (int, error) {
	count, err := s.store.DeleteExpiredMailboxes(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	s.metrics.RecordMailboxesExpired(count)
	return count, nil
}

func defaultIntervalSeconds(cfg *config.Config) int {
	if cfg == nil || cfg.Poll.DefaultInterval <= 0 {
		return domain.DefaultIntervalSeconds
	}
	return int(cfg.Poll.DefaultInterval / time.Second)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
