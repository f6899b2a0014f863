package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"mailninja/backend/internal/config"
	"mailninja/backend/internal/domain"
	"mailninja/backend/internal/provider"
	"mailninja/backend/internal/security"
	"mailninja/backend/internal/storage/memory"
)

// MockProvider 模拟邮箱服务提供方
type MockProvider struct {
	mock.Mock
	name domain.ProviderName
}

func (m *MockProvider) Name() domain.ProviderName { return m.name }

func (m *MockProvider) CreateAccount(ctx context.Context) (*provider.Account, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.Account), args.Error(1)
}

func (m *MockProvider) ObtainToken(ctx context.Context, address, secret string) (string, error) {
	args := m.Called(ctx, address, secret)
	return args.String(0), args.Error(1)
}

func (m *MockProvider) ListMessages(ctx context.Context, token string) ([]domain.MessageSummary, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.MessageSummary), args.Error(1)
}

func (m *MockProvider) FetchMessage(ctx context.Context, token, id string) (*domain.Message, error) {
	args := m.Called(ctx, token, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

// MockPollController 模拟调度器
type MockPollController struct {
	mock.Mock
}

func (m *MockPollController) Enable(userID int64, interval time.Duration) { m.Called(userID, interval) }
func (m *MockPollController) Disable(userID int64)                      { m.Called(userID) }
func (m *MockPollController) Reschedule(userID int64, interval time.Duration) {
	m.Called(userID, interval)
}

// fakeClock 每次调用前进一秒，保证创建时间严格递增
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func testConfig(maxPerUser int) *config.Config {
	return &config.Config{
		Mailbox: config.MailboxConfig{MaxPerUser: maxPerUser, SecretKey: "unit-test-secret"},
		Poll: config.PollConfig{
			MinInterval:     30 * time.Second,
			DefaultInterval: 60 * time.Second,
		},
	}
}

type fixture struct {
	store    *memory.Store
	provider *MockProvider
	mailbox  *MailboxService
	inbox    *InboxService
	settings *SettingsService
	sealer   *security.Sealer
}

func newFixture(maxPerUser int) *fixture {
	cfg := testConfig(maxPerUser)
	store := memory.NewStore()
	mp := &MockProvider{name: domain.ProviderMailTm}
	sealer := security.NewSealer(cfg.Mailbox.SecretKey)

	mailboxes := NewMailboxService(store, provider.NewRegistry(domain.ProviderMailTm, mp), sealer, cfg, nil)
	mailboxes.now = newFakeClock().Now

	return &fixture{
		store:    store,
		provider: mp,
		mailbox:  mailboxes,
		inbox:    NewInboxService(mailboxes, store, nil),
		settings: NewSettingsService(store, &cfg.Poll, nil),
		sealer:   sealer,
	}
}

// expectAccount 让提供方下一次创建返回指定地址的账户
func (f *fixture) expectAccount(login string) {
	secret := "pw-" + login
	address := fmt.Sprintf("%s@mail.tm", login)
	f.provider.On("CreateAccount", mock.Anything).Return(&provider.Account{
		Address: address,
		Login:   login,
		Domain:  "mail.tm",
		Secret:  &secret,
	}, nil).Once()
	f.provider.On("ObtainToken", mock.Anything, address, secret).Return("tok-"+login, nil).Once()
}

func authError() error {
	return &domain.ProviderError{
		Provider:   domain.ProviderMailTm,
		Op:         "list_messages",
		StatusCode: 401,
		Kind:       domain.KindPermanent,
		Err:        domain.ErrAuth,
	}
}
