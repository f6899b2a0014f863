package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"mailninja/backend/internal/domain"
	"mailninja/backend/internal/provider"
)

func activeIDs(mailboxes []domain.Mailbox) []string {
	var ids []string
	for _, mb := range mailboxes {
		if mb.Active {
			ids = append(ids, mb.ID)
		}
	}
	return ids
}

func TestMailboxService_CreateMailbox(t *testing.T) {
	ctx := context.Background()

	t.Run("创建后成为唯一活跃邮箱", func(t *testing.T) {
		f := newFixture(3)
		f.expectAccount("alpha")
		f.expectAccount("beta")

		first, err := f.mailbox.CreateMailbox(ctx, 100, "")
		require.NoError(t, err)
		second, err := f.mailbox.CreateMailbox(ctx, 100, "mailtm")
		require.NoError(t, err)

		assert.Equal(t, "alpha@mail.tm", first.Address)
		assert.Equal(t, domain.ProviderMailTm, second.Provider)

		list, err := f.mailbox.ListMailboxes(ctx, 100)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, []string{second.ID}, activeIDs(list))
		assert.Equal(t, second.ID, list[0].ID, "newest first")

		settings, err := f.store.GetSettings(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, 60, settings.IntervalSeconds)
		f.provider.AssertExpectations(t)
	})

	t.Run("密码加密存储并缓存初始令牌", func(t *testing.T) {
		f := newFixture(3)
		f.expectAccount("gamma")

		created, err := f.mailbox.CreateMailbox(ctx, 7, "")
		require.NoError(t, err)

		stored, err := f.store.GetMailbox(ctx, 7, created.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.Secret)
		assert.NotEqual(t, "pw-gamma", *stored.Secret)

		plain, err := f.sealer.Open(*stored.Secret)
		require.NoError(t, err)
		assert.Equal(t, "pw-gamma", plain)

		require.True(t, stored.HasToken())
		assert.Equal(t, "tok-gamma", *stored.Token)
	})

	t.Run("初始令牌失败不影响创建", func(t *testing.T) {
		f := newFixture(3)
		secret := "pw"
		f.provider.On("CreateAccount", mock.Anything).Return(&provider.Account{
			Address: "delta@mail.tm", Login: "delta", Domain: "mail.tm", Secret: &secret,
		}, nil).Once()
		f.provider.On("ObtainToken", mock.Anything, "delta@mail.tm", "pw").
			Return("", &domain.ProviderError{Provider: domain.ProviderMailTm, Op: "token", Kind: domain.KindTransient, Err: errors.New("timeout")}).Once()

		created, err := f.mailbox.CreateMailbox(ctx, 8, "")
		require.NoError(t, err)
		assert.False(t, created.HasToken())
	})

	t.Run("提供方失败时不留下记录", func(t *testing.T) {
		f := newFixture(3)
		f.provider.On("CreateAccount", mock.Anything).
			Return(nil, &domain.ProviderError{Provider: domain.ProviderMailTm, Op: "create_account", StatusCode: 503, Kind: domain.KindTransient, Err: errors.New("unavailable")}).Once()

		_, err := f.mailbox.CreateMailbox(ctx, 9, "")
		require.Error(t, err)
		assert.True(t, domain.IsTransient(err))

		list, err := f.mailbox.ListMailboxes(ctx, 9)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("未知提供方", func(t *testing.T) {
		f := newFixture(3)
		_, err := f.mailbox.CreateMailbox(ctx, 10, "gmail")
		assert.ErrorIs(t, err, domain.ErrConfiguration)
		f.provider.AssertNotCalled(t, "CreateAccount", mock.Anything)
	})

	t.Run("无效用户", func(t *testing.T) {
		f := newFixture(3)
		_, err := f.mailbox.CreateMailbox(ctx, 0, "")
		assert.ErrorIs(t, err, domain.ErrInvalidUserID)
	})
}

func TestMailboxService_Capacity(t *testing.T) {
	ctx := context.Background()

	t.Run("存在非活跃邮箱时删除最旧的非活跃邮箱", func(t *testing.T) {
		f := newFixture(3)
		var created []*domain.Mailbox
		for _, login := range []string{"m1", "m2", "m3", "m4"} {
			f.expectAccount(login)
			mb, err := f.mailbox.CreateMailbox(ctx, 1, "")
			require.NoError(t, err)
			created = append(created, mb)
		}

		list, err := f.mailbox.ListMailboxes(ctx, 1)
		require.NoError(t, err)
		require.Len(t, list, 3)
		for _, mb := range list {
			assert.NotEqual(t, created[0].ID, mb.ID, "oldest inactive mailbox must be deleted")
		}
		assert.Equal(t, []string{created[3].ID}, activeIDs(list))
	})

	t.Run("没有非活跃邮箱时停用而不删除", func(t *testing.T) {
		f := newFixture(1)
		f.expectAccount("solo1")
		first, err := f.mailbox.CreateMailbox(ctx, 2, "")
		require.NoError(t, err)

		f.expectAccount("solo2")
		second, err := f.mailbox.CreateMailbox(ctx, 2, "")
		require.NoError(t, err)

		list, err := f.mailbox.ListMailboxes(ctx, 2)
		require.NoError(t, err)
		require.Len(t, list, 2, "deactivated mailbox is kept")
		assert.Equal(t, []string{second.ID}, activeIDs(list))

		_, err = f.store.GetMailbox(ctx, 2, first.ID)
		assert.NoError(t, err)
	})

	t.Run("被删除邮箱的已读记录一并删除", func(t *testing.T) {
		f := newFixture(2)
		f.expectAccount("s1")
		first, err := f.mailbox.CreateMailbox(ctx, 3, "")
		require.NoError(t, err)
		_, err = f.store.MarkSeen(ctx, first.Address, "msg-1")
		require.NoError(t, err)

		f.expectAccount("s2")
		_, err = f.mailbox.CreateMailbox(ctx, 3, "")
		require.NoError(t, err)
		f.expectAccount("s3")
		_, err = f.mailbox.CreateMailbox(ctx, 3, "")
		require.NoError(t, err)

		count, err := f.store.CountSeen(ctx, first.Address)
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestMailboxService_SwitchAndDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(3)
	f.expectAccount("one")
	f.expectAccount("two")

	one, err := f.mailbox.CreateMailbox(ctx, 11, "")
	require.NoError(t, err)
	two, err := f.mailbox.CreateMailbox(ctx, 11, "")
	require.NoError(t, err)

	t.Run("切换后读取", func(t *testing.T) {
		require.NoError(t, f.mailbox.SwitchActive(ctx, 11, one.ID))
		active, err := f.mailbox.GetActive(ctx, 11)
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, one.ID, active.ID)

		list, err := f.mailbox.ListMailboxes(ctx, 11)
		require.NoError(t, err)
		assert.Len(t, activeIDs(list), 1)
	})

	t.Run("切换到他人的邮箱", func(t *testing.T) {
		err := f.mailbox.SwitchActive(ctx, 12, two.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		err = f.mailbox.SwitchActive(ctx, 11, "not-a-uuid")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("删除活跃邮箱后没有活跃邮箱", func(t *testing.T) {
		require.NoError(t, f.mailbox.DeleteMailbox(ctx, 11, one.ID))

		active, err := f.mailbox.GetActive(ctx, 11)
		require.NoError(t, err)
		assert.Nil(t, active)

		list, err := f.mailbox.ListMailboxes(ctx, 11)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.False(t, list[0].Active)
	})

	t.Run("删除不存在的邮箱", func(t *testing.T) {
		err := f.mailbox.DeleteMailbox(ctx, 11, one.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestMailboxService_Token(t *testing.T) {
	ctx := context.Background()

	t.Run("使用缓存令牌", func(t *testing.T) {
		f := newFixture(3)
		f.expectAccount("cached")
		mb, err := f.mailbox.CreateMailbox(ctx, 20, "")
		require.NoError(t, err)

		token, err := f.mailbox.EnsureToken(ctx, mb, false)
		require.NoError(t, err)
		assert.Equal(t, "tok-cached", token)
		f.provider.AssertNumberOfCalls(t, "ObtainToken", 1)
	})

	t.Run("令牌被拒绝时刷新并重试一次", func(t *testing.T) {
		f := newFixture(3)
		f.expectAccount("stale")
		mb, err := f.mailbox.CreateMailbox(ctx, 21, "")
		require.NoError(t, err)

		summaries := []domain.MessageSummary{{ID: "5"}, {ID: "3"}}
		f.provider.On("ListMessages", mock.Anything, "tok-stale").Return(nil, authError()).Once()
		f.provider.On("ObtainToken", mock.Anything, "stale@mail.tm", "pw-stale").Return("tok-fresh", nil).Once()
		f.provider.On("ListMessages", mock.Anything, "tok-fresh").Return(summaries, nil).Once()

		got, err := f.mailbox.ListMessages(ctx, mb)
		require.NoError(t, err)
		assert.Equal(t, summaries, got)

		stored, err := f.store.GetMailbox(ctx, 21, mb.ID)
		require.NoError(t, err)
		assert.Equal(t, "tok-fresh", *stored.Token)
		f.provider.AssertExpectations(t)
	})

	t.Run("刷新后仍被拒绝", func(t *testing.T) {
		f := newFixture(3)
		f.expectAccount("revoked")
		mb, err := f.mailbox.CreateMailbox(ctx, 22, "")
		require.NoError(t, err)

		f.provider.On("ListMessages", mock.Anything, mock.Anything).Return(nil, authError()).Twice()
		f.provider.On("ObtainToken", mock.Anything, "revoked@mail.tm", "pw-revoked").Return("tok-2", nil).Once()

		_, err = f.mailbox.ListMessages(ctx, mb)
		assert.ErrorIs(t, err, domain.ErrAuth)
		f.provider.AssertNumberOfCalls(t, "ListMessages", 2)
	})

	t.Run("登录失败", func(t *testing.T) {
		f := newFixture(3)
		f.expectAccount("nologin")
		mb, err := f.mailbox.CreateMailbox(ctx, 23, "")
		require.NoError(t, err)

		f.provider.On("ObtainToken", mock.Anything, "nologin@mail.tm", "pw-nologin").Return("", authError()).Once()
		_, err = f.mailbox.EnsureToken(ctx, mb, true)
		assert.ErrorIs(t, err, domain.ErrAuth)
		assert.Equal(t, "tok-nologin", *mb.Token, "cached token untouched on failure")
	})
}

func TestMailboxService_CleanupExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(3)
	f.mailbox.cfg.Mailbox.TTL = time.Millisecond
	f.expectAccount("old")

	mb, err := f.mailbox.CreateMailbox(ctx, 30, "")
	require.NoError(t, err)
	require.NotNil(t, mb.ExpiresAt)

	count, err := f.mailbox.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	active, err := f.mailbox.GetActive(ctx, 30)
	require.NoError(t, err)
	assert.Nil(t, active)
}
