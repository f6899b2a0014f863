// Package storagetest 提供各存储实现共用的行为测试。
package storagetest

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailninja/backend/internal/domain"
	"mailninja/backend/internal/storage"
)

// Factory 为每个子测试创建一个空的存储实例
type Factory func(t *testing.T) storage.Store

var userSeq atomic.Int64

// nextUser 返回测试内唯一的用户 ID，便于共享数据库的实现互不干扰
func nextUser() int64 {
	return time.Now().UnixNano()/1000 + userSeq.Add(1)
}

func newMailbox(userID int64, created time.Time) *domain.Mailbox {
	id := uuid.NewString()
	return &domain.Mailbox{
		ID:        id,
		UserID:    userID,
		Provider:  domain.ProviderMailTm,
		Address:   id[:8] + "@mail.tm",
		Login:     id[:8],
		Domain:    "mail.tm",
		CreatedAt: created,
	}
}

func countActive(t *testing.T, s storage.Store, userID int64) int {
	t.Helper()
	list, err := s.ListMailboxesByUser(context.Background(), userID)
	require.NoError(t, err)
	active := 0
	for _, mb := range list {
		if mb.Active {
			active++
		}
	}
	return active
}

// Run 执行完整的存储行为测试
func Run(t *testing.T, factory Factory) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	t.Run("EnsureUser创建默认设置且幂等", func(t *testing.T) {
		s := factory(t)
		user := nextUser()

		require.NoError(t, s.EnsureUser(ctx, user, 60))
		settings, err := s.GetSettings(ctx, user)
		require.NoError(t, err)
		assert.False(t, settings.AutoCheck)
		assert.Equal(t, 60, settings.IntervalSeconds)

		_, err = s.UpdateAutoCheck(ctx, user, true)
		require.NoError(t, err)
		_, err = s.UpdateInterval(ctx, user, 90)
		require.NoError(t, err)

		require.NoError(t, s.EnsureUser(ctx, user, 60))
		settings, err = s.GetSettings(ctx, user)
		require.NoError(t, err)
		assert.True(t, settings.AutoCheck)
		assert.Equal(t, 90, settings.IntervalSeconds)
	})

	t.Run("未知用户的设置", func(t *testing.T) {
		s := factory(t)
		_, err := s.GetSettings(ctx, nextUser())
		assert.ErrorIs(t, err, storage.ErrUserNotFound)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("单列更新只改动对应的列", func(t *testing.T) {
		s := factory(t)
		user := nextUser()
		require.NoError(t, s.EnsureUser(ctx, user, 60))

		updated, err := s.UpdateInterval(ctx, user, 45)
		require.NoError(t, err)
		assert.False(t, updated.AutoCheck)
		assert.Equal(t, 45, updated.IntervalSeconds)

		updated, err = s.UpdateAutoCheck(ctx, user, true)
		require.NoError(t, err)
		assert.True(t, updated.AutoCheck)
		assert.Equal(t, 45, updated.IntervalSeconds)

		// 相同的值再写一次仍然成功
		updated, err = s.UpdateAutoCheck(ctx, user, true)
		require.NoError(t, err)
		assert.True(t, updated.AutoCheck)

		_, err = s.UpdateAutoCheck(ctx, nextUser(), true)
		assert.ErrorIs(t, err, storage.ErrUserNotFound)
		_, err = s.UpdateInterval(ctx, nextUser(), 45)
		assert.ErrorIs(t, err, storage.ErrUserNotFound)
	})

	t.Run("并发更新不同列互不覆盖", func(t *testing.T) {
		s := factory(t)
		user := nextUser()
		require.NoError(t, s.EnsureUser(ctx, user, 60))

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, err := s.UpdateInterval(ctx, user, 45)
				assert.NoError(t, err)
			}()
			go func() {
				defer wg.Done()
				_, err := s.UpdateAutoCheck(ctx, user, true)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		settings, err := s.GetSettings(ctx, user)
		require.NoError(t, err)
		assert.True(t, settings.AutoCheck)
		assert.Equal(t, 45, settings.IntervalSeconds)
	})

	t.Run("列出开启自动检查的用户", func(t *testing.T) {
		s := factory(t)
		on, off := nextUser(), nextUser()
		require.NoError(t, s.EnsureUser(ctx, on, 60))
		require.NoError(t, s.EnsureUser(ctx, off, 60))
		_, err := s.UpdateAutoCheck(ctx, on, true)
		require.NoError(t, err)
		_, err = s.UpdateInterval(ctx, on, 45)
		require.NoError(t, err)

		list, err := s.ListAutoCheckSettings(ctx)
		require.NoError(t, err)
		var found *domain.Settings
		for i := range list {
			assert.NotEqual(t, off, list[i].UserID)
			if list[i].UserID == on {
				found = &list[i]
			}
		}
		require.NotNil(t, found)
		assert.Equal(t, 45, found.IntervalSeconds)
	})

	t.Run("新邮箱成为唯一活跃邮箱", func(t *testing.T) {
		s := factory(t)
		user := nextUser()
		require.NoError(t, s.EnsureUser(ctx, user, 60))

		first := newMailbox(user, base)
		_, err := s.CreateMailbox(ctx, first, nil)
		require.NoError(t, err)
		assert.True(t, first.Active)

		second := newMailbox(user, base.Add(time.Minute))
		_, err = s.CreateMailbox(ctx, second, nil)
		require.NoError(t, err)

		active, err := s.GetActiveMailbox(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, second.ID, active.ID)
		assert.Equal(t, 1, countActive(t, s, user))

		list, err := s.ListMailboxesByUser(ctx, user)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, second.ID, list[0].ID)
		assert.Equal(t, first.ID, list[1].ID)
	})

	t.Run("地址重复被拒绝", func(t *testing.T) {
		s := factory(t)
		user := nextUser()
		require.NoError(t, s.EnsureUser(ctx, user, 60))

		mb := newMailbox(user, base)
		_, err := s.CreateMailbox(ctx, mb, nil)
		require.NoError(t, err)

		dup := newMailbox(user, base.Add(time.Second))
		dup.Address = mb.Address
		_, err = s.CreateMailbox(ctx, dup, nil)
		assert.ErrorIs(t, err, storage.ErrAddressExists)

		active, err := s.GetActiveMailbox(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, mb.ID, active.ID)
	})

	t.Run("容量计划在事务内执行", func(t *testing.T) {
		s := factory(t)
		user := nextUser()
		require.NoError(t, s.EnsureUser(ctx, user, 60))

		var ids []string
		for i := 0; i < 3; i++ {
			mb := newMailbox(user, base.Add(time.Duration(i)*time.Minute))
			_, err := s.CreateMailbox(ctx, mb, nil)
			require.NoError(t, err)
			ids = append(ids, mb.ID)
		}
		// 标记第一个邮箱已处理过一封邮件，删除后账本也应被清理
		first, err := s.GetMailbox(ctx, user, ids[0])
		require.NoError(t, err)
		_, err = s.MarkSeen(ctx, first.Address, "m1")
		require.NoError(t, err)

		var seenExisting []domain.Mailbox
		fourth := newMailbox(user, base.Add(10*time.Minute))
		plan, err := s.CreateMailbox(ctx, fourth, func(existing []domain.Mailbox) domain.CapacityPlan {
			seenExisting = existing
			return domain.PlanCapacity(existing, 3)
		})
		require.NoError(t, err)
		assert.Len(t, seenExisting, 3)
		assert.Equal(t, []string{ids[0]}, plan.Delete)

		_, err = s.GetMailbox(ctx, user, ids[0])
		assert.ErrorIs(t, err, storage.ErrMailboxNotFound)
		count, err := s.CountSeen(ctx, first.Address)
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		list, err := s.ListMailboxesByUser(ctx, user)
		require.NoError(t, err)
		assert.Len(t, list, 3)
		assert.Equal(t, 1, countActive(t, s, user))
	})

	t.Run("切换活跃邮箱", func(t *testing.T) {
		s := factory(t)
		user, other := nextUser(), nextUser()
		require.NoError(t, s.EnsureUser(ctx, user, 60))
		require.NoError(t, s.EnsureUser(ctx, other, 60))

		a := newMailbox(user, base)
		b := newMailbox(user, base.Add(time.Minute))
		foreign := newMailbox(other, base)
		for _, mb := range []*domain.Mailbox{a, b, foreign} {
			_, err := s.CreateMailbox(ctx, mb, nil)
			require.NoError(t, err)
		}

		require.NoError(t, s.ActivateMailbox(ctx, user, a.ID))
		active, err := s.GetActiveMailbox(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, a.ID, active.ID)
		assert.Equal(t, 1, countActive(t, s, user))

		err = s.ActivateMailbox(ctx, user, foreign.ID)
		assert.ErrorIs(t, err, storage.ErrMailboxNotFound)
		err = s.ActivateMailbox(ctx, user, uuid.NewString())
		assert.ErrorIs(t, err, domain.ErrNotFound)

		// 其他用户不受影响
		otherActive, err := s.GetActiveMailbox(ctx, other)
		require.NoError(t, err)
		assert.Equal(t, foreign.ID, otherActive.ID)
	})

	t.Run("并发切换和创建保持单一活跃邮箱", func(t *testing.T) {
		s := factory(t)
		user := nextUser()
		require.NoError(t, s.EnsureUser(ctx, user, 60))

		a := newMailbox(user, base)
		b := newMailbox(user, base.Add(time.Minute))
		for _, mb := range []*domain.Mailbox{a, b} {
			_, err := s.CreateMailbox(ctx, mb, nil)
			require.NoError(t, err)
		}

		for round := 0; round < 5; round++ {
			var wg sync.WaitGroup
			created := newMailbox(user, base.Add(time.Duration(round+2)*time.Minute))
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.CreateMailbox(ctx, created, nil)
				assert.NoError(t, err)
			}()
			for i := 0; i < 4; i++ {
				target := a.ID
				if i%2 == 1 {
					target = b.ID
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					assert.NoError(t, s.ActivateMailbox(ctx, user, target))
				}()
			}
			wg.Wait()
			assert.Equal(t, 1, countActive(t, s, user), "round %d", round)
		}
	})

	t.Run("随机操作序列最多一个活跃邮箱", func(t *testing.T) {
		s := factory(t)
		user := nextUser()
		require.NoError(t, s.EnsureUser(ctx, user, 60))

		rng := rand.New(rand.NewSource(42))
		var ids []string
		for step := 0; step < 60; step++ {
			switch op := rng.Intn(3); {
			case op == 0 || len(ids) == 0:
				mb := newMailbox(user, base.Add(time.Duration(step)*time.Second))
				_, err := s.CreateMailbox(ctx, mb, nil)
				require.NoError(t, err)
				ids = append(ids, mb.ID)
				assert.Equal(t, 1, countActive(t, s, user), "step %d create", step)
			case op == 1:
				id := ids[rng.Intn(len(ids))]
				require.NoError(t, s.ActivateMailbox(ctx, user, id))
				active, err := s.GetActiveMailbox(ctx, user)
				require.NoError(t, err)
				assert.Equal(t, id, active.ID, "step %d switch", step)
			default:
				i := rng.Intn(len(ids))
				require.NoError(t, s.DeleteMailbox(ctx, user, ids[i]))
				ids = append(ids[:i], ids[i+1:]...)
			}
			assert.LessOrEqual(t, countActive(t, s, user), 1, "step %d", step)
		}
	})

	t.Run("删除活跃邮箱后没有活跃邮箱", func(t *testing.T) {
		s := factory(t)
		user := nextUser()
		require.NoError(t, s.EnsureUser(ctx, user, 60))

		a := newMailbox(user, base)
		b := newMailbox(user, base.Add(time.Minute))
		for _, mb := range []*domain.Mailbox{a, b} {
			_, err := s.CreateMailbox(ctx, mb, nil)
			require.NoError(t, err)
		}
		_, err := s.MarkSeen(ctx, b.Address, "x")
		require.NoError(t, err)

		require.NoError(t, s.DeleteMailbox(ctx, user, b.ID))
		_, err = s.GetActiveMailbox(ctx, user)
		assert.ErrorIs(t, err, storage.ErrMailboxNotFound)

		seen, err := s.IsSeen(ctx, b.Address, "x")
		require.NoError(t, err)
		assert.False(t, seen)

		assert.ErrorIs(t, s.DeleteMailbox(ctx, user, b.ID), storage.ErrMailboxNotFound)
		assert.ErrorIs(t, s.DeleteMailbox(ctx, nextUser(), a.ID), storage.ErrMailboxNotFound)
	})

	t.Run("更新令牌", func(t *testing.T) {
		s := factory(t)
		user := nextUser()
		require.NoError(t, s.EnsureUser(ctx, user, 60))
		mb := newMailbox(user, base)
		_, err := s.CreateMailbox(ctx, mb, nil)
		require.NoError(t, err)

		token := "tok-1"
		require.NoError(t, s.UpdateMailboxToken(ctx, mb.ID, &token))
		got, err := s.GetMailbox(ctx, user, mb.ID)
		require.NoError(t, err)
		require.NotNil(t, got.Token)
		assert.Equal(t, "tok-1", *got.Token)

		assert.ErrorIs(t, s.UpdateMailboxToken(ctx, uuid.NewString(), &token), storage.ErrMailboxNotFound)
	})

	t.Run("删除过期邮箱", func(t *testing.T) {
		s := factory(t)
		user := nextUser()
		require.NoError(t, s.EnsureUser(ctx, user, 60))

		past := base.Add(-time.Hour)
		future := base.Add(time.Hour)
		expired := newMailbox(user, base)
		expired.ExpiresAt = &past
		alive := newMailbox(user, base.Add(time.Minute))
		alive.ExpiresAt = &future
		for _, mb := range []*domain.Mailbox{expired, alive} {
			_, err := s.CreateMailbox(ctx, mb, nil)
			require.NoError(t, err)
		}

		count, err := s.DeleteExpiredMailboxes(ctx, base)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, count, 1)

		_, err = s.GetMailbox(ctx, user, expired.ID)
		assert.ErrorIs(t, err, storage.ErrMailboxNotFound)
		_, err = s.GetMailbox(ctx, user, alive.ID)
		assert.NoError(t, err)
	})

	t.Run("账本只写一次", func(t *testing.T) {
		s := factory(t)
		address := uuid.NewString()[:8] + "@ledger.test"

		inserted, err := s.MarkSeen(ctx, address, "5")
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = s.MarkSeen(ctx, address, "5")
		require.NoError(t, err)
		assert.False(t, inserted)

		seen, err := s.IsSeen(ctx, address, "5")
		require.NoError(t, err)
		assert.True(t, seen)
		seen, err = s.IsSeen(ctx, address, "3")
		require.NoError(t, err)
		assert.False(t, seen)
	})

	t.Run("并发写入账本只有一个成功", func(t *testing.T) {
		s := factory(t)
		address := uuid.NewString()[:8] + "@ledger.test"

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				inserted, err := s.MarkSeen(ctx, address, "race")
				assert.NoError(t, err)
				if inserted {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("健康检查", func(t *testing.T) {
		s := factory(t)
		assert.NoError(t, s.Health(ctx))
	})
}
