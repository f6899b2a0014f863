package memory

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailninja/backend/internal/domain"
	"mailninja/backend/internal/storage"
	"mailninja/backend/internal/storage/storagetest"
)

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return NewStore()
	})
}

func TestStoreReturnsCopies(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	mb := &domain.Mailbox{ID: uuid.NewString(), UserID: 1, Address: "a@mail.tm"}
	_, err := s.CreateMailbox(ctx, mb, nil)
	require.NoError(t, err)

	got, err := s.GetMailbox(ctx, 1, mb.ID)
	require.NoError(t, err)
	got.Active = false
	got.Address = "changed@mail.tm"

	again, err := s.GetActiveMailbox(ctx, 1)
	require.NoError(t, err)
	assert.True(t, again.Active)
	assert.Equal(t, "a@mail.tm", again.Address)
}

// 随机的创建、切换、删除序列之后，每个用户至多一个活跃邮箱
func TestSingleActiveInvariant(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))
	users := []int64{1, 2, 3}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for step := 0; step < 500; step++ {
		user := users[rng.Intn(len(users))]
		list, err := s.ListMailboxesByUser(ctx, user)
		require.NoError(t, err)

		switch op := rng.Intn(3); {
		case op == 0 || len(list) == 0:
			mb := &domain.Mailbox{
				ID:        uuid.NewString(),
				UserID:    user,
				CreatedAt: base.Add(time.Duration(step) * time.Second),
			}
			mb.Address = mb.ID + "@mail.tm"
			_, err := s.CreateMailbox(ctx, mb, func(existing []domain.Mailbox) domain.CapacityPlan {
				return domain.PlanCapacity(existing, 3)
			})
			require.NoError(t, err)
		case op == 1:
			require.NoError(t, s.ActivateMailbox(ctx, user, list[rng.Intn(len(list))].ID))
		default:
			require.NoError(t, s.DeleteMailbox(ctx, user, list[rng.Intn(len(list))].ID))
		}

		for _, u := range users {
			all, err := s.ListMailboxesByUser(ctx, u)
			require.NoError(t, err)
			active := 0
			for _, mb := range all {
				if mb.Active {
					active++
				}
			}
			assert.LessOrEqual(t, active, 1, "user %d step %d", u, step)
			assert.LessOrEqual(t, len(all), 4, "user %d step %d", u, step)
		}
	}
}
