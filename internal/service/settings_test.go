package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailninja/backend/internal/domain"
	"mailninja/backend/internal/storage/memory"
)

// gatedIntervalStore 让 UpdateInterval 停在闸门前，用于构造并发写入
type gatedIntervalStore struct {
	*memory.Store
	entered chan struct{}
	release chan struct{}
}

func (g *gatedIntervalStore) UpdateInterval(ctx context.Context, userID int64, seconds int) (*domain.Settings, error) {
	close(g.entered)
	<-g.release
	return g.Store.UpdateInterval(ctx, userID, seconds)
}

// recordingController 按顺序记录调度器收到的调用
type recordingController struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingController) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recordingController) Enable(userID int64, interval time.Duration) {
	r.record(fmt.Sprintf("enable %d %s", userID, interval))
}

func (r *recordingController) Disable(userID int64) {
	r.record(fmt.Sprintf("disable %d", userID))
}

func (r *recordingController) Reschedule(userID int64, interval time.Duration) {
	r.record(fmt.Sprintf("reschedule %d %s", userID, interval))
}

func (r *recordingController) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestSettingsService(t *testing.T) {
	ctx := context.Background()

	t.Run("默认设置", func(t *testing.T) {
		f := newFixture(3)
		settings, err := f.settings.GetSettings(ctx, 500)
		require.NoError(t, err)
		assert.False(t, settings.AutoCheck)
		assert.Equal(t, 60, settings.IntervalSeconds)
	})

	t.Run("开启和关闭自动检查会通知调度器", func(t *testing.T) {
		f := newFixture(3)
		control := new(MockPollController)
		f.settings.SetPollController(control)
		control.On("Enable", int64(501), 60*time.Second).Once()
		control.On("Disable", int64(501)).Once()

		settings, err := f.settings.SetAutoCheck(ctx, 501, true)
		require.NoError(t, err)
		assert.True(t, settings.AutoCheck)

		listed, err := f.store.ListAutoCheckSettings(ctx)
		require.NoError(t, err)
		require.Len(t, listed, 1)
		assert.Equal(t, int64(501), listed[0].UserID)

		_, err = f.settings.SetAutoCheck(ctx, 501, false)
		require.NoError(t, err)
		control.AssertExpectations(t)
	})

	t.Run("间隔低于最小值被拒绝且状态不变", func(t *testing.T) {
		f := newFixture(3)
		control := new(MockPollController)
		f.settings.SetPollController(control)
		control.On("Enable", int64(502), 60*time.Second).Once()

		_, err := f.settings.SetAutoCheck(ctx, 502, true)
		require.NoError(t, err)

		_, err = f.settings.SetInterval(ctx, 502, 10)
		assert.ErrorIs(t, err, domain.ErrIntervalTooShort)

		settings, err := f.settings.GetSettings(ctx, 502)
		require.NoError(t, err)
		assert.Equal(t, 60, settings.IntervalSeconds)
		control.AssertNotCalled(t, "Reschedule", int64(502), 10*time.Second)
	})

	t.Run("修改间隔后重新调度", func(t *testing.T) {
		f := newFixture(3)
		control := new(MockPollController)
		f.settings.SetPollController(control)
		control.On("Enable", int64(503), 60*time.Second).Once()
		control.On("Reschedule", int64(503), 120*time.Second).Once()

		_, err := f.settings.SetAutoCheck(ctx, 503, true)
		require.NoError(t, err)

		settings, err := f.settings.SetInterval(ctx, 503, 120)
		require.NoError(t, err)
		assert.Equal(t, 120, settings.IntervalSeconds)
		control.AssertExpectations(t)
	})

	t.Run("未开启自动检查时只保存间隔", func(t *testing.T) {
		f := newFixture(3)
		control := new(MockPollController)
		f.settings.SetPollController(control)

		settings, err := f.settings.SetInterval(ctx, 504, 30)
		require.NoError(t, err)
		assert.Equal(t, 30, settings.IntervalSeconds)
		control.AssertNotCalled(t, "Reschedule", int64(504), 30*time.Second)
	})

	t.Run("并发修改间隔和开关不会互相覆盖", func(t *testing.T) {
		base := memory.NewStore()
		store := &gatedIntervalStore{Store: base, entered: make(chan struct{}), release: make(chan struct{})}
		svc := NewSettingsService(store, &testConfig(3).Poll, nil)
		control := &recordingController{}
		svc.SetPollController(control)
		require.NoError(t, svc.EnsureUser(ctx, 7))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := svc.SetInterval(ctx, 7, 45)
			assert.NoError(t, err)
		}()
		<-store.entered
		go func() {
			defer wg.Done()
			_, err := svc.SetAutoCheck(ctx, 7, true)
			assert.NoError(t, err)
		}()
		close(store.release)
		wg.Wait()

		settings, err := base.GetSettings(ctx, 7)
		require.NoError(t, err)
		assert.True(t, settings.AutoCheck)
		assert.Equal(t, 45, settings.IntervalSeconds)
		// 调度器按存储结果收到 45 秒的间隔
		assert.Equal(t, []string{"enable 7 45s"}, control.Calls())
	})

	t.Run("大量并发写入后两列都保留最后的值", func(t *testing.T) {
		f := newFixture(3)
		control := &recordingController{}
		f.settings.SetPollController(control)

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, err := f.settings.SetInterval(ctx, 505, 90)
				assert.NoError(t, err)
			}()
			go func() {
				defer wg.Done()
				_, err := f.settings.SetAutoCheck(ctx, 505, true)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		settings, err := f.settings.GetSettings(ctx, 505)
		require.NoError(t, err)
		assert.True(t, settings.AutoCheck)
		assert.Equal(t, 90, settings.IntervalSeconds)
	})
}
