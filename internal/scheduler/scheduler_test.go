package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailninja/backend/internal/config"
	"mailninja/backend/internal/domain"
	"mailninja/backend/internal/pool"
	"mailninja/backend/internal/storage/memory"
)

// gatedListStore 在 ListAutoCheckSettings 取得快照后停在闸门前
type gatedListStore struct {
	*memory.Store
	entered chan struct{}
	release chan struct{}
}

func (g *gatedListStore) ListAutoCheckSettings(ctx context.Context) ([]domain.Settings, error) {
	list, err := g.Store.ListAutoCheckSettings(ctx)
	close(g.entered)
	<-g.release
	return list, err
}

// countingTicker 统计每个用户被轮询的次数
type countingTicker struct {
	mu    sync.Mutex
	ticks map[int64]int
}

func newCountingTicker() *countingTicker {
	return &countingTicker{ticks: make(map[int64]int)}
}

func (c *countingTicker) Tick(_ context.Context, userID int64) (TickResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks[userID]++
	return TickResult{Status: StatusIdle}, nil
}

func (c *countingTicker) count(userID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks[userID]
}

func perUserConfig() config.PollConfig {
	return config.PollConfig{Mode: ModePerUser, MinInterval: 10 * time.Millisecond}
}

func enableAutoCheck(t *testing.T, store *memory.Store, userID int64, seconds int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.EnsureUser(ctx, userID, seconds))
	_, err := store.UpdateInterval(ctx, userID, seconds)
	require.NoError(t, err)
	_, err = store.UpdateAutoCheck(ctx, userID, true)
	require.NoError(t, err)
}

func TestScheduler_PerUser(t *testing.T) {
	t.Run("启动时恢复任务", func(t *testing.T) {
		store := memory.NewStore()
		enableAutoCheck(t, store, 1, 60)
		enableAutoCheck(t, store, 2, 90)
		require.NoError(t, store.EnsureUser(context.Background(), 3, 60))

		s := New(newCountingTicker(), store, perUserConfig(), zap.NewNop())
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		require.NoError(t, s.Start(ctx))
		defer s.Stop()

		assert.Equal(t, 2, s.TaskCount())
		interval, ok := s.TaskInterval(2)
		require.True(t, ok)
		assert.Equal(t, 90*time.Second, interval)

		assert.Error(t, s.Start(ctx), "second start is rejected")
	})

	t.Run("开启后按间隔轮询，关闭后停止", func(t *testing.T) {
		ticker := newCountingTicker()
		s := New(ticker, memory.NewStore(), perUserConfig(), nil)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		require.NoError(t, s.Start(ctx))
		defer s.Stop()

		s.Enable(7, 20*time.Millisecond)
		require.Eventually(t, func() bool { return ticker.count(7) >= 2 }, 2*time.Second, 5*time.Millisecond)

		s.Disable(7)
		assert.Zero(t, s.TaskCount())
		after := ticker.count(7)
		time.Sleep(80 * time.Millisecond)
		assert.LessOrEqual(t, ticker.count(7), after+1, "at most one in-flight tick after disable")
	})

	t.Run("重复开启只保留一个任务", func(t *testing.T) {
		s := New(newCountingTicker(), memory.NewStore(), perUserConfig(), nil)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		require.NoError(t, s.Start(ctx))
		defer s.Stop()

		s.Enable(8, time.Minute)
		s.Enable(8, 2*time.Minute)
		assert.Equal(t, 1, s.TaskCount())

		interval, _ := s.TaskInterval(8)
		assert.Equal(t, 2*time.Minute, interval)
	})

	t.Run("重新调度与最小间隔", func(t *testing.T) {
		cfg := perUserConfig()
		cfg.MinInterval = 30 * time.Second
		s := New(newCountingTicker(), memory.NewStore(), cfg, nil)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		require.NoError(t, s.Start(ctx))
		defer s.Stop()

		s.Enable(9, time.Second)
		interval, _ := s.TaskInterval(9)
		assert.Equal(t, 30*time.Second, interval)

		s.Reschedule(9, 45*time.Second)
		interval, _ = s.TaskInterval(9)
		assert.Equal(t, 45*time.Second, interval)

		s.Reschedule(10, time.Minute)
		_, ok := s.TaskInterval(10)
		assert.True(t, ok)
	})

	t.Run("启动前的开启请求被忽略", func(t *testing.T) {
		s := New(newCountingTicker(), memory.NewStore(), perUserConfig(), nil)
		s.Enable(11, time.Minute)
		assert.Zero(t, s.TaskCount())
	})

	t.Run("恢复期间关闭的用户不会被重新开启", func(t *testing.T) {
		base := memory.NewStore()
		enableAutoCheck(t, base, 13, 60)
		store := &gatedListStore{Store: base, entered: make(chan struct{}), release: make(chan struct{})}
		s := New(newCountingTicker(), store, perUserConfig(), nil)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		started := make(chan error, 1)
		go func() { started <- s.Start(ctx) }()
		<-store.entered

		disabled := make(chan struct{})
		go func() {
			defer close(disabled)
			_, err := base.UpdateAutoCheck(ctx, 13, false)
			assert.NoError(t, err)
			s.Disable(13)
		}()
		time.Sleep(20 * time.Millisecond)
		close(store.release)

		require.NoError(t, <-started)
		<-disabled
		defer s.Stop()

		assert.Zero(t, s.TaskCount())
		_, ok := s.TaskInterval(13)
		assert.False(t, ok)
	})

	t.Run("ctx 取消后 Run 返回", func(t *testing.T) {
		store := memory.NewStore()
		enableAutoCheck(t, store, 12, 60)
		s := New(newCountingTicker(), store, perUserConfig(), nil)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- s.Run(ctx) }()

		require.Eventually(t, func() bool { return s.TaskCount() == 1 }, time.Second, 5*time.Millisecond)
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return")
		}
		assert.Zero(t, s.TaskCount())
	})
}

func TestScheduler_GlobalSweep(t *testing.T) {
	store := memory.NewStore()
	enableAutoCheck(t, store, 1, 30)
	enableAutoCheck(t, store, 2, 120)

	ticker := newCountingTicker()
	cfg := config.PollConfig{Mode: ModeGlobal, MinInterval: 30 * time.Second, GlobalTick: 30 * time.Second}
	s := New(ticker, store, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.pool = pool.NewWorkerPool(2, 16, zap.NewNop())
	s.pool.Start(ctx)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	waitFor := func(user int64, n int) {
		require.Eventually(t, func() bool { return ticker.count(user) == n }, time.Second, 5*time.Millisecond)
	}

	t.Run("首次扫描轮询所有用户", func(t *testing.T) {
		s.sweep(ctx)
		waitFor(1, 1)
		waitFor(2, 1)
	})

	t.Run("未到间隔的用户被跳过", func(t *testing.T) {
		now = now.Add(30 * time.Second)
		s.sweep(ctx)
		waitFor(1, 2)
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, 1, ticker.count(2))

		now = now.Add(90 * time.Second)
		s.sweep(ctx)
		waitFor(2, 2)
	})

	t.Run("关闭自动检查后不再轮询", func(t *testing.T) {
		_, err := store.UpdateAutoCheck(ctx, 1, false)
		require.NoError(t, err)
		s.Disable(1)

		now = now.Add(time.Hour)
		s.sweep(ctx)
		waitFor(2, 3)
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, 3, ticker.count(1))
	})

	t.Run("排队期间关闭的用户出队后跳过", func(t *testing.T) {
		block := make(chan struct{})
		single := pool.NewWorkerPool(1, 16, zap.NewNop())
		single.Start(ctx)
		defer single.Stop()
		s.pool.Stop()
		s.pool = single

		enableAutoCheck(t, store, 3, 30)
		// 占住唯一的 worker，扫描提交的轮询只能排队
		require.True(t, single.TrySubmit(func() { <-block }))
		now = now.Add(time.Hour)
		s.sweep(ctx)

		_, err := store.UpdateAutoCheck(ctx, 3, false)
		require.NoError(t, err)
		s.Disable(3)
		close(block)

		time.Sleep(50 * time.Millisecond)
		assert.Zero(t, ticker.count(3))
	})

	s.pool.Stop()
}

func TestScheduler_GlobalStartStop(t *testing.T) {
	store := memory.NewStore()
	enableAutoCheck(t, store, 1, 30)
	ticker := newCountingTicker()

	cfg := config.PollConfig{Mode: ModeGlobal, MinInterval: 30 * time.Second, GlobalTick: time.Hour, FirstDelay: time.Millisecond, Workers: 1}
	s := New(ticker, store, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))

	require.Eventually(t, func() bool { return ticker.count(1) == 1 }, 2*time.Second, 5*time.Millisecond)

	// 全局模式下 Enable 不创建独立任务
	s.Enable(1, time.Minute)
	assert.Zero(t, s.TaskCount())

	s.Stop()
	s.Stop()
}

var _ Ticker = (*Poller)(nil)
var _ MailboxSource = (*stubSource)(nil)
