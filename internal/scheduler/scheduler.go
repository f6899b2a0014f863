package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	cronv3 "github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"mailninja/backend/internal/config"
	"mailninja/backend/internal/monitoring"
	"mailninja/backend/internal/pool"
	"mailninja/backend/internal/storage"
)

const (
	// ModePerUser 每个开启自动检查的用户一个独立任务
	ModePerUser = "per_user"
	// ModeGlobal 固定周期扫描所有用户
	ModeGlobal = "global"
)

// Ticker 执行一次用户轮询，*Poller 实现了该接口
type Ticker interface {
	Tick(ctx context.Context, userID int64) (TickResult, error)
}

type task struct {
	cancel   context.CancelFunc
	done     chan struct{}
	interval time.Duration
}

// Scheduler 根据用户设置驱动轮询。
//
// per_user 模式下每个用户一个 goroutine，禁用时取消其 context，正在进行的轮询会执行完毕。
// global 模式由 cron 周期扫描，经由工作池并发轮询，并按用户间隔跳过未到期的用户。
type Scheduler struct {
	ticker  Ticker
	users   storage.UserRepository
	cfg     config.PollConfig
	metrics *monitoring.Metrics
	log     *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	rootCtx context.Context
	tasks   map[int64]*task

	cron     *cronv3.Cron
	pool     *pool.WorkerPool
	lastTick map[int64]time.Time
	sweepMu  sync.Mutex
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New 创建调度器
func New(ticker Ticker, users storage.UserRepository, cfg config.PollConfig, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModePerUser
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 30 * time.Second
	}
	return &Scheduler{
		ticker:   ticker,
		users:    users,
		cfg:      cfg,
		log:      log.Named("scheduler"),
		now:      time.Now,
		tasks:    make(map[int64]*task),
		lastTick: make(map[int64]time.Time),
		stopCh:   make(chan struct{}),
	}
}

// SetMetrics 设置指标收集器
func (s *Scheduler) SetMetrics(m *monitoring.Metrics) {
	s.metrics = m
}

// Run 启动调度器并阻塞到 ctx 取消，适合放进 errgroup
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// Start 从存储恢复所有开启自动检查的用户并开始调度
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.rootCtx != nil {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	s.rootCtx = ctx

	if s.cfg.Mode == ModePerUser {
		// 恢复期间持有锁，并发的 Enable/Disable 在恢复完成后按顺序生效
		defer s.mu.Unlock()
		return s.restoreLocked(ctx)
	}
	s.mu.Unlock()

	switch s.cfg.Mode {
	case ModeGlobal:
		return s.startGlobal(ctx)
	default:
		return fmt.Errorf("unknown poll mode %q", s.cfg.Mode)
	}
}

func (s *Scheduler) restoreLocked(ctx context.Context) error {
	settings, err := s.users.ListAutoCheckSettings(ctx)
	if err != nil {
		return fmt.Errorf("restore poll tasks: %w", err)
	}
	for _, st := range settings {
		s.startTaskLocked(st.UserID, s.clamp(st.Interval()))
	}
	s.log.Info("scheduler started", zap.String("mode", s.cfg.Mode), zap.Int("tasks", len(settings)))
	return nil
}

// Stop 停止所有任务并等待正在进行的轮询结束
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	s.mu.Lock()
	for userID, t := range s.tasks {
		t.cancel()
		delete(s.tasks, userID)
	}
	c := s.cron
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	s.wg.Wait()
	if s.pool != nil {
		s.pool.Stop()
	}
	s.metrics.SetPollTasks(0)
	s.log.Info("scheduler stopped")
}

// clamp 保证间隔不低于最小值
func (s *Scheduler) clamp(interval time.Duration) time.Duration {
	if interval < s.cfg.MinInterval {
		return s.cfg.MinInterval
	}
	return interval
}

// Enable 为用户启动轮询任务；已有任务时替换
func (s *Scheduler) Enable(userID int64, interval time.Duration) {
	if s.cfg.Mode != ModePerUser {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// 尚未启动时由 Start 从存储恢复
	if s.rootCtx == nil {
		return
	}
	s.startTaskLocked(userID, s.clamp(interval))
}

// Disable 取消用户的轮询任务
func (s *Scheduler) Disable(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.lastTick, userID)
	if t, ok := s.tasks[userID]; ok {
		t.cancel()
		delete(s.tasks, userID)
		s.metrics.SetPollTasks(len(s.tasks))
		s.log.Debug("poll task cancelled", zap.Int64("user_id", userID))
	}
}

// Reschedule 以新间隔重启用户的轮询任务
func (s *Scheduler) Reschedule(userID int64, interval time.Duration) {
	if s.cfg.Mode != ModePerUser {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rootCtx == nil {
		return
	}
	interval = s.clamp(interval)
	if t, ok := s.tasks[userID]; ok && t.interval == interval {
		return
	}
	s.startTaskLocked(userID, interval)
}

// TaskInterval 返回用户当前任务的间隔
func (s *Scheduler) TaskInterval(userID int64) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[userID]
	if !ok {
		return 0, false
	}
	return t.interval, true
}

// TaskCount 返回当前任务数
func (s *Scheduler) TaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Scheduler) startTaskLocked(userID int64, interval time.Duration) {
	if old, ok := s.tasks[userID]; ok {
		old.cancel()
	}

	ctx, cancel := context.WithCancel(s.rootCtx)
	t := &task{cancel: cancel, done: make(chan struct{}), interval: interval}
	s.tasks[userID] = t
	s.metrics.SetPollTasks(len(s.tasks))

	s.wg.Add(1)
	go s.runTask(ctx, userID, t)

	s.log.Debug("poll task started", zap.Int64("user_id", userID), zap.Duration("interval", interval))
}

func (s *Scheduler) runTask(ctx context.Context, userID int64, t *task) {
	defer s.wg.Done()
	defer close(t.done)

	timer := time.NewTicker(t.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			// 两个分支同时就绪时 select 随机选择，取消后不再开始新的轮询
			if ctx.Err() != nil {
				return
			}
			// 使用根 ctx，任务被取消时正在进行的轮询可以完成
			_, _ = s.ticker.Tick(s.rootCtx, userID)
		}
	}
}

// ========== global 模式 ==========

func (s *Scheduler) startGlobal(ctx context.Context) error {
	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	queue := s.cfg.QueueSize
	if queue <= 0 {
		queue = 256
	}
	tick := s.cfg.GlobalTick
	if tick <= 0 {
		tick = 30 * time.Second
	}

	s.pool = pool.NewWorkerPool(workers, queue, s.log)
	s.pool.Start(ctx)

	cronLog := cronv3.PrintfLogger(zap.NewStdLog(s.log))
	c := cronv3.New(cronv3.WithChain(
		cronv3.SkipIfStillRunning(cronLog),
		cronv3.Recover(cronLog),
	))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", tick), func() { s.sweep(ctx) }); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}

	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()

	// 首次扫描在 first_delay 后执行，之后按 global_tick 周期执行
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(s.cfg.FirstDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-timer.C:
		}
		s.sweep(ctx)

		s.mu.Lock()
		defer s.mu.Unlock()
		select {
		case <-s.stopCh:
			return
		default:
		}
		c.Start()
	}()

	s.log.Info("scheduler started",
		zap.String("mode", s.cfg.Mode),
		zap.Duration("tick", tick),
		zap.Duration("first_delay", s.cfg.FirstDelay),
		zap.Int("workers", workers))
	return nil
}

// sweep 扫描开启自动检查的用户，提交到期的轮询
func (s *Scheduler) sweep(ctx context.Context) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	settings, err := s.users.ListAutoCheckSettings(ctx)
	if err != nil {
		s.log.Error("failed to list auto-check users", zap.Error(err))
		return
	}
	s.metrics.SetPollTasks(len(settings))

	now := s.now()
	enabled := make(map[int64]struct{}, len(settings))
	submitted := 0

	for _, st := range settings {
		userID := st.UserID
		enabled[userID] = struct{}{}

		s.mu.Lock()
		last, seen := s.lastTick[userID]
		if seen && now.Sub(last) < s.clamp(st.Interval()) {
			s.mu.Unlock()
			continue
		}
		s.lastTick[userID] = now
		s.mu.Unlock()

		if !s.pool.TrySubmit(func() { s.tickIfEnabled(ctx, userID) }) {
			s.log.Warn("poll queue full, user deferred to next sweep", zap.Int64("user_id", userID))
			s.mu.Lock()
			if seen {
				s.lastTick[userID] = last
			} else {
				delete(s.lastTick, userID)
			}
			s.mu.Unlock()
			continue
		}
		submitted++
	}

	s.mu.Lock()
	for userID := range s.lastTick {
		if _, ok := enabled[userID]; !ok {
			delete(s.lastTick, userID)
		}
	}
	s.mu.Unlock()

	s.log.Debug("sweep finished", zap.Int("users", len(settings)), zap.Int("submitted", submitted))
}

// tickIfEnabled 出队时重新读取设置，排队期间被关闭的用户不再轮询
func (s *Scheduler) tickIfEnabled(ctx context.Context, userID int64) {
	settings, err := s.users.GetSettings(ctx, userID)
	if err != nil {
		s.log.Warn("failed to reload settings before tick", zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	if !settings.AutoCheck {
		s.log.Debug("auto check disabled while queued", zap.Int64("user_id", userID))
		return
	}
	_, _ = s.ticker.Tick(ctx, userID)
}
