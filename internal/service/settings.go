package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"mailninja/backend/internal/config"
	"mailninja/backend/internal/domain"
	"mailninja/backend/internal/storage"
)

// PollController 由调度器实现，设置变化后启动、停止或重排用户的轮询任务
type PollController interface {
	Enable(userID int64, interval time.Duration)
	Disable(userID int64)
	Reschedule(userID int64, interval time.Duration)
}

// SettingsService 管理用户的自动检查设置
type SettingsService struct {
	store   storage.UserRepository
	cfg     *config.PollConfig
	control PollController
	log     *zap.Logger

	writeMu sync.Mutex
}

// NewSettingsService 创建设置服务
func NewSettingsService(store storage.UserRepository, cfg *config.PollConfig, log *zap.Logger) *SettingsService {
	if log == nil {
		log = zap.NewNop()
	}
	return &SettingsService{store: store, cfg: cfg, log: log.Named("settings")}
}

// SetPollController 设置调度器（避免循环依赖）
func (s *SettingsService) SetPollController(control PollController) {
	s.control = control
}

// MinInterval 返回允许的最小轮询间隔
func (s *SettingsService) MinInterval() time.Duration {
	if s.cfg == nil || s.cfg.MinInterval <= 0 {
		return 30 * time.Second
	}
	return s.cfg.MinInterval
}

func (s *SettingsService) defaultInterval() int {
	if s.cfg == nil || s.cfg.DefaultInterval <= 0 {
		return domain.DefaultIntervalSeconds
	}
	return int(s.cfg.DefaultInterval / time.Second)
}

// EnsureUser 首次出现的用户创建默认设置
func (s *SettingsService) EnsureUser(ctx context.Context, userID int64) error {
	if err := domain.ValidateUserID(userID); err != nil {
		return err
	}
	return s.store.EnsureUser(ctx, userID, s.defaultInterval())
}

// GetSettings 返回用户设置
func (s *SettingsService) GetSettings(ctx context.Context, userID int64) (*domain.Settings, error) {
	if err := s.EnsureUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.GetSettings(ctx, userID)
}

// SetAutoCheck 开启或关闭自动检查，持久化后按存储结果通知调度器
func (s *SettingsService) SetAutoCheck(ctx context.Context, userID int64, enabled bool) (*domain.Settings, error) {
	if err := s.EnsureUser(ctx, userID); err != nil {
		return nil, err
	}

	// 持久化与通知串行执行，调度器看到的顺序与存储一致
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	settings, err := s.store.UpdateAutoCheck(ctx, userID, enabled)
	if err != nil {
		return nil, err
	}

	if s.control != nil {
		if settings.AutoCheck {
			s.control.Enable(userID, settings.Interval())
		} else {
			s.control.Disable(userID)
		}
	}

	s.log.Info("auto check updated", zap.Int64("user_id", userID), zap.Bool("enabled", settings.AutoCheck))
	return settings, nil
}

// SetInterval 修改轮询间隔。低于最小值时返回 domain.ErrIntervalTooShort，设置保持不变。
func (s *SettingsService) SetInterval(ctx context.Context, userID int64, seconds int) (*domain.Settings, error) {
	minInterval := s.MinInterval()
	if time.Duration(seconds)*time.Second < minInterval {
		return nil, fmt.Errorf("%w: minimum is %d seconds", domain.ErrIntervalTooShort, int(minInterval/time.Second))
	}

	if err := s.EnsureUser(ctx, userID); err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	settings, err := s.store.UpdateInterval(ctx, userID, seconds)
	if err != nil {
		return nil, err
	}

	if settings.AutoCheck && s.control != nil {
		s.control.Reschedule(userID, settings.Interval())
	}

	s.log.Info("interval updated", zap.Int64("user_id", userID), zap.Int("seconds", settings.IntervalSeconds))
	return settings, nil
}
