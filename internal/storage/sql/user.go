package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mailninja/backend/internal/domain"
	"mailninja/backend/internal/storage"
)

// ========== User Repository ==========

// EnsureUser 用户不存在时创建用户和默认设置
func (s *Store) EnsureUser(ctx context.Context, userID int64, defaultInterval int) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.ensureUser(ctx, tx, userID, defaultInterval)
	})
}

func (s *Store) ensureUser(ctx context.Context, tx *sql.Tx, userID int64, defaultInterval int) error {
	if defaultInterval <= 0 {
		defaultInterval = domain.DefaultIntervalSeconds
	}
	now := time.Now().UTC()
	prefix, suffix := s.insertIgnore()

	query := s.rebind(prefix + " users (id, created_at) VALUES (?, ?)" + suffix)
	if _, err := tx.ExecContext(ctx, query, userID, now); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	query = s.rebind(prefix + " settings (user_id, auto_check, interval_seconds, updated_at) VALUES (?, ?, ?, ?)" + suffix)
	if _, err := tx.ExecContext(ctx, query, userID, false, defaultInterval, now); err != nil {
		return fmt.Errorf("insert settings: %w", err)
	}
	return nil
}

// GetSettings 获取用户设置
func (s *Store) GetSettings(ctx context.Context, userID int64) (*domain.Settings, error) {
	query := s.rebind(`
		SELECT user_id, auto_check, interval_seconds, updated_at
		FROM settings
		WHERE user_id = ?
	`)
	var settings domain.Settings
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&settings.UserID,
		&settings.AutoCheck,
		&settings.IntervalSeconds,
		&settings.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrUserNotFound
		}
		return nil, err
	}
	return &settings, nil
}

// UpdateAutoCheck 更新自动检查开关
func (s *Store) UpdateAutoCheck(ctx context.Context, userID int64, enabled bool) (*domain.Settings, error) {
	return s.updateSettingsColumn(ctx, userID, "UPDATE settings SET auto_check = ?, updated_at = ? WHERE user_id = ?", enabled)
}

// UpdateInterval 更新轮询间隔
func (s *Store) UpdateInterval(ctx context.Context, userID int64, seconds int) (*domain.Settings, error) {
	return s.updateSettingsColumn(ctx, userID, "UPDATE settings SET interval_seconds = ?, updated_at = ? WHERE user_id = ?", seconds)
}

// updateSettingsColumn 单列更新后在同一事务内读回
func (s *Store) updateSettingsColumn(ctx context.Context, userID int64, update string, value any) (*domain.Settings, error) {
	var settings domain.Settings
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.rebind(update), value, time.Now().UTC(), userID); err != nil {
			return err
		}

		// MySQL 的 RowsAffected 不计值未变化的行，用读回判断是否存在
		err := tx.QueryRowContext(ctx,
			s.rebind("SELECT user_id, auto_check, interval_seconds, updated_at FROM settings WHERE user_id = ?"),
			userID,
		).Scan(&settings.UserID, &settings.AutoCheck, &settings.IntervalSeconds, &settings.UpdatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrUserNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// ListAutoCheckSettings 返回开启自动检查的用户设置
func (s *Store) ListAutoCheckSettings(ctx context.Context) ([]domain.Settings, error) {
	query := s.rebind(`
		SELECT user_id, auto_check, interval_seconds, updated_at
		FROM settings
		WHERE auto_check = ?
		ORDER BY user_id
	`)
	rows, err := s.db.QueryContext(ctx, query, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []domain.Settings
	for rows.Next() {
		var settings domain.Settings
		if err := rows.Scan(&settings.UserID, &settings.AutoCheck, &settings.IntervalSeconds, &settings.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, settings)
	}
	return list, rows.Err()
}
