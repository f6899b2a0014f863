package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"mailninja/backend/internal/domain"
	"mailninja/backend/internal/storage"
)

// PoolOptions 连接池配置
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store 基于 GORM 的存储实现，支持 PostgreSQL 与 MySQL
type Store struct {
	db      *gorm.DB
	dialect string
}

var _ storage.Store = (*Store)(nil)

// NewPostgresStore 创建 PostgreSQL 存储实例
func NewPostgresStore(dsn string, pool PoolOptions) (*Store, error) {
	return NewStoreWithDialector(postgres.Open(dsn), pool)
}

// NewMySQLStore 创建 MySQL 存储实例，DSN 需要包含 parseTime=true
func NewMySQLStore(dsn string, pool PoolOptions) (*Store, error) {
	return NewStoreWithDialector(mysql.Open(dsn), pool)
}

// NewStoreWithDialector 使用指定的GORM dialector创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector, pool PoolOptions) (*Store, error) {
	config := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		TranslateError: true,
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(withDefault(pool.MaxOpenConns, 25))
	sqlDB.SetMaxIdleConns(withDefault(pool.MaxIdleConns, 5))
	if pool.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	} else {
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
	}

	store := &Store{db: db, dialect: dialector.Name()}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate 自动迁移数据库表结构
func (s *Store) migrate() error {
	if err := s.db.AutoMigrate(
		&domain.User{},
		&domain.Settings{},
		&domain.Mailbox{},
		&domain.SeenEntry{},
	); err != nil {
		return err
	}

	// PostgreSQL 支持部分唯一索引，由数据库保证每个用户只有一个活跃邮箱
	if s.dialect == "postgres" {
		return s.db.Exec(
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_mailboxes_single_active ON mailboxes (user_id) WHERE active",
		).Error
	}
	return nil
}

// ========== User Repository ==========

// EnsureUser 用户不存在时创建用户和默认设置
func (s *Store) EnsureUser(ctx context.Context, userID int64, defaultInterval int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return ensureUser(tx, userID, defaultInterval)
	})
}

func ensureUser(tx *gorm.DB, userID int64, defaultInterval int) error {
	user := domain.User{ID: userID}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&user).Error; err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	settings := domain.DefaultSettings(userID)
	if defaultInterval > 0 {
		settings.IntervalSeconds = defaultInterval
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&settings).Error; err != nil {
		return fmt.Errorf("insert settings: %w", err)
	}
	return nil
}

// GetSettings 获取用户设置
func (s *Store) GetSettings(ctx context.Context, userID int64) (*domain.Settings, error) {
	var settings domain.Settings
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&settings).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrUserNotFound
		}
		return nil, err
	}
	return &settings, nil
}

// UpdateAutoCheck 更新自动检查开关
func (s *Store) UpdateAutoCheck(ctx context.Context, userID int64, enabled bool) (*domain.Settings, error) {
	return s.updateSettingsColumn(ctx, userID, "auto_check", enabled)
}

// UpdateInterval 更新轮询间隔
func (s *Store) UpdateInterval(ctx context.Context, userID int64, seconds int) (*domain.Settings, error) {
	return s.updateSettingsColumn(ctx, userID, "interval_seconds", seconds)
}

// updateSettingsColumn 单列更新，并发修改不同列时互不覆盖
func (s *Store) updateSettingsColumn(ctx context.Context, userID int64, column string, value any) (*domain.Settings, error) {
	var settings domain.Settings
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&domain.Settings{}).Where("user_id = ?", userID).Updates(map[string]any{
			column:       value,
			"updated_at": time.Now().UTC(),
		})
		if result.Error != nil {
			return result.Error
		}
		// MySQL 的 RowsAffected 不计值未变化的行，用读回判断是否存在
		err := tx.Where("user_id = ?", userID).First(&settings).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
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
	var list []domain.Settings
	if err := s.db.WithContext(ctx).Where("auto_check = ?", true).Order("user_id").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// ========== Mailbox Repository ==========

// CreateMailbox 锁定用户行后执行容量清理，再插入新的活跃邮箱
func (s *Store) CreateMailbox(ctx context.Context, mailbox *domain.Mailbox, planner storage.CapacityPlanner) (domain.CapacityPlan, error) {
	var plan domain.CapacityPlan
	if mailbox.CreatedAt.IsZero() {
		mailbox.CreatedAt = time.Now().UTC()
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureUser(tx, mailbox.UserID, 0); err != nil {
			return err
		}

		// 用户行作为该用户所有邮箱写操作的互斥锁
		var user domain.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", mailbox.UserID).First(&user).Error; err != nil {
			return fmt.Errorf("lock user: %w", err)
		}

		var existing []domain.Mailbox
		if err := tx.Where("user_id = ?", mailbox.UserID).Find(&existing).Error; err != nil {
			return err
		}
		if planner != nil {
			plan = planner(existing)
		}

		if len(plan.Delete) > 0 {
			if err := deleteMailboxes(tx, mailbox.UserID, plan.Delete); err != nil {
				return err
			}
		}

		if err := tx.Model(&domain.Mailbox{}).
			Where("user_id = ? AND active = ?", mailbox.UserID, true).
			Update("active", false).Error; err != nil {
			return err
		}

		mailbox.Active = true
		if err := tx.Create(mailbox).Error; err != nil {
			if isDuplicateKey(err) {
				return storage.ErrAddressExists
			}
			return err
		}
		return nil
	})
	if err != nil {
		mailbox.Active = false
		return domain.CapacityPlan{}, err
	}
	return plan, nil
}

// deleteMailboxes 删除用户的指定邮箱及其账本记录
func deleteMailboxes(tx *gorm.DB, userID int64, ids []string) error {
	var addresses []string
	if err := tx.Model(&domain.Mailbox{}).
		Where("user_id = ? AND id IN ?", userID, ids).
		Pluck("address", &addresses).Error; err != nil {
		return err
	}
	if len(addresses) > 0 {
		if err := tx.Where("address IN ?", addresses).Delete(&domain.SeenEntry{}).Error; err != nil {
			return err
		}
	}
	return tx.Where("user_id = ? AND id IN ?", userID, ids).Delete(&domain.Mailbox{}).Error
}

// ActivateMailbox 把指定邮箱设为唯一活跃邮箱
func (s *Store) ActivateMailbox(ctx context.Context, userID int64, mailboxID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 与 CreateMailbox 使用同一把用户行锁，切换和创建串行执行
		var user domain.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", userID).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return storage.ErrMailboxNotFound
			}
			return fmt.Errorf("lock user: %w", err)
		}

		var target domain.Mailbox
		if err := tx.Where("id = ? AND user_id = ?", mailboxID, userID).
			First(&target).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return storage.ErrMailboxNotFound
			}
			return err
		}

		// 先全部停用再激活目标，满足部分唯一索引
		if err := tx.Model(&domain.Mailbox{}).
			Where("user_id = ? AND active = ? AND id <> ?", userID, true, mailboxID).
			Update("active", false).Error; err != nil {
			return err
		}
		return tx.Model(&domain.Mailbox{}).Where("id = ?", mailboxID).Update("active", true).Error
	})
}

// DeleteMailbox 删除邮箱及其已读记录
func (s *Store) DeleteMailbox(ctx context.Context, userID int64, mailboxID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var target domain.Mailbox
		if err := tx.Where("id = ? AND user_id = ?", mailboxID, userID).First(&target).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return storage.ErrMailboxNotFound
			}
			return err
		}
		return deleteMailboxes(tx, userID, []string{mailboxID})
	})
}

// GetMailbox 获取用户的指定邮箱
func (s *Store) GetMailbox(ctx context.Context, userID int64, mailboxID string) (*domain.Mailbox, error) {
	var mailbox domain.Mailbox
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", mailboxID, userID).First(&mailbox).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrMailboxNotFound
		}
		return nil, err
	}
	return &mailbox, nil
}

// GetActiveMailbox 获取用户的活跃邮箱
func (s *Store) GetActiveMailbox(ctx context.Context, userID int64) (*domain.Mailbox, error) {
	var mailbox domain.Mailbox
	err := s.db.WithContext(ctx).Where("user_id = ? AND active = ?", userID, true).First(&mailbox).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrMailboxNotFound
		}
		return nil, err
	}
	return &mailbox, nil
}

// ListMailboxesByUser 按创建时间倒序返回用户的全部邮箱
func (s *Store) ListMailboxesByUser(ctx context.Context, userID int64) ([]domain.Mailbox, error) {
	var list []domain.Mailbox
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

// UpdateMailboxToken 更新令牌缓存
func (s *Store) UpdateMailboxToken(ctx context.Context, mailboxID string, token *string) error {
	result := s.db.WithContext(ctx).Model(&domain.Mailbox{}).Where("id = ?", mailboxID).Update("token", token)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// MySQL 在值未变化时返回 0 行，需要再确认记录是否存在
		var count int64
		if err := s.db.WithContext(ctx).Model(&domain.Mailbox{}).Where("id = ?", mailboxID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return storage.ErrMailboxNotFound
		}
	}
	return nil
}

// DeleteExpiredMailboxes 删除所有过期邮箱，返回删除数量
func (s *Store) DeleteExpiredMailboxes(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var expired []domain.Mailbox
		if err := tx.Where("expires_at IS NOT NULL AND expires_at <= ?", now).Find(&expired).Error; err != nil {
			return err
		}
		count = len(expired)
		if count == 0 {
			return nil
		}

		ids := make([]string, 0, count)
		addresses := make([]string, 0, count)
		for _, mb := range expired {
			ids = append(ids, mb.ID)
			addresses = append(addresses, mb.Address)
		}
		if err := tx.Where("address IN ?", addresses).Delete(&domain.SeenEntry{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&domain.Mailbox{}).Error
	})
	return count, err
}

// ========== Seen Ledger ==========

// MarkSeen 插入已读记录，冲突时不做任何事并返回 false
func (s *Store) MarkSeen(ctx context.Context, address, messageID string) (bool, error) {
	entry := domain.SeenEntry{Address: address, MessageID: messageID, SeenAt: time.Now().UTC()}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// IsSeen 判断是否已处理
func (s *Store) IsSeen(ctx context.Context, address, messageID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.SeenEntry{}).
		Where("address = ? AND message_id = ?", address, messageID).
		Count(&count).Error
	return count > 0, err
}

// CountSeen 统计邮箱已处理的邮件数
func (s *Store) CountSeen(ctx context.Context, address string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.SeenEntry{}).Where("address = ?", address).Count(&count).Error
	return int(count), err
}

// Health 检查数据库连接
func (s *Store) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// isDuplicateKey 识别唯一约束冲突
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return true
	}
	return false
}

func withDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
