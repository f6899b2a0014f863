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

const mailboxColumns = `id, user_id, provider, address, login, domain, secret, token, active, expires_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMailbox(row rowScanner) (*domain.Mailbox, error) {
	var mb domain.Mailbox
	var provider string
	var login, host, secret, token sql.NullString
	var expiresAt sql.NullTime

	if err := row.Scan(
		&mb.ID,
		&mb.UserID,
		&provider,
		&mb.Address,
		&login,
		&host,
		&secret,
		&token,
		&mb.Active,
		&expiresAt,
		&mb.CreatedAt,
	); err != nil {
		return nil, err
	}

	mb.Provider = domain.ProviderName(provider)
	mb.Login = login.String
	mb.Domain = host.String
	if secret.Valid {
		mb.Secret = &secret.String
	}
	if token.Valid {
		mb.Token = &token.String
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		mb.ExpiresAt = &t
	}
	return &mb, nil
}

func (s *Store) queryMailboxes(ctx context.Context, q interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}, query string, args ...any) ([]domain.Mailbox, error) {
	rows, err := q.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]domain.Mailbox, 0)
	for rows.Next() {
		mb, err := scanMailbox(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *mb)
	}
	return list, rows.Err()
}

// ========== Mailbox Repository ==========

// CreateMailbox 锁定用户行后执行容量清理，再插入新的活跃邮箱
func (s *Store) CreateMailbox(ctx context.Context, mailbox *domain.Mailbox, planner storage.CapacityPlanner) (domain.CapacityPlan, error) {
	var plan domain.CapacityPlan
	if mailbox.CreatedAt.IsZero() {
		mailbox.CreatedAt = time.Now().UTC()
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.ensureUser(ctx, tx, mailbox.UserID, 0); err != nil {
			return err
		}

		// 用户行作为该用户所有邮箱写操作的互斥锁
		var locked int64
		if err := tx.QueryRowContext(ctx, s.rebind("SELECT id FROM users WHERE id = ? FOR UPDATE"), mailbox.UserID).Scan(&locked); err != nil {
			return err
		}

		existing, err := s.queryMailboxes(ctx, tx, "SELECT "+mailboxColumns+" FROM mailboxes WHERE user_id = ?", mailbox.UserID)
		if err != nil {
			return err
		}
		if planner != nil {
			plan = planner(existing)
		}
		if len(plan.Delete) > 0 {
			if err := s.deleteMailboxes(ctx, tx, mailbox.UserID, plan.Delete); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx,
			s.rebind("UPDATE mailboxes SET active = ? WHERE user_id = ? AND active = ?"),
			false, mailbox.UserID, true,
		); err != nil {
			return err
		}

		query := s.rebind(`
			INSERT INTO mailboxes (` + mailboxColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		_, err = tx.ExecContext(ctx, query,
			mailbox.ID,
			mailbox.UserID,
			string(mailbox.Provider),
			mailbox.Address,
			mailbox.Login,
			mailbox.Domain,
			mailbox.Secret,
			mailbox.Token,
			true,
			mailbox.ExpiresAt,
			mailbox.CreatedAt,
		)
		if err != nil {
			if isDuplicateKey(err) {
				return storage.ErrAddressExists
			}
			return err
		}
		return nil
	})
	if err != nil {
		return domain.CapacityPlan{}, err
	}
	mailbox.Active = true
	return plan, nil
}

// deleteMailboxes 删除用户的指定邮箱及其账本记录
func (s *Store) deleteMailboxes(ctx context.Context, tx *sql.Tx, userID int64, ids []string) error {
	in, args := inClause(ids)

	rows, err := tx.QueryContext(ctx, s.rebind("SELECT address FROM mailboxes WHERE user_id = ? AND id IN "+in), append([]any{userID}, args...)...)
	if err != nil {
		return err
	}
	var addresses []string
	for rows.Next() {
		var address string
		if err := rows.Scan(&address); err != nil {
			rows.Close()
			return err
		}
		addresses = append(addresses, address)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if len(addresses) > 0 {
		addrIn, addrArgs := inClause(addresses)
		if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM seen_messages WHERE address IN "+addrIn), addrArgs...); err != nil {
			return err
		}
	}
	_, err = tx.ExecContext(ctx, s.rebind("DELETE FROM mailboxes WHERE user_id = ? AND id IN "+in), append([]any{userID}, args...)...)
	return err
}

// ActivateMailbox 把指定邮箱设为唯一活跃邮箱
func (s *Store) ActivateMailbox(ctx context.Context, userID int64, mailboxID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		// 与 CreateMailbox 使用同一把用户行锁，切换和创建串行执行
		var locked int64
		err := tx.QueryRowContext(ctx, s.rebind("SELECT id FROM users WHERE id = ? FOR UPDATE"), userID).Scan(&locked)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrMailboxNotFound
			}
			return fmt.Errorf("lock user: %w", err)
		}

		var id string
		err = tx.QueryRowContext(ctx,
			s.rebind("SELECT id FROM mailboxes WHERE id = ? AND user_id = ?"),
			mailboxID, userID,
		).Scan(&id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrMailboxNotFound
			}
			return err
		}

		if _, err := tx.ExecContext(ctx,
			s.rebind("UPDATE mailboxes SET active = ? WHERE user_id = ? AND active = ? AND id <> ?"),
			false, userID, true, mailboxID,
		); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, s.rebind("UPDATE mailboxes SET active = ? WHERE id = ?"), true, mailboxID)
		return err
	})
}

// DeleteMailbox 删除邮箱及其已读记录
func (s *Store) DeleteMailbox(ctx context.Context, userID int64, mailboxID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var id string
		err := tx.QueryRowContext(ctx,
			s.rebind("SELECT id FROM mailboxes WHERE id = ? AND user_id = ?"),
			mailboxID, userID,
		).Scan(&id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrMailboxNotFound
			}
			return err
		}
		return s.deleteMailboxes(ctx, tx, userID, []string{mailboxID})
	})
}

// GetMailbox 获取用户的指定邮箱
func (s *Store) GetMailbox(ctx context.Context, userID int64, mailboxID string) (*domain.Mailbox, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind("SELECT "+mailboxColumns+" FROM mailboxes WHERE id = ? AND user_id = ?"),
		mailboxID, userID,
	)
	mb, err := scanMailbox(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrMailboxNotFound
		}
		return nil, err
	}
	return mb, nil
}

// GetActiveMailbox 获取用户的活跃邮箱
func (s *Store) GetActiveMailbox(ctx context.Context, userID int64) (*domain.Mailbox, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind("SELECT "+mailboxColumns+" FROM mailboxes WHERE user_id = ? AND active = ?"),
		userID, true,
	)
	mb, err := scanMailbox(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrMailboxNotFound
		}
		return nil, err
	}
	return mb, nil
}

// ListMailboxesByUser 按创建时间倒序返回用户的全部邮箱
func (s *Store) ListMailboxesByUser(ctx context.Context, userID int64) ([]domain.Mailbox, error) {
	return s.queryMailboxes(ctx, s.db,
		"SELECT "+mailboxColumns+" FROM mailboxes WHERE user_id = ? ORDER BY created_at DESC, id DESC",
		userID,
	)
}

// UpdateMailboxToken 更新令牌缓存
func (s *Store) UpdateMailboxToken(ctx context.Context, mailboxID string, token *string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var id string
		err := tx.QueryRowContext(ctx, s.rebind("SELECT id FROM mailboxes WHERE id = ?"), mailboxID).Scan(&id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrMailboxNotFound
			}
			return err
		}
		_, err = tx.ExecContext(ctx, s.rebind("UPDATE mailboxes SET token = ? WHERE id = ?"), token, mailboxID)
		return err
	})
}

// DeleteExpiredMailboxes 删除所有过期邮箱，返回删除数量
func (s *Store) DeleteExpiredMailboxes(ctx context.Context, now time.Time) (int, error) {
	count := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			s.rebind("SELECT id, user_id FROM mailboxes WHERE expires_at IS NOT NULL AND expires_at <= ?"),
			now,
		)
		if err != nil {
			return err
		}
		byUser := make(map[int64][]string)
		for rows.Next() {
			var id string
			var userID int64
			if err := rows.Scan(&id, &userID); err != nil {
				rows.Close()
				return err
			}
			byUser[userID] = append(byUser[userID], id)
			count++
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for userID, ids := range byUser {
			if err := s.deleteMailboxes(ctx, tx, userID, ids); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
