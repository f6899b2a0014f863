package sql

import (
	"context"
	"time"
)

// ========== Seen Ledger ==========

// MarkSeen 插入已读记录，主键冲突时忽略并返回 false
func (s *Store) MarkSeen(ctx context.Context, address, messageID string) (bool, error) {
	prefix, suffix := s.insertIgnore()
	query := s.rebind(prefix + " seen_messages (address, message_id, seen_at) VALUES (?, ?, ?)" + suffix)

	result, err := s.db.ExecContext(ctx, query, address, messageID, time.Now().UTC())
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// IsSeen 判断是否已处理
func (s *Store) IsSeen(ctx context.Context, address, messageID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		s.rebind("SELECT COUNT(*) FROM seen_messages WHERE address = ? AND message_id = ?"),
		address, messageID,
	).Scan(&count)
	return count > 0, err
}

// CountSeen 统计邮箱已处理的邮件数
func (s *Store) CountSeen(ctx context.Context, address string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		s.rebind("SELECT COUNT(*) FROM seen_messages WHERE address = ?"),
		address,
	).Scan(&count)
	return count, err
}
