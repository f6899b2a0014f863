package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"mailninja/backend/internal/domain"
)

// Publisher 发布消息到频道，*redis.Client 实现了该接口
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) (int64, error)
}

// RedisPublisher 把通知发布到 <prefix>:<userID> 频道
type RedisPublisher struct {
	publisher Publisher
	prefix    string
}

// NewRedisPublisher 创建发布器
func NewRedisPublisher(publisher Publisher, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = "mailninja:notifications"
	}
	return &RedisPublisher{publisher: publisher, prefix: prefix}
}

// Channel 返回用户的通知频道
func (p *RedisPublisher) Channel(userID int64) string {
	return fmt.Sprintf("%s:%d", p.prefix, userID)
}

// Notify 实现 Notifier；没有订阅者不算失败
func (p *RedisPublisher) Notify(ctx context.Context, n domain.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if _, err := p.publisher.Publish(ctx, p.Channel(n.UserID), payload); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
