package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript 只删除自己持有的租约
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// TickLease 基于 SET NX PX 的用户级轮询租约，保证多个实例不会同时轮询同一用户
type TickLease struct {
	client *Client
	prefix string
	ttl    time.Duration
}

// NewTickLease 创建租约，ttl 应大于单次轮询的最长耗时
func NewTickLease(client *Client, prefix string, ttl time.Duration) *TickLease {
	if prefix == "" {
		prefix = "mailninja:poll"
	}
	return &TickLease{client: client, prefix: prefix, ttl: ttl}
}

// Key 返回用户的租约键
func (l *TickLease) Key(userID int64) string {
	return fmt.Sprintf("%s:%d", l.prefix, userID)
}

// Acquire 尝试获取用户的租约；未获取到时 acquired 为 false
func (l *TickLease) Acquire(ctx context.Context, userID int64) (release func(), acquired bool, err error) {
	key := l.Key(userID)
	token := uuid.NewString()

	ok, err := l.client.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return func() {}, false, nil
	}

	release = func() {
		// 使用独立的 ctx，调用方 ctx 取消后也能释放
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client.rdb, []string{key}, token).Err(); err != nil && err != goredis.Nil {
			l.client.log.Warn("failed to release poll lease", zap.String("key", key), zap.Error(err))
		}
	}
	return release, true, nil
}
