package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrLockHeld 重试耗尽后锁仍被其他请求持有。
var ErrLockHeld = errors.New("redis: lock held")

// luaReleaseLockIfMatch 仅当锁值匹配 token 时才删除，避免误删别人的锁。
const luaReleaseLockIfMatch = `
local lockKey = KEYS[1]
local token = ARGV[1]
if redis.call('GET', lockKey) == token then
  return redis.call('DEL', lockKey)
end
return 0
`

const (
	lockRetryInterval = 50 * time.Millisecond
	lockMaxAttempts   = 20
)

// OrderLocker 跨 API 实例串行化同一订单的读改写。
type OrderLocker struct {
	rdb *rd.Client
	ttl time.Duration
}

func NewOrderLocker(rdb *rd.Client, ttl time.Duration) *OrderLocker {
	return &OrderLocker{rdb: rdb, ttl: ttl}
}

// Lock 短暂重试获取订单锁，返回释放函数。
// TTL 限定了崩溃的持有者最多能阻塞订单多久。
func (l *OrderLocker) Lock(ctx context.Context, orderID string) (func(), error) {
	key := OrderLockKey(orderID)
	token := uuid.NewString()

	for attempt := 0; attempt < lockMaxAttempts; attempt++ {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				// 请求结束后即使 ctx 已取消也要释放；失败时等 TTL 过期
				if err := ReleaseLockIfMatch(context.Background(), l.rdb, key, token); err != nil {
					log.Warn().Err(err).Str("key", key).Msg("release order lock failed")
				}
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
	return nil, ErrLockHeld
}

// ReleaseLockIfMatch 安全释放锁。
func ReleaseLockIfMatch(ctx context.Context, rdb *rd.Client, lockKey, token string) error {
	_, err := rdb.Eval(ctx, luaReleaseLockIfMatch, []string{lockKey}, token).Int()
	return err
}
