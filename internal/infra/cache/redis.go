package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"tg-activity-bot/internal/domain"
	"tg-activity-bot/internal/infra/metrics"
)

const lockPollInterval = 100 * time.Millisecond

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker реализует domain.Locker через SET NX PX.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

var _ domain.Locker = (*RedisLocker)(nil)

// NewRedisLocker создаёт блокировку с общим префиксом ключей.
func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

// Lock ждёт освобождения ключа. Блокировка истекает сама через ttl, если процесс упал.
// Освобождение удаляет ключ, только если он всё ещё принадлежит этому владельцу.
func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	fullKey := l.prefix + key
	token := uuid.NewString()
	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()
	for {
		start := time.Now()
		ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
		metrics.ObserveNetworkRequest("redis", "setnx", "lock", start, err)
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			return func() {
				_ = releaseScript.Run(context.Background(), l.client, []string{fullKey}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
