package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

// ErrLockNotHeld возвращается при освобождении блокировки, которая истекла или перехвачена.
var ErrLockNotHeld = errors.New("lock is not held by this owner")

// releaseScript удаляет ключ, только если он всё ещё принадлежит владельцу токена.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// redisClient — подмножество *redis.Client, нужное блокировке.
type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisLocker — распределённая блокировка прогонов на одном ключе Redis.
type RedisLocker struct {
	client redisClient
	prefix string
}

// NewRedisLocker создаёт блокировку поверх клиента Redis.
func NewRedisLocker(client redisClient, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

// NewRedisClient создаёт клиента с короткими таймаутами.
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// TryLock захватывает key на ttl. Если ключ занят, возвращает domain.ErrRunInProgress.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", fullKey, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock %s: %w", fullKey, domain.ErrRunInProgress)
	}

	unlock := func(ctx context.Context) error {
		deleted, err := l.client.Eval(ctx, releaseScript, []string{fullKey}, token).Int64()
		if err != nil {
			return fmt.Errorf("release lock %s: %w", fullKey, err)
		}
		if deleted == 0 {
			return fmt.Errorf("release lock %s: %w", fullKey, ErrLockNotHeld)
		}
		return nil
	}
	return unlock, nil
}

// Ping проверяет доступность Redis для readiness.
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
