package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"prospect-engine/internal/domain"
)

type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

var _ Locker = (*RedisLocker)(nil)

const lockAttempts = 3

// RedisLocker is a single-instance SETNX lock with a random owner token.
type RedisLocker struct {
	cli *redis.Client
}

func NewLocker(c *Client) *RedisLocker {
	return &RedisLocker{cli: c.cli}
}

// TryLock takes key for ttl. A key held elsewhere fails at once with
// domain.ErrLockNotAcquired; only transport errors are retried.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	var lastErr error
	for i := 0; i < lockAttempts; i++ {
		ok, err := l.cli.SetNX(ctx, key, token, ttl).Result()
		if err == nil {
			if !ok {
				return "", domain.ErrLockNotAcquired
			}
			return token, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Duration(i+1) * 50 * time.Millisecond):
		}
	}
	return "", fmt.Errorf("lock %s: %w", key, lastErr)
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

// Unlock deletes key only while it still holds token.
func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	_, err := luaUnlock.Run(ctx, l.cli, []string{key}, token).Result()
	return err
}

// WithLock runs fn while holding key. When the key is held elsewhere fn does
// not run and domain.ErrLockNotAcquired is returned. The lock is released
// even if ctx was cancelled meanwhile.
func WithLock(ctx context.Context, l Locker, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	token, err := l.TryLock(ctx, key, ttl)
	if err != nil {
		return err
	}
	runErr := fn(ctx)
	if err := l.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
		return errors.Join(runErr, fmt.Errorf("unlock %s: %w", key, err))
	}
	return runErr
}
