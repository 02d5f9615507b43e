package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/ledger-core/pkg/redis"
)

const (
	defaultRedisLockTTL  = 30 * time.Second
	minRedisPollInterval = 5 * time.Millisecond
	maxRedisPollInterval = 100 * time.Millisecond
)

// RedisLocker is a Locker shared by every process pointed at the same redis.
// Each holder writes a random token and only that token can release the key.
// The TTL bounds how long a crashed holder blocks others.
type RedisLocker struct {
	store redis.LockStore
	ttl   time.Duration
}

// NewRedisLocker builds a RedisLocker. A non-positive ttl falls back to 30s.
func NewRedisLocker(store redis.LockStore, ttl time.Duration) (*RedisLocker, error) {
	if store == nil {
		return nil, errors.New("lock store required")
	}
	if ttl <= 0 {
		ttl = defaultRedisLockTTL
	}
	return &RedisLocker{store: store, ttl: ttl}, nil
}

// Acquire implements Locker by polling SET NX with growing intervals.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (Release, error) {
	redisKey := l.store.LockKey(key)
	token := uuid.NewString()
	wait := minRedisPollInterval

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrTimeout, key, err)
		}

		ok, err := l.store.SetNX(ctx, redisKey, token, l.ttl)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrTimeout, key, ctx.Err())
			}
			return nil, fmt.Errorf("acquire redis lock %s: %w", key, err)
		}
		if ok {
			return l.releaser(redisKey, token), nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %s: %w", ErrTimeout, key, ctx.Err())
		case <-timer.C:
		}
		wait *= 2
		if wait > maxRedisPollInterval {
			wait = maxRedisPollInterval
		}
	}
}

func (l *RedisLocker) releaser(redisKey, token string) Release {
	var once sync.Once
	var releaseErr error
	return func(ctx context.Context) error {
		once.Do(func() {
			released, err := l.store.ReleaseLock(ctx, redisKey, token)
			if err != nil {
				releaseErr = fmt.Errorf("release redis lock %s: %w", redisKey, err)
				return
			}
			if !released {
				releaseErr = fmt.Errorf("redis lock %s expired before release", redisKey)
			}
		})
		return releaseErr
	}
}
