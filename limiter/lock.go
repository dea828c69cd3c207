package limiter

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/toolink/ratelimit/redlock"
)

// Locker guards one bucket while it is read, refilled and written back.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
}

// LockFunc returns a Locker for a lock key.
type LockFunc func(key string) (Locker, error)

// RedisLockFunc builds bucket locks on Redis with the redlock package.
func RedisLockFunc(client redis.Cmdable, opts ...redlock.Option) LockFunc {
	return func(key string) (Locker, error) {
		l, err := redlock.NewLocker(client, key, opts...)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
}
