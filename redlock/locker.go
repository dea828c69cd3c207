// Package redlock guards a single Redis key with a SET NX lock so one
// bucket is read, refilled and written back by one request at a time.
package redlock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	// defaultTTL bounds how long a crashed holder can block a bucket.
	defaultTTL = 1 * time.Second
	// defaultRetryDelay is short since a bucket update is two GETs and two SETs.
	defaultRetryDelay = 5 * time.Millisecond
	// defaultMaxRetries caps waiting at roughly defaultTTL.
	defaultMaxRetries = 200
)

var (
	// ErrLockNotAcquired is returned when TryLock finds the key held.
	ErrLockNotAcquired = errors.New("redlock: lock not acquired")
	// ErrUnlockFailed is returned when the lock expired or is held by someone else.
	ErrUnlockFailed = errors.New("redlock: failed to unlock")
	// ErrLockWaitTimeout is returned when the context ends before the lock is acquired.
	ErrLockWaitTimeout = errors.New("redlock: waiting for lock timed out or context cancelled")
	// ErrLockMaxRetriesExceeded is returned when Lock gives up after maxRetries attempts.
	ErrLockMaxRetriesExceeded = errors.New("redlock: maximum lock retries exceeded")
)

// unlockScript deletes KEYS[1] only while it still holds ARGV[1].
const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Locker is a lock on one key. It is not safe for concurrent use; create
// one Locker per holder.
type Locker struct {
	client     redis.Cmdable
	key        string
	value      string // token of the held lock, empty when not held
	ttl        time.Duration
	retryDelay time.Duration
	maxRetries int // 0 retries until the context ends
}

// Option configures a Locker.
type Option func(*Locker)

// WithTTL sets the lock expiry. Non-positive values keep the default.
func WithTTL(ttl time.Duration) Option {
	return func(l *Locker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithRetryDelay sets the pause between attempts in Lock.
func WithRetryDelay(delay time.Duration) Option {
	return func(l *Locker) {
		if delay > 0 {
			l.retryDelay = delay
		}
	}
}

// WithMaxRetries sets how often Lock retries. 0 retries until the context ends.
func WithMaxRetries(retries int) Option {
	return func(l *Locker) {
		if retries >= 0 {
			l.maxRetries = retries
		}
	}
}

// NewLocker creates a Locker for key.
func NewLocker(client redis.Cmdable, key string, options ...Option) (*Locker, error) {
	if client == nil {
		return nil, errors.New("redlock: nil redis client")
	}
	l := &Locker{
		client:     client,
		key:        key,
		ttl:        defaultTTL,
		retryDelay: defaultRetryDelay,
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range options {
		opt(l)
	}
	return l, nil
}

// tryLock runs one SET NX attempt and returns the token on success.
func (l *Locker) tryLock(ctx context.Context) (string, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", ErrLockWaitTimeout
		}
		log.Error().Err(err).Str("key", l.key).Msg("failed to execute setnx command")
		return "", err
	}
	if !ok {
		return "", ErrLockNotAcquired
	}
	return token, nil
}

// TryLock acquires the lock without waiting.
func (l *Locker) TryLock(ctx context.Context) error {
	token, err := l.tryLock(ctx)
	if err != nil {
		return err
	}
	l.value = token
	log.Trace().Str("key", l.key).Msg("lock acquired")
	return nil
}

// Lock acquires the lock, retrying every retryDelay until it succeeds,
// the context ends, or maxRetries is exhausted.
func (l *Locker) Lock(ctx context.Context) error {
	token, err := l.tryLock(ctx)
	if err == nil {
		l.value = token
		return nil
	}
	if !errors.Is(err, ErrLockNotAcquired) {
		return err
	}

	ticker := time.NewTicker(l.retryDelay)
	defer ticker.Stop()

	for retries := 1; ; retries++ {
		select {
		case <-ctx.Done():
			log.Warn().Err(ctx.Err()).Str("key", l.key).Int("retries", retries-1).Msg("context ended while waiting for lock")
			return ErrLockWaitTimeout
		case <-ticker.C:
		}

		token, err := l.tryLock(ctx)
		if err == nil {
			l.value = token
			log.Trace().Str("key", l.key).Int("retries", retries).Msg("lock acquired after waiting")
			return nil
		}
		if !errors.Is(err, ErrLockNotAcquired) {
			return err
		}
		if l.maxRetries > 0 && retries >= l.maxRetries {
			log.Warn().Str("key", l.key).Int("retries", retries).Msg("maximum lock retries exceeded")
			return ErrLockMaxRetriesExceeded
		}
	}
}

// Unlock releases the lock if this Locker still holds it.
func (l *Locker) Unlock(ctx context.Context) error {
	if l.value == "" {
		return ErrUnlockFailed
	}
	token := l.value
	l.value = ""

	res, err := l.client.Eval(ctx, unlockScript, []string{l.key}, token).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	if n, ok := res.(int64); ok && n == 1 {
		return nil
	}
	log.Warn().Str("key", l.key).Interface("script_result", res).Msg("unlock failed, lock expired or taken over")
	return ErrUnlockFailed
}

// Key returns the locked key.
func (l *Locker) Key() string {
	return l.key
}
