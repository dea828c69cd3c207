package limiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// redisStore implements Store on plain GET/SET. The two keys of a bucket
// are written independently, matching the non-atomic contract of Store.
type redisStore struct {
	client redis.Cmdable // Cmdable keeps ClusterClient and FailoverClient usable
	prefix string
	ttl    time.Duration
}

// RedisOption configures the Redis store.
type RedisOption func(*redisStore)

// WithKeyPrefix namespaces every key written by the store.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *redisStore) {
		s.prefix = prefix
	}
}

// WithTTL expires idle bucket keys after d. Zero keeps them forever.
func WithTTL(d time.Duration) RedisOption {
	return func(s *redisStore) {
		if d >= 0 {
			s.ttl = d
		}
	}
}

// NewRedisStore creates a Redis-backed store on a pre-configured client.
func NewRedisStore(client redis.Cmdable, opts ...RedisOption) Store {
	s := &redisStore{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get implements the Store interface for Redis storage.
func (s *redisStore) Get(ctx context.Context, key string) (int64, bool, error) {
	value, err := s.client.Get(ctx, s.prefix+key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("redis get failed")
		return 0, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, true, nil
}

// Set implements the Store interface for Redis storage.
func (s *redisStore) Set(ctx context.Context, key string, value int64) error {
	if err := s.client.Set(ctx, s.prefix+key, value, s.ttl).Err(); err != nil {
		log.Error().Err(err).Str("key", key).Msg("redis set failed")
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}
