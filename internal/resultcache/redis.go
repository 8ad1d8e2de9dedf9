package resultcache

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// DefaultMaxValueSize mirrors the 1 MiB per-item bound of memcache-like
	// deployments; Redis itself allows far more, but the bound keeps chunk
	// sizes friendly to replication and eviction.
	DefaultMaxValueSize = 1 << 20

	// DefaultTTL limits how long transient profiling results linger.
	DefaultTTL = 30 * time.Minute
)

// RedisStore backs the cache with a shared Redis instance.
type RedisStore struct {
	client *redis.Client
	limit  int
	ttl    time.Duration
}

// NewRedisStore wraps an existing client with the default size bound and
// TTL.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		limit:  DefaultMaxValueSize,
		ttl:    DefaultTTL,
	}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	return value, err
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if len(value) > s.limit {
		return ErrValueTooLarge
	}
	return s.client.Set(ctx, key, value, s.ttl).Err()
}

func (s *RedisStore) MaxValueSize() int {
	return s.limit
}
