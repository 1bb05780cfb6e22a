package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alexharl/vulture-events-backend/config"
	"github.com/go-redis/redis/v8"
	"github.com/golang/snappy"
	"github.com/pkg/errors"
	"github.com/spaolacci/murmur3"
)

// VersionKey holds the generation counter of the query cache. Bumping it
// orphans every cached query result at once.
const VersionKey = "events:version"

// ErrMiss is returned by Get when nothing is cached under the key
var ErrMiss = errors.New("cache miss")

// RedisCache caches query results in Redis. Payloads are JSON compressed
// with snappy.
type RedisCache struct {
	client  *redis.Client
	enabled bool
	ttl     time.Duration
}

// NewRedisCache creates a new Redis cache, a disabled config yields a no-op cache
func NewRedisCache(cfg config.RedisConfig) (*RedisCache, error) {
	if !cfg.Enabled {
		return &RedisCache{enabled: false}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	return NewRedisCacheWithClient(client, cfg.TTL), nil
}

// NewRedisCacheWithClient wraps an existing client
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{client: client, enabled: client != nil, ttl: ttl}
}

// Enabled reports whether the cache talks to Redis
func (c *RedisCache) Enabled() bool {
	return c != nil && c.enabled
}

// Get retrieves a value from cache
func (c *RedisCache) Get(ctx context.Context, key string, value interface{}) error {
	if !c.Enabled() {
		return ErrMiss
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return ErrMiss
		}
		return errors.Wrap(err, "failed to get value from Redis")
	}

	return Decode(data, value)
}

// Set stores a value in cache with the configured expiration
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}) error {
	if !c.Enabled() {
		return nil
	}

	data, err := Encode(value)
	if err != nil {
		return err
	}

	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return errors.Wrap(err, "failed to set value in Redis")
	}
	return nil
}

// QueryKey returns the key of a query result in the current generation
func (c *RedisCache) QueryKey(ctx context.Context, scope string, query interface{}) (string, error) {
	if !c.Enabled() {
		return "", ErrMiss
	}

	version, err := c.client.Get(ctx, VersionKey).Int64()
	if err != nil && err != redis.Nil {
		return "", errors.Wrap(err, "failed to read cache version")
	}
	return BuildQueryKey(version, scope, query)
}

// Invalidate bumps the generation counter
func (c *RedisCache) Invalidate(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	if err := c.client.Incr(ctx, VersionKey).Err(); err != nil {
		return errors.Wrap(err, "failed to bump cache version")
	}
	return nil
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	if !c.Enabled() || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// BuildQueryKey hashes the canonical JSON form of query
func BuildQueryKey(version int64, scope string, query interface{}) (string, error) {
	canonical, err := json.Marshal(query)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal query for cache key")
	}
	h1, h2 := murmur3.Sum128(canonical)
	return fmt.Sprintf("events:v%d:%s:%016x%016x", version, scope, h1, h2), nil
}

// Encode marshals value to snappy compressed JSON
func Encode(value interface{}) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal value for caching")
	}
	return snappy.Encode(nil, data), nil
}

// Decode reverses Encode
func Decode(data []byte, value interface{}) error {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return errors.Wrap(err, "failed to decompress cached value")
	}
	if err := json.Unmarshal(raw, value); err != nil {
		return errors.Wrap(err, "failed to unmarshal cached value")
	}
	return nil
}
