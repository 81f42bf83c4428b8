package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	TotalKeys int64 `json:"total_keys"`
}

// Cache is the result-caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use.
type Cache interface {
	// GetResult returns the cached payload for key, counting a hit or a miss.
	// An expired entry is a miss; expiry is enforced by the backend TTL.
	GetResult(ctx context.Context, key string) ([]byte, bool, error)
	// PutResult stores payload under key, replacing any existing entry.
	PutResult(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	// Invalidate evicts key so the next request recomputes.
	Invalidate(ctx context.Context, key string) error
	Stats(ctx context.Context) (Stats, error)

	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// RedisCache implements the Cache interface using go-redis/v9. TTL expiry is
// native to Redis, so no sweeper is needed: expired entries read as misses and
// are reclaimed by the server.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) GetResult(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		c.client.Incr(ctx, statsKey("misses"))
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	c.client.Incr(ctx, statsKey("hits"))
	return val, true, nil
}

func (c *RedisCache) PutResult(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) Stats(ctx context.Context) (Stats, error) {
	var st Stats

	hits, err := c.client.Get(ctx, statsKey("hits")).Int64()
	if err != nil && err != redis.Nil {
		return Stats{}, err
	}
	misses, err := c.client.Get(ctx, statsKey("misses")).Int64()
	if err != nil && err != redis.Nil {
		return Stats{}, err
	}
	st.Hits = hits
	st.Misses = misses

	iter := c.client.Scan(ctx, 0, resultKeyPrefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		st.TotalKeys++
	}
	if err := iter.Err(); err != nil {
		return Stats{}, err
	}
	return st, nil
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Compile-time check that RedisCache implements Cache.
var _ Cache = (*RedisCache)(nil)
