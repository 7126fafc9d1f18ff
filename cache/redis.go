package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements Cache on a shared Redis instance so concurrent query
// workers reuse each other's retrieval results.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string // Redis server address (e.g., "localhost:6379")
	Password string
	DB       int
	Prefix   string // Key prefix for namespacing
}

// NewRedisCache creates a Redis-backed cache.
func NewRedisCache(config *RedisConfig) *RedisCache {
	if config == nil {
		config = &RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "grag:retrieval:",
		}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	return &RedisCache{
		client: client,
		prefix: config.Prefix,
	}
}

// Get returns the cached value when present and unexpired.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	return data, true
}

// Set stores a value; ttl <= 0 means no expiration.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return c.client.Set(ctx, c.prefix+key, value, ttl).Err()
}

// Close releases the underlying Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
