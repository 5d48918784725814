package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utkarshkpal/now-cli/internal/logger"
)

// RedisCache shares build results across dev server restarts via Redis
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to Redis and verifies the connection
func NewRedisCache(addr string, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Build cache initialized", "addr", addr, "ttl_seconds", ttl.Seconds())

	return &RedisCache{
		client: client,
		ttl:    ttl,
	}, nil
}

// Get retrieves a cached build; a miss returns (nil, nil)
func (c *RedisCache) Get(ctx context.Context, fingerprint string) (*CachedBuild, error) {
	key := buildKey(fingerprint)

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		logger.Debug("Build cache miss", "key", key)
		return nil, nil
	}
	if err != nil {
		logger.Error("Build cache get error", "error", err, "key", key)
		return nil, err
	}

	var build CachedBuild
	if err := json.Unmarshal(data, &build); err != nil {
		logger.Error("Build cache unmarshal error", "error", err, "key", key)
		return nil, err
	}

	logger.Debug("Build cache hit", "key", key)
	return &build, nil
}

// Set stores a build result under a fingerprint
func (c *RedisCache) Set(ctx context.Context, fingerprint string, build *CachedBuild) error {
	key := buildKey(fingerprint)

	data, err := json.Marshal(build)
	if err != nil {
		return fmt.Errorf("failed to marshal cached build: %w", err)
	}

	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		logger.Error("Build cache set error", "error", err, "key", key)
		return err
	}

	logger.Debug("Build cache set", "key", key)
	return nil
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func buildKey(fingerprint string) string {
	return fmt.Sprintf("build:%s", fingerprint)
}
