package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chirino/carevault/internal/config"
	registrycache "github.com/chirino/carevault/internal/registry/cache"
	"github.com/chirino/carevault/internal/security"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultTTL = 5 * time.Minute
	keyPrefix  = "carevault:"
)

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.DirectoryCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: CAREVAULT_REDIS_URL is required")
	}
	return LoadFromURLWithTTL(ctx, cfg.RedisURL, cfg.CacheTTL)
}

// LoadFromURLWithTTL creates a cache from a Redis URL with a default entry TTL.
func LoadFromURLWithTTL(ctx context.Context, redisURL string, ttl time.Duration) (registrycache.DirectoryCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &redisCache{client: client, ttl: ttl}, nil
}

type redisCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func (c *redisCache) Available() bool {
	return true
}

func (c *redisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		security.RecordCacheOp("get", "miss")
		return nil, false, nil
	}
	if err != nil {
		security.RecordCacheOp("get", "error")
		return nil, false, err
	}
	security.RecordCacheOp("get", "hit")
	return data, true, nil
}

func (c *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.ttl
	}
	if err := c.client.Set(ctx, keyPrefix+key, value, ttl).Err(); err != nil {
		security.RecordCacheOp("set", "error")
		return err
	}
	security.RecordCacheOp("set", "ok")
	return nil
}

func (c *redisCache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = keyPrefix + k
	}
	if err := c.client.Del(ctx, prefixed...).Err(); err != nil {
		security.RecordCacheOp("invalidate", "error")
		return err
	}
	security.RecordCacheOp("invalidate", "ok")
	return nil
}

var _ registrycache.DirectoryCache = (*redisCache)(nil)
