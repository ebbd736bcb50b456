// Package memory is an in-process DirectoryCache backed by ristretto. It is
// per-process: with several replicas, invalidations only reach the local one
// and entries live until their TTL elsewhere.
package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/carevault/internal/config"
	"github.com/chirino/carevault/internal/registry/cache"
	"github.com/chirino/carevault/internal/security"
	"github.com/dgraph-io/ristretto/v2"
)

const defaultTTL = 5 * time.Minute

func init() {
	cache.Register(cache.Plugin{
		Name: "memory",
		Loader: func(ctx context.Context) (cache.DirectoryCache, error) {
			ttl := defaultTTL
			if cfg := config.FromContext(ctx); cfg != nil && cfg.CacheTTL > 0 {
				ttl = cfg.CacheTTL
			}
			return New(ttl)
		},
	})
}

type memoryCache struct {
	c   *ristretto.Cache[string, []byte]
	ttl time.Duration
}

// New creates a ristretto-backed cache. ttl applies when Set is given zero.
func New(ttl time.Duration) (cache.DirectoryCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 10_000,
		MaxCost:     16 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("memory cache: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &memoryCache{c: c, ttl: ttl}, nil
}

func (m *memoryCache) Available() bool { return true }

func (m *memoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		security.RecordCacheOp("get", "miss")
		return nil, false, nil
	}
	security.RecordCacheOp("get", "hit")
	return v, true, nil
}

func (m *memoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = m.ttl
	}
	if !m.c.SetWithTTL(key, value, int64(len(value))+1, ttl) {
		security.RecordCacheOp("set", "dropped")
		return nil
	}
	// make the write visible to the next Get
	m.c.Wait()
	security.RecordCacheOp("set", "ok")
	return nil
}

func (m *memoryCache) Invalidate(_ context.Context, keys ...string) error {
	for _, key := range keys {
		m.c.Del(key)
	}
	security.RecordCacheOp("invalidate", "ok")
	return nil
}

var _ cache.DirectoryCache = (*memoryCache)(nil)
