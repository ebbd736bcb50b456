package noop

import (
	"context"
	"time"

	"github.com/chirino/carevault/internal/registry/cache"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.DirectoryCache, error) {
			return New(), nil
		},
	})
}

// New returns a cache that stores nothing.
func New() cache.DirectoryCache { return &noopCache{} }

type noopCache struct{}

func (n *noopCache) Available() bool { return false }
func (n *noopCache) Get(_ context.Context, _ string) ([]byte, bool, error) {
	return nil, false, nil
}
func (n *noopCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (n *noopCache) Invalidate(_ context.Context, _ ...string) error { return nil }

var _ cache.DirectoryCache = (*noopCache)(nil)
