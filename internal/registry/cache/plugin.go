package cache

import (
	"context"
	"fmt"
	"time"
)

type cacheKey struct{}

// WithContext returns a new context carrying the given DirectoryCache.
func WithContext(ctx context.Context, c DirectoryCache) context.Context {
	return context.WithValue(ctx, cacheKey{}, c)
}

// FromContext retrieves the DirectoryCache from the context.
// Returns nil if none was set.
func FromContext(ctx context.Context) DirectoryCache {
	c, _ := ctx.Value(cacheKey{}).(DirectoryCache)
	return c
}

// Well-known keys.
const (
	KeyTherapistDirectory = "directory:therapists"
	keyProvisionedPrefix  = "provisioned:"
)

// ProvisionedKey marks an external identity as already present in the users table.
func ProvisionedKey(userID string) string {
	return keyProvisionedPrefix + userID
}

// DirectoryCache is a small key/value cache with explicit per-entry TTLs.
// A miss is (nil, false, nil).
type DirectoryCache interface {
	Available() bool
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

// Loader creates a cache from config.
type Loader func(ctx context.Context) (DirectoryCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
