package config

import (
	"fmt"
	"strings"
)

// MinTokenSecretLen is the shortest accepted HS256 signing secret.
const MinTokenSecretLen = 32

// Validate reports settings the service cannot start without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DBURL) == "" {
		return fmt.Errorf("--db-url is required")
	}
	switch c.DatastoreType {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported --db-kind %q (expected postgres or sqlite)", c.DatastoreType)
	}
	switch c.CacheType {
	case "none", "memory":
	case "redis":
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("--redis-url is required when --cache-kind=redis")
		}
	default:
		return fmt.Errorf("unsupported --cache-kind %q (expected none, memory or redis)", c.CacheType)
	}
	if _, err := c.EncryptionKeyBytes(); err != nil {
		return fmt.Errorf("invalid --encryption-key: %w", err)
	}
	if len(c.TokenSecret) < MinTokenSecretLen {
		return fmt.Errorf("--token-secret must be at least %d bytes", MinTokenSecretLen)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("--token-ttl must be positive")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("--request-timeout must not be negative")
	}
	if c.Mode != ModeProd && c.Mode != ModeTesting {
		return fmt.Errorf("unsupported --mode %q (expected prod or testing)", c.Mode)
	}
	return nil
}
