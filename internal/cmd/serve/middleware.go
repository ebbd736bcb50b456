package serve

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/carevault/internal/config"
	registrycache "github.com/chirino/carevault/internal/registry/cache"
	registrystore "github.com/chirino/carevault/internal/registry/store"
	"github.com/chirino/carevault/internal/security"
	"github.com/gin-gonic/gin"
)

func maxBodySizeMiddleware(maxBodySize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBodySize > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		}
		c.Next()
	}
}

// configMiddleware puts cfg on every request context.
func configMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(config.WithContext(c.Request.Context(), cfg))
		c.Next()
	}
}

// requestTimeoutMiddleware bounds the request context, and with it every
// store transaction the handler opens.
func requestTimeoutMiddleware(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if timeout <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// provisionMiddleware creates the local user row for identities verified by
// the external provider. The cache remembers who is already provisioned.
func provisionMiddleware(store registrystore.AccountStore, cache registrycache.DirectoryCache, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := security.GetIdentity(c)
		if id.IsGuest() || !id.External {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		key := registrycache.ProvisionedKey(id.ID)
		if cache != nil && cache.Available() {
			// a role change at the provider re-provisions
			if cached, ok, err := cache.Get(ctx, key); err == nil && ok && string(cached) == id.Role.String() {
				c.Next()
				return
			}
		}
		if err := store.EnsureExternalUser(ctx, id, id.Name); err != nil {
			log.Error("Failed to provision external user", "userId", id.ID, "err", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"code": "provisioning_failed", "error": "account could not be provisioned"})
			return
		}
		if cache != nil && cache.Available() {
			if err := cache.Set(ctx, key, []byte(id.Role.String()), ttl); err != nil {
				log.Warn("Provisioning cache write failed", "err", err)
			}
		}
		c.Next()
	}
}
