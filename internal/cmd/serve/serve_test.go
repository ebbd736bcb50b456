package serve

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chirino/carevault/internal/config"
	"github.com/chirino/carevault/internal/plugin/cache/memory"
	registrystore "github.com/chirino/carevault/internal/registry/store"
	"github.com/chirino/carevault/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestMaxBodySizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(maxBodySizeMiddleware(4))
	router.POST("/v1/content", readBodyLengthHandler)

	for body, want := range map[string]int{"0123": http.StatusOK, "0123456789": http.StatusRequestEntityTooLarge} {
		req := httptest.NewRequest(http.MethodPost, "/v1/content", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, want, rec.Code, "body %q", body)
	}
}

func TestRequestTimeoutMiddleware_SetsDeadline(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(requestTimeoutMiddleware(50 * time.Millisecond))
	router.GET("/slow", func(c *gin.Context) {
		deadline, ok := c.Request.Context().Deadline()
		require.True(t, ok)
		require.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, 50*time.Millisecond)
		<-c.Request.Context().Done()
		c.String(http.StatusOK, c.Request.Context().Err().Error())
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/slow", nil))
	require.Equal(t, context.DeadlineExceeded.Error(), rec.Body.String())
}

func TestConfigMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeTesting
	router := gin.New()
	router.Use(configMiddleware(&cfg))
	router.GET("/", func(c *gin.Context) {
		require.True(t, config.FromContext(c.Request.Context()).TestingMode())
		c.Status(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

type provisioningStore struct {
	registrystore.AccountStore
	calls []security.Identity
}

func (p *provisioningStore) EnsureExternalUser(_ context.Context, id security.Identity, _ string) error {
	p.calls = append(p.calls, id)
	return nil
}

func TestProvisionMiddleware_CachesProvisionedIdentities(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cache, err := memory.New(time.Minute)
	require.NoError(t, err)
	store := &provisioningStore{}

	current := security.Identity{ID: "oidc|1", Role: security.RoleUser, External: true, Name: "Dana"}
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(security.ContextKeyIdentity, current)
		c.Next()
	})
	router.Use(provisionMiddleware(store, cache, time.Minute))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	get := func() {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	get()
	get()
	require.Len(t, store.calls, 1)

	current.Role = security.RoleTherapist
	get()
	require.Len(t, store.calls, 2)
	require.Equal(t, security.RoleTherapist, store.calls[1].Role)

	current = security.Identity{ID: "local", Role: security.RoleUser}
	get()
	require.Len(t, store.calls, 2)
}

func readBodyLengthHandler(c *gin.Context) {
	n, err := io.Copy(io.Discard, c.Request.Body)
	if err != nil {
		c.Status(http.StatusRequestEntityTooLarge)
		return
	}
	c.String(http.StatusOK, "%d", n)
}
