package system

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	registryroute "github.com/chirino/carevault/internal/registry/route"
	registrystore "github.com/chirino/carevault/internal/registry/store"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type pingStore struct {
	registrystore.CareStore
	err error
}

func (p *pingStore) Ping(context.Context) error { return p.err }

func get(r *gin.Engine, path string) int {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w.Code
}

func TestReadiness(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := &pingStore{}
	r := gin.New()
	require.NoError(t, registryroute.Mount(r, registryroute.RouteTypeManagement, registryroute.Deps{Store: store}))
	t.Cleanup(MarkDraining)

	require.Equal(t, http.StatusOK, get(r, "/health"))
	require.Equal(t, http.StatusServiceUnavailable, get(r, "/ready"))

	MarkReady()
	require.Equal(t, http.StatusOK, get(r, "/ready"))

	store.err = errors.New("connection refused")
	require.Equal(t, http.StatusServiceUnavailable, get(r, "/ready"))
	require.Equal(t, http.StatusOK, get(r, "/health"))

	MarkDraining()
	store.err = nil
	require.Equal(t, http.StatusServiceUnavailable, get(r, "/ready"))
	require.Equal(t, http.StatusOK, get(r, "/metrics"))
}
