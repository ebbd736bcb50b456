package content

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chirino/carevault/internal/model"
	registrystore "github.com/chirino/carevault/internal/registry/store"
	"github.com/chirino/carevault/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// patchStore records the calls the routes make; unused methods panic.
type patchStore struct {
	registrystore.CareStore
	patches []registrystore.ContentPatch
	filters []registrystore.ContentFilter
}

func (s *patchStore) UpdateContent(_ context.Context, caller security.Identity, id uuid.UUID, patch registrystore.ContentPatch) (*registrystore.ContentView, error) {
	s.patches = append(s.patches, patch)
	return &registrystore.ContentView{ID: id, OwnerID: caller.ID, Kind: model.ContentNote}, nil
}

func (s *patchStore) ListContent(_ context.Context, _ security.Identity, filter registrystore.ContentFilter) ([]registrystore.ContentView, error) {
	s.filters = append(s.filters, filter)
	return []registrystore.ContentView{}, nil
}

func newRouter(store registrystore.CareStore, id security.Identity) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(security.ContextKeyIdentity, id)
		c.Next()
	})
	MountRoutes(r, store)
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPatch_RejectsImmutableFields(t *testing.T) {
	store := &patchStore{}
	r := newRouter(store, security.Identity{ID: "u1", Role: security.RoleUser})
	path := "/v1/content/" + uuid.NewString()

	for _, body := range []string{`{"ownerId":"u2"}`, `{"kind":"mood"}`, `{"id":"x","text":"t"}`} {
		w := do(r, http.MethodPatch, path, body)
		require.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	require.Empty(t, store.patches)

	w := do(r, http.MethodPatch, path, `{"text":"new text","moodScore":3}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, store.patches, 1)
	require.Equal(t, "new text", *store.patches[0].Text)
	require.Equal(t, 3, *store.patches[0].MoodScore)
	require.Nil(t, store.patches[0].Category)
}

func TestPatch_NullClearsField(t *testing.T) {
	store := &patchStore{}
	r := newRouter(store, security.Identity{ID: "u1", Role: security.RoleUser})
	path := "/v1/content/" + uuid.NewString()

	w := do(r, http.MethodPatch, path, `{"tags":null,"category":null,"text":"kept"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, store.patches, 1)
	require.Equal(t, []string{"category", "tags"}, store.patches[0].Clear)
	require.Nil(t, store.patches[0].Tags)
	require.Equal(t, "kept", *store.patches[0].Text)
	require.Nil(t, store.patches[0].MoodScore)
}

func TestMalformedRecordIDIsNotFound(t *testing.T) {
	r := newRouter(&patchStore{}, security.Identity{ID: "u1", Role: security.RoleUser})
	require.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/v1/content/not-a-uuid", "").Code)
	require.Equal(t, http.StatusNotFound, do(r, http.MethodDelete, "/v1/content/not-a-uuid", "").Code)
}

func TestList_Filters(t *testing.T) {
	store := &patchStore{}
	r := newRouter(store, security.Identity{ID: "u1", Role: security.RoleUser})

	require.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/v1/content?kind=poem", "").Code)
	require.Empty(t, store.filters)

	require.Equal(t, http.StatusOK, do(r, http.MethodGet, "/v1/content?kind=mood&category=morning", "").Code)
	require.Len(t, store.filters, 1)
	require.Equal(t, model.ContentMood, *store.filters[0].Kind)
	require.Equal(t, "morning", *store.filters[0].Category)
}

func TestAnonymousCallersAreRejected(t *testing.T) {
	r := newRouter(&patchStore{}, security.Anonymous)
	require.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/v1/content", "").Code)
}
