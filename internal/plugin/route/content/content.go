// Package content mounts the journal, mood and note routes.
package content

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/chirino/carevault/internal/model"
	"github.com/chirino/carevault/internal/plugin/route/apierror"
	registryroute "github.com/chirino/carevault/internal/registry/route"
	registrystore "github.com/chirino/carevault/internal/registry/store"
	"github.com/chirino/carevault/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Name:  "content",
		Order: 30,
		Type:  registryroute.RouteTypeMain,
		Loader: func(r *gin.Engine, deps registryroute.Deps) error {
			MountRoutes(r, deps.Store)
			return nil
		},
	})
}

// MountRoutes mounts content record routes.
func MountRoutes(r *gin.Engine, store registrystore.CareStore) {
	g := r.Group("/v1/content", security.AuthRequired())

	g.POST("", func(c *gin.Context) { createContent(c, store) })
	g.GET("", func(c *gin.Context) { listContent(c, store) })
	g.GET("/:recordId", func(c *gin.Context) { getContent(c, store) })
	g.PATCH("/:recordId", func(c *gin.Context) { updateContent(c, store) })
	g.DELETE("/:recordId", func(c *gin.Context) { deleteContent(c, store) })
}

func recordID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("recordId"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "content record not found"})
		return uuid.Nil, false
	}
	return id, true
}

func createContent(c *gin.Context, store registrystore.CareStore) {
	var in registrystore.ContentInput
	if !apierror.BindJSON(c, &in) {
		return
	}
	view, err := store.CreateContent(c.Request.Context(), security.GetIdentity(c), in)
	if err != nil {
		apierror.Handle(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func listContent(c *gin.Context, store registrystore.CareStore) {
	var filter registrystore.ContentFilter
	if raw := c.Query("kind"); raw != "" {
		kind := model.ContentKind(raw)
		if !kind.Valid() {
			apierror.BadRequest(c, "kind", "must be one of journal, mood, note")
			return
		}
		filter.Kind = &kind
	}
	if raw := c.Query("category"); raw != "" {
		filter.Category = &raw
	}
	views, err := store.ListContent(c.Request.Context(), security.GetIdentity(c), filter)
	if err != nil {
		apierror.Handle(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

func getContent(c *gin.Context, store registrystore.CareStore) {
	id, ok := recordID(c)
	if !ok {
		return
	}
	view, err := store.GetContent(c.Request.Context(), security.GetIdentity(c), id)
	if err != nil {
		apierror.Handle(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func updateContent(c *gin.Context, store registrystore.CareStore) {
	id, ok := recordID(c)
	if !ok {
		return
	}
	var raw map[string]any
	if !apierror.BindJSON(c, &raw) {
		return
	}
	for _, immutable := range []string{"ownerId", "kind", "id"} {
		if _, present := raw[immutable]; present {
			apierror.BadRequest(c, immutable, "cannot be changed")
			return
		}
	}
	var patch registrystore.ContentPatch
	if err := remarshal(raw, &patch); err != nil {
		apierror.BadRequest(c, "body", "invalid content patch")
		return
	}
	// explicit null clears the field
	for field, value := range raw {
		if value == nil {
			patch.Clear = append(patch.Clear, field)
		}
	}
	slices.Sort(patch.Clear)
	view, err := store.UpdateContent(c.Request.Context(), security.GetIdentity(c), id, patch)
	if err != nil {
		apierror.Handle(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func deleteContent(c *gin.Context, store registrystore.CareStore) {
	id, ok := recordID(c)
	if !ok {
		return
	}
	if err := store.DeleteContent(c.Request.Context(), security.GetIdentity(c), id); err != nil {
		apierror.Handle(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// remarshal converts the checked raw body into the typed patch.
func remarshal(src any, dst any) error {
	data, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}
