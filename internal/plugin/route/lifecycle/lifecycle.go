// Package lifecycle mounts the data export and account erasure routes.
package lifecycle

import (
	"net/http"

	"github.com/chirino/carevault/internal/plugin/route/apierror"
	registryroute "github.com/chirino/carevault/internal/registry/route"
	registrystore "github.com/chirino/carevault/internal/registry/store"
	"github.com/chirino/carevault/internal/security"
	"github.com/gin-gonic/gin"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Name:  "lifecycle",
		Order: 40,
		Type:  registryroute.RouteTypeMain,
		Loader: func(r *gin.Engine, deps registryroute.Deps) error {
			MountRoutes(r, deps.Store)
			return nil
		},
	})
}

// MountRoutes mounts export and erasure routes.
func MountRoutes(r *gin.Engine, store registrystore.DataLifecycleManager) {
	g := r.Group("/v1", security.AuthRequired())
	g.GET("/export", func(c *gin.Context) { exportAll(c, store) })
	g.DELETE("/account", func(c *gin.Context) { eraseAll(c, store) })
}

func exportAll(c *gin.Context, store registrystore.DataLifecycleManager) {
	bundle, err := store.ExportAll(c.Request.Context(), security.GetIdentity(c), c.Query("userId"))
	if err != nil {
		apierror.Handle(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, bundle)
}

func eraseAll(c *gin.Context, store registrystore.DataLifecycleManager) {
	var req struct {
		Confirmation string `json:"confirmation"`
		UserID       string `json:"userId"`
	}
	if !apierror.BindJSON(c, &req) {
		return
	}
	receipt, err := store.EraseAll(c.Request.Context(), security.GetIdentity(c), req.UserID, req.Confirmation)
	if err != nil {
		apierror.Handle(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}
