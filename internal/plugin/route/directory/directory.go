// Package directory mounts the therapist directory and patient list.
package directory

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
		Name:  "directory",
		Order: 50,
		Type:  registryroute.RouteTypeMain,
		Loader: func(r *gin.Engine, deps registryroute.Deps) error {
			MountRoutes(r, deps.Store)
			return nil
		},
	})
}

// MountRoutes mounts directory routes.
func MountRoutes(r *gin.Engine, store registrystore.AccountStore) {
	g := r.Group("/v1", security.AuthRequired())

	g.GET("/therapists", func(c *gin.Context) {
		entries, err := store.ListTherapists(c.Request.Context(), security.GetIdentity(c))
		if err != nil {
			apierror.Handle(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": entries})
	})

	g.GET("/patients", security.RolesRequired(security.RoleTherapist, security.RoleAdmin), func(c *gin.Context) {
		patients, err := store.ListPatients(c.Request.Context(), security.GetIdentity(c))
		if err != nil {
			apierror.Handle(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": patients})
	})
}
