package system

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	registryroute "github.com/chirino/carevault/internal/registry/route"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var ready atomic.Bool

// MarkReady signals that the service has finished initializing. Call this
// once StartServer has completed successfully.
func MarkReady() {
	ready.Store(true)
}

// MarkDraining flips readiness off while the server drains.
func MarkDraining() {
	ready.Store(false)
}

func init() {
	registryroute.Register(registryroute.Plugin{
		Name:  "system",
		Order: 0,
		Type:  registryroute.RouteTypeManagement,
		Loader: func(r *gin.Engine, deps registryroute.Deps) error {
			// Liveness: process is up
			r.GET("/health", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"status": "ok"})
			})

			// Readiness: initialized and the database answers
			r.GET("/ready", func(c *gin.Context) {
				if !ready.Load() {
					c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
					return
				}
				if deps.Store != nil {
					ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
					defer cancel()
					if err := deps.Store.Ping(ctx); err != nil {
						log.Warn("Readiness check failed", "err", err)
						c.JSON(http.StatusServiceUnavailable, gin.H{"status": "database unavailable"})
						return
					}
				}
				c.JSON(http.StatusOK, gin.H{"status": "ready"})
			})

			r.GET("/metrics", gin.WrapH(promhttp.Handler()))
			return nil
		},
	})
}
