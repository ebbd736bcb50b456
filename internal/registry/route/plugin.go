package route

import (
	"fmt"
	"sort"
	"sync"

	"github.com/chirino/carevault/internal/config"
	registrycache "github.com/chirino/carevault/internal/registry/cache"
	registrystore "github.com/chirino/carevault/internal/registry/store"
	"github.com/chirino/carevault/internal/security"
	"github.com/gin-gonic/gin"
)

// Deps are the shared services handed to every route plugin.
type Deps struct {
	Config *config.Config
	Store  registrystore.CareStore
	Tokens *security.TokenIssuer
	// Cache is nil when no cache backend is configured.
	Cache registrycache.DirectoryCache
}

// RouterLoader mounts a plugin's routes on the gin engine.
type RouterLoader func(r *gin.Engine, deps Deps) error

// RouteType distinguishes which server a plugin's routes belong to.
type RouteType int

const (
	// RouteTypeMain registers routes on the main API server.
	RouteTypeMain RouteType = iota
	// RouteTypeManagement registers routes on the management server (health, metrics).
	// When no management port is configured they are mounted on the main server.
	RouteTypeManagement
)

// Plugin is a named route plugin; Order fixes the mount sequence.
type Plugin struct {
	Name   string
	Order  int
	Type   RouteType
	Loader RouterLoader
}

var (
	mu      sync.Mutex
	plugins []Plugin
)

// Register adds a route plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	mu.Lock()
	defer mu.Unlock()
	plugins = append(plugins, p)
}

func byType(t RouteType) []Plugin {
	mu.Lock()
	defer mu.Unlock()
	var out []Plugin
	for _, p := range plugins {
		if p.Type == t {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Mount runs every plugin of type t against r in order.
func Mount(r *gin.Engine, t RouteType, deps Deps) error {
	for _, p := range byType(t) {
		if err := p.Loader(r, deps); err != nil {
			return fmt.Errorf("failed to load %s routes: %w", p.Name, err)
		}
	}
	return nil
}

// Names lists registered plugins of type t in mount order.
func Names(t RouteType) []string {
	var names []string
	for _, p := range byType(t) {
		names = append(names, p.Name)
	}
	return names
}
