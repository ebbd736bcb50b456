package serve

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/carevault/internal/config"
	"github.com/chirino/carevault/internal/dataencryption"
	routesystem "github.com/chirino/carevault/internal/plugin/route/system"
	storemetrics "github.com/chirino/carevault/internal/plugin/store/metrics"
	registrycache "github.com/chirino/carevault/internal/registry/cache"
	registrymigrate "github.com/chirino/carevault/internal/registry/migrate"
	registryroute "github.com/chirino/carevault/internal/registry/route"
	registrystore "github.com/chirino/carevault/internal/registry/store"
	"github.com/chirino/carevault/internal/security"
	"github.com/gin-gonic/gin"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config          *config.Config
	Store           registrystore.CareStore
	Router          *gin.Engine
	Running         *RunningServers
	closeManagement func(context.Context) error
}

// Shutdown stops accepting work and drains in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	routesystem.MarkDraining()
	if s.closeManagement != nil {
		_ = s.closeManagement(ctx)
	}
	if s.Running == nil {
		return nil
	}
	return s.Running.Close(ctx)
}

// Build initializes every subsystem and mounts all routes without binding a
// port. Management routes go on the main router unless a management port
// is configured.
func Build(ctx context.Context, cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx = config.WithContext(ctx, cfg)

	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	key, err := cfg.EncryptionKeyBytes()
	if err != nil {
		return nil, fmt.Errorf("invalid --encryption-key: %w", err)
	}
	cipher, err := dataencryption.New(key)
	if err != nil {
		return nil, err
	}
	ctx = dataencryption.WithContext(ctx, cipher)

	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	// A broken cache only costs performance, so startup continues without it.
	var cache registrycache.DirectoryCache
	if cacheLoader, err := registrycache.Select(cfg.CacheType); err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheType, "err", err)
	} else if cache, err = cacheLoader(ctx); err != nil {
		log.Warn("Failed to initialize cache", "cache", cfg.CacheType, "err", err)
		cache = nil
	} else {
		ctx = registrycache.WithContext(ctx, cache)
	}

	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	store = storemetrics.Wrap(store)

	if !cfg.TestingMode() {
		gin.SetMode(gin.ReleaseMode)
	}
	resolver := security.NewTokenResolver(cfg)

	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(configMiddleware(cfg))
	router.Use(requestTimeoutMiddleware(cfg.RequestTimeout))
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	if cfg.CORSEnabled {
		router.Use(corsMiddleware(cfg.CORSOrigins))
	}
	router.Use(security.IdentityMiddleware(resolver))
	router.Use(provisionMiddleware(store, cache, cfg.CacheTTL))
	router.Use(security.LifecycleAuditMiddleware())

	deps := registryroute.Deps{
		Config: cfg,
		Store:  store,
		Tokens: security.NewTokenIssuer([]byte(cfg.TokenSecret), cfg.TokenIssuer, cfg.TokenTTL),
		Cache:  cache,
	}
	if err := registryroute.Mount(router, registryroute.RouteTypeMain, deps); err != nil {
		return nil, err
	}

	srv := &Server{Config: cfg, Store: store, Router: router}
	if cfg.ManagementListenerEnabled {
		mgmtRouter := gin.New()
		mgmtRouter.Use(gin.Recovery())
		if cfg.ManagementAccessLog {
			mgmtRouter.Use(security.AccessLogMiddleware())
		}
		if err := registryroute.Mount(mgmtRouter, registryroute.RouteTypeManagement, deps); err != nil {
			return nil, err
		}
		// the management listener shares TLS material with the main listener
		mgmtCfg := cfg.ManagementListener
		mgmtCfg.TLSCertFile = cfg.Listener.TLSCertFile
		mgmtCfg.TLSKeyFile = cfg.Listener.TLSKeyFile
		mgmt, err := StartListener("management", mgmtCfg, mgmtRouter)
		if err != nil {
			return nil, fmt.Errorf("failed to start management server: %w", err)
		}
		log.Info("Management server listening", "port", mgmt.Port)
		srv.closeManagement = mgmt.Close
	} else if err := registryroute.Mount(router, registryroute.RouteTypeManagement, deps); err != nil {
		return nil, err
	}
	return srv, nil
}

// StartServer builds the server and starts the main listener.
// Use cfg.Listener.Port=0 for a random port. Actual port: Server.Running.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting carevault",
		"port", cfg.Listener.Port,
		"db", cfg.DatastoreType,
		"cache", cfg.CacheType,
		"mode", cfg.Mode,
		"oidc", cfg.OIDCIssuer != "",
	)
	srv, err := Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	running, err := StartListener("main", cfg.Listener, srv.Router)
	if err != nil {
		_ = srv.Shutdown(ctx)
		return nil, err
	}
	srv.Running = running

	log.Info("Server listening",
		"port", running.Port,
		"plaintext", cfg.Listener.EnablePlainText,
		"tls", cfg.Listener.EnableTLS,
	)
	routesystem.MarkReady()
	return srv, nil
}
