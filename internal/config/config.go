package config

import (
	"context"
	"strings"
	"time"
)

// ListenerConfig holds the network/TLS settings for a single listener (main or management).
type ListenerConfig struct {
	Port              int
	EnablePlainText   bool
	EnableTLS         bool
	TLSCertFile       string
	TLSKeyFile        string
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	ModeProd    = "prod"
	ModeTesting = "testing"
)

// Config holds all configuration for carevault.
type Config struct {
	// Mode is "prod" (default) or "testing". Testing mode adds error details
	// to 500 responses.
	Mode string

	// Database
	DBURL string

	// Datastore backend type: "postgres" or "sqlite".
	DatastoreType string

	// Run datastore migrations on startup.
	DatastoreMigrateAtStart bool

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Cache backend type: "none", "memory" or "redis".
	CacheType string
	RedisURL  string
	// CacheTTL bounds how long directory and provisioning entries live.
	CacheTTL time.Duration

	// EncryptionKey is the hex or base64 encoded 32-byte AES key used for
	// every encrypted field.
	EncryptionKey string

	// Bearer tokens
	TokenSecret string
	TokenIssuer string
	TokenTTL    time.Duration

	// OIDC (optional external identity provider)
	OIDCIssuer        string
	OIDCDiscoveryURL  string // Internal URL for OIDC discovery (when issuer URL is not reachable)
	OIDCClientID      string
	TherapistOIDCRole string
	AdminOIDCRole     string

	// AdminEmails is a comma-separated list of emails that register as admins.
	AdminEmails string

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	MetricsLabels string

	// Server
	Listener           ListenerConfig
	ManagementListener ListenerConfig
	// ManagementListenerEnabled is true when --management-port was explicitly provided.
	// When false, management endpoints are served on the main port.
	ManagementListenerEnabled bool
	// ManagementAccessLog enables HTTP access logging for /health, /ready and /metrics.
	ManagementAccessLog bool
	CORSEnabled         bool
	CORSOrigins         string

	// Body size limit (bytes)
	MaxBodySize int64

	// RequestTimeout bounds every request context, including store transactions.
	RequestTimeout time.Duration

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                    ModeProd,
		DatastoreType:           "postgres",
		DatastoreMigrateAtStart: true,
		DBMaxOpenConns:          25,
		DBMaxIdleConns:          5,
		CacheType:               "none",
		CacheTTL:                5 * time.Minute,
		TokenIssuer:             "carevault",
		TokenTTL:                time.Hour,
		TherapistOIDCRole:       "therapist",
		AdminOIDCRole:           "admin",
		MetricsLabels:           "service=carevault",
		Listener: ListenerConfig{
			Port:              8080,
			EnablePlainText:   true,
			EnableTLS:         true,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ManagementListener: ListenerConfig{
			EnablePlainText: true,
			EnableTLS:       true,
		},
		MaxBodySize:    1024 * 1024,
		RequestTimeout: 15 * time.Second,
		DrainTimeout:   30,
	}
}

// IsAdminEmail reports whether email is listed in AdminEmails.
func (c *Config) IsAdminEmail(email string) bool {
	if c == nil {
		return false
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false
	}
	for _, candidate := range strings.Split(c.AdminEmails, ",") {
		if strings.ToLower(strings.TrimSpace(candidate)) == email {
			return true
		}
	}
	return false
}

// TestingMode reports whether the service runs with relaxed error reporting.
func (c *Config) TestingMode() bool {
	return c != nil && c.Mode == ModeTesting
}
