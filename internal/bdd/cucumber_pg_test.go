package bdd

import (
	"os"
	"testing"

	"github.com/chirino/carevault/internal/testutil/testpg"
	"github.com/chirino/carevault/internal/testutil/testredis"
)

// TestFeaturesPostgres runs the same features against the production stack:
// PostgreSQL for storage and, when enabled, Redis for the directory cache.
func TestFeaturesPostgres(t *testing.T) {
	cfg := testConfig(t)
	cfg.DatastoreType = "postgres"
	cfg.DBURL = testpg.Start(t)
	if os.Getenv(testredis.EnvVar) != "" {
		cfg.CacheType = "redis"
		cfg.RedisURL = testredis.Start(t)
	}
	runFeatures(t, &cfg, "features", nil)
}
