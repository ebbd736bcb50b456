package bdd

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chirino/carevault/internal/cmd/serve"
	"github.com/chirino/carevault/internal/config"
	"github.com/chirino/carevault/internal/plugin/store/gormstore"
	"github.com/chirino/carevault/internal/testutil/cucumber"
	"github.com/cucumber/godog"
	"github.com/stretchr/testify/require"
)

const (
	testEncryptionKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	testTokenSecret   = "bdd-token-secret-with-at-least-32-bytes"
)

func testConfig(t *testing.T) config.Config {
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeTesting
	cfg.DatastoreType = "sqlite"
	cfg.DBURL = "file:" + filepath.Join(t.TempDir(), "carevault.db")
	cfg.CacheType = "memory"
	cfg.EncryptionKey = testEncryptionKey
	cfg.TokenSecret = testTokenSecret
	cfg.AdminEmails = rootEmail
	return cfg
}

func TestFeatures(t *testing.T) {
	cfg := testConfig(t)
	runFeatures(t, &cfg, "features", nil)
}

// runFeatures serves the API from an in-process server built on cfg and runs
// every feature file in testdata/<dir> against it, one subtest per file.
func runFeatures(t *testing.T, cfg *config.Config, dir string, extra map[string]interface{}) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv, err := serve.Build(ctx, cfg)
	require.NoError(t, err)
	api := httptest.NewServer(srv.Router)
	t.Cleanup(api.Close)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	db, err := gormstore.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	featureFiles, err := filepath.Glob(filepath.Join("testdata", dir, "*.feature"))
	require.NoError(t, err)
	require.NotEmpty(t, featureFiles, "no feature files found in testdata/%s", dir)

	opts := cucumber.DefaultOptions()
	for _, arg := range os.Args[1:] {
		if arg == "-test.v=true" || arg == "-test.v" || arg == "-v" {
			opts.Format = "pretty"
		}
	}

	for _, featurePath := range featureFiles {
		name := strings.TrimSuffix(filepath.Base(featurePath), ".feature")
		t.Run(name, func(t *testing.T) {
			o := opts
			o.TestingT = t
			o.Paths = []string{featurePath}
			defer cucumber.ApplyReportOptions(&o, t.Name())()

			suite := cucumber.NewTestSuite()
			suite.APIURL = api.URL
			suite.TestingT = t
			suite.Context = cfg
			suite.DB = &GormTestDB{DB: db}
			for k, v := range extra {
				suite.Extra[k] = v
			}

			status := godog.TestSuite{
				Name:                name,
				Options:             &o,
				ScenarioInitializer: suite.InitializeScenario,
			}.Run()
			if status != 0 {
				t.Fail()
			}
		})
	}
}
