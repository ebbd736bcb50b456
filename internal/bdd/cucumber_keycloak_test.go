package bdd

import (
	"testing"

	"github.com/chirino/carevault/internal/testutil/testkeycloak"
)

func TestFeaturesKeycloak(t *testing.T) {
	kc := testkeycloak.Start(t)

	cfg := testConfig(t)
	cfg.OIDCIssuer = kc.IssuerURL
	// scenarios wipe the users table, so provisioning must not be remembered
	cfg.CacheType = "none"
	runFeatures(t, &cfg, "features-oidc", map[string]interface{}{"keycloak": kc})
}
