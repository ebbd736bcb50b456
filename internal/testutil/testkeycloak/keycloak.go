// Package testkeycloak runs a throwaway Keycloak with the carevault realm so
// OIDC login and role mapping can be tested end to end.
package testkeycloak

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// EnvVar enables container-backed Keycloak tests when set.
const EnvVar = "CAREVAULT_TEST_KEYCLOAK"

const (
	Realm        = "carevault"
	ClientID     = "carevault-client"
	clientSecret = "change-me"
)

//go:embed testdata/carevault-realm.json
var realmJSON []byte

// Server exposes a running Keycloak test instance. The realm has three users
// whose password equals their username: alice (no realm role), tess
// (therapist) and root (admin).
type Server struct {
	BaseURL    string
	IssuerURL  string
	TokenURL   string
	httpClient *http.Client
}

// Start skips tb unless EnvVar is set, then starts Keycloak with the realm imported.
func Start(tb testing.TB) *Server {
	tb.Helper()
	if os.Getenv(EnvVar) == "" {
		tb.Skipf("set %s=1 to run against a Keycloak container", EnvVar)
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "quay.io/keycloak/keycloak:24.0.5",
			ExposedPorts: []string{"8080/tcp"},
			Cmd:          []string{"start-dev", "--import-realm"},
			Env: map[string]string{
				"KEYCLOAK_ADMIN":          "admin",
				"KEYCLOAK_ADMIN_PASSWORD": "admin",
				"KC_HEALTH_ENABLED":       "true",
			},
			Files: []testcontainers.ContainerFile{{
				Reader:            bytes.NewReader(realmJSON),
				ContainerFilePath: "/opt/keycloak/data/import/carevault-realm.json",
				FileMode:          0o644,
			}},
			WaitingFor: wait.ForHTTP("/health/ready").
				WithPort("8080/tcp").
				WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	if err != nil {
		tb.Fatalf("start keycloak container: %v", err)
	}
	tb.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := container.Terminate(ctx); err != nil {
			tb.Errorf("terminate keycloak container: %v", err)
		}
	})

	endpoint, err := container.PortEndpoint(ctx, "8080/tcp", "http")
	if err != nil {
		tb.Fatalf("get keycloak endpoint: %v", err)
	}
	issuer := endpoint + "/realms/" + Realm
	server := &Server{
		BaseURL:    endpoint,
		IssuerURL:  issuer,
		TokenURL:   issuer + "/protocol/openid-connect/token",
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	if err := server.waitUntilReady(ctx); err != nil {
		tb.Fatalf("keycloak token endpoint not ready: %v", err)
	}
	return server
}

// AccessToken logs a realm user in with the password grant.
func (s *Server) AccessToken(ctx context.Context, username, password string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("client_id", ClientID)
	form.Set("client_secret", clientSecret)
	form.Set("username", username)
	form.Set("password", password)
	form.Set("scope", "openid profile")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	var tr struct {
		AccessToken string `json:"access_token"`
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(tr.Error + ": " + tr.Description)
		if tr.Error == "" {
			msg = strings.TrimSpace(string(body))
		}
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, msg)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}
	return tr.AccessToken, nil
}

func (s *Server) waitUntilReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	for {
		reqCtx, reqCancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := s.AccessToken(reqCtx, "alice", "alice")
		reqCancel()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Second):
		}
	}
}
