// Package testredis runs a throwaway Redis for cache tests.
package testredis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// EnvVar enables container-backed Redis tests when set.
const EnvVar = "CAREVAULT_TEST_REDIS"

// Start skips tb unless EnvVar is set, then starts a Redis container and
// returns a redis:// URL that already answers PING.
func Start(tb testing.TB) string {
	tb.Helper()
	if os.Getenv(EnvVar) == "" {
		tb.Skipf("set %s=1 to run against a Redis container", EnvVar)
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			Cmd:          []string{"redis-server", "--save", "", "--appendonly", "no"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		tb.Fatalf("start redis container: %v", err)
	}
	tb.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := container.Terminate(ctx); err != nil {
			tb.Errorf("terminate redis container: %v", err)
		}
	})

	endpoint, err := container.PortEndpoint(ctx, "6379/tcp", "")
	if err != nil {
		tb.Fatalf("get redis endpoint: %v", err)
	}
	url := fmt.Sprintf("redis://%s/0", endpoint)

	opts, err := goredis.ParseURL(url)
	if err != nil {
		tb.Fatalf("parse redis url: %v", err)
	}
	client := goredis.NewClient(opts)
	defer func() { _ = client.Close() }()
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		tb.Fatalf("redis is not answering: %v", err)
	}
	return url
}
