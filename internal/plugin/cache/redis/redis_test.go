package redis

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/carevault/internal/testutil/testredis"
	"github.com/stretchr/testify/require"
)

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	c, err := LoadFromURLWithTTL(ctx, testredis.Start(t), time.Minute)
	require.NoError(t, err)

	_, ok, err := c.Get(ctx, "directory:therapists")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, "directory:therapists", []byte(`[]`), 0))
	got, ok, err := c.Get(ctx, "directory:therapists")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `[]`, string(got))

	require.NoError(t, c.Invalidate(ctx, "directory:therapists"))
	_, ok, err = c.Get(ctx, "directory:therapists")
	require.NoError(t, err)
	require.False(t, ok)
}
