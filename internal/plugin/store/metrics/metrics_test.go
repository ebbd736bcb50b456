package metrics

import (
	"context"
	"errors"
	"testing"

	registrystore "github.com/chirino/carevault/internal/registry/store"
	"github.com/chirino/carevault/internal/security"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	registrystore.CareStore
	err error
}

func (f *fakeStore) ListTherapists(context.Context, security.Identity) ([]registrystore.DirectoryEntry, error) {
	return []registrystore.DirectoryEntry{{ID: "t1", DisplayName: "Tess"}}, f.err
}

func (f *fakeStore) EraseAll(_ context.Context, _ security.Identity, userID, _ string) (*registrystore.ErasureReceipt, error) {
	return nil, f.err
}

func TestWrap_RecordsLatencyAndPassesResults(t *testing.T) {
	security.InitMetrics(prometheus.Labels{"service": "carevault-test"})
	before := testutil.CollectAndCount(security.StoreLatency)

	boom := errors.New("boom")
	store := Wrap(&fakeStore{err: boom})

	entries, err := store.ListTherapists(context.Background(), security.Identity{ID: "u1", Role: security.RoleUser})
	require.ErrorIs(t, err, boom)
	require.Len(t, entries, 1)

	_, err = store.EraseAll(context.Background(), security.Identity{ID: "u1", Role: security.RoleUser}, "u1", "DELETE MY DATA")
	require.ErrorIs(t, err, boom)

	// one new label set per operation
	require.Equal(t, before+2, testutil.CollectAndCount(security.StoreLatency))
}
