package gormstore

import (
	"sync"
	"testing"

	"github.com/chirino/carevault/internal/config"
	"github.com/chirino/carevault/internal/model"
	registrystore "github.com/chirino/carevault/internal/registry/store"
	"github.com/chirino/carevault/internal/security"
	"github.com/chirino/carevault/internal/testutil/testpg"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// TestPostgres repeats the transactional guarantees on PostgreSQL, where row
// locks and concurrent writers behave differently from SQLite.
func TestPostgres(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DatastoreType = "postgres"
	cfg.DBURL = testpg.Start(t)

	fresh := func(t *testing.T) *fixture {
		f := newFixtureFor(t, &cfg)
		require.NoError(t, f.db.Exec("TRUNCATE messages, participants, conversations, content_records, users").Error)
		return f
	}

	t.Run("concurrent starts create one conversation", func(t *testing.T) {
		f := fresh(t)
		alice := f.register("alice@example.com", security.RoleUser)
		bob := f.register("bob@example.com", security.RoleTherapist)

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			ids  = map[uuid.UUID]bool{}
			errs []error
		)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				caller, peer := alice, bob.ID
				if i%2 == 1 {
					caller, peer = bob, alice.ID
				}
				conv, _, err := f.store.StartConversation(f.ctx, caller, peer)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, err)
					return
				}
				ids[conv.ID] = true
			}(i)
		}
		wg.Wait()
		require.Empty(t, errs)
		require.Len(t, ids, 1)
		require.EqualValues(t, 1, f.count(&model.Conversation{}, "1 = 1"))
	})

	t.Run("duplicate email is a conflict", func(t *testing.T) {
		f := fresh(t)
		f.register("alice@example.com", security.RoleUser)
		_, err := f.store.RegisterUser(f.ctx, registrystore.RegisterRequest{
			Email: "alice@example.com", Password: "another password", DisplayName: "Alice 2",
		})
		requireErrorAs[*registrystore.ConflictError](t, err)
	})

	t.Run("erase removes everything owned", func(t *testing.T) {
		f := fresh(t)
		alice := f.register("alice@example.com", security.RoleUser)
		bob := f.register("bob@example.com", security.RoleTherapist)
		f.journal(alice, "one")
		conv, _, err := f.store.StartConversation(f.ctx, alice, bob.ID)
		require.NoError(t, err)
		_, err = f.store.SendMessage(f.ctx, bob, conv.ID, "from bob")
		require.NoError(t, err)

		receipt, err := f.store.EraseAll(f.ctx, alice, "", registrystore.EraseConfirmationPhrase)
		require.NoError(t, err)
		require.EqualValues(t, 1, receipt.ContentRecords)
		require.EqualValues(t, 1, receipt.Messages)
		require.EqualValues(t, 1, receipt.ConversationsRemoved)
		require.EqualValues(t, 0, f.count(&model.Conversation{}, "1 = 1"))
		require.EqualValues(t, 1, f.count(&model.User{}, "1 = 1"))
	})

	t.Run("tampered envelope yields placeholder", func(t *testing.T) {
		f := fresh(t)
		alice := f.register("alice@example.com", security.RoleUser)
		rec := f.journal(alice, "secret")
		f.corruptTag(&model.ContentRecord{}, rec.ID)

		got, err := f.store.GetContent(f.ctx, alice, rec.ID)
		require.NoError(t, err)
		require.True(t, got.DecryptFailed)
	})
}
