package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distribution-auth/ghapp/ghapp"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()

	sqliteStore, err := OpenSQLite(filepath.Join(t.TempDir(), "ghapp.db"))
	require.NoError(t, err)

	t.Cleanup(func() {
		sqliteStore.Close()
	})

	return map[string]Store{
		"memory": &InMemoryStore{},
		"sqlite": sqliteStore,
	}
}

func TestStore_Connections(t *testing.T) {
	for name, store := range stores(t) {
		store := store

		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			connections, err := store.ListConnections(ctx)
			require.NoError(t, err)
			assert.Empty(t, connections)

			first := ghapp.Connection{
				ServerURL:     "https://github.com",
				Owner:         "acme",
				AppID:         "A1",
				WebhookSecret: "encrypted",
			}

			second := ghapp.Connection{
				ServerURL: "https://github.example.com",
				Owner:     "acme",
				AppID:     "A2",
				Reserved:  true,
				AppName:   "acme-ci",
				OwnerID:   "42",
			}

			require.NoError(t, store.AddConnection(ctx, first))
			require.NoError(t, store.AddConnection(ctx, second))

			connections, err = store.ListConnections(ctx)
			require.NoError(t, err)
			assert.Equal(t, []ghapp.Connection{first, second}, connections)

			connection, ok, err := store.FindConnection(ctx, func(c ghapp.Connection) bool {
				return c.Owner == "acme"
			})
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, first, connection)

			// adding a connection with an existing app id replaces it
			second.Reserved = false
			require.NoError(t, store.AddConnection(ctx, second))

			connection, ok, err = store.FindConnection(ctx, func(c ghapp.Connection) bool {
				return c.AppID == "A2"
			})
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, second, connection)

			require.NoError(t, store.RemoveConnection(ctx, "A1"))
			require.NoError(t, store.RemoveConnection(ctx, "A1"))

			_, ok, err = store.FindConnection(ctx, func(c ghapp.Connection) bool {
				return c.AppID == "A1"
			})
			require.NoError(t, err)
			assert.False(t, ok)

			connections, err = store.ListConnections(ctx)
			require.NoError(t, err)
			assert.Equal(t, []ghapp.Connection{second}, connections)
		})
	}
}

func TestStore_Tokens(t *testing.T) {
	for name, store := range stores(t) {
		store := store

		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.Get(ctx, 1)
			assert.ErrorIs(t, err, ghapp.ErrNotFound)

			buildIDs, err := store.BuildIDs(ctx)
			require.NoError(t, err)
			assert.Empty(t, buildIDs)

			token := ghapp.IssuedToken{
				ServerURL: "https://github.com",
				AppID:     "A1",
				Token:     "ciphertext",
			}

			require.NoError(t, store.Put(ctx, 3, token))
			require.NoError(t, store.Put(ctx, 1, token))

			token.Token = "other ciphertext"
			require.NoError(t, store.Put(ctx, 1, token))

			stored, err := store.Get(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, token, stored)

			buildIDs, err = store.BuildIDs(ctx)
			require.NoError(t, err)
			assert.Equal(t, []int64{1, 3}, buildIDs)

			require.NoError(t, store.Delete(ctx, 1))
			require.NoError(t, store.Delete(ctx, 1))

			_, err = store.Get(ctx, 1)
			assert.ErrorIs(t, err, ghapp.ErrNotFound)

			buildIDs, err = store.BuildIDs(ctx)
			require.NoError(t, err)
			assert.Equal(t, []int64{3}, buildIDs)
		})
	}
}

func TestStore_Builds(t *testing.T) {
	for name, store := range stores(t) {
		store := store

		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.BuildSeen(ctx, 1)
			assert.ErrorIs(t, err, ghapp.ErrNotFound)

			first := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
			second := first.Add(time.Hour)

			require.NoError(t, store.PutBuild(ctx, 1, first))
			require.NoError(t, store.PutBuild(ctx, 1, second))

			seen, err := store.BuildSeen(ctx, 1)
			require.NoError(t, err)
			assert.True(t, second.Equal(seen))

			require.NoError(t, store.DeleteBuild(ctx, 1))
			require.NoError(t, store.DeleteBuild(ctx, 1))

			_, err = store.BuildSeen(ctx, 1)
			assert.ErrorIs(t, err, ghapp.ErrNotFound)
		})
	}
}

func TestOpenSQLite_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ghapp.db")

	store, err := OpenSQLite(path)
	require.NoError(t, err)

	token := ghapp.IssuedToken{ServerURL: "https://github.com", AppID: "A1", Token: "ciphertext"}
	require.NoError(t, store.Put(context.Background(), 7, token))

	seen := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.PutBuild(context.Background(), 7, seen))
	require.NoError(t, store.Close())

	store, err = OpenSQLite(path)
	require.NoError(t, err)
	defer store.Close()

	stored, err := store.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, token, stored)

	storedSeen, err := store.BuildSeen(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, seen.Equal(storedSeen))
}
