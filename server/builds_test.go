package server

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distribution-auth/ghapp/ghapp"
	"github.com/distribution-auth/ghapp/ghapp/store"
)

func TestBuildTracker(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	builds := &store.InMemoryStore{}

	tracker := NewBuildTracker(builds, time.Hour, clock)

	running, err := tracker.IsRunning(ctx, 1)
	require.NoError(t, err)
	assert.False(t, running)

	require.NoError(t, tracker.Start(ctx, 1))

	running, err = tracker.IsRunning(ctx, 1)
	require.NoError(t, err)
	assert.True(t, running)

	require.NoError(t, tracker.Finish(ctx, 1))

	running, err = tracker.IsRunning(ctx, 1)
	require.NoError(t, err)
	assert.False(t, running)
}

func TestBuildTracker_LeaseExpired(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	builds := &store.InMemoryStore{}

	tracker := NewBuildTracker(builds, time.Hour, clock)

	require.NoError(t, tracker.Start(ctx, 1))
	require.NoError(t, tracker.Start(ctx, 2))

	clock.Advance(50 * time.Minute)

	// reporting the build again renews its lease
	require.NoError(t, tracker.Start(ctx, 2))

	clock.Advance(20 * time.Minute)

	running, err := tracker.IsRunning(ctx, 1)
	require.NoError(t, err)
	assert.False(t, running)

	_, err = builds.BuildSeen(ctx, 1)
	assert.ErrorIs(t, err, ghapp.ErrNotFound)

	running, err = tracker.IsRunning(ctx, 2)
	require.NoError(t, err)
	assert.True(t, running)
}

func TestBuildTracker_Restart(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	path := filepath.Join(t.TempDir(), "ghapp.db")

	s, err := store.OpenSQLite(path)
	require.NoError(t, err)

	require.NoError(t, NewBuildTracker(s, DefaultBuildLease, clock).Start(ctx, 7))
	require.NoError(t, s.Close())

	s, err = store.OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	running, err := NewBuildTracker(s, DefaultBuildLease, clock).IsRunning(ctx, 7)
	require.NoError(t, err)
	assert.True(t, running)
}
