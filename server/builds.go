package server

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/distribution-auth/ghapp/ghapp"
)

// DefaultBuildLease is how long a build counts as running after it was last reported.
const DefaultBuildLease = 24 * time.Hour

// BuildTracker keeps track of running builds reported by the build server.
//
// Builds are persisted, so they survive restarts of this process.
// A build that is not reported again within the lease stops counting as running,
// so a lost finish event cannot keep its token alive forever.
type BuildTracker struct {
	builds ghapp.BuildStore
	lease  time.Duration
	clock  clockwork.Clock
}

// NewBuildTracker returns a new BuildTracker.
func NewBuildTracker(builds ghapp.BuildStore, lease time.Duration, clock clockwork.Clock) *BuildTracker {
	if lease <= 0 {
		lease = DefaultBuildLease
	}

	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &BuildTracker{
		builds: builds,
		lease:  lease,
		clock:  clock,
	}
}

// Start records a running build or renews its lease.
func (t *BuildTracker) Start(ctx context.Context, buildID int64) error {
	return t.builds.PutBuild(ctx, buildID, t.clock.Now())
}

// Finish forgets a build.
func (t *BuildTracker) Finish(ctx context.Context, buildID int64) error {
	return t.builds.DeleteBuild(ctx, buildID)
}

// IsRunning implements ghapp.BuildContext.
func (t *BuildTracker) IsRunning(ctx context.Context, buildID int64) (bool, error) {
	seen, err := t.builds.BuildSeen(ctx, buildID)
	if ghapp.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if t.clock.Since(seen) < t.lease {
		return true, nil
	}

	// the lease expired, the finish event was most likely lost
	if err := t.builds.DeleteBuild(ctx, buildID); err != nil {
		return false, err
	}

	return false, nil
}
