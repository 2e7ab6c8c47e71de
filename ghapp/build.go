package ghapp

import (
	"context"
	"time"
)

// Build is the part of a build the token lifecycle cares about.
type Build struct {
	ID int64

	// Finished is true once the build stopped running.
	Finished bool

	// RootURL is the fetch URL of the build's source-control root.
	RootURL string

	// Parameters are the build's own parameters.
	Parameters map[string]string
}

// BuildContext answers questions about builds known to the build server.
type BuildContext interface {
	// IsRunning reports whether the build with the given ID is still running.
	IsRunning(ctx context.Context, buildID int64) (bool, error)
}

// BuildStore remembers when running builds were last reported.
type BuildStore interface {
	// PutBuild records that a build was reported running at seen.
	PutBuild(ctx context.Context, buildID int64, seen time.Time) error

	// BuildSeen returns when a build was last reported running, or ErrNotFound.
	BuildSeen(ctx context.Context, buildID int64) (time.Time, error)

	// DeleteBuild forgets a build. Deleting an unknown build is not an error.
	DeleteBuild(ctx context.Context, buildID int64) error
}
