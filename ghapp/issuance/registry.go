// Package issuance hands installation tokens to builds and revokes them once builds finish.
package issuance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/distribution-auth/ghapp/ghapp"
	"github.com/distribution-auth/ghapp/ghapp/metrics"
	"github.com/distribution-auth/ghapp/pkg/retry"
)

// DefaultSweepInterval is the time between two revocation sweeps.
const DefaultSweepInterval = 20 * time.Minute

// revokedRetention is how long revoked build IDs are remembered.
const revokedRetention = time.Hour

// ConnectionFinder finds the connection registered for a repository owner.
type ConnectionFinder interface {
	// FindConnection returns a *ghapp.ConnectionNotFoundError if there is no usable connection.
	FindConnection(ctx context.Context, serverURL string, owner string) (ghapp.Connection, error)
}

// InstallationFinder finds the installation of an application for an account.
type InstallationFinder interface {
	Find(ctx context.Context, connection ghapp.Connection, account string) (ghapp.Installation, bool, error)
}

// Config configures a Registry.
type Config struct {
	Connections   ConnectionFinder
	Assertions    ghapp.AssertionSource
	Installations InstallationFinder
	API           ghapp.PlatformAPI
	Tokens        ghapp.TokenStore
	Encrypter     ghapp.Encrypter
	Builds        ghapp.BuildContext

	// SupportedScopes are the permission scopes builds may request. Defaults to ghapp.DefaultSupportedScopes.
	SupportedScopes []string

	LockStripes   int
	LockTimeout   time.Duration
	SweepInterval time.Duration

	Clock  clockwork.Clock
	Logger *zap.Logger
}

// Registry issues a single installation token per build and revokes it when the build no longer needs it.
//
// Issuance and revocation for the same build are serialized by a StripedLock.
type Registry struct {
	connections   ConnectionFinder
	assertions    ghapp.AssertionSource
	installations InstallationFinder
	api           ghapp.PlatformAPI
	tokens        ghapp.TokenStore
	encrypter     ghapp.Encrypter
	builds        ghapp.BuildContext

	supportedScopes []string
	sweepInterval   time.Duration

	locks *StripedLock

	// build IDs whose token has been revoked
	revoked   map[int64]time.Time
	revokedMu sync.Mutex

	clock  clockwork.Clock
	logger *zap.Logger
}

// NewRegistry returns a new Registry.
func NewRegistry(config Config) *Registry {
	if len(config.SupportedScopes) == 0 {
		config.SupportedScopes = ghapp.DefaultSupportedScopes
	}

	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultSweepInterval
	}

	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}

	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Registry{
		connections:     config.Connections,
		assertions:      config.Assertions,
		installations:   config.Installations,
		api:             config.API,
		tokens:          config.Tokens,
		encrypter:       config.Encrypter,
		builds:          config.Builds,
		supportedScopes: config.SupportedScopes,
		sweepInterval:   config.SweepInterval,
		locks:           NewStripedLock(config.LockStripes, config.LockTimeout, config.Logger),
		revoked:         make(map[int64]time.Time),
		clock:           config.Clock,
		logger:          config.Logger,
	}
}

// TokenForBuild returns the installation token of a build, issuing one if necessary.
//
// Failures are logged and reported as no token: a build without a token can still run.
func (r *Registry) TokenForBuild(ctx context.Context, build ghapp.Build) (string, bool) {
	if build.Finished || r.isRevoked(build.ID) {
		return "", false
	}

	release := r.locks.Acquire(ctx, build.ID)
	defer release()

	// the build may have finished while waiting for the lock
	if r.isRevoked(build.ID) {
		return "", false
	}

	if token, ok := r.persistedToken(ctx, build.ID); ok {
		return token.Token, true
	}

	token, err := r.issue(ctx, build)
	metrics.IncrementTokensIssued(err == nil)
	if err != nil {
		r.logger.Error("failed to issue github token", zap.Int64("build_id", build.ID), zap.Error(err))

		return "", false
	}

	r.logger.Info(
		"github token issued",
		zap.Int64("build_id", build.ID),
		zap.String("app_id", token.AppID),
	)

	return token.Token, true
}

// ParametersForBuild returns the parameters publishing the installation token of a build.
// The result is empty if the build has no token.
func (r *Registry) ParametersForBuild(ctx context.Context, build ghapp.Build) map[string]string {
	token, ok := r.TokenForBuild(ctx, build)
	if !ok {
		return map[string]string{}
	}

	return ghapp.TokenParameters(token)
}

func (r *Registry) issue(ctx context.Context, build ghapp.Build) (ghapp.IssuedToken, error) {
	repository, err := ghapp.ParseRepository(build.RootURL)
	if err != nil {
		return ghapp.IssuedToken{}, err
	}

	connection, err := r.connections.FindConnection(ctx, repository.ServerURL(), repository.Owner)
	if err != nil {
		var notFound *ghapp.ConnectionNotFoundError
		if errors.As(err, &notFound) {
			notFound.BuildID = build.ID
		}

		return ghapp.IssuedToken{}, err
	}

	assertion, err := r.assertions.Current(connection.AppID)
	if err != nil {
		return ghapp.IssuedToken{}, &ghapp.TokenGenerationError{Err: err}
	}

	installation, ok, err := r.installations.Find(ctx, connection, connection.Owner)
	if err != nil {
		return ghapp.IssuedToken{}, &ghapp.TokenGenerationError{Err: err}
	}

	if !ok {
		return ghapp.IssuedToken{}, &ghapp.TokenGenerationError{
			Message: fmt.Sprintf("application with id %s is not installed for the repository %s", connection.AppID, repository.FullName()),
		}
	}

	permissions := ghapp.PermissionsForBuild(build.Parameters, r.supportedScopes)

	token, err := r.api.CreateInstallationToken(ctx, connection, installation.ID, repository, assertion.Payload, permissions)
	if err != nil {
		return ghapp.IssuedToken{}, &ghapp.TokenGenerationError{Err: err}
	}

	if err := r.persistToken(ctx, build.ID, token); err != nil {
		// an unrecorded token would never be revoked
		if revokeErr := r.api.RevokeInstallationToken(ctx, token); revokeErr != nil {
			r.logger.Warn("failed to revoke unpersisted github token", zap.Int64("build_id", build.ID), zap.Error(revokeErr))
		}

		return ghapp.IssuedToken{}, fmt.Errorf("persisting token: %w", err)
	}

	return token, nil
}

func (r *Registry) persistToken(ctx context.Context, buildID int64, token ghapp.IssuedToken) error {
	encrypted, err := r.encrypter.Encrypt(token.Token)
	if err != nil {
		return fmt.Errorf("encrypting token: %w", err)
	}

	token.Token = encrypted

	return retry.Do(retry.DefaultAttempts, func() error {
		return r.tokens.Put(ctx, buildID, token)
	})
}

// persistedToken returns the decrypted token stored for a build.
// A token that cannot be loaded or decrypted is reported as missing.
func (r *Registry) persistedToken(ctx context.Context, buildID int64) (ghapp.IssuedToken, bool) {
	token, err := r.tokens.Get(ctx, buildID)
	if errors.Is(err, ghapp.ErrNotFound) {
		return ghapp.IssuedToken{}, false
	}
	if err != nil {
		r.logger.Warn("failed to load stored github token", zap.Int64("build_id", buildID), zap.Error(err))

		return ghapp.IssuedToken{}, false
	}

	plaintext, err := r.encrypter.Decrypt(token.Token)
	if err != nil {
		r.logger.Warn("failed to decrypt stored github token", zap.Int64("build_id", buildID), zap.Error(err))

		return ghapp.IssuedToken{}, false
	}

	token.Token = plaintext

	return token, true
}

// OnBuildFinished revokes the token of a finished build.
// The token record is removed even if GitHub fails to revoke the token.
func (r *Registry) OnBuildFinished(ctx context.Context, buildID int64) {
	if err := r.revoke(ctx, buildID); err != nil {
		r.logger.Error("failed to revoke github token", zap.Int64("build_id", buildID), zap.Error(err))
	}
}

func (r *Registry) revoke(ctx context.Context, buildID int64) error {
	release := r.locks.Acquire(ctx, buildID)
	defer release()

	r.markRevoked(buildID)

	token, err := r.tokens.Get(ctx, buildID)
	if errors.Is(err, ghapp.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading token: %w", err)
	}

	plaintext, err := r.encrypter.Decrypt(token.Token)
	if err != nil {
		r.logger.Warn("dropping undecryptable github token", zap.Int64("build_id", buildID), zap.Error(err))
	} else {
		token.Token = plaintext

		err := r.api.RevokeInstallationToken(ctx, token)
		metrics.IncrementTokensRevoked(err == nil)

		if err != nil {
			// the token expires on its own
			r.logger.Warn("failed to revoke github token", zap.Int64("build_id", buildID), zap.Error(err))
		} else {
			r.logger.Info("github token revoked", zap.Int64("build_id", buildID), zap.String("app_id", token.AppID))
		}
	}

	err = retry.Do(retry.DefaultAttempts, func() error {
		return r.tokens.Delete(ctx, buildID)
	})
	if err != nil {
		return fmt.Errorf("deleting token: %w", err)
	}

	return nil
}

func (r *Registry) markRevoked(buildID int64) {
	r.revokedMu.Lock()
	defer r.revokedMu.Unlock()

	r.revoked[buildID] = r.clock.Now()
}

func (r *Registry) isRevoked(buildID int64) bool {
	r.revokedMu.Lock()
	defer r.revokedMu.Unlock()

	_, ok := r.revoked[buildID]

	return ok
}

func (r *Registry) pruneRevoked() {
	r.revokedMu.Lock()
	defer r.revokedMu.Unlock()

	threshold := r.clock.Now().Add(-revokedRetention)

	for buildID, revokedAt := range r.revoked {
		if revokedAt.Before(threshold) {
			delete(r.revoked, buildID)
		}
	}
}

// Sweep revokes the tokens of every build that is no longer running.
//
// Failures for individual builds are logged and do not stop the sweep.
func (r *Registry) Sweep(ctx context.Context) error {
	buildIDs, err := retry.DoValue(retry.DefaultAttempts, func() ([]int64, error) {
		return r.tokens.BuildIDs(ctx)
	})
	if err != nil {
		metrics.IncrementSweepRuns(false)

		return fmt.Errorf("listing stored tokens: %w", err)
	}

	metrics.SetStoredTokens(len(buildIDs))

	var revoked int

	for _, buildID := range buildIDs {
		if err := ctx.Err(); err != nil {
			metrics.IncrementSweepRuns(false)

			return err
		}

		running, err := r.builds.IsRunning(ctx, buildID)
		if err != nil {
			r.logger.Warn("failed to check build state", zap.Int64("build_id", buildID), zap.Error(err))

			continue
		}

		if running {
			continue
		}

		if err := r.revoke(ctx, buildID); err != nil {
			r.logger.Error("failed to revoke github token", zap.Int64("build_id", buildID), zap.Error(err))

			continue
		}

		revoked++
	}

	r.pruneRevoked()

	metrics.IncrementSweepRuns(true)

	r.logger.Debug("revocation sweep finished", zap.Int("stored", len(buildIDs)), zap.Int("revoked", revoked))

	return nil
}

// Start sweeps immediately, then periodically until ctx is canceled.
func (r *Registry) Start(ctx context.Context) {
	r.logger.Info("starting revocation sweeper", zap.Duration("interval", r.sweepInterval))

	r.sweep(ctx)

	ticker := r.clock.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("stopping revocation sweeper")

			return
		case <-ticker.Chan():
			r.sweep(ctx)
		}
	}
}

func (r *Registry) sweep(ctx context.Context) {
	if err := r.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Error("revocation sweep failed", zap.Error(err))
	}
}
