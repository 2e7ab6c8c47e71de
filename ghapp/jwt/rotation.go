package jwt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docker/libtrust"
	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/distribution-auth/ghapp/ghapp"
	"github.com/distribution-auth/ghapp/ghapp/metrics"
	"github.com/distribution-auth/ghapp/pkg/retry"
)

type assertions map[string]ghapp.Assertion

// RotationManager keeps a fresh JWT for every application with a stored private key.
//
// Readers see an immutable snapshot of the assertion table,
// so Current never blocks on a rotation in progress.
type RotationManager struct {
	keys ghapp.KeyStore

	window   time.Duration
	attempts int
	clock    clockwork.Clock
	logger   *zap.Logger

	signer Signer

	table atomic.Pointer[assertions]

	// serializes writers
	mu sync.Mutex
}

// NewRotationManager returns a new RotationManager.
func NewRotationManager(keys ghapp.KeyStore, opts ...Option) *RotationManager {
	m := &RotationManager{
		keys:     keys,
		window:   DefaultWindow,
		attempts: retry.DefaultAttempts,
	}

	for _, opt := range opts {
		opt.applyRotationManager(m)
	}

	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}

	if m.logger == nil {
		m.logger = zap.NewNop()
	}

	m.signer = NewSigner(m.window, m.clock)
	m.table.Store(&assertions{})

	return m
}

// Window returns the validity of issued JWTs.
func (m *RotationManager) Window() time.Duration {
	return m.window
}

// Sign issues an assertion without storing it.
func (m *RotationManager) Sign(appID string, key libtrust.PrivateKey) (ghapp.Assertion, error) {
	return m.signer.Sign(appID, key)
}

// Current returns the assertion of an application.
//
// It fails with an error wrapping ghapp.ErrMissingAssertion if there is no assertion for the application
// or it has already expired.
func (m *RotationManager) Current(appID string) (ghapp.Assertion, error) {
	assertion, ok := (*m.table.Load())[appID]
	if !ok {
		return ghapp.Assertion{}, fmt.Errorf("application %s: %w", appID, ghapp.ErrMissingAssertion)
	}

	if !assertion.ValidAt(m.clock.Now()) {
		return ghapp.Assertion{}, fmt.Errorf("application %s: jwt expired at %s: %w", appID, assertion.ExpiresAt, ghapp.ErrMissingAssertion)
	}

	return assertion, nil
}

// Register signs an assertion with key and makes it the current assertion of the application.
func (m *RotationManager) Register(appID string, key libtrust.PrivateKey) (ghapp.Assertion, error) {
	assertion, err := m.signer.Sign(appID, key)
	if err != nil {
		return ghapp.Assertion{}, err
	}

	m.update(func(table assertions) {
		table[appID] = assertion
	})

	return assertion, nil
}

// Regenerate reads the key of an application and replaces its assertion.
func (m *RotationManager) Regenerate(ctx context.Context, appID string) (ghapp.Assertion, error) {
	if err := ctx.Err(); err != nil {
		return ghapp.Assertion{}, err
	}

	key, err := m.keys.ReadPrivateKey(appID)
	if err != nil {
		return ghapp.Assertion{}, err
	}

	return m.Register(appID, key)
}

// Forget drops the assertion of an application.
func (m *RotationManager) Forget(appID string) {
	m.update(func(table assertions) {
		delete(table, appID)
	})
}

func (m *RotationManager) update(fn func(table assertions)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := *m.table.Load()

	next := make(assertions, len(current)+1)
	for appID, assertion := range current {
		next[appID] = assertion
	}

	fn(next)

	m.table.Store(&next)
}

// RotateAll regenerates the assertion of every application with a stored key.
//
// A failing application does not prevent the others from being rotated:
// every failure is collected into the returned error.
func (m *RotationManager) RotateAll(ctx context.Context) error {
	appIDs, err := retry.DoValue(m.attempts, m.keys.ListAppIDs)
	if err != nil {
		return fmt.Errorf("listing applications: %w", err)
	}

	var errs error

	for _, appID := range appIDs {
		if ctx.Err() != nil {
			return multierr.Append(errs, ctx.Err())
		}

		err := retry.Do(m.attempts, func() error {
			_, err := m.Regenerate(ctx, appID)

			return err
		})

		metrics.IncrementJWTRotations(appID, err == nil)

		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("application %s: %w", appID, err))
		}
	}

	return errs
}

// Start rotates assertions immediately, then every three quarters of the validity window until ctx is canceled.
func (m *RotationManager) Start(ctx context.Context) {
	interval := m.window * 3 / 4

	m.logger.Info("starting jwt rotation", zap.Duration("interval", interval))

	m.rotate(ctx)

	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("stopping jwt rotation")

			return
		case <-ticker.Chan():
			m.rotate(ctx)
		}
	}
}

func (m *RotationManager) rotate(ctx context.Context) {
	err := m.RotateAll(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Error("failed to rotate jwts", zap.Error(err))
	}
}
