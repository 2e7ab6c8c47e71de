// Package installation caches the installations of GitHub Apps.
package installation

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/distribution-auth/ghapp/ghapp"
	"github.com/distribution-auth/ghapp/ghapp/metrics"
)

// Defaults for Config.
const (
	DefaultMaxEntries = 10_000
	DefaultTTL        = 30 * time.Minute
)

// Config configures a Cache.
type Config struct {
	// MaxEntries is the maximum number of connections with cached installations.
	MaxEntries int64

	// TTL is measured from the time installations were fetched.
	TTL time.Duration

	Logger *zap.Logger
}

// Cache lists installations through the GitHub API and caches the results per connection.
//
// Concurrent misses for the same connection share a single API call.
// Failures are never cached.
type Cache struct {
	api        ghapp.PlatformAPI
	assertions ghapp.AssertionSource

	cache *ristretto.Cache[string, []ghapp.Installation]
	group singleflight.Group

	ttl    time.Duration
	logger *zap.Logger
}

// NewCache returns a new Cache.
func NewCache(api ghapp.PlatformAPI, assertions ghapp.AssertionSource, config Config) (*Cache, error) {
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultMaxEntries
	}

	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}

	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, []ghapp.Installation]{
		NumCounters:        config.MaxEntries * 10,
		MaxCost:            config.MaxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize installation cache: %w", err)
	}

	return &Cache{
		api:        api,
		assertions: assertions,
		cache:      cache,
		ttl:        config.TTL,
		logger:     config.Logger,
	}, nil
}

// Installations returns the installations of the application behind a connection.
func (c *Cache) Installations(ctx context.Context, connection ghapp.Connection) ([]ghapp.Installation, error) {
	key := connection.Key()

	if installations, ok := c.cache.Get(key); ok {
		metrics.IncrementInstallationLookups(true)

		return slices.Clone(installations), nil
	}

	metrics.IncrementInstallationLookups(false)

	// The shared load outlives the caller that started it, so one canceled caller cannot fail the others.
	loadCtx := context.WithoutCancel(ctx)

	ch := c.group.DoChan(key, func() (any, error) {
		// a concurrent load may have finished in the meantime
		if installations, ok := c.cache.Get(key); ok {
			return installations, nil
		}

		return c.load(loadCtx, key, connection)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()

	case result := <-ch:
		if result.Err != nil {
			return nil, result.Err
		}

		return slices.Clone(result.Val.([]ghapp.Installation)), nil
	}
}

func (c *Cache) load(ctx context.Context, key string, connection ghapp.Connection) ([]ghapp.Installation, error) {
	assertion, err := c.assertions.Current(connection.AppID)
	if err != nil {
		return nil, err
	}

	installations, err := c.api.ListInstallations(ctx, connection, assertion.Payload)
	if err != nil {
		return nil, err
	}

	if installations == nil {
		installations = []ghapp.Installation{}
	}

	if !c.cache.SetWithTTL(key, installations, 1, c.ttl) {
		c.logger.Debug("installations dropped by the cache", zap.String("app_id", connection.AppID))
	}
	c.cache.Wait()

	return installations, nil
}

// Find returns the installation of the application for account.
func (c *Cache) Find(ctx context.Context, connection ghapp.Connection, account string) (ghapp.Installation, bool, error) {
	installations, err := c.Installations(ctx, connection)
	if err != nil {
		return ghapp.Installation{}, false, err
	}

	installation, ok := ghapp.FindInstallation(installations, account)

	return installation, ok, nil
}

// Invalidate drops the cached installations of a connection.
func (c *Cache) Invalidate(connection ghapp.Connection) {
	c.cache.Del(connection.Key())
	c.cache.Wait()
}

// Close stops the cache's background goroutines.
func (c *Cache) Close() {
	c.cache.Close()
}
