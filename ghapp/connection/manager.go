// Package connection manages the GitHub Apps builds can receive tokens from.
package connection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/docker/libtrust"
	"github.com/gofrs/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/distribution-auth/ghapp/ghapp"
	"github.com/distribution-auth/ghapp/ghapp/keystore"
	"github.com/distribution-auth/ghapp/pkg/retry"
)

// ErrConnectionExists is returned when an owner already has an application connected.
var ErrConnectionExists = errors.New("application for the owner already exists")

// Assertions registers and forgets application JWTs.
type Assertions interface {
	Register(appID string, key libtrust.PrivateKey) (ghapp.Assertion, error)
	Forget(appID string)
}

// Installations lists the installations of applications.
type Installations interface {
	Installations(ctx context.Context, connection ghapp.Connection) ([]ghapp.Installation, error)
	Invalidate(connection ghapp.Connection)
}

// Config configures a Manager.
type Config struct {
	Keys          ghapp.KeyStore
	Store         ghapp.ConnectionStore
	Assertions    Assertions
	Installations Installations
	API           ghapp.PlatformAPI
	Encrypter     ghapp.Encrypter

	// RootURL is the public URL of the server. GitHub redirects to it after creating an application.
	RootURL string

	// SupportedScopes are granted to applications created from a manifest.
	SupportedScopes []string

	Logger *zap.Logger
}

// Manager connects, finds and removes GitHub Apps.
type Manager struct {
	keys          ghapp.KeyStore
	store         ghapp.ConnectionStore
	assertions    Assertions
	installations Installations
	api           ghapp.PlatformAPI
	encrypter     ghapp.Encrypter

	rootURL         string
	supportedScopes []string

	// serializes the duplicate check with the write of a connection
	addMu sync.Mutex

	logger *zap.Logger
}

// NewManager returns a new Manager.
func NewManager(config Config) *Manager {
	if len(config.SupportedScopes) == 0 {
		config.SupportedScopes = ghapp.DefaultSupportedScopes
	}

	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Manager{
		keys:            config.Keys,
		store:           config.Store,
		assertions:      config.Assertions,
		installations:   config.Installations,
		api:             config.API,
		encrypter:       config.Encrypter,
		rootURL:         config.RootURL,
		supportedScopes: config.SupportedScopes,
		logger:          config.Logger,
	}
}

// AddApplicationConnection stores the private key of an application and connects it.
//
// The key is validated by signing a JWT with it before anything is persisted.
// The webhook secret of the connection must be in plaintext: it is encrypted before it is stored.
func (m *Manager) AddApplicationConnection(ctx context.Context, connection ghapp.Connection, key []byte) error {
	if connection.AppID == "" {
		return errors.New("app id is required")
	}

	if connection.ServerURL == "" || connection.Owner == "" {
		return errors.New("server url and owner are required")
	}

	connection.ServerURL = strings.TrimSuffix(connection.ServerURL, "/")

	m.addMu.Lock()
	defer m.addMu.Unlock()

	if !connection.Reserved {
		existing, ok, err := m.store.FindConnection(ctx, func(c ghapp.Connection) bool {
			return !c.Reserved && c.AppID != connection.AppID && c.Matches(connection.ServerURL, connection.Owner)
		})
		if err != nil {
			return err
		}

		if ok {
			return fmt.Errorf("%w: %s (app id %s)", ErrConnectionExists, existing.Description(), existing.AppID)
		}
	}

	privateKey, err := keystore.ParsePrivateKey(connection.AppID, key)
	if err != nil {
		return err
	}

	if connection.WebhookSecret != "" {
		secret, err := m.encrypter.Encrypt(connection.WebhookSecret)
		if err != nil {
			return fmt.Errorf("encrypting webhook secret: %w", err)
		}

		connection.WebhookSecret = secret
	}

	if _, err := m.assertions.Register(connection.AppID, privateKey); err != nil {
		return err
	}

	err = retry.Do(retry.DefaultAttempts, func() error {
		return m.keys.WritePrivateKey(connection.AppID, key)
	})
	if err != nil {
		m.assertions.Forget(connection.AppID)

		return fmt.Errorf("writing private key: %w", err)
	}

	if err := m.store.AddConnection(ctx, connection); err != nil {
		m.assertions.Forget(connection.AppID)

		return multierr.Append(fmt.Errorf("persisting connection: %w", err), m.keys.DeleteKey(connection.AppID))
	}

	m.logger.Info(
		"github app connected",
		zap.String("app_id", connection.AppID),
		zap.String("connection", connection.Description()),
	)

	return nil
}

// RemoveConnection disconnects an application and deletes its private key.
//
// Both the key and the connection are removed even if one of them fails.
func (m *Manager) RemoveConnection(ctx context.Context, appID string) error {
	connection, found, err := m.FindConnectionByAppID(ctx, appID)
	if err != nil {
		return err
	}

	err = multierr.Append(
		m.keys.DeleteKey(appID),
		m.store.RemoveConnection(ctx, appID),
	)

	m.assertions.Forget(appID)

	if found {
		m.installations.Invalidate(connection)
	}

	if err != nil {
		return fmt.Errorf("removing connection for the application %s: %w", appID, err)
	}

	m.logger.Info("github app disconnected", zap.String("app_id", appID))

	return nil
}

// AppGenerationLink returns a link creating a new application from a manifest on GitHub.
//
// A reserved connection is stored until GitHub redirects back with the new application (see FinishConnection).
func (m *Manager) AppGenerationLink(ctx context.Context, serverURL string, owner string, isOrganisation bool) (string, error) {
	if m.rootURL == "" {
		return "", errors.New("root url is not configured")
	}

	serverURL = strings.TrimSuffix(serverURL, "/")

	tempID, err := uuid.NewV4()
	if err != nil {
		return "", err
	}

	manifest := newManifest(m.rootURL, serverURL, owner, tempID.String(), m.supportedScopes)

	link, err := appGenerationLink(serverURL, owner, isOrganisation, manifest)
	if err != nil {
		return "", err
	}

	reserved := ghapp.Connection{
		ServerURL: serverURL,
		Owner:     owner,
		AppID:     tempID.String(),
		Reserved:  true,
	}

	if err := m.store.AddConnection(ctx, reserved); err != nil {
		return "", fmt.Errorf("reserving connection: %w", err)
	}

	return link, nil
}

// FinishConnection replaces a reserved connection with the application GitHub created from its manifest.
func (m *Manager) FinishConnection(ctx context.Context, tempID string, code string) (ghapp.Connection, error) {
	reserved, ok, err := m.FindConnectionByAppID(ctx, tempID)
	if err != nil {
		return ghapp.Connection{}, err
	}

	if !ok || !reserved.Reserved {
		return ghapp.Connection{}, fmt.Errorf("cannot find reserved connection with temporary id %s: %w", tempID, ghapp.ErrNotFound)
	}

	config, err := m.api.AppConfiguration(ctx, reserved.ServerURL, code)
	if err != nil {
		return ghapp.Connection{}, err
	}

	connection := ghapp.Connection{
		ServerURL:     reserved.ServerURL,
		Owner:         reserved.Owner,
		AppID:         config.ID,
		WebhookSecret: config.WebhookSecret,
		AppName:       config.Slug,
		OwnerID:       config.Owner.ID,
	}

	if err := m.AddApplicationConnection(ctx, connection, []byte(config.PEM)); err != nil {
		m.logger.Error("failed to finish connecting a github app", zap.String("temp_id", tempID), zap.Error(err))

		return ghapp.Connection{}, err
	}

	if err := m.store.RemoveConnection(ctx, reserved.AppID); err != nil {
		m.logger.Warn("failed to remove reserved connection", zap.String("temp_id", tempID), zap.Error(err))
	}

	return m.storedConnection(ctx, connection.AppID)
}

func (m *Manager) storedConnection(ctx context.Context, appID string) (ghapp.Connection, error) {
	connection, ok, err := m.FindConnectionByAppID(ctx, appID)
	if err != nil {
		return ghapp.Connection{}, err
	}

	if !ok {
		return ghapp.Connection{}, fmt.Errorf("connection for the application %s: %w", appID, ghapp.ErrNotFound)
	}

	return connection, nil
}

// AllConnections lists every connection, including reserved ones.
func (m *Manager) AllConnections(ctx context.Context) ([]ghapp.Connection, error) {
	return retry.DoValue(retry.DefaultAttempts, func() ([]ghapp.Connection, error) {
		return m.store.ListConnections(ctx)
	})
}

// FindConnection returns the connection of an owner on a GitHub server.
// server may be a full URL or a host name.
//
// Reserved connections are ignored.
func (m *Manager) FindConnection(ctx context.Context, server string, owner string) (ghapp.Connection, error) {
	connection, ok, err := m.store.FindConnection(ctx, func(c ghapp.Connection) bool {
		return !c.Reserved && c.Matches(server, owner)
	})
	if err != nil {
		return ghapp.Connection{}, err
	}

	if !ok {
		return ghapp.Connection{}, &ghapp.ConnectionNotFoundError{ServerURL: server, Owner: owner}
	}

	return connection, nil
}

// FindConnectionByAppID returns the connection of an application.
func (m *Manager) FindConnectionByAppID(ctx context.Context, appID string) (ghapp.Connection, bool, error) {
	return m.store.FindConnection(ctx, func(c ghapp.Connection) bool {
		return c.AppID == appID
	})
}

// FindConnectionByInstallationID returns the connection whose application has the given installation.
//
// Connections whose installations cannot be listed are skipped.
func (m *Manager) FindConnectionByInstallationID(ctx context.Context, installationID string) (ghapp.Connection, bool, error) {
	connections, err := m.AllConnections(ctx)
	if err != nil {
		return ghapp.Connection{}, false, err
	}

	for _, connection := range connections {
		if connection.Reserved {
			continue
		}

		installations, err := m.installations.Installations(ctx, connection)
		if err != nil {
			m.logger.Debug("failed to list installations", zap.String("app_id", connection.AppID), zap.Error(err))

			continue
		}

		for _, installation := range installations {
			if installation.ID == installationID {
				return connection, true, nil
			}
		}
	}

	return ghapp.Connection{}, false, nil
}
