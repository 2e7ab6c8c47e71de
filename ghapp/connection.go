package ghapp

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Connection binds a GitHub App to the account (user or organization) it was registered for.
type Connection struct {
	// ServerURL is the base URL of the GitHub instance (eg. https://github.com).
	ServerURL string

	// Owner is the login of the account owning the application.
	Owner string

	AppID string

	// WebhookSecret is kept in its encrypted form. Nothing in this module decrypts it.
	WebhookSecret string

	// Reserved marks a placeholder created while an application registration is still in progress.
	// A reserved connection is never used to issue tokens.
	Reserved bool

	// AppName is the application slug, if known.
	AppName string

	OwnerID string
}

// Key returns a string uniquely identifying the connection.
func (c Connection) Key() string {
	return c.ServerURL + "\x00" + c.Owner + "\x00" + c.AppID
}

// Description returns a human-readable summary of the connection.
func (c Connection) Description() string {
	description := fmt.Sprintf("Owner: %s/%s", c.ServerURL, c.Owner)
	if c.AppName != "" {
		description += ", slug: " + c.AppName
	}

	return description
}

// Matches reports whether the connection belongs to owner on the given GitHub server.
//
// server may either be a full URL or a bare host name.
func (c Connection) Matches(server string, owner string) bool {
	if c.Owner != owner {
		return false
	}

	if strings.TrimSuffix(c.ServerURL, "/") == strings.TrimSuffix(server, "/") {
		return true
	}

	host := hostOf(c.ServerURL)

	return host != "" && (host == server || host == hostOf(server))
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	return u.Hostname()
}

// ConnectionStore persists connections.
//
// Implementations store the webhook secret exactly as they receive it.
type ConnectionStore interface {
	// FindConnection returns the first connection matching predicate.
	// The boolean result is false if no connection matches.
	FindConnection(ctx context.Context, predicate func(Connection) bool) (Connection, bool, error)

	// ListConnections returns every stored connection, reserved ones included.
	ListConnections(ctx context.Context) ([]Connection, error)

	// AddConnection stores a connection, replacing any connection with the same application ID.
	AddConnection(ctx context.Context, connection Connection) error

	// RemoveConnection deletes the connection of an application.
	// Removing an unknown application is not an error.
	RemoveConnection(ctx context.Context, appID string) error
}
