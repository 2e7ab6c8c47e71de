package ghapp

import (
	"context"
)

// PlatformAPI is the subset of the GitHub REST API used to manage installation tokens.
//
// Every method fails with a *RemoteAPIError when GitHub responds with a non-success status
// or cannot be reached.
type PlatformAPI interface {
	// ListInstallations lists the installations of the application authenticated by assertion.
	ListInstallations(ctx context.Context, connection Connection, assertion string) ([]Installation, error)

	// CreateInstallationToken mints an access token restricted to a single repository and a set of permissions.
	CreateInstallationToken(
		ctx context.Context,
		connection Connection,
		installationID string,
		repository Repository,
		assertion string,
		permissions Permissions,
	) (IssuedToken, error)

	// RevokeInstallationToken invalidates an access token.
	RevokeInstallationToken(ctx context.Context, token IssuedToken) error

	// AppConfiguration exchanges a temporary code received after an app manifest flow
	// for the configuration of the newly created application.
	AppConfiguration(ctx context.Context, serverURL string, code string) (AppConfiguration, error)
}

// AppConfiguration is returned by GitHub when an application is created from a manifest.
type AppConfiguration struct {
	ID            string
	PEM           string
	WebhookSecret string
	Slug          string
	Owner         AppOwner
}

// AppOwner is the account owning an application.
type AppOwner struct {
	ID    string
	Login string
}
