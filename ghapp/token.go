package ghapp

import (
	"context"
)

// IssuedToken is an installation access token handed to a single build.
type IssuedToken struct {
	ServerURL string
	AppID     string
	Token     string
}

// TokenStore persists issued tokens keyed by build ID.
//
// The store receives tokens already encrypted and returns them as stored.
type TokenStore interface {
	// Get returns the token stored for a build or ErrNotFound.
	Get(ctx context.Context, buildID int64) (IssuedToken, error)

	// Put stores a token for a build, replacing any previous one.
	Put(ctx context.Context, buildID int64, token IssuedToken) error

	// Delete removes the token of a build. Deleting a missing token is not an error.
	Delete(ctx context.Context, buildID int64) error

	// BuildIDs lists every build with a stored token.
	BuildIDs(ctx context.Context) ([]int64, error)
}

// Encrypter encrypts secrets before they are written to durable storage.
type Encrypter interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}
