package ghapp

import (
	"github.com/docker/libtrust"
)

// KeyStore stores the private keys of applications.
type KeyStore interface {
	// ReadPrivateKey loads the key of an application.
	// It returns a *KeyParseError if the stored key material is malformed.
	ReadPrivateKey(appID string) (libtrust.PrivateKey, error)

	// WritePrivateKey stores PEM encoded key material for an application.
	WritePrivateKey(appID string, key []byte) error

	// ListAppIDs lists every application with a stored key.
	ListAppIDs() ([]string, error)

	// DeleteKey removes the key of an application. Deleting a missing key is not an error.
	DeleteKey(appID string) error
}
