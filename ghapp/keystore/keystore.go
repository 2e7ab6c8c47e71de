// Package keystore stores GitHub App private keys as PEM files.
package keystore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/libtrust"

	"github.com/distribution-auth/ghapp/ghapp"
)

// KeyFileExtension is the extension of key files. The file name without extension is the application ID.
const KeyFileExtension = ".pem"

// ParsePrivateKey parses PEM encoded key material.
// Only RSA keys are accepted: GitHub verifies app JWTs with RS256.
func ParsePrivateKey(appID string, data []byte) (libtrust.PrivateKey, error) {
	key, err := libtrust.UnmarshalPrivateKeyPEM(data)
	if err != nil {
		return nil, &ghapp.KeyParseError{AppID: appID, Err: err}
	}

	if key.KeyType() != "RSA" {
		return nil, &ghapp.KeyParseError{AppID: appID, Err: fmt.Errorf("unsupported signing key type %q", key.KeyType())}
	}

	return key, nil
}

// FileKeyStore keeps one PEM file per application in a directory.
type FileKeyStore struct {
	dir string
}

// NewFileKeyStore returns a new FileKeyStore.
func NewFileKeyStore(dir string) *FileKeyStore {
	return &FileKeyStore{
		dir: dir,
	}
}

// ReadPrivateKey implements the ghapp.KeyStore interface.
func (s *FileKeyStore) ReadPrivateKey(appID string) (libtrust.PrivateKey, error) {
	path, err := s.path(appID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("private key of application %s: %w", appID, ghapp.ErrNotFound)
	} else if err != nil {
		return nil, err
	}

	return ParsePrivateKey(appID, data)
}

// WritePrivateKey implements the ghapp.KeyStore interface.
//
// The key is written to a temporary file first, so readers never observe a partially written key.
func (s *FileKeyStore) WritePrivateKey(appID string, key []byte) error {
	path, err := s.path(appID)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}

	file, err := os.CreateTemp(s.dir, ".key-*")
	if err != nil {
		return err
	}
	defer os.Remove(file.Name())

	if _, err := file.Write(key); err != nil {
		file.Close()

		return err
	}

	if err := file.Close(); err != nil {
		return err
	}

	if err := os.Chmod(file.Name(), 0o600); err != nil {
		return err
	}

	return os.Rename(file.Name(), path)
}

// ListAppIDs implements the ghapp.KeyStore interface.
//
// A missing directory means there are no keys yet.
func (s *FileKeyStore) ListAppIDs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	var appIDs []string

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != KeyFileExtension {
			continue
		}

		appIDs = append(appIDs, strings.TrimSuffix(name, KeyFileExtension))
	}

	return appIDs, nil
}

// DeleteKey implements the ghapp.KeyStore interface.
func (s *FileKeyStore) DeleteKey(appID string) error {
	path, err := s.path(appID)
	if err != nil {
		return err
	}

	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return err
}

func (s *FileKeyStore) path(appID string) (string, error) {
	if appID == "" || strings.ContainsAny(appID, `/\`) || appID == "." || appID == ".." {
		return "", fmt.Errorf("invalid application id %q", appID)
	}

	return filepath.Join(s.dir, appID+KeyFileExtension), nil
}
