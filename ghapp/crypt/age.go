// Package crypt encrypts secrets at rest with age.
package crypt

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
)

// AgeEncrypter encrypts secrets to an X25519 age identity.
//
// Ciphertext is base64 encoded so it can be stored in text columns.
type AgeEncrypter struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

// NewAgeEncrypter returns a new AgeEncrypter from an identity in AGE-SECRET-KEY-1... format.
func NewAgeEncrypter(identity string) (*AgeEncrypter, error) {
	parsed, err := age.ParseX25519Identity(strings.TrimSpace(identity))
	if err != nil {
		return nil, fmt.Errorf("parsing age identity: %w", err)
	}

	return &AgeEncrypter{
		identity:  parsed,
		recipient: parsed.Recipient(),
	}, nil
}

// Recipient returns the public key secrets are encrypted to.
func (e *AgeEncrypter) Recipient() string {
	return e.recipient.String()
}

func (e *AgeEncrypter) Encrypt(plaintext string) (string, error) {
	var ciphertext bytes.Buffer

	writer, err := age.Encrypt(&ciphertext, e.recipient)
	if err != nil {
		return "", fmt.Errorf("creating age encryptor: %w", err)
	}

	if _, err := io.WriteString(writer, plaintext); err != nil {
		return "", fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}

	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalizing age encryption: %w", err)
	}

	return base64.StdEncoding.EncodeToString(ciphertext.Bytes()), nil
}

func (e *AgeEncrypter) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decoding base64 ciphertext: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(raw), e.identity)
	if err != nil {
		return "", fmt.Errorf("decrypting: %w", err)
	}

	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("reading decrypted plaintext: %w", err)
	}

	return string(plaintext), nil
}

// GenerateIdentity generates a new X25519 identity.
func GenerateIdentity() (string, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return "", fmt.Errorf("generating age identity: %w", err)
	}

	return identity.String(), nil
}

// LoadIdentityFile reads the first identity from a file in the format written by age-keygen.
// Lines starting with # are ignored.
func LoadIdentityFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		return line, nil
	}

	if err := scanner.Err(); err != nil {
		return "", err
	}

	return "", fmt.Errorf("no identity found in %s", path)
}

// LoadOrCreateIdentityFile loads an identity file, generating a new identity first if the file does not exist.
func LoadOrCreateIdentityFile(path string) (string, error) {
	identity, err := LoadIdentityFile(path)
	if err == nil {
		return identity, nil
	}

	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	identity, err = GenerateIdentity()
	if err != nil {
		return "", err
	}

	parsed, err := age.ParseX25519Identity(identity)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", err
	}

	content := fmt.Sprintf("# public key: %s\n%s\n", parsed.Recipient(), identity)

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return "", err
	}

	return identity, nil
}
