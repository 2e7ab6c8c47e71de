// Package jwt signs and rotates the JWTs GitHub Apps authenticate with.
package jwt

import (
	"fmt"
	"time"

	"github.com/docker/libtrust"
	"github.com/golang-jwt/jwt/v4"
	"github.com/jonboulle/clockwork"

	"github.com/distribution-auth/ghapp/ghapp"
)

// DefaultWindow is the validity of an app JWT. GitHub rejects JWTs valid for more than 10 minutes.
const DefaultWindow = 10 * time.Minute

// Signer signs app JWTs.
type Signer struct {
	window time.Duration
	clock  clockwork.Clock
}

// NewSigner returns a new Signer.
func NewSigner(window time.Duration, clock clockwork.Clock) Signer {
	if window <= 0 {
		window = DefaultWindow
	}

	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return Signer{
		window: window,
		clock:  clock,
	}
}

// Sign issues an assertion for an application.
func (s Signer) Sign(appID string, key libtrust.PrivateKey) (ghapp.Assertion, error) {
	alg, err := detectSigningMethod(key)
	if err != nil {
		return ghapp.Assertion{}, &ghapp.TokenGenerationError{Err: err}
	}

	now := s.clock.Now()
	expiresAt := now.Add(s.window)

	claims := jwt.RegisteredClaims{
		Issuer:    appID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(alg, claims)

	signedToken, err := token.SignedString(key.CryptoPrivateKey())
	if err != nil {
		return ghapp.Assertion{}, &ghapp.TokenGenerationError{Err: err}
	}

	return ghapp.Assertion{
		AppID:     appID,
		Payload:   signedToken,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}, nil
}

func detectSigningMethod(key libtrust.PrivateKey) (jwt.SigningMethod, error) {
	switch key.KeyType() {
	case "RSA":
		return jwt.SigningMethodRS256, nil
	default:
		return nil, fmt.Errorf("unsupported signing key type %q", key.KeyType())
	}
}
