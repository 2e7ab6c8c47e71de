package ghapp

import (
	"time"
)

// Assertion is a short-lived JWT proving the identity of a GitHub App.
//
// Assertions are never persisted.
type Assertion struct {
	AppID string

	// Payload is the signed JWT in compact serialization.
	Payload string

	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ValidAt reports whether the assertion can still be used at t.
func (a Assertion) ValidAt(t time.Time) bool {
	return a.Payload != "" && t.Before(a.ExpiresAt)
}

// AssertionSource provides the current assertion of an application.
type AssertionSource interface {
	// Current returns the assertion of an application.
	// It fails with an error wrapping ErrMissingAssertion if there is no valid assertion.
	Current(appID string) (Assertion, error)
}
