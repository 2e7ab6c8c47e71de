package ghapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrMissingAssertion is returned when no valid assertion is available for an application.
var ErrMissingAssertion = errors.New("missing jwt")

// KeyParseError is returned when private key material cannot be parsed.
type KeyParseError struct {
	AppID string
	Err   error
}

func (e *KeyParseError) Error() string {
	msg := "failed to parse the PEM file with a private key"
	if e.AppID != "" {
		msg += " for the application " + e.AppID
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *KeyParseError) Unwrap() error {
	return e.Err
}

// TokenGenerationError is returned when a JWT or an installation token cannot be produced.
type TokenGenerationError struct {
	Message string
	Err     error
}

func (e *TokenGenerationError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "failed to generate github auth token"
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *TokenGenerationError) Unwrap() error {
	return e.Err
}

// RemoteAPIError is returned when GitHub responds with a non-success status or cannot be reached.
type RemoteAPIError struct {
	Method string
	URL    string

	// StatusCode is zero when no response was received.
	StatusCode int
	Message    string

	// Err is the transport error, if any.
	Err error
}

func (e *RemoteAPIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("github: %s %s: %v", e.Method, e.URL, e.Err)
	}

	return fmt.Sprintf("github: %s %s responded with code %d: %s", e.Method, e.URL, e.StatusCode, e.Message)
}

func (e *RemoteAPIError) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying the request may succeed.
func (e *RemoteAPIError) Transient() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ConnectionNotFoundError is returned when no application is registered for a repository owner.
type ConnectionNotFoundError struct {
	ServerURL string
	Owner     string
	BuildID   int64
}

func (e *ConnectionNotFoundError) Error() string {
	if e.BuildID != 0 {
		return fmt.Sprintf("failed to find connection to the github app for build with id %d (%s/%s)", e.BuildID, e.ServerURL, e.Owner)
	}

	return fmt.Sprintf("failed to find connection to the github app for %s/%s", e.ServerURL, e.Owner)
}

// IsNotFound reports whether err means that a record or connection does not exist.
// Not found errors are never worth retrying.
func IsNotFound(err error) bool {
	var connectionErr *ConnectionNotFoundError

	return errors.Is(err, ErrNotFound) || errors.As(err, &connectionErr)
}

// IsTransient reports whether err is a failure that may go away when the operation is retried.
func IsTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *RemoteAPIError

	return errors.As(err, &apiErr) && apiErr.Transient()
}
