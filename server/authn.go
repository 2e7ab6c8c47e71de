package server

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/exp/maps"
)

// ErrAuthenticationFailed is returned when a user cannot be authenticated.
var ErrAuthenticationFailed = errors.New("authentication failed")

// PasswordAuthenticator authenticates a user with a username and password.
type PasswordAuthenticator interface {
	// Authenticate returns the ID of the authenticated user or ErrAuthenticationFailed.
	Authenticate(ctx context.Context, username string, password string) (string, error)
}

// StaticPasswordAuthenticator authenticates users from a static list of bcrypt password hashes.
type StaticPasswordAuthenticator struct {
	users map[string]string
}

// NewStaticPasswordAuthenticator returns a new StaticPasswordAuthenticator.
func NewStaticPasswordAuthenticator(users map[string]string) StaticPasswordAuthenticator {
	return StaticPasswordAuthenticator{
		users: maps.Clone(users),
	}
}

// Authenticate implements the PasswordAuthenticator interface.
func (a StaticPasswordAuthenticator) Authenticate(_ context.Context, username string, password string) (string, error) {
	passwordHash, ok := a.users[username]
	if !ok {
		// timing attack paranoia
		_ = bcrypt.CompareHashAndPassword([]byte{}, []byte(password))

		return "", ErrAuthenticationFailed
	}

	err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password))
	if err != nil {
		return "", ErrAuthenticationFailed
	}

	return username, nil
}

// User is an entry of a UserAuthenticator.
type User struct {
	Enabled      bool
	Username     string
	PasswordHash string
}

// NewUserAuthenticator returns a StaticPasswordAuthenticator for the enabled users.
func NewUserAuthenticator(users []User) StaticPasswordAuthenticator {
	entries := make(map[string]string, len(users))

	for _, user := range users {
		if !user.Enabled {
			continue
		}

		entries[user.Username] = user.PasswordHash
	}

	return StaticPasswordAuthenticator{
		users: entries,
	}
}

type userKey struct{}

// UserFromContext returns the authenticated user of a request.
func UserFromContext(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(userKey{}).(string)

	return user, ok
}

// BasicAuth requires requests to carry HTTP basic credentials accepted by authenticator.
func BasicAuth(authenticator PasswordAuthenticator, realm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, password, ok := r.BasicAuth()
			if !ok {
				unauthorized(w, realm)

				return
			}

			user, err := authenticator.Authenticate(r.Context(), username, password)
			if err != nil {
				unauthorized(w, realm)

				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
		})
	}
}

func unauthorized(w http.ResponseWriter, realm string) {
	w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`"`)
	http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
}
