package ghapp_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/distribution-auth/ghapp/ghapp"
)

func TestConnection_Matches(t *testing.T) {
	connection := ghapp.Connection{
		ServerURL: "https://github.example.com",
		Owner:     "acme",
		AppID:     "A1",
	}

	assert.True(t, connection.Matches("https://github.example.com", "acme"))
	assert.True(t, connection.Matches("https://github.example.com/", "acme"))
	assert.True(t, connection.Matches("github.example.com", "acme"))
	assert.True(t, connection.Matches("ssh://github.example.com", "acme"))
	assert.False(t, connection.Matches("https://github.example.com", "other"))
	assert.False(t, connection.Matches("https://github.com", "acme"))
}

func TestConnection_Description(t *testing.T) {
	connection := ghapp.Connection{
		ServerURL: "https://github.com",
		Owner:     "acme",
	}

	assert.Equal(t, "Owner: https://github.com/acme", connection.Description())

	connection.AppName = "acme-app"

	assert.Equal(t, "Owner: https://github.com/acme, slug: acme-app", connection.Description())
}

func TestFindInstallation(t *testing.T) {
	installations := []ghapp.Installation{
		{Account: "other", ID: "I0"},
		{Account: "acme", ID: "I1"},
		{Account: "acme", ID: "I2"},
	}

	installation, ok := ghapp.FindInstallation(installations, "acme")
	assert.True(t, ok)
	assert.Equal(t, "I1", installation.ID)

	_, ok = ghapp.FindInstallation(nil, "acme")
	assert.False(t, ok)
}

func TestTokenParameters(t *testing.T) {
	expected := map[string]string{
		"github.token":             "ghs_token",
		"env.GITHUB_TOKEN":         "ghs_token",
		"secrets.env.GITHUB_TOKEN": "ghs_token",
	}

	assert.Equal(t, expected, ghapp.TokenParameters("ghs_token"))
}

func TestErrorKinds(t *testing.T) {
	notFound := fmt.Errorf("lookup: %w", &ghapp.ConnectionNotFoundError{ServerURL: "https://github.com", Owner: "acme"})

	assert.True(t, ghapp.IsNotFound(notFound))
	assert.True(t, ghapp.IsNotFound(ghapp.ErrNotFound))
	assert.False(t, ghapp.IsTransient(notFound))

	assert.True(t, ghapp.IsTransient(&ghapp.RemoteAPIError{StatusCode: 502}))
	assert.True(t, ghapp.IsTransient(&ghapp.RemoteAPIError{Err: errors.New("connection refused")}))
	assert.False(t, ghapp.IsTransient(&ghapp.RemoteAPIError{StatusCode: 404}))

	var keyErr *ghapp.KeyParseError
	assert.True(t, errors.As(fmt.Errorf("add: %w", &ghapp.KeyParseError{AppID: "A1"}), &keyErr))

	tokenErr := &ghapp.TokenGenerationError{Err: ghapp.ErrMissingAssertion}
	assert.ErrorIs(t, tokenErr, ghapp.ErrMissingAssertion)
	assert.Equal(t, "failed to generate github auth token: missing jwt", tokenErr.Error())
}
