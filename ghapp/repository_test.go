package ghapp_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distribution-auth/ghapp/ghapp"
)

func TestParseRepository(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		testCases := []struct {
			link     string
			expected ghapp.Repository
		}{
			{
				"https://github.example.com/acme/repo.git",
				ghapp.Repository{Protocol: "https", Host: "github.example.com", Owner: "acme", Name: "repo"},
			},
			{
				"https://github.com/acme/repo",
				ghapp.Repository{Protocol: "https", Host: "github.com", Owner: "acme", Name: "repo"},
			},
			{
				"ssh://git@github.com/acme/repo.git",
				ghapp.Repository{Protocol: "ssh", Host: "github.com", Owner: "acme", Name: "repo"},
			},
			{
				"github.com/acme/repo",
				ghapp.Repository{Protocol: "", Host: "github.com", Owner: "acme", Name: "repo"},
			},
		}

		for _, testCase := range testCases {
			testCase := testCase

			t.Run("", func(t *testing.T) {
				actual, err := ghapp.ParseRepository(testCase.link)
				require.NoError(t, err)

				assert.Equal(t, testCase.expected, actual)
			})
		}
	})

	t.Run("Error", func(t *testing.T) {
		testCases := []string{
			"ftp://github.com/acme/repo",
			"https://github.com/acme",
			"https:///acme/repo",
			"",
		}

		for _, testCase := range testCases {
			testCase := testCase

			t.Run("", func(t *testing.T) {
				_, err := ghapp.ParseRepository(testCase)
				require.Error(t, err)
			})
		}
	})
}

func TestRepository(t *testing.T) {
	repository := ghapp.Repository{Protocol: "ssh", Host: "github.example.com", Owner: "acme", Name: "repo"}

	assert.Equal(t, "acme/repo", repository.FullName())
	assert.Equal(t, "https://github.example.com", repository.ServerURL())
}

func TestParseOwnerURL(t *testing.T) {
	serverURL, owner, err := ghapp.ParseOwnerURL("https://github.example.com/acme/settings")
	require.NoError(t, err)

	assert.Equal(t, "https://github.example.com", serverURL)
	assert.Equal(t, "acme", owner)

	_, _, err = ghapp.ParseOwnerURL("github.example.com")
	require.Error(t, err)
}
