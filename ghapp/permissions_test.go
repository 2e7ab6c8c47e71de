package ghapp_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/distribution-auth/ghapp/ghapp"
)

func TestPermissionsForBuild(t *testing.T) {
	testCases := []struct {
		parameters map[string]string
		scopes     []string
		expected   ghapp.Permissions
	}{
		{
			parameters: map[string]string{
				"github.token.permissions.contents": "write",
			},
			expected: ghapp.Permissions{
				"contents": "write",
				"metadata": "read",
			},
		},
		{
			parameters: map[string]string{},
			expected:   ghapp.Permissions{},
		},
		{
			parameters: map[string]string{
				"github.token.permissions.contents": "",
				"github.token.permissions.issues":   "read",
			},
			expected: ghapp.Permissions{
				"issues":   "read",
				"metadata": "read",
			},
		},
		{
			parameters: map[string]string{
				"github.token.permissions.all":      "write",
				"github.token.permissions.contents": "read",
			},
			scopes: []string{"contents", "issues", "metadata"},
			expected: ghapp.Permissions{
				"contents": "write",
				"issues":   "write",
				"metadata": "read",
			},
		},
		{
			// unsupported scopes are ignored
			parameters: map[string]string{
				"github.token.permissions.administration": "write",
			},
			expected: ghapp.Permissions{},
		},
	}

	for _, testCase := range testCases {
		testCase := testCase

		t.Run("", func(t *testing.T) {
			actual := ghapp.PermissionsForBuild(testCase.parameters, testCase.scopes)

			assert.Equal(t, testCase.expected, actual)
		})
	}
}

func TestDefaultAppPermissions(t *testing.T) {
	permissions := ghapp.DefaultAppPermissions([]string{"contents", "metadata"})

	assert.Equal(t, ghapp.Permissions{"contents": "write", "metadata": "read"}, permissions)
}

func TestParseScopeList(t *testing.T) {
	assert.Equal(t, []string{"contents", "issues"}, ghapp.ParseScopeList(" Contents, ,issues,"))
	assert.Empty(t, ghapp.ParseScopeList(""))
}
