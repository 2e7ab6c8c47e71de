package connection

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/distribution-auth/ghapp/ghapp"
)

// FinishPath is the path GitHub redirects to once an application is created from a manifest.
// The temporary connection ID is appended to it.
const FinishPath = "/connections/finish/"

// DefaultEvents are the webhook events applications created from a manifest subscribe to.
var DefaultEvents = []string{
	"check_run",
	"check_suite",
	"delete",
	"deployment",
	"deployment_status",
	"fork",
	"gollum",
	"issue_comment",
	"issues",
	"label",
	"milestone",
	"public",
	"registry_package",
	"release",
	"status",
	"watch",
	"workflow_run",
	"create",
	"repository_dispatch",
}

type hookAttributes struct {
	URL    string `json:"url"`
	Active bool   `json:"active"`
}

// Manifest describes an application to be created by GitHub.
// See https://docs.github.com/en/apps/sharing-github-apps/registering-a-github-app-from-a-manifest
type Manifest struct {
	Name           string            `json:"name"`
	URL            string            `json:"url"`
	HookAttributes hookAttributes    `json:"hook_attributes"`
	RedirectURL    string            `json:"redirect_url"`
	Public         bool              `json:"public"`
	Permissions    ghapp.Permissions `json:"default_permissions"`
	Events         []string          `json:"default_events"`
}

func newManifest(rootURL string, serverURL string, owner string, tempID string, scopes []string) Manifest {
	rootURL = strings.TrimSuffix(rootURL, "/")

	return Manifest{
		Name: owner + "-ci-integration",
		URL:  serverURL + "/" + owner,
		HookAttributes: hookAttributes{
			URL:    rootURL,
			Active: true,
		},
		RedirectURL: rootURL + FinishPath + tempID,
		Public:      false,
		Permissions: ghapp.DefaultAppPermissions(scopes),
		Events:      DefaultEvents,
	}
}

func appGenerationLink(serverURL string, owner string, isOrganisation bool, manifest Manifest) (string, error) {
	encoded, err := json.Marshal(manifest)
	if err != nil {
		return "", fmt.Errorf("encoding manifest: %w", err)
	}

	base := serverURL + "/settings/apps/new"
	if isOrganisation {
		base = fmt.Sprintf("%s/organizations/%s/settings/apps/new", serverURL, url.PathEscape(owner))
	}

	return base + "?manifest=" + url.QueryEscape(string(encoded)), nil
}
