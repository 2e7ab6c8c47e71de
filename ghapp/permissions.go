package ghapp

import (
	"strings"

	"golang.org/x/exp/maps"
)

// Permission levels.
const (
	PermissionRead  = "read"
	PermissionWrite = "write"
)

// Build parameters controlling the permissions of a build's token.
//
// The format is similar to the permissions key of GitHub Actions workflows.
const (
	PermissionsParameterPrefix = "github.token.permissions"
	AllPermissions             = "all"
)

// MetadataScope is granted to every installation token and only supports read access.
const MetadataScope = "metadata"

// DefaultSupportedScopes are the scopes a build can request when no custom list is configured.
//
// Some scopes (pull-requests, repository-projects, security-events) are left out
// because including them in an app manifest makes app creation fail.
var DefaultSupportedScopes = []string{
	"actions",
	MetadataScope,
	"checks",
	"contents",
	"deployments",
	"issues",
	"packages",
	"statuses",
}

// Permissions maps a scope name to an access level.
type Permissions map[string]string

// PermissionsParameter returns the name of the build parameter requesting access to scope.
func PermissionsParameter(scope string) string {
	return PermissionsParameterPrefix + "." + scope
}

// PermissionsForBuild computes the permissions requested by build parameters.
//
// The "all" parameter requests every supported scope at its level.
// Otherwise a scope is requested only if its parameter is set to a non-empty value.
// Metadata read access is always part of a non-empty permission set.
func PermissionsForBuild(parameters map[string]string, supportedScopes []string) Permissions {
	if len(supportedScopes) == 0 {
		supportedScopes = DefaultSupportedScopes
	}

	permissions := make(Permissions)

	if level := strings.TrimSpace(parameters[PermissionsParameter(AllPermissions)]); level != "" {
		for _, scope := range supportedScopes {
			permissions[scope] = level
		}
	} else {
		for _, scope := range supportedScopes {
			if level := strings.TrimSpace(parameters[PermissionsParameter(scope)]); level != "" {
				permissions[scope] = level
			}
		}
	}

	if len(permissions) > 0 {
		permissions[MetadataScope] = PermissionRead
	}

	return permissions
}

// DefaultAppPermissions are the permissions requested when an application is created from a manifest.
func DefaultAppPermissions(supportedScopes []string) Permissions {
	if len(supportedScopes) == 0 {
		supportedScopes = DefaultSupportedScopes
	}

	permissions := make(Permissions, len(supportedScopes))
	for _, scope := range supportedScopes {
		permissions[scope] = PermissionWrite
	}
	permissions[MetadataScope] = PermissionRead

	return permissions
}

// Clone returns a copy of the permissions.
func (p Permissions) Clone() Permissions {
	return maps.Clone(p)
}

// ParseScopeList parses a comma separated list of scope names.
func ParseScopeList(list string) []string {
	var scopes []string

	for _, scope := range strings.Split(list, ",") {
		scope = strings.ToLower(strings.TrimSpace(scope))
		if scope == "" {
			continue
		}

		scopes = append(scopes, scope)
	}

	return scopes
}
