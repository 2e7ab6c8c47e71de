package ghapp

import (
	"strings"
)

// TokenParameter is the build parameter holding the installation token.
const TokenParameter = "github.token"

// EnvParameter returns the name of the parameter exposing name as an environment variable.
func EnvParameter(name string) string {
	return "env." + strings.ToUpper(strings.ReplaceAll(name, ".", "_"))
}

// TokenParameters returns the build parameters publishing token to a running build.
func TokenParameters(token string) map[string]string {
	env := EnvParameter(TokenParameter)
	secret := "secrets." + env

	return map[string]string{
		TokenParameter: token,
		env:            token,
		secret:         token,
	}
}
