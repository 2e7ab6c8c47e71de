package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/distribution-auth/ghapp/server"
)

// Authenticator is the configuration for a server.PasswordAuthenticator guarding admin routes.
type Authenticator struct {
	Type   string `yaml:"type"`
	Config AuthenticatorFactory
}

func (c *Authenticator) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig rawConfig

	err := value.Decode(&rawConfig)
	if err != nil {
		return err
	}

	var config AuthenticatorFactory

	switch rawConfig.Type {
	case "user":
		var factory userAuthenticator

		err := decode(rawConfig.Config, &factory)
		if err != nil {
			return err
		}

		config = factory
	default:
		return fmt.Errorf("unknown authenticator type: %s", rawConfig.Type)
	}

	c.Type = rawConfig.Type
	c.Config = config

	return nil
}

// AuthenticatorFactory creates a new server.PasswordAuthenticator.
type AuthenticatorFactory interface {
	CreateAuthenticator() (server.PasswordAuthenticator, error)
	Validate() error
}

type userAuthenticator struct {
	Entries []user `mapstructure:"entries"`
}

type user struct {
	Enabled      bool   `mapstructure:"enabled"`
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"passwordHash"`
}

func (c userAuthenticator) CreateAuthenticator() (server.PasswordAuthenticator, error) {
	entries := make([]server.User, 0, len(c.Entries))

	for _, v := range c.Entries {
		entries = append(entries, server.User{
			Enabled:      v.Enabled,
			Username:     v.Username,
			PasswordHash: v.PasswordHash,
		})
	}

	return server.NewUserAuthenticator(entries), nil
}

func (c userAuthenticator) Validate() error {
	if len(c.Entries) == 0 {
		return fmt.Errorf("authenticator: user authenticator: at least one entry is required")
	}

	for i, entry := range c.Entries {
		if entry.Username == "" {
			return fmt.Errorf("authenticator: user authenticator: entry[%d]: username is required", i)
		}

		if entry.PasswordHash == "" {
			return fmt.Errorf("authenticator: user authenticator: entry[%d]: password hash is required", i)
		}
	}

	return nil
}
