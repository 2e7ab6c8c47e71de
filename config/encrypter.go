package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/distribution-auth/ghapp/ghapp"
	"github.com/distribution-auth/ghapp/ghapp/crypt"
)

// Encrypter is the configuration for the ghapp.Encrypter protecting secrets at rest.
type Encrypter struct {
	Type   string `yaml:"type"`
	Config EncrypterFactory
}

func (c *Encrypter) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig rawConfig

	err := value.Decode(&rawConfig)
	if err != nil {
		return err
	}

	var config EncrypterFactory

	switch rawConfig.Type {
	case "age":
		var factory ageEncrypter

		err := decode(rawConfig.Config, &factory)
		if err != nil {
			return err
		}

		config = factory

	default:
		return fmt.Errorf("unknown encrypter type: %s", rawConfig.Type)
	}

	c.Type = rawConfig.Type
	c.Config = config

	return nil
}

// EncrypterFactory creates a new ghapp.Encrypter.
type EncrypterFactory interface {
	CreateEncrypter() (ghapp.Encrypter, error)
	Validate() error
}

type ageEncrypter struct {
	// Identity is an inline age identity (AGE-SECRET-KEY-1...).
	Identity string `mapstructure:"identity"`

	IdentityFile string `mapstructure:"identityFile"`

	// Generate creates the identity file when it does not exist.
	Generate bool `mapstructure:"generate"`
}

func (c ageEncrypter) CreateEncrypter() (ghapp.Encrypter, error) {
	identity := c.Identity

	if identity == "" {
		var err error

		if c.Generate {
			identity, err = crypt.LoadOrCreateIdentityFile(c.IdentityFile)
		} else {
			identity, err = crypt.LoadIdentityFile(c.IdentityFile)
		}

		if err != nil {
			return nil, fmt.Errorf("loading age identity: %w", err)
		}
	}

	encrypter, err := crypt.NewAgeEncrypter(identity)
	if err != nil {
		return nil, err
	}

	return encrypter, nil
}

func (c ageEncrypter) Validate() error {
	if c.Identity == "" && c.IdentityFile == "" {
		return fmt.Errorf("encrypter: age: identity or identityFile is required")
	}

	return nil
}
