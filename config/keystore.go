package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/distribution-auth/ghapp/ghapp"
	"github.com/distribution-auth/ghapp/ghapp/keystore"
)

// KeyStore is the configuration for a ghapp.KeyStore holding application private keys.
type KeyStore struct {
	Type   string `yaml:"type"`
	Config KeyStoreFactory
}

func (c *KeyStore) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig rawConfig

	err := value.Decode(&rawConfig)
	if err != nil {
		return err
	}

	var config KeyStoreFactory

	switch rawConfig.Type {
	case "file":
		var factory fileKeyStore

		err := decode(rawConfig.Config, &factory)
		if err != nil {
			return err
		}

		config = factory

	default:
		return fmt.Errorf("unknown key store type: %s", rawConfig.Type)
	}

	c.Type = rawConfig.Type
	c.Config = config

	return nil
}

// KeyStoreFactory creates a new ghapp.KeyStore.
type KeyStoreFactory interface {
	CreateKeyStore() (ghapp.KeyStore, error)
	Validate() error
}

type fileKeyStore struct {
	Dir string `mapstructure:"dir"`
}

func (c fileKeyStore) CreateKeyStore() (ghapp.KeyStore, error) {
	return keystore.NewFileKeyStore(c.Dir), nil
}

func (c fileKeyStore) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("key store: file: dir is required")
	}

	return nil
}
