package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/distribution-auth/ghapp/ghapp/store"
)

// Store is the configuration for the store persisting connections and issued tokens.
type Store struct {
	Type   string `yaml:"type"`
	Config StoreFactory
}

func (c *Store) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig rawConfig

	err := value.Decode(&rawConfig)
	if err != nil {
		return err
	}

	var config StoreFactory

	switch rawConfig.Type {
	case "memory":
		config = memoryStore{}

	case "sqlite":
		var factory sqliteStore

		err := decode(rawConfig.Config, &factory)
		if err != nil {
			return err
		}

		config = factory

	default:
		return fmt.Errorf("unknown store type: %s", rawConfig.Type)
	}

	c.Type = rawConfig.Type
	c.Config = config

	return nil
}

// StoreFactory creates a new store.Store.
type StoreFactory interface {
	CreateStore() (store.Store, error)
	Validate() error
}

type memoryStore struct{}

func (memoryStore) CreateStore() (store.Store, error) {
	return &store.InMemoryStore{}, nil
}

func (memoryStore) Validate() error {
	return nil
}

type sqliteStore struct {
	Path string `mapstructure:"path"`
}

func (c sqliteStore) CreateStore() (store.Store, error) {
	s, err := store.OpenSQLite(c.Path)
	if err != nil {
		return nil, err
	}

	return s, nil
}

func (c sqliteStore) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("store: sqlite: path is required")
	}

	return nil
}
