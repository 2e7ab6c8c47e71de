package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/distribution-auth/ghapp/ghapp/github"
	"github.com/distribution-auth/ghapp/ghapp/installation"
	"github.com/distribution-auth/ghapp/ghapp/issuance"
	"github.com/distribution-auth/ghapp/ghapp/jwt"
	"github.com/distribution-auth/ghapp/server"
)

// Config collects all configuration options.
type Config struct {
	Server        Server        `yaml:"server"`
	KeyStore      KeyStore      `yaml:"keyStore"`
	Store         Store         `yaml:"store"`
	Encrypter     Encrypter     `yaml:"encrypter"`
	GitHub        GitHub        `yaml:"github"`
	Rotation      Rotation      `yaml:"rotation"`
	Installations Installations `yaml:"installations"`
	Tokens        Tokens        `yaml:"tokens"`
}

// Server configures the HTTP front end.
type Server struct {
	Addr string `yaml:"addr"`

	// RootURL is the externally visible URL of the server, used in app manifests.
	RootURL string `yaml:"rootURL"`

	Authenticator Authenticator `yaml:"authenticator"`
}

// GitHub configures the GitHub API client.
type GitHub struct {
	Timeout time.Duration `yaml:"timeout"`

	// APIURL overrides the API endpoint derived from a connection's server URL.
	APIURL string `yaml:"apiURL"`

	SupportedScopes []string `yaml:"supportedScopes"`
}

// Rotation configures JWT assertion rotation.
type Rotation struct {
	Window time.Duration `yaml:"window"`
}

// Installations configures the installation cache.
type Installations struct {
	MaxEntries int64         `yaml:"maxEntries"`
	TTL        time.Duration `yaml:"ttl"`
}

// Tokens configures installation token issuance.
type Tokens struct {
	LockStripes   int           `yaml:"lockStripes"`
	LockTimeout   time.Duration `yaml:"lockTimeout"`
	SweepInterval time.Duration `yaml:"sweepInterval"`

	// BuildLease is how long a build counts as running after it was last reported.
	BuildLease time.Duration `yaml:"buildLease"`
}

// Default returns a configuration with every optional value set.
func Default() Config {
	return Config{
		Server: Server{
			Addr: "localhost:8080",
		},
		KeyStore: KeyStore{
			Type:   "file",
			Config: fileKeyStore{Dir: "data/keys"},
		},
		Store: Store{
			Type:   "memory",
			Config: memoryStore{},
		},
		Encrypter: Encrypter{
			Type:   "age",
			Config: ageEncrypter{IdentityFile: "data/age.key", Generate: true},
		},
		GitHub: GitHub{
			Timeout: github.DefaultTimeout,
		},
		Rotation: Rotation{
			Window: jwt.DefaultWindow,
		},
		Installations: Installations{
			MaxEntries: installation.DefaultMaxEntries,
			TTL:        installation.DefaultTTL,
		},
		Tokens: Tokens{
			LockStripes:   issuance.DefaultLockStripes,
			LockTimeout:   issuance.DefaultLockTimeout,
			SweepInterval: issuance.DefaultSweepInterval,
			BuildLease:    server.DefaultBuildLease,
		},
	}
}

// Load reads a YAML configuration file on top of the defaults.
func Load(path string) (Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("reading config file: %w", err)
	}

	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return config, fmt.Errorf("parsing config file: %w", err)
	}

	return config, nil
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server: addr is required")
	}

	if c.Server.Authenticator.Type == "" {
		return fmt.Errorf("server: authenticator type is required")
	}

	if err := c.Server.Authenticator.Config.Validate(); err != nil {
		return err
	}

	if c.KeyStore.Type == "" {
		return fmt.Errorf("key store type is required")
	}

	if err := c.KeyStore.Config.Validate(); err != nil {
		return err
	}

	if c.Store.Type == "" {
		return fmt.Errorf("store type is required")
	}

	if err := c.Store.Config.Validate(); err != nil {
		return err
	}

	if c.Encrypter.Type == "" {
		return fmt.Errorf("encrypter type is required")
	}

	if err := c.Encrypter.Config.Validate(); err != nil {
		return err
	}

	if c.Rotation.Window < time.Minute {
		return fmt.Errorf("rotation: window must be at least one minute")
	}

	if c.Installations.MaxEntries <= 0 {
		return fmt.Errorf("installations: maxEntries must be positive")
	}

	if c.Tokens.LockStripes <= 0 {
		return fmt.Errorf("tokens: lockStripes must be positive")
	}

	if c.Tokens.SweepInterval <= 0 {
		return fmt.Errorf("tokens: sweepInterval must be positive")
	}

	if c.Tokens.BuildLease <= c.Tokens.SweepInterval {
		return fmt.Errorf("tokens: buildLease must be longer than sweepInterval")
	}

	return nil
}

// rawConfig is a general struct to be used by other config structs to unmarshal yaml config first.
type rawConfig struct {
	Type   string                 `yaml:"type"`
	Config map[string]interface{} `yaml:"config"`
}
