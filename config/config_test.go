package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/distribution-auth/ghapp/ghapp/crypt"
	"github.com/distribution-auth/ghapp/ghapp/store"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")

	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad(t *testing.T) {
	passwordHash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)

	dir := t.TempDir()

	path := writeConfig(t, `
server:
  addr: ":9000"
  rootURL: https://ci.example.com
  authenticator:
    type: user
    config:
      entries:
        - enabled: true
          username: admin
          passwordHash: "`+string(passwordHash)+`"
keyStore:
  type: file
  config:
    dir: `+filepath.Join(dir, "keys")+`
store:
  type: sqlite
  config:
    path: `+filepath.Join(dir, "ghapp.db")+`
encrypter:
  type: age
  config:
    identityFile: `+filepath.Join(dir, "age.key")+`
    generate: true
github:
  timeout: 5s
  supportedScopes: [contents, issues]
rotation:
  window: 8m
tokens:
  lockTimeout: 10s
  buildLease: 12h
`)

	config, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, config.Validate())

	assert.Equal(t, ":9000", config.Server.Addr)
	assert.Equal(t, "https://ci.example.com", config.Server.RootURL)
	assert.Equal(t, 5*time.Second, config.GitHub.Timeout)
	assert.Equal(t, []string{"contents", "issues"}, config.GitHub.SupportedScopes)
	assert.Equal(t, 8*time.Minute, config.Rotation.Window)
	assert.Equal(t, 10*time.Second, config.Tokens.LockTimeout)
	assert.Equal(t, 12*time.Hour, config.Tokens.BuildLease)

	// defaults
	assert.Equal(t, Default().Installations, config.Installations)
	assert.Equal(t, Default().Tokens.SweepInterval, config.Tokens.SweepInterval)
	assert.Equal(t, Default().Tokens.LockStripes, config.Tokens.LockStripes)

	authenticator, err := config.Server.Authenticator.Config.CreateAuthenticator()
	require.NoError(t, err)

	user, err := authenticator.Authenticate(context.Background(), "admin", "secret")
	require.NoError(t, err)
	assert.Equal(t, "admin", user)

	keys, err := config.KeyStore.Config.CreateKeyStore()
	require.NoError(t, err)

	appIDs, err := keys.ListAppIDs()
	require.NoError(t, err)
	assert.Empty(t, appIDs)

	s, err := config.Store.Config.CreateStore()
	require.NoError(t, err)
	defer s.Close()

	assert.IsType(t, &store.SQLiteStore{}, s)

	encrypter, err := config.Encrypter.Config.CreateEncrypter()
	require.NoError(t, err)

	ciphertext, err := encrypter.Encrypt("ghs_token")
	require.NoError(t, err)

	plaintext, err := encrypter.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "ghs_token", plaintext)

	assert.FileExists(t, filepath.Join(dir, "age.key"))
}

func TestLoad_Errors(t *testing.T) {
	testCases := []struct {
		content string
		err     string
	}{
		{
			content: "store:\n  type: postgres\n",
			err:     "unknown store type: postgres",
		},
		{
			content: "keyStore:\n  type: vault\n",
			err:     "unknown key store type: vault",
		},
		{
			content: "encrypter:\n  type: kms\n",
			err:     "unknown encrypter type: kms",
		},
		{
			content: "server:\n  authenticator:\n    type: ldap\n",
			err:     "unknown authenticator type: ldap",
		},
		{
			content: "store:\n  type: sqlite\n  config:\n    file: ghapp.db\n",
			err:     "invalid keys: file",
		},
	}

	for _, testCase := range testCases {
		testCase := testCase

		t.Run("", func(t *testing.T) {
			_, err := Load(writeConfig(t, testCase.content))
			require.Error(t, err)

			assert.Contains(t, err.Error(), testCase.err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	assert.True(t, strings.HasPrefix(err.Error(), "reading config file"))
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		config := Default()
		config.Server.Authenticator = Authenticator{
			Type: "user",
			Config: userAuthenticator{
				Entries: []user{{Enabled: true, Username: "admin", PasswordHash: "hash"}},
			},
		}

		return config
	}

	require.NoError(t, valid().Validate())

	testCases := []struct {
		modify func(c *Config)
		err    string
	}{
		{
			modify: func(c *Config) { c.Server.Addr = "" },
			err:    "server: addr is required",
		},
		{
			modify: func(c *Config) { c.Server.Authenticator = Authenticator{} },
			err:    "server: authenticator type is required",
		},
		{
			modify: func(c *Config) {
				c.Server.Authenticator.Config = userAuthenticator{Entries: []user{{Username: "admin"}}}
			},
			err: "authenticator: user authenticator: entry[0]: password hash is required",
		},
		{
			modify: func(c *Config) { c.KeyStore.Config = fileKeyStore{} },
			err:    "key store: file: dir is required",
		},
		{
			modify: func(c *Config) { c.Store = Store{Type: "sqlite", Config: sqliteStore{}} },
			err:    "store: sqlite: path is required",
		},
		{
			modify: func(c *Config) { c.Encrypter.Config = ageEncrypter{} },
			err:    "encrypter: age: identity or identityFile is required",
		},
		{
			modify: func(c *Config) { c.Rotation.Window = time.Second },
			err:    "rotation: window must be at least one minute",
		},
		{
			modify: func(c *Config) { c.Installations.MaxEntries = 0 },
			err:    "installations: maxEntries must be positive",
		},
		{
			modify: func(c *Config) { c.Tokens.LockStripes = 0 },
			err:    "tokens: lockStripes must be positive",
		},
		{
			modify: func(c *Config) { c.Tokens.BuildLease = time.Minute },
			err:    "tokens: buildLease must be longer than sweepInterval",
		},
	}

	for _, testCase := range testCases {
		testCase := testCase

		t.Run("", func(t *testing.T) {
			config := valid()
			testCase.modify(&config)

			err := config.Validate()
			require.Error(t, err)

			assert.EqualError(t, err, testCase.err)
		})
	}
}

func TestAgeEncrypter_InlineIdentity(t *testing.T) {
	identity, err := crypt.GenerateIdentity()
	require.NoError(t, err)

	config, err := Load(writeConfig(t, "encrypter:\n  type: age\n  config:\n    identity: "+identity+"\n"))
	require.NoError(t, err)

	encrypter, err := config.Encrypter.Config.CreateEncrypter()
	require.NoError(t, err)

	ciphertext, err := encrypter.Encrypt("secret")
	require.NoError(t, err)

	other, err := crypt.NewAgeEncrypter(identity)
	require.NoError(t, err)

	plaintext, err := other.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "secret", plaintext)
}
