package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasfin/suitesync/pkg/syncerrors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validTBAConfig = `
netsuite:
  account_id: "1234567_SB1"
  consumer_key: "ck"
  consumer_secret: "cs"
  token_id: "tk"
  token_secret: "ts"
database:
  host: "localhost"
  name: "suitesync"
  user: "postgres"
  password: "secret"
application:
  auth_method: "tba"
`

func TestLoad_ValidTBA(t *testing.T) {
	cfg, err := Load(writeConfig(t, validTBAConfig))
	require.NoError(t, err)

	assert.Equal(t, "1234567_SB1", cfg.NetSuite.AccountID)
	assert.Equal(t, "tba", cfg.Application.AuthMethod)

	// Defaults applied.
	assert.Equal(t, 250, cfg.Sync.BatchSize)
	assert.Equal(t, 3, cfg.Sync.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Sync.RetryDelay)
	assert.Equal(t, 5*time.Minute, cfg.NetSuite.RequestTimeout)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "prefer", cfg.Database.SSLMode)
}

func TestLoad_EnvSubstitution(t *testing.T) {
	t.Setenv("NS_TEST_CLIENT_ID", "env-client")
	t.Setenv("NS_TEST_CLIENT_SECRET", "env-secret")

	cfg, err := Load(writeConfig(t, `
netsuite:
  account_id: "1234567"
  client_id: "${NS_TEST_CLIENT_ID}"
  client_secret: "${NS_TEST_CLIENT_SECRET}"
database:
  host: "localhost"
  name: "suitesync"
  user: "postgres"
application:
  auth_method: "oauth2"
`))
	require.NoError(t, err)
	assert.Equal(t, "env-client", cfg.NetSuite.ClientID)
	assert.Equal(t, "env-secret", cfg.NetSuite.ClientSecret)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
	assert.True(t, syncerrors.IsType(err, syncerrors.ErrorTypeConfig))
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "netsuite: [unclosed"))
	require.Error(t, err)
	assert.True(t, syncerrors.IsType(err, syncerrors.ErrorTypeConfig))
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := &Config{}
		c.NetSuite.AccountID = "1234567"
		c.NetSuite.ConsumerKey = "ck"
		c.NetSuite.ConsumerSecret = "cs"
		c.NetSuite.TokenID = "tk"
		c.NetSuite.TokenSecret = "ts"
		c.Database.Host = "localhost"
		c.Database.Name = "suitesync"
		c.Database.User = "postgres"
		c.Application.AuthMethod = "tba"
		c.applyDefaults()
		return c
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("missing account id", func(t *testing.T) {
		c := base()
		c.NetSuite.AccountID = ""
		err := c.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "account_id")
	})

	t.Run("tba credentials incomplete", func(t *testing.T) {
		c := base()
		c.NetSuite.TokenSecret = ""
		assert.Error(t, c.Validate())
	})

	t.Run("oauth2 credentials incomplete", func(t *testing.T) {
		c := base()
		c.Application.AuthMethod = "oauth2"
		assert.Error(t, c.Validate())

		c.NetSuite.ClientID = "cid"
		c.NetSuite.ClientSecret = "secret"
		assert.NoError(t, c.Validate())
	})

	t.Run("unknown auth method", func(t *testing.T) {
		c := base()
		c.Application.AuthMethod = "basic"
		err := c.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "auth_method")
	})

	t.Run("batch size out of range", func(t *testing.T) {
		c := base()
		c.Sync.BatchSize = 5000
		assert.Error(t, c.Validate())

		c.Sync.BatchSize = 1000
		assert.NoError(t, c.Validate())
	})

	t.Run("missing database settings", func(t *testing.T) {
		c := base()
		c.Database.Host = ""
		assert.Error(t, c.Validate())
	})
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{
		Host: "db.internal", Port: 5433, Name: "mirror",
		User: "sync", Password: "pw", SSLMode: "require",
	}
	assert.Equal(t, "postgres://sync:pw@db.internal:5433/mirror?sslmode=require", d.DSN())
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("SUITESYNC_TEST_VAR", "value")

	assert.Equal(t, "a: value", substituteEnvVars("a: ${SUITESYNC_TEST_VAR}"))
	assert.Equal(t, "a: ", substituteEnvVars("a: ${SUITESYNC_TEST_UNSET}"))
	assert.Equal(t, "no vars here", substituteEnvVars("no vars here"))
}
