// Package config provides configuration loading for suitesync.
//
// Configuration comes from a YAML file with ${ENV_VAR} substitution, so
// credentials stay in the environment (or a .env file) and never in the
// config file itself. Validation is fail-fast: a missing credential is a
// config error before any sync begins.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/atlasfin/suitesync/pkg/logger"
	"github.com/atlasfin/suitesync/pkg/syncerrors"
)

// Auth method names accepted in application.auth_method.
const (
	AuthMethodTBA    = "tba"
	AuthMethodOAuth2 = "oauth2"
)

// Config is the root configuration structure
type Config struct {
	NetSuite    NetSuiteConfig    `yaml:"netsuite"`
	Database    DatabaseConfig    `yaml:"database"`
	Application ApplicationConfig `yaml:"application"`
	Sync        SyncConfig        `yaml:"sync"`
	Logging     logger.Config     `yaml:"logging"`
}

// NetSuiteConfig holds upstream account identity and credentials.
// TBA and OAuth 2.0 credential sets are both declared; Validate only
// requires the set matching the selected auth method.
type NetSuiteConfig struct {
	AccountID string `yaml:"account_id"`

	// Token-Based Authentication (OAuth 1.0) credentials
	ConsumerKey    string `yaml:"consumer_key"`
	ConsumerSecret string `yaml:"consumer_secret"`
	TokenID        string `yaml:"token_id"`
	TokenSecret    string `yaml:"token_secret"`

	// OAuth 2.0 client-credentials
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`

	// RequestTimeout bounds a single HTTP round trip. SuiteQL queries over
	// large tables can legitimately run minutes.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DatabaseConfig holds the local Postgres mirror settings
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DSN returns the pgx connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// ApplicationConfig holds application-level behavior
type ApplicationConfig struct {
	// AuthMethod selects the signing scheme once at startup: "tba" or "oauth2"
	AuthMethod string `yaml:"auth_method"`
}

// SyncConfig controls fetch batching and retry behavior
type SyncConfig struct {
	// BatchSize is the SuiteQL page size and the store commit granularity
	BatchSize int `yaml:"batch_size"`
	// MaxRetries is the total attempt budget for retryable failures
	MaxRetries int `yaml:"max_retries"`
	// RetryDelay is the base delay for linear backoff
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// Load reads, substitutes and validates a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, syncerrors.Wrapf(err, syncerrors.ErrorTypeConfig,
			"failed to read config file %s", path)
	}

	content := substituteEnvVars(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeConfig, "failed to parse YAML")
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.NetSuite.RequestTimeout == 0 {
		c.NetSuite.RequestTimeout = 5 * time.Minute
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "prefer"
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = 250
	}
	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = 3
	}
	if c.Sync.RetryDelay == 0 {
		c.Sync.RetryDelay = 2 * time.Second
	}
}

// Validate checks the configuration for completeness. All credential checks
// happen here, pre-flight, never mid-sync.
func (c *Config) Validate() error {
	if c.NetSuite.AccountID == "" {
		return syncerrors.New(syncerrors.ErrorTypeConfig, "netsuite.account_id is required")
	}

	switch strings.ToLower(c.Application.AuthMethod) {
	case AuthMethodTBA:
		if c.NetSuite.ConsumerKey == "" || c.NetSuite.ConsumerSecret == "" ||
			c.NetSuite.TokenID == "" || c.NetSuite.TokenSecret == "" {
			return syncerrors.New(syncerrors.ErrorTypeConfig,
				"tba auth requires consumer_key, consumer_secret, token_id and token_secret")
		}
	case AuthMethodOAuth2:
		if c.NetSuite.ClientID == "" || c.NetSuite.ClientSecret == "" {
			return syncerrors.New(syncerrors.ErrorTypeConfig,
				"oauth2 auth requires client_id and client_secret")
		}
	default:
		return syncerrors.Newf(syncerrors.ErrorTypeConfig,
			"invalid auth_method %q: must be %q or %q",
			c.Application.AuthMethod, AuthMethodTBA, AuthMethodOAuth2)
	}

	if c.Database.Host == "" || c.Database.Name == "" || c.Database.User == "" {
		return syncerrors.New(syncerrors.ErrorTypeConfig,
			"database host, name and user are required")
	}

	if c.Sync.BatchSize < 1 || c.Sync.BatchSize > 1000 {
		return syncerrors.Newf(syncerrors.ErrorTypeConfig,
			"sync.batch_size %d out of range 1..1000", c.Sync.BatchSize)
	}
	if c.Sync.MaxRetries < 1 {
		return syncerrors.New(syncerrors.ErrorTypeConfig, "sync.max_retries must be >= 1")
	}

	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}
