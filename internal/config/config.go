// ABOUTME: Configuration loading and parsing for idp-gateway
// ABOUTME: Supports YAML files with environment variable expansion and storage backend selection

package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config represents the complete idp-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Issuer   string         `yaml:"issuer"`
	Storage  StorageConfig  `yaml:"storage"`
	WebAuthn WebAuthnConfig `yaml:"webauthn"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// StorageConfig selects and configures the kv backend. Driver is one of
// memory, fs, sqlite, redis, s3. Prefix scopes every key so multiple
// deployments can share a backend; it defaults to the issuer hostname.
type StorageConfig struct {
	Driver string       `yaml:"driver"`
	Prefix string       `yaml:"prefix"`
	FS     FSConfig     `yaml:"fs"`
	SQLite SQLiteConfig `yaml:"sqlite"`
	Redis  RedisConfig  `yaml:"redis"`
	S3     S3Config     `yaml:"s3"`
}

// FSConfig holds filesystem backend configuration
type FSConfig struct {
	Path string `yaml:"path"`
}

// SQLiteConfig holds sqlite backend configuration
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig holds redis backend configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// S3Config holds S3-compatible object storage configuration
type S3Config struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
}

// WebAuthnConfig holds relying-party configuration for passkey ceremonies.
// RPID and RPOrigins default to the issuer's hostname and origin.
type WebAuthnConfig struct {
	RPDisplayName string   `yaml:"rp_display_name"`
	RPID          string   `yaml:"rp_id"`
	RPOrigins     []string `yaml:"rp_origins"`
}

// AuthConfig holds session and admin authentication configuration
type AuthConfig struct {
	// SessionSecret seals session records at rest. Required.
	SessionSecret string `yaml:"session_secret"`
	// ManagementToken grants admin API access when presented as a bearer
	// token. Empty disables token-based management access.
	ManagementToken string `yaml:"management_token"`
	// AdminEmails lists users whose sessions may call the admin API.
	AdminEmails []string `yaml:"admin_emails"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in values derivable from the issuer.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}

	issuer, err := url.Parse(c.Issuer)
	if err != nil || issuer.Hostname() == "" {
		return // Validate reports the real problem
	}
	if c.Storage.Prefix == "" {
		c.Storage.Prefix = issuer.Hostname()
	}
	if c.WebAuthn.RPID == "" {
		c.WebAuthn.RPID = issuer.Hostname()
	}
	if len(c.WebAuthn.RPOrigins) == 0 {
		c.WebAuthn.RPOrigins = []string{issuer.Scheme + "://" + issuer.Host}
	}
	if c.WebAuthn.RPDisplayName == "" {
		c.WebAuthn.RPDisplayName = issuer.Hostname()
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	issuer, err := url.Parse(c.Issuer)
	if err != nil || issuer.Scheme == "" || issuer.Hostname() == "" {
		return fmt.Errorf("issuer must be an absolute URL")
	}

	if c.Auth.SessionSecret == "" {
		return fmt.Errorf("auth.session_secret is required")
	}

	switch c.Storage.Driver {
	case "memory":
	case "fs":
		if c.Storage.FS.Path == "" {
			return fmt.Errorf("storage.fs.path is required for the fs driver")
		}
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path is required for the sqlite driver")
		}
	case "redis":
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr is required for the redis driver")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 driver")
		}
		if c.Storage.S3.Endpoint == "" {
			return fmt.Errorf("storage.s3.endpoint is required for the s3 driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}

	return nil
}
