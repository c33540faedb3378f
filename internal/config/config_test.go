// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, issuer-derived defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_ValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  http_addr: "0.0.0.0:8080"

issuer: "https://idp.example.com"

storage:
  driver: "sqlite"
  prefix: "staging"
  sqlite:
    path: "./idp.db"

webauthn:
  rp_display_name: "Example IdP"
  rp_id: "idp.example.com"
  rp_origins:
    - "https://idp.example.com"

auth:
  session_secret: "test-secret"
  management_token: "mgmt-token"
  admin_emails:
    - "admin@example.com"
    - "ops@example.com"

logging:
  level: "debug"
  format: "json"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Issuer != "https://idp.example.com" {
		t.Errorf("Issuer = %q, want %q", cfg.Issuer, "https://idp.example.com")
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("Storage.Driver = %q, want %q", cfg.Storage.Driver, "sqlite")
	}
	if cfg.Storage.Prefix != "staging" {
		t.Errorf("Storage.Prefix = %q, want %q", cfg.Storage.Prefix, "staging")
	}
	if cfg.Storage.SQLite.Path != "./idp.db" {
		t.Errorf("Storage.SQLite.Path = %q, want %q", cfg.Storage.SQLite.Path, "./idp.db")
	}
	if cfg.WebAuthn.RPDisplayName != "Example IdP" {
		t.Errorf("WebAuthn.RPDisplayName = %q, want %q", cfg.WebAuthn.RPDisplayName, "Example IdP")
	}
	if cfg.Auth.SessionSecret != "test-secret" {
		t.Errorf("Auth.SessionSecret = %q, want %q", cfg.Auth.SessionSecret, "test-secret")
	}
	if cfg.Auth.ManagementToken != "mgmt-token" {
		t.Errorf("Auth.ManagementToken = %q, want %q", cfg.Auth.ManagementToken, "mgmt-token")
	}
	if len(cfg.Auth.AdminEmails) != 2 {
		t.Errorf("Auth.AdminEmails len = %d, want 2", len(cfg.Auth.AdminEmails))
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_SESSION_SECRET", "secret-from-env")
	t.Setenv("TEST_REDIS_PASSWORD", "redis-from-env")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
issuer: "https://idp.example.com"

storage:
  driver: "redis"
  redis:
    addr: "localhost:6379"
    password: "${TEST_REDIS_PASSWORD}"

auth:
  session_secret: "${TEST_SESSION_SECRET}"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Auth.SessionSecret != "secret-from-env" {
		t.Errorf("Auth.SessionSecret = %q, want %q", cfg.Auth.SessionSecret, "secret-from-env")
	}
	if cfg.Storage.Redis.Password != "redis-from-env" {
		t.Errorf("Storage.Redis.Password = %q, want %q", cfg.Storage.Redis.Password, "redis-from-env")
	}
}

func TestLoad_IssuerDerivedDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
issuer: "https://idp.example.com:8443"

auth:
  session_secret: "test-secret"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != ":8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, ":8080")
	}
	if cfg.Storage.Driver != "memory" {
		t.Errorf("Storage.Driver = %q, want %q", cfg.Storage.Driver, "memory")
	}
	if cfg.Storage.Prefix != "idp.example.com" {
		t.Errorf("Storage.Prefix = %q, want %q", cfg.Storage.Prefix, "idp.example.com")
	}
	if cfg.WebAuthn.RPID != "idp.example.com" {
		t.Errorf("WebAuthn.RPID = %q, want %q", cfg.WebAuthn.RPID, "idp.example.com")
	}
	if len(cfg.WebAuthn.RPOrigins) != 1 || cfg.WebAuthn.RPOrigins[0] != "https://idp.example.com:8443" {
		t.Errorf("WebAuthn.RPOrigins = %v, want [https://idp.example.com:8443]", cfg.WebAuthn.RPOrigins)
	}
	if cfg.WebAuthn.RPDisplayName != "idp.example.com" {
		t.Errorf("WebAuthn.RPDisplayName = %q, want %q", cfg.WebAuthn.RPDisplayName, "idp.example.com")
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing issuer",
			content: `
auth:
  session_secret: "test-secret"
`,
			wantErr: "issuer is required",
		},
		{
			name: "relative issuer",
			content: `
issuer: "idp.example.com"
auth:
  session_secret: "test-secret"
`,
			wantErr: "issuer must be an absolute URL",
		},
		{
			name: "missing session secret",
			content: `
issuer: "https://idp.example.com"
`,
			wantErr: "auth.session_secret is required",
		},
		{
			name: "unknown driver",
			content: `
issuer: "https://idp.example.com"
storage:
  driver: "etcd"
auth:
  session_secret: "test-secret"
`,
			wantErr: "unknown storage.driver",
		},
		{
			name: "fs driver without path",
			content: `
issuer: "https://idp.example.com"
storage:
  driver: "fs"
auth:
  session_secret: "test-secret"
`,
			wantErr: "storage.fs.path is required",
		},
		{
			name: "sqlite driver without path",
			content: `
issuer: "https://idp.example.com"
storage:
  driver: "sqlite"
auth:
  session_secret: "test-secret"
`,
			wantErr: "storage.sqlite.path is required",
		},
		{
			name: "redis driver without addr",
			content: `
issuer: "https://idp.example.com"
storage:
  driver: "redis"
auth:
  session_secret: "test-secret"
`,
			wantErr: "storage.redis.addr is required",
		},
		{
			name: "s3 driver without bucket",
			content: `
issuer: "https://idp.example.com"
storage:
  driver: "s3"
  s3:
    endpoint: "s3.example.com"
auth:
  session_secret: "test-secret"
`,
			wantErr: "storage.s3.bucket is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.content), 0644); err != nil {
				t.Fatalf("failed to write test config: %v", err)
			}

			_, err := Load(configPath)
			if err == nil {
				t.Fatal("Load() error = nil, want validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load() error = nil, want error for missing file")
	}
}
