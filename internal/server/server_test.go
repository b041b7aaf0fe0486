package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfigFile(t, `
store:
  backend: memory
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "driver-config", cfg.Server.Name)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, "memory", cfg.Store.Backend)
}

func TestLoadConfig_ExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_DB_DSN", "postgres://app:secret@db/driver_config")

	path := writeConfigFile(t, `
database:
  dsn: ${TEST_DB_DSN}
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://app:secret@db/driver_config", cfg.Database.DSN)
}

func TestLoadConfig_FullConfig(t *testing.T) {
	path := writeConfigFile(t, `
server:
  name: driver-config-test
  address: ":9090"
database:
  dsn: postgres://localhost/test
  max_open_conns: 5
store:
  backend: postgres
  max_retries: 5
  retry_interval: 250ms
auth:
  api_keys:
    - key: secret-key
      name: ops
      roles: [admin]
  jwt:
    signing_key: hs256-key
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "driver-config-test", cfg.Server.Name)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, 5, cfg.Database.MaxOpenConns)
	assert.Equal(t, 5, cfg.Store.MaxRetries)
	assert.Equal(t, "250ms", cfg.Store.RetryInterval.String())
	require.Len(t, cfg.Auth.APIKeys, 1)
	assert.Equal(t, []string{"admin"}, cfg.Auth.APIKeys[0].Roles)
	assert.Equal(t, "hs256-key", cfg.Auth.JWT.SigningKey)

	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/config.yml")
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "memory backend needs no dsn",
			mutate: func(c *Config) { c.Store.Backend = "memory" },
		},
		{
			name:    "postgres backend requires dsn",
			mutate:  func(c *Config) { c.Store.Backend = "postgres" },
			wantErr: "database.dsn",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Store.Backend = "redis" },
			wantErr: "store.backend",
		},
		{
			name: "empty api key",
			mutate: func(c *Config) {
				c.Store.Backend = "memory"
				c.Auth.APIKeys = []APIKeyDef{{Name: "ops"}}
			},
			wantErr: "auth.api_keys[0].key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			applyDefaults(cfg)
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNew_MemoryBackend(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Store.Backend = "memory"

	srv, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = srv.Close() }()

	assert.NotNil(t, srv.http.Handler)
	assert.Equal(t, ":8080", srv.http.Addr)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Store.Backend = "postgres" // no DSN

	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNew_ProbeEndpoints(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Store.Backend = "memory"

	srv, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = srv.Close() }()

	for _, path := range []string{"/livez", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.http.Handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, "probe %s", path)
	}

	srv.checker.SetDraining()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestVersion(t *testing.T) {
	assert.Equal(t, "dev", Version)
}
