package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadDefaults tests that default configuration values are loaded correctly.
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

	assert.Equal(t, "deployer", cfg.Docker.Network)
	assert.Equal(t, "docker", cfg.Docker.ComposeBinary)

	assert.Equal(t, 30*time.Second, cfg.Builder.HealthTimeout)
	assert.Equal(t, time.Second, cfg.Builder.HealthInterval)
	assert.Equal(t, 3000, cfg.Builder.DefaultPort)
	assert.Equal(t, "/health", cfg.Builder.DefaultHealthPath)

	assert.Equal(t, "nginx:alpine", cfg.ProjectServer.Image)
	assert.Equal(t, "deployer-static-files", cfg.ProjectServer.Volume)
	assert.Equal(t, "/srv/static", cfg.ProjectServer.StaticMount)
	assert.Equal(t, 2*time.Second, cfg.ProjectServer.SettleDelay)
	assert.Equal(t, 3, cfg.ProjectServer.CreateAttempts)
	assert.Equal(t, 3, cfg.ProjectServer.VhostAttempts)

	assert.Equal(t, "/etc/traefik/dynamic", cfg.Routing.DynamicConfigDir)
	assert.Equal(t, "web", cfg.Routing.EntryPoint)
	assert.Equal(t, "localhost", cfg.Routing.BaseDomain)

	assert.Equal(t, "deployer.app", cfg.Domains.VerificationHost)
	assert.Equal(t, time.Hour, cfg.Domains.SweepInterval)

	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 100, cfg.Security.RateLimit)
	assert.Equal(t, []string{"*"}, cfg.Security.AllowedOrigins)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestDefaultMatchesLoad(t *testing.T) {
	loaded, err := Load("nonexistent.yaml")
	require.NoError(t, err)
	assert.Equal(t, loaded.ProjectServer, Default().ProjectServer)
	assert.Equal(t, loaded.Builder, Default().Builder)
}

// TestValidation tests the configuration validation logic.
func TestValidation(t *testing.T) {
	valid := func() *Config { return Default() }

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{name: "valid configuration", mutate: func(*Config) {}},
		{name: "invalid port - too low", mutate: func(c *Config) { c.Server.Port = 0 }, errMsg: "invalid server port"},
		{name: "invalid port - too high", mutate: func(c *Config) { c.Server.Port = 70000 }, errMsg: "invalid server port"},
		{name: "unknown storage driver", mutate: func(c *Config) { c.Storage.Driver = "couchdb" }, errMsg: "unknown storage driver"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Storage.Driver = "postgres" }, errMsg: "storage dsn is required"},
		{
			name: "postgres with dsn",
			mutate: func(c *Config) {
				c.Storage.Driver = "postgres"
				c.Storage.DSN = "postgres://localhost/deployer"
			},
		},
		{name: "missing project server image", mutate: func(c *Config) { c.ProjectServer.Image = "" }, errMsg: "project server image is required"},
		{name: "zero create attempts", mutate: func(c *Config) { c.ProjectServer.CreateAttempts = 0 }, errMsg: "create_attempts"},
		{name: "zero vhost attempts", mutate: func(c *Config) { c.ProjectServer.VhostAttempts = 0 }, errMsg: "vhost_attempts"},
		{name: "missing verification host", mutate: func(c *Config) { c.Domains.VerificationHost = "" }, errMsg: "verification_host"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := validate(cfg)
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

// TestEnvironmentVariableOverride tests that environment variables override config values.
func TestEnvironmentVariableOverride(t *testing.T) {
	t.Setenv("DEPLOYER_SERVER_PORT", "9999")
	t.Setenv("DEPLOYER_DOCKER_NETWORK", "paas")
	t.Setenv("DEPLOYER_PROJECT_SERVER_IMAGE", "nginx:1.27-alpine")

	cfg, err := Load("nonexistent.yaml")
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "paas", cfg.Docker.Network)
	assert.Equal(t, "nginx:1.27-alpine", cfg.ProjectServer.Image)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
project_server:
  image: caddy:alpine
  create_attempts: 5
domains:
  verification_host: paas.example.com
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "caddy:alpine", cfg.ProjectServer.Image)
	assert.Equal(t, 5, cfg.ProjectServer.CreateAttempts)
	assert.Equal(t, "paas.example.com", cfg.Domains.VerificationHost)
	// untouched sections keep defaults
	assert.Equal(t, "deployer-static-files", cfg.ProjectServer.Volume)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  driver: mongo\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}
