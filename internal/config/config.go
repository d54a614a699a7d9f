// Package config provides configuration management for the deployer.
//
// This package handles loading configuration from multiple sources:
//   - YAML configuration files
//   - Environment variables (with DEPLOYER_ prefix)
//   - .env files
//   - Default values
//
// # Configuration Sources Priority
//
// Configuration is loaded in the following order (later sources override earlier ones):
//  1. Default values (hardcoded)
//  2. Configuration files (./config.yaml, ./configs/config.yaml, ~/.deployer/config.yaml, /etc/deployer/config.yaml)
//  3. .env files
//  4. Environment variables (DEPLOYER_ prefix)
//
// The resolved Config is built once at startup and handed to constructors.
// No package reads the process environment after Load returns.
//
// # Environment Variables
//
// Use the DEPLOYER_ prefix and underscores for nested keys:
//   - DEPLOYER_SERVER_PORT=8080
//   - DEPLOYER_DOCKER_NETWORK=paas
//   - DEPLOYER_PROJECT_SERVER_IMAGE=nginx:1.27-alpine
//   - DEPLOYER_STORAGE_DSN=postgres://deployer@localhost/deployer
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Docker        DockerConfig        `mapstructure:"docker"`
	Builder       BuilderConfig       `mapstructure:"builder"`
	ProjectServer ProjectServerConfig `mapstructure:"project_server"`
	Routing       RoutingConfig       `mapstructure:"routing"`
	Domains       DomainsConfig       `mapstructure:"domains"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Security      SecurityConfig      `mapstructure:"security"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Host is the server bind address (default: 0.0.0.0)
	Host string `mapstructure:"host"`

	// Port is the server listen port (default: 8080)
	Port int `mapstructure:"port"`

	// ReadTimeout is the maximum duration for reading requests
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration for writing responses
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// ShutdownTimeout is the maximum duration for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// Debug enables debug logging and additional endpoints
	Debug bool `mapstructure:"debug"`
}

// DockerConfig contains container runtime settings.
type DockerConfig struct {
	// Host is the Docker daemon address; empty uses the environment defaults
	Host string `mapstructure:"host"`

	// Network is the shared network project front servers join
	Network string `mapstructure:"network"`

	// ComposeBinary is the executable providing the "compose" subcommand
	ComposeBinary string `mapstructure:"compose_binary"`

	// BuildTimeout bounds a single image build
	BuildTimeout time.Duration `mapstructure:"build_timeout"`
}

// BuilderConfig contains defaults shared by the builder strategies.
type BuilderConfig struct {
	HealthTimeout     time.Duration `mapstructure:"health_timeout"`
	HealthInterval    time.Duration `mapstructure:"health_interval"`
	DefaultPort       int           `mapstructure:"default_port"`
	DefaultHealthPath string        `mapstructure:"default_health_path"`
}

// ProjectServerConfig contains settings for the per-project front HTTP server.
type ProjectServerConfig struct {
	// Image is the front server image (default: nginx:alpine)
	Image string `mapstructure:"image"`

	// Volume is the shared static files volume
	Volume string `mapstructure:"volume"`

	// StaticMount is where Volume is mounted inside the container
	StaticMount string `mapstructure:"static_mount"`

	// DocumentRoot is the server's default document root
	DocumentRoot string `mapstructure:"document_root"`

	// ServerUser owns files under DocumentRoot
	ServerUser string `mapstructure:"server_user"`

	// SettleDelay is waited after starting a new container before seeding it
	SettleDelay time.Duration `mapstructure:"settle_delay"`

	// HealthTimeout bounds the health wait after creation
	HealthTimeout time.Duration `mapstructure:"health_timeout"`

	// HealthInterval is the polling period of health waits
	HealthInterval time.Duration `mapstructure:"health_interval"`

	// CreateAttempts is the number of create+health attempts
	CreateAttempts int `mapstructure:"create_attempts"`

	// CreateBackoff is the fixed delay between create attempts
	CreateBackoff time.Duration `mapstructure:"create_backoff"`

	// VhostAttempts is the number of tries for per-service vhost setup
	VhostAttempts int `mapstructure:"vhost_attempts"`

	// VhostBackoff is multiplied by the attempt number between vhost tries
	VhostBackoff time.Duration `mapstructure:"vhost_backoff"`
}

// RoutingConfig contains reverse proxy (Traefik) settings.
type RoutingConfig struct {
	// DynamicConfigDir is watched by the proxy's file provider
	DynamicConfigDir string `mapstructure:"dynamic_config_dir"`

	// EntryPoint is the proxy entry point routers attach to
	EntryPoint string `mapstructure:"entry_point"`

	// CertResolver enables a TLS block when set
	CertResolver string `mapstructure:"cert_resolver"`

	// BaseDomain hosts static sites deployed without a domain of their own
	BaseDomain string `mapstructure:"base_domain"`
}

// DomainsConfig contains custom domain verification settings.
type DomainsConfig struct {
	// VerificationHost is the platform host CNAME targets point at
	VerificationHost string `mapstructure:"verification_host"`

	// SweepInterval is the period of the pending domain sweep; 0 disables it
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	// LookupTimeout bounds a single DNS lookup
	LookupTimeout time.Duration `mapstructure:"lookup_timeout"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Driver is "memory" or "postgres"
	Driver string `mapstructure:"driver"`

	// DSN is the PostgreSQL connection string
	DSN string `mapstructure:"dsn"`

	// Migrate applies embedded migrations at startup
	Migrate bool `mapstructure:"migrate"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Format is the log format (json, text)
	Format string `mapstructure:"format"`
}

// SecurityConfig contains security and rate limiting settings.
type SecurityConfig struct {
	// RateLimit is the maximum requests per second per client; 0 disables limiting
	RateLimit int `mapstructure:"rate_limit"`

	// AllowedOrigins are the CORS allowed origins
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from a file and environment variables.
// If cfgFile is empty, it searches for config.yaml in standard locations.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DEPLOYER_ prefix)
//  2. .env file
//  3. Configuration file
//  4. Default values
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.deployer")
		v.AddConfigPath("/etc/deployer")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgFile != "" {
			// An explicit path that does not exist falls back to defaults
			if !isFileNotFoundError(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		} else {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.MergeInConfig() // Ignore error if .env file doesn't exist

	v.SetEnvPrefix("DEPLOYER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration produced by defaults alone.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.debug", false)

	v.SetDefault("docker.host", "")
	v.SetDefault("docker.network", "deployer")
	v.SetDefault("docker.compose_binary", "docker")
	v.SetDefault("docker.build_timeout", "15m")

	v.SetDefault("builder.health_timeout", "30s")
	v.SetDefault("builder.health_interval", "1s")
	v.SetDefault("builder.default_port", 3000)
	v.SetDefault("builder.default_health_path", "/health")

	v.SetDefault("project_server.image", "nginx:alpine")
	v.SetDefault("project_server.volume", "deployer-static-files")
	v.SetDefault("project_server.static_mount", "/srv/static")
	v.SetDefault("project_server.document_root", "/usr/share/nginx/html")
	v.SetDefault("project_server.server_user", "nginx")
	v.SetDefault("project_server.settle_delay", "2s")
	v.SetDefault("project_server.health_timeout", "30s")
	v.SetDefault("project_server.health_interval", "1s")
	v.SetDefault("project_server.create_attempts", 3)
	v.SetDefault("project_server.create_backoff", "2s")
	v.SetDefault("project_server.vhost_attempts", 3)
	v.SetDefault("project_server.vhost_backoff", "1s")

	v.SetDefault("routing.dynamic_config_dir", "/etc/traefik/dynamic")
	v.SetDefault("routing.entry_point", "web")
	v.SetDefault("routing.cert_resolver", "")
	v.SetDefault("routing.base_domain", "localhost")

	v.SetDefault("domains.verification_host", "deployer.app")
	v.SetDefault("domains.sweep_interval", "1h")
	v.SetDefault("domains.lookup_timeout", "10s")

	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.migrate", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("security.rate_limit", 100)
	v.SetDefault("security.allowed_origins", []string{"*"})

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	switch cfg.Storage.Driver {
	case "memory":
	case "postgres":
		if cfg.Storage.DSN == "" {
			return fmt.Errorf("storage dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver: %q", cfg.Storage.Driver)
	}

	if cfg.ProjectServer.Image == "" {
		return fmt.Errorf("project server image is required")
	}

	if cfg.ProjectServer.CreateAttempts < 1 {
		return fmt.Errorf("project server create_attempts must be positive, got %d", cfg.ProjectServer.CreateAttempts)
	}

	if cfg.ProjectServer.VhostAttempts < 1 {
		return fmt.Errorf("project server vhost_attempts must be positive, got %d", cfg.ProjectServer.VhostAttempts)
	}

	if cfg.Builder.DefaultPort < 1 || cfg.Builder.DefaultPort > 65535 {
		return fmt.Errorf("invalid builder default port: %d", cfg.Builder.DefaultPort)
	}

	if cfg.Domains.VerificationHost == "" {
		return fmt.Errorf("domains verification_host is required")
	}

	return nil
}

// isFileNotFoundError checks if an error is a file not found error.
func isFileNotFoundError(err error) bool {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr, os.ErrNotExist)
	}
	return false
}
