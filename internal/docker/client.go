// Package docker wraps the Docker Engine API client with the operations the
// builder strategies and the project front server manager need.
package docker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/docker/docker/client"

	"evalgo.org/deployer/internal/config"
	"evalgo.org/deployer/internal/logging"
)

// Client wraps the Docker SDK client.
type Client struct {
	inner  *client.Client
	logger *slog.Logger
}

// New creates a Docker client. An empty host uses the environment defaults
// (DOCKER_HOST, DOCKER_CERT_PATH, ...).
func New(cfg config.DockerConfig, logger *slog.Logger) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host := strings.TrimSpace(cfg.Host); host != "" {
		opts = append(opts, client.WithHost(host))
	}
	c, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Client{inner: c, logger: logging.OrDiscard(logger)}, nil
}

// Ping verifies the daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.inner.Ping(ctx); err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}
	return nil
}

// Close releases the underlying transport.
func (c *Client) Close() error {
	return c.inner.Close()
}
