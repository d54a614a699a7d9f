package docker

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
)

// EnsureVolume creates the named volume if it does not exist. An existing
// volume is never recreated.
func (c *Client) EnsureVolume(ctx context.Context, name string) error {
	_, err := c.inner.VolumeInspect(ctx, name)
	if err == nil {
		return nil
	}
	if wrapNotFound(err) != ErrNotFound {
		return fmt.Errorf("failed to inspect volume %s: %w", name, err)
	}

	if _, err := c.inner.VolumeCreate(ctx, volume.CreateOptions{
		Name:   name,
		Driver: "local",
		Labels: map[string]string{"deployer.managed": "true"},
	}); err != nil {
		return fmt.Errorf("failed to create volume %s: %w", name, err)
	}
	c.logger.InfoContext(ctx, "volume created", "volume", name)
	return nil
}

// EnsureNetwork creates the named bridge network if it does not exist.
func (c *Client) EnsureNetwork(ctx context.Context, name string) error {
	if name == "" {
		return nil
	}
	_, err := c.inner.NetworkInspect(ctx, name, network.InspectOptions{})
	if err == nil {
		return nil
	}
	if wrapNotFound(err) != ErrNotFound {
		return fmt.Errorf("failed to inspect network %s: %w", name, err)
	}

	if _, err := c.inner.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
		Labels: map[string]string{"deployer.managed": "true"},
	}); err != nil {
		return fmt.Errorf("failed to create network %s: %w", name, err)
	}
	c.logger.InfoContext(ctx, "network created", "network", name)
	return nil
}
