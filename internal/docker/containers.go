package docker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
)

// RunContainer creates and starts a container, returning its id.
func (c *Client) RunContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return "", fmt.Errorf("container name cannot be empty")
	}
	if strings.TrimSpace(spec.Image) == "" {
		return "", fmt.Errorf("image name cannot be empty")
	}

	containerConfig, hostConfig, networkConfig := buildContainerConfig(spec)

	resp, err := c.inner.ContainerCreate(ctx, containerConfig, hostConfig, networkConfig, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", spec.Name, err)
	}

	if err := c.inner.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Clean up the created container so the name can be reused
		_ = c.inner.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("failed to start container %s: %w", spec.Name, err)
	}

	c.logger.DebugContext(ctx, "container started", "name", spec.Name, "id", resp.ID, "image", spec.Image)
	return resp.ID, nil
}

func buildContainerConfig(spec ContainerSpec) (*container.Config, *container.HostConfig, *network.NetworkingConfig) {
	containerConfig := &container.Config{
		Image:  spec.Image,
		Cmd:    spec.Cmd,
		Env:    spec.Env,
		Labels: spec.Labels,
	}

	if len(spec.Ports) > 0 {
		containerConfig.ExposedPorts = nat.PortSet{}
		for p := range spec.Ports {
			containerConfig.ExposedPorts[p] = struct{}{}
		}
	}

	if hc := spec.HealthCheck; hc != nil {
		containerConfig.Healthcheck = &container.HealthConfig{
			Test:        hc.Test,
			Interval:    hc.Interval,
			Timeout:     hc.Timeout,
			StartPeriod: hc.StartPeriod,
			Retries:     hc.Retries,
		}
	}

	hostConfig := &container.HostConfig{
		PortBindings: spec.Ports,
		Resources: container.Resources{
			Memory:   spec.MemoryBytes,
			NanoCPUs: spec.NanoCPUs,
		},
	}

	if spec.RestartPolicy != "" {
		hostConfig.RestartPolicy = container.RestartPolicy{
			Name:              container.RestartPolicyMode(spec.RestartPolicy),
			MaximumRetryCount: spec.MaxRestarts,
		}
	}

	for _, m := range spec.Mounts {
		hostConfig.Mounts = append(hostConfig.Mounts, mount.Mount{
			Type:     mount.TypeVolume,
			Source:   m.Volume,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	var networkConfig *network.NetworkingConfig
	if spec.Network != "" {
		hostConfig.NetworkMode = container.NetworkMode(spec.Network)
		networkConfig = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				spec.Network: {},
			},
		}
	}

	return containerConfig, hostConfig, networkConfig
}

// InspectContainer returns the state of a container by name or id.
// A missing container yields ErrNotFound.
func (c *Client) InspectContainer(ctx context.Context, nameOrID string) (*ContainerState, error) {
	info, err := c.inner.ContainerInspect(ctx, nameOrID)
	if err != nil {
		if err = wrapNotFound(err); err == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to inspect container %s: %w", nameOrID, err)
	}

	state := &ContainerState{
		ID:     info.ID,
		Name:   strings.TrimPrefix(info.Name, "/"),
		Health: HealthNone,
	}
	if info.Config != nil {
		state.Image = info.Config.Image
		state.Labels = info.Config.Labels
	}
	if info.State != nil {
		state.Status = info.State.Status
		state.Running = info.State.Running
		if info.State.Health != nil && info.State.Health.Status != "" {
			state.Health = info.State.Health.Status
		}
	}
	return state, nil
}

// StartContainer starts an existing container.
func (c *Client) StartContainer(ctx context.Context, nameOrID string) error {
	if err := c.inner.ContainerStart(ctx, nameOrID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", nameOrID, wrapNotFound(err))
	}
	return nil
}

// StopContainer stops a running container, waiting up to timeout before killing it.
func (c *Client) StopContainer(ctx context.Context, nameOrID string, timeout time.Duration) error {
	seconds := int(timeout.Seconds())
	if err := c.inner.ContainerStop(ctx, nameOrID, container.StopOptions{Timeout: &seconds}); err != nil {
		if wrapNotFound(err) == ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to stop container %s: %w", nameOrID, err)
	}
	return nil
}

// RemoveContainer force-removes a container. A missing container is not an error.
func (c *Client) RemoveContainer(ctx context.Context, nameOrID string) error {
	if strings.TrimSpace(nameOrID) == "" {
		return fmt.Errorf("container name cannot be empty")
	}
	if err := c.inner.ContainerRemove(ctx, nameOrID, container.RemoveOptions{Force: true}); err != nil {
		if wrapNotFound(err) == ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to remove container %s: %w", nameOrID, err)
	}
	return nil
}
