package docker

import (
	"time"

	"github.com/docker/go-connections/nat"
)

// Health status values reported by the runtime.
const (
	HealthNone      = "none"
	HealthStarting  = "starting"
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
)

// HealthCheck is an in-container probe definition.
type HealthCheck struct {
	Test        []string
	Interval    time.Duration
	Timeout     time.Duration
	StartPeriod time.Duration
	Retries     int
}

// VolumeMount mounts a named volume into a container.
type VolumeMount struct {
	Volume   string
	Target   string
	ReadOnly bool
}

// ContainerSpec describes a container to create and start.
type ContainerSpec struct {
	Name   string
	Image  string
	Cmd    []string
	Env    []string
	Labels map[string]string

	// Ports maps container ports to host bindings
	Ports nat.PortMap

	Network     string
	Mounts      []VolumeMount
	HealthCheck *HealthCheck

	// RestartPolicy is "no", "always", "unless-stopped" or "on-failure"
	RestartPolicy string
	MaxRestarts   int

	MemoryBytes int64
	NanoCPUs    int64
}

// ContainerState is the subset of inspect data callers act on.
type ContainerState struct {
	ID      string
	Name    string
	Image   string
	Status  string
	Running bool

	// Health is one of the Health* constants
	Health string
	Labels map[string]string
}

// Healthy reports whether the container is running and its probe, if any, passes.
func (s ContainerState) Healthy() bool {
	if !s.Running {
		return false
	}
	switch s.Health {
	case "", HealthNone, HealthHealthy:
		return true
	}
	return false
}

// ExecResult is the outcome of a command run inside a container.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}
