// Package builder implements the deployment strategies that turn a source
// tree into running, health-verified containers.
//
// Every strategy reports progress through the optional phase and log sinks of
// models.BuilderConfig. On any error a strategy emits a FAILED phase with
// progress 0 and an error log line, then returns the error; it never returns
// both a result and an error.
//
// Buildpack and compose deployments whose containers start but never become
// healthy return a result with status "partial" and leave the containers
// running for inspection.
package builder

import (
	"context"
	"errors"

	"evalgo.org/deployer/internal/docker"
	"evalgo.org/deployer/models"
)

var (
	// ErrNoContainers is returned when a compose deployment produced no containers.
	ErrNoContainers = errors.New("No containers were created by Docker Compose")

	// ErrComposeFileMissing is returned when the compose file is absent from the source tree.
	ErrComposeFileMissing = errors.New("compose file not found")

	// ErrMissingCollaborator is returned when a strategy was built without a required dependency.
	ErrMissingCollaborator = errors.New("missing required collaborator")

	// ErrInvalidConfig is returned for incomplete builder configurations.
	ErrInvalidConfig = errors.New("invalid builder configuration")
)

// Strategy deploys a source tree.
type Strategy interface {
	Type() models.BuildType
	Deploy(ctx context.Context, cfg *models.BuilderConfig) (*models.BuilderResult, error)
}

// Teardowner is implemented by strategies whose deployments can be removed as a unit.
type Teardowner interface {
	Teardown(ctx context.Context, cfg *models.BuilderConfig) error
}

// Runtime is the container runtime surface the strategies use.
// *docker.Client satisfies it.
type Runtime interface {
	HealthInspector
	BuildImage(ctx context.Context, dir, dockerfile, tag string, onOutput func(string)) error
	RunContainer(ctx context.Context, spec docker.ContainerSpec) (string, error)
	RemoveContainer(ctx context.Context, nameOrID string) error
}

// HealthInspector reports container state.
type HealthInspector interface {
	InspectContainer(ctx context.Context, nameOrID string) (*docker.ContainerState, error)
}

// ComposeRunner drives a compose stack. *docker.Compose satisfies it.
type ComposeRunner interface {
	Up(ctx context.Context, p docker.ComposeProject) (string, error)
	ContainerIDs(ctx context.Context, p docker.ComposeProject) ([]string, error)
	Down(ctx context.Context, p docker.ComposeProject) error
}

// StaticDeployRequest is the input of a StaticProvider.
type StaticDeployRequest struct {
	ServiceName  string
	DeploymentID string
	ProjectID    string
	Domain       string
	Subdomain    string
	SourcePath   string
}

// StaticDeployResult is the output of a StaticProvider.
type StaticDeployResult struct {
	ContainerID   string
	ContainerName string
	Domain        string
	ImageUsed     string
}

// StaticProvider places static files where a front server can serve them.
type StaticProvider interface {
	DeployStaticFiles(ctx context.Context, req StaticDeployRequest) (*StaticDeployResult, error)
}

// ProjectServerRepairer converges a project's front server and a service's
// vhost, reporting whether the result is healthy.
type ProjectServerRepairer interface {
	EnsureProjectServerHealth(ctx context.Context, projectID, host, serviceName string) bool
}
