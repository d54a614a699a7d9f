package builder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"evalgo.org/deployer/internal/docker"
	"evalgo.org/deployer/models"
)

// DefaultComposeFile is used when ComposeOptions.ComposeFile is empty.
const DefaultComposeFile = "docker-compose.yml"

// ComposeBuilder deploys a Docker Compose stack found in the source tree.
type ComposeBuilder struct {
	*Base
	compose ComposeRunner
}

// NewComposeBuilder creates a compose strategy. inspector is used for health
// checks and container name resolution.
func NewComposeBuilder(compose ComposeRunner, inspector HealthInspector, opts Options, logger *slog.Logger) *ComposeBuilder {
	return &ComposeBuilder{
		Base:    NewBase(inspector, opts, logger),
		compose: compose,
	}
}

func (b *ComposeBuilder) Type() models.BuildType { return models.BuildTypeCompose }

// composeFile is the part of a compose file the builder reads.
type composeFile struct {
	Services map[string]yaml.Node `yaml:"services"`
}

// parseComposeServices returns the sorted service names declared in path.
func parseComposeServices(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f composeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid compose file %s: %w", filepath.Base(path), err)
	}
	names := make([]string, 0, len(f.Services))
	for name := range f.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (b *ComposeBuilder) project(cfg *models.BuilderConfig) docker.ComposeProject {
	opts := cfg.Compose
	if opts == nil {
		opts = &models.ComposeOptions{}
	}

	file := opts.ComposeFile
	if file == "" {
		file = DefaultComposeFile
	}
	name := opts.ProjectName
	if name == "" {
		name = cfg.ServiceName
	}

	env := make(map[string]string, len(cfg.EnvironmentVariables)+1)
	for k, v := range cfg.EnvironmentVariables {
		env[k] = v
	}
	env["DEPLOYMENT_ID"] = cfg.DeploymentID

	return docker.ComposeProject{
		Dir:         cfg.SourcePath,
		File:        file,
		ProjectName: name,
		Services:    opts.Services,
		Env:         env,
	}
}

// Deploy brings the stack up, lists its containers and checks the first one.
func (b *ComposeBuilder) Deploy(ctx context.Context, cfg *models.BuilderConfig) (result *models.BuilderResult, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}
	defer b.recoverDeploy(ctx, cfg, &result, &err)

	if err := validateConfig(cfg); err != nil {
		return nil, b.fail(ctx, cfg, "validate", err)
	}
	if b.compose == nil {
		return nil, b.fail(ctx, cfg, "validate", fmt.Errorf("%w: compose runner", ErrMissingCollaborator))
	}

	project := b.project(cfg)
	b.EmitPhase(ctx, cfg, models.PhaseBuilding, 10, map[string]any{"step": "compose-file", "projectName": project.ProjectName})

	// Step 1: the compose file must exist and declare the selected services
	path := filepath.Join(cfg.SourcePath, project.File)
	if !fileExists(path) {
		return nil, b.fail(ctx, cfg, "compose-file", fmt.Errorf("%w: %s", ErrComposeFileMissing, project.File))
	}
	declared, err := parseComposeServices(path)
	if err != nil {
		return nil, b.fail(ctx, cfg, "compose-file", err)
	}
	if len(declared) == 0 {
		return nil, b.fail(ctx, cfg, "compose-file", ErrNoContainers)
	}
	if missing := missingServices(declared, project.Services); len(missing) > 0 {
		return nil, b.fail(ctx, cfg, "compose-file",
			fmt.Errorf("%w: services %v are not declared in %s", ErrInvalidConfig, missing, project.File))
	}

	// Step 2: build and start
	b.EmitLog(ctx, cfg, models.LogLevelInfo, models.PhaseBuilding, "up",
		fmt.Sprintf("Starting compose project %s", project.ProjectName))
	output, err := b.compose.Up(ctx, project)
	if output != "" {
		b.EmitLog(ctx, cfg, models.LogLevelDebug, models.PhaseBuilding, "up", output)
	}
	if err != nil {
		return nil, b.fail(ctx, cfg, "up", err)
	}
	b.EmitPhase(ctx, cfg, models.PhaseBuilding, 60, map[string]any{"step": "up"})

	// Step 3: collect containers
	ids, err := b.compose.ContainerIDs(ctx, project)
	if err != nil {
		return nil, b.fail(ctx, cfg, "ps", err)
	}
	if len(ids) == 0 {
		return nil, b.fail(ctx, cfg, "ps", ErrNoContainers)
	}

	// Step 4: health check the first container
	first := ids[0]
	healthURL := GenerateHealthCheckURL(b.containerName(ctx, first), cfg.Port, b.healthPath(cfg))
	b.EmitPhase(ctx, cfg, models.PhaseHealthCheck, 80, map[string]any{"containerId": first, "url": healthURL})
	health := b.WaitForHealthy(ctx, first, healthURL)

	selected := project.Services
	if len(selected) == 0 {
		selected = declared
	}
	metadata := map[string]any{
		"buildType":   string(models.BuildTypeCompose),
		"projectName": project.ProjectName,
		"composeFile": project.File,
		"services":    selected,
	}
	result = &models.BuilderResult{
		DeploymentID:   cfg.DeploymentID,
		ContainerIDs:   ids,
		HealthCheckURL: healthURL,
		Metadata:       metadata,
	}

	if !health.Healthy {
		result.Status = models.StatusPartial
		result.Message = fmt.Sprintf("Compose project %s started %d container(s) but the health check failed: %s",
			project.ProjectName, len(ids), health.Reason)
		metadata["healthReason"] = health.Reason
		b.EmitLog(ctx, cfg, models.LogLevelWarn, models.PhaseHealthCheck, "health", result.Message)
		b.EmitPhase(ctx, cfg, models.PhaseActive, 100, map[string]any{"status": string(models.StatusPartial), "reason": health.Reason})
		return result, nil
	}

	result.Status = models.StatusSuccess
	result.Message = fmt.Sprintf("Compose project %s running with %d container(s)", project.ProjectName, len(ids))
	b.EmitLog(ctx, cfg, models.LogLevelInfo, models.PhaseActive, "health", result.Message)
	b.EmitPhase(ctx, cfg, models.PhaseActive, 100, map[string]any{"status": string(models.StatusSuccess)})
	return result, nil
}

// Teardown stops the stack and removes its volumes.
func (b *ComposeBuilder) Teardown(ctx context.Context, cfg *models.BuilderConfig) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}
	if b.compose == nil {
		return fmt.Errorf("%w: compose runner", ErrMissingCollaborator)
	}
	project := b.project(cfg)
	if err := b.compose.Down(ctx, project); err != nil {
		b.EmitLog(ctx, cfg, models.LogLevelError, "", "teardown", err.Error())
		return fmt.Errorf("failed to tear down compose project %s: %w", project.ProjectName, err)
	}
	b.EmitLog(ctx, cfg, models.LogLevelInfo, "", "teardown", "Removed compose project "+project.ProjectName)
	return nil
}

// containerName resolves a container id to its name, falling back to the id.
func (b *ComposeBuilder) containerName(ctx context.Context, id string) string {
	if b.inspector == nil {
		return id
	}
	state, err := b.inspector.InspectContainer(ctx, id)
	if err != nil || state.Name == "" {
		return id
	}
	return state.Name
}

func missingServices(declared, selected []string) []string {
	known := make(map[string]bool, len(declared))
	for _, d := range declared {
		known[d] = true
	}
	var missing []string
	for _, s := range selected {
		if !known[s] {
			missing = append(missing, s)
		}
	}
	return missing
}
