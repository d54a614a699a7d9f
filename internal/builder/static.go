package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"evalgo.org/deployer/models"
)

// StaticBuilder publishes a directory of static files through the project's
// shared front server.
type StaticBuilder struct {
	*Base
	provider StaticProvider
	repairer ProjectServerRepairer
}

// NewStaticBuilder creates a static strategy. provider and repairer are
// required; Deploy fails with ErrMissingCollaborator without them.
func NewStaticBuilder(provider StaticProvider, repairer ProjectServerRepairer, inspector HealthInspector, opts Options, logger *slog.Logger) *StaticBuilder {
	return &StaticBuilder{
		Base:     NewBase(inspector, opts, logger),
		provider: provider,
		repairer: repairer,
	}
}

func (b *StaticBuilder) Type() models.BuildType { return models.BuildTypeStatic }

// Deploy hands the files to the provider, repairs the front server and
// reports the served domain.
func (b *StaticBuilder) Deploy(ctx context.Context, cfg *models.BuilderConfig) (result *models.BuilderResult, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}
	defer b.recoverDeploy(ctx, cfg, &result, &err)

	if err := validateConfig(cfg); err != nil {
		return nil, b.fail(ctx, cfg, "validate", err)
	}
	if b.provider == nil {
		return nil, b.fail(ctx, cfg, "validate", fmt.Errorf("%w: static provider", ErrMissingCollaborator))
	}
	if b.repairer == nil {
		return nil, b.fail(ctx, cfg, "validate", fmt.Errorf("%w: project server manager", ErrMissingCollaborator))
	}

	opts := cfg.Static
	if opts == nil {
		opts = &models.StaticOptions{}
	}
	subdomain := opts.Subdomain
	if subdomain == "" {
		subdomain = SanitizeForSubdomain(cfg.ServiceName)
	}
	if subdomain == "" {
		return nil, b.fail(ctx, cfg, "validate",
			fmt.Errorf("%w: service name %q yields an empty subdomain", ErrInvalidConfig, cfg.ServiceName))
	}
	projectID := opts.ProjectID
	if projectID == "" {
		projectID = subdomain
	}

	b.EmitPhase(ctx, cfg, models.PhaseBuilding, 10, map[string]any{"step": "prepare", "subdomain": subdomain})

	// Step 1: place the files
	b.EmitPhase(ctx, cfg, models.PhaseCopyingFiles, 30, map[string]any{"projectId": projectID})
	b.EmitLog(ctx, cfg, models.LogLevelInfo, models.PhaseCopyingFiles, "copy", "Copying static files from "+cfg.SourcePath)
	deployed, err := b.provider.DeployStaticFiles(ctx, StaticDeployRequest{
		ServiceName:  cfg.ServiceName,
		DeploymentID: cfg.DeploymentID,
		ProjectID:    projectID,
		Domain:       opts.Domain,
		Subdomain:    subdomain,
		SourcePath:   cfg.SourcePath,
	})
	if err != nil {
		return nil, b.fail(ctx, cfg, "copy", err)
	}
	if deployed == nil {
		return nil, b.fail(ctx, cfg, "copy", errors.New("static provider returned no result"))
	}

	b.EmitPhase(ctx, cfg, models.PhaseUpdatingRoutes, 60, map[string]any{"domain": deployed.Domain})
	b.EmitLog(ctx, cfg, models.LogLevelInfo, models.PhaseUpdatingRoutes, "routes", "Registered route for "+deployed.Domain)

	// Step 2: converge the front server; this may recreate the container
	b.EmitPhase(ctx, cfg, models.PhaseHealthCheck, 80, map[string]any{"containerName": deployed.ContainerName})
	healthy := b.repairer.EnsureProjectServerHealth(ctx, projectID, "", cfg.ServiceName)

	containerID := deployed.ContainerID
	if b.inspector != nil && deployed.ContainerName != "" {
		if state, err := b.inspector.InspectContainer(ctx, deployed.ContainerName); err == nil {
			containerID = state.ID
		} else {
			b.logger.WarnContext(ctx, "could not re-resolve front server container", "container", deployed.ContainerName, "error", err)
		}
	}

	healthURL := fmt.Sprintf("http://%s/health", deployed.Domain)
	metadata := map[string]any{
		"buildType":     string(models.BuildTypeStatic),
		"projectId":     projectID,
		"subdomain":     subdomain,
		"containerName": deployed.ContainerName,
		"image":         deployed.ImageUsed,
	}
	result = &models.BuilderResult{
		DeploymentID:   cfg.DeploymentID,
		ContainerIDs:   []string{containerID},
		HealthCheckURL: healthURL,
		Domain:         deployed.Domain,
		Metadata:       metadata,
	}

	if !healthy {
		result.Status = models.StatusPartial
		result.Message = fmt.Sprintf("Static files for %s deployed but the front server is not healthy", deployed.Domain)
		b.EmitLog(ctx, cfg, models.LogLevelWarn, models.PhaseHealthCheck, "health", result.Message)
		b.EmitPhase(ctx, cfg, models.PhaseActive, 100, map[string]any{"status": string(models.StatusPartial)})
		return result, nil
	}

	result.Status = models.StatusSuccess
	result.Message = fmt.Sprintf("Static site available at http://%s", deployed.Domain)
	b.EmitLog(ctx, cfg, models.LogLevelInfo, models.PhaseActive, "health", result.Message)
	b.EmitPhase(ctx, cfg, models.PhaseActive, 100, map[string]any{"status": string(models.StatusSuccess), "domain": deployed.Domain})
	return result, nil
}
