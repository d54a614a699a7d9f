package builder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/docker/go-connections/nat"

	"evalgo.org/deployer/internal/docker"
	"evalgo.org/deployer/models"
)

// BuildpackBuilder detects the source language, synthesizes a Dockerfile,
// builds an image and runs one container from it.
type BuildpackBuilder struct {
	*Base
	runtime Runtime
}

// NewBuildpackBuilder creates a buildpack strategy on top of runtime.
func NewBuildpackBuilder(runtime Runtime, opts Options, logger *slog.Logger) *BuildpackBuilder {
	return &BuildpackBuilder{
		Base:    NewBase(runtime, opts, logger),
		runtime: runtime,
	}
}

func (b *BuildpackBuilder) Type() models.BuildType { return models.BuildTypeBuildpack }

// Deploy runs detect, generate, build, run and health check.
func (b *BuildpackBuilder) Deploy(ctx context.Context, cfg *models.BuilderConfig) (result *models.BuilderResult, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}
	defer b.recoverDeploy(ctx, cfg, &result, &err)

	if err := validateConfig(cfg); err != nil {
		return nil, b.fail(ctx, cfg, "validate", err)
	}
	if b.runtime == nil {
		return nil, b.fail(ctx, cfg, "validate", fmt.Errorf("%w: container runtime", ErrMissingCollaborator))
	}

	b.EmitPhase(ctx, cfg, models.PhaseBuilding, 10, map[string]any{"step": "detect"})

	// Step 1: resolve language
	lang, err := b.resolveLanguage(ctx, cfg)
	if err != nil {
		return nil, b.fail(ctx, cfg, "detect", err)
	}

	prof, err := languageProfile(lang, cfg.SourcePath)
	if err != nil {
		return nil, b.fail(ctx, cfg, "detect", err)
	}
	prof = prof.applyOverrides(cfg.Buildpack)

	port := cfg.Port
	if port <= 0 {
		port = b.opts.DefaultPort
	}
	healthPath := b.healthPath(cfg)

	// Step 2: write the build file
	dockerfile := renderDockerfile(prof, port, healthPath)
	if err := os.WriteFile(filepath.Join(cfg.SourcePath, GeneratedDockerfile), []byte(dockerfile), 0o644); err != nil {
		return nil, b.fail(ctx, cfg, "dockerfile", fmt.Errorf("failed to write %s: %w", GeneratedDockerfile, err))
	}
	b.EmitLog(ctx, cfg, models.LogLevelInfo, models.PhaseBuilding, "dockerfile",
		fmt.Sprintf("Generated %s for %s %s", GeneratedDockerfile, lang, prof.Version))

	// Step 3: build the image
	imageTag := GenerateImageTag(cfg.ServiceName, cfg.DeploymentID)
	b.EmitLog(ctx, cfg, models.LogLevelInfo, models.PhaseBuilding, "build", "Building image "+imageTag)
	onOutput := func(line string) {
		b.EmitLog(ctx, cfg, models.LogLevelDebug, models.PhaseBuilding, "build", line)
	}
	buildCtx := ctx
	if b.opts.BuildTimeout > 0 {
		var cancel context.CancelFunc
		buildCtx, cancel = context.WithTimeout(ctx, b.opts.BuildTimeout)
		defer cancel()
	}
	if err := b.runtime.BuildImage(buildCtx, cfg.SourcePath, GeneratedDockerfile, imageTag, onOutput); err != nil {
		return nil, b.fail(ctx, cfg, "build", fmt.Errorf("failed to build image %s: %w", imageTag, err))
	}
	b.EmitPhase(ctx, cfg, models.PhaseBuilding, 40, map[string]any{"step": "image-built", "imageTag": imageTag})

	// Step 4: replace any container left from a previous attempt and start a new one
	containerName := GenerateContainerName(cfg.ServiceName, cfg.DeploymentID)
	if err := b.runtime.RemoveContainer(ctx, containerName); err != nil {
		b.logger.WarnContext(ctx, "failed to remove stale container", "container", containerName, "error", err)
	}

	spec, err := containerSpec(cfg, containerName, imageTag, port)
	if err != nil {
		return nil, b.fail(ctx, cfg, "run", err)
	}
	containerID, err := b.runtime.RunContainer(ctx, spec)
	if err != nil {
		return nil, b.fail(ctx, cfg, "run", err)
	}
	b.EmitLog(ctx, cfg, models.LogLevelInfo, models.PhaseBuilding, "run", "Started container "+containerName)

	// Step 5: health check
	healthURL := GenerateHealthCheckURL(containerName, port, healthPath)
	b.EmitPhase(ctx, cfg, models.PhaseHealthCheck, 80, map[string]any{"containerId": containerID, "url": healthURL})
	health := b.WaitForHealthy(ctx, containerID, healthURL)

	metadata := map[string]any{
		"buildType":     string(models.BuildTypeBuildpack),
		"language":      string(lang),
		"version":       prof.Version,
		"imageTag":      imageTag,
		"containerName": containerName,
		"port":          port,
		"dockerfile":    GeneratedDockerfile,
	}
	result = &models.BuilderResult{
		DeploymentID:   cfg.DeploymentID,
		ContainerIDs:   []string{containerID},
		HealthCheckURL: healthURL,
		Metadata:       metadata,
	}

	if !health.Healthy {
		result.Status = models.StatusPartial
		result.Message = fmt.Sprintf("Container %s started but failed health check: %s", containerName, health.Reason)
		metadata["healthReason"] = health.Reason
		b.EmitLog(ctx, cfg, models.LogLevelWarn, models.PhaseHealthCheck, "health", result.Message)
		b.EmitPhase(ctx, cfg, models.PhaseActive, 100, map[string]any{"status": string(models.StatusPartial), "reason": health.Reason})
		return result, nil
	}

	result.Status = models.StatusSuccess
	result.Message = fmt.Sprintf("Deployed %s from image %s", containerName, imageTag)
	b.EmitLog(ctx, cfg, models.LogLevelInfo, models.PhaseActive, "health", result.Message)
	b.EmitPhase(ctx, cfg, models.PhaseActive, 100, map[string]any{"status": string(models.StatusSuccess)})
	return result, nil
}

func (b *BuildpackBuilder) resolveLanguage(ctx context.Context, cfg *models.BuilderConfig) (models.Language, error) {
	if cfg.Buildpack != nil && cfg.Buildpack.Language != "" {
		lang, err := models.ParseLanguage(string(cfg.Buildpack.Language))
		if err != nil {
			return "", err
		}
		b.EmitLog(ctx, cfg, models.LogLevelInfo, models.PhaseBuilding, "detect", "Using pinned language "+string(lang))
		return lang, nil
	}

	lang, matched := DetectLanguage(cfg.SourcePath)
	if !matched {
		b.logger.WarnContext(ctx, "no language markers found, defaulting to nodejs", "source", cfg.SourcePath)
		b.EmitLog(ctx, cfg, models.LogLevelWarn, models.PhaseBuilding, "detect",
			"No language marker files found, defaulting to nodejs")
		return lang, nil
	}
	b.EmitLog(ctx, cfg, models.LogLevelInfo, models.PhaseBuilding, "detect", "Detected language "+string(lang))
	return lang, nil
}

func containerSpec(cfg *models.BuilderConfig, name, image string, port int) (docker.ContainerSpec, error) {
	memory, err := cfg.ResourceLimits.MemoryBytes()
	if err != nil {
		return docker.ContainerSpec{}, err
	}
	cpus, err := cfg.ResourceLimits.NanoCPUs()
	if err != nil {
		return docker.ContainerSpec{}, err
	}

	env := map[string]string{"PORT": strconv.Itoa(port)}
	for k, v := range cfg.EnvironmentVariables {
		env[k] = v
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	envList := make([]string, 0, len(keys))
	for _, k := range keys {
		envList = append(envList, k+"="+env[k])
	}

	containerPort := nat.Port(fmt.Sprintf("%d/tcp", port))
	return docker.ContainerSpec{
		Name:  name,
		Image: image,
		Env:   envList,
		Labels: map[string]string{
			"deployer.service":    cfg.ServiceName,
			"deployer.deployment": cfg.DeploymentID,
		},
		Ports: nat.PortMap{
			containerPort: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(port)}},
		},
		RestartPolicy: "unless-stopped",
		MemoryBytes:   memory,
		NanoCPUs:      cpus,
	}, nil
}
