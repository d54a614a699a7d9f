package builder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/deployer/internal/docker"
	"evalgo.org/deployer/models"
)

func TestBuildpackDeploySuccess(t *testing.T) {
	rt := newFakeRuntime()
	rt.setState("cid-web-01234567", docker.ContainerState{ID: "cid-web-01234567", Running: true, Health: docker.HealthHealthy})
	rec := &recorder{}
	cfg := newConfig(t, rec)
	cfg.EnvironmentVariables = map[string]string{"B": "2", "A": "1"}
	cfg.ResourceLimits = models.ResourceLimits{Memory: "512m", CPU: "0.5"}
	writeFile(t, cfg.SourcePath, "package.json", `{"scripts":{"start":"node index.js"}}`)

	res, err := NewBuildpackBuilder(rt, fastOptions(), nil).Deploy(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, models.StatusSuccess, res.Status)
	assert.Equal(t, []string{"cid-web-01234567"}, res.ContainerIDs)
	assert.Equal(t, "http://localhost:3000/health", res.HealthCheckURL)
	assert.Equal(t, "nodejs", res.Metadata["language"])
	assert.Equal(t, "web:01234567", res.Metadata["imageTag"])

	assert.Equal(t, []string{"web:01234567"}, rt.builtTags)
	assert.Equal(t, []string{GeneratedDockerfile}, rt.dockerfiles)
	assert.Contains(t, rt.removed, "web-01234567")

	require.Len(t, rt.runSpecs, 1)
	spec := rt.runSpecs[0]
	assert.Equal(t, "web-01234567", spec.Name)
	assert.Equal(t, []string{"A=1", "B=2", "PORT=3000"}, spec.Env)
	assert.Equal(t, int64(512<<20), spec.MemoryBytes)
	assert.Equal(t, int64(5e8), spec.NanoCPUs)
	assert.Contains(t, spec.Ports, nat.Port("3000/tcp"))

	assert.Equal(t, []models.Phase{
		models.PhaseBuilding, models.PhaseBuilding, models.PhaseHealthCheck, models.PhaseActive,
	}, rec.phaseNames())
	assert.Equal(t, 10, rec.phases[0].Progress)
	assert.Equal(t, 40, rec.phases[1].Progress)
	assert.Equal(t, 80, rec.phases[2].Progress)
	assert.Equal(t, 100, rec.last().Progress)

	written, err := os.ReadFile(filepath.Join(cfg.SourcePath, GeneratedDockerfile))
	require.NoError(t, err)
	assert.Contains(t, string(written), "FROM node:20-alpine")
}

func TestBuildpackNeverOverwritesCheckedInDockerfile(t *testing.T) {
	rt := newFakeRuntime()
	rt.setState("cid-web-01234567", docker.ContainerState{Running: true, Health: docker.HealthNone})
	cfg := newConfig(t, &recorder{})
	writeFile(t, cfg.SourcePath, "go.mod", "module example.com/app")
	writeFile(t, cfg.SourcePath, "Dockerfile", "FROM scratch\n")

	_, err := NewBuildpackBuilder(rt, fastOptions(), nil).Deploy(context.Background(), cfg)
	require.NoError(t, err)

	original, err := os.ReadFile(filepath.Join(cfg.SourcePath, "Dockerfile"))
	require.NoError(t, err)
	assert.Equal(t, "FROM scratch\n", string(original))
}

func TestBuildpackBuildTimeout(t *testing.T) {
	newRuntime := func() *fakeRuntime {
		rt := newFakeRuntime()
		rt.setState("cid-web-01234567", docker.ContainerState{ID: "cid-web-01234567", Running: true, Health: docker.HealthHealthy})
		return rt
	}

	t.Run("bounded", func(t *testing.T) {
		rt := newRuntime()
		opts := fastOptions()
		opts.BuildTimeout = time.Minute
		cfg := newConfig(t, &recorder{})
		writeFile(t, cfg.SourcePath, "go.mod", "module web\n")

		_, err := NewBuildpackBuilder(rt, opts, nil).Deploy(context.Background(), cfg)
		require.NoError(t, err)
		require.Len(t, rt.buildDeadlines, 1)
		assert.LessOrEqual(t, rt.buildDeadlines[0], time.Minute)
		assert.Greater(t, rt.buildDeadlines[0], 50*time.Second)
	})

	t.Run("unbounded by default", func(t *testing.T) {
		rt := newRuntime()
		cfg := newConfig(t, &recorder{})
		writeFile(t, cfg.SourcePath, "go.mod", "module web\n")

		_, err := NewBuildpackBuilder(rt, fastOptions(), nil).Deploy(context.Background(), cfg)
		require.NoError(t, err)
		assert.Empty(t, rt.buildDeadlines)
	})
}

func TestBuildpackUnhealthyIsPartial(t *testing.T) {
	rt := newFakeRuntime()
	rt.setState("cid-web-01234567", docker.ContainerState{Running: true, Status: "running", Health: docker.HealthUnhealthy})
	rec := &recorder{}
	cfg := newConfig(t, rec)

	res, err := NewBuildpackBuilder(rt, fastOptions(), nil).Deploy(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, models.StatusPartial, res.Status)
	assert.NotEmpty(t, res.ContainerIDs)
	assert.Empty(t, rt.removed[1:], "unhealthy container must be left running")
	assert.True(t, rec.hasLog(models.LogLevelWarn, "health"))
	assert.True(t, rec.hasLog(models.LogLevelWarn, "detect"), "fallback to nodejs must warn")
}

func TestBuildpackBuildFailurePropagates(t *testing.T) {
	rt := newFakeRuntime()
	rt.buildErr = errors.New("npm ERR! missing script: build")
	rec := &recorder{}
	cfg := newConfig(t, rec)
	writeFile(t, cfg.SourcePath, "package.json", "{}")

	res, err := NewBuildpackBuilder(rt, fastOptions(), nil).Deploy(context.Background(), cfg)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "missing script")

	last := rec.last()
	assert.Equal(t, models.PhaseFailed, last.Phase)
	assert.Equal(t, 0, last.Progress)
	assert.True(t, rec.hasLog(models.LogLevelError, "build"))
	assert.Empty(t, rt.runSpecs)
}

func TestBuildpackPinnedLanguageAndPort(t *testing.T) {
	rt := newFakeRuntime()
	rt.setState("cid-web-01234567", docker.ContainerState{Running: true, Health: docker.HealthHealthy})
	cfg := newConfig(t, &recorder{})
	cfg.Port = 8000
	cfg.HealthCheckPath = "/ready"
	cfg.Buildpack = &models.BuildpackOptions{Language: models.LanguagePython}
	writeFile(t, cfg.SourcePath, "package.json", "{}")

	res, err := NewBuildpackBuilder(rt, fastOptions(), nil).Deploy(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "python", res.Metadata["language"])
	assert.Equal(t, "http://localhost:8000/ready", res.HealthCheckURL)
}

func TestBuildpackInvalidConfigFails(t *testing.T) {
	rec := &recorder{}
	cfg := &models.BuilderConfig{ServiceName: "web", PhaseSink: rec}

	_, err := NewBuildpackBuilder(newFakeRuntime(), fastOptions(), nil).Deploy(context.Background(), cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, models.PhaseFailed, rec.last().Phase)
}

func TestBuildpackRecoversFromPanics(t *testing.T) {
	rt := newFakeRuntime()
	rt.inspectPanic = true
	rec := &recorder{}
	cfg := newConfig(t, rec)

	// health checks swallow runtime panics, so the deploy degrades to partial
	res, err := NewBuildpackBuilder(rt, fastOptions(), nil).Deploy(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPartial, res.Status)
}

func TestBuildpackWorksWithoutSinks(t *testing.T) {
	rt := newFakeRuntime()
	rt.setState("cid-web-01234567", docker.ContainerState{Running: true, Health: docker.HealthHealthy})
	cfg := newConfig(t, nil)
	cfg.PhaseSink, cfg.LogSink = nil, nil

	res, err := NewBuildpackBuilder(rt, fastOptions(), nil).Deploy(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, res.Status)
}
