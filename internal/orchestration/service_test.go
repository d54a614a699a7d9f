package orchestration

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/deployer/internal/builder"
	"evalgo.org/deployer/internal/config"
	"evalgo.org/deployer/internal/logging"
	"evalgo.org/deployer/models"
)

type fakeStrategy struct {
	buildType models.BuildType
	err       error
	seen      *models.BuilderConfig
	torn      []string
}

func (f *fakeStrategy) Type() models.BuildType { return f.buildType }

func (f *fakeStrategy) Deploy(ctx context.Context, cfg *models.BuilderConfig) (*models.BuilderResult, error) {
	f.seen = cfg
	cfg.PhaseSink.OnPhaseUpdate(ctx, models.PhaseBuilding, 10, map[string]any{"step": "prepare"})
	cfg.LogSink.OnLog(ctx, models.LogEntry{Level: models.LogLevelInfo, Message: "building", Phase: models.PhaseBuilding, Service: cfg.ServiceName})
	if f.err != nil {
		cfg.PhaseSink.OnPhaseUpdate(ctx, models.PhaseFailed, 0, nil)
		return nil, f.err
	}
	cfg.PhaseSink.OnPhaseUpdate(ctx, models.PhaseActive, 100, nil)
	return &models.BuilderResult{ContainerIDs: []string{"c1"}, Status: models.StatusSuccess}, nil
}

type tearingStrategy struct{ fakeStrategy }

func (t *tearingStrategy) Teardown(_ context.Context, cfg *models.BuilderConfig) error {
	t.torn = append(t.torn, cfg.ServiceName)
	return t.err
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Publish(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) types() []EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventType, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

type recorded struct {
	buildType models.BuildType
	res       *models.BuilderResult
}

type fakeRecorder struct{ calls []recorded }

func (r *fakeRecorder) ObserveDeployment(bt models.BuildType, res *models.BuilderResult, _ time.Duration) {
	r.calls = append(r.calls, recorded{bt, res})
}

type fakeRouters struct{ removed []string }

func (f *fakeRouters) RemoveServiceRouter(projectID, serviceName string) error {
	f.removed = append(f.removed, projectID+"/"+serviceName)
	return nil
}

func TestDeployDispatchesAndFansOut(t *testing.T) {
	strategy := &fakeStrategy{buildType: models.BuildTypeBuildpack}
	events := &eventLog{}
	recorder := &fakeRecorder{}
	svc := NewService(logging.Discard(), strategy).WithPublisher(events).WithRecorder(recorder)

	var phases []models.Phase
	var lines []string
	cfg := &models.BuilderConfig{
		ServiceName: "web",
		SourcePath:  "/src",
		PhaseSink: models.PhaseSinkFunc(func(_ context.Context, p models.Phase, _ int, _ map[string]any) {
			phases = append(phases, p)
		}),
		LogSink: models.LogSinkFunc(func(_ context.Context, e models.LogEntry) {
			lines = append(lines, e.Message)
		}),
	}

	res, err := svc.Deploy(context.Background(), models.BuildTypeBuildpack, cfg)
	require.NoError(t, err)

	require.NotEmpty(t, res.DeploymentID)
	assert.Equal(t, res.DeploymentID, strategy.seen.DeploymentID)
	assert.Empty(t, cfg.DeploymentID, "caller config is left untouched")

	assert.Equal(t, []models.Phase{models.PhaseBuilding, models.PhaseActive}, phases)
	assert.Equal(t, []string{"building"}, lines)
	assert.Equal(t, []EventType{EventPhase, EventLog, EventPhase, EventResult}, events.types())
	for _, e := range events.events {
		assert.Equal(t, res.DeploymentID, e.DeploymentID)
		assert.Equal(t, "web", e.Service)
	}

	require.Len(t, recorder.calls, 1)
	assert.Equal(t, models.BuildTypeBuildpack, recorder.calls[0].buildType)
	assert.Same(t, res, recorder.calls[0].res)
}

func TestDeployKeepsGivenID(t *testing.T) {
	svc := NewService(nil, &fakeStrategy{buildType: models.BuildTypeStatic})
	res, err := svc.Deploy(context.Background(), models.BuildTypeStatic, &models.BuilderConfig{DeploymentID: "dep-7", ServiceName: "docs"})
	require.NoError(t, err)
	assert.Equal(t, "dep-7", res.DeploymentID)
}

func TestDeployStampsLoggingContext(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	svc := NewService(logger, &fakeStrategy{buildType: models.BuildTypeCompose})

	_, err := svc.Deploy(context.Background(), models.BuildTypeCompose, &models.BuilderConfig{DeploymentID: "dep-42", ServiceName: "api"})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"deployment_id":"dep-42"`)
	assert.Contains(t, out, `"build_type":"compose"`)
	assert.Contains(t, out, "deployment finished")
}

func TestDeployFailure(t *testing.T) {
	boom := errors.New("image build failed")
	events := &eventLog{}
	recorder := &fakeRecorder{}
	svc := NewService(nil, &fakeStrategy{buildType: models.BuildTypeBuildpack, err: boom}).
		WithPublisher(events).WithRecorder(recorder)

	res, err := svc.Deploy(context.Background(), models.BuildTypeBuildpack, &models.BuilderConfig{ServiceName: "web"})
	assert.Nil(t, res)
	require.ErrorIs(t, err, boom)

	last := events.events[len(events.events)-1]
	assert.Equal(t, EventResult, last.Type)
	assert.Equal(t, "image build failed", last.Error)
	require.Len(t, recorder.calls, 1)
	assert.Nil(t, recorder.calls[0].res)
}

func TestDeployRejects(t *testing.T) {
	svc := NewService(nil, &fakeStrategy{buildType: models.BuildTypeBuildpack})

	_, err := svc.Deploy(context.Background(), models.BuildTypeCompose, &models.BuilderConfig{ServiceName: "web"})
	assert.ErrorIs(t, err, ErrUnknownStrategy)

	_, err = svc.Deploy(context.Background(), models.BuildTypeBuildpack, nil)
	assert.ErrorIs(t, err, builder.ErrInvalidConfig)
}

func TestBuildTypes(t *testing.T) {
	svc := NewService(nil,
		&fakeStrategy{buildType: models.BuildTypeStatic},
		&fakeStrategy{buildType: models.BuildTypeBuildpack},
		nil,
	)
	assert.Equal(t, []models.BuildType{models.BuildTypeBuildpack, models.BuildTypeStatic}, svc.BuildTypes())
}

func TestTeardown(t *testing.T) {
	compose := &tearingStrategy{fakeStrategy{buildType: models.BuildTypeCompose}}
	routers := &fakeRouters{}
	svc := NewService(nil,
		compose,
		&fakeStrategy{buildType: models.BuildTypeStatic},
		&fakeStrategy{buildType: models.BuildTypeBuildpack},
	).WithRouterRemover(routers)
	ctx := context.Background()

	require.NoError(t, svc.Teardown(ctx, models.BuildTypeCompose, &models.BuilderConfig{ServiceName: "api"}))
	assert.Equal(t, []string{"api"}, compose.torn)

	require.NoError(t, svc.Teardown(ctx, models.BuildTypeStatic, &models.BuilderConfig{
		ServiceName: "docs", Static: &models.StaticOptions{ProjectID: "p1"},
	}))
	require.NoError(t, svc.Teardown(ctx, models.BuildTypeStatic, &models.BuilderConfig{ServiceName: "My Site"}))
	assert.Equal(t, []string{"p1/docs", "my-site/My Site"}, routers.removed)

	err := svc.Teardown(ctx, models.BuildTypeBuildpack, &models.BuilderConfig{ServiceName: "web"})
	assert.ErrorIs(t, err, ErrTeardownUnsupported)

	assert.ErrorIs(t, svc.Teardown(ctx, "unknown", &models.BuilderConfig{}), ErrUnknownStrategy)
}
