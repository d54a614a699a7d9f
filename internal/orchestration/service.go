// Package orchestration runs deployments: it picks the builder strategy for
// a build type, stamps the deployment identity into the logging context and
// fans progress out to the caller, subscribers, metrics and the log.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"evalgo.org/deployer/internal/builder"
	"evalgo.org/deployer/internal/logging"
	"evalgo.org/deployer/models"
)

var (
	// ErrUnknownStrategy is returned for a build type with no registered strategy.
	ErrUnknownStrategy = errors.New("no strategy registered for build type")

	// ErrTeardownUnsupported is returned when a build type cannot be torn down.
	ErrTeardownUnsupported = errors.New("teardown not supported for build type")
)

// Recorder records finished deployments. *metrics.Metrics satisfies it.
type Recorder interface {
	ObserveDeployment(buildType models.BuildType, res *models.BuilderResult, elapsed time.Duration)
}

// RouterRemover deletes a static service's router. *projectserver.Manager satisfies it.
type RouterRemover interface {
	RemoveServiceRouter(projectID, serviceName string) error
}

// Service dispatches deployments to builder strategies.
type Service struct {
	strategies map[models.BuildType]builder.Strategy
	publisher  Publisher
	recorder   Recorder
	routers    RouterRemover
	logger     *slog.Logger
	now        func() time.Time
}

// NewService registers strategies by their Type. A later strategy replaces
// an earlier one of the same type.
func NewService(logger *slog.Logger, strategies ...builder.Strategy) *Service {
	s := &Service{
		strategies: make(map[models.BuildType]builder.Strategy, len(strategies)),
		logger:     logging.OrDiscard(logger),
		now:        time.Now,
	}
	for _, st := range strategies {
		if st != nil {
			s.strategies[st.Type()] = st
		}
	}
	return s
}

// WithPublisher attaches an event publisher.
func (s *Service) WithPublisher(p Publisher) *Service {
	s.publisher = p
	return s
}

// WithRecorder attaches a deployment recorder.
func (s *Service) WithRecorder(r Recorder) *Service {
	s.recorder = r
	return s
}

// WithRouterRemover lets Teardown remove static service routers.
func (s *Service) WithRouterRemover(r RouterRemover) *Service {
	s.routers = r
	return s
}

// BuildTypes lists the registered build types, sorted.
func (s *Service) BuildTypes() []models.BuildType {
	types := make([]models.BuildType, 0, len(s.strategies))
	for t := range s.strategies {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Deploy runs the strategy for buildType. The caller's cfg is not modified;
// a missing deployment id is generated and reported in the result.
func (s *Service) Deploy(ctx context.Context, buildType models.BuildType, cfg *models.BuilderConfig) (*models.BuilderResult, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is nil", builder.ErrInvalidConfig)
	}
	strategy, ok := s.strategies[buildType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, buildType)
	}

	run := *cfg
	if run.DeploymentID == "" {
		run.DeploymentID = uuid.NewString()
	}
	ctx = logging.AppendCtx(ctx,
		slog.String("deployment_id", run.DeploymentID),
		slog.String("service", run.ServiceName),
		slog.String("build_type", string(buildType)))

	fan := &fanout{
		service:   s,
		buildType: buildType,
		cfg:       &run,
		phase:     cfg.PhaseSink,
		log:       cfg.LogSink,
	}
	run.PhaseSink = models.PhaseSinkFunc(fan.onPhase)
	run.LogSink = models.LogSinkFunc(fan.onLog)

	s.logger.InfoContext(ctx, "deployment started", "source", run.SourcePath)
	started := s.now()
	res, err := strategy.Deploy(ctx, &run)
	elapsed := s.now().Sub(started)

	if s.recorder != nil {
		s.recorder.ObserveDeployment(buildType, res, elapsed)
	}

	event := Event{
		Type:         EventResult,
		DeploymentID: run.DeploymentID,
		Service:      run.ServiceName,
		BuildType:    buildType,
		Result:       res,
		Timestamp:    s.now().UTC(),
	}
	if err != nil {
		event.Error = err.Error()
		s.publish(event)
		s.logger.ErrorContext(ctx, "deployment failed", "error", err, "duration", elapsed)
		return nil, err
	}
	s.publish(event)

	if res.DeploymentID == "" {
		res.DeploymentID = run.DeploymentID
	}
	s.logger.InfoContext(ctx, "deployment finished",
		"status", res.Status, "containers", len(res.ContainerIDs), "domain", res.Domain, "duration", elapsed)
	return res, nil
}

// Teardown removes a deployment. Compose stacks are brought down; static
// sites lose their router, the released files stay in the shared volume.
func (s *Service) Teardown(ctx context.Context, buildType models.BuildType, cfg *models.BuilderConfig) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", builder.ErrInvalidConfig)
	}
	strategy, ok := s.strategies[buildType]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStrategy, buildType)
	}
	ctx = logging.AppendCtx(ctx,
		slog.String("service", cfg.ServiceName),
		slog.String("build_type", string(buildType)))

	if td, ok := strategy.(builder.Teardowner); ok {
		if err := td.Teardown(ctx, cfg); err != nil {
			return err
		}
		s.logger.InfoContext(ctx, "deployment torn down")
		return nil
	}

	if buildType == models.BuildTypeStatic && s.routers != nil {
		projectID := staticProjectID(cfg)
		if err := s.routers.RemoveServiceRouter(projectID, cfg.ServiceName); err != nil {
			return err
		}
		s.logger.InfoContext(ctx, "static router removed", "project", projectID)
		return nil
	}
	return fmt.Errorf("%w: %q", ErrTeardownUnsupported, buildType)
}

func staticProjectID(cfg *models.BuilderConfig) string {
	if cfg.Static != nil {
		if cfg.Static.ProjectID != "" {
			return cfg.Static.ProjectID
		}
		if cfg.Static.Subdomain != "" {
			return cfg.Static.Subdomain
		}
	}
	return builder.SanitizeForSubdomain(cfg.ServiceName)
}

func (s *Service) publish(e Event) {
	if s.publisher != nil {
		s.publisher.Publish(e)
	}
}

// fanout forwards strategy progress to every interested party.
type fanout struct {
	service   *Service
	buildType models.BuildType
	cfg       *models.BuilderConfig
	phase     models.PhaseSink
	log       models.LogSink
}

func (f *fanout) onPhase(ctx context.Context, phase models.Phase, progress int, metadata map[string]any) {
	if f.phase != nil {
		f.phase.OnPhaseUpdate(ctx, phase, progress, metadata)
	}
	f.service.publish(Event{
		Type:         EventPhase,
		DeploymentID: f.cfg.DeploymentID,
		Service:      f.cfg.ServiceName,
		BuildType:    f.buildType,
		Phase:        phase,
		Progress:     progress,
		Metadata:     metadata,
		Timestamp:    f.service.now().UTC(),
	})
	f.service.logger.DebugContext(ctx, "deployment phase", "phase", phase, "progress", progress)
}

func (f *fanout) onLog(ctx context.Context, entry models.LogEntry) {
	if f.log != nil {
		f.log.OnLog(ctx, entry)
	}
	e := entry
	f.service.publish(Event{
		Type:         EventLog,
		DeploymentID: f.cfg.DeploymentID,
		Service:      f.cfg.ServiceName,
		BuildType:    f.buildType,
		Phase:        entry.Phase,
		Log:          &e,
		Timestamp:    f.service.now().UTC(),
	})
	f.service.logger.Log(ctx, slogLevel(entry.Level), entry.Message, "phase", entry.Phase, "step", entry.Step)
}

func slogLevel(l models.LogLevel) slog.Level {
	switch l {
	case models.LogLevelDebug:
		return slog.LevelDebug
	case models.LogLevelWarn:
		return slog.LevelWarn
	case models.LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
