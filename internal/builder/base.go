package builder

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"runtime/debug"
	"strings"
	"time"

	"evalgo.org/deployer/internal/logging"
	"evalgo.org/deployer/models"
)

// HealthObserver is notified of every container health verification.
type HealthObserver interface {
	ObserveHealthCheck(healthy bool)
}

// Options tune the shared health polling and defaults.
type Options struct {
	HealthTimeout     time.Duration
	HealthInterval    time.Duration
	DefaultPort       int
	DefaultHealthPath string
	// BuildTimeout bounds one image build; zero leaves it unbounded
	BuildTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.HealthTimeout <= 0 {
		o.HealthTimeout = 30 * time.Second
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = time.Second
	}
	if o.DefaultPort <= 0 {
		o.DefaultPort = 3000
	}
	if o.DefaultHealthPath == "" {
		o.DefaultHealthPath = "/health"
	}
	return o
}

// Base holds the utilities shared by every strategy.
type Base struct {
	inspector HealthInspector
	logger    *slog.Logger
	opts      Options
	observer  HealthObserver
}

// NewBase creates the shared utilities. inspector may be nil for strategies
// that never check container health themselves.
func NewBase(inspector HealthInspector, opts Options, logger *slog.Logger) *Base {
	return &Base{
		inspector: inspector,
		logger:    logging.OrDiscard(logger),
		opts:      opts.withDefaults(),
	}
}

// WithObserver sets the health observer and returns b.
func (b *Base) WithObserver(o HealthObserver) *Base {
	b.observer = o
	return b
}

// shortID returns the first 8 characters of id, or id when shorter.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// GenerateContainerName returns "<service>-<first8(deploymentID)>".
func GenerateContainerName(serviceName, deploymentID string) string {
	return serviceName + "-" + shortID(deploymentID)
}

// GenerateImageTag returns "<service>:<first8(deploymentID)>".
func GenerateImageTag(serviceName, deploymentID string) string {
	return serviceName + ":" + shortID(deploymentID)
}

// GenerateHealthCheckURL targets localhost:port when a port is given, else the
// container name through the runtime's internal DNS.
func GenerateHealthCheckURL(containerName string, port int, path string) string {
	if path == "" {
		path = "/"
	} else if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if port > 0 {
		return fmt.Sprintf("http://localhost:%d%s", port, path)
	}
	return fmt.Sprintf("http://%s%s", containerName, path)
}

var (
	nonAlnum     = regexp.MustCompile(`[^a-z0-9]+`)
	repeatHyphen = regexp.MustCompile(`-+`)
)

// SanitizeForSubdomain lowercases name, turns runs of non-alphanumerics into
// single hyphens and trims hyphens at both ends.
func SanitizeForSubdomain(name string) string {
	s := strings.ToLower(name)
	s = nonAlnum.ReplaceAllString(s, "-")
	s = repeatHyphen.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// VerifyContainerHealth asks the runtime whether the container is running and
// its probe passes. It never returns an error: failures are logged as
// warnings and reported as unhealthy.
func (b *Base) VerifyContainerHealth(ctx context.Context, containerID, healthCheckURL string) bool {
	healthy, reason := b.checkHealth(ctx, containerID)
	if !healthy {
		b.logger.WarnContext(ctx, "container health check failed",
			"container", containerID, "url", healthCheckURL, "reason", reason)
	}
	if b.observer != nil {
		b.observer.ObserveHealthCheck(healthy)
	}
	return healthy
}

func (b *Base) checkHealth(ctx context.Context, containerID string) (healthy bool, reason string) {
	defer func() {
		if r := recover(); r != nil {
			healthy, reason = false, fmt.Sprintf("health check panicked: %v", r)
		}
	}()

	if b.inspector == nil {
		return false, "no container runtime configured"
	}
	state, err := b.inspector.InspectContainer(ctx, containerID)
	if err != nil {
		return false, err.Error()
	}
	if !state.Running {
		return false, fmt.Sprintf("container is %s", state.Status)
	}
	if !state.Healthy() {
		return false, fmt.Sprintf("health status is %s", state.Health)
	}
	return true, ""
}

// WaitForHealthy polls VerifyContainerHealth until it succeeds or the
// configured timeout elapses.
func (b *Base) WaitForHealthy(ctx context.Context, containerID, healthCheckURL string) models.HealthResult {
	deadline := time.Now().Add(b.opts.HealthTimeout)
	ticker := time.NewTicker(b.opts.HealthInterval)
	defer ticker.Stop()

	reason := "timed out"
	for {
		healthy, why := b.checkHealth(ctx, containerID)
		if healthy {
			if b.observer != nil {
				b.observer.ObserveHealthCheck(true)
			}
			return models.HealthResult{Healthy: true}
		}
		reason = why

		if time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			reason = ctx.Err().Error()
			return b.unhealthy(ctx, containerID, healthCheckURL, reason)
		case <-ticker.C:
		}
	}
	return b.unhealthy(ctx, containerID, healthCheckURL,
		fmt.Sprintf("not healthy after %s: %s", b.opts.HealthTimeout, reason))
}

func (b *Base) unhealthy(ctx context.Context, containerID, url, reason string) models.HealthResult {
	b.logger.WarnContext(ctx, "container did not become healthy", "container", containerID, "url", url, "reason", reason)
	if b.observer != nil {
		b.observer.ObserveHealthCheck(false)
	}
	return models.HealthResult{Healthy: false, Reason: reason}
}

// EmitPhase reports a phase transition. It is a no-op without a sink.
func (b *Base) EmitPhase(ctx context.Context, cfg *models.BuilderConfig, phase models.Phase, progress int, metadata map[string]any) {
	if cfg == nil || cfg.PhaseSink == nil {
		return
	}
	cfg.PhaseSink.OnPhaseUpdate(ctx, phase, clampProgress(progress), metadata)
}

// EmitLog delivers a structured log line. It is a no-op without a sink.
func (b *Base) EmitLog(ctx context.Context, cfg *models.BuilderConfig, level models.LogLevel, phase models.Phase, step, message string) {
	if cfg == nil || cfg.LogSink == nil {
		return
	}
	cfg.LogSink.OnLog(ctx, models.LogEntry{
		Level:     level,
		Message:   message,
		Phase:     phase,
		Step:      step,
		Service:   cfg.ServiceName,
		Timestamp: time.Now().UTC(),
	})
}

// fail reports FAILED with progress 0 plus an error log line and returns err.
func (b *Base) fail(ctx context.Context, cfg *models.BuilderConfig, step string, err error) error {
	b.logger.ErrorContext(ctx, "deployment failed", "service", cfg.ServiceName, "step", step, "error", err)
	b.EmitPhase(ctx, cfg, models.PhaseFailed, 0, map[string]any{"error": err.Error(), "step": step})
	b.EmitLog(ctx, cfg, models.LogLevelError, models.PhaseFailed, step, err.Error())
	return err
}

// recoverDeploy turns a panic inside Deploy into a FAILED phase and an error.
func (b *Base) recoverDeploy(ctx context.Context, cfg *models.BuilderConfig, result **models.BuilderResult, err *error) {
	r := recover()
	if r == nil {
		return
	}
	b.logger.ErrorContext(ctx, "deployment panicked", "service", cfg.ServiceName, "panic", r, "stack", string(debug.Stack()))
	*result = nil
	*err = b.fail(ctx, cfg, "unexpected", fmt.Errorf("unexpected error: %v", r))
}

func (b *Base) healthPath(cfg *models.BuilderConfig) string {
	if cfg.HealthCheckPath != "" {
		return cfg.HealthCheckPath
	}
	return b.opts.DefaultHealthPath
}

func clampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

func validateConfig(cfg *models.BuilderConfig) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}
	var missing []string
	if strings.TrimSpace(cfg.DeploymentID) == "" {
		missing = append(missing, "deploymentId")
	}
	if strings.TrimSpace(cfg.ServiceName) == "" {
		missing = append(missing, "serviceName")
	}
	if strings.TrimSpace(cfg.SourcePath) == "" {
		missing = append(missing, "sourcePath")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidConfig, strings.Join(missing, ", "))
	}
	return nil
}
