// Package projectserver manages the shared front HTTP server container of
// each project: creation with health verification and retry, recreation on
// routing label drift, per-service vhost symlinks and dynamic proxy routers.
package projectserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"evalgo.org/deployer/internal/config"
	"evalgo.org/deployer/internal/docker"
	"evalgo.org/deployer/internal/logging"
	"evalgo.org/deployer/models"
)

// ErrUnhealthy is returned when a front server never became healthy.
var ErrUnhealthy = errors.New("project server unhealthy")

// Labels set on every front server container.
const (
	LabelProject = "deployer.project"
	LabelRole    = "deployer.role"
)

const (
	containerPrefix = "project-http-"
	roleServer      = "project-server"
	stopTimeout     = 10 * time.Second
)

// Runtime is the container runtime surface the manager drives.
// *docker.Client satisfies it.
type Runtime interface {
	InspectContainer(ctx context.Context, nameOrID string) (*docker.ContainerState, error)
	RunContainer(ctx context.Context, spec docker.ContainerSpec) (string, error)
	StartContainer(ctx context.Context, nameOrID string) error
	StopContainer(ctx context.Context, nameOrID string, timeout time.Duration) error
	RemoveContainer(ctx context.Context, nameOrID string) error
	Exec(ctx context.Context, containerID, user string, cmd []string) (*docker.ExecResult, error)
	EnsureVolume(ctx context.Context, name string) error
	EnsureNetwork(ctx context.Context, name string) error
}

// Observer is told when a front server is replaced because of label drift.
type Observer interface {
	ObserveProjectServerRecreated()
}

// Manager converges project front servers.
//
// Every step re-checks runtime state before acting, and calls for the same
// project are serialized, so at most one container per project exists.
type Manager struct {
	runtime  Runtime
	cfg      config.ProjectServerConfig
	network  string
	routing  config.RoutingConfig
	logger   *slog.Logger
	observer Observer

	flights singleflight.Group
	locks   sync.Map // project id -> *sync.Mutex

	sleep func(ctx context.Context, d time.Duration) error
}

// NewManager creates a Manager. network is the shared project network the
// front servers join; routing configures the dynamic router files.
func NewManager(runtime Runtime, cfg config.ProjectServerConfig, network string, routing config.RoutingConfig, logger *slog.Logger) *Manager {
	if cfg.CreateAttempts < 1 {
		cfg.CreateAttempts = 1
	}
	if cfg.VhostAttempts < 1 {
		cfg.VhostAttempts = 1
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = time.Second
	}
	return &Manager{
		runtime: runtime,
		cfg:     cfg,
		network: network,
		routing: routing,
		logger:  logging.OrDiscard(logger),
		sleep:   sleepContext,
	}
}

// WithObserver attaches an Observer and returns m.
func (m *Manager) WithObserver(o Observer) *Manager {
	m.observer = o
	return m
}

// ContainerName is the deterministic front server name of a project.
func ContainerName(projectID string) string {
	return containerPrefix + projectID
}

// RouterLabelKey is the label carrying the front server's host rule.
func RouterLabelKey(projectID string) string {
	return "traefik.http.routers." + ContainerName(projectID) + ".rule"
}

// HostRule is the proxy rule matching host.
func HostRule(host string) string {
	return "Host(`" + host + "`)"
}

// EnsureProjectServerForProject returns the project's running front server,
// creating it when absent. host is the project-level host of the container
// label: an existing container whose routing label does not match it is
// stopped, removed and recreated. Service hosts are routed through router
// files and must not be passed here; an empty host skips the comparison.
func (m *Manager) EnsureProjectServerForProject(ctx context.Context, projectID, host string) (*models.ProjectServer, error) {
	if projectID == "" {
		return nil, errors.New("project id is required")
	}

	v, err, _ := m.flights.Do(projectID+"\x00"+host, func() (any, error) {
		unlock := m.lock(projectID)
		defer unlock()
		return m.ensure(ctx, projectID, host)
	})
	if err != nil {
		return nil, err
	}
	ps := *v.(*models.ProjectServer)
	return &ps, nil
}

func (m *Manager) lock(projectID string) func() {
	mu, _ := m.locks.LoadOrStore(projectID, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	return mu.(*sync.Mutex).Unlock
}

func (m *Manager) ensure(ctx context.Context, projectID, host string) (*models.ProjectServer, error) {
	name := ContainerName(projectID)
	log := m.logger.With("project", projectID, "container", name)

	state, err := m.runtime.InspectContainer(ctx, name)
	switch {
	case err == nil:
		current := state.Labels[RouterLabelKey(projectID)]
		if host == "" || current == HostRule(host) {
			if !state.Running {
				if err := m.runtime.StartContainer(ctx, name); err != nil {
					log.WarnContext(ctx, "failed to start existing project server", "error", err)
				}
			}
			return m.describe(projectID, host, state), nil
		}

		log.InfoContext(ctx, "project server routing label drifted, recreating",
			"current", current, "expected", HostRule(host))
		if err := m.runtime.StopContainer(ctx, name, stopTimeout); err != nil {
			log.WarnContext(ctx, "failed to stop stale project server", "error", err)
		}
		if err := m.runtime.RemoveContainer(ctx, name); err != nil {
			return nil, fmt.Errorf("failed to remove stale project server %s: %w", name, err)
		}
		if m.observer != nil {
			m.observer.ObserveProjectServerRecreated()
		}

	case errors.Is(err, docker.ErrNotFound):
		log.InfoContext(ctx, "project server absent, creating")

	default:
		return nil, fmt.Errorf("failed to inspect project server %s: %w", name, err)
	}

	return m.create(ctx, projectID, host)
}

func (m *Manager) describe(projectID, host string, state *docker.ContainerState) *models.ProjectServer {
	return &models.ProjectServer{
		ProjectID:     projectID,
		ContainerName: ContainerName(projectID),
		ContainerID:   state.ID,
		Image:         state.Image,
		Host:          host,
	}
}

// create runs the container and waits for it to become healthy, retrying
// the whole sequence. A container that never becomes healthy is removed.
func (m *Manager) create(ctx context.Context, projectID, host string) (*models.ProjectServer, error) {
	name := ContainerName(projectID)

	if err := m.runtime.EnsureVolume(ctx, m.cfg.Volume); err != nil {
		return nil, fmt.Errorf("failed to ensure static volume: %w", err)
	}
	if err := m.runtime.EnsureNetwork(ctx, m.network); err != nil {
		return nil, fmt.Errorf("failed to ensure network: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= m.cfg.CreateAttempts; attempt++ {
		id, err := m.createOnce(ctx, projectID, host)
		if err == nil {
			m.logger.InfoContext(ctx, "project server ready", "project", projectID, "container", name, "attempt", attempt)
			return &models.ProjectServer{
				ProjectID:     projectID,
				ContainerName: name,
				ContainerID:   id,
				Image:         m.cfg.Image,
				Host:          host,
				CreatedAt:     time.Now().UTC(),
			}, nil
		}
		lastErr = err
		m.logger.WarnContext(ctx, "project server attempt failed",
			"project", projectID, "attempt", attempt, "of", m.cfg.CreateAttempts, "error", err)

		if rmErr := m.runtime.RemoveContainer(ctx, name); rmErr != nil {
			m.logger.WarnContext(ctx, "failed to remove failed project server", "container", name, "error", rmErr)
		}
		if attempt < m.cfg.CreateAttempts {
			if err := m.sleep(ctx, m.cfg.CreateBackoff); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("project server %s failed after %d attempts: %w", name, m.cfg.CreateAttempts, lastErr)
}

func (m *Manager) createOnce(ctx context.Context, projectID, host string) (string, error) {
	id, err := m.runtime.RunContainer(ctx, m.containerSpec(projectID, host))
	if err != nil {
		return "", err
	}

	if err := m.sleep(ctx, m.cfg.SettleDelay); err != nil {
		return "", err
	}
	m.seedIndex(ctx, id)
	m.relinkVhosts(ctx, id)

	if res := m.WaitForHealthy(ctx, id, m.cfg.HealthTimeout); !res.Healthy {
		return "", fmt.Errorf("%w: %s", ErrUnhealthy, res.Reason)
	}
	return id, nil
}

func (m *Manager) containerSpec(projectID, host string) docker.ContainerSpec {
	labels := map[string]string{
		LabelProject:       projectID,
		LabelRole:          roleServer,
		"deployer.managed": "true",
		"traefik.enable":   "true",
	}
	if host != "" {
		labels[RouterLabelKey(projectID)] = HostRule(host)
	}
	return docker.ContainerSpec{
		Name:   ContainerName(projectID),
		Image:  m.cfg.Image,
		Labels: labels,
		Mounts: []docker.VolumeMount{{Volume: m.cfg.Volume, Target: m.cfg.StaticMount}},
		HealthCheck: &docker.HealthCheck{
			Test:        []string{"CMD-SHELL", "wget -q --spider http://127.0.0.1/ || exit 1"},
			Interval:    30 * time.Second,
			Timeout:     10 * time.Second,
			StartPeriod: 40 * time.Second,
			Retries:     3,
		},
		Network:       m.network,
		RestartPolicy: "on-failure",
		MaxRestarts:   3,
	}
}

// seedIndex writes a placeholder index page unless one exists. Failures
// are logged only; the health wait decides whether the server is usable.
func (m *Manager) seedIndex(ctx context.Context, containerID string) {
	root := shellQuote(m.cfg.DocumentRoot)
	script := fmt.Sprintf(
		`mkdir -p %[1]s && { [ -f %[1]s/index.html ] || echo '<!doctype html><title>ready</title><p>Project server is ready.</p>' > %[1]s/index.html; }`,
		root)

	res, err := m.runtime.Exec(ctx, containerID, "", []string{"sh", "-c", script})
	switch {
	case err != nil:
		m.logger.WarnContext(ctx, "failed to seed index page", "container", containerID, "error", err)
	case res.ExitCode != 0:
		m.logger.WarnContext(ctx, "failed to seed index page", "container", containerID, "exit", res.ExitCode, "stderr", res.Stderr)
	}
}

// relinkVhosts restores the vhost link of every service with a live release
// on the shared volume. The links live in the container's own filesystem, so
// a fresh container starts without them.
func (m *Manager) relinkVhosts(ctx context.Context, containerID string) {
	script := fmt.Sprintf(
		`mkdir -p %[1]s && for cur in %[2]s/*/current; do [ -L "$cur" ] || continue; svc="${cur%%/current}"; svc="${svc##*/}"; ln -sfn "$cur" %[1]s/"$svc" || exit 1; done`,
		shellQuote(m.cfg.DocumentRoot), shellQuote(m.cfg.StaticMount))

	res, err := m.runtime.Exec(ctx, containerID, "", []string{"sh", "-c", script})
	switch {
	case err != nil:
		m.logger.WarnContext(ctx, "failed to restore service vhosts", "container", containerID, "error", err)
	case res.ExitCode != 0:
		m.logger.WarnContext(ctx, "failed to restore service vhosts", "container", containerID, "exit", res.ExitCode, "stderr", res.Stderr)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
