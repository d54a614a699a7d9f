package projectserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"evalgo.org/deployer/internal/docker"
	"evalgo.org/deployer/models"
)

// WaitForHealthy polls the container until it is running and answers an
// in-container HTTP self-check, or timeout elapses. It never returns an
// error; the last failure reason is reported instead.
func (m *Manager) WaitForHealthy(ctx context.Context, containerID string, timeout time.Duration) models.HealthResult {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(m.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		res := m.checkOnce(ctx, containerID)
		if res.Healthy {
			return res
		}
		if !time.Now().Before(deadline) {
			return models.HealthResult{Reason: fmt.Sprintf("not healthy after %s: %s", timeout, res.Reason)}
		}

		select {
		case <-ctx.Done():
			return models.HealthResult{Reason: ctx.Err().Error()}
		case <-ticker.C:
		}
	}
}

// checkOnce inspects the container and runs one self-check inside it.
func (m *Manager) checkOnce(ctx context.Context, containerID string) models.HealthResult {
	state, err := m.runtime.InspectContainer(ctx, containerID)
	switch {
	case errors.Is(err, docker.ErrNotFound):
		return models.HealthResult{Reason: "container not found"}
	case err != nil:
		return models.HealthResult{Reason: err.Error()}
	case !state.Running:
		return models.HealthResult{Reason: "container not running (" + state.Status + ")"}
	case state.Health == docker.HealthUnhealthy:
		return models.HealthResult{Reason: "container reported unhealthy"}
	}

	res, err := m.runtime.Exec(ctx, state.ID, "", []string{"wget", "-q", "-O", "/dev/null", "http://127.0.0.1/"})
	if err != nil {
		return models.HealthResult{Reason: "self-check failed: " + err.Error()}
	}
	if res.ExitCode != 0 {
		return models.HealthResult{Reason: fmt.Sprintf("self-check exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))}
	}
	return models.HealthResult{Healthy: true}
}

// EnsureProjectServerHealth converges the front server and, when
// serviceName is set, the service's vhost, then verifies the server once
// more. It reports the outcome instead of failing so it can be called
// after any deployment.
func (m *Manager) EnsureProjectServerHealth(ctx context.Context, projectID, host, serviceName string) bool {
	log := m.logger.With("project", projectID, "service", serviceName)

	ps, err := m.EnsureProjectServerForProject(ctx, projectID, host)
	if err != nil {
		log.WarnContext(ctx, "project server repair failed", "error", err)
		return false
	}

	if res := m.WaitForHealthy(ctx, ps.ContainerID, m.cfg.HealthTimeout); !res.Healthy {
		log.WarnContext(ctx, "project server unhealthy", "reason", res.Reason)
		return false
	}

	if serviceName != "" {
		if err := m.EnsureVhostForService(ctx, projectID, host, serviceName); err != nil {
			log.WarnContext(ctx, "vhost repair failed", "error", err)
			return false
		}
	}

	// the vhost step may have recreated the container
	state, err := m.runtime.InspectContainer(ctx, ContainerName(projectID))
	if err != nil {
		log.WarnContext(ctx, "project server vanished after repair", "error", err)
		return false
	}
	final := m.checkOnce(ctx, state.ID)
	if !final.Healthy {
		log.WarnContext(ctx, "project server failed final check", "reason", final.Reason)
	}
	return final.Healthy
}
