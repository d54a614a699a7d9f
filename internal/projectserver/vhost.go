package projectserver

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"
)

// ReleaseDir is where a deployment's files live inside the shared volume.
func (m *Manager) ReleaseDir(serviceName, deploymentID string) string {
	return path.Join(m.cfg.StaticMount, serviceName, deploymentID)
}

// CurrentLink is the symlink naming a service's live release.
func (m *Manager) CurrentLink(serviceName string) string {
	return path.Join(m.cfg.StaticMount, serviceName, "current")
}

// VhostDir is the service's subdirectory under the document root.
func (m *Manager) VhostDir(serviceName string) string {
	return path.Join(m.cfg.DocumentRoot, serviceName)
}

// EnsureVhostForService makes the service's current release reachable under
// its own subdirectory of the front server's document root. Each attempt
// re-verifies the container first; attempts are spaced by a linearly
// growing backoff.
func (m *Manager) EnsureVhostForService(ctx context.Context, projectID, host, serviceName string) error {
	if serviceName == "" || strings.ContainsAny(serviceName, "/ ") || serviceName == "." || serviceName == ".." {
		return fmt.Errorf("invalid service name %q", serviceName)
	}

	var lastErr error
	for attempt := 1; attempt <= m.cfg.VhostAttempts; attempt++ {
		if attempt > 1 {
			if err := m.sleep(ctx, time.Duration(attempt-1)*m.cfg.VhostBackoff); err != nil {
				return err
			}
		}

		lastErr = m.vhostAttempt(ctx, projectID, host, serviceName)
		if lastErr == nil {
			m.logger.InfoContext(ctx, "vhost ready", "project", projectID, "service", serviceName, "attempt", attempt)
			return nil
		}
		m.logger.WarnContext(ctx, "vhost attempt failed",
			"project", projectID, "service", serviceName, "attempt", attempt, "error", lastErr)
	}
	return fmt.Errorf("vhost for %s not ready after %d attempts: %w", serviceName, m.cfg.VhostAttempts, lastErr)
}

func (m *Manager) vhostAttempt(ctx context.Context, projectID, host, serviceName string) error {
	ps, err := m.EnsureProjectServerForProject(ctx, projectID, host)
	if err != nil {
		return err
	}
	if res := m.checkOnce(ctx, ps.ContainerID); !res.Healthy {
		return fmt.Errorf("%w: %s", ErrUnhealthy, res.Reason)
	}

	link := fmt.Sprintf("mkdir -p %s && ln -sfn %s %s && chmod -R a+rX %s",
		shellQuote(path.Join(m.cfg.StaticMount, serviceName)),
		shellQuote(m.CurrentLink(serviceName)),
		shellQuote(m.VhostDir(serviceName)),
		shellQuote(path.Join(m.cfg.StaticMount, serviceName)))
	if err := m.run(ctx, ps.ContainerID, "", link); err != nil {
		return fmt.Errorf("link vhost: %w", err)
	}

	// as the server user: the link resolves, is readable and is served
	verify := fmt.Sprintf("test -L %[1]s && su -s /bin/sh %[2]s -c %[3]s && wget -q -O /dev/null %[4]s",
		shellQuote(m.VhostDir(serviceName)),
		shellQuote(m.cfg.ServerUser),
		shellQuote("ls "+shellQuote(m.VhostDir(serviceName)+"/")+" >/dev/null"),
		shellQuote("http://127.0.0.1/"+serviceName+"/health"))
	if err := m.run(ctx, ps.ContainerID, "", verify); err != nil {
		return fmt.Errorf("verify vhost: %w", err)
	}
	return nil
}

func (m *Manager) run(ctx context.Context, containerID, user, script string) error {
	res, err := m.runtime.Exec(ctx, containerID, user, []string{"sh", "-c", script})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("exit %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// shellQuote wraps s in single quotes for sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
