// Package staticprovider publishes static site releases into a project's
// shared front server.
package staticprovider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"

	"evalgo.org/deployer/internal/builder"
	"evalgo.org/deployer/internal/docker"
	"evalgo.org/deployer/internal/logging"
	"evalgo.org/deployer/models"
)

const routerPort = 80

// Servers is the front server surface the provider needs.
// *projectserver.Manager satisfies it.
type Servers interface {
	EnsureProjectServerForProject(ctx context.Context, projectID, host string) (*models.ProjectServer, error)
	ReleaseDir(serviceName, deploymentID string) string
	CurrentLink(serviceName string) string
	AddServiceRouter(projectID, serviceName, host string, port int, tmpl string) (string, error)
}

// Files moves content into containers. *docker.Client satisfies it.
type Files interface {
	CopyDirToContainer(ctx context.Context, containerID, srcDir, destDir string) error
	Exec(ctx context.Context, containerID, user string, cmd []string) (*docker.ExecResult, error)
}

// Provider implements builder.StaticProvider.
type Provider struct {
	servers    Servers
	files      Files
	baseDomain string
	logger     *slog.Logger
}

var _ builder.StaticProvider = (*Provider)(nil)

// New creates a Provider. baseDomain is used for requests that carry no
// domain of their own.
func New(servers Servers, files Files, baseDomain string, logger *slog.Logger) *Provider {
	return &Provider{
		servers:    servers,
		files:      files,
		baseDomain: baseDomain,
		logger:     logging.OrDiscard(logger),
	}
}

// Host joins a subdomain and a domain. An empty or "@" subdomain is the apex.
func Host(subdomain, domain string) string {
	subdomain = strings.TrimSpace(subdomain)
	if subdomain == "" || subdomain == "@" {
		return domain
	}
	return subdomain + "." + domain
}

// DeployStaticFiles copies the release into the shared volume, points the
// service's current link at it and registers the service router.
func (p *Provider) DeployStaticFiles(ctx context.Context, req builder.StaticDeployRequest) (*builder.StaticDeployResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	domain := req.Domain
	if domain == "" {
		domain = p.baseDomain
	}
	if domain == "" {
		return nil, errors.New("no domain given and no base domain configured")
	}
	host := Host(req.Subdomain, domain)
	log := p.logger.With("project", req.ProjectID, "service", req.ServiceName, "deployment_id", req.DeploymentID, "host", host)

	// the front server is shared by the project; the service host only goes
	// into its router file
	ps, err := p.servers.EnsureProjectServerForProject(ctx, req.ProjectID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to ensure project server: %w", err)
	}

	release := p.servers.ReleaseDir(req.ServiceName, req.DeploymentID)
	if err := p.run(ctx, ps.ContainerID, "mkdir -p "+quote(release)); err != nil {
		return nil, fmt.Errorf("failed to create release directory: %w", err)
	}
	if err := p.files.CopyDirToContainer(ctx, ps.ContainerID, req.SourcePath, release); err != nil {
		return nil, err
	}
	log.InfoContext(ctx, "static files copied", "release", release)

	activate := fmt.Sprintf("{ [ -e %[1]s/health ] || printf 'ok\\n' > %[1]s/health; } && ln -sfn %[2]s %[3]s && chmod -R a+rX %[1]s",
		quote(release), quote(req.DeploymentID), quote(p.servers.CurrentLink(req.ServiceName)))
	if err := p.run(ctx, ps.ContainerID, activate); err != nil {
		return nil, fmt.Errorf("failed to activate release: %w", err)
	}

	if _, err := p.servers.AddServiceRouter(req.ProjectID, req.ServiceName, host, routerPort, ""); err != nil {
		return nil, err
	}
	log.InfoContext(ctx, "static release active")

	return &builder.StaticDeployResult{
		ContainerID:   ps.ContainerID,
		ContainerName: ps.ContainerName,
		Domain:        host,
		ImageUsed:     ps.Image,
	}, nil
}

func validateRequest(req builder.StaticDeployRequest) error {
	switch {
	case req.ProjectID == "":
		return errors.New("project id is required")
	case req.DeploymentID == "" || strings.ContainsAny(req.DeploymentID, "/ "):
		return fmt.Errorf("invalid deployment id %q", req.DeploymentID)
	case req.ServiceName == "" || strings.ContainsAny(req.ServiceName, "/ ") || path.Clean(req.ServiceName) != req.ServiceName || req.ServiceName == ".." || req.ServiceName == ".":
		return fmt.Errorf("invalid service name %q", req.ServiceName)
	}

	info, err := os.Stat(req.SourcePath)
	if err != nil {
		return fmt.Errorf("source path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source path %s is not a directory", req.SourcePath)
	}
	return nil
}

func (p *Provider) run(ctx context.Context, containerID, script string) error {
	res, err := p.files.Exec(ctx, containerID, "", []string{"sh", "-c", script})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("exit %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
