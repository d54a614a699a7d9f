package projectserver

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"evalgo.org/deployer/internal/routing"
	"evalgo.org/deployer/internal/servicecontext"
	"evalgo.org/deployer/models"
)

const defaultRouterPort = 80

// RouterFile is the dynamic configuration file of a service's router.
func (m *Manager) RouterFile(projectID, serviceName string) string {
	router, _, _ := servicecontext.RouterNames(projectID, serviceName)
	return filepath.Join(m.routing.DynamicConfigDir, router+".yml")
}

// ServiceGraph describes a service served by the project's front server as
// a single-project context graph. The service id is its name.
func (m *Manager) ServiceGraph(projectID, serviceName, host string, port int) (*servicecontext.Graph, error) {
	if port <= 0 {
		port = defaultRouterPort
	}
	subdomain, domain := splitHost(host)

	svc := servicecontext.NewService(serviceName, serviceName).
		WithNetwork(servicecontext.NetworkInfo{InternalHost: ContainerName(projectID), Port: port}).
		WithRouting(servicecontext.RoutingInfo{EntryPoint: m.routing.EntryPoint, CertResolver: m.routing.CertResolver}).
		WithPaths(servicecontext.PathInfo{StaticPath: m.CurrentLink(serviceName)}).
		WithDomain(models.ServiceDomainMapping{
			ServiceID:  serviceName,
			Subdomain:  subdomain,
			Domain:     domain,
			IsPrimary:  true,
			SSLEnabled: m.routing.CertResolver != "",
		})

	return servicecontext.NewProject(projectID, projectID).
		WithNetwork(m.network).
		AddService(svc).
		Build()
}

// RouterVariables is the template variable set for a service served by the
// project's front server.
func (m *Manager) RouterVariables(projectID, serviceName, host string, port int) (map[string]string, error) {
	g, err := m.ServiceGraph(projectID, serviceName, host, port)
	if err != nil {
		return nil, err
	}
	return servicecontext.ToTraefikVariableContext(g, serviceName)
}

// AddServiceRouter renders tmpl (the default router template when empty)
// for the service and writes it to the dynamic configuration directory the
// proxy watches. It returns the file written.
func (m *Manager) AddServiceRouter(projectID, serviceName, host string, port int, tmpl string) (string, error) {
	if host == "" {
		return "", errors.New("host is required")
	}
	if tmpl == "" {
		tmpl = routing.DefaultRouterTemplate
		if m.routing.CertResolver != "" {
			tmpl = routing.DefaultTLSRouterTemplate
		}
	}

	vars, err := m.RouterVariables(projectID, serviceName, host, port)
	if err != nil {
		return "", fmt.Errorf("failed to describe router for %s: %w", serviceName, err)
	}
	rendered, err := routing.Render(tmpl, vars)
	if err != nil {
		return "", fmt.Errorf("failed to render router for %s: %w", serviceName, err)
	}

	dest := m.RouterFile(projectID, serviceName)
	if err := writeFileAtomic(dest, []byte(rendered)); err != nil {
		return "", fmt.Errorf("failed to write router for %s: %w", serviceName, err)
	}
	m.logger.Info("service router written", "project", projectID, "service", serviceName, "host", host, "file", dest)
	return dest, nil
}

// RemoveServiceRouter deletes the service's router file. A missing file is
// not an error.
func (m *Manager) RemoveServiceRouter(projectID, serviceName string) error {
	err := os.Remove(m.RouterFile(projectID, serviceName))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove router for %s: %w", serviceName, err)
	}
	return nil
}

// writeFileAtomic writes through a temporary file in the same directory so
// the proxy never reads a partial file.
func writeFileAtomic(dest string, data []byte) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".router-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

// splitHost separates the first label of a host with at least three labels.
func splitHost(host string) (subdomain, domain string) {
	if strings.Count(host, ".") < 2 {
		return "", host
	}
	i := strings.IndexByte(host, '.')
	return host[:i], host[i+1:]
}
