// Package servicecontext composes project, service, deployment, domain and
// network facts into a read-only graph used to produce routing template
// variables.
//
// Projects and services are stored flat, keyed by id. A service records only
// its project's id; moving between the two goes through Graph lookups.
package servicecontext

import (
	"maps"
	"slices"
	"strings"
	"time"

	"evalgo.org/deployer/models"
)

// ProjectContext is the project side of the graph.
type ProjectContext struct {
	ID             string
	Name           string
	OrganizationID string
	Network        string
	Environment    map[string]string
}

// DeploymentInfo describes the deployment currently serving a service.
type DeploymentInfo struct {
	ID            string
	BuildType     models.BuildType
	ContainerName string
	ContainerIDs  []string
	ImageTag      string
	Status        models.ResultStatus
	DeployedAt    time.Time
}

// NetworkInfo is how other containers reach the service.
type NetworkInfo struct {
	Name         string
	InternalHost string
	Port         int
}

// PathInfo locates the service's files.
type PathInfo struct {
	SourcePath string
	StaticPath string
}

// RoutingInfo carries proxy settings for the service's routers.
type RoutingInfo struct {
	EntryPoint   string
	CertResolver string
	Template     string
}

// HealthCheckInfo is the service's health probe configuration.
type HealthCheckInfo struct {
	Path     string
	Interval time.Duration
	Timeout  time.Duration
}

// ServiceContext is the service side of the graph.
type ServiceContext struct {
	ID          string
	Name        string
	ProjectID   string
	Deployment  DeploymentInfo
	Domains     []models.ServiceDomainMapping
	Network     NetworkInfo
	Paths       PathInfo
	Routing     RoutingInfo
	Environment map[string]string
	Resources   models.ResourceLimits
	HealthCheck HealthCheckInfo
}

// PrimaryDomain returns the first mapping flagged primary.
func (s ServiceContext) PrimaryDomain() (models.ServiceDomainMapping, bool) {
	for _, d := range s.Domains {
		if d.IsPrimary {
			return d, true
		}
	}
	return models.ServiceDomainMapping{}, false
}

// AllURLs returns the full URL of every mapping in declaration order.
func (s ServiceContext) AllURLs() []string {
	urls := make([]string, 0, len(s.Domains))
	for _, d := range s.Domains {
		urls = append(urls, d.FullURL())
	}
	return urls
}

// DomainByURL finds the mapping whose full URL equals url. A trailing slash
// on url is ignored.
func (s ServiceContext) DomainByURL(url string) (models.ServiceDomainMapping, bool) {
	url = strings.TrimSuffix(url, "/")
	for _, d := range s.Domains {
		if d.FullURL() == url {
			return d, true
		}
	}
	return models.ServiceDomainMapping{}, false
}

func (s ServiceContext) clone() ServiceContext {
	s.Domains = slices.Clone(s.Domains)
	s.Environment = maps.Clone(s.Environment)
	s.Deployment.ContainerIDs = slices.Clone(s.Deployment.ContainerIDs)
	return s
}

func (p ProjectContext) clone() ProjectContext {
	p.Environment = maps.Clone(p.Environment)
	return p
}

// Graph is an immutable snapshot of projects and their services.
type Graph struct {
	projects map[string]ProjectContext
	services map[string]ServiceContext
	// project id -> service name -> service id
	byProject map[string]map[string]string
}

// Project returns the project with the given id.
func (g *Graph) Project(projectID string) (ProjectContext, bool) {
	p, ok := g.projects[projectID]
	if !ok {
		return ProjectContext{}, false
	}
	return p.clone(), true
}

// ServiceByID returns the service with the given id.
func (g *Graph) ServiceByID(serviceID string) (ServiceContext, bool) {
	s, ok := g.services[serviceID]
	if !ok {
		return ServiceContext{}, false
	}
	return s.clone(), true
}

// Service returns the service called name inside projectID.
func (g *Graph) Service(projectID, name string) (ServiceContext, bool) {
	id, ok := g.byProject[projectID][name]
	if !ok {
		return ServiceContext{}, false
	}
	return g.ServiceByID(id)
}

// Services returns the project's services keyed by name.
func (g *Graph) Services(projectID string) map[string]ServiceContext {
	out := make(map[string]ServiceContext, len(g.byProject[projectID]))
	for name, id := range g.byProject[projectID] {
		out[name] = g.services[id].clone()
	}
	return out
}

// ProjectOf returns the project owning serviceID.
func (g *Graph) ProjectOf(serviceID string) (ProjectContext, bool) {
	s, ok := g.services[serviceID]
	if !ok {
		return ProjectContext{}, false
	}
	return g.Project(s.ProjectID)
}

// ProjectIDs lists every project id, sorted.
func (g *Graph) ProjectIDs() []string {
	return slices.Sorted(maps.Keys(g.projects))
}

// Environment returns the merged project and service environment of serviceID.
func (g *Graph) Environment(serviceID string) (map[string]string, bool) {
	s, ok := g.services[serviceID]
	if !ok {
		return nil, false
	}
	return MergeEnvironment(g.projects[s.ProjectID].Environment, s.Environment), true
}

// MergeEnvironment layers service over project; service keys win.
func MergeEnvironment(project, service map[string]string) map[string]string {
	out := make(map[string]string, len(project)+len(service))
	maps.Copy(out, project)
	maps.Copy(out, service)
	return out
}
