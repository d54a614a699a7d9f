package servicecontext

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"evalgo.org/deployer/models"
)

var (
	// ErrMissingID is returned when a project or service has no id.
	ErrMissingID = errors.New("missing id")

	// ErrDuplicate is returned when an id or a service name repeats.
	ErrDuplicate = errors.New("duplicate entry")
)

// ServiceBuilder accumulates the facts of one service.
type ServiceBuilder struct {
	svc ServiceContext
}

// NewService starts a service context.
func NewService(id, name string) *ServiceBuilder {
	return &ServiceBuilder{svc: ServiceContext{
		ID:          id,
		Name:        name,
		Environment: map[string]string{},
		HealthCheck: HealthCheckInfo{Path: "/health"},
	}}
}

func (b *ServiceBuilder) WithDeployment(d DeploymentInfo) *ServiceBuilder {
	d.ContainerIDs = slices.Clone(d.ContainerIDs)
	b.svc.Deployment = d
	return b
}

// WithDeploymentResult copies the identity of a finished deployment.
func (b *ServiceBuilder) WithDeploymentResult(buildType models.BuildType, containerName string, res *models.BuilderResult) *ServiceBuilder {
	if res == nil {
		return b
	}
	d := DeploymentInfo{
		ID:            res.DeploymentID,
		BuildType:     buildType,
		ContainerName: containerName,
		ContainerIDs:  slices.Clone(res.ContainerIDs),
		Status:        res.Status,
	}
	if tag, ok := res.Metadata["imageTag"].(string); ok {
		d.ImageTag = tag
	}
	b.svc.Deployment = d
	return b
}

// WithDomain appends a domain mapping.
func (b *ServiceBuilder) WithDomain(m models.ServiceDomainMapping) *ServiceBuilder {
	b.svc.Domains = append(b.svc.Domains, m)
	return b
}

func (b *ServiceBuilder) WithNetwork(n NetworkInfo) *ServiceBuilder {
	b.svc.Network = n
	return b
}

func (b *ServiceBuilder) WithPaths(p PathInfo) *ServiceBuilder {
	b.svc.Paths = p
	return b
}

func (b *ServiceBuilder) WithRouting(r RoutingInfo) *ServiceBuilder {
	b.svc.Routing = r
	return b
}

// WithEnv sets one environment variable.
func (b *ServiceBuilder) WithEnv(key, value string) *ServiceBuilder {
	b.svc.Environment[key] = value
	return b
}

// WithEnvironment merges env into the service environment.
func (b *ServiceBuilder) WithEnvironment(env map[string]string) *ServiceBuilder {
	maps.Copy(b.svc.Environment, env)
	return b
}

func (b *ServiceBuilder) WithResources(r models.ResourceLimits) *ServiceBuilder {
	b.svc.Resources = r
	return b
}

func (b *ServiceBuilder) WithHealthCheck(h HealthCheckInfo) *ServiceBuilder {
	if h.Path == "" {
		h.Path = b.svc.HealthCheck.Path
	}
	b.svc.HealthCheck = h
	return b
}

// ProjectBuilder accumulates a project and its services.
type ProjectBuilder struct {
	project  ProjectContext
	services []*ServiceBuilder
}

// NewProject starts a project context.
func NewProject(id, name string) *ProjectBuilder {
	return &ProjectBuilder{project: ProjectContext{
		ID:          id,
		Name:        name,
		Environment: map[string]string{},
	}}
}

func (b *ProjectBuilder) WithOrganization(id string) *ProjectBuilder {
	b.project.OrganizationID = id
	return b
}

func (b *ProjectBuilder) WithNetwork(name string) *ProjectBuilder {
	b.project.Network = name
	return b
}

// WithEnv sets one project-wide environment variable.
func (b *ProjectBuilder) WithEnv(key, value string) *ProjectBuilder {
	b.project.Environment[key] = value
	return b
}

// WithEnvironment merges env into the project environment.
func (b *ProjectBuilder) WithEnvironment(env map[string]string) *ProjectBuilder {
	maps.Copy(b.project.Environment, env)
	return b
}

// AddService attaches a service. The project's id is assigned to it when
// the graph is built.
func (b *ProjectBuilder) AddService(s *ServiceBuilder) *ProjectBuilder {
	b.services = append(b.services, s)
	return b
}

// Build assembles a graph holding this project alone.
func (b *ProjectBuilder) Build() (*Graph, error) {
	return Build(b)
}

// Build assembles a graph from any number of projects.
func Build(projects ...*ProjectBuilder) (*Graph, error) {
	g := &Graph{
		projects:  make(map[string]ProjectContext, len(projects)),
		services:  map[string]ServiceContext{},
		byProject: make(map[string]map[string]string, len(projects)),
	}

	for _, pb := range projects {
		p := pb.project.clone()
		if p.ID == "" {
			return nil, fmt.Errorf("project %q: %w", p.Name, ErrMissingID)
		}
		if _, exists := g.projects[p.ID]; exists {
			return nil, fmt.Errorf("project %s: %w", p.ID, ErrDuplicate)
		}
		g.projects[p.ID] = p
		names := make(map[string]string, len(pb.services))
		g.byProject[p.ID] = names

		for _, sb := range pb.services {
			s := sb.svc.clone()
			if s.ID == "" {
				return nil, fmt.Errorf("service %q in project %s: %w", s.Name, p.ID, ErrMissingID)
			}
			if _, exists := g.services[s.ID]; exists {
				return nil, fmt.Errorf("service %s: %w", s.ID, ErrDuplicate)
			}
			if _, exists := names[s.Name]; exists {
				return nil, fmt.Errorf("service name %q in project %s: %w", s.Name, p.ID, ErrDuplicate)
			}
			s.ProjectID = p.ID
			if s.Network.Name == "" {
				s.Network.Name = p.Network
			}
			g.services[s.ID] = s
			names[s.Name] = s.ID
		}
	}
	return g, nil
}
