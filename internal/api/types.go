package api

import (
	"evalgo.org/deployer/internal/routing"
	"evalgo.org/deployer/models"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// MessageResponse represents a simple message response.
type MessageResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

// DeployRequest starts a deployment.
type DeployRequest struct {
	BuildType       string                   `json:"buildType" validate:"required,buildtype"`
	DeploymentID    string                   `json:"deploymentId,omitempty" validate:"omitempty,max=128,excludesall=/"`
	ServiceName     string                   `json:"serviceName" validate:"required,max=128"`
	SourcePath      string                   `json:"sourcePath" validate:"required"`
	Environment     map[string]string        `json:"environmentVariables,omitempty"`
	Port            int                      `json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	HealthCheckPath string                   `json:"healthCheckPath,omitempty" validate:"omitempty,startswith=/"`
	Resources       models.ResourceLimits    `json:"resourceLimits,omitempty"`
	Buildpack       *models.BuildpackOptions `json:"buildpack,omitempty"`
	Compose         *models.ComposeOptions   `json:"compose,omitempty"`
	Static          *models.StaticOptions    `json:"static,omitempty"`
}

// BuilderConfig converts the request. Sinks are attached by the orchestrator.
func (r DeployRequest) BuilderConfig() *models.BuilderConfig {
	return &models.BuilderConfig{
		DeploymentID:         r.DeploymentID,
		ServiceName:          r.ServiceName,
		SourcePath:           r.SourcePath,
		EnvironmentVariables: r.Environment,
		Port:                 r.Port,
		HealthCheckPath:      r.HealthCheckPath,
		ResourceLimits:       r.Resources,
		Buildpack:            r.Buildpack,
		Compose:              r.Compose,
		Static:               r.Static,
	}
}

// DeployAccepted is returned for deployments running in the background.
type DeployAccepted struct {
	DeploymentID string `json:"deploymentId"`
	Status       string `json:"status"`
	Events       string `json:"events"`
}

// SubdomainCheckRequest asks whether a route is free under a project domain.
type SubdomainCheckRequest struct {
	ProjectDomainID  string `json:"projectDomainId" validate:"required"`
	Subdomain        string `json:"subdomain"`
	BasePath         string `json:"basePath,omitempty"`
	ExcludeServiceID string `json:"excludeServiceId,omitempty"`
}

// ProjectServerRequest converges a project's front server.
type ProjectServerRequest struct {
	Host string `json:"host,omitempty" validate:"omitempty,hostname_rfc1123"`
}

// RepairRequest converges a front server and optionally a service vhost.
type RepairRequest struct {
	Host        string `json:"host,omitempty" validate:"omitempty,hostname_rfc1123"`
	ServiceName string `json:"serviceName,omitempty" validate:"omitempty,max=128,excludesall=/"`
}

// RepairResponse reports the outcome of a repair.
type RepairResponse struct {
	ProjectID string `json:"projectId"`
	Healthy   bool   `json:"healthy"`
}

// RouterRequest registers a service router on the front server.
type RouterRequest struct {
	ServiceName string `json:"serviceName" validate:"required,max=128,excludesall=/"`
	Host        string `json:"host" validate:"required,hostname_rfc1123"`
	Port        int    `json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	Template    string `json:"template,omitempty"`
}

// RouterResponse names the written router file.
type RouterResponse struct {
	File string `json:"file"`
}

// TemplateRequest validates, and optionally renders, a router template.
type TemplateRequest struct {
	Template  string            `json:"template" validate:"required"`
	Variables map[string]string `json:"variables,omitempty"`
}

// TemplateResponse is the outcome of a template check.
type TemplateResponse struct {
	routing.TemplateValidation
	Valid      bool     `json:"valid"`
	Rendered   string   `json:"rendered,omitempty"`
	Unresolved []string `json:"unresolved,omitempty"`
}
