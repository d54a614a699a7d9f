// Package storage defines the persistence contracts for domain records and
// provides an in-memory implementation. The postgres subpackage implements
// the same contracts on PostgreSQL.
package storage

import (
	"context"
	"errors"
	"strings"

	"evalgo.org/deployer/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrConflict is returned when a write violates a uniqueness rule.
	ErrConflict = errors.New("storage: conflict")
)

// MappingStore persists service domain mappings.
//
// CreateMapping and UpdateMapping reject a (subdomain, base path) pair that
// is already used under the same project domain. Saving a primary mapping
// demotes the service's other mappings.
type MappingStore interface {
	CreateMapping(ctx context.Context, m *models.ServiceDomainMapping) error
	GetMapping(ctx context.Context, id string) (*models.ServiceDomainMapping, error)
	UpdateMapping(ctx context.Context, m *models.ServiceDomainMapping) error
	DeleteMapping(ctx context.Context, id string) error
	ListMappingsByProjectDomain(ctx context.Context, projectDomainID string) ([]models.ServiceDomainMapping, error)
	ListMappingsByService(ctx context.Context, serviceID string) ([]models.ServiceDomainMapping, error)
}

// OrganizationDomainStore persists organization domains.
type OrganizationDomainStore interface {
	CreateOrganizationDomain(ctx context.Context, d *models.OrganizationDomain) error
	GetOrganizationDomain(ctx context.Context, id string) (*models.OrganizationDomain, error)
	UpdateOrganizationDomain(ctx context.Context, d *models.OrganizationDomain) error
	DeleteOrganizationDomain(ctx context.Context, id string) error

	// ListOrganizationDomains filters by status; an empty status lists all.
	ListOrganizationDomains(ctx context.Context, status models.VerificationStatus) ([]models.OrganizationDomain, error)
}

// ProjectDomainStore persists project domains.
type ProjectDomainStore interface {
	CreateProjectDomain(ctx context.Context, d *models.ProjectDomain) error
	GetProjectDomain(ctx context.Context, id string) (*models.ProjectDomain, error)
	DeleteProjectDomain(ctx context.Context, id string) error
	ListProjectDomains(ctx context.Context, projectID string) ([]models.ProjectDomain, error)
}

// Store is the full persistence surface.
type Store interface {
	MappingStore
	OrganizationDomainStore
	ProjectDomainStore
	Close() error
}

// RouteKey identifies a mapping's route under its project domain. Subdomain
// case, the apex spellings "" and "@" and the root base path "/" are folded.
func RouteKey(m models.ServiceDomainMapping) string {
	sub := strings.ToLower(strings.TrimSpace(m.Subdomain))
	if sub == "@" {
		sub = ""
	}
	path := strings.TrimSpace(m.BasePath)
	if path == "/" {
		path = ""
	}
	return m.ProjectDomainID + "|" + sub + "|" + path
}
