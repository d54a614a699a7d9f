package storage

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"evalgo.org/deployer/models"
)

// Memory is a Store kept in process memory.
type Memory struct {
	mu       sync.RWMutex
	mappings map[string]models.ServiceDomainMapping
	orgs     map[string]models.OrganizationDomain
	projects map[string]models.ProjectDomain
	now      func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		mappings: map[string]models.ServiceDomainMapping{},
		orgs:     map[string]models.OrganizationDomain{},
		projects: map[string]models.ProjectDomain{},
		now:      time.Now,
	}
}

// Close is a no-op.
func (s *Memory) Close() error { return nil }

func (s *Memory) CreateMapping(_ context.Context, m *models.ServiceDomainMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if _, exists := s.mappings[m.ID]; exists {
		return fmt.Errorf("mapping %s: %w", m.ID, ErrConflict)
	}
	if err := s.checkRoute(*m); err != nil {
		return err
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now().UTC()
	}
	s.saveMapping(*m)
	return nil
}

func (s *Memory) GetMapping(_ context.Context, id string) (*models.ServiceDomainMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.mappings[id]
	if !ok {
		return nil, fmt.Errorf("mapping %s: %w", id, ErrNotFound)
	}
	return &m, nil
}

func (s *Memory) UpdateMapping(_ context.Context, m *models.ServiceDomainMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mappings[m.ID]; !ok {
		return fmt.Errorf("mapping %s: %w", m.ID, ErrNotFound)
	}
	if err := s.checkRoute(*m); err != nil {
		return err
	}
	s.saveMapping(*m)
	return nil
}

func (s *Memory) DeleteMapping(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mappings[id]; !ok {
		return fmt.Errorf("mapping %s: %w", id, ErrNotFound)
	}
	delete(s.mappings, id)
	return nil
}

func (s *Memory) ListMappingsByProjectDomain(_ context.Context, projectDomainID string) ([]models.ServiceDomainMapping, error) {
	return s.listMappings(func(m models.ServiceDomainMapping) bool { return m.ProjectDomainID == projectDomainID }), nil
}

func (s *Memory) ListMappingsByService(_ context.Context, serviceID string) ([]models.ServiceDomainMapping, error) {
	return s.listMappings(func(m models.ServiceDomainMapping) bool { return m.ServiceID == serviceID }), nil
}

func (s *Memory) listMappings(keep func(models.ServiceDomainMapping) bool) []models.ServiceDomainMapping {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.ServiceDomainMapping{}
	for _, m := range s.mappings {
		if keep(m) {
			out = append(out, m)
		}
	}
	slices.SortFunc(out, func(a, b models.ServiceDomainMapping) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// checkRoute must be called with the write lock held.
func (s *Memory) checkRoute(m models.ServiceDomainMapping) error {
	key := RouteKey(m)
	for id, other := range s.mappings {
		if id != m.ID && RouteKey(other) == key {
			return fmt.Errorf("route %q already mapped by %s: %w", m.Host()+m.BasePath, other.ServiceID, ErrConflict)
		}
	}
	return nil
}

// saveMapping must be called with the write lock held.
func (s *Memory) saveMapping(m models.ServiceDomainMapping) {
	if m.IsPrimary {
		for id, other := range s.mappings {
			if id != m.ID && other.ServiceID == m.ServiceID && other.IsPrimary {
				other.IsPrimary = false
				s.mappings[id] = other
			}
		}
	}
	s.mappings[m.ID] = m
}

func (s *Memory) CreateOrganizationDomain(_ context.Context, d *models.OrganizationDomain) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if _, exists := s.orgs[d.ID]; exists {
		return fmt.Errorf("organization domain %s: %w", d.ID, ErrConflict)
	}
	for _, other := range s.orgs {
		if other.Domain == d.Domain {
			return fmt.Errorf("domain %s already registered: %w", d.Domain, ErrConflict)
		}
	}
	if d.VerificationStatus == "" {
		d.VerificationStatus = models.VerificationPending
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now().UTC()
	}
	s.orgs[d.ID] = *d
	return nil
}

func (s *Memory) GetOrganizationDomain(_ context.Context, id string) (*models.OrganizationDomain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.orgs[id]
	if !ok {
		return nil, fmt.Errorf("organization domain %s: %w", id, ErrNotFound)
	}
	return &d, nil
}

func (s *Memory) UpdateOrganizationDomain(_ context.Context, d *models.OrganizationDomain) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orgs[d.ID]; !ok {
		return fmt.Errorf("organization domain %s: %w", d.ID, ErrNotFound)
	}
	s.orgs[d.ID] = *d
	return nil
}

func (s *Memory) DeleteOrganizationDomain(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orgs[id]; !ok {
		return fmt.Errorf("organization domain %s: %w", id, ErrNotFound)
	}
	delete(s.orgs, id)
	return nil
}

func (s *Memory) ListOrganizationDomains(_ context.Context, status models.VerificationStatus) ([]models.OrganizationDomain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.OrganizationDomain{}
	for _, d := range s.orgs {
		if status == "" || d.VerificationStatus == status {
			out = append(out, d)
		}
	}
	slices.SortFunc(out, func(a, b models.OrganizationDomain) int { return cmp.Compare(a.Domain, b.Domain) })
	return out, nil
}

func (s *Memory) CreateProjectDomain(_ context.Context, d *models.ProjectDomain) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if _, exists := s.projects[d.ID]; exists {
		return fmt.Errorf("project domain %s: %w", d.ID, ErrConflict)
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now().UTC()
	}
	s.projects[d.ID] = *d
	return nil
}

func (s *Memory) GetProjectDomain(_ context.Context, id string) (*models.ProjectDomain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("project domain %s: %w", id, ErrNotFound)
	}
	return &d, nil
}

func (s *Memory) DeleteProjectDomain(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[id]; !ok {
		return fmt.Errorf("project domain %s: %w", id, ErrNotFound)
	}
	delete(s.projects, id)
	for mid, m := range s.mappings {
		if m.ProjectDomainID == id {
			delete(s.mappings, mid)
		}
	}
	return nil
}

func (s *Memory) ListProjectDomains(_ context.Context, projectID string) ([]models.ProjectDomain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.ProjectDomain{}
	for _, d := range s.projects {
		if d.ProjectID == projectID {
			out = append(out, d)
		}
	}
	slices.SortFunc(out, func(a, b models.ProjectDomain) int { return cmp.Compare(a.Domain, b.Domain) })
	return out, nil
}
