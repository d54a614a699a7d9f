package routing

import (
	"context"
	"fmt"
	"strings"

	"evalgo.org/deployer/models"
)

// suggestionPool is offered, minus paths already in use, when a
// (subdomain, base path) pair is taken.
var suggestionPool = []string{
	"/v1", "/v2", "/v3", "/api", "/app", "/web", "/admin",
	"/dashboard", "/portal", "/console", "/docs", "/beta",
}

// MappingReader lists the service domain mappings under a project domain.
type MappingReader interface {
	ListMappingsByProjectDomain(ctx context.Context, projectDomainID string) ([]models.ServiceDomainMapping, error)
}

// AvailabilityResult is the outcome of CheckSubdomainAvailability.
type AvailabilityResult struct {
	Available bool `json:"available"`

	// Conflicts are mappings with the same subdomain and base path
	Conflicts []models.ServiceDomainMapping `json:"conflicts"`

	// Siblings share the subdomain under a different base path
	Siblings []models.ServiceDomainMapping `json:"siblings"`

	// Suggestions are unused base paths, offered when unavailable
	Suggestions []string `json:"suggestions,omitempty"`
	Message     string   `json:"message"`
}

// Checker answers availability questions from persisted mappings.
type Checker struct {
	mappings MappingReader
}

// NewChecker creates a Checker.
func NewChecker(mappings MappingReader) *Checker {
	return &Checker{mappings: mappings}
}

// CheckSubdomainAvailability reports whether (subdomain, basePath) is free
// under projectDomainID. Mappings owned by excludeServiceID are ignored so a
// service can keep its own route when it is edited.
func (c *Checker) CheckSubdomainAvailability(ctx context.Context, projectDomainID, subdomain, basePath, excludeServiceID string) (*AvailabilityResult, error) {
	subdomain = strings.ToLower(strings.TrimSpace(subdomain))
	if !isApex(subdomain) {
		if err := ValidateSubdomain(subdomain); err != nil {
			return nil, err
		}
	}
	if basePath != "" {
		if err := ValidateBasePath(basePath); err != nil {
			return nil, err
		}
	}

	existing, err := c.mappings.ListMappingsByProjectDomain(ctx, projectDomainID)
	if err != nil {
		return nil, fmt.Errorf("failed to list domain mappings: %w", err)
	}

	return evaluate(existing, subdomain, normalizeBasePath(basePath), excludeServiceID), nil
}

func evaluate(existing []models.ServiceDomainMapping, subdomain, basePath, excludeServiceID string) *AvailabilityResult {
	result := &AvailabilityResult{
		Conflicts: []models.ServiceDomainMapping{},
		Siblings:  []models.ServiceDomainMapping{},
	}
	used := map[string]bool{}

	for _, m := range existing {
		if excludeServiceID != "" && m.ServiceID == excludeServiceID {
			continue
		}
		if !sameSubdomain(m.Subdomain, subdomain) {
			continue
		}
		mPath := normalizeBasePath(m.BasePath)
		used[mPath] = true
		if mPath == basePath {
			result.Conflicts = append(result.Conflicts, m)
		} else {
			result.Siblings = append(result.Siblings, m)
		}
	}

	label := subdomain
	if isApex(label) {
		label = "@"
	}

	if len(result.Conflicts) > 0 {
		result.Available = false
		for _, p := range suggestionPool {
			if !used[p] {
				result.Suggestions = append(result.Suggestions, p)
			}
		}
		if basePath == "" {
			result.Message = fmt.Sprintf("Subdomain %s is already in use; add a base path to share it", label)
		} else {
			result.Message = fmt.Sprintf("Subdomain %s with base path %s is already in use", label, basePath)
		}
		return result
	}

	result.Available = true
	if len(result.Siblings) > 0 {
		result.Message = fmt.Sprintf("Subdomain %s is shared with %d other route(s) on different base paths", label, len(result.Siblings))
	} else {
		result.Message = fmt.Sprintf("Subdomain %s is available", label)
	}
	return result
}

func sameSubdomain(a, b string) bool {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if isApex(a) && isApex(b) {
		return true
	}
	return a == b
}
