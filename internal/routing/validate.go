// Package routing resolves which (subdomain, base path) pairs map to which
// service under a project domain and renders reverse proxy configuration
// from templates.
package routing

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	maxSubdomainLength = 63
	maxBasePathLength  = 255
)

// ErrInvalidInput is wrapped by every validation failure.
var ErrInvalidInput = errors.New("invalid input")

var subdomainPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// ValidateSubdomain applies DNS label rules: lowercase alphanumerics and
// interior hyphens, at most 63 characters.
func ValidateSubdomain(subdomain string) error {
	switch {
	case subdomain == "":
		return fmt.Errorf("%w: subdomain is required", ErrInvalidInput)
	case len(subdomain) > maxSubdomainLength:
		return fmt.Errorf("%w: subdomain must be at most %d characters, got %d", ErrInvalidInput, maxSubdomainLength, len(subdomain))
	case strings.HasPrefix(subdomain, "-") || strings.HasSuffix(subdomain, "-"):
		return fmt.Errorf("%w: subdomain %q must start and end with a letter or digit", ErrInvalidInput, subdomain)
	case !subdomainPattern.MatchString(subdomain):
		return fmt.Errorf("%w: subdomain %q may only contain lowercase letters, digits and hyphens", ErrInvalidInput, subdomain)
	}
	return nil
}

// ValidateBasePath requires a leading slash, at most 255 characters and no
// trailing slash unless the path is exactly "/".
func ValidateBasePath(basePath string) error {
	switch {
	case basePath == "/":
		return nil
	case !strings.HasPrefix(basePath, "/"):
		return fmt.Errorf("%w: base path %q must start with /", ErrInvalidInput, basePath)
	case len(basePath) > maxBasePathLength:
		return fmt.Errorf("%w: base path must be at most %d characters, got %d", ErrInvalidInput, maxBasePathLength, len(basePath))
	case strings.HasSuffix(basePath, "/"):
		return fmt.Errorf("%w: base path %q must not end with /", ErrInvalidInput, basePath)
	case strings.ContainsAny(basePath, " \t\n?#"):
		return fmt.Errorf("%w: base path %q contains invalid characters", ErrInvalidInput, basePath)
	}
	return nil
}

// normalizeBasePath maps "" and "/" to the empty (no base path) form.
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "/" {
		return ""
	}
	return p
}

// isApex reports whether subdomain addresses the bare project domain.
func isApex(subdomain string) bool {
	return subdomain == "" || subdomain == "@"
}
