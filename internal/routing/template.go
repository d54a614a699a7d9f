package routing

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	openDelim  = "~##"
	closeDelim = "##~"
)

// ErrUnresolvedVariables is returned by Render when placeholders remain.
var ErrUnresolvedVariables = errors.New("unresolved template variables")

var (
	placeholderPattern  = regexp.MustCompile(`~##(.*?)##~`)
	variableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)
)

// KnownVariables are the names the service context layer produces.
var KnownVariables = []string{
	"serviceId", "serviceName", "projectId", "projectName", "deploymentId",
	"containerName", "port", "domain", "subdomain", "host", "basePath",
	"routerName", "middlewareName", "pathPrefix", "entryPoint", "certResolver",
	"healthCheckPath", "network", "fullUrl",
}

// DefaultRouterTemplate routes a host to a container through a path prefix
// middleware. pathPrefix selects the service's subdirectory on a shared
// front server.
const DefaultRouterTemplate = `http:
  routers:
    ~##routerName##~:
      rule: "Host(` + "`~##host##~`" + `)"
      entryPoints:
        - ~##entryPoint##~
      middlewares:
        - ~##middlewareName##~
      service: ~##routerName##~
  middlewares:
    ~##middlewareName##~:
      addPrefix:
        prefix: "~##pathPrefix##~"
  services:
    ~##routerName##~:
      loadBalancer:
        servers:
          - url: "http://~##containerName##~:~##port##~"
`

// DefaultTLSRouterTemplate is DefaultRouterTemplate with a certificate resolver.
const DefaultTLSRouterTemplate = `http:
  routers:
    ~##routerName##~:
      rule: "Host(` + "`~##host##~`" + `)"
      entryPoints:
        - ~##entryPoint##~
      middlewares:
        - ~##middlewareName##~
      service: ~##routerName##~
      tls:
        certResolver: ~##certResolver##~
  middlewares:
    ~##middlewareName##~:
      addPrefix:
        prefix: "~##pathPrefix##~"
  services:
    ~##routerName##~:
      loadBalancer:
        servers:
          - url: "http://~##containerName##~:~##port##~"
`

// ParseTemplate substitutes every ~##name##~ placeholder that has a value in
// vars. Placeholders without a value are left in place.
func ParseTemplate(tmpl string, vars map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := strings.TrimSpace(match[len(openDelim) : len(match)-len(closeDelim)])
		if v, ok := vars[name]; ok {
			return v
		}
		return match
	})
}

// UnresolvedVariables lists the distinct placeholder names left in rendered, sorted.
func UnresolvedVariables(rendered string) []string {
	seen := map[string]bool{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(rendered, -1) {
		seen[strings.TrimSpace(m[1])] = true
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Render substitutes vars and fails when any placeholder is left.
func Render(tmpl string, vars map[string]string) (string, error) {
	out := ParseTemplate(tmpl, vars)
	if missing := UnresolvedVariables(out); len(missing) > 0 {
		return "", fmt.Errorf("%w: %s", ErrUnresolvedVariables, strings.Join(missing, ", "))
	}
	return out, nil
}

// TemplateValidation is the outcome of ValidateTemplate.
type TemplateValidation struct {
	Errors    []string `json:"errors"`
	Warnings  []string `json:"warnings"`
	Variables []string `json:"variables"`
}

// Valid reports whether no errors were found.
func (v TemplateValidation) Valid() bool {
	return len(v.Errors) == 0
}

// ValidateTemplate checks delimiter balance, variable names and the YAML
// syntax of the template with every placeholder filled in.
func ValidateTemplate(tmpl string) TemplateValidation {
	result := TemplateValidation{Errors: []string{}, Warnings: []string{}, Variables: []string{}}

	if strings.TrimSpace(tmpl) == "" {
		result.Errors = append(result.Errors, "template is empty")
		return result
	}

	known := make(map[string]bool, len(KnownVariables))
	for _, k := range KnownVariables {
		known[k] = true
	}

	seen := map[string]bool{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(tmpl, -1) {
		name := strings.TrimSpace(m[1])
		if seen[name] {
			continue
		}
		seen[name] = true

		if !variableNamePattern.MatchString(name) {
			result.Errors = append(result.Errors, fmt.Sprintf("invalid variable name %q", name))
			continue
		}
		result.Variables = append(result.Variables, name)
		if !known[name] {
			result.Warnings = append(result.Warnings, fmt.Sprintf("unknown variable %q will not be resolved automatically", name))
		}
	}
	sort.Strings(result.Variables)

	stripped := placeholderPattern.ReplaceAllString(tmpl, "")
	if open := strings.Count(stripped, openDelim); open > 0 {
		result.Errors = append(result.Errors, fmt.Sprintf("%d unclosed %s delimiter(s)", open, openDelim))
	}
	if closing := strings.Count(stripped, closeDelim); closing > 0 {
		result.Errors = append(result.Errors, fmt.Sprintf("%d unmatched %s delimiter(s)", closing, closeDelim))
	}

	// Fill placeholders with a neutral scalar so only the YAML structure is checked
	sample := placeholderPattern.ReplaceAllString(tmpl, "placeholder")
	var doc any
	if err := yaml.Unmarshal([]byte(sample), &doc); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("invalid YAML: %v", err))
	} else if doc == nil {
		result.Warnings = append(result.Warnings, "template renders an empty document")
	}

	return result
}
