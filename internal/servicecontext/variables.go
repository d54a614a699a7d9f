package servicecontext

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrUnknownService is returned when a service id is not in the graph.
var ErrUnknownService = errors.New("unknown service")

const defaultRouterPort = 80

var routerNameInvalid = regexp.MustCompile(`[^a-z0-9-]+`)

// RouterNames derives the router and middleware names of a service and the
// path prefix under which the project front server serves its files.
func RouterNames(projectID, serviceName string) (router, middleware, pathPrefix string) {
	router = strings.Trim(routerNameInvalid.ReplaceAllString(strings.ToLower(projectID+"-"+serviceName), "-"), "-")
	return router, router + "-prefix", "/" + serviceName
}

// ToTraefikVariableContext flattens a service into the variable set consumed
// by routing templates. Domain variables are only present when the service
// has a domain mapping, so rendering a host-based template without one
// reports the missing names instead of producing an empty rule.
func ToTraefikVariableContext(g *Graph, serviceID string) (map[string]string, error) {
	svc, ok := g.ServiceByID(serviceID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, serviceID)
	}
	project, _ := g.Project(svc.ProjectID)

	router, middleware, prefix := RouterNames(project.ID, svc.Name)
	port := svc.Network.Port
	if port == 0 {
		port = defaultRouterPort
	}
	containerName := svc.Deployment.ContainerName
	if containerName == "" {
		containerName = svc.Network.InternalHost
	}

	vars := map[string]string{
		"serviceId":       svc.ID,
		"serviceName":     svc.Name,
		"projectId":       project.ID,
		"projectName":     project.Name,
		"deploymentId":    svc.Deployment.ID,
		"containerName":   containerName,
		"port":            strconv.Itoa(port),
		"routerName":      router,
		"middlewareName":  middleware,
		"pathPrefix":      prefix,
		"healthCheckPath": svc.HealthCheck.Path,
		"network":         svc.Network.Name,
	}
	if svc.Routing.EntryPoint != "" {
		vars["entryPoint"] = svc.Routing.EntryPoint
	}
	if svc.Routing.CertResolver != "" {
		vars["certResolver"] = svc.Routing.CertResolver
	}

	mapping, ok := svc.PrimaryDomain()
	if !ok && len(svc.Domains) > 0 {
		mapping, ok = svc.Domains[0], true
	}
	if ok {
		vars["domain"] = mapping.Domain
		vars["subdomain"] = mapping.Subdomain
		vars["host"] = mapping.Host()
		vars["basePath"] = mapping.BasePath
		vars["fullUrl"] = mapping.FullURL()
	}
	return vars, nil
}
