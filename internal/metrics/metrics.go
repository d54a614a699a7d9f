// Package metrics exposes Prometheus collectors for deployments, health
// checks, domain verification and the HTTP API on a private registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"evalgo.org/deployer/models"
)

const namespace = "deployer"

var (
	deploymentBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200}
	requestBuckets    = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}
)

// Metrics holds every collector of the process.
type Metrics struct {
	registry *prometheus.Registry

	deployments            *prometheus.CounterVec
	deploymentDuration     *prometheus.HistogramVec
	domainVerifications    *prometheus.CounterVec
	projectServerRecreates prometheus.Counter
	healthChecks           *prometheus.CounterVec
	requests               *prometheus.CounterVec
	requestLatency         *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		deployments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deployments_total",
			Help:      "Deployments by build type and result status",
		}, []string{"type", "status"}),
		deploymentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "deployment_duration_seconds",
			Help:      "Wall time of a deployment by build type",
			Buckets:   deploymentBuckets,
		}, []string{"type"}),
		domainVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "domain_verifications_total",
			Help:      "DNS ownership checks by method and result",
		}, []string{"method", "result"}),
		projectServerRecreates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "project_server_recreations_total",
			Help:      "Project front servers replaced because their routing label drifted",
		}),
		healthChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_checks_total",
			Help:      "Container health checks by result",
		}, []string{"result"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   requestBuckets,
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.deployments,
		m.deploymentDuration,
		m.domainVerifications,
		m.projectServerRecreates,
		m.healthChecks,
		m.requests,
		m.requestLatency,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveDeployment records a finished deployment. A nil result counts as failed.
func (m *Metrics) ObserveDeployment(buildType models.BuildType, res *models.BuilderResult, elapsed time.Duration) {
	status := models.StatusFailed
	if res != nil {
		status = res.Status
	}
	m.deployments.WithLabelValues(string(buildType), string(status)).Inc()
	m.deploymentDuration.WithLabelValues(string(buildType)).Observe(elapsed.Seconds())
}

// ObserveHealthCheck records one container health verification.
func (m *Metrics) ObserveHealthCheck(healthy bool) {
	result := "unhealthy"
	if healthy {
		result = "healthy"
	}
	m.healthChecks.WithLabelValues(result).Inc()
}

// ObserveDomainVerification records one DNS ownership check.
func (m *Metrics) ObserveDomainVerification(method models.VerificationMethod, verified bool) {
	result := "failed"
	if verified {
		result = "verified"
	}
	m.domainVerifications.WithLabelValues(string(method), result).Inc()
}

// ObserveProjectServerRecreated records a label drift replacement.
func (m *Metrics) ObserveProjectServerRecreated() {
	m.projectServerRecreates.Inc()
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	m.requests.With(labels).Inc()
	m.requestLatency.With(labels).Observe(elapsed.Seconds())
}
