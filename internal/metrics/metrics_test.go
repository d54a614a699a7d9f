package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/deployer/models"
)

func TestObserveDeployment(t *testing.T) {
	m := New()

	m.ObserveDeployment(models.BuildTypeBuildpack, &models.BuilderResult{Status: models.StatusSuccess}, 2*time.Second)
	m.ObserveDeployment(models.BuildTypeBuildpack, &models.BuilderResult{Status: models.StatusPartial}, time.Second)
	m.ObserveDeployment(models.BuildTypeCompose, nil, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.deployments.WithLabelValues("buildpack", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deployments.WithLabelValues("buildpack", "partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deployments.WithLabelValues("compose", "failed")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.deploymentDuration))
}

func TestObservers(t *testing.T) {
	m := New()

	m.ObserveHealthCheck(true)
	m.ObserveHealthCheck(false)
	m.ObserveHealthCheck(false)
	m.ObserveDomainVerification(models.VerificationTXT, true)
	m.ObserveProjectServerRecreated()
	m.ObserveRequest(http.MethodGet, "/health", http.StatusOK, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.healthChecks.WithLabelValues("unhealthy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.domainVerifications.WithLabelValues("txt_record", "verified")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.projectServerRecreates))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "/health", "200")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveHealthCheck(true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "deployer_health_checks_total")
	assert.Contains(t, body, "go_goroutines")
}
