package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/deployer/internal/config"
	"evalgo.org/deployer/internal/domains"
	"evalgo.org/deployer/internal/logging"
	"evalgo.org/deployer/internal/metrics"
	"evalgo.org/deployer/internal/orchestration"
	"evalgo.org/deployer/internal/projectserver"
	"evalgo.org/deployer/internal/routing"
	"evalgo.org/deployer/internal/storage"
	"evalgo.org/deployer/models"
)

type deployCall struct {
	buildType models.BuildType
	cfg       *models.BuilderConfig
}

type fakeDeployer struct {
	mu          sync.Mutex
	calls       []deployCall
	torn        []deployCall
	done        chan struct{}
	err         error
	teardownErr error
}

func newFakeDeployer() *fakeDeployer {
	return &fakeDeployer{done: make(chan struct{}, 4)}
}

func (f *fakeDeployer) Deploy(_ context.Context, bt models.BuildType, cfg *models.BuilderConfig) (*models.BuilderResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, deployCall{bt, cfg})
	f.mu.Unlock()
	defer func() { f.done <- struct{}{} }()
	if f.err != nil {
		return nil, f.err
	}
	return &models.BuilderResult{DeploymentID: cfg.DeploymentID, ContainerIDs: []string{"c1"}, Status: models.StatusSuccess, Message: "ok"}, nil
}

func (f *fakeDeployer) Teardown(_ context.Context, bt models.BuildType, cfg *models.BuilderConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.torn = append(f.torn, deployCall{bt, cfg})
	return f.teardownErr
}

type fakeVerifier struct{}

func (fakeVerifier) VerifyDomain(_ context.Context, id string) (*domains.VerificationResult, error) {
	if id == "missing" {
		return nil, fmt.Errorf("failed to load domain %s: %w", id, storage.ErrNotFound)
	}
	return &domains.VerificationResult{DomainID: id, Domain: "example.com", Status: models.VerificationFailed, Reason: "no TXT record"}, nil
}

func (fakeVerifier) RetryVerification(_ context.Context, id string) (*domains.VerificationResult, error) {
	return &domains.VerificationResult{DomainID: id, Domain: "example.com", Status: models.VerificationVerified, Verified: true}, nil
}

func (fakeVerifier) Instructions(_ context.Context, id string) (*domains.VerificationInstructions, error) {
	return &domains.VerificationInstructions{Domain: "example.com", RecordType: "TXT", RecordName: "_deployer-verify.example.com", RecordValue: "token"}, nil
}

type fakeServers struct {
	healthy bool
	routers []string
}

func (f *fakeServers) EnsureProjectServerForProject(_ context.Context, projectID, host string) (*models.ProjectServer, error) {
	if projectID == "broken" {
		return nil, fmt.Errorf("project server project-http-broken failed after 3 attempts: %w", projectserver.ErrUnhealthy)
	}
	return &models.ProjectServer{ProjectID: projectID, ContainerName: projectserver.ContainerName(projectID), ContainerID: "cid-1", Host: host}, nil
}

func (f *fakeServers) EnsureProjectServerHealth(context.Context, string, string, string) bool {
	return f.healthy
}

func (f *fakeServers) AddServiceRouter(projectID, serviceName, host string, port int, tmpl string) (string, error) {
	if tmpl != "" {
		if _, err := routing.Render(tmpl, map[string]string{"host": host}); err != nil {
			return "", err
		}
	}
	f.routers = append(f.routers, projectID+"/"+serviceName)
	return "/etc/traefik/dynamic/" + projectID + "-" + serviceName + ".yml", nil
}

func (f *fakeServers) RemoveServiceRouter(projectID, serviceName string) error {
	f.routers = append(f.routers, "-"+projectID+"/"+serviceName)
	return nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fixture struct {
	server   *Server
	deployer *fakeDeployer
	servers  *fakeServers
	store    *storage.Memory
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Security.RateLimit = 0

	f := &fixture{
		deployer: newFakeDeployer(),
		servers:  &fakeServers{healthy: true},
		store:    storage.NewMemory(),
		metrics:  metrics.New(),
	}
	f.server = New(cfg, Options{
		Deployer: f.deployer,
		Checker:  routing.NewChecker(f.store),
		Domains:  fakeVerifier{},
		Servers:  f.servers,
		Runtime:  fakePinger{},
		Metrics:  f.metrics,
		Logger:   logging.Discard(),
	})
	t.Cleanup(func() { f.server.Hub().Close() })
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), into), rec.Body.String())
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	down := New(config.Default(), Options{Runtime: fakePinger{err: errors.New("socket closed")}})
	defer down.Hub().Close()
	rec = httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCreateDeploymentWait(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/deployments?wait=true",
		`{"buildType":"buildpack","serviceName":"web","sourcePath":"/src/web","port":8080}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res models.BuilderResult
	decode(t, rec, &res)
	assert.Equal(t, models.StatusSuccess, res.Status)
	assert.NotEmpty(t, res.DeploymentID)

	require.Len(t, f.deployer.calls, 1)
	call := f.deployer.calls[0]
	assert.Equal(t, models.BuildTypeBuildpack, call.buildType)
	assert.Equal(t, 8080, call.cfg.Port)
	assert.Equal(t, "/src/web", call.cfg.SourcePath)
}

func TestCreateDeploymentAsync(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/deployments",
		`{"buildType":"static","deploymentId":"dep-9","serviceName":"docs","sourcePath":"/src/docs","static":{"projectId":"p1"}}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var accepted DeployAccepted
	decode(t, rec, &accepted)
	assert.Equal(t, "dep-9", accepted.DeploymentID)
	assert.Equal(t, "/ws/deployments?deploymentId=dep-9", accepted.Events)

	select {
	case <-f.deployer.done:
	case <-time.After(2 * time.Second):
		t.Fatal("background deployment never ran")
	}
	f.deployer.mu.Lock()
	defer f.deployer.mu.Unlock()
	require.Len(t, f.deployer.calls, 1)
	assert.Equal(t, "p1", f.deployer.calls[0].cfg.Static.ProjectID)
}

func TestCreateDeploymentRejectedDuringShutdown(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.server.Shutdown(ctx))

	rec := f.do(http.MethodPost, "/api/v1/deployments",
		`{"buildType":"static","deploymentId":"dep-10","serviceName":"docs","sourcePath":"/src/docs","static":{"projectId":"p1"}}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())

	f.deployer.mu.Lock()
	defer f.deployer.mu.Unlock()
	assert.Empty(t, f.deployer.calls)
}

func TestCreateDeploymentValidation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/deployments", `{"buildType":"lambda","sourcePath":"/src"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var apiErr APIError
	decode(t, rec, &apiErr)
	assert.Equal(t, "Validation failed", apiErr.Message)
	assert.Contains(t, apiErr.FieldError, "buildType")
	assert.Equal(t, "is required", apiErr.FieldError["serviceName"])
	assert.Empty(t, f.deployer.calls)

	rec = f.do(http.MethodPost, "/api/v1/deployments", `{"buildType":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/deployments", strings.NewReader("buildType=static"))
	req.Header.Set("Content-Type", "text/plain")
	rec = httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid Content-Type")
}

func TestTeardownDeployment(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/deployments/teardown", `{"buildType":"compose","serviceName":"api","sourcePath":"/src/api"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, f.deployer.torn, 1)
	assert.Equal(t, models.BuildTypeCompose, f.deployer.torn[0].buildType)

	f.deployer.teardownErr = fmt.Errorf("%w: %q", orchestration.ErrTeardownUnsupported, "buildpack")
	rec = f.do(http.MethodPost, "/api/v1/deployments/teardown", `{"buildType":"buildpack","serviceName":"web","sourcePath":"/src"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckSubdomain(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateMapping(context.Background(), &models.ServiceDomainMapping{
		ServiceID: "svc-1", ProjectDomainID: "pd-1", Subdomain: "api", BasePath: "/v1", Domain: "example.com",
	}))

	rec := f.do(http.MethodPost, "/api/v1/subdomains/check", `{"projectDomainId":"pd-1","subdomain":"api","basePath":"/v1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res routing.AvailabilityResult
	decode(t, rec, &res)
	assert.False(t, res.Available)
	assert.Len(t, res.Conflicts, 1)
	assert.NotEmpty(t, res.Suggestions)
	assert.NotContains(t, res.Suggestions, "/v1")

	rec = f.do(http.MethodPost, "/api/v1/subdomains/check", `{"projectDomainId":"pd-1","subdomain":"web"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &res)
	assert.True(t, res.Available)

	rec = f.do(http.MethodPost, "/api/v1/subdomains/check", `{"projectDomainId":"pd-1","subdomain":"-bad-"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDomainRoutes(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/domains/dom-1/verify", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res domains.VerificationResult
	decode(t, rec, &res)
	assert.False(t, res.Verified)
	assert.Equal(t, "no TXT record", res.Reason)

	rec = f.do(http.MethodPost, "/api/v1/domains/dom-1/retry", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &res)
	assert.True(t, res.Verified)

	rec = f.do(http.MethodGet, "/api/v1/domains/dom-1/instructions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "_deployer-verify.example.com")

	rec = f.do(http.MethodPost, "/api/v1/domains/missing/verify", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/domains/ab/verify", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProjectRoutes(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/projects/p-100/server", `{"host":"app.example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ps models.ProjectServer
	decode(t, rec, &ps)
	assert.Equal(t, "project-http-p-100", ps.ContainerName)
	assert.Equal(t, "app.example.com", ps.Host)

	rec = f.do(http.MethodPost, "/api/v1/projects/broken/server", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/projects/p-100/repair", `{"host":"app.example.com","serviceName":"docs"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	f.servers.healthy = false
	rec = f.do(http.MethodPost, "/api/v1/projects/p-100/repair", `{"serviceName":"docs"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy":false`)

	rec = f.do(http.MethodPost, "/api/v1/projects/p-100/routers", `{"serviceName":"docs","host":"docs.example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "p-100-docs.yml")

	rec = f.do(http.MethodPost, "/api/v1/projects/p-100/routers", `{"serviceName":"docs"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/projects/p-100/routers", `{"serviceName":"docs","host":"docs.example.com","template":"rule: ~##nope##~"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(http.MethodDelete, "/api/v1/projects/p-100/routers/docs", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"p-100/docs", "-p-100/docs"}, f.servers.routers)
}

func TestValidateTemplateRoute(t *testing.T) {
	f := newFixture(t)

	body, _ := json.Marshal(TemplateRequest{
		Template:  "http:\n  routers:\n    ~##routerName##~:\n      rule: \"Host(`~##host##~`)\"\n",
		Variables: map[string]string{"routerName": "p1-web", "host": "web.example.com"},
	})
	rec := f.do(http.MethodPost, "/api/v1/templates/validate", string(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp TemplateResponse
	decode(t, rec, &resp)
	assert.True(t, resp.Valid)
	assert.Contains(t, resp.Rendered, "Host(`web.example.com`)")
	assert.ElementsMatch(t, []string{"routerName", "host"}, resp.Variables)

	body, _ = json.Marshal(TemplateRequest{
		Template:  "rule: \"Host(`~##host##~`)\"\nservice: ~##routerName##~\n",
		Variables: map[string]string{"host": "web.example.com"},
	})
	rec = f.do(http.MethodPost, "/api/v1/templates/validate", string(body))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	decode(t, rec, &resp)
	assert.Equal(t, []string{"routerName"}, resp.Unresolved)

	rec = f.do(http.MethodPost, "/api/v1/templates/validate", `{"template":"rule: ~##host"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodGet, "/health", "")

	rec := f.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `deployer_api_http_requests_total{method="GET",route="/health",status="200"} 1`)
}

func TestDeploymentEventStream(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.server)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/deployments?deploymentId=dep-1"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	hub := f.server.Hub()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(orchestration.Event{Type: orchestration.EventPhase, DeploymentID: "dep-2", Phase: models.PhaseBuilding})
	hub.Publish(orchestration.Event{Type: orchestration.EventPhase, DeploymentID: "dep-1", Phase: models.PhaseActive, Progress: 100})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event orchestration.Event
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, "dep-1", event.DeploymentID)
	assert.Equal(t, models.PhaseActive, event.Phase)
	assert.False(t, event.Timestamp.IsZero())
}

func TestHubDropsAfterClose(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	hub.Close()
	hub.Close()

	// must not block
	hub.Publish(orchestration.Event{Type: orchestration.EventLog, DeploymentID: "x"})
	assert.Zero(t, hub.ClientCount())
}
