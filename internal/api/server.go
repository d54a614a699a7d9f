// Package api provides the HTTP API of the deployer.
// It uses the Echo framework to serve deployment, domain and routing
// endpoints and a WebSocket feed of deployment progress.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"evalgo.org/deployer/internal/config"
	"evalgo.org/deployer/internal/domains"
	"evalgo.org/deployer/internal/logging"
	"evalgo.org/deployer/internal/routing"
	"evalgo.org/deployer/internal/validation"
	"evalgo.org/deployer/internal/version"
	"evalgo.org/deployer/models"
)

// Deployer runs and removes deployments. *orchestration.Service satisfies it.
type Deployer interface {
	Deploy(ctx context.Context, buildType models.BuildType, cfg *models.BuilderConfig) (*models.BuilderResult, error)
	Teardown(ctx context.Context, buildType models.BuildType, cfg *models.BuilderConfig) error
}

// AvailabilityChecker answers route availability questions. *routing.Checker satisfies it.
type AvailabilityChecker interface {
	CheckSubdomainAvailability(ctx context.Context, projectDomainID, subdomain, basePath, excludeServiceID string) (*routing.AvailabilityResult, error)
}

// DomainVerifier verifies custom domains. *domains.Verifier satisfies it.
type DomainVerifier interface {
	VerifyDomain(ctx context.Context, id string) (*domains.VerificationResult, error)
	RetryVerification(ctx context.Context, id string) (*domains.VerificationResult, error)
	Instructions(ctx context.Context, id string) (*domains.VerificationInstructions, error)
}

// ProjectServers manages project front servers. *projectserver.Manager satisfies it.
type ProjectServers interface {
	EnsureProjectServerForProject(ctx context.Context, projectID, host string) (*models.ProjectServer, error)
	EnsureProjectServerHealth(ctx context.Context, projectID, host, serviceName string) bool
	AddServiceRouter(projectID, serviceName, host string, port int, tmpl string) (string, error)
	RemoveServiceRouter(projectID, serviceName string) error
}

// Pinger reports whether a dependency is reachable. *docker.Client satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MetricsProvider exposes collected metrics. *metrics.Metrics satisfies it.
type MetricsProvider interface {
	RequestRecorder
	Handler() http.Handler
}

// Options are the collaborators of the server. Routes whose collaborator
// is nil are not registered.
type Options struct {
	Deployer Deployer
	Checker  AvailabilityChecker
	Domains  DomainVerifier
	Servers  ProjectServers
	Runtime  Pinger
	Metrics  MetricsProvider

	// Hub carries deployment events; one is created when nil
	Hub *Hub

	Logger *slog.Logger
}

// Server represents the deployer API server.
type Server struct {
	echo   *echo.Echo
	config *config.Config
	opts   Options
	wsHub  *Hub // WebSocket hub for deployment events
	logger *slog.Logger

	// background deployments, drained on shutdown; none start once
	// closing is set
	mu      sync.Mutex
	closing bool
	running sync.WaitGroup
}

// goBackground runs fn as a tracked background deployment. It reports false
// when the server is shutting down.
func (s *Server) goBackground(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.running.Add(1)
	go func() {
		defer s.running.Done()
		fn()
	}()
	return true
}

// New creates a new API server instance.
func New(cfg *config.Config, opts Options) *Server {
	e := echo.New()

	// Configure Echo
	e.HideBanner = true
	e.HidePort = true
	e.Debug = cfg.Server.Debug

	// Set custom error handler
	e.HTTPErrorHandler = HTTPErrorHandler
	e.Validator = validation.New()

	logger := logging.OrDiscard(opts.Logger)
	hub := opts.Hub
	if hub == nil {
		hub = NewHub(logger)
	}

	server := &Server{
		echo:   e,
		config: cfg,
		opts:   opts,
		wsHub:  hub,
		logger: logger,
	}

	// Start WebSocket hub in background
	go hub.Run()

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// Hub returns the server's deployment event hub.
func (s *Server) Hub() *Hub {
	return s.wsHub
}

// setupMiddleware configures Echo middleware.
func (s *Server) setupMiddleware() {
	// Request ID first so the logger can report it
	s.echo.Use(middleware.RequestID())

	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency, "request_id", v.RequestID}
			if v.Error != nil {
				s.logger.WarnContext(c.Request().Context(), "request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			s.logger.InfoContext(c.Request().Context(), "request", attrs...)
			return nil
		},
	}))

	// Recover middleware
	s.echo.Use(middleware.Recover())

	// Security headers middleware
	s.echo.Use(SecurityHeaders)

	// CORS middleware
	if len(s.config.Security.AllowedOrigins) > 0 {
		s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: s.config.Security.AllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		}))
	}

	// Rate limiting
	if s.config.Security.RateLimit > 0 {
		s.echo.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(
			rate.Limit(s.config.Security.RateLimit),
		)))
	}

	if s.opts.Metrics != nil {
		s.echo.Use(RequestMetrics(s.opts.Metrics))
	}

	// Content-Type validation middleware for API routes
	s.echo.Use(ValidateContentType)

	// Accept header validation middleware
	s.echo.Use(ValidateAcceptHeader)
}

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	// Health check
	s.echo.GET("/health", s.healthCheck)

	if s.opts.Metrics != nil && s.config.Metrics.Enabled {
		s.echo.GET(s.config.Metrics.Path, echo.WrapHandler(s.opts.Metrics.Handler()))
	}

	// WebSocket feed of deployment events
	s.echo.GET("/ws/deployments", s.handleDeploymentEvents)

	// API v1 group
	v1 := s.echo.Group("/api/v1")

	if s.opts.Deployer != nil {
		deployments := v1.Group("/deployments")
		deployments.POST("", s.createDeployment)
		deployments.POST("/teardown", s.teardownDeployment)
	}

	if s.opts.Checker != nil {
		v1.POST("/subdomains/check", s.checkSubdomain)
	}

	if s.opts.Domains != nil {
		domainRoutes := v1.Group("/domains")
		domainRoutes.POST("/:id/verify", s.verifyDomain, ValidateIDFormat)
		domainRoutes.POST("/:id/retry", s.retryDomain, ValidateIDFormat)
		domainRoutes.GET("/:id/instructions", s.domainInstructions, ValidateIDFormat)
	}

	if s.opts.Servers != nil {
		projects := v1.Group("/projects")
		projects.POST("/:id/server", s.ensureProjectServer, ValidateIDFormat)
		projects.POST("/:id/repair", s.repairProjectServer, ValidateIDFormat)
		projects.POST("/:id/routers", s.addServiceRouter, ValidateIDFormat)
		projects.DELETE("/:id/routers/:service", s.removeServiceRouter, ValidateIDFormat)
	}

	v1.POST("/templates/validate", s.validateTemplate)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	s.logger.Info("starting deployer API server",
		"address", "http://"+addr, "version", version.Get().Version, "debug", s.config.Server.Debug)

	// Configure server timeouts
	s.echo.Server.ReadTimeout = s.config.Server.ReadTimeout
	s.echo.Server.WriteTimeout = s.config.Server.WriteTimeout

	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for background deployments
// until ctx expires and disconnects WebSocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down deployer API server")

	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("error shutting down server: %w", err)
	}

	drained := make(chan struct{})
	go func() {
		s.running.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		s.logger.Warn("shutdown deadline reached with deployments still running")
	}

	s.wsHub.Close()
	s.logger.Info("server shutdown complete")
	return nil
}

// healthCheck handles health check requests.
func (s *Server) healthCheck(c echo.Context) error {
	info := version.Get()
	if s.opts.Runtime != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()
		if err := s.opts.Runtime.Ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status":  "unhealthy",
				"error":   "container runtime unreachable",
				"details": err.Error(),
			})
		}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "deployer",
		"version":   info.Version,
		"websocket": s.wsHub.ClientCount(),
	})
}

// ServeHTTP allows Server to implement http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
