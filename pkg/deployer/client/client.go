// Package client is a Go client for the deployer HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"evalgo.org/deployer/internal/domains"
	"evalgo.org/deployer/internal/routing"
	"evalgo.org/deployer/models"
)

// Error is a non-2xx API response.
type Error struct {
	StatusCode  int               `json:"code"`
	Message     string            `json:"message"`
	Details     string            `json:"details,omitempty"`
	FieldErrors map[string]string `json:"field_errors,omitempty"`
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("api error %d: %s: %s", e.StatusCode, e.Message, e.Details)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid baseURL: %w", err)
	}

	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		// deployments run synchronously with ?wait=true and can take minutes
		httpClient: &http.Client{Timeout: 30 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// DeployRequest mirrors the body of POST /api/v1/deployments.
type DeployRequest struct {
	BuildType       models.BuildType         `json:"buildType"`
	DeploymentID    string                   `json:"deploymentId,omitempty"`
	ServiceName     string                   `json:"serviceName"`
	SourcePath      string                   `json:"sourcePath"`
	Environment     map[string]string        `json:"environmentVariables,omitempty"`
	Port            int                      `json:"port,omitempty"`
	HealthCheckPath string                   `json:"healthCheckPath,omitempty"`
	Resources       models.ResourceLimits    `json:"resourceLimits,omitempty"`
	Buildpack       *models.BuildpackOptions `json:"buildpack,omitempty"`
	Compose         *models.ComposeOptions   `json:"compose,omitempty"`
	Static          *models.StaticOptions    `json:"static,omitempty"`
}

// RequestFromConfig builds a DeployRequest from a builder config. Paths
// are interpreted on the server.
func RequestFromConfig(bt models.BuildType, cfg *models.BuilderConfig) DeployRequest {
	return DeployRequest{
		BuildType:       bt,
		DeploymentID:    cfg.DeploymentID,
		ServiceName:     cfg.ServiceName,
		SourcePath:      cfg.SourcePath,
		Environment:     cfg.EnvironmentVariables,
		Port:            cfg.Port,
		HealthCheckPath: cfg.HealthCheckPath,
		Resources:       cfg.ResourceLimits,
		Buildpack:       cfg.Buildpack,
		Compose:         cfg.Compose,
		Static:          cfg.Static,
	}
}

// Accepted is the answer to a background deployment.
type Accepted struct {
	DeploymentID string `json:"deploymentId"`
	Status       string `json:"status"`
	Events       string `json:"events"`
}

// Deploy runs a deployment and waits for its result.
func (c *Client) Deploy(ctx context.Context, req DeployRequest) (*models.BuilderResult, error) {
	var res models.BuilderResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/deployments?wait=true", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// StartDeploy starts a deployment in the background. Progress is streamed
// on the returned events path.
func (c *Client) StartDeploy(ctx context.Context, req DeployRequest) (*Accepted, error) {
	var res Accepted
	if err := c.do(ctx, http.MethodPost, "/api/v1/deployments", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Teardown removes a compose stack or a static site's router.
func (c *Client) Teardown(ctx context.Context, req DeployRequest) error {
	return c.do(ctx, http.MethodPost, "/api/v1/deployments/teardown", req, nil)
}

// CheckSubdomain reports whether a route is free under a project domain.
func (c *Client) CheckSubdomain(ctx context.Context, projectDomainID, subdomain, basePath string) (*routing.AvailabilityResult, error) {
	body := map[string]string{"projectDomainId": projectDomainID, "subdomain": subdomain, "basePath": basePath}
	var res routing.AvailabilityResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/subdomains/check", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// VerifyDomain checks a domain's verification record.
func (c *Client) VerifyDomain(ctx context.Context, id string) (*domains.VerificationResult, error) {
	var res domains.VerificationResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/domains/"+url.PathEscape(id)+"/verify", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// DomainInstructions returns the DNS record proving ownership of a domain.
func (c *Client) DomainInstructions(ctx context.Context, id string) (*domains.VerificationInstructions, error) {
	var res domains.VerificationInstructions
	if err := c.do(ctx, http.MethodGet, "/api/v1/domains/"+url.PathEscape(id)+"/instructions", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Health returns nil when the server and its container runtime are up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &Error{StatusCode: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
