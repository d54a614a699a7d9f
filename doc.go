// Package deployer turns source directories into running, routed containers
// on a single Docker host.
//
// # Overview
//
// A deployment is handed to one of three build strategies:
//   - buildpack: detect the language, generate a Dockerfile, build and run one container
//   - compose: bring up a Docker Compose project and check every container
//   - static: copy files into the project's shared front server and route a host to them
//
// Every strategy reports phase transitions and structured log lines while
// it runs. The orchestration layer fans them out to the caller, to the
// WebSocket hub and to the process log, and records Prometheus metrics.
//
// # Architecture
//
//	┌─────────────────┐      ┌──────────────────┐
//	│  CLI (cobra)    │      │  API (Echo + WS) │
//	└────────┬────────┘      └────────┬─────────┘
//	         └───────────┬────────────┘
//	            ┌────────▼────────┐
//	            │  Orchestration  │
//	            └────────┬────────┘
//	   ┌─────────────────┼──────────────────┐
//	┌──▼───────┐   ┌─────▼─────┐   ┌────────▼────────┐
//	│Buildpack │   │  Compose  │   │     Static      │
//	└──┬───────┘   └─────┬─────┘   └────────┬────────┘
//	   │                 │          ┌───────▼────────┐
//	   │                 │          │ Project server │
//	   │                 │          │ + proxy routers│
//	   │                 │          └───────┬────────┘
//	┌──▼─────────────────▼──────────────────▼────────┐
//	│               Docker Engine API                │
//	└────────────────────────────────────────────────┘
//
// Custom domains are verified over DNS (TXT or CNAME) and service routes
// are kept unique per (subdomain, base path) under a project domain. Both
// live in the storage layer, in memory or in PostgreSQL.
//
// # Usage
//
// Start the API server:
//
//	deployer server --config config.yaml
//
// Deploy from the command line:
//
//	deployer deploy buildpack ./my-app --port 8080
//	deployer deploy compose ./stack
//	deployer deploy static ./public --project p-42 --domain example.com --subdomain docs
//
// Verify a custom domain:
//
//	deployer domain add example.com --org acme
//	deployer domain verify <domain-id>
//
// # Configuration
//
// Configuration can be provided via:
//   - YAML file (config.yaml, ./configs, $HOME/.deployer, /etc/deployer)
//   - Environment variables (DEPLOYER_ prefix, e.g. DEPLOYER_SERVER_PORT)
//   - .env file
//
// Run "deployer config init" for a commented starting point.
//
// # API Endpoints
//
//   - POST   /api/v1/deployments                     - Start a deployment (?wait=true blocks)
//   - POST   /api/v1/deployments/teardown            - Remove a compose stack or static router
//   - POST   /api/v1/subdomains/check                - Route availability with suggestions
//   - POST   /api/v1/domains/:id/verify              - Check a domain's DNS record
//   - POST   /api/v1/domains/:id/retry               - Reset to pending and check again
//   - GET    /api/v1/domains/:id/instructions        - Record to create at the DNS provider
//   - POST   /api/v1/projects/:id/server             - Ensure the project front server
//   - POST   /api/v1/projects/:id/repair             - Converge server and service vhost
//   - POST   /api/v1/projects/:id/routers            - Write a service router
//   - DELETE /api/v1/projects/:id/routers/:service   - Delete a service router
//   - POST   /api/v1/templates/validate              - Validate and render a router template
//   - GET    /ws/deployments?deploymentId=...        - Deployment event stream
//   - GET    /health, /metrics
//
// # Development
//
// Run tests:
//
//	go test ./...
//
// Run the PostgreSQL store tests:
//
//	DEPLOYER_TEST_DSN=postgres://... go test ./internal/storage/postgres/...
//
// Build the binary:
//
//	go build -o deployer ./cmd/deployer
package deployer
