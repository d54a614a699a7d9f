package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"evalgo.org/deployer/internal/builder"
	"evalgo.org/deployer/internal/config"
	"evalgo.org/deployer/internal/docker"
	"evalgo.org/deployer/internal/domains"
	"evalgo.org/deployer/internal/metrics"
	"evalgo.org/deployer/internal/orchestration"
	"evalgo.org/deployer/internal/projectserver"
	"evalgo.org/deployer/internal/staticprovider"
	"evalgo.org/deployer/internal/storage"
	"evalgo.org/deployer/internal/storage/postgres"
)

// engine is everything that talks to the Docker daemon.
type engine struct {
	docker   *docker.Client
	servers  *projectserver.Manager
	deployer *orchestration.Service
}

// newEngine wires the builder strategies onto a Docker client. pub may be
// nil when nobody listens for deployment events.
func newEngine(c *config.Config, m *metrics.Metrics, pub orchestration.Publisher, log *slog.Logger) (*engine, error) {
	dc, err := docker.New(c.Docker, log)
	if err != nil {
		return nil, err
	}

	servers := projectserver.NewManager(dc, c.ProjectServer, c.Docker.Network, c.Routing, log).WithObserver(m)

	opts := builder.Options{
		HealthTimeout:     c.Builder.HealthTimeout,
		HealthInterval:    c.Builder.HealthInterval,
		DefaultPort:       c.Builder.DefaultPort,
		DefaultHealthPath: c.Builder.DefaultHealthPath,
		BuildTimeout:      c.Docker.BuildTimeout,
	}

	buildpack := builder.NewBuildpackBuilder(dc, opts, log)
	buildpack.WithObserver(m)

	compose := builder.NewComposeBuilder(docker.NewCompose(c.Docker.ComposeBinary, docker.ExecCommand, log), dc, opts, log)
	compose.WithObserver(m)

	static := builder.NewStaticBuilder(staticprovider.New(servers, dc, c.Routing.BaseDomain, log), servers, dc, opts, log)
	static.WithObserver(m)

	svc := orchestration.NewService(log, buildpack, compose, static).
		WithRecorder(m).
		WithRouterRemover(servers)
	if pub != nil {
		svc.WithPublisher(pub)
	}

	return &engine{docker: dc, servers: servers, deployer: svc}, nil
}

func (r *engine) Close() error {
	return r.docker.Close()
}

// openStore opens the configured storage backend, applying migrations
// first when storage.migrate is set.
func openStore(ctx context.Context, c *config.Config, log *slog.Logger) (storage.Store, error) {
	switch c.Storage.Driver {
	case "postgres":
		pool, err := postgres.Connect(ctx, c.Storage.DSN, log)
		if err != nil {
			return nil, err
		}
		if c.Storage.Migrate {
			if err := postgres.NewMigrator(pool, log).Up(ctx); err != nil {
				pool.Close()
				return nil, fmt.Errorf("failed to migrate database: %w", err)
			}
		}
		return postgres.New(pool), nil
	case "memory", "":
		log.Warn("using in-memory storage; domains and mappings are lost on exit")
		return storage.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
}

func newVerifier(c *config.Config, store storage.Store, m *metrics.Metrics, log *slog.Logger) *domains.Verifier {
	return domains.NewVerifier(store, net.DefaultResolver, c.Domains, log).WithObserver(m)
}
