package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"evalgo.org/deployer/internal/api"
	"evalgo.org/deployer/internal/domains"
	"evalgo.org/deployer/internal/metrics"
	"evalgo.org/deployer/internal/routing"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the API server",
	Long: `Start the HTTP API server with Echo framework.

Deployment progress is streamed on /ws/deployments and, when enabled,
pending custom domains are re-verified in the background.`,
	RunE: runServer,
}

func runServer(cmd *cobra.Command, args []string) error {
	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	defer stop()

	// Initialize storage layer
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	m := metrics.New()
	hub := api.NewHub(logger)

	eng, err := newEngine(cfg, m, hub, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize container runtime: %w", err)
	}
	defer eng.Close()

	verifier := newVerifier(cfg, store, m, logger)
	if cfg.Domains.SweepInterval > 0 {
		sweeper := domains.NewSweeper(verifier, store, cfg.Domains.SweepInterval, logger)
		sweeper.Start(ctx)
		defer sweeper.Stop()
	}

	// Create API server
	server := api.New(cfg, api.Options{
		Deployer: eng.deployer,
		Checker:  routing.NewChecker(store),
		Domains:  verifier,
		Servers:  eng.servers,
		Runtime:  eng.docker,
		Metrics:  m,
		Hub:      hub,
		Logger:   logger,
	})

	// Start server in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errChan <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")

		// Create shutdown context with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Graceful shutdown
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		return nil

	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}
