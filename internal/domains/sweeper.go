package domains

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"evalgo.org/deployer/internal/logging"
	"evalgo.org/deployer/models"
)

const (
	defaultSweepInterval = time.Hour
	sweepConcurrency     = 4
)

// SweepReport summarizes one pass over the pending domains.
type SweepReport struct {
	Checked  int
	Verified int
	Failed   int
	Errors   int
}

// Sweeper periodically re-verifies every pending domain.
type Sweeper struct {
	verifier *Verifier
	store    Store
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSweeper creates a Sweeper running every interval (one hour when zero).
func NewSweeper(verifier *Verifier, store Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Sweeper{
		verifier: verifier,
		store:    store,
		interval: interval,
		logger:   logging.OrDiscard(logger),
	}
}

// Start runs a sweep immediately and then on every tick until ctx is
// cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn("domain sweep already running")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})

	s.logger.Info("domain sweep started", "interval", s.interval)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.RunOnce(ctx)
		for {
			select {
			case <-ticker.C:
				s.RunOnce(ctx)
			case <-ctx.Done():
				s.mu.Lock()
				s.running = false
				s.mu.Unlock()
				s.logger.Info("domain sweep stopped")
				return
			}
		}
	}()
}

// Stop halts the sweep and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// RunOnce verifies every pending domain. A failing domain is logged and
// counted; the rest of the batch still runs.
func (s *Sweeper) RunOnce(ctx context.Context) SweepReport {
	var report SweepReport

	pending, err := s.store.ListOrganizationDomains(ctx, models.VerificationPending)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list pending domains", "error", err)
		report.Errors++
		return report
	}
	if len(pending) == 0 {
		return report
	}

	s.logger.InfoContext(ctx, "verifying pending domains", "count", len(pending))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)

	for _, d := range pending {
		g.Go(func() error {
			res, err := s.verifier.VerifyDomain(gctx, d.ID)

			mu.Lock()
			defer mu.Unlock()
			report.Checked++
			switch {
			case err != nil:
				report.Errors++
				s.logger.ErrorContext(ctx, "domain verification errored", "domain", d.Domain, "error", err)
			case res.Verified:
				report.Verified++
			default:
				report.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.InfoContext(ctx, "domain sweep finished",
		"checked", report.Checked, "verified", report.Verified, "failed", report.Failed, "errors", report.Errors)
	return report
}
