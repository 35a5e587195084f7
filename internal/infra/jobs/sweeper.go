package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vexscan/api/pkg/domain/evidence"
	"github.com/vexscan/api/pkg/domain/shared"
	"github.com/vexscan/api/pkg/logger"
)

// PendingPurgeLister lists soft-deleted bundles whose blobs still exist.
type PendingPurgeLister interface {
	ListPendingPurge(ctx context.Context, cutoff time.Time, limit int) ([]*evidence.Bundle, error)
}

// PurgeRequeuer queues whole-bundle purges, reporting false when one is
// still pending for the bundle.
type PurgeRequeuer interface {
	RequeueBlobPurge(ctx context.Context, evidenceID shared.ID, paths []string) (bool, error)
}

// SweeperConfig configures the orphan blob sweep.
type SweeperConfig struct {
	// Spec is a cron spec, "@every 15m" by default.
	Spec  string
	Grace time.Duration
	Batch int
}

// Sweeper re-queues purges for soft-deleted bundles whose purge task was
// lost or exhausted its retries.
type Sweeper struct {
	lister   PendingPurgeLister
	enqueuer PurgeRequeuer
	cfg      SweeperConfig
	cron     *cron.Cron
	logger   *logger.Logger
	nowFunc  func() time.Time
}

// NewSweeper creates a sweeper. Call Start to schedule it.
func NewSweeper(lister PendingPurgeLister, enqueuer PurgeRequeuer, cfg SweeperConfig, log *logger.Logger) *Sweeper {
	if cfg.Spec == "" {
		cfg.Spec = "@every 15m"
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 200
	}
	return &Sweeper{
		lister:   lister,
		enqueuer: enqueuer,
		cfg:      cfg,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:   log.With("component", "purge_sweeper"),
		nowFunc:  time.Now,
	}
}

// Start schedules the sweep.
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.cfg.Spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("purge sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep spec %q: %w", s.cfg.Spec, err)
	}

	s.logger.Info("starting purge sweeper", "spec", s.cfg.Spec, "grace", s.cfg.Grace)
	s.cron.Start()
	return nil
}

// Stop stops scheduling and waits for a running sweep.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("purge sweeper stopped")
}

// Sweep enqueues purges for one batch of bundles deleted more than Grace ago.
// It returns the number of purges newly queued; bundles whose purge is still
// pending are not counted.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.nowFunc().Add(-s.cfg.Grace)
	bundles, err := s.lister.ListPendingPurge(ctx, cutoff, s.cfg.Batch)
	if err != nil {
		return 0, fmt.Errorf("list pending purge: %w", err)
	}

	queued, pending := 0, 0
	for _, b := range bundles {
		ok, err := s.enqueuer.RequeueBlobPurge(ctx, b.ID(), b.Paths())
		switch {
		case err != nil:
			s.logger.Warn("failed to enqueue purge", "evidence_id", b.ID(), "error", err)
		case ok:
			queued++
		default:
			pending++
		}
	}

	if queued > 0 || pending > 0 {
		s.logger.Info("purge sweep done", "queued", queued, "already_pending", pending)
	}
	return queued, nil
}
