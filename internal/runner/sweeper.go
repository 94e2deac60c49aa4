package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/pagekey/internal/domain"
)

// SweeperConfig controls orphan recovery.
type SweeperConfig struct {
	Interval time.Duration
	// ProcessingStaleAfter fails processing jobs whose heartbeat is older.
	// Keep it at several heartbeat intervals.
	ProcessingStaleAfter time.Duration
	// PendingStaleAfter fails pending jobs that were never claimed.
	PendingStaleAfter time.Duration
	BatchSize         int
}

// Sweeper fails jobs orphaned by a crash so their reservations are
// compensated and no job stays non-terminal forever.
type Sweeper struct {
	runner *Runner
	cfg    SweeperConfig
	logger *slog.Logger
}

// NewSweeper creates a sweeper that fails orphans through r.
func NewSweeper(r *Runner, cfg SweeperConfig, logger *slog.Logger) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Sweeper{
		runner: r,
		cfg:    cfg,
		logger: logger,
	}
}

// Run sweeps every interval until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("Orphan sweeper started",
		slog.Duration("interval", s.cfg.Interval),
		slog.Duration("processing_stale_after", s.cfg.ProcessingStaleAfter),
		slog.Duration("pending_stale_after", s.cfg.PendingStaleAfter),
	)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Orphan sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("Orphan sweep failed",
					slog.Any("error", err),
				)
			}
		}
	}
}

// SweepOnce fails every stale job it finds and returns how many it failed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.runner.now()
	total := 0

	for _, target := range []struct {
		status     domain.ProcessingStatus
		staleAfter time.Duration
	}{
		{status: domain.StatusProcessing, staleAfter: s.cfg.ProcessingStaleAfter},
		{status: domain.StatusPending, staleAfter: s.cfg.PendingStaleAfter},
	} {
		if target.staleAfter <= 0 {
			continue
		}
		n, err := s.sweep(ctx, target.status, now.Add(-target.staleAfter))
		total += n
		if err != nil {
			return total, err
		}
	}

	if total > 0 {
		s.logger.Warn("Orphaned jobs recovered",
			slog.Int("count", total),
		)
	}
	return total, nil
}

func (s *Sweeper) sweep(ctx context.Context, status domain.ProcessingStatus, cutoff time.Time) (int, error) {
	stale, err := s.runner.store.ListStaleJobs(ctx, status, cutoff, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	// Re-check under the row lock: a heartbeat may have landed since the listing.
	stillStale := func(job *domain.Job) bool {
		return job.Status == status && job.HeartbeatAt.Before(cutoff)
	}

	swept := 0
	for _, job := range stale {
		detail := fmt.Sprintf("orphaned: no progress while %s since %s", status, job.HeartbeatAt.Format(time.RFC3339))
		failed, err := s.runner.fail(ctx, job.JobID, detail, stillStale)
		if err != nil {
			s.logger.Error("Failed to recover orphaned job",
				slog.String("job_id", job.JobID),
				slog.Any("error", err),
			)
			continue
		}
		if failed {
			swept++
		}
	}
	return swept, nil
}
