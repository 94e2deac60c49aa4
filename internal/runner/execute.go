package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/pagekey/internal/domain"
	"github.com/cuongbtq/pagekey/internal/engine"
	"github.com/cuongbtq/pagekey/internal/storage"
)

// Execute claims a pending job, runs the translation engine under the job
// timeout and records the outcome.
//
// It returns domain.ErrJobNotPending when the job was already claimed or
// finished, a *domain.RetryableError when the claim could not reach the
// database, and a *domain.EngineError when the engine failed and the job
// was failed with compensation.
func (r *Runner) Execute(ctx context.Context, jobID string) error {
	job, err := r.claim(ctx, jobID)
	if err != nil {
		return err
	}

	r.logger.Info("Processing job",
		slog.String("job_id", job.JobID),
		slog.Int("pages", job.ReservedPages),
		slog.String("language", string(job.Language)),
	)

	jobCtx, cancel := context.WithTimeout(ctx, r.cfg.JobTimeout)
	defer cancel()

	heartbeatDone := make(chan struct{})
	go r.sendJobHeartbeat(jobCtx, job.JobID, heartbeatDone)

	start := time.Now()
	artifact, err := r.translator.Translate(jobCtx, engine.TranslateRequest{
		JobID:      job.JobID,
		SourcePath: job.SourcePath,
		Pages:      job.ReservedPages,
		Language:   job.Language,
	})
	close(heartbeatDone)

	if err != nil {
		detail := failureDetail(jobCtx, ctx, err, r.cfg.JobTimeout)
		r.logger.Error("Job execution failed",
			slog.String("job_id", job.JobID),
			slog.String("detail", detail),
			slog.Duration("elapsed", time.Since(start)),
		)

		if _, failErr := r.fail(ctx, job.JobID, detail, nil); failErr != nil {
			return fmt.Errorf("failed to record job failure: %w", failErr)
		}
		return &domain.EngineError{Detail: detail}
	}

	if err := r.complete(ctx, job.JobID, artifact); err != nil {
		return fmt.Errorf("failed to record job completion: %w", err)
	}

	r.logger.Info("Job completed successfully",
		slog.String("job_id", job.JobID),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// claim moves a job from pending to processing.
func (r *Runner) claim(ctx context.Context, jobID string) (*domain.Job, error) {
	var job *domain.Job
	err := r.store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		job, err = tx.LockJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job.Status != domain.StatusPending {
			return domain.ErrJobNotPending
		}
		if err := job.Transition(domain.StatusProcessing, r.now()); err != nil {
			return err
		}
		return tx.UpdateJob(ctx, job)
	})

	switch {
	case err == nil:
		return job, nil
	case errors.Is(err, domain.ErrJobNotPending), errors.Is(err, domain.ErrJobNotFound):
		r.logger.Warn("Job not claimable, skipping",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		return nil, err
	default:
		r.logger.Error("Failed to claim job",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		return nil, domain.NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
	}
}

// complete records the artifact of a processing job. A job that already
// left processing (swept or overridden) keeps its recorded state and the
// artifact is discarded.
func (r *Runner) complete(ctx context.Context, jobID, artifact string) error {
	ctx, cancel := r.finalizeContext(ctx)
	defer cancel()

	discarded := false
	err := r.store.WithTx(ctx, func(tx storage.Tx) error {
		job, err := tx.LockJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job.Status != domain.StatusProcessing {
			discarded = true
			return nil
		}
		if err := job.Complete(artifact, r.now()); err != nil {
			return err
		}
		return tx.UpdateJob(ctx, job)
	})
	if err != nil {
		return err
	}

	if discarded {
		r.logger.Warn("Job left processing before completion, discarding artifact",
			slog.String("job_id", jobID),
		)
		r.deleteFile(artifact)
	}
	return nil
}

// fail moves a non-terminal job to failed and credits its reservation back
// in the same transaction. guard, when set, must still hold for the locked
// row. It reports whether this call performed the transition.
func (r *Runner) fail(ctx context.Context, jobID, detail string, guard func(*domain.Job) bool) (bool, error) {
	ctx, cancel := r.finalizeContext(ctx)
	defer cancel()

	failed := false
	err := r.store.WithTx(ctx, func(tx storage.Tx) error {
		job, err := tx.LockJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job.Status.Terminal() || (guard != nil && !guard(job)) {
			return nil
		}

		if err := r.ledger.CompensateTx(ctx, tx, job.KeyToken, job.ReservedPages); err != nil {
			return fmt.Errorf("failed to compensate reservation: %w", err)
		}
		if err := job.Fail(detail, r.now()); err != nil {
			return err
		}
		if err := tx.UpdateJob(ctx, job); err != nil {
			return err
		}
		failed = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if failed {
		r.logger.Info("Job failed and reservation compensated",
			slog.String("job_id", jobID),
			slog.String("detail", detail),
		)
	}
	return failed, nil
}

// sendJobHeartbeat periodically refreshes the job's heartbeat so the sweeper
// can tell a live execution from an orphan.
func (r *Runner) sendJobHeartbeat(ctx context.Context, jobID string, done <-chan struct{}) {
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.store.TouchJob(ctx, jobID, r.now()); err != nil {
				r.logger.Warn("Failed to update job heartbeat",
					slog.String("job_id", jobID),
					slog.Any("error", err),
				)
			}
		}
	}
}

func failureDetail(jobCtx, parent context.Context, err error, timeout time.Duration) string {
	switch {
	case parent.Err() != nil:
		return "execution interrupted: " + parent.Err().Error()
	case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
		return fmt.Sprintf("translation timed out after %s", timeout)
	}

	var engineErr *domain.EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Detail
	}
	return err.Error()
}
