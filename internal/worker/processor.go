package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/pagekey/internal/domain"
)

// processJob runs one job through the executor and logs the outcome
func (w *Worker) processJob(ctx context.Context, msg *jobMessage) error {
	start := time.Now()
	w.logger.Info("Worker received job",
		slog.String("job_id", msg.JobID),
		slog.Uint64("delivery_tag", msg.DeliveryTag),
	)

	err := w.executor.Execute(ctx, msg.JobID)

	switch {
	case err == nil:
		w.logger.Info("Job processed",
			slog.String("job_id", msg.JobID),
			slog.Duration("duration", time.Since(start)),
		)
	case errors.Is(err, domain.ErrEngineFailure):
		w.logger.Warn("Job failed in translation engine",
			slog.String("job_id", msg.JobID),
			slog.Any("error", err),
		)
	case errors.Is(err, domain.ErrJobNotPending):
		w.logger.Warn("Job already claimed, skipping",
			slog.String("job_id", msg.JobID),
		)
	default:
		w.logger.Error("Job processing failed",
			slog.String("job_id", msg.JobID),
			slog.Any("error", err),
		)
	}
	return err
}
