package runner

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/pagekey/internal/domain"
	"github.com/cuongbtq/pagekey/internal/storage"
)

// SetStatus overrides a job's processing status for engine callbacks and
// manual correction. The change must be an edge of the state machine;
// setting the current status is a no-op. It never touches the ledger.
func (r *Runner) SetStatus(ctx context.Context, jobID, status string, errorDetail *string) (*domain.Job, error) {
	to, err := domain.ParseProcessingStatus(status)
	if err != nil {
		return nil, err
	}

	var job *domain.Job
	err = r.store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		job, err = tx.LockJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job.Status == to {
			return nil
		}

		from := job.Status
		if err := job.Transition(to, r.now()); err != nil {
			return err
		}
		if errorDetail != nil {
			job.ErrorDetail = errorDetail
		}
		if err := tx.UpdateJob(ctx, job); err != nil {
			return err
		}

		r.logger.Info("Job status overridden",
			slog.String("job_id", jobID),
			slog.String("from", string(from)),
			slog.String("to", string(to)),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// SetPaymentStatus moves a job along the payment state machine.
func (r *Runner) SetPaymentStatus(ctx context.Context, jobID, status string) (*domain.Job, error) {
	to, err := domain.ParsePaymentStatus(status)
	if err != nil {
		return nil, err
	}

	var job *domain.Job
	err = r.store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		job, err = tx.LockJob(ctx, jobID)
		if err != nil {
			return err
		}
		if err := job.SetPayment(to, r.now()); err != nil {
			return err
		}
		return tx.UpdateJob(ctx, job)
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("Job payment status updated",
		slog.String("job_id", jobID),
		slog.String("payment_status", string(job.PaymentStatus)),
	)
	return job, nil
}

// DeleteJob removes a finished job and then its artifacts. Jobs that are
// still pending or processing hold a live reservation and are rejected with
// domain.ErrJobInFlight.
func (r *Runner) DeleteJob(ctx context.Context, jobID string) error {
	var job *domain.Job
	err := r.store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		job, err = tx.LockJob(ctx, jobID)
		if err != nil {
			return err
		}
		if !job.Status.Terminal() {
			return domain.ErrJobInFlight
		}
		return tx.DeleteJob(ctx, jobID)
	})
	if err != nil {
		return err
	}

	r.deleteFile(job.SourcePath)
	if job.TranslatedPath != nil {
		r.deleteFile(*job.TranslatedPath)
	}

	r.logger.Info("Job deleted",
		slog.String("job_id", jobID),
	)
	return nil
}
