package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/pagekey/internal/domain"
	"github.com/cuongbtq/pagekey/internal/storage"
)

// SubmitRequest describes an uploaded document to translate.
type SubmitRequest struct {
	KeyToken   string `validate:"required"`
	Filename   string `validate:"required"`
	SourcePath string `validate:"required"`
	// PageLimit caps the pages translated, counting from the first page.
	// Nil translates the whole document.
	PageLimit *int `validate:"omitempty,gt=0"`
	Language  string
}

// Submit admits a document: it counts pages, reserves credit and creates a
// pending job in one transaction, then hands the job to the dispatcher.
//
// On any admission failure no job exists, no credit is touched, and the
// uploaded source file is removed. A dispatch failure after the reservation
// fails the job through compensation and is returned as an error.
func (r *Runner) Submit(ctx context.Context, req SubmitRequest) (*domain.Job, error) {
	job, err := r.admit(ctx, req)
	if err != nil {
		r.deleteFile(req.SourcePath)
		return nil, err
	}

	if err := r.dispatcher.Dispatch(ctx, job.JobID); err != nil {
		r.logger.Error("Failed to dispatch job",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
		if _, failErr := r.fail(ctx, job.JobID, "dispatch failed: "+err.Error(), nil); failErr != nil {
			r.logger.Error("Failed to compensate undispatched job",
				slog.String("job_id", job.JobID),
				slog.Any("error", failErr),
			)
		}
		return nil, fmt.Errorf("failed to dispatch job: %w", err)
	}

	r.logger.Info("Job submitted",
		slog.String("job_id", job.JobID),
		slog.Int("total_pages", job.TotalPages),
		slog.Int("reserved_pages", job.ReservedPages),
		slog.String("language", string(job.Language)),
	)
	return job, nil
}

func (r *Runner) admit(ctx context.Context, req SubmitRequest) (*domain.Job, error) {
	if err := domain.ValidateStruct(req); err != nil {
		return nil, err
	}

	lang, err := domain.ParseLanguagePair(req.Language)
	if err != nil {
		return nil, err
	}

	// Reject unusable keys before paying for a page count.
	key, err := r.store.GetKey(ctx, req.KeyToken)
	if err != nil {
		return nil, err
	}
	if err := key.Usable(r.now()); err != nil {
		return nil, err
	}

	total, err := r.counter.PageCount(ctx, req.SourcePath)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidDocument) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to count pages: %w", err)
	}

	pages := total
	if req.PageLimit != nil && *req.PageLimit < total {
		pages = *req.PageLimit
	}

	var job *domain.Job
	err = r.store.WithTx(ctx, func(tx storage.Tx) error {
		if _, err := r.ledger.ReserveTx(ctx, tx, req.KeyToken, pages); err != nil {
			var short *domain.InsufficientBalanceError
			if errors.As(err, &short) {
				short.DocumentPages = total
			}
			return err
		}

		var err error
		job, err = domain.NewJob(req.KeyToken, req.Filename, req.SourcePath, total, pages, lang, r.now())
		if err != nil {
			return err
		}
		return tx.InsertJob(ctx, job)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}
