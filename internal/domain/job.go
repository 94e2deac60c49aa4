package domain

import (
	"time"

	"github.com/google/uuid"
)

// Job is one document's translation request and its lifecycle state.
type Job struct {
	JobID          string           `db:"job_id"`
	KeyToken       string           `db:"key_token"`
	Filename       string           `db:"filename"`
	SourcePath     string           `db:"source_path"`
	TranslatedPath *string          `db:"translated_path"`
	TotalPages     int              `db:"total_pages"`
	ReservedPages  int              `db:"reserved_pages"`
	Language       LanguagePair     `db:"language"`
	Status         ProcessingStatus `db:"status"`
	PaymentStatus  PaymentStatus    `db:"payment_status"`
	ErrorDetail    *string          `db:"error_detail"`
	CompensatedAt  *time.Time       `db:"compensated_at"`
	StartedAt      *time.Time       `db:"started_at"`
	FinishedAt     *time.Time       `db:"finished_at"`
	HeartbeatAt    time.Time        `db:"heartbeat_at"`
	CreatedAt      time.Time        `db:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at"`
}

// NewJob creates a pending job holding a reservation of reservedPages.
func NewJob(keyToken, filename, sourcePath string, totalPages, reservedPages int, lang LanguagePair, now time.Time) (*Job, error) {
	if totalPages <= 0 {
		return nil, NewValidationError("total_pages", "must be positive, got %d", totalPages)
	}
	if reservedPages <= 0 || reservedPages > totalPages {
		return nil, NewValidationError("reserved_pages", "must be within 1..%d, got %d", totalPages, reservedPages)
	}
	return &Job{
		JobID:         uuid.New().String(),
		KeyToken:      keyToken,
		Filename:      filename,
		SourcePath:    sourcePath,
		TotalPages:    totalPages,
		ReservedPages: reservedPages,
		Language:      lang,
		Status:        StatusPending,
		PaymentStatus: PaymentUnpaid,
		HeartbeatAt:   now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Transition moves the job along an edge of the processing state machine.
func (j *Job) Transition(to ProcessingStatus, now time.Time) error {
	if !j.Status.CanTransitionTo(to) {
		return &TransitionError{From: string(j.Status), To: string(to)}
	}
	j.Status = to
	j.UpdatedAt = now
	switch {
	case to == StatusProcessing:
		j.StartedAt = &now
		j.HeartbeatAt = now
	case to.Terminal():
		j.FinishedAt = &now
	}
	return nil
}

// Complete records the translated artifact and finishes the job.
func (j *Job) Complete(translatedPath string, now time.Time) error {
	if err := j.Transition(StatusCompleted, now); err != nil {
		return err
	}
	j.TranslatedPath = &translatedPath
	return nil
}

// Fail finishes the job with detail. The caller must have released the
// reservation in the same transaction; CompensatedAt records that it did.
func (j *Job) Fail(detail string, now time.Time) error {
	if err := j.Transition(StatusFailed, now); err != nil {
		return err
	}
	j.ErrorDetail = &detail
	j.CompensatedAt = &now
	return nil
}

// SetPayment moves the job along an edge of the payment state machine.
// Setting the current status again is a no-op.
func (j *Job) SetPayment(to PaymentStatus, now time.Time) error {
	if j.PaymentStatus == to {
		return nil
	}
	if !j.PaymentStatus.CanTransitionTo(to) {
		return &TransitionError{From: string(j.PaymentStatus), To: string(to)}
	}
	j.PaymentStatus = to
	j.UpdatedAt = now
	return nil
}
