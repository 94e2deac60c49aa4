package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrKeyNotFound is returned when a credit key token does not resolve to a stored key
	ErrKeyNotFound = errors.New("key not found")

	// ErrKeyInactive is returned when a key was deactivated or its balance is exhausted
	ErrKeyInactive = errors.New("key inactive")

	// ErrKeyExpired is returned when a key is past its expiry. It also matches ErrKeyInactive.
	ErrKeyExpired = fmt.Errorf("%w: key expired", ErrKeyInactive)

	// ErrInsufficientBalance is returned when a reservation exceeds the key balance
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrPartialKeySet is returned when some source keys of a merge could not be resolved
	ErrPartialKeySet = errors.New("some source keys are missing or inactive")

	// ErrKeyExists is returned when a freshly issued token collides with a stored key
	ErrKeyExists = errors.New("key already exists")

	// ErrInvalidDocument is returned when the page count of a document cannot be determined
	ErrInvalidDocument = errors.New("invalid document")

	// ErrEngineFailure is returned when the translation engine fails, times out or crashes
	ErrEngineFailure = errors.New("translation engine failure")

	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotPending is returned when attempting to claim a job that is not in PENDING status
	ErrJobNotPending = errors.New("job already claimed or not in pending status")

	// ErrJobInFlight is returned when deleting a job that has not reached a terminal status
	ErrJobInFlight = errors.New("job is still in flight")

	// ErrInvalidTransition is returned when a status change is not an edge of the state machine
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrValidation is returned when input is rejected before any state mutation
	ErrValidation = errors.New("validation failed")
)

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	Token     string
	Available int
	Requested int
	// DocumentPages is the page count of the rejected document, when known.
	DocumentPages int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: key has %d pages, requested %d", e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// EngineError carries the failure detail reported for a translation run.
type EngineError struct {
	Detail string
}

func (e *EngineError) Error() string {
	return "translation engine failure: " + e.Detail
}

func (e *EngineError) Unwrap() error {
	return ErrEngineFailure
}

// NewEngineError wraps err as an engine failure.
func NewEngineError(err error) error {
	if err == nil {
		return nil
	}
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return err
	}
	return &EngineError{Detail: err.Error()}
}

// ValidationError describes a single rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// TransitionError reports a rejected status change.
type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsNotFound reports whether err means a key or job does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound) || errors.Is(err, ErrJobNotFound)
}

// IsClientError reports whether err was caused by the caller's input or key state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidDocument) ||
		errors.Is(err, ErrKeyInactive) ||
		errors.Is(err, ErrPartialKeySet) ||
		errors.Is(err, ErrInsufficientBalance)
}
