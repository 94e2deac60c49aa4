package domain

// ProcessingStatus is the technical lifecycle of a job.
type ProcessingStatus string

// Job status constants
const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// ProcessingStatuses lists every processing status in lifecycle order.
var ProcessingStatuses = []ProcessingStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}

var processingEdges = map[ProcessingStatus][]ProcessingStatus{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

// Valid reports whether s is a known processing status.
func (s ProcessingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s ProcessingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether s -> to is an edge of the processing state machine.
// Pending may fail directly when dispatch or recovery gives up before the engine runs.
func (s ProcessingStatus) CanTransitionTo(to ProcessingStatus) bool {
	for _, next := range processingEdges[s] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseProcessingStatus validates a status coming from outside the core.
func ParseProcessingStatus(v string) (ProcessingStatus, error) {
	s := ProcessingStatus(v)
	if !s.Valid() {
		return "", NewValidationError("status", "unknown processing status %q", v)
	}
	return s, nil
}

// PaymentStatus is the billing lifecycle of a job, independent of processing.
type PaymentStatus string

const (
	PaymentUnpaid    PaymentStatus = "unpaid"
	PaymentPaid      PaymentStatus = "paid"
	PaymentCancelled PaymentStatus = "cancelled"
	PaymentRefunded  PaymentStatus = "refunded"
)

// PaymentStatuses lists every payment status.
var PaymentStatuses = []PaymentStatus{PaymentUnpaid, PaymentPaid, PaymentCancelled, PaymentRefunded}

var paymentEdges = map[PaymentStatus][]PaymentStatus{
	PaymentUnpaid: {PaymentPaid, PaymentCancelled},
	PaymentPaid:   {PaymentCancelled, PaymentRefunded},
}

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentUnpaid, PaymentPaid, PaymentCancelled, PaymentRefunded:
		return true
	}
	return false
}

// CanTransitionTo reports whether s -> to is an edge of the payment state machine.
func (s PaymentStatus) CanTransitionTo(to PaymentStatus) bool {
	for _, next := range paymentEdges[s] {
		if next == to {
			return true
		}
	}
	return false
}

// ParsePaymentStatus validates a payment status coming from outside the core.
func ParsePaymentStatus(v string) (PaymentStatus, error) {
	s := PaymentStatus(v)
	if !s.Valid() {
		return "", NewValidationError("payment_status", "unknown payment status %q", v)
	}
	return s, nil
}
