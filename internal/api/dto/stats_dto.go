package dto

import (
	"github.com/cuongbtq/pagekey/internal/domain"
	"github.com/cuongbtq/pagekey/internal/query"
)

type StatisticsResponse struct {
	Processing   map[string]int `json:"processing"`
	Payment      map[string]int `json:"payment"`
	TotalJobs    int            `json:"total_jobs"`
	ActiveKeys   int            `json:"active_keys"`
	InactiveKeys int            `json:"inactive_keys"`
}

// NewStatisticsResponse lists every status, including those with no jobs.
func NewStatisticsResponse(stats *query.Statistics) StatisticsResponse {
	processing := make(map[string]int, len(domain.ProcessingStatuses))
	for _, s := range domain.ProcessingStatuses {
		processing[string(s)] = stats.ProcessingCounts[s]
	}

	payment := make(map[string]int, len(domain.PaymentStatuses))
	for _, s := range domain.PaymentStatuses {
		payment[string(s)] = stats.PaymentCounts[s]
	}

	return StatisticsResponse{
		Processing:   processing,
		Payment:      payment,
		TotalJobs:    stats.TotalJobs,
		ActiveKeys:   stats.ActiveKeys,
		InactiveKeys: stats.InactiveKeys,
	}
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}
