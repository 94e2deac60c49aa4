package dto

import (
	"time"

	"github.com/cuongbtq/pagekey/internal/domain"
)

// SubmitJobRequest is the multipart form accompanying an uploaded PDF.
type SubmitJobRequest struct {
	Key            string `form:"key" binding:"required"`
	SourceLanguage string `form:"source_language"`
	TranslatePages *int   `form:"translate_pages"`
}

type SubmitJobResponse struct {
	Job     JobDTO      `json:"job"`
	KeyInfo *KeyInfoDTO `json:"key_info,omitempty"`
}

type ListJobsRequest struct {
	Key           string `form:"key"`
	Status        string `form:"status"`
	PaymentStatus string `form:"payment_status"`
	Page          int    `form:"page"`
	PageSize      int    `form:"page_size"`
	IsAdmin       bool   `form:"is_admin"`
}

type ListJobsResponse struct {
	Jobs     []JobDTO    `json:"jobs"`
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	KeyInfo  *KeyInfoDTO `json:"key_info,omitempty"`
}

type UpdateJobStatusRequest struct {
	Status      string  `json:"status" binding:"required"`
	ErrorDetail *string `json:"error_detail"`
}

type UpdatePaymentStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type JobDTO struct {
	JobID          string  `json:"job_id"`
	Filename       string  `json:"filename"`
	TotalPages     int     `json:"total_pages"`
	ReservedPages  int     `json:"reserved_pages"`
	SourceLanguage string  `json:"source_language"`
	Status         string  `json:"status"`
	PaymentStatus  string  `json:"payment_status"`
	ErrorDetail    *string `json:"error_detail,omitempty"`
	HasTranslation bool    `json:"has_translation"`
	Compensated    bool    `json:"compensated"`
	CreatedAt      string  `json:"created_at"`
	StartedAt      *string `json:"started_at,omitempty"`
	FinishedAt     *string `json:"finished_at,omitempty"`
	UpdatedAt      string  `json:"updated_at"`
}

// NewJobDTO converts a job for the wire. Storage paths are never exposed.
func NewJobDTO(job *domain.Job) JobDTO {
	return JobDTO{
		JobID:          job.JobID,
		Filename:       job.Filename,
		TotalPages:     job.TotalPages,
		ReservedPages:  job.ReservedPages,
		SourceLanguage: string(job.Language),
		Status:         string(job.Status),
		PaymentStatus:  string(job.PaymentStatus),
		ErrorDetail:    job.ErrorDetail,
		HasTranslation: job.TranslatedPath != nil,
		Compensated:    job.CompensatedAt != nil,
		CreatedAt:      job.CreatedAt.Format(time.RFC3339),
		StartedAt:      formatTime(job.StartedAt),
		FinishedAt:     formatTime(job.FinishedAt),
		UpdatedAt:      job.UpdatedAt.Format(time.RFC3339),
	}
}

func NewJobDTOs(jobs []domain.Job) []JobDTO {
	out := make([]JobDTO, len(jobs))
	for i := range jobs {
		out[i] = NewJobDTO(&jobs[i])
	}
	return out
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
