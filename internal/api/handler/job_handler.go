package handler

import (
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/pagekey/internal/api/dto"
	"github.com/cuongbtq/pagekey/internal/domain"
	"github.com/cuongbtq/pagekey/internal/query"
	"github.com/cuongbtq/pagekey/internal/runner"
)

// Download types
const (
	DownloadOriginal   = "original"
	DownloadTranslated = "translated"
)

// SubmitJob handles POST /api/v1/jobs
// Stores the uploaded PDF, reserves credit and queues the translation.
func (h *JobHandler) SubmitJob(c *gin.Context) {
	var req dto.SubmitJobRequest
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, h.logger, "Invalid form data", err)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		badRequest(c, h.logger, "file is required", err)
		return
	}

	if !strings.EqualFold(filepath.Ext(fileHeader.Filename), ".pdf") {
		respondError(c, h.logger, domain.NewValidationError("file", "only PDF files are accepted"))
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	defer src.Close()

	path, err := h.files.Save(fileHeader.Filename, src)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	ctx := c.Request.Context()
	job, err := h.runner.Submit(ctx, runner.SubmitRequest{
		KeyToken:   req.Key,
		Filename:   fileHeader.Filename,
		SourcePath: path,
		PageLimit:  req.TranslatePages,
		Language:   req.SourceLanguage,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	resp := dto.SubmitJobResponse{Job: dto.NewJobDTO(job)}
	if info, err := h.query.GetKey(ctx, req.Key); err == nil {
		resp.KeyInfo = dto.NewKeyInfoDTO(info)
	} else {
		h.logger.Warn("Failed to load key info after submit",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
	}

	c.JSON(http.StatusAccepted, resp)
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.query.GetJob(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// ListJobs handles GET /api/v1/jobs
// Callers other than admins only see the jobs of the key they present.
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, h.logger, "Invalid query parameters", err)
		return
	}

	if req.Key == "" && !req.IsAdmin {
		respondError(c, h.logger, domain.NewValidationError("key", "is required"))
		return
	}

	ctx := c.Request.Context()

	var keyInfo *dto.KeyInfoDTO
	if req.Key != "" {
		info, err := h.query.GetKey(ctx, req.Key)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		keyInfo = dto.NewKeyInfoDTO(info)
	}

	result, err := h.query.ListJobs(ctx, query.JobQuery{
		Page:          query.Page{Page: req.Page, Size: req.PageSize},
		KeyToken:      req.Key,
		Status:        req.Status,
		PaymentStatus: req.PaymentStatus,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:     dto.NewJobDTOs(result.Items),
		Total:    result.Total,
		Page:     result.Page,
		PageSize: result.Size,
		KeyInfo:  keyInfo,
	})
}

// UpdateJobStatus handles PUT /api/v1/jobs/:job_id/status
// Administrative override. It never moves credit.
func (h *JobHandler) UpdateJobStatus(c *gin.Context) {
	var req dto.UpdateJobStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "Invalid request body", err)
		return
	}

	job, err := h.runner.SetStatus(c.Request.Context(), c.Param("job_id"), req.Status, req.ErrorDetail)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// UpdatePaymentStatus handles PUT /api/v1/jobs/:job_id/payment
func (h *JobHandler) UpdatePaymentStatus(c *gin.Context) {
	var req dto.UpdatePaymentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "Invalid request body", err)
		return
	}

	job, err := h.runner.SetPaymentStatus(c.Request.Context(), c.Param("job_id"), req.Status)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// DeleteJob handles DELETE /api/v1/jobs/:job_id
// Only finished jobs can be deleted.
func (h *JobHandler) DeleteJob(c *gin.Context) {
	if err := h.runner.DeleteJob(c.Request.Context(), c.Param("job_id")); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// DownloadJob handles GET /api/v1/jobs/:job_id/download?type=original|translated
func (h *JobHandler) DownloadJob(c *gin.Context) {
	kind := c.DefaultQuery("type", DownloadOriginal)
	if kind != DownloadOriginal && kind != DownloadTranslated {
		respondError(c, h.logger, domain.NewValidationError("type", "must be %q or %q", DownloadOriginal, DownloadTranslated))
		return
	}

	job, err := h.query.GetJob(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	path, name := job.SourcePath, job.Filename
	if kind == DownloadTranslated {
		if job.TranslatedPath == nil {
			respondError(c, h.logger, domain.NewValidationError("type", "translation is not available for a %s job", job.Status))
			return
		}
		path, name = *job.TranslatedPath, "translated_"+job.Filename
	}

	if !h.files.Exists(path) {
		h.logger.Warn("Job artifact missing on disk",
			slog.String("job_id", job.JobID),
			slog.String("type", kind),
		)
		c.JSON(http.StatusNotFound, dto.ErrorResponse{
			Error: "file not found",
			Code:  "file_not_found",
		})
		return
	}

	c.Header("Content-Type", "application/pdf")
	c.FileAttachment(path, name)
}
