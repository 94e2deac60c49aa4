package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/pagekey/internal/api/dto"
	"github.com/cuongbtq/pagekey/internal/domain"
	"github.com/cuongbtq/pagekey/internal/filestore"
)

// PageCountHeader carries the page count of a document rejected for lack of credit
const PageCountHeader = "X-PDF-Page-Count"

// respondError maps domain errors onto HTTP statuses. Anything unrecognized
// is logged and reported as a 500 without its message.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	var (
		validationErr   *domain.ValidationError
		insufficientErr *domain.InsufficientBalanceError
	)

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: validationErr.Error(),
			Code:  "validation_failed",
			Field: validationErr.Field,
		})
	case errors.As(err, &insufficientErr):
		if insufficientErr.DocumentPages > 0 {
			c.Header(PageCountHeader, strconv.Itoa(insufficientErr.DocumentPages))
		}
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":     err.Error(),
			"code":      "insufficient_balance",
			"available": insufficientErr.Available,
			"requested": insufficientErr.Requested,
		})
	case errors.Is(err, domain.ErrKeyExpired):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error(), Code: "key_expired"})
	case errors.Is(err, domain.ErrKeyInactive):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error(), Code: "key_inactive"})
	case errors.Is(err, domain.ErrPartialKeySet):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error(), Code: "partial_key_set"})
	case errors.Is(err, domain.ErrInvalidDocument):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error(), Code: "invalid_document"})
	case errors.Is(err, domain.ErrKeyNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: err.Error(), Code: "key_not_found"})
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: err.Error(), Code: "job_not_found"})
	case errors.Is(err, domain.ErrInvalidTransition):
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: err.Error(), Code: "invalid_transition"})
	case errors.Is(err, domain.ErrJobInFlight):
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: err.Error(), Code: "job_in_flight"})
	case errors.Is(err, filestore.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{Error: err.Error(), Code: "file_too_large"})
	default:
		logger.Error("Request failed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Any("error", err),
		)
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error: "internal server error",
			Code:  "internal_error",
		})
	}
}

// badRequest reports a malformed request body or query string
func badRequest(c *gin.Context, logger *slog.Logger, message string, err error) {
	logger.Warn(message, slog.Any("error", err))
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{
		Error: message,
		Code:  "invalid_request",
	})
}
