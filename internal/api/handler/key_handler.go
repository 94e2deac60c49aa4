package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/pagekey/internal/api/dto"
	"github.com/cuongbtq/pagekey/internal/ledger"
	"github.com/cuongbtq/pagekey/internal/query"
)

// IssueKey handles POST /api/v1/keys
func (h *KeyHandler) IssueKey(c *gin.Context) {
	var req dto.IssueKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "Invalid request body", err)
		return
	}

	key, err := h.ledger.Issue(c.Request.Context(), ledger.IssueRequest{
		Pages:     req.Pages,
		MaxUses:   req.MaxUses,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewKeyDTO(key))
}

// GetKey handles GET /api/v1/keys/:key
// Returns the key with its consumed and total pages.
func (h *KeyHandler) GetKey(c *gin.Context) {
	info, err := h.query.GetKey(c.Request.Context(), c.Param("key"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewKeyInfoDTO(info))
}

// ListKeys handles GET /api/v1/keys
func (h *KeyHandler) ListKeys(c *gin.Context) {
	var req dto.ListKeysRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, h.logger, "Invalid query parameters", err)
		return
	}

	result, err := h.query.ListKeys(c.Request.Context(), query.Page{Page: req.Page, Size: req.PageSize}, req.Active)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.ListKeysResponse{
		Keys:     dto.NewKeyDTOs(result.Items),
		Total:    result.Total,
		Page:     result.Page,
		PageSize: result.Size,
	})
}

// MergeKeys handles POST /api/v1/keys/merge
// Moves every source balance into the target, all or nothing.
func (h *KeyHandler) MergeKeys(c *gin.Context) {
	var req dto.MergeKeysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "Invalid request body", err)
		return
	}

	result, err := h.ledger.Merge(c.Request.Context(), ledger.MergeRequest{
		Target:  req.TargetKey,
		Sources: req.SourceKeys,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info("Keys merged via API",
		slog.Int("merged_keys", len(result.MergedTokens)),
		slog.Int("merged_pages", result.MergedPages),
	)

	c.JSON(http.StatusOK, dto.MergeKeysResponse{
		TargetKey:   result.TargetToken,
		PageBalance: result.PageBalance,
		MergedKeys:  result.MergedTokens,
		MergedPages: result.MergedPages,
	})
}

// DeactivateKey handles POST /api/v1/keys/:key/deactivate
func (h *KeyHandler) DeactivateKey(c *gin.Context) {
	key, err := h.ledger.Deactivate(c.Request.Context(), c.Param("key"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewKeyDTO(key))
}
