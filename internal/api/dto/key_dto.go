package dto

import (
	"time"

	"github.com/cuongbtq/pagekey/internal/domain"
	"github.com/cuongbtq/pagekey/internal/query"
)

type IssueKeyRequest struct {
	Pages     int        `json:"pages"`
	MaxUses   int        `json:"max_uses"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type MergeKeysRequest struct {
	TargetKey  string   `json:"target_key" binding:"required"`
	SourceKeys []string `json:"source_keys" binding:"required"`
}

type MergeKeysResponse struct {
	TargetKey   string   `json:"target_key"`
	PageBalance int      `json:"page_balance"`
	MergedKeys  []string `json:"merged_keys"`
	MergedPages int      `json:"merged_pages"`
}

type ListKeysRequest struct {
	Page     int   `form:"page"`
	PageSize int   `form:"page_size"`
	Active   *bool `form:"active"`
}

type ListKeysResponse struct {
	Keys     []KeyDTO `json:"keys"`
	Total    int      `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
}

type KeyDTO struct {
	Key         string  `json:"key"`
	PageBalance int     `json:"page_balance"`
	UsedCount   int     `json:"used_count"`
	MaxUses     int     `json:"max_uses"`
	IsActive    bool    `json:"is_active"`
	Deactivated bool    `json:"deactivated"`
	CreatedAt   string  `json:"created_at"`
	ExpiresAt   *string `json:"expires_at,omitempty"`
}

// KeyInfoDTO adds the consumption summary to a key.
type KeyInfoDTO struct {
	KeyDTO
	ConsumedPages int `json:"consumed_pages"`
	TotalPages    int `json:"total_pages"`
}

func NewKeyDTO(key *domain.Key) KeyDTO {
	return KeyDTO{
		Key:         key.Token,
		PageBalance: key.PageBalance,
		UsedCount:   key.UsedCount,
		MaxUses:     key.MaxUses,
		IsActive:    key.IsActive,
		Deactivated: key.Deactivated,
		CreatedAt:   key.CreatedAt.Format(time.RFC3339),
		ExpiresAt:   formatTime(key.ExpiresAt),
	}
}

func NewKeyDTOs(keys []domain.Key) []KeyDTO {
	out := make([]KeyDTO, len(keys))
	for i := range keys {
		out[i] = NewKeyDTO(&keys[i])
	}
	return out
}

// NewKeyInfoDTO reports effective activity, which also accounts for expiry.
func NewKeyInfoDTO(info *query.KeyInfo) *KeyInfoDTO {
	k := NewKeyDTO(info.Key)
	k.IsActive = info.Active
	return &KeyInfoDTO{
		KeyDTO:        k,
		ConsumedPages: info.ConsumedPages,
		TotalPages:    info.TotalPages,
	}
}
