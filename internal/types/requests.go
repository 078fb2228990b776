package types

import "github.com/pageza/nibble/backend/internal/dish"

// IdentifyRequest represents the request body for neighbor-only identification
type IdentifyRequest struct {
	ImageB64 string `json:"image_b64" binding:"required"`
	TopK     int    `json:"top_k"`
}

// HybridIdentifyRequest represents the request body for hybrid identification
type HybridIdentifyRequest struct {
	ImageB64 string   `json:"image_b64" binding:"required"`
	TopK     int      `json:"top_k"`
	Alpha    *float64 `json:"alpha"`
	Beta     *float64 `json:"beta"`
}

// IdentifyResponse is returned by both identification routes. Neighbors holds
// the re-ranked dishes for hybrid requests.
type IdentifyResponse struct {
	RequestID string             `json:"request_id"`
	Neighbors any                `json:"neighbors"`
	Summary   *string            `json:"summary"`
	Estimate  *dish.DishEstimate `json:"estimate,omitempty"`
}
