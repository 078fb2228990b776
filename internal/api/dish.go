package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pageza/nibble/backend/internal/dish"
	"github.com/pageza/nibble/backend/internal/errortypes"
	"github.com/pageza/nibble/backend/internal/types"
)

// DishIdentifier runs dish inference.
type DishIdentifier interface {
	IdentifyFromNeighbors(ctx context.Context, imageB64 string, topK int) (*dish.Result, error)
	IdentifyHybrid(ctx context.Context, imageB64 string, opts dish.HybridOptions) (*dish.Result, error)
}

// DishHandler handles dish identification requests
type DishHandler struct {
	dishes DishIdentifier
	logger *zap.Logger
}

// NewDishHandler creates a new DishHandler instance
func NewDishHandler(dishes DishIdentifier, logger *zap.Logger) *DishHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DishHandler{dishes: dishes, logger: logger.Named("api")}
}

// RegisterRoutes registers the dish routes behind guards, which run in order
// before each handler.
func (h *DishHandler) RegisterRoutes(router *gin.RouterGroup, guards ...gin.HandlerFunc) {
	dishes := router.Group("/dishes")
	dishes.Use(guards...)
	{
		dishes.POST("/identify", h.Identify)
		dishes.POST("/identify/hybrid", h.IdentifyHybrid)
	}
}

// Identify summarises the reference dishes closest to a photo
func (h *DishHandler) Identify(c *gin.Context) {
	var req types.IdentifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	result, err := h.dishes.IdentifyFromNeighbors(c.Request.Context(), req.ImageB64, req.TopK)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, types.IdentifyResponse{
		RequestID: result.RequestID,
		Neighbors: result.Neighbors,
		Summary:   result.Summary,
		Estimate:  h.estimate(result),
	})
}

// IdentifyHybrid re-ranks the closest reference dishes by ingredient
// similarity before summarising them
func (h *DishHandler) IdentifyHybrid(c *gin.Context) {
	var req types.HybridIdentifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	result, err := h.dishes.IdentifyHybrid(c.Request.Context(), req.ImageB64, dish.HybridOptions{
		TopK:  req.TopK,
		Alpha: req.Alpha,
		Beta:  req.Beta,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	var neighbors any = result.Ranked
	if result.Ranked == nil {
		neighbors = result.Neighbors
	}
	c.JSON(http.StatusOK, types.IdentifyResponse{
		RequestID: result.RequestID,
		Neighbors: neighbors,
		Summary:   result.Summary,
		Estimate:  h.estimate(result),
	})
}

// estimate parses the summary on a best-effort basis.
func (h *DishHandler) estimate(result *dish.Result) *dish.DishEstimate {
	if result.Summary == nil {
		return nil
	}
	est, err := dish.ParseEstimate(*result.Summary)
	if err != nil {
		h.logger.Debug("summary is not a parseable estimate",
			zap.String("request_id", result.RequestID), zap.Error(err))
		return nil
	}
	return est
}

func (h *DishHandler) badRequest(c *gin.Context, err error) {
	h.logger.Debug("invalid request body", zap.Error(err))
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request",
		"message": "body must be a JSON object with a non-empty image_b64",
	})
}

// fail maps pipeline errors to HTTP statuses.
func (h *DishHandler) fail(c *gin.Context, err error) {
	status, label := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("dish identification failed", zap.Int("status", status), zap.Error(err))
	} else {
		h.logger.Info("dish identification rejected", zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": label, "message": err.Error()})
}

func statusFor(err error) (int, string) {
	switch errortypes.KindOf(err) {
	case errortypes.KindInvalidInput:
		return http.StatusBadRequest, "Invalid request"
	case errortypes.KindInvalidImage:
		return http.StatusBadRequest, "Invalid image"
	case errortypes.KindModelLoad:
		return http.StatusServiceUnavailable, "Model unavailable"
	case errortypes.KindRetrieval:
		return http.StatusBadGateway, "Retrieval failed"
	case errortypes.KindSummarization:
		return http.StatusBadGateway, "Summarization failed"
	case errortypes.KindTimeout:
		return http.StatusGatewayTimeout, "Request timed out"
	default:
		return http.StatusInternalServerError, "Internal Server Error"
	}
}
