package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/jengzang/geolens-backend-go/internal/service"
	"github.com/jengzang/geolens-backend-go/pkg/response"
)

// HeatmapHandler handles HTTP requests for multi-image heatmaps
type HeatmapHandler struct {
	service *service.HeatmapService
}

// NewHeatmapHandler creates a new heatmap handler
func NewHeatmapHandler(service *service.HeatmapService) *HeatmapHandler {
	return &HeatmapHandler{service: service}
}

type heatmapRequest struct {
	Hashes    []string `json:"hashes" binding:"required,min=1"`
	Threshold *float64 `json:"threshold"`
}

// Generate handles POST /api/v1/heatmap
func (h *HeatmapHandler) Generate(c *gin.Context) {
	var req heatmapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body", err)
		return
	}
	if req.Threshold != nil && !(*req.Threshold > 0 && *req.Threshold <= 1) {
		response.BadRequest(c, "threshold must be in (0, 1]", nil)
		return
	}

	out, err := h.service.Generate(c.Request.Context(), req.Hashes, req.Threshold)
	if err != nil {
		fail(c, "Failed to generate heatmap", err)
		return
	}
	response.Success(c, out)
}
