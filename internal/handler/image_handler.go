package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/jengzang/geolens-backend-go/internal/models"
	"github.com/jengzang/geolens-backend-go/internal/service"
	"github.com/jengzang/geolens-backend-go/pkg/response"
)

// ImageHandler handles HTTP requests for single-image results
type ImageHandler struct {
	service *service.PredictionService
	debug   bool
}

// NewImageHandler creates a new image handler. In debug mode persistence
// warnings are included in responses.
func NewImageHandler(service *service.PredictionService, debug bool) *ImageHandler {
	return &ImageHandler{service: service, debug: debug}
}

type ingestRequest struct {
	Predictions []models.PredictionPoint `json:"predictions"`
	GPS         *models.GPSPoint         `json:"gps"`
	Device      string                   `json:"device"`
}

type locateRequest struct {
	Path string `json:"path" binding:"required"`
}

func (h *ImageHandler) render(c *gin.Context, located *service.Located) {
	body := gin.H{
		"content_hash": located.ContentHash,
		"result":       located.Result,
		"cluster":      located.Cluster,
		"source":       located.Source,
	}
	if h.debug && located.Warning != nil {
		body["warnings"] = []string{located.Warning.Error()}
	}
	response.Success(c, body)
}

// Ingest handles POST /api/v1/images/:hash/predictions
func (h *ImageHandler) Ingest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body", err)
		return
	}

	located, err := h.service.Ingest(c.Request.Context(), c.Param("hash"), req.Predictions, req.GPS, req.Device)
	if err != nil {
		fail(c, "Failed to ingest predictions", err)
		return
	}
	h.render(c, located)
}

// Locate handles POST /api/v1/locate
func (h *ImageHandler) Locate(c *gin.Context) {
	var req locateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body", err)
		return
	}

	located, err := h.service.Locate(c.Request.Context(), req.Path)
	if err != nil {
		fail(c, "Failed to locate image", err)
		return
	}
	h.render(c, located)
}

// Get handles GET /api/v1/images/:hash
func (h *ImageHandler) Get(c *gin.Context) {
	located, err := h.service.Get(c.Request.Context(), c.Param("hash"))
	if err != nil {
		fail(c, "Image result not found", err)
		return
	}
	h.render(c, located)
}

// Export handles GET /api/v1/images/:hash/export?path=...
func (h *ImageHandler) Export(c *gin.Context) {
	rows, err := h.service.Export(c.Request.Context(), c.Param("hash"), c.Query("path"))
	if err != nil {
		fail(c, "Failed to export result", err)
		return
	}
	response.Success(c, rows)
}
