package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/jengzang/geolens-backend-go/internal/service"
	"github.com/jengzang/geolens-backend-go/pkg/response"
)

// BatchHandler handles HTTP requests for batch jobs
type BatchHandler struct {
	service *service.BatchService
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(service *service.BatchService) *BatchHandler {
	return &BatchHandler{service: service}
}

type batchRequest struct {
	Paths []string `json:"paths" binding:"required,min=1"`
}

// Run handles POST /api/v1/batches. The batch runs within the request;
// a client disconnect cancels the images not yet started.
func (h *BatchHandler) Run(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body", err)
		return
	}

	job, err := h.service.Run(c.Request.Context(), req.Paths)
	if err != nil {
		fail(c, "Failed to run batch", err)
		return
	}
	response.Success(c, job)
}

// Get handles GET /api/v1/batches/:id
func (h *BatchHandler) Get(c *gin.Context) {
	job, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, "Batch job not found", err)
		return
	}
	response.Success(c, job)
}
