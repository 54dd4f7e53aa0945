package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jengzang/geolens-backend-go/internal/cache"
	"github.com/jengzang/geolens-backend-go/pkg/response"
)

// CacheHandler handles cache management requests
type CacheHandler struct {
	cache         *cache.ResultCache
	retentionDays int
}

// NewCacheHandler creates a new cache handler. retentionDays is used when
// an evict request does not name a window.
func NewCacheHandler(c *cache.ResultCache, retentionDays int) *CacheHandler {
	return &CacheHandler{cache: c, retentionDays: retentionDays}
}

// Stats handles GET /api/v1/cache/stats
func (h *CacheHandler) Stats(c *gin.Context) {
	stats, err := h.cache.Statistics(c.Request.Context())
	if err != nil {
		response.InternalError(c, "Failed to get cache statistics", err)
		return
	}
	response.Success(c, stats)
}

// Evict handles POST /api/v1/cache/evict?days=N
func (h *CacheHandler) Evict(c *gin.Context) {
	days := h.retentionDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			response.BadRequest(c, "days must be a non-negative integer", err)
			return
		}
		days = n
	}

	removed, err := h.cache.EvictOlderThan(c.Request.Context(), days)
	if err != nil {
		response.InternalError(c, "Failed to evict cache entries", err)
		return
	}
	response.Success(c, gin.H{"removed": removed, "retention_days": days})
}

// Clear handles DELETE /api/v1/cache
func (h *CacheHandler) Clear(c *gin.Context) {
	removed, err := h.cache.Clear(c.Request.Context())
	if err != nil {
		response.InternalError(c, "Failed to clear cache", err)
		return
	}
	response.Success(c, gin.H{"removed": removed})
}
