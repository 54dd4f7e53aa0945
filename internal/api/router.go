package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jengzang/geolens-backend-go/internal/config"
	"github.com/jengzang/geolens-backend-go/internal/handler"
	"github.com/jengzang/geolens-backend-go/internal/metrics"
	"github.com/jengzang/geolens-backend-go/internal/middleware"
	"go.uber.org/zap"
)

// Handlers groups the HTTP handlers the router mounts
type Handlers struct {
	Images  *handler.ImageHandler
	Heatmap *handler.HeatmapHandler
	Batches *handler.BatchHandler
	Cache   *handler.CacheHandler
}

// SetupRouter 设置路由. ctx bounds background work owned by middleware.
func SetupRouter(ctx context.Context, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics, h Handlers) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.Logger(logger), middleware.Metrics(m))

	// CORS 中间件
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "GeoLens API is running",
		})
	})
	r.GET("/metrics", gin.WrapH(m.Handler()))

	// API 路由组
	api := r.Group("/api/v1")
	api.Use(middleware.RateLimit(ctx, cfg.Server.RateLimit, time.Minute))
	{
		// 单张图片结果
		images := api.Group("/images")
		{
			images.GET("/:hash", h.Images.Get)
			images.POST("/:hash/predictions", h.Images.Ingest)
			images.GET("/:hash/export", h.Images.Export)
		}
		api.POST("/locate", h.Images.Locate)

		// 多图热力图
		api.POST("/heatmap", h.Heatmap.Generate)

		// 批处理任务
		batches := api.Group("/batches")
		{
			batches.POST("", h.Batches.Run)
			batches.GET("/:id", h.Batches.Get)
		}

		// 缓存管理
		cacheGroup := api.Group("/cache")
		{
			cacheGroup.GET("/stats", h.Cache.Stats)
			admin := cacheGroup.Group("", middleware.RequireAdmin(cfg.Auth.JWTSecret))
			admin.POST("/evict", h.Cache.Evict)
			admin.DELETE("", h.Cache.Clear)
		}
	}

	return r
}
