package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jengzang/geolens-backend-go/internal/metrics"
)

// Metrics counts requests by route template, so /images/:hash is one series
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequest(c.Request.Method, route, strconv.Itoa(c.Writer.Status()))
	}
}
