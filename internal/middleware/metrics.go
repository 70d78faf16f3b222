package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kentiva/ops-api/internal/service"
)

// Metrics observes request latency and status per route. The scrape endpoint
// itself is excluded so Prometheus polling does not dominate the series.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil || c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		// Unmatched routes collapse into the raw path; matched ones use the
		// route template so ids do not explode label cardinality.
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
