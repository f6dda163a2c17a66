package monitoring

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// MonitoringMiddleware records request counters and logs each request
func MonitoringMiddleware(metrics *Metrics, logger *Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		metrics.IncrementRequest()

		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()

		metrics.RecordResponseTime(duration)
		metrics.RecordRequestByStatus(statusCode)
		if statusCode >= 400 {
			metrics.IncrementError()
		}

		logger.RequestLogger(c.Request.Method, c.FullPath(), c.ClientIP(), statusCode, duration)
		if duration > 5*time.Second {
			logger.Warn("Slow request", "path", c.FullPath(), "duration_ms", duration.Milliseconds())
		}
	}
}

// Component contributes a named stats block to the health report.
type Component struct {
	Name  string
	Stats func() map[string]interface{}
}

// HealthHandler reports liveness, the current counters and the stats of
// each component.
func HealthHandler(metrics *Metrics, version string, components ...Component) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
			"version":   version,
			"metrics":   metrics.GetStats(),
		}
		if len(components) > 0 {
			stats := make(map[string]interface{}, len(components))
			for _, comp := range components {
				stats[comp.Name] = comp.Stats()
			}
			body["components"] = stats
		}
		c.JSON(http.StatusOK, body)
	}
}
