package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// HTTPMetricsMiddleware creates a Gin middleware that records HTTP metrics
func HTTPMetricsMiddleware(m Recorder) gin.HandlerFunc {
	// If NoopMetrics, return a lightweight middleware that does nothing
	if _, ok := m.(*NoopMetrics); ok {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		// Skip metrics endpoint to avoid self-recording
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		m.IncHTTPInFlight()
		defer m.DecHTTPInFlight()

		c.Next()

		method := c.Request.Method
		path := c.FullPath() // route pattern, not actual path
		if path == "" {
			path = "unknown"
		}
		status := strconv.Itoa(c.Writer.Status())

		m.RecordHTTPRequest(method, path, status, time.Since(start))
	}
}
