package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/agentgateway/internal/observability"
)

// Metrics returns a middleware that records request metrics for surface.
// A nil m disables it.
func Metrics(m *observability.Metrics, surface string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}

		m.IncrementActiveRequests(surface)
		start := time.Now()

		c.Next()

		m.DecrementActiveRequests(surface)
		m.RecordRequest(surface, c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start), c.Writer.Size())
	}
}
