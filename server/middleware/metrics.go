package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/taskguard/observability"
)

// Metrics records every request under its route template so that
// /queues/mail/jobs/1 and /queues/mail/jobs/2 share a series.
func Metrics(m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RecordRequest(c.Request.Context(), c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
