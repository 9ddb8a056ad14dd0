package middleware

import (
	"github.com/gin-gonic/gin"

	apperrors "github.com/kbukum/taskguard/errors"
	"github.com/kbukum/taskguard/resilience"
)

// KeyFunc extracts the rate limit key from a request.
type KeyFunc func(*gin.Context) string

// IPBasedKey keys requests by client IP.
func IPBasedKey(c *gin.Context) string {
	return c.ClientIP()
}

// RateLimit rejects requests with 429 once the key's token bucket is
// empty. A nil key func keys by client IP.
func RateLimit(limiter *resilience.KeyedRateLimiter, key KeyFunc) gin.HandlerFunc {
	if key == nil {
		key = IPBasedKey
	}
	return func(c *gin.Context) {
		if !limiter.Allow(key(c)) {
			appErr := apperrors.RateLimited()
			c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.ToResponse())
			return
		}
		c.Next()
	}
}
