package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/kristofferous/ComfortcloudPanasonicApp/internal/idgen"
)

const RequestIDKey = "X-Request-ID"

// RequestID injects a unique request ID into each request context, keeping
// a caller-provided one when present.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDKey)
		if requestID == "" {
			requestID = idgen.NewRequestID()
		}
		c.Header(RequestIDKey, requestID)
		c.Set(RequestIDKey, requestID)
		c.Next()
	}
}
