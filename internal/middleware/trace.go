package middleware

import (
	"recoverflow/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	TraceHeader = "X-Trace-ID"
	TraceKey    = "TraceID"
)

// TraceMiddleware reuses the caller's trace id or mints one, and carries it
// into the request context so outbox rows are stamped with it.
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(TraceHeader)
		if traceID == "" {
			traceID = uuid.New().String()
		}
		c.Set(TraceKey, traceID)
		c.Writer.Header().Set(TraceHeader, traceID)
		c.Request = c.Request.WithContext(service.WithTraceID(c.Request.Context(), traceID))
		c.Next()
	}
}
