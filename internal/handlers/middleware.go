package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/imrishuroy/bitsmart-orderflow/internal/logger"
)

const requestIDHeader = "X-Request-Id"

// RequestContext tags the request context with a request id and logs the
// start and completion of every request.
func RequestContext(log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.Nop()
	}
	return func(c *gin.Context) {
		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(requestIDHeader, reqID)

		ctx := log.WithRequestID(c.Request.Context(), reqID)
		ctx = log.WithFields(ctx, map[string]any{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		})
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		log.Debug(ctx, "request.start")
		c.Next()

		log.Info(log.WithFields(c.Request.Context(), map[string]any{
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}), "request.complete")
	}
}
