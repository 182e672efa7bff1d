package middleware

import (
	"time"

	"github.com/flexprice/dealpay/internal/logger"
	"github.com/flexprice/dealpay/internal/types"
	"github.com/gin-gonic/gin"
)

// HeaderRequestID carries the request id in both directions
const HeaderRequestID = "X-Request-ID"

func RequestIDMiddleware(c *gin.Context) {
	requestID := c.GetHeader(HeaderRequestID)
	if requestID == "" {
		requestID = types.GenerateUUID()
	}

	ctx := types.SetRequestID(c.Request.Context(), requestID)
	c.Request = c.Request.WithContext(ctx)

	// Add headers for response
	c.Header(HeaderRequestID, requestID)

	c.Next()
}

// RequestLogger logs one line per request once it has been served
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []interface{}{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", types.GetRequestID(c.Request.Context()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "error", c.Errors.Last().Err)
			log.Warnw("request failed", fields...)
			return
		}
		log.Debugw("request served", fields...)
	}
}
