package middleware

import (
	"context"
	"strings"

	"github.com/flexprice/dealpay/internal/pyroscope"
	"github.com/gin-gonic/gin"
)

// PyroscopeMiddleware labels the CPU samples of a request with its route and
// the surface it came in on. Health checks and unmatched routes stay
// unlabelled. Deal ids are left out to keep label cardinality bounded.
func PyroscopeMiddleware(profiler *pyroscope.Service) gin.HandlerFunc {
	if !profiler.IsEnabled() {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" || route == "/health" {
			c.Next()
			return
		}

		labels := map[string]string{
			"route":   c.Request.Method + " " + route,
			"surface": requestSurface(route),
		}
		profiler.TagWrapper(c.Request.Context(), labels, func(ctx context.Context) {
			c.Request = c.Request.WithContext(ctx)
			c.Next()
		})
	}
}

// requestSurface tells gateway and CRM webhooks apart from operator calls
func requestSurface(route string) string {
	switch {
	case strings.HasPrefix(route, "/webhooks/stripe"):
		return "stripe_webhook"
	case strings.HasPrefix(route, "/webhooks/hubspot"):
		return "hubspot_webhook"
	default:
		return "api"
	}
}
