package middleware

import (
	"net/http"
	"time"

	"github.com/flexprice/dealpay/internal/config"
	"github.com/flexprice/dealpay/internal/types"
	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
)

// SentryMiddleware gives every request its own hub tagged with the request id
// and the deal it addresses. Handler errors that end in a 5xx are reported
// once the request is served; panics are reported and re-raised.
func SentryMiddleware(cfg *config.Configuration) gin.HandlerFunc {
	if !cfg.Sentry.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	recoverer := sentrygin.New(sentrygin.Options{
		Repanic: true,
		Timeout: 2 * time.Second,
	})

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		hub := sentry.CurrentHub().Clone()
		hub.ConfigureScope(func(scope *sentry.Scope) {
			scope.SetTag("request_id", types.GetRequestID(ctx))
			scope.SetTag("route", c.FullPath())
			if id := c.Param("id"); id != "" {
				scope.SetTag("deal_id", id)
			}
		})
		// sentrygin picks up the hub from the request context
		c.Request = c.Request.WithContext(sentry.SetHubOnContext(ctx, hub))

		recoverer(c)

		if c.Writer.Status() < http.StatusInternalServerError || len(c.Errors) == 0 {
			return
		}
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("status", http.StatusText(c.Writer.Status()))
			if caller := types.GetCaller(c.Request.Context()); caller != "" {
				scope.SetTag("caller", caller)
			}
			hub.CaptureException(c.Errors.Last().Err)
		})
	}
}
