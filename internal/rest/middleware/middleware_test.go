package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flexprice/dealpay/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRequestSurface(t *testing.T) {
	assert.Equal(t, "stripe_webhook", requestSurface("/webhooks/stripe"))
	assert.Equal(t, "hubspot_webhook", requestSurface("/webhooks/hubspot"))
	assert.Equal(t, "api", requestSurface("/v1/deals/:id/cleanup"))
}

func TestDisabledObservabilityPassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.GetDefaultConfig()
	cfg.Sentry.Enabled = false

	router := gin.New()
	router.Use(SentryMiddleware(cfg), PyroscopeMiddleware(nil))
	router.GET("/v1/deals/:id/payments", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/deals/42/payments", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}
