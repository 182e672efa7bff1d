package api

import (
	v1 "github.com/flexprice/dealpay/internal/api/v1"
	"github.com/flexprice/dealpay/internal/config"
	"github.com/flexprice/dealpay/internal/logger"
	"github.com/flexprice/dealpay/internal/pyroscope"
	"github.com/flexprice/dealpay/internal/rest/middleware"
	"github.com/flexprice/dealpay/internal/types"
	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Health  *v1.HealthHandler
	Payment *v1.PaymentHandler
	Webhook *v1.WebhookHandler
}

func NewRouter(handlers Handlers, cfg *config.Configuration, profiler *pyroscope.Service, logger *logger.Logger) *gin.Engine {
	if cfg.Deployment.Mode != types.ModeLocal {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware,
		middleware.SentryMiddleware(cfg),
		middleware.PyroscopeMiddleware(profiler),
		middleware.RequestLogger(logger),
		middleware.ErrorHandler(),
	)

	router.GET("/health", handlers.Health.Health)

	// v1 routes
	v1Group := router.Group("/v1")
	registerV1Routes(v1Group, handlers, middleware.APIKeyMiddleware(cfg, logger))

	return router
}

func registerV1Routes(router *gin.RouterGroup, handlers Handlers, auth gin.HandlerFunc) {
	payments := router.Group("/payments", auth)
	{
		payments.POST("/process", handlers.Payment.Process)
	}

	deals := router.Group("/deals", auth)
	{
		deals.GET("/:id/payments", handlers.Payment.GetDealLedger)
		deals.POST("/:id/stage/sync", handlers.Payment.SyncStage)
		deals.POST("/:id/cleanup", handlers.Payment.CleanupDeal)
	}

	// webhooks authenticate by signature, never by api key
	webhooks := router.Group("/webhooks")
	{
		webhooks.POST("/stripe", handlers.Webhook.HandleStripeWebhook)
		webhooks.POST("/hubspot", handlers.Webhook.HandleHubSpotWebhook)
	}
}
