package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/flexprice/dealpay/internal/api"
	v1 "github.com/flexprice/dealpay/internal/api/v1"
	"github.com/flexprice/dealpay/internal/cache"
	"github.com/flexprice/dealpay/internal/config"
	"github.com/flexprice/dealpay/internal/currency"
	"github.com/flexprice/dealpay/internal/domain/crm"
	"github.com/flexprice/dealpay/internal/domain/gateway"
	"github.com/flexprice/dealpay/internal/domain/payment"
	"github.com/flexprice/dealpay/internal/httpclient"
	"github.com/flexprice/dealpay/internal/integration/hubspot"
	hubspotwebhook "github.com/flexprice/dealpay/internal/integration/hubspot/webhook"
	"github.com/flexprice/dealpay/internal/integration/stripe"
	"github.com/flexprice/dealpay/internal/lock"
	"github.com/flexprice/dealpay/internal/logger"
	"github.com/flexprice/dealpay/internal/postgres"
	"github.com/flexprice/dealpay/internal/pyroscope"
	repository "github.com/flexprice/dealpay/internal/repository/postgres"
	"github.com/flexprice/dealpay/internal/sentry"
	"github.com/flexprice/dealpay/internal/service"
	"github.com/flexprice/dealpay/internal/temporal"
	"github.com/flexprice/dealpay/internal/temporal/activities"
	"github.com/flexprice/dealpay/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

// @title DealPay API
// @version 1.0
// @description Payment links, reconciliation and refunds for CRM deals
// @BasePath /v1
// @schemes http https

func init() {
	// Set UTC timezone for the entire application
	time.Local = time.UTC
}

func main() {
	// Initialize Fx application
	var opts []fx.Option

	// Core dependencies
	opts = append(opts,
		fx.Provide(
			// Config
			config.NewConfig,

			// Logger
			logger.NewLogger,

			// Cache
			provideCache,

			// Postgres
			postgres.NewDB,
			postgres.NewClient,

			// HTTP Client
			httpclient.NewDefaultClient,

			// Locks
			provideLocker,
			lock.NewService,

			// Currency
			currency.NewNBPProvider,
			provideRateProvider,
			currency.NewConverter,

			// Repositories
			repository.NewPaymentRepository,

			// Integrations
			hubspot.NewClient,
			provideCRM,
			stripe.NewGateway,
			provideGateway,
		),
		sentry.Module(),
		pyroscope.Module(),
	)

	// Service layer
	opts = append(opts,
		fx.Provide(
			service.NewServiceParams,

			service.NewPaymentStateAnalyzer,
			service.NewStageSyncService,
			service.NewCheckoutService,
			service.NewReconciliationService,
			service.NewRefundService,
			service.NewProcessorService,
			service.NewWebhookService,
		),
	)

	// API and Temporal
	opts = append(opts,
		fx.Provide(
			provideHandlers,
			api.NewRouter,
			temporal.NewTemporalClient,
			activities.NewPaymentActivities,
			temporal.NewWorker,
			temporal.NewScheduler,
		),
		fx.Invoke(
			closeDB,
			startServer,
		),
	)

	app := fx.New(opts...)
	app.Run()
}

func provideCache() cache.Cache {
	return cache.NewInMemoryCache()
}

func provideLocker(cfg *config.Configuration, log *logger.Logger) lock.Locker {
	if cfg.Lock.Backend == types.LockBackendRedis {
		return lock.NewRedisLocker(lock.NewRedisClient(cfg), log)
	}
	log.Warnw("using in-process locks, run a single replica only", "backend", cfg.Lock.Backend)
	return lock.NewMemoryLocker()
}

func provideRateProvider(provider *currency.NBPProvider) currency.RateProvider {
	return provider
}

func provideCRM(client *hubspot.Client) crm.Client {
	return client
}

func provideGateway(gw *stripe.Gateway) gateway.Gateway {
	return gw
}

func provideHubSpotWebhookHandler(
	processor service.ProcessorService,
	scheduler *temporal.Scheduler,
	cfg *config.Configuration,
	logger *logger.Logger,
) *hubspotwebhook.Handler {
	return hubspotwebhook.NewHandler(processor, scheduler, cfg, logger)
}

func provideHandlers(
	logger *logger.Logger,
	processor service.ProcessorService,
	stages service.StageSyncService,
	webhooks service.WebhookService,
	repo payment.Repository,
	gw *stripe.Gateway,
	hubspotClient *hubspot.Client,
	hubspotHandler *hubspotwebhook.Handler,
) api.Handlers {
	return api.Handlers{
		Health:  v1.NewHealthHandler(),
		Payment: v1.NewPaymentHandler(processor, stages, repo, logger),
		Webhook: v1.NewWebhookHandler(gw, webhooks, hubspotClient, hubspotHandler, logger),
	}
}

func closeDB(lc fx.Lifecycle, db *postgres.DB) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			db.Close()
			return nil
		},
	})
}

type serverParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Configuration
	Router    *gin.Engine
	Client    *temporal.TemporalClient
	Worker    *temporal.Worker
	Scheduler *temporal.Scheduler
	Logger    *logger.Logger
}

func startServer(p serverParams) {
	mode := p.Config.Deployment.Mode
	if mode == "" {
		mode = types.ModeLocal
	}

	switch mode {
	case types.ModeLocal:
		startAPIServer(p.Lifecycle, p.Router, p.Config, p.Logger)
		startTemporalWorker(p.Lifecycle, p.Client, p.Worker, p.Scheduler, p.Logger)
	case types.ModeAPI:
		startAPIServer(p.Lifecycle, p.Router, p.Config, p.Logger)
	case types.ModeTemporalWorker:
		startTemporalWorker(p.Lifecycle, p.Client, p.Worker, p.Scheduler, p.Logger)
	default:
		p.Logger.Fatalf("Unknown deployment mode: %s", mode)
	}
}

func startTemporalWorker(
	lc fx.Lifecycle,
	client *temporal.TemporalClient,
	worker *temporal.Worker,
	scheduler *temporal.Scheduler,
	log *logger.Logger,
) {
	worker.RegisterWithLifecycle(lc)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return scheduler.EnsureSchedule(ctx)
		},
		OnStop: func(ctx context.Context) error {
			log.Info("Closing temporal client...")
			client.Close()
			return nil
		},
	})
}

func startAPIServer(
	lc fx.Lifecycle,
	r *gin.Engine,
	cfg *config.Configuration,
	log *logger.Logger,
) {
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("Registering API server start hook")
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("Starting API server...", "address", cfg.Server.Address)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatalf("Failed to start server: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("Shutting down server...")
			return srv.Shutdown(ctx)
		},
	})
}
