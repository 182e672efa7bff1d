package service

import (
	"time"

	"github.com/flexprice/dealpay/internal/cache"
	"github.com/flexprice/dealpay/internal/config"
	"github.com/flexprice/dealpay/internal/currency"
	"github.com/flexprice/dealpay/internal/domain/crm"
	"github.com/flexprice/dealpay/internal/domain/gateway"
	"github.com/flexprice/dealpay/internal/domain/payment"
	"github.com/flexprice/dealpay/internal/idempotency"
	"github.com/flexprice/dealpay/internal/lock"
	"github.com/flexprice/dealpay/internal/logger"
	"github.com/flexprice/dealpay/internal/postgres"
	"github.com/flexprice/dealpay/internal/sentry"
)

// ServiceParams holds common dependencies for services
type ServiceParams struct {
	Logger *logger.Logger
	Config *config.Configuration

	// Ledger
	DB          postgres.IClient
	PaymentRepo payment.Repository

	// Collaborators
	Gateway gateway.Gateway
	CRM     crm.Client

	Lock        *lock.Service
	Converter   *currency.Converter
	Cache       cache.Cache
	Sentry      *sentry.Service
	Idempotency *idempotency.Generator

	// Now is the clock used for schedules, staleness and refund months
	Now func() time.Time
}

// Common service params
func NewServiceParams(
	logger *logger.Logger,
	config *config.Configuration,
	db postgres.IClient,
	paymentRepo payment.Repository,
	gw gateway.Gateway,
	crmClient crm.Client,
	lockService *lock.Service,
	converter *currency.Converter,
	cache cache.Cache,
	sentryService *sentry.Service,
) ServiceParams {
	return ServiceParams{
		Logger:      logger,
		Config:      config,
		DB:          db,
		PaymentRepo: paymentRepo,
		Gateway:     gw,
		CRM:         crmClient,
		Lock:        lockService,
		Converter:   converter,
		Cache:       cache,
		Sentry:      sentryService,
		Idempotency: idempotency.NewGenerator(),
		Now:         time.Now,
	}
}

func (p ServiceParams) now() time.Time {
	if p.Now == nil {
		return time.Now().UTC()
	}
	return p.Now().UTC()
}
