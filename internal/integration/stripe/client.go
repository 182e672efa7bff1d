package stripe

import (
	"errors"
	"net/http"

	"github.com/flexprice/dealpay/internal/config"
	"github.com/flexprice/dealpay/internal/domain/gateway"
	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/flexprice/dealpay/internal/logger"
	"github.com/stripe/stripe-go/v82"
)

// Gateway implements gateway.Gateway with Stripe Checkout
type Gateway struct {
	client        *stripe.Client
	webhookSecret string
	logger        *logger.Logger
}

var _ gateway.Gateway = (*Gateway)(nil)

// NewGateway creates a Stripe gateway from the configured secret key
func NewGateway(cfg *config.Configuration, logger *logger.Logger) *Gateway {
	return newGateway(stripe.NewClient(cfg.Stripe.SecretKey, nil), cfg, logger)
}

func newGateway(client *stripe.Client, cfg *config.Configuration, logger *logger.Logger) *Gateway {
	if cfg.Stripe.SecretKey == "" {
		logger.Warnw("stripe secret key is not configured")
	}
	return &Gateway{
		client:        client,
		webhookSecret: cfg.Stripe.WebhookSecret,
		logger:        logger,
	}
}

// wrapError marks Stripe failures with ierr.ErrGateway, 404s with ierr.ErrNotFound
func (g *Gateway) wrapError(err error, hint string, details map[string]any) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if details == nil {
			details = map[string]any{}
		}
		details["stripe_code"] = string(stripeErr.Code)
		details["stripe_type"] = string(stripeErr.Type)
		details["status_code"] = stripeErr.HTTPStatusCode
		details["request_id"] = stripeErr.RequestID

		if stripeErr.HTTPStatusCode == http.StatusNotFound {
			return ierr.WithError(err).
				WithHint(hint).
				WithReportableDetails(details).
				Mark(ierr.ErrNotFound)
		}
	}

	g.logger.Errorw("stripe api error", "hint", hint, "details", details, "error", err)
	return ierr.WithError(err).
		WithHint(hint).
		WithReportableDetails(details).
		Mark(ierr.ErrGateway)
}
