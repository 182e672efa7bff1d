package stripe

import (
	"encoding/json"
	"time"

	"github.com/flexprice/dealpay/internal/domain/gateway"
	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// ParseSessionEvent verifies the Stripe-Signature header and decodes a
// checkout session event. Events of other types are returned with a nil
// session so the caller can acknowledge and skip them.
func (g *Gateway) ParseSessionEvent(payload []byte, signature string) (*gateway.SessionEvent, error) {
	if g.webhookSecret == "" {
		return nil, ierr.NewError("stripe webhook secret is not configured").
			WithHint("Set stripe.webhook_secret to accept Stripe webhooks").
			Mark(ierr.ErrSystem)
	}

	// Verify the webhook signature, ignoring API version mismatch
	options := webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, options)
	if err != nil {
		g.logger.Warnw("stripe webhook verification failed", "error", err)
		return nil, ierr.NewError("failed to verify webhook signature").
			WithHint("Invalid webhook signature or payload").
			Mark(ierr.ErrValidation)
	}

	out := &gateway.SessionEvent{
		ID:        event.ID,
		Type:      gateway.EventType(event.Type),
		CreatedAt: time.Unix(event.Created, 0).UTC(),
	}
	if !out.Type.IsSupported() {
		return out, nil
	}

	if event.Data == nil {
		return nil, ierr.NewError("webhook event has no data").
			WithHint("Checkout session events must carry the session").
			WithReportableDetails(map[string]any{"event_id": event.ID}).
			Mark(ierr.ErrValidation)
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to decode checkout session from webhook").
			WithReportableDetails(map[string]any{"event_id": event.ID}).
			Mark(ierr.ErrValidation)
	}
	out.Session = toSession(&session)
	return out, nil
}
