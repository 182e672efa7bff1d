package webhook

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/flexprice/dealpay/internal/config"
	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/flexprice/dealpay/internal/integration/hubspot"
	"github.com/flexprice/dealpay/internal/logger"
	"github.com/flexprice/dealpay/internal/service"
	"github.com/flexprice/dealpay/internal/types"
	"github.com/samber/lo"
)

// CleanupStarter hands a deleted deal to a durable cleanup run
type CleanupStarter interface {
	StartDealCleanup(ctx context.Context, dealID string) (string, error)
}

// Handler handles HubSpot webhook events
type Handler struct {
	processor       service.ProcessorService
	cleanups        CleanupStarter
	triggerProperty string
	triggerValues   []string
	logger          *logger.Logger
}

// Outcome is what the handler did with one batch of events
type Outcome struct {
	Processed []string `json:"processed"`
	CleanedUp []string `json:"cleaned_up"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
}

// NewHandler creates a new HubSpot webhook handler. With a nil cleanups
// starter deletions are cleaned up inline.
func NewHandler(processor service.ProcessorService, cleanups CleanupStarter, cfg *config.Configuration, logger *logger.Logger) *Handler {
	return &Handler{
		processor:       processor,
		cleanups:        cleanups,
		triggerProperty: cfg.Payments.Trigger.Property,
		triggerValues:   cfg.Payments.Trigger.Values,
		logger:          logger,
	}
}

// HandleWebhookEvents processes a batch of HubSpot webhook events. A trigger
// property change runs the payment cycle for that deal only; a deletion
// clears the deal's ledger rows. Each deal is handled at most once per batch.
func (h *Handler) HandleWebhookEvents(ctx context.Context, events []hubspot.WebhookEvent) *Outcome {
	h.logger.Infow("processing HubSpot webhook events", "event_count", len(events))

	out := &Outcome{Processed: []string{}, CleanedUp: []string{}}
	seen := make(map[string]struct{}, len(events))

	for _, event := range events {
		dealID := strconv.FormatInt(event.ObjectID, 10)

		switch hubspot.SubscriptionType(event.SubscriptionType) {
		case hubspot.SubscriptionTypeDealDeletion:
			if _, done := seen["delete:"+dealID]; done {
				continue
			}
			seen["delete:"+dealID] = struct{}{}

			if err := h.cleanup(ctx, dealID); err != nil {
				h.logger.Errorw("failed to clean up deleted deal", "deal_id", dealID, "error", err)
				out.Failed++
				continue
			}
			out.CleanedUp = append(out.CleanedUp, dealID)

		case hubspot.SubscriptionTypeDealPropertyChange:
			if !h.isTrigger(event) {
				out.Skipped++
				continue
			}
			if _, done := seen["process:"+dealID]; done {
				continue
			}
			seen["process:"+dealID] = struct{}{}

			result, err := h.processor.Process(ctx, service.ProcessRequest{
				Trigger: types.RunTriggerWebhook,
				DealID:  dealID,
			})
			if err != nil {
				h.logger.Errorw("failed to process triggered deal", "deal_id", dealID, "error", err)
				out.Failed++
				continue
			}
			h.logger.Infow("processed triggered deal",
				"deal_id", dealID,
				"run_id", result.RunID,
				"successful", result.Summary.Successful,
				"errors", result.Summary.Errors)
			out.Processed = append(out.Processed, dealID)

		default:
			h.logger.Debugw("skipping unsupported event type", "subscription_type", event.SubscriptionType)
			out.Skipped++
		}
	}
	return out
}

// cleanup prefers the workflow, which retries until the ledger is cleared,
// and falls back to an inline cleanup when it cannot be started
func (h *Handler) cleanup(ctx context.Context, dealID string) error {
	if h.cleanups != nil {
		runID, err := h.cleanups.StartDealCleanup(ctx, dealID)
		if err == nil {
			h.logger.Infow("started deal cleanup workflow", "deal_id", dealID, "run_id", runID)
			return nil
		}
		h.logger.Warnw("failed to start deal cleanup workflow, cleaning up inline", "deal_id", dealID, "error", err)
	}
	_, err := h.processor.CleanupDeal(ctx, dealID)
	return err
}

func (h *Handler) isTrigger(event hubspot.WebhookEvent) bool {
	if h.triggerProperty == "" || event.PropertyName != h.triggerProperty {
		return false
	}
	if len(h.triggerValues) == 0 {
		return event.PropertyValue != ""
	}
	return lo.Contains(h.triggerValues, event.PropertyValue)
}

// ParseWebhookPayload parses the HubSpot webhook payload
func (h *Handler) ParseWebhookPayload(body []byte) ([]hubspot.WebhookEvent, error) {
	var events []hubspot.WebhookEvent
	if err := json.Unmarshal(body, &events); err != nil {
		h.logger.Errorw("failed to parse webhook payload", "error", err)
		return nil, ierr.NewError("failed to parse webhook payload").
			WithHint("Invalid webhook payload format").
			Mark(ierr.ErrValidation)
	}

	return events, nil
}
