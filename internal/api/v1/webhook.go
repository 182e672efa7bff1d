package v1

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/flexprice/dealpay/internal/api/dto"
	"github.com/flexprice/dealpay/internal/domain/gateway"
	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/flexprice/dealpay/internal/integration/hubspot"
	hubspotwebhook "github.com/flexprice/dealpay/internal/integration/hubspot/webhook"
	"github.com/flexprice/dealpay/internal/logger"
	"github.com/flexprice/dealpay/internal/service"
	"github.com/gin-gonic/gin"
)

// hubspotMaxTimestampAge is how old a HubSpot delivery may be before it is rejected
const hubspotMaxTimestampAge = 5 * time.Minute

// SessionEventParser verifies and decodes gateway webhook deliveries
type SessionEventParser interface {
	ParseSessionEvent(payload []byte, signature string) (*gateway.SessionEvent, error)
}

// HubSpotSignatureVerifier checks v3 HubSpot request signatures
type HubSpotSignatureVerifier interface {
	VerifyWebhookSignatureV3(method, uri string, body []byte, timestamp, signature string) bool
}

// HubSpotEventHandler applies HubSpot deal events
type HubSpotEventHandler interface {
	ParseWebhookPayload(body []byte) ([]hubspot.WebhookEvent, error)
	HandleWebhookEvents(ctx context.Context, events []hubspot.WebhookEvent) *hubspotwebhook.Outcome
}

// WebhookHandler handles webhook-related endpoints
type WebhookHandler struct {
	parser   SessionEventParser
	webhooks service.WebhookService
	verifier HubSpotSignatureVerifier
	hubspot  HubSpotEventHandler
	logger   *logger.Logger
	now      func() time.Time
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(
	parser SessionEventParser,
	webhooks service.WebhookService,
	verifier HubSpotSignatureVerifier,
	hubspot HubSpotEventHandler,
	logger *logger.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		parser:   parser,
		webhooks: webhooks,
		verifier: verifier,
		hubspot:  hubspot,
		logger:   logger,
		now:      time.Now,
	}
}

// @Summary Handle Stripe webhook events
// @Description Applies checkout session events to the payment ledger
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param Stripe-Signature header string true "Stripe webhook signature"
// @Success 200 {object} service.WebhookResult
// @Failure 400 {object} middleware.ErrorResponse
// @Router /webhooks/stripe [post]
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	// Read the raw request body
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Failed to read request body").
			Mark(ierr.ErrValidation))
		return
	}

	// Get Stripe signature from headers
	signature := c.GetHeader("Stripe-Signature")
	if signature == "" {
		c.Error(ierr.NewError("missing Stripe-Signature header").
			WithHint("Missing Stripe-Signature header").
			Mark(ierr.ErrValidation))
		return
	}

	event, err := h.parser.ParseSessionEvent(body, signature)
	if err != nil {
		c.Error(err)
		return
	}

	// a 5xx makes Stripe redeliver; only transient failures reach this point
	result, err := h.webhooks.HandleSessionEvent(c.Request.Context(), event)
	if err != nil {
		h.logger.Errorw("failed to handle stripe webhook", "event_id", event.ID, "type", event.Type, "error", err)
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// @Summary Handle HubSpot webhook events
// @Description Runs the payment cycle for deals whose trigger property changed and cleans up deleted deals
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param X-HubSpot-Signature-v3 header string true "HubSpot webhook signature"
// @Param X-HubSpot-Request-Timestamp header string true "HubSpot request timestamp"
// @Success 200 {object} dto.HubSpotWebhookResponse
// @Router /webhooks/hubspot [post]
func (h *WebhookHandler) HandleHubSpotWebhook(c *gin.Context) {
	// Always return 200 OK to HubSpot to prevent retries; the scheduled
	// cycle picks up anything a failed delivery missed
	defer func() {
		c.JSON(http.StatusOK, dto.HubSpotWebhookResponse{Message: "Webhook received"})
	}()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Errorw("failed to read request body", "error", err)
		return
	}

	signature := c.GetHeader("X-HubSpot-Signature-v3")
	timestamp := c.GetHeader("X-HubSpot-Request-Timestamp")
	if signature == "" || timestamp == "" {
		h.logger.Warnw("missing HubSpot signature headers",
			"has_signature", signature != "",
			"has_timestamp", timestamp != "")
		return
	}

	// Validate timestamp (reject if older than 5 minutes)
	timestampMs, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		h.logger.Warnw("invalid timestamp format", "timestamp", timestamp, "error", err)
		return
	}
	age := h.now().Sub(time.UnixMilli(timestampMs))
	if age > hubspotMaxTimestampAge {
		h.logger.Warnw("timestamp too old, rejecting webhook", "age", age.String())
		return
	}

	// Construct the full URL that HubSpot called
	// When behind a proxy, check X-Forwarded-Proto
	scheme := "http"
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	} else if c.Request.TLS != nil {
		scheme = "https"
	}
	fullURL := scheme + "://" + c.Request.Host + c.Request.URL.String()

	if !h.verifier.VerifyWebhookSignatureV3(c.Request.Method, fullURL, body, timestamp, signature) {
		h.logger.Warnw("invalid HubSpot webhook signature", "url", fullURL)
		return
	}

	events, err := h.hubspot.ParseWebhookPayload(body)
	if err != nil {
		return
	}

	out := h.hubspot.HandleWebhookEvents(c.Request.Context(), events)
	h.logger.Infow("handled HubSpot webhook",
		"events", len(events),
		"processed", len(out.Processed),
		"cleaned_up", len(out.CleanedUp),
		"skipped", out.Skipped,
		"failed", out.Failed)
}
