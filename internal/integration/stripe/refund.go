package stripe

import (
	"context"
	"strings"
	"time"

	"github.com/flexprice/dealpay/internal/domain/gateway"
	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/stripe/stripe-go/v82"
)

// metadataKeyRefundReason keeps the CRM loss reason next to Stripe's fixed reason enum
const metadataKeyRefundReason = "refund_reason"

// CreateRefund refunds a captured payment intent. Omitting the amount refunds it in full.
func (g *Gateway) CreateRefund(ctx context.Context, req *gateway.CreateRefundParams) (*gateway.Refund, error) {
	if req.PaymentIntentID == "" {
		return nil, ierr.NewError("payment intent is required").
			WithHint("Only captured payments can be refunded").
			Mark(ierr.ErrValidation)
	}

	metadata := map[string]string{}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	if req.Reason != "" {
		metadata[metadataKeyRefundReason] = req.Reason
	}

	params := &stripe.RefundCreateParams{
		PaymentIntent: stripe.String(req.PaymentIntentID),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
		Metadata:      metadata,
	}
	if req.Amount.IsPositive() {
		params.Amount = stripe.Int64(toMinorUnits(req.Amount, req.Currency))
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	refund, err := g.client.V1Refunds.Create(ctx, params)
	if err != nil {
		return nil, g.wrapError(err, "Failed to create Stripe refund", map[string]any{
			"payment_intent_id": req.PaymentIntentID,
			"amount":            req.Amount.String(),
		})
	}

	g.logger.Infow("created stripe refund",
		"refund_id", refund.ID,
		"payment_intent_id", req.PaymentIntentID,
		"status", refund.Status)
	return toRefund(refund), nil
}

// ListRefunds lists every refund of a payment intent
func (g *Gateway) ListRefunds(ctx context.Context, filter *gateway.RefundFilter) ([]*gateway.Refund, error) {
	params := &stripe.RefundListParams{}
	params.Limit = stripe.Int64(maxListLimit)
	if filter.PaymentIntentID != "" {
		params.PaymentIntent = stripe.String(filter.PaymentIntentID)
	}

	refunds := make([]*gateway.Refund, 0)
	for refund, err := range g.client.V1Refunds.List(ctx, params) {
		if err != nil {
			return nil, g.wrapError(err, "Failed to list Stripe refunds", map[string]any{
				"payment_intent_id": filter.PaymentIntentID,
			})
		}
		refunds = append(refunds, toRefund(refund))
	}
	return refunds, nil
}

func toRefund(r *stripe.Refund) *gateway.Refund {
	currency := strings.ToUpper(string(r.Currency))
	out := &gateway.Refund{
		ID:        r.ID,
		Amount:    fromMinorUnits(r.Amount, currency),
		Currency:  currency,
		Status:    string(r.Status),
		Reason:    string(r.Reason),
		CreatedAt: time.Unix(r.Created, 0).UTC(),
	}
	if reason, ok := r.Metadata[metadataKeyRefundReason]; ok && reason != "" {
		out.Reason = reason
	}
	if r.PaymentIntent != nil {
		out.PaymentIntentID = r.PaymentIntent.ID
	}
	return out
}
