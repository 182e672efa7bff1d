package stripe

import (
	"context"
	"strings"
	"time"

	"github.com/flexprice/dealpay/internal/domain/gateway"
	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/flexprice/dealpay/internal/types"
	"github.com/stripe/stripe-go/v82"
)

// maxListLimit is the largest page Stripe returns
const maxListLimit = 100

// CreateSession creates a hosted checkout session for one payment leg. The
// leg identity is written to both the session and payment intent metadata.
func (g *Gateway) CreateSession(ctx context.Context, req *gateway.CreateSessionParams) (*gateway.Session, error) {
	if !req.Amount.IsPositive() {
		return nil, ierr.NewError("session amount must be positive").
			WithHint("Checkout sessions can only collect a positive amount").
			WithReportableDetails(map[string]any{
				"deal_id": req.DealID,
				"amount":  req.Amount.String(),
			}).
			Mark(ierr.ErrInvalidAmount)
	}

	currency := strings.ToLower(req.Currency)
	metadata := map[string]string{}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata[types.MetadataKeyDealID] = req.DealID
	metadata[types.MetadataKeyLegType] = string(req.LegType)
	metadata[types.MetadataKeyScheduleKind] = string(req.ScheduleKind)
	metadata[types.MetadataKeySource] = types.MetadataSourceValue

	productData := &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
		Name: stripe.String(req.ProductName),
	}
	if req.Description != "" {
		productData.Description = stripe.String(req.Description)
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
					Currency:    stripe.String(currency),
					ProductData: productData,
					UnitAmount:  stripe.Int64(toMinorUnits(req.Amount, currency)),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		Metadata:   metadata,
		PaymentIntentData: &stripe.CheckoutSessionCreatePaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	session, err := g.client.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return nil, g.wrapError(err, "Failed to create Stripe checkout session", map[string]any{
			"deal_id":  req.DealID,
			"leg_type": req.LegType,
			"amount":   req.Amount.String(),
			"currency": currency,
		})
	}

	g.logger.Infow("created stripe checkout session",
		"session_id", session.ID,
		"deal_id", req.DealID,
		"leg_type", req.LegType,
		"amount", req.Amount.String(),
		"currency", currency)

	return toSession(session), nil
}

// ListSessions returns one page of sessions created inside the window,
// newest first. Sessions of other deals are dropped from the page when a
// deal filter is set, so a page may hold fewer than Limit sessions.
func (g *Gateway) ListSessions(ctx context.Context, filter *gateway.SessionFilter) (*gateway.SessionPage, error) {
	limit := filter.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	params := &stripe.CheckoutSessionListParams{}
	params.Limit = stripe.Int64(limit)
	if filter.StartingAfter != "" {
		params.StartingAfter = stripe.String(filter.StartingAfter)
	}
	if filter.Status != "" {
		params.Status = stripe.String(string(filter.Status))
	}
	if !filter.CreatedFrom.IsZero() || !filter.CreatedTo.IsZero() {
		params.CreatedRange = &stripe.RangeQueryParams{}
		if !filter.CreatedFrom.IsZero() {
			params.CreatedRange.GreaterThanOrEqual = filter.CreatedFrom.Unix()
		}
		if !filter.CreatedTo.IsZero() {
			params.CreatedRange.LesserThanOrEqual = filter.CreatedTo.Unix()
		}
	}

	params.AddExpand("data.payment_intent.latest_charge")

	page := &gateway.SessionPage{Sessions: make([]*gateway.Session, 0, limit)}
	var seen int64
	// the iterator pages transparently; reading one session past the limit
	// tells whether another page exists without fetching it in full
	for session, err := range g.client.V1CheckoutSessions.List(ctx, params) {
		if err != nil {
			return nil, g.wrapError(err, "Failed to list Stripe checkout sessions", map[string]any{
				"created_from":   filter.CreatedFrom,
				"created_to":     filter.CreatedTo,
				"starting_after": filter.StartingAfter,
			})
		}
		if seen == limit {
			page.HasMore = true
			break
		}
		seen++
		page.NextCursor = session.ID

		s := toSession(session)
		if filter.DealID != "" && s.DealID() != filter.DealID {
			continue
		}
		page.Sessions = append(page.Sessions, s)
	}
	if !page.HasMore {
		page.NextCursor = ""
	}
	return page, nil
}

// RetrieveSession fetches one session. Unknown sessions are ierr.ErrNotFound.
func (g *Gateway) RetrieveSession(ctx context.Context, sessionID string) (*gateway.Session, error) {
	params := &stripe.CheckoutSessionRetrieveParams{}
	params.AddExpand("payment_intent.latest_charge")

	session, err := g.client.V1CheckoutSessions.Retrieve(ctx, sessionID, params)
	if err != nil {
		return nil, g.wrapError(err, "Failed to retrieve Stripe checkout session", map[string]any{
			"session_id": sessionID,
		})
	}
	return toSession(session), nil
}

func toSession(cs *stripe.CheckoutSession) *gateway.Session {
	currency := strings.ToUpper(string(cs.Currency))
	s := &gateway.Session{
		ID:            cs.ID,
		URL:           cs.URL,
		Status:        types.SessionStatus(cs.Status),
		PaymentStatus: types.SessionPaymentStatus(cs.PaymentStatus),
		Amount:        fromMinorUnits(cs.AmountTotal, currency),
		Currency:      currency,
		Metadata:      cs.Metadata,
		CustomerEmail: cs.CustomerEmail,
		CreatedAt:     time.Unix(cs.Created, 0).UTC(),
	}
	if s.Metadata == nil {
		s.Metadata = map[string]string{}
	}
	if pi := cs.PaymentIntent; pi != nil {
		s.PaymentIntentID = pi.ID
		// an expanded intent back at requires_payment_method after checkout
		// completed means the delayed payment was declined
		if s.IsComplete() && !s.IsPaid() {
			s.PaymentFailed = pi.Status == stripe.PaymentIntentStatusRequiresPaymentMethod ||
				pi.Status == stripe.PaymentIntentStatusCanceled
		}
		if ch := pi.LatestCharge; ch != nil && ch.Paid && ch.Created > 0 {
			paidAt := time.Unix(ch.Created, 0).UTC()
			s.PaidAt = &paidAt
		}
	}
	if cs.CustomerDetails != nil {
		if cs.CustomerDetails.Email != "" {
			s.CustomerEmail = cs.CustomerDetails.Email
		}
		s.CustomerName = cs.CustomerDetails.Name
	}
	return s
}
