package gateway

import (
	"context"
	"time"

	"github.com/flexprice/dealpay/internal/types"
	"github.com/shopspring/decimal"
)

// Gateway is the payment gateway collaborator. Amounts cross this boundary
// in major currency units; adapters convert to the gateway's minor units.
type Gateway interface {
	CreateSession(ctx context.Context, params *CreateSessionParams) (*Session, error)
	ListSessions(ctx context.Context, filter *SessionFilter) (*SessionPage, error)
	RetrieveSession(ctx context.Context, sessionID string) (*Session, error)
	CreateRefund(ctx context.Context, params *CreateRefundParams) (*Refund, error)
	ListRefunds(ctx context.Context, filter *RefundFilter) ([]*Refund, error)
}

// Session is a hosted checkout session collecting one payment leg
type Session struct {
	ID              string
	URL             string
	Status          types.SessionStatus
	PaymentStatus   types.SessionPaymentStatus
	Amount          decimal.Decimal
	Currency        string
	Metadata        map[string]string
	PaymentIntentID string
	CustomerEmail   string
	CustomerName    string
	CreatedAt       time.Time
	// PaidAt is when the gateway captured the funds, nil when unknown
	PaidAt *time.Time
	// PaymentFailed is set once a delayed payment was declined; the session
	// stays complete but will never be paid
	PaymentFailed bool
}

// DealID returns the deal the session was created for, empty for foreign sessions
func (s *Session) DealID() string {
	return s.Metadata[types.MetadataKeyDealID]
}

// LegType returns the leg recorded in metadata
func (s *Session) LegType() types.LegType {
	return types.LegType(s.Metadata[types.MetadataKeyLegType])
}

// ScheduleKind returns the schedule kind recorded in metadata
func (s *Session) ScheduleKind() types.ScheduleKind {
	return types.ScheduleKind(s.Metadata[types.MetadataKeyScheduleKind])
}

// IsComplete reports a finished checkout regardless of payment status
func (s *Session) IsComplete() bool {
	return s.Status == types.SessionStatusComplete
}

// IsPaid reports a finished checkout with funds captured
func (s *Session) IsPaid() bool {
	return s.IsComplete() && s.PaymentStatus == types.SessionPaymentStatusPaid
}

// IsLive reports a session that is either still payable or complete and not
// declined
func (s *Session) IsLive() bool {
	if s.PaymentFailed {
		return false
	}
	return s.Status == types.SessionStatusOpen || s.Status == types.SessionStatusComplete
}

// CreateSessionParams describes one checkout session to create
type CreateSessionParams struct {
	DealID         string
	LegType        types.LegType
	ScheduleKind   types.ScheduleKind
	Amount         decimal.Decimal
	Currency       string
	ProductName    string
	Description    string
	CustomerEmail  string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
	Metadata       map[string]string
}

// SessionFilter selects sessions by creation window. DealID narrows the result
// to sessions whose metadata carries that deal.
type SessionFilter struct {
	CreatedFrom   time.Time
	CreatedTo     time.Time
	Status        types.SessionStatus
	DealID        string
	Limit         int64
	StartingAfter string
}

// SessionPage is one page of sessions in gateway order
type SessionPage struct {
	Sessions   []*Session
	HasMore    bool
	NextCursor string
}

// Refund is a refund of a captured payment
type Refund struct {
	ID              string
	PaymentIntentID string
	Amount          decimal.Decimal
	Currency        string
	Status          string
	Reason          string
	CreatedAt       time.Time
}

// IsActive reports a refund that is not failed or canceled
func (r *Refund) IsActive() bool {
	return r.Status != "failed" && r.Status != "canceled"
}

// CreateRefundParams describes a refund of a whole payment intent
type CreateRefundParams struct {
	PaymentIntentID string
	Amount          decimal.Decimal
	Currency        string
	Reason          string
	IdempotencyKey  string
	Metadata        map[string]string
}

// RefundFilter selects refunds of a payment intent
type RefundFilter struct {
	PaymentIntentID string
}

// EventType is a gateway webhook event the engine handles
type EventType string

const (
	EventCheckoutSessionCompleted      EventType = "checkout.session.completed"
	EventCheckoutSessionAsyncSucceeded EventType = "checkout.session.async_payment_succeeded"
	EventCheckoutSessionAsyncFailed    EventType = "checkout.session.async_payment_failed"
)

// IsSupported reports whether the engine acts on the event type
func (t EventType) IsSupported() bool {
	switch t {
	case EventCheckoutSessionCompleted, EventCheckoutSessionAsyncSucceeded, EventCheckoutSessionAsyncFailed:
		return true
	}
	return false
}

// SessionEvent is a verified webhook event carrying a checkout session
type SessionEvent struct {
	ID        string
	Type      EventType
	Session   *Session
	CreatedAt time.Time
}
