package payment

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/flexprice/dealpay/internal/types"
	"github.com/shopspring/decimal"
)

// PaymentRecord is the ledger entry of one checkout session
type PaymentRecord struct {
	// Unique identifier of the ledger row
	ID string `db:"id" json:"id"`
	// The gateway session id, unique across the ledger
	SessionID string `db:"session_id" json:"session_id"`
	// The CRM deal the session collects for
	DealID string `db:"deal_id" json:"deal_id"`
	// Which leg of the schedule the session collects
	LegType types.LegType `db:"leg_type" json:"leg_type"`
	// The schedule kind at the time the session was created. The first paid
	// record pins the schedule of the deal.
	ScheduleKind types.ScheduleKind `db:"schedule_kind" json:"schedule_kind"`
	// Charged amount and currency
	Currency string          `db:"currency" json:"currency"`
	Amount   decimal.Decimal `db:"amount" json:"amount"`
	// Charged amount converted into the settlement currency
	SettlementCurrency         string          `db:"settlement_currency" json:"settlement_currency"`
	AmountInSettlementCurrency decimal.Decimal `db:"amount_in_settlement_currency" json:"amount_in_settlement_currency"`
	// VAT contained in the amount, informational only
	TaxAmount decimal.Decimal `db:"tax_amount" json:"tax_amount"`
	// Ledger status of the record
	Status types.RecordStatus `db:"status" json:"status"`
	// The gateway payment intent, required for refunds
	PaymentIntentID string `db:"payment_intent_id" json:"payment_intent_id"`
	// Customer details as captured by the gateway at checkout
	CustomerSnapshot CustomerSnapshot `db:"customer_snapshot" json:"customer_snapshot"`
	// When the gateway session was created
	SessionCreatedAt time.Time  `db:"session_created_at" json:"session_created_at"`
	PaidAt           *time.Time `db:"paid_at" json:"paid_at,omitempty"`
	RefundedAt       *time.Time `db:"refunded_at" json:"refunded_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// CustomerSnapshot is stored as JSONB
type CustomerSnapshot struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Scan implements the sql.Scanner interface for CustomerSnapshot
func (c *CustomerSnapshot) Scan(value interface{}) error {
	if value == nil {
		*c = CustomerSnapshot{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("failed to unmarshal JSONB value: %v", value)
	}
	return json.Unmarshal(bytes, c)
}

// Value implements the driver.Valuer interface for CustomerSnapshot
func (c CustomerSnapshot) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// WasPaid reports whether money was ever captured for the record.
// Refunded records count so a refunded leg is never collected again automatically.
func (r *PaymentRecord) WasPaid() bool {
	return r.Status == types.RecordStatusPaid || r.Status == types.RecordStatusRefunded
}

// IsFailed reports a session whose payment was declined
func (r *PaymentRecord) IsFailed() bool {
	return r.Status == types.RecordStatusFailed
}

// IsPaid reports a captured payment that has not been refunded
func (r *PaymentRecord) IsPaid() bool {
	return r.Status == types.RecordStatusPaid
}

func (r *PaymentRecord) Validate() error {
	if r.SessionID == "" {
		return ierr.NewError("session_id is required").
			WithHint("Payment record must reference a gateway session").
			Mark(ierr.ErrValidation)
	}
	if r.DealID == "" {
		return ierr.NewError("deal_id is required").
			WithHint("Payment record must reference a deal").
			WithReportableDetails(map[string]any{"session_id": r.SessionID}).
			Mark(ierr.ErrValidation)
	}
	if err := r.LegType.Validate(); err != nil {
		return err
	}
	if err := r.ScheduleKind.Validate(); err != nil {
		return err
	}
	if err := r.Status.Validate(); err != nil {
		return err
	}
	if !r.Amount.IsPositive() {
		return ierr.NewError("amount must be positive").
			WithHint("Payment record amount must be greater than zero").
			WithReportableDetails(map[string]any{
				"session_id": r.SessionID,
				"amount":     r.Amount.String(),
			}).
			Mark(ierr.ErrValidation)
	}
	if len(r.Currency) != 3 {
		return ierr.NewError("currency is invalid").
			WithHint("Payment record currency must be a three letter code").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// DeletionLogEntry is an append-only record of a refund or cancellation.
// Amounts are signed; reversals carry negative values.
type DeletionLogEntry struct {
	ID                         string             `db:"id" json:"id"`
	SessionID                  string             `db:"session_id" json:"session_id"`
	DealID                     string             `db:"deal_id" json:"deal_id"`
	Kind                       types.DeletionKind `db:"kind" json:"kind"`
	Amount                     decimal.Decimal    `db:"amount" json:"amount"`
	Currency                   string             `db:"currency" json:"currency"`
	AmountInSettlementCurrency decimal.Decimal    `db:"amount_in_settlement_currency" json:"amount_in_settlement_currency"`
	Reason                     string             `db:"reason" json:"reason"`
	GatewayRefundID            string             `db:"gateway_refund_id" json:"gateway_refund_id"`
	CreatedAt                  time.Time          `db:"created_at" json:"created_at"`
}

// NewReversal builds the negated deletion entry for a record
func NewReversal(r *PaymentRecord, kind types.DeletionKind, reason, refundID string, at time.Time) *DeletionLogEntry {
	return &DeletionLogEntry{
		ID:                         types.GenerateUUIDWithPrefix(types.UUID_PREFIX_DELETION_LOG),
		SessionID:                  r.SessionID,
		DealID:                     r.DealID,
		Kind:                       kind,
		Amount:                     r.Amount.Neg(),
		Currency:                   r.Currency,
		AmountInSettlementCurrency: r.AmountInSettlementCurrency.Neg(),
		Reason:                     reason,
		GatewayRefundID:            refundID,
		CreatedAt:                  at,
	}
}

// DeletionFilter selects deletion log entries
type DeletionFilter struct {
	DealID    string
	SessionID string
	Kind      types.DeletionKind
}
