package dto

import (
	"time"

	"github.com/flexprice/dealpay/internal/domain/payment"
	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/flexprice/dealpay/internal/service"
	"github.com/flexprice/dealpay/internal/types"
	"github.com/flexprice/dealpay/internal/validator"
	"github.com/samber/lo"
)

// ProcessPaymentsRequest starts one processing run from the API
type ProcessPaymentsRequest struct {
	// Trigger defaults to manual
	Trigger types.RunTrigger `json:"trigger,omitempty" validate:"omitempty,run_trigger"`
	// From and To bound the reconciliation window
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
	// DealID restricts the run to one deal
	DealID string `json:"deal_id,omitempty" validate:"omitempty,max=64,alphanum"`
	// SkipTriggers creates links for every eligible deal
	SkipTriggers bool `json:"skip_triggers,omitempty"`
}

func (r *ProcessPaymentsRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if r.From != nil && r.To != nil && r.From.After(*r.To) {
		return ierr.NewError("from must be before to").
			WithHint("The reconciliation window start must not be after its end").
			Mark(ierr.ErrValidation)
	}
	return nil
}

func (r *ProcessPaymentsRequest) ToProcessRequest() service.ProcessRequest {
	req := service.ProcessRequest{
		Trigger:      lo.Ternary(r.Trigger == "", types.RunTriggerManual, r.Trigger),
		DealID:       r.DealID,
		SkipTriggers: r.SkipTriggers,
	}
	if r.From != nil {
		req.From = r.From.UTC()
	}
	if r.To != nil {
		req.To = r.To.UTC()
	}
	return req
}

// DealLedgerResponse is the ledger of one deal with its reversal history
type DealLedgerResponse struct {
	DealID    string                      `json:"deal_id"`
	Stage     types.PaymentStage          `json:"stage"`
	Records   []*payment.PaymentRecord    `json:"records"`
	Deletions []*payment.DeletionLogEntry `json:"deletions"`
}

// NewDealLedgerResponse derives the stage from the records themselves
func NewDealLedgerResponse(dealID string, records []*payment.PaymentRecord, deletions []*payment.DeletionLogEntry) *DealLedgerResponse {
	return &DealLedgerResponse{
		DealID:    dealID,
		Stage:     service.DeriveStage(service.PinnedScheduleKind(records), records, false),
		Records:   records,
		Deletions: deletions,
	}
}

// HubSpotWebhookResponse acknowledges a HubSpot delivery
type HubSpotWebhookResponse struct {
	Message string `json:"message"`
}
