package models

import (
	"time"

	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/flexprice/dealpay/internal/types"
)

const (
	// Workflow names - must match the function names
	WorkflowPaymentCycle = "PaymentCycleWorkflow"
	WorkflowDealCleanup  = "DealCleanupWorkflow"
	// Activity names - must match the registered method names
	ActivityRunPaymentCycle = "RunPaymentCycle"
	ActivityCleanupDeal     = "CleanupDeal"
)

// PaymentCycleWorkflowInput is the input of one scheduled or manual payment cycle
type PaymentCycleWorkflowInput struct {
	Trigger types.RunTrigger `json:"trigger"`
	DealID  string           `json:"deal_id,omitempty"`
	// Window overrides the configured reconciliation window when positive
	Window time.Duration `json:"window,omitempty"`
}

func (i *PaymentCycleWorkflowInput) Validate() error {
	if i.Trigger == "" {
		return nil
	}
	return i.Trigger.Validate()
}

// PaymentCycleWorkflowResult is the summary a cycle leaves in workflow history
type PaymentCycleWorkflowResult struct {
	RunID          string   `json:"run_id"`
	Success        bool     `json:"success"`
	Total          int      `json:"total"`
	Successful     int      `json:"successful"`
	Errors         int      `json:"errors"`
	SessionsUsed   int      `json:"sessions_used"`
	Halted         bool     `json:"halted"`
	Reconciled     int      `json:"reconciled"`
	RefundsCreated int      `json:"refunds_created"`
	Messages       []string `json:"messages,omitempty"`
}

// DealCleanupWorkflowInput names a deal deleted from the CRM
type DealCleanupWorkflowInput struct {
	DealID string `json:"deal_id"`
}

func (i *DealCleanupWorkflowInput) Validate() error {
	if i.DealID == "" {
		return ierr.NewError("deal_id is required").
			WithHint("Deal cleanup needs the id of the deleted deal").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// DealCleanupWorkflowResult reports the ledger rows removed for a deal
type DealCleanupWorkflowResult struct {
	DealID        string `json:"deal_id"`
	Cancellations int    `json:"cancellations"`
	Deleted       int64  `json:"deleted"`
}
