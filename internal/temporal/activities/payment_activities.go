package activities

import (
	"context"

	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/flexprice/dealpay/internal/logger"
	"github.com/flexprice/dealpay/internal/pyroscope"
	"github.com/flexprice/dealpay/internal/service"
	"github.com/flexprice/dealpay/internal/temporal/models"
	"github.com/flexprice/dealpay/internal/types"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
)

// PaymentActivities runs the payment engine inside Temporal activities
type PaymentActivities struct {
	processor service.ProcessorService
	profiler  *pyroscope.Service
	logger    *logger.Logger
}

// NewPaymentActivities creates a new instance of PaymentActivities
func NewPaymentActivities(processor service.ProcessorService, profiler *pyroscope.Service, logger *logger.Logger) *PaymentActivities {
	return &PaymentActivities{
		processor: processor,
		profiler:  profiler,
		logger:    logger,
	}
}

// RunPaymentCycle runs one full cycle: link creation, reconciliation and refunds.
// Hitting the session ceiling ends the cycle without an error; the next
// scheduled cycle continues from the ledger.
func (a *PaymentActivities) RunPaymentCycle(ctx context.Context, input models.PaymentCycleWorkflowInput) (*models.PaymentCycleWorkflowResult, error) {
	info := activity.GetInfo(ctx)
	a.logger.Infow("running payment cycle",
		"workflow_id", info.WorkflowExecution.ID,
		"attempt", info.Attempt,
		"trigger", input.Trigger,
		"deal_id", input.DealID)

	req := service.ProcessRequest{
		Trigger: input.Trigger,
		DealID:  input.DealID,
	}
	if req.Trigger == "" {
		req.Trigger = types.RunTriggerScheduled
	}
	if input.Window > 0 {
		req.To = info.StartedTime.UTC()
		req.From = req.To.Add(-input.Window)
	}

	var (
		result *service.ProcessResult
		err    error
	)
	a.profiler.TagWrapper(ctx, map[string]string{
		"trigger": string(req.Trigger),
		"deal_id": req.DealID,
	}, func(ctx context.Context) {
		result, err = a.processor.Process(ctx, req)
	})
	if err != nil && !ierr.IsSessionLimitExceeded(err) {
		if ierr.IsValidation(err) {
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), "validation", err)
		}
		return nil, err
	}
	if err != nil {
		a.logger.Warnw("payment cycle halted at the session ceiling",
			"run_id", result.RunID,
			"sessions_used", result.SessionsUsed)
	}

	out := &models.PaymentCycleWorkflowResult{
		RunID:          result.RunID,
		Success:        result.Success,
		Total:          result.Summary.Total,
		Successful:     result.Summary.Successful,
		Errors:         result.Summary.Errors,
		SessionsUsed:   result.SessionsUsed,
		Halted:         result.Halted,
		RefundsCreated: result.Refunds.Total,
		Messages:       result.Errors,
	}
	if result.Reconciliation != nil {
		out.Reconciled = result.Reconciliation.Recorded + result.Reconciliation.MarkedPaid + result.Reconciliation.MarkedFailed
	}
	return out, nil
}

// CleanupDeal removes the ledger rows of a deal deleted from the CRM
func (a *PaymentActivities) CleanupDeal(ctx context.Context, input models.DealCleanupWorkflowInput) (*models.DealCleanupWorkflowResult, error) {
	result, err := a.processor.CleanupDeal(ctx, input.DealID)
	if err != nil {
		if ierr.IsValidation(err) || ierr.IsInvalidOperation(err) {
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), "invalid_operation", err)
		}
		return nil, err
	}
	return &models.DealCleanupWorkflowResult{
		DealID:        result.DealID,
		Cancellations: result.Cancellations,
		Deleted:       result.Deleted,
	}, nil
}
