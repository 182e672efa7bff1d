package workflows

import (
	"time"

	"github.com/flexprice/dealpay/internal/temporal/models"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// PaymentCycleWorkflow runs one payment cycle. The schedule starts it on an
// interval and skips a tick while the previous cycle is still running, so
// cycles never overlap.
func PaymentCycleWorkflow(ctx workflow.Context, input models.PaymentCycleWorkflowInput) (*models.PaymentCycleWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)

	logger.Info("Starting payment cycle workflow",
		"trigger", input.Trigger,
		"deal_id", input.DealID)

	if err := input.Validate(); err != nil {
		logger.Error("Invalid workflow input", "error", err)
		return nil, err
	}

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    10 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    2 * time.Minute,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var result models.PaymentCycleWorkflowResult
	if err := workflow.ExecuteActivity(ctx, models.ActivityRunPaymentCycle, input).Get(ctx, &result); err != nil {
		logger.Error("Payment cycle failed", "error", err)
		return nil, err
	}

	logger.Info("Payment cycle completed",
		"run_id", result.RunID,
		"total", result.Total,
		"errors", result.Errors,
		"sessions_used", result.SessionsUsed,
		"halted", result.Halted)
	return &result, nil
}

// DealCleanupWorkflow clears the ledger of a deal deleted from the CRM
func DealCleanupWorkflow(ctx workflow.Context, input models.DealCleanupWorkflowInput) (*models.DealCleanupWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)

	if err := input.Validate(); err != nil {
		logger.Error("Invalid workflow input", "error", err)
		return nil, err
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 5,
		},
	})

	var result models.DealCleanupWorkflowResult
	if err := workflow.ExecuteActivity(ctx, models.ActivityCleanupDeal, input).Get(ctx, &result); err != nil {
		logger.Error("Deal cleanup failed", "deal_id", input.DealID, "error", err)
		return nil, err
	}

	logger.Info("Deal cleanup completed",
		"deal_id", result.DealID,
		"deleted", result.Deleted)
	return &result, nil
}
