package workflows

import (
	"context"
	"testing"

	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/flexprice/dealpay/internal/logger"
	"github.com/flexprice/dealpay/internal/service"
	"github.com/flexprice/dealpay/internal/temporal/activities"
	"github.com/flexprice/dealpay/internal/temporal/models"
	"github.com/flexprice/dealpay/internal/types"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/testsuite"
)

type stubProcessor struct {
	requests   []service.ProcessRequest
	result     *service.ProcessResult
	err        error
	cleanupErr error
}

func (p *stubProcessor) Process(_ context.Context, req service.ProcessRequest) (*service.ProcessResult, error) {
	p.requests = append(p.requests, req)
	return p.result, p.err
}

func (p *stubProcessor) CleanupDeal(_ context.Context, dealID string) (*service.CleanupResult, error) {
	if p.cleanupErr != nil {
		return nil, p.cleanupErr
	}
	return &service.CleanupResult{DealID: dealID, Cancellations: 1, Deleted: 2}, nil
}

type PaymentCycleWorkflowSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env       *testsuite.TestWorkflowEnvironment
	processor *stubProcessor
}

func TestPaymentCycleWorkflow(t *testing.T) {
	suite.Run(t, new(PaymentCycleWorkflowSuite))
}

func (s *PaymentCycleWorkflowSuite) SetupTest() {
	s.processor = &stubProcessor{
		result: &service.ProcessResult{
			RunID:          "run_1",
			Success:        true,
			Summary:        service.ProcessSummary{Total: 3, Successful: 3},
			SessionsUsed:   2,
			Reconciliation: &service.ReconcileResult{Recorded: 1, MarkedPaid: 2},
			Refunds:        service.RefundSummary{Total: 1},
		},
	}
	s.env = s.NewTestWorkflowEnvironment()
	s.env.RegisterWorkflow(PaymentCycleWorkflow)
	s.env.RegisterWorkflow(DealCleanupWorkflow)
	payments := activities.NewPaymentActivities(s.processor, nil, logger.NewNopLogger())
	s.env.RegisterActivity(payments.RunPaymentCycle)
	s.env.RegisterActivity(payments.CleanupDeal)
}

func (s *PaymentCycleWorkflowSuite) TearDownTest() {
	s.env.AssertExpectations(s.T())
}

func (s *PaymentCycleWorkflowSuite) TestScheduledCycle() {
	s.env.ExecuteWorkflow(PaymentCycleWorkflow, models.PaymentCycleWorkflowInput{})

	s.Require().True(s.env.IsWorkflowCompleted())
	s.Require().NoError(s.env.GetWorkflowError())

	var result models.PaymentCycleWorkflowResult
	s.Require().NoError(s.env.GetWorkflowResult(&result))
	s.Equal("run_1", result.RunID)
	s.Equal(3, result.Total)
	s.Equal(3, result.Reconciled)
	s.Equal(1, result.RefundsCreated)

	s.Require().Len(s.processor.requests, 1)
	s.Equal(types.RunTriggerScheduled, s.processor.requests[0].Trigger)
}

func (s *PaymentCycleWorkflowSuite) TestSessionCeilingCompletesHalted() {
	s.processor.result.Halted = true
	s.processor.result.Success = false
	s.processor.err = ierr.NewError("session ceiling reached").Mark(ierr.ErrSessionLimitExceeded)

	s.env.ExecuteWorkflow(PaymentCycleWorkflow, models.PaymentCycleWorkflowInput{Trigger: types.RunTriggerManual})

	s.Require().True(s.env.IsWorkflowCompleted())
	s.Require().NoError(s.env.GetWorkflowError())

	var result models.PaymentCycleWorkflowResult
	s.Require().NoError(s.env.GetWorkflowResult(&result))
	s.True(result.Halted)
	s.Len(s.processor.requests, 1)
}

func (s *PaymentCycleWorkflowSuite) TestValidationErrorIsNotRetried() {
	s.processor.result = nil
	s.processor.err = ierr.NewError("from must be before to").Mark(ierr.ErrValidation)

	s.env.ExecuteWorkflow(PaymentCycleWorkflow, models.PaymentCycleWorkflowInput{})

	s.Require().True(s.env.IsWorkflowCompleted())
	s.Require().Error(s.env.GetWorkflowError())
	s.Len(s.processor.requests, 1)
}

func (s *PaymentCycleWorkflowSuite) TestInvalidTriggerFailsFast() {
	s.env.ExecuteWorkflow(PaymentCycleWorkflow, models.PaymentCycleWorkflowInput{Trigger: "cron"})

	s.Require().True(s.env.IsWorkflowCompleted())
	s.Require().Error(s.env.GetWorkflowError())
	s.Empty(s.processor.requests)
}

func (s *PaymentCycleWorkflowSuite) TestDealCleanup() {
	s.env.ExecuteWorkflow(DealCleanupWorkflow, models.DealCleanupWorkflowInput{DealID: "d1"})

	s.Require().True(s.env.IsWorkflowCompleted())
	s.Require().NoError(s.env.GetWorkflowError())

	var result models.DealCleanupWorkflowResult
	s.Require().NoError(s.env.GetWorkflowResult(&result))
	s.Equal("d1", result.DealID)
	s.Equal(int64(2), result.Deleted)
}

func (s *PaymentCycleWorkflowSuite) TestDealCleanupOfLiveDealIsNotRetried() {
	s.processor.cleanupErr = ierr.NewError("deal d1 still exists").Mark(ierr.ErrInvalidOperation)

	s.env.ExecuteWorkflow(DealCleanupWorkflow, models.DealCleanupWorkflowInput{DealID: "d1"})

	s.Require().True(s.env.IsWorkflowCompleted())
	s.Require().Error(s.env.GetWorkflowError())
}
