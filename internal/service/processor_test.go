package service

import (
	"testing"
	"time"

	"github.com/flexprice/dealpay/internal/domain/payment"
	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/flexprice/dealpay/internal/testutil"
	"github.com/flexprice/dealpay/internal/types"
	"github.com/stretchr/testify/suite"
)

type ProcessorServiceSuite struct {
	testutil.BaseServiceTestSuite
	service ProcessorService
}

func TestProcessorService(t *testing.T) {
	suite.Run(t, new(ProcessorServiceSuite))
}

func (s *ProcessorServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	params := newTestParams(&s.BaseServiceTestSuite)
	stages := NewStageSyncService(params)
	s.service = NewProcessorService(
		params,
		NewCheckoutService(params, NewPaymentStateAnalyzer(params)),
		NewReconciliationService(params, stages),
		NewRefundService(params),
	)
}

func (s *ProcessorServiceSuite) TestUnknownTriggerIsRejected() {
	_, err := s.service.Process(s.GetContext(), ProcessRequest{Trigger: "cron"})
	s.Require().Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *ProcessorServiceSuite) TestInvertedWindowIsRejected() {
	_, err := s.service.Process(s.GetContext(), ProcessRequest{
		From: s.GetNow(),
		To:   s.GetNow().Add(-time.Hour),
	})
	s.Require().Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *ProcessorServiceSuite) TestFullCycle() {
	s.GetCRM().AddDeal(newTestDeal("d1", "1000", 45, s.GetNow()))
	s.GetCRM().AddDeal(newTestDeal("d2", "800", 10, s.GetNow()))

	result, err := s.service.Process(s.GetContext(), ProcessRequest{Trigger: types.RunTriggerScheduled})
	s.Require().NoError(err)
	s.True(result.Success)
	s.NotEmpty(result.RunID)
	s.Equal(types.RunTriggerScheduled, result.Trigger)
	s.Equal(ProcessSummary{Total: 2, Successful: 2}, result.Summary)
	s.Equal(3, result.SessionsUsed)
	s.False(result.Halted)
	s.NotNil(result.Reconciliation)

	s.Require().Len(result.Results, 2)
	s.Equal("d1", result.Results[0].DealID)
	s.Equal(types.ScheduleKindTwoLeg, result.Results[0].ScheduleKind)
	s.Equal("d2", result.Results[1].DealID)
	s.Equal(types.ScheduleKindSingle, result.Results[1].ScheduleKind)

	s.Len(s.GetGateway().Sessions("d1"), 2)
	s.Len(s.GetGateway().Sessions("d2"), 1)

	// deals already handled no longer carry the trigger
	again, err := s.service.Process(s.GetContext(), ProcessRequest{})
	s.Require().NoError(err)
	s.Zero(again.Summary.Total)
	s.Equal(3, s.GetGateway().CreateCalls())
}

func (s *ProcessorServiceSuite) TestPaidSessionsAreReconciledInTheSameRun() {
	s.GetCRM().AddDeal(newTestDeal("d1", "800", 10, s.GetNow()))

	first, err := s.service.Process(s.GetContext(), ProcessRequest{})
	s.Require().NoError(err)
	s.Require().Len(first.Results, 1)
	s.Require().Len(first.Results[0].Legs, 1)

	s.GetGateway().CompleteSession(first.Results[0].Legs[0].SessionID, true)
	second, err := s.service.Process(s.GetContext(), ProcessRequest{DealID: "d1"})
	s.Require().NoError(err)
	s.Require().NotNil(second.Reconciliation)
	s.Equal(1, second.Reconciliation.Recorded)
	s.Equal("fully_paid", s.GetCRM().Deal("d1").Stage)
}

func (s *ProcessorServiceSuite) TestSessionCeilingHaltsRun() {
	s.GetConfig().Payments.MaxSessionsPerRun = 1
	s.GetCRM().AddDeal(newTestDeal("d1", "1000", 45, s.GetNow()))

	result, err := s.service.Process(s.GetContext(), ProcessRequest{})
	s.Require().Error(err)
	s.True(ierr.IsSessionLimitExceeded(err))
	s.Require().NotNil(result)
	s.True(result.Halted)
	s.False(result.Success)
	s.Nil(result.Reconciliation)
	s.Equal(1, result.SessionsUsed)
	s.Len(s.GetGateway().Sessions("d1"), 1)
}

func (s *ProcessorServiceSuite) TestMissingDealIsNotAnError() {
	result, err := s.service.Process(s.GetContext(), ProcessRequest{DealID: "nope"})
	s.Require().NoError(err)
	s.True(result.Success)
	s.Zero(result.Summary.Total)
}

func (s *ProcessorServiceSuite) TestCleanupOfLiveDealIsRejected() {
	s.GetCRM().AddDeal(newTestDeal("d1", "1000", 45, s.GetNow()))

	_, err := s.service.CleanupDeal(s.GetContext(), "d1")
	s.Require().Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *ProcessorServiceSuite) TestCleanupRequiresDealID() {
	_, err := s.service.CleanupDeal(s.GetContext(), "")
	s.Require().Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *ProcessorServiceSuite) TestCleanupOfDeletedDeal() {
	s.GetCRM().AddDeal(newTestDeal("d1", "1000", 45, s.GetNow()))
	repo := s.GetStores().PaymentRepo
	paid := newTestRecord("d1", "cs_paid", types.LegTypeDeposit, types.ScheduleKindTwoLeg, "500", types.RecordStatusPaid, s.GetNow().Add(-48*time.Hour))
	open := newTestRecord("d1", "cs_open", types.LegTypeRest, types.ScheduleKindTwoLeg, "500", types.RecordStatusPending, s.GetNow().Add(-24*time.Hour))
	s.Require().NoError(repo.Insert(s.GetContext(), paid))
	s.Require().NoError(repo.Insert(s.GetContext(), open))
	s.GetCRM().RemoveDeal("d1")

	result, err := s.service.CleanupDeal(s.GetContext(), "d1")
	s.Require().NoError(err)
	s.Equal(1, result.Cancellations)
	s.Equal(int64(2), result.Deleted)

	records, err := repo.ListByDealID(s.GetContext(), "d1")
	s.Require().NoError(err)
	s.Empty(records)

	deletions, err := repo.ListDeletions(s.GetContext(), &payment.DeletionFilter{DealID: "d1"})
	s.Require().NoError(err)
	s.Require().Len(deletions, 1)
	s.Equal("cs_open", deletions[0].SessionID)
	s.Equal(types.DeletionKindCancellation, deletions[0].Kind)
	s.True(deletions[0].Amount.IsNegative())
}

func (s *ProcessorServiceSuite) TestRetriedCleanupLogsEachCancellationOnce() {
	repo := s.GetStores().PaymentRepo
	open := newTestRecord("d1", "cs_open", types.LegTypeRest, types.ScheduleKindTwoLeg, "500", types.RecordStatusPending, s.GetNow().Add(-24*time.Hour))
	declined := newTestRecord("d1", "cs_declined", types.LegTypeDeposit, types.ScheduleKindTwoLeg, "500", types.RecordStatusFailed, s.GetNow().Add(-48*time.Hour))
	s.Require().NoError(repo.Insert(s.GetContext(), open))
	s.Require().NoError(repo.Insert(s.GetContext(), declined))
	s.GetPaymentStore().FailDeletes(assertErr)

	_, err := s.service.CleanupDeal(s.GetContext(), "d1")
	s.Require().Error(err)

	result, err := s.service.CleanupDeal(s.GetContext(), "d1")
	s.Require().NoError(err)
	s.Zero(result.Cancellations)
	s.Equal(int64(2), result.Deleted)
	s.Equal(2, s.GetMockDB().Transactions())

	deletions, err := repo.ListDeletions(s.GetContext(), &payment.DeletionFilter{DealID: "d1"})
	s.Require().NoError(err)
	s.Require().Len(deletions, 1)
	s.Equal("cs_open", deletions[0].SessionID)
}

func (s *ProcessorServiceSuite) TestExhaustedBudgetStartsNoFurtherDeals() {
	s.GetConfig().Payments.MaxSessionsPerRun = 1
	s.GetConfig().Payments.Concurrency = 1
	s.GetCRM().AddDeal(newTestDeal("d1", "1000", 45, s.GetNow()))
	s.GetCRM().AddDeal(newTestDeal("d2", "800", 10, s.GetNow()))

	result, err := s.service.Process(s.GetContext(), ProcessRequest{})
	s.Require().Error(err)
	s.True(result.Halted)
	s.Require().Len(result.Results, 1)
	s.Equal("d1", result.Results[0].DealID)
	s.Empty(s.GetGateway().Sessions("d2"))
	s.Equal(1, s.GetGateway().CreateCalls())
}
