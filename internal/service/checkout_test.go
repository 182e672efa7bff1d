package service

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/flexprice/dealpay/internal/domain/crm"
	"github.com/flexprice/dealpay/internal/domain/deal"
	"github.com/flexprice/dealpay/internal/domain/gateway"
	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/flexprice/dealpay/internal/lock"
	"github.com/flexprice/dealpay/internal/testutil"
	"github.com/flexprice/dealpay/internal/types"
	"github.com/stretchr/testify/suite"
)

type CheckoutServiceSuite struct {
	testutil.BaseServiceTestSuite
	service   CheckoutService
	reconcile ReconciliationService
	webhooks  WebhookService
}

func TestCheckoutService(t *testing.T) {
	suite.Run(t, new(CheckoutServiceSuite))
}

func (s *CheckoutServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	params := newTestParams(&s.BaseServiceTestSuite)
	s.service = NewCheckoutService(params, NewPaymentStateAnalyzer(params))
	stages := NewStageSyncService(params)
	s.reconcile = NewReconciliationService(params, stages)
	s.webhooks = NewWebhookService(params, s.reconcile, stages)
}

// requestLinkAgain sets the trigger back the way a sales rep does after a
// failed payment
func (s *CheckoutServiceSuite) requestLinkAgain(id string) *deal.Deal {
	d := s.GetCRM().Deal(id)
	d.TriggerValue = "create_payment_link"
	s.GetCRM().AddDeal(d)
	return d
}

func (s *CheckoutServiceSuite) process(d *deal.Deal) *DealResult {
	return s.service.ProcessDeal(s.GetContext(), d, CheckoutOptions{})
}

func (s *CheckoutServiceSuite) reconcileNow() *ReconcileResult {
	res, err := s.reconcile.Reconcile(s.GetContext(), ReconcileRequest{
		From: s.GetNow().Add(-time.Hour),
		To:   s.GetNow().Add(time.Hour),
	})
	s.Require().NoError(err)
	return res
}

func (s *CheckoutServiceSuite) TestTwoLegDealEndsFullyPaid() {
	d := newTestDeal("d1", "1000", 45, s.GetNow())
	s.GetCRM().AddDeal(d)

	res := s.process(d)
	s.Equal(DealStatusCreated, res.Status)
	s.Equal(types.ScheduleKindTwoLeg, res.ScheduleKind)
	s.Require().Len(res.Legs, 2)
	s.Equal(types.LegTypeDeposit, res.Legs[0].LegType)
	s.Equal("500.00", res.Legs[0].Amount.StringFixed(2))
	s.Equal(types.LegTypeRest, res.Legs[1].LegType)
	s.Equal("500.00", res.Legs[1].Amount.StringFixed(2))

	updated := s.GetCRM().Deal("d1")
	s.Equal("awaiting_payment", updated.TriggerValue)
	s.Equal(res.Legs[0].URL, updated.Properties[crm.PaymentLinkProperty(types.LegTypeDeposit)])
	s.Equal(res.Legs[1].URL, updated.Properties[crm.PaymentLinkProperty(types.LegTypeRest)])
	s.Len(s.GetCRM().Notes("d1"), 1)

	sessions := s.GetGateway().Sessions("d1")
	s.Require().Len(sessions, 2)
	s.Equal(string(types.ScheduleKindTwoLeg), sessions[0].Metadata[types.MetadataKeyScheduleKind])
	s.Equal(types.MetadataSourceValue, sessions[0].Metadata[types.MetadataKeySource])
	s.NotEmpty(sessions[0].Metadata[types.MetadataKeyIdempotencyToken])

	s.GetGateway().CompleteSession(res.Legs[0].SessionID, true)
	s.reconcileNow()
	s.Equal("deposit_paid", s.GetCRM().Deal("d1").Stage)

	s.GetGateway().CompleteSession(res.Legs[1].SessionID, true)
	s.reconcileNow()
	s.Equal("fully_paid", s.GetCRM().Deal("d1").Stage)

	again := s.service.ProcessDeal(s.GetContext(), s.GetCRM().Deal("d1"), CheckoutOptions{SkipTriggers: true})
	s.Equal(DealStatusSkipped, again.Status)
	s.Equal(2, s.GetGateway().CreateCalls())
}

func (s *CheckoutServiceSuite) TestShortCloseDateCreatesSingleLeg() {
	d := newTestDeal("d1", "1000", 10, s.GetNow())
	s.GetCRM().AddDeal(d)

	res := s.process(d)
	s.Equal(DealStatusCreated, res.Status)
	s.Equal(types.ScheduleKindSingle, res.ScheduleKind)
	s.Require().Len(res.Legs, 1)
	s.Equal(types.LegTypeSingle, res.Legs[0].LegType)
	s.Equal("1000.00", res.Legs[0].Amount.StringFixed(2))
}

func (s *CheckoutServiceSuite) TestIneligibleDealsAreSkipped() {
	closed := newTestDeal("d1", "1000", 10, s.GetNow())
	closed.Stage = "closedlost"
	noTrigger := newTestDeal("d2", "1000", 10, s.GetNow())
	noTrigger.TriggerValue = ""
	archived := newTestDeal("d3", "1000", 10, s.GetNow())
	archived.Archived = true

	for _, d := range []*deal.Deal{closed, noTrigger, archived} {
		s.GetCRM().AddDeal(d)
		res := s.process(d)
		s.Equal(DealStatusSkipped, res.Status, d.ID)
	}
	s.Zero(s.GetGateway().CreateCalls())
}

func (s *CheckoutServiceSuite) TestFullyPaidDealIsSkipped() {
	d := newTestDeal("d1", "1000", 10, s.GetNow())
	s.GetCRM().AddDeal(d)
	s.Require().NoError(s.GetStores().PaymentRepo.Insert(s.GetContext(),
		newTestRecord("d1", "cs_1", types.LegTypeSingle, types.ScheduleKindSingle, "1000", types.RecordStatusPaid, s.GetNow())))

	res := s.process(d)
	s.Equal(DealStatusSkipped, res.Status)
	s.Equal("deal is fully paid", res.Reason)
	s.Zero(s.GetGateway().CreateCalls())
}

func (s *CheckoutServiceSuite) TestConcurrentRunsCreateEachLegOnce() {
	d := newTestDeal("d1", "1000", 45, s.GetNow())
	s.GetCRM().AddDeal(d)
	s.GetGateway().SetCreateDelay(20 * time.Millisecond)

	const workers = 5
	results := make([]*DealResult, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.service.ProcessDeal(s.GetContext(), d, CheckoutOptions{})
		}(i)
	}
	wg.Wait()

	created := 0
	for _, res := range results {
		switch res.Status {
		case DealStatusCreated:
			created++
		case DealStatusFailed:
			s.Equal(ierr.ErrCodeLockAcquisitionFailed, res.ErrorCode)
		default:
			s.Equal(DealStatusSkipped, res.Status)
		}
	}
	s.Equal(1, created)

	sessions := s.GetGateway().Sessions("d1")
	s.Require().Len(sessions, 2)
	s.NotEqual(sessions[0].LegType(), sessions[1].LegType())
}

func (s *CheckoutServiceSuite) TestHeldLockFailsEveryLeg() {
	d := newTestDeal("d1", "1000", 45, s.GetNow())
	s.GetCRM().AddDeal(d)
	_, err := s.GetLocker().Acquire(s.GetContext(), s.GetLockService().Key("d1", lock.PurposeCheckout), time.Minute)
	s.Require().NoError(err)

	res := s.process(d)
	s.Equal(DealStatusFailed, res.Status)
	s.Require().Len(res.Legs, 2)
	for _, l := range res.Legs {
		s.Equal(LegStatusFailed, l.Status)
		s.Equal(ierr.ErrCodeLockAcquisitionFailed, l.ErrorCode)
	}
	s.Zero(s.GetGateway().CreateCalls())
	s.Equal("create_payment_link", s.GetCRM().Deal("d1").TriggerValue)
}

func (s *CheckoutServiceSuite) TestPartialFailureKeepsCreatedLeg() {
	d := newTestDeal("d1", "1000", 45, s.GetNow())
	s.GetCRM().AddDeal(d)
	s.GetGateway().FailCreate(types.LegTypeRest, errors.New("amount_too_large"))

	res := s.process(d)
	s.Equal(DealStatusPartial, res.Status)
	s.Require().Len(res.Legs, 2)
	s.Equal(LegStatusCreated, res.Legs[0].Status)
	s.Equal(LegStatusFailed, res.Legs[1].Status)
	s.Equal(ierr.ErrCodeGateway, res.Legs[1].ErrorCode)

	updated := s.GetCRM().Deal("d1")
	s.Equal("create_payment_link", updated.TriggerValue)
	s.NotEmpty(updated.Properties[crm.PaymentLinkProperty(types.LegTypeDeposit)])
	s.Contains(s.GetCRM().Notes("d1")[0], "retried")

	s.GetGateway().FailCreate(types.LegTypeRest, nil)
	retry := s.process(updated)
	s.Equal(DealStatusCreated, retry.Status)
	s.Require().Len(retry.Legs, 1)
	s.Equal(types.LegTypeRest, retry.Legs[0].LegType)
	s.Equal("awaiting_payment", s.GetCRM().Deal("d1").TriggerValue)
	s.Len(s.GetGateway().Sessions("d1"), 2)
}

func (s *CheckoutServiceSuite) TestMissingAddressRaisesOneTask() {
	d := newTestDeal("d1", "1000", 45, s.GetNow())
	d.CustomerType = types.CustomerTypeOrganization
	s.GetCRM().AddDeal(d)

	first := s.process(d)
	s.Equal(DealStatusFailed, first.Status)
	s.Equal(ierr.ErrCodeAddressMissing, first.ErrorCode)

	second := s.process(d)
	s.Equal(ierr.ErrCodeAddressMissing, second.ErrorCode)

	s.Len(s.GetCRM().Tasks("d1", crm.TaskKindAddressMissing), 1)
	s.Zero(s.GetGateway().CreateCalls())

	d.Address = deal.Address{Line: "ul. Prosta 1", City: "Warszawa", PostalCode: "00-001", Country: "PL"}
	s.GetCRM().AddDeal(d)
	s.Equal(DealStatusCreated, s.process(d).Status)
}

func (s *CheckoutServiceSuite) TestSessionCeilingHaltsDeal() {
	d := newTestDeal("d1", "1000", 45, s.GetNow())
	s.GetCRM().AddDeal(d)

	res := s.service.ProcessDeal(s.GetContext(), d, CheckoutOptions{Budget: NewSessionBudget(1)})
	s.True(res.Halted)
	s.Equal(DealStatusPartial, res.Status)
	s.Require().Len(res.Legs, 2)
	s.Equal(ierr.ErrCodeSessionLimitExceeded, res.Legs[1].ErrorCode)
	s.Equal(1, s.GetGateway().CreateCalls())
}

func (s *CheckoutServiceSuite) TestInvalidAmountAbortsLeg() {
	d := newTestDeal("d1", "0", 10, s.GetNow())
	s.GetCRM().AddDeal(d)

	res := s.process(d)
	s.Equal(DealStatusFailed, res.Status)
	s.Require().Len(res.Legs, 1)
	s.Equal(ierr.ErrCodeInvalidAmount, res.Legs[0].ErrorCode)
	s.Zero(s.GetGateway().CreateCalls())
}

func (s *CheckoutServiceSuite) TestDeclinedDelayedPaymentGetsNewLink() {
	d := newTestDeal("d1", "800", 10, s.GetNow())
	s.GetCRM().AddDeal(d)

	first := s.process(d)
	s.Require().Equal(DealStatusCreated, first.Status)
	s.Require().Len(first.Legs, 1)
	declined := first.Legs[0].SessionID

	// checkout completes, then the bank transfer is declined
	s.GetGateway().CompleteSession(declined, false)
	_, err := s.webhooks.HandleSessionEvent(s.GetContext(), &gateway.SessionEvent{
		ID:      "evt_completed",
		Type:    gateway.EventCheckoutSessionCompleted,
		Session: &gateway.Session{ID: declined},
	})
	s.Require().NoError(err)
	out, err := s.webhooks.HandleSessionEvent(s.GetContext(), &gateway.SessionEvent{
		ID:      "evt_failed",
		Type:    gateway.EventCheckoutSessionAsyncFailed,
		Session: &gateway.Session{ID: declined},
	})
	s.Require().NoError(err)
	s.Equal(PersistActionMarkedFailed, out.Action)
	s.True(out.TaskRaised)

	record, err := s.GetStores().PaymentRepo.FindBySessionID(s.GetContext(), declined)
	s.Require().NoError(err)
	s.Equal(types.RecordStatusFailed, record.Status)
	s.Nil(record.PaidAt)

	retry := s.process(s.requestLinkAgain("d1"))
	s.Equal(DealStatusCreated, retry.Status)
	s.Require().Len(retry.Legs, 1)
	s.Equal(types.LegTypeSingle, retry.Legs[0].LegType)
	s.NotEqual(declined, retry.Legs[0].SessionID)
	s.Equal(2, s.GetGateway().CreateCalls())
	s.Equal(retry.Legs[0].URL, s.GetCRM().Deal("d1").Properties[crm.PaymentLinkProperty(types.LegTypeSingle)])

	// the declined session stays failed through reconciliation
	s.reconcileNow()
	record, err = s.GetStores().PaymentRepo.FindBySessionID(s.GetContext(), declined)
	s.Require().NoError(err)
	s.Equal(types.RecordStatusFailed, record.Status)

	s.GetGateway().CompleteSession(retry.Legs[0].SessionID, true)
	s.reconcileNow()
	s.Equal("fully_paid", s.GetCRM().Deal("d1").Stage)
}

func (s *CheckoutServiceSuite) TestDeclineFoundByReconciliationFreesLeg() {
	d := newTestDeal("d1", "800", 10, s.GetNow())
	s.GetCRM().AddDeal(d)

	first := s.process(d)
	s.Require().Len(first.Legs, 1)
	s.GetGateway().DeclineSession(first.Legs[0].SessionID)

	rec := s.reconcileNow()
	s.Equal(1, rec.Recorded)
	record, err := s.GetStores().PaymentRepo.FindBySessionID(s.GetContext(), first.Legs[0].SessionID)
	s.Require().NoError(err)
	s.Equal(types.RecordStatusFailed, record.Status)

	retry := s.process(s.requestLinkAgain("d1"))
	s.Equal(DealStatusCreated, retry.Status)
	s.Require().Len(retry.Legs, 1)
	s.NotEqual(first.Legs[0].SessionID, retry.Legs[0].SessionID)
	s.Equal(2, s.GetGateway().CreateCalls())
}
