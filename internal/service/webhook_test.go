package service

import (
	"testing"
	"time"

	"github.com/flexprice/dealpay/internal/domain/crm"
	"github.com/flexprice/dealpay/internal/domain/gateway"
	"github.com/flexprice/dealpay/internal/testutil"
	"github.com/flexprice/dealpay/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type WebhookServiceSuite struct {
	testutil.BaseServiceTestSuite
	service WebhookService
}

func TestWebhookService(t *testing.T) {
	suite.Run(t, new(WebhookServiceSuite))
}

func (s *WebhookServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	params := newTestParams(&s.BaseServiceTestSuite)
	stages := NewStageSyncService(params)
	s.service = NewWebhookService(params, NewReconciliationService(params, stages), stages)
}

func (s *WebhookServiceSuite) session(id, dealID string, paid bool) *gateway.Session {
	status := types.SessionPaymentStatusUnpaid
	if paid {
		status = types.SessionPaymentStatusPaid
	}
	session := &gateway.Session{
		ID:              id,
		Status:          types.SessionStatusComplete,
		PaymentStatus:   status,
		Amount:          decimal.NewFromInt(800),
		Currency:        "PLN",
		PaymentIntentID: "pi_" + id,
		CustomerEmail:   "client@example.com",
		CreatedAt:       s.GetNow().Add(-time.Minute),
		Metadata: map[string]string{
			types.MetadataKeyDealID:       dealID,
			types.MetadataKeyLegType:      string(types.LegTypeSingle),
			types.MetadataKeyScheduleKind: string(types.ScheduleKindSingle),
			types.MetadataKeySource:       types.MetadataSourceValue,
		},
	}
	s.GetGateway().AddSession(session)
	return session
}

func (s *WebhookServiceSuite) event(t gateway.EventType, session *gateway.Session) *gateway.SessionEvent {
	return &gateway.SessionEvent{
		ID:        "evt_" + session.ID,
		Type:      t,
		Session:   session,
		CreatedAt: s.GetNow(),
	}
}

func (s *WebhookServiceSuite) TestUnsupportedEventIsIgnored() {
	result, err := s.service.HandleSessionEvent(s.GetContext(), &gateway.SessionEvent{
		ID:   "evt_1",
		Type: "checkout.session.expired",
	})
	s.Require().NoError(err)
	s.Equal(PersistActionIgnored, result.Action)
}

func (s *WebhookServiceSuite) TestCompletedSessionIsRecorded() {
	s.GetCRM().AddDeal(newTestDeal("d1", "800", 10, s.GetNow()))
	session := s.session("cs_1", "d1", true)

	result, err := s.service.HandleSessionEvent(s.GetContext(), s.event(gateway.EventCheckoutSessionCompleted, session))
	s.Require().NoError(err)
	s.Equal(PersistActionRecorded, result.Action)
	s.Equal("d1", result.DealID)
	s.Require().NotNil(result.Stage)
	s.Equal("fully_paid", s.GetCRM().Deal("d1").Stage)

	record, err := s.GetStores().PaymentRepo.FindBySessionID(s.GetContext(), "cs_1")
	s.Require().NoError(err)
	s.Equal(types.RecordStatusPaid, record.Status)

	// redelivery leaves the ledger alone
	again, err := s.service.HandleSessionEvent(s.GetContext(), s.event(gateway.EventCheckoutSessionCompleted, session))
	s.Require().NoError(err)
	s.Equal(PersistActionUnchanged, again.Action)
	s.Nil(again.Stage)
}

func (s *WebhookServiceSuite) TestAsyncSuccessMarksPendingRecordPaid() {
	s.GetCRM().AddDeal(newTestDeal("d1", "800", 10, s.GetNow()))
	session := s.session("cs_1", "d1", false)

	first, err := s.service.HandleSessionEvent(s.GetContext(), s.event(gateway.EventCheckoutSessionCompleted, session))
	s.Require().NoError(err)
	s.Equal(PersistActionRecorded, first.Action)

	s.GetGateway().CompleteSession("cs_1", true)
	second, err := s.service.HandleSessionEvent(s.GetContext(), s.event(gateway.EventCheckoutSessionAsyncSucceeded, session))
	s.Require().NoError(err)
	s.Equal(PersistActionMarkedPaid, second.Action)
	s.Equal("fully_paid", s.GetCRM().Deal("d1").Stage)
}

func (s *WebhookServiceSuite) TestUnknownSessionIsIgnored() {
	result, err := s.service.HandleSessionEvent(s.GetContext(), &gateway.SessionEvent{
		ID:      "evt_1",
		Type:    gateway.EventCheckoutSessionCompleted,
		Session: &gateway.Session{ID: "cs_missing"},
	})
	s.Require().NoError(err)
	s.Equal(PersistActionIgnored, result.Action)
	s.Equal("session not found", result.Reason)
}

func (s *WebhookServiceSuite) TestLedgerFailureIsReturned() {
	s.GetCRM().AddDeal(newTestDeal("d1", "800", 10, s.GetNow()))
	session := s.session("cs_1", "d1", true)
	s.GetPaymentStore().FailInserts(assertErr)

	_, err := s.service.HandleSessionEvent(s.GetContext(), s.event(gateway.EventCheckoutSessionCompleted, session))
	s.Require().Error(err)
}

func (s *WebhookServiceSuite) TestAsyncFailureRaisesOneTask() {
	s.GetCRM().AddDeal(newTestDeal("d1", "800", 10, s.GetNow()))
	session := s.session("cs_1", "d1", false)

	first, err := s.service.HandleSessionEvent(s.GetContext(), s.event(gateway.EventCheckoutSessionAsyncFailed, session))
	s.Require().NoError(err)
	s.True(first.TaskRaised)

	second, err := s.service.HandleSessionEvent(s.GetContext(), s.event(gateway.EventCheckoutSessionAsyncFailed, session))
	s.Require().NoError(err)
	s.False(second.TaskRaised)

	record, err := s.GetStores().PaymentRepo.FindBySessionID(s.GetContext(), "cs_1")
	s.Require().NoError(err)
	s.Equal(types.RecordStatusFailed, record.Status)

	tasks := s.GetCRM().Tasks("d1", crm.TaskKindPaymentFailure)
	s.Require().Len(tasks, 1)
	s.Equal("cs_1", tasks[0].Ref)
	s.Equal("HIGH", tasks[0].Priority)
}
