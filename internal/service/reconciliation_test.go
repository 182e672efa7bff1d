package service

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/flexprice/dealpay/internal/domain/crm"
	"github.com/flexprice/dealpay/internal/domain/gateway"
	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/flexprice/dealpay/internal/testutil"
	"github.com/flexprice/dealpay/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type ReconciliationServiceSuite struct {
	testutil.BaseServiceTestSuite
	service ReconciliationService
}

func TestReconciliationService(t *testing.T) {
	suite.Run(t, new(ReconciliationServiceSuite))
}

func (s *ReconciliationServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	params := newTestParams(&s.BaseServiceTestSuite)
	s.service = NewReconciliationService(params, NewStageSyncService(params))
}

func (s *ReconciliationServiceSuite) paidSession(id, dealID string, leg types.LegType, amount string, createdAt time.Time) *gateway.Session {
	return &gateway.Session{
		ID:              id,
		Status:          types.SessionStatusComplete,
		PaymentStatus:   types.SessionPaymentStatusPaid,
		Amount:          decimal.RequireFromString(amount),
		Currency:        "PLN",
		PaymentIntentID: "pi_" + id,
		CustomerEmail:   "client@example.com",
		CustomerName:    "Jan Kowalski",
		CreatedAt:       createdAt,
		Metadata: map[string]string{
			types.MetadataKeyDealID:       dealID,
			types.MetadataKeyLegType:      string(leg),
			types.MetadataKeyScheduleKind: string(types.ScheduleKindTwoLeg),
			types.MetadataKeySource:       types.MetadataSourceValue,
		},
	}
}

func (s *ReconciliationServiceSuite) window() ReconcileRequest {
	return ReconcileRequest{
		From: s.GetNow().Add(-72 * time.Hour),
		To:   s.GetNow(),
	}
}

func (s *ReconciliationServiceSuite) TestReplayIsIdempotent() {
	s.GetCRM().AddDeal(newTestDeal("d1", "1000", 45, s.GetNow()))
	s.GetGateway().AddSession(s.paidSession("cs_1", "d1", types.LegTypeDeposit, "500", s.GetNow().Add(-10*time.Minute)))
	s.GetGateway().AddSession(s.paidSession("cs_2", "d1", types.LegTypeRest, "500", s.GetNow().Add(-5*time.Minute)))

	first, err := s.service.Reconcile(s.GetContext(), s.window())
	s.Require().NoError(err)
	s.Equal(2, first.Recorded)

	second, err := s.service.Reconcile(s.GetContext(), s.window())
	s.Require().NoError(err)
	s.Zero(second.Recorded)
	s.Equal(2, second.Unchanged)

	records, err := s.GetStores().PaymentRepo.ListByDealID(s.GetContext(), "d1")
	s.Require().NoError(err)
	s.Len(records, 2)
	s.Equal("fully_paid", s.GetCRM().Deal("d1").Stage)
}

func (s *ReconciliationServiceSuite) TestRecordCarriesTaxAndSettlement() {
	s.GetCRM().AddDeal(newTestDeal("d1", "1000", 45, s.GetNow()))
	sess := s.paidSession("cs_eur", "d1", types.LegTypeDeposit, "100", s.GetNow().Add(-time.Minute))
	sess.Currency = "EUR"
	s.GetGateway().AddSession(sess)

	_, err := s.service.Reconcile(s.GetContext(), s.window())
	s.Require().NoError(err)

	r, err := s.GetStores().PaymentRepo.FindBySessionID(s.GetContext(), "cs_eur")
	s.Require().NoError(err)
	s.Equal(types.RecordStatusPaid, r.Status)
	s.Equal("PLN", r.SettlementCurrency)
	s.Equal("425.00", r.AmountInSettlementCurrency.StringFixed(2))
	s.Equal("18.70", r.TaxAmount.StringFixed(2))
	s.Equal("pi_cs_eur", r.PaymentIntentID)
	s.Equal("client@example.com", r.CustomerSnapshot.Email)
	s.Require().NotNil(r.PaidAt)
	s.True(r.PaidAt.Equal(s.GetNow()))
}

func (s *ReconciliationServiceSuite) TestPendingSessionIsMarkedPaidLater() {
	s.GetCRM().AddDeal(newTestDeal("d1", "1000", 10, s.GetNow()))
	sess := s.paidSession("cs_1", "d1", types.LegTypeSingle, "1000", s.GetNow().Add(-time.Minute))
	sess.PaymentStatus = types.SessionPaymentStatusUnpaid
	sess.Metadata[types.MetadataKeyScheduleKind] = string(types.ScheduleKindSingle)
	s.GetGateway().AddSession(sess)

	first, err := s.service.Reconcile(s.GetContext(), s.window())
	s.Require().NoError(err)
	s.Equal(1, first.Recorded)
	r, _ := s.GetStores().PaymentRepo.FindBySessionID(s.GetContext(), "cs_1")
	s.Equal(types.RecordStatusPending, r.Status)
	s.Equal("appointmentscheduled", s.GetCRM().Deal("d1").Stage)

	s.GetGateway().CompleteSession("cs_1", true)
	second, err := s.service.Reconcile(s.GetContext(), s.window())
	s.Require().NoError(err)
	s.Equal(1, second.MarkedPaid)
	r, _ = s.GetStores().PaymentRepo.FindBySessionID(s.GetContext(), "cs_1")
	s.Equal(types.RecordStatusPaid, r.Status)
	s.Equal("fully_paid", s.GetCRM().Deal("d1").Stage)
}

func (s *ReconciliationServiceSuite) TestStaleSessionRaisesRecoveryTaskOnce() {
	s.GetCRM().AddDeal(newTestDeal("d1", "1000", 10, s.GetNow()))
	s.GetGateway().AddSession(s.paidSession("cs_old", "d1", types.LegTypeSingle, "1000", s.GetNow().Add(-3*time.Hour)))
	s.GetGateway().AddSession(s.paidSession("cs_new", "d1", types.LegTypeSingle, "1000", s.GetNow().Add(-10*time.Minute)))

	res, err := s.service.Reconcile(s.GetContext(), s.window())
	s.Require().NoError(err)
	s.Equal(1, res.RecoveryTasks)

	tasks := s.GetCRM().Tasks("d1", crm.TaskKindWebhookRecovery)
	s.Require().Len(tasks, 1)
	s.Contains(tasks[0].Body, crm.Marker(crm.TaskKindWebhookRecovery, "cs_old"))

	res, err = s.service.Reconcile(s.GetContext(), s.window())
	s.Require().NoError(err)
	s.Zero(res.RecoveryTasks)
	s.Len(s.GetCRM().Tasks("d1", crm.TaskKindWebhookRecovery), 1)
}

func (s *ReconciliationServiceSuite) TestLedgerFailureRaisesDedupedTask() {
	s.GetCRM().AddDeal(newTestDeal("d1", "1000", 10, s.GetNow()))
	s.GetGateway().AddSession(s.paidSession("cs_old", "d1", types.LegTypeSingle, "1000", s.GetNow().Add(-2*time.Hour)))
	s.GetPaymentStore().FailInserts(errors.New("disk full"))

	for i := 0; i < 2; i++ {
		res, err := s.service.Reconcile(s.GetContext(), s.window())
		s.Require().NoError(err)
		s.Equal(1, res.Failed)
		s.Len(res.Errors, 1)
	}
	s.Len(s.GetCRM().Tasks("d1", crm.TaskKindWebhookRecovery), 1)
	s.Equal("appointmentscheduled", s.GetCRM().Deal("d1").Stage)
}

func (s *ReconciliationServiceSuite) TestSessionCeilingHalts() {
	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("d%d", i)
		s.GetCRM().AddDeal(newTestDeal(id, "1000", 10, s.GetNow()))
		s.GetGateway().AddSession(s.paidSession("cs_"+id, id, types.LegTypeSingle, "1000", s.GetNow().Add(-time.Duration(i)*time.Minute)))
	}

	req := s.window()
	req.Budget = NewSessionBudget(2)
	res, err := s.service.Reconcile(s.GetContext(), req)
	s.Require().Error(err)
	s.True(ierr.IsSessionLimitExceeded(err))
	s.True(res.Halted)
	s.Equal(2, res.Recorded)
	s.Len(res.Stages, 2)
}

func (s *ReconciliationServiceSuite) TestPagesAreRetried() {
	s.GetCRM().AddDeal(newTestDeal("d1", "1000", 10, s.GetNow()))
	s.GetGateway().AddSession(s.paidSession("cs_1", "d1", types.LegTypeSingle, "1000", s.GetNow().Add(-time.Minute)))
	s.GetGateway().FailListSessions(1, errors.New("timeout"))

	res, err := s.service.Reconcile(s.GetContext(), s.window())
	s.Require().NoError(err)
	s.Equal(1, res.Recorded)
}

func (s *ReconciliationServiceSuite) TestPersistentPageFailureIsReturned() {
	s.GetGateway().FailListSessions(10, errors.New("timeout"))

	_, err := s.service.Reconcile(s.GetContext(), s.window())
	s.Require().Error(err)
	s.True(ierr.IsGateway(err))
}

func (s *ReconciliationServiceSuite) TestPagingCoversEverySession() {
	s.GetConfig().Payments.ReconcilePageSize = 2
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("d%d", i)
		s.GetCRM().AddDeal(newTestDeal(id, "1000", 10, s.GetNow()))
		s.GetGateway().AddSession(s.paidSession("cs_"+id, id, types.LegTypeSingle, "1000", s.GetNow().Add(-time.Duration(i)*time.Minute)))
	}

	res, err := s.service.Reconcile(s.GetContext(), s.window())
	s.Require().NoError(err)
	s.Equal(5, res.Scanned)
	s.Equal(5, res.Recorded)
}

func (s *ReconciliationServiceSuite) TestForeignSessionsAreIgnored() {
	foreign := s.paidSession("cs_shop", "", types.LegTypeSingle, "20", s.GetNow().Add(-time.Minute))
	s.GetGateway().AddSession(foreign)
	unknownLeg := s.paidSession("cs_odd", "d1", types.LegType("bonus"), "20", s.GetNow().Add(-time.Minute))
	s.GetGateway().AddSession(unknownLeg)

	res, err := s.service.Reconcile(s.GetContext(), s.window())
	s.Require().NoError(err)
	s.Equal(2, res.Ignored)
	s.Zero(res.Recorded)
}

func (s *ReconciliationServiceSuite) TestPersistSessionIgnoresOpenSessions() {
	sess := s.paidSession("cs_1", "d1", types.LegTypeSingle, "1000", s.GetNow())
	sess.Status = types.SessionStatusOpen

	out, err := s.service.PersistSession(s.GetContext(), sess)
	s.Require().NoError(err)
	s.Equal(PersistActionIgnored, out.Action)
}
