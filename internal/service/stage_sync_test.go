package service

import (
	"testing"
	"time"

	"github.com/flexprice/dealpay/internal/domain/payment"
	"github.com/flexprice/dealpay/internal/testutil"
	"github.com/flexprice/dealpay/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

func TestDeriveStage(t *testing.T) {
	at := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	rec := func(leg types.LegType, status types.RecordStatus) *payment.PaymentRecord {
		return newTestRecord("d1", "cs_"+string(leg), leg, types.ScheduleKindTwoLeg, "500", status, at)
	}

	tests := []struct {
		name            string
		kind            types.ScheduleKind
		records         []*payment.PaymentRecord
		includeRefunded bool
		want            types.PaymentStage
	}{
		{"nothing paid", types.ScheduleKindTwoLeg, nil, true, types.PaymentStageNoPayment},
		{"pending only", types.ScheduleKindTwoLeg, []*payment.PaymentRecord{rec(types.LegTypeDeposit, types.RecordStatusPending)}, true, types.PaymentStageNoPayment},
		{"deposit paid", types.ScheduleKindTwoLeg, []*payment.PaymentRecord{rec(types.LegTypeDeposit, types.RecordStatusPaid)}, true, types.PaymentStagePartiallyPaid},
		{"rest paid first", types.ScheduleKindTwoLeg, []*payment.PaymentRecord{rec(types.LegTypeRest, types.RecordStatusPaid)}, true, types.PaymentStagePartiallyPaid},
		{"both paid", types.ScheduleKindTwoLeg, []*payment.PaymentRecord{rec(types.LegTypeRest, types.RecordStatusPaid), rec(types.LegTypeDeposit, types.RecordStatusPaid)}, true, types.PaymentStageFullyPaid},
		{"single paid", types.ScheduleKindSingle, []*payment.PaymentRecord{rec(types.LegTypeSingle, types.RecordStatusPaid)}, true, types.PaymentStageFullyPaid},
		{"single paid under two leg schedule", types.ScheduleKindTwoLeg, []*payment.PaymentRecord{rec(types.LegTypeSingle, types.RecordStatusPaid)}, true, types.PaymentStageFullyPaid},
		{"refund counted", types.ScheduleKindTwoLeg, []*payment.PaymentRecord{rec(types.LegTypeDeposit, types.RecordStatusRefunded), rec(types.LegTypeRest, types.RecordStatusPaid)}, true, types.PaymentStageFullyPaid},
		{"refund excluded", types.ScheduleKindTwoLeg, []*payment.PaymentRecord{rec(types.LegTypeDeposit, types.RecordStatusRefunded), rec(types.LegTypeRest, types.RecordStatusPaid)}, false, types.PaymentStagePartiallyPaid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStage(tt.kind, tt.records, tt.includeRefunded))
		})
	}
}

type StageSyncServiceSuite struct {
	testutil.BaseServiceTestSuite
	service StageSyncService
}

func TestStageSyncService(t *testing.T) {
	suite.Run(t, new(StageSyncServiceSuite))
}

func (s *StageSyncServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewStageSyncService(newTestParams(&s.BaseServiceTestSuite))
}

func (s *StageSyncServiceSuite) insert(r *payment.PaymentRecord) {
	s.Require().NoError(s.GetStores().PaymentRepo.Insert(s.GetContext(), r))
}

func (s *StageSyncServiceSuite) TestDepositThenRestEndsFullyPaid() {
	d := newTestDeal("d1", "1000", 45, s.GetNow())
	s.GetCRM().AddDeal(d)

	s.insert(newTestRecord("d1", "cs_dep", types.LegTypeDeposit, types.ScheduleKindTwoLeg, "500", types.RecordStatusPaid, s.GetNow()))
	res, err := s.service.Sync(s.GetContext(), "d1")
	s.Require().NoError(err)
	s.True(res.Updated)
	s.Equal(types.PaymentStagePartiallyPaid, res.To)
	s.Equal("deposit_paid", s.GetCRM().Deal("d1").Stage)

	s.insert(newTestRecord("d1", "cs_rest", types.LegTypeRest, types.ScheduleKindTwoLeg, "500", types.RecordStatusPaid, s.GetNow().Add(time.Hour)))
	res, err = s.service.Sync(s.GetContext(), "d1")
	s.Require().NoError(err)
	s.Equal(types.PaymentStagePartiallyPaid, res.From)
	s.Equal(types.PaymentStageFullyPaid, res.To)
	s.Equal("fully_paid", s.GetCRM().Deal("d1").Stage)
}

func (s *StageSyncServiceSuite) TestRestThenDepositEndsFullyPaid() {
	d := newTestDeal("d1", "1000", 45, s.GetNow())
	s.GetCRM().AddDeal(d)

	s.insert(newTestRecord("d1", "cs_rest", types.LegTypeRest, types.ScheduleKindTwoLeg, "500", types.RecordStatusPaid, s.GetNow()))
	_, err := s.service.Sync(s.GetContext(), "d1")
	s.Require().NoError(err)
	s.Equal("deposit_paid", s.GetCRM().Deal("d1").Stage)

	s.insert(newTestRecord("d1", "cs_dep", types.LegTypeDeposit, types.ScheduleKindTwoLeg, "500", types.RecordStatusPaid, s.GetNow().Add(time.Minute)))
	_, err = s.service.Sync(s.GetContext(), "d1")
	s.Require().NoError(err)
	s.Equal("fully_paid", s.GetCRM().Deal("d1").Stage)
}

func (s *StageSyncServiceSuite) TestNeverMovesBackward() {
	d := newTestDeal("d1", "1000", 45, s.GetNow())
	d.Stage = "fully_paid"
	s.GetCRM().AddDeal(d)
	s.insert(newTestRecord("d1", "cs_dep", types.LegTypeDeposit, types.ScheduleKindTwoLeg, "500", types.RecordStatusPaid, s.GetNow()))

	res, err := s.service.Sync(s.GetContext(), "d1")
	s.Require().NoError(err)
	s.False(res.Updated)
	s.Equal(types.PaymentStageFullyPaid, res.To)
	s.Empty(s.GetCRM().Updates("d1"))
}

func (s *StageSyncServiceSuite) TestRefundAddsOneNote() {
	d := newTestDeal("d1", "1000", 45, s.GetNow())
	d.Stage = "fully_paid"
	s.GetCRM().AddDeal(d)
	s.insert(newTestRecord("d1", "cs_dep", types.LegTypeDeposit, types.ScheduleKindTwoLeg, "500", types.RecordStatusRefunded, s.GetNow()))
	s.insert(newTestRecord("d1", "cs_rest", types.LegTypeRest, types.ScheduleKindTwoLeg, "500", types.RecordStatusPaid, s.GetNow()))

	res, err := s.service.Sync(s.GetContext(), "d1")
	s.Require().NoError(err)
	s.False(res.Updated)
	s.True(res.NoteAdded)
	s.Require().Len(s.GetCRM().Notes("d1"), 1)
	s.Contains(s.GetCRM().Notes("d1")[0], "[dealpay:refund_review:cs_dep]")

	res, err = s.service.Sync(s.GetContext(), "d1")
	s.Require().NoError(err)
	s.False(res.NoteAdded)
	s.Len(s.GetCRM().Notes("d1"), 1)
	s.Equal("fully_paid", s.GetCRM().Deal("d1").Stage)
}

func (s *StageSyncServiceSuite) TestMissingDealIsSkipped() {
	res, err := s.service.Sync(s.GetContext(), "gone")
	s.Require().NoError(err)
	s.True(res.Skipped)
}

func (s *StageSyncServiceSuite) TestStagesOutsidePipelineAreLeftAlone() {
	d := newTestDeal("d1", "1000", 10, s.GetNow())
	d.Stage = "closedlost"
	s.GetCRM().AddDeal(d)
	s.insert(newTestRecord("d1", "cs_1", types.LegTypeSingle, types.ScheduleKindSingle, "1000", types.RecordStatusPaid, s.GetNow()))

	res, err := s.service.Sync(s.GetContext(), "d1")
	s.Require().NoError(err)
	s.True(res.Skipped)
	s.Equal("closedlost", s.GetCRM().Deal("d1").Stage)
}
