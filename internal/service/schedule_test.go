package service

import (
	"testing"
	"time"

	"github.com/flexprice/dealpay/internal/domain/payment"
	"github.com/flexprice/dealpay/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestResolveSchedule(t *testing.T) {
	today := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		closeIn   *int
		records   []*payment.PaymentRecord
		wantKind  types.ScheduleKind
		wantLegs  []types.LegType
		wantPin   bool
		threshold int
	}{
		{
			name:      "close date far away splits into two legs",
			closeIn:   intPtr(45),
			threshold: 30,
			wantKind:  types.ScheduleKindTwoLeg,
			wantLegs:  []types.LegType{types.LegTypeDeposit, types.LegTypeRest},
		},
		{
			name:      "close date soon collects a single leg",
			closeIn:   intPtr(10),
			threshold: 30,
			wantKind:  types.ScheduleKindSingle,
			wantLegs:  []types.LegType{types.LegTypeSingle},
		},
		{
			name:      "threshold day itself is two legs",
			closeIn:   intPtr(30),
			threshold: 30,
			wantKind:  types.ScheduleKindTwoLeg,
			wantLegs:  []types.LegType{types.LegTypeDeposit, types.LegTypeRest},
		},
		{
			name:      "missing close date collects a single leg",
			threshold: 30,
			wantKind:  types.ScheduleKindSingle,
			wantLegs:  []types.LegType{types.LegTypeSingle},
		},
		{
			name:      "paid deposit pins two legs after the close date moved closer",
			closeIn:   intPtr(5),
			threshold: 30,
			records: []*payment.PaymentRecord{
				newTestRecord("d1", "cs_1", types.LegTypeDeposit, types.ScheduleKindTwoLeg, "500", types.RecordStatusPaid, today.AddDate(0, 0, -3)),
			},
			wantKind: types.ScheduleKindTwoLeg,
			wantLegs: []types.LegType{types.LegTypeDeposit, types.LegTypeRest},
			wantPin:  true,
		},
		{
			name:      "refunded single still pins the schedule",
			closeIn:   intPtr(60),
			threshold: 30,
			records: []*payment.PaymentRecord{
				newTestRecord("d1", "cs_1", types.LegTypeSingle, types.ScheduleKindSingle, "1000", types.RecordStatusRefunded, today.AddDate(0, 0, -3)),
			},
			wantKind: types.ScheduleKindSingle,
			wantLegs: []types.LegType{types.LegTypeSingle},
			wantPin:  true,
		},
		{
			name:      "pending records do not pin",
			closeIn:   intPtr(60),
			threshold: 30,
			records: []*payment.PaymentRecord{
				newTestRecord("d1", "cs_1", types.LegTypeSingle, types.ScheduleKindSingle, "1000", types.RecordStatusPending, today.AddDate(0, 0, -3)),
			},
			wantKind: types.ScheduleKindTwoLeg,
			wantLegs: []types.LegType{types.LegTypeDeposit, types.LegTypeRest},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDeal("d1", "1000", 0, today)
			d.CloseDate = nil
			if tt.closeIn != nil {
				closeDate := today.AddDate(0, 0, *tt.closeIn)
				d.CloseDate = &closeDate
			}

			got := ResolveSchedule(d, tt.records, today, tt.threshold)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantLegs, got.Legs)
			assert.Equal(t, tt.wantPin, got.Pinned)
		})
	}
}

func TestResolveScheduleEarliestPaidRecordWins(t *testing.T) {
	today := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	d := newTestDeal("d1", "1000", 5, today)

	records := []*payment.PaymentRecord{
		newTestRecord("d1", "cs_2", types.LegTypeSingle, types.ScheduleKindSingle, "1000", types.RecordStatusPaid, today.AddDate(0, 0, -1)),
		newTestRecord("d1", "cs_1", types.LegTypeDeposit, types.ScheduleKindTwoLeg, "500", types.RecordStatusPaid, today.AddDate(0, 0, -20)),
	}

	got := ResolveSchedule(d, records, today, 30)
	assert.Equal(t, types.ScheduleKindTwoLeg, got.Kind)
	assert.True(t, got.Pinned)
}

func intPtr(v int) *int {
	return &v
}
