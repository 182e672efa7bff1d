package service

import (
	"sort"
	"time"

	"github.com/flexprice/dealpay/internal/domain/deal"
	"github.com/flexprice/dealpay/internal/domain/payment"
	"github.com/flexprice/dealpay/internal/types"
)

// PaymentSchedule is how a deal is collected
type PaymentSchedule struct {
	Kind types.ScheduleKind
	Legs []types.LegType
	// Pinned is set when a paid leg fixed the kind
	Pinned bool
	// Computed is set when the kind was derived from the close date
	Computed bool
}

// ResolveSchedule decides the schedule of a deal. The kind recorded on the
// first paid record wins; otherwise deals closing at least thresholdDays after
// today are collected in two legs. A missing close date means a single leg.
func ResolveSchedule(d *deal.Deal, records []*payment.PaymentRecord, today time.Time, thresholdDays int) PaymentSchedule {
	if pinned := firstPaidRecord(records); pinned != nil && pinned.ScheduleKind.Validate() == nil {
		return PaymentSchedule{
			Kind:   pinned.ScheduleKind,
			Legs:   pinned.ScheduleKind.Legs(),
			Pinned: true,
		}
	}

	if d.CloseDate == nil {
		return PaymentSchedule{
			Kind: types.ScheduleKindSingle,
			Legs: types.ScheduleKindSingle.Legs(),
		}
	}

	kind := types.ScheduleKindSingle
	if types.DaysBetween(today, *d.CloseDate) >= thresholdDays {
		kind = types.ScheduleKindTwoLeg
	}
	return PaymentSchedule{
		Kind:     kind,
		Legs:     kind.Legs(),
		Computed: true,
	}
}

// firstPaidRecord returns the earliest record that ever captured money
func firstPaidRecord(records []*payment.PaymentRecord) *payment.PaymentRecord {
	paid := make([]*payment.PaymentRecord, 0, len(records))
	for _, r := range records {
		if r.WasPaid() {
			paid = append(paid, r)
		}
	}
	if len(paid) == 0 {
		return nil
	}
	sort.SliceStable(paid, func(i, j int) bool {
		return paidTime(paid[i]).Before(paidTime(paid[j]))
	})
	return paid[0]
}

func paidTime(r *payment.PaymentRecord) time.Time {
	if r.PaidAt != nil {
		return *r.PaidAt
	}
	return r.SessionCreatedAt
}

// PinnedScheduleKind returns the kind fixed by the first paid record, single
// when nothing was paid yet
func PinnedScheduleKind(records []*payment.PaymentRecord) types.ScheduleKind {
	if pinned := firstPaidRecord(records); pinned != nil && pinned.ScheduleKind.Validate() == nil {
		return pinned.ScheduleKind
	}
	return types.ScheduleKindSingle
}
