package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/flexprice/dealpay/internal/domain/crm"
	"github.com/flexprice/dealpay/internal/domain/deal"
	"github.com/flexprice/dealpay/internal/domain/payment"
	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/flexprice/dealpay/internal/types"
	"github.com/samber/lo"
)

type stageKey struct {
	kind        types.ScheduleKind
	depositPaid bool
	restPaid    bool
}

// stageTable maps the paid halves of a schedule onto a payment stage
var stageTable = map[stageKey]types.PaymentStage{
	{types.ScheduleKindSingle, false, false}: types.PaymentStageNoPayment,
	{types.ScheduleKindSingle, true, false}:  types.PaymentStagePartiallyPaid,
	{types.ScheduleKindSingle, false, true}:  types.PaymentStagePartiallyPaid,
	{types.ScheduleKindSingle, true, true}:   types.PaymentStageFullyPaid,
	{types.ScheduleKindTwoLeg, false, false}: types.PaymentStageNoPayment,
	{types.ScheduleKindTwoLeg, true, false}:  types.PaymentStagePartiallyPaid,
	{types.ScheduleKindTwoLeg, false, true}:  types.PaymentStagePartiallyPaid,
	{types.ScheduleKindTwoLeg, true, true}:   types.PaymentStageFullyPaid,
}

// DeriveStage computes the payment stage from the full ledger of a deal.
// A paid single leg counts as both halves. Refunded records count as paid
// when includeRefunded is set.
func DeriveStage(kind types.ScheduleKind, records []*payment.PaymentRecord, includeRefunded bool) types.PaymentStage {
	var depositPaid, restPaid bool
	for _, r := range records {
		paid := r.IsPaid() || (includeRefunded && r.WasPaid())
		if !paid {
			continue
		}
		switch r.LegType {
		case types.LegTypeSingle:
			depositPaid, restPaid = true, true
		case types.LegTypeDeposit:
			depositPaid = true
		case types.LegTypeRest:
			restPaid = true
		}
	}
	stage, ok := stageTable[stageKey{kind, depositPaid, restPaid}]
	if !ok {
		return types.PaymentStageNoPayment
	}
	return stage
}

// StageSyncResult describes what the synchronizer did for one deal
type StageSyncResult struct {
	DealID    string             `json:"deal_id"`
	From      types.PaymentStage `json:"from"`
	To        types.PaymentStage `json:"to"`
	Updated   bool               `json:"updated"`
	Skipped   bool               `json:"skipped"`
	Reason    string             `json:"reason,omitempty"`
	NoteAdded bool               `json:"note_added"`
}

type StageSyncService interface {
	Sync(ctx context.Context, dealID string) (*StageSyncResult, error)
}

type stageSyncService struct {
	ServiceParams
	deals *dealLoader
}

func NewStageSyncService(params ServiceParams) StageSyncService {
	return &stageSyncService{
		ServiceParams: params,
		deals:         newDealLoader(params),
	}
}

// crmStage maps a CRM stage id onto the payment concern. The second value is
// false for stages owned by other processes.
func (s *stageSyncService) crmStage(stageID string) (types.PaymentStage, bool) {
	stages := s.Config.Payments.Stages
	switch {
	case stageID == stages.FullyPaid:
		return types.PaymentStageFullyPaid, true
	case stageID == stages.PartiallyPaid:
		return types.PaymentStagePartiallyPaid, true
	case lo.Contains(stages.Eligible, stageID):
		return types.PaymentStageNoPayment, true
	}
	return "", false
}

func (s *stageSyncService) stageID(stage types.PaymentStage) string {
	switch stage {
	case types.PaymentStageFullyPaid:
		return s.Config.Payments.Stages.FullyPaid
	case types.PaymentStagePartiallyPaid:
		return s.Config.Payments.Stages.PartiallyPaid
	}
	return ""
}

func (s *stageSyncService) Sync(ctx context.Context, dealID string) (*StageSyncResult, error) {
	result := &StageSyncResult{DealID: dealID}

	d, err := s.deals.Get(ctx, dealID)
	if err != nil {
		if ierr.IsNotFound(err) {
			s.Logger.Infow("skipping stage sync for missing deal", "deal_id", dealID)
			result.Skipped = true
			result.Reason = "deal not found"
			return result, nil
		}
		return nil, err
	}

	records, err := s.PaymentRepo.ListByDealID(ctx, dealID)
	if err != nil {
		return nil, err
	}

	schedule := ResolveSchedule(d, records, s.now(), s.Config.Payments.TwoLegThresholdDays)
	target := DeriveStage(schedule.Kind, records, true)
	result.To = target

	current, owned := s.crmStage(d.Stage)
	if !owned {
		result.Skipped = true
		result.Reason = fmt.Sprintf("stage %s is outside the payment pipeline", d.Stage)
		return result, nil
	}
	result.From = current

	if target.Rank() > current.Rank() {
		if err := s.CRM.UpdateDeal(ctx, dealID, map[string]string{
			crm.PropertyDealStage: s.stageID(target),
		}); err != nil {
			return nil, err
		}
		s.deals.Forget(ctx, dealID)
		result.Updated = true
		s.Logger.Infow("moved deal to payment stage",
			"deal_id", dealID,
			"from", current,
			"to", target,
			"schedule_kind", schedule.Kind,
		)
	} else {
		result.To = current
	}

	noted, err := s.flagRefunds(ctx, d, schedule.Kind, records, result.To)
	if err != nil {
		s.Logger.Warnw("failed to flag refunded payments", "deal_id", dealID, "error", err)
	}
	result.NoteAdded = noted
	return result, nil
}

// flagRefunds leaves the stage alone when refunds lowered the real payment
// state and adds one operator note per refunded session instead
func (s *stageSyncService) flagRefunds(ctx context.Context, d *deal.Deal, kind types.ScheduleKind, records []*payment.PaymentRecord, stage types.PaymentStage) (bool, error) {
	refunded := lo.Filter(records, func(r *payment.PaymentRecord, _ int) bool {
		return r.Status == types.RecordStatusRefunded
	})
	if len(refunded) == 0 {
		return false, nil
	}
	if DeriveStage(kind, records, false).Rank() >= stage.Rank() {
		return false, nil
	}

	notes, err := s.CRM.GetDealActivities(ctx, d.ID, crm.ActivityTypeNote)
	if err != nil {
		return false, err
	}

	pending := lo.Filter(refunded, func(r *payment.PaymentRecord, _ int) bool {
		marker := refundReviewMarker(r.SessionID)
		return !lo.SomeBy(notes, func(n *crm.Activity) bool { return strings.Contains(n.Body, marker) })
	})
	if len(pending) == 0 {
		return false, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Refunded payments on deal %s. The payment stage stays at %s; move the deal manually if needed.\n", d.Name, stage)
	for _, r := range pending {
		fmt.Fprintf(&b, "- %s payment of %s %s %s\n", r.LegType, r.Amount.StringFixed(2), r.Currency, refundReviewMarker(r.SessionID))
	}
	if err := s.CRM.AddNoteToDeal(ctx, d.ID, b.String()); err != nil {
		return false, err
	}
	return true, nil
}

func refundReviewMarker(sessionID string) string {
	return fmt.Sprintf("[dealpay:refund_review:%s]", sessionID)
}
