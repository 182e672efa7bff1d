package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/flexprice/dealpay/internal/domain/crm"
	"github.com/flexprice/dealpay/internal/domain/deal"
	"github.com/flexprice/dealpay/internal/domain/gateway"
	"github.com/flexprice/dealpay/internal/domain/payment"
	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/flexprice/dealpay/internal/lock"
	"github.com/flexprice/dealpay/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// refundReason is the gateway reason sent with every refund
const refundReason = "requested_by_customer"

// RefundOutcome is one refunded session
type RefundOutcome struct {
	SessionID string          `json:"session_id"`
	RefundID  string          `json:"refund_id,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	// Reused is set when the gateway already held a refund for the payment
	Reused  bool   `json:"reused"`
	TaxTask bool   `json:"tax_task"`
	Error   string `json:"error,omitempty"`

	settled decimal.Decimal
	counted bool
}

type RefundDealResult struct {
	DealID  string           `json:"deal_id"`
	Refunds []*RefundOutcome `json:"refunds,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// RefundRunResult totals refunds issued or recorded during one run. Amount is
// in the settlement currency.
type RefundRunResult struct {
	Total    int                 `json:"total"`
	Amount   decimal.Decimal     `json:"amount"`
	Currency string              `json:"currency"`
	Deals    []*RefundDealResult `json:"deals,omitempty"`
	Errors   []string            `json:"errors,omitempty"`
}

type RefundService interface {
	// ProcessRefunds refunds every paid session of lost deals with a refund
	// reason. A non-empty dealID limits the run to that deal.
	ProcessRefunds(ctx context.Context, dealID string) (*RefundRunResult, error)
}

type refundService struct {
	ServiceParams
	deals *dealLoader
}

func NewRefundService(params ServiceParams) RefundService {
	return &refundService{
		ServiceParams: params,
		deals:         newDealLoader(params),
	}
}

func (s *refundService) ProcessRefunds(ctx context.Context, dealID string) (*RefundRunResult, error) {
	result := &RefundRunResult{
		Amount:   decimal.Zero,
		Currency: s.Config.Payments.SettlementCurrency,
	}

	deals, err := s.refundableDeals(ctx, dealID)
	if err != nil {
		return result, err
	}

	for _, d := range deals {
		dealResult := &RefundDealResult{DealID: d.ID}
		result.Deals = append(result.Deals, dealResult)

		err := s.Lock.WithLock(ctx, d.ID, lock.PurposeRefund, func(ctx context.Context) error {
			return s.refundDeal(ctx, d, dealResult)
		}, lock.Options{})
		if err != nil {
			dealResult.Error = err.Error()
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", d.ID, err.Error()))
			s.Logger.Errorw("failed to process refunds for deal", "deal_id", d.ID, "error", err)
			s.Sentry.CaptureWithTags(ctx, err, map[string]string{"deal_id": d.ID})
		}

		for _, o := range dealResult.Refunds {
			if o.Error != "" {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", o.SessionID, o.Error))
			}
			if !o.counted {
				continue
			}
			result.Total++
			result.Amount = result.Amount.Add(o.settled)
		}
	}

	if result.Total > 0 {
		s.Logger.Infow("refunds processed",
			"total", result.Total,
			"amount", result.Amount.StringFixed(2),
			"currency", result.Currency,
		)
	}
	return result, nil
}

func (s *refundService) qualifies(d *deal.Deal) bool {
	return d.IsActive() &&
		d.Stage == s.Config.Payments.Stages.ClosedLost &&
		lo.Contains(s.Config.Payments.RefundReasons, d.LostReason)
}

func (s *refundService) refundableDeals(ctx context.Context, dealID string) ([]*deal.Deal, error) {
	if len(s.Config.Payments.RefundReasons) == 0 {
		return nil, nil
	}

	if dealID != "" {
		d, err := s.deals.Get(ctx, dealID)
		if err != nil {
			if ierr.IsNotFound(err) {
				return nil, nil
			}
			return nil, err
		}
		if !s.qualifies(d) {
			return nil, nil
		}
		return []*deal.Deal{d}, nil
	}

	deals, err := s.CRM.SearchDeals(ctx, &deal.Filter{
		Pipeline:    s.Config.Payments.Stages.Pipeline,
		Stages:      []string{s.Config.Payments.Stages.ClosedLost},
		LostReasons: s.Config.Payments.RefundReasons,
	})
	if err != nil {
		return nil, err
	}
	return lo.Filter(deals, func(d *deal.Deal, _ int) bool { return s.qualifies(d) }), nil
}

func (s *refundService) refundDeal(ctx context.Context, d *deal.Deal, result *RefundDealResult) error {
	records, err := s.PaymentRepo.ListByDealID(ctx, d.ID)
	if err != nil {
		return err
	}

	for _, r := range records {
		var outcome *RefundOutcome
		switch r.Status {
		case types.RecordStatusPaid:
			outcome = s.refundRecord(ctx, d, r)
		case types.RecordStatusRefunded:
			outcome = s.repairRecord(ctx, d, r)
		}
		if outcome != nil {
			result.Refunds = append(result.Refunds, outcome)
		}
	}

	refunded := lo.Filter(result.Refunds, func(o *RefundOutcome, _ int) bool { return o.counted })
	if len(refunded) == 0 {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Refunded %d payment(s) after the deal was lost (%s):\n", len(refunded), d.LostReason)
	for _, o := range refunded {
		fmt.Fprintf(&b, "- %s %s, refund %s\n", o.Amount.StringFixed(2), o.Currency, o.RefundID)
	}
	if err := s.CRM.AddNoteToDeal(ctx, d.ID, b.String()); err != nil {
		s.Logger.Warnw("failed to add refund note", "deal_id", d.ID, "error", err)
	}
	return nil
}

// refundRecord refunds one paid session unless the gateway already has a
// refund for it, then brings the ledger in line
func (s *refundService) refundRecord(ctx context.Context, d *deal.Deal, r *payment.PaymentRecord) *RefundOutcome {
	outcome := &RefundOutcome{
		SessionID: r.SessionID,
		Amount:    r.Amount,
		Currency:  r.Currency,
	}

	if r.PaymentIntentID == "" {
		outcome.Error = "payment has no payment intent to refund"
		s.Logger.Warnw("cannot refund payment without payment intent", "session_id", r.SessionID, "deal_id", d.ID)
		return outcome
	}

	refund, err := s.findRefund(ctx, r)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}

	if refund != nil {
		outcome.Reused = true
		s.Logger.Infow("refund already exists at the gateway", "session_id", r.SessionID, "refund_id", refund.ID)
	} else {
		refund, err = s.Gateway.CreateRefund(ctx, &gateway.CreateRefundParams{
			PaymentIntentID: r.PaymentIntentID,
			Amount:          r.Amount,
			Currency:        r.Currency,
			Reason:          refundReason,
			IdempotencyKey:  s.Idempotency.RefundKey(r.SessionID),
			Metadata: map[string]string{
				types.MetadataKeyDealID:    d.ID,
				types.MetadataKeySessionID: r.SessionID,
				types.MetadataKeySource:    types.MetadataSourceValue,
			},
		})
		if err != nil {
			s.Logger.Errorw("failed to create refund",
				"session_id", r.SessionID,
				"deal_id", d.ID,
				"amount", r.Amount.String(),
				"error", err,
			)
			s.Sentry.CaptureWithTags(ctx, err, map[string]string{
				"deal_id":    d.ID,
				"session_id": r.SessionID,
			})
			outcome.Error = err.Error()
			return outcome
		}
		s.Logger.Infow("created refund", "session_id", r.SessionID, "refund_id", refund.ID)
	}
	outcome.RefundID = refund.ID

	refundedAt := s.refundTime(refund)
	err = s.PaymentRepo.UpdateStatus(ctx, r.SessionID, types.RecordStatusPaid, types.RecordStatusRefunded, refundedAt)
	if err != nil && !ierr.IsInvalidOperation(err) {
		outcome.Error = err.Error()
		return outcome
	}
	if err == nil {
		outcome.counted = true
		outcome.settled = r.AmountInSettlementCurrency
	}

	s.finishRefund(ctx, d, r, refund, refundedAt, outcome)
	return outcome
}

// repairRecord completes a refund whose deletion entry was never written
func (s *refundService) repairRecord(ctx context.Context, d *deal.Deal, r *payment.PaymentRecord) *RefundOutcome {
	logged, err := s.hasDeletion(ctx, r)
	if err != nil {
		return &RefundOutcome{SessionID: r.SessionID, Amount: r.Amount, Currency: r.Currency, Error: err.Error()}
	}
	if logged {
		return nil
	}

	outcome := &RefundOutcome{
		SessionID: r.SessionID,
		Amount:    r.Amount,
		Currency:  r.Currency,
		Reused:    true,
	}
	refund, err := s.findRefund(ctx, r)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}
	if refund == nil {
		refund = &gateway.Refund{}
	}
	outcome.RefundID = refund.ID

	refundedAt := s.refundTime(refund)
	if r.RefundedAt != nil {
		refundedAt = *r.RefundedAt
	}
	s.finishRefund(ctx, d, r, refund, refundedAt, outcome)
	return outcome
}

func (s *refundService) finishRefund(ctx context.Context, d *deal.Deal, r *payment.PaymentRecord, refund *gateway.Refund, refundedAt time.Time, outcome *RefundOutcome) {
	if err := s.logReversal(ctx, d, r, refund.ID, refundedAt); err != nil {
		outcome.Error = err.Error()
		return
	}
	s.deals.Forget(ctx, d.ID)

	raised, err := s.raiseTaxCorrection(ctx, d, r, refundedAt)
	if err != nil {
		s.Logger.Warnw("failed to raise tax correction task", "session_id", r.SessionID, "error", err)
		return
	}
	outcome.TaxTask = raised
}

func (s *refundService) findRefund(ctx context.Context, r *payment.PaymentRecord) (*gateway.Refund, error) {
	if r.PaymentIntentID == "" {
		return nil, nil
	}
	refunds, err := s.Gateway.ListRefunds(ctx, &gateway.RefundFilter{PaymentIntentID: r.PaymentIntentID})
	if err != nil {
		return nil, err
	}
	refund, ok := lo.Find(refunds, func(rf *gateway.Refund) bool { return rf.IsActive() })
	if !ok {
		return nil, nil
	}
	return refund, nil
}

func (s *refundService) refundTime(refund *gateway.Refund) time.Time {
	if refund != nil && !refund.CreatedAt.IsZero() {
		return refund.CreatedAt.UTC()
	}
	return s.now()
}

func (s *refundService) hasDeletion(ctx context.Context, r *payment.PaymentRecord) (bool, error) {
	entries, err := s.PaymentRepo.ListDeletions(ctx, &payment.DeletionFilter{
		SessionID: r.SessionID,
		Kind:      types.DeletionKindRefund,
	})
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}

func (s *refundService) logReversal(ctx context.Context, d *deal.Deal, r *payment.PaymentRecord, refundID string, at time.Time) error {
	logged, err := s.hasDeletion(ctx, r)
	if err != nil || logged {
		return err
	}
	entry := payment.NewReversal(r, types.DeletionKindRefund, d.LostReason, refundID, at)
	if err := s.PaymentRepo.LogDeletion(ctx, entry); err != nil {
		return err
	}
	s.Logger.Infow("logged refund reversal",
		"session_id", r.SessionID,
		"deal_id", d.ID,
		"amount", entry.Amount.String(),
	)
	return nil
}

// raiseTaxCorrection flags refunds that land in a later tax period than the
// payment. One task per session, completed tasks included.
func (s *refundService) raiseTaxCorrection(ctx context.Context, d *deal.Deal, r *payment.PaymentRecord, refundedAt time.Time) (bool, error) {
	paidAt := paidTime(r)
	if types.SameMonth(paidAt, refundedAt) {
		return false, nil
	}

	tasks, err := s.CRM.GetDealActivities(ctx, d.ID, crm.ActivityTypeTask)
	if err != nil {
		return false, err
	}
	if crm.HasTask(tasks, crm.TaskKindTaxCorrection, r.SessionID) {
		return false, nil
	}

	_, err = s.CRM.CreateTask(ctx, &crm.Task{
		DealID:  d.ID,
		Kind:    crm.TaskKindTaxCorrection,
		Ref:     r.SessionID,
		Subject: fmt.Sprintf("Tax correction needed for %s", d.Name),
		Body: fmt.Sprintf("Payment of %s %s was taken in %s and refunded in %s. The VAT of %s %s needs a correction in the refund period.",
			r.Amount.StringFixed(2), r.Currency,
			paidAt.Format("2006-01"), refundedAt.Format("2006-01"),
			r.TaxAmount.StringFixed(2), r.Currency),
		Priority: "MEDIUM",
		OwnerID:  s.Config.HubSpot.TaskOwnerID,
		DueAt:    s.now().Add(7 * 24 * time.Hour),
	})
	if err != nil {
		return false, err
	}
	s.Logger.Infow("raised tax correction task", "session_id", r.SessionID, "deal_id", d.ID)
	return true, nil
}
