package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/flexprice/dealpay/internal/domain/crm"
	"github.com/flexprice/dealpay/internal/domain/gateway"
	"github.com/flexprice/dealpay/internal/domain/payment"
	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/flexprice/dealpay/internal/types"
	"github.com/shopspring/decimal"
)

// PersistAction is what PersistSession did with a session
type PersistAction string

const (
	PersistActionRecorded   PersistAction = "recorded"
	PersistActionMarkedPaid   PersistAction = "marked_paid"
	PersistActionMarkedFailed PersistAction = "marked_failed"
	PersistActionUnchanged    PersistAction = "unchanged"
	PersistActionIgnored      PersistAction = "ignored"
	PersistActionDeferred     PersistAction = "deferred"
)

// PersistOutcome describes the ledger effect of one gateway session
type PersistOutcome struct {
	SessionID string                 `json:"session_id"`
	DealID    string                 `json:"deal_id,omitempty"`
	Action    PersistAction          `json:"action"`
	Reason    string                 `json:"reason,omitempty"`
	Record    *payment.PaymentRecord `json:"record,omitempty"`
}

// Wrote reports an outcome that changed the ledger
func (o *PersistOutcome) Wrote() bool {
	return o.Action == PersistActionRecorded || o.Action == PersistActionMarkedPaid
}

type ReconcileRequest struct {
	From   time.Time
	To     time.Time
	DealID string
	Budget *SessionBudget
}

// ReconcileResult counts what one reconciliation pass did
type ReconcileResult struct {
	Scanned       int                `json:"scanned"`
	Recorded      int                `json:"recorded"`
	MarkedPaid    int                `json:"marked_paid"`
	MarkedFailed  int                `json:"marked_failed"`
	Unchanged     int                `json:"unchanged"`
	Ignored       int                `json:"ignored"`
	Failed        int                `json:"failed"`
	RecoveryTasks int                `json:"recovery_tasks"`
	Stages        []*StageSyncResult `json:"stages,omitempty"`
	Errors        []string           `json:"errors,omitempty"`
	Halted        bool               `json:"halted,omitempty"`
}

func (r *ReconcileResult) count(o *PersistOutcome) {
	switch o.Action {
	case PersistActionRecorded:
		r.Recorded++
	case PersistActionMarkedPaid:
		r.MarkedPaid++
	case PersistActionMarkedFailed:
		r.MarkedFailed++
	case PersistActionUnchanged:
		r.Unchanged++
	case PersistActionIgnored:
		r.Ignored++
	}
}

type ReconciliationService interface {
	// Reconcile pages completed gateway sessions in the window into the ledger
	Reconcile(ctx context.Context, req ReconcileRequest) (*ReconcileResult, error)
	// PersistSession writes one gateway session to the ledger. It is safe to
	// call any number of times with the same session.
	PersistSession(ctx context.Context, s *gateway.Session) (*PersistOutcome, error)
}

type reconciliationService struct {
	ServiceParams
	stages StageSyncService
}

func NewReconciliationService(params ServiceParams, stages StageSyncService) ReconciliationService {
	return &reconciliationService{
		ServiceParams: params,
		stages:        stages,
	}
}

func (r *reconciliationService) PersistSession(ctx context.Context, s *gateway.Session) (*PersistOutcome, error) {
	return r.persist(ctx, s, nil)
}

// persist claims from budget only when the ledger is about to change
func (r *reconciliationService) persist(ctx context.Context, s *gateway.Session, budget *SessionBudget) (*PersistOutcome, error) {
	out := &PersistOutcome{SessionID: s.ID, DealID: s.DealID()}

	if reason, ok := persistable(s); !ok {
		out.Action = PersistActionIgnored
		out.Reason = reason
		return out, nil
	}

	existing, err := r.PaymentRepo.FindBySessionID(ctx, s.ID)
	if err != nil && !ierr.IsNotFound(err) {
		return nil, err
	}
	if existing != nil {
		return r.advance(ctx, s, existing, budget, out)
	}

	record, err := r.buildRecord(ctx, s)
	if err != nil {
		return nil, err
	}
	if err := record.Validate(); err != nil {
		out.Action = PersistActionIgnored
		out.Reason = err.Error()
		r.Logger.Warnw("ignoring session that does not form a valid payment record",
			"session_id", s.ID,
			"deal_id", out.DealID,
			"error", err,
		)
		return out, nil
	}

	if !budget.Take() {
		out.Action = PersistActionDeferred
		return out, budget.exceeded()
	}

	if err := r.PaymentRepo.Insert(ctx, record); err != nil {
		if !ierr.IsAlreadyExists(err) {
			return nil, err
		}
		// a concurrent writer got there first
		existing, err := r.PaymentRepo.FindBySessionID(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		return r.advance(ctx, s, existing, nil, out)
	}

	out.Action = PersistActionRecorded
	out.Record = record
	r.Logger.Infow("recorded payment",
		"session_id", s.ID,
		"deal_id", record.DealID,
		"leg_type", record.LegType,
		"status", record.Status,
		"amount", record.Amount.String(),
		"currency", record.Currency,
	)
	return out, nil
}

func persistable(s *gateway.Session) (string, bool) {
	switch {
	case !s.IsComplete():
		return "session is not complete", false
	case s.DealID() == "":
		return "session has no deal", false
	case s.LegType().Validate() != nil:
		return fmt.Sprintf("session has unknown leg type %q", s.LegType()), false
	}
	return "", true
}

// advance settles an existing pending record once the gateway captured or
// declined its payment
func (r *reconciliationService) advance(ctx context.Context, s *gateway.Session, existing *payment.PaymentRecord, budget *SessionBudget, out *PersistOutcome) (*PersistOutcome, error) {
	out.Record = existing
	if existing.Status != types.RecordStatusPending {
		out.Action = PersistActionUnchanged
		return out, nil
	}

	var (
		to     types.RecordStatus
		action PersistAction
		at     time.Time
	)
	switch {
	case s.IsPaid():
		to, action, at = types.RecordStatusPaid, PersistActionMarkedPaid, r.paidAt(s)
	case s.PaymentFailed:
		to, action, at = types.RecordStatusFailed, PersistActionMarkedFailed, r.now()
	default:
		out.Action = PersistActionUnchanged
		return out, nil
	}

	if !budget.Take() {
		out.Action = PersistActionDeferred
		return out, budget.exceeded()
	}

	err := r.PaymentRepo.UpdateStatus(ctx, s.ID, types.RecordStatusPending, to, at)
	if err != nil {
		if ierr.IsInvalidOperation(err) {
			out.Action = PersistActionUnchanged
			return out, nil
		}
		return nil, err
	}

	out.Action = action
	r.Logger.Infow("settled pending payment",
		"session_id", s.ID,
		"deal_id", existing.DealID,
		"leg_type", existing.LegType,
		"status", to,
	)
	return out, nil
}

// paidAt is when the customer paid. Sessions recovered long after the fact
// without a charge timestamp fall back to their creation time so the payment
// stays in the month it happened.
func (r *reconciliationService) paidAt(s *gateway.Session) time.Time {
	if s.PaidAt != nil && !s.PaidAt.IsZero() {
		return s.PaidAt.UTC()
	}
	now := r.now()
	if !s.CreatedAt.IsZero() && now.Sub(s.CreatedAt) > r.Config.Payments.RecoveryStaleness {
		return s.CreatedAt.UTC()
	}
	return now
}

func (r *reconciliationService) buildRecord(ctx context.Context, s *gateway.Session) (*payment.PaymentRecord, error) {
	now := r.now()
	leg := s.LegType()

	kind := s.ScheduleKind()
	if kind.Validate() != nil {
		kind = types.ScheduleKindTwoLeg
		if leg == types.LegTypeSingle {
			kind = types.ScheduleKindSingle
		}
	}

	settled, err := r.Converter.ToSettlement(ctx, s.Amount, s.Currency)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Could not convert session %s into the settlement currency", s.ID).
			WithReportableDetails(map[string]any{
				"session_id": s.ID,
				"currency":   s.Currency,
			}).
			Mark(ierr.ErrLedgerWrite)
	}

	record := &payment.PaymentRecord{
		ID:                         types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PAYMENT_RECORD),
		SessionID:                  s.ID,
		DealID:                     s.DealID(),
		LegType:                    leg,
		ScheduleKind:               kind,
		Currency:                   s.Currency,
		Amount:                     s.Amount,
		SettlementCurrency:         r.Converter.SettlementCurrency(),
		AmountInSettlementCurrency: settled,
		TaxAmount:                  TaxAmount(s.Amount, decimal.NewFromFloat(r.Config.Payments.VATRate)),
		Status:                     types.RecordStatusPending,
		PaymentIntentID:            s.PaymentIntentID,
		CustomerSnapshot: payment.CustomerSnapshot{
			Email: s.CustomerEmail,
			Name:  s.CustomerName,
		},
		SessionCreatedAt: s.CreatedAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	switch {
	case s.IsPaid():
		paidAt := r.paidAt(s)
		record.Status = types.RecordStatusPaid
		record.PaidAt = &paidAt
	case s.PaymentFailed:
		record.Status = types.RecordStatusFailed
	}
	return record, nil
}

func (r *reconciliationService) Reconcile(ctx context.Context, req ReconcileRequest) (*ReconcileResult, error) {
	result := &ReconcileResult{}
	filter := &gateway.SessionFilter{
		CreatedFrom: req.From,
		CreatedTo:   req.To,
		Status:      types.SessionStatusComplete,
		DealID:      req.DealID,
		Limit:       r.Config.Payments.ReconcilePageSize,
	}

	r.Logger.Infow("starting reconciliation",
		"from", req.From,
		"to", req.To,
		"deal_id", req.DealID,
	)

	for {
		page, err := r.listPage(ctx, filter)
		if err != nil {
			return result, err
		}

		touched := make(map[string]struct{})
		var limitErr error
		for _, s := range page.Sessions {
			result.Scanned++
			out, err := r.reconcileSession(ctx, s, req.Budget, result)
			if err != nil {
				if ierr.IsSessionLimitExceeded(err) {
					limitErr = err
					break
				}
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", s.ID, err.Error()))
				continue
			}
			result.count(out)
			if out.Wrote() {
				touched[out.DealID] = struct{}{}
			}
		}

		r.syncStages(ctx, touched, result)

		if limitErr != nil {
			result.Halted = true
			r.Logger.Warnw("reconciliation stopped at session ceiling", "scanned", result.Scanned)
			return result, limitErr
		}
		if !page.HasMore || page.NextCursor == "" {
			break
		}
		filter.StartingAfter = page.NextCursor
	}

	r.Logger.Infow("reconciliation finished",
		"scanned", result.Scanned,
		"recorded", result.Recorded,
		"marked_paid", result.MarkedPaid,
		"marked_failed", result.MarkedFailed,
		"failed", result.Failed,
		"recovery_tasks", result.RecoveryTasks,
	)
	return result, nil
}

func (r *reconciliationService) reconcileSession(ctx context.Context, s *gateway.Session, budget *SessionBudget, result *ReconcileResult) (*PersistOutcome, error) {
	out, err := r.persist(ctx, s, budget)
	if err != nil && ierr.IsSessionLimitExceeded(err) {
		return nil, err
	}

	// a paid session the ledger only learns about now missed its webhook
	missed := s.IsPaid() && (err != nil || out.Action == PersistActionRecorded)
	if missed && r.now().Sub(s.CreatedAt) > r.Config.Payments.RecoveryStaleness {
		raised, taskErr := r.raiseRecoveryTask(ctx, s, err)
		if taskErr != nil {
			r.Logger.Errorw("failed to raise recovery task", "session_id", s.ID, "error", taskErr)
		} else if raised {
			result.RecoveryTasks++
		}
	}

	if err != nil {
		r.Logger.Errorw("failed to reconcile session",
			"session_id", s.ID,
			"deal_id", s.DealID(),
			"error", err,
		)
		r.Sentry.CaptureWithTags(ctx, err, map[string]string{
			"session_id": s.ID,
			"deal_id":    s.DealID(),
		})
		return nil, err
	}
	return out, nil
}

func (r *reconciliationService) raiseRecoveryTask(ctx context.Context, s *gateway.Session, persistErr error) (bool, error) {
	dealID := s.DealID()
	activities, err := r.CRM.GetDealActivities(ctx, dealID, crm.ActivityTypeTask)
	if err != nil {
		return false, err
	}
	if crm.HasOpenTask(activities, crm.TaskKindWebhookRecovery, s.ID) {
		return false, nil
	}

	body := fmt.Sprintf("Checkout session %s (%s %s %s) was paid on %s but its webhook never arrived.",
		s.ID, s.LegType(), s.Amount.StringFixed(2), s.Currency, s.CreatedAt.Format(time.DateOnly))
	if persistErr != nil {
		body += fmt.Sprintf(" Recording the payment failed: %s.", persistErr.Error())
	} else {
		body += " The payment was recovered by reconciliation; please verify the webhook endpoint."
	}

	_, err = r.CRM.CreateTask(ctx, &crm.Task{
		DealID:   dealID,
		Kind:     crm.TaskKindWebhookRecovery,
		Ref:      s.ID,
		Subject:  fmt.Sprintf("Payment webhook missed for session %s", s.ID),
		Body:     body,
		Priority: "HIGH",
		OwnerID:  r.Config.HubSpot.TaskOwnerID,
		DueAt:    r.now().Add(24 * time.Hour),
	})
	if err != nil {
		return false, err
	}
	r.Logger.Infow("raised webhook recovery task", "session_id", s.ID, "deal_id", dealID)
	return true, nil
}

func (r *reconciliationService) listPage(ctx context.Context, filter *gateway.SessionFilter) (*gateway.SessionPage, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 0
	bo := backoff.WithContext(backoff.WithMaxRetries(b, r.Config.Payments.PageRetries), ctx)

	page, err := backoff.RetryNotifyWithData(func() (*gateway.SessionPage, error) {
		return r.Gateway.ListSessions(ctx, filter)
	}, bo, func(err error, wait time.Duration) {
		r.Logger.Warnw("retrying session page", "starting_after", filter.StartingAfter, "wait", wait, "error", err)
	})
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Listing checkout sessions failed after retries").
			WithReportableDetails(map[string]any{
				"starting_after": filter.StartingAfter,
				"retries":        r.Config.Payments.PageRetries,
			}).
			Mark(ierr.ErrGateway)
	}
	return page, nil
}

func (r *reconciliationService) syncStages(ctx context.Context, touched map[string]struct{}, result *ReconcileResult) {
	dealIDs := make([]string, 0, len(touched))
	for id := range touched {
		dealIDs = append(dealIDs, id)
	}
	sort.Strings(dealIDs)

	for _, id := range dealIDs {
		res, err := r.stages.Sync(ctx, id)
		if err != nil {
			r.Logger.Errorw("failed to sync deal stage", "deal_id", id, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("stage %s: %s", id, err.Error()))
			continue
		}
		result.Stages = append(result.Stages, res)
	}
}
