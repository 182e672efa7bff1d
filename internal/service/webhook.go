package service

import (
	"context"
	"fmt"
	"time"

	"github.com/flexprice/dealpay/internal/domain/crm"
	"github.com/flexprice/dealpay/internal/domain/gateway"
	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/flexprice/dealpay/internal/types"
)

// WebhookResult describes how one gateway event was applied
type WebhookResult struct {
	EventID    string            `json:"event_id"`
	Type       gateway.EventType `json:"type"`
	SessionID  string            `json:"session_id,omitempty"`
	DealID     string            `json:"deal_id,omitempty"`
	Action     PersistAction     `json:"action"`
	Reason     string            `json:"reason,omitempty"`
	Stage      *StageSyncResult  `json:"stage,omitempty"`
	TaskRaised bool              `json:"task_raised,omitempty"`
}

type WebhookService interface {
	// HandleSessionEvent applies a verified checkout session event. Returned
	// errors are transient; the gateway redelivers the event.
	HandleSessionEvent(ctx context.Context, event *gateway.SessionEvent) (*WebhookResult, error)
}

type webhookService struct {
	ServiceParams
	reconcile ReconciliationService
	stages    StageSyncService
}

func NewWebhookService(params ServiceParams, reconcile ReconciliationService, stages StageSyncService) WebhookService {
	return &webhookService{
		ServiceParams: params,
		reconcile:     reconcile,
		stages:        stages,
	}
}

func (w *webhookService) HandleSessionEvent(ctx context.Context, event *gateway.SessionEvent) (*WebhookResult, error) {
	ctx = types.SetTrigger(ctx, types.RunTriggerWebhook)
	result := &WebhookResult{EventID: event.ID, Type: event.Type}

	if !event.Type.IsSupported() || event.Session == nil || event.Session.ID == "" {
		result.Action = PersistActionIgnored
		result.Reason = "unsupported event"
		return result, nil
	}
	result.SessionID = event.Session.ID

	// the event payload may be stale when deliveries arrive out of order
	session, err := w.Gateway.RetrieveSession(ctx, event.Session.ID)
	if err != nil {
		if ierr.IsNotFound(err) {
			result.Action = PersistActionIgnored
			result.Reason = "session not found"
			return result, nil
		}
		return nil, err
	}
	result.DealID = session.DealID()

	// the event itself is the gateway's verdict on a delayed payment
	if event.Type == gateway.EventCheckoutSessionAsyncFailed && !session.IsPaid() && !session.PaymentFailed {
		declined := *session
		declined.PaymentFailed = true
		session = &declined
	}

	out, err := w.reconcile.PersistSession(ctx, session)
	if err != nil {
		w.Logger.Errorw("failed to persist session from webhook",
			"event_id", event.ID,
			"session_id", session.ID,
			"deal_id", result.DealID,
			"error", err,
		)
		w.Sentry.CaptureWithTags(ctx, err, map[string]string{
			"event_id":   event.ID,
			"session_id": session.ID,
		})
		return nil, err
	}
	result.Action = out.Action
	result.Reason = out.Reason

	if out.Wrote() {
		stage, err := w.stages.Sync(ctx, out.DealID)
		if err != nil {
			w.Logger.Warnw("failed to sync stage after webhook", "deal_id", out.DealID, "error", err)
		}
		result.Stage = stage
	}

	if event.Type == gateway.EventCheckoutSessionAsyncFailed && result.DealID != "" {
		raised, err := w.raisePaymentFailure(ctx, session)
		if err != nil {
			w.Logger.Warnw("failed to raise payment failure task", "session_id", session.ID, "error", err)
		}
		result.TaskRaised = raised
	}

	w.Logger.Infow("handled checkout webhook",
		"event_id", event.ID,
		"type", event.Type,
		"session_id", session.ID,
		"deal_id", result.DealID,
		"action", result.Action,
	)
	return result, nil
}

func (w *webhookService) raisePaymentFailure(ctx context.Context, s *gateway.Session) (bool, error) {
	dealID := s.DealID()
	tasks, err := w.CRM.GetDealActivities(ctx, dealID, crm.ActivityTypeTask)
	if err != nil {
		return false, err
	}
	if crm.HasOpenTask(tasks, crm.TaskKindPaymentFailure, s.ID) {
		return false, nil
	}

	_, err = w.CRM.CreateTask(ctx, &crm.Task{
		DealID:  dealID,
		Kind:    crm.TaskKindPaymentFailure,
		Ref:     s.ID,
		Subject: fmt.Sprintf("Delayed payment failed for session %s", s.ID),
		Body: fmt.Sprintf("The %s payment of %s %s did not go through. Reset the payment link request on the deal to send a new link.",
			s.LegType(), s.Amount.StringFixed(2), s.Currency),
		Priority: "HIGH",
		OwnerID:  w.Config.HubSpot.TaskOwnerID,
		DueAt:    w.now().Add(24 * time.Hour),
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
