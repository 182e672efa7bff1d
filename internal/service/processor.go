package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/flexprice/dealpay/internal/domain/deal"
	"github.com/flexprice/dealpay/internal/domain/payment"
	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/flexprice/dealpay/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"
)

// ProcessRequest is the input of one processing run
type ProcessRequest struct {
	Trigger types.RunTrigger `json:"trigger"`
	// From and To bound the reconciliation window, defaulting to the configured window ending now
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
	DealID string    `json:"deal_id,omitempty"`
	// SkipTriggers creates links for eligible deals whether or not one was requested
	SkipTriggers bool `json:"skip_triggers"`
}

type ProcessSummary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Errors     int `json:"errors"`
}

type RefundSummary struct {
	Total    int             `json:"total"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// ProcessResult is the summary of one processing run
type ProcessResult struct {
	Success        bool             `json:"success"`
	RunID          string           `json:"run_id"`
	Trigger        types.RunTrigger `json:"trigger"`
	Summary        ProcessSummary   `json:"summary"`
	Results        []*DealResult    `json:"results"`
	Reconciliation *ReconcileResult `json:"reconciliation,omitempty"`
	Refunds        RefundSummary    `json:"refunds"`
	SessionsUsed   int              `json:"sessions_used"`
	Halted         bool             `json:"halted,omitempty"`
	Errors         []string         `json:"errors,omitempty"`
}

// CleanupResult describes the ledger cleanup of a deleted deal
type CleanupResult struct {
	DealID        string `json:"deal_id"`
	Cancellations int    `json:"cancellations"`
	Deleted       int64  `json:"deleted"`
}

type ProcessorService interface {
	// Process runs orchestration, reconciliation and refunds in that order.
	// Per deal errors are accumulated into the result; the only error returned
	// alongside a result is the session ceiling.
	Process(ctx context.Context, req ProcessRequest) (*ProcessResult, error)
	// CleanupDeal removes the ledger rows of a deal that no longer exists in the CRM
	CleanupDeal(ctx context.Context, dealID string) (*CleanupResult, error)
}

type processorService struct {
	ServiceParams
	checkout  CheckoutService
	reconcile ReconciliationService
	refunds   RefundService
	deals     *dealLoader
}

func NewProcessorService(
	params ServiceParams,
	checkout CheckoutService,
	reconcile ReconciliationService,
	refunds RefundService,
) ProcessorService {
	return &processorService{
		ServiceParams: params,
		checkout:      checkout,
		reconcile:     reconcile,
		refunds:       refunds,
		deals:         newDealLoader(params),
	}
}

func (p *processorService) normalize(req ProcessRequest) (ProcessRequest, error) {
	if req.Trigger == "" {
		req.Trigger = types.RunTriggerManual
	}
	if err := req.Trigger.Validate(); err != nil {
		return req, err
	}
	if req.To.IsZero() {
		req.To = p.now()
	}
	if req.From.IsZero() {
		req.From = req.To.Add(-p.Config.Payments.ReconcileWindow)
	}
	if req.From.After(req.To) {
		return req, ierr.NewError("from must be before to").
			WithHint("The reconciliation window start must not be after its end").
			WithReportableDetails(map[string]any{
				"from": req.From,
				"to":   req.To,
			}).
			Mark(ierr.ErrValidation)
	}
	return req, nil
}

func (p *processorService) Process(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	req, err := p.normalize(req)
	if err != nil {
		return nil, err
	}

	runID := types.GenerateUUIDWithPrefix(types.UUID_PREFIX_RUN)
	ctx = types.SetRunID(ctx, runID)
	ctx = types.SetTrigger(ctx, req.Trigger)
	defer p.Cache.DeleteByPrefix(ctx, p.deals.runPrefix(runID))

	result := &ProcessResult{
		RunID:   runID,
		Trigger: req.Trigger,
		Results: make([]*DealResult, 0),
		Refunds: RefundSummary{Amount: decimal.Zero, Currency: p.Config.Payments.SettlementCurrency},
	}
	budget := NewSessionBudget(p.Config.Payments.MaxSessionsPerRun)

	p.Logger.Infow("starting processing run",
		"run_id", runID,
		"trigger", req.Trigger,
		"deal_id", req.DealID,
		"from", req.From,
		"to", req.To,
		"skip_triggers", req.SkipTriggers,
	)

	deals, err := p.listDeals(ctx, req)
	if err != nil {
		p.Logger.Errorw("failed to list deals", "run_id", runID, "error", err)
		result.Errors = append(result.Errors, fmt.Sprintf("list deals: %s", err.Error()))
	}

	result.Results = p.processDeals(ctx, deals, req, budget)
	halted := lo.SomeBy(result.Results, func(r *DealResult) bool { return r.Halted })

	var haltErr error
	if !halted {
		rec, err := p.reconcile.Reconcile(ctx, ReconcileRequest{
			From:   req.From,
			To:     req.To,
			DealID: req.DealID,
			Budget: budget,
		})
		result.Reconciliation = rec
		if err != nil {
			if ierr.IsSessionLimitExceeded(err) {
				halted = true
				haltErr = err
			} else {
				result.Errors = append(result.Errors, fmt.Sprintf("reconcile: %s", err.Error()))
			}
		}
	} else {
		haltErr = budget.exceeded()
	}

	if !halted {
		refunds, err := p.refunds.ProcessRefunds(ctx, req.DealID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("refunds: %s", err.Error()))
		}
		if refunds != nil {
			result.Refunds.Total = refunds.Total
			result.Refunds.Amount = refunds.Amount
			result.Errors = append(result.Errors, refunds.Errors...)
		}
	}

	result.Halted = halted
	result.SessionsUsed = budget.Used()
	result.Summary = summarize(result.Results)
	result.Success = !halted && len(result.Errors) == 0

	p.Logger.Infow("processing run finished",
		"run_id", runID,
		"total", result.Summary.Total,
		"successful", result.Summary.Successful,
		"errors", result.Summary.Errors,
		"refunds", result.Refunds.Total,
		"sessions_used", result.SessionsUsed,
		"halted", halted,
	)

	if haltErr != nil {
		p.Sentry.CaptureWithTags(ctx, haltErr, nil)
		return result, haltErr
	}
	return result, nil
}

func summarize(results []*DealResult) ProcessSummary {
	summary := ProcessSummary{Total: len(results)}
	for _, r := range results {
		if r.Successful() && !r.Halted {
			summary.Successful++
		} else {
			summary.Errors++
		}
	}
	return summary
}

func (p *processorService) listDeals(ctx context.Context, req ProcessRequest) ([]*deal.Deal, error) {
	if req.DealID != "" {
		d, err := p.deals.Get(ctx, req.DealID)
		if err != nil {
			if ierr.IsNotFound(err) {
				p.Logger.Infow("deal not found, nothing to process", "deal_id", req.DealID)
				return nil, nil
			}
			return nil, err
		}
		return []*deal.Deal{d}, nil
	}

	filter := &deal.Filter{
		Pipeline: p.Config.Payments.Stages.Pipeline,
		Stages:   p.Config.Payments.Stages.Eligible,
	}
	if !req.SkipTriggers {
		filter.TriggerProperty = p.Config.Payments.Trigger.Property
		filter.TriggerValues = p.Config.Payments.Trigger.Values
	}
	deals, err := p.CRM.SearchDeals(ctx, filter)
	if err != nil {
		return nil, err
	}
	for _, d := range deals {
		p.deals.Remember(ctx, d)
	}
	return deals, nil
}

// processDeals orchestrates deals with bounded parallelism. Once a deal hits
// the session ceiling no further deal is started.
func (p *processorService) processDeals(ctx context.Context, deals []*deal.Deal, req ProcessRequest, budget *SessionBudget) []*DealResult {
	var (
		mu      sync.Mutex
		results = make([]*DealResult, 0, len(deals))
	)

	wp := pool.New().WithMaxGoroutines(p.Config.Payments.Concurrency)
	for _, d := range deals {
		wp.Go(func() {
			if budget.Exhausted() || ctx.Err() != nil {
				return
			}
			res := p.checkout.ProcessDeal(ctx, d, CheckoutOptions{
				SkipTriggers: req.SkipTriggers,
				Budget:       budget,
			})
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		})
	}
	wp.Wait()

	order := make(map[string]int, len(deals))
	for i, d := range deals {
		order[d.ID] = i
	}
	sort.SliceStable(results, func(i, j int) bool {
		return order[results[i].DealID] < order[results[j].DealID]
	})
	return results
}

func (p *processorService) CleanupDeal(ctx context.Context, dealID string) (*CleanupResult, error) {
	if dealID == "" {
		return nil, ierr.NewError("deal_id is required").
			WithHint("Provide the id of the deleted deal").
			Mark(ierr.ErrValidation)
	}

	_, err := p.CRM.GetDeal(ctx, dealID)
	if err == nil {
		return nil, ierr.NewErrorf("deal %s still exists", dealID).
			WithHint("Only deals deleted from the CRM can be removed from the ledger").
			WithReportableDetails(map[string]any{"deal_id": dealID}).
			Mark(ierr.ErrInvalidOperation)
	}
	if !ierr.IsNotFound(err) {
		return nil, err
	}

	result := &CleanupResult{DealID: dealID}
	err = p.DB.WithTx(ctx, func(ctx context.Context) error {
		records, err := p.PaymentRepo.ListByDealID(ctx, dealID)
		if err != nil {
			return err
		}

		// a retried cleanup must not reverse the same session twice
		logged, err := p.PaymentRepo.ListDeletions(ctx, &payment.DeletionFilter{
			DealID: dealID,
			Kind:   types.DeletionKindCancellation,
		})
		if err != nil {
			return err
		}
		cancelled := lo.SliceToMap(logged, func(e *payment.DeletionLogEntry) (string, struct{}) {
			return e.SessionID, struct{}{}
		})

		now := p.now()
		for _, r := range records {
			if r.WasPaid() || r.IsFailed() {
				continue
			}
			if _, ok := cancelled[r.SessionID]; ok {
				continue
			}
			entry := payment.NewReversal(r, types.DeletionKindCancellation, "deal deleted", "", now)
			if err := p.PaymentRepo.LogDeletion(ctx, entry); err != nil {
				return err
			}
			result.Cancellations++
		}

		deleted, err := p.PaymentRepo.DeleteByDealID(ctx, dealID)
		if err != nil {
			return err
		}
		result.Deleted = deleted
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.Logger.Infow("cleaned up ledger of deleted deal",
		"deal_id", dealID,
		"cancellations", result.Cancellations,
		"deleted", result.Deleted,
	)
	return result, nil
}
