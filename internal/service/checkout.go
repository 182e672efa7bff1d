package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/flexprice/dealpay/internal/cache"
	"github.com/flexprice/dealpay/internal/domain/crm"
	"github.com/flexprice/dealpay/internal/domain/deal"
	"github.com/flexprice/dealpay/internal/domain/gateway"
	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/flexprice/dealpay/internal/lock"
	"github.com/flexprice/dealpay/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

type LegStatus string

const (
	LegStatusCreated LegStatus = "created"
	LegStatusFailed  LegStatus = "failed"
)

type DealStatus string

const (
	DealStatusCreated DealStatus = "created"
	DealStatusPartial DealStatus = "partial"
	DealStatusFailed  DealStatus = "failed"
	DealStatusSkipped DealStatus = "skipped"
)

// LegResult is the outcome of creating one leg's session
type LegResult struct {
	LegType   types.LegType   `json:"leg_type"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	URL       string          `json:"url,omitempty"`
	Status    LegStatus       `json:"status"`
	Error     string          `json:"error,omitempty"`
	ErrorCode string          `json:"error_code,omitempty"`

	err error
}

func (l *LegResult) fail(err error) {
	l.Status = LegStatusFailed
	l.Error = err.Error()
	l.ErrorCode = ierr.CodeOf(err)
	l.err = err
}

// DealResult is the outcome of processing one deal
type DealResult struct {
	DealID       string             `json:"deal_id"`
	DealName     string             `json:"deal_name,omitempty"`
	ScheduleKind types.ScheduleKind `json:"schedule_kind,omitempty"`
	Status       DealStatus         `json:"status"`
	Reason       string             `json:"reason,omitempty"`
	Legs         []*LegResult       `json:"legs,omitempty"`
	Error        string             `json:"error,omitempty"`
	ErrorCode    string             `json:"error_code,omitempty"`
	// Halted is set when the run's session ceiling stopped this deal
	Halted bool `json:"halted,omitempty"`

	err            error
	advanceTrigger bool
}

func (r *DealResult) skip(reason string) {
	r.Status = DealStatusSkipped
	r.Reason = reason
}

func (r *DealResult) fail(err error) {
	r.Status = DealStatusFailed
	r.Error = err.Error()
	r.ErrorCode = ierr.CodeOf(err)
	r.err = err
}

// Err returns the first error recorded for the deal or one of its legs
func (r *DealResult) Err() error {
	if r.err != nil {
		return r.err
	}
	for _, l := range r.Legs {
		if l.err != nil {
			return l.err
		}
	}
	return nil
}

// Successful reports a deal that was handled without any error
func (r *DealResult) Successful() bool {
	return r.Status == DealStatusCreated || r.Status == DealStatusSkipped
}

func (r *DealResult) settle() {
	if r.Status == DealStatusSkipped || r.Status == DealStatusFailed {
		return
	}
	created := lo.CountBy(r.Legs, func(l *LegResult) bool { return l.Status == LegStatusCreated })
	switch {
	case created == len(r.Legs) && created > 0:
		r.Status = DealStatusCreated
	case created > 0:
		r.Status = DealStatusPartial
	default:
		r.Status = DealStatusFailed
		if err := r.Err(); err != nil {
			r.ErrorCode = ierr.CodeOf(err)
		}
	}
}

type CheckoutOptions struct {
	// SkipTriggers processes the deal even when no payment link was requested
	SkipTriggers bool
	Budget       *SessionBudget
}

type CheckoutService interface {
	ProcessDeal(ctx context.Context, d *deal.Deal, opts CheckoutOptions) *DealResult
}

type checkoutService struct {
	ServiceParams
	analyzer PaymentStateAnalyzer
	deals    *dealLoader
}

func NewCheckoutService(params ServiceParams, analyzer PaymentStateAnalyzer) CheckoutService {
	return &checkoutService{
		ServiceParams: params,
		analyzer:      analyzer,
		deals:         newDealLoader(params),
	}
}

func (c *checkoutService) ProcessDeal(ctx context.Context, d *deal.Deal, opts CheckoutOptions) *DealResult {
	res := &DealResult{DealID: d.ID, DealName: d.Name}

	if reason, ok := c.eligible(d, opts); !ok {
		res.skip(reason)
		return res
	}
	if err := d.Validate(); err != nil {
		res.fail(err)
		return res
	}

	if d.RequiresAddress() && !d.Address.IsComplete() {
		err := ierr.NewErrorf("deal %s has no billing address", d.ID).
			WithHint("Organization deals need a complete billing address before payment links are created").
			WithReportableDetails(map[string]any{"deal_id": d.ID}).
			Mark(ierr.ErrAddressMissing)
		c.raiseAddressTask(ctx, d)
		res.fail(err)
		return res
	}

	err := c.Lock.WithLock(ctx, d.ID, lock.PurposeCheckout, func(ctx context.Context) error {
		return c.createMissingLegs(ctx, d, opts, res)
	}, lock.Options{})
	if err != nil {
		if ierr.IsLockAcquisitionFailed(err) {
			c.failAllLegs(ctx, d, res, err)
		} else {
			res.fail(err)
		}
		c.Logger.Warnw("checkout failed for deal", "deal_id", d.ID, "error", err)
		return res
	}

	res.settle()
	c.publishLinks(ctx, d, res)
	return res
}

func (c *checkoutService) eligible(d *deal.Deal, opts CheckoutOptions) (string, bool) {
	stages := c.Config.Payments.Stages
	switch {
	case !d.IsActive():
		return "deal is archived", false
	case d.Stage == stages.ClosedLost || (stages.ClosedWon != "" && d.Stage == stages.ClosedWon):
		return "deal is closed", false
	case d.Stage == stages.FullyPaid:
		return "deal is fully paid", false
	case !opts.SkipTriggers && !lo.Contains(c.Config.Payments.Trigger.Values, d.TriggerValue):
		return "payment link not requested", false
	}
	return "", true
}

// createMissingLegs runs under the deal lock. State is re-read here because it
// may have changed since the deal was listed.
func (c *checkoutService) createMissingLegs(ctx context.Context, d *deal.Deal, opts CheckoutOptions, res *DealResult) error {
	state, err := c.analyzer.Analyze(ctx, d)
	if err != nil {
		return err
	}
	res.ScheduleKind = state.Schedule.Kind

	if state.IsFullyPaid() {
		res.skip("deal is fully paid")
		return nil
	}

	legs := state.MissingLegs()
	if len(legs) == 0 {
		res.skip("every leg already has a session")
		res.advanceTrigger = d.TriggerValue != c.Config.Payments.Trigger.AwaitingValue
		return nil
	}

	for _, leg := range legs {
		lr := &LegResult{LegType: leg}
		res.Legs = append(res.Legs, lr)

		amount, err := CalculateLegAmount(d, leg, state.Records)
		if err != nil {
			lr.fail(err)
			continue
		}
		lr.Amount = amount.Amount
		lr.Currency = amount.Currency

		if !opts.Budget.Take() {
			lr.fail(opts.Budget.exceeded())
			res.Halted = true
			break
		}

		session, err := c.Gateway.CreateSession(ctx, c.sessionParams(d, state.Schedule.Kind, amount, state.Leg(leg).Failed))
		if err != nil {
			c.Logger.Errorw("failed to create checkout session",
				"deal_id", d.ID,
				"leg_type", leg,
				"amount", amount.Amount.String(),
				"error", err,
			)
			c.Sentry.CaptureWithTags(ctx, err, map[string]string{
				"deal_id":  d.ID,
				"leg_type": string(leg),
			})
			lr.fail(err)
			continue
		}

		lr.Status = LegStatusCreated
		lr.SessionID = session.ID
		lr.URL = session.URL
		c.Logger.Infow("created checkout session",
			"deal_id", d.ID,
			"session_id", session.ID,
			"leg_type", leg,
			"schedule_kind", state.Schedule.Kind,
			"amount", amount.Amount.String(),
			"currency", amount.Currency,
		)
	}
	return nil
}

// sessionParams builds the gateway request for a leg. attempt is the number of
// declined sessions the leg already had, so a retry is not replayed as the
// declined request.
func (c *checkoutService) sessionParams(d *deal.Deal, kind types.ScheduleKind, leg PaymentLeg, attempt int) *gateway.CreateSessionParams {
	key := c.Idempotency.CheckoutSessionKey(d.ID, leg.Type, leg.Amount, leg.Currency, attempt)

	description := fmt.Sprintf("%s, %s payment", d.Name, leg.Type)
	vatRate := decimal.NewFromFloat(c.Config.Payments.VATRate)
	if tax := TaxAmount(leg.Amount, vatRate); tax.IsPositive() {
		description = fmt.Sprintf("%s (incl. %s%% VAT %s %s)", description, vatRate.String(), tax.StringFixed(2), leg.Currency)
	}

	return &gateway.CreateSessionParams{
		DealID:         d.ID,
		LegType:        leg.Type,
		ScheduleKind:   kind,
		Amount:         leg.Amount,
		Currency:       leg.Currency,
		ProductName:    c.Config.Payments.ProductName,
		Description:    description,
		CustomerEmail:  d.ContactEmail,
		SuccessURL:     c.Config.Payments.SuccessURL,
		CancelURL:      c.Config.Payments.CancelURL,
		IdempotencyKey: key,
		Metadata: map[string]string{
			types.MetadataKeyIdempotencyToken: key,
			types.MetadataKeySource:           types.MetadataSourceValue,
		},
	}
}

// failAllLegs turns a lock failure into one error entry per leg of the schedule
func (c *checkoutService) failAllLegs(ctx context.Context, d *deal.Deal, res *DealResult, err error) {
	records, listErr := c.PaymentRepo.ListByDealID(ctx, d.ID)
	if listErr != nil {
		records = nil
	}
	schedule := ResolveSchedule(d, records, c.now(), c.Config.Payments.TwoLegThresholdDays)
	res.ScheduleKind = schedule.Kind
	for _, leg := range schedule.Legs {
		lr := &LegResult{LegType: leg}
		lr.fail(err)
		res.Legs = append(res.Legs, lr)
	}
	res.Status = DealStatusFailed
	res.ErrorCode = ierr.CodeOf(err)
	res.err = err
}

// publishLinks writes created links to the deal and adds a note. The trigger
// only advances when no leg failed so failed legs are retried on the next run.
func (c *checkoutService) publishLinks(ctx context.Context, d *deal.Deal, res *DealResult) {
	created := lo.Filter(res.Legs, func(l *LegResult, _ int) bool { return l.Status == LegStatusCreated })
	failed := len(res.Legs) - len(created)

	props := make(map[string]string)
	for _, l := range created {
		props[crm.PaymentLinkProperty(l.LegType)] = l.URL
	}
	if (len(created) > 0 && failed == 0) || res.advanceTrigger {
		props[c.Config.Payments.Trigger.Property] = c.Config.Payments.Trigger.AwaitingValue
	}
	if len(props) == 0 {
		return
	}

	if err := c.CRM.UpdateDeal(ctx, d.ID, props); err != nil {
		c.Logger.Errorw("failed to write payment links to deal", "deal_id", d.ID, "error", err)
		if res.Error == "" {
			res.Error = err.Error()
		}
		return
	}
	c.deals.Forget(ctx, d.ID)

	if len(created) == 0 {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Payment links created for %s:\n", d.Name)
	for _, l := range created {
		fmt.Fprintf(&b, "- %s: %s %s %s\n", l.LegType, l.Amount.StringFixed(2), l.Currency, l.URL)
	}
	if failed > 0 {
		fmt.Fprintf(&b, "%d payment link(s) failed and will be retried.\n", failed)
	}
	if err := c.CRM.AddNoteToDeal(ctx, d.ID, b.String()); err != nil {
		c.Logger.Warnw("failed to add payment link note", "deal_id", d.ID, "error", err)
	}
}

// raiseAddressTask creates one operator task per deal for the process lifetime.
// The dedup entry lives under cache.PrefixAddressTask without expiry.
func (c *checkoutService) raiseAddressTask(ctx context.Context, d *deal.Deal) {
	key := cache.GenerateKey(cache.PrefixAddressTask, d.ID)
	if !c.Cache.SetIfAbsent(ctx, key, true, cache.NoExpiration) {
		return
	}

	_, err := c.CRM.CreateTask(ctx, &crm.Task{
		DealID:   d.ID,
		Kind:     crm.TaskKindAddressMissing,
		Ref:      d.ID,
		Subject:  fmt.Sprintf("Billing address missing for %s", d.Name),
		Body:     "Payment links cannot be created until the billing address (street, city, postal code, country) is filled in.",
		Priority: "HIGH",
		OwnerID:  c.Config.HubSpot.TaskOwnerID,
		DueAt:    c.now().Add(24 * time.Hour),
	})
	if err != nil {
		c.Cache.Delete(ctx, key)
		c.Logger.Errorw("failed to create address task", "deal_id", d.ID, "error", err)
		return
	}
	c.Logger.Infow("raised address missing task", "deal_id", d.ID)
}
