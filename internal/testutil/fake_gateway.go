package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/flexprice/dealpay/internal/domain/gateway"
	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/flexprice/dealpay/internal/types"
)

// FakeGateway implements gateway.Gateway in memory. Sessions are listed newest
// first like the hosted checkout API does.
type FakeGateway struct {
	mu sync.Mutex

	now      func() time.Time
	seq      int
	sessions map[string]*gateway.Session
	order    map[string]int
	byKey    map[string]string

	refunds      []*gateway.Refund
	refundByKey  map[string]string
	createCalls  int
	createErrs   map[types.LegType]error
	listFailures int
	listErr      error
	refundErr    error
	createDelay  time.Duration
}

// NewFakeGateway creates an empty gateway
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		now:         time.Now,
		sessions:    make(map[string]*gateway.Session),
		order:       make(map[string]int),
		byKey:       make(map[string]string),
		refundByKey: make(map[string]string),
		createErrs:  make(map[types.LegType]error),
	}
}

// SetNow pins the clock used for created timestamps
func (g *FakeGateway) SetNow(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

// FailCreate makes session creation for the leg fail with err, nil clears it
func (g *FakeGateway) FailCreate(leg types.LegType, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.createErrs, leg)
		return
	}
	g.createErrs[leg] = err
}

// FailListSessions makes the next n ListSessions calls fail with err
func (g *FakeGateway) FailListSessions(n int, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listFailures = n
	g.listErr = err
}

// FailRefunds makes refund creation fail with err, nil clears it
func (g *FakeGateway) FailRefunds(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refundErr = err
}

// SetCreateDelay slows down session creation to widen race windows
func (g *FakeGateway) SetCreateDelay(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createDelay = d
}

// CreateCalls returns how many sessions were actually created
func (g *FakeGateway) CreateCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.createCalls
}

func copySession(s *gateway.Session) *gateway.Session {
	c := *s
	c.Metadata = make(map[string]string, len(s.Metadata))
	for k, v := range s.Metadata {
		c.Metadata[k] = v
	}
	return &c
}

func (g *FakeGateway) CreateSession(ctx context.Context, params *gateway.CreateSessionParams) (*gateway.Session, error) {
	g.mu.Lock()
	delay := g.createDelay
	g.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if id, ok := g.byKey[params.IdempotencyKey]; ok && params.IdempotencyKey != "" {
		return copySession(g.sessions[id]), nil
	}
	if err, ok := g.createErrs[params.LegType]; ok {
		return nil, ierr.WithError(err).
			WithHint("Payment gateway rejected the checkout session").
			Mark(ierr.ErrGateway)
	}

	g.seq++
	g.createCalls++
	id := fmt.Sprintf("cs_test_%04d", g.seq)
	metadata := map[string]string{
		types.MetadataKeyDealID:       params.DealID,
		types.MetadataKeyLegType:      string(params.LegType),
		types.MetadataKeyScheduleKind: string(params.ScheduleKind),
	}
	for k, v := range params.Metadata {
		metadata[k] = v
	}

	s := &gateway.Session{
		ID:            id,
		URL:           "https://checkout.test/" + id,
		Status:        types.SessionStatusOpen,
		PaymentStatus: types.SessionPaymentStatusUnpaid,
		Amount:        params.Amount,
		Currency:      params.Currency,
		Metadata:      metadata,
		CustomerEmail: params.CustomerEmail,
		CreatedAt:     g.now().UTC(),
	}
	g.sessions[id] = s
	g.order[id] = g.seq
	if params.IdempotencyKey != "" {
		g.byKey[params.IdempotencyKey] = id
	}
	return copySession(s), nil
}

// AddSession stores a session as if it had been created out of band
func (g *FakeGateway) AddSession(s *gateway.Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	c := copySession(s)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = g.now().UTC()
	}
	g.sessions[c.ID] = c
	g.order[c.ID] = g.seq
}

// CompleteSession marks a session complete. Paid sessions get a payment intent.
func (g *FakeGateway) CompleteSession(id string, paid bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[id]
	if !ok {
		return
	}
	s.Status = types.SessionStatusComplete
	s.PaymentIntentID = "pi_" + id
	if paid {
		s.PaymentStatus = types.SessionPaymentStatusPaid
		at := g.now().UTC()
		s.PaidAt = &at
	} else {
		s.PaymentStatus = types.SessionPaymentStatusUnpaid
	}
}

// DeclineSession completes a session whose delayed payment was declined
func (g *FakeGateway) DeclineSession(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[id]
	if !ok {
		return
	}
	s.Status = types.SessionStatusComplete
	s.PaymentStatus = types.SessionPaymentStatusUnpaid
	s.PaymentIntentID = "pi_" + id
	s.PaymentFailed = true
	s.PaidAt = nil
}

// Sessions returns the sessions of a deal in creation order
func (g *FakeGateway) Sessions(dealID string) []*gateway.Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*gateway.Session, 0)
	for _, s := range g.sessions {
		if dealID == "" || s.DealID() == dealID {
			out = append(out, copySession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return g.order[out[i].ID] < g.order[out[j].ID] })
	return out
}

func (g *FakeGateway) ListSessions(ctx context.Context, filter *gateway.SessionFilter) (*gateway.SessionPage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.listFailures > 0 {
		g.listFailures--
		return nil, ierr.WithError(g.listErr).
			WithHint("Failed to list checkout sessions").
			Mark(ierr.ErrGateway)
	}
	if filter == nil {
		filter = &gateway.SessionFilter{}
	}

	matched := make([]*gateway.Session, 0)
	for _, s := range g.sessions {
		if !filter.CreatedFrom.IsZero() && s.CreatedAt.Before(filter.CreatedFrom) {
			continue
		}
		if !filter.CreatedTo.IsZero() && s.CreatedAt.After(filter.CreatedTo) {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		if filter.DealID != "" && s.DealID() != filter.DealID {
			continue
		}
		matched = append(matched, s)
	}
	sort.Slice(matched, func(i, j int) bool { return g.order[matched[i].ID] > g.order[matched[j].ID] })

	start := 0
	if filter.StartingAfter != "" {
		for i, s := range matched {
			if s.ID == filter.StartingAfter {
				start = i + 1
				break
			}
		}
	}
	limit := int(filter.Limit)
	if limit <= 0 {
		limit = 10
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}

	page := &gateway.SessionPage{Sessions: make([]*gateway.Session, 0, end-start)}
	if start < end {
		for _, s := range matched[start:end] {
			page.Sessions = append(page.Sessions, copySession(s))
		}
		page.NextCursor = matched[end-1].ID
	}
	page.HasMore = end < len(matched)
	return page, nil
}

func (g *FakeGateway) RetrieveSession(ctx context.Context, sessionID string) (*gateway.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[sessionID]
	if !ok {
		return nil, ierr.NewErrorf("checkout session %s not found", sessionID).
			Mark(ierr.ErrNotFound)
	}
	return copySession(s), nil
}

func (g *FakeGateway) CreateRefund(ctx context.Context, params *gateway.CreateRefundParams) (*gateway.Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if params.IdempotencyKey != "" {
		if id, ok := g.refundByKey[params.IdempotencyKey]; ok {
			for _, r := range g.refunds {
				if r.ID == id {
					c := *r
					return &c, nil
				}
			}
		}
	}
	if g.refundErr != nil {
		return nil, ierr.WithError(g.refundErr).
			WithHint("Payment gateway rejected the refund").
			Mark(ierr.ErrGateway)
	}

	g.seq++
	r := &gateway.Refund{
		ID:              fmt.Sprintf("re_test_%04d", g.seq),
		PaymentIntentID: params.PaymentIntentID,
		Amount:          params.Amount,
		Currency:        params.Currency,
		Status:          "succeeded",
		Reason:          params.Reason,
		CreatedAt:       g.now().UTC(),
	}
	g.refunds = append(g.refunds, r)
	if params.IdempotencyKey != "" {
		g.refundByKey[params.IdempotencyKey] = r.ID
	}
	c := *r
	return &c, nil
}

// AddRefund stores a refund issued outside the engine
func (g *FakeGateway) AddRefund(r *gateway.Refund) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := *r
	g.refunds = append(g.refunds, &c)
}

// Refunds returns every refund the gateway knows about
func (g *FakeGateway) Refunds() []*gateway.Refund {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*gateway.Refund, 0, len(g.refunds))
	for _, r := range g.refunds {
		c := *r
		out = append(out, &c)
	}
	return out
}

func (g *FakeGateway) ListRefunds(ctx context.Context, filter *gateway.RefundFilter) ([]*gateway.Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*gateway.Refund, 0)
	for _, r := range g.refunds {
		if filter != nil && filter.PaymentIntentID != "" && r.PaymentIntentID != filter.PaymentIntentID {
			continue
		}
		c := *r
		out = append(out, &c)
	}
	return out, nil
}
