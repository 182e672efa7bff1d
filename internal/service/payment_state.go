package service

import (
	"context"

	"github.com/flexprice/dealpay/internal/domain/deal"
	"github.com/flexprice/dealpay/internal/domain/gateway"
	"github.com/flexprice/dealpay/internal/domain/payment"
	"github.com/flexprice/dealpay/internal/types"
	"github.com/shopspring/decimal"
)

// LegState is what is known about one leg of a deal
type LegState struct {
	Type   types.LegType
	Exists bool
	Paid   bool
	// Record is the ledger record of the leg, nil when only the gateway knows it
	Record    *payment.PaymentRecord
	SessionID string
	// Failed counts sessions of the leg whose payment was declined
	Failed int
}

// PaymentState is the collection state of a deal across ledger and gateway
type PaymentState struct {
	DealID   string
	Schedule PaymentSchedule
	Legs     map[types.LegType]*LegState
	Records  []*payment.PaymentRecord

	Total     decimal.Decimal
	PaidTotal decimal.Decimal

	NeedsDeposit bool
	NeedsRest    bool
	NeedsSingle  bool

	// CheckedGateway is set when the ledger was incomplete and the gateway was consulted
	CheckedGateway bool

	declined map[string]struct{}
}

// Leg returns the state of a leg, never nil
func (s *PaymentState) Leg(leg types.LegType) *LegState {
	if st, ok := s.Legs[leg]; ok {
		return st
	}
	return &LegState{Type: leg}
}

// IsFullyPaid reports whether nothing is left to collect
func (s *PaymentState) IsFullyPaid() bool {
	single := s.Leg(types.LegTypeSingle)
	deposit := s.Leg(types.LegTypeDeposit)
	rest := s.Leg(types.LegTypeRest)

	if single.Paid || (deposit.Paid && rest.Paid) {
		return true
	}
	paidLegs := 0
	for _, st := range s.Legs {
		if st.Paid {
			paidLegs++
		}
	}
	if paidLegs >= 2 {
		return true
	}
	return s.Total.IsPositive() && s.PaidTotal.GreaterThanOrEqual(s.Total)
}

// MissingLegs lists the legs that need a session, in collection order
func (s *PaymentState) MissingLegs() []types.LegType {
	legs := make([]types.LegType, 0, 2)
	if s.NeedsDeposit {
		legs = append(legs, types.LegTypeDeposit)
	}
	if s.NeedsRest {
		legs = append(legs, types.LegTypeRest)
	}
	if s.NeedsSingle {
		legs = append(legs, types.LegTypeSingle)
	}
	return legs
}

type PaymentStateAnalyzer interface {
	Analyze(ctx context.Context, d *deal.Deal) (*PaymentState, error)
}

type paymentStateAnalyzer struct {
	ServiceParams
}

func NewPaymentStateAnalyzer(params ServiceParams) PaymentStateAnalyzer {
	return &paymentStateAnalyzer{ServiceParams: params}
}

func (a *paymentStateAnalyzer) Analyze(ctx context.Context, d *deal.Deal) (*PaymentState, error) {
	records, err := a.PaymentRepo.ListByDealID(ctx, d.ID)
	if err != nil {
		return nil, err
	}

	state := &PaymentState{
		DealID:    d.ID,
		Schedule:  ResolveSchedule(d, records, a.now(), a.Config.Payments.TwoLegThresholdDays),
		Legs:      make(map[types.LegType]*LegState),
		Records:   records,
		Total:     DealTotal(d),
		PaidTotal: decimal.Zero,
		declined:  make(map[string]struct{}),
	}

	for _, r := range records {
		st := state.ensureLeg(r.LegType)
		if r.IsFailed() {
			// a declined session leaves its leg open for a new one
			st.Failed++
			state.declined[r.SessionID] = struct{}{}
			continue
		}
		if st.Paid && !r.WasPaid() {
			continue
		}
		st.Exists = true
		st.Record = r
		st.SessionID = r.SessionID
		if r.WasPaid() {
			st.Paid = true
			state.PaidTotal = state.PaidTotal.Add(r.Amount)
		}
	}

	if state.missingRequiredLeg() {
		if err := a.crossCheckGateway(ctx, state); err != nil {
			return nil, err
		}
	}

	state.deriveNeeds()
	return state, nil
}

func (s *PaymentState) ensureLeg(leg types.LegType) *LegState {
	st, ok := s.Legs[leg]
	if !ok {
		st = &LegState{Type: leg}
		s.Legs[leg] = st
	}
	return st
}

// requiredLegs are the legs the schedule still expects. A deposit started
// under an earlier schedule keeps the deal on deposit and rest.
func (s *PaymentState) requiredLegs() []types.LegType {
	if s.Schedule.Kind == types.ScheduleKindSingle && s.Leg(types.LegTypeDeposit).Exists {
		return []types.LegType{types.LegTypeDeposit, types.LegTypeRest}
	}
	return s.Schedule.Legs
}

func (s *PaymentState) missingRequiredLeg() bool {
	for _, leg := range s.requiredLegs() {
		if s.Leg(leg).Record == nil {
			return true
		}
	}
	return false
}

// crossCheckGateway marks legs whose sessions exist at the gateway but never
// reached the ledger
func (a *paymentStateAnalyzer) crossCheckGateway(ctx context.Context, state *PaymentState) error {
	state.CheckedGateway = true
	filter := &gateway.SessionFilter{
		DealID:      state.DealID,
		CreatedFrom: a.now().Add(-a.Config.Payments.SessionLookback),
		Limit:       a.Config.Payments.ReconcilePageSize,
	}

	for {
		page, err := a.Gateway.ListSessions(ctx, filter)
		if err != nil {
			return err
		}
		for _, s := range page.Sessions {
			if s.DealID() != state.DealID || !s.IsLive() {
				continue
			}
			if _, ok := state.declined[s.ID]; ok {
				continue
			}
			leg := s.LegType()
			if leg.Validate() != nil {
				continue
			}
			st := state.ensureLeg(leg)
			if st.Record != nil {
				continue
			}
			if st.Paid && !s.IsPaid() {
				continue
			}
			st.Exists = true
			st.SessionID = s.ID
			if s.IsPaid() && !st.Paid {
				st.Paid = true
				state.PaidTotal = state.PaidTotal.Add(s.Amount)
			}
		}
		if !page.HasMore || page.NextCursor == "" {
			return nil
		}
		filter.StartingAfter = page.NextCursor
	}
}

func (s *PaymentState) deriveNeeds() {
	s.NeedsDeposit, s.NeedsRest, s.NeedsSingle = false, false, false
	if s.IsFullyPaid() {
		return
	}

	single := s.Leg(types.LegTypeSingle)
	deposit := s.Leg(types.LegTypeDeposit)
	rest := s.Leg(types.LegTypeRest)

	switch s.Schedule.Kind {
	case types.ScheduleKindSingle:
		if deposit.Exists {
			// remainder repair, never a second full payment
			s.NeedsRest = !rest.Exists
			return
		}
		s.NeedsSingle = !single.Exists
	case types.ScheduleKindTwoLeg:
		if single.Exists {
			// a live single session already covers the whole amount
			return
		}
		s.NeedsDeposit = !deposit.Exists
		s.NeedsRest = !rest.Exists
	}
}
