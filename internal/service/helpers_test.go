package service

import (
	"errors"
	"time"

	"github.com/flexprice/dealpay/internal/domain/deal"
	"github.com/flexprice/dealpay/internal/domain/payment"
	"github.com/flexprice/dealpay/internal/idempotency"
	"github.com/flexprice/dealpay/internal/testutil"
	"github.com/flexprice/dealpay/internal/types"
	"github.com/shopspring/decimal"
)

func newTestParams(s *testutil.BaseServiceTestSuite) ServiceParams {
	return ServiceParams{
		Logger:      s.GetLogger(),
		Config:      s.GetConfig(),
		DB:          s.GetDB(),
		PaymentRepo: s.GetStores().PaymentRepo,
		Gateway:     s.GetGateway(),
		CRM:         s.GetCRM(),
		Lock:        s.GetLockService(),
		Converter:   s.GetConverter(),
		Cache:       s.GetCache(),
		Sentry:      s.GetSentry(),
		Idempotency: idempotency.NewGenerator(),
		Now:         s.GetNow,
	}
}

// newTestDeal builds an open PLN deal closing closeInDays after now
func newTestDeal(id, amount string, closeInDays int, now time.Time) *deal.Deal {
	closeDate := now.AddDate(0, 0, closeInDays)
	return &deal.Deal{
		ID:           id,
		Name:         "Booking " + id,
		Pipeline:     "default",
		Stage:        "appointmentscheduled",
		Amount:       decimal.RequireFromString(amount),
		Currency:     "PLN",
		CloseDate:    &closeDate,
		CustomerType: types.CustomerTypeIndividual,
		TriggerValue: "create_payment_link",
		ContactEmail: "client@example.com",
		ContactName:  "Jan Kowalski",
	}
}

func newTestRecord(dealID, sessionID string, leg types.LegType, kind types.ScheduleKind, amount string, status types.RecordStatus, at time.Time) *payment.PaymentRecord {
	r := &payment.PaymentRecord{
		ID:                         types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PAYMENT_RECORD),
		SessionID:                  sessionID,
		DealID:                     dealID,
		LegType:                    leg,
		ScheduleKind:               kind,
		Currency:                   "PLN",
		Amount:                     decimal.RequireFromString(amount),
		SettlementCurrency:         "PLN",
		AmountInSettlementCurrency: decimal.RequireFromString(amount),
		Status:                     status,
		PaymentIntentID:            "pi_" + sessionID,
		SessionCreatedAt:           at,
		CreatedAt:                  at,
		UpdatedAt:                  at,
	}
	if status == types.RecordStatusPaid || status == types.RecordStatusRefunded {
		paidAt := at
		r.PaidAt = &paidAt
	}
	return r
}

var assertErr = errors.New("gateway unavailable")
