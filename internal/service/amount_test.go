package service

import (
	"testing"
	"time"

	"github.com/flexprice/dealpay/internal/domain/deal"
	"github.com/flexprice/dealpay/internal/domain/payment"
	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/flexprice/dealpay/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDealTotal(t *testing.T) {
	now := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		setup func(d *deal.Deal)
		want  string
	}{
		{
			name: "plain amount",
			want: "1000.00",
		},
		{
			name: "deal percentage discount",
			setup: func(d *deal.Deal) {
				d.Discount = &deal.Discount{Type: types.DiscountTypePercentage, Value: decimal.NewFromInt(10)}
			},
			want: "900.00",
		},
		{
			name: "deal fixed discount",
			setup: func(d *deal.Deal) {
				d.Discount = &deal.Discount{Type: types.DiscountTypeFixed, Value: decimal.NewFromInt(150)}
			},
			want: "850.00",
		},
		{
			name: "line items replace the deal amount",
			setup: func(d *deal.Deal) {
				d.LineItems = []deal.LineItem{
					{ID: "li1", Price: decimal.NewFromInt(300), Quantity: decimal.NewFromInt(2)},
					{ID: "li2", Price: decimal.RequireFromString("199.99")},
				}
			},
			want: "799.99",
		},
		{
			name: "product discount wins over deal discount",
			setup: func(d *deal.Deal) {
				d.Discount = &deal.Discount{Type: types.DiscountTypePercentage, Value: decimal.NewFromInt(50)}
				d.LineItems = []deal.LineItem{
					{ID: "li1", Price: decimal.NewFromInt(600), Discount: &deal.Discount{Type: types.DiscountTypeFixed, Value: decimal.NewFromInt(100)}},
					{ID: "li2", Price: decimal.NewFromInt(400)},
				}
			},
			want: "900.00",
		},
		{
			name: "fixed discount larger than price floors at zero",
			setup: func(d *deal.Deal) {
				d.Discount = &deal.Discount{Type: types.DiscountTypeFixed, Value: decimal.NewFromInt(5000)}
			},
			want: "0.00",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDeal("d1", "1000", 45, now)
			if tt.setup != nil {
				tt.setup(d)
			}
			assert.Equal(t, tt.want, DealTotal(d).StringFixed(2))
		})
	}
}

func TestCalculateLegAmount(t *testing.T) {
	now := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)

	t.Run("even split of 1000", func(t *testing.T) {
		d := newTestDeal("d1", "1000", 45, now)
		deposit, err := CalculateLegAmount(d, types.LegTypeDeposit, nil)
		require.NoError(t, err)
		rest, err := CalculateLegAmount(d, types.LegTypeRest, nil)
		require.NoError(t, err)

		assert.Equal(t, "500.00", deposit.Amount.StringFixed(2))
		assert.Equal(t, "500.00", rest.Amount.StringFixed(2))
		assert.Equal(t, "PLN", deposit.Currency)
	})

	t.Run("odd cent goes to the rest", func(t *testing.T) {
		d := newTestDeal("d1", "100.01", 45, now)
		deposit, err := CalculateLegAmount(d, types.LegTypeDeposit, nil)
		require.NoError(t, err)
		rest, err := CalculateLegAmount(d, types.LegTypeRest, nil)
		require.NoError(t, err)

		assert.Equal(t, "50.00", deposit.Amount.StringFixed(2))
		assert.Equal(t, "50.01", rest.Amount.StringFixed(2))
		assert.True(t, deposit.Amount.Add(rest.Amount).Equal(decimal.RequireFromString("100.01")))
	})

	t.Run("single is the discounted total", func(t *testing.T) {
		d := newTestDeal("d1", "1000", 10, now)
		d.Discount = &deal.Discount{Type: types.DiscountTypePercentage, Value: decimal.NewFromInt(5)}
		single, err := CalculateLegAmount(d, types.LegTypeSingle, nil)
		require.NoError(t, err)
		assert.Equal(t, "950.00", single.Amount.StringFixed(2))
	})

	t.Run("rest is the remainder after a paid deposit", func(t *testing.T) {
		d := newTestDeal("d1", "1200", 45, now)
		records := []*payment.PaymentRecord{
			newTestRecord("d1", "cs_1", types.LegTypeDeposit, types.ScheduleKindTwoLeg, "500", types.RecordStatusPaid, now),
			newTestRecord("d1", "cs_2", types.LegTypeDeposit, types.ScheduleKindTwoLeg, "600", types.RecordStatusPending, now),
		}
		rest, err := CalculateLegAmount(d, types.LegTypeRest, records)
		require.NoError(t, err)
		assert.Equal(t, "700.00", rest.Amount.StringFixed(2))
	})

	t.Run("deposits in another currency are not subtracted", func(t *testing.T) {
		d := newTestDeal("d1", "1000", 45, now)
		eur := newTestRecord("d1", "cs_1", types.LegTypeDeposit, types.ScheduleKindTwoLeg, "100", types.RecordStatusPaid, now)
		eur.Currency = "EUR"
		rest, err := CalculateLegAmount(d, types.LegTypeRest, []*payment.PaymentRecord{eur})
		require.NoError(t, err)
		assert.Equal(t, "500.00", rest.Amount.StringFixed(2))
	})

	t.Run("zero total is rejected", func(t *testing.T) {
		d := newTestDeal("d1", "0", 45, now)
		_, err := CalculateLegAmount(d, types.LegTypeDeposit, nil)
		require.Error(t, err)
		assert.True(t, ierr.IsInvalidAmount(err))
	})

	t.Run("overpaid deposit leaves no rest", func(t *testing.T) {
		d := newTestDeal("d1", "400", 45, now)
		records := []*payment.PaymentRecord{
			newTestRecord("d1", "cs_1", types.LegTypeDeposit, types.ScheduleKindTwoLeg, "500", types.RecordStatusPaid, now),
		}
		_, err := CalculateLegAmount(d, types.LegTypeRest, records)
		require.Error(t, err)
		assert.True(t, ierr.IsInvalidAmount(err))
	})

	t.Run("unknown leg", func(t *testing.T) {
		d := newTestDeal("d1", "1000", 45, now)
		_, err := CalculateLegAmount(d, types.LegType("bonus"), nil)
		assert.True(t, ierr.IsValidation(err))
	})
}

func TestTaxAmount(t *testing.T) {
	assert.Equal(t, "186.99", TaxAmount(decimal.NewFromInt(1000), decimal.NewFromInt(23)).StringFixed(2))
	assert.Equal(t, "93.50", TaxAmount(decimal.NewFromInt(500), decimal.NewFromInt(23)).StringFixed(2))
	assert.True(t, TaxAmount(decimal.NewFromInt(500), decimal.Zero).IsZero())
}
