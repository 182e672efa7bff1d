package service

import (
	"strings"

	"github.com/flexprice/dealpay/internal/domain/deal"
	"github.com/flexprice/dealpay/internal/domain/payment"
	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/flexprice/dealpay/internal/types"
	"github.com/shopspring/decimal"
)

var (
	two     = decimal.NewFromInt(2)
	hundred = decimal.NewFromInt(100)
)

// PaymentLeg is one amount to collect
type PaymentLeg struct {
	Type     types.LegType   `json:"type"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// DealTotal is the discounted price of a deal rounded to cents. Line item
// discounts take priority; the deal discount only applies when no line item
// carries its own.
func DealTotal(d *deal.Deal) decimal.Decimal {
	if d.HasProductDiscount() {
		total := decimal.Zero
		for _, li := range d.LineItems {
			total = total.Add(li.Discount.Apply(li.Total()))
		}
		return total.Round(2)
	}
	return d.Discount.Apply(d.Subtotal()).Round(2)
}

// CalculateLegAmount derives the amount of one leg. The deposit is the half
// rounded down so deposit and rest always add up to the total. Once a deposit
// has been paid the rest is whatever remains of the total.
func CalculateLegAmount(d *deal.Deal, leg types.LegType, records []*payment.PaymentRecord) (PaymentLeg, error) {
	if err := leg.Validate(); err != nil {
		return PaymentLeg{}, err
	}

	total := DealTotal(d)
	if !total.IsPositive() {
		return PaymentLeg{}, invalidAmount(d, leg, total, "deal total must be positive")
	}

	deposit := total.Div(two).RoundFloor(2)

	var amount decimal.Decimal
	switch leg {
	case types.LegTypeSingle:
		amount = total
	case types.LegTypeDeposit:
		amount = deposit
	case types.LegTypeRest:
		paidDeposits, found := sumPaidDeposits(records, d.Currency)
		if found {
			amount = total.Sub(paidDeposits)
		} else {
			amount = total.Sub(deposit)
		}
	}

	if !amount.IsPositive() {
		return PaymentLeg{}, invalidAmount(d, leg, amount, "leg amount must be positive")
	}

	return PaymentLeg{
		Type:     leg,
		Amount:   amount,
		Currency: strings.ToUpper(d.Currency),
	}, nil
}

func sumPaidDeposits(records []*payment.PaymentRecord, currency string) (decimal.Decimal, bool) {
	sum := decimal.Zero
	found := false
	for _, r := range records {
		if r.LegType != types.LegTypeDeposit || !r.WasPaid() {
			continue
		}
		if !strings.EqualFold(r.Currency, currency) {
			continue
		}
		sum = sum.Add(r.Amount)
		found = true
	}
	return sum, found
}

func invalidAmount(d *deal.Deal, leg types.LegType, amount decimal.Decimal, msg string) error {
	return ierr.NewError(msg).
		WithHintf("Deal %s has no payable amount for the %s payment", d.ID, leg).
		WithReportableDetails(map[string]any{
			"deal_id":  d.ID,
			"leg_type": leg,
			"amount":   amount.String(),
		}).
		Mark(ierr.ErrInvalidAmount)
}

// TaxAmount is the VAT contained in a VAT inclusive amount. It is shown to the
// customer only; the charged amount is never changed by it.
func TaxAmount(amount decimal.Decimal, ratePercent decimal.Decimal) decimal.Decimal {
	if !ratePercent.IsPositive() {
		return decimal.Zero
	}
	return amount.Mul(ratePercent).Div(hundred.Add(ratePercent)).Round(2)
}
