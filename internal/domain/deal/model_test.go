package deal

import (
	"testing"

	"github.com/flexprice/dealpay/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestDiscountApply(t *testing.T) {
	amount := decimal.NewFromInt(1000)

	tests := []struct {
		name     string
		discount *Discount
		want     string
	}{
		{name: "nil discount", discount: nil, want: "1000"},
		{name: "percentage", discount: &Discount{Type: types.DiscountTypePercentage, Value: decimal.NewFromInt(10)}, want: "900"},
		{name: "fixed", discount: &Discount{Type: types.DiscountTypeFixed, Value: decimal.NewFromInt(150)}, want: "850"},
		{name: "fixed above amount floors at zero", discount: &Discount{Type: types.DiscountTypeFixed, Value: decimal.NewFromInt(2000)}, want: "0"},
		{name: "zero value ignored", discount: &Discount{Type: types.DiscountTypePercentage, Value: decimal.Zero}, want: "1000"},
		{name: "unknown type ignored", discount: &Discount{Type: "bogus", Value: decimal.NewFromInt(5)}, want: "1000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.discount.Apply(amount)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestSubtotal(t *testing.T) {
	d := &Deal{Amount: decimal.NewFromInt(999)}
	assert.True(t, d.Subtotal().Equal(decimal.NewFromInt(999)))

	d.LineItems = []LineItem{
		{Price: decimal.NewFromInt(200), Quantity: decimal.NewFromInt(2)},
		{Price: decimal.NewFromInt(100)},
	}
	assert.True(t, d.Subtotal().Equal(decimal.NewFromInt(500)))
}

func TestAddressIsComplete(t *testing.T) {
	a := Address{Line: "ul. Prosta 1", City: "Warszawa", PostalCode: "00-001", Country: "PL"}
	assert.True(t, a.IsComplete())

	a.PostalCode = "  "
	assert.False(t, a.IsComplete())
}

func TestValidate(t *testing.T) {
	assert.Error(t, (&Deal{Currency: "PLN"}).Validate())
	assert.Error(t, (&Deal{ID: "1", Currency: "zloty"}).Validate())
	assert.NoError(t, (&Deal{ID: "1", Currency: "PLN"}).Validate())
}
