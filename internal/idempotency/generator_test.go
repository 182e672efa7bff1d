package idempotency

import (
	"strings"
	"testing"

	"github.com/flexprice/dealpay/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCheckoutSessionKeyIsDeterministic(t *testing.T) {
	g := NewGenerator()

	a := g.CheckoutSessionKey("1001", types.LegTypeDeposit, decimal.NewFromInt(500), "pln", 0)
	b := g.CheckoutSessionKey("1001", types.LegTypeDeposit, decimal.RequireFromString("500.00"), "PLN", 0)

	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, string(ScopeCheckoutSession)+"-"))
}

func TestCheckoutSessionKeyVariesByLegAndAmount(t *testing.T) {
	g := NewGenerator()

	deposit := g.CheckoutSessionKey("1001", types.LegTypeDeposit, decimal.NewFromInt(500), "PLN", 0)
	rest := g.CheckoutSessionKey("1001", types.LegTypeRest, decimal.NewFromInt(500), "PLN", 0)
	repriced := g.CheckoutSessionKey("1001", types.LegTypeDeposit, decimal.NewFromInt(450), "PLN", 0)
	otherDeal := g.CheckoutSessionKey("1002", types.LegTypeDeposit, decimal.NewFromInt(500), "PLN", 0)

	assert.NotEqual(t, deposit, rest)
	assert.NotEqual(t, deposit, repriced)
	assert.NotEqual(t, deposit, otherDeal)
}

func TestCheckoutSessionKeyVariesByAttempt(t *testing.T) {
	g := NewGenerator()

	first := g.CheckoutSessionKey("1001", types.LegTypeSingle, decimal.NewFromInt(800), "PLN", 0)
	retry := g.CheckoutSessionKey("1001", types.LegTypeSingle, decimal.NewFromInt(800), "PLN", 1)
	again := g.CheckoutSessionKey("1001", types.LegTypeSingle, decimal.NewFromInt(800), "PLN", 2)

	assert.NotEqual(t, first, retry)
	assert.NotEqual(t, retry, again)
	assert.Equal(t, retry, g.CheckoutSessionKey("1001", types.LegTypeSingle, decimal.NewFromInt(800), "PLN", 1))
}

func TestRefundKey(t *testing.T) {
	g := NewGenerator()

	key := g.RefundKey("cs_test_1")
	assert.Equal(t, key, g.GenerateKey(ScopeRefund, map[string]interface{}{"session_id": "cs_test_1"}))
	assert.True(t, strings.HasPrefix(key, string(ScopeRefund)+"-"))
	assert.NotEqual(t, key, g.RefundKey("cs_test_2"))
}
