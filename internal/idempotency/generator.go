package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/flexprice/dealpay/internal/types"
	"github.com/shopspring/decimal"
)

// Scope represents the scope of idempotency
type Scope string

const (
	ScopeCheckoutSession Scope = "checkout_session"
	ScopeRefund          Scope = "refund"
)

// Generator generates idempotency keys
type Generator struct{}

// NewGenerator creates a new idempotency key generator
func NewGenerator() *Generator {
	return &Generator{}
}

// GenerateKey generates an idempotency key from a scope and parameters
func (g *Generator) GenerateKey(scope Scope, params map[string]interface{}) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(string(scope))
	for _, k := range keys {
		b.WriteString(fmt.Sprintf(":%s=%v", k, params[k]))
	}

	hash := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%s-%s", scope, hex.EncodeToString(hash[:8]))
}

// CheckoutSessionKey derives the key for one leg of a deal. The amount is part
// of the key so a repriced leg is not rejected as a replay of the old request.
// attempt counts earlier declined sessions of the leg; the first attempt keeps
// the plain key.
func (g *Generator) CheckoutSessionKey(dealID string, leg types.LegType, amount decimal.Decimal, currency string, attempt int) string {
	params := map[string]interface{}{
		"deal_id":  dealID,
		"leg_type": leg,
		"amount":   amount.StringFixed(2),
		"currency": strings.ToUpper(currency),
	}
	if attempt > 0 {
		params["attempt"] = attempt
	}
	return g.GenerateKey(ScopeCheckoutSession, params)
}

// RefundKey derives the key for refunding a single paid session
func (g *Generator) RefundKey(sessionID string) string {
	return g.GenerateKey(ScopeRefund, map[string]interface{}{
		"session_id": sessionID,
	})
}
