package testutil

import (
	"context"
	"strings"
	"sync"

	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/shopspring/decimal"
)

// StaticRateProvider serves fixed exchange rates keyed by "FROMTO"
type StaticRateProvider struct {
	mu    sync.Mutex
	rates map[string]decimal.Decimal
	calls int
}

func NewStaticRateProvider() *StaticRateProvider {
	return &StaticRateProvider{rates: make(map[string]decimal.Decimal)}
}

// SetRate registers the rate converting one unit of from into to
func (p *StaticRateProvider) SetRate(from, to string, rate string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rates[strings.ToUpper(from+to)] = decimal.RequireFromString(rate)
}

// Calls returns how many rates were requested
func (p *StaticRateProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *StaticRateProvider) GetRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if strings.EqualFold(from, to) {
		return decimal.NewFromInt(1), nil
	}
	rate, ok := p.rates[strings.ToUpper(from+to)]
	if !ok {
		return decimal.Zero, ierr.NewErrorf("no rate for %s/%s", from, to).
			WithHint("Exchange rate is not available").
			Mark(ierr.ErrNotFound)
	}
	return rate, nil
}
