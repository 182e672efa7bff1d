package currency

import (
	"context"
	"strings"
	"time"

	"github.com/flexprice/dealpay/internal/cache"
	"github.com/flexprice/dealpay/internal/config"
	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/flexprice/dealpay/internal/logger"
	"github.com/shopspring/decimal"
)

// Converter converts amounts into the settlement currency. Rates are cached
// under cache.PrefixExchangeRate and evicted after the configured TTL.
type Converter struct {
	provider   RateProvider
	cache      cache.Cache
	ttl        time.Duration
	settlement string
	logger     *logger.Logger
}

func NewConverter(provider RateProvider, c cache.Cache, cfg *config.Configuration, logger *logger.Logger) *Converter {
	return &Converter{
		provider:   provider,
		cache:      c,
		ttl:        cfg.Currency.RateTTL,
		settlement: strings.ToUpper(cfg.Payments.SettlementCurrency),
		logger:     logger,
	}
}

// SettlementCurrency is the currency every ledger amount is converted into
func (c *Converter) SettlementCurrency() string {
	return c.settlement
}

// Rate returns the cached rate between two currencies
func (c *Converter) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	key := cache.GenerateKey(cache.PrefixExchangeRate, from, to)
	if v, ok := c.cache.Get(ctx, key); ok {
		if rate, ok := v.(decimal.Decimal); ok {
			return rate, nil
		}
	}

	rate, err := c.provider.GetRate(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	if !rate.IsPositive() {
		return decimal.Zero, ierr.NewErrorf("rate %s/%s is not positive", from, to).
			WithHintf("Exchange rate for %s to %s is invalid", from, to).
			Mark(ierr.ErrValidation)
	}

	c.cache.Set(ctx, key, rate, c.ttl)
	c.logger.Debugw("exchange rate cached", "from", from, "to", to, "rate", rate.String())
	return rate, nil
}

// ToSettlement converts amount in currency into the settlement currency,
// rounded to two decimal places
func (c *Converter) ToSettlement(ctx context.Context, amount decimal.Decimal, currency string) (decimal.Decimal, error) {
	rate, err := c.Rate(ctx, currency, c.settlement)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(rate).Round(2), nil
}
