package currency

import (
	"context"

	"github.com/shopspring/decimal"
)

// RateProvider returns how many units of to one unit of from buys
type RateProvider interface {
	GetRate(ctx context.Context, from, to string) (decimal.Decimal, error)
}
