package service

import (
	"context"

	"github.com/flexprice/dealpay/internal/cache"
	"github.com/flexprice/dealpay/internal/domain/deal"
	"github.com/flexprice/dealpay/internal/types"
)

// dealLoader reads deals from the CRM and reuses them within one processing
// run. Entries live under cache.PrefixDealContext for cache.DealContextTTL and
// are dropped whenever the engine writes to the deal.
type dealLoader struct {
	params ServiceParams
}

func newDealLoader(params ServiceParams) *dealLoader {
	return &dealLoader{params: params}
}

func (l *dealLoader) key(ctx context.Context, dealID string) (string, bool) {
	runID := types.GetRunID(ctx)
	if runID == "" || l.params.Cache == nil {
		return "", false
	}
	return cache.GenerateKey(cache.PrefixDealContext, runID, dealID), true
}

// runPrefix covers every deal cached during one run
func (l *dealLoader) runPrefix(runID string) string {
	return cache.GenerateKey(cache.PrefixDealContext, runID)
}

func (l *dealLoader) Get(ctx context.Context, dealID string) (*deal.Deal, error) {
	key, cacheable := l.key(ctx, dealID)
	if cacheable {
		if v, ok := l.params.Cache.Get(ctx, key); ok {
			if d, ok := v.(*deal.Deal); ok {
				return d, nil
			}
		}
	}

	d, err := l.params.CRM.GetDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if cacheable {
		l.params.Cache.Set(ctx, key, d, cache.DealContextTTL)
	}
	return d, nil
}

// Remember stores a deal fetched by a search so later steps of the run reuse it
func (l *dealLoader) Remember(ctx context.Context, d *deal.Deal) {
	if key, ok := l.key(ctx, d.ID); ok {
		l.params.Cache.Set(ctx, key, d, cache.DealContextTTL)
	}
}

func (l *dealLoader) Forget(ctx context.Context, dealID string) {
	if key, ok := l.key(ctx, dealID); ok {
		l.params.Cache.Delete(ctx, key)
	}
}
