package testutil

import (
	"context"
	"sync/atomic"

	"github.com/flexprice/dealpay/internal/postgres"
)

var _ postgres.IClient = (*MockPostgresClient)(nil)

// MockPostgresClient runs transactional functions directly against the
// in-memory stores
type MockPostgresClient struct {
	txs atomic.Int64
}

func NewMockPostgresClient() *MockPostgresClient {
	return &MockPostgresClient{}
}

// WithTx executes fn without a real transaction
func (c *MockPostgresClient) WithTx(ctx context.Context, fn func(context.Context) error) error {
	c.txs.Add(1)
	return fn(ctx)
}

// Transactions returns how many times WithTx was entered
func (c *MockPostgresClient) Transactions() int {
	return int(c.txs.Load())
}
