package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/flexprice/dealpay/internal/domain/payment"
	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/flexprice/dealpay/internal/types"
)

// InMemoryPaymentStore implements payment.Repository
type InMemoryPaymentStore struct {
	*InMemoryStore[*payment.PaymentRecord]
	mu        sync.Mutex
	deletions []*payment.DeletionLogEntry
	insertErr error
	deleteErr error
}

// NewInMemoryPaymentStore creates a new in-memory payment ledger
func NewInMemoryPaymentStore() *InMemoryPaymentStore {
	return &InMemoryPaymentStore{
		InMemoryStore: NewInMemoryStore[*payment.PaymentRecord](),
	}
}

// Clear resets all stored data
func (m *InMemoryPaymentStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InMemoryStore.Clear()
	m.deletions = nil
	m.insertErr = nil
	m.deleteErr = nil
}

// FailInserts makes every following Insert fail with err until reset with nil
func (m *InMemoryPaymentStore) FailInserts(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertErr = err
}

// FailDeletes makes the next DeleteByDealID call fail with err
func (m *InMemoryPaymentStore) FailDeletes(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
}

func copyRecord(r *payment.PaymentRecord) *payment.PaymentRecord {
	c := *r
	return &c
}

func (m *InMemoryPaymentStore) FindBySessionID(ctx context.Context, sessionID string) (*payment.PaymentRecord, error) {
	r, err := m.InMemoryStore.Get(ctx, sessionID)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Payment record for session %s was not found", sessionID).
			Mark(ierr.ErrNotFound)
	}
	return copyRecord(r), nil
}

func (m *InMemoryPaymentStore) ListByDealID(ctx context.Context, dealID string) ([]*payment.PaymentRecord, error) {
	records := m.InMemoryStore.List(ctx,
		func(_ context.Context, r *payment.PaymentRecord) bool { return r.DealID == dealID },
		func(a, b *payment.PaymentRecord) bool {
			if a.SessionCreatedAt.Equal(b.SessionCreatedAt) {
				return a.ID < b.ID
			}
			return a.SessionCreatedAt.Before(b.SessionCreatedAt)
		},
	)
	out := make([]*payment.PaymentRecord, 0, len(records))
	for _, r := range records {
		out = append(out, copyRecord(r))
	}
	return out, nil
}

func (m *InMemoryPaymentStore) Insert(ctx context.Context, record *payment.PaymentRecord) error {
	m.mu.Lock()
	insertErr := m.insertErr
	m.mu.Unlock()
	if insertErr != nil {
		return ierr.WithError(insertErr).
			WithHint("Failed to write payment record").
			Mark(ierr.ErrLedgerWrite)
	}

	if err := record.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if record.ID == "" {
		record.ID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PAYMENT_RECORD)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	if err := m.InMemoryStore.Create(ctx, record.SessionID, copyRecord(record)); err != nil {
		return ierr.WithError(err).
			WithHint("The session is already recorded in the ledger").
			Mark(ierr.ErrAlreadyExists)
	}
	return nil
}

func (m *InMemoryPaymentStore) UpdateStatus(ctx context.Context, sessionID string, from, to types.RecordStatus, at time.Time) error {
	if !from.CanTransitionTo(to) {
		return ierr.NewErrorf("cannot move payment record from %s to %s", from, to).
			Mark(ierr.ErrInvalidOperation)
	}

	return m.InMemoryStore.Update(ctx, sessionID, func(r *payment.PaymentRecord) (*payment.PaymentRecord, error) {
		if r.Status != from {
			return nil, ierr.NewErrorf("payment record for session %s is not %s", sessionID, from).
				Mark(ierr.ErrInvalidOperation)
		}
		c := copyRecord(r)
		c.Status = to
		c.UpdatedAt = at.UTC()
		ts := at.UTC()
		switch to {
		case types.RecordStatusPaid:
			c.PaidAt = &ts
		case types.RecordStatusRefunded:
			c.RefundedAt = &ts
		}
		return c, nil
	})
}

func (m *InMemoryPaymentStore) LogDeletion(ctx context.Context, entry *payment.DeletionLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.ID == "" {
		entry.ID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_DELETION_LOG)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	c := *entry
	m.deletions = append(m.deletions, &c)
	return nil
}

func (m *InMemoryPaymentStore) ListDeletions(ctx context.Context, filter *payment.DeletionFilter) ([]*payment.DeletionLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if filter == nil {
		filter = &payment.DeletionFilter{}
	}
	out := make([]*payment.DeletionLogEntry, 0)
	for _, e := range m.deletions {
		if filter.DealID != "" && e.DealID != filter.DealID {
			continue
		}
		if filter.SessionID != "" && e.SessionID != filter.SessionID {
			continue
		}
		if filter.Kind != "" && e.Kind != filter.Kind {
			continue
		}
		c := *e
		out = append(out, &c)
	}
	return out, nil
}

func (m *InMemoryPaymentStore) DeleteByDealID(ctx context.Context, dealID string) (int64, error) {
	m.mu.Lock()
	deleteErr := m.deleteErr
	m.deleteErr = nil
	m.mu.Unlock()
	if deleteErr != nil {
		return 0, ierr.WithError(deleteErr).
			WithHint("Failed to delete payment records").
			Mark(ierr.ErrLedgerWrite)
	}

	records, _ := m.ListByDealID(ctx, dealID)
	var deleted int64
	for _, r := range records {
		if err := m.InMemoryStore.Delete(ctx, r.SessionID); err == nil {
			deleted++
		}
	}
	return deleted, nil
}
