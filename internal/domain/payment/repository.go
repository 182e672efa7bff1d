package payment

import (
	"context"
	"time"

	"github.com/flexprice/dealpay/internal/types"
)

// Repository is the local payment ledger
type Repository interface {
	// FindBySessionID returns ierr.ErrNotFound when the session is not ledgered
	FindBySessionID(ctx context.Context, sessionID string) (*PaymentRecord, error)
	ListByDealID(ctx context.Context, dealID string) ([]*PaymentRecord, error)

	// Insert fails with ierr.ErrAlreadyExists when the session id is taken
	Insert(ctx context.Context, record *PaymentRecord) error

	// UpdateStatus moves a record from one status to another. It fails with
	// ierr.ErrInvalidOperation when the record is no longer in the from status.
	UpdateStatus(ctx context.Context, sessionID string, from, to types.RecordStatus, at time.Time) error

	LogDeletion(ctx context.Context, entry *DeletionLogEntry) error
	ListDeletions(ctx context.Context, filter *DeletionFilter) ([]*DeletionLogEntry, error)

	// DeleteByDealID removes every record of a deleted deal
	DeleteByDealID(ctx context.Context, dealID string) (int64, error)
}
