package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/flexprice/dealpay/internal/domain/payment"
	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/flexprice/dealpay/internal/logger"
	"github.com/flexprice/dealpay/internal/postgres"
	"github.com/flexprice/dealpay/internal/types"
)

type paymentRepository struct {
	db     *postgres.DB
	logger *logger.Logger
}

func NewPaymentRepository(db *postgres.DB, logger *logger.Logger) payment.Repository {
	return &paymentRepository{db: db, logger: logger}
}

const paymentRecordColumns = `id, session_id, deal_id, leg_type, schedule_kind, currency, amount,
	settlement_currency, amount_in_settlement_currency, tax_amount, status, payment_intent_id,
	customer_snapshot, session_created_at, paid_at, refunded_at, created_at, updated_at`

func (r *paymentRepository) FindBySessionID(ctx context.Context, sessionID string) (*payment.PaymentRecord, error) {
	var record payment.PaymentRecord
	err := r.db.NamedGet(ctx, &record,
		`SELECT `+paymentRecordColumns+` FROM payment_records WHERE session_id = :session_id`,
		map[string]interface{}{"session_id": sessionID},
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.WithError(err).
				WithHintf("Payment record for session %s was not found", sessionID).
				WithReportableDetails(map[string]any{"session_id": sessionID}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to read payment record").
			Mark(ierr.ErrDatabase)
	}
	return &record, nil
}

func (r *paymentRepository) ListByDealID(ctx context.Context, dealID string) ([]*payment.PaymentRecord, error) {
	records := make([]*payment.PaymentRecord, 0)
	err := r.db.NamedSelect(ctx, &records,
		`SELECT `+paymentRecordColumns+` FROM payment_records WHERE deal_id = :deal_id ORDER BY session_created_at ASC, id ASC`,
		map[string]interface{}{"deal_id": dealID},
	)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list payment records").
			WithReportableDetails(map[string]any{"deal_id": dealID}).
			Mark(ierr.ErrDatabase)
	}
	return records, nil
}

func (r *paymentRepository) Insert(ctx context.Context, record *payment.PaymentRecord) error {
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

	r.logger.Debugw("inserting payment record",
		"session_id", record.SessionID,
		"deal_id", record.DealID,
		"leg_type", record.LegType,
	)

	res, err := r.db.NamedExec(ctx, `
		INSERT INTO payment_records (`+paymentRecordColumns+`) VALUES (
			:id, :session_id, :deal_id, :leg_type, :schedule_kind, :currency, :amount,
			:settlement_currency, :amount_in_settlement_currency, :tax_amount, :status, :payment_intent_id,
			:customer_snapshot, :session_created_at, :paid_at, :refunded_at, :created_at, :updated_at
		) ON CONFLICT (session_id) DO NOTHING`, record)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to write payment record").
			WithReportableDetails(map[string]any{"session_id": record.SessionID}).
			Mark(ierr.ErrLedgerWrite)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to write payment record").
			Mark(ierr.ErrLedgerWrite)
	}
	if affected == 0 {
		return ierr.NewErrorf("payment record for session %s already exists", record.SessionID).
			WithHint("The session is already recorded in the ledger").
			WithReportableDetails(map[string]any{"session_id": record.SessionID}).
			Mark(ierr.ErrAlreadyExists)
	}
	return nil
}

func (r *paymentRepository) UpdateStatus(ctx context.Context, sessionID string, from, to types.RecordStatus, at time.Time) error {
	if !from.CanTransitionTo(to) {
		return ierr.NewErrorf("cannot move payment record from %s to %s", from, to).
			WithHint("Invalid payment record status transition").
			Mark(ierr.ErrInvalidOperation)
	}

	query := `UPDATE payment_records SET status = :to, updated_at = :at`
	switch to {
	case types.RecordStatusPaid:
		query += `, paid_at = :at`
	case types.RecordStatusRefunded:
		query += `, refunded_at = :at`
	}
	query += ` WHERE session_id = :session_id AND status = :from`

	res, err := r.db.NamedExec(ctx, query, map[string]interface{}{
		"session_id": sessionID,
		"from":       from,
		"to":         to,
		"at":         at.UTC(),
	})
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update payment record status").
			WithReportableDetails(map[string]any{"session_id": sessionID}).
			Mark(ierr.ErrLedgerWrite)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update payment record status").
			Mark(ierr.ErrLedgerWrite)
	}
	if affected == 0 {
		return ierr.NewErrorf("payment record for session %s is not %s", sessionID, from).
			WithHint("The payment record changed status concurrently").
			WithReportableDetails(map[string]any{
				"session_id": sessionID,
				"from":       from,
				"to":         to,
			}).
			Mark(ierr.ErrInvalidOperation)
	}
	return nil
}

func (r *paymentRepository) LogDeletion(ctx context.Context, entry *payment.DeletionLogEntry) error {
	if entry.ID == "" {
		entry.ID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_DELETION_LOG)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	r.logger.Debugw("logging payment deletion",
		"session_id", entry.SessionID,
		"deal_id", entry.DealID,
		"kind", entry.Kind,
	)

	_, err := r.db.NamedExec(ctx, `
		INSERT INTO payment_deletions (
			id, session_id, deal_id, kind, amount, currency, amount_in_settlement_currency,
			reason, gateway_refund_id, created_at
		) VALUES (
			:id, :session_id, :deal_id, :kind, :amount, :currency, :amount_in_settlement_currency,
			:reason, :gateway_refund_id, :created_at
		)`, entry)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to write payment deletion log").
			WithReportableDetails(map[string]any{"session_id": entry.SessionID}).
			Mark(ierr.ErrLedgerWrite)
	}
	return nil
}

func (r *paymentRepository) ListDeletions(ctx context.Context, filter *payment.DeletionFilter) ([]*payment.DeletionLogEntry, error) {
	if filter == nil {
		filter = &payment.DeletionFilter{}
	}

	query := `SELECT id, session_id, deal_id, kind, amount, currency, amount_in_settlement_currency,
		reason, gateway_refund_id, created_at FROM payment_deletions WHERE 1 = 1`
	args := map[string]interface{}{}
	if filter.DealID != "" {
		query += ` AND deal_id = :deal_id`
		args["deal_id"] = filter.DealID
	}
	if filter.SessionID != "" {
		query += ` AND session_id = :session_id`
		args["session_id"] = filter.SessionID
	}
	if filter.Kind != "" {
		query += ` AND kind = :kind`
		args["kind"] = filter.Kind
	}
	query += ` ORDER BY created_at ASC, id ASC`

	entries := make([]*payment.DeletionLogEntry, 0)
	if err := r.db.NamedSelect(ctx, &entries, query, args); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list payment deletions").
			Mark(ierr.ErrDatabase)
	}
	return entries, nil
}

func (r *paymentRepository) DeleteByDealID(ctx context.Context, dealID string) (int64, error) {
	r.logger.Debugw("deleting payment records of deal", "deal_id", dealID)

	res, err := r.db.NamedExec(ctx,
		`DELETE FROM payment_records WHERE deal_id = :deal_id`,
		map[string]interface{}{"deal_id": dealID},
	)
	if err != nil {
		return 0, ierr.WithError(err).
			WithHint("Failed to delete payment records").
			WithReportableDetails(map[string]any{"deal_id": dealID}).
			Mark(ierr.ErrLedgerWrite)
	}
	return res.RowsAffected()
}
