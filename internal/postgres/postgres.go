package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/flexprice/dealpay/internal/config"
	"github.com/flexprice/dealpay/internal/logger"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// DB wraps sqlx.DB to provide transaction management
type DB struct {
	*sqlx.DB
	logger *logger.Logger
}

// IClient is the part of the database services depend on
type IClient interface {
	// WithTx wraps the given function in a transaction
	WithTx(ctx context.Context, fn func(context.Context) error) error
}

var _ IClient = (*DB)(nil)

// NewClient exposes db to services that only need transactions
func NewClient(db *DB) IClient {
	return db
}

// Querier interface defines all database operations
// Both *sqlx.DB and *sqlx.Tx implement these methods
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
	Rebind(query string) string
	BindNamed(query string, arg interface{}) (string, []interface{}, error)
}

// NewDB connects to postgres and applies the pool settings
func NewDB(cfg *config.Configuration, logger *logger.Logger) (*DB, error) {
	db, err := sqlx.Connect("postgres", cfg.Postgres.GetDSN())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Postgres.ConnMaxLifetimeMinutes) * time.Minute)

	return &DB{DB: db, logger: logger}, nil
}

// NewFromSqlx wraps an existing connection
func NewFromSqlx(db *sqlx.DB, logger *logger.Logger) *DB {
	return &DB{DB: db, logger: logger}
}

// Close closes the database connection
func (db *DB) Close() {
	if err := db.DB.Close(); err != nil {
		db.logger.Errorw("error closing database", "error", err)
	}
}

// GetQuerier returns either the transaction from context or the base DB
func (db *DB) GetQuerier(ctx context.Context) Querier {
	if tx, ok := GetTx(ctx); ok {
		return tx.Tx
	}
	return db.DB
}

// NamedExec runs a named statement and logs its duration
func (db *DB) NamedExec(ctx context.Context, query string, arg interface{}) (sql.Result, error) {
	start := time.Now()
	res, err := db.GetQuerier(ctx).NamedExecContext(ctx, query, arg)
	db.trace(ctx, query, start, err)
	return res, err
}

// NamedSelect binds named parameters and scans every row into dest
func (db *DB) NamedSelect(ctx context.Context, dest interface{}, query string, arg interface{}) error {
	start := time.Now()
	q := db.GetQuerier(ctx)
	bound, args, err := q.BindNamed(query, arg)
	if err == nil {
		err = q.SelectContext(ctx, dest, bound, args...)
	}
	db.trace(ctx, query, start, err)
	return err
}

// NamedGet binds named parameters and scans a single row into dest
func (db *DB) NamedGet(ctx context.Context, dest interface{}, query string, arg interface{}) error {
	start := time.Now()
	q := db.GetQuerier(ctx)
	bound, args, err := q.BindNamed(query, arg)
	if err == nil {
		err = q.GetContext(ctx, dest, bound, args...)
	}
	db.trace(ctx, query, start, err)
	return err
}

func (db *DB) trace(ctx context.Context, query string, start time.Time, err error) {
	fields := []interface{}{
		"duration_ms", time.Since(start).Milliseconds(),
		"query", query,
	}
	if tx, ok := GetTx(ctx); ok {
		fields = append(fields, "tx_id", tx.ID)
	}
	if err != nil && err != sql.ErrNoRows {
		fields = append(fields, "error", err.Error())
		db.logger.Errorw("database query failed", fields...)
		return
	}
	db.logger.Debugw("database query completed", fields...)
}
