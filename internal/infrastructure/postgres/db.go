// Package postgres provides the PostgreSQL persistence layer: store
// implementations for the fulfillment engine, the transactional unit of
// work, and the transactional outbox.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/caretrack/fulfillment/internal/domain/inventory"
	"github.com/caretrack/fulfillment/internal/domain/treatment"
	"github.com/caretrack/fulfillment/internal/fulfillment"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same store
// code serves plain reads and transactional writes.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB wraps the connection pool and implements fulfillment.TxRunner.
type DB struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewDB creates the persistence layer.
func NewDB(pool *pgxpool.Pool, logger *zap.Logger) *DB {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DB{pool: pool, logger: logger}
}

// Stores returns pool-backed stores for plain reads. Reads through these
// take no row locks.
func (d *DB) Stores() fulfillment.Stores {
	return storesFor(d.pool, d.logger, false)
}

// InTx runs fn against transaction-scoped stores; everything commits or
// rolls back as one unit. Row reads inside the transaction lock the rows
// they return. Infrastructure failures come back as *TransientError so
// callers can distinguish them from business rejections.
func (d *DB) InTx(ctx context.Context, fn func(ctx context.Context, s fulfillment.Stores) error) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return &fulfillment.TransientError{Err: err}
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, storesFor(tx, d.logger, true)); err != nil {
		return classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return &fulfillment.TransientError{Err: err}
	}
	return nil
}

func storesFor(q querier, logger *zap.Logger, locking bool) fulfillment.Stores {
	return fulfillment.Stores{
		Work:      &WorkStore{q: q, locking: locking},
		Inventory: &InventoryStore{q: q, locking: locking},
		Billing:   &BillingStore{q: q},
		Occupancy: &OccupancyStore{q: q, locking: locking},
		Events:    &EventStore{q: q, logger: logger},
	}
}

// classify passes business rejections through untouched and wraps
// everything else as transient.
func classify(err error) error {
	var stockErr *inventory.InsufficientStockError
	var transient *fulfillment.TransientError
	switch {
	case errors.Is(err, treatment.ErrNotFound),
		errors.Is(err, treatment.ErrConflict),
		errors.As(err, &stockErr),
		errors.As(err, &transient):
		return err
	default:
		return &fulfillment.TransientError{Err: err}
	}
}
