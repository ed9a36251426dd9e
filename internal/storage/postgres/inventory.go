package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pharmacy-api/internal/domain/inventory"
)

const (
	// The guard and the write are one statement, so concurrent adjustments
	// of the same row serialize on its row lock.
	adjustStockSQL = `UPDATE product_stock SET quantity = quantity + $2
		WHERE product_id = $1 AND quantity + $2 >= 0
		RETURNING quantity`

	getStockSQL = `SELECT quantity FROM product_stock WHERE product_id = $1`
)

var _ inventory.Ledger = (*Ledger)(nil)

// Ledger implements inventory.Ledger on the product_stock table.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger returns a Ledger that uses the given pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Adjust implements inventory.Ledger.
func (l *Ledger) Adjust(ctx context.Context, productID string, delta int) (int, error) {
	var q int
	err := l.pool.QueryRow(ctx, adjustStockSQL, productID, delta).Scan(&q)
	if err == nil {
		return q, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, errors.Wrapf(err, "adjust stock %q", productID)
	}

	// No row updated: either the product is unknown or the guard failed.
	if err := l.pool.QueryRow(ctx, getStockSQL, productID).Scan(&q); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, inventory.ErrUnknownProduct
		}
		return 0, errors.Wrapf(err, "get stock %q", productID)
	}
	return q, &inventory.InsufficientStockError{
		ProductID: productID,
		Requested: -delta,
		Available: q,
	}
}
