package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/pharmacy-api/internal/domain/order"
)

const (
	statusTotalsSQL = `SELECT status, COUNT(*), COALESCE(SUM(total), 0)
		FROM orders
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
			AND ($2::timestamptz IS NULL OR created_at < $2)
		GROUP BY status`

	topProductsSQL = `SELECT l->>'product_id', MAX(l->>'name'),
			SUM((l->>'quantity')::int), SUM((l->>'subtotal')::numeric)
		FROM orders o, jsonb_array_elements(o.lines) AS l
		WHERE o.status NOT IN ('cancelled', 'returned')
			AND ($1::timestamptz IS NULL OR o.created_at >= $1)
			AND ($2::timestamptz IS NULL OR o.created_at < $2)
		GROUP BY 1
		ORDER BY 3 DESC, 1
		LIMIT $3`
)

var _ order.StatsRepository = (*OrderRepository)(nil)

// StatusTotals implements order.StatsRepository.
func (r *OrderRepository) StatusTotals(ctx context.Context, rng order.Range) ([]order.StatusTotal, error) {
	from, to := bounds(rng)
	rows, err := r.pool.Query(ctx, statusTotalsSQL, from, to)
	if err != nil {
		return nil, errors.Wrap(err, "status totals")
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.StatusTotal, error) {
		var (
			t      order.StatusTotal
			status string
		)
		err := row.Scan(&status, &t.Count, &t.Revenue)
		t.Status = order.Status(status)
		return t, err
	})
}

// TopProducts implements order.StatsRepository.
func (r *OrderRepository) TopProducts(ctx context.Context, rng order.Range, limit int) ([]order.ProductSales, error) {
	from, to := bounds(rng)
	rows, err := r.pool.Query(ctx, topProductsSQL, from, to, limit)
	if err != nil {
		return nil, errors.Wrap(err, "top products")
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.ProductSales, error) {
		var ps order.ProductSales
		err := row.Scan(&ps.ProductID, &ps.Name, &ps.Quantity, &ps.Revenue)
		return ps, err
	})
}

// bounds maps open range ends to NULL.
func bounds(r order.Range) (from, to *time.Time) {
	if !r.From.IsZero() {
		from = &r.From
	}
	if !r.To.IsZero() {
		to = &r.To
	}
	return from, to
}
