package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pharmacy-api/internal/domain/order"
)

const (
	orderColumns = `id, number, customer_id, lines, shipping_address, billing_address,
		subtotal, tax, shipping, discount, total, payment_method, payment_status, status,
		history, requires_prescription, notes, coupon_code, cancellation_reason,
		refund_amount, tracking_number, estimated_delivery_at, delivered_at, version,
		created_at, updated_at`

	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, $26)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	updateOrderSQL = `UPDATE orders SET
			status = $3,
			history = $4,
			payment_status = $5,
			cancellation_reason = $6,
			refund_amount = $7,
			tracking_number = $8,
			estimated_delivery_at = $9,
			delivered_at = $10,
			updated_at = $11,
			version = version + 1
		WHERE id = $1 AND version = $2`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE ($1 = '' OR customer_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4`

	countOrdersSQL = `SELECT COUNT(*) FROM orders
		WHERE ($1 = '' OR customer_id = $1) AND ($2 = '' OR status = $2)`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository. Lines, addresses and history
// are stored as JSONB.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create implements order.Repository.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	lines, err := json.Marshal(o.Lines)
	if err != nil {
		return errors.Wrap(err, "marshal lines")
	}
	shipping, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return errors.Wrap(err, "marshal shipping address")
	}
	billing, err := json.Marshal(o.BillingAddress)
	if err != nil {
		return errors.Wrap(err, "marshal billing address")
	}
	history, err := json.Marshal(o.History)
	if err != nil {
		return errors.Wrap(err, "marshal history")
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.Number, o.CustomerID, lines, shipping, billing,
		o.Summary.Subtotal, o.Summary.Tax, o.Summary.Shipping, o.Summary.Discount, o.Summary.Total,
		string(o.PaymentMethod), string(o.PaymentStatus), string(o.Status),
		history, o.RequiresPrescription, o.Notes, o.CouponCode, o.CancellationReason,
		o.RefundAmount, o.TrackingNumber, o.EstimatedDeliveryAt, o.DeliveredAt, o.Version,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return order.ErrDuplicateNumber
		}
		return errors.Wrapf(err, "create order %q", o.ID)
	}
	return nil
}

// Get implements order.Repository.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %q", id)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %q", id)
	}
	return &o, nil
}

// Update implements order.Repository.
func (r *OrderRepository) Update(ctx context.Context, o *order.Order) error {
	history, err := json.Marshal(o.History)
	if err != nil {
		return errors.Wrap(err, "marshal history")
	}

	tag, err := r.pool.Exec(ctx, updateOrderSQL,
		o.ID, o.Version, string(o.Status), history, string(o.PaymentStatus),
		o.CancellationReason, o.RefundAmount, o.TrackingNumber,
		o.EstimatedDeliveryAt, o.DeliveredAt, o.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "update order %q", o.ID)
	}
	if tag.RowsAffected() == 1 {
		o.Version++
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, orderExistsSQL, o.ID).Scan(&exists); err != nil {
		return errors.Wrapf(err, "check order %q", o.ID)
	}
	if !exists {
		return order.ErrNotFound
	}
	return order.ErrConcurrentUpdate
}

// List implements order.Repository. The page and the total are read in one
// round trip.
func (r *OrderRepository) List(ctx context.Context, q order.ListQuery) ([]order.Order, int, error) {
	batch := &pgx.Batch{}
	batch.Queue(listOrdersSQL, q.CustomerID, string(q.Status), q.PageSize, q.Offset())
	batch.Queue(countOrdersSQL, q.CustomerID, string(q.Status))

	br := r.pool.SendBatch(ctx, batch)
	defer func() { _ = br.Close() }()

	rows, err := br.Query()
	if err != nil {
		return nil, 0, errors.Wrap(err, "list orders")
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list orders")
	}

	var total int
	if err := br.QueryRow().Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count orders")
	}
	return orders, total, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                         order.Order
		lines, shipping, billing  []byte
		history                   []byte
		method, payStatus, status string
		estimatedAt, deliveredAt  *time.Time
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.CustomerID, &lines, &shipping, &billing,
		&o.Summary.Subtotal, &o.Summary.Tax, &o.Summary.Shipping, &o.Summary.Discount, &o.Summary.Total,
		&method, &payStatus, &status,
		&history, &o.RequiresPrescription, &o.Notes, &o.CouponCode, &o.CancellationReason,
		&o.RefundAmount, &o.TrackingNumber, &estimatedAt, &deliveredAt, &o.Version,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	o.PaymentMethod = order.PaymentMethod(method)
	o.PaymentStatus = order.PaymentStatus(payStatus)
	o.Status = order.Status(status)
	o.EstimatedDeliveryAt = estimatedAt
	o.DeliveredAt = deliveredAt

	for _, f := range []struct {
		name string
		data []byte
		dst  any
	}{
		{"lines", lines, &o.Lines},
		{"shipping_address", shipping, &o.ShippingAddress},
		{"billing_address", billing, &o.BillingAddress},
		{"history", history, &o.History},
	} {
		if err := json.Unmarshal(f.data, f.dst); err != nil {
			return o, errors.Wrapf(err, "unmarshal %s", f.name)
		}
	}
	return o, nil
}
