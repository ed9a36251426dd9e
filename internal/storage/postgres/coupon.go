package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pharmacy-api/internal/domain/coupon"
)

const (
	getCouponSQL = `SELECT code, kind, value, description, min_items, min_subtotal,
			max_discount, valid_from, valid_until, max_uses, uses
		FROM coupons WHERE code = $1 AND active`

	incrementCouponSQL = `UPDATE coupons SET uses = uses + 1
		WHERE code = $1 AND active AND (max_uses = 0 OR uses < max_uses)`

	couponExistsSQL = `SELECT EXISTS (SELECT 1 FROM coupons WHERE code = $1 AND active)`

	upsertCouponSQL = `INSERT INTO coupons (code, kind, value, description, min_items,
			min_subtotal, max_discount, valid_from, valid_until, max_uses, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, TRUE)
		ON CONFLICT (code) DO UPDATE SET
			kind = EXCLUDED.kind,
			value = EXCLUDED.value,
			description = EXCLUDED.description,
			min_items = EXCLUDED.min_items,
			min_subtotal = EXCLUDED.min_subtotal,
			max_discount = EXCLUDED.max_discount,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			max_uses = EXCLUDED.max_uses,
			active = TRUE`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode implements coupon.Repository. Codes are stored normalized.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponSQL, code)
	if err != nil {
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrInvalidCoupon
		}
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	return &c, nil
}

// IncrementUses implements coupon.Repository. The limit check and the
// increment are one statement.
func (r *CouponRepository) IncrementUses(ctx context.Context, code string) error {
	tag, err := r.pool.Exec(ctx, incrementCouponSQL, code)
	if err != nil {
		return errors.Wrapf(err, "increment coupon %q", code)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, couponExistsSQL, code).Scan(&exists); err != nil {
		return errors.Wrapf(err, "check coupon %q", code)
	}
	if !exists {
		return coupon.ErrInvalidCoupon
	}
	return coupon.ErrUsageLimitReached
}

// Upsert implements coupon.Repository.
func (r *CouponRepository) Upsert(ctx context.Context, c coupon.Coupon) error {
	_, err := r.pool.Exec(ctx, upsertCouponSQL,
		coupon.NormalizeCode(c.Code), string(c.Kind), c.Value, c.Description, c.MinItems,
		c.MinSubtotal, c.MaxDiscount, c.ValidFrom, c.ValidUntil, c.MaxUses,
	)
	if err != nil {
		return errors.Wrapf(err, "upsert coupon %q", c.Code)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c    coupon.Coupon
		kind string
	)
	err := row.Scan(
		&c.Code, &kind, &c.Value, &c.Description, &c.MinItems, &c.MinSubtotal,
		&c.MaxDiscount, &c.ValidFrom, &c.ValidUntil, &c.MaxUses, &c.Uses,
	)
	c.Kind = coupon.Kind(kind)
	return c, err
}
