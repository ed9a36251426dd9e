package memory

import (
	"context"
	"sync"

	"github.com/xenking/pharmacy-api/internal/domain/coupon"
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository stores coupons by normalized code.
type CouponRepository struct {
	mu      sync.Mutex
	coupons map[string]coupon.Coupon
}

// NewCouponRepository returns a CouponRepository holding coupons.
func NewCouponRepository(coupons ...coupon.Coupon) *CouponRepository {
	r := &CouponRepository{coupons: make(map[string]coupon.Coupon, len(coupons))}
	for _, c := range coupons {
		c.Code = coupon.NormalizeCode(c.Code)
		r.coupons[c.Code] = c
	}
	return r
}

// FindByCode implements coupon.Repository.
func (r *CouponRepository) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coupons[code]
	if !ok {
		return nil, coupon.ErrInvalidCoupon
	}
	return &c, nil
}

// IncrementUses implements coupon.Repository.
func (r *CouponRepository) IncrementUses(_ context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coupons[code]
	if !ok {
		return coupon.ErrInvalidCoupon
	}
	if c.Exhausted() {
		return coupon.ErrUsageLimitReached
	}
	c.Uses++
	r.coupons[code] = c
	return nil
}

// Upsert implements coupon.Repository.
func (r *CouponRepository) Upsert(_ context.Context, c coupon.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.Code = coupon.NormalizeCode(c.Code)
	if existing, ok := r.coupons[c.Code]; ok {
		c.Uses = existing.Uses
	}
	r.coupons[c.Code] = c
	return nil
}
