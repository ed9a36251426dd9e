package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Kind enumerates the supported discount strategies.
type Kind string

const (
	// KindPercentage takes Value percent off the subtotal.
	KindPercentage Kind = "percentage"
	// KindFixed takes a fixed amount off, capped at the subtotal.
	KindFixed Kind = "fixed"
	// KindFreeCheapest waives the unit price of the cheapest product.
	KindFreeCheapest Kind = "free_cheapest"
)

// Valid reports whether k is a known discount strategy.
func (k Kind) Valid() bool {
	switch k {
	case KindPercentage, KindFixed, KindFreeCheapest:
		return true
	}
	return false
}

var (
	// ErrInvalidCoupon is returned when a code is unknown or the order does
	// not satisfy the coupon's minimum requirements.
	ErrInvalidCoupon = errors.New("invalid coupon code")
	// ErrCouponExpired is returned outside the coupon's validity window.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrUsageLimitReached is returned when every allowed use is consumed.
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
)

// Coupon is a promotional code and its eligibility constraints.
type Coupon struct {
	Code        string
	Kind        Kind
	Value       decimal.Decimal
	Description string
	// MinItems is the minimum total quantity across all lines.
	MinItems int
	// MinSubtotal is the minimum order subtotal; zero disables the check.
	MinSubtotal decimal.Decimal
	// MaxDiscount caps the computed discount; zero means uncapped.
	MaxDiscount decimal.Decimal
	ValidFrom   *time.Time
	ValidUntil  *time.Time
	// MaxUses of zero means unlimited.
	MaxUses int
	Uses    int
}

// ActiveAt reports whether now falls within the validity window.
func (c *Coupon) ActiveAt(now time.Time) bool {
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return false
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return false
	}
	return true
}

// Exhausted reports whether the usage limit has been reached.
func (c *Coupon) Exhausted() bool {
	return c.MaxUses > 0 && c.Uses >= c.MaxUses
}

// Discount is the computed reduction for one order.
type Discount struct {
	Code        string
	Amount      decimal.Decimal
	Description string
}

// Line is the part of an order line a discount depends on.
type Line struct {
	ProductID string
	Price     decimal.Decimal
	Quantity  int
}

// NormalizeCode canonicalizes a user-entered code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Repository stores coupons. Codes are stored normalized.
type Repository interface {
	// FindByCode returns ErrInvalidCoupon for unknown codes.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// IncrementUses consumes one use. It returns ErrUsageLimitReached when
	// the limit was reached concurrently.
	IncrementUses(ctx context.Context, code string) error
	// Upsert creates or replaces a coupon, keeping its recorded uses.
	Upsert(ctx context.Context, c Coupon) error
}
