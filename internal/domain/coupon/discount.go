package coupon

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Calculate computes the discount c grants for lines. It returns
// ErrInvalidCoupon when lines do not meet the coupon's minimums. The result
// is never negative and never exceeds the subtotal.
func Calculate(c *Coupon, lines []Line) (Discount, error) {
	if c.MinItems > 0 && totalQuantity(lines) < c.MinItems {
		return Discount{}, ErrInvalidCoupon
	}
	subtotal := subtotalOf(lines)
	if c.MinSubtotal.IsPositive() && subtotal.LessThan(c.MinSubtotal) {
		return Discount{}, ErrInvalidCoupon
	}

	var amount decimal.Decimal
	switch c.Kind {
	case KindPercentage:
		amount = subtotal.Mul(c.Value).Div(hundred)
	case KindFixed:
		amount = c.Value
	case KindFreeCheapest:
		amount = cheapestPrice(lines)
	default:
		return Discount{}, errors.Errorf("unsupported discount kind: %q", c.Kind)
	}

	if c.MaxDiscount.IsPositive() {
		amount = decimal.Min(amount, c.MaxDiscount)
	}
	amount = decimal.Min(amount, subtotal)
	if amount.IsNegative() {
		amount = decimal.Zero
	}

	return Discount{
		Code:        c.Code,
		Amount:      amount.Round(2),
		Description: c.Description,
	}, nil
}

func subtotalOf(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return sum
}

func totalQuantity(lines []Line) int {
	n := 0
	for _, l := range lines {
		n += l.Quantity
	}
	return n
}

func cheapestPrice(lines []Line) decimal.Decimal {
	if len(lines) == 0 {
		return decimal.Zero
	}
	lowest := lines[0].Price
	for _, l := range lines[1:] {
		if l.Price.LessThan(lowest) {
			lowest = l.Price
		}
	}
	return lowest
}
