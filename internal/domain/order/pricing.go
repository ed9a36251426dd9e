package order

import "github.com/shopspring/decimal"

// Pricing holds the tax and shipping policy applied at checkout.
type Pricing struct {
	// TaxRate is a fraction of the subtotal, e.g. 0.10 for 10%.
	TaxRate     decimal.Decimal
	ShippingFee decimal.Decimal
	// FreeShippingThreshold waives ShippingFee when the subtotal reaches it.
	// Zero disables free shipping.
	FreeShippingThreshold decimal.Decimal
}

// DefaultPricing returns the policy used when no configuration is given.
func DefaultPricing() Pricing {
	return Pricing{
		TaxRate:               decimal.RequireFromString("0.10"),
		ShippingFee:           decimal.RequireFromString("5.99"),
		FreeShippingThreshold: decimal.RequireFromString("50.00"),
	}
}

// Summarize computes order totals for lines. The discount is clamped to
// [0, subtotal+tax+shipping] so the total is never negative.
func (p Pricing) Summarize(lines []Line, discount decimal.Decimal) Summary {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Subtotal)
	}
	subtotal = subtotal.Round(2)

	tax := subtotal.Mul(p.TaxRate).Round(2)

	shipping := p.ShippingFee.Round(2)
	if p.FreeShippingThreshold.IsPositive() && subtotal.GreaterThanOrEqual(p.FreeShippingThreshold) {
		shipping = decimal.Zero
	}

	gross := subtotal.Add(tax).Add(shipping)
	discount = decimal.Max(discount, decimal.Zero)
	discount = decimal.Min(discount, gross).Round(2)

	return Summary{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Discount: discount,
		Total:    gross.Sub(discount).Round(2),
	}
}

func lineSubtotal(price decimal.Decimal, quantity int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(quantity))).Round(2)
}
