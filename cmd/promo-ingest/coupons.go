package main

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/pharmacy-api/internal/domain/coupon"
)

// rule is the discount granted by codes with a given prefix.
type rule struct {
	prefix      string
	kind        coupon.Kind
	value       string
	minItems    int
	minSubtotal string
	maxDiscount string
	description string
}

// rules is checked in order; the first matching prefix wins.
var rules = []rule{
	{prefix: "VITA", kind: coupon.KindFreeCheapest, value: "0", minItems: 3, description: "Vitamins: cheapest item free on 3+"},
	{prefix: "SHIP", kind: coupon.KindFixed, value: "5.99", minSubtotal: "20.00", description: "Partner shipping credit"},
	{prefix: "FLU", kind: coupon.KindPercentage, value: "15", maxDiscount: "15.00", description: "Cold and flu season: 15% off"},
	{prefix: "CARE", kind: coupon.KindPercentage, value: "20", maxDiscount: "25.00", description: "Partner care plan: 20% off"},
}

var defaultRule = rule{
	kind:        coupon.KindPercentage,
	value:       "10",
	maxDiscount: "10.00",
	description: "Partner promo: 10% off",
}

func ruleFor(code string) rule {
	for _, r := range rules {
		if strings.HasPrefix(code, r.prefix) {
			return r
		}
	}
	return defaultRule
}

// couponTemplate holds the limits shared by every ingested coupon.
type couponTemplate struct {
	validFor time.Duration
	maxUses  int
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func (t couponTemplate) build(code string, now time.Time) (coupon.Coupon, error) {
	r := ruleFor(code)
	c := coupon.Coupon{
		Code:        code,
		Kind:        r.kind,
		Description: r.description,
		MinItems:    r.minItems,
		MaxUses:     t.maxUses,
		ValidFrom:   &now,
	}
	if t.validFor > 0 {
		until := now.Add(t.validFor)
		c.ValidUntil = &until
	}

	var err error
	if c.Value, err = parseAmount(r.value); err != nil {
		return c, errors.Wrapf(err, "value for %s", code)
	}
	if c.MinSubtotal, err = parseAmount(r.minSubtotal); err != nil {
		return c, errors.Wrapf(err, "min subtotal for %s", code)
	}
	if c.MaxDiscount, err = parseAmount(r.maxDiscount); err != nil {
		return c, errors.Wrapf(err, "max discount for %s", code)
	}
	return c, nil
}

type couponWriter interface {
	Upsert(ctx context.Context, c coupon.Coupon) error
}

// writeCoupons upserts every accepted code.
func writeCoupons(ctx context.Context, repo couponWriter, codes []string, tmpl couponTemplate, now time.Time) error {
	slog.Info("writing coupons to database", slog.Int("count", len(codes)))

	for i, code := range codes {
		c, err := tmpl.build(code, now)
		if err != nil {
			return err
		}
		if err := repo.Upsert(ctx, c); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", code)
		}
		if (i+1)%100 == 0 || i+1 == len(codes) {
			slog.Info("write progress", slog.Int("written", i+1), slog.Int("total", len(codes)))
		}
	}
	return nil
}
