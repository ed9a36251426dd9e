package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/pharmacy-api/internal/domain/auth"
)

// Range is a half-open creation-time interval [From, To). Zero bounds are
// open.
type Range struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls within r.
func (r Range) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// StatusTotal aggregates orders currently in one status.
type StatusTotal struct {
	Status  Status
	Count   int
	Revenue decimal.Decimal
}

// ProductSales aggregates sold quantity for one product.
type ProductSales struct {
	ProductID string
	Name      string
	Quantity  int
	Revenue   decimal.Decimal
}

// StatsRepository computes aggregates over stored orders.
type StatsRepository interface {
	// StatusTotals groups orders created within r by status. Statuses with
	// no orders may be omitted.
	StatusTotals(ctx context.Context, r Range) ([]StatusTotal, error)
	// TopProducts returns up to limit products by quantity sold within r,
	// highest first, excluding cancelled and returned orders.
	TopProducts(ctx context.Context, r Range, limit int) ([]ProductSales, error)
}

// StatsQuery selects the statistics window.
type StatsQuery struct {
	Range Range
	Top   int
}

// Statistics summarizes orders in a window.
type Statistics struct {
	Range    Range
	ByStatus []StatusTotal
	// TotalOrders counts every order regardless of status.
	TotalOrders int
	// TotalRevenue excludes cancelled and returned orders.
	TotalRevenue      decimal.Decimal
	AverageOrderValue decimal.Decimal
	TopProducts       []ProductSales
}

const (
	defaultTop = 5
	maxTop     = 50
)

// Statistics computes order statistics. Admin only.
func (s *Service) Statistics(ctx context.Context, p auth.Principal, q StatsQuery) (*Statistics, error) {
	if !p.IsAdmin {
		return nil, ErrForbidden
	}
	r := q.Range
	if !r.From.IsZero() && !r.To.IsZero() && !r.From.Before(r.To) {
		return nil, &ValidationError{Fields: map[string]string{"to": "must be after from"}}
	}
	switch {
	case q.Top < 1:
		q.Top = defaultTop
	case q.Top > maxTop:
		q.Top = maxTop
	}

	var (
		totals []StatusTotal
		top    []ProductSales
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		totals, err = s.orders.StatusTotals(gctx, r)
		if err != nil {
			return errors.Wrap(err, "status totals")
		}
		return nil
	})
	g.Go(func() error {
		var err error
		top, err = s.orders.TopProducts(gctx, r, q.Top)
		if err != nil {
			return errors.Wrap(err, "top products")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byStatus := make(map[Status]StatusTotal, len(totals))
	for _, t := range totals {
		byStatus[t.Status] = t
	}

	st := &Statistics{
		Range:        r,
		ByStatus:     make([]StatusTotal, 0, len(Statuses)),
		TotalRevenue: decimal.Zero,
		TopProducts:  top,
	}
	revenueOrders := 0
	for _, status := range Statuses {
		t, ok := byStatus[status]
		if !ok {
			t = StatusTotal{Status: status, Revenue: decimal.Zero}
		}
		t.Revenue = t.Revenue.Round(2)
		st.ByStatus = append(st.ByStatus, t)
		st.TotalOrders += t.Count
		if !status.IsTerminal() {
			st.TotalRevenue = st.TotalRevenue.Add(t.Revenue)
			revenueOrders += t.Count
		}
	}
	st.AverageOrderValue = decimal.Zero
	if revenueOrders > 0 {
		st.AverageOrderValue = st.TotalRevenue.Div(decimal.NewFromInt(int64(revenueOrders))).Round(2)
	}
	if st.TopProducts == nil {
		st.TopProducts = []ProductSales{}
	}
	return st, nil
}
