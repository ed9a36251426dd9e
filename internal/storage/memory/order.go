package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/xenking/pharmacy-api/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository stores orders by ID with a unique order number index.
type OrderRepository struct {
	mu      sync.RWMutex
	byID    map[string]*order.Order
	numbers map[string]struct{}
}

// NewOrderRepository returns an empty OrderRepository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		byID:    make(map[string]*order.Order),
		numbers: make(map[string]struct{}),
	}
}

// Create implements order.Repository.
func (r *OrderRepository) Create(_ context.Context, o *order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.numbers[o.Number]; ok {
		return order.ErrDuplicateNumber
	}
	r.numbers[o.Number] = struct{}{}
	r.byID[o.ID] = o.Clone()
	return nil
}

// Get implements order.Repository.
func (r *OrderRepository) Get(_ context.Context, id string) (*order.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o.Clone(), nil
}

// Update implements order.Repository.
func (r *OrderRepository) Update(_ context.Context, o *order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byID[o.ID]
	if !ok {
		return order.ErrNotFound
	}
	if stored.Version != o.Version {
		return order.ErrConcurrentUpdate
	}
	o.Version++
	r.byID[o.ID] = o.Clone()
	return nil
}

// List implements order.Repository.
func (r *OrderRepository) List(_ context.Context, q order.ListQuery) ([]order.Order, int, error) {
	r.mu.RLock()
	matched := make([]*order.Order, 0)
	for _, o := range r.byID {
		if q.CustomerID != "" && o.CustomerID != q.CustomerID {
			continue
		}
		if q.Status != "" && o.Status != q.Status {
			continue
		}
		matched = append(matched, o)
	}
	r.mu.RUnlock()

	slices.SortFunc(matched, func(a, b *order.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	start := min(max(q.Offset(), 0), len(matched))
	end := min(start+q.PageSize, len(matched))
	page := make([]order.Order, 0, end-start)
	for _, o := range matched[start:end] {
		page = append(page, *o.Clone())
	}
	return page, len(matched), nil
}

// StatusTotals implements order.StatsRepository.
func (r *OrderRepository) StatusTotals(_ context.Context, rng order.Range) ([]order.StatusTotal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agg := make(map[order.Status]*order.StatusTotal)
	for _, o := range r.byID {
		if !rng.Contains(o.CreatedAt) {
			continue
		}
		t, ok := agg[o.Status]
		if !ok {
			t = &order.StatusTotal{Status: o.Status, Revenue: decimal.Zero}
			agg[o.Status] = t
		}
		t.Count++
		t.Revenue = t.Revenue.Add(o.Summary.Total)
	}

	out := make([]order.StatusTotal, 0, len(agg))
	for _, t := range agg {
		out = append(out, *t)
	}
	return out, nil
}

// TopProducts implements order.StatsRepository.
func (r *OrderRepository) TopProducts(_ context.Context, rng order.Range, limit int) ([]order.ProductSales, error) {
	r.mu.RLock()
	agg := make(map[string]*order.ProductSales)
	for _, o := range r.byID {
		if !rng.Contains(o.CreatedAt) || o.Status.IsTerminal() {
			continue
		}
		for _, l := range o.Lines {
			ps, ok := agg[l.ProductID]
			if !ok {
				ps = &order.ProductSales{ProductID: l.ProductID, Name: l.Name, Revenue: decimal.Zero}
				agg[l.ProductID] = ps
			}
			ps.Quantity += l.Quantity
			ps.Revenue = ps.Revenue.Add(l.Subtotal)
		}
	}
	r.mu.RUnlock()

	out := make([]order.ProductSales, 0, len(agg))
	for _, ps := range agg {
		out = append(out, *ps)
	}
	slices.SortFunc(out, func(a, b order.ProductSales) int {
		if c := cmp.Compare(b.Quantity, a.Quantity); c != 0 {
			return c
		}
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
