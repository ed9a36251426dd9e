package memory

import (
	"context"
	"sync"

	"github.com/xenking/pharmacy-api/internal/domain/cart"
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository stores carts by customer.
type CartRepository struct {
	mu    sync.RWMutex
	carts map[string]cart.Cart
}

// NewCartRepository returns an empty CartRepository.
func NewCartRepository() *CartRepository {
	return &CartRepository{carts: make(map[string]cart.Cart)}
}

// Get implements cart.Repository.
func (r *CartRepository) Get(_ context.Context, customerID string) (*cart.Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.carts[customerID]
	if !ok {
		return nil, cart.ErrNotFound
	}
	snap := c.Snapshot()
	return &snap, nil
}

// Save implements cart.Repository.
func (r *CartRepository) Save(_ context.Context, c *cart.Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.carts[c.CustomerID] = c.Snapshot()
	return nil
}
